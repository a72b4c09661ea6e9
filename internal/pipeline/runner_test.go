// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/mailvine/ingestion/internal/inbox"
	"github.com/mailvine/ingestion/internal/mailparse"
	"github.com/mailvine/ingestion/internal/models"
	"github.com/mailvine/ingestion/internal/saver"
	"github.com/mailvine/ingestion/internal/workflow"
)

// fakeSaver is an in-memory stand-in for the Postgres store.
type fakeSaver struct {
	aliases  map[string]string
	seen     map[string]string // "user|message_id" -> uuid
	statuses map[string]workflow.Status
	saves    int
	cursors  map[string]uint32
}

func newFakeSaver() *fakeSaver {
	return &fakeSaver{
		aliases:  map[string]string{},
		seen:     map[string]string{},
		statuses: map[string]workflow.Status{},
		cursors:  map[string]uint32{},
	}
}

func (f *fakeSaver) SaveMessage(_ context.Context, userID string, msg *models.ParsedMessage, _ []mailparse.Asset) (saver.SaveResult, error) {
	key := userID + "|" + msg.MessageID
	if existing, ok := f.seen[key]; ok {
		return saver.SaveResult{MessageUUID: existing, Inserted: false, Status: f.statuses[existing]}, nil
	}
	f.saves++
	id := fmt.Sprintf("uuid-%d", f.saves)
	f.seen[key] = id
	f.statuses[id] = workflow.StatusFetched
	return saver.SaveResult{MessageUUID: id, Inserted: true, Status: workflow.StatusFetched}, nil
}

func (f *fakeSaver) LoadAliasMap(context.Context) (map[string]string, error) {
	return f.aliases, nil
}

func (f *fakeSaver) LoadCursor(_ context.Context, account string) (uint32, error) {
	return f.cursors[account], nil
}

func (f *fakeSaver) SaveCursor(_ context.Context, account string, lastUID uint32) error {
	f.cursors[account] = lastUID
	return nil
}

// fakePublisher records published message UUIDs, failing while err is
// set.
type fakePublisher struct {
	published []string
	err       error
}

func (f *fakePublisher) PublishOCRTask(_ context.Context, messageUUID string) error {
	if f.err != nil {
		return f.err
	}
	f.published = append(f.published, messageUUID)
	return nil
}

func rawMessage(subject, from, to string) string {
	return "Subject: " + subject + "\r\n" +
		"From: " + from + "\r\n" +
		"To: " + to + "\r\n" +
		"Date: Mon, 02 Mar 2026 10:00:00 +0000\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"printer on floor 3 is jammed\r\n"
}

func writePair(t *testing.T, dir, id, raw, meta string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, id+".eml"), []byte(raw), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+".meta"), []byte(meta), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestProcessInbox_RoutesAndFiles(t *testing.T) {
	dir := t.TempDir()
	sc, err := inbox.NewScanner(dir)
	if err != nil {
		t.Fatal(err)
	}

	fs := newFakeSaver()
	fs.aliases["support@example.com"] = "user-support"

	r := NewRunner(Options{
		Parser:     mailparse.NewParser(),
		Saver:      fs,
		AutoAssign: true,
		// No default user: a message matching no alias must fail.
	})

	writePair(t, dir, "a-pinned",
		rawMessage("pinned", "alice@corp.example", "nobody@example.com"),
		`{"to":"nobody@example.com","user":"user-42"}`)
	writePair(t, dir, "b-aliased",
		rawMessage("aliased", "bob@corp.example", "Support@Example.com"),
		`{"to":"support@example.com"}`)
	writePair(t, dir, "c-unroutable",
		rawMessage("unroutable", "carol@corp.example", "stranger@example.com"),
		`{"to":"stranger@example.com"}`)

	res, err := r.ProcessInbox(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}

	if res.Ingested != 2 || res.Failures != 1 || res.Duplicates != 0 {
		t.Fatalf("result = %+v, want 2 ingested / 1 failure", res)
	}
	if _, ok := fs.seen["user-42|"+messageIDOf(t, "pinned", "alice@corp.example", "nobody@example.com")]; !ok {
		t.Error("explicit user assignment not honoured")
	}

	for _, want := range []string{
		filepath.Join(dir, "processed", "a-pinned.eml"),
		filepath.Join(dir, "processed", "b-aliased.eml"),
		filepath.Join(dir, "failed", "c-unroutable.eml"),
	} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("missing %s: %v", want, err)
		}
	}
}

func messageIDOf(t *testing.T, subject, from, to string) string {
	t.Helper()
	parsed, err := mailparse.NewParser().Parse([]byte(rawMessage(subject, from, to)))
	if err != nil {
		t.Fatal(err)
	}
	return parsed.Message.MessageID
}

// Re-dropping the same message is a duplicate, not a second row, and
// the pair still files under processed/.
func TestProcessInbox_DuplicateIsNoOp(t *testing.T) {
	dir := t.TempDir()
	sc, err := inbox.NewScanner(dir)
	if err != nil {
		t.Fatal(err)
	}

	fs := newFakeSaver()
	r := NewRunner(Options{
		Parser:      mailparse.NewParser(),
		Saver:       fs,
		DefaultUser: "user-default",
	})

	raw := rawMessage("same", "a@b.c", "d@e.f")
	writePair(t, dir, "first", raw, `{"to":"d@e.f"}`)
	if _, err := r.ProcessInbox(context.Background(), sc); err != nil {
		t.Fatal(err)
	}

	writePair(t, dir, "second", raw, `{"to":"d@e.f"}`)
	res, err := r.ProcessInbox(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}

	if res.Duplicates != 1 || res.Ingested != 0 || res.Failures != 0 {
		t.Fatalf("result = %+v, want 1 duplicate", res)
	}
	if fs.saves != 1 {
		t.Errorf("saves = %d, want 1", fs.saves)
	}
	if _, err := os.Stat(filepath.Join(dir, "processed", "second.eml")); err != nil {
		t.Errorf("duplicate pair not filed under processed/: %v", err)
	}
}

// A message whose stage task was lost to a publish failure must get
// its task re-enqueued on the next ingestion of the same bytes; a
// duplicate already moving through the pipeline must not.
func TestProcessInbox_UnqueuedDuplicateRepublished(t *testing.T) {
	dir := t.TempDir()
	sc, err := inbox.NewScanner(dir)
	if err != nil {
		t.Fatal(err)
	}

	fs := newFakeSaver()
	pub := &fakePublisher{err: errors.New("redis down")}
	r := NewRunner(Options{
		Parser:      mailparse.NewParser(),
		Saver:       fs,
		Publisher:   pub,
		DefaultUser: "user-default",
	})

	raw := rawMessage("stuck", "a@b.c", "d@e.f")
	writePair(t, dir, "first", raw, `{"to":"d@e.f"}`)
	res, err := r.ProcessInbox(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Failures != 1 || fs.saves != 1 {
		t.Fatalf("first pass = %+v, saves = %d; want 1 failure with row saved", res, fs.saves)
	}

	// Redis recovers; re-dropping the same bytes re-enqueues the task.
	pub.err = nil
	writePair(t, dir, "second", raw, `{"to":"d@e.f"}`)
	res, err = r.ProcessInbox(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicates != 1 || res.Failures != 0 {
		t.Fatalf("second pass = %+v, want 1 duplicate", res)
	}
	if len(pub.published) != 1 || pub.published[0] != "uuid-1" {
		t.Fatalf("published = %v, want [uuid-1]", pub.published)
	}

	// The workers picked it up: a further duplicate publishes nothing.
	fs.statuses["uuid-1"] = workflow.StatusOCRProcessing
	writePair(t, dir, "third", raw, `{"to":"d@e.f"}`)
	res, err = r.ProcessInbox(context.Background(), sc)
	if err != nil {
		t.Fatal(err)
	}
	if res.Duplicates != 1 {
		t.Fatalf("third pass = %+v, want 1 duplicate", res)
	}
	if len(pub.published) != 1 {
		t.Errorf("published = %v, want no republish for an in-flight row", pub.published)
	}
}

func TestResolveUser(t *testing.T) {
	r := NewRunner(Options{AutoAssign: true, DefaultUser: "fallback"})
	aliases := map[string]string{"help@example.com": "user-help"}

	cases := []struct {
		name       string
		explicit   string
		recipients []string
		want       string
	}{
		{"explicit wins", "user-pinned", []string{"help@example.com"}, "user-pinned"},
		{"alias match", "", []string{"other@x.y", "HELP@example.com"}, "user-help"},
		{"default fallback", "", []string{"stranger@x.y"}, "fallback"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := r.resolveUser(tc.explicit, tc.recipients, aliases)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("resolveUser() = %q, want %q", got, tc.want)
			}
		})
	}

	bare := NewRunner(Options{AutoAssign: true})
	if _, err := bare.resolveUser("", []string{"stranger@x.y"}, aliases); err == nil {
		t.Error("unroutable message accepted without a default user")
	}
}

func TestTriggerRescan_Coalesces(t *testing.T) {
	p := NewPoller(nil, nil, "", nil, 0)
	p.TriggerRescan()
	p.TriggerRescan() // must not block with one already pending

	select {
	case <-p.rescan:
	default:
		t.Fatal("no rescan request queued")
	}
	select {
	case <-p.rescan:
		t.Fatal("rescan requests did not coalesce")
	default:
	}
}
