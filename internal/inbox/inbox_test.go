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

package inbox

import (
	"os"
	"path/filepath"
	"testing"
)

func writePair(t *testing.T, dir, id, eml, meta string) {
	t.Helper()
	if eml != "" {
		if err := os.WriteFile(filepath.Join(dir, id+".eml"), []byte(eml), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	if meta != "" {
		if err := os.WriteFile(filepath.Join(dir, id+".meta"), []byte(meta), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func TestScan_CompletePairs(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScanner(dir)
	if err != nil {
		t.Fatal(err)
	}

	writePair(t, dir, "b-second", "Subject: two\r\n\r\nbody", `{"to":"support@example.com"}`)
	writePair(t, dir, "a-first", "Subject: one\r\n\r\nbody", `{"to":"help@example.com","user":"user-7"}`)

	pairs, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Scan() = %d pairs, want 2", len(pairs))
	}
	if pairs[0].ID != "a-first" || pairs[1].ID != "b-second" {
		t.Errorf("order = %s, %s; want sorted by ID", pairs[0].ID, pairs[1].ID)
	}
	if pairs[0].Meta.To != "help@example.com" || pairs[0].Meta.User != "user-7" {
		t.Errorf("meta = %+v", pairs[0].Meta)
	}
	if string(pairs[1].Raw) != "Subject: two\r\n\r\nbody" {
		t.Errorf("raw = %q", pairs[1].Raw)
	}
}

// An .eml without its sidecar is a mid-write drop: skip silently.
func TestScan_IncompletePairSkipped(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScanner(dir)
	if err != nil {
		t.Fatal(err)
	}

	writePair(t, dir, "lonely", "Subject: x\r\n\r\nbody", "")
	writePair(t, dir, "orphan-meta", "", `{"to":"a@b.c"}`)

	pairs, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 0 {
		t.Fatalf("Scan() = %d pairs, want 0", len(pairs))
	}
}

// A corrupt sidecar stays put: it is neither consumed nor failed.
func TestScan_BadMetaLeftInPlace(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScanner(dir)
	if err != nil {
		t.Fatal(err)
	}

	writePair(t, dir, "broken", "Subject: x\r\n\r\nbody", "{not json")

	pairs, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 0 {
		t.Fatalf("Scan() = %d pairs, want 0", len(pairs))
	}
	if _, err := os.Stat(filepath.Join(dir, "broken.eml")); err != nil {
		t.Errorf("broken.eml moved or removed: %v", err)
	}
}

func TestMarkProcessedAndFailed(t *testing.T) {
	dir := t.TempDir()
	s, err := NewScanner(dir)
	if err != nil {
		t.Fatal(err)
	}

	writePair(t, dir, "good", "Subject: ok\r\n\r\nbody", `{"to":"a@b.c"}`)
	writePair(t, dir, "bad", "Subject: no\r\n\r\nbody", `{"to":"a@b.c"}`)

	pairs, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(pairs) != 2 {
		t.Fatalf("Scan() = %d pairs, want 2", len(pairs))
	}

	var good, bad Pair
	for _, p := range pairs {
		if p.ID == "good" {
			good = p
		} else {
			bad = p
		}
	}

	if err := s.MarkProcessed(good); err != nil {
		t.Fatal(err)
	}
	if err := s.MarkFailed(bad); err != nil {
		t.Fatal(err)
	}

	for _, want := range []string{
		filepath.Join(dir, "processed", "good.eml"),
		filepath.Join(dir, "processed", "good.meta"),
		filepath.Join(dir, "failed", "bad.eml"),
		filepath.Join(dir, "failed", "bad.meta"),
	} {
		if _, err := os.Stat(want); err != nil {
			t.Errorf("missing %s: %v", want, err)
		}
	}

	// The drop directory itself is now empty of pairs.
	again, err := s.Scan()
	if err != nil {
		t.Fatal(err)
	}
	if len(again) != 0 {
		t.Errorf("rescan found %d pairs, want 0", len(again))
	}
}
