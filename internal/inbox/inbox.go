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

// Package inbox ingests messages dropped on disk as paired files.
//
// A producer writes {uuid}.eml (the raw RFC 822 message) next to
// {uuid}.meta (a small JSON sidecar naming the destination address).
// The scanner picks up complete pairs, hands them to a consumer, and
// files each pair under processed/ or failed/ so a crash mid-batch
// never loses or replays a message silently.
package inbox

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Meta is the JSON sidecar accompanying each .eml file.
type Meta struct {
	// To is the destination address used for user resolution when the
	// message itself has no usable recipient.
	To string `json:"to"`

	// User pins the message to a user directly, bypassing alias
	// resolution. Optional.
	User string `json:"user,omitempty"`
}

// Pair is one complete drop: the raw message plus its sidecar.
type Pair struct {
	ID   string // the shared {uuid} stem
	Raw  []byte
	Meta Meta

	emlPath  string
	metaPath string
}

// Scanner watches a drop directory for message pairs.
type Scanner struct {
	dir string
	log *slog.Logger
}

// NewScanner creates the drop directory and its processed/ and failed/
// subdirectories if they do not exist.
func NewScanner(dir string) (*Scanner, error) {
	for _, d := range []string{dir, filepath.Join(dir, "processed"), filepath.Join(dir, "failed")} {
		if err := os.MkdirAll(d, 0o755); err != nil {
			return nil, fmt.Errorf("create inbox directory %s: %w", d, err)
		}
	}
	return &Scanner{
		dir: dir,
		log: slog.Default().With("component", "inbox", "dir", dir),
	}, nil
}

// Scan returns the complete pairs currently in the drop directory,
// sorted by ID for deterministic processing order. An .eml without its
// .meta (or the reverse) is skipped without logging: the producer may
// still be mid-write. A pair that exists but cannot be read or parsed
// is logged and left in place for the next scan, so a transient I/O
// error does not send a message to failed/.
func (s *Scanner) Scan() ([]Pair, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read inbox directory: %w", err)
	}

	var pairs []Pair
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".eml") {
			continue
		}
		id := strings.TrimSuffix(entry.Name(), ".eml")
		emlPath := filepath.Join(s.dir, entry.Name())
		metaPath := filepath.Join(s.dir, id+".meta")

		metaData, err := os.ReadFile(metaPath)
		if os.IsNotExist(err) {
			continue // sidecar not written yet
		}
		if err != nil {
			s.log.Warn("meta file unreadable, leaving pair in place", "id", id, "error", err)
			continue
		}

		var meta Meta
		if err := json.Unmarshal(metaData, &meta); err != nil {
			s.log.Warn("meta file unparseable, leaving pair in place", "id", id, "error", err)
			continue
		}

		raw, err := os.ReadFile(emlPath)
		if err != nil {
			s.log.Warn("eml file unreadable, leaving pair in place", "id", id, "error", err)
			continue
		}

		pairs = append(pairs, Pair{
			ID:       id,
			Raw:      raw,
			Meta:     meta,
			emlPath:  emlPath,
			metaPath: metaPath,
		})
	}

	sort.Slice(pairs, func(i, j int) bool { return pairs[i].ID < pairs[j].ID })
	return pairs, nil
}

// MarkProcessed moves the pair's files into processed/.
func (s *Scanner) MarkProcessed(p Pair) error {
	return s.move(p, "processed")
}

// MarkFailed moves the pair's files into failed/.
func (s *Scanner) MarkFailed(p Pair) error {
	return s.move(p, "failed")
}

func (s *Scanner) move(p Pair, sub string) error {
	for _, src := range []string{p.emlPath, p.metaPath} {
		dst := filepath.Join(s.dir, sub, filepath.Base(src))
		if err := os.Rename(src, dst); err != nil {
			return fmt.Errorf("move %s to %s: %w", filepath.Base(src), sub, err)
		}
	}
	s.log.Info("inbox pair filed", "id", p.ID, "disposition", sub)
	return nil
}
