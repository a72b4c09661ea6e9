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

// Package store persists attachment payloads to a content-addressed
// filesystem layout: {base_dir}/{message_uuid}/{safe_filename}. The
// safe filename is a content hash, so a payload that already exists is
// never rewritten; concurrent writers racing on the same hash treat
// "already exists" as success.
package store

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/mailvine/ingestion/internal/mailparse"
	"github.com/mailvine/ingestion/internal/models"
)

// Store writes attachments under a base directory.
type Store struct {
	baseDir string
}

// New creates an attachment store rooted at baseDir, creating it if
// needed.
func New(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create attachment base dir: %w", err)
	}
	return &Store{baseDir: baseDir}, nil
}

// BaseDir returns the store root.
func (s *Store) BaseDir() string { return s.baseDir }

// SaveAttachments writes each retained asset into the message's
// directory and returns the attachment records with file paths filled
// in. A file that already exists under its safe filename is skipped;
// dedup holds across the whole store, not just this message.
func (s *Store) SaveAttachments(messageUUID string, assets []mailparse.Asset) ([]models.Attachment, error) {
	dir := filepath.Join(s.baseDir, messageUUID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create message dir: %w", err)
	}

	records := make([]models.Attachment, 0, len(assets))
	for _, asset := range assets {
		path := filepath.Join(dir, asset.SafeFilename)

		if err := writeIfAbsent(path, asset.Data); err != nil {
			return records, fmt.Errorf("write attachment %s: %w", asset.SafeFilename, err)
		}

		records = append(records, models.Attachment{
			Filename:     asset.Filename,
			SafeFilename: asset.SafeFilename,
			ContentType:  asset.ContentType,
			FileSize:     len(asset.Data),
			FilePath:     path,
			IsImage:      asset.IsImage,
		})
	}

	slog.Debug("attachments persisted",
		"message_uuid", messageUUID,
		"count", len(records),
	)
	return records, nil
}

// writeIfAbsent writes data to path unless a file with that name exists.
// The payload is staged under a temp name and renamed into place, so a
// crash mid-write can never leave a truncated file under the final
// content-addressed name. A racing writer renaming first is a success:
// identical hash means identical bytes.
func writeIfAbsent(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		slog.Debug("attachment already stored, skipping write", "path", path)
		return nil
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".partial-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return nil
}
