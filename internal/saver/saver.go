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

// Package saver persists parsed messages and their attachments to
// Postgres, keyed for idempotency on (user_id, message_id). Because
// the message ID is a deterministic content hash, re-ingesting the
// same raw bytes for the same user is a logged no-op, never a second
// row.
package saver

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mailvine/ingestion/internal/mailparse"
	"github.com/mailvine/ingestion/internal/models"
	"github.com/mailvine/ingestion/internal/store"
	"github.com/mailvine/ingestion/internal/workflow"
)

// Store writes message and attachment rows and owns their schema.
type Store struct {
	pool  *pgxpool.Pool
	files *store.Store
}

// NewStore creates the saver over the given Postgres pool and file
// store. It ensures the schema exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool, files *store.Store) (*Store, error) {
	s := &Store{pool: pool, files: files}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure message schema: %w", err)
	}
	slog.Info("message store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS messages (
			id           UUID PRIMARY KEY,
			user_id      TEXT NOT NULL,
			message_id   TEXT NOT NULL,
			subject      TEXT DEFAULT '',
			sender       TEXT DEFAULT '',
			recipients   TEXT[] DEFAULT '{}',
			received_at  TIMESTAMPTZ NOT NULL,
			text_content TEXT DEFAULT '',
			html_content TEXT DEFAULT '',
			raw_content  TEXT DEFAULT '',
			ocr_text     TEXT,
			summary      TEXT,
			status       TEXT NOT NULL DEFAULT 'fetched',
			created_at   TIMESTAMPTZ DEFAULT NOW(),
			updated_at   TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(user_id, message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id);
		CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(status);

		CREATE TABLE IF NOT EXISTS attachments (
			id            BIGSERIAL PRIMARY KEY,
			message_uuid  UUID NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
			filename      TEXT DEFAULT '',
			safe_filename TEXT NOT NULL,
			content_type  TEXT DEFAULT '',
			file_size     BIGINT DEFAULT 0,
			file_path     TEXT DEFAULT '',
			is_image      BOOLEAN DEFAULT FALSE,
			ocr_text      TEXT,
			status        TEXT NOT NULL DEFAULT 'pending',
			created_at    TIMESTAMPTZ DEFAULT NOW(),
			updated_at    TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(message_uuid, safe_filename)
		);
		CREATE INDEX IF NOT EXISTS idx_attachments_message ON attachments(message_uuid);
		CREATE INDEX IF NOT EXISTS idx_attachments_status ON attachments(status);

		CREATE TABLE IF NOT EXISTS user_aliases (
			id         BIGSERIAL PRIMARY KEY,
			email      TEXT NOT NULL UNIQUE,
			user_id    TEXT NOT NULL,
			active     BOOLEAN DEFAULT TRUE,
			created_at TIMESTAMPTZ DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS mailbox_cursors (
			account    TEXT PRIMARY KEY,
			last_uid   BIGINT NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

// SaveResult reports the outcome of a SaveMessage call. Status is the
// persisted workflow status of the row, so duplicate callers can tell
// a row that is mid-pipeline from one whose stage task was lost.
type SaveResult struct {
	MessageUUID string
	Inserted    bool
	Status      workflow.Status
}

// SaveMessage inserts the message for the given user. The message row
// and its attachment rows commit in one transaction: a failure part
// way through leaves no row at all, so the next ingestion of the same
// bytes retries cleanly instead of finding a half-saved duplicate.
// When a row with the same (user_id, message_id) already exists the
// call is a no-op returning the existing row's UUID and status with
// Inserted=false.
func (s *Store) SaveMessage(ctx context.Context, userID string, msg *models.ParsedMessage, assets []mailparse.Asset) (SaveResult, error) {
	messageUUID := uuid.New().String()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return SaveResult{}, fmt.Errorf("begin message save: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO messages
			(id, user_id, message_id, subject, sender, recipients,
			 received_at, text_content, html_content, raw_content, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (user_id, message_id) DO NOTHING
	`, messageUUID, userID, msg.MessageID, msg.Subject, msg.Sender, msg.Recipients,
		msg.ReceivedAt, msg.TextContent, msg.HTMLContent, msg.RawContent,
		string(workflow.StatusFetched))
	if err != nil {
		return SaveResult{}, fmt.Errorf("insert message: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var existing, status string
		err := s.pool.QueryRow(ctx, `
			SELECT id, status FROM messages WHERE user_id = $1 AND message_id = $2
		`, userID, msg.MessageID).Scan(&existing, &status)
		if err != nil {
			return SaveResult{}, fmt.Errorf("look up duplicate message: %w", err)
		}
		slog.Info("duplicate message skipped",
			"user_id", userID,
			"message_id", msg.MessageID,
			"existing_uuid", existing,
			"status", status,
		)
		return SaveResult{MessageUUID: existing, Inserted: false, Status: workflow.Status(status)}, nil
	}

	// File writes sit outside the transaction: they are
	// content-addressed and idempotent, and an aborted save leaves
	// only unreferenced files the next successful save reuses.
	records, err := s.files.SaveAttachments(messageUUID, assets)
	if err != nil {
		return SaveResult{}, fmt.Errorf("persist attachment files: %w", err)
	}
	for _, a := range records {
		_, err := tx.Exec(ctx, `
			INSERT INTO attachments
				(message_uuid, filename, safe_filename, content_type,
				 file_size, file_path, is_image, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (message_uuid, safe_filename) DO NOTHING
		`, messageUUID, a.Filename, a.SafeFilename, a.ContentType,
			a.FileSize, a.FilePath, a.IsImage,
			string(workflow.StatusAttachmentPending))
		if err != nil {
			return SaveResult{}, fmt.Errorf("insert attachment %s: %w", a.SafeFilename, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return SaveResult{}, fmt.Errorf("commit message save: %w", err)
	}

	slog.Info("message saved",
		"user_id", userID,
		"message_uuid", messageUUID,
		"subject", msg.Subject,
		"attachments", len(records),
	)
	return SaveResult{MessageUUID: messageUUID, Inserted: true, Status: workflow.StatusFetched}, nil
}

// LoadAliasMap returns the active email -> user_id routing table, with
// addresses lowercased. Loaded once per batch; alias edits take effect
// on the next run.
func (s *Store) LoadAliasMap(ctx context.Context) (map[string]string, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT email, user_id FROM user_aliases WHERE active
	`)
	if err != nil {
		return nil, fmt.Errorf("load alias map: %w", err)
	}
	defer rows.Close()

	aliases := make(map[string]string)
	for rows.Next() {
		var email, userID string
		if err := rows.Scan(&email, &userID); err != nil {
			return nil, err
		}
		aliases[strings.ToLower(email)] = userID
	}
	return aliases, rows.Err()
}

// UpsertAlias adds or reactivates a routing alias.
func (s *Store) UpsertAlias(ctx context.Context, email, userID string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO user_aliases (email, user_id, active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (email) DO UPDATE SET
			user_id = EXCLUDED.user_id,
			active  = TRUE
	`, strings.ToLower(email), userID)
	return err
}

// LoadCursor returns the last seen IMAP UID for an account, or 0 when
// the account has never been polled.
func (s *Store) LoadCursor(ctx context.Context, account string) (uint32, error) {
	var lastUID int64
	err := s.pool.QueryRow(ctx, `
		SELECT last_uid FROM mailbox_cursors WHERE account = $1
	`, account).Scan(&lastUID)
	if err == pgx.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load cursor for %s: %w", account, err)
	}
	return uint32(lastUID), nil
}

// SaveCursor advances the account's UID cursor. The cursor never moves
// backwards: a stale writer loses to GREATEST.
func (s *Store) SaveCursor(ctx context.Context, account string, lastUID uint32) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO mailbox_cursors (account, last_uid, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (account) DO UPDATE SET
			last_uid   = GREATEST(mailbox_cursors.last_uid, EXCLUDED.last_uid),
			updated_at = NOW()
	`, account, int64(lastUID))
	if err != nil {
		return fmt.Errorf("save cursor for %s: %w", account, err)
	}
	return nil
}
