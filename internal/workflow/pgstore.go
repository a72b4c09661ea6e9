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

package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store applies validated transitions against the persisted status of
// message and attachment rows.
//
// Transitions are applied with a compare-and-set UPDATE: the row only
// changes when its current status still equals the status the caller
// validated against. Two workers racing to advance the same row result
// in at most one successful transition; the loser gets a rejection
// reflecting the new persisted state, never a silent overwrite.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a workflow store over the given Postgres pool. The
// messages and attachments tables are owned by the saver package.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// ErrNotFound is returned when the target row does not exist.
var ErrNotFound = errors.New("workflow: row not found")

// MessageStatus reads the persisted status of a message row.
func (s *Store) MessageStatus(ctx context.Context, messageUUID string) (Status, error) {
	var status string
	err := s.pool.QueryRow(ctx,
		`SELECT status FROM messages WHERE id = $1`, messageUUID,
	).Scan(&status)
	if err == pgx.ErrNoRows {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("read message status: %w", err)
	}
	return Status(status), nil
}

// TransitionMessage advances a message to the requested state after
// validating the edge against the current persisted state.
func (s *Store) TransitionMessage(ctx context.Context, messageUUID string, to Status) error {
	return s.transition(ctx, MessageMachine, "messages", messageUUID, to)
}

// TransitionAttachment advances an attachment row.
func (s *Store) TransitionAttachment(ctx context.Context, attachmentID int64, to Status) error {
	return s.transition(ctx, AttachmentMachine, "attachments", attachmentID, to)
}

func (s *Store) transition(ctx context.Context, m *Machine, table string, id any, to Status) error {
	var current string
	err := s.pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, table), id,
	).Scan(&current)
	if err == pgx.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("read %s status: %w", table, err)
	}

	from := Status(current)
	if err := m.Validate(from, to); err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = NOW() WHERE id = $2 AND status = $3`, table),
		string(to), id, string(from),
	)
	if err != nil {
		return fmt.Errorf("apply %s transition: %w", table, err)
	}

	if tag.RowsAffected() == 0 {
		// A concurrent transition won; report against the state that is
		// actually persisted now.
		var now string
		if err := s.pool.QueryRow(ctx,
			fmt.Sprintf(`SELECT status FROM %s WHERE id = $1`, table), id,
		).Scan(&now); err != nil {
			return fmt.Errorf("reread %s status after lost race: %w", table, err)
		}
		return &InvalidTransitionError{
			Machine: m.name,
			From:    Status(now),
			To:      to,
			Valid:   m.NextStates(Status(now)),
		}
	}

	slog.Info("workflow transition applied",
		"machine", m.name,
		"id", fmt.Sprint(id),
		"from", from,
		"to", to,
	)
	return nil
}

// ForceTransitionMessage sets a message's status without validation.
// This is the operator-override path for reprocessing; it is the only
// way to bypass the adjacency table and it always logs the override.
func (s *Store) ForceTransitionMessage(ctx context.Context, messageUUID string, to Status) error {
	return s.force(ctx, MessageMachine, "messages", messageUUID, to)
}

// ForceTransitionAttachment sets an attachment's status without
// validation.
func (s *Store) ForceTransitionAttachment(ctx context.Context, attachmentID int64, to Status) error {
	return s.force(ctx, AttachmentMachine, "attachments", attachmentID, to)
}

func (s *Store) force(ctx context.Context, m *Machine, table string, id any, to Status) error {
	if !m.Known(to) {
		return fmt.Errorf("workflow: %q is not a %s state", to, m.name)
	}

	tag, err := s.pool.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET status = $1, updated_at = NOW() WHERE id = $2`, table),
		string(to), id,
	)
	if err != nil {
		return fmt.Errorf("force %s transition: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	slog.Warn("workflow transition forced (operator override)",
		"machine", m.name,
		"id", fmt.Sprint(id),
		"to", to,
	)
	return nil
}
