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

// Package pipeline wires the sources, parser, stores, and queue into
// the ingestion flow: fetch raw bytes, parse, resolve the owning user,
// save idempotently, and hand the message off to the stage workers.
//
// Failures are isolated per message: one unparseable or unroutable
// message is logged and counted, never aborts the batch.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/mailvine/ingestion/internal/dedup"
	"github.com/mailvine/ingestion/internal/imapsource"
	"github.com/mailvine/ingestion/internal/inbox"
	"github.com/mailvine/ingestion/internal/mailparse"
	"github.com/mailvine/ingestion/internal/models"
	"github.com/mailvine/ingestion/internal/saver"
	"github.com/mailvine/ingestion/internal/workflow"
)

// Result summarises one batch.
type Result struct {
	Ingested   int
	Duplicates int
	Failures   int
}

// Saver is the slice of the message store the pipeline consumes.
// Satisfied by *saver.Store.
type Saver interface {
	SaveMessage(ctx context.Context, userID string, msg *models.ParsedMessage, assets []mailparse.Asset) (saver.SaveResult, error)
	LoadAliasMap(ctx context.Context) (map[string]string, error)
	LoadCursor(ctx context.Context, account string) (uint32, error)
	SaveCursor(ctx context.Context, account string, lastUID uint32) error
}

// Publisher hands a saved message to the stage workers. Satisfied by
// *queue.Publisher.
type Publisher interface {
	PublishOCRTask(ctx context.Context, messageUUID string) error
}

// Runner drives the ingestion flow for one batch at a time.
type Runner struct {
	parser    *mailparse.Parser
	saver     Saver
	publisher Publisher
	filter    *dedup.Filter // optional fast-path; nil disables

	autoAssign  bool
	defaultUser string

	log *slog.Logger
}

// Options configures a Runner.
type Options struct {
	Parser    *mailparse.Parser
	Saver     Saver
	Publisher Publisher
	Filter    *dedup.Filter

	// AutoAssign routes messages to users via the alias table keyed on
	// recipient address. When false every message belongs to
	// DefaultUser.
	AutoAssign  bool
	DefaultUser string
}

// NewRunner assembles a runner from its parts.
func NewRunner(opts Options) *Runner {
	return &Runner{
		parser:      opts.Parser,
		saver:       opts.Saver,
		publisher:   opts.Publisher,
		filter:      opts.Filter,
		autoAssign:  opts.AutoAssign,
		defaultUser: opts.DefaultUser,
		log:         slog.Default().With("component", "pipeline"),
	}
}

// ProcessIMAP fetches messages above the account's saved UID cursor,
// ingests each, and advances the cursor past everything it consumed —
// including duplicates and failures, so a poison message cannot wedge
// the poll loop.
func (r *Runner) ProcessIMAP(ctx context.Context, src *imapsource.Source, account string) (Result, error) {
	var res Result

	lastUID, err := r.saver.LoadCursor(ctx, account)
	if err != nil {
		return res, err
	}

	aliases, err := r.loadAliases(ctx)
	if err != nil {
		return res, err
	}

	items, err := src.Fetch(ctx, imapsource.UID(lastUID))
	if err != nil {
		return res, err
	}

	maxUID := lastUID
	for item := range items {
		if item.Err != nil {
			r.log.Error("imap stream broke mid-batch", "account", account, "error", item.Err)
			res.Failures++
			break
		}
		if uint32(item.UID) > maxUID {
			maxUID = uint32(item.UID)
		}

		key := fmt.Sprintf("%s:%d", account, item.UID)
		if !r.seenIsNew(ctx, key) {
			res.Duplicates++
			continue
		}

		before := res.Failures
		r.ingestOne(ctx, item.Raw, "", aliases, &res)
		if res.Failures > before {
			// Release the claim so an operator replay is not blocked
			// by the filter for a message that never reached the db.
			r.forget(ctx, key)
		}
	}

	if maxUID > lastUID {
		if err := r.saver.SaveCursor(ctx, account, maxUID); err != nil {
			r.log.Error("cursor save failed, next poll will replay", "account", account, "error", err)
		}
	}

	r.log.Info("imap batch complete",
		"account", account,
		"ingested", res.Ingested,
		"duplicates", res.Duplicates,
		"failures", res.Failures,
	)
	return res, nil
}

// ProcessInbox ingests every complete pair in the drop directory.
// Consumed pairs move to processed/, ones that fail parsing or saving
// to failed/.
func (r *Runner) ProcessInbox(ctx context.Context, sc *inbox.Scanner) (Result, error) {
	var res Result

	pairs, err := sc.Scan()
	if err != nil {
		return res, err
	}

	aliases, err := r.loadAliases(ctx)
	if err != nil {
		return res, err
	}

	for _, pair := range pairs {
		explicit := pair.Meta.User
		if explicit == "" && pair.Meta.To != "" {
			// The sidecar's destination address participates in alias
			// routing alongside the message's own recipients.
			explicit = aliases[strings.ToLower(pair.Meta.To)]
		}

		before := res.Failures
		r.ingestOne(ctx, pair.Raw, explicit, aliases, &res)

		var moveErr error
		if res.Failures > before {
			moveErr = sc.MarkFailed(pair)
		} else {
			moveErr = sc.MarkProcessed(pair)
		}
		if moveErr != nil {
			r.log.Error("inbox pair not filed", "id", pair.ID, "error", moveErr)
		}
	}

	r.log.Info("inbox batch complete",
		"pairs", len(pairs),
		"ingested", res.Ingested,
		"duplicates", res.Duplicates,
		"failures", res.Failures,
	)
	return res, nil
}

// ingestOne parses, routes, saves, and publishes a single raw message,
// updating the batch result in place.
func (r *Runner) ingestOne(ctx context.Context, raw []byte, explicitUser string, aliases map[string]string, res *Result) {
	parsed, err := r.parser.Parse(raw)
	if err != nil {
		r.log.Error("message parse failed", "error", err)
		res.Failures++
		return
	}
	msg := parsed.Message

	userID, err := r.resolveUser(explicitUser, msg.Recipients, aliases)
	if err != nil {
		r.log.Error("no owner for message",
			"message_id", msg.MessageID,
			"recipients", msg.Recipients,
			"error", err,
		)
		res.Failures++
		return
	}

	saved, err := r.saver.SaveMessage(ctx, userID, msg, parsed.Assets)
	if err != nil {
		r.log.Error("message save failed", "message_id", msg.MessageID, "error", err)
		res.Failures++
		return
	}
	if !saved.Inserted {
		// A duplicate still sitting in the initial state lost its
		// stage task (a publish failure on the original ingestion);
		// re-enqueue it. Re-publishing a row the workers are already
		// on is harmless: their first status transition wins the
		// compare-and-set and the second task is dropped.
		if saved.Status == workflow.StatusFetched && r.publisher != nil {
			if err := r.publisher.PublishOCRTask(ctx, saved.MessageUUID); err != nil {
				r.log.Error("stage task republish failed",
					"message_uuid", saved.MessageUUID,
					"error", err,
				)
				res.Failures++
				return
			}
			r.log.Info("stage task republished for unqueued duplicate",
				"message_uuid", saved.MessageUUID,
			)
		}
		res.Duplicates++
		return
	}

	if r.publisher != nil {
		if err := r.publisher.PublishOCRTask(ctx, saved.MessageUUID); err != nil {
			// The row stays in the initial state; the next ingestion
			// of the same bytes re-enqueues it via the duplicate path.
			r.log.Error("stage task publish failed",
				"message_uuid", saved.MessageUUID,
				"error", err,
			)
			res.Failures++
			return
		}
	}

	res.Ingested++
}

// resolveUser picks the owning user: an explicit assignment wins, then
// alias routing over the recipient addresses, then the default user.
func (r *Runner) resolveUser(explicit string, recipients []string, aliases map[string]string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if r.autoAssign {
		for _, rcpt := range recipients {
			if userID, ok := aliases[strings.ToLower(rcpt)]; ok {
				return userID, nil
			}
		}
	}
	if r.defaultUser != "" {
		return r.defaultUser, nil
	}
	return "", fmt.Errorf("no alias matched and no default user configured")
}

func (r *Runner) loadAliases(ctx context.Context) (map[string]string, error) {
	if !r.autoAssign {
		return map[string]string{}, nil
	}
	aliases, err := r.saver.LoadAliasMap(ctx)
	if err != nil {
		return nil, fmt.Errorf("load alias map: %w", err)
	}
	return aliases, nil
}

// seenIsNew consults the Redis fast path. Filter errors degrade to
// "new": the database idempotency check still holds, so Redis being
// down slows ingestion but never drops mail.
func (r *Runner) seenIsNew(ctx context.Context, key string) bool {
	if r.filter == nil {
		return true
	}
	isNew, err := r.filter.IsNew(ctx, key)
	if err != nil {
		r.log.Warn("dedup filter unavailable, relying on db idempotency", "error", err)
		return true
	}
	return isNew
}

// forget releases a dedup claim for a message that failed to ingest.
func (r *Runner) forget(ctx context.Context, key string) {
	if r.filter == nil {
		return
	}
	if err := r.filter.Forget(ctx, key); err != nil {
		r.log.Warn("dedup claim not released", "key", key, "error", err)
	}
}
