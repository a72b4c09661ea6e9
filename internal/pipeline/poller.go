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
	"log/slog"
	"time"

	"github.com/mailvine/ingestion/internal/imapsource"
	"github.com/mailvine/ingestion/internal/inbox"
)

// Poller runs a background loop that periodically drains the IMAP
// mailbox and, when configured, the file-drop inbox.
type Poller struct {
	runner   *Runner
	source   *imapsource.Source
	account  string
	scanner  *inbox.Scanner // optional
	interval time.Duration

	// rescan wakes the loop outside its schedule; fed by the admin
	// server's rescan endpoint.
	rescan chan struct{}
}

// NewPoller creates a poller over the given runner and sources.
// scanner may be nil when no drop directory is configured.
func NewPoller(runner *Runner, source *imapsource.Source, account string, scanner *inbox.Scanner, interval time.Duration) *Poller {
	return &Poller{
		runner:   runner,
		source:   source,
		account:  account,
		scanner:  scanner,
		interval: interval,
		rescan:   make(chan struct{}, 1),
	}
}

// TriggerRescan requests an immediate poll. Coalesces with a pending
// request; never blocks.
func (p *Poller) TriggerRescan() {
	select {
	case p.rescan <- struct{}{}:
	default:
	}
}

// Run starts the polling loop. It blocks until the context is cancelled.
func (p *Poller) Run(ctx context.Context) {
	slog.Info("ingestion poller starting",
		"account", p.account,
		"interval", p.interval,
		"inbox", p.scanner != nil,
	)

	// Do an initial poll immediately
	p.poll(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("ingestion poller stopping")
			return
		case <-ticker.C:
			p.poll(ctx)
		case <-p.rescan:
			slog.Info("rescan requested")
			p.poll(ctx)
		}
	}
}

func (p *Poller) poll(ctx context.Context) {
	if p.source != nil {
		if _, err := p.runner.ProcessIMAP(ctx, p.source, p.account); err != nil {
			slog.Error("imap poll failed", "account", p.account, "error", err)
		}
	}
	if p.scanner != nil {
		if _, err := p.runner.ProcessInbox(ctx, p.scanner); err != nil {
			slog.Error("inbox scan failed", "error", err)
		}
	}
}
