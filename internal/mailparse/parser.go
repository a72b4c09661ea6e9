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

package mailparse

import (
	"fmt"
	"strings"
	"time"

	"github.com/mailvine/ingestion/internal/filetype"
	"github.com/mailvine/ingestion/internal/imagecheck"
	"github.com/mailvine/ingestion/internal/models"
)

// Parser turns raw message bytes into ParsedMessage records.
type Parser struct {
	validator *imagecheck.Validator
	keepRaw   bool
}

// Option configures a Parser.
type Option func(*Parser)

// WithValidator overrides the decorative-image validator thresholds.
func WithValidator(v *imagecheck.Validator) Option {
	return func(p *Parser) { p.validator = v }
}

// WithRawContent keeps the raw message bytes on the record (off by
// default; raw bodies are large and only needed for debugging).
func WithRawContent() Option {
	return func(p *Parser) { p.keepRaw = true }
}

// NewParser creates a parser with default validation thresholds.
func NewParser(opts ...Option) *Parser {
	p := &Parser{validator: imagecheck.NewValidator()}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Result pairs the parsed record with the retained attachment payloads
// the persister still has to write.
type Result struct {
	Message *models.ParsedMessage
	Assets  []Asset
}

// Parse walks the MIME tree, resolves images to placeholders, and
// reconciles the body text. The returned record is immutable once
// produced; only downstream enrichment mutates it later.
func (p *Parser) Parse(raw []byte) (*Result, error) {
	hdr, parts, err := walk(raw)
	if err != nil {
		return nil, err
	}

	var textBody, htmlBody strings.Builder
	for _, part := range parts {
		switch {
		case part.IsText():
			if textBody.Len() > 0 {
				textBody.WriteByte('\n')
			}
			textBody.Write(part.Body)
		case part.IsHTML():
			htmlBody.Write(part.Body)
		}
	}

	assets, ix := resolveAssets(parts, p.validator)

	text := reconcile(textBody.String(), htmlBody.String(), ix)

	surviving := make(map[string]bool, len(assets))
	attachments := make([]models.Attachment, 0, len(assets))
	for _, a := range assets {
		surviving[a.SafeFilename] = true
		attachments = append(attachments, models.Attachment{
			Filename:     a.Filename,
			SafeFilename: a.SafeFilename,
			ContentType:  a.ContentType,
			FileSize:     len(a.Data),
			IsImage:      a.IsImage,
		})
	}
	text = cleanupPlaceholders(text, surviving)

	// The id hash covers hdr.Date as-is (the zero time when the
	// message carried no usable Date); the ingestion clock below is
	// display-only so re-ingestion still dedups.
	receivedAt := hdr.Date
	if receivedAt.IsZero() {
		receivedAt = time.Now().UTC()
	}

	msg := &models.ParsedMessage{
		MessageID:   MessageID(hdr),
		Subject:     hdr.Subject,
		Sender:      hdr.Sender,
		Recipients:  hdr.Recipients,
		ReceivedAt:  receivedAt,
		HTMLContent: htmlBody.String(),
		TextContent: text,
		Attachments: attachments,
	}
	if p.keepRaw {
		msg.RawContent = string(raw)
	}

	return &Result{Message: msg, Assets: assets}, nil
}

// MessageID derives the deterministic idempotency key from the decoded
// headers: identical header sets always yield the identical id.
func MessageID(hdr Headers) string {
	key := fmt.Sprintf("%s|%s|%s|%s",
		hdr.Subject,
		hdr.Sender,
		strings.Join(hdr.Recipients, ","),
		hdr.Date.UTC().Format(time.RFC3339),
	)
	return filetype.Hash([]byte(key))
}
