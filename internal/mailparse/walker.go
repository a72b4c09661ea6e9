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

// Package mailparse turns raw RFC 822 bytes into the canonical
// ParsedMessage record: it walks the MIME part tree, extracts and
// validates inline images and attachments, and reconciles text and HTML
// bodies into a single plain-text representation with image placeholder
// tokens at the correct reading positions.
package mailparse

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	netmail "net/mail"
	"strings"
	"time"

	"github.com/emersion/go-message"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
)

// Part is one leaf of the MIME tree. Container parts (multipart/*,
// message/*) are traversed, never emitted.
type Part struct {
	ContentType string
	Disposition string // "attachment", "inline", or ""
	ContentID   string
	Filename    string
	Body        []byte
}

// Headers holds the decoded top-level header fields.
type Headers struct {
	Subject    string
	Sender     string
	Recipients []string
	Date       time.Time
}

// IsText reports whether the part is body text (not a text file sent as
// a true attachment).
func (p *Part) IsText() bool {
	return p.ContentType == "text/plain" && p.Disposition != "attachment"
}

// IsHTML reports whether the part is body HTML.
func (p *Part) IsHTML() bool {
	return p.ContentType == "text/html" && p.Disposition != "attachment"
}

// IsAttachment reports whether the part should be treated as an
// attachment or inline image. Some clients omit the disposition for
// inline images, so declared image content counts regardless.
func (p *Part) IsAttachment() bool {
	if p.Disposition == "attachment" || p.Disposition == "inline" {
		return true
	}
	if p.Filename != "" {
		return true
	}
	return strings.HasPrefix(p.ContentType, "image/")
}

// walk parses raw message bytes into decoded headers and a flat part list.
func walk(raw []byte) (Headers, []Part, error) {
	entity, err := message.Read(bytes.NewReader(raw))
	if err != nil && !message.IsUnknownCharset(err) {
		return Headers{}, nil, fmt.Errorf("read message: %w", err)
	}

	hdr := decodeHeaders(entity.Header)

	var parts []Part
	if err := collectParts(entity, &parts); err != nil {
		return hdr, parts, fmt.Errorf("walk parts: %w", err)
	}

	return hdr, parts, nil
}

// collectParts recursively traverses the entity tree, appending leaf
// parts to out.
func collectParts(entity *message.Entity, out *[]Part) error {
	mediaType, _, err := entity.Header.ContentType()
	if err != nil {
		mediaType = "text/plain"
	}
	mediaType = strings.ToLower(mediaType)

	if mr := entity.MultipartReader(); mr != nil {
		for {
			child, err := mr.NextPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				if message.IsUnknownCharset(err) {
					continue
				}
				// A malformed subpart must not lose the parts already
				// collected.
				slog.Warn("malformed MIME subpart, skipping remainder", "error", err)
				return nil
			}
			if err := collectParts(child, out); err != nil {
				return err
			}
		}
	}

	if strings.HasPrefix(mediaType, "message/") {
		nested, err := message.Read(entity.Body)
		if err != nil && !message.IsUnknownCharset(err) {
			slog.Warn("unreadable nested message part", "error", err)
			return nil
		}
		return collectParts(nested, out)
	}

	body, err := io.ReadAll(entity.Body)
	if err != nil {
		slog.Warn("unreadable part body, skipping", "content_type", mediaType, "error", err)
		return nil
	}

	disposition, dispParams, _ := entity.Header.ContentDisposition()
	_, typeParams, _ := entity.Header.ContentType()

	filename := dispParams["filename"]
	if filename == "" {
		filename = typeParams["name"]
	}

	*out = append(*out, Part{
		ContentType: mediaType,
		Disposition: strings.ToLower(disposition),
		ContentID:   strings.Trim(entity.Header.Get("Content-Id"), "<>"),
		Filename:    filename,
		Body:        body,
	})
	return nil
}

// decodeHeaders extracts the top-level header fields, decoding each one
// individually (RFC 2047 words, quoted-printable, base64) with fallback
// to the raw value when decoding fails.
func decodeHeaders(h message.Header) Headers {
	mh := mail.Header{Header: h}

	subject, err := mh.Subject()
	if err != nil {
		subject = h.Get("Subject")
	}

	sender := ""
	if from, err := mh.AddressList("From"); err == nil && len(from) > 0 {
		sender = from[0].Address
	} else {
		sender = h.Get("From")
	}

	var recipients []string
	for _, field := range []string{"To", "Cc"} {
		addrs, err := mh.AddressList(field)
		if err != nil || len(addrs) == 0 {
			if raw := h.Get(field); raw != "" && err != nil {
				recipients = append(recipients, raw)
			}
			continue
		}
		for _, a := range addrs {
			recipients = append(recipients, a.Address)
		}
	}

	// A missing or unparseable Date stays the zero time: the id hash
	// over the headers must come out identical on every re-ingestion
	// of the same raw bytes.
	date, err := mh.Date()
	if err != nil || date.IsZero() {
		if parsed, perr := netmail.ParseDate(h.Get("Date")); perr == nil {
			date = parsed
		} else {
			date = time.Time{}
		}
	}

	return Headers{
		Subject:    subject,
		Sender:     sender,
		Recipients: recipients,
		Date:       date.UTC(),
	}
}
