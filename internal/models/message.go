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

// Package models defines the data structures shared across the ingestion service.
package models

import "time"

// ParsedMessage is the canonical record produced by the parsing engine.
//
// MessageID is a deterministic hash of (subject|sender|recipients|received_at)
// and serves as the idempotency key for storage: re-ingesting the same raw
// bytes always produces the same MessageID.
type ParsedMessage struct {
	MessageID   string       `json:"message_id"`
	Subject     string       `json:"subject"`
	Sender      string       `json:"sender"`
	Recipients  []string     `json:"recipients"`
	ReceivedAt  time.Time    `json:"received_at"`
	RawContent  string       `json:"raw_content,omitempty"`
	HTMLContent string       `json:"html_content,omitempty"`
	TextContent string       `json:"text_content"`
	Attachments []Attachment `json:"attachments"`
}

// Attachment represents one unique attachment payload of a message.
// Duplicate payloads within a message collapse to a single record keyed
// by SafeFilename.
type Attachment struct {
	Filename     string `json:"filename"`
	SafeFilename string `json:"safe_filename"`
	ContentType  string `json:"content_type"`
	FileSize     int    `json:"file_size"`
	FilePath     string `json:"file_path,omitempty"`
	IsImage      bool   `json:"is_image"`
}

// ImagePlaceholder links an inline or attached image to the placeholder
// token embedded in the message text.
//
// SafeFilename (content hash + extension) is the dedup key: identical
// bytes always produce the identical SafeFilename regardless of how many
// parts carry them.
type ImagePlaceholder struct {
	Token            string `json:"placeholder_token"`
	OriginalFilename string `json:"original_filename"`
	SafeFilename     string `json:"safe_filename"`
	ContentID        string `json:"content_id,omitempty"`
	MIMEType         string `json:"mime_type"`
	SizeBytes        int    `json:"size_bytes"`
	IsInline         bool   `json:"is_inline"`
}

// PlaceholderToken returns the literal token embedded in text for a
// stored image: "[IMAGE: <safe_filename>]".
func PlaceholderToken(safeFilename string) string {
	return "[IMAGE: " + safeFilename + "]"
}
