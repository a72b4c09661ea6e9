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
	"log/slog"
	"strings"

	"github.com/mailvine/ingestion/internal/filetype"
	"github.com/mailvine/ingestion/internal/imagecheck"
	"github.com/mailvine/ingestion/internal/models"
)

// Asset is a retained attachment payload ready for persistence.
type Asset struct {
	Filename     string
	SafeFilename string
	ContentType  string
	IsImage      bool
	Data         []byte
}

// imageIndex maps retained images to their placeholder tokens. Images
// are indexed both by Content-ID (for cid: HTML references) and by
// safe filename and original filename (fallback keys).
type imageIndex struct {
	placeholders []models.ImagePlaceholder
	byContentID  map[string]string // content_id -> token
	byFilename   map[string]string // original filename -> token
	bySafeName   map[string]string // safe filename -> token
	used         map[string]bool   // token -> inserted into text
}

func newImageIndex() *imageIndex {
	return &imageIndex{
		byContentID: make(map[string]string),
		byFilename:  make(map[string]string),
		bySafeName:  make(map[string]string),
		used:        make(map[string]bool),
	}
}

func (ix *imageIndex) add(p models.ImagePlaceholder) {
	ix.placeholders = append(ix.placeholders, p)
	if p.ContentID != "" {
		ix.byContentID[p.ContentID] = p.Token
	}
	if p.OriginalFilename != "" {
		ix.byFilename[p.OriginalFilename] = p.Token
	}
	ix.bySafeName[p.SafeFilename] = p.Token
}

// markUsed records that a token was inserted into the text.
func (ix *imageIndex) markUsed(token string) {
	ix.used[token] = true
}

// unused returns the tokens never inserted into the text, in the order
// the images appeared in the message.
func (ix *imageIndex) unused() []string {
	var out []string
	for _, p := range ix.placeholders {
		if !ix.used[p.Token] {
			out = append(out, p.Token)
		}
	}
	return out
}

// resolveAssets walks the attachment-classified parts, deduplicates by
// content hash, filters decorative images through the validator, and
// builds the placeholder index alongside the retained asset list.
//
// A part counts as an image if either the declared type or the magic
// bytes say so. Rejected images produce neither an asset nor a
// placeholder.
func resolveAssets(parts []Part, validator *imagecheck.Validator) ([]Asset, *imageIndex) {
	ix := newImageIndex()
	var assets []Asset
	seen := make(map[string]bool) // content hash -> already handled

	for _, part := range parts {
		if !part.IsAttachment() {
			continue
		}
		if len(part.Body) == 0 {
			continue
		}

		hash := filetype.Hash(part.Body)
		if seen[hash] {
			slog.Debug("duplicate payload within message, skipping",
				"filename", part.Filename,
				"hash", hash,
			)
			continue
		}
		seen[hash] = true

		detected := filetype.Detect(part.Body)
		isImage := strings.HasPrefix(detected.MIME, "image/") ||
			strings.HasPrefix(part.ContentType, "image/")

		if isImage {
			ok, reason := validator.Validate(part.Body, part.Filename)
			if !ok {
				slog.Info("decorative image filtered",
					"filename", part.Filename,
					"reason", reason,
				)
				continue
			}
		}

		// Prefer the signature-detected type; fall back to the declared
		// one only when the signature is inconclusive.
		contentType := detected.MIME
		if contentType == "application/octet-stream" && part.ContentType != "" {
			contentType = part.ContentType
		}

		safeName := hash + detected.Ext
		assets = append(assets, Asset{
			Filename:     part.Filename,
			SafeFilename: safeName,
			ContentType:  contentType,
			IsImage:      isImage,
			Data:         part.Body,
		})

		if isImage {
			ix.add(models.ImagePlaceholder{
				Token:            models.PlaceholderToken(safeName),
				OriginalFilename: part.Filename,
				SafeFilename:     safeName,
				ContentID:        part.ContentID,
				MIMEType:         contentType,
				SizeBytes:        len(part.Body),
				IsInline:         part.Disposition == "inline" || part.ContentID != "",
			})
		}
	}

	return assets, ix
}
