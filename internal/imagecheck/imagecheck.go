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

// Package imagecheck decides whether an image payload is substantive or
// decorative (icons, emoji, tracking pixels, divider strips). Decorative
// images are filtered out of attachment storage and placeholder text.
//
// The validator is deliberately permissive on decode failure: a payload
// that cannot be decoded at all may be a valid image in an unsupported
// format, so it passes through. Only images that decode and measure too
// small (or too thin) are rejected.
package imagecheck

import (
	"bytes"
	"fmt"
	"image"
	"log/slog"

	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// Default thresholds. Anything below these is decoration, not content.
const (
	DefaultMinSize        = 10 * 1024 // bytes
	DefaultMinWidth       = 50        // pixels
	DefaultMinHeight      = 50        // pixels
	DefaultMaxAspectRatio = 10.0
)

// Validator holds the rejection thresholds.
type Validator struct {
	MinSize        int
	MinWidth       int
	MinHeight      int
	MaxAspectRatio float64
}

// NewValidator returns a validator with the default thresholds.
func NewValidator() *Validator {
	return &Validator{
		MinSize:        DefaultMinSize,
		MinWidth:       DefaultMinWidth,
		MinHeight:      DefaultMinHeight,
		MaxAspectRatio: DefaultMaxAspectRatio,
	}
}

// Validate applies the rejection rules in order, failing fast. The
// filename is used for logging only; rejection depends on bytes alone.
func (v *Validator) Validate(data []byte, filename string) (bool, string) {
	if len(data) < v.MinSize {
		reason := fmt.Sprintf("file size too small: %d bytes (min %d)", len(data), v.MinSize)
		slog.Debug("image rejected", "filename", filename, "reason", reason)
		return false, reason
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		// Possibly valid in an unsupported format — pass through.
		slog.Debug("image undecodable, passing through",
			"filename", filename,
			"error", err,
		)
		return true, "undecodable format, passed through"
	}

	if cfg.Width == 0 || cfg.Height == 0 {
		reason := fmt.Sprintf("invalid dimensions: %dx%d", cfg.Width, cfg.Height)
		slog.Debug("image rejected", "filename", filename, "reason", reason)
		return false, reason
	}

	if cfg.Width < v.MinWidth || cfg.Height < v.MinHeight {
		reason := fmt.Sprintf("dimensions too small: %dx%d (min %dx%d)",
			cfg.Width, cfg.Height, v.MinWidth, v.MinHeight)
		slog.Debug("image rejected", "filename", filename, "reason", reason)
		return false, reason
	}

	ratio := float64(cfg.Width) / float64(cfg.Height)
	if ratio < 1 {
		ratio = 1 / ratio
	}
	if ratio > v.MaxAspectRatio {
		reason := fmt.Sprintf("aspect ratio too extreme: %.2f (max %.1f)", ratio, v.MaxAspectRatio)
		slog.Debug("image rejected", "filename", filename, "reason", reason, "format", format)
		return false, reason
	}

	return true, "ok"
}
