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

package imagecheck

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"
)

// makePNG encodes a solid-colour PNG of the given dimensions.
func makePNG(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

// sizeless returns a validator with the byte-size rule disabled so the
// dimension rules can be exercised with small encoded payloads.
func sizeless() *Validator {
	v := NewValidator()
	v.MinSize = 0
	return v
}

// TestValidate_SizeTooSmall verifies the first rule fires before any
// decode is attempted.
func TestValidate_SizeTooSmall(t *testing.T) {
	v := NewValidator()
	ok, reason := v.Validate(make([]byte, 512), "tiny.png")
	if ok {
		t.Fatal("512-byte payload accepted, want size rejection")
	}
	if !strings.Contains(reason, "file size too small") {
		t.Errorf("reason = %q, want file size too small", reason)
	}
}

// TestValidate_SizeDependsOnBytesOnly verifies rejection is unchanged by
// filename (validator monotonicity).
func TestValidate_SizeDependsOnBytesOnly(t *testing.T) {
	v := NewValidator()
	data := make([]byte, 100)

	okA, _ := v.Validate(data, "a.png")
	okB, _ := v.Validate(data, "completely-different-name.jpg")
	if okA || okB {
		t.Error("rejection changed with filename; must depend on bytes only")
	}
}

// TestValidate_DimensionsTooSmall rejects decoded images under 50x50.
func TestValidate_DimensionsTooSmall(t *testing.T) {
	v := sizeless()
	ok, reason := v.Validate(makePNG(t, 30, 30), "icon.png")
	if ok {
		t.Fatal("30x30 image accepted, want dimension rejection")
	}
	if !strings.Contains(reason, "dimensions too small") {
		t.Errorf("reason = %q, want dimensions too small", reason)
	}
}

// TestValidate_AspectRatioBoundary verifies the exact boundary: ratio
// 10.0 passes, anything over fails.
func TestValidate_AspectRatioBoundary(t *testing.T) {
	v := sizeless()

	if ok, reason := v.Validate(makePNG(t, 500, 50), "banner.png"); !ok {
		t.Errorf("500x50 (ratio 10.0) rejected: %s", reason)
	}

	ok, reason := v.Validate(makePNG(t, 501, 50), "divider.png")
	if ok {
		t.Fatal("501x50 accepted, want aspect ratio rejection")
	}
	if !strings.Contains(reason, "aspect ratio too extreme") {
		t.Errorf("reason = %q, want aspect ratio too extreme", reason)
	}

	// Tall images hit the same rule.
	if ok, _ := v.Validate(makePNG(t, 50, 501), "strip.png"); ok {
		t.Error("50x501 accepted, want aspect ratio rejection")
	}
}

// TestValidate_SubstantiveImagePasses accepts a normal photo-sized image.
func TestValidate_SubstantiveImagePasses(t *testing.T) {
	v := sizeless()
	if ok, reason := v.Validate(makePNG(t, 640, 480), "photo.png"); !ok {
		t.Errorf("640x480 rejected: %s", reason)
	}
}

// TestValidate_UndecodablePassesThrough verifies the permissive side of
// the contract: bytes that do not decode as any known image format are
// passed through, not rejected.
func TestValidate_UndecodablePassesThrough(t *testing.T) {
	v := sizeless()
	ok, reason := v.Validate([]byte("this is not an image at all, maybe HEIC"), "photo.heic")
	if !ok {
		t.Fatalf("undecodable payload rejected (%s); must pass through", reason)
	}
}
