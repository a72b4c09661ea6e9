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
	"strings"
	"testing"

	"github.com/mailvine/ingestion/internal/models"
)

// TestCleanupPlaceholders_OrphanRemoval: tokens without a surviving
// attachment are removed, surviving ones stay, blank lines collapse.
func TestCleanupPlaceholders_OrphanRemoval(t *testing.T) {
	text := "intro\n\n[IMAGE: a.png]\n\n[IMAGE: b.png]\n\noutro"
	surviving := map[string]bool{"a.png": true}

	got := cleanupPlaceholders(text, surviving)

	if !strings.Contains(got, "[IMAGE: a.png]") {
		t.Errorf("surviving token removed:\n%s", got)
	}
	if strings.Contains(got, "b.png") {
		t.Errorf("orphan token retained:\n%s", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Errorf("blank lines not collapsed:\n%s", got)
	}
}

// TestCleanupPlaceholders_NoOrphans leaves text untouched.
func TestCleanupPlaceholders_NoOrphans(t *testing.T) {
	text := "body\n\n[IMAGE: a.png]"
	got := cleanupPlaceholders(text, map[string]bool{"a.png": true})
	if got != text {
		t.Errorf("text changed without orphans: %q", got)
	}
}

// TestHTMLToText_StripRules covers script/style removal, line breaks,
// Markdown links, and entity decoding.
func TestHTMLToText_StripRules(t *testing.T) {
	src := `<html><head><style>p { color: red }</style></head><body>` +
		`<script>alert("x")</script>` +
		`<p>first &amp; second</p>` +
		`<div>line one<br>line two</div>` +
		`<a href="https://example.com/doc">the doc</a>` +
		`<a href="mailto:x@y.z">mail me</a>` +
		`</body></html>`

	got := htmlToText(src, nil)

	if strings.Contains(got, "alert") || strings.Contains(got, "color") {
		t.Errorf("script/style content leaked:\n%s", got)
	}
	if !strings.Contains(got, "first & second") {
		t.Errorf("entity not decoded:\n%s", got)
	}
	if !strings.Contains(got, "line one\nline two") {
		t.Errorf("<br> not converted:\n%s", got)
	}
	if !strings.Contains(got, "[the doc](https://example.com/doc)") {
		t.Errorf("external link not converted to Markdown:\n%s", got)
	}
	if strings.Contains(got, "](mailto:") {
		t.Errorf("non-http link converted:\n%s", got)
	}
	if !strings.Contains(got, "mail me") {
		t.Errorf("mailto anchor text lost:\n%s", got)
	}
}

// TestHTMLToText_PreservesExistingTokens: a token already present in
// the HTML text survives the strip verbatim.
func TestHTMLToText_PreservesExistingTokens(t *testing.T) {
	got := htmlToText("<p>see [IMAGE: abc123.png] above</p>", nil)
	if !strings.Contains(got, "[IMAGE: abc123.png]") {
		t.Errorf("token did not survive strip:\n%s", got)
	}
}

// TestFindImageReference_Languages exercises the pattern table across
// languages.
func TestFindImageReference_Languages(t *testing.T) {
	cases := []struct {
		text string
		n    int
	}{
		{"前文 图片1（可在附件中查看） 后文", 1},
		{"please check Image 2 see attached below", 2},
		{"adjunto la Imagen 1 ver adjunto", 1},
		{"voir Image 3 ci-joint merci", 3},
		{"siehe Bild 1 siehe Anhang", 1},
		{"添付の 画像2 をご覧ください", 2},
	}

	for _, c := range cases {
		if end := findImageReference(c.text, c.n); end < 0 {
			t.Errorf("no match for n=%d in %q", c.n, c.text)
		}
	}

	if end := findImageReference("no references at all", 1); end >= 0 {
		t.Error("matched reference in text without any")
	}
}

// TestFindImageReference_NumberBoundary: "图片1" must not match inside
// "图片12".
func TestFindImageReference_NumberBoundary(t *testing.T) {
	end := findImageReference("见 图片12 的说明", 1)
	if end >= 0 {
		t.Error("pattern for image 1 matched inside 图片12")
	}
}

// TestReconcile_StrategySelection checks the four input combinations.
func TestReconcile_StrategySelection(t *testing.T) {
	// Text only, no images: unchanged.
	if got := reconcile("plain body", "", nil); got != "plain body" {
		t.Errorf("text-only changed: %q", got)
	}

	// HTML only: stripped.
	if got := reconcile("", "<p>html body</p>", newImageIndex()); !strings.Contains(got, "html body") {
		t.Errorf("html-only strip: %q", got)
	}

	// Text + images: positioned or appended.
	ix := newImageIndex()
	ix.add(models.ImagePlaceholder{
		Token:            "[IMAGE: aa.png]",
		OriginalFilename: "photo.png",
		SafeFilename:     "aa.png",
	})
	got := reconcile("Image 1 is here", "", ix)
	if !strings.Contains(got, "[IMAGE: aa.png]") {
		t.Errorf("text+image placeholder missing: %q", got)
	}

	// HTML + images, nothing matches in HTML: appended at end.
	ix2 := newImageIndex()
	ix2.add(models.ImagePlaceholder{
		Token:        "[IMAGE: bb.png]",
		SafeFilename: "bb.png",
	})
	got = reconcile("", "<p>no img tags</p>", ix2)
	if !strings.HasSuffix(strings.TrimSpace(got), "[IMAGE: bb.png]") {
		t.Errorf("unmatched placeholder not appended: %q", got)
	}
}
