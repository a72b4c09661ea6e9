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
	"regexp"
	"sort"
	"strings"
)

// reconcile produces the final text_content from the available inputs.
// Strategy selection:
//
//  1. HTML + images: rewrite matched <img> tags to placeholders while
//     stripping; unmatched placeholders are appended at the end so no
//     retained image loses its reference.
//  2. HTML, no images: plain strip.
//  3. Text + images, no HTML: position placeholders after numbered
//     references ("图片1（可在附件中查看）", "Image 1 see attached", ...)
//     ordered by image filename; unmatched ones are appended.
//  4. Text, no images: returned unchanged.
func reconcile(textBody, htmlBody string, ix *imageIndex) string {
	hasImages := ix != nil && len(ix.placeholders) > 0

	switch {
	case htmlBody != "" && hasImages:
		text := htmlToText(htmlBody, ix)
		return appendUnused(text, ix)

	case htmlBody != "":
		return htmlToText(htmlBody, nil)

	case hasImages:
		text := positionPlaceholders(textBody, ix)
		return appendUnused(text, ix)

	default:
		return textBody
	}
}

// positionPlaceholders inserts each image's token immediately after its
// numbered reference in the text. Images are numbered 1..n in filename
// order; an image whose number matches no pattern stays unused and is
// appended later.
func positionPlaceholders(text string, ix *imageIndex) string {
	ordered := make([]int, len(ix.placeholders))
	for i := range ordered {
		ordered[i] = i
	}
	sort.SliceStable(ordered, func(a, b int) bool {
		return ix.placeholders[ordered[a]].OriginalFilename < ix.placeholders[ordered[b]].OriginalFilename
	})

	for n, idx := range ordered {
		p := ix.placeholders[idx]
		end := findImageReference(text, n+1)
		if end < 0 {
			continue
		}
		text = text[:end] + "\n" + p.Token + "\n" + text[end:]
		ix.markUsed(p.Token)
	}

	return text
}

// appendUnused appends any placeholder never inserted into the text, in
// message order, so downstream stages still see every retained image.
func appendUnused(text string, ix *imageIndex) string {
	unused := ix.unused()
	if len(unused) == 0 {
		return text
	}

	var b strings.Builder
	b.WriteString(strings.TrimRight(text, "\n"))
	b.WriteString("\n")
	for _, token := range unused {
		b.WriteString("\n")
		b.WriteString(token)
		ix.markUsed(token)
	}
	return b.String()
}

var placeholderRe = regexp.MustCompile(`\[IMAGE: ([^\]]+)\]`)

// cleanupPlaceholders removes tokens that reference images without a
// surviving attachment record (filtered decorative images, parse
// leftovers) and collapses the blank lines left behind. Guarantees no
// orphaned [IMAGE: x] reference remains in the text.
func cleanupPlaceholders(text string, surviving map[string]bool) string {
	cleaned := placeholderRe.ReplaceAllStringFunc(text, func(tok string) string {
		name := placeholderRe.FindStringSubmatch(tok)[1]
		if surviving[name] {
			return tok
		}
		return ""
	})

	if cleaned == text {
		return text
	}
	return normalizeText(cleaned)
}
