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
	"path"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// matchImgTag resolves an <img> tag to a placeholder token. Match
// priority: original filename, then Content-ID (cid: URI or element id),
// then safe filename. Returns "" when nothing matches.
func (ix *imageIndex) matchImgTag(src, elementID string) string {
	base := src
	if i := strings.IndexAny(base, "?#"); i >= 0 {
		base = base[:i]
	}
	base = path.Base(base)

	if tok, ok := ix.byFilename[src]; ok {
		return tok
	}
	if tok, ok := ix.byFilename[base]; ok {
		return tok
	}

	if cid, found := strings.CutPrefix(src, "cid:"); found {
		if tok, ok := ix.byContentID[cid]; ok {
			return tok
		}
	}
	if elementID != "" {
		if tok, ok := ix.byContentID[elementID]; ok {
			return tok
		}
	}

	if tok, ok := ix.bySafeName[base]; ok {
		return tok
	}
	return ""
}

// htmlToText strips HTML to plain text while rewriting matched <img>
// tags to placeholder tokens. ix may be nil when the message has no
// retained images.
//
// Strip rules: script/style blocks removed entirely; <br> becomes a
// newline; </p> and </div> become paragraph breaks; external links
// become Markdown [text](url); entities are decoded by the tokenizer.
// Placeholder tokens already present in text survive verbatim.
func htmlToText(src string, ix *imageIndex) string {
	z := html.NewTokenizer(strings.NewReader(src))

	var b strings.Builder
	var skipTag string   // inside <script>/<style>
	var anchorHref string
	var anchorText strings.Builder
	inAnchor := false

	writeText := func(s string) {
		if inAnchor {
			anchorText.WriteString(s)
		} else {
			b.WriteString(s)
		}
	}

	for {
		tt := z.Next()
		if tt == html.ErrorToken {
			break
		}
		tok := z.Token()

		switch tt {
		case html.TextToken:
			if skipTag != "" {
				continue
			}
			writeText(tok.Data)

		case html.StartTagToken, html.SelfClosingTagToken:
			if skipTag != "" {
				continue
			}
			switch tok.Data {
			case "script", "style":
				if tt == html.StartTagToken {
					skipTag = tok.Data
				}
			case "br":
				writeText("\n")
			case "img":
				if ix == nil {
					continue
				}
				var imgSrc, imgID string
				for _, a := range tok.Attr {
					switch a.Key {
					case "src":
						imgSrc = a.Val
					case "id":
						imgID = a.Val
					}
				}
				if token := ix.matchImgTag(imgSrc, imgID); token != "" {
					writeText("\n" + token + "\n")
					ix.markUsed(token)
				}
			case "a":
				if tt == html.StartTagToken {
					for _, a := range tok.Attr {
						if a.Key == "href" && isExternalLink(a.Val) {
							anchorHref = a.Val
							anchorText.Reset()
							inAnchor = true
							break
						}
					}
				}
			case "li":
				writeText("\n")
			}

		case html.EndTagToken:
			if skipTag != "" {
				if tok.Data == skipTag {
					skipTag = ""
				}
				continue
			}
			switch tok.Data {
			case "p", "div":
				b.WriteString("\n\n")
			case "a":
				if inAnchor {
					inAnchor = false
					text := strings.TrimSpace(anchorText.String())
					if text != "" {
						b.WriteString("[" + text + "](" + anchorHref + ")")
					} else {
						b.WriteString(anchorHref)
					}
					anchorHref = ""
				}
			case "tr", "ul", "ol", "table":
				b.WriteString("\n")
			}
		}
	}

	// Unterminated anchor: flush whatever text was collected.
	if inAnchor {
		b.WriteString(anchorText.String())
	}

	return normalizeText(b.String())
}

func isExternalLink(href string) bool {
	return strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://")
}

var (
	trailingSpaceRe = regexp.MustCompile(`[ \t]+\n`)
	manyBlanksRe    = regexp.MustCompile(`\n{3,}`)
)

// normalizeText tidies strip output: trailing whitespace per line is
// removed and runs of blank lines collapse to one blank line.
func normalizeText(s string) string {
	s = trailingSpaceRe.ReplaceAllString(s, "\n")
	s = manyBlanksRe.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
