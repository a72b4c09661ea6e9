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
	"regexp"
)

// refPattern builds a regular expression matching a numbered image
// reference in one language. %d is replaced with the 1-based image
// number. Patterns are data: adding a language means adding entries
// here, the positioning algorithm stays untouched.
type refPattern struct {
	lang     string
	template string
}

// refPatterns is evaluated in order; the first pattern that matches the
// text wins for a given image number. More specific phrasings come
// before bare "Image N" style references.
var refPatterns = []refPattern{
	// Chinese, full-width and ASCII parentheses. \b keeps "图片1" from
	// matching inside "图片12".
	{"zh", `图片\s*%d\s*（可在附件中查看）`},
	{"zh", `图片\s*%d\s*\(可在附件中查看\)`},
	{"zh", `图片\s*%d\b`},
	{"zh", `附图\s*%d\b`},
	// English
	{"en", `(?i)image\s*%d\s*\(?see attached\)?`},
	{"en", `(?i)picture\s*%d\s*\(?see attached\)?`},
	{"en", `(?i)image\s*%d\b`},
	{"en", `(?i)picture\s*%d\b`},
	{"en", `(?i)screenshot\s*%d\b`},
	// Spanish
	{"es", `(?i)imagen\s*%d\s*\(?ver adjunto\)?`},
	{"es", `(?i)imagen\s*%d\b`},
	// French
	{"fr", `(?i)image\s*%d\s*\(?ci-joint\)?`},
	// German
	{"de", `(?i)bild\s*%d\s*\(?siehe anhang\)?`},
	{"de", `(?i)bild\s*%d\b`},
	// Japanese
	{"ja", `画像\s*%d\s*（添付）`},
	{"ja", `画像\s*%d\b`},
}

// findImageReference locates the first numbered reference to image n in
// the text, trying each language pattern in priority order. Returns the
// end offset of the match, or -1 when no pattern fires.
func findImageReference(text string, n int) int {
	for _, p := range refPatterns {
		re, err := regexp.Compile(fmt.Sprintf(p.template, n))
		if err != nil {
			continue
		}
		if loc := re.FindStringIndex(text); loc != nil {
			return loc[1]
		}
	}
	return -1
}
