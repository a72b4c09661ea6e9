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

package filetype

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the content-addressing key for a payload: a 16-hex-digit
// xxhash64 digest. Identical bytes always produce the identical key;
// that property is all the pipeline relies on (this is not a security
// hash).
func Hash(data []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(data))
}

// SafeFilename returns the dedup filename for a payload: content hash
// plus the signature-detected extension.
func SafeFilename(data []byte) string {
	return Hash(data) + Detect(data).Ext
}
