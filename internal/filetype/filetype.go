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

// Package filetype identifies file content from magic bytes and provides
// the content-addressing hash used for attachment deduplication. Sender
// declared Content-Type headers and filenames are never trusted; the same
// bytes always yield the same classification and the same hash.
package filetype

import (
	"bytes"
	"net/http"
	"strings"
)

// Info describes a detected file type.
type Info struct {
	MIME        string
	Ext         string // includes the leading dot, e.g. ".png"
	Description string
}

// octetStream is the fallback classification for unknown signatures.
// An unknown signature is not an error.
var octetStream = Info{
	MIME:        "application/octet-stream",
	Ext:         ".bin",
	Description: "binary data",
}

// signature is one magic-byte pattern at a fixed offset.
type signature struct {
	offset int
	magic  []byte
	info   Info
}

// signatures is checked in order; first match wins. More specific
// patterns (e.g. WEBP inside RIFF) come before generic ones.
var signatures = []signature{
	{0, []byte{0xFF, 0xD8, 0xFF}, Info{"image/jpeg", ".jpg", "JPEG image"}},
	{0, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, Info{"image/png", ".png", "PNG image"}},
	{0, []byte("GIF87a"), Info{"image/gif", ".gif", "GIF image"}},
	{0, []byte("GIF89a"), Info{"image/gif", ".gif", "GIF image"}},
	{8, []byte("WEBP"), Info{"image/webp", ".webp", "WebP image"}},
	{0, []byte("BM"), Info{"image/bmp", ".bmp", "BMP image"}},
	{0, []byte{0x49, 0x49, 0x2A, 0x00}, Info{"image/tiff", ".tiff", "TIFF image (little-endian)"}},
	{0, []byte{0x4D, 0x4D, 0x00, 0x2A}, Info{"image/tiff", ".tiff", "TIFF image (big-endian)"}},
	{0, []byte{0x00, 0x00, 0x01, 0x00}, Info{"image/x-icon", ".ico", "Windows icon"}},
	{0, []byte("%PDF-"), Info{"application/pdf", ".pdf", "PDF document"}},
	{0, []byte{0x50, 0x4B, 0x03, 0x04}, Info{"application/zip", ".zip", "ZIP archive"}},
	{0, []byte{0x50, 0x4B, 0x05, 0x06}, Info{"application/zip", ".zip", "ZIP archive (empty)"}},
	{0, []byte{0x1F, 0x8B}, Info{"application/gzip", ".gz", "gzip archive"}},
	{0, []byte("7z\xBC\xAF\x27\x1C"), Info{"application/x-7z-compressed", ".7z", "7-Zip archive"}},
	{0, []byte("Rar!\x1A\x07"), Info{"application/vnd.rar", ".rar", "RAR archive"}},
	{0, []byte("ID3"), Info{"audio/mpeg", ".mp3", "MP3 audio"}},
	{4, []byte("ftyp"), Info{"video/mp4", ".mp4", "MP4 container"}},
	{0, []byte("{\\rtf"), Info{"application/rtf", ".rtf", "RTF document"}},
	{0, []byte{0xD0, 0xCF, 0x11, 0xE0, 0xA1, 0xB1, 0x1A, 0xE1}, Info{"application/msword", ".doc", "Compound File (legacy Office)"}},
}

// Detect classifies a payload from its magic bytes. Unknown signatures
// fall back to net/http sniffing, then to application/octet-stream.
func Detect(data []byte) Info {
	if len(data) == 0 {
		return octetStream
	}

	for _, sig := range signatures {
		end := sig.offset + len(sig.magic)
		if len(data) >= end && bytes.Equal(data[sig.offset:end], sig.magic) {
			return sig.info
		}
	}

	// net/http sniffing covers text-ish content the table does not.
	sniffed := http.DetectContentType(data)
	if i := strings.Index(sniffed, ";"); i >= 0 {
		sniffed = sniffed[:i]
	}
	switch sniffed {
	case "text/plain":
		return Info{MIME: "text/plain", Ext: ".txt", Description: "plain text"}
	case "text/html":
		return Info{MIME: "text/html", Ext: ".html", Description: "HTML document"}
	case "text/xml":
		return Info{MIME: "text/xml", Ext: ".xml", Description: "XML document"}
	}

	return octetStream
}

// IsImage reports whether the payload is image content by signature,
// regardless of any declared MIME type.
func IsImage(data []byte) bool {
	return strings.HasPrefix(Detect(data).MIME, "image/")
}
