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

package imapsource

import "fmt"

// ConfigError reports missing or unusable IMAP configuration. Raised
// before any network traffic so operators can self-diagnose.
type ConfigError struct {
	Field string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("imap config: %s is required — set imap.%s in config.yaml or the matching environment variable", e.Field, e.Field)
}

// AuthError reports a rejected login: the server was reached but the
// credentials (or OAuth token) were refused.
type AuthError struct {
	Username string
	Err      error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("imap auth: login rejected for %s: %v", e.Username, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError reports an unreachable server or a broken connection,
// distinct from bad credentials.
type NetworkError struct {
	Addr string
	Err  error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("imap network: cannot reach %s: %v", e.Addr, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }
