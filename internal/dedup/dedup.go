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

// Package dedup provides message deduplication using a Redis SET with
// TTL. This short-circuits messages the poller has already seen before
// they reach parsing; the database's (user_id, message_id) uniqueness
// remains the authoritative check when Redis is unavailable.
package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL is how long we remember a seen message. Polling
	// windows are minutes wide, so 24h covers any realistic overlap.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces dedup keys in Redis.
	keyPrefix = "ingest:seen:"
)

// Filter tracks which messages have already been processed.
type Filter struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewFilter creates a dedup filter backed by Redis.
func NewFilter(rdb *redis.Client) *Filter {
	return &Filter{
		rdb: rdb,
		ttl: DefaultTTL,
	}
}

// IsNew returns true if the message identity (IMAP "account:uid" or a
// computed message_id) has NOT been seen before. If true, it is marked
// as seen atomically (SETNX).
func (f *Filter) IsNew(ctx context.Context, messageKey string) (bool, error) {
	key := fmt.Sprintf("%s%s", keyPrefix, messageKey)

	// SET NX = set only if key does not exist. Returns true if the key was set.
	set, err := f.rdb.SetNX(ctx, key, 1, f.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup SETNX: %w", err)
	}

	return set, nil
}

// Forget releases a claim made by IsNew. Called when ingestion fails
// after the claim, so a replay is not blocked for the TTL.
func (f *Filter) Forget(ctx context.Context, messageKey string) error {
	key := fmt.Sprintf("%s%s", keyPrefix, messageKey)
	if err := f.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("dedup DEL: %w", err)
	}
	return nil
}
