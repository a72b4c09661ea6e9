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

// Package imapsource fetches raw messages from an IMAP mailbox.
//
// Messages are yielded one at a time over a channel so the caller can
// parse and persist each one before the next body is pulled off the
// wire. Connection, authentication, and configuration failures are
// reported as distinct typed errors so callers can tell a bad password
// from an unreachable server.
package imapsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"
	"github.com/emersion/go-sasl"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/mailvine/ingestion/internal/config"
)

// UID aliases the go-imap UID type so callers holding plain cursor
// values need not import the IMAP packages.
type UID = imap.UID

// Item is one fetched message. A non-nil Err means the stream broke;
// no further items follow it.
type Item struct {
	UID imap.UID
	Raw []byte
	Err error
}

// Source fetches mail for one configured account.
type Source struct {
	cfg config.IMAPConfig
	log *slog.Logger
}

// New validates the account configuration and returns a source. No
// connection is made until Fetch.
func New(cfg config.IMAPConfig) (*Source, error) {
	if cfg.Host == "" {
		return nil, &ConfigError{Field: "host"}
	}
	if cfg.Username == "" {
		return nil, &ConfigError{Field: "username"}
	}
	if cfg.Password == "" && !cfg.OAuth.Enabled() {
		return nil, &ConfigError{Field: "password"}
	}
	if _, err := buildSearchCriteria(cfg, 0, time.Now()); err != nil {
		return nil, err
	}
	return &Source{
		cfg: cfg,
		log: slog.Default().With("component", "imapsource", "host", cfg.Host),
	}, nil
}

// Addr returns the host:port the source dials, accounting for SSL.
func (s *Source) Addr() string {
	port := s.cfg.Port
	if s.cfg.UseSSL {
		port = s.cfg.SSLPort
	}
	return fmt.Sprintf("%s:%d", s.cfg.Host, port)
}

func (s *Source) connect(ctx context.Context) (*imapclient.Client, error) {
	addr := s.Addr()

	var (
		c   *imapclient.Client
		err error
	)
	switch {
	case s.cfg.UseSSL:
		c, err = imapclient.DialTLS(addr, nil)
	case s.cfg.UseStartTLS:
		c, err = imapclient.DialStartTLS(addr, nil)
	default:
		c, err = imapclient.DialInsecure(addr, nil)
	}
	if err != nil {
		return nil, &NetworkError{Addr: addr, Err: err}
	}

	if err := s.authenticate(ctx, c); err != nil {
		c.Close()
		return nil, err
	}
	return c, nil
}

func (s *Source) authenticate(ctx context.Context, c *imapclient.Client) error {
	if s.cfg.OAuth.Enabled() {
		creds := clientcredentials.Config{
			ClientID:     s.cfg.OAuth.ClientID,
			ClientSecret: s.cfg.OAuth.ClientSecret,
			TokenURL:     s.cfg.OAuth.TokenURL,
			Scopes:       s.cfg.OAuth.Scopes,
		}
		tok, err := creds.Token(ctx)
		if err != nil {
			return &AuthError{Username: s.cfg.Username, Err: fmt.Errorf("fetch OAuth token: %w", err)}
		}
		saslClient := sasl.NewOAuthBearerClient(&sasl.OAuthBearerOptions{
			Username: s.cfg.Username,
			Token:    tok.AccessToken,
		})
		if err := c.Authenticate(saslClient); err != nil {
			return &AuthError{Username: s.cfg.Username, Err: err}
		}
		return nil
	}

	if err := c.Login(s.cfg.Username, s.cfg.Password).Wait(); err != nil {
		return &AuthError{Username: s.cfg.Username, Err: err}
	}
	return nil
}

// buildSearchCriteria compiles the account's filter rules into IMAP
// search criteria. afterUID > 0 restricts the search to UIDs above the
// saved cursor.
func buildSearchCriteria(cfg config.IMAPConfig, afterUID imap.UID, now time.Time) (*imap.SearchCriteria, error) {
	criteria := &imap.SearchCriteria{}

	for _, f := range cfg.Filters {
		f = strings.TrimSpace(f)
		switch {
		case f == "":
		case f == "unread":
			criteria.NotFlag = append(criteria.NotFlag, imap.FlagSeen)
		case strings.HasPrefix(f, "from:"):
			criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
				Key:   "From",
				Value: strings.TrimSpace(strings.TrimPrefix(f, "from:")),
			})
		case strings.HasPrefix(f, "subject:"):
			criteria.Header = append(criteria.Header, imap.SearchCriteriaHeaderField{
				Key:   "Subject",
				Value: strings.TrimSpace(strings.TrimPrefix(f, "subject:")),
			})
		case strings.HasPrefix(f, "since:"):
			t, err := time.Parse("2006-01-02", strings.TrimSpace(strings.TrimPrefix(f, "since:")))
			if err != nil {
				return nil, fmt.Errorf("imap filter %q: %w", f, err)
			}
			applySince(criteria, t)
		default:
			return nil, fmt.Errorf("imap filter %q: unknown rule (want unread, from:, subject:, since:)", f)
		}
	}

	if cfg.Since != "" {
		t, err := time.Parse("2006-01-02", cfg.Since)
		if err != nil {
			return nil, fmt.Errorf("imap since %q: %w", cfg.Since, err)
		}
		applySince(criteria, t)
	}
	if cfg.MaxAgeDays > 0 {
		applySince(criteria, now.AddDate(0, 0, -cfg.MaxAgeDays))
	}

	if afterUID > 0 {
		var uidSet imap.UIDSet
		uidSet.AddRange(afterUID+1, 0)
		criteria.UID = []imap.UIDSet{uidSet}
	}

	return criteria, nil
}

// applySince keeps the most restrictive (latest) lower bound.
func applySince(criteria *imap.SearchCriteria, t time.Time) {
	if criteria.Since.IsZero() || t.After(criteria.Since) {
		criteria.Since = t
	}
}

// Fetch connects, searches the configured folder, and streams the
// matching messages in UID order over the returned channel. The
// channel is unbuffered: each message is fetched only after the caller
// has consumed the previous one. The channel is closed when the
// mailbox is drained or the context is cancelled; a stream-level
// failure arrives as a final Item with Err set.
//
// Connection and search errors are returned synchronously, before any
// channel is handed out.
func (s *Source) Fetch(ctx context.Context, afterUID imap.UID) (<-chan Item, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return nil, err
	}

	if _, err := c.Select(s.cfg.Folder, nil).Wait(); err != nil {
		c.Close()
		return nil, fmt.Errorf("select %s: %w", s.cfg.Folder, err)
	}

	criteria, err := buildSearchCriteria(s.cfg, afterUID, time.Now())
	if err != nil {
		c.Close()
		return nil, err
	}

	searchData, err := c.UIDSearch(criteria, nil).Wait()
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("uid search: %w", err)
	}
	uids := searchData.AllUIDs()
	s.log.Info("mailbox searched", "folder", s.cfg.Folder, "matches", len(uids), "after_uid", uint32(afterUID))

	items := make(chan Item)
	go func() {
		defer close(items)
		defer func() {
			if err := c.Logout().Wait(); err != nil {
				c.Close()
			}
		}()

		var fetched imap.UIDSet
		for _, uid := range uids {
			raw, err := s.fetchOne(c, uid)
			if err != nil {
				select {
				case items <- Item{UID: uid, Err: err}:
				case <-ctx.Done():
				}
				return
			}
			select {
			case items <- Item{UID: uid, Raw: raw}:
				fetched.AddNum(uid)
			case <-ctx.Done():
				return
			}
		}

		if s.cfg.DeleteAfterFetch && len(fetched) > 0 {
			if err := s.deleteMessages(c, fetched); err != nil {
				s.log.Error("delete after fetch failed", "error", err)
			}
		}
	}()
	return items, nil
}

func (s *Source) fetchOne(c *imapclient.Client, uid imap.UID) ([]byte, error) {
	bodySection := &imap.FetchItemBodySection{Peek: true}
	fetchCmd := c.Fetch(imap.UIDSetNum(uid), &imap.FetchOptions{
		UID:         true,
		BodySection: []*imap.FetchItemBodySection{bodySection},
	})
	defer fetchCmd.Close()

	msg := fetchCmd.Next()
	if msg == nil {
		return nil, fmt.Errorf("uid %d: no fetch response", uid)
	}
	buf, err := msg.Collect()
	if err != nil {
		return nil, fmt.Errorf("uid %d: collect: %w", uid, err)
	}
	body := buf.FindBodySection(bodySection)
	if body == nil {
		return nil, fmt.Errorf("uid %d: body section missing from response", uid)
	}
	return body, nil
}

func (s *Source) deleteMessages(c *imapclient.Client, uids imap.UIDSet) error {
	storeCmd := c.Store(uids, &imap.StoreFlags{
		Op:     imap.StoreFlagsAdd,
		Flags:  []imap.Flag{imap.FlagDeleted},
		Silent: true,
	}, nil)
	if err := storeCmd.Close(); err != nil {
		return fmt.Errorf("store \\Deleted: %w", err)
	}
	if err := c.Expunge().Close(); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}
	s.log.Info("fetched messages expunged", "folder", s.cfg.Folder)
	return nil
}

// MailboxUIDNext reads the mailbox's UIDNEXT without fetching, used to
// initialise the UID cursor so a fresh deployment does not replay the
// whole mailbox.
func (s *Source) MailboxUIDNext(ctx context.Context) (imap.UID, error) {
	c, err := s.connect(ctx)
	if err != nil {
		return 0, err
	}
	defer c.Close()

	data, err := c.Status(s.cfg.Folder, &imap.StatusOptions{UIDNext: true}).Wait()
	if err != nil {
		return 0, fmt.Errorf("status %s: %w", s.cfg.Folder, err)
	}
	return data.UIDNext, nil
}
