// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"crypto/sha256"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/config"
	"golang.org/x/crypto/hkdf"
)

const (
	hashKeyLength  = 64
	blockKeyLength = 32
)

// deriveKeys derives the HMAC and AES keys of a securecookie codec from the
// configured encryption key.
func deriveKeys(secret, purpose string) (hashKey, blockKey []byte, err error) {
	const op = "session.deriveKeys"
	if len(secret) < config.MinEncryptionKeyLength {
		return nil, nil, fmt.Errorf("%s: encryption key must be at least %d characters: %w", op, config.MinEncryptionKeyLength, ErrInvalidParameter)
	}
	r := hkdf.New(sha256.New, []byte(secret), nil, []byte("oidcrp "+purpose))
	hashKey = make([]byte, hashKeyLength)
	blockKey = make([]byte, blockKeyLength)
	if _, err := io.ReadFull(r, hashKey); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	if _, err := io.ReadFull(r, blockKey); err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}
	return hashKey, blockKey, nil
}

// CookieStore keeps the whole session in an encrypted and authenticated
// cookie. A session value older than the session's ExpireAfter is
// discarded.
//
// Cookies are limited to 4096 bytes, sessions holding large tokens should use
// a server side store. A cookie session can't be revoked: a copy of an older
// cookie stays valid until it expires.
type CookieStore struct {
	store  *sessions.CookieStore
	name   string
	logger hclog.Logger
}

// NewCookieStore creates a CookieStore. opts.EncryptionKey is required.
//
// Supported options: WithLogger
func NewCookieStore(opts config.SessionOptions, opt ...Option) (*CookieStore, error) {
	const op = "session.NewCookieStore"
	if opts.CookieName == "" {
		return nil, fmt.Errorf("%s: cookie name is empty: %w", op, ErrInvalidParameter)
	}
	hashKey, blockKey, err := deriveKeys(opts.EncryptionKey, "session cookie")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	sopts := getStoreOpts(opt...)

	store := sessions.NewCookieStore(hashKey, blockKey)
	for _, c := range store.Codecs {
		if sc, ok := c.(*securecookie.SecureCookie); ok {
			sc.MaxAge(int(opts.ExpireAfter.Seconds()))
		}
	}
	store.Options = sessionsOptions(opts.Cookie)
	return &CookieStore{store: store, name: opts.CookieName, logger: sopts.withLogger}, nil
}

func sessionsOptions(c config.CookieOptions) *sessions.Options {
	o := &sessions.Options{
		Path:     c.Path,
		Domain:   c.Domain,
		MaxAge:   c.MaxAge,
		SameSite: c.SameSiteMode(),
	}
	if c.Secure != nil {
		o.Secure = *c.Secure
	}
	if c.HTTPOnly != nil {
		o.HttpOnly = *c.HTTPOnly
	}
	return o
}

// Load implements Store.
func (s *CookieStore) Load(r *http.Request) (Session, error) {
	const op = "CookieStore.Load"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	gs, err := s.store.New(r, s.name)
	if err != nil {
		// expired, tampered or encoded with another key
		s.logger.Debug("discarding unreadable session cookie", "error", err)
		gs.Values = map[interface{}]interface{}{}
	}
	cs := &cookieSession{raw: gs, values: make(map[string]entry, len(gs.Values))}
	for k, v := range gs.Values {
		key, ok := k.(string)
		if !ok {
			continue
		}
		b, ok := v.(string)
		if !ok {
			continue
		}
		e, err := decodeEntry([]byte(b))
		if err != nil {
			s.logger.Debug("discarding unreadable session value", "key", key, "error", err)
			continue
		}
		cs.values[key] = e
	}
	return cs, nil
}

// Save implements Store. Unchanged sessions aren't written and an emptied
// session removes the cookie.
func (s *CookieStore) Save(w http.ResponseWriter, r *http.Request, sess Session) error {
	const op = "CookieStore.Save"
	cs, ok := sess.(*cookieSession)
	if !ok {
		return fmt.Errorf("%s: session was not loaded by this store: %w", op, ErrInvalidParameter)
	}
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if !cs.dirty {
		return nil
	}
	gs := cs.raw
	opts := *s.store.Options
	gs.Options = &opts
	gs.Values = make(map[interface{}]interface{}, len(cs.values))
	if len(cs.values) == 0 {
		if gs.IsNew {
			return nil
		}
		gs.Options.MaxAge = -1
	}
	for k, e := range cs.values {
		b, err := e.encode()
		if err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		gs.Values[k] = string(b)
	}
	if err := s.store.Save(r, w, gs); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrSaveFailed, err)
	}
	cs.dirty = false
	return nil
}

// cookieSession holds the decoded values until the store writes them back.
type cookieSession struct {
	mu     sync.Mutex
	raw    *sessions.Session
	values map[string]entry
	dirty  bool
}

func (s *cookieSession) Get(_ context.Context, key string, v interface{}) (bool, error) {
	const op = "cookieSession.Get"
	if err := validKey(op, key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok {
		return false, nil
	}
	if e.Flash {
		delete(s.values, key)
		s.dirty = true
	}
	if err := e.decode(key, v); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *cookieSession) Set(_ context.Context, key string, v interface{}) error {
	const op = "cookieSession.Set"
	return s.put(op, key, v, false)
}

func (s *cookieSession) Flash(_ context.Context, key string, v interface{}) error {
	const op = "cookieSession.Flash"
	return s.put(op, key, v, true)
}

func (s *cookieSession) put(op, key string, v interface{}, flash bool) error {
	if err := validKey(op, key); err != nil {
		return err
	}
	e, err := newEntry(v, flash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = e
	s.dirty = true
	return nil
}

func (s *cookieSession) Take(_ context.Context, key string, v interface{}) (bool, error) {
	const op = "cookieSession.Take"
	if err := validKey(op, key); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.values[key]
	if !ok {
		return false, nil
	}
	delete(s.values, key)
	s.dirty = true
	if err := e.decode(key, v); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *cookieSession) Delete(_ context.Context, key string) error {
	const op = "cookieSession.Delete"
	if err := validKey(op, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.values[key]; ok {
		delete(s.values, key)
		s.dirty = true
	}
	return nil
}

// Regenerate empties the session. The cookie carries no id, a copy of the
// previous cookie stays readable until it expires.
func (s *cookieSession) Regenerate(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.values) > 0 {
		s.values = map[string]entry{}
		s.dirty = true
	}
	return nil
}
