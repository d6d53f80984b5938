// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/config"
	"github.com/hashicorp/oidcrp/sdk/id"
)

// sessionIDLength is the number of base62 characters of a session id.
const sessionIDLength = 32

// Backend is the key value storage of a ServerStore. Get, Take and Delete
// of a missing or expired key return ErrNotFound (Delete may also return
// nil). Take must be atomic.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Take(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// ServerStore keeps session values in a Backend. The browser only holds an
// encrypted cookie with the random session id. Every value expires
// ExpireAfter after it was last written.
type ServerStore struct {
	backend Backend
	codec   *securecookie.SecureCookie
	name    string
	cookie  config.CookieOptions
	ttl     time.Duration
	prefix  string
	logger  hclog.Logger
}

// NewServerStore creates a ServerStore. A backend must be provided with
// WithBackend.
//
// Supported options: WithBackend, WithKeyPrefix, WithLogger
func NewServerStore(opts config.SessionOptions, opt ...Option) (*ServerStore, error) {
	const op = "session.NewServerStore"
	sopts := getStoreOpts(opt...)
	switch {
	case sopts.withBackend == nil:
		return nil, fmt.Errorf("%s: backend is nil: %w", op, ErrNilParameter)
	case opts.CookieName == "":
		return nil, fmt.Errorf("%s: cookie name is empty: %w", op, ErrInvalidParameter)
	case opts.ExpireAfter <= 0:
		return nil, fmt.Errorf("%s: expire after must be positive: %w", op, ErrInvalidParameter)
	}
	hashKey, blockKey, err := deriveKeys(opts.EncryptionKey, "session id")
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	codec := securecookie.New(hashKey, blockKey).MaxAge(int(opts.ExpireAfter.Seconds()))
	return &ServerStore{
		backend: sopts.withBackend,
		codec:   codec,
		name:    opts.CookieName,
		cookie:  opts.Cookie,
		ttl:     opts.ExpireAfter,
		prefix:  sopts.withKeyPrefix,
		logger:  sopts.withLogger,
	}, nil
}

// Load implements Store.
func (s *ServerStore) Load(r *http.Request) (Session, error) {
	const op = "ServerStore.Load"
	if r == nil {
		return nil, fmt.Errorf("%s: request is nil: %w", op, ErrNilParameter)
	}
	ss := &serverSession{store: s}
	c, err := r.Cookie(s.name)
	if err != nil {
		return ss, nil
	}
	var sid string
	if err := s.codec.Decode(s.name, c.Value, &sid); err != nil {
		s.logger.Debug("discarding unreadable session id cookie", "error", err)
		return ss, nil
	}
	ss.sid = sid
	return ss, nil
}

// Save implements Store. The session id cookie is written whenever the
// session was modified, renewing its expiry.
func (s *ServerStore) Save(w http.ResponseWriter, _ *http.Request, sess Session) error {
	const op = "ServerStore.Save"
	ss, ok := sess.(*serverSession)
	if !ok || ss.store != s {
		return fmt.Errorf("%s: session was not loaded by this store: %w", op, ErrInvalidParameter)
	}
	ss.mu.Lock()
	defer ss.mu.Unlock()
	if !ss.modified || ss.sid == "" {
		return nil
	}
	encoded, err := s.codec.Encode(s.name, ss.sid)
	if err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrSaveFailed, err)
	}
	http.SetCookie(w, s.cookie.Cookie(s.name, encoded))
	ss.modified = false
	return nil
}

func (s *ServerStore) key(sid, key string) string {
	return s.prefix + sid + ":" + key
}

// serverSession forwards every operation to the backend. keys are the keys
// used during this request.
type serverSession struct {
	store    *ServerStore
	mu       sync.Mutex
	sid      string
	modified bool
	keys     map[string]struct{}
}

func (s *serverSession) use(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys == nil {
		s.keys = map[string]struct{}{}
	}
	s.keys[key] = struct{}{}
}

func (s *serverSession) id(create bool) (string, error) {
	const op = "serverSession.id"
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sid == "" && create {
		sid, err := id.NewWithLength("", sessionIDLength)
		if err != nil {
			return "", fmt.Errorf("%s: %w", op, err)
		}
		s.sid = sid
	}
	if create {
		s.modified = true
	}
	return s.sid, nil
}

func (s *serverSession) Get(ctx context.Context, key string, v interface{}) (bool, error) {
	const op = "serverSession.Get"
	if err := validKey(op, key); err != nil {
		return false, err
	}
	s.use(key)
	sid, _ := s.id(false)
	if sid == "" {
		return false, nil
	}
	b, err := s.store.backend.Get(ctx, s.store.key(sid, key))
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%s: %w: %w", op, ErrBackendFailed, err)
	}
	e, err := decodeEntry(b)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if e.Flash {
		return s.Take(ctx, key, v)
	}
	if err := e.decode(key, v); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *serverSession) Set(ctx context.Context, key string, v interface{}) error {
	const op = "serverSession.Set"
	return s.put(ctx, op, key, v, false)
}

func (s *serverSession) Flash(ctx context.Context, key string, v interface{}) error {
	const op = "serverSession.Flash"
	return s.put(ctx, op, key, v, true)
}

func (s *serverSession) put(ctx context.Context, op, key string, v interface{}, flash bool) error {
	if err := validKey(op, key); err != nil {
		return err
	}
	s.use(key)
	e, err := newEntry(v, flash)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	b, err := e.encode()
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	sid, err := s.id(true)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if err := s.store.backend.Set(ctx, s.store.key(sid, key), b, s.store.ttl); err != nil {
		return fmt.Errorf("%s: %w: %w", op, ErrBackendFailed, err)
	}
	return nil
}

func (s *serverSession) Take(ctx context.Context, key string, v interface{}) (bool, error) {
	const op = "serverSession.Take"
	if err := validKey(op, key); err != nil {
		return false, err
	}
	s.use(key)
	sid, _ := s.id(false)
	if sid == "" {
		return false, nil
	}
	b, err := s.store.backend.Take(ctx, s.store.key(sid, key))
	switch {
	case errors.Is(err, ErrNotFound):
		return false, nil
	case err != nil:
		return false, fmt.Errorf("%s: %w: %w", op, ErrBackendFailed, err)
	}
	e, err := decodeEntry(b)
	if err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	if err := e.decode(key, v); err != nil {
		return false, fmt.Errorf("%s: %w", op, err)
	}
	return true, nil
}

func (s *serverSession) Delete(ctx context.Context, key string) error {
	const op = "serverSession.Delete"
	if err := validKey(op, key); err != nil {
		return err
	}
	s.use(key)
	sid, _ := s.id(false)
	if sid == "" {
		return nil
	}
	err := s.store.backend.Delete(ctx, s.store.key(sid, key))
	if err != nil && !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%s: %w: %w", op, ErrBackendFailed, err)
	}
	return nil
}

// Regenerate replaces the session id. The values this request used are
// deleted from the backend, any others expire with their ttl. A session
// without an id gets one on its next write.
func (s *serverSession) Regenerate(ctx context.Context) error {
	const op = "serverSession.Regenerate"
	sid, err := id.NewWithLength("", sessionIDLength)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	s.mu.Lock()
	old, keys := s.sid, s.keys
	if old == "" {
		s.mu.Unlock()
		return nil
	}
	s.sid, s.keys, s.modified = sid, nil, true
	s.mu.Unlock()
	for key := range keys {
		err := s.store.backend.Delete(ctx, s.store.key(old, key))
		if err != nil && !errors.Is(err, ErrNotFound) {
			return fmt.Errorf("%s: %w: %w", op, ErrBackendFailed, err)
		}
	}
	return nil
}
