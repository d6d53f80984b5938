// Copyright (c) HashiCorp, Inc.
// SPDX-License-Identifier: MPL-2.0

package session

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/hashicorp/go-hclog"
	"github.com/hashicorp/oidcrp/config"
)

// Session is the state kept for a browser between requests. Values are JSON
// encoded.
//
// A flashed value is read once: Get and Take both consume it. Take removes
// any value atomically, so of several concurrent callers only one receives
// it.
type Session interface {
	// Get decodes the value of key into v and reports whether it was found.
	Get(ctx context.Context, key string, v interface{}) (bool, error)
	// Set stores v under key.
	Set(ctx context.Context, key string, v interface{}) error
	// Flash stores v under key until it's read.
	Flash(ctx context.Context, key string, v interface{}) error
	// Take decodes the value of key into v and removes it.
	Take(ctx context.Context, key string, v interface{}) (bool, error)
	// Delete removes key.
	Delete(ctx context.Context, key string) error
	// Regenerate moves the session to a new id, call it when the user's
	// privileges change. Values stored under the old id become unreachable.
	Regenerate(ctx context.Context) error
}

// Store loads and saves the Session of a request.
type Store interface {
	// Load returns the request's session. An unreadable or expired session
	// is replaced by a new, empty one.
	Load(r *http.Request) (Session, error)
	// Save writes the session's changes to the response, it must be called
	// before the response headers are written.
	Save(w http.ResponseWriter, r *http.Request, s Session) error
}

// NewStore creates the store named by opts.Store. opts must be validated
// session options, see config.New.
//
// Supported options: WithLogger, WithKeyPrefix, WithMemorySize, WithNow,
// WithBackend
func NewStore(ctx context.Context, opts config.SessionOptions, opt ...Option) (Store, error) {
	const op = "session.NewStore"
	switch opts.Store {
	case config.CookieSessionStore, "":
		s, err := NewCookieStore(opts, opt...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, nil
	case config.MemorySessionStore, config.RedisSessionStore:
		sopts := getStoreOpts(opt...)
		if sopts.withBackend == nil {
			if opts.Store == config.MemorySessionStore {
				b, err := NewMemoryBackend(sopts.withMemorySize, opt...)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				opt = append(opt, WithBackend(b))
			} else {
				b, err := NewRedisBackend(ctx, opts.RedisURL)
				if err != nil {
					return nil, fmt.Errorf("%s: %w", op, err)
				}
				opt = append(opt, WithBackend(b))
			}
		}
		s, err := NewServerStore(opts, opt...)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%s: unknown session store %q: %w", op, opts.Store, ErrInvalidParameter)
	}
}

type ctxKey struct{}

// NewContext returns a copy of ctx carrying s.
func NewContext(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the Session installed by Middleware.
func FromContext(ctx context.Context) (Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(Session)
	return s, ok && s != nil
}

// Middleware loads the session of every request into the request context
// and saves it right before the response headers are written, or once the
// handler returns when it wrote nothing. When saving fails the handler's
// response is replaced by a 500.
//
// Supported options: WithLogger
func Middleware(store Store, opt ...Option) func(http.Handler) http.Handler {
	opts := getMiddlewareOpts(opt...)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s, err := store.Load(r)
			if err != nil {
				opts.withLogger.Error("unable to load session", "error", err)
				http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				return
			}
			sv := &saver{}
			r = r.WithContext(context.WithValue(NewContext(r.Context(), s), saverKey{}, sv))
			sv.save = func() error { return store.Save(w, r, s) }
			sw := &saveWriter{ResponseWriter: w, saver: sv, logger: opts.withLogger}
			next.ServeHTTP(sw, r)
			if !sw.wroteHeader {
				sw.WriteHeader(http.StatusOK)
			}
		})
	}
}

type saverKey struct{}

type saver struct {
	mu   sync.Mutex
	save func() error
}

func (s *saver) do() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.save()
}

// Save saves the request's session now instead of waiting for the response
// headers, so that a handler can report a failure itself. It must be called
// before the headers are written. A session installed with NewContext alone
// has no store and Save does nothing.
func Save(ctx context.Context) error {
	sv, ok := ctx.Value(saverKey{}).(*saver)
	if !ok {
		return nil
	}
	return sv.do()
}

// saveWriter saves the session before the first header write.
type saveWriter struct {
	http.ResponseWriter
	saver       *saver
	logger      hclog.Logger
	wroteHeader bool
	failed      bool
}

func (w *saveWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true
	if err := w.saver.do(); err != nil {
		w.logger.Error("unable to save session", "error", err)
		w.failed = true
		h := w.Header()
		h.Del("Location")
		h.Del("Content-Length")
		h.Set("Content-Type", "text/plain; charset=utf-8")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Cache-Control", "no-store")
		w.ResponseWriter.WriteHeader(http.StatusInternalServerError)
		_, _ = w.ResponseWriter.Write([]byte(http.StatusText(http.StatusInternalServerError) + "\n"))
		return
	}
	w.ResponseWriter.WriteHeader(status)
}

func (w *saveWriter) Write(b []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	if w.failed {
		return len(b), nil
	}
	return w.ResponseWriter.Write(b)
}

// Unwrap supports http.ResponseController.
func (w *saveWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// entry is the stored form of a value.
type entry struct {
	Value json.RawMessage `json:"v"`
	Flash bool            `json:"f,omitempty"`
}

func newEntry(v interface{}, flash bool) (entry, error) {
	const op = "session.newEntry"
	raw, err := json.Marshal(v)
	if err != nil {
		return entry{}, fmt.Errorf("%s: %w: %w", op, ErrCodecFailed, err)
	}
	return entry{Value: raw, Flash: flash}, nil
}

func (e entry) encode() ([]byte, error) {
	const op = "session.(entry).encode"
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: %w", op, ErrCodecFailed, err)
	}
	return b, nil
}

func decodeEntry(b []byte) (entry, error) {
	const op = "session.decodeEntry"
	var e entry
	if err := json.Unmarshal(b, &e); err != nil {
		return entry{}, fmt.Errorf("%s: %w: %w", op, ErrCodecFailed, err)
	}
	return e, nil
}

func (e entry) decode(key string, v interface{}) error {
	const op = "session.(entry).decode"
	if v == nil {
		return nil
	}
	if err := json.Unmarshal(e.Value, v); err != nil {
		return fmt.Errorf("%s: key %q: %w: %w", op, key, ErrCodecFailed, err)
	}
	return nil
}

func validKey(op, key string) error {
	if key == "" {
		return fmt.Errorf("%s: key is empty: %w", op, ErrInvalidParameter)
	}
	return nil
}
