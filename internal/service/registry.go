package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"warelay/internal/helper"
	"warelay/internal/model"
	"warelay/internal/transport"
)

// Registry is the process-wide directory of live sessions: one entry per
// identity, mutated only by connect, logout and the session close callback.
type Registry struct {
	deps Deps
	log  zerolog.Logger

	// RestoreStagger spaces out transport creation during startup restore
	// so a large saved-session set does not stampede the network.
	RestoreStagger time.Duration

	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry(deps Deps) *Registry {
	return &Registry{
		deps:     deps,
		log:      deps.Log.With().Str("component", "registry").Logger(),
		sessions: make(map[string]*Session),
	}
}

// RestoreAll reconnects every identity with saved credentials. Individual
// failures are logged and skipped; a cold start with nothing saved is a
// no-op.
func (r *Registry) RestoreAll(ctx context.Context) error {
	saved, err := r.deps.Creds.ListSaved(ctx)
	if err != nil {
		return err
	}
	r.log.Info().Int("count", len(saved)).Msg("restoring saved sessions")

	for i, sv := range saved {
		if i > 0 && r.RestoreStagger > 0 {
			time.Sleep(r.RestoreStagger)
		}
		if _, err := r.create(ctx, sv.Identity, sv.Options, true); err != nil {
			r.log.Error().Err(err).Str("identity", sv.Identity).Msg("failed to restore session")
		}
	}
	return nil
}

// Connect is idempotent: a live identity gets its options updated plus a
// presence probe; a stale entry (transport died without the close callback
// firing) is discarded and replaced; anything else creates a fresh session.
func (r *Registry) Connect(ctx context.Context, identity string, opts model.SessionOptions) (*Session, error) {
	id := helper.NormalizeIdentity(identity)

	r.mu.RLock()
	existing := r.sessions[id]
	r.mu.RUnlock()

	if existing != nil {
		if err := existing.UpdateOptions(ctx, opts); err != nil {
			return nil, err
		}
		err := existing.SendPresenceUpdate(ctx, "available", "")
		if err == nil {
			return existing, nil
		}
		if !errors.Is(err, ErrNotConnected) && !errors.Is(err, transport.ErrNotConnected) {
			return nil, err
		}
		// Stale registry entry: drop it and fall through to a fresh session.
		r.log.Warn().Str("identity", id).Msg("discarding stale session entry")
		r.mu.Lock()
		if r.sessions[id] == existing {
			delete(r.sessions, id)
		}
		r.mu.Unlock()
	}

	return r.create(ctx, id, opts, false)
}

func (r *Registry) create(ctx context.Context, identity string, opts model.SessionOptions, isReconnect bool) (*Session, error) {
	sess := newSession(identity, opts, isReconnect, r.deps, r.remove)

	r.mu.Lock()
	if current, ok := r.sessions[identity]; ok {
		// Lost a connect race; the earlier session wins.
		r.mu.Unlock()
		return current, nil
	}
	r.sessions[identity] = sess
	r.mu.Unlock()

	if !isReconnect {
		if err := r.deps.Creds.SaveOptions(ctx, identity, opts); err != nil {
			r.log.Warn().Err(err).Str("identity", identity).Msg("failed to persist session options")
		}
	}

	if err := sess.start(ctx); err != nil {
		// start already reported the session closed, which removed the entry.
		return nil, err
	}
	return sess, nil
}

func (r *Registry) remove(s *Session) {
	r.mu.Lock()
	if r.sessions[s.identity] == s {
		delete(r.sessions, s.identity)
	}
	r.mu.Unlock()
}

// Get looks up the live session for an identity.
func (r *Registry) Get(identity string) (*Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[helper.NormalizeIdentity(identity)]
	if !ok {
		return nil, ErrNotConnected
	}
	return sess, nil
}

// Sessions returns a snapshot of the live sessions.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	return out
}

// Logout closes the identity's session. The entry leaves the registry even
// when the transport-side logout fails; that failure is still reported to
// the caller.
func (r *Registry) Logout(ctx context.Context, identity string) error {
	sess, err := r.Get(identity)
	if err != nil {
		return err
	}
	return sess.Logout(ctx)
}

// ShutdownAll logs out every session concurrently, waits for all attempts
// to settle and clears the registry regardless of individual failures.
func (r *Registry) ShutdownAll(ctx context.Context) {
	sessions := r.Sessions()

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			if err := s.Logout(ctx); err != nil {
				r.log.Warn().Err(err).Str("identity", s.Identity()).Msg("logout during shutdown failed")
			}
		}(sess)
	}
	wg.Wait()

	r.mu.Lock()
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()
}
