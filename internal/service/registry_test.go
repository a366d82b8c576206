package service

import (
	"context"
	"errors"
	"sync"
	"testing"

	"warelay/internal/model"
	"warelay/internal/transport"
)

func TestConnectIsIdempotent(t *testing.T) {
	factory := &fakeFactory{}
	store := newMemStore()
	reg := NewRegistry(testDeps(factory, store))

	first, err := reg.Connect(context.Background(), "491711234567", model.SessionOptions{Name: "a"})
	if err != nil {
		t.Fatalf("first connect failed: %v", err)
	}
	second, err := reg.Connect(context.Background(), "+49 171 1234567", model.SessionOptions{Name: "b"})
	if err != nil {
		t.Fatalf("second connect failed: %v", err)
	}

	if first != second {
		t.Fatalf("same identity must map to the same session")
	}
	if factory.created() != 1 {
		t.Fatalf("expected a single transport, got %d", factory.created())
	}
	if got := second.Options().Name; got != "b" {
		t.Fatalf("second connect must update options, got name %q", got)
	}
	if got := factory.handle(0).lastPresence(); got != "available" {
		t.Fatalf("idempotent connect must probe with a presence update, got %q", got)
	}
}

func TestConnectConcurrentSameIdentity(t *testing.T) {
	factory := &fakeFactory{}
	store := newMemStore()
	reg := NewRegistry(testDeps(factory, store))

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = reg.Connect(context.Background(), "491711234567", model.SessionOptions{})
		}()
	}
	wg.Wait()

	if got := len(reg.Sessions()); got != 1 {
		t.Fatalf("expected exactly one live session, got %d", got)
	}
}

func TestConnectReplacesStaleEntry(t *testing.T) {
	factory := &fakeFactory{}
	store := newMemStore()
	reg := NewRegistry(testDeps(factory, store))

	first, err := reg.Connect(context.Background(), "491711234567", model.SessionOptions{})
	if err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	// Transport died without the close callback firing.
	factory.handle(0).presenceErr = transport.ErrNotConnected

	second, err := reg.Connect(context.Background(), "491711234567", model.SessionOptions{})
	if err != nil {
		t.Fatalf("reconnect over stale entry failed: %v", err)
	}
	if first == second {
		t.Fatalf("stale entry must be replaced by a fresh session")
	}
	if factory.created() != 2 {
		t.Fatalf("expected a second transport, got %d", factory.created())
	}
}

func TestLogoutUnknownIdentity(t *testing.T) {
	reg := NewRegistry(testDeps(&fakeFactory{}, newMemStore()))
	if err := reg.Logout(context.Background(), "491711234567"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestLogoutRemovesEntryEvenOnTransportFailure(t *testing.T) {
	wantErr := errors.New("logout rejected upstream")
	factory := &fakeFactory{configure: func(h *fakeHandle) {
		h.logoutErr = wantErr
	}}
	store := newMemStore()
	reg := NewRegistry(testDeps(factory, store))

	if _, err := reg.Connect(context.Background(), "491711234567", model.SessionOptions{}); err != nil {
		t.Fatalf("connect failed: %v", err)
	}

	err := reg.Logout(context.Background(), "491711234567")
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected transport logout error, got %v", err)
	}
	if got := len(reg.Sessions()); got != 0 {
		t.Fatalf("entry must leave the registry despite the failure, got %d sessions", got)
	}
}

func TestShutdownAllClearsRegistry(t *testing.T) {
	calls := 0
	factory := &fakeFactory{configure: func(h *fakeHandle) {
		// Every second session fails its logout.
		if calls%2 == 0 {
			h.logoutErr = errors.New("flaky upstream")
		}
		calls++
	}}
	store := newMemStore()
	reg := NewRegistry(testDeps(factory, store))

	for _, id := range []string{"491711111111", "491722222222", "491733333333", "491744444444"} {
		if _, err := reg.Connect(context.Background(), id, model.SessionOptions{}); err != nil {
			t.Fatalf("connect %s failed: %v", id, err)
		}
	}

	reg.ShutdownAll(context.Background())

	if got := len(reg.Sessions()); got != 0 {
		t.Fatalf("registry must be empty after shutdown, got %d sessions", got)
	}
}

func TestRestoreAll(t *testing.T) {
	factory := &fakeFactory{}
	store := newMemStore()
	store.saved = []model.SavedSession{
		{Identity: "491711111111", Options: model.SessionOptions{Name: "one"}},
		{Identity: "491722222222", Options: model.SessionOptions{Name: "two"}},
	}
	reg := NewRegistry(testDeps(factory, store))

	if err := reg.RestoreAll(context.Background()); err != nil {
		t.Fatalf("restore failed: %v", err)
	}

	if got := len(reg.Sessions()); got != 2 {
		t.Fatalf("expected 2 restored sessions, got %d", got)
	}
	if store.optionCount() != 0 {
		t.Fatalf("restore must not rewrite saved options")
	}
	sess, err := reg.Get("491711111111")
	if err != nil {
		t.Fatalf("restored session not found: %v", err)
	}
	if sess.Options().Name != "one" {
		t.Fatalf("restored session lost its options, got %q", sess.Options().Name)
	}
}

func TestRestoreSkipsFailures(t *testing.T) {
	factory := &fakeFactory{createErr: errors.New("store locked")}
	store := newMemStore()
	store.saved = []model.SavedSession{
		{Identity: "491711111111"},
	}
	reg := NewRegistry(testDeps(factory, store))

	if err := reg.RestoreAll(context.Background()); err != nil {
		t.Fatalf("restore must not fail on individual sessions: %v", err)
	}
	if got := len(reg.Sessions()); got != 0 {
		t.Fatalf("failed restore must not leave entries, got %d", got)
	}
}
