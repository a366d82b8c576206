package service

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"warelay/internal/model"
	"warelay/internal/transport"
	"warelay/internal/ws"
)

// fakeHandle is an in-memory transport.Handle driven by the tests: fire()
// pushes events into the subscribed session as the wire would.
type fakeHandle struct {
	mu sync.Mutex

	emit func(transport.Event)

	authID      string
	connected   bool
	connectErr  error
	logoutErr   error
	sendErr     error
	presenceErr error

	sent        []model.OutgoingMessage
	presences   []string
	logoutCalls int
	groupNames  map[string]string
	mediaData   []byte
}

func (h *fakeHandle) Subscribe(fn func(transport.Event)) { h.emit = fn }

func (h *fakeHandle) Connect(ctx context.Context) error {
	if h.connectErr != nil {
		return h.connectErr
	}
	h.mu.Lock()
	h.connected = true
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) Disconnect() {
	h.mu.Lock()
	h.connected = false
	h.mu.Unlock()
}

func (h *fakeHandle) Logout(ctx context.Context) error {
	h.mu.Lock()
	h.logoutCalls++
	h.mu.Unlock()
	return h.logoutErr
}

func (h *fakeHandle) AuthenticatedID() string { return h.authID }
func (h *fakeHandle) IsAuthenticated() bool   { return h.authID != "" }

func (h *fakeHandle) IsConnected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.connected
}

func (h *fakeHandle) SendMessage(ctx context.Context, to string, msg model.OutgoingMessage) (model.SendResult, error) {
	if h.sendErr != nil {
		return model.SendResult{}, h.sendErr
	}
	h.mu.Lock()
	h.sent = append(h.sent, msg)
	h.mu.Unlock()
	return model.SendResult{MessageID: "MSG1", Timestamp: time.Now()}, nil
}

func (h *fakeHandle) SendPresence(ctx context.Context, presence, to string) error {
	if h.presenceErr != nil {
		return h.presenceErr
	}
	h.mu.Lock()
	h.presences = append(h.presences, presence)
	h.mu.Unlock()
	return nil
}

func (h *fakeHandle) ReadMessages(ctx context.Context, keys []model.MessageKey) error { return nil }

func (h *fakeHandle) ChatModify(ctx context.Context, mod model.ChatModification, to string) error {
	return nil
}

func (h *fakeHandle) FetchMessageHistory(ctx context.Context, count int, oldestKey model.MessageKey, oldestTimestamp time.Time) error {
	return nil
}

func (h *fakeHandle) SendReceipts(ctx context.Context, keys []model.MessageKey, receiptType string) error {
	return nil
}

func (h *fakeHandle) ProfilePictureURL(ctx context.Context, target, quality string) (string, error) {
	return "https://example.invalid/pp.jpg", nil
}

func (h *fakeHandle) Lookup(ctx context.Context, targets []string) ([]model.LookupResult, error) {
	out := make([]model.LookupResult, 0, len(targets))
	for _, t := range targets {
		out = append(out, model.LookupResult{Query: t, Registered: true})
	}
	return out, nil
}

func (h *fakeHandle) GroupName(ctx context.Context, groupJID string) (string, error) {
	if name, ok := h.groupNames[groupJID]; ok {
		return name, nil
	}
	return "", transport.ErrNotConnected
}

func (h *fakeHandle) DownloadMedia(ctx context.Context, msg *transport.InboundMessage) ([]byte, error) {
	return h.mediaData, nil
}

// fire delivers an event to the subscribed session.
func (h *fakeHandle) fire(ev transport.Event) {
	if h.emit != nil {
		h.emit(ev)
	}
}

func (h *fakeHandle) sentCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sent)
}

func (h *fakeHandle) lastPresence() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.presences) == 0 {
		return ""
	}
	return h.presences[len(h.presences)-1]
}

// fakeFactory hands out pre-configured fakeHandles; configure() shapes each
// new handle before the session sees it.
type fakeFactory struct {
	mu        sync.Mutex
	createErr error
	configure func(*fakeHandle)
	handles   []*fakeHandle
}

func (f *fakeFactory) Create(ctx context.Context, identity string) (transport.Handle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return nil, f.createErr
	}
	h := &fakeHandle{authID: identity}
	if f.configure != nil {
		f.configure(h)
	}
	f.handles = append(f.handles, h)
	return h, nil
}

func (f *fakeFactory) created() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handles)
}

func (f *fakeFactory) handle(i int) *fakeHandle {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.handles[i]
}

// memStore is an in-memory credstore.Store.
type memStore struct {
	mu      sync.Mutex
	options map[string]model.SessionOptions
	saved   []model.SavedSession
	cleared []string
}

func newMemStore() *memStore {
	return &memStore{options: make(map[string]model.SessionOptions)}
}

func (s *memStore) SaveOptions(ctx context.Context, identity string, opts model.SessionOptions) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.options[identity] = opts
	return nil
}

func (s *memStore) SaveCredentials(ctx context.Context, identity string, creds map[string]interface{}) error {
	return nil
}

func (s *memStore) Clear(ctx context.Context, identity string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cleared = append(s.cleared, identity)
	return nil
}

func (s *memStore) ListSaved(ctx context.Context) ([]model.SavedSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saved, nil
}

func (s *memStore) clearedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cleared)
}

func (s *memStore) optionCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.options)
}

// fakePublisher records realtime events.
type fakePublisher struct {
	mu     sync.Mutex
	events []ws.WsEvent
}

func (p *fakePublisher) Publish(ev ws.WsEvent) {
	p.mu.Lock()
	p.events = append(p.events, ev)
	p.mu.Unlock()
}

func (p *fakePublisher) byName(name string) []ws.WsEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []ws.WsEvent
	for _, ev := range p.events {
		if ev.Event == name {
			out = append(out, ev)
		}
	}
	return out
}

func testDeps(factory *fakeFactory, store *memStore) Deps {
	return Deps{
		Factory:    factory,
		Creds:      store,
		Dispatcher: NewDispatcher(RetryPolicy{MaxRetries: 0, InitialInterval: time.Millisecond, BackoffFactor: 1}, zerolog.Nop()),
		Log:        zerolog.Nop(),
	}
}
