package service

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"warelay/internal/credstore"
	"warelay/internal/helper"
	"warelay/internal/media"
	"warelay/internal/model"
	"warelay/internal/transport"
	"warelay/internal/ws"
)

// State is the session lifecycle state.
type State int

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// reconnectCeiling bounds reconnect storms: more consecutive reconnect
// signals than this without reaching OPEN force the session closed.
const reconnectCeiling = 10

const defaultPresenceResetDelay = 60 * time.Second

// Deps bundles the collaborators shared by the registry and its sessions.
type Deps struct {
	Factory    transport.Factory
	Creds      credstore.Store
	Dispatcher *Dispatcher
	Audio      media.AudioConverter
	Realtime   ws.RealtimePublisher

	// Passthrough is the allow-list of event names forwarded verbatim
	// beyond the six well-known ones. Nil forwards everything the transport
	// emits.
	Passthrough []string

	// PresenceResetDelay overrides the 60s auto-revert to "unavailable".
	PresenceResetDelay time.Duration

	Log zerolog.Logger
}

func (d Deps) presenceResetDelay() time.Duration {
	if d.PresenceResetDelay > 0 {
		return d.PresenceResetDelay
	}
	return defaultPresenceResetDelay
}

// Session owns one transport handle for one identity and drives the
// connect / reconnect / close state machine. A session that reaches CLOSED
// is dead; a later connect creates a fresh instance.
type Session struct {
	identity string
	deps     Deps
	log      zerolog.Logger
	onClose  func(*Session)

	mu             sync.Mutex
	opts           model.SessionOptions
	state          State
	handle         transport.Handle
	reconnectCount int
	isReconnect    bool
	presenceTimer  *time.Timer
	closed         bool
}

func newSession(identity string, opts model.SessionOptions, isReconnect bool, deps Deps, onClose func(*Session)) *Session {
	return &Session{
		identity:    identity,
		opts:        opts,
		isReconnect: isReconnect,
		deps:        deps,
		onClose:     onClose,
		log:         deps.Log.With().Str("component", "session").Str("identity", identity).Logger(),
		state:       StateConnecting,
	}
}

// start creates the transport handle and initiates the connection. A
// creation or connect failure reports the session closed immediately; saved
// credentials are left untouched.
func (s *Session) start(ctx context.Context) error {
	handle, err := s.deps.Factory.Create(ctx, s.identity)
	if err != nil {
		s.reportClosed()
		return fmt.Errorf("failed to create transport for %s: %w", s.identity, err)
	}

	s.mu.Lock()
	s.handle = handle
	s.state = StateConnecting
	s.mu.Unlock()

	handle.Subscribe(s.handleEvent)
	if err := handle.Connect(ctx); err != nil {
		s.reportClosed()
		return err
	}
	return nil
}

func (s *Session) Identity() string { return s.identity }

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Options() model.SessionOptions {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.opts
}

// UpdateOptions replaces the session options and persists them so a restart
// restores the same configuration.
func (s *Session) UpdateOptions(ctx context.Context, opts model.SessionOptions) error {
	s.mu.Lock()
	s.opts = opts
	s.mu.Unlock()
	if err := s.deps.Creds.SaveOptions(ctx, s.identity, opts); err != nil {
		return fmt.Errorf("failed to persist session options: %w", err)
	}
	return nil
}

func (s *Session) currentHandle() (transport.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.handle == nil {
		return nil, ErrNotConnected
	}
	return s.handle, nil
}

// handleEvent is the single entry point for inbound transport events. A
// panic inside one handler must not take the session down or starve the
// other event types.
func (s *Session) handleEvent(ev transport.Event) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Str("event", ev.Name).Msg("event handler panicked")
		}
	}()

	switch ev.Name {
	case transport.EventConnection:
		if ev.Connection != nil {
			s.handleConnectionUpdate(ev.Connection)
		}
	case transport.EventCreds:
		creds, _ := ev.Payload.(map[string]interface{})
		if err := s.deps.Creds.SaveCredentials(context.Background(), s.identity, creds); err != nil {
			s.log.Error().Err(err).Msg("failed to persist credential update")
		}
	case transport.EventMessages:
		s.handleMessages(ev)
	case transport.EventMessageState:
		s.forward(ev.Name, ev.Payload, nil, true)
	case transport.EventReceipt:
		s.forward(ev.Name, ev.Payload, nil, false)
	case transport.EventHistorySync:
		if s.Options().FullHistorySync {
			s.forward(ev.Name, ev.Payload, nil, false)
		}
	default:
		if s.passthroughAllowed(ev.Name) {
			s.forward(ev.Name, ev.Payload, nil, false)
		}
	}
}

func (s *Session) passthroughAllowed(name string) bool {
	if s.deps.Passthrough == nil {
		return true
	}
	for _, allowed := range s.deps.Passthrough {
		if allowed == name {
			return true
		}
	}
	return false
}

func (s *Session) handleConnectionUpdate(u *transport.ConnectionUpdate) {
	s.mu.Lock()
	reconnectPending := s.isReconnect
	s.mu.Unlock()

	switch {
	case u.IsNewLogin,
		u.Connection == transport.ConnConnecting && u.QRPresent && u.QR == "",
		u.Connection == transport.ConnConnecting && reconnectPending:
		s.enterReconnecting()

	case u.Connection == transport.ConnClose:
		if u.Reason.Recoverable() {
			s.log.Warn().Stringer("reason", u.Reason).Msg("connection closed, reconnecting")
			s.restartTransport()
		} else {
			s.log.Warn().Stringer("reason", u.Reason).Msg("terminal disconnect, closing session")
			s.forward(transport.EventConnection, map[string]interface{}{
				"connection": "close",
				"reason":     u.Reason.String(),
			}, nil, false)
			s.close(true)
		}

	case u.Connection == transport.ConnOpen:
		s.enterOpen()

	default:
		s.forwardShapedUpdate(u)
	}
}

// enterReconnecting increments the reconnect counter, closing the session
// when the ceiling is breached instead of retrying forever.
func (s *Session) enterReconnecting() {
	s.mu.Lock()
	s.isReconnect = false
	s.reconnectCount++
	count := s.reconnectCount
	if count <= reconnectCeiling {
		s.state = StateReconnecting
	}
	s.mu.Unlock()

	if count > reconnectCeiling {
		s.log.Error().Int("reconnect_count", count).Msg("reconnect ceiling exceeded, forcing logout")
		s.publishError("reconnect ceiling exceeded")
		s.close(true)
		return
	}

	s.log.Info().Int("reconnect_count", count).Msg("reconnecting")
	s.publishStatus("reconnecting")
	s.forward(transport.EventConnection, map[string]interface{}{"connection": "reconnecting"}, nil, false)
}

// restartTransport handles a recoverable close: the credentials stay, the
// handle is replaced, the session stays registered throughout.
func (s *Session) restartTransport() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	old := s.handle
	s.handle = nil
	s.state = StateConnecting
	s.mu.Unlock()

	if old != nil {
		old.Disconnect()
	}

	ctx := context.Background()
	handle, err := s.deps.Factory.Create(ctx, s.identity)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to recreate transport")
		s.publishError("failed to recreate transport: " + err.Error())
		s.reportClosed()
		return
	}

	s.mu.Lock()
	s.handle = handle
	s.mu.Unlock()

	handle.Subscribe(s.handleEvent)
	if err := handle.Connect(ctx); err != nil {
		s.log.Error().Err(err).Msg("failed to reconnect transport")
		s.reportClosed()
	}
}

// enterOpen moves to OPEN after verifying the transport authenticated under
// the expected identity. A mismatch (someone paired a different number)
// forces a logout and is not surfaced to the original caller.
func (s *Session) enterOpen() {
	s.mu.Lock()
	handle := s.handle
	s.mu.Unlock()

	if handle != nil {
		if got := handle.AuthenticatedID(); got != "" && !helper.SameIdentity(got, s.identity) {
			s.log.Error().
				Str("expected", s.identity).
				Str("got", got).
				Msg("transport authenticated under unexpected identity, forcing logout")
			s.publishError("transport authenticated under unexpected identity")
			s.close(true)
			return
		}
	}

	s.mu.Lock()
	s.state = StateOpen
	s.reconnectCount = 0
	s.mu.Unlock()

	s.log.Info().Msg("connection open")
	s.publishStatus("open")
	s.forward(transport.EventConnection, map[string]interface{}{"connection": "open"}, nil, false)
}

// forwardShapedUpdate applies the payload-shaping rules for updates that do
// not change session state: a QR challenge is rendered to a displayable
// image and presented as "connecting"; a liveness ping is presented as
// "open".
func (s *Session) forwardShapedUpdate(u *transport.ConnectionUpdate) {
	switch {
	case u.QRPresent && u.QR != "":
		data := map[string]interface{}{"connection": "connecting"}
		if uri, err := media.QRDataURI(u.QR); err == nil {
			data["qr"] = uri
		} else {
			s.log.Warn().Err(err).Msg("failed to render qr code, forwarding raw challenge")
			data["qr"] = u.QR
		}
		s.forward(transport.EventConnection, data, nil, false)

	case u.IsOnline:
		s.forward(transport.EventConnection, map[string]interface{}{
			"connection": "open",
			"isOnline":   true,
		}, nil, false)

	default:
		s.forward(transport.EventConnection, u, nil, false)
	}
}

// handleMessages enriches an inbound batch (group subjects, media download)
// and forwards it. A failed lookup or download is logged and skipped, never
// aborts the batch.
func (s *Session) handleMessages(ev transport.Event) {
	batch, ok := ev.Payload.([]transport.InboundMessage)
	if !ok {
		s.forward(ev.Name, ev.Payload, nil, false)
		return
	}

	opts := s.Options()
	handle, err := s.currentHandle()
	if err != nil {
		return
	}

	ctx := context.Background()
	out := make([]transport.InboundMessage, 0, len(batch))
	for i := range batch {
		msg := batch[i]
		if msg.IsGroup {
			if opts.IgnoreGroups {
				continue
			}
			if name, err := handle.GroupName(ctx, msg.Key.RemoteJID); err != nil {
				s.log.Warn().Err(err).Str("group", msg.Key.RemoteJID).Msg("failed to resolve group name")
			} else {
				msg.GroupName = name
			}
		}
		if opts.IncludeMedia && msg.MediaType != "" {
			if data, err := handle.DownloadMedia(ctx, &msg); err != nil {
				s.log.Warn().Err(err).Str("media_type", msg.MediaType).Msg("failed to download media")
			} else {
				msg.MediaB64 = base64.StdEncoding.EncodeToString(data)
			}
		}
		out = append(out, msg)
	}

	if len(out) == 0 {
		return
	}
	s.forward(ev.Name, out, nil, false)
}

// forward dispatches one webhook delivery. Dispatch happens in event order;
// completion order is up to the retry schedule.
func (s *Session) forward(event string, data interface{}, extra map[string]interface{}, awaitResponse bool) {
	s.mu.Lock()
	url := s.opts.WebhookURL
	token := s.opts.WebhookVerifyToken
	s.mu.Unlock()
	if url == "" {
		return
	}

	payload := WebhookPayload{
		Event:              event,
		Data:               data,
		Extra:              extra,
		AwaitResponse:      awaitResponse,
		WebhookVerifyToken: token,
	}
	go s.deps.Dispatcher.Deliver(context.Background(), url, payload)
}

func (s *Session) publishError(message string) {
	if s.deps.Realtime == nil {
		return
	}
	s.deps.Realtime.Publish(ws.WsEvent{
		Event:     ws.EventSessionError,
		Timestamp: time.Now().UTC(),
		Data: ws.SessionErrorData{
			Identity: s.identity,
			Error:    message,
		},
	})
}

func (s *Session) publishStatus(status string) {
	if s.deps.Realtime == nil {
		return
	}
	s.deps.Realtime.Publish(ws.WsEvent{
		Event:     ws.EventSessionStatusChanged,
		Timestamp: time.Now().UTC(),
		Data: ws.SessionStatusData{
			Identity: s.identity,
			Status:   status,
		},
	})
}

// SendMessage validates the target, requires full authentication, shapes
// audio content into a voice note and delegates to the transport.
func (s *Session) SendMessage(ctx context.Context, to string, content model.OutgoingMessage) (model.SendResult, error) {
	var zero model.SendResult

	if helper.AmbiguousTarget(to) {
		return zero, fmt.Errorf("%w: %q", ErrAmbiguousTarget, to)
	}

	handle, err := s.currentHandle()
	if err != nil {
		return zero, err
	}
	if !handle.IsAuthenticated() {
		return zero, ErrNotReady
	}

	if len(content.Audio) > 0 && content.Mimetype != media.VoiceNoteMimetype && s.deps.Audio != nil {
		converted, err := s.deps.Audio.ToVoiceNote(ctx, content.Audio)
		if err != nil {
			// Degrade to the original bytes, the send itself still proceeds.
			s.log.Warn().Err(err).Msg("audio transcode failed, sending original bytes")
		} else {
			content.Audio = converted
			content.Mimetype = media.VoiceNoteMimetype
		}
	}

	result, err := handle.SendMessage(ctx, to, content)
	if err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			return zero, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		if errors.Is(err, transport.ErrNotAuthenticated) {
			return zero, fmt.Errorf("%w: %v", ErrNotReady, err)
		}
		return zero, err
	}
	return result, nil
}

// SendPresenceUpdate forwards a presence change. "available" arms a one-shot
// auto-revert to "unavailable"; any available/unavailable update cancels a
// pending revert first. A session without an established identity treats
// this as a no-op.
func (s *Session) SendPresenceUpdate(ctx context.Context, presence, to string) error {
	handle, err := s.currentHandle()
	if err != nil {
		return err
	}
	if handle.AuthenticatedID() == "" {
		return nil
	}

	if presence == "available" || presence == "unavailable" {
		s.cancelPresenceReset()
	}

	if err := handle.SendPresence(ctx, presence, to); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			return fmt.Errorf("%w: %v", ErrNotConnected, err)
		}
		return err
	}

	if presence == "available" {
		s.schedulePresenceReset()
	}
	return nil
}

func (s *Session) cancelPresenceReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.presenceTimer != nil {
		s.presenceTimer.Stop()
		s.presenceTimer = nil
	}
}

func (s *Session) schedulePresenceReset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.presenceTimer = time.AfterFunc(s.deps.presenceResetDelay(), func() {
		s.mu.Lock()
		s.presenceTimer = nil
		handle := s.handle
		closed := s.closed
		s.mu.Unlock()
		if closed || handle == nil {
			return
		}
		if err := handle.SendPresence(context.Background(), "unavailable", ""); err != nil {
			s.log.Warn().Err(err).Msg("presence auto-revert failed")
		}
	})
}

func (s *Session) ReadMessages(ctx context.Context, keys []model.MessageKey) error {
	handle, err := s.currentHandle()
	if err != nil {
		return err
	}
	return handle.ReadMessages(ctx, keys)
}

func (s *Session) ChatModify(ctx context.Context, mod model.ChatModification, to string) error {
	handle, err := s.currentHandle()
	if err != nil {
		return err
	}
	return handle.ChatModify(ctx, mod, to)
}

func (s *Session) FetchMessageHistory(ctx context.Context, count int, oldestKey model.MessageKey, oldestTimestamp time.Time) error {
	handle, err := s.currentHandle()
	if err != nil {
		return err
	}
	return handle.FetchMessageHistory(ctx, count, oldestKey, oldestTimestamp)
}

func (s *Session) SendReceipts(ctx context.Context, keys []model.MessageKey, receiptType string) error {
	handle, err := s.currentHandle()
	if err != nil {
		return err
	}
	return handle.SendReceipts(ctx, keys, receiptType)
}

func (s *Session) ProfilePictureURL(ctx context.Context, target, quality string) (string, error) {
	handle, err := s.currentHandle()
	if err != nil {
		return "", err
	}
	return handle.ProfilePictureURL(ctx, target, quality)
}

func (s *Session) Lookup(ctx context.Context, targets []string) ([]model.LookupResult, error) {
	handle, err := s.currentHandle()
	if err != nil {
		return nil, err
	}
	return handle.Lookup(ctx, targets)
}

// Logout closes the session terminally. The transport logout error is
// returned for the caller's information; closure and credential clearing
// happen regardless.
func (s *Session) Logout(ctx context.Context) error {
	return s.close(true)
}

// close is the single terminal path: best-effort transport logout, clear
// credentials when requested, reset counters, notify the registry.
func (s *Session) close(clearCreds bool) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.state = StateClosed
	s.reconnectCount = 0
	handle := s.handle
	s.handle = nil
	if s.presenceTimer != nil {
		s.presenceTimer.Stop()
		s.presenceTimer = nil
	}
	s.mu.Unlock()

	ctx := context.Background()
	var logoutErr error
	if handle != nil {
		if err := handle.Logout(ctx); err != nil {
			logoutErr = err
			s.log.Warn().Err(err).Msg("transport logout failed")
		}
		handle.Disconnect()
	}

	if clearCreds {
		if err := s.deps.Creds.Clear(ctx, s.identity); err != nil {
			s.log.Error().Err(err).Msg("failed to clear credentials")
		}
	}

	s.log.Info().Msg("session closed")
	s.publishStatus("logged_out")
	if s.onClose != nil {
		s.onClose(s)
	}
	return logoutErr
}

// reportClosed marks the session dead after a transport creation failure.
// Credentials are left in place so a later connect can retry.
func (s *Session) reportClosed() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.state = StateClosed
	s.reconnectCount = 0
	s.handle = nil
	if s.presenceTimer != nil {
		s.presenceTimer.Stop()
		s.presenceTimer = nil
	}
	s.mu.Unlock()

	s.publishStatus("closed")
	if s.onClose != nil {
		s.onClose(s)
	}
}
