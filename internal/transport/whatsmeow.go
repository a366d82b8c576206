package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"go.mau.fi/whatsmeow"
	"go.mau.fi/whatsmeow/appstate"
	"go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/store"
	"go.mau.fi/whatsmeow/store/sqlstore"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
	waLog "go.mau.fi/whatsmeow/util/log"

	"warelay/internal/helper"
	"warelay/internal/media"
	"warelay/internal/model"
)

// WhatsmeowFactory creates handles backed by whatsmeow, with device
// credentials persisted in the shared sqlstore container.
type WhatsmeowFactory struct {
	Container *sqlstore.Container
	Log       zerolog.Logger
	Thumbs    bool // attach JPEG thumbnails to outbound images
}

// SetDeviceProps configures the device name shown in the paired phone's
// linked-devices list. Global whatsmeow setting, call once at startup.
func SetDeviceProps(osName string) {
	store.DeviceProps.Os = proto.String(osName)
}

func (f *WhatsmeowFactory) Create(ctx context.Context, identity string) (Handle, error) {
	device, err := f.findDevice(ctx, identity)
	if err != nil {
		return nil, err
	}
	if device == nil {
		device = f.Container.NewDevice()
	}

	clientLog := waLog.Stdout("Client", "INFO", true)
	client := whatsmeow.NewClient(device, clientLog)

	h := &whatsmeowHandle{
		identity: identity,
		client:   client,
		factory:  f,
		log:      f.Log.With().Str("identity", identity).Logger(),
	}
	client.AddEventHandler(h.translate)
	return h, nil
}

func (f *WhatsmeowFactory) findDevice(ctx context.Context, identity string) (*store.Device, error) {
	devices, err := f.Container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}
	for _, device := range devices {
		if device.ID == nil {
			continue
		}
		if helper.SameIdentity(device.ID.User, identity) {
			return device, nil
		}
	}
	return nil, nil
}

type whatsmeowHandle struct {
	identity string
	client   *whatsmeow.Client
	factory  *WhatsmeowFactory
	log      zerolog.Logger
	emit     func(Event)
}

func (h *whatsmeowHandle) Subscribe(fn func(Event)) {
	h.emit = fn
}

func (h *whatsmeowHandle) Connect(ctx context.Context) error {
	if h.client.Store.ID == nil {
		// Fresh pairing: the QR channel must be opened before Connect.
		qrChan, err := h.client.GetQRChannel(ctx)
		if err != nil {
			return fmt.Errorf("failed to open qr channel: %w", err)
		}
		go h.pumpQR(qrChan)
	}
	if err := h.client.Connect(); err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}
	return nil
}

func (h *whatsmeowHandle) pumpQR(qrChan <-chan whatsmeow.QRChannelItem) {
	for item := range qrChan {
		switch item.Event {
		case "code":
			h.send(Event{
				Name: EventConnection,
				Connection: &ConnectionUpdate{
					Connection: ConnConnecting,
					QR:         item.Code,
					QRPresent:  true,
				},
			})
		case "timeout":
			h.send(Event{
				Name: EventConnection,
				Connection: &ConnectionUpdate{
					Connection: ConnClose,
					Reason:     ReasonQRTimeout,
				},
			})
		case "success":
			// PairSuccess / Connected arrive through the event handler.
		default:
			h.log.Warn().Str("event", item.Event).Msg("unexpected qr channel event")
		}
	}
}

func (h *whatsmeowHandle) send(ev Event) {
	if h.emit != nil {
		h.emit(ev)
	}
}

// translate lifts whatsmeow events into the typed event model. The session
// layer only ever sees these.
func (h *whatsmeowHandle) translate(raw interface{}) {
	switch evt := raw.(type) {
	case *events.Connected:
		h.send(Event{Name: EventConnection, Connection: &ConnectionUpdate{Connection: ConnOpen}})

	case *events.PairSuccess:
		h.send(Event{Name: EventCreds, Payload: map[string]interface{}{"jid": evt.ID.String()}})
		h.send(Event{Name: EventConnection, Connection: &ConnectionUpdate{
			Connection: ConnConnecting,
			IsNewLogin: true,
		}})

	case *events.LoggedOut:
		h.send(Event{Name: EventConnection, Connection: &ConnectionUpdate{
			Connection: ConnClose,
			Reason:     ReasonLoggedOut,
		}})

	case *events.StreamReplaced:
		h.send(Event{Name: EventConnection, Connection: &ConnectionUpdate{
			Connection: ConnClose,
			Reason:     ReasonStreamReplaced,
		}})

	case *events.TemporaryBan:
		h.send(Event{Name: EventConnection, Connection: &ConnectionUpdate{
			Connection: ConnClose,
			Reason:     ReasonTemporaryBan,
			Err:        fmt.Errorf("temporary ban: %s", evt.String()),
		}})

	case *events.ClientOutdated:
		h.send(Event{Name: EventConnection, Connection: &ConnectionUpdate{
			Connection: ConnClose,
			Reason:     ReasonRestartRequired,
		}})

	case *events.Disconnected:
		h.send(Event{Name: EventConnection, Connection: &ConnectionUpdate{
			Connection: ConnClose,
			Reason:     ReasonConnectionLost,
		}})

	case *events.KeepAliveRestored:
		h.send(Event{Name: EventConnection, Connection: &ConnectionUpdate{IsOnline: true}})

	case *events.Message:
		h.send(Event{Name: EventMessages, Payload: []InboundMessage{h.liftMessage(evt)}})

	case *events.Receipt:
		name := EventReceipt
		if evt.Type == types.ReceiptTypeDelivered || evt.Type == types.ReceiptTypeRead {
			name = EventMessageState
		}
		h.send(Event{Name: name, Payload: map[string]interface{}{
			"chat":       evt.Chat.String(),
			"sender":     evt.Sender.String(),
			"messageIds": evt.MessageIDs,
			"type":       string(evt.Type),
			"timestamp":  evt.Timestamp,
		}})

	case *events.HistorySync:
		h.send(Event{Name: EventHistorySync, Payload: protoToMap(evt.Data)})

	case *events.Presence:
		h.send(Event{Name: "presence.update", Payload: map[string]interface{}{
			"from":        evt.From.String(),
			"unavailable": evt.Unavailable,
			"lastSeen":    evt.LastSeen,
		}})

	case *events.GroupInfo:
		h.send(Event{Name: "groups.update", Payload: map[string]interface{}{
			"jid":       evt.JID.String(),
			"timestamp": evt.Timestamp,
		}})

	case *events.PushName:
		h.send(Event{Name: "contacts.update", Payload: map[string]interface{}{
			"jid":         evt.JID.String(),
			"newPushName": evt.NewPushName,
		}})

	case *events.AppStateSyncComplete:
		h.send(Event{Name: "appstate.sync", Payload: map[string]interface{}{
			"name": string(evt.Name),
		}})

	case *events.OfflineSyncCompleted:
		h.send(Event{Name: "offline.sync", Payload: map[string]interface{}{
			"count": evt.Count,
		}})
	}
}

func (h *whatsmeowHandle) liftMessage(evt *events.Message) InboundMessage {
	msg := InboundMessage{
		Key:       keyFromInfo(evt.Info),
		PushName:  evt.Info.PushName,
		Timestamp: evt.Info.Timestamp,
		IsGroup:   evt.Info.IsGroup,
		Message:   protoToMap(evt.Message),
		raw:       evt.Message,
	}
	switch {
	case evt.Message.GetImageMessage() != nil:
		msg.MediaType = "image"
	case evt.Message.GetAudioMessage() != nil:
		msg.MediaType = "audio"
	case evt.Message.GetVideoMessage() != nil:
		msg.MediaType = "video"
	case evt.Message.GetDocumentMessage() != nil:
		msg.MediaType = "document"
	case evt.Message.GetStickerMessage() != nil:
		msg.MediaType = "sticker"
	}
	return msg
}

func keyFromInfo(info types.MessageInfo) (key model.MessageKey) {
	key.ID = info.ID
	key.RemoteJID = info.Chat.String()
	key.FromMe = info.IsFromMe
	return key
}

func protoToMap(m proto.Message) map[string]interface{} {
	if m == nil {
		return nil
	}
	data, err := protojson.Marshal(m)
	if err != nil {
		return map[string]interface{}{"error": "unmarshalable message"}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return map[string]interface{}{"error": "unmarshalable message"}
	}
	return out
}

func (h *whatsmeowHandle) Disconnect() {
	h.client.Disconnect()
}

func (h *whatsmeowHandle) Logout(ctx context.Context) error {
	return h.client.Logout(ctx)
}

func (h *whatsmeowHandle) AuthenticatedID() string {
	if h.client.Store.ID == nil {
		return ""
	}
	return helper.NormalizeIdentity(h.client.Store.ID.User)
}

func (h *whatsmeowHandle) IsAuthenticated() bool {
	return h.client.IsLoggedIn()
}

func (h *whatsmeowHandle) IsConnected() bool {
	return h.client.IsConnected()
}

func (h *whatsmeowHandle) SendMessage(ctx context.Context, to string, out model.OutgoingMessage) (model.SendResult, error) {
	var zero model.SendResult

	recipient, err := helper.ParseTarget(to)
	if err != nil {
		return zero, err
	}

	msg, err := h.buildMessage(ctx, out)
	if err != nil {
		return zero, err
	}

	resp, err := h.client.SendMessage(ctx, recipient, msg)
	if err != nil {
		return zero, h.mapErr(err)
	}
	return model.SendResult{MessageID: resp.ID, Timestamp: resp.Timestamp}, nil
}

func (h *whatsmeowHandle) buildMessage(ctx context.Context, out model.OutgoingMessage) (*waE2E.Message, error) {
	switch {
	case len(out.Image) > 0:
		up, err := h.client.Upload(ctx, out.Image, whatsmeow.MediaImage)
		if err != nil {
			return nil, fmt.Errorf("failed to upload image: %w", h.mapErr(err))
		}
		mimetype := out.Mimetype
		if mimetype == "" {
			mimetype = "image/jpeg"
		}
		img := &waE2E.ImageMessage{
			Caption:       proto.String(out.Caption),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}
		if h.factory == nil || h.factory.Thumbs {
			if thumb, err := media.JPEGThumbnail(out.Image, mimetype); err == nil {
				img.JPEGThumbnail = thumb
			} else {
				h.log.Warn().Err(err).Msg("failed to build image thumbnail")
			}
		}
		return &waE2E.Message{ImageMessage: img}, nil

	case len(out.Audio) > 0:
		up, err := h.client.Upload(ctx, out.Audio, whatsmeow.MediaAudio)
		if err != nil {
			return nil, fmt.Errorf("failed to upload audio: %w", h.mapErr(err))
		}
		mimetype := out.Mimetype
		if mimetype == "" {
			mimetype = media.VoiceNoteMimetype
		}
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			PTT:           proto.Bool(true),
			Mimetype:      proto.String(mimetype),
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
		}}, nil

	case out.Text != "":
		return &waE2E.Message{Conversation: proto.String(out.Text)}, nil

	default:
		return nil, fmt.Errorf("empty message content")
	}
}

func (h *whatsmeowHandle) SendPresence(ctx context.Context, presence, to string) error {
	switch presence {
	case "composing", "paused":
		if to == "" {
			return fmt.Errorf("chat presence %q needs a target", presence)
		}
		jid, err := helper.ParseTarget(to)
		if err != nil {
			return err
		}
		state := types.ChatPresenceComposing
		if presence == "paused" {
			state = types.ChatPresencePaused
		}
		return h.mapErr(h.client.SendChatPresence(ctx, jid, state, types.ChatPresenceMediaText))
	case "available":
		return h.mapErr(h.client.SendPresence(ctx, types.PresenceAvailable))
	case "unavailable":
		return h.mapErr(h.client.SendPresence(ctx, types.PresenceUnavailable))
	default:
		return fmt.Errorf("unknown presence type %q", presence)
	}
}

func (h *whatsmeowHandle) ReadMessages(ctx context.Context, keys []model.MessageKey) error {
	byChat := make(map[string][]types.MessageID)
	for _, key := range keys {
		byChat[key.RemoteJID] = append(byChat[key.RemoteJID], key.ID)
	}
	for chat, ids := range byChat {
		jid, err := types.ParseJID(chat)
		if err != nil {
			return fmt.Errorf("invalid chat jid %q: %w", chat, err)
		}
		if err := h.client.MarkRead(ctx, ids, time.Now(), jid, jid); err != nil {
			return h.mapErr(err)
		}
	}
	return nil
}

func (h *whatsmeowHandle) ChatModify(ctx context.Context, mod model.ChatModification, to string) error {
	jid, err := helper.ParseTarget(to)
	if err != nil {
		return err
	}

	var patch appstate.PatchInfo
	switch mod.Action {
	case "archive", "unarchive":
		patch = appstate.BuildArchive(jid, mod.Action == "archive", time.Time{}, nil)
	case "mute":
		// zero duration with mute=true mutes forever
		patch = appstate.BuildMute(jid, true, 0)
	case "unmute":
		patch = appstate.BuildMute(jid, false, 0)
	case "pin", "unpin":
		patch = appstate.BuildPin(jid, mod.Action == "pin")
	case "markRead":
		return h.ReadMessages(ctx, mod.Keys)
	default:
		return fmt.Errorf("unsupported chat modification %q", mod.Action)
	}
	return h.mapErr(h.client.SendAppState(ctx, patch))
}

func (h *whatsmeowHandle) FetchMessageHistory(ctx context.Context, count int, oldestKey model.MessageKey, oldestTimestamp time.Time) error {
	if h.client.Store.ID == nil {
		return ErrNotAuthenticated
	}
	chat, err := types.ParseJID(oldestKey.RemoteJID)
	if err != nil {
		return fmt.Errorf("invalid chat jid %q: %w", oldestKey.RemoteJID, err)
	}
	info := &types.MessageInfo{
		ID:        oldestKey.ID,
		Timestamp: oldestTimestamp,
		MessageSource: types.MessageSource{
			Chat:     chat,
			IsFromMe: oldestKey.FromMe,
		},
	}
	msg := h.client.BuildHistorySyncRequest(info, count)
	_, err = h.client.SendMessage(ctx, h.client.Store.ID.ToNonAD(), msg, whatsmeow.SendRequestExtra{Peer: true})
	return h.mapErr(err)
}

func (h *whatsmeowHandle) SendReceipts(ctx context.Context, keys []model.MessageKey, receiptType string) error {
	byChat := make(map[string][]types.MessageID)
	for _, key := range keys {
		byChat[key.RemoteJID] = append(byChat[key.RemoteJID], key.ID)
	}
	for chat, ids := range byChat {
		jid, err := types.ParseJID(chat)
		if err != nil {
			return fmt.Errorf("invalid chat jid %q: %w", chat, err)
		}
		if err := h.client.MarkRead(ctx, ids, time.Now(), jid, jid, types.ReceiptType(receiptType)); err != nil {
			return h.mapErr(err)
		}
	}
	return nil
}

func (h *whatsmeowHandle) ProfilePictureURL(ctx context.Context, target, quality string) (string, error) {
	jid, err := helper.ParseTarget(target)
	if err != nil {
		return "", err
	}
	pic, err := h.client.GetProfilePictureInfo(ctx, jid, &whatsmeow.GetProfilePictureParams{
		Preview: quality == "preview",
	})
	if err != nil {
		return "", h.mapErr(err)
	}
	if pic == nil {
		return "", fmt.Errorf("no profile picture set")
	}
	return pic.URL, nil
}

func (h *whatsmeowHandle) Lookup(ctx context.Context, targets []string) ([]model.LookupResult, error) {
	numbers := make([]string, 0, len(targets))
	for _, t := range targets {
		jid, err := helper.ParseTarget(t)
		if err != nil {
			return nil, err
		}
		numbers = append(numbers, "+"+jid.User)
	}
	resp, err := h.client.IsOnWhatsApp(ctx, numbers)
	if err != nil {
		return nil, h.mapErr(err)
	}
	results := make([]model.LookupResult, 0, len(resp))
	for _, r := range resp {
		results = append(results, model.LookupResult{
			Query:      r.Query,
			JID:        r.JID.String(),
			Registered: r.IsIn,
		})
	}
	return results, nil
}

func (h *whatsmeowHandle) GroupName(ctx context.Context, groupJID string) (string, error) {
	jid, err := types.ParseJID(groupJID)
	if err != nil {
		return "", fmt.Errorf("invalid group jid %q: %w", groupJID, err)
	}
	info, err := h.client.GetGroupInfo(ctx, jid)
	if err != nil {
		return "", h.mapErr(err)
	}
	return info.Name, nil
}

func (h *whatsmeowHandle) DownloadMedia(ctx context.Context, msg *InboundMessage) ([]byte, error) {
	wire, ok := msg.raw.(*waE2E.Message)
	if !ok || wire == nil {
		return nil, fmt.Errorf("message carries no downloadable media")
	}
	var part whatsmeow.DownloadableMessage
	switch {
	case wire.GetImageMessage() != nil:
		part = wire.GetImageMessage()
	case wire.GetAudioMessage() != nil:
		part = wire.GetAudioMessage()
	case wire.GetVideoMessage() != nil:
		part = wire.GetVideoMessage()
	case wire.GetDocumentMessage() != nil:
		part = wire.GetDocumentMessage()
	case wire.GetStickerMessage() != nil:
		part = wire.GetStickerMessage()
	default:
		return nil, fmt.Errorf("message carries no downloadable media")
	}
	data, err := h.client.Download(ctx, part)
	if err != nil {
		return nil, h.mapErr(err)
	}
	return data, nil
}

// mapErr rewrites the wire library's connection-state errors into the
// transport sentinels the session layer switches on.
func (h *whatsmeowHandle) mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, whatsmeow.ErrNotConnected):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case errors.Is(err, whatsmeow.ErrNotLoggedIn):
		return fmt.Errorf("%w: %v", ErrNotAuthenticated, err)
	default:
		return err
	}
}
