package credstore

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/whatsmeow/store/sqlstore"

	"warelay/internal/helper"
	"warelay/internal/model"
)

// Postgres keeps session options in its own table and delegates the actual
// cryptographic device material to the wire library's sqlstore container,
// both living in the same database.
type Postgres struct {
	DB        *sql.DB
	Container *sqlstore.Container
	Log       zerolog.Logger
}

// EnsureSchema creates the sessions table when missing.
func (s *Postgres) EnsureSchema(ctx context.Context) error {
	_, err := s.DB.ExecContext(ctx, `
        CREATE TABLE IF NOT EXISTS wa_sessions (
            identity             TEXT PRIMARY KEY,
            name                 TEXT NOT NULL DEFAULT '',
            webhook_url          TEXT NOT NULL DEFAULT '',
            webhook_verify_token TEXT NOT NULL DEFAULT '',
            include_media        BOOLEAN NOT NULL DEFAULT FALSE,
            full_history_sync    BOOLEAN NOT NULL DEFAULT FALSE,
            ignore_groups        BOOLEAN NOT NULL DEFAULT FALSE,
            device_jid           TEXT NOT NULL DEFAULT '',
            logged_out           BOOLEAN NOT NULL DEFAULT FALSE,
            updated_at           TIMESTAMPTZ NOT NULL DEFAULT NOW()
        )
    `)
	if err != nil {
		return fmt.Errorf("failed to ensure wa_sessions schema: %w", err)
	}
	return nil
}

func (s *Postgres) SaveOptions(ctx context.Context, identity string, opts model.SessionOptions) error {
	_, err := s.DB.ExecContext(ctx, `
        INSERT INTO wa_sessions (identity, name, webhook_url, webhook_verify_token,
                                 include_media, full_history_sync, ignore_groups, logged_out, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, FALSE, NOW())
        ON CONFLICT (identity) DO UPDATE SET
            name                 = EXCLUDED.name,
            webhook_url          = EXCLUDED.webhook_url,
            webhook_verify_token = EXCLUDED.webhook_verify_token,
            include_media        = EXCLUDED.include_media,
            full_history_sync    = EXCLUDED.full_history_sync,
            ignore_groups        = EXCLUDED.ignore_groups,
            logged_out           = FALSE,
            updated_at           = NOW()
    `, helper.NormalizeIdentity(identity), opts.Name, opts.WebhookURL, opts.WebhookVerifyToken,
		opts.IncludeMedia, opts.FullHistorySync, opts.IgnoreGroups)
	if err != nil {
		return fmt.Errorf("failed to save session options: %w", err)
	}
	return nil
}

func (s *Postgres) SaveCredentials(ctx context.Context, identity string, creds map[string]interface{}) error {
	jid, _ := creds["jid"].(string)
	_, err := s.DB.ExecContext(ctx, `
        UPDATE wa_sessions
        SET device_jid = $1, logged_out = FALSE, updated_at = NOW()
        WHERE identity = $2
    `, jid, helper.NormalizeIdentity(identity))
	if err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	return nil
}

// Clear deletes the paired device from the wire library's store and marks
// the session row logged out. The row itself is kept so options survive a
// later re-pairing of the same number.
func (s *Postgres) Clear(ctx context.Context, identity string) error {
	devices, err := s.Container.GetAllDevices(ctx)
	if err != nil {
		return fmt.Errorf("failed to list devices: %w", err)
	}
	for _, device := range devices {
		if device.ID == nil {
			continue
		}
		if helper.SameIdentity(device.ID.User, identity) {
			if err := s.Container.DeleteDevice(ctx, device); err != nil {
				return fmt.Errorf("failed to delete device store: %w", err)
			}
		}
	}

	_, err = s.DB.ExecContext(ctx, `
        UPDATE wa_sessions
        SET device_jid = '', logged_out = TRUE, updated_at = NOW()
        WHERE identity = $1
    `, helper.NormalizeIdentity(identity))
	if err != nil {
		return fmt.Errorf("failed to mark session logged out: %w", err)
	}
	return nil
}

// ListSaved walks the wire library's saved devices and pairs each with its
// options row. Devices without a row still restore, with default options.
func (s *Postgres) ListSaved(ctx context.Context) ([]model.SavedSession, error) {
	devices, err := s.Container.GetAllDevices(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list devices: %w", err)
	}

	saved := make([]model.SavedSession, 0, len(devices))
	for _, device := range devices {
		if device.ID == nil {
			continue
		}
		identity := helper.NormalizeIdentity(device.ID.User)

		var (
			opts      model.SessionOptions
			loggedOut bool
		)
		err := s.DB.QueryRowContext(ctx, `
            SELECT name, webhook_url, webhook_verify_token,
                   include_media, full_history_sync, ignore_groups, logged_out
            FROM wa_sessions WHERE identity = $1
        `, identity).Scan(&opts.Name, &opts.WebhookURL, &opts.WebhookVerifyToken,
			&opts.IncludeMedia, &opts.FullHistorySync, &opts.IgnoreGroups, &loggedOut)
		switch {
		case err == sql.ErrNoRows:
			s.Log.Warn().Str("identity", identity).Msg("saved device has no options row, restoring with defaults")
		case err != nil:
			s.Log.Error().Err(err).Str("identity", identity).Msg("failed to load session options, skipping")
			continue
		case loggedOut:
			continue
		}

		saved = append(saved, model.SavedSession{Identity: identity, Options: opts})
	}
	return saved, nil
}
