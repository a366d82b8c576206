// Package credstore persists per-identity session state: the caller-supplied
// options and a pointer to the device credentials held by the wire library's
// own store. The registry restores sessions from here at startup; terminal
// disconnects clear entries so the identity needs a fresh pairing next time.
package credstore

import (
	"context"

	"warelay/internal/model"
)

// Store is the credential-store contract the session layer depends on.
type Store interface {
	// SaveOptions upserts the saved options for an identity.
	SaveOptions(ctx context.Context, identity string, opts model.SessionOptions) error
	// SaveCredentials records a credential update (currently the device JID
	// the identity is paired as). Called on every creds.update event.
	SaveCredentials(ctx context.Context, identity string, creds map[string]interface{}) error
	// Clear removes the identity's credentials. Called on terminal close.
	Clear(ctx context.Context, identity string) error
	// ListSaved returns every identity with usable saved credentials,
	// together with its saved options.
	ListSaved(ctx context.Context) ([]model.SavedSession, error)
}
