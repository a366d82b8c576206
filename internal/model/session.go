package model

// SessionOptions is the caller-supplied configuration for one identity.
// Captured at connect time, replaceable via the options update path, read
// by every outbound forwarding path.
type SessionOptions struct {
	Name               string `json:"name"`
	WebhookURL         string `json:"webhookUrl"`
	WebhookVerifyToken string `json:"webhookVerifyToken"`
	IncludeMedia       bool   `json:"includeMedia"`
	FullHistorySync    bool   `json:"fullHistorySync"`
	IgnoreGroups       bool   `json:"ignoreGroups"`
}

// SavedSession is one row returned by the credential store at startup
// restore.
type SavedSession struct {
	Identity string
	Options  SessionOptions
}
