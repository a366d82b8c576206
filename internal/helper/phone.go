package helper

import (
	"fmt"
	"regexp"
	"strings"

	"go.mau.fi/whatsmeow/types"
)

var (
	phoneChars = regexp.MustCompile(`^[\d\s\+\-\(\)]+$`)
	nonDigits  = regexp.MustCompile(`[^\d]`)
)

// NormalizeIdentity reduces a phone number to its canonical digit form so
// that two textual representations of the same number compare equal
// ("+49 171 1234567" == "491711234567"). Device suffixes and server parts
// of a JID are stripped first.
func NormalizeIdentity(identity string) string {
	s := ExtractPhoneFromJID(identity)
	s = nonDigits.ReplaceAllString(s, "")
	s = strings.TrimLeft(s, "0")
	return s
}

// SameIdentity reports whether two identities name the same number.
func SameIdentity(a, b string) bool {
	return NormalizeIdentity(a) == NormalizeIdentity(b)
}

// FormatPhoneNumber converts a phone number into a user JID.
func FormatPhoneNumber(phone string) (types.JID, error) {
	if !phoneChars.MatchString(phone) {
		return types.JID{}, fmt.Errorf("invalid phone number format: contains invalid characters")
	}

	cleaned := nonDigits.ReplaceAllString(phone, "")
	cleaned = strings.TrimLeft(cleaned, "0")

	if len(cleaned) < 9 || len(cleaned) > 15 {
		return types.JID{}, fmt.Errorf("invalid phone number length")
	}

	return types.JID{
		User:   cleaned,
		Server: types.DefaultUserServer,
	}, nil
}

// ParseTarget accepts either a full JID ("123@s.whatsapp.net",
// "123-456@g.us") or a bare phone number and returns the JID to address.
func ParseTarget(target string) (types.JID, error) {
	if strings.Contains(target, "@") {
		jid, err := types.ParseJID(target)
		if err != nil {
			return types.JID{}, fmt.Errorf("invalid target address %q: %w", target, err)
		}
		return jid, nil
	}
	return FormatPhoneNumber(target)
}

// AmbiguousTarget reports whether a target carries both a group suffix and
// an individual-chat suffix at once. Such addresses are rejected before any
// network call.
func AmbiguousTarget(target string) bool {
	return strings.Contains(target, "@g.us") && strings.Contains(target, "@s.whatsapp.net")
}

// ExtractPhoneFromJID returns the bare number of a JID string
// ("491711234567:43@s.whatsapp.net" -> "491711234567").
func ExtractPhoneFromJID(jid string) string {
	beforeAt := strings.SplitN(jid, "@", 2)[0]
	return strings.SplitN(beforeAt, ":", 2)[0]
}
