package helper

import "testing"

func TestNormalizeIdentity(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"491711234567", "491711234567"},
		{"+49 171 1234567", "491711234567"},
		{"0049-171-1234567", "491711234567"},
		{"491711234567@s.whatsapp.net", "491711234567"},
		{"491711234567:43@s.whatsapp.net", "491711234567"},
		{"", ""},
	}
	for _, tc := range cases {
		if got := NormalizeIdentity(tc.in); got != tc.want {
			t.Fatalf("NormalizeIdentity(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSameIdentity(t *testing.T) {
	if !SameIdentity("+49 171 1234567", "491711234567:12@s.whatsapp.net") {
		t.Fatalf("representations of the same number must compare equal")
	}
	if SameIdentity("491711234567", "628123456789") {
		t.Fatalf("different numbers must not compare equal")
	}
}

func TestFormatPhoneNumber(t *testing.T) {
	jid, err := FormatPhoneNumber("+49 (171) 123-4567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jid.User != "491711234567" {
		t.Fatalf("got user %q", jid.User)
	}

	if _, err := FormatPhoneNumber("hello"); err == nil {
		t.Fatalf("letters must be rejected")
	}
	if _, err := FormatPhoneNumber("12345"); err == nil {
		t.Fatalf("too-short numbers must be rejected")
	}
}

func TestParseTarget(t *testing.T) {
	jid, err := ParseTarget("123456789-987654@g.us")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jid.Server != "g.us" {
		t.Fatalf("expected group server, got %q", jid.Server)
	}

	jid, err = ParseTarget("491711234567")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if jid.Server != "s.whatsapp.net" {
		t.Fatalf("bare numbers must resolve to the user server, got %q", jid.Server)
	}
}

func TestAmbiguousTarget(t *testing.T) {
	if !AmbiguousTarget("123@g.us@s.whatsapp.net") {
		t.Fatalf("mixed suffixes must be flagged")
	}
	if AmbiguousTarget("123@g.us") || AmbiguousTarget("123@s.whatsapp.net") {
		t.Fatalf("single-suffix targets are fine")
	}
}

func TestExtractPhoneFromJID(t *testing.T) {
	if got := ExtractPhoneFromJID("491711234567:43@s.whatsapp.net"); got != "491711234567" {
		t.Fatalf("got %q", got)
	}
}
