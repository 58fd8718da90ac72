package message

import (
	"strings"
	"testing"
)

func TestValidateSend(t *testing.T) {
	cases := []struct {
		name     string
		sender   string
		receiver string
		body     string
		wantBody string
		wantErr  bool
	}{
		{"valid", "a", "b", "hello", "hello", false},
		{"trimmed", "a", "b", "  hello  ", "hello", false},
		{"max length", "a", "b", strings.Repeat("x", MaxBodyChars), strings.Repeat("x", MaxBodyChars), false},
		{"over length", "a", "b", strings.Repeat("x", MaxBodyChars+1), "", true},
		{"empty", "a", "b", "", "", true},
		{"whitespace only", "a", "b", " \t\n", "", true},
		{"missing sender", "", "b", "hi", "", true},
		{"missing receiver", "a", "", "hi", "", true},
		{"same sender and receiver", "a", "a", "hi", "", true},
		{"invalid utf8", "a", "b", string([]byte{0xff, 0xfe}), "", true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ValidateSend(tc.sender, tc.receiver, tc.body)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.wantBody {
				t.Errorf("expected body %q, got %q", tc.wantBody, got)
			}
		})
	}
}

func TestValidateSendMultibyteLength(t *testing.T) {
	// 5000 multibyte runes are within the limit even though the byte count
	// is far larger.
	body := strings.Repeat("é", MaxBodyChars)
	if _, err := ValidateSend("a", "b", body); err != nil {
		t.Fatalf("expected 5000 runes to pass, got %v", err)
	}

	body = strings.Repeat("é", MaxBodyChars+1)
	if _, err := ValidateSend("a", "b", body); err == nil {
		t.Fatal("expected 5001 runes to fail")
	}
}
