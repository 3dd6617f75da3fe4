package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestRedactToken(t *testing.T) {
	input := `Get "https://api.telegram.org/file/bot123456:AA-bc_d9/voice/file_1.oga": context canceled`
	out, changed := RedactToken(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	if strings.Contains(out, "AA-bc_d9") || !strings.Contains(out, "bot[REDACTED_TOKEN]/voice") {
		t.Fatalf("RedactToken() = %q", out)
	}
	if _, changed := RedactToken("dial tcp: i/o timeout"); changed {
		t.Fatalf("changed = true for a message without token")
	}
}

func TestRedactKeepsErrorChain(t *testing.T) {
	err := redact(fmt.Errorf("Get https://api.telegram.org/file/bot1:secret/x: %w", context.Canceled))
	if strings.Contains(err.Error(), "secret") {
		t.Fatalf("redact() leaked the token: %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("redact() lost the wrapped error")
	}
	plain := errors.New("status 502")
	if redact(plain) != plain {
		t.Fatalf("redact() rewrapped an error without token")
	}
}
