package logging

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestContextAddsTraceAndIDs(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)

	ctx := Context(context.Background())
	ctx = WithUser(ctx, 7)
	ctx = WithChat(ctx, 42)
	ctx = WithHandle(ctx, "alice_99")
	Ctx(ctx).Info().Msg("hello")

	out := buf.String()
	for _, want := range []string{`"trace_id":"`, `"user_id":7`, `"chat_id":42`, `"handle":"alice_99"`, `"message":"hello"`} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %s in output:\n%s", want, out)
		}
	}
}

func TestCtxFallsBackToBaseLogger(t *testing.T) {
	var buf bytes.Buffer
	InitWriter(&buf)

	Ctx(context.Background()).Warn().Msg("base")
	if !strings.Contains(buf.String(), `"message":"base"`) {
		t.Fatalf("base logger not used: %s", buf.String())
	}
}

func TestSnippet(t *testing.T) {
	if got := Snippet("abcdef", 3); got != "abc" {
		t.Fatalf("Snippet = %q", got)
	}
	if got := Snippet("ab", 3); got != "ab" {
		t.Fatalf("Snippet = %q", got)
	}
	if got := Snippet("привет 👋 мир", 8); got != "привет 👋" {
		t.Fatalf("Snippet = %q", got)
	}
}
