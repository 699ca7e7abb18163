package main

import (
	"context"
	"strings"
	"testing"
	"time"

	"castle_chat/internal/model"
)

func TestHandleLineRejectsBadCommands(t *testing.T) {
	ctx := context.Background()
	for _, line := range []string{
		"/sd",
		"/sd ten burn",
		"/expire 0 gone",
		"/expire 5",
		"/nope",
	} {
		quit, err := handleLine(ctx, nil, line)
		if err == nil || quit {
			t.Errorf("%q: quit=%v err=%v", line, quit, err)
		}
	}

	if quit, err := handleLine(ctx, nil, "   "); quit || err != nil {
		t.Fatalf("blank line: %v %v", quit, err)
	}
}

func TestLabelAndRender(t *testing.T) {
	m := &model.Message{AuthorKind: model.AuthorRemote, Timestamp: time.Now()}
	if !strings.HasSuffix(label(m), "friend:") {
		t.Fatalf("label %q", label(m))
	}
	m.AuthorKind = model.AuthorApp
	if !strings.HasSuffix(label(m), "--") {
		t.Fatalf("label %q", label(m))
	}

	if got := render(model.FailureValue()); !strings.Contains(got, "could not be decrypted") {
		t.Fatalf("render %q", got)
	}
	if got := render(model.TextValue("hi")); got != "hi" {
		t.Fatalf("render %q", got)
	}
}
