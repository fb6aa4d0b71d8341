package protocol

import (
	"errors"
	"strings"
	"testing"
)

func TestParseInterrupt(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"interrupt","session_id":"abc"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	i, ok := msg.(Interrupt)
	if !ok {
		t.Fatalf("ParseClientMessage() = %T, want Interrupt", msg)
	}
	if i.SessionID != "abc" {
		t.Fatalf("SessionID = %q, want %q", i.SessionID, "abc")
	}
}

func TestParseText(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"text","session_id":"abc","text":"hello there"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	txt, ok := msg.(Text)
	if !ok || txt.Text != "hello there" {
		t.Fatalf("ParseClientMessage() = %+v, want Text{hello there}", msg)
	}
}

func TestParseTextRejectsOverLength(t *testing.T) {
	long := strings.Repeat("a", MaxTextChars+1)
	_, err := ParseClientMessage([]byte(`{"type":"text","session_id":"abc","text":"` + long + `"}`))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrValidationFailed", err)
	}
}

func TestParseTextRejectsEmpty(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"text","session_id":"abc","text":""}`))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrValidationFailed", err)
	}
}

func TestParseControlRequiresAction(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"control","session_id":"abc"}`))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrValidationFailed", err)
	}
}

func TestParseUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"made_up_type"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseMissingType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"session_id":"abc"}`))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrValidationFailed", err)
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"interrupt","session_id":"abc","bogus":true}`))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrValidationFailed", err)
	}
}

func TestParseInvalidJSON(t *testing.T) {
	_, err := ParseClientMessage([]byte(`not json`))
	if !errors.Is(err, ErrValidationFailed) {
		t.Fatalf("ParseClientMessage() error = %v, want ErrValidationFailed", err)
	}
}
