package sentry

import (
	"strings"
	"testing"
)

func TestParseEnvelope_LengthPrefixedItems(t *testing.T) {
	t.Parallel()

	env := `{"event_id":"abc"}` + "\n" +
		`{"type":"event","length":19}` + "\n" +
		`{"event_id":"abc"}X` + "\n" +
		`{"type":"attachment","length":3}` + "\n" +
		"xyz"

	header, items, err := ParseEnvelope(strings.NewReader(env))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if header.EventID != "abc" {
		t.Fatalf("header event id = %q", header.EventID)
	}
	if len(items) != 2 {
		t.Fatalf("want 2 items, got %d", len(items))
	}
	if items[0].Header.Type != "event" || string(items[0].Payload) != `{"event_id":"abc"}X` {
		t.Fatalf("item 0 = %+v", items[0])
	}
	if items[1].Header.Type != "attachment" || string(items[1].Payload) != "xyz" {
		t.Fatalf("item 1 = %+v", items[1])
	}
}

func TestParseEnvelope_NewlineDelimitedItems(t *testing.T) {
	t.Parallel()

	env := `{}` + "\n" +
		`{"type":"event"}` + "\n" +
		`{"message":"hi"}` + "\n"

	_, items, err := ParseEnvelope(strings.NewReader(env))
	if err != nil {
		t.Fatalf("ParseEnvelope: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("want 1 item, got %d", len(items))
	}
	if string(items[0].Payload) != `{"message":"hi"}` {
		t.Fatalf("payload = %q", items[0].Payload)
	}
}

func TestParseEnvelope_TruncatedPayloadErrors(t *testing.T) {
	t.Parallel()

	env := `{}` + "\n" +
		`{"type":"event","length":100}` + "\n" +
		"short"

	if _, _, err := ParseEnvelope(strings.NewReader(env)); err == nil {
		t.Fatalf("truncated length-prefixed payload must error")
	}
}

func TestParseEnvelope_RejectsNegativeLength(t *testing.T) {
	t.Parallel()

	env := `{}` + "\n" +
		`{"type":"event","length":-7}` + "\n" +
		"xyz"

	if _, _, err := ParseEnvelope(strings.NewReader(env)); err == nil {
		t.Fatalf("negative item length must error")
	}
}

func TestParseEnvelope_HugeLengthErrorsWithoutAllocating(t *testing.T) {
	t.Parallel()

	// a declared length far past the actual body must fail as truncated,
	// not reserve the declared amount
	env := `{}` + "\n" +
		`{"type":"event","length":4611686018427387904}` + "\n" +
		"xyz"

	if _, _, err := ParseEnvelope(strings.NewReader(env)); err == nil {
		t.Fatalf("overlong item length must error")
	}
}

func TestParseEnvelope_EmptyInputErrors(t *testing.T) {
	t.Parallel()

	if _, _, err := ParseEnvelope(strings.NewReader("")); err == nil {
		t.Fatalf("empty envelope must error")
	}
}
