// Package sentry extracts what digestion needs from sentry event payloads
package sentry

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	perr "bugsink/internal/platform/errors"
)

const (
	maxTypeLen  = 128
	maxValueLen = 1024
)

// Extracted is the digestion-relevant slice of a sentry event payload
type Extracted struct {
	EventID   string
	Timestamp time.Time

	CalculatedType  string
	CalculatedValue string
	GroupingKey     string

	Tags map[string]string
}

// event mirrors only the payload fields extraction reads; the full raw
// payload is stored as-is elsewhere
type event struct {
	EventID   string          `json:"event_id"`
	Timestamp json.RawMessage `json:"timestamp"`

	Exception *exceptions `json:"exception"`
	Logentry  *logentry   `json:"logentry"`
	Message   string      `json:"message"`

	Transaction string          `json:"transaction"`
	Fingerprint []string        `json:"fingerprint"`
	Tags        json.RawMessage `json:"tags"`
}

type exceptions struct {
	Values []exceptionValue `json:"values"`
}

// UnmarshalJSON accepts both the wrapped {"values": [...]} form and the
// bare-list shorthand some SDKs send
func (e *exceptions) UnmarshalJSON(b []byte) error {
	trimmed := strings.TrimSpace(string(b))
	if strings.HasPrefix(trimmed, "[") {
		return json.Unmarshal(b, &e.Values)
	}
	type wrapped exceptions
	var w wrapped
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	e.Values = w.Values
	return nil
}

type exceptionValue struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

type logentry struct {
	Message   string `json:"message"`
	Formatted string `json:"formatted"`
}

// Extract pulls event id, timestamp, calculated type/value and the
// grouping key out of a raw sentry event payload.
func Extract(raw []byte, ingestedAt time.Time) (Extracted, error) {
	var ev event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Extracted{}, perr.JSONErrf("event payload: %v", err)
	}
	if ev.EventID == "" {
		return Extracted{}, perr.InvalidArgf("event payload has no event_id")
	}

	ts := parseTimestamp(ev.Timestamp)
	if ts.IsZero() {
		ts = ingestedAt
	}

	calcType, calcValue := typeAndValue(ev)

	return Extracted{
		EventID:         ev.EventID,
		Timestamp:       ts,
		CalculatedType:  calcType,
		CalculatedValue: calcValue,
		GroupingKey:     groupingKey(ev, calcType, calcValue),
		Tags:            parseTags(ev.Tags),
	}, nil
}

// typeAndValue picks the exception (last value wins, matching how sentry
// SDKs order chained exceptions) and falls back to the log message.
func typeAndValue(ev event) (string, string) {
	if ev.Exception != nil && len(ev.Exception.Values) > 0 {
		exc := ev.Exception.Values[len(ev.Exception.Values)-1]
		type_ := exc.Type
		if type_ == "" {
			type_ = "Error"
		}
		return trim(type_, maxTypeLen), trim(exc.Value, maxValueLen)
	}

	msg := ""
	if ev.Logentry != nil {
		msg = ev.Logentry.Message
		if msg == "" {
			msg = ev.Logentry.Formatted
		}
	}
	if msg == "" {
		msg = ev.Message
	}
	if msg = strings.TrimSpace(msg); msg != "" {
		return "Log Message", firstLine(msg)
	}
	return "Log Message", "<no log message>"
}

// groupingKey joins title and transaction; an explicit fingerprint takes
// over, with "{{ default }}" as the hole for the derived key.
func groupingKey(ev event, calcType, calcValue string) string {
	transaction := ev.Transaction
	if transaction == "" {
		transaction = "<no transaction>"
	}
	defaultKey := title(calcType, calcValue) + " ⋄ " + transaction

	if len(ev.Fingerprint) == 0 {
		return defaultKey
	}
	parts := make([]string, len(ev.Fingerprint))
	for i, part := range ev.Fingerprint {
		if part == "{{ default }}" {
			parts[i] = defaultKey
		} else {
			parts[i] = part
		}
	}
	return strings.Join(parts, " ⋄ ")
}

func title(type_, value string) string {
	if value == "" {
		return type_
	}
	return type_ + ": " + firstLine(value)
}

// parseTimestamp accepts RFC3339 strings and numeric unix seconds, the
// two forms the protocol allows; zero time means absent or unparseable
func parseTimestamp(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC()
			}
		}
		if secs, err := strconv.ParseFloat(s, 64); err == nil {
			return unixFloat(secs)
		}
		return time.Time{}
	}
	var secs float64
	if err := json.Unmarshal(raw, &secs); err == nil {
		return unixFloat(secs)
	}
	return time.Time{}
}

func unixFloat(secs float64) time.Time {
	return time.Unix(0, int64(secs*float64(time.Second))).UTC()
}

// parseTags accepts both the map form and the list-of-pairs form
func parseTags(raw json.RawMessage) map[string]string {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]string
	if err := json.Unmarshal(raw, &m); err == nil {
		return m
	}
	var pairs [][2]string
	if err := json.Unmarshal(raw, &pairs); err == nil {
		m = make(map[string]string, len(pairs))
		for _, p := range pairs {
			m[p[0]] = p[1]
		}
		return m
	}
	return nil
}

func trim(s string, n int) string {
	if len(s) <= n {
		return s
	}
	// back off to a rune boundary so a valid payload never stores an
	// invalid UTF-8 fragment
	cut := n - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		return s[:idx]
	}
	return s
}
