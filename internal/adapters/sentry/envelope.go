package sentry

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"

	perr "bugsink/internal/platform/errors"
)

// EnvelopeHeader is the first line of a sentry envelope
type EnvelopeHeader struct {
	EventID string `json:"event_id"`
}

// ItemHeader precedes each envelope item
type ItemHeader struct {
	Type   string `json:"type"`
	Length *int64 `json:"length"`
}

// Item is one envelope item with its raw payload
type Item struct {
	Header  ItemHeader
	Payload []byte
}

// ParseEnvelope reads a sentry envelope: one header line, then item
// header/payload pairs. Items with an explicit length are read exactly;
// items without one run to the next newline (or EOF for the last item).
func ParseEnvelope(r io.Reader) (EnvelopeHeader, []Item, error) {
	br := bufio.NewReader(r)

	var header EnvelopeHeader
	line, err := readLine(br)
	if len(line) == 0 {
		return EnvelopeHeader{}, nil, perr.InvalidArgf("envelope: missing header line")
	}
	if err != nil && err != io.EOF {
		return EnvelopeHeader{}, nil, perr.InvalidArgf("envelope: %v", err)
	}
	if err := json.Unmarshal(line, &header); err != nil {
		return EnvelopeHeader{}, nil, perr.JSONErrf("envelope header: %v", err)
	}

	var items []Item
	for {
		line, err := readLine(br)
		if err == io.EOF && len(line) == 0 {
			return header, items, nil
		}
		if err != nil && err != io.EOF {
			return EnvelopeHeader{}, nil, perr.InvalidArgf("envelope: %v", err)
		}
		if len(bytes.TrimSpace(line)) == 0 {
			// trailing newline after the last item
			continue
		}

		var ih ItemHeader
		if err := json.Unmarshal(line, &ih); err != nil {
			return EnvelopeHeader{}, nil, perr.JSONErrf("envelope item header: %v", err)
		}

		var payload []byte
		if ih.Length != nil {
			n := *ih.Length
			if n < 0 {
				return EnvelopeHeader{}, nil, perr.InvalidArgf("envelope item: negative length %d", n)
			}
			// the declared length is client input: read up to it instead
			// of allocating it up front, so a bogus value cannot reserve
			// more memory than the body actually carries
			var buf bytes.Buffer
			if m, err := io.CopyN(&buf, br, n); err != nil || m != n {
				return EnvelopeHeader{}, nil, perr.InvalidArgf("envelope item: truncated payload")
			}
			payload = buf.Bytes()
			// each length-prefixed payload is newline-terminated unless
			// it is the very last bytes of the envelope
			if nl, err := br.ReadByte(); err == nil && nl != '\n' {
				return EnvelopeHeader{}, nil, perr.InvalidArgf("envelope item: payload not newline-terminated")
			}
		} else {
			payload, err = readLine(br)
			if err != nil && err != io.EOF {
				return EnvelopeHeader{}, nil, perr.InvalidArgf("envelope item: %v", err)
			}
		}
		items = append(items, Item{Header: ih, Payload: payload})
	}
}

// readLine returns one line without its trailing newline; io.EOF with a
// non-empty line means the input did not end in a newline
func readLine(br *bufio.Reader) ([]byte, error) {
	line, err := br.ReadBytes('\n')
	if len(line) > 0 && line[len(line)-1] == '\n' {
		line = line[:len(line)-1]
		return line, nil
	}
	return line, err
}
