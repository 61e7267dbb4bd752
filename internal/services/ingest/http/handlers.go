// Package http provides the sentry-compatible ingestion transport
package http

import (
	"compress/gzip"
	"compress/zlib"
	"io"
	"math"
	stdhttp "net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"bugsink/internal/adapters/sentry"
	"bugsink/internal/modkit/httpkit"
	perr "bugsink/internal/platform/errors"
	"bugsink/internal/services/ingest/domain"
)

// Limits caps request payload sizes; zero fields get protocol defaults
type Limits struct {
	MaxEventBytes    int64
	MaxEnvelopeBytes int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxEventBytes <= 0 {
		l.MaxEventBytes = 1 << 20
	}
	if l.MaxEnvelopeBytes <= 0 {
		l.MaxEnvelopeBytes = 100 << 20
	}
	return l
}

// Register mounts the sentry-protocol ingestion endpoints. The trailing
// slashes match the paths sentry SDKs construct from a DSN.
func Register(r httpkit.Router, svc domain.DigesterPort, limits Limits) {
	h := &handlers{
		svc:    svc,
		limits: limits.withDefaults(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	r.Post("/api/{project_id}/store/", httpkit.Handle(h.store))
	r.Post("/api/{project_id}/envelope/", httpkit.Handle(h.envelope))
}

type handlers struct {
	svc    domain.DigesterPort
	limits Limits
	now    func() time.Time
}

// store accepts the deprecated bare-event endpoint; one event per request
func (h *handlers) store(r *stdhttp.Request) httpkit.Response {
	projectID, err := projectID(r)
	if err != nil {
		return httpkit.Error(err)
	}

	raw, err := h.readBody(r, h.limits.MaxEventBytes)
	if err != nil {
		return httpkit.Error(err)
	}

	ingestedAt := h.now()
	res, err := h.digestEvent(r, projectID, raw, ingestedAt)
	if err != nil {
		return httpkit.Error(err)
	}
	if !res.Accepted {
		return overQuota(res, ingestedAt)
	}
	return httpkit.OK(map[string]string{"id": res.ClientEventID})
}

// envelope accepts the sentry envelope endpoint; only event items are
// digested, everything else (sessions, attachments) is skipped
func (h *handlers) envelope(r *stdhttp.Request) httpkit.Response {
	projectID, err := projectID(r)
	if err != nil {
		return httpkit.Error(err)
	}

	body, err := h.bodyReader(r, h.limits.MaxEnvelopeBytes)
	if err != nil {
		return httpkit.Error(err)
	}

	header, items, err := sentry.ParseEnvelope(body)
	if err != nil {
		return httpkit.Error(err)
	}

	ingestedAt := h.now()
	for _, item := range items {
		if item.Header.Type != "event" {
			continue
		}
		res, err := h.digestEvent(r, projectID, item.Payload, ingestedAt)
		if err != nil {
			return httpkit.Error(err)
		}
		if !res.Accepted {
			return overQuota(res, ingestedAt)
		}
	}
	return httpkit.OK(map[string]string{"id": header.EventID})
}

type digestOutcome struct {
	domain.DigestResult
	ClientEventID string
}

func (h *handlers) digestEvent(
	r *stdhttp.Request, projectID uuid.UUID, raw []byte, ingestedAt time.Time,
) (digestOutcome, error) {
	ex, err := sentry.Extract(raw, ingestedAt)
	if err != nil {
		return digestOutcome{}, err
	}

	res, err := h.svc.Digest(r.Context(), domain.DigestInput{
		ProjectID:       projectID,
		EventID:         ex.EventID,
		Timestamp:       ex.Timestamp,
		IngestedAt:      ingestedAt,
		CalculatedType:  ex.CalculatedType,
		CalculatedValue: ex.CalculatedValue,
		GroupingKey:     ex.GroupingKey,
		Data:            string(raw),
		Tags:            ex.Tags,
	})
	if err != nil {
		return digestOutcome{}, err
	}
	return digestOutcome{DigestResult: res, ClientEventID: ex.EventID}, nil
}

// overQuota maps a dropped digestion to 429; sentry SDKs back off on the
// Retry-After header and default to 60s without one
func overQuota(res digestOutcome, now time.Time) httpkit.Response {
	hdr := stdhttp.Header{}
	if res.QuotaUntil != nil && res.QuotaUntil.After(now) {
		secs := int64(math.Ceil(res.QuotaUntil.Sub(now).Seconds()))
		hdr.Set("Retry-After", strconv.FormatInt(secs, 10))
	}
	return httpkit.Response{Status: stdhttp.StatusTooManyRequests, Header: hdr}
}

func projectID(r *stdhttp.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(httpkit.Param(r, "project_id"))
	if err != nil {
		return uuid.Nil, perr.InvalidArgf("project_id: %v", err)
	}
	return id, nil
}

// readBody slurps a size-capped, transparently decompressed request body
func (h *handlers) readBody(r *stdhttp.Request, limit int64) ([]byte, error) {
	body, err := h.bodyReader(r, limit)
	if err != nil {
		return nil, err
	}
	raw, err := io.ReadAll(body)
	if err != nil {
		return nil, perr.InvalidArgf("request body: %v", err)
	}
	return raw, nil
}

// bodyReader applies the size cap before decompression too, so
// uncompressed senders face the same pre-inflate maximum
func (h *handlers) bodyReader(r *stdhttp.Request, limit int64) (io.Reader, error) {
	var rd io.Reader = stdhttp.MaxBytesReader(nil, r.Body, limit)
	switch r.Header.Get("Content-Encoding") {
	case "gzip":
		gz, err := gzip.NewReader(rd)
		if err != nil {
			return nil, perr.InvalidArgf("gzip body: %v", err)
		}
		rd = gz
	case "deflate":
		zr, err := zlib.NewReader(rd)
		if err != nil {
			return nil, perr.InvalidArgf("deflate body: %v", err)
		}
		rd = zr
	case "", "identity":
	default:
		return nil, perr.InvalidArgf("unsupported content-encoding %q", r.Header.Get("Content-Encoding"))
	}
	return io.LimitReader(rd, limit), nil
}
