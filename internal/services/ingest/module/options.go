package module

import (
	"bugsink/internal/platform/config"
)

// Options configures the ingest module
type Options struct {
	// Per-project digestion quotas; 0 disables the respective threshold
	MaxEventsPer5Minutes int
	MaxEventsPerHour     int

	// Request payload caps for the transport
	MaxEventBytes    int
	MaxEnvelopeBytes int

	// CleanupBatch caps one post-commit blob-cleanup drain
	CleanupBatch int
}

// FromConfig reads options from config.Conf
func FromConfig(cfg config.Conf) Options {
	in := cfg.Prefix("INGEST_")
	return Options{
		MaxEventsPer5Minutes: in.MayInt("MAX_EVENTS_PER_PROJECT_PER_5_MINUTES", 1000),
		MaxEventsPerHour:     in.MayInt("MAX_EVENTS_PER_PROJECT_PER_HOUR", 5000),
		MaxEventBytes:        in.MayInt("MAX_EVENT_BYTES", 1<<20),
		MaxEnvelopeBytes:     in.MayInt("MAX_ENVELOPE_BYTES", 100<<20),
		CleanupBatch:         in.MayInt("CLEANUP_BATCH", 100),
	}
}
