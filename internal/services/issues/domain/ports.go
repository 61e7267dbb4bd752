package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ActionsPort is the manual state-transition surface exposed to transports
type ActionsPort interface {
	Mute(ctx context.Context, issueID uuid.UUID, conditionsJSON string, unmuteAfter *time.Time) error
	Unmute(ctx context.Context, issueID uuid.UUID) error
	Resolve(ctx context.Context, issueID uuid.UUID) error
}
