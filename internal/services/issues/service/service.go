// Package service implements issue state transitions.
//
// The functions here combine the field-setting for each transition in a
// single place; persisting the mutated issue is the caller's job, which
// keeps each transition usable both from the digest path (inside the write
// transaction) and from manual state changes.
package service

import (
	"fmt"
	"time"

	"bugsink/internal/services/issues/domain"
)

// Resolve marks the issue resolved. An issue cannot be both resolved and
// muted: muted means "the problem persists but don't tell me", resolved
// means "the problem is gone", so resolving unmutes as an override.
func Resolve(issue *domain.Issue) {
	issue.IsResolved = true
	Unmute(issue)
}

// Reopen clears the resolved flag when a regression is observed. There is
// no UI path for this; a fresh event on a resolved issue is the only way
// in. Unmuting here is after-the-fact consistency enforcement: the issue
// arrives from a resolved (hence unmuted) state anyway.
func Reopen(issue *domain.Issue) {
	issue.IsResolved = false
	Unmute(issue)
}

// Mute mutes the issue with the given volume-based unmute conditions
// (JSON, "[]" for none) and optional deadline. Muting a resolved issue is
// a caller error: "I don't care" after "it's gone" has no meaning.
func Mute(issue *domain.Issue, volumeBasedConditions string, unmuteAfter *time.Time) error {
	if issue.IsResolved {
		return fmt.Errorf("cannot mute a resolved issue")
	}

	issue.IsMuted = true
	issue.UnmuteOnVolumeBasedConditions = volumeBasedConditions
	// 0 means the first real (expensive) unmute check runs on-digest.
	// Computing the correct value now would cost exactly that check, so
	// postponing is better; resetting is still needed when a previous mute
	// left a value behind.
	issue.NextUnmuteCheck = 0

	if unmuteAfter != nil {
		issue.UnmuteAfter = unmuteAfter
	}
	return nil
}

// Unmute clears the mute state and reports whether the issue was actually
// muted. The explicit is-muted check matters: a single event can satisfy
// several unmute conditions at once, and only the first one should produce
// a turning point or alert. Callers that need those side effects act on
// the returned bool.
func Unmute(issue *domain.Issue) bool {
	if !issue.IsMuted {
		return false
	}
	issue.IsMuted = false
	issue.UnmuteOnVolumeBasedConditions = "[]"
	issue.UnmuteAfter = nil
	return true
}

// UnmuteThresholds parses the issue's volume-based unmute conditions. The
// list contains 0 or 1 elements with the current UI but parsing stays
// robust for more.
func UnmuteThresholds(issue *domain.Issue) ([]domain.VolumeBasedCondition, error) {
	vbcs, err := domain.ParseVolumeBasedConditions(issue.UnmuteOnVolumeBasedConditions)
	if err != nil {
		return nil, fmt.Errorf("issue %s: %w", issue.ID, err)
	}
	return vbcs, nil
}
