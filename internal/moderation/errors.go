package moderation

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
	ErrInvalidInput     = errors.New("invalid input")
	ErrAlreadyInState   = errors.New("already in state")
	ErrOnCooldown       = errors.New("on cooldown")
	ErrTimeout          = errors.New("timed out")

	// ErrRoleMissing means the configured muted role does not exist in the guild.
	ErrRoleMissing = errors.New("muted role missing")
	// ErrForbidden means the bot lacks the privilege to change a member's roles.
	ErrForbidden = errors.New("forbidden")
	ErrDeclined  = errors.New("declined")
)

var (
	ErrNotMuted       = fmt.Errorf("%w: not muted", ErrAlreadyInState)
	ErrAlreadyMuted   = fmt.Errorf("%w: already muted", ErrAlreadyInState)
	ErrNoWarnings     = fmt.Errorf("%w: no warnings", ErrAlreadyInState)
	ErrNothingPlanted = fmt.Errorf("%w: nothing planted", ErrAlreadyInState)
	ErrPlantPending   = fmt.Errorf("%w: plant awaiting confirmation", ErrAlreadyInState)
)

// PermissionError carries the reason given by the authorization policy.
type PermissionError struct {
	Reason string
}

func (e *PermissionError) Error() string {
	if e.Reason == "" {
		return ErrPermissionDenied.Error()
	}
	return ErrPermissionDenied.Error() + ": " + e.Reason
}

func (e *PermissionError) Is(target error) bool {
	return target == ErrPermissionDenied
}

// CooldownError reports how long until the action is allowed again.
type CooldownError struct {
	Until     time.Time
	Remaining time.Duration
}

func (e *CooldownError) Error() string {
	return fmt.Sprintf("%s: %s remaining", ErrOnCooldown, e.Remaining.Round(time.Second))
}

func (e *CooldownError) Is(target error) bool {
	return target == ErrOnCooldown
}
