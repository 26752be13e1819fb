// Package moderation holds the contracts shared by the moderation modules:
// the error taxonomy, the capabilities consumed from the chat adapter and the
// clock used for every timer.
package moderation

import (
	"context"
	"time"
)

// Surface selects where a notification is delivered.
type Surface string

const (
	SurfaceChannel Surface = "channel"
	SurfaceModLog  Surface = "mod_log"
	SurfaceAlerts  Surface = "alerts"
)

type Field struct {
	Name  string
	Value string
}

type Notification struct {
	Surface   Surface
	GuildID   string
	ChannelID string
	Kind      string
	Content   string
	Fields    []Field
}

// Notifier delivers notifications. Delivery is fire-and-forget: implementations
// log failures instead of returning them.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NopNotifier drops every notification.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, Notification) {}

// Roles grants and revokes the muted status. Errors wrap ErrForbidden,
// ErrNotFound or ErrRoleMissing.
type Roles interface {
	GrantMuted(ctx context.Context, guildID, userID, reason string) error
	RevokeMuted(ctx context.Context, guildID, userID, reason string) error
}

type Decision struct {
	Allowed bool
	Reason  string
}

func Allow() Decision { return Decision{Allowed: true} }

func Deny(reason string) Decision { return Decision{Reason: reason} }

// Err returns nil for an allowed decision and a *PermissionError otherwise.
func (d Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return &PermissionError{Reason: d.Reason}
}

// Authorizer is the single moderation policy. CanInvoke checks the actor
// alone, for read-only commands such as listing warnings.
type Authorizer interface {
	CanModerate(ctx context.Context, guildID, actorID, targetID string) (Decision, error)
	CanInvoke(ctx context.Context, guildID, actorID string) (Decision, error)
}

type ConfirmRequest struct {
	GuildID   string
	ChannelID string
	ActorID   string
	Prompt    string
	Timeout   time.Duration
}

// Confirmer asks a member a yes/no question. It returns ErrTimeout when no
// answer arrives within the request timeout.
type Confirmer interface {
	Confirm(ctx context.Context, req ConfirmRequest) (bool, error)
}

type Member struct {
	ID         string
	Bot        bool
	Privileged bool
}

// Roster lists the members able to read a channel.
type Roster interface {
	ChannelMembers(ctx context.Context, guildID, channelID string) ([]Member, error)
}
