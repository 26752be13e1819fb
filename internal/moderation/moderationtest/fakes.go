// Package moderationtest provides in-memory fakes of the moderation
// capabilities for module tests.
package moderationtest

import (
	"context"
	"sort"
	"sync"
	"time"

	"stakan-guard/internal/moderation"
)

type FakeTimer struct {
	clock   *FakeClock
	due     time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *FakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// FakeClock only fires timers from Advance.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*FakeTimer
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *FakeClock) AfterFunc(d time.Duration, fn func()) moderation.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &FakeTimer{clock: c, due: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves the clock forward and runs every due timer in due order,
// including timers scheduled by the callbacks themselves.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()

	for {
		timer := c.nextDue()
		if timer == nil {
			return
		}
		timer.fn()
	}
}

// Pending returns the number of timers that are neither stopped nor fired.
func (c *FakeClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	count := 0
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired {
			count++
		}
	}
	return count
}

func (c *FakeClock) nextDue() *FakeTimer {
	c.mu.Lock()
	defer c.mu.Unlock()
	sort.SliceStable(c.timers, func(i, j int) bool { return c.timers[i].due.Before(c.timers[j].due) })
	for _, timer := range c.timers {
		if timer.stopped || timer.fired || timer.due.After(c.now) {
			continue
		}
		timer.fired = true
		return timer
	}
	return nil
}

type RoleCall struct {
	GuildID string
	UserID  string
	Reason  string
}

// Roles records grant and revoke calls. Errors keyed by user id are returned
// for that user.
type Roles struct {
	mu        sync.Mutex
	Grants    []RoleCall
	Revokes   []RoleCall
	GrantErr  map[string]error
	RevokeErr map[string]error
}

func NewRoles() *Roles {
	return &Roles{GrantErr: map[string]error{}, RevokeErr: map[string]error{}}
}

func (r *Roles) GrantMuted(_ context.Context, guildID, userID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.GrantErr[userID]; err != nil {
		return err
	}
	r.Grants = append(r.Grants, RoleCall{GuildID: guildID, UserID: userID, Reason: reason})
	return nil
}

func (r *Roles) RevokeMuted(_ context.Context, guildID, userID, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.RevokeErr[userID]; err != nil {
		return err
	}
	r.Revokes = append(r.Revokes, RoleCall{GuildID: guildID, UserID: userID, Reason: reason})
	return nil
}

func (r *Roles) GrantCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Grants)
}

func (r *Roles) RevokeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.Revokes)
}

func (r *Roles) Granted(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, call := range r.Grants {
		if call.UserID == userID {
			return true
		}
	}
	return false
}

type Notifier struct {
	mu   sync.Mutex
	sent []moderation.Notification
}

func (n *Notifier) Notify(_ context.Context, notification moderation.Notification) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, notification)
}

// Kinds returns the kinds delivered to surface, in order.
func (n *Notifier) Kinds(surface moderation.Surface) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var kinds []string
	for _, notification := range n.sent {
		if notification.Surface == surface {
			kinds = append(kinds, notification.Kind)
		}
	}
	return kinds
}

// Last returns the last notification of kind, if any.
func (n *Notifier) Last(kind string) (moderation.Notification, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].Kind == kind {
			return n.sent[i], true
		}
	}
	return moderation.Notification{}, false
}

func (n *Notifier) Count(kind string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	count := 0
	for _, notification := range n.sent {
		if notification.Kind == kind {
			count++
		}
	}
	return count
}

// Authorizer allows everything except the listed targets and actors.
// TargetErr fails CanModerate for a target, as a lookup of a member who
// left would.
type Authorizer struct {
	Denied       map[string]string
	DeniedActors map[string]string
	TargetErr    map[string]error
	Err          error
}

func (a Authorizer) CanInvoke(_ context.Context, _, actorID string) (moderation.Decision, error) {
	if a.Err != nil {
		return moderation.Decision{}, a.Err
	}
	if reason, ok := a.DeniedActors[actorID]; ok {
		return moderation.Deny(reason), nil
	}
	return moderation.Allow(), nil
}

func (a Authorizer) CanModerate(ctx context.Context, guildID, actorID, targetID string) (moderation.Decision, error) {
	if decision, err := a.CanInvoke(ctx, guildID, actorID); err != nil || !decision.Allowed {
		return decision, err
	}
	if err := a.TargetErr[targetID]; err != nil {
		return moderation.Decision{}, err
	}
	if reason, ok := a.Denied[targetID]; ok {
		return moderation.Deny(reason), nil
	}
	return moderation.Allow(), nil
}

// Confirmer answers with Answer or Err, recording each request.
type Confirmer struct {
	mu       sync.Mutex
	Answer   bool
	Err      error
	Requests []moderation.ConfirmRequest
	// Hook runs before answering; tests use it to interleave calls.
	Hook func()
}

func (c *Confirmer) Confirm(_ context.Context, req moderation.ConfirmRequest) (bool, error) {
	c.mu.Lock()
	c.Requests = append(c.Requests, req)
	hook := c.Hook
	c.mu.Unlock()
	if hook != nil {
		hook()
	}
	return c.Answer, c.Err
}

type Roster struct {
	Members []moderation.Member
	Err     error
}

func (r Roster) ChannelMembers(context.Context, string, string) ([]moderation.Member, error) {
	return r.Members, r.Err
}

// FieldValue returns the value of the named field.
func FieldValue(n moderation.Notification, name string) string {
	for _, field := range n.Fields {
		if field.Name == name {
			return field.Value
		}
	}
	return ""
}
