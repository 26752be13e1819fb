// Package bomb runs the defuse-the-bomb minigame: a member plants a bomb with
// a hidden code and the channel has one hour to guess it before everyone in
// it is muted.
package bomb

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/telemetry"
)

const (
	KindConfirm     = "bomb.confirm"
	KindPlanted     = "bomb.planted"
	KindDefused     = "bomb.defused"
	KindWrongGuess  = "bomb.wrong_guess"
	KindExploded    = "bomb.exploded"
	KindReleased    = "bomb.released"
	explosionReason = "bomb exploded"
	releaseReason   = "bomb mute expired"
)

// ErrArmed is returned when a session exists but the cooldown record is gone.
var ErrArmed = fmt.Errorf("%w: bomb already armed", moderation.ErrAlreadyInState)

type Store interface {
	GetBombCooldown(ctx context.Context, guildID string) (*time.Time, error)
	SetBombCooldown(ctx context.Context, guildID string, until time.Time) error
	ClearBombCooldown(ctx context.Context, guildID string) error
}

// MuteChecker reports persisted mutes so the mass mute leaves them alone.
type MuteChecker interface {
	IsMuted(ctx context.Context, guildID, userID string) (bool, error)
}

type Config struct {
	ConfirmTimeout      time.Duration
	Fuse                time.Duration
	Cooldown            time.Duration
	MassMuteDuration    time.Duration
	MassMuteConcurrency int
}

func (c Config) withDefaults() Config {
	if c.ConfirmTimeout <= 0 {
		c.ConfirmTimeout = 15 * time.Second
	}
	if c.Fuse <= 0 {
		c.Fuse = time.Hour
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 7 * 24 * time.Hour
	}
	if c.MassMuteDuration <= 0 {
		c.MassMuteDuration = time.Hour
	}
	if c.MassMuteConcurrency <= 0 {
		c.MassMuteConcurrency = 8
	}
	return c
}

type session struct {
	id        string
	guildID   string
	channelID string
	plantedBy string
	code      int
	mask      string
	armedAt   time.Time
	expiresAt time.Time
	timer     moderation.Timer
}

type massMute struct {
	id        string
	guildID   string
	channelID string
	members   []string
	timer     moderation.Timer
}

// Session is a read-only view of an armed bomb.
type Session struct {
	ID        string
	GuildID   string
	ChannelID string
	PlantedBy string
	Mask      string
	ArmedAt   time.Time
	ExpiresAt time.Time
}

type PlantRequest struct {
	GuildID   string
	ChannelID string
	ActorID   string
}

type Registry struct {
	config   Config
	store    Store
	roles    moderation.Roles
	confirm  moderation.Confirmer
	roster   moderation.Roster
	mutes    MuteChecker
	notifier moderation.Notifier
	audit    *audit.Logger
	clock    moderation.Clock
	logger   *zap.Logger
	intn     func(n int) int

	mu       sync.Mutex
	sessions map[string]*session
	pending  map[string]struct{}
	releases map[string]*massMute
	// held counts the pending mass mutes covering a member, keyed by holdKey.
	held map[string]int
}

func NewRegistry(cfg Config, store Store, roles moderation.Roles, confirmer moderation.Confirmer, roster moderation.Roster, mutes MuteChecker, notifier moderation.Notifier, auditLogger *audit.Logger, clock moderation.Clock, logger *zap.Logger) *Registry {
	if notifier == nil {
		notifier = moderation.NopNotifier{}
	}
	if clock == nil {
		clock = moderation.SystemClock()
	}
	return &Registry{
		config:   cfg.withDefaults(),
		store:    store,
		roles:    roles,
		confirm:  confirmer,
		roster:   roster,
		mutes:    mutes,
		notifier: notifier,
		audit:    auditLogger,
		clock:    clock,
		logger:   logger,
		intn:     rand.IntN,
		sessions: make(map[string]*session),
		pending:  make(map[string]struct{}),
		releases: make(map[string]*massMute),
		held:     make(map[string]int),
	}
}

// Mask reveals the first and third digit of code: 1732 becomes "1X3X".
func Mask(code int) string {
	digits := strconv.Itoa(code)
	if len(digits) < 4 {
		return strings.Repeat("X", len(digits))
	}
	return string(digits[0]) + "X" + string(digits[2]) + "X"
}

// Plant asks the actor to confirm and arms a bomb in the channel. Only one
// plant per guild may wait for confirmation at a time.
func (r *Registry) Plant(ctx context.Context, req PlantRequest) (info Session, err error) {
	ctx, span := telemetry.StartSpan(ctx, "bomb.Plant", req.GuildID, attribute.String("actor_id", req.ActorID))
	defer func() { telemetry.End(span, err) }()

	if !r.reserve(req.GuildID) {
		return Session{}, moderation.ErrPlantPending
	}
	defer r.unreserve(req.GuildID)

	now := r.clock.Now()
	until, err := r.store.GetBombCooldown(ctx, req.GuildID)
	if err != nil {
		return Session{}, err
	}
	if until != nil && until.After(now) {
		return Session{}, &moderation.CooldownError{Until: *until, Remaining: until.Sub(now)}
	}
	if r.armed(req.GuildID) {
		return Session{}, ErrArmed
	}

	confirmed, err := r.confirm.Confirm(ctx, moderation.ConfirmRequest{
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		ActorID:   req.ActorID,
		Prompt:    KindConfirm,
		Timeout:   r.config.ConfirmTimeout,
	})
	if err == nil && !confirmed {
		err = moderation.ErrDeclined
	}
	if err != nil {
		outcome := "declined"
		if errors.Is(err, moderation.ErrTimeout) {
			outcome = "timeout"
		}
		telemetry.BombOutcomes.WithLabelValues(outcome).Inc()
		if clearErr := r.store.ClearBombCooldown(ctx, req.GuildID); clearErr != nil {
			r.logger.Warn("failed to clear bomb cooldown", zap.String("guild_id", req.GuildID), zap.Error(clearErr))
		}
		return Session{}, err
	}

	now = r.clock.Now()
	code := 1000 + r.intn(1000)
	s := &session{
		id:        uuid.NewString(),
		guildID:   req.GuildID,
		channelID: req.ChannelID,
		plantedBy: req.ActorID,
		code:      code,
		mask:      Mask(code),
		armedAt:   now,
		expiresAt: now.Add(r.config.Fuse),
	}
	if err := r.store.SetBombCooldown(ctx, req.GuildID, now.Add(r.config.Cooldown)); err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	r.sessions[req.GuildID] = s
	id, guildID := s.id, s.guildID
	s.timer = r.clock.AfterFunc(r.config.Fuse, func() { r.explode(guildID, id) })
	info = s.view()
	r.mu.Unlock()

	telemetry.BombOutcomes.WithLabelValues("planted").Inc()
	r.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		Kind:      KindPlanted,
		Fields: []moderation.Field{
			{Name: "user_id", Value: req.ActorID},
			{Name: "mask", Value: s.mask},
			{Name: "minutes", Value: strconv.Itoa(int(r.config.Fuse / time.Minute))},
		},
	})
	r.auditLog(ctx, audit.LevelInfo, req.GuildID, req.ActorID, audit.EventBombPlanted, "mask="+s.mask+" channel="+req.ChannelID)
	r.logger.Info("bomb planted", zap.String("guild_id", req.GuildID), zap.String("session_id", s.id), zap.String("mask", s.mask))
	return info, nil
}

// Defuse checks guess against the armed code. A wrong guess leaves the bomb
// armed and may be retried.
func (r *Registry) Defuse(ctx context.Context, guildID, channelID, actorID, guess string) (bool, error) {
	value, err := strconv.Atoi(strings.TrimSpace(guess))
	if err != nil {
		return false, fmt.Errorf("%w: defuse code %q is not a number", moderation.ErrInvalidInput, guess)
	}

	r.mu.Lock()
	s := r.sessions[guildID]
	if s == nil {
		r.mu.Unlock()
		return false, moderation.ErrNothingPlanted
	}
	if value != s.code {
		r.mu.Unlock()
		r.notifier.Notify(ctx, moderation.Notification{
			Surface:   moderation.SurfaceChannel,
			GuildID:   guildID,
			ChannelID: channelID,
			Kind:      KindWrongGuess,
			Fields:    []moderation.Field{{Name: "user_id", Value: actorID}},
		})
		return false, nil
	}
	delete(r.sessions, guildID)
	if s.timer != nil {
		s.timer.Stop()
	}
	r.mu.Unlock()

	telemetry.BombOutcomes.WithLabelValues("defused").Inc()
	r.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   guildID,
		ChannelID: channelID,
		Kind:      KindDefused,
		Fields:    []moderation.Field{{Name: "user_id", Value: actorID}},
	})
	r.auditLog(ctx, audit.LevelInfo, guildID, actorID, audit.EventBombDefused, "session="+s.id)
	return true, nil
}

type Status struct {
	Armed         bool
	Session       Session
	Remaining     time.Duration
	CooldownUntil *time.Time
	CooldownLeft  time.Duration
}

func (r *Registry) Status(ctx context.Context, guildID string) (Status, error) {
	now := r.clock.Now()
	var status Status

	r.mu.Lock()
	if s := r.sessions[guildID]; s != nil {
		status.Armed = true
		status.Session = s.view()
		status.Remaining = s.expiresAt.Sub(now)
	}
	r.mu.Unlock()

	until, err := r.store.GetBombCooldown(ctx, guildID)
	if err != nil {
		return status, err
	}
	if until != nil && until.After(now) {
		status.CooldownUntil = until
		status.CooldownLeft = until.Sub(now)
	}
	return status, nil
}

// Shutdown disarms every bomb and lifts outstanding mass mutes right away,
// since their release timers do not survive the process.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	for guildID, s := range r.sessions {
		if s.timer != nil {
			s.timer.Stop()
		}
		delete(r.sessions, guildID)
	}
	pending := make([]*massMute, 0, len(r.releases))
	for id, mm := range r.releases {
		if mm.timer != nil {
			mm.timer.Stop()
		}
		pending = append(pending, mm)
		delete(r.releases, id)
	}
	r.mu.Unlock()

	var errs error
	for _, mm := range pending {
		errs = multierr.Append(errs, r.lift(ctx, mm))
	}
	return errs
}

func (r *Registry) explode(guildID, sessionID string) {
	r.mu.Lock()
	s := r.sessions[guildID]
	if s == nil || s.id != sessionID {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, guildID)
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	ctx, span := telemetry.StartSpan(ctx, "bomb.Explode", guildID, attribute.String("session_id", sessionID))
	defer span.End()

	telemetry.BombOutcomes.WithLabelValues("exploded").Inc()
	r.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   guildID,
		ChannelID: s.channelID,
		Kind:      KindExploded,
		Fields:    []moderation.Field{{Name: "minutes", Value: strconv.Itoa(int(r.config.MassMuteDuration / time.Minute))}},
	})

	muted := r.massMute(ctx, s.guildID, s.channelID, explosionReason)
	r.auditLog(ctx, audit.LevelCrit, guildID, s.plantedBy, audit.EventBombExploded, fmt.Sprintf("session=%s channel=%s muted=%d", s.id, s.channelID, len(muted)))
	if len(muted) == 0 {
		return
	}

	r.scheduleRelease(&massMute{id: sessionID, guildID: guildID, channelID: s.channelID, members: muted})
}

func (r *Registry) scheduleRelease(mm *massMute) {
	r.mu.Lock()
	r.releases[mm.id] = mm
	mm.timer = r.clock.AfterFunc(r.config.MassMuteDuration, func() { r.release(mm.id) })
	r.mu.Unlock()
}

func (r *Registry) massMute(ctx context.Context, guildID, channelID, reason string) []string {
	members, err := r.roster.ChannelMembers(ctx, guildID, channelID)
	if err != nil {
		r.logger.Error("failed to list channel members for mass mute", zap.String("guild_id", guildID), zap.String("channel_id", channelID), zap.Error(err))
		return nil
	}

	var (
		mu    sync.Mutex
		muted []string
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MassMuteConcurrency)
	for _, member := range members {
		if member.Bot || member.Privileged || r.persistedMute(gctx, guildID, member.ID) {
			continue
		}
		memberID := member.ID
		g.Go(func() error {
			if err := r.roles.GrantMuted(gctx, guildID, memberID, reason); err != nil {
				r.logger.Warn("failed to mute member", zap.String("guild_id", guildID), zap.String("user_id", memberID), zap.Error(err))
				return nil
			}
			mu.Lock()
			muted = append(muted, memberID)
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	r.mu.Lock()
	for _, memberID := range muted {
		r.held[holdKey(guildID, memberID)]++
	}
	r.mu.Unlock()
	telemetry.BombMassMuted.Add(float64(len(muted)))
	return muted
}

func (r *Registry) release(id string) {
	r.mu.Lock()
	mm := r.releases[id]
	delete(r.releases, id)
	r.mu.Unlock()
	if mm == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	if err := r.lift(ctx, mm); err != nil {
		r.logger.Warn("bomb mass mute release incomplete", zap.String("guild_id", mm.guildID), zap.Error(err))
	}
	r.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   mm.guildID,
		ChannelID: mm.channelID,
		Kind:      KindReleased,
	})
}

func (r *Registry) lift(ctx context.Context, mm *massMute) error {
	var (
		mu   sync.Mutex
		errs error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.MassMuteConcurrency)
	for _, memberID := range mm.members {
		// Another pending mass mute still covers the member.
		if !r.dropHold(mm.guildID, memberID) {
			continue
		}
		// A moderator may have muted the member during the explosion window.
		if r.persistedMute(gctx, mm.guildID, memberID) {
			continue
		}
		g.Go(func() error {
			if err := r.roles.RevokeMuted(gctx, mm.guildID, memberID, releaseReason); err != nil && !errors.Is(err, moderation.ErrNotFound) {
				mu.Lock()
				errs = multierr.Append(errs, fmt.Errorf("release %s: %w", memberID, err))
				mu.Unlock()
				return nil
			}
			telemetry.MutesLifted.WithLabelValues("bomb_release").Inc()
			return nil
		})
	}
	_ = g.Wait()
	r.auditLog(ctx, audit.LevelInfo, mm.guildID, "", audit.EventBombReleased, fmt.Sprintf("session=%s members=%d", mm.id, len(mm.members)))
	return errs
}

// LiftMember ends every pending mass mute hold on one member and revokes the
// role. It reports false when no mass mute covers the member.
func (r *Registry) LiftMember(ctx context.Context, guildID, userID, reason string) (bool, error) {
	key := holdKey(guildID, userID)
	r.mu.Lock()
	if r.held[key] == 0 {
		r.mu.Unlock()
		return false, nil
	}
	delete(r.held, key)
	for _, mm := range r.releases {
		if mm.guildID != guildID {
			continue
		}
		mm.members = slices.DeleteFunc(mm.members, func(id string) bool { return id == userID })
	}
	r.mu.Unlock()

	if err := r.roles.RevokeMuted(ctx, guildID, userID, reason); err != nil {
		return true, fmt.Errorf("lift mass mute of %s: %w", userID, err)
	}
	telemetry.MutesLifted.WithLabelValues("manual").Inc()
	return true, nil
}

// dropHold releases one hold on a member and reports whether it was the last.
func (r *Registry) dropHold(guildID, userID string) bool {
	key := holdKey(guildID, userID)
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[key] <= 1 {
		delete(r.held, key)
		return true
	}
	r.held[key]--
	return false
}

func holdKey(guildID, userID string) string {
	return guildID + "/" + userID
}

func (r *Registry) persistedMute(ctx context.Context, guildID, userID string) bool {
	if r.mutes == nil {
		return false
	}
	muted, err := r.mutes.IsMuted(ctx, guildID, userID)
	if err != nil {
		r.logger.Warn("failed to check mute record", zap.String("guild_id", guildID), zap.String("user_id", userID), zap.Error(err))
		return false
	}
	return muted
}

func (r *Registry) reserve(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.pending[guildID]; ok {
		return false
	}
	r.pending[guildID] = struct{}{}
	return true
}

func (r *Registry) unreserve(guildID string) {
	r.mu.Lock()
	delete(r.pending, guildID)
	r.mu.Unlock()
}

func (r *Registry) armed(guildID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessions[guildID] != nil
}

func (r *Registry) auditLog(ctx context.Context, level, guildID, userID, event, details string) {
	if r.audit != nil {
		r.audit.Log(ctx, level, guildID, userID, event, details)
	}
}

func (s *session) view() Session {
	return Session{
		ID:        s.id,
		GuildID:   s.guildID,
		ChannelID: s.channelID,
		PlantedBy: s.plantedBy,
		Mask:      s.mask,
		ArmedAt:   s.armedAt,
		ExpiresAt: s.expiresAt,
	}
}
