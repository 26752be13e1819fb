package bomb

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"

	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/telemetry"
)

const KindChannelMuted = "bomb.channel_muted"

// ErrNobodyToMute is returned when a channel has no member the mass mute may touch.
var ErrNobodyToMute = fmt.Errorf("%w: nobody to mute", moderation.ErrAlreadyInState)

type ChannelMuteRequest struct {
	GuildID   string
	ChannelID string
	ActorID   string
	Reason    string
}

// MuteChannel mutes every eligible member of a channel for the mass-mute
// duration and lifts the mutes afterwards, exactly like an explosion.
// Authorizing the actor is up to the caller.
func (r *Registry) MuteChannel(ctx context.Context, req ChannelMuteRequest) (count int, err error) {
	ctx, span := telemetry.StartSpan(ctx, "bomb.MuteChannel", req.GuildID, attribute.String("channel_id", req.ChannelID))
	defer func() { telemetry.End(span, err) }()

	reason := req.Reason
	if reason == "" {
		reason = "channel muted by " + req.ActorID
	}
	muted := r.massMute(ctx, req.GuildID, req.ChannelID, reason)
	if len(muted) == 0 {
		return 0, ErrNobodyToMute
	}
	r.scheduleRelease(&massMute{id: uuid.NewString(), guildID: req.GuildID, channelID: req.ChannelID, members: muted})

	r.notifier.Notify(ctx, moderation.Notification{
		Surface:   moderation.SurfaceChannel,
		GuildID:   req.GuildID,
		ChannelID: req.ChannelID,
		Kind:      KindChannelMuted,
		Fields: []moderation.Field{
			{Name: "user_id", Value: req.ActorID},
			{Name: "count", Value: strconv.Itoa(len(muted))},
			{Name: "minutes", Value: strconv.Itoa(int(r.config.MassMuteDuration / time.Minute))},
			{Name: "reason", Value: req.Reason},
		},
	})
	r.auditLog(ctx, audit.LevelCrit, req.GuildID, req.ActorID, audit.EventChannelMuted, fmt.Sprintf("channel=%s muted=%d reason=%s", req.ChannelID, len(muted), req.Reason))
	return len(muted), nil
}
