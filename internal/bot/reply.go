package bot

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
)

type replyKey struct{}

// reply is a deferred interaction response. The first message edits the
// deferred response, later ones become follow-ups.
type reply struct {
	session     *discordgo.Session
	interaction *discordgo.Interaction

	mu   sync.Mutex
	sent bool
}

func newReply(session *discordgo.Session, interaction *discordgo.Interaction) *reply {
	return &reply{session: session, interaction: interaction}
}

func withReply(ctx context.Context, r *reply) context.Context {
	return context.WithValue(ctx, replyKey{}, r)
}

func replyFrom(ctx context.Context) *reply {
	r, _ := ctx.Value(replyKey{}).(*reply)
	return r
}

func (r *reply) channelID() string {
	return r.interaction.ChannelID
}

func (r *reply) send(content string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.sent {
		if _, err := r.session.InteractionResponseEdit(r.interaction, &discordgo.WebhookEdit{Content: &content}); err != nil {
			return err
		}
		r.sent = true
		return nil
	}
	_, err := r.session.FollowupMessageCreate(r.interaction, true, &discordgo.WebhookParams{Content: content})
	return err
}

// finish removes the "thinking" placeholder when nothing was sent.
func (r *reply) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sent {
		return
	}
	_ = r.session.InteractionResponseDelete(r.interaction)
	r.sent = true
}

func respondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	_ = s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
