package bot

import "github.com/bwmarrin/discordgo"

const (
	cmdMute       = "mute"
	cmdUnmute     = "unmute"
	cmdWarn       = "warn"
	cmdWarnRemove = "warnremove"
	cmdWarnings   = "warnings"
	cmdBomb       = "bomb"
	cmdDefuse     = "defuse"
	cmdModReport  = "modreport"
	cmdMuteAll    = "muteall"
	cmdRoulette   = "roulette"
	cmdSelfBan    = "selfban"
)

func localized(ru, en string) *map[discordgo.Locale]string {
	return &map[discordgo.Locale]string{
		discordgo.Russian:   ru,
		discordgo.EnglishUS: en,
	}
}

func userOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionUser,
		Name:                     "user",
		Description:              "Member",
		DescriptionLocalizations: *localized("Участник", "Member"),
		Required:                 required,
	}
}

func reasonOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:                     discordgo.ApplicationCommandOptionString,
		Name:                     "reason",
		Description:              "Reason",
		DescriptionLocalizations: *localized("Причина", "Reason"),
		MaxLength:                500,
	}
}

func commandDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:                     cmdMute,
			Description:              "Mute a member for a while",
			DescriptionLocalizations: localized("Замьютить участника на время", "Mute a member for a while"),
			Options: []*discordgo.ApplicationCommandOption{
				userOption(true),
				{
					Type:                     discordgo.ApplicationCommandOptionString,
					Name:                     "duration",
					Description:              "1d, 2h, 30m or 60s",
					DescriptionLocalizations: *localized("1d, 2h, 30m или 60s", "1d, 2h, 30m or 60s"),
					Required:                 true,
				},
				reasonOption(),
			},
		},
		{
			Name:                     cmdUnmute,
			Description:              "Lift a mute",
			DescriptionLocalizations: localized("Снять мьют", "Lift a mute"),
			Options:                  []*discordgo.ApplicationCommandOption{userOption(true)},
		},
		{
			Name:                     cmdWarn,
			Description:              "Warn a member",
			DescriptionLocalizations: localized("Выдать предупреждение", "Warn a member"),
			Options:                  []*discordgo.ApplicationCommandOption{userOption(true), reasonOption()},
		},
		{
			Name:                     cmdWarnRemove,
			Description:              "Remove all warnings of a member",
			DescriptionLocalizations: localized("Снять все предупреждения", "Remove all warnings of a member"),
			Options:                  []*discordgo.ApplicationCommandOption{userOption(true)},
		},
		{
			Name:                     cmdWarnings,
			Description:              "List the warnings of a member",
			DescriptionLocalizations: localized("Показать предупреждения", "List the warnings of a member"),
			Options:                  []*discordgo.ApplicationCommandOption{userOption(true)},
		},
		{
			Name:                     cmdBomb,
			Description:              "Defuse-the-bomb game",
			DescriptionLocalizations: localized("Игра «обезвредь бомбу»", "Defuse-the-bomb game"),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:                     discordgo.ApplicationCommandOptionSubCommand,
					Name:                     "plant",
					Description:              "Plant a bomb in this channel",
					DescriptionLocalizations: *localized("Заложить бомбу в этом канале", "Plant a bomb in this channel"),
				},
				{
					Type:                     discordgo.ApplicationCommandOptionSubCommand,
					Name:                     "status",
					Description:              "Show the bomb state and cooldown",
					DescriptionLocalizations: *localized("Состояние бомбы и кулдаун", "Show the bomb state and cooldown"),
				},
			},
		},
		{
			Name:                     cmdDefuse,
			Description:              "Try to defuse the bomb",
			DescriptionLocalizations: localized("Попробовать обезвредить бомбу", "Try to defuse the bomb"),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:                     discordgo.ApplicationCommandOptionString,
					Name:                     "code",
					Description:              "Four digit code",
					DescriptionLocalizations: *localized("Четырёхзначный код", "Four digit code"),
					Required:                 true,
				},
			},
		},
		{
			Name:                     cmdMuteAll,
			Description:              "Mute everyone in this channel for an hour",
			DescriptionLocalizations: localized("Замьютить всех в этом канале на час", "Mute everyone in this channel for an hour"),
			Options:                  []*discordgo.ApplicationCommandOption{reasonOption()},
		},
		{
			Name:                     cmdRoulette,
			NameLocalizations:        &map[discordgo.Locale]string{discordgo.Russian: "рулетка"},
			Description:              "Russian roulette: one in six gets a one minute mute",
			DescriptionLocalizations: localized("Русская рулетка: либо жив, либо мьют на минуту", "Russian roulette: one in six gets a one minute mute"),
		},
		{
			Name:                     cmdSelfBan,
			NameLocalizations:        &map[discordgo.Locale]string{discordgo.Russian: "хуябля"},
			Description:              "Mute yourself for a minute",
			DescriptionLocalizations: localized("Отправить себя в бан на целую минуту", "Mute yourself for a minute"),
		},
		{
			Name:                     cmdModReport,
			Description:              "Moderation activity report",
			DescriptionLocalizations: localized("Отчёт о модерации", "Moderation activity report"),
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:                     discordgo.ApplicationCommandOptionString,
					Name:                     "period",
					Description:              "day or week",
					DescriptionLocalizations: *localized("day или week", "day or week"),
					Required:                 true,
					Choices: []*discordgo.ApplicationCommandOptionChoice{
						{Name: "day", Value: "day"},
						{Name: "week", Value: "week"},
					},
				},
			},
		},
	}
}

// registerCommands creates or updates the commands and deletes stale ones.
// A configured guild id scopes them to that guild.
func (b *Bot) registerCommands() error {
	commands := commandDefinitions()
	appID := b.session.State.User.ID
	scope := b.cfg.GuildID

	existing, err := b.session.ApplicationCommands(appID, scope)
	if err != nil {
		for _, cmd := range commands {
			if _, err := b.session.ApplicationCommandCreate(appID, scope, cmd); err != nil {
				return err
			}
		}
		return nil
	}

	existingByName := make(map[string]*discordgo.ApplicationCommand, len(existing))
	for _, cmd := range existing {
		existingByName[cmd.Name] = cmd
	}

	desired := make(map[string]struct{}, len(commands))
	for _, cmd := range commands {
		desired[cmd.Name] = struct{}{}
		if current, ok := existingByName[cmd.Name]; ok {
			if _, err := b.session.ApplicationCommandEdit(appID, scope, current.ID, cmd); err != nil {
				return err
			}
			continue
		}
		if _, err := b.session.ApplicationCommandCreate(appID, scope, cmd); err != nil {
			return err
		}
	}

	for _, cmd := range existing {
		if _, ok := desired[cmd.Name]; ok {
			continue
		}
		_ = b.session.ApplicationCommandDelete(appID, scope, cmd.ID)
	}
	return nil
}
