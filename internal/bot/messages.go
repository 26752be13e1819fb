package bot

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"stakan-guard/internal/access"
	"stakan-guard/internal/analytics"
	"stakan-guard/internal/moderation"
	"stakan-guard/internal/modules/antispam"
	"stakan-guard/internal/modules/audit"
	"stakan-guard/internal/modules/bomb"
	"stakan-guard/internal/modules/mute"
	"stakan-guard/internal/modules/roulette"
	"stakan-guard/internal/modules/warnings"
	"stakan-guard/internal/storage"
)

const (
	kindMemberJoined = "member.joined"
	kindMemberLeft   = "member.left"
)

// warningTimeLayout renders warning timestamps as dd-mm-yyyy HH-MM.
const warningTimeLayout = "02-01-2006 15-04"

var catalog = map[string]map[string]string{
	"ru": {
		mute.KindMuted:         "<@%s> замьючен на %s. Причина: %s",
		mute.KindUnmuted:       "<@%s> был размьючен.",
		mute.KindExpired:       "Мьют <@%s> истёк.",
		warnings.KindWarned:    "<@%s> получил предупреждение. Причина: %s. Предупреждений за 24 часа: %s/%s.",
		warnings.KindCleared:   "Все предупреждения <@%s> были удалены.",
		bomb.KindConfirm:       "<@%s>, подтвердите действие:",
		bomb.KindPlanted:       "**Bomb has been planted.**\nПользователь <@%s> заложил бомбу в чате!\n\n\nДля разминирования нужно вписать команду `/defuse` и ваш вариант. Например: `/defuse 1723`.\n**На разминирование даётся %s!**\n\nПодсказка: %s.",
		bomb.KindDefused:       "Bomb has been defused! Пользователь <@%s> угадал код и спас чат!",
		bomb.KindWrongGuess:    "Неверно! Попробуйте ещё раз!",
		bomb.KindExploded:      "Terrorist win! Время вышло! Все участники чата были замьючены на %s.",
		bomb.KindReleased:      "Все участники канала были размьючены.",
		antispam.KindAlert:     "Подозрительная активность <@%s> (%s).\nКаналы: %s\nСообщений за окно: %s\nСсылки: %s\nСообщение: %s\n```\n%s\n```",
		kindMemberJoined:       "<@%s> присоединился к серверу.",
		kindMemberLeft:         "<@%s> покинул сервер.",
		bomb.KindChannelMuted:  "<@%s> замьютил канал: %s участников на %s. Причина: %s",
		roulette.KindClick:     "**·щёлк·**\nФартовый однако! 🤔",
		roulette.KindBang:      "БАБАХ! You are dead. Not a big surprise. ☠️",
		roulette.KindSelfBan:   "БАН!",
		kindRolesAdded:         "Участнику <@%s> выданы роли: %s",
		kindRolesRemoved:       "У участника <@%s> сняты роли: %s",
		kindVoiceJoined:        "<@%s> зашёл в голосовой канал <#%s>.",
		kindVoiceLeft:          "<@%s> вышел из голосового канала <#%s>.",
		kindVoiceMoved:         "<@%s> перешёл из <#%s> в <#%s>.",
		kindMessageEdited:      "Сообщение <@%s> в <#%s> изменено:\n\nБыло: %s\n\nСтало: %s",
		kindMessageDeleted:     "Сообщение <@%s> в <#%s> удалено:\n\n%s",
		"trigger_mention":      "массовое упоминание",
		"trigger_burst":        "сообщения в нескольких каналах",
		"none":                 "нет",
		"warnings_header":      "Предупреждения для <@%s>:",
		"bomb_status_armed":    "Бомба заложена <@%s>. Подсказка: %s. До взрыва: %s.",
		"bomb_status_cooldown": "Бомба не заложена. Следующая закладка возможна через %s.",
		"bomb_status_ready":    "Бомба не заложена. Можно закладывать!",
		"report_header":        "Отчёт модерации с %s: всего %d (INFO %d, WARN %d, CRIT %d).",
		"report_events":        "События: %s",
		"report_users":         "Участники: %s",
		"report_empty":         "За этот период событий модерации не было.",
		"confirm_yes":          "✅",
		"confirm_no":           "🚫",
		"confirm_not_yours":    "Это подтверждение не для вас.",
		"guild_only":           "Команда доступна только на сервере.",
		"dm_reply":             "Данный бот может работать только на сервере \"стакан\". Взаимодействие через личные сообщения не предусмотрено.",
		"less_than_minute":     "меньше минуты",

		"err_self":             "Нельзя применить это к себе.",
		"err_bot":              "Нельзя применить это к боту.",
		"err_no_permission":    "У вас нет прав на эту команду.",
		"err_target_owner":     "Нельзя модерировать владельца сервера.",
		"err_target_admin":     "Нельзя модерировать администратора.",
		"err_target_protected": "Этот участник защищён от модерации.",
		"err_bad_duration":     "Неверный формат длительности. Используйте формат: 1d, 2h, 30m, 60s.",
		"err_bad_guess":        "Код должен быть числом. Например: `/defuse 1723`.",
		"err_not_muted":        "<@%s> не замьючен.",
		"err_already_muted":    "<@%s> уже замьючен.",
		"err_no_active_warns":  "У пользователя <@%s> нет действующих предупреждений.",
		"err_no_warnings":      "У пользователя <@%s> нет предупреждений.",
		"err_nothing_planted":  "Бомба не заложена.",
		"err_nobody_to_mute":   "В этом канале некого мьютить.",
		"err_games_disabled":   "Игры отключены на этом сервере.",
		"err_plant_pending":    "Бомба уже ожидает подтверждения.",
		"err_armed":            "Бомба уже заложена!",
		"err_cooldown":         "Команда недоступна! Попробуйте ещё раз через %s.",
		"err_declined":         "Действие отменено.",
		"err_timeout":          "Время вышло. Действие отменено.",
		"err_role_missing":     "Роль мьюта не обнаружена. Убедитесь, что ID роли выставлен корректно.",
		"err_forbidden":        "У бота недостаточно прав для изменения ролей этого участника.",
		"err_member_missing":   "Участник не найден на сервере.",
		"err_mute":             "Возникла ошибка при мьюте пользователя.",
		"err_unmute":           "Произошла ошибка при попытке анмьюта пользователя.",
		"err_warn":             "Возникла ошибка при предупреждении пользователя.",
		"err_warnremove":       "Произошла ошибка при попытке снятия предупреждений пользователя.",
		"err_warnings":         "Произошла ошибка при попытке отображения предупреждений пользователя.",
		"err_generic":          "Произошла ошибка при выполнении команды.",
	},
	"en": {
		mute.KindMuted:         "<@%s> was muted for %s. Reason: %s",
		mute.KindUnmuted:       "<@%s> was unmuted.",
		mute.KindExpired:       "Mute for <@%s> expired.",
		warnings.KindWarned:    "<@%s> was warned. Reason: %s. Warnings in the last 24 hours: %s/%s.",
		warnings.KindCleared:   "All warnings for <@%s> were removed.",
		bomb.KindConfirm:       "<@%s>, confirm the action:",
		bomb.KindPlanted:       "**Bomb has been planted.**\n<@%s> planted a bomb in the chat!\n\n\nTo defuse it, run `/defuse` with your guess. For example: `/defuse 1723`.\n**You have %s to defuse it!**\n\nHint: %s.",
		bomb.KindDefused:       "Bomb has been defused! <@%s> guessed the code and saved the chat!",
		bomb.KindWrongGuess:    "Wrong! Try again!",
		bomb.KindExploded:      "Terrorist win! Time is up! Everyone in the chat was muted for %s.",
		bomb.KindReleased:      "Everyone in the channel was unmuted.",
		antispam.KindAlert:     "Suspicious activity from <@%s> (%s).\nChannels: %s\nMessages in window: %s\nLinks: %s\nMessage: %s\n```\n%s\n```",
		kindMemberJoined:       "<@%s> joined the server.",
		kindMemberLeft:         "<@%s> left the server.",
		bomb.KindChannelMuted:  "<@%s> muted the channel: %s members for %s. Reason: %s",
		roulette.KindClick:     "**·click·**\nLucky one! 🤔",
		roulette.KindBang:      "BANG! You are dead. Not a big surprise. ☠️",
		roulette.KindSelfBan:   "BANNED!",
		kindRolesAdded:         "Roles added to <@%s>: %s",
		kindRolesRemoved:       "Roles removed from <@%s>: %s",
		kindVoiceJoined:        "<@%s> joined the voice channel <#%s>.",
		kindVoiceLeft:          "<@%s> left the voice channel <#%s>.",
		kindVoiceMoved:         "<@%s> moved from <#%s> to <#%s>.",
		kindMessageEdited:      "Message by <@%s> in <#%s> was edited:\n\nBefore: %s\n\nAfter: %s",
		kindMessageDeleted:     "Message by <@%s> in <#%s> was deleted:\n\n%s",
		"trigger_mention":      "broad mention",
		"trigger_burst":        "messages across channels",
		"none":                 "none",
		"warnings_header":      "Warnings for <@%s>:",
		"bomb_status_armed":    "A bomb was planted by <@%s>. Hint: %s. Time left: %s.",
		"bomb_status_cooldown": "No bomb is planted. The next one can be planted in %s.",
		"bomb_status_ready":    "No bomb is planted. Ready to plant!",
		"report_header":        "Moderation report since %s: %d total (INFO %d, WARN %d, CRIT %d).",
		"report_events":        "Events: %s",
		"report_users":         "Members: %s",
		"report_empty":         "No moderation events in this period.",
		"confirm_yes":          "✅",
		"confirm_no":           "🚫",
		"confirm_not_yours":    "This confirmation is not for you.",
		"guild_only":           "This command only works on a server.",
		"dm_reply":             "This bot only works on the \"stakan\" server. Direct messages are not supported.",
		"less_than_minute":     "less than a minute",

		"err_self":             "You cannot do this to yourself.",
		"err_bot":              "You cannot do this to the bot.",
		"err_no_permission":    "You do not have permission to use this command.",
		"err_target_owner":     "The server owner cannot be moderated.",
		"err_target_admin":     "Administrators cannot be moderated.",
		"err_target_protected": "This member is protected from moderation.",
		"err_bad_duration":     "Invalid duration. Use one of: 1d, 2h, 30m, 60s.",
		"err_bad_guess":        "The code must be a number. For example: `/defuse 1723`.",
		"err_not_muted":        "<@%s> is not muted.",
		"err_already_muted":    "<@%s> is already muted.",
		"err_no_active_warns":  "<@%s> has no active warnings.",
		"err_no_warnings":      "<@%s> has no warnings.",
		"err_nothing_planted":  "No bomb has been planted.",
		"err_nobody_to_mute":   "There is nobody to mute in this channel.",
		"err_games_disabled":   "Games are disabled on this server.",
		"err_plant_pending":    "A bomb is already awaiting confirmation.",
		"err_armed":            "A bomb is already planted!",
		"err_cooldown":         "Command unavailable! Try again in %s.",
		"err_declined":         "Action cancelled.",
		"err_timeout":          "Time is up. Action cancelled.",
		"err_role_missing":     "Mute role not found. Make sure the role ID is configured correctly.",
		"err_forbidden":        "The bot is not allowed to change this member's roles.",
		"err_member_missing":   "Member not found on the server.",
		"err_mute":             "Failed to mute the member.",
		"err_unmute":           "Failed to unmute the member.",
		"err_warn":             "Failed to warn the member.",
		"err_warnremove":       "Failed to remove the member's warnings.",
		"err_warnings":         "Failed to list the member's warnings.",
		"err_generic":          "The command failed.",
	},
}

// Texts renders user-facing strings in one language, falling back to Russian.
type Texts struct {
	lang string
}

func NewTexts(lang string) Texts {
	if _, ok := catalog[lang]; !ok {
		lang = "ru"
	}
	return Texts{lang: lang}
}

func (t Texts) T(key string, args ...any) string {
	format, ok := catalog[t.lang][key]
	if !ok {
		format, ok = catalog["ru"][key]
	}
	if !ok {
		return key
	}
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}

// Notification renders n. The second result is false for kinds without a text.
func (t Texts) Notification(n moderation.Notification) (string, bool) {
	field := func(name string) string { return fieldValue(n, name) }
	switch n.Kind {
	case audit.KindEntry:
		return n.Content, n.Content != ""
	case mute.KindMuted:
		return t.T(n.Kind, field("user_id"), field("duration"), field("reason")), true
	case mute.KindUnmuted, mute.KindExpired, warnings.KindCleared, bomb.KindDefused, kindMemberJoined, kindMemberLeft:
		return t.T(n.Kind, field("user_id")), true
	case warnings.KindWarned:
		return t.T(n.Kind, field("user_id"), field("reason"), field("count"), field("threshold")), true
	case bomb.KindPlanted:
		return t.T(n.Kind, field("user_id"), t.minutes(field("minutes")), field("mask")), true
	case bomb.KindWrongGuess, bomb.KindReleased, roulette.KindClick, roulette.KindBang, roulette.KindSelfBan:
		return t.T(n.Kind), true
	case bomb.KindChannelMuted:
		reason := field("reason")
		if reason == "" {
			reason = t.T("none")
		}
		return t.T(n.Kind, field("user_id"), field("count"), t.minutes(field("minutes")), reason), true
	case kindRolesAdded, kindRolesRemoved:
		return t.T(n.Kind, field("user_id"), field("roles")), true
	case kindVoiceJoined:
		return t.T(n.Kind, field("user_id"), field("to")), true
	case kindVoiceLeft:
		return t.T(n.Kind, field("user_id"), field("from")), true
	case kindVoiceMoved:
		return t.T(n.Kind, field("user_id"), field("from"), field("to")), true
	case kindMessageEdited:
		return t.T(n.Kind, field("user_id"), field("channel_id"), field("before"), field("after")), true
	case kindMessageDeleted:
		return t.T(n.Kind, field("user_id"), field("channel_id"), field("content")), true
	case bomb.KindExploded:
		return t.T(n.Kind, t.minutes(field("minutes"))), true
	case antispam.KindAlert:
		hosts := field("hosts")
		if hosts == "" {
			hosts = t.T("none")
		}
		link := messageLink(n.GuildID, n.ChannelID, field("message_id"))
		return t.T(n.Kind, field("user_id"), t.T("trigger_"+field("trigger")), field("channels"), field("count"), hosts, link, n.Content), true
	default:
		return "", false
	}
}

// Error renders err for the command that produced it. targetID fills the
// texts that name the member.
func (t Texts) Error(command string, err error, targetID string) string {
	var permErr *moderation.PermissionError
	var cooldown *moderation.CooldownError
	switch {
	case errors.Is(err, errGamesDisabled):
		return t.T("err_games_disabled")
	case errors.As(err, &permErr):
		switch permErr.Reason {
		case access.ReasonSelf, access.ReasonBot, access.ReasonTargetOwner, access.ReasonTargetAdmin, access.ReasonTargetProtect:
			return t.T("err_" + permErr.Reason)
		default:
			return t.T("err_no_permission")
		}
	case errors.As(err, &cooldown):
		return t.T("err_cooldown", t.Remaining(cooldown.Remaining))
	case errors.Is(err, moderation.ErrNotMuted):
		return t.T("err_not_muted", targetID)
	case errors.Is(err, moderation.ErrAlreadyMuted):
		return t.T("err_already_muted", targetID)
	case errors.Is(err, moderation.ErrNoWarnings):
		if command == cmdWarnRemove {
			return t.T("err_no_active_warns", targetID)
		}
		return t.T("err_no_warnings", targetID)
	case errors.Is(err, bomb.ErrNobodyToMute):
		return t.T("err_nobody_to_mute")
	case errors.Is(err, moderation.ErrNothingPlanted):
		return t.T("err_nothing_planted")
	case errors.Is(err, moderation.ErrPlantPending):
		return t.T("err_plant_pending")
	case errors.Is(err, bomb.ErrArmed):
		return t.T("err_armed")
	case errors.Is(err, moderation.ErrDeclined):
		return t.T("err_declined")
	case errors.Is(err, moderation.ErrTimeout):
		return t.T("err_timeout")
	case errors.Is(err, moderation.ErrRoleMissing):
		return t.T("err_role_missing")
	case errors.Is(err, moderation.ErrForbidden):
		return t.T("err_forbidden")
	case errors.Is(err, moderation.ErrNotFound):
		return t.T("err_member_missing")
	case errors.Is(err, moderation.ErrInvalidInput):
		if command == cmdDefuse {
			return t.T("err_bad_guess")
		}
		return t.T("err_bad_duration")
	}
	switch command {
	case cmdMute, cmdUnmute, cmdWarn, cmdWarnRemove, cmdWarnings:
		return t.T("err_" + command)
	default:
		return t.T("err_generic")
	}
}

// Remaining renders d as days, hours and minutes, omitting zero parts.
func (t Texts) Remaining(d time.Duration) string {
	total := int64(d / time.Minute)
	days := total / (24 * 60)
	hours := total % (24 * 60) / 60
	minutes := total % 60

	var parts []string
	if days > 0 {
		parts = append(parts, t.unit(days, "day"))
	}
	if hours > 0 {
		parts = append(parts, t.unit(hours, "hour"))
	}
	if minutes > 0 {
		parts = append(parts, t.unit(minutes, "minute"))
	}
	if len(parts) == 0 {
		return t.T("less_than_minute")
	}
	return strings.Join(parts, " ")
}

// Warnings lists warnings newest first, one `dd-mm-yyyy HH-MM: reason` line each.
func (t Texts) Warnings(userID string, list []storage.Warning) string {
	lines := make([]string, 0, len(list)+1)
	lines = append(lines, t.T("warnings_header", userID))
	for _, w := range list {
		lines = append(lines, fmt.Sprintf("%s: %s", w.CreatedAt.Format(warningTimeLayout), w.Reason))
	}
	return strings.Join(lines, "\n")
}

func (t Texts) BombStatus(status bomb.Status) string {
	switch {
	case status.Armed:
		return t.T("bomb_status_armed", status.Session.PlantedBy, status.Session.Mask, t.Remaining(status.Remaining))
	case status.CooldownUntil != nil:
		return t.T("bomb_status_cooldown", t.Remaining(status.CooldownLeft))
	default:
		return t.T("bomb_status_ready")
	}
}

func (t Texts) Report(report analytics.Report) string {
	if report.Total == 0 {
		return t.T("report_empty")
	}
	lines := []string{t.T("report_header", report.Since.Format(warningTimeLayout), report.Total,
		report.ByLevel[audit.LevelInfo], report.ByLevel[audit.LevelWarn], report.ByLevel[audit.LevelCrit])}

	events := make([]string, 0, len(report.ByEvent))
	for _, event := range report.Events() {
		events = append(events, fmt.Sprintf("%s=%d", event, report.ByEvent[event]))
	}
	lines = append(lines, t.T("report_events", strings.Join(events, ", ")))

	if len(report.TopUsers) > 0 {
		users := make([]string, 0, len(report.TopUsers))
		for _, u := range report.TopUsers {
			users = append(users, fmt.Sprintf("<@%s> (%d)", u.UserID, u.Count))
		}
		lines = append(lines, t.T("report_users", strings.Join(users, ", ")))
	}
	return strings.Join(lines, "\n")
}

func (t Texts) minutes(value string) string {
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return value
	}
	return t.Remaining(time.Duration(n) * time.Minute)
}

func (t Texts) unit(n int64, unit string) string {
	if t.lang == "en" {
		if n == 1 {
			return "1 " + unit
		}
		return fmt.Sprintf("%d %ss", n, unit)
	}
	forms := map[string][3]string{
		"day":    {"день", "дня", "дней"},
		"hour":   {"час", "часа", "часов"},
		"minute": {"минуту", "минуты", "минут"},
	}[unit]
	return fmt.Sprintf("%d %s", n, forms[russianPlural(n)])
}

// russianPlural picks the noun form index for n: 1 минуту, 2 минуты, 5 минут.
func russianPlural(n int64) int {
	mod100 := n % 100
	mod10 := n % 10
	switch {
	case mod100 >= 11 && mod100 <= 14:
		return 2
	case mod10 == 1:
		return 0
	case mod10 >= 2 && mod10 <= 4:
		return 1
	default:
		return 2
	}
}

func fieldValue(n moderation.Notification, name string) string {
	for _, f := range n.Fields {
		if f.Name == name {
			return f.Value
		}
	}
	return ""
}

func messageLink(guildID, channelID, messageID string) string {
	if messageID == "" {
		return "<#" + channelID + ">"
	}
	return fmt.Sprintf("https://discord.com/channels/%s/%s/%s", guildID, channelID, messageID)
}

// splitMessage cuts content into chunks of at most limit runes.
func splitMessage(content string, limit int) []string {
	runes := []rune(content)
	if len(runes) <= limit {
		return []string{content}
	}
	var parts []string
	for len(runes) > 0 {
		n := min(limit, len(runes))
		parts = append(parts, string(runes[:n]))
		runes = runes[n:]
	}
	return parts
}
