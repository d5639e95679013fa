package gatekeeper

import (
	"context"
	"encoding/json"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/patrickmn/go-cache"
	"log/slog"
	"slices"
	"time"
)

const (
	actionBotStart        = "bot_start"
	actionCommand         = "command_executed"
	actionCommandError    = "command_error"
	actionUnauthorized    = "unauthorized_attempt"
	actionAccountCreated  = "account_created"
	actionAccountFailed   = "account_creation_failed"
	actionMemberJoin      = "member_join"
	actionMemberLeave     = "member_leave"
	actionRoleAdd         = "role_add"
	actionRoleRemove      = "role_remove"
	actionChannelCreate   = "channel_create"
	actionChannelDelete   = "channel_delete"
	memberRoleSnapshotTTL = 24 * time.Hour
)

// ActionLog is an audit record of something the bot did or saw.
// Details is a JSON object, and never holds a password.
type ActionLog struct {
	ModelUintID
	ModelUnixTime
	Action    string `gorm:"index;not null" json:"action"`
	UserID    string `gorm:"index" json:"user_id,omitempty"`
	Username  string `json:"username,omitempty"`
	GuildID   string `gorm:"index" json:"guild_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	Details   string `json:"details,omitempty"`
}

// auditor records ActionLog rows and mirrors them to the log.
// It also keeps a snapshot of member roles, so role changes can be
// diffed without the discordgo state cache.
type auditor struct {
	db          DBI
	logger      *slog.Logger
	memberRoles *cache.Cache
}

// newAuditor returns an auditor writing to db. With a nil db, actions
// are only logged.
func newAuditor(db DBI, logger *slog.Logger) *auditor {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditor{
		db:          db,
		logger:      logger.With(loggerNameKey, "audit"),
		memberRoles: cache.New(memberRoleSnapshotTTL, time.Hour),
	}
}

// record stores an action taken in the context of a command invocation
func (a *auditor) record(ctx context.Context, action string, inv *invocation, details map[string]any) {
	entry := ActionLog{Action: action}
	if inv != nil {
		entry.GuildID = inv.guildID
		entry.ChannelID = inv.channelID
		if inv.author != nil {
			entry.UserID = inv.author.ID
			entry.Username = inv.author.Username
		}
	}
	a.save(ctx, entry, details)
}

func (a *auditor) save(ctx context.Context, entry ActionLog, details map[string]any) {
	if len(details) > 0 {
		data, err := json.Marshal(details)
		if err != nil {
			a.logger.ErrorContext(ctx, "error encoding action details", tint.Err(err))
		} else {
			entry.Details = string(data)
		}
	}

	a.logger.InfoContext(
		ctx,
		"action",
		"action", entry.Action,
		"user_id", entry.UserID,
		"username", entry.Username,
		"guild_id", entry.GuildID,
		"channel_id", entry.ChannelID,
		"details", entry.Details,
	)

	if a.db == nil {
		return
	}
	if _, err := a.db.Create(ctx, &entry); err != nil {
		a.logger.ErrorContext(ctx, "error saving action log", tint.Err(err), "action", entry.Action)
	}
}

// Actions returns the most recent action log entries, newest first
func (a *auditor) Actions(ctx context.Context, limit int) ([]ActionLog, error) {
	if a.db == nil {
		return nil, nil
	}
	var entries []ActionLog
	err := a.db.DB().WithContext(ctx).Order("id desc").Limit(limit).Find(&entries).Error
	return entries, err
}

func memberRoleKey(guildID, userID string) string {
	return guildID + ":" + userID
}

func (a *auditor) memberEntry(action string, m *discordgo.Member) ActionLog {
	entry := ActionLog{Action: action, GuildID: m.GuildID}
	if m.User != nil {
		entry.UserID = m.User.ID
		entry.Username = m.User.Username
	}
	return entry
}

func (a *auditor) handlerMemberAdd(ctx context.Context) func(*discordgo.Session, *discordgo.GuildMemberAdd) {
	return func(_ *discordgo.Session, e *discordgo.GuildMemberAdd) {
		if e.Member == nil || e.User == nil {
			return
		}
		a.memberRoles.SetDefault(memberRoleKey(e.GuildID, e.User.ID), slices.Clone(e.Roles))
		a.save(ctx, a.memberEntry(actionMemberJoin, e.Member), nil)
	}
}

func (a *auditor) handlerMemberRemove(ctx context.Context) func(*discordgo.Session, *discordgo.GuildMemberRemove) {
	return func(_ *discordgo.Session, e *discordgo.GuildMemberRemove) {
		if e.Member == nil || e.User == nil {
			return
		}
		a.memberRoles.Delete(memberRoleKey(e.GuildID, e.User.ID))
		a.save(ctx, a.memberEntry(actionMemberLeave, e.Member), nil)
	}
}

// handlerMemberUpdate records discord roles added to and removed from a
// member. The previous roles come from the snapshot taken on the last
// event for that member, falling back to the event's BeforeUpdate.
func (a *auditor) handlerMemberUpdate(ctx context.Context) func(*discordgo.Session, *discordgo.GuildMemberUpdate) {
	return func(_ *discordgo.Session, e *discordgo.GuildMemberUpdate) {
		if e.Member == nil || e.User == nil {
			return
		}
		key := memberRoleKey(e.GuildID, e.User.ID)
		var before []string
		known := false
		if cached, ok := a.memberRoles.Get(key); ok {
			before = cached.([]string)
			known = true
		} else if e.BeforeUpdate != nil {
			before = e.BeforeUpdate.Roles
			known = true
		}
		a.memberRoles.SetDefault(key, slices.Clone(e.Roles))
		if !known {
			return
		}

		added, removed := diffRoles(before, e.Roles)
		for _, roleID := range added {
			a.save(ctx, a.memberEntry(actionRoleAdd, e.Member), map[string]any{"role_id": roleID})
		}
		for _, roleID := range removed {
			a.save(ctx, a.memberEntry(actionRoleRemove, e.Member), map[string]any{"role_id": roleID})
		}
	}
}

func (a *auditor) handlerChannelCreate(ctx context.Context) func(*discordgo.Session, *discordgo.ChannelCreate) {
	return func(_ *discordgo.Session, e *discordgo.ChannelCreate) {
		if e.Channel == nil || e.GuildID == "" {
			return
		}
		a.save(
			ctx,
			ActionLog{Action: actionChannelCreate, GuildID: e.GuildID, ChannelID: e.ID},
			map[string]any{"name": e.Name, "type": int(e.Type)},
		)
	}
}

func (a *auditor) handlerChannelDelete(ctx context.Context) func(*discordgo.Session, *discordgo.ChannelDelete) {
	return func(_ *discordgo.Session, e *discordgo.ChannelDelete) {
		if e.Channel == nil || e.GuildID == "" {
			return
		}
		a.save(
			ctx,
			ActionLog{Action: actionChannelDelete, GuildID: e.GuildID, ChannelID: e.ID},
			map[string]any{"name": e.Name, "type": int(e.Type)},
		)
	}
}

// diffRoles returns the role IDs in after but not before, and those in
// before but not after
func diffRoles(before, after []string) (added, removed []string) {
	for _, r := range after {
		if !slices.Contains(before, r) {
			added = append(added, r)
		}
	}
	for _, r := range before {
		if !slices.Contains(after, r) {
			removed = append(removed, r)
		}
	}
	return added, removed
}
