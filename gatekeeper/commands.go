package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"github.com/patrickmn/go-cache"
	"log/slog"
	"slices"
	"strings"
	"time"
)

const (
	commandHelp       = "aide"
	commandAdmin      = "admin"
	commandAccount    = "compte"
	commandClear      = "clear"
	commandUserInfo   = "userinfo"
	commandServerInfo = "serverinfo"

	guildCacheTTL        = 5 * time.Minute
	guildCacheCleanup    = 10 * time.Minute
	cooldownCacheCleanup = time.Minute
)

var errCommandPanic = errors.New("command panicked")

// commandSpec describes a text command. minRole is the lowest account
// role allowed to run it.
type commandSpec struct {
	name        string
	aliases     []string
	usage       string
	description string
	minRole     Role
}

// commandSet lists the commands in the order they're shown in help
var commandSet = []commandSpec{
	{
		name:        commandHelp,
		aliases:     []string{"help"},
		usage:       commandHelp,
		description: "Show this help",
		minRole:     RoleMember,
	},
	{
		name:        commandAdmin,
		usage:       commandAdmin,
		description: "Receive your own panel credentials by DM",
		minRole:     RoleAdmin,
	},
	{
		name:        commandAccount,
		aliases:     []string{"account"},
		usage:       commandAccount + " @member [role]",
		description: "Create an account for a member (default role: member)",
		minRole:     RoleAdmin,
	},
	{
		name:        commandClear,
		usage:       commandClear + " [count]",
		description: fmt.Sprintf("Delete recent messages (default %d, max %d)", DefaultDiscordClearCount, DefaultDiscordClearMax),
		minRole:     RoleAdmin,
	},
	{
		name:        commandUserInfo,
		usage:       commandUserInfo + " [@member]",
		description: "Show information about a member",
		minRole:     RoleMember,
	},
	{
		name:        commandServerInfo,
		usage:       commandServerInfo,
		description: "Show information about this server",
		minRole:     RoleMember,
	},
}

// usageError is returned when a command's arguments can't be parsed
type usageError struct {
	usage string
}

func (e *usageError) Error() string {
	return "usage: " + e.usage
}

type commandHandler func(ctx context.Context, inv *invocation) error

// invocation is a single parsed command message
type invocation struct {
	command   commandSpec
	args      []string
	message   *discordgo.Message
	author    *discordgo.User
	member    *discordgo.Member
	guildID   string
	channelID string
	role      Role
	logger    *slog.Logger
}

// Dispatcher parses text commands from discord messages, resolves the
// requester's role and runs the matching handler. Each invocation's
// failure is isolated to that invocation.
type Dispatcher struct {
	session     DiscordSessionHandler
	config      *DiscordConfig
	roles       *RolesConfig
	generator   *CredentialGenerator
	provisioner Provisioner
	deliverer   *deliverer
	audit       *auditor
	logger      *slog.Logger

	// guildCache holds *discordgo.Guild by guild ID, for owner lookups
	guildCache *cache.Cache

	// cooldowns holds a key per operator with an active issue cooldown
	cooldowns *cache.Cache

	handlers map[string]commandHandler
	aliases  map[string]string
}

// NewDispatcher returns a Dispatcher sending replies through session.
// audit may be nil, in which case actions are only logged.
func NewDispatcher(
	session DiscordSessionHandler,
	config *DiscordConfig,
	roles *RolesConfig,
	generator *CredentialGenerator,
	provisioner Provisioner,
	audit *auditor,
	logger *slog.Logger,
) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	if roles == nil {
		roles = &RolesConfig{}
	}
	if audit == nil {
		audit = newAuditor(nil, logger)
	}
	logger = logger.With(loggerNameKey, "dispatcher")

	d := &Dispatcher{
		session:     session,
		config:      config,
		roles:       roles,
		generator:   generator,
		provisioner: provisioner,
		audit:       audit,
		logger:      logger,
		guildCache:  cache.New(guildCacheTTL, guildCacheCleanup),
		cooldowns:   cache.New(config.IssueCooldown, cooldownCacheCleanup),
		deliverer: &deliverer{
			session:     session,
			siteURL:     config.SiteURL,
			responseTTL: config.ResponseTTL,
			logger:      logger,
		},
	}
	d.handlers = map[string]commandHandler{
		commandHelp:       d.cmdHelp,
		commandAdmin:      d.cmdAdmin,
		commandAccount:    d.cmdAccount,
		commandClear:      d.cmdClear,
		commandUserInfo:   d.cmdUserInfo,
		commandServerInfo: d.cmdServerInfo,
	}
	d.aliases = map[string]string{}
	for _, c := range commandSet {
		d.aliases[c.name] = c.name
		for _, a := range c.aliases {
			d.aliases[a] = c.name
		}
	}
	return d
}

func lookupCommand(name string) (commandSpec, bool) {
	for _, c := range commandSet {
		if c.name == name {
			return c, true
		}
	}
	return commandSpec{}, false
}

// HandleMessage runs the command contained in m, if any. Messages from
// bots, messages without the command prefix, and messages from guilds
// other than the configured one are ignored.
func (d *Dispatcher) HandleMessage(ctx context.Context, m *discordgo.MessageCreate) {
	if m == nil || m.Message == nil || m.Author == nil || m.Author.Bot {
		return
	}
	prefix := d.config.CommandPrefix
	content := strings.TrimSpace(m.Content)
	if prefix == "" || !strings.HasPrefix(content, prefix) {
		return
	}
	fields := strings.Fields(strings.TrimPrefix(content, prefix))
	if len(fields) == 0 {
		return
	}
	if d.config.GuildID != "" && m.GuildID != "" && m.GuildID != d.config.GuildID {
		return
	}

	name := strings.ToLower(fields[0])
	logger := d.logger.With(
		"command", name,
		"guild_id", m.GuildID,
		"channel_id", m.ChannelID,
		"message_id", m.ID,
		slog.Group("user", discordUserLogAttrs(m.Author)...),
	)
	ctx = WithLogger(ctx, logger)

	canonical, ok := d.aliases[name]
	if !ok {
		logger.DebugContext(ctx, "unknown command")
		d.replyText(
			ctx,
			m.ChannelID,
			fmt.Sprintf("❓ Unknown command. Use `%s%s` to see the available commands.", prefix, commandHelp),
			d.config.ResponseTTL,
		)
		return
	}
	spec, _ := lookupCommand(canonical)

	inv := &invocation{
		command:   spec,
		args:      fields[1:],
		message:   m.Message,
		author:    m.Author,
		member:    m.Member,
		guildID:   m.GuildID,
		channelID: m.ChannelID,
		role:      RoleMember,
		logger:    logger,
	}

	err := d.dispatch(ctx, inv)
	switch {
	case err == nil:
		metricCommands.WithLabelValues(spec.name, "ok").Inc()
		d.audit.record(ctx, actionCommand, inv, map[string]any{"command": spec.name})
	case isPermissionDenied(err):
		metricCommands.WithLabelValues(spec.name, "denied").Inc()
		logger.WarnContext(ctx, "unauthorized command attempt", tint.Err(err))
		d.audit.record(
			ctx, actionUnauthorized, inv, map[string]any{
				"command": spec.name,
				"role":    string(inv.role),
			},
		)
		d.replyError(ctx, inv.channelID, err)
	default:
		metricCommands.WithLabelValues(spec.name, "error").Inc()
		logger.ErrorContext(ctx, "command error", tint.Err(err))
		d.audit.record(
			ctx, actionCommandError, inv, map[string]any{
				"command": spec.name,
				"error":   err.Error(),
			},
		)
		d.replyError(ctx, inv.channelID, err)
	}
}

// dispatch checks the guild, resolves the requester's role, enforces the
// access and command roles, then runs the handler. A panic anywhere along
// the way is recovered and returned as errCommandPanic.
func (d *Dispatcher) dispatch(ctx context.Context, inv *invocation) (err error) {
	defer func() {
		if rc := recover(); rc != nil {
			handleRecover(WithLogger(ctx, inv.logger), rc)
			err = errCommandPanic
		}
	}()

	if inv.guildID == "" {
		return ErrNotInGuild
	}

	if delErr := d.session.ChannelMessageDelete(inv.channelID, inv.message.ID); delErr != nil {
		inv.logger.DebugContext(ctx, "couldn't delete command message", tint.Err(delErr))
	}

	member, err := d.member(inv.guildID, inv.author, inv.member)
	if err != nil {
		inv.logger.WarnContext(ctx, "error fetching member", tint.Err(err))
	}
	inv.member = member

	inv.role = d.resolveRole(ctx, inv.guildID, inv.author.ID, member)
	inv.logger = inv.logger.With("role", inv.role)

	if d.roles.AccessRoleID != "" && inv.role != RoleOwner && !memberHasRole(member, d.roles.AccessRoleID) {
		return &PermissionError{Action: inv.command.name, Role: inv.role, Required: inv.command.minRole}
	}
	if !inv.role.AtLeast(inv.command.minRole) {
		return &PermissionError{Action: inv.command.name, Role: inv.role, Required: inv.command.minRole}
	}

	handler := d.handlers[inv.command.name]
	inv.logger.InfoContext(ctx, "running command", "args", len(inv.args))
	return handler(ctx, inv)
}

// member returns the guild member for user. Members attached to
// MessageCreate events lack the User field, which is filled in here.
func (d *Dispatcher) member(
	guildID string,
	user *discordgo.User,
	member *discordgo.Member,
) (*discordgo.Member, error) {
	if member != nil {
		if member.User == nil {
			m := *member
			m.User = user
			m.GuildID = guildID
			return &m, nil
		}
		return member, nil
	}
	return d.session.GuildMember(guildID, user.ID)
}

// guild returns the guild, cached for guildCacheTTL
func (d *Dispatcher) guild(guildID string) (*discordgo.Guild, error) {
	if g, ok := d.guildCache.Get(guildID); ok {
		return g.(*discordgo.Guild), nil
	}
	g, err := d.session.Guild(guildID)
	if err != nil {
		return nil, err
	}
	d.guildCache.SetDefault(guildID, g)
	return g, nil
}

// resolveRole maps a guild member to an account role: the guild owner is
// owner, then configured discord roles are checked from most to least
// privileged, and everyone else is a member.
func (d *Dispatcher) resolveRole(
	ctx context.Context,
	guildID string,
	userID string,
	member *discordgo.Member,
) Role {
	if g, err := d.guild(guildID); err != nil {
		d.logger.WarnContext(ctx, "error fetching guild", tint.Err(err), "guild_id", guildID)
	} else if g.OwnerID == userID {
		return RoleOwner
	}

	mapping := []struct {
		roleID string
		role   Role
	}{
		{d.roles.OwnerRoleID, RoleOwner},
		{d.roles.AdminRoleID, RoleAdmin},
		{d.roles.ModeratorRoleID, RoleModerator},
	}
	for _, m := range mapping {
		if m.roleID != "" && memberHasRole(member, m.roleID) {
			return m.role
		}
	}
	return RoleMember
}

func memberHasRole(member *discordgo.Member, roleID string) bool {
	return member != nil && slices.Contains(member.Roles, roleID)
}

// startCooldown starts the issue cooldown for userID, returning
// ErrIssueCooldown if one is already running
func (d *Dispatcher) startCooldown(userID string) error {
	if d.config.IssueCooldown <= 0 {
		return nil
	}
	if err := d.cooldowns.Add("issue:"+userID, struct{}{}, d.config.IssueCooldown); err != nil {
		return ErrIssueCooldown
	}
	return nil
}

// clearCooldown lets the requester retry immediately, after an issue
// that created nothing
func (d *Dispatcher) clearCooldown(userID string) {
	d.cooldowns.Delete("issue:" + userID)
}

func (d *Dispatcher) replyText(ctx context.Context, channelID string, content string, ttl time.Duration) {
	d.reply(
		ctx, channelID, &discordgo.MessageSend{
			Content:         content,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		}, ttl,
	)
}

func (d *Dispatcher) replyError(ctx context.Context, channelID string, err error) {
	d.reply(
		ctx,
		channelID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{errorEmbed(userFacingMessage(err, d.config.CommandPrefix))}},
		d.config.ResponseTTL,
	)
}

// reply sends msg to the channel, deleting it after ttl
func (d *Dispatcher) reply(
	ctx context.Context,
	channelID string,
	msg *discordgo.MessageSend,
	ttl time.Duration,
) *discordgo.Message {
	sent, err := d.session.ChannelMessageSendComplex(channelID, msg)
	if err != nil {
		logger, ok := ContextLogger(ctx)
		if !ok {
			logger = d.logger
		}
		logger.ErrorContext(ctx, "error sending reply", tint.Err(err))
		return nil
	}
	if sent != nil {
		d.deliverer.deleteAfter(channelID, sent.ID, ttl)
	}
	return sent
}

func isPermissionDenied(err error) bool {
	var permErr *PermissionError
	return errors.As(err, &permErr)
}

// userFacingMessage maps a command error to the text shown to the
// operator. Errors without a mapping get a generic message, so internal
// details never reach the channel.
func userFacingMessage(err error, prefix string) string {
	var (
		permErr       *PermissionError
		validationErr *ValidationError
		rejectedErr   *RejectedError
		transportErr  *TransportError
		configErr     *ConfigurationError
		deliveryErr   *DeliveryError
		usageErr      *usageError
	)
	switch {
	case errors.As(err, &permErr):
		return "⛔ You don't have permission to use this command."
	case errors.As(err, &validationErr):
		if validationErr.Field == "role" {
			return fmt.Sprintf(
				"❌ Invalid role `%s`. Available roles: %s",
				validationErr.Value,
				strings.Join(roleNames(), ", "),
			)
		}
		return fmt.Sprintf("❌ Invalid %s: %s", validationErr.Field, validationErr.Message)
	case errors.As(err, &rejectedErr):
		return fmt.Sprintf("❌ Account creation failed: %s", rejectedErr.Reason)
	case errors.As(err, &transportErr):
		return "❌ The account service is unreachable. Try again later."
	case errors.As(err, &configErr):
		return "❌ Account creation is not configured. Contact the bot administrator."
	case errors.As(err, &deliveryErr):
		return "❌ I couldn't send you a private message. Enable direct messages from server members."
	case errors.As(err, &usageErr):
		return fmt.Sprintf("❌ Usage: `%s%s`", prefix, usageErr.usage)
	case errors.Is(err, ErrIssueCooldown):
		return "⏳ Please wait a few seconds before creating another account."
	case errors.Is(err, ErrNotInGuild):
		return "❌ This command can only be used in a server."
	default:
		return "❌ Something went wrong. Please try again."
	}
}

func roleNames() []string {
	names := make([]string, 0, len(Roles))
	for _, r := range Roles {
		names = append(names, string(r))
	}
	return names
}
