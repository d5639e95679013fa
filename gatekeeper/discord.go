package gatekeeper

import (
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"net/http"
	"sync/atomic"
)

// Discord manages the discord gateway session and its event handlers.
type Discord struct {
	session                     DiscordSessionHandler
	config                      *DiscordConfig
	logger                      *slog.Logger
	connected                   atomic.Bool
	metricConnects              atomic.Int64
	metricDisconnects           atomic.Int64
	discordgoRemoveHandlerFuncs []func()
}

// newDiscord initializes a new Discord instance with the provided configuration
func newDiscord(config *DiscordConfig, logger *slog.Logger) *Discord {
	if logger == nil {
		logger = slog.Default()
	}
	return &Discord{
		config:                      config,
		logger:                      logger,
		discordgoRemoveHandlerFuncs: []func(){},
	}
}

// newSession initializes a new Discord session for the Discord struct.
// It sets up the session with the appropriate logger, token, and configuration.
func (d *Discord) newSession() (DiscordSessionHandler, error) {
	session := DiscordSession{logger: d.logger.With(loggerNameKey, "discord_session_handler")}
	disc, err := discordgo.New("Bot " + d.config.Token)
	if err != nil {
		return session, fmt.Errorf("error creating discord session: %w", err)
	}
	disc.SyncEvents = true
	disc.StateEnabled = false
	session.session = disc
	if d.config.httpClient != nil {
		disc.Client = d.config.httpClient
	}

	if d.config.DiscordGoLogLevel != nil {
		if err = session.SetLogLevel(d.config.DiscordGoLogLevel.Level()); err != nil {
			return session, err
		}
	}
	return session, nil
}

// Connected reports whether the gateway connection is currently up
func (d *Discord) Connected() bool {
	return d.connected.Load()
}

func (d *Discord) removeHandlers() {
	for _, h := range d.discordgoRemoveHandlerFuncs {
		h()
	}
	d.discordgoRemoveHandlerFuncs = []func(){}
}

func (d *Discord) handlerReady() func(
	s *discordgo.Session,
	r *discordgo.Ready,
) {
	return func(_ *discordgo.Session, r *discordgo.Ready) {
		attrs := []any{"session_id", r.SessionID, "guilds", len(r.Guilds)}
		if r.User != nil {
			attrs = append(attrs, slog.Group("user", discordUserLogAttrs(r.User)...))
		}
		d.logger.Info("Ready", attrs...)
		if d.config.CustomStatus != "" {
			if err := d.session.UpdateCustomStatus(d.config.CustomStatus); err != nil {
				d.logger.Error("error setting custom status", tint.Err(err))
			}
		}
	}
}

func (d *Discord) handlerConnect() func(
	s *discordgo.Session,
	r *discordgo.Connect,
) {
	return func(s *discordgo.Session, _ *discordgo.Connect) {
		d.metricConnects.Add(1)
		d.connected.Store(true)
		metricDiscordConnected.Set(1)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("Connected", "session_id", sessionID)
	}
}

func (d *Discord) handlerDisconnect() func(
	s *discordgo.Session,
	r *discordgo.Disconnect,
) {
	return func(s *discordgo.Session, _ *discordgo.Disconnect) {
		d.connected.Store(false)
		d.metricDisconnects.Add(1)
		metricDiscordConnected.Set(0)

		var sessionID string
		if s != nil && s.State != nil {
			sessionID = s.State.SessionID
		}
		d.logger.Info("disconnected", "session_id", sessionID)
	}
}

// isDMRefused reports whether err is discord refusing a direct message,
// either by error code 50007 or an HTTP 403 on the send.
func isDMRefused(err error) bool {
	var restErr *discordgo.RESTError
	if !errors.As(err, &restErr) {
		return false
	}
	if restErr.Message != nil &&
		restErr.Message.Code == discordgo.ErrCodeCannotSendMessagesToThisUser {
		return true
	}
	return restErr.Response != nil && restErr.Response.StatusCode == http.StatusForbidden
}

// DiscordSessionHandler defines the methods from `discordgo.Session` used
// in this application, to enable testing/mocking.
type DiscordSessionHandler interface {
	// Open creates a websocket connection to Discord
	Open() error

	// Close closes the websocket connection to Discord
	Close() error

	// AddHandler adds a discord gateway event handler
	AddHandler(handler any) func()

	// SetIdentify sets the intents and presence sent during the initial
	// handshake with the discord gateway
	SetIdentify(discordgo.Identify)

	// SetLogLevel modifies the session's log level
	SetLogLevel(lvl slog.Level) error

	// UpdateCustomStatus sets the bot's user status to the given string.
	UpdateCustomStatus(status string) error

	ChannelMessageSendComplex(
		channelID string,
		data *discordgo.MessageSend,
		opts ...discordgo.RequestOption,
	) (*discordgo.Message, error)

	ChannelMessageDelete(
		channelID string,
		messageID string,
		opts ...discordgo.RequestOption,
	) error

	// ChannelMessages returns up to limit (max 100) messages from the channel
	ChannelMessages(
		channelID string,
		limit int,
		beforeID string,
		afterID string,
		aroundID string,
		opts ...discordgo.RequestOption,
	) ([]*discordgo.Message, error)

	ChannelMessagesBulkDelete(
		channelID string,
		messages []string,
		opts ...discordgo.RequestOption,
	) error

	// UserChannelCreate opens (or returns the existing) DM channel with
	// the given user
	UserChannelCreate(
		recipientID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Channel, error)

	Guild(guildID string, opts ...discordgo.RequestOption) (*discordgo.Guild, error)

	GuildWithCounts(guildID string, opts ...discordgo.RequestOption) (*discordgo.Guild, error)

	GuildChannels(guildID string, opts ...discordgo.RequestOption) ([]*discordgo.Channel, error)

	GuildMember(
		guildID string,
		userID string,
		opts ...discordgo.RequestOption,
	) (*discordgo.Member, error)
}

// DiscordSession implements DiscordSessionHandler, wrapping a
// [discordgo.Session](https://pkg.go.dev/github.com/bwmarrin/discordgo#Session)
type DiscordSession struct {
	session *discordgo.Session
	logger  *slog.Logger
}

func (d DiscordSession) Open() error {
	return d.session.Open()
}

func (d DiscordSession) Close() error {
	return d.session.Close()
}

func (d DiscordSession) AddHandler(handler any) func() {
	return d.session.AddHandler(handler)
}

// SetIdentify sets intents and presence, keeping the token and connection
// properties set by discordgo.New
func (d DiscordSession) SetIdentify(i discordgo.Identify) {
	d.session.Identify.Intents = i.Intents
	d.session.Identify.Presence = i.Presence
}

func (d DiscordSession) SetLogLevel(lvl slog.Level) error {
	switch lvl.Level() {
	case slog.LevelInfo:
		d.session.LogLevel = discordgo.LogInformational
	case slog.LevelWarn:
		d.session.LogLevel = discordgo.LogWarning
	case slog.LevelDebug:
		d.session.LogLevel = discordgo.LogDebug
	case slog.LevelError:
		d.session.LogLevel = discordgo.LogError
	default:
		return fmt.Errorf("invalid log level: %s", lvl)
	}
	return nil
}

func (d DiscordSession) UpdateCustomStatus(status string) error {
	return d.session.UpdateCustomStatus(status)
}

// ChannelMessageSendComplex sends data to the channel. Message content is
// never logged, as it may hold credentials.
func (d DiscordSession) ChannelMessageSendComplex(
	channelID string,
	data *discordgo.MessageSend,
	opts ...discordgo.RequestOption,
) (*discordgo.Message, error) {
	msg, err := d.session.ChannelMessageSendComplex(channelID, data, opts...)
	if err != nil {
		d.logger.Error("error sending message", tint.Err(err), "channel_id", channelID)
	} else {
		d.logger.Debug("sent message", "channel_id", channelID, "message_id", msg.ID)
	}
	return msg, err
}

func (d DiscordSession) ChannelMessageDelete(
	channelID string,
	messageID string,
	opts ...discordgo.RequestOption,
) error {
	err := d.session.ChannelMessageDelete(channelID, messageID, opts...)
	if err != nil {
		d.logger.Warn(
			"error deleting message",
			tint.Err(err),
			"channel_id", channelID,
			"message_id", messageID,
		)
	}
	return err
}

func (d DiscordSession) ChannelMessages(
	channelID string,
	limit int,
	beforeID string,
	afterID string,
	aroundID string,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Message, error) {
	return d.session.ChannelMessages(channelID, limit, beforeID, afterID, aroundID, opts...)
}

func (d DiscordSession) ChannelMessagesBulkDelete(
	channelID string,
	messages []string,
	opts ...discordgo.RequestOption,
) error {
	return d.session.ChannelMessagesBulkDelete(channelID, messages, opts...)
}

func (d DiscordSession) UserChannelCreate(
	recipientID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Channel, error) {
	return d.session.UserChannelCreate(recipientID, opts...)
}

func (d DiscordSession) Guild(
	guildID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return d.session.Guild(guildID, opts...)
}

func (d DiscordSession) GuildWithCounts(
	guildID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Guild, error) {
	return d.session.GuildWithCounts(guildID, opts...)
}

func (d DiscordSession) GuildChannels(
	guildID string,
	opts ...discordgo.RequestOption,
) ([]*discordgo.Channel, error) {
	return d.session.GuildChannels(guildID, opts...)
}

func (d DiscordSession) GuildMember(
	guildID string,
	userID string,
	opts ...discordgo.RequestOption,
) (*discordgo.Member, error) {
	return d.session.GuildMember(guildID, userID, opts...)
}
