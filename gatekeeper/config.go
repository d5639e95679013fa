//nolint:lll // struct tags can't be split
package gatekeeper

import (
	"crypto/tls"
	"github.com/bwmarrin/discordgo"
	"github.com/gin-contrib/cors"
	"log/slog"
	"net/http"
	"time"
)

const (
	EnvvarSetEnvPrefix    = "GATEKEEPER_ENV_PREFIX"
	DefaultEnvPrefix      = "GK"
	DefaultDatabaseType   = "sqlite"
	DefaultDatabase       = "gatekeeper.sqlite3"
	DefaultLogLevel       = slog.LevelInfo
	DefaultStartupTimeout = 30 * time.Second

	DefaultShutdownTimeout = 30 * time.Second

	DefaultReadTimeout       = 5 * time.Second
	DefaultReadHeaderTimeout = 5 * time.Second
	DefaultWriteTimeout      = 10 * time.Second
	DefaultIdleTimeout       = 30 * time.Second

	DefaultDiscordLogLevel      = slog.LevelWarn
	DefaultDiscordgoLogLevel    = slog.LevelWarn
	DefaultDiscordCommandPrefix = "!"
	DefaultDiscordCustomStatus  = "!aide for commands"
	DefaultDiscordResponseTTL   = 10 * time.Second
	DefaultDiscordHelpTTL       = 60 * time.Second
	DefaultDiscordIssueCooldown = 10 * time.Second
	DefaultDiscordClearCount    = 5
	DefaultDiscordClearMax      = 100
	DefaultDiscordGatewayIntent = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsMessageContent
	DefaultSiteURL = "http://localhost:3000"

	DefaultProvisioningBaseURL   = "http://localhost:3000"
	DefaultProvisioningProvider  = "discord"
	DefaultProvisioningTimeout   = 10 * time.Second
	DefaultProvisioningLogLevel  = slog.LevelInfo
	DefaultCredentialEmailDomain = "discord.app"
	DefaultCredentialTTL         = 10 * time.Minute

	DefaultStoreListen             = "127.0.0.1:3000"
	DefaultStoreLogLevel           = slog.LevelInfo
	DefaultStoreSessionMaxAge      = 6 * time.Hour
	DefaultStoreTLSMinVersion      = tls.VersionTLS12
	DefaultStoreLoginRateLimit     = 1.0
	DefaultStoreLoginBurst         = 3
	DefaultAPICORSAllowCredentials = true

	DefaultDatabaseSlowThreshold = 200 * time.Millisecond
	DefaultDatabaseLogLevel      = slog.LevelInfo
	defaultListenNetwork         = "tcp"
)

var (
	DefaultStoreProviders   = []string{DefaultProvisioningProvider}
	DefaultCORSAllowMethods = []string{
		http.MethodGet,
		http.MethodPost,
		http.MethodOptions,
		http.MethodHead,
	}
	DefaultCORSAllowHeaders = []string{
		"Origin",
		"Content-Length",
		"Content-Type",
		"Accept",
		"Authorization",
		"X-Requested-With",
		xRequestIDHeader,
	}
	DefaultCORSExposeHeaders = []string{
		"Content-Type",
		"Content-Length",
		xRequestIDHeader,
		"Location",
	}
	DefaultCORSMaxAge = 12 * time.Hour
)

// Config is the process configuration, loaded once at startup and passed
// down explicitly. Nothing in the package reads configuration from
// package-level state.
type Config struct {
	// Database connection string, or sqlite file path
	Database string `yaml:"database" mapstructure:"database" json:"database" binding:"required"`

	// DatabaseType specifies the type of database, either 'sqlite' or 'postgres'
	DatabaseType string `yaml:"database_type" mapstructure:"database_type" json:"database_type" binding:"oneof=sqlite postgres"`

	DatabaseLogLevel *slog.LevelVar `yaml:"database_log_level" mapstructure:"database_log_level" json:"database_log_level"`

	// DatabaseSlowThreshold is the duration threshold for identifying slow database queries
	DatabaseSlowThreshold time.Duration `yaml:"database_slow_threshold" mapstructure:"database_slow_threshold" json:"database_slow_threshold"`

	// LogLevel is the base log level, for the default logger
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// StartupTimeout bounds database setup and the initial discord connection.
	StartupTimeout time.Duration `yaml:"startup_timeout" mapstructure:"startup_timeout" json:"startup_timeout"`

	// ShutdownTimeout is the time to allow in-flight commands and HTTP
	// requests to finish before connections are force closed.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" mapstructure:"shutdown_timeout" json:"shutdown_timeout"`

	Discord      *DiscordConfig      `yaml:"discord" mapstructure:"discord" json:"discord"`
	Provisioning *ProvisioningConfig `yaml:"provisioning" mapstructure:"provisioning" json:"provisioning"`
	Roles        *RolesConfig        `yaml:"roles" mapstructure:"roles" json:"roles"`
	Store        *StoreConfig        `yaml:"store" mapstructure:"store" json:"store"`

	HTTPClient *http.Client `mapstructure:"-" json:"-" log:"[redacted]"`
}

func (c Config) LogValue() slog.Value {
	return structToSlogValue(c)
}

// DiscordConfig configures the discord bot.
type DiscordConfig struct {
	// Enabled starts the discord gateway connection on `run`
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// Discord bot token (from the 'Bot' tab in the discord dev portal)
	Token string `yaml:"token" mapstructure:"token" json:"token" log:"[redacted]" binding:"required_if=Enabled true"`

	// GuildID restricts command handling to a single guild. Leave empty to
	// answer in every guild the bot is a member of.
	GuildID string `yaml:"guild_id" mapstructure:"guild_id" json:"guild_id"`

	// CommandPrefix precedes every text command (ex: "!admin")
	CommandPrefix string `yaml:"command_prefix" mapstructure:"command_prefix" json:"command_prefix" binding:"required_if=Enabled true,max=5"`

	// CustomStatus is shown as the bot's presence
	CustomStatus string `yaml:"custom_status" mapstructure:"custom_status" json:"custom_status"`

	// SiteURL is the public root of the account store, used to build
	// panel links in credential embeds.
	SiteURL string `yaml:"site_url" mapstructure:"site_url" json:"site_url" binding:"required_if=Enabled true,omitempty,url"`

	// ResponseTTL is how long transient channel replies are kept before
	// the bot deletes them
	ResponseTTL time.Duration `yaml:"response_ttl" mapstructure:"response_ttl" json:"response_ttl"`

	// HelpTTL is how long the help embed is kept in the channel
	HelpTTL time.Duration `yaml:"help_ttl" mapstructure:"help_ttl" json:"help_ttl"`

	// IssueCooldown is the minimum time between two issuance commands from
	// the same operator. 0 disables the cooldown.
	IssueCooldown time.Duration `yaml:"issue_cooldown" mapstructure:"issue_cooldown" json:"issue_cooldown"`

	// Base discord logging level
	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	// Log level for the `discordgo` library's logger
	DiscordGoLogLevel *slog.LevelVar `yaml:"discordgo_log_level" mapstructure:"discordgo_log_level" json:"discordgo_log_level"`

	// Discord gateway intents. See: https://discord.com/developers/docs/topics/gateway#gateway-intents
	GatewayIntents discordgo.Intent `yaml:"gateway_intents" mapstructure:"gateway_intents" json:"gateway_intents"`

	httpClient *http.Client
}

// ProvisioningConfig configures credential generation and the client
// which registers generated credentials with the account store.
type ProvisioningConfig struct {
	// BaseURL of the account store (ex: http://localhost:3000)
	BaseURL string `yaml:"base_url" mapstructure:"base_url" json:"base_url" binding:"required,url"`

	// Provider is the path segment of the registration endpoint:
	// POST <base_url>/api/<provider>/register
	Provider string `yaml:"provider" mapstructure:"provider" json:"provider" binding:"required,alphanum"`

	// Secret is the pre-shared bearer token. When empty, provisioning
	// fails closed without any network request.
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Timeout bounds a single registration request
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" json:"timeout" binding:"min=1s,max=2m"`

	// EmailDomain is appended to generated usernames to build the email
	EmailDomain string `yaml:"email_domain" mapstructure:"email_domain" json:"email_domain" binding:"required,hostname"`

	// CredentialTTL is the advisory lifetime communicated with a credential
	CredentialTTL time.Duration `yaml:"credential_ttl" mapstructure:"credential_ttl" json:"credential_ttl" binding:"min=1m"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`
}

// RolesConfig maps discord role IDs to account roles. Empty IDs never match.
type RolesConfig struct {
	OwnerRoleID     string `yaml:"owner_role_id" mapstructure:"owner_role_id" json:"owner_role_id"`
	AdminRoleID     string `yaml:"admin_role_id" mapstructure:"admin_role_id" json:"admin_role_id"`
	ModeratorRoleID string `yaml:"moderator_role_id" mapstructure:"moderator_role_id" json:"moderator_role_id"`

	// AccessRoleID, when set, is required to use any bot command
	AccessRoleID string `yaml:"access_role_id" mapstructure:"access_role_id" json:"access_role_id"`
}

// StoreConfig configures the account store HTTP server
type StoreConfig struct {
	// Enabled starts the account store HTTP server on `run`
	Enabled bool `yaml:"enabled" mapstructure:"enabled" json:"enabled"`

	// The address and port on which the server should listen (e.g., "127.0.0.1:3000").
	Listen string `yaml:"listen" mapstructure:"listen" json:"listen" binding:"required_if=Enabled true"`

	// The network type for listening (e.g., "tcp", "tcp4", "tcp6", "unix").
	ListenNetwork string `yaml:"listen_network" mapstructure:"listen_network" json:"listen_network" binding:"required_if=Enabled true,omitempty,oneof=tcp tcp4 tcp6 unix"`

	// Secret used for signing session cookies
	Secret string `yaml:"secret" mapstructure:"secret" json:"secret" log:"[redacted]"`

	// Providers accepted in the registration path
	Providers []string `yaml:"providers" mapstructure:"providers" json:"providers"`

	// Optional TLS. When Cert and Key are empty the server listens
	// without TLS.
	SSL SSLConfig `yaml:"ssl" mapstructure:"ssl" json:"ssl"`

	LogLevel *slog.LevelVar `yaml:"log_level" mapstructure:"log_level" json:"log_level"`

	CORS CORSConfig `yaml:"cors" mapstructure:"cors" json:"cors"`

	ReadTimeout       time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" json:"read_timeout" binding:"required_if=Enabled true,omitempty,min=1s"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout" mapstructure:"read_header_timeout" json:"read_header_timeout" binding:"required_if=Enabled true,omitempty,min=1s"`
	WriteTimeout      time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" json:"write_timeout" binding:"required_if=Enabled true,omitempty,min=1s"`
	IdleTimeout       time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" json:"idle_timeout" binding:"required_if=Enabled true,omitempty,min=1s"`

	// Max age for session cookies
	SessionMaxAge time.Duration `yaml:"session_max_age" mapstructure:"session_max_age" json:"session_max_age" binding:"required_if=Enabled true,omitempty,min=10m,max=24h"`

	// Login attempts allowed per second, and the burst on top of that
	LoginRateLimit float64 `yaml:"login_rate_limit" mapstructure:"login_rate_limit" json:"login_rate_limit"`
	LoginBurst     int     `yaml:"login_burst" mapstructure:"login_burst" json:"login_burst"`

	// Development relaxes cookie SameSite, allows any CORS origin and
	// mounts pprof handlers
	Development bool `yaml:"development" mapstructure:"development" json:"development"`
}

// SSLConfig specifies cert paths and the TLS version to use
type SSLConfig struct {
	// Path to an SSL certificate
	Cert string `yaml:"cert" mapstructure:"cert" json:"cert"`

	// Path to an SSL cert key
	Key string `yaml:"key" mapstructure:"key" json:"key"`

	// Minimum TLS version
	TLSMinVersion uint16 `yaml:"tls_min_version" mapstructure:"tls_min_version" json:"tls_min_version"`
}

// Enabled reports whether both a certificate and key were configured
func (s SSLConfig) Enabled() bool {
	return s.Cert != "" && s.Key != ""
}

// CORSConfig specifies cross-origin resource sharing settings
type CORSConfig struct {
	AllowOrigins     []string      `yaml:"allow_origins" mapstructure:"allow_origins" json:"allow_origins"`
	AllowMethods     []string      `yaml:"allow_methods" mapstructure:"allow_methods" json:"allow_methods"`
	AllowHeaders     []string      `yaml:"allow_headers" mapstructure:"allow_headers" json:"allow_headers"`
	ExposeHeaders    []string      `yaml:"expose_headers" mapstructure:"expose_headers" json:"expose_headers"`
	AllowCredentials bool          `yaml:"allow_credentials" mapstructure:"allow_credentials" json:"allow_credentials"`
	MaxAge           time.Duration `yaml:"max_age" mapstructure:"max_age" json:"max_age"`
}

func (c CORSConfig) GINConfig() cors.Config {
	return cors.Config{
		AllowOrigins:     c.AllowOrigins,
		AllowMethods:     c.AllowMethods,
		AllowHeaders:     c.AllowHeaders,
		MaxAge:           c.MaxAge,
		ExposeHeaders:    c.ExposeHeaders,
		AllowCredentials: c.AllowCredentials,
	}
}

func DefaultCORSConfig() CORSConfig {
	return CORSConfig{
		AllowOrigins:     []string{},
		AllowMethods:     append([]string(nil), DefaultCORSAllowMethods...),
		AllowHeaders:     append([]string(nil), DefaultCORSAllowHeaders...),
		ExposeHeaders:    append([]string(nil), DefaultCORSExposeHeaders...),
		MaxAge:           DefaultCORSMaxAge,
		AllowCredentials: DefaultAPICORSAllowCredentials,
	}
}

func newLevelVar(level slog.Level) *slog.LevelVar {
	lvl := &slog.LevelVar{}
	lvl.Set(level)
	return lvl
}

// DefaultConfig returns a Config with all default settings populated
func DefaultConfig() *Config {
	return &Config{
		DatabaseType:          DefaultDatabaseType,
		Database:              DefaultDatabase,
		DatabaseLogLevel:      newLevelVar(DefaultDatabaseLogLevel),
		DatabaseSlowThreshold: DefaultDatabaseSlowThreshold,
		LogLevel:              newLevelVar(DefaultLogLevel),
		StartupTimeout:        DefaultStartupTimeout,
		ShutdownTimeout:       DefaultShutdownTimeout,
		Discord: &DiscordConfig{
			Enabled:           true,
			CommandPrefix:     DefaultDiscordCommandPrefix,
			CustomStatus:      DefaultDiscordCustomStatus,
			SiteURL:           DefaultSiteURL,
			ResponseTTL:       DefaultDiscordResponseTTL,
			HelpTTL:           DefaultDiscordHelpTTL,
			IssueCooldown:     DefaultDiscordIssueCooldown,
			LogLevel:          newLevelVar(DefaultDiscordLogLevel),
			DiscordGoLogLevel: newLevelVar(DefaultDiscordgoLogLevel),
			GatewayIntents:    DefaultDiscordGatewayIntent,
		},
		Provisioning: &ProvisioningConfig{
			BaseURL:       DefaultProvisioningBaseURL,
			Provider:      DefaultProvisioningProvider,
			Timeout:       DefaultProvisioningTimeout,
			EmailDomain:   DefaultCredentialEmailDomain,
			CredentialTTL: DefaultCredentialTTL,
			LogLevel:      newLevelVar(DefaultProvisioningLogLevel),
		},
		Roles: &RolesConfig{},
		Store: &StoreConfig{
			Enabled:       true,
			Listen:        DefaultStoreListen,
			ListenNetwork: defaultListenNetwork,
			Providers:     append([]string(nil), DefaultStoreProviders...),
			SSL: SSLConfig{
				TLSMinVersion: DefaultStoreTLSMinVersion,
			},
			LogLevel:          newLevelVar(DefaultStoreLogLevel),
			ReadHeaderTimeout: DefaultReadHeaderTimeout,
			ReadTimeout:       DefaultReadTimeout,
			WriteTimeout:      DefaultWriteTimeout,
			IdleTimeout:       DefaultIdleTimeout,
			SessionMaxAge:     DefaultStoreSessionMaxAge,
			LoginRateLimit:    DefaultStoreLoginRateLimit,
			LoginBurst:        DefaultStoreLoginBurst,
			CORS:              DefaultCORSConfig(),
		},
	}
}
