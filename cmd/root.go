package cmd

import (
	"context"
	"fmt"
	"github.com/joho/godotenv"
	"github.com/mitchellh/mapstructure"
	"github.com/nsgbyvt82s-svg/trading-formation-clean/gatekeeper"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"reflect"
	"strings"
	"syscall"
)

var (
	cfg        = gatekeeper.DefaultConfig()
	configFile string
)

// envAliases are unprefixed variables accepted for settings commonly
// shared with other deployments
var envAliases = map[string]string{
	"provisioning.secret": "API_KEY",
	"discord.token":       "DISCORD_TOKEN",
}

var rootCmd = &cobra.Command{
	Use:   "gatekeeper [flags]",
	Short: "Discord bot issuing site credentials, and the account store behind it",
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := unmarshalConfig(cfg); err != nil {
			log.Fatalln(err)
		}
	},
}

// unmarshalConfig decodes the viper settings into c. Slices are replaced
// rather than merged into the defaults.
func unmarshalConfig(c *gatekeeper.Config) error {
	return viper.Unmarshal(
		c,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(" "),
				LevelToStringHookFunc(),
				mapstructure.TextUnmarshallerHookFunc(),
			),
		),
		func(dc *mapstructure.DecoderConfig) {
			dc.ZeroFields = true
		},
	)
}

func getLogLevel(level string) (slog.Level, error) {
	switch strings.ToUpper(level) {
	case slog.LevelDebug.String():
		return slog.LevelDebug, nil
	case slog.LevelInfo.String():
		return slog.LevelInfo, nil
	case slog.LevelWarn.String():
		return slog.LevelWarn, nil
	case slog.LevelError.String():
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

// LevelToStringHookFunc decodes level names ("INFO", "debug") into
// *slog.LevelVar fields
func LevelToStringHookFunc() mapstructure.DecodeHookFuncType {
	return func(
		f reflect.Type,
		t reflect.Type,
		data any,
	) (any, error) {
		if f.Kind() != reflect.String {
			return data, nil
		}
		// non-nil *slog.LevelVar fields are offered as slog.LevelVar
		if t.Kind() == reflect.Ptr {
			t = t.Elem()
		}
		if t != reflect.TypeOf(slog.LevelVar{}) {
			return data, nil
		}
		lvl, err := getLogLevel(data.(string))
		if err != nil {
			return nil, err
		}
		lvlVar := &slog.LevelVar{}
		lvlVar.Set(lvl)
		return lvlVar, nil
	}
}

// Execute runs the root command, canceling its context on SIGINT/SIGTERM
func Execute() {
	ctx, cancel := context.WithCancel(context.Background())
	rootCmd.SetContext(ctx)
	signals := make(chan os.Signal, 1)
	signal.Notify(
		signals,
		os.Interrupt,
		syscall.SIGHUP,
		syscall.SIGTERM,
		syscall.SIGINT,
	)
	defer func() {
		signal.Stop(signals)
		cancel()
	}()
	go func() {
		select {
		case <-signals:
			cancel()
		case <-ctx.Done():
			//
		}
	}()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func initConfig() {
	if configFile == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found")
		}
	} else {
		if err := godotenv.Load(configFile); err != nil {
			log.Printf("error loading env file %s: %v", configFile, err)
		}
	}

	viper.SetDefault("database", gatekeeper.DefaultDatabase)
	viper.SetDefault("database_type", gatekeeper.DefaultDatabaseType)
	viper.SetDefault("database_slow_threshold", gatekeeper.DefaultDatabaseSlowThreshold)
	viper.SetDefault("database_log_level", gatekeeper.DefaultDatabaseLogLevel.String())
	viper.SetDefault("log_level", gatekeeper.DefaultLogLevel.String())
	viper.SetDefault("startup_timeout", gatekeeper.DefaultStartupTimeout)
	viper.SetDefault("shutdown_timeout", gatekeeper.DefaultShutdownTimeout)

	// Discord config
	viper.SetDefault("discord.enabled", true)
	viper.SetDefault("discord.token", "")
	viper.SetDefault("discord.guild_id", "")
	viper.SetDefault("discord.command_prefix", gatekeeper.DefaultDiscordCommandPrefix)
	viper.SetDefault("discord.custom_status", gatekeeper.DefaultDiscordCustomStatus)
	viper.SetDefault("discord.site_url", gatekeeper.DefaultSiteURL)
	viper.SetDefault("discord.response_ttl", gatekeeper.DefaultDiscordResponseTTL)
	viper.SetDefault("discord.help_ttl", gatekeeper.DefaultDiscordHelpTTL)
	viper.SetDefault("discord.issue_cooldown", gatekeeper.DefaultDiscordIssueCooldown)
	viper.SetDefault("discord.log_level", gatekeeper.DefaultDiscordLogLevel.String())
	viper.SetDefault(
		"discord.discordgo_log_level",
		gatekeeper.DefaultDiscordgoLogLevel.String(),
	)
	viper.SetDefault("discord.gateway_intents", int(gatekeeper.DefaultDiscordGatewayIntent))

	// Provisioning config
	viper.SetDefault("provisioning.base_url", gatekeeper.DefaultProvisioningBaseURL)
	viper.SetDefault("provisioning.provider", gatekeeper.DefaultProvisioningProvider)
	viper.SetDefault("provisioning.secret", "")
	viper.SetDefault("provisioning.timeout", gatekeeper.DefaultProvisioningTimeout)
	viper.SetDefault("provisioning.email_domain", gatekeeper.DefaultCredentialEmailDomain)
	viper.SetDefault("provisioning.credential_ttl", gatekeeper.DefaultCredentialTTL)
	viper.SetDefault(
		"provisioning.log_level",
		gatekeeper.DefaultProvisioningLogLevel.String(),
	)

	// Role mapping
	viper.SetDefault("roles.owner_role_id", "")
	viper.SetDefault("roles.admin_role_id", "")
	viper.SetDefault("roles.moderator_role_id", "")
	viper.SetDefault("roles.access_role_id", "")

	// Account store
	viper.SetDefault("store.enabled", true)
	viper.SetDefault("store.listen", gatekeeper.DefaultStoreListen)
	viper.SetDefault("store.listen_network", "tcp")
	viper.SetDefault("store.secret", "")
	viper.SetDefault("store.providers", gatekeeper.DefaultStoreProviders)
	viper.SetDefault("store.log_level", gatekeeper.DefaultStoreLogLevel.String())
	viper.SetDefault("store.read_timeout", gatekeeper.DefaultReadTimeout)
	viper.SetDefault("store.read_header_timeout", gatekeeper.DefaultReadHeaderTimeout)
	viper.SetDefault("store.write_timeout", gatekeeper.DefaultWriteTimeout)
	viper.SetDefault("store.idle_timeout", gatekeeper.DefaultIdleTimeout)
	viper.SetDefault("store.session_max_age", gatekeeper.DefaultStoreSessionMaxAge)
	viper.SetDefault("store.login_rate_limit", gatekeeper.DefaultStoreLoginRateLimit)
	viper.SetDefault("store.login_burst", gatekeeper.DefaultStoreLoginBurst)
	viper.SetDefault("store.development", false)
	viper.SetDefault("store.ssl.cert", "")
	viper.SetDefault("store.ssl.key", "")
	viper.SetDefault("store.ssl.tls_min_version", gatekeeper.DefaultStoreTLSMinVersion)

	// Account store: CORS
	viper.SetDefault("store.cors.allow_origins", []string{})
	viper.SetDefault("store.cors.allow_methods", gatekeeper.DefaultCORSAllowMethods)
	viper.SetDefault("store.cors.allow_headers", gatekeeper.DefaultCORSAllowHeaders)
	viper.SetDefault("store.cors.expose_headers", gatekeeper.DefaultCORSExposeHeaders)
	viper.SetDefault("store.cors.max_age", gatekeeper.DefaultCORSMaxAge)
	viper.SetDefault(
		"store.cors.allow_credentials",
		gatekeeper.DefaultAPICORSAllowCredentials,
	)

	envPrefix := os.Getenv(gatekeeper.EnvvarSetEnvPrefix)
	if envPrefix == "" {
		envPrefix = gatekeeper.DefaultEnvPrefix
	}
	viper.SetEnvPrefix(envPrefix)

	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)
	viper.AutomaticEnv()

	// Prefixed variables take precedence over the aliases
	for key, alias := range envAliases {
		prefixed := envPrefix + "_" + replacer.Replace(strings.ToUpper(key))
		if err := viper.BindEnv(key, prefixed, alias); err != nil {
			log.Fatalf("error binding %s: %v", key, err)
		}
	}
}

//nolint:gochecknoinits
func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(
		&configFile,
		"config",
		"",
		"Env file to load configuration from",
	)
}
