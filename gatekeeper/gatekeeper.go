package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
	"log/slog"
	"net/http"
	"runtime/debug"
	"sync"
	"time"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/nsgbyvt82s-svg/trading-formation-clean/gatekeeper.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

var errNothingToRun = errors.New("neither discord nor the account store is enabled")

// Gatekeeper runs the discord bot and the account store API
type Gatekeeper struct {
	config     *Config
	logger     *slog.Logger
	logHandler slog.Handler

	db      *gorm.DB
	writeDB DBI

	accounts    *AccountStore
	audit       *auditor
	api         *API
	discord     *Discord
	dispatcher  *Dispatcher
	generator   *CredentialGenerator
	provisioner Provisioner

	// signalReady is closed once startup completes
	signalReady chan struct{}
	runMu       sync.Mutex
}

// New creates a Gatekeeper from config. Configuration problems found
// here are joined into a single error.
func New(config *Config) (*Gatekeeper, error) {
	var errs []error

	switch config.DatabaseType {
	case dbTypeSQLite, dbTypePostgres:
		//
	default:
		errs = append(
			errs,
			&ConfigurationError{
				Setting: "database_type",
				Err:     fmt.Errorf("must be %q or %q", dbTypeSQLite, dbTypePostgres),
			},
		)
	}

	if config.HTTPClient == nil {
		config.HTTPClient = http.DefaultClient
	}

	g := &Gatekeeper{
		config:      config,
		signalReady: make(chan struct{}),
	}
	g.logHandler = newLogHandler(config.LogLevel)
	g.logger = slog.New(g.logHandler)
	slog.SetDefault(g.logger)

	g.config.Discord.httpClient = config.HTTPClient
	g.discord = newDiscord(
		g.config.Discord,
		newComponentLogger(config.Discord.LogLevel, "discord"),
	)
	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		newLogHandler(config.Discord.DiscordGoLogLevel).WithAttrs(
			[]slog.Attr{slog.String(loggerNameKey, "discordgo")},
		),
	)

	g.generator = NewCredentialGenerator(config.Provisioning)
	g.provisioner = NewProvisioningClient(
		config.Provisioning,
		config.HTTPClient,
		newComponentLogger(config.Provisioning.LogLevel, "provisioning"),
	)

	if config.Discord.Enabled && config.Provisioning.Secret == "" {
		g.logger.Warn("no provisioning secret set, account creation commands will fail")
	}

	return g, errors.Join(errs...)
}

// ValidateConfig validates the config with its `binding` tags
func (g *Gatekeeper) ValidateConfig() error {
	return structValidator.Struct(g.config)
}

// Ready is closed once Run has finished starting up
func (g *Gatekeeper) Ready() <-chan struct{} {
	return g.signalReady
}

// Run opens the database, then starts the account store API and the
// discord session (whichever are enabled), and blocks until ctx is
// canceled or either service fails.
func (g *Gatekeeper) Run(ctx context.Context) error {
	// prevents concurrent runs
	g.runMu.Lock()
	defer g.runMu.Unlock()

	logger := g.logger
	if err := g.ValidateConfig(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	if !g.config.Discord.Enabled && !g.config.Store.Enabled {
		return errNothingToRun
	}

	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", g.config))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	startCtx, startCancel := context.WithTimeout(ctx, g.config.StartupTimeout)
	defer startCancel()
	if err := g.init(startCtx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		return err
	}

	runtimeWG := &sync.WaitGroup{}
	eg, egCtx := errgroup.WithContext(ctx)

	if g.api != nil {
		eg.Go(
			func() error {
				if err := g.api.Serve(egCtx); err != nil {
					return fmt.Errorf("account store: %w", err)
				}
				return nil
			},
		)
	}

	if g.config.Discord.Enabled {
		if err := g.initDiscordSession(egCtx, runtimeWG); err != nil {
			logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
			cancel()
			return errors.Join(err, eg.Wait())
		}
		logger.InfoContext(ctx, "connecting to discord")
		if err := g.discord.session.Open(); err != nil {
			logger.ErrorContext(ctx, "error connecting to discord", tint.Err(err))
			cancel()
			return errors.Join(fmt.Errorf("error connecting to discord: %w", err), eg.Wait())
		}
		g.audit.save(ctx, ActionLog{Action: actionBotStart}, map[string]any{"version": Version})
	}

	close(g.signalReady)
	logger.InfoContext(ctx, "ready")

	<-egCtx.Done()
	shutdownErr := g.shutdown(ctx, runtimeWG)
	return errors.Join(eg.Wait(), shutdownErr)
}

// init opens and migrates the database (unless one was already set),
// and builds the components using it
func (g *Gatekeeper) init(ctx context.Context) error {
	if g.db == nil {
		db, err := openDatabase(ctx, g.config, g.logger.With(loggerNameKey, "database"))
		if err != nil {
			return err
		}
		g.db = db
	}
	if g.writeDB == nil {
		g.writeDB = NewDatabase(g.db, g.logger, g.config.DatabaseType == dbTypePostgres)
	}

	storeLogger := newComponentLogger(g.config.Store.LogLevel, "store")
	g.accounts = NewAccountStore(g.writeDB, storeLogger, g.config.Provisioning.EmailDomain)
	g.audit = newAuditor(g.writeDB, g.logger)

	if g.config.Store.Enabled {
		api, err := newAPI(g.config.Store, g.config.Provisioning.Secret, g.accounts, storeLogger)
		if err != nil {
			return err
		}
		api.discordConnected = g.discord.Connected
		g.api = api
	}
	return nil
}

// initDiscordSession creates the discord session (unless one was already
// set) and registers the event handlers. Each message is handled in its
// own goroutine, tracked by runtimeWG.
func (g *Gatekeeper) initDiscordSession(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	if g.discord.session == nil {
		session, err := g.discord.newSession()
		if err != nil {
			return err
		}
		g.discord.session = session
	}
	g.discord.removeHandlers()

	g.discord.session.SetIdentify(
		discordgo.Identify{
			Intents:  g.config.Discord.GatewayIntents,
			Presence: discordgo.GatewayStatusUpdate{Status: string(discordgo.StatusOnline)},
		},
	)

	g.dispatcher = NewDispatcher(
		g.discord.session,
		g.config.Discord,
		g.config.Roles,
		g.generator,
		g.provisioner,
		g.audit,
		g.discord.logger,
	)

	g.discord.discordgoRemoveHandlerFuncs = []func(){
		g.discord.session.AddHandler(g.discord.handlerConnect()),
		g.discord.session.AddHandler(g.discord.handlerDisconnect()),
		g.discord.session.AddHandler(g.discord.handlerReady()),
		g.discord.session.AddHandler(g.audit.handlerMemberAdd(ctx)),
		g.discord.session.AddHandler(g.audit.handlerMemberUpdate(ctx)),
		g.discord.session.AddHandler(g.audit.handlerMemberRemove(ctx)),
		g.discord.session.AddHandler(g.audit.handlerChannelCreate(ctx)),
		g.discord.session.AddHandler(g.audit.handlerChannelDelete(ctx)),
		g.discord.session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				if ctx.Err() != nil {
					return
				}
				runtimeWG.Add(1)
				go func() {
					defer runtimeWG.Done()
					defer func() {
						if rc := recover(); rc != nil {
							handleRecover(ctx, rc)
						}
					}()
					g.dispatcher.HandleMessage(ctx, m)
				}()
			},
		),
	}
	return nil
}

// shutdown closes the discord session and waits for in-flight commands,
// up to the shutdown timeout. Commands still running after that are
// abandoned.
func (g *Gatekeeper) shutdown(ctx context.Context, runtimeWG *sync.WaitGroup) error {
	logger := g.logger
	logger.WarnContext(ctx, "shutting down")

	if g.config.Discord.Enabled && g.discord.session != nil {
		g.discord.removeHandlers()
		if err := g.discord.session.Close(); err != nil {
			logger.Error("error closing discord session", tint.Err(err))
		}
	}

	shutdownStart := time.Now()
	done := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(done)
	}()

	timer := time.NewTimer(g.config.ShutdownTimeout)
	defer timer.Stop()

	select {
	case <-done:
		logger.Info(
			"finished handling in-flight commands",
			"shutdown_duration", time.Since(shutdownStart),
		)
		return nil
	case <-timer.C:
		logger.Error("shutdown timed out, abandoning in-flight commands")
		return errors.New("commands did not stop in time")
	}
}

// IssueCredential generates a credential and provisions it with the
// account store, without going through discord
func (g *Gatekeeper) IssueCredential(
	ctx context.Context,
	discordID string,
	displayName string,
	role Role,
) (Credential, ProvisionOutcome, error) {
	cred, err := g.generator.GenerateCredential(discordID, displayName, role)
	if err != nil {
		return cred, ProvisionOutcome{}, err
	}
	outcome := g.provisioner.Provision(WithLogger(ctx, g.logger), cred, RoleOwner)
	metricCredentialsIssued.WithLabelValues("cli", string(cred.Role)).Inc()
	return cred, outcome, outcome.Err
}

// CreateAccount registers an account directly in the database at db,
// bypassing the HTTP API. Used to create the first owner account.
func CreateAccount(ctx context.Context, db *gorm.DB, req NewAccount) (*Account, error) {
	store := NewAccountStore(NewDatabase(db, nil, false), nil, "")
	return store.Register(ctx, req)
}

// handleRecover logs a recovered panic along with its stack trace
func handleRecover(ctx context.Context, rc any) {
	logger, ok := ContextLogger(ctx)
	if logger == nil || !ok {
		logger = slog.Default()
	}
	stackTrace := string(debug.Stack())
	switch v := rc.(type) {
	case error:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(v), "stack_trace", stackTrace)
	case string:
		logger.ErrorContext(ctx, "recovered from panic", tint.Err(errors.New(v)), "stack_trace", stackTrace)
	default:
		logger.ErrorContext(ctx, "recovered from panic", "panic_arg", rc, "stack_trace", stackTrace)
	}
}
