package gatekeeper

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"github.com/gin-contrib/cors"
	ginPprof "github.com/gin-contrib/pprof"
	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	gsessions "github.com/gorilla/sessions"
	"github.com/gorilla/securecookie"
	"github.com/lmittmann/tint"
	"golang.org/x/time/rate"
	"gorm.io/gorm"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"
)

const (
	pprofPrefix = "/debug"

	apiPathRegister       = "/api/:provider/register"
	apiPathChangePassword = "/api/user/password"
	apiHealthCheck        = "/healthz"
	apiPathMetrics        = "/metrics"

	pathSelfRegister = "/register"
	pathLogin        = "/login"
	pathLogout       = "/logout"
	pathProfile      = "/profile"
	pathDashboard    = "/dashboard"

	panelListLimit = 50
)

const (
	xRequestIDHeader = "X-Request-ID"
	sessionVarName   = "user"
	sessionVarField  = "username"
	ginAccountKey    = "account"
	bearerPrefix     = "Bearer "
)

var structValidator = validator.New()

// expiresAtLayouts are accepted for the registration `expiresAt` field.
// Naive timestamps are taken as UTC.
var expiresAtLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
}

// API is the account store HTTP server.
//
// It serves provider registration (bearer-authenticated), self
// registration, session login/logout, role-based dashboards, health
// and metrics.
type API struct {
	config              *StoreConfig
	httpServer          *http.Server
	listener            net.Listener
	engine              *gin.Engine
	store               CookieStore
	loginRequestLimiter *rate.Limiter
	accounts            *AccountStore
	logger              *slog.Logger

	// provisioningSecret is the pre-shared bearer token required by
	// the registration endpoint. Registration is refused without it.
	provisioningSecret string

	// discordConnected reports the gateway status for health checks
	discordConnected func() bool
}

// newAPI builds the account store API
func newAPI(
	config *StoreConfig,
	provisioningSecret string,
	accounts *AccountStore,
	logger *slog.Logger,
) (*API, error) {
	if logger == nil {
		logger = slog.New(newLogHandler(config.LogLevel))
	}

	r := gin.New()

	limit := rate.Limit(config.LoginRateLimit)
	if config.LoginRateLimit <= 0 {
		limit = rate.Inf
	}
	burst := config.LoginBurst
	if burst < 1 {
		burst = 1
	}

	api := &API{
		config:              config,
		engine:              r,
		accounts:            accounts,
		provisioningSecret:  provisioningSecret,
		loginRequestLimiter: rate.NewLimiter(limit, burst),
		logger:              logger.With(loggerNameKey, "api"),
		discordConnected:    func() bool { return false },
	}

	var sessionKey []byte
	if config.Secret != "" {
		sessionKey = derive64ByteKey(config.Secret)
	} else {
		api.logger.Warn("no store secret set, sessions won't survive a restart")
		sessionKey = securecookie.GenerateRandomKey(64)
	}
	api.store = NewCookieStore(sessionKey)
	api.store.Options(api.sessionOptions())
	r.Use(sessions.Sessions(sessionVarName, api.store))

	httpServer := &http.Server{
		Addr:              config.Listen,
		Handler:           r,
		WriteTimeout:      config.WriteTimeout,
		IdleTimeout:       config.IdleTimeout,
		ReadTimeout:       config.ReadTimeout,
		ReadHeaderTimeout: config.ReadHeaderTimeout,
	}
	if config.SSL.Enabled() {
		tlsCfg, err := tlsConfig(config.SSL.Cert, config.SSL.Key, config.SSL.TLSMinVersion)
		if err != nil {
			return nil, fmt.Errorf("error loading SSL certs: %w", err)
		}
		httpServer.TLSConfig = tlsCfg
	}
	api.httpServer = httpServer

	corsConfig := config.CORS.GINConfig()
	if len(corsConfig.AllowOrigins) == 0 {
		if config.Development {
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
		} else {
			corsConfig.AllowOrigins = []string{"http://" + config.Listen}
		}
	}

	if !config.Development {
		r.Use(gin.Recovery())
	}
	r.Use(
		requestIDMiddleware(),
		ginLoggingMiddleware(api.logger),
		metricMiddleware(),
		cors.New(corsConfig),
	)

	r.GET(apiHealthCheck, api.healthCheck)
	r.GET(apiPathMetrics, metricsHandler())

	r.POST(apiPathRegister, api.bearerMiddleware(), api.providerRegister)
	r.POST(pathSelfRegister, api.selfRegister)
	r.POST(pathLogin, api.login)
	r.POST(pathLogout, api.logout)

	if config.Development {
		ginPprof.Register(r, pprofPrefix)
	}

	authed := r.Group("/")
	authed.Use(api.authMiddleware())
	authed.GET(pathProfile, api.profile)
	authed.GET(pathDashboard, api.dashboard)
	authed.POST(apiPathChangePassword, api.changePassword)
	authed.GET(RoleOwner.PanelPath(), api.requireRole(RoleOwner), api.ownerPanel)
	authed.GET(RoleAdmin.PanelPath(), api.requireRole(RoleAdmin), api.adminPanel)
	authed.GET(RoleModerator.PanelPath(), api.requireRole(RoleModerator), api.moderatorPanel)

	return api, nil
}

func (a *API) sessionOptions() sessions.Options {
	sameSite := http.SameSiteStrictMode
	if a.config.Development {
		sameSite = http.SameSiteLaxMode
	}
	return sessions.Options{
		Path:     "/",
		MaxAge:   int(a.config.SessionMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   a.config.SSL.Enabled(),
		SameSite: sameSite,
	}
}

// Serve listens on the configured address and serves until ctx is
// canceled, then shuts the server down.
func (a *API) Serve(ctx context.Context) error {
	if a.listener == nil {
		listenCfg := &net.ListenConfig{}
		network := a.config.ListenNetwork
		if network == "" {
			network = "tcp"
		}
		ln, err := listenCfg.Listen(ctx, network, a.config.Listen)
		if err != nil {
			return fmt.Errorf("error listening on %s: %w", a.config.Listen, err)
		}
		a.listener = ln
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.WriteTimeout+time.Second)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("error shutting down http server", tint.Err(err))
		}
	}()

	a.logger.InfoContext(ctx, "serving account store", "addr", a.listener.Addr().String())
	var err error
	if a.httpServer.TLSConfig != nil {
		err = a.httpServer.ServeTLS(a.listener, "", "")
	} else {
		err = a.httpServer.Serve(a.listener)
	}
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

type CookieStore interface {
	sessions.Store
}

func NewCookieStore(keyPairs ...[]byte) CookieStore {
	return &cookieStore{gsessions.NewCookieStore(keyPairs...)}
}

type cookieStore struct {
	*gsessions.CookieStore
}

func (c *cookieStore) Options(options sessions.Options) {
	c.CookieStore.Options = options.ToGorillaOptions()
}

// providerRegisterPayload is the body of POST /api/:provider/register.
// discordId is accepted as an alias of discord_id.
type providerRegisterPayload struct {
	Username       string `json:"username" binding:"required,max=64"`
	Email          string `json:"email" binding:"omitempty,email"`
	Password       string `json:"password" binding:"required,min=8,max=128"`
	DiscordID      string `json:"discord_id"`
	DiscordIDAlias string `json:"discordId"`
	Role           string `json:"role"`
	ExpiresAt      string `json:"expiresAt"`
}

type selfRegisterPayload struct {
	Username        string `json:"username" binding:"required,max=64"`
	Email           string `json:"email" binding:"required,email"`
	Password        string `json:"password" binding:"required,min=8,max=128,eqfield=ConfirmPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

type userLogin struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type changePasswordPayload struct {
	CurrentPassword string `json:"current_password" binding:"required"`
	NewPassword     string `json:"new_password" binding:"required,min=8,max=128,eqfield=ConfirmPassword,nefield=CurrentPassword"`
	ConfirmPassword string `json:"confirm_password" binding:"required"`
}

// httpReply represents a standard HTTP response message
type httpReply struct {
	Message string `json:"message"`
}

// httpError represents an error message returned to the client
type httpError struct {
	Error string `json:"error"`
}

type registerReply struct {
	Message string            `json:"message"`
	User    RegisteredAccount `json:"user"`
}

type loginReply struct {
	Message  string            `json:"message"`
	User     RegisteredAccount `json:"user"`
	Redirect string            `json:"redirect"`
}

type healthCheckResponse struct {
	Database                bool `json:"database"`
	DiscordGatewayConnected bool `json:"discord_gateway_connected"`
}

type panelResponse struct {
	Panel    string              `json:"panel"`
	User     RegisteredAccount   `json:"user"`
	Accounts []RegisteredAccount `json:"accounts,omitempty"`
	Events   []AuthEvent         `json:"auth_events,omitempty"`
}

// bearerMiddleware requires `Authorization: Bearer <secret>`. Without a
// configured secret, every request is refused.
func (a *API) bearerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		if a.provisioningSecret == "" {
			logger.Error("registration refused, no provisioning secret configured")
			c.AbortWithStatusJSON(
				http.StatusServiceUnavailable,
				httpError{Error: "registration is not configured"},
			)
			return
		}
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, bearerPrefix) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "missing bearer token"})
			return
		}
		token := strings.TrimSpace(strings.TrimPrefix(header, bearerPrefix))
		if subtle.ConstantTimeCompare([]byte(token), []byte(a.provisioningSecret)) != 1 {
			logger.Warn("invalid bearer token")
			c.AbortWithStatusJSON(http.StatusForbidden, httpError{Error: "invalid API key"})
			return
		}
		c.Next()
	}
}

// providerRegister creates an account on behalf of an external
// provider (the discord bot).
//
// Responses:
//   - 201 Created: {message, user}
//   - 400 Bad Request: {error} for invalid payloads and taken
//     username/email/discord id
//   - 404 Not Found: unknown provider
func (a *API) providerRegister(c *gin.Context) {
	logger := ginContextLogger(c)
	provider := strings.ToLower(c.Param("provider"))
	if !slices.Contains(a.providers(), provider) {
		c.AbortWithStatusJSON(http.StatusNotFound, httpError{Error: "unknown provider"})
		return
	}

	var payload providerRegisterPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		metricStoreRegistrations.WithLabelValues("provider", "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: bindingErrorMessage(err)})
		return
	}
	discordID := payload.DiscordID
	if discordID == "" {
		discordID = payload.DiscordIDAlias
	}
	if discordID == "" {
		metricStoreRegistrations.WithLabelValues("provider", "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "discord_id is required"})
		return
	}

	req := NewAccount{
		Username:  payload.Username,
		Email:     payload.Email,
		Password:  payload.Password,
		DiscordID: discordID,
		Role:      Role(payload.Role),
		Provider:  provider,
	}
	if payload.ExpiresAt != "" {
		expiresAt, err := parseExpiresAt(payload.ExpiresAt)
		if err != nil {
			metricStoreRegistrations.WithLabelValues("provider", "invalid").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: "invalid expiresAt"})
			return
		}
		req.ExpiresAt = &expiresAt
	}

	a.register(c, "provider", req)
	logger.Debug("provider registration handled", "provider", provider)
}

// selfRegister creates a member account from the site's sign-up form
func (a *API) selfRegister(c *gin.Context) {
	var payload selfRegisterPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		metricStoreRegistrations.WithLabelValues(providerSelf, "invalid").Inc()
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: bindingErrorMessage(err)})
		return
	}
	a.register(
		c, providerSelf, NewAccount{
			Username: payload.Username,
			Email:    payload.Email,
			Password: payload.Password,
			Role:     RoleMember,
			Provider: providerSelf,
		},
	)
}

func (a *API) register(c *gin.Context, source string, req NewAccount) {
	logger := ginContextLogger(c)
	account, err := a.accounts.Register(c.Request.Context(), req)
	if err != nil {
		var (
			dupErr        *DuplicateError
			validationErr *ValidationError
		)
		switch {
		case errors.As(err, &dupErr):
			metricStoreRegistrations.WithLabelValues(source, "duplicate").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: dupErr.Error()})
		case errors.As(err, &validationErr):
			metricStoreRegistrations.WithLabelValues(source, "invalid").Inc()
			c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: validationErr.Error()})
		default:
			metricStoreRegistrations.WithLabelValues(source, "error").Inc()
			logger.Error("error registering account", tint.Err(err))
			ginReplyError(c, "internal server error")
		}
		return
	}
	metricStoreRegistrations.WithLabelValues(source, "created").Inc()
	c.JSON(
		http.StatusCreated,
		registerReply{Message: "account created", User: account.Summary()},
	)
}

func (a *API) login(c *gin.Context) {
	logger := ginContextLogger(c)
	if !a.loginRequestLimiter.Allow() {
		logger.Warn("login rate limited")
		metricStoreLogins.WithLabelValues("rate_limited").Inc()
		c.AbortWithStatusJSON(http.StatusTooManyRequests, httpError{Error: "too many requests"})
		return
	}

	var login userLogin
	if err := c.ShouldBindJSON(&login); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: bindingErrorMessage(err)})
		return
	}

	account, err := a.accounts.Authenticate(c.Request.Context(), login.Username, login.Password, c.ClientIP())
	if err != nil {
		switch {
		case errors.Is(err, ErrInvalidLogin):
			metricStoreLogins.WithLabelValues("invalid").Inc()
			logger.Warn("invalid login attempt", "username", login.Username)
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: ErrInvalidLogin.Error()})
		case errors.Is(err, ErrCredentialStale):
			metricStoreLogins.WithLabelValues("expired").Inc()
			c.AbortWithStatusJSON(
				http.StatusForbidden,
				httpError{Error: "these credentials have expired, ask for new ones"},
			)
		default:
			metricStoreLogins.WithLabelValues("error").Inc()
			logger.Error("error authenticating", tint.Err(err))
			ginReplyError(c, "internal server error")
		}
		return
	}

	session := sessions.Default(c)
	session.Set(sessionVarField, account.Username)
	if err = session.Save(); err != nil {
		logger.Error("error saving session", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	metricStoreLogins.WithLabelValues("ok").Inc()
	logger.Info("logged in", "account", account)
	c.JSON(
		http.StatusOK,
		loginReply{
			Message:  "logged in",
			User:     account.Summary(),
			Redirect: account.Role.PanelPath(),
		},
	)
}

func (a *API) logout(c *gin.Context) {
	logger := ginContextLogger(c)
	session := sessions.Default(c)
	if username, ok := session.Get(sessionVarField).(string); ok && username != "" {
		a.accounts.RecordLogout(c.Request.Context(), username, c.ClientIP())
	}
	session.Clear()
	session.Options(sessions.Options{Path: "/", MaxAge: -1})
	if err := session.Save(); err != nil {
		logger.Error("error saving session", tint.Err(err))
	}
	ginReplyMessage(c, "logged out")
}

// authMiddleware loads the session's account into the context, or
// aborts with 401
func (a *API) authMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := ginContextLogger(c)
		session := sessions.Default(c)
		username, ok := session.Get(sessionVarField).(string)
		if !ok || username == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		account, err := a.accounts.Get(c.Request.Context(), username)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				logger.Error("error loading session account", tint.Err(err))
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpError{Error: "unauthorized"})
			return
		}
		c.Set(ginAccountKey, account)
		c.Next()
	}
}

// requireRole redirects accounts below role to their profile
func (a *API) requireRole(role Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		account := contextAccount(c)
		if account == nil || !account.Role.AtLeast(role) {
			c.Redirect(http.StatusFound, pathProfile)
			c.Abort()
			return
		}
		c.Next()
	}
}

func contextAccount(c *gin.Context) *Account {
	v, ok := c.Get(ginAccountKey)
	if !ok {
		return nil
	}
	account, _ := v.(*Account)
	return account
}

func (a *API) profile(c *gin.Context) {
	c.JSON(http.StatusOK, contextAccount(c).Summary())
}

// dashboard redirects to the panel for the account's role
func (a *API) dashboard(c *gin.Context) {
	account := contextAccount(c)
	target := account.Role.PanelPath()
	if target == pathDashboard {
		c.JSON(
			http.StatusOK,
			panelResponse{Panel: string(account.Role), User: account.Summary()},
		)
		return
	}
	c.Redirect(http.StatusFound, target)
}

func (a *API) ownerPanel(c *gin.Context) {
	account := contextAccount(c)
	resp := panelResponse{Panel: string(RoleOwner), User: account.Summary()}
	var err error
	if resp.Accounts, err = a.accountSummaries(c.Request.Context()); err != nil {
		ginContextLogger(c).Error("error listing accounts", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	if resp.Events, err = a.accounts.AuthEvents(c.Request.Context(), panelListLimit); err != nil {
		ginContextLogger(c).Error("error listing auth events", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (a *API) adminPanel(c *gin.Context) {
	account := contextAccount(c)
	accounts, err := a.accountSummaries(c.Request.Context())
	if err != nil {
		ginContextLogger(c).Error("error listing accounts", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	c.JSON(
		http.StatusOK,
		panelResponse{Panel: string(RoleAdmin), User: account.Summary(), Accounts: accounts},
	)
}

func (a *API) moderatorPanel(c *gin.Context) {
	account := contextAccount(c)
	events, err := a.accounts.AuthEvents(c.Request.Context(), panelListLimit)
	if err != nil {
		ginContextLogger(c).Error("error listing auth events", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	c.JSON(
		http.StatusOK,
		panelResponse{Panel: string(RoleModerator), User: account.Summary(), Events: events},
	)
}

func (a *API) accountSummaries(ctx context.Context) ([]RegisteredAccount, error) {
	accounts, err := a.accounts.List(ctx, panelListLimit)
	if err != nil {
		return nil, err
	}
	summaries := make([]RegisteredAccount, 0, len(accounts))
	for _, acct := range accounts {
		summaries = append(summaries, acct.Summary())
	}
	return summaries, nil
}

func (a *API) changePassword(c *gin.Context) {
	logger := ginContextLogger(c)
	var payload changePasswordPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, httpError{Error: bindingErrorMessage(err)})
		return
	}
	account := contextAccount(c)
	err := a.accounts.ChangePassword(
		c.Request.Context(),
		account.Username,
		payload.CurrentPassword,
		payload.NewPassword,
	)
	if err != nil {
		if errors.Is(err, ErrInvalidLogin) {
			c.AbortWithStatusJSON(http.StatusForbidden, httpError{Error: "current password is incorrect"})
			return
		}
		logger.Error("error changing password", tint.Err(err))
		ginReplyError(c, "internal server error")
		return
	}
	ginReplyMessage(c, "password changed")
}

func (a *API) healthCheck(c *gin.Context) {
	resp := healthCheckResponse{DiscordGatewayConnected: a.discordConnected()}
	if sqlDB, err := a.accounts.db.DB().DB(); err == nil {
		resp.Database = sqlDB.PingContext(c.Request.Context()) == nil
	}
	status := http.StatusOK
	if !resp.Database {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}

func (a *API) providers() []string {
	if len(a.config.Providers) == 0 {
		return DefaultStoreProviders
	}
	return a.config.Providers
}

func parseExpiresAt(s string) (time.Time, error) {
	var err error
	for _, layout := range expiresAtLayouts {
		var t time.Time
		t, err = time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, err
}

// bindingErrorMessage flattens validation errors into a short message
// naming the offending fields
func bindingErrorMessage(err error) string {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return "invalid request body"
	}
	msgs := make([]string, 0, len(validationErrs))
	for _, fe := range validationErrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(msgs, ", ")
}

// requestIDMiddleware assigns a random request ID to each request, and
// returns it in the X-Request-ID header
func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := generateRandomHexString(32)
		if err != nil {
			c.AbortWithStatus(http.StatusInternalServerError)
			return
		}
		c.Set(xRequestIDHeader, id)
		c.Header(xRequestIDHeader, id)
		c.Next()
	}
}

// ginContextLogger returns the slog.Logger from the given gin context,
// or, if it doesn't exist, creates a logger with request details included,
// and sets the logger in the context so the next call to ginContextLogger
// will return the new logger.
func ginContextLogger(c *gin.Context) *slog.Logger {
	if logger, ok := c.Get(string(loggerContextKey)); ok {
		if requestLogger, isLogger := logger.(*slog.Logger); isLogger {
			return requestLogger
		}
	}
	requestID, _ := c.Get(xRequestIDHeader)
	requestLogger := slog.Default().With(
		slog.Group(
			"request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"remote_ip", c.RemoteIP(),
			"user_agent", c.Request.UserAgent(),
		),
		slog.Any(xRequestIDHeader, requestID),
	)
	c.Set(string(loggerContextKey), requestLogger)
	return requestLogger
}

// ginLoggingMiddleware logs each request once it's finished, with its
// duration and response status
func ginLoggingMiddleware(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID, _ := c.Get(xRequestIDHeader)
		requestLogger := logger.With(
			slog.Group(
				"request",
				"method", c.Request.Method,
				"path", c.Request.URL.Path,
				"remote_ip", c.RemoteIP(),
				"user_agent", c.Request.UserAgent(),
			),
			slog.Any(xRequestIDHeader, requestID),
		)
		c.Set(string(loggerContextKey), requestLogger)
		c.Next()
		latency := time.Since(start)

		response := slog.Group(
			"response",
			"status_code", c.Writer.Status(),
			"body_size", c.Writer.Size(),
		)
		if errs := c.Errors.ByType(gin.ErrorTypePrivate); len(errs) > 0 {
			requestLogger.Error(
				fmt.Sprintf("%s %s finished with errors", c.Request.Method, c.Request.URL.Path),
				"duration", latency,
				"errors", errs.Errors(),
				response,
			)
			return
		}
		requestLogger.Info(
			fmt.Sprintf("%s %s finished", c.Request.Method, c.Request.URL.Path),
			"duration", latency,
			response,
		)
	}
}

// ginReplyMessage sends a JSON response with a message,
// with HTTP status code 200, via the gin context.
func ginReplyMessage(c *gin.Context, message string) {
	c.JSON(http.StatusOK, httpReply{Message: message})
}

// ginReplyError sends a JSON response with a message,
// with HTTP status code 500, via the gin context.
func ginReplyError(c *gin.Context, err string) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, httpError{Error: err})
}

//nolint:gochecknoinits // gotta register the validators
func init() {
	structValidator.SetTagName("binding")
}
