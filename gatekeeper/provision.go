package gatekeeper

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"github.com/lmittmann/tint"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	provisionRegisterPathFmt = "/api/%s/register"
	maxProvisionResponseSize = 64 * 1024
)

// ProvisionStatus is the outcome of a single registration attempt
type ProvisionStatus int

const (
	// ProvisionUnreachable means the account store was never reached, or
	// the request was never sent (missing configuration).
	ProvisionUnreachable ProvisionStatus = iota

	// ProvisionSuccess means the account store created the account (201)
	ProvisionSuccess

	// ProvisionRejected means the account store answered with any other status
	ProvisionRejected
)

func (s ProvisionStatus) String() string {
	switch s {
	case ProvisionSuccess:
		return "success"
	case ProvisionRejected:
		return "rejected"
	case ProvisionUnreachable:
		return "unreachable"
	default:
		return fmt.Sprintf("ProvisionStatus(%d)", int(s))
	}
}

// ProvisionOutcome is the interpreted result of a registration request.
// Err is nil only on success, and is one of *ConfigurationError,
// *RejectedError or *TransportError otherwise.
type ProvisionOutcome struct {
	Status     ProvisionStatus
	StatusCode int
	Reason     string
	Message    string
	User       *RegisteredAccount
	Err        error
}

func (o ProvisionOutcome) OK() bool {
	return o.Status == ProvisionSuccess
}

func (o ProvisionOutcome) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("status", o.Status.String()),
	}
	if o.StatusCode != 0 {
		attrs = append(attrs, slog.Int("status_code", o.StatusCode))
	}
	if o.Reason != "" {
		attrs = append(attrs, slog.String("reason", o.Reason))
	}
	if o.Err != nil {
		attrs = append(attrs, tint.Err(o.Err))
	}
	return slog.GroupValue(attrs...)
}

// registerRequest is the registration payload sent to the account store
type registerRequest struct {
	Username  string `json:"username"`
	Password  string `json:"password" log:"[redacted]"`
	DiscordID string `json:"discord_id"`
	Role      Role   `json:"role"`
	ExpiresAt string `json:"expiresAt"`
}

// registerResponse is the body the account store returns. On success,
// Message and User are set. Otherwise, Error is set.
type registerResponse struct {
	Message string             `json:"message,omitempty"`
	User    *RegisteredAccount `json:"user,omitempty"`
	Error   string             `json:"error,omitempty"`
}

// RegisteredAccount is the account summary returned by the account store
// after a successful registration. It never includes the password.
type RegisteredAccount struct {
	ID        string     `json:"id"`
	Username  string     `json:"username"`
	Email     string     `json:"email"`
	DiscordID string     `json:"discord_id,omitempty"`
	Role      Role       `json:"role"`
	Provider  string     `json:"provider,omitempty"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Provisioner registers a credential with the account store
type Provisioner interface {
	Provision(ctx context.Context, cred Credential, requesterRole Role) ProvisionOutcome
}

// ProvisioningClient registers generated credentials with the account store.
// Each call makes exactly one request, with no retry.
type ProvisioningClient struct {
	config     *ProvisioningConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewProvisioningClient returns a client for the account store at
// config.BaseURL. A nil httpClient uses http.DefaultClient.
func NewProvisioningClient(
	config *ProvisioningConfig,
	httpClient *http.Client,
	logger *slog.Logger,
) *ProvisioningClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProvisioningClient{
		config:     config,
		httpClient: httpClient,
		logger:     logger.With(loggerNameKey, "provisioning"),
	}
}

// RegisterURL returns the registration endpoint for the configured provider
func (p *ProvisioningClient) RegisterURL() (string, error) {
	base := strings.TrimRight(p.config.BaseURL, "/")
	if base == "" {
		return "", &ConfigurationError{
			Setting: "provisioning.base_url",
			Err:     errors.New("base url not configured"),
		}
	}
	provider := p.config.Provider
	if provider == "" {
		provider = DefaultProvisioningProvider
	}
	u, err := url.Parse(base + fmt.Sprintf(provisionRegisterPathFmt, url.PathEscape(provider)))
	if err != nil {
		return "", &ConfigurationError{Setting: "provisioning.base_url", Err: err}
	}
	return u.String(), nil
}

// Provision sends cred to the account store. The returned outcome is
// Success only for HTTP 201. Any other status is Rejected, with the reason
// taken from the response's `error` field, or from the raw body if that
// can't be parsed. Transport failures are Unreachable. When no secret is
// configured, no request is made and the outcome carries a
// *ConfigurationError.
func (p *ProvisioningClient) Provision(
	ctx context.Context,
	cred Credential,
	requesterRole Role,
) (outcome ProvisionOutcome) {
	logger, ok := ContextLogger(ctx)
	if !ok || logger == nil {
		logger = p.logger
	}
	logger = logger.With("credential", cred, "requester_role", requesterRole)

	started := time.Now()
	defer func() {
		metricProvisionDuration.Observe(time.Since(started).Seconds())
		metricProvisionOutcomes.WithLabelValues(outcome.Status.String()).Inc()
	}()

	if p.config.Secret == "" {
		err := &ConfigurationError{Setting: "provisioning.secret", Err: ErrMissingSecret}
		logger.ErrorContext(ctx, "refusing to provision", tint.Err(err))
		return ProvisionOutcome{Status: ProvisionUnreachable, Err: err}
	}

	endpoint, err := p.RegisterURL()
	if err != nil {
		logger.ErrorContext(ctx, "refusing to provision", tint.Err(err))
		return ProvisionOutcome{Status: ProvisionUnreachable, Err: err}
	}

	payload := registerRequest{
		Username:  cred.Username,
		Password:  cred.Password,
		DiscordID: cred.DiscordID,
		Role:      Role(strings.ToLower(string(cred.Role))),
		ExpiresAt: cred.ExpiresAt.UTC().Format(time.RFC3339),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return ProvisionOutcome{
			Status: ProvisionUnreachable,
			Err:    fmt.Errorf("error encoding registration request: %w", err),
		}
	}

	if p.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.config.Timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(
		ctx,
		http.MethodPost,
		endpoint,
		bytes.NewReader(body),
	)
	if err != nil {
		return ProvisionOutcome{
			Status: ProvisionUnreachable,
			Err:    &TransportError{URL: endpoint, Err: err},
		}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.config.Secret)

	logger.InfoContext(ctx, "registering account", "url", endpoint)
	resp, err := p.httpClient.Do(req)
	if err != nil {
		terr := &TransportError{URL: endpoint, Err: err}
		logger.ErrorContext(ctx, "account store unreachable", tint.Err(terr))
		return ProvisionOutcome{Status: ProvisionUnreachable, Err: terr}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxProvisionResponseSize))
	if err != nil && resp.StatusCode == http.StatusCreated {
		// the account was created, even if the body was cut off
		logger.WarnContext(ctx, "error reading registration response", tint.Err(err))
	}

	var parsed registerResponse
	parseErr := json.Unmarshal(respBody, &parsed)

	if resp.StatusCode == http.StatusCreated {
		outcome = ProvisionOutcome{
			Status:     ProvisionSuccess,
			StatusCode: resp.StatusCode,
		}
		if parseErr == nil {
			outcome.Message = parsed.Message
			outcome.User = parsed.User
		}
		logger.InfoContext(ctx, "account registered", "outcome", outcome)
		return outcome
	}

	reason := parsed.Error
	if parseErr != nil || reason == "" {
		reason = strings.TrimSpace(string(respBody))
	}
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}
	outcome = ProvisionOutcome{
		Status:     ProvisionRejected,
		StatusCode: resp.StatusCode,
		Reason:     reason,
		Err:        &RejectedError{StatusCode: resp.StatusCode, Reason: reason},
	}
	logger.WarnContext(ctx, "registration rejected", "outcome", outcome)
	return outcome
}
