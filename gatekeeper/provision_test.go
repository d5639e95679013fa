package gatekeeper

import (
	"context"
	"encoding/json"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func testCredential(t testing.TB) Credential {
	t.Helper()
	g := &CredentialGenerator{
		Now: func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) },
	}
	cred, err := g.GenerateCredential("123", "Jöhn Doe", RoleAdmin)
	require.NoError(t, err)
	return cred
}

func newTestProvisioningClient(baseURL, secret string) *ProvisioningClient {
	cfg := DefaultConfig().Provisioning
	cfg.BaseURL = baseURL
	cfg.Secret = secret
	cfg.Timeout = 2 * time.Second
	return NewProvisioningClient(cfg, nil, nil)
}

func TestProvisionSuccess(t *testing.T) {
	t.Parallel()
	cred := testCredential(t)

	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/api/discord/register", r.URL.Path)
				assert.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

				var body map[string]any
				assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
				assert.Equal(
					t,
					map[string]any{
						"username":   "johndoe",
						"password":   cred.Password,
						"discord_id": "123",
						"role":       "admin",
						"expiresAt":  "2024-05-01T12:10:00Z",
					},
					body,
				)

				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusCreated)
				_, _ = w.Write(
					[]byte(`{"message":"Account created","user":{"id":"abc","username":"johndoe","email":"johndoe@discord.app","role":"admin"}}`),
				)
			},
		),
	)
	t.Cleanup(srv.Close)

	outcome := newTestProvisioningClient(srv.URL+"/", "s3cret").Provision(context.Background(), cred, RoleOwner)
	require.NoError(t, outcome.Err)
	assert.True(t, outcome.OK())
	assert.Equal(t, ProvisionSuccess, outcome.Status)
	assert.Equal(t, http.StatusCreated, outcome.StatusCode)
	assert.Equal(t, "Account created", outcome.Message)
	require.NotNil(t, outcome.User)
	assert.Equal(t, "abc", outcome.User.ID)
}

func TestProvisionRejected(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		status     int
		body       string
		wantReason string
	}{
		{"json error", http.StatusBadRequest, `{"error":"username already exists"}`, "username already exists"},
		{"raw text", http.StatusInternalServerError, "upstream exploded\n", "upstream exploded"},
		{"empty body", http.StatusForbidden, "", "Forbidden"},
		{"200 is not 201", http.StatusOK, `{"message":"ok"}`, `{"message":"ok"}`},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				srv := httptest.NewServer(
					http.HandlerFunc(
						func(w http.ResponseWriter, r *http.Request) {
							w.WriteHeader(tc.status)
							_, _ = w.Write([]byte(tc.body))
						},
					),
				)
				t.Cleanup(srv.Close)

				outcome := newTestProvisioningClient(srv.URL, "s3cret").Provision(
					context.Background(),
					testCredential(t),
					RoleAdmin,
				)
				assert.Equal(t, ProvisionRejected, outcome.Status)
				assert.Equal(t, tc.status, outcome.StatusCode)
				assert.Equal(t, tc.wantReason, outcome.Reason)

				var rejected *RejectedError
				require.ErrorAs(t, outcome.Err, &rejected)
				assert.Equal(t, tc.wantReason, rejected.Reason)
			},
		)
	}
}

func TestProvisionUnreachable(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	outcome := newTestProvisioningClient(url, "s3cret").Provision(
		context.Background(),
		testCredential(t),
		RoleAdmin,
	)
	assert.Equal(t, ProvisionUnreachable, outcome.Status)
	var transportErr *TransportError
	require.ErrorAs(t, outcome.Err, &transportErr)
	assert.Equal(t, url+"/api/discord/register", transportErr.URL)
}

func TestProvisionTimeout(t *testing.T) {
	t.Parallel()
	release := make(chan struct{})
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				select {
				case <-release:
				case <-r.Context().Done():
				}
			},
		),
	)
	t.Cleanup(
		func() {
			close(release)
			srv.Close()
		},
	)

	client := newTestProvisioningClient(srv.URL, "s3cret")
	client.config.Timeout = 50 * time.Millisecond

	outcome := client.Provision(context.Background(), testCredential(t), RoleAdmin)
	assert.Equal(t, ProvisionUnreachable, outcome.Status)
	assert.True(t, errors.Is(outcome.Err, context.DeadlineExceeded))
}

func TestProvisionWithoutSecretMakesNoRequest(t *testing.T) {
	t.Parallel()
	var requests atomic.Int32
	srv := httptest.NewServer(
		http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				requests.Add(1)
				w.WriteHeader(http.StatusCreated)
			},
		),
	)
	t.Cleanup(srv.Close)

	outcome := newTestProvisioningClient(srv.URL, "").Provision(
		context.Background(),
		testCredential(t),
		RoleAdmin,
	)
	assert.Equal(t, ProvisionUnreachable, outcome.Status)
	var configErr *ConfigurationError
	require.ErrorAs(t, outcome.Err, &configErr)
	assert.Equal(t, "provisioning.secret", configErr.Setting)
	assert.ErrorIs(t, outcome.Err, ErrMissingSecret)
	assert.Zero(t, requests.Load())
}

func TestRegisterURL(t *testing.T) {
	t.Parallel()
	client := newTestProvisioningClient("https://formation.example.com/", "x")
	client.config.Provider = "github"
	u, err := client.RegisterURL()
	require.NoError(t, err)
	assert.Equal(t, "https://formation.example.com/api/github/register", u)

	client.config.BaseURL = ""
	_, err = client.RegisterURL()
	var configErr *ConfigurationError
	assert.ErrorAs(t, err, &configErr)
}
