package gatekeeper

import (
	"bytes"
	"errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"strings"
	"testing"
	"time"
)

func TestCleanUsername(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name        string
		displayName string
		id          string
		want        string
	}{
		{"plain", "john", "1", "john"},
		{"mixed case and spaces", "John Doe", "1", "johndoe"},
		{"accents folded", "Jöhn Doe!!", "1", "johndoe"},
		{"french", "Élodie Bérénice", "1", "elodieberenice"},
		{"allowed symbols kept", "trader_pro-99", "1", "trader_pro-99"},
		{"emoji dropped", "🚀 moon 🚀", "1", "moon"},
		{"nothing left", "🚀🚀🚀", "42", "user_42"},
		{"empty", "", "42", "user_42"},
		{
			"truncated",
			"abcdefghijklmnopqrstuvwxyz0123456789",
			"1",
			"abcdefghijklmnopqrstuvwxyz0123",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				got := CleanUsername(tc.displayName, tc.id)
				assert.Equal(t, tc.want, got)
				assert.LessOrEqual(t, len(got), usernameMaxLength)
			},
		)
	}
}

func TestGenerateCredential(t *testing.T) {
	t.Parallel()
	issued := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	g := &CredentialGenerator{
		EmailDomain: "members.example.com",
		TTL:         15 * time.Minute,
		Now:         func() time.Time { return issued },
	}

	cred, err := g.GenerateCredential("123", "Jöhn Doe!!", RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, "johndoe", cred.Username)
	assert.Equal(t, "johndoe@members.example.com", cred.Email)
	assert.Equal(t, "123", cred.DiscordID)
	assert.Equal(t, RoleAdmin, cred.Role)
	assert.Equal(t, issued, cred.IssuedAt)
	assert.Equal(t, issued.Add(15*time.Minute), cred.ExpiresAt)

	assert.Len(t, cred.Password, passwordLength)
	for _, r := range cred.Password {
		assert.Truef(t, strings.ContainsRune(PasswordAlphabet, r), "unexpected character %q", r)
	}
}

func TestGenerateCredentialDefaults(t *testing.T) {
	t.Parallel()
	var g CredentialGenerator
	before := time.Now().UTC()
	cred, err := g.GenerateCredential("123", "", RoleMember)
	require.NoError(t, err)

	assert.Equal(t, "user_123", cred.Username)
	assert.Equal(t, "user_123@"+DefaultCredentialEmailDomain, cred.Email)
	assert.WithinDuration(t, before.Add(DefaultCredentialTTL), cred.ExpiresAt, 5*time.Second)
}

func TestGenerateCredentialPasswordsDiffer(t *testing.T) {
	t.Parallel()
	g := NewCredentialGenerator(DefaultConfig().Provisioning)
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		cred, err := g.GenerateCredential("1", "john", RoleMember)
		require.NoError(t, err)
		assert.Falsef(t, seen[cred.Password], "password repeated after %d credentials", i)
		seen[cred.Password] = true
	}
}

func TestGenerateCredentialInvalidRole(t *testing.T) {
	t.Parallel()
	g := NewCredentialGenerator(nil)
	_, err := g.GenerateCredential("1", "john", Role("superuser"))
	var validationErr *ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Equal(t, "superuser", validationErr.Value)
}

type failingReader struct{}

func (failingReader) Read([]byte) (int, error) {
	return 0, errors.New("entropy exhausted")
}

func TestGenerateCredentialRandomFailure(t *testing.T) {
	t.Parallel()
	g := &CredentialGenerator{Random: failingReader{}}
	_, err := g.GenerateCredential("1", "john", RoleMember)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entropy exhausted")
}

func TestCredentialLogValueRedactsPassword(t *testing.T) {
	t.Parallel()
	g := &CredentialGenerator{}
	cred, err := g.GenerateCredential("1", "john", RoleMember)
	require.NoError(t, err)

	var buf bytes.Buffer
	logger := newTestLogger(&buf)
	logger.Info("issued", "credential", cred)
	assert.NotContains(t, buf.String(), cred.Password)
	assert.Contains(t, buf.String(), "john")
	assert.Contains(t, buf.String(), "[redacted]")
}
