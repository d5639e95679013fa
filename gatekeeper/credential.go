package gatekeeper

import (
	"crypto/rand"
	"fmt"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"io"
	"log/slog"
	"math/big"
	"strings"
	"time"
	"unicode"
)

const (
	usernameMaxLength     = 30
	usernameFallbackFmt   = "user_%s"
	passwordLength        = 12
	passwordLowerChars    = "abcdefghijklmnopqrstuvwxyz"
	passwordUpperChars    = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	passwordDigitChars    = "0123456789"
	passwordSymbolChars   = "!@#$%^&*"
	PasswordAlphabet      = passwordLowerChars + passwordUpperChars + passwordDigitChars + passwordSymbolChars
	usernameAllowedSymbol = "_-"
)

// Credential is a generated set of site credentials for a discord user.
// The password is only ever shown to users through direct messages or
// the operator fallback, and never reaches a log record.
type Credential struct {
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Password  string    `json:"password" log:"[redacted]"`
	DiscordID string    `json:"discord_id"`
	Role      Role      `json:"role"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

func (c Credential) LogValue() slog.Value {
	return structToSlogValue(c)
}

// CredentialGenerator produces credentials. The zero value is usable,
// with the default email domain, TTL, clock and crypto/rand.
type CredentialGenerator struct {
	EmailDomain string
	TTL         time.Duration

	// Now is the clock used to stamp IssuedAt
	Now func() time.Time

	// Random is the source of password entropy. Must be
	// cryptographically secure outside of tests.
	Random io.Reader
}

// NewCredentialGenerator returns a generator configured from cfg
func NewCredentialGenerator(cfg *ProvisioningConfig) *CredentialGenerator {
	g := &CredentialGenerator{}
	if cfg != nil {
		g.EmailDomain = cfg.EmailDomain
		g.TTL = cfg.CredentialTTL
	}
	return g
}

// GenerateCredential builds a credential for the given discord user.
// The username is derived from displayName (see CleanUsername), the email
// from the username, and the password is drawn from PasswordAlphabet.
// An invalid role is rejected with a *ValidationError before anything
// is generated.
func (g *CredentialGenerator) GenerateCredential(
	requesterID string,
	displayName string,
	role Role,
) (Credential, error) {
	if !role.Valid() {
		return Credential{}, &ValidationError{
			Field:   "role",
			Value:   string(role),
			Message: "unknown role",
		}
	}

	password, err := g.password()
	if err != nil {
		return Credential{}, fmt.Errorf("error generating password: %w", err)
	}

	username := CleanUsername(displayName, requesterID)
	issuedAt := g.now()

	return Credential{
		Username:  username,
		Email:     username + "@" + g.emailDomain(),
		Password:  password,
		DiscordID: requesterID,
		Role:      Role(strings.ToLower(string(role))),
		IssuedAt:  issuedAt,
		ExpiresAt: issuedAt.Add(g.ttl()),
	}, nil
}

// CleanUsername lower-cases the display name, folds accented letters to
// their base letter and drops every character outside [a-z0-9_-]. An empty
// result falls back to user_<id>. The result is truncated to 30
// characters, so long names sharing a prefix collide.
func CleanUsername(displayName string, id string) string {
	folded, _, err := transform.String(
		transform.Chain(
			norm.NFKD,
			runes.Remove(runes.In(unicode.Mn)),
			norm.NFC,
		),
		strings.ToLower(displayName),
	)
	if err != nil {
		folded = strings.ToLower(displayName)
	}

	var b strings.Builder
	for _, r := range folded {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case strings.ContainsRune(usernameAllowedSymbol, r):
			b.WriteRune(r)
		}
	}

	username := b.String()
	if username == "" {
		username = fmt.Sprintf(usernameFallbackFmt, id)
	}
	return truncate(username, usernameMaxLength)
}

func (g *CredentialGenerator) password() (string, error) {
	reader := g.Random
	if reader == nil {
		reader = rand.Reader
	}
	alphabetLen := big.NewInt(int64(len(PasswordAlphabet)))
	pw := make([]byte, passwordLength)
	for i := range pw {
		n, err := rand.Int(reader, alphabetLen)
		if err != nil {
			return "", err
		}
		pw[i] = PasswordAlphabet[n.Int64()]
	}
	return string(pw), nil
}

func (g *CredentialGenerator) now() time.Time {
	if g.Now != nil {
		return g.Now().UTC()
	}
	return time.Now().UTC()
}

func (g *CredentialGenerator) emailDomain() string {
	if g.EmailDomain == "" {
		return DefaultCredentialEmailDomain
	}
	return g.EmailDomain
}

func (g *CredentialGenerator) ttl() time.Duration {
	if g.TTL <= 0 {
		return DefaultCredentialTTL
	}
	return g.TTL
}
