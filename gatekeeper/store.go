package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"gorm.io/gorm"
	"log/slog"
	"strings"
	"time"
)

const (
	columnAccountUsername  = "username"
	columnAccountEmail     = "email"
	columnAccountDiscordID = "discord_id"

	accountStatusActive = "active"

	providerSelf = "self"

	authEventLogin          = "login"
	authEventLogout         = "logout"
	authEventRegister       = "register"
	authEventPasswordChange = "password_change"
)

// Account is a site account held by the account store.
// Username, email and discord ID are each unique. DiscordID is nil for
// self-registered accounts.
type Account struct {
	ModelUintID
	ModelUnixTime
	PublicID     string  `gorm:"uniqueIndex;not null" json:"public_id"`
	Username     string  `gorm:"uniqueIndex;not null" json:"username"`
	Email        string  `gorm:"uniqueIndex;not null" json:"email"`
	DiscordID    *string `gorm:"uniqueIndex" json:"discord_id,omitempty"`
	PasswordHash string  `gorm:"not null" json:"-" log:"[redacted]"`
	Role         Role    `gorm:"not null;default:member" json:"role"`
	Provider     string  `json:"provider"`
	Status       string  `gorm:"not null;default:active" json:"status"`

	// ExpiresAt is the advisory expiry communicated with an issued
	// credential. Logins after it are refused until the password has
	// been changed.
	ExpiresAt       *time.Time `json:"expires_at,omitempty"`
	PasswordChanged bool       `json:"password_changed"`
	LastLoginAt     *time.Time `json:"last_login_at,omitempty"`
}

func (a Account) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Uint64("id", uint64(a.ID)),
		slog.String("public_id", a.PublicID),
		slog.String("username", a.Username),
		slog.String("role", string(a.Role)),
		slog.String("provider", a.Provider),
	)
}

// Summary returns the account as sent to API clients
func (a Account) Summary() RegisteredAccount {
	ra := RegisteredAccount{
		ID:        a.PublicID,
		Username:  a.Username,
		Email:     a.Email,
		Role:      a.Role,
		Provider:  a.Provider,
		ExpiresAt: a.ExpiresAt,
		CreatedAt: time.UnixMilli(a.CreatedAt).UTC(),
	}
	if a.DiscordID != nil {
		ra.DiscordID = *a.DiscordID
	}
	return ra
}

// credentialStale reports whether an issued credential has passed its
// advisory expiry without the password having been changed
func (a Account) credentialStale(now time.Time) bool {
	return a.ExpiresAt != nil && !a.PasswordChanged && now.After(*a.ExpiresAt)
}

// AuthEvent is an audit record of account store authentication activity
type AuthEvent struct {
	ModelUintID
	ModelUnixTime
	AccountID *uint  `gorm:"index" json:"account_id,omitempty"`
	Username  string `gorm:"index" json:"username"`
	Event     string `gorm:"index" json:"event"`
	Success   bool   `json:"success"`
	RemoteIP  string `json:"remote_ip,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

// NewAccount is a registration request to the account store
type NewAccount struct {
	Username  string
	Email     string
	Password  string `log:"[redacted]"`
	DiscordID string
	Role      Role
	Provider  string
	ExpiresAt *time.Time
}

// AccountStore persists accounts and authenticates them
type AccountStore struct {
	db          DBI
	logger      *slog.Logger
	now         func() time.Time
	emailDomain string
}

func NewAccountStore(db DBI, logger *slog.Logger, emailDomain string) *AccountStore {
	if logger == nil {
		logger = slog.Default()
	}
	if emailDomain == "" {
		emailDomain = DefaultCredentialEmailDomain
	}
	return &AccountStore{
		db:          db,
		logger:      logger.With(loggerNameKey, "account_store"),
		now:         func() time.Time { return time.Now().UTC() },
		emailDomain: emailDomain,
	}
}

// Register creates an account. Username, email and discord ID must not
// already be taken, otherwise a *DuplicateError naming the field is
// returned. When no email is given, one is derived from the username.
func (s *AccountStore) Register(ctx context.Context, req NewAccount) (*Account, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" {
		return nil, &ValidationError{Field: "username", Message: "required"}
	}
	if req.Password == "" {
		return nil, &ValidationError{Field: "password", Message: "required"}
	}
	role := req.Role
	if role == "" {
		role = RoleMember
	}
	role, err := ParseRole(string(role))
	if err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	if email == "" {
		email = strings.ToLower(username) + "@" + s.emailDomain
	}

	hash, err := hashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	account := &Account{
		PublicID:     uuid.NewString(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Provider:     req.Provider,
		Status:       accountStatusActive,
		ExpiresAt:    req.ExpiresAt,
	}
	if req.DiscordID != "" {
		discordID := req.DiscordID
		account.DiscordID = &discordID
	}

	err = s.db.Transaction(
		ctx, func(tx *gorm.DB) error {
			if dupErr := checkDuplicates(tx, account); dupErr != nil {
				return dupErr
			}
			return tx.Create(account).Error
		},
	)
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			err = &DuplicateError{Field: "account", Value: username}
		}
		var dupErr *DuplicateError
		if errors.As(err, &dupErr) {
			s.logger.WarnContext(
				ctx,
				"duplicate registration",
				"field", dupErr.Field,
				"username", username,
			)
			return nil, err
		}
		s.logger.ErrorContext(ctx, "error creating account", tint.Err(err))
		return nil, fmt.Errorf("error creating account: %w", err)
	}

	s.logger.InfoContext(ctx, "account created", "account", account)
	s.recordAuthEvent(ctx, account, username, authEventRegister, true, "", req.Provider)
	return account, nil
}

func checkDuplicates(tx *gorm.DB, account *Account) error {
	checks := []struct {
		column string
		value  *string
	}{
		{columnAccountUsername, &account.Username},
		{columnAccountEmail, &account.Email},
		{columnAccountDiscordID, account.DiscordID},
	}
	for _, check := range checks {
		if check.value == nil {
			continue
		}
		var count int64
		if err := tx.Model(&Account{}).
			Where(check.column+" = ?", *check.value).
			Count(&count).Error; err != nil {
			return err
		}
		if count > 0 {
			return &DuplicateError{Field: check.column, Value: *check.value}
		}
	}
	return nil
}

// Get returns the account with the given username
func (s *AccountStore) Get(ctx context.Context, username string) (*Account, error) {
	var account Account
	err := s.db.DB().WithContext(ctx).
		Where(columnAccountUsername+" = ?", username).
		First(&account).Error
	if err != nil {
		return nil, err
	}
	return &account, nil
}

// Authenticate checks the password for the account identified by
// username (or email). Unknown accounts and bad passwords both return
// ErrInvalidLogin. An issued credential whose advisory expiry has passed
// without a password change returns ErrCredentialStale.
func (s *AccountStore) Authenticate(
	ctx context.Context,
	login string,
	password string,
	remoteIP string,
) (*Account, error) {
	login = strings.TrimSpace(login)
	var account Account
	err := s.db.DB().WithContext(ctx).
		Where(columnAccountUsername+" = ? OR "+columnAccountEmail+" = ?", login, strings.ToLower(login)).
		First(&account).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.recordAuthEvent(ctx, nil, login, authEventLogin, false, remoteIP, "unknown account")
			return nil, ErrInvalidLogin
		}
		return nil, err
	}

	valid, err := verifyPassword(account.PasswordHash, password)
	if err != nil {
		return nil, fmt.Errorf("error verifying password: %w", err)
	}
	if !valid {
		s.recordAuthEvent(ctx, &account, login, authEventLogin, false, remoteIP, "bad password")
		return nil, ErrInvalidLogin
	}

	now := s.now()
	if account.credentialStale(now) {
		s.recordAuthEvent(ctx, &account, login, authEventLogin, false, remoteIP, "credential expired")
		return nil, ErrCredentialStale
	}

	if _, err = s.db.Updates(ctx, &account, map[string]any{"last_login_at": now}); err != nil {
		s.logger.ErrorContext(ctx, "error updating last login", tint.Err(err))
	}
	account.LastLoginAt = &now
	s.recordAuthEvent(ctx, &account, login, authEventLogin, true, remoteIP, "")
	return &account, nil
}

// ChangePassword sets a new password after verifying the current one.
// Changing the password clears the credential's advisory expiry.
func (s *AccountStore) ChangePassword(
	ctx context.Context,
	username string,
	current string,
	newPassword string,
) error {
	account, err := s.Get(ctx, username)
	if err != nil {
		return err
	}
	valid, err := verifyPassword(account.PasswordHash, current)
	if err != nil {
		return fmt.Errorf("error verifying password: %w", err)
	}
	if !valid {
		s.recordAuthEvent(ctx, account, username, authEventPasswordChange, false, "", "bad password")
		return ErrInvalidLogin
	}
	hash, err := hashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}
	_, err = s.db.Updates(
		ctx, account, map[string]any{
			"password_hash":    hash,
			"password_changed": true,
			"expires_at":       nil,
		},
	)
	if err != nil {
		return fmt.Errorf("error updating password: %w", err)
	}
	s.recordAuthEvent(ctx, account, username, authEventPasswordChange, true, "", "")
	return nil
}

// RecordLogout stores a logout event for the given username
func (s *AccountStore) RecordLogout(ctx context.Context, username string, remoteIP string) {
	account, err := s.Get(ctx, username)
	if err != nil {
		account = nil
	}
	s.recordAuthEvent(ctx, account, username, authEventLogout, true, remoteIP, "")
}

// List returns up to limit accounts, most recently created first
func (s *AccountStore) List(ctx context.Context, limit int) ([]Account, error) {
	var accounts []Account
	err := s.db.DB().WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&accounts).Error
	return accounts, err
}

// AuthEvents returns the most recent authentication events, newest first
func (s *AccountStore) AuthEvents(ctx context.Context, limit int) ([]AuthEvent, error) {
	var events []AuthEvent
	err := s.db.DB().WithContext(ctx).
		Order("id desc").
		Limit(limit).
		Find(&events).Error
	return events, err
}

func (s *AccountStore) recordAuthEvent(
	ctx context.Context,
	account *Account,
	username string,
	event string,
	success bool,
	remoteIP string,
	detail string,
) {
	ev := AuthEvent{
		Username: username,
		Event:    event,
		Success:  success,
		RemoteIP: remoteIP,
		Detail:   detail,
	}
	if account != nil && account.ID != 0 {
		id := account.ID
		ev.AccountID = &id
	}
	if _, err := s.db.Create(ctx, &ev); err != nil {
		s.logger.ErrorContext(ctx, "error recording auth event", tint.Err(err), "event", event)
	}
}
