package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"log/slog"
	"time"
)

// DeliveryState is the terminal state of an issue command
type DeliveryState int

const (
	// DeliveryProvisionFailed means the account store didn't create the
	// account, so nothing was delivered
	DeliveryProvisionFailed DeliveryState = iota

	// DeliveredPrivate means every recipient got the credential by DM
	DeliveredPrivate

	// DeliveredPublicWithWarning means the operator's DMs were closed, and
	// their own credential was posted in the channel under a warning
	DeliveredPublicWithWarning

	// DeliveryPartial means exactly one of operator and target got the
	// credential
	DeliveryPartial

	// Undelivered means the account exists but nobody got the credential
	Undelivered
)

func (s DeliveryState) String() string {
	switch s {
	case DeliveryProvisionFailed:
		return "provision_failed"
	case DeliveredPrivate:
		return "delivered_private"
	case DeliveredPublicWithWarning:
		return "delivered_public_with_warning"
	case DeliveryPartial:
		return "delivery_partial"
	case Undelivered:
		return "undelivered"
	default:
		return fmt.Sprintf("DeliveryState(%d)", int(s))
	}
}

// IssueKind distinguishes self-issued credentials from credentials
// issued to another member
type IssueKind string

const (
	IssueSelf   IssueKind = "self"
	IssueTarget IssueKind = "target"
)

// IssueResult records what happened to a single issue command
type IssueResult struct {
	ID                string
	Kind              IssueKind
	Credential        Credential
	Outcome           ProvisionOutcome
	State             DeliveryState
	OperatorDelivered bool
	TargetDelivered   bool
}

func (r IssueResult) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("id", r.ID),
		slog.String("kind", string(r.Kind)),
		slog.String("username", r.Credential.Username),
		slog.String("role", string(r.Credential.Role)),
		slog.Any("outcome", r.Outcome),
		slog.String("state", r.State.String()),
		slog.Bool("operator_delivered", r.OperatorDelivered),
		slog.Bool("target_delivered", r.TargetDelivered),
	)
}

// deliverer sends issued credentials to discord users, applying the
// fallback policy when direct messages are refused
type deliverer struct {
	session     DiscordSessionHandler
	siteURL     string
	responseTTL time.Duration
	logger      *slog.Logger
}

// sendDM opens a DM channel with userID and sends msg. A refusal by
// discord is returned as a *DeliveryError.
func (d *deliverer) sendDM(userID string, msg *discordgo.MessageSend) error {
	channel, err := d.session.UserChannelCreate(userID)
	if err != nil {
		if isDMRefused(err) {
			return &DeliveryError{UserID: userID, Err: err}
		}
		return fmt.Errorf("error creating DM channel: %w", err)
	}
	if _, err = d.session.ChannelMessageSendComplex(channel.ID, msg); err != nil {
		if isDMRefused(err) {
			return &DeliveryError{UserID: userID, Err: err}
		}
		return fmt.Errorf("error sending DM: %w", err)
	}
	return nil
}

// deliverSelf sends the operator their own credential. If their DMs are
// closed, the credential is posted in channelID behind a security warning.
func (d *deliverer) deliverSelf(
	ctx context.Context,
	channelID string,
	operator *discordgo.User,
	cred Credential,
) (DeliveryState, error) {
	logger := d.contextLogger(ctx)

	err := d.sendDM(
		operator.ID,
		&discordgo.MessageSend{Embeds: []*discordgo.MessageEmbed{selfCredentialEmbed(cred, d.siteURL)}},
	)
	if err == nil {
		return DeliveredPrivate, nil
	}

	var deliveryErr *DeliveryError
	if !errors.As(err, &deliveryErr) {
		logger.ErrorContext(ctx, "error delivering credential", tint.Err(err))
		return Undelivered, err
	}

	logger.WarnContext(
		ctx,
		"operator DMs refused, posting credential in channel",
		"channel_id", channelID,
	)
	msg, sendErr := d.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Content: operator.Mention(),
			Embeds: []*discordgo.MessageEmbed{
				securityWarningEmbed(),
				selfCredentialEmbed(cred, d.siteURL),
			},
			AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{operator.ID}},
		},
	)
	if sendErr != nil {
		logger.ErrorContext(ctx, "error posting credential fallback", tint.Err(sendErr))
		return Undelivered, errors.Join(err, sendErr)
	}
	// the public copy doesn't outlive the credential's advisory expiry
	if ttl := time.Until(cred.ExpiresAt); ttl > 0 && msg != nil {
		d.deleteAfter(channelID, msg.ID, ttl)
	}
	return DeliveredPublicWithWarning, nil
}

// deliverTarget sends the operator a copy of the credential and the
// target a welcome message with it. When the target's DMs are closed, the
// channel only gets a prompt to enable them. The password is never posted
// in the channel.
func (d *deliverer) deliverTarget(
	ctx context.Context,
	channelID string,
	operator *discordgo.User,
	target *discordgo.User,
	cred Credential,
) (result IssueResult) {
	logger := d.contextLogger(ctx)

	opErr := d.sendDM(
		operator.ID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{operatorCopyEmbed(cred, target, d.siteURL)},
		},
	)
	result.OperatorDelivered = opErr == nil
	if opErr != nil {
		logger.WarnContext(ctx, "operator copy not delivered", tint.Err(opErr))
		if isDeliveryRefused(opErr) {
			d.notice(
				ctx,
				channelID,
				operator,
				fmt.Sprintf(
					"⚠️ %s, I couldn't send you a copy of the credentials. "+
						"Enable direct messages from server members to receive them.",
					operator.Mention(),
				),
			)
		}
	}

	targetErr := d.sendDM(
		target.ID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{welcomeEmbed(cred, target, d.siteURL)},
		},
	)
	result.TargetDelivered = targetErr == nil
	if targetErr != nil {
		logger.WarnContext(ctx, "target credential not delivered", tint.Err(targetErr))
		if isDeliveryRefused(targetErr) {
			d.notice(
				ctx,
				channelID,
				target,
				fmt.Sprintf(
					"⚠️ %s, I couldn't send you your credentials. "+
						"Enable direct messages from server members, then ask an administrator "+
						"to send them again.",
					target.Mention(),
				),
			)
		}
	}

	switch {
	case result.OperatorDelivered && result.TargetDelivered:
		result.State = DeliveredPrivate
	case result.OperatorDelivered || result.TargetDelivered:
		result.State = DeliveryPartial
	default:
		result.State = Undelivered
	}
	return result
}

// notice posts a short channel message mentioning only user, deleted
// after the response TTL
func (d *deliverer) notice(
	ctx context.Context,
	channelID string,
	user *discordgo.User,
	content string,
) {
	msg, err := d.session.ChannelMessageSendComplex(
		channelID,
		&discordgo.MessageSend{
			Content:         content,
			AllowedMentions: &discordgo.MessageAllowedMentions{Users: []string{user.ID}},
		},
	)
	if err != nil {
		d.contextLogger(ctx).ErrorContext(ctx, "error posting notice", tint.Err(err))
		return
	}
	if msg != nil {
		d.deleteAfter(channelID, msg.ID, d.responseTTL)
	}
}

// deleteAfter deletes the message once ttl has passed. A non-positive
// ttl keeps the message.
func (d *deliverer) deleteAfter(channelID, messageID string, ttl time.Duration) {
	if ttl <= 0 || messageID == "" {
		return
	}
	time.AfterFunc(
		ttl, func() {
			_ = d.session.ChannelMessageDelete(channelID, messageID)
		},
	)
}

func (d *deliverer) contextLogger(ctx context.Context) *slog.Logger {
	if logger, ok := ContextLogger(ctx); ok && logger != nil {
		return logger
	}
	return d.logger
}

func isDeliveryRefused(err error) bool {
	var deliveryErr *DeliveryError
	return errors.As(err, &deliveryErr)
}
