package gatekeeper

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/google/uuid"
	"github.com/lmittmann/tint"
	"strings"
)

// cmdAdmin issues the requester a credential with their own role
func (d *Dispatcher) cmdAdmin(ctx context.Context, inv *invocation) error {
	if !inv.role.CanIssue(inv.role) {
		return &PermissionError{Action: commandAdmin, Role: inv.role, Required: RoleAdmin}
	}
	if err := d.startCooldown(inv.author.ID); err != nil {
		return err
	}

	cred, err := d.generator.GenerateCredential(
		inv.author.ID,
		memberDisplayName(inv.member, inv.author),
		inv.role,
	)
	if err != nil {
		return err
	}
	result, err := d.issue(ctx, inv, IssueSelf, cred, nil)
	if err != nil {
		return err
	}
	if result.State == DeliveredPrivate {
		d.replyText(
			ctx,
			inv.channelID,
			fmt.Sprintf("📬 %s, your credentials have been sent by DM.", inv.author.Mention()),
			d.config.ResponseTTL,
		)
	}
	return nil
}

// cmdAccount issues a credential to the mentioned member.
// Usage: compte @member [role]
func (d *Dispatcher) cmdAccount(ctx context.Context, inv *invocation) error {
	usage := &usageError{usage: inv.command.usage}
	if len(inv.message.Mentions) == 0 {
		return usage
	}
	target := inv.message.Mentions[0]
	if target.Bot {
		return &ValidationError{Field: "member", Value: target.Username, Message: "bots can't have accounts"}
	}

	role := RoleMember
	for _, arg := range inv.args {
		if strings.HasPrefix(arg, "<@") {
			continue
		}
		parsed, err := ParseRole(arg)
		if err != nil {
			return err
		}
		role = parsed
		break
	}

	if !inv.role.CanIssue(role) {
		required := RoleAdmin
		if role.AtLeast(required) {
			required = role
		}
		return &PermissionError{Action: "issue " + string(role), Role: inv.role, Required: required}
	}
	if err := d.startCooldown(inv.author.ID); err != nil {
		return err
	}

	targetMember, err := d.session.GuildMember(inv.guildID, target.ID)
	if err != nil {
		inv.logger.WarnContext(ctx, "error fetching target member", tint.Err(err))
		targetMember = nil
	}

	cred, err := d.generator.GenerateCredential(
		target.ID,
		memberDisplayName(targetMember, target),
		role,
	)
	if err != nil {
		return err
	}

	result, err := d.issue(ctx, inv, IssueTarget, cred, target)
	if err != nil {
		return err
	}
	if result.State != Undelivered {
		d.replyText(
			ctx,
			inv.channelID,
			fmt.Sprintf(
				"✅ %s account created for %s.",
				titleCase(string(cred.Role)),
				target.Mention(),
			),
			d.config.ResponseTTL,
		)
	}
	return nil
}

// issue provisions cred and delivers it. A provisioning failure is
// returned as the outcome's error, after which nothing is delivered.
// target is nil for self-issued credentials.
func (d *Dispatcher) issue(
	ctx context.Context,
	inv *invocation,
	kind IssueKind,
	cred Credential,
	target *discordgo.User,
) (result IssueResult, err error) {
	result = IssueResult{
		ID:         uuid.NewString(),
		Kind:       kind,
		Credential: cred,
	}
	logger := inv.logger.With("issue_id", result.ID, "kind", kind)
	ctx = WithLogger(ctx, logger)

	metricCredentialsIssued.WithLabelValues(string(kind), string(cred.Role)).Inc()
	defer func() {
		metricDeliveries.WithLabelValues(result.State.String()).Inc()
		logger.InfoContext(ctx, "issue finished", "result", result)
	}()

	progress := d.reply(
		ctx,
		inv.channelID,
		&discordgo.MessageSend{Content: "⏳ Creating account..."},
		0,
	)
	defer func() {
		if progress != nil {
			_ = d.session.ChannelMessageDelete(inv.channelID, progress.ID)
		}
	}()

	result.Outcome = d.provisioner.Provision(ctx, cred, inv.role)
	if !result.Outcome.OK() {
		result.State = DeliveryProvisionFailed
		d.clearCooldown(inv.author.ID)
		d.audit.record(
			ctx, actionAccountFailed, inv, map[string]any{
				"issue_id": result.ID,
				"username": cred.Username,
				"role":     string(cred.Role),
				"outcome":  result.Outcome.Status.String(),
				"reason":   result.Outcome.Reason,
			},
		)
		return result, result.Outcome.Err
	}

	switch kind {
	case IssueSelf:
		var deliveryErr error
		result.State, deliveryErr = d.deliverer.deliverSelf(ctx, inv.channelID, inv.author, cred)
		result.OperatorDelivered = result.State != Undelivered
		if deliveryErr != nil {
			logger.WarnContext(ctx, "self credential not delivered", tint.Err(deliveryErr))
		}
	default:
		delivered := d.deliverer.deliverTarget(ctx, inv.channelID, inv.author, target, cred)
		result.State = delivered.State
		result.OperatorDelivered = delivered.OperatorDelivered
		result.TargetDelivered = delivered.TargetDelivered
	}

	details := map[string]any{
		"issue_id": result.ID,
		"username": cred.Username,
		"email":    cred.Email,
		"role":     string(cred.Role),
		"state":    result.State.String(),
	}
	if target != nil {
		details["target_id"] = target.ID
	}
	d.audit.record(ctx, actionAccountCreated, inv, details)

	if result.State == Undelivered {
		d.replyText(
			ctx,
			inv.channelID,
			"⚠️ The account was created, but the credentials couldn't be delivered to anyone.",
			d.config.ResponseTTL,
		)
	}
	return result, nil
}
