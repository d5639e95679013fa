package gatekeeper

import (
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strings"
	"time"
)

const (
	embedFooterConfidential = "These credentials are strictly personal and confidential"
	expiryTimeFormat        = "15:04"
)

// panelURL returns the absolute panel URL for the role, rooted at siteURL
func panelURL(siteURL string, role Role) string {
	return strings.TrimRight(siteURL, "/") + role.PanelPath()
}

func credentialFields(cred Credential, siteURL string) []*discordgo.MessageEmbedField {
	link := panelURL(siteURL, cred.Role)
	return []*discordgo.MessageEmbedField{
		{
			Name:  "🌐 Panel",
			Value: fmt.Sprintf("[Open the panel](%s)\n`%s`", link, link),
		},
		{
			Name:  "👤 Username",
			Value: fmt.Sprintf("```\n%s\n```", cred.Username),
		},
		{
			Name:  "🔒 Password",
			Value: fmt.Sprintf("```\n%s\n```", cred.Password),
		},
		{
			Name:   "📧 Email",
			Value:  cred.Email,
			Inline: true,
		},
		{
			Name:   fmt.Sprintf("%s Role", cred.Role.Emoji()),
			Value:  string(cred.Role),
			Inline: true,
		},
	}
}

// selfCredentialEmbed holds the operator's own credentials
func selfCredentialEmbed(cred Credential, siteURL string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "🔑 Panel credentials",
		Description: fmt.Sprintf(
			"Your temporary credentials (change your password before %s UTC):",
			cred.ExpiresAt.UTC().Format(expiryTimeFormat),
		),
		Color:     cred.Role.Color(),
		Fields:    credentialFields(cred, siteURL),
		Footer:    &discordgo.MessageEmbedFooter{Text: "🔒 " + embedFooterConfidential},
		Timestamp: cred.IssuedAt.Format(time.RFC3339),
	}
}

// operatorCopyEmbed is sent to the operator when issuing for someone else
func operatorCopyEmbed(cred Credential, target *discordgo.User, siteURL string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("✅ %s account created", titleCase(string(cred.Role))),
		Description: fmt.Sprintf("An account was created for %s", target.Mention()),
		Color:       colorMember,
		Fields:      credentialFields(cred, siteURL),
		Footer:      &discordgo.MessageEmbedFooter{Text: embedFooterConfidential},
		Timestamp:   cred.IssuedAt.Format(time.RFC3339),
	}
}

// welcomeEmbed is sent to the target of an issued credential
func welcomeEmbed(cred Credential, target *discordgo.User, siteURL string) *discordgo.MessageEmbed {
	link := panelURL(siteURL, cred.Role)
	fields := []*discordgo.MessageEmbedField{
		{
			Name: "How to sign in",
			Value: fmt.Sprintf(
				"1. Go to [the site](%s)\n"+
					"2. Sign in with the credentials below\n"+
					"3. Change your password before %s UTC",
				link,
				cred.ExpiresAt.UTC().Format(expiryTimeFormat),
			),
		},
	}
	fields = append(fields, credentialFields(cred, siteURL)[1:]...)
	return &discordgo.MessageEmbed{
		Title: "🎉 Your account has been created!",
		Description: fmt.Sprintf(
			"Welcome, %s! You've been given the **%s** role.",
			target.Mention(),
			titleCase(string(cred.Role)),
		),
		Color:     colorModerator,
		Fields:    fields,
		Footer:    &discordgo.MessageEmbedFooter{Text: "If you didn't expect this, contact an administrator."},
		Timestamp: cred.IssuedAt.Format(time.RFC3339),
	}
}

// securityWarningEmbed precedes credentials posted in a channel because
// the operator's DMs are closed
func securityWarningEmbed() *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title: "⚠️ Security: direct messages disabled",
		Description: "I couldn't DM you, so your credentials are posted below. " +
			"Change your password immediately, and enable direct messages " +
			"from server members to receive them privately next time.",
		Color: colorWarning,
	}
}

func helpEmbed(role Role, guildName string, requester *discordgo.User, prefix string) *discordgo.MessageEmbed {
	var lines []string
	for _, c := range commandSet {
		if role.AtLeast(c.minRole) {
			lines = append(lines, fmt.Sprintf("`%s%s` - %s", prefix, c.usage, c.description))
		}
	}
	if guildName == "" {
		guildName = "DM"
	}
	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("📚 Help - %s", guildName),
		Description: "Commands available to you:\n​",
		Color:       role.Color(),
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:  "🔹 Commands",
				Value: strings.Join(lines, "\n"),
			},
			{
				Name: "⚠️ Security",
				Value: "• Never share your credentials\n" +
					"• Change issued passwords after your first login\n" +
					"• Report suspicious behavior",
			},
		},
	}
	if requester != nil {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text:    fmt.Sprintf("Requested by %s • %s", userDisplayName(requester), guildName),
			IconURL: requester.AvatarURL(""),
		}
	}
	return embed
}

func errorEmbed(message string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{Description: message, Color: colorError}
}

func userDisplayName(u *discordgo.User) string {
	if u == nil {
		return ""
	}
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

// memberDisplayName prefers the guild nickname, then the global display
// name, then the username
func memberDisplayName(m *discordgo.Member, u *discordgo.User) string {
	if m != nil && m.Nick != "" {
		return m.Nick
	}
	if u == nil && m != nil {
		u = m.User
	}
	return userDisplayName(u)
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
