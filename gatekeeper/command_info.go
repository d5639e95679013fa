package gatekeeper

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"time"
)

const infoDateFormat = "2006-01-02"

func (d *Dispatcher) cmdHelp(ctx context.Context, inv *invocation) error {
	var guildName string
	if g, err := d.guild(inv.guildID); err == nil {
		guildName = g.Name
	}
	d.reply(
		ctx,
		inv.channelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				helpEmbed(inv.role, guildName, inv.author, d.config.CommandPrefix),
			},
		},
		d.config.HelpTTL,
	)
	return nil
}

// cmdUserInfo shows the mentioned member, or the requester
func (d *Dispatcher) cmdUserInfo(ctx context.Context, inv *invocation) error {
	user := inv.author
	member := inv.member
	if len(inv.message.Mentions) > 0 {
		user = inv.message.Mentions[0]
		m, err := d.session.GuildMember(inv.guildID, user.ID)
		if err != nil {
			return fmt.Errorf("error fetching member: %w", err)
		}
		member = m
	}
	role := d.resolveRole(ctx, inv.guildID, user.ID, member)

	fields := []*discordgo.MessageEmbedField{
		{Name: "ID", Value: user.ID, Inline: true},
		{Name: "Username", Value: user.Username, Inline: true},
		{Name: "Account role", Value: fmt.Sprintf("%s %s", role.Emoji(), role), Inline: true},
	}
	if created, err := discordgo.SnowflakeTimestamp(user.ID); err == nil {
		fields = append(
			fields,
			&discordgo.MessageEmbedField{Name: "Created", Value: created.UTC().Format(infoDateFormat), Inline: true},
		)
	}
	if member != nil {
		if !member.JoinedAt.IsZero() {
			fields = append(
				fields,
				&discordgo.MessageEmbedField{Name: "Joined", Value: member.JoinedAt.UTC().Format(infoDateFormat), Inline: true},
			)
		}
		fields = append(
			fields,
			&discordgo.MessageEmbedField{Name: "Discord roles", Value: fmt.Sprintf("%d", len(member.Roles)), Inline: true},
		)
	}

	d.reply(
		ctx,
		inv.channelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:     fmt.Sprintf("👤 %s", memberDisplayName(member, user)),
					Color:     role.Color(),
					Fields:    fields,
					Thumbnail: &discordgo.MessageEmbedThumbnail{URL: user.AvatarURL("")},
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				},
			},
		},
		d.config.HelpTTL,
	)
	return nil
}

func (d *Dispatcher) cmdServerInfo(ctx context.Context, inv *invocation) error {
	guild, err := d.session.GuildWithCounts(inv.guildID)
	if err != nil {
		return fmt.Errorf("error fetching guild: %w", err)
	}
	channels, err := d.session.GuildChannels(inv.guildID)
	if err != nil {
		return fmt.Errorf("error fetching channels: %w", err)
	}

	var text, voice, categories int
	for _, c := range channels {
		switch c.Type {
		case discordgo.ChannelTypeGuildText, discordgo.ChannelTypeGuildNews, discordgo.ChannelTypeGuildForum:
			text++
		case discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice:
			voice++
		case discordgo.ChannelTypeGuildCategory:
			categories++
		}
	}

	fields := []*discordgo.MessageEmbedField{
		{Name: "Owner", Value: fmt.Sprintf("<@%s>", guild.OwnerID), Inline: true},
		{Name: "Members", Value: fmt.Sprintf("%d", guild.ApproximateMemberCount), Inline: true},
		{Name: "Online", Value: fmt.Sprintf("%d", guild.ApproximatePresenceCount), Inline: true},
		{
			Name:   "Channels",
			Value:  fmt.Sprintf("%d text • %d voice • %d categories", text, voice, categories),
			Inline: false,
		},
		{Name: "Roles", Value: fmt.Sprintf("%d", len(guild.Roles)), Inline: true},
	}
	if created, tsErr := discordgo.SnowflakeTimestamp(guild.ID); tsErr == nil {
		fields = append(
			fields,
			&discordgo.MessageEmbedField{Name: "Created", Value: created.UTC().Format(infoDateFormat), Inline: true},
		)
	}

	d.reply(
		ctx,
		inv.channelID,
		&discordgo.MessageSend{
			Embeds: []*discordgo.MessageEmbed{
				{
					Title:     fmt.Sprintf("🏠 %s", guild.Name),
					Color:     colorDefault,
					Fields:    fields,
					Thumbnail: &discordgo.MessageEmbedThumbnail{URL: guild.IconURL("")},
					Timestamp: time.Now().UTC().Format(time.RFC3339),
				},
			},
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
		d.config.HelpTTL,
	)
	return nil
}
