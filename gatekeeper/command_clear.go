package gatekeeper

import (
	"context"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"strconv"
	"time"
)

// bulkDeleteMaxAge is discord's limit on the age of bulk-deleted messages
const bulkDeleteMaxAge = 14 * 24 * time.Hour

// cmdClear deletes the most recent messages in the channel.
// Usage: clear [count]
func (d *Dispatcher) cmdClear(ctx context.Context, inv *invocation) error {
	count := DefaultDiscordClearCount
	if len(inv.args) > 0 {
		n, err := strconv.Atoi(inv.args[0])
		if err != nil || n < 1 {
			return &ValidationError{
				Field:   "count",
				Value:   inv.args[0],
				Message: fmt.Sprintf("must be a number between 1 and %d", DefaultDiscordClearMax),
			}
		}
		count = min(n, DefaultDiscordClearMax)
	}

	messages, err := d.session.ChannelMessages(inv.channelID, count, inv.message.ID, "", "")
	if err != nil {
		return fmt.Errorf("error fetching messages: %w", err)
	}

	cutoff := time.Now().Add(-bulkDeleteMaxAge)
	ids := make([]string, 0, len(messages))
	for _, m := range messages {
		created, tsErr := discordgo.SnowflakeTimestamp(m.ID)
		if tsErr == nil && created.Before(cutoff) {
			continue
		}
		ids = append(ids, m.ID)
	}

	switch len(ids) {
	case 0:
	case 1:
		if err = d.session.ChannelMessageDelete(inv.channelID, ids[0]); err != nil {
			return fmt.Errorf("error deleting message: %w", err)
		}
	default:
		if err = d.session.ChannelMessagesBulkDelete(inv.channelID, ids); err != nil {
			return fmt.Errorf("error deleting messages: %w", err)
		}
	}

	inv.logger.InfoContext(ctx, "cleared messages", "requested", count, "deleted", len(ids))
	d.replyText(
		ctx,
		inv.channelID,
		fmt.Sprintf("🧹 Deleted %d message(s).", len(ids)),
		d.config.ResponseTTL,
	)
	return nil
}
