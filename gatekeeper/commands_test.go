package gatekeeper

import (
	"context"
	"errors"
	"fmt"
	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

const (
	testAdminRoleID     = "role-admin"
	testModeratorRoleID = "role-moderator"
	testAccessRoleID    = "role-access"
	testSiteURL         = "https://formation.example.com"
)

var (
	ownerUser  = &discordgo.User{ID: testOwnerID, Username: "founder"}
	adminUser  = &discordgo.User{ID: "400000000000000004", Username: "alice", GlobalName: "Alice Martin"}
	memberUser = &discordgo.User{ID: "500000000000000005", Username: "bob"}
	targetUser = &discordgo.User{ID: "600000000000000006", Username: "john"}
	botUser    = &discordgo.User{ID: "700000000000000007", Username: "helper", Bot: true}
)

// fakeProvisioner records provisioned credentials and answers with outcome
type fakeProvisioner struct {
	mu      sync.Mutex
	calls   []Credential
	roles   []Role
	outcome ProvisionOutcome
	panics  bool
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{outcome: ProvisionOutcome{Status: ProvisionSuccess, StatusCode: 201}}
}

func (p *fakeProvisioner) Provision(_ context.Context, cred Credential, requesterRole Role) ProvisionOutcome {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.panics {
		panic("provisioner exploded")
	}
	p.calls = append(p.calls, cred)
	p.roles = append(p.roles, requesterRole)
	return p.outcome
}

func (p *fakeProvisioner) provisioned() []Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Credential(nil), p.calls...)
}

func newTestDispatcher(
	t testing.TB,
	session *fakeDiscordSession,
	prov Provisioner,
) *Dispatcher {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Discord.ResponseTTL = 0
	cfg.Discord.HelpTTL = 0
	cfg.Discord.IssueCooldown = 0
	cfg.Discord.SiteURL = testSiteURL

	roles := &RolesConfig{
		AdminRoleID:     testAdminRoleID,
		ModeratorRoleID: testModeratorRoleID,
	}
	return NewDispatcher(
		session,
		cfg.Discord,
		roles,
		NewCredentialGenerator(cfg.Provisioning),
		prov,
		nil,
		newComponentLogger(slog.LevelDebug, t.Name()),
	)
}

// messageCreate builds a guild message event. As with gateway events,
// the attached member has no User.
func messageCreate(author *discordgo.User, content string, roles []string, mentions ...*discordgo.User) *discordgo.MessageCreate {
	return &discordgo.MessageCreate{
		Message: &discordgo.Message{
			ID:        fmt.Sprintf("cmd-%d", time.Now().UnixNano()),
			ChannelID: testChannelID,
			GuildID:   testGuildID,
			Content:   content,
			Author:    author,
			Member:    &discordgo.Member{Roles: roles},
			Mentions:  mentions,
		},
	}
}

func channelText(session *fakeDiscordSession) string {
	var parts []string
	for _, m := range session.messagesTo(testChannelID) {
		parts = append(parts, m.text())
	}
	return strings.Join(parts, "\n---\n")
}

// recentSnowflake returns a message ID created `age` ago
func recentSnowflake(age time.Duration, seq int64) string {
	ms := time.Now().Add(-age).UnixMilli() - 1420070400000
	return strconv.FormatInt((ms<<22)+seq, 10)
}

func TestHandleMessageIgnored(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		m    *discordgo.MessageCreate
	}{
		{"no prefix", messageCreate(adminUser, "admin", []string{testAdminRoleID})},
		{"prefix only", messageCreate(adminUser, "!", []string{testAdminRoleID})},
		{"bot author", messageCreate(botUser, "!aide", nil)},
		{
			"other guild", func() *discordgo.MessageCreate {
				m := messageCreate(adminUser, "!aide", nil)
				m.GuildID = "999"
				return m
			}(),
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				session := newFakeDiscordSession()
				d := newTestDispatcher(t, session, newFakeProvisioner())
				d.config.GuildID = testGuildID

				d.HandleMessage(context.Background(), tc.m)
				assert.Empty(t, session.sent)
				assert.Empty(t, session.deleted)
			},
		)
	}
}

func TestHandleMessageUnknownCommand(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	d := newTestDispatcher(t, session, newFakeProvisioner())

	d.HandleMessage(context.Background(), messageCreate(memberUser, "!bonjour", nil))

	sent := session.messagesTo(testChannelID)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].msg.Content, "Unknown command")
	assert.Contains(t, sent[0].msg.Content, "`!aide`")
}

func TestHelpListsCommandsForRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		author     *discordgo.User
		roles      []string
		content    string
		wantShown  []string
		wantHidden []string
	}{
		{
			name:       "member",
			author:     memberUser,
			content:    "!aide",
			wantShown:  []string{"!aide", "!userinfo", "!serverinfo"},
			wantHidden: []string{"!admin", "!compte", "!clear"},
		},
		{
			name:      "admin via alias",
			author:    adminUser,
			roles:     []string{testAdminRoleID},
			content:   "!HELP",
			wantShown: []string{"!aide", "!admin", "!compte @member [role]", "!clear [count]"},
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				session := newFakeDiscordSession()
				d := newTestDispatcher(t, session, newFakeProvisioner())

				d.HandleMessage(context.Background(), messageCreate(tc.author, tc.content, tc.roles))

				sent := session.messagesTo(testChannelID)
				require.Len(t, sent, 1)
				require.Len(t, sent[0].msg.Embeds, 1)
				embed := sent[0].msg.Embeds[0]
				assert.Equal(t, "📚 Help - Trading Formation", embed.Title)
				commands := embed.Fields[0].Value
				for _, s := range tc.wantShown {
					assert.Contains(t, commands, "`"+s)
				}
				for _, s := range tc.wantHidden {
					assert.NotContains(t, commands, "`"+s)
				}
			},
		)
	}
}

func TestCommandMessageDeleted(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	d := newTestDispatcher(t, session, newFakeProvisioner())

	m := messageCreate(memberUser, "!aide", nil)
	d.HandleMessage(context.Background(), m)
	assert.Contains(t, session.deleted, m.ID)
}

func TestResolveRole(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	d := newTestDispatcher(t, session, newFakeProvisioner())
	d.roles.OwnerRoleID = "role-owner"
	ctx := context.Background()

	tests := []struct {
		name   string
		userID string
		roles  []string
		want   Role
	}{
		{"guild owner", testOwnerID, nil, RoleOwner},
		{"owner role", "1", []string{"role-owner"}, RoleOwner},
		{"admin role", "1", []string{"x", testAdminRoleID}, RoleAdmin},
		{"admin beats moderator", "1", []string{testModeratorRoleID, testAdminRoleID}, RoleAdmin},
		{"moderator role", "1", []string{testModeratorRoleID}, RoleModerator},
		{"no mapped role", "1", []string{"x"}, RoleMember},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				member := &discordgo.Member{Roles: tc.roles}
				assert.Equal(t, tc.want, d.resolveRole(ctx, testGuildID, tc.userID, member))
			},
		)
	}
}

func TestAdminCommandDeliveredByDM(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	prov := newFakeProvisioner()
	d := newTestDispatcher(t, session, prov)

	d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))

	calls := prov.provisioned()
	require.Len(t, calls, 1)
	cred := calls[0]
	assert.Equal(t, "alicemartin", cred.Username)
	assert.Equal(t, RoleAdmin, cred.Role)
	assert.Equal(t, adminUser.ID, cred.DiscordID)
	assert.Equal(t, []Role{RoleAdmin}, prov.roles)

	dms := session.messagesTo(dmChannelID(adminUser.ID))
	require.Len(t, dms, 1)
	assert.Contains(t, dms[0].text(), cred.Password)
	assert.Contains(t, dms[0].text(), testSiteURL+"/admin/dashboard")

	text := channelText(session)
	assert.Contains(t, text, "your credentials have been sent by DM")
	assert.NotContains(t, text, cred.Password)
}

func TestAdminCommandDMRefusedPostsWithWarning(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	session.refuseDM[adminUser.ID] = true
	prov := newFakeProvisioner()
	d := newTestDispatcher(t, session, prov)

	d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))

	calls := prov.provisioned()
	require.Len(t, calls, 1)

	var fallback *sentMessage
	for _, m := range session.messagesTo(testChannelID) {
		if len(m.msg.Embeds) == 2 {
			fallback = &m
			break
		}
	}
	require.NotNil(t, fallback, "expected the credential to be posted in the channel")
	assert.Equal(t, adminUser.Mention(), fallback.msg.Content)
	assert.Equal(t, []string{adminUser.ID}, fallback.msg.AllowedMentions.Users)
	assert.Equal(t, "⚠️ Security: direct messages disabled", fallback.msg.Embeds[0].Title)
	assert.Contains(t, fallback.text(), calls[0].Password)
	assert.NotContains(t, channelText(session), "sent by DM")
}

func TestAccountCommandTargetDMRefused(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	session.refuseDM[targetUser.ID] = true
	session.addMember(targetUser, "Jöhn Doe!!")
	prov := newFakeProvisioner()
	d := newTestDispatcher(t, session, prov)

	d.HandleMessage(
		context.Background(),
		messageCreate(ownerUser, "!compte "+targetUser.Mention()+" admin", nil, targetUser),
	)

	calls := prov.provisioned()
	require.Len(t, calls, 1)
	cred := calls[0]
	assert.Equal(t, "johndoe", cred.Username)
	assert.Equal(t, "johndoe@"+DefaultCredentialEmailDomain, cred.Email)
	assert.Equal(t, RoleAdmin, cred.Role)
	assert.Equal(t, targetUser.ID, cred.DiscordID)
	assert.Equal(t, []Role{RoleOwner}, prov.roles)

	// operator got a copy
	opDMs := session.messagesTo(dmChannelID(ownerUser.ID))
	require.Len(t, opDMs, 1)
	assert.Contains(t, opDMs[0].text(), cred.Password)
	assert.Contains(t, opDMs[0].text(), targetUser.Mention())

	// the channel is told to enable DMs, and never sees the password
	text := channelText(session)
	assert.NotContains(t, text, cred.Password)
	assert.Contains(t, text, targetUser.Mention()+", I couldn't send you your credentials")
	assert.Contains(t, text, "✅ Admin account created for "+targetUser.Mention())
}

func TestAccountCommandDeliveredToBoth(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	prov := newFakeProvisioner()
	d := newTestDispatcher(t, session, prov)

	d.HandleMessage(
		context.Background(),
		messageCreate(adminUser, "!account "+targetUser.Mention(), []string{testAdminRoleID}, targetUser),
	)

	calls := prov.provisioned()
	require.Len(t, calls, 1)
	cred := calls[0]
	assert.Equal(t, RoleMember, cred.Role)
	// no guild member for the target, so the username comes from the user
	assert.Equal(t, "john", cred.Username)

	welcome := session.messagesTo(dmChannelID(targetUser.ID))
	require.Len(t, welcome, 1)
	assert.Equal(t, "🎉 Your account has been created!", welcome[0].msg.Embeds[0].Title)
	assert.Contains(t, welcome[0].text(), cred.Password)
	assert.Len(t, session.messagesTo(dmChannelID(adminUser.ID)), 1)
	assert.NotContains(t, channelText(session), cred.Password)
}

func TestAccountCommandErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		author   *discordgo.User
		roles    []string
		content  string
		mentions []*discordgo.User
		want     string
	}{
		{
			name:    "member can't issue",
			author:  memberUser,
			content: "!compte " + targetUser.Mention(),
			want:    "⛔ You don't have permission",
		},
		{
			name:     "moderator can't issue",
			author:   memberUser,
			roles:    []string{testModeratorRoleID},
			content:  "!compte " + targetUser.Mention(),
			mentions: []*discordgo.User{targetUser},
			want:     "⛔ You don't have permission",
		},
		{
			name:     "admin can't issue owner",
			author:   adminUser,
			roles:    []string{testAdminRoleID},
			content:  "!compte " + targetUser.Mention() + " owner",
			mentions: []*discordgo.User{targetUser},
			want:     "⛔ You don't have permission",
		},
		{
			name:    "missing mention",
			author:  adminUser,
			roles:   []string{testAdminRoleID},
			content: "!compte john",
			want:    "❌ Usage: `!compte @member [role]`",
		},
		{
			name:     "invalid role",
			author:   adminUser,
			roles:    []string{testAdminRoleID},
			content:  "!compte " + targetUser.Mention() + " superuser",
			mentions: []*discordgo.User{targetUser},
			want:     "❌ Invalid role `superuser`. Available roles: owner, admin, moderator, member",
		},
		{
			name:     "bot target",
			author:   adminUser,
			roles:    []string{testAdminRoleID},
			content:  "!compte " + botUser.Mention(),
			mentions: []*discordgo.User{botUser},
			want:     "❌ Invalid member: bots can't have accounts",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				session := newFakeDiscordSession()
				prov := newFakeProvisioner()
				d := newTestDispatcher(t, session, prov)

				d.HandleMessage(
					context.Background(),
					messageCreate(tc.author, tc.content, tc.roles, tc.mentions...),
				)

				assert.Empty(t, prov.provisioned())
				sent := session.messagesTo(testChannelID)
				require.Len(t, sent, 1)
				require.Len(t, sent[0].msg.Embeds, 1)
				assert.Contains(t, sent[0].msg.Embeds[0].Description, tc.want)
				assert.Equal(t, colorError, sent[0].msg.Embeds[0].Color)
			},
		)
	}
}

func TestIssueProvisionRejected(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	prov := newFakeProvisioner()
	prov.outcome = ProvisionOutcome{
		Status:     ProvisionRejected,
		StatusCode: 400,
		Reason:     "username already exists",
		Err:        &RejectedError{StatusCode: 400, Reason: "username already exists"},
	}
	d := newTestDispatcher(t, session, prov)

	d.HandleMessage(
		context.Background(),
		messageCreate(ownerUser, "!compte "+targetUser.Mention(), nil, targetUser),
	)

	require.Len(t, prov.provisioned(), 1)
	assert.Empty(t, session.messagesTo(dmChannelID(ownerUser.ID)))
	assert.Empty(t, session.messagesTo(dmChannelID(targetUser.ID)))
	text := channelText(session)
	assert.Contains(t, text, "❌ Account creation failed: username already exists")
	assert.NotContains(t, text, "account created for")
}

func TestIssueMissingSecretFailsClosed(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	cfg := DefaultConfig().Provisioning
	cfg.Secret = ""
	client := NewProvisioningClient(cfg, nil, nil)
	d := newTestDispatcher(t, session, client)

	d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))

	assert.Empty(t, session.messagesTo(dmChannelID(adminUser.ID)))
	assert.Contains(t, channelText(session), "Account creation is not configured")
}

func TestIssueCooldown(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	prov := newFakeProvisioner()
	d := newTestDispatcher(t, session, prov)
	d.config.IssueCooldown = time.Minute

	d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))
	d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))

	assert.Len(t, prov.provisioned(), 1)
	assert.Contains(t, channelText(session), "⏳ Please wait")

	// another operator isn't affected
	d.HandleMessage(context.Background(), messageCreate(ownerUser, "!admin", nil))
	assert.Len(t, prov.provisioned(), 2)
}

func TestIssueCooldownClearedAfterProvisionFailure(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	prov := newFakeProvisioner()
	prov.outcome = ProvisionOutcome{
		Status: ProvisionUnreachable,
		Err:    &TransportError{URL: "http://localhost:3000/api/discord/register", Err: context.DeadlineExceeded},
	}
	d := newTestDispatcher(t, session, prov)
	d.config.IssueCooldown = time.Minute

	d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))
	require.Len(t, prov.provisioned(), 1)

	prov.mu.Lock()
	prov.outcome = ProvisionOutcome{Status: ProvisionSuccess, StatusCode: 201}
	prov.mu.Unlock()

	d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))
	assert.Len(t, prov.provisioned(), 2)
	assert.NotContains(t, channelText(session), "⏳ Please wait")

	// a successful issue still starts the cooldown
	d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))
	assert.Len(t, prov.provisioned(), 2)
	assert.Contains(t, channelText(session), "⏳ Please wait")
}

func TestAccessRoleRequired(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	d := newTestDispatcher(t, session, newFakeProvisioner())
	d.roles.AccessRoleID = testAccessRoleID

	d.HandleMessage(context.Background(), messageCreate(memberUser, "!aide", nil))
	sent := session.messagesTo(testChannelID)
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].msg.Embeds[0].Description, "⛔")

	d.HandleMessage(context.Background(), messageCreate(memberUser, "!aide", []string{testAccessRoleID}))
	sent = session.messagesTo(testChannelID)
	require.Len(t, sent, 2)
	assert.Contains(t, sent[1].msg.Embeds[0].Title, "Help")

	// the guild owner is never locked out
	d.HandleMessage(context.Background(), messageCreate(ownerUser, "!aide", nil))
	sent = session.messagesTo(testChannelID)
	require.Len(t, sent, 3)
	assert.Contains(t, sent[2].msg.Embeds[0].Title, "Help")
}

func TestCommandPanicBeforeHandlerRecovered(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	session.panicGuild = true
	prov := newFakeProvisioner()
	d := newTestDispatcher(t, session, prov)

	assert.NotPanics(
		t, func() {
			d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))
		},
	)
	assert.Empty(t, prov.provisioned())
	assert.Contains(t, channelText(session), "Something went wrong")
}

func TestSendWithoutMessageDoesNotPanic(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	session.refuseDM[adminUser.ID] = true
	session.refuseDM[targetUser.ID] = true
	session.addMember(targetUser, "john")
	session.nilMessages = true
	prov := newFakeProvisioner()
	d := newTestDispatcher(t, session, prov)
	d.deliverer.responseTTL = time.Minute

	assert.NotPanics(
		t, func() {
			d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))
			d.HandleMessage(context.Background(), messageCreate(adminUser, "!aide", []string{testAdminRoleID}))
			d.HandleMessage(
				context.Background(),
				messageCreate(ownerUser, "!compte "+targetUser.Mention()+" admin", nil, targetUser),
			)
		},
	)

	calls := prov.provisioned()
	require.Len(t, calls, 2)
	text := channelText(session)
	assert.Contains(t, text, calls[0].Password)
	assert.Contains(t, text, targetUser.Mention()+", I couldn't send you your credentials")
	assert.NotContains(t, text, "Something went wrong")
}

func TestCommandPanicRecovered(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	prov := newFakeProvisioner()
	prov.panics = true
	d := newTestDispatcher(t, session, prov)

	assert.NotPanics(
		t, func() {
			d.HandleMessage(context.Background(), messageCreate(adminUser, "!admin", []string{testAdminRoleID}))
		},
	)
	assert.Contains(t, channelText(session), "Something went wrong")

	// the dispatcher keeps working afterwards
	prov.panics = false
	d.HandleMessage(context.Background(), messageCreate(ownerUser, "!admin", nil))
	assert.Len(t, prov.provisioned(), 1)
}

func TestClearCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		content     string
		messages    int
		wantDeleted int
		wantBulk    bool
		wantError   string
	}{
		{name: "default count", content: "!clear", messages: 10, wantDeleted: 5, wantBulk: true},
		{name: "explicit count", content: "!clear 3", messages: 10, wantDeleted: 3, wantBulk: true},
		{name: "single message", content: "!clear 1", messages: 10, wantDeleted: 1},
		{name: "clamped", content: "!clear 500", messages: 120, wantDeleted: 100, wantBulk: true},
		{name: "not a number", content: "!clear lots", wantError: "❌ Invalid count"},
		{name: "zero", content: "!clear 0", wantError: "❌ Invalid count"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				session := newFakeDiscordSession()
				for i := 0; i < tc.messages; i++ {
					session.channelMessages = append(
						session.channelMessages,
						&discordgo.Message{ID: recentSnowflake(time.Minute, int64(i))},
					)
				}
				d := newTestDispatcher(t, session, newFakeProvisioner())

				d.HandleMessage(
					context.Background(),
					messageCreate(adminUser, tc.content, []string{testAdminRoleID}),
				)

				text := channelText(session)
				if tc.wantError != "" {
					assert.Contains(t, text, tc.wantError)
					assert.Empty(t, session.bulkDeleted)
					return
				}
				assert.Contains(t, text, fmt.Sprintf("🧹 Deleted %d message(s).", tc.wantDeleted))
				if tc.wantBulk {
					require.Len(t, session.bulkDeleted, 1)
					assert.Len(t, session.bulkDeleted[0], tc.wantDeleted)
				} else {
					assert.Empty(t, session.bulkDeleted)
					assert.Contains(t, session.deleted, session.channelMessages[0].ID)
				}
			},
		)
	}
}

func TestClearSkipsOldMessages(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	session.channelMessages = []*discordgo.Message{
		{ID: recentSnowflake(time.Hour, 1)},
		{ID: recentSnowflake(time.Hour, 2)},
		{ID: recentSnowflake(15*24*time.Hour, 3)},
	}
	d := newTestDispatcher(t, session, newFakeProvisioner())

	d.HandleMessage(context.Background(), messageCreate(adminUser, "!clear 3", []string{testAdminRoleID}))

	require.Len(t, session.bulkDeleted, 1)
	assert.Equal(
		t,
		[]string{session.channelMessages[0].ID, session.channelMessages[1].ID},
		session.bulkDeleted[0],
	)
}

func TestUserInfoCommand(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	session.addMember(targetUser, "Johnny", testModeratorRoleID)
	d := newTestDispatcher(t, session, newFakeProvisioner())

	d.HandleMessage(
		context.Background(),
		messageCreate(memberUser, "!userinfo "+targetUser.Mention(), nil, targetUser),
	)

	sent := session.messagesTo(testChannelID)
	require.Len(t, sent, 1)
	embed := sent[0].msg.Embeds[0]
	assert.Equal(t, "👤 Johnny", embed.Title)
	assert.Equal(t, colorModerator, embed.Color)
	assert.Contains(t, sent[0].text(), "🛡️ moderator")
}

func TestServerInfoCommand(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	session.guild.ApproximateMemberCount = 42
	session.guild.Roles = []*discordgo.Role{{ID: "a"}, {ID: "b"}}
	session.channels = []*discordgo.Channel{
		{Type: discordgo.ChannelTypeGuildText},
		{Type: discordgo.ChannelTypeGuildText},
		{Type: discordgo.ChannelTypeGuildVoice},
		{Type: discordgo.ChannelTypeGuildCategory},
	}
	d := newTestDispatcher(t, session, newFakeProvisioner())

	d.HandleMessage(context.Background(), messageCreate(memberUser, "!serverinfo", nil))

	sent := session.messagesTo(testChannelID)
	require.Len(t, sent, 1)
	text := sent[0].text()
	assert.Contains(t, text, "🏠 Trading Formation")
	assert.Contains(t, text, "2 text • 1 voice • 1 categories")
	assert.Contains(t, text, "42")
}

func TestUserFacingMessage(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		err  error
		want string
	}{
		{"permission", &PermissionError{Action: "admin", Role: RoleMember, Required: RoleAdmin}, "⛔"},
		{"rejected", &RejectedError{StatusCode: 400, Reason: "email already exists"}, "Account creation failed: email already exists"},
		{"transport", &TransportError{URL: "http://x", Err: errors.New("refused")}, "unreachable"},
		{"configuration", &ConfigurationError{Setting: "provisioning.secret", Err: ErrMissingSecret}, "not configured"},
		{"delivery", &DeliveryError{UserID: "1", Err: errors.New("closed")}, "private message"},
		{"cooldown", ErrIssueCooldown, "⏳"},
		{"not in guild", ErrNotInGuild, "only be used in a server"},
		{"usage", &usageError{usage: "clear [count]"}, "`?clear [count]`"},
		{"internal", errors.New("sql: database is locked"), "Something went wrong"},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(
			tc.name, func(t *testing.T) {
				t.Parallel()
				msg := userFacingMessage(tc.err, "?")
				assert.Contains(t, msg, tc.want)
				assert.NotContains(t, msg, "database is locked")
			},
		)
	}
}

type mockProvisioner struct {
	mock.Mock
}

func (m *mockProvisioner) Provision(ctx context.Context, cred Credential, requesterRole Role) ProvisionOutcome {
	args := m.Called(ctx, cred, requesterRole)
	return args.Get(0).(ProvisionOutcome)
}

func TestOwnerIssuesModeratorAccount(t *testing.T) {
	t.Parallel()
	session := newFakeDiscordSession()
	prov := &mockProvisioner{}
	prov.On(
		"Provision",
		mock.Anything,
		mock.MatchedBy(
			func(c Credential) bool {
				return c.Role == RoleModerator && c.DiscordID == targetUser.ID
			},
		),
		RoleOwner,
	).Return(ProvisionOutcome{Status: ProvisionSuccess, StatusCode: 201}).Once()
	d := newTestDispatcher(t, session, prov)

	d.HandleMessage(
		context.Background(),
		messageCreate(ownerUser, "!compte "+targetUser.Mention()+" moderator", nil, targetUser),
	)

	prov.AssertExpectations(t)
	assert.Len(t, session.messagesTo(dmChannelID(targetUser.ID)), 1)
	assert.Contains(t, channelText(session), "Moderator account created for")
}
