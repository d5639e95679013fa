// Package gatekeeper implements a Discord bot that issues site credentials
// to guild members, and the account store those credentials are
// provisioned into.
//
// An operator runs a text command in a guild channel. The bot generates a
// credential (username derived from the member's display name, a random
// password), registers it with the account store over
// `POST /api/<provider>/register` using a pre-shared bearer secret, then
// delivers it by direct message, falling back to the channel when DMs
// are closed.
//
// Key components of the package include:
//
//   - Gatekeeper: Runs the discord session and the account store API.
//   - CredentialGenerator: Builds credentials from a display name and role.
//   - ProvisioningClient: Registers credentials with the account store.
//   - Dispatcher: Parses commands, resolves roles and delivers results.
//   - AccountStore: Persists accounts, hashes passwords and authenticates logins.
//   - API: The account store HTTP server.
//
// The bot supports these commands (default prefix "!"):
//
//   - !aide: Lists the commands available to the caller.
//   - !admin: Issues the caller a credential with their own role.
//   - !compte @member [role]: Issues a credential to another member.
//   - !clear [count]: Deletes recent messages.
//   - !userinfo [@member], !serverinfo: Show member and server details.
package gatekeeper
