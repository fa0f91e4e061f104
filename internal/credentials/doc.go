// Package credentials obtains and caches the OpenID Connect credentials of
// the current user.
//
// A Manager runs at most one interactive acquisition at a time. An
// acquisition asks the Interaction for an identity provider, opens an
// authentication Window (a local HTTP endpoint shown in the user's browser),
// and waits for the window to hand back the token response encrypted to a
// one-time opener key (see package handoff). The window performs dynamic
// client registration, the authorization code flow with PKCE and the
// DPoP-bound code exchange.
package credentials
