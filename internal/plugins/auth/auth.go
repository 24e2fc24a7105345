// Package auth provides the built-in identity provider plugins.
//
// Built-in providers:
//   - google: Google sign-in over OpenID Connect
//   - discord: Discord sign-in over OAuth 2.0
//   - email: passwordless sign-in with an emailed magic link
//
// To add a new provider:
//  1. Create a new file implementing plugins.OAuthProvider or plugins.EmailProvider
//  2. Register it in init() using plugins.RegisterGlobal()
//  3. Supply its settings under the "provider.<id>" config key
package auth

import (
	"github.com/rjsadow/passage/internal/plugins"
)

// Re-export types for convenience
type (
	Profile  = plugins.Profile
	TokenSet = plugins.TokenSet
)
