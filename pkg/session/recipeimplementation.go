package session

import (
	"context"
	"fmt"

	"github.com/sessiond/sessiond-go/internal/keyset"
	"github.com/sessiond/sessiond-go/pkg/sessiond"
)

// recipeImplementation is the default RecipeInterface, backed by the core
// service and the cached signing keys.
type recipeImplementation struct {
	core   sessiond.CoreClient
	keys   *keyset.Store
	config NormalisedConfig
}

func defaultRecipeImplementation(core sessiond.CoreClient, keys *keyset.Store, config NormalisedConfig) RecipeInterface {
	impl := &recipeImplementation{core: core, keys: keys, config: config}

	return RecipeInterface{
		CreateNewSession:            impl.createNewSession,
		GetSession:                  impl.getSession,
		RefreshSession:              impl.refreshSession,
		RevokeSession:               impl.revokeSession,
		RevokeAllSessionsForUser:    impl.revokeAllSessionsForUser,
		RevokeMultipleSessions:      impl.revokeMultipleSessions,
		GetSessionInformation:       impl.getSessionInformation,
		GetAllSessionHandlesForUser: impl.getAllSessionHandlesForUser,
		UpdateSessionData:           impl.updateSessionData,
		UpdateAccessTokenPayload:    impl.updateAccessTokenPayload,
		RegenerateAccessToken:       impl.regenerateAccessToken,
	}
}

// handshakeFetcher supplies the keyset with signing key material from the
// core.
func handshakeFetcher(core sessiond.CoreClient) keyset.HandshakeFunc {
	return func(ctx context.Context) (keyset.Handshake, error) {
		var resp struct {
			Status                         string `json:"status"`
			JWTSigningPublicKey            string `json:"jwtSigningPublicKey"`
			JWTSigningPublicKeyExpiryTime  int64  `json:"jwtSigningPublicKeyExpiryTime"`
			AccessTokenBlacklistingEnabled bool   `json:"accessTokenBlacklistingEnabled"`
			AccessTokenValidity            int64  `json:"accessTokenValidity"`
			RefreshTokenValidity           int64  `json:"refreshTokenValidity"`
		}

		if err := core.Post(ctx, pathHandshake, map[string]any{}, &resp); err != nil {
			return keyset.Handshake{}, fmt.Errorf("calling core handshake: %w", err)
		}

		return keyset.Handshake{
			PublicKey:            resp.JWTSigningPublicKey,
			PublicKeyExpiry:      resp.JWTSigningPublicKeyExpiryTime,
			BlacklistingEnabled:  resp.AccessTokenBlacklistingEnabled,
			AccessTokenValidity:  resp.AccessTokenValidity,
			RefreshTokenValidity: resp.RefreshTokenValidity,
		}, nil
	}
}
