package auth

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/rjsadow/folio/internal/identity"
	"github.com/rjsadow/folio/internal/plugins"
)

// keyResolver validates API keys through a KeyVerifier. It is embedded by
// every adapter that supports keys.
type keyResolver struct {
	*base
	provider string
	keys     KeyVerifier
}

// validate implements ValidateAPIKey. Missing, rejected and unverifiable
// keys all resolve to (nil, nil).
func (k keyResolver) validate(ctx context.Context, r *http.Request) (*plugins.APIKeyAuth, error) {
	if r == nil {
		return nil, errNilRequest
	}
	raw := k.creds.APIKey(r)
	if raw == "" || k.keys == nil {
		return nil, nil
	}

	result, err := k.keys.VerifyAPIKey(ctx, raw)
	if err != nil {
		slog.Warn("api key verification failed", "provider", k.provider, "error", err)
		k.recordFailure(ctx, plugins.CredentialAPIKey, ReasonProviderError)
		return nil, nil
	}
	if result == nil || !result.Valid || result.Key == nil {
		reason := identity.CodeKeyNotFound
		if result != nil && result.Error != nil {
			reason = result.Error.Code
		}
		k.recordFailure(ctx, plugins.CredentialAPIKey, reason)
		return nil, nil
	}

	return apiKeyAuthFromNative(result.Key), nil
}

func apiKeyAuthFromNative(key *identity.APIKey) *plugins.APIKeyAuth {
	usedAt := key.LastUsedAt
	if usedAt != nil {
		t := *usedAt
		usedAt = &t
	}
	return plugins.NewAPIKeyAuth(key.ID, key.Name, permissionsFromNative(key.Permissions), usedAt)
}
