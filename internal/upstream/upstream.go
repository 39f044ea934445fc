// Package upstream holds the adapters for everything outside the process:
// OAuth platforms, the content store and the chain RPC endpoints. Each
// adapter is an interface so the workflows can be exercised against fakes.
package upstream

import (
	"context"
	"net/http"
	"time"

	"github.com/deidlabs/linkd/internal/identity"
)

const httpTimeout = 30 * time.Second

// Identity is what a platform reports about the account behind a token.
type Identity struct {
	ExternalID string
	Profile    identity.Profile
}

// OAuthProvider is one social platform's OAuth surface. ExchangeCode
// consumes a single-use authorization code; verifier is the PKCE code
// verifier for providers that require it and is ignored by the rest.
type OAuthProvider interface {
	Platform() identity.Platform
	AuthorizeURL(state, challenge string) string
	ExchangeCode(ctx context.Context, code, verifier string) (string, error)
	FetchIdentity(ctx context.Context, accessToken string) (*Identity, error)
}

// ContentPublisher stores a metadata document and returns its content
// reference.
type ContentPublisher interface {
	PublishMetadata(ctx context.Context, doc any) (string, error)
	GatewayURL(ref string) string
}

// ChainClient is the on-chain surface: submitting workflow results and
// reading token balances.
type ChainClient interface {
	SubmitLink(ctx context.Context, subject string, platform identity.Platform, attestationHash, signature string) (identity.ChainRef, error)
	SubmitTask(ctx context.Context, taskID, contentRef string) (identity.ChainRef, error)
	TokenBalance(ctx context.Context, network identity.Network, kind identity.ValidationKind, contract, wallet string) (string, error)
}

// Registry maps platform tags to their configured providers.
type Registry map[identity.Platform]OAuthProvider

// Provider looks up the provider for a platform.
func (r Registry) Provider(p identity.Platform) (OAuthProvider, error) {
	provider, ok := r[p]
	if !ok {
		return nil, &AuthError{Platform: p, Reason: "platform not configured"}
	}
	return provider, nil
}

func newHTTPClient() *http.Client {
	return &http.Client{Timeout: httpTimeout}
}
