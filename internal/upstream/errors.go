package upstream

import (
	"fmt"

	"github.com/deidlabs/linkd/internal/identity"
)

// AuthError means a platform rejected the credential: a bad, expired or
// already-consumed authorization code, or a token the identity endpoint
// refused. Not retryable with the same credential.
type AuthError struct {
	Platform identity.Platform
	Reason   string
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s auth rejected: %s", e.Platform, e.Reason)
}

// FetchError means the identity endpoint failed for reasons other than the
// credential: network trouble, 5xx, unparseable body.
type FetchError struct {
	Platform identity.Platform
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("%s identity fetch failed: %v", e.Platform, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// PublishError means the content store did not accept the document.
type PublishError struct {
	Err error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("metadata publish failed: %v", e.Err)
}

func (e *PublishError) Unwrap() error { return e.Err }

// ChainError means a chain call failed. Rejected distinguishes a node that
// refused the call from a node that could not be reached; only the latter
// is worth retrying unchanged.
type ChainError struct {
	Network  identity.Network
	Rejected bool
	Err      error
}

func (e *ChainError) Error() string {
	verb := "unavailable"
	if e.Rejected {
		verb = "rejected call"
	}
	return fmt.Sprintf("chain %s %s: %v", e.Network, verb, e.Err)
}

func (e *ChainError) Unwrap() error { return e.Err }
