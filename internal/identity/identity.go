// Package identity defines the domain vocabulary shared by the status store,
// the workflows and the query layer: platform/network/validation enums, the
// link status state machine, and the durable record types.
package identity

import "fmt"

// Platform is a closed set of social platforms a subject can link.
type Platform string

const (
	PlatformDiscord  Platform = "discord"
	PlatformTwitter  Platform = "twitter"
	PlatformGitHub   Platform = "github"
	PlatformTelegram Platform = "telegram"
	PlatformGoogle   Platform = "google"
	PlatformFacebook Platform = "facebook"
)

var allPlatforms = map[Platform]struct{}{
	PlatformDiscord:  {},
	PlatformTwitter:  {},
	PlatformGitHub:   {},
	PlatformTelegram: {},
	PlatformGoogle:   {},
	PlatformFacebook: {},
}

// ParsePlatform validates a raw platform tag.
func ParsePlatform(raw string) (Platform, error) {
	p := Platform(raw)
	if _, ok := allPlatforms[p]; !ok {
		return "", fmt.Errorf("unknown platform %q", raw)
	}
	return p, nil
}

// Network is a closed set of supported chains.
type Network string

const (
	NetworkEthereum Network = "ethereum"
	NetworkBSC      Network = "bsc"
	NetworkBase     Network = "base"
)

var allNetworks = map[Network]struct{}{
	NetworkEthereum: {},
	NetworkBSC:      {},
	NetworkBase:     {},
}

// ParseNetwork validates a raw network tag.
func ParseNetwork(raw string) (Network, error) {
	n := Network(raw)
	if _, ok := allNetworks[n]; !ok {
		return "", fmt.Errorf("unknown network %q", raw)
	}
	return n, nil
}

// ValidationKind names how a task decides whether a subject qualifies.
type ValidationKind string

const (
	ValidationERC20Balance  ValidationKind = "erc20_balance_check"
	ValidationERC721Balance ValidationKind = "erc721_balance_check"
)

var allValidationKinds = map[ValidationKind]struct{}{
	ValidationERC20Balance:  {},
	ValidationERC721Balance: {},
}

// ParseValidationKind validates a raw validation kind tag.
func ParseValidationKind(raw string) (ValidationKind, error) {
	k := ValidationKind(raw)
	if _, ok := allValidationKinds[k]; !ok {
		return "", fmt.Errorf("unknown validation kind %q", raw)
	}
	return k, nil
}

// Status is the link/workflow state machine value.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusOnchain  Status = "onchain"
	StatusFailed   Status = "failed"
)

// allowedTransitions is the single authority on legal status moves.
// Transitions are monotonic: there is no path back from onchain, and
// failed is terminal except for a caller-driven fresh workflow run.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusPending: {
		StatusVerified: {},
		StatusOnchain:  {},
		StatusFailed:   {},
	},
	StatusVerified: {
		StatusOnchain: {},
		StatusFailed:  {},
	},
	StatusOnchain: {},
	StatusFailed:  {},
}

// CanTransition reports whether from -> to is a legal move.
func CanTransition(from, to Status) bool {
	next, ok := allowedTransitions[from]
	if !ok {
		return false
	}
	_, ok = next[to]
	return ok
}

// Retryable reports whether a fresh workflow run may overwrite a record
// in this state. verified and onchain records are never retried.
func Retryable(s Status) bool {
	return s == StatusPending || s == StatusFailed
}

// ParseStatus validates a raw status tag.
func ParseStatus(raw string) (Status, error) {
	switch s := Status(raw); s {
	case StatusPending, StatusVerified, StatusOnchain, StatusFailed:
		return s, nil
	}
	return "", fmt.Errorf("unknown status %q", raw)
}
