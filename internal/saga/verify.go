package saga

import (
	"context"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/deidlabs/linkd/internal/attest"
	"github.com/deidlabs/linkd/internal/audit"
	"github.com/deidlabs/linkd/internal/cache"
	"github.com/deidlabs/linkd/internal/identity"
	"github.com/deidlabs/linkd/internal/persistence"
	"github.com/deidlabs/linkd/internal/telemetry"
	"github.com/deidlabs/linkd/internal/upstream"
)

// LinkStore is the slice of the status store the linking workflow writes
// through. *persistence.Store satisfies it.
type LinkStore interface {
	InsertLink(ctx context.Context, rec *identity.LinkRecord) error
	ReplaceRetryableLink(ctx context.Context, rec *identity.LinkRecord) error
	UpdateLinkStatus(ctx context.Context, subject string, platform identity.Platform, to identity.Status, failureReason string) error
	ConfirmLinkOnchain(ctx context.Context, subject string, platform identity.Platform, ref identity.ChainRef) error
	DeleteLink(ctx context.Context, subject string, platform identity.Platform) error
	GetLink(ctx context.Context, subject string, platform identity.Platform) (*identity.LinkRecord, error)
}

// Verifier runs the account-linking workflow: authorization code in,
// attested link record out, with the (subject, platform) uniqueness
// constraint as the only concurrency guard.
type Verifier struct {
	runner
	store    LinkStore
	registry upstream.Registry
	cache    *cache.VerifierCache
	producer *attest.Producer
	chain    upstream.ChainClient
}

func NewVerifier(store LinkStore, registry upstream.Registry, verifierCache *cache.VerifierCache,
	producer *attest.Producer, chain upstream.ChainClient,
	log *slog.Logger, tracer trace.Tracer, metrics *telemetry.Metrics) *Verifier {
	return &Verifier{
		runner:   runner{log: log, tracer: tracer, metrics: metrics},
		store:    store,
		registry: registry,
		cache:    verifierCache,
		producer: producer,
		chain:    chain,
	}
}

// linkState derives the OAuth state for a subject. The prefix lets the
// callback route recover the subject without a session store.
func linkState(subject string) string {
	return "deid_" + subject
}

// AuthorizeLink starts the flow: it stores a fresh PKCE verifier for the
// subject and returns the platform's authorize URL to redirect to.
func (v *Verifier) AuthorizeLink(ctx context.Context, subject string, platform identity.Platform) (string, error) {
	if subject == "" {
		return "", errorf(KindValidation, "subject is required")
	}
	provider, err := v.registry.Provider(platform)
	if err != nil {
		return "", errorf(KindValidation, "platform %s is not configured", platform)
	}

	verifier, challenge, err := cache.GeneratePKCE()
	if err != nil {
		return "", newError(KindInternal, "generate PKCE pair", err)
	}
	state := linkState(subject)
	if err := v.cache.Put(ctx, state, verifier); err != nil {
		return "", newError(KindInternal, "store PKCE verifier", err)
	}
	return provider.AuthorizeURL(state, challenge), nil
}

// BeginLink consumes the authorization code and drives the workflow to a
// verified record: exchange, identity fetch, attestation, insert. The code
// is used exactly once and never persisted. On a duplicate, a retryable
// stored record (pending or failed) is overwritten in place; a verified or
// onchain record wins and the caller gets an already-linked failure.
func (v *Verifier) BeginLink(ctx context.Context, subject string, platform identity.Platform, code string) (*identity.LinkRecord, error) {
	if subject == "" || code == "" {
		return nil, errorf(KindValidation, "subject and code are required")
	}
	provider, err := v.registry.Provider(platform)
	if err != nil {
		return nil, errorf(KindValidation, "platform %s is not configured", platform)
	}

	// The verifier may legitimately be absent for providers that skip
	// PKCE; providers that require it reject an empty one.
	verifier, err := v.cache.Take(ctx, linkState(subject))
	if err != nil && !errors.Is(err, cache.ErrVerifierMissing) {
		return nil, newError(KindInternal, "take PKCE verifier", err)
	}

	var accessToken string
	err = v.step(ctx, "link", "exchange_code", func(ctx context.Context) error {
		accessToken, err = provider.ExchangeCode(ctx, code, verifier)
		return mapUpstream(err)
	})
	if err != nil {
		return nil, err
	}

	var ident *upstream.Identity
	err = v.step(ctx, "link", "fetch_identity", func(ctx context.Context) error {
		ident, err = provider.FetchIdentity(ctx, accessToken)
		return mapUpstream(err)
	})
	if err != nil {
		return nil, err
	}

	att, err := v.producer.SignLink(subject, string(platform), ident.ExternalID)
	if err != nil {
		return nil, newError(KindInternal, "attest link", err)
	}

	rec := &identity.LinkRecord{
		ID:              uuid.NewString(),
		SubjectID:       subject,
		Platform:        platform,
		ExternalAccount: ident.ExternalID,
		Profile:         ident.Profile,
		AttestationHash: att.Hash,
		Signature:       att.Signature,
		Status:          identity.StatusVerified,
	}
	err = v.step(ctx, "link", "persist", func(ctx context.Context) error {
		return v.persistLink(ctx, rec)
	})
	if err != nil {
		return nil, err
	}

	v.metrics.LinksCreated.Add(ctx, 1)
	audit.Record("allow", "link.verify", "identity verified", subject)
	v.log.Info("link verified",
		"subject", subject,
		"platform", platform,
		"external_account", rec.ExternalAccount)
	return rec, nil
}

func (v *Verifier) persistLink(ctx context.Context, rec *identity.LinkRecord) error {
	err := v.store.InsertLink(ctx, rec)
	if err == nil {
		return nil
	}
	if !errors.Is(err, persistence.ErrDuplicateLink) {
		return newError(KindInternal, "insert link", err)
	}

	// A stored record already holds the slot. Pending and failed records
	// are stale workflow attempts and lose to the fresh result; anything
	// further along wins.
	replaceErr := v.store.ReplaceRetryableLink(ctx, rec)
	if replaceErr == nil {
		// The replace keeps the original row; align the in-memory copy.
		if stored, err := v.store.GetLink(ctx, rec.SubjectID, rec.Platform); err == nil {
			rec.ID = stored.ID
			rec.CreatedAt = stored.CreatedAt
		}
		return nil
	}
	if errors.Is(replaceErr, persistence.ErrNotFound) {
		// The row was deleted between the insert and the replace. The
		// slot is free again; claim it, unless yet another writer got
		// there first.
		retryErr := v.store.InsertLink(ctx, rec)
		if retryErr == nil {
			return nil
		}
		if !errors.Is(retryErr, persistence.ErrDuplicateLink) {
			return newError(KindInternal, "insert link", retryErr)
		}
		return v.denyDuplicate(ctx, rec)
	}
	if errors.Is(replaceErr, persistence.ErrInvalidTransition) {
		return v.denyDuplicate(ctx, rec)
	}
	return newError(KindInternal, "replace link", replaceErr)
}

func (v *Verifier) denyDuplicate(ctx context.Context, rec *identity.LinkRecord) error {
	v.metrics.DuplicateRejects.Add(ctx, 1)
	audit.Record("deny", "link.verify", "subject already linked on platform", rec.SubjectID)
	return errorf(KindAlreadyLinked, "subject already linked on %s", rec.Platform)
}

// PushLink submits a verified link to the badge contract and confirms the
// acknowledgement. The record stays verified if the chain is unreachable,
// so the push can simply be repeated.
func (v *Verifier) PushLink(ctx context.Context, subject string, platform identity.Platform) (*identity.LinkRecord, error) {
	rec, err := v.store.GetLink(ctx, subject, platform)
	if err != nil {
		return nil, mapStore(err)
	}
	if rec.Status != identity.StatusVerified {
		return nil, errorf(KindInvalidTransition, "link is %s, only verified links can be pushed", rec.Status)
	}

	var ref identity.ChainRef
	err = v.step(ctx, "link", "chain_submit", func(ctx context.Context) error {
		ref, err = v.chain.SubmitLink(ctx, subject, platform, rec.AttestationHash, rec.Signature)
		return mapUpstream(err)
	})
	if err != nil {
		v.metrics.ChainSubmits.Add(ctx, 1)
		return nil, err
	}
	v.metrics.ChainSubmits.Add(ctx, 1)

	if err := v.ConfirmOnchain(ctx, subject, platform, ref); err != nil {
		return nil, err
	}
	return v.store.GetLink(ctx, subject, platform)
}

// ConfirmOnchain records a chain acknowledgement for (subject, platform).
// The store applies it as one conditional update, so a duplicate or late
// confirmation cannot regress the record.
func (v *Verifier) ConfirmOnchain(ctx context.Context, subject string, platform identity.Platform, ref identity.ChainRef) error {
	if ref.TxHash == "" {
		return errorf(KindValidation, "tx hash is required")
	}
	if err := v.store.ConfirmLinkOnchain(ctx, subject, platform, ref); err != nil {
		return mapStore(err)
	}
	v.log.Info("link confirmed onchain",
		"subject", subject,
		"platform", platform,
		"tx_hash", ref.TxHash)
	return nil
}

// MarkLinkFailed records a workflow failure on an existing record. Only
// records that have not reached onchain can be failed; a failed record
// stays retryable through BeginLink.
func (v *Verifier) MarkLinkFailed(ctx context.Context, subject string, platform identity.Platform, reason string) error {
	if reason == "" {
		return errorf(KindValidation, "failure reason is required")
	}
	if err := v.store.UpdateLinkStatus(ctx, subject, platform, identity.StatusFailed, reason); err != nil {
		return mapStore(err)
	}
	audit.Record("deny", "link.fail", reason, subject)
	v.log.Warn("link marked failed",
		"subject", subject,
		"platform", platform,
		"reason", reason)
	return nil
}

// RemoveLink deletes a link record outright. Admin surface only; the
// workflow itself never deletes.
func (v *Verifier) RemoveLink(ctx context.Context, subject string, platform identity.Platform) error {
	if err := v.store.DeleteLink(ctx, subject, platform); err != nil {
		return mapStore(err)
	}
	audit.Record("allow", "link.remove", "link deleted by admin", subject)
	return nil
}

// mapUpstream translates adapter errors into workflow kinds.
func mapUpstream(err error) error {
	if err == nil {
		return nil
	}
	var authErr *upstream.AuthError
	if errors.As(err, &authErr) {
		return newError(KindUpstreamAuth, authErr.Error(), err)
	}
	var fetchErr *upstream.FetchError
	if errors.As(err, &fetchErr) {
		return newError(KindUpstreamUnavailable, fetchErr.Error(), err)
	}
	var pubErr *upstream.PublishError
	if errors.As(err, &pubErr) {
		return newError(KindMetadataPublish, pubErr.Error(), err)
	}
	var chainErr *upstream.ChainError
	if errors.As(err, &chainErr) {
		return newError(KindChain, chainErr.Error(), err)
	}
	return newError(KindInternal, "upstream call failed", err)
}

// mapStore translates store sentinels into workflow kinds.
func mapStore(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return newError(KindNotFound, "record not found", err)
	case errors.Is(err, persistence.ErrInvalidTransition):
		return newError(KindInvalidTransition, "status forbids this move", err)
	case errors.Is(err, persistence.ErrDuplicateLink):
		return newError(KindAlreadyLinked, "subject already linked on platform", err)
	default:
		return newError(KindInternal, "store operation failed", err)
	}
}
