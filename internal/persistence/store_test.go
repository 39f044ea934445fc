package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/deidlabs/linkd/internal/identity"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "linkd.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testLink(subject string, platform identity.Platform, status identity.Status) *identity.LinkRecord {
	email := "alice@example.com"
	return &identity.LinkRecord{
		ID:              uuid.NewString(),
		SubjectID:       subject,
		Platform:        platform,
		ExternalAccount: "ext-1001",
		Profile: identity.Profile{
			Username: "alice",
			Email:    &email,
		},
		AttestationHash: "0xabc123",
		Signature:       "0xdef456",
		Status:          status,
	}
}

func testTask(title string, kind identity.ValidationKind, network identity.Network) *identity.TaskRecord {
	return &identity.TaskRecord{
		ID:             uuid.NewString(),
		Title:          title,
		Description:    "hold the token",
		ValidationKind: kind,
		Network:        network,
		TargetContract: "0x00000000000000000000000000000000000000aa",
		Threshold:      10,
		Badge: identity.BadgeMetadata{
			Name:        title,
			Description: "badge for " + title,
			Image:       "ipfs://bafybadge",
			Attributes:  []identity.BadgeAttribute{{TraitType: "tier", Value: "gold"}},
		},
		ContentRef: "bafymeta",
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linkd.db")
	first, err := Open(path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	second, err := Open(path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	_ = second.Close()
}

func TestInsertLinkAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testLink("subj-1", identity.PlatformDiscord, identity.StatusVerified)
	if err := store.InsertLink(ctx, rec); err != nil {
		t.Fatalf("InsertLink: %v", err)
	}

	got, err := store.GetLink(ctx, "subj-1", identity.PlatformDiscord)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if got.ID != rec.ID {
		t.Errorf("ID = %q, want %q", got.ID, rec.ID)
	}
	if got.Status != identity.StatusVerified {
		t.Errorf("Status = %q, want verified", got.Status)
	}
	if got.Profile.Email == nil || *got.Profile.Email != "alice@example.com" {
		t.Errorf("Email = %v, want alice@example.com", got.Profile.Email)
	}
	if got.ChainRef != nil {
		t.Errorf("ChainRef = %+v, want nil", got.ChainRef)
	}
	if got.CreatedAt.IsZero() || got.UpdatedAt.IsZero() {
		t.Error("timestamps not set")
	}
}

func TestInsertLinkDuplicate(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.InsertLink(ctx, testLink("subj-1", identity.PlatformGitHub, identity.StatusVerified)); err != nil {
		t.Fatalf("first InsertLink: %v", err)
	}
	err := store.InsertLink(ctx, testLink("subj-1", identity.PlatformGitHub, identity.StatusVerified))
	if !errors.Is(err, ErrDuplicateLink) {
		t.Fatalf("second InsertLink = %v, want ErrDuplicateLink", err)
	}

	// Same subject on another platform is fine.
	if err := store.InsertLink(ctx, testLink("subj-1", identity.PlatformGoogle, identity.StatusVerified)); err != nil {
		t.Fatalf("other platform InsertLink: %v", err)
	}
}

func TestInsertLinkConcurrentOneWinner(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	const workers = 8
	var wg sync.WaitGroup
	results := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = store.InsertLink(ctx, testLink("subj-race", identity.PlatformTwitter, identity.StatusVerified))
		}(i)
	}
	wg.Wait()

	wins, dups := 0, 0
	for _, err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrDuplicateLink):
			dups++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if wins != 1 || dups != workers-1 {
		t.Fatalf("wins = %d, dups = %d, want 1 and %d", wins, dups, workers-1)
	}
}

func TestConfirmLinkOnchain(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testLink("subj-1", identity.PlatformDiscord, identity.StatusVerified)
	if err := store.InsertLink(ctx, rec); err != nil {
		t.Fatalf("InsertLink: %v", err)
	}

	ref := identity.ChainRef{TxHash: "0xfeed", BlockNumber: 42}
	if err := store.ConfirmLinkOnchain(ctx, "subj-1", identity.PlatformDiscord, ref); err != nil {
		t.Fatalf("ConfirmLinkOnchain: %v", err)
	}

	got, err := store.GetLink(ctx, "subj-1", identity.PlatformDiscord)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if got.Status != identity.StatusOnchain {
		t.Errorf("Status = %q, want onchain", got.Status)
	}
	if got.ChainRef == nil || got.ChainRef.TxHash != "0xfeed" || got.ChainRef.BlockNumber != 42 {
		t.Errorf("ChainRef = %+v, want 0xfeed/42", got.ChainRef)
	}

	// onchain is terminal: a repeated confirmation must not overwrite.
	err = store.ConfirmLinkOnchain(ctx, "subj-1", identity.PlatformDiscord, identity.ChainRef{TxHash: "0xbad", BlockNumber: 99})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second ConfirmLinkOnchain = %v, want ErrInvalidTransition", err)
	}
	got, _ = store.GetLink(ctx, "subj-1", identity.PlatformDiscord)
	if got.ChainRef.TxHash != "0xfeed" {
		t.Errorf("TxHash = %q after repeat confirm, want 0xfeed", got.ChainRef.TxHash)
	}
}

func TestConfirmLinkOnchainMissing(t *testing.T) {
	store := openTestStore(t)
	err := store.ConfirmLinkOnchain(context.Background(), "nobody", identity.PlatformDiscord, identity.ChainRef{TxHash: "0x1", BlockNumber: 1})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("ConfirmLinkOnchain = %v, want ErrNotFound", err)
	}
}

func TestUpdateLinkStatusRejectsRegression(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testLink("subj-1", identity.PlatformDiscord, identity.StatusPending)
	if err := store.InsertLink(ctx, rec); err != nil {
		t.Fatalf("InsertLink: %v", err)
	}
	if err := store.UpdateLinkStatus(ctx, "subj-1", identity.PlatformDiscord, identity.StatusVerified, ""); err != nil {
		t.Fatalf("pending -> verified: %v", err)
	}
	if err := store.UpdateLinkStatus(ctx, "subj-1", identity.PlatformDiscord, identity.StatusFailed, "rpc down"); err != nil {
		t.Fatalf("verified -> failed: %v", err)
	}
	// failed is terminal for in-place transitions.
	err := store.UpdateLinkStatus(ctx, "subj-1", identity.PlatformDiscord, identity.StatusVerified, "")
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("failed -> verified = %v, want ErrInvalidTransition", err)
	}
	got, _ := store.GetLink(ctx, "subj-1", identity.PlatformDiscord)
	if got.FailureReason != "rpc down" {
		t.Errorf("FailureReason = %q, want %q", got.FailureReason, "rpc down")
	}
}

func TestReplaceRetryableLink(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testLink("subj-1", identity.PlatformDiscord, identity.StatusFailed)
	rec.FailureReason = "exchange timeout"
	if err := store.InsertLink(ctx, rec); err != nil {
		t.Fatalf("InsertLink: %v", err)
	}

	fresh := testLink("subj-1", identity.PlatformDiscord, identity.StatusVerified)
	fresh.ExternalAccount = "ext-2002"
	fresh.FailureReason = ""
	if err := store.ReplaceRetryableLink(ctx, fresh); err != nil {
		t.Fatalf("ReplaceRetryableLink: %v", err)
	}

	got, err := store.GetLink(ctx, "subj-1", identity.PlatformDiscord)
	if err != nil {
		t.Fatalf("GetLink: %v", err)
	}
	if got.Status != identity.StatusVerified {
		t.Errorf("Status = %q, want verified", got.Status)
	}
	if got.ExternalAccount != "ext-2002" {
		t.Errorf("ExternalAccount = %q, want ext-2002", got.ExternalAccount)
	}
	if got.FailureReason != "" {
		t.Errorf("FailureReason = %q, want cleared", got.FailureReason)
	}
	// Original row ID survives; only the workflow result is replaced.
	if got.ID != rec.ID {
		t.Errorf("ID changed on replace: %q -> %q", rec.ID, got.ID)
	}

	// A verified record is no longer retryable.
	again := testLink("subj-1", identity.PlatformDiscord, identity.StatusVerified)
	err = store.ReplaceRetryableLink(ctx, again)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("replace verified = %v, want ErrInvalidTransition", err)
	}
}

func TestListLinksAndStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for i, p := range []identity.Platform{identity.PlatformDiscord, identity.PlatformGitHub, identity.PlatformGoogle} {
		status := identity.StatusVerified
		if i == 2 {
			status = identity.StatusFailed
		}
		if err := store.InsertLink(ctx, testLink("subj-1", p, status)); err != nil {
			t.Fatalf("InsertLink %s: %v", p, err)
		}
	}
	if err := store.InsertLink(ctx, testLink("subj-2", identity.PlatformDiscord, identity.StatusOnchain)); err != nil {
		t.Fatalf("InsertLink subj-2: %v", err)
	}

	all, err := store.ListLinks(ctx, "subj-1", "")
	if err != nil {
		t.Fatalf("ListLinks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len(all) = %d, want 3", len(all))
	}

	verified, err := store.ListLinks(ctx, "subj-1", identity.StatusVerified)
	if err != nil {
		t.Fatalf("ListLinks verified: %v", err)
	}
	if len(verified) != 2 {
		t.Fatalf("len(verified) = %d, want 2", len(verified))
	}

	stats, err := store.LinkStats(ctx, "subj-1")
	if err != nil {
		t.Fatalf("LinkStats: %v", err)
	}
	want := map[identity.Status]int{
		identity.StatusPending:  0,
		identity.StatusVerified: 2,
		identity.StatusOnchain:  0,
		identity.StatusFailed:   1,
	}
	for status, count := range want {
		if stats[status] != count {
			t.Errorf("stats[%s] = %d, want %d", status, stats[status], count)
		}
	}

	other, err := store.LinkStats(ctx, "subj-2")
	if err != nil {
		t.Fatalf("LinkStats subj-2: %v", err)
	}
	if other[identity.StatusOnchain] != 1 || other[identity.StatusVerified] != 0 {
		t.Errorf("subj-2 stats = %+v", other)
	}
}

func TestDeleteLink(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	if err := store.InsertLink(ctx, testLink("subj-1", identity.PlatformDiscord, identity.StatusOnchain)); err != nil {
		t.Fatalf("InsertLink: %v", err)
	}
	if err := store.DeleteLink(ctx, "subj-1", identity.PlatformDiscord); err != nil {
		t.Fatalf("DeleteLink: %v", err)
	}
	if _, err := store.GetLink(ctx, "subj-1", identity.PlatformDiscord); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetLink after delete = %v, want ErrNotFound", err)
	}
	if err := store.DeleteLink(ctx, "subj-1", identity.PlatformDiscord); !errors.Is(err, ErrNotFound) {
		t.Fatalf("second DeleteLink = %v, want ErrNotFound", err)
	}
}

func TestInsertTaskAndGet(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testTask("hodl gold", identity.ValidationERC20Balance, identity.NetworkEthereum)
	if err := store.InsertTask(ctx, rec); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	got, err := store.GetTask(ctx, rec.ID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Title != "hodl gold" {
		t.Errorf("Title = %q", got.Title)
	}
	if got.Badge.Image != "ipfs://bafybadge" {
		t.Errorf("Badge.Image = %q", got.Badge.Image)
	}
	if len(got.Badge.Attributes) != 1 || got.Badge.Attributes[0].TraitType != "tier" {
		t.Errorf("Badge.Attributes = %+v", got.Badge.Attributes)
	}
	if got.ChainRef != nil {
		t.Errorf("ChainRef = %+v, want nil before submit", got.ChainRef)
	}
}

func TestSetTaskChainRefOnce(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	rec := testTask("hodl gold", identity.ValidationERC20Balance, identity.NetworkEthereum)
	if err := store.InsertTask(ctx, rec); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	if err := store.SetTaskChainRef(ctx, rec.ID, identity.ChainRef{TxHash: "0xaaa", BlockNumber: 7}); err != nil {
		t.Fatalf("SetTaskChainRef: %v", err)
	}
	err := store.SetTaskChainRef(ctx, rec.ID, identity.ChainRef{TxHash: "0xbbb", BlockNumber: 8})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("second SetTaskChainRef = %v, want ErrInvalidTransition", err)
	}
	got, _ := store.GetTask(ctx, rec.ID)
	if got.ChainRef == nil || got.ChainRef.TxHash != "0xaaa" {
		t.Errorf("ChainRef = %+v, want first submit kept", got.ChainRef)
	}

	if err := store.SetTaskChainRef(ctx, "missing", identity.ChainRef{TxHash: "0x1", BlockNumber: 1}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("SetTaskChainRef missing = %v, want ErrNotFound", err)
	}
}

func TestListTasksFiltersAndPaging(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	seed := []struct {
		kind    identity.ValidationKind
		network identity.Network
	}{
		{identity.ValidationERC20Balance, identity.NetworkEthereum},
		{identity.ValidationERC20Balance, identity.NetworkBSC},
		{identity.ValidationERC721Balance, identity.NetworkEthereum},
		{identity.ValidationERC721Balance, identity.NetworkBase},
		{identity.ValidationERC20Balance, identity.NetworkBase},
	}
	for i, s := range seed {
		if err := store.InsertTask(ctx, testTask(fmt.Sprintf("task-%d", i), s.kind, s.network)); err != nil {
			t.Fatalf("InsertTask %d: %v", i, err)
		}
	}

	// No filters: everything.
	page, err := store.ListTasks(ctx, 1, 10, nil, nil)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if page.Total != 5 || len(page.Tasks) != 5 {
		t.Fatalf("total = %d, len = %d, want 5/5", page.Total, len(page.Tasks))
	}

	// Same-dimension filters are OR-ed.
	page, err = store.ListTasks(ctx, 1, 10, nil, []identity.Network{identity.NetworkEthereum, identity.NetworkBase})
	if err != nil {
		t.Fatalf("ListTasks networks: %v", err)
	}
	if page.Total != 4 {
		t.Fatalf("networks total = %d, want 4", page.Total)
	}

	// Cross-dimension filters are AND-ed.
	page, err = store.ListTasks(ctx, 1, 10,
		[]identity.ValidationKind{identity.ValidationERC721Balance},
		[]identity.Network{identity.NetworkEthereum, identity.NetworkBase})
	if err != nil {
		t.Fatalf("ListTasks both: %v", err)
	}
	if page.Total != 2 {
		t.Fatalf("both total = %d, want 2", page.Total)
	}

	// Paging keeps the total count of all matches.
	page, err = store.ListTasks(ctx, 2, 2, nil, nil)
	if err != nil {
		t.Fatalf("ListTasks page 2: %v", err)
	}
	if page.Total != 5 || len(page.Tasks) != 2 {
		t.Fatalf("page 2 total = %d, len = %d, want 5/2", page.Total, len(page.Tasks))
	}
}

func TestListUnchainedTasks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := testTask("stuck-1", identity.ValidationERC20Balance, identity.NetworkEthereum)
	second := testTask("done", identity.ValidationERC20Balance, identity.NetworkEthereum)
	third := testTask("stuck-2", identity.ValidationERC721Balance, identity.NetworkBase)
	for _, rec := range []*identity.TaskRecord{first, second, third} {
		if err := store.InsertTask(ctx, rec); err != nil {
			t.Fatalf("InsertTask: %v", err)
		}
	}
	if err := store.SetTaskChainRef(ctx, second.ID, identity.ChainRef{TxHash: "0x1", BlockNumber: 1}); err != nil {
		t.Fatalf("SetTaskChainRef: %v", err)
	}

	stuck, err := store.ListUnchainedTasks(ctx, 10)
	if err != nil {
		t.Fatalf("ListUnchainedTasks: %v", err)
	}
	if len(stuck) != 2 {
		t.Fatalf("len(stuck) = %d, want 2", len(stuck))
	}
	for _, rec := range stuck {
		if rec.ID == second.ID {
			t.Errorf("task with chain ref listed as unchained")
		}
	}
}

func TestInsertValidationOncePerTask(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	task := testTask("hodl", identity.ValidationERC20Balance, identity.NetworkEthereum)
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("InsertTask: %v", err)
	}

	rec := &identity.ValidationRecord{
		ID:            uuid.NewString(),
		SubjectID:     "subj-1",
		TaskID:        task.ID,
		WalletAddress: "0x00000000000000000000000000000000000000bb",
		ActualBalance: "150",
		Signature:     "0xsig",
		MessageHash:   "0xhash",
	}
	if err := store.InsertValidation(ctx, rec); err != nil {
		t.Fatalf("InsertValidation: %v", err)
	}

	dup := *rec
	dup.ID = uuid.NewString()
	if err := store.InsertValidation(ctx, &dup); !errors.Is(err, ErrDuplicateTask) {
		t.Fatalf("second InsertValidation = %v, want ErrDuplicateTask", err)
	}

	got, err := store.GetValidation(ctx, "subj-1", task.ID)
	if err != nil {
		t.Fatalf("GetValidation: %v", err)
	}
	if got.ActualBalance != "150" || got.Signature != "0xsig" {
		t.Errorf("validation = %+v", got)
	}

	if _, err := store.GetValidation(ctx, "subj-1", "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("GetValidation missing = %v, want ErrNotFound", err)
	}
}
