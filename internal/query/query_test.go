package query

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/google/uuid"

	"github.com/deidlabs/linkd/internal/identity"
	"github.com/deidlabs/linkd/internal/persistence"
)

func newTestService(t *testing.T) (*Service, *persistence.Store) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "linkd.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return New(store), store
}

func seedLink(t *testing.T, store *persistence.Store, subject string, platform identity.Platform, status identity.Status) {
	t.Helper()
	err := store.InsertLink(context.Background(), &identity.LinkRecord{
		ID:              uuid.NewString(),
		SubjectID:       subject,
		Platform:        platform,
		ExternalAccount: "ext-1",
		Profile:         identity.Profile{Username: "alice"},
		AttestationHash: "0xhash",
		Signature:       "0xsig",
		Status:          status,
	})
	if err != nil {
		t.Fatalf("seed link: %v", err)
	}
}

func TestLinkNotFound(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Link(context.Background(), "nobody", identity.PlatformDiscord); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Link = %v, want ErrNotFound", err)
	}
}

func TestLinksReportsRecordsAsStored(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	seedLink(t, store, "subj-1", identity.PlatformDiscord, identity.StatusVerified)
	seedLink(t, store, "subj-1", identity.PlatformGitHub, identity.StatusPending)

	all, err := svc.Links(ctx, "subj-1", "")
	if err != nil {
		t.Fatalf("Links: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("len = %d, want 2", len(all))
	}

	pending, err := svc.Links(ctx, "subj-1", identity.StatusPending)
	if err != nil {
		t.Fatalf("Links pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Platform != identity.PlatformGitHub {
		t.Errorf("pending = %+v", pending)
	}

	// Unknown subject is an empty list, not an error.
	none, err := svc.Links(ctx, "nobody", "")
	if err != nil {
		t.Fatalf("Links nobody: %v", err)
	}
	if len(none) != 0 {
		t.Errorf("len = %d, want 0", len(none))
	}
}

func TestStats(t *testing.T) {
	svc, store := newTestService(t)
	seedLink(t, store, "subj-1", identity.PlatformDiscord, identity.StatusVerified)
	seedLink(t, store, "subj-2", identity.PlatformDiscord, identity.StatusOnchain)

	stats, err := svc.Stats(context.Background(), "subj-1")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats[identity.StatusVerified] != 1 || stats[identity.StatusOnchain] != 0 || stats[identity.StatusPending] != 0 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestTasksPaging(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := store.InsertTask(ctx, &identity.TaskRecord{
			ID:             uuid.NewString(),
			Title:          "t",
			ValidationKind: identity.ValidationERC20Balance,
			Network:        identity.NetworkEthereum,
			TargetContract: "0xaa",
			Badge:          identity.BadgeMetadata{Name: "b", Image: "ipfs://x"},
		})
		if err != nil {
			t.Fatalf("seed task: %v", err)
		}
	}

	page, err := svc.Tasks(ctx, 1, 2, nil, nil)
	if err != nil {
		t.Fatalf("Tasks: %v", err)
	}
	if page.Total != 3 || len(page.Tasks) != 2 {
		t.Errorf("total = %d, len = %d", page.Total, len(page.Tasks))
	}

	if _, err := svc.Task(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Task = %v, want ErrNotFound", err)
	}
}
