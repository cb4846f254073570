package revision

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"testing"
)

func newTestStore(t *testing.T) *FSStore {
	t.Helper()
	store, err := NewFSStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewFSStore failed: %v", err)
	}
	return store
}

func TestComputeIDDeterministic(t *testing.T) {
	payload := []byte("<project>v1</project>")
	first := ComputeID(RootID, payload)
	second := ComputeID(RootID, payload)
	if first != second {
		t.Fatalf("ComputeID not deterministic: %s vs %s", first, second)
	}
	if len(first) != IDLen {
		t.Fatalf("id width = %d, want %d", len(first), IDLen)
	}
	if !ValidID(first) {
		t.Fatalf("ComputeID produced invalid id %q", first)
	}
}

func TestComputeIDBindsChainPosition(t *testing.T) {
	payload := []byte("same bytes")
	atRoot := ComputeID(RootID, payload)
	atChild := ComputeID(atRoot, payload)
	if atRoot == atChild {
		t.Fatal("identical payloads at different chain positions must get different ids")
	}
}

func TestGetOrCreateIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	payload := []byte("payload")

	rev, created, err := store.GetOrCreate(ctx, RootID, payload)
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	if !created {
		t.Fatal("first GetOrCreate should report created=true")
	}

	for i := 0; i < 3; i++ {
		again, created, err := store.GetOrCreate(ctx, RootID, payload)
		if err != nil {
			t.Fatalf("repeat GetOrCreate failed: %v", err)
		}
		if created {
			t.Fatal("repeat GetOrCreate should report created=false")
		}
		if again.ID != rev.ID {
			t.Fatalf("id changed across calls: %s vs %s", again.ID, rev.ID)
		}
	}
}

func TestGetOrCreateConcurrentSameContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	payload := []byte("raced payload")

	const callers = 16
	ids := make([]string, callers)
	createdCount := 0
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rev, created, err := store.GetOrCreate(ctx, RootID, payload)
			if err != nil {
				t.Errorf("GetOrCreate failed: %v", err)
				return
			}
			mu.Lock()
			ids[i] = rev.ID
			if created {
				createdCount++
			}
			mu.Unlock()
		}(i)
	}
	wg.Wait()

	if createdCount != 1 {
		t.Fatalf("created=true reported %d times, want exactly 1", createdCount)
	}
	for _, id := range ids {
		if id != ids[0] {
			t.Fatalf("callers observed different ids: %s vs %s", id, ids[0])
		}
	}
}

func TestLoadNotFound(t *testing.T) {
	store := newTestStore(t)
	_, err := store.Load(context.Background(), ComputeID(RootID, []byte("never saved")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestGetSingleRevision(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _, err := store.GetOrCreate(ctx, RootID, []byte("v1"))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	rev, err := store.Get(ctx, first.ID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if rev.ID != first.ID || rev.PrevID != RootID || !bytes.Equal(rev.Payload, []byte("v1")) {
		t.Fatalf("Get returned %+v, want %+v", rev, first)
	}

	if _, err := store.Get(ctx, ComputeID(RootID, []byte("ghost"))); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing id, got %v", err)
	}
}

func TestGetRootSentinelNotFound(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Get(context.Background(), RootID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for the root sentinel, got %v", err)
	}
}

func TestGetIgnoresMissingAncestor(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _, err := store.GetOrCreate(ctx, RootID, []byte("v1"))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, _, err := store.GetOrCreate(ctx, first.ID, []byte("v2"))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	if err := os.Remove(store.payloadPath(first.ID)); err != nil {
		t.Fatalf("remove payload: %v", err)
	}

	// The revision itself is intact; only a full chain walk should fail.
	rev, err := store.Get(ctx, second.ID)
	if err != nil {
		t.Fatalf("Get failed on intact revision: %v", err)
	}
	if !bytes.Equal(rev.Payload, []byte("v2")) {
		t.Fatalf("payload = %q, want v2", rev.Payload)
	}
}

func TestLoadChainWalksToRoot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	payloads := [][]byte{[]byte("v1"), []byte("v2"), []byte("v3")}
	prevID := RootID
	var headID string
	for _, payload := range payloads {
		rev, _, err := store.GetOrCreate(ctx, prevID, payload)
		if err != nil {
			t.Fatalf("GetOrCreate failed: %v", err)
		}
		prevID = rev.ID
		headID = rev.ID
	}

	chain, err := store.LoadChain(ctx, headID)
	if err != nil {
		t.Fatalf("LoadChain failed: %v", err)
	}
	if len(chain) != len(payloads) {
		t.Fatalf("chain length = %d, want %d", len(chain), len(payloads))
	}
	if chain[len(chain)-1].PrevID != RootID {
		t.Fatalf("oldest revision should link to root, got %s", chain[len(chain)-1].PrevID)
	}
	// Head-first order.
	if !bytes.Equal(chain[0].Payload, []byte("v3")) {
		t.Fatalf("head payload = %q, want v3", chain[0].Payload)
	}
}

func TestLoadChainCorrupt(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _, err := store.GetOrCreate(ctx, RootID, []byte("v1"))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}
	second, _, err := store.GetOrCreate(ctx, first.ID, []byte("v2"))
	if err != nil {
		t.Fatalf("GetOrCreate failed: %v", err)
	}

	// Break the middle link.
	if err := os.Remove(store.payloadPath(first.ID)); err != nil {
		t.Fatalf("remove payload: %v", err)
	}

	_, err = store.LoadChain(ctx, second.ID)
	if !errors.Is(err, ErrCorruptChain) {
		t.Fatalf("expected ErrCorruptChain, got %v", err)
	}
}

func TestLoadChainMissingHead(t *testing.T) {
	store := newTestStore(t)
	_, err := store.LoadChain(context.Background(), ComputeID(RootID, []byte("ghost")))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing head, got %v", err)
	}
}
