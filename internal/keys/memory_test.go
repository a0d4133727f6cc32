package keys_test

import (
	"context"
	"sync"
	"testing"

	"github.com/dropDatabas3/linksign/internal/keys"
)

func TestMemoryStore_InitialKeyActive(t *testing.T) {
	s, err := keys.NewMemoryStore()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	rec, err := s.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("GetActiveKey: %v", err)
	}
	if !rec.Active {
		t.Fatalf("initial key not marked active")
	}
	if len(rec.Private) == 0 || len(rec.Public) == 0 {
		t.Fatalf("initial key missing material")
	}
}

func TestMemoryStore_RotationKeepsOldKey(t *testing.T) {
	s, err := keys.NewMemoryStore()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	k1, _ := s.GetActiveKey(ctx)
	k2, err := s.CreateAndActivateNewKey(ctx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if k2.ID == k1.ID {
		t.Fatalf("rotation reused kid %s", k1.ID)
	}

	active, err := s.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("GetActiveKey after rotate: %v", err)
	}
	if active.ID != k2.ID {
		t.Fatalf("active = %s, want %s", active.ID, k2.ID)
	}

	// La vieja sigue listada, inactiva (graceful rotation).
	all, err := s.GetAllKeys(ctx)
	if err != nil {
		t.Fatalf("GetAllKeys: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 keys after one rotation, got %d", len(all))
	}
	activos := 0
	for _, k := range all {
		if k.Active {
			activos++
		}
		if len(k.Private) != 0 {
			t.Fatalf("GetAllKeys leaked private material for %s", k.ID)
		}
	}
	if activos != 1 {
		t.Fatalf("expected exactly 1 active key, got %d", activos)
	}
}

func TestMemoryStore_ListingAfterRotationsAndRetirements(t *testing.T) {
	s, err := keys.NewMemoryStore()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	// N rotaciones, M retiros → N+1-M records, exactamente 1 activo.
	const rotations = 5
	var kids []string
	k0, _ := s.GetActiveKey(ctx)
	kids = append(kids, k0.ID)
	for i := 0; i < rotations; i++ {
		k, err := s.CreateAndActivateNewKey(ctx)
		if err != nil {
			t.Fatalf("rotate %d: %v", i, err)
		}
		kids = append(kids, k.ID)
	}

	const retirements = 2
	for i := 0; i < retirements; i++ {
		if err := s.RetireKey(ctx, kids[i]); err != nil {
			t.Fatalf("retire %s: %v", kids[i], err)
		}
	}

	all, _ := s.GetAllKeys(ctx)
	want := rotations + 1 - retirements
	if len(all) != want {
		t.Fatalf("expected %d keys, got %d", want, len(all))
	}
	activos := 0
	for _, k := range all {
		if k.Active {
			activos++
		}
	}
	if activos != 1 {
		t.Fatalf("expected exactly 1 active key, got %d", activos)
	}
}

func TestMemoryStore_RetireUnknownIsNoop(t *testing.T) {
	s, err := keys.NewMemoryStore()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	if err := s.RetireKey(context.Background(), "no-such-kid"); err != nil {
		t.Fatalf("retire unknown kid should be a no-op, got %v", err)
	}
}

func TestMemoryStore_RetiredKeyAbsentFromListing(t *testing.T) {
	s, err := keys.NewMemoryStore()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	k1, _ := s.GetActiveKey(ctx)
	if _, err := s.CreateAndActivateNewKey(ctx); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if err := s.RetireKey(ctx, k1.ID); err != nil {
		t.Fatalf("retire: %v", err)
	}
	all, _ := s.GetAllKeys(ctx)
	for _, k := range all {
		if k.ID == k1.ID {
			t.Fatalf("retired kid %s still listed", k1.ID)
		}
	}
}

func TestMemoryStore_ConcurrentRotations(t *testing.T) {
	s, err := keys.NewMemoryStore()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	ctx := context.Background()

	const n = 10
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.CreateAndActivateNewKey(ctx); err != nil {
				t.Errorf("rotate: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := s.GetAllKeys(ctx)
	if len(all) != n+1 {
		t.Fatalf("expected %d keys, got %d", n+1, len(all))
	}
	activos := 0
	for _, k := range all {
		if k.Active {
			activos++
		}
	}
	if activos != 1 {
		t.Fatalf("expected exactly 1 active key after concurrent rotations, got %d", activos)
	}
}
