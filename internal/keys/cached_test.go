package keys_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dropDatabas3/linksign/internal/keys"
)

// flakyRemote envuelve un RemoteStore y permite simular caídas del backend.
type flakyRemote struct {
	keys.RemoteStore
	down atomic.Bool
}

var errRemoteDown = errors.New("remote unavailable")

func (f *flakyRemote) GetKey(ctx context.Context, id string) (*keys.KeyRecord, error) {
	if f.down.Load() {
		return nil, errRemoteDown
	}
	return f.RemoteStore.GetKey(ctx, id)
}

func (f *flakyRemote) ListKeyIDs(ctx context.Context) ([]string, error) {
	if f.down.Load() {
		return nil, errRemoteDown
	}
	return f.RemoteStore.ListKeyIDs(ctx)
}

func (f *flakyRemote) GetActiveID(ctx context.Context) (string, error) {
	if f.down.Load() {
		return "", errRemoteDown
	}
	return f.RemoteStore.GetActiveID(ctx)
}

func TestCachedStore_BootstrapOnFirstUse(t *testing.T) {
	remote := keys.NewMemoryRemoteStore()
	s := keys.NewCachedStore(remote, keys.DefaultCachedOptions())
	ctx := context.Background()

	k1, err := s.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("GetActiveKey (bootstrap): %v", err)
	}
	if !k1.Active {
		t.Fatalf("bootstrapped key not active")
	}

	// Segunda lectura: mismo kid, ahora desde el cache local.
	k2, err := s.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("GetActiveKey (cached): %v", err)
	}
	if k2.ID != k1.ID {
		t.Fatalf("cached kid %s != bootstrapped kid %s", k2.ID, k1.ID)
	}
}

func TestCachedStore_RotationInvalidatesLocalCache(t *testing.T) {
	remote := keys.NewMemoryRemoteStore()
	s := keys.NewCachedStore(remote, keys.DefaultCachedOptions())
	ctx := context.Background()

	k1, err := s.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	k2, err := s.CreateAndActivateNewKey(ctx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if k2.ID == k1.ID {
		t.Fatalf("rotation reused kid")
	}

	// La instancia que rotó ve la clave nueva de inmediato, sin esperar TTL.
	active, err := s.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("GetActiveKey after rotate: %v", err)
	}
	if active.ID != k2.ID {
		t.Fatalf("active = %s, want %s", active.ID, k2.ID)
	}

	all, err := s.GetAllKeys(ctx)
	if err != nil {
		t.Fatalf("GetAllKeys: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 keys, got %d", len(all))
	}
	activos := 0
	for _, k := range all {
		if k.Active {
			activos++
		}
	}
	if activos != 1 {
		t.Fatalf("expected 1 active, got %d", activos)
	}
}

func TestCachedStore_StalenessBoundedByTTL(t *testing.T) {
	remote := keys.NewMemoryRemoteStore()
	opts := keys.CachedOptions{TTL: 150 * time.Millisecond}
	a := keys.NewCachedStore(remote, opts)
	b := keys.NewCachedStore(remote, opts)
	ctx := context.Background()

	k1, err := a.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if _, err := b.GetActiveKey(ctx); err != nil {
		t.Fatalf("warm b: %v", err)
	}

	k2, err := a.CreateAndActivateNewKey(ctx)
	if err != nil {
		t.Fatalf("rotate on a: %v", err)
	}

	// b todavía sirve la copia cacheada: staleness permitida, acotada al TTL.
	stale, err := b.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("GetActiveKey on b: %v", err)
	}
	if stale.ID != k1.ID {
		t.Fatalf("expected stale kid %s on b, got %s", k1.ID, stale.ID)
	}

	// Pasado el TTL, b se auto-cura contra el remoto.
	time.Sleep(200 * time.Millisecond)
	healed, err := b.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("GetActiveKey on b after TTL: %v", err)
	}
	if healed.ID != k2.ID {
		t.Fatalf("expected healed kid %s on b, got %s", k2.ID, healed.ID)
	}
}

func TestCachedStore_RotationContention(t *testing.T) {
	remote := keys.NewMemoryRemoteStore()
	s := keys.NewCachedStore(remote, keys.CachedOptions{
		TTL:      time.Minute,
		LockWait: 50 * time.Millisecond,
	})
	ctx := context.Background()

	if _, err := s.GetActiveKey(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	// Otro proceso sostiene el lock de rotación.
	release, err := remote.AcquireLock(ctx, "key-rotation", time.Second, 0)
	if err != nil {
		t.Fatalf("acquire foreign lock: %v", err)
	}

	_, err = s.CreateAndActivateNewKey(ctx)
	if !errors.Is(err, keys.ErrRotationInProgress) {
		t.Fatalf("expected ErrRotationInProgress, got %v", err)
	}

	// Liberado el lock, la rotación vuelve a funcionar.
	if err := release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := s.CreateAndActivateNewKey(ctx); err != nil {
		t.Fatalf("rotate after release: %v", err)
	}
}

func TestCachedStore_StaleFallbackOnVerificationPath(t *testing.T) {
	flaky := &flakyRemote{RemoteStore: keys.NewMemoryRemoteStore()}
	s := keys.NewCachedStore(flaky, keys.CachedOptions{
		TTL:          time.Second,
		RefreshAfter: time.Millisecond,
	})
	ctx := context.Background()

	if _, err := s.GetActiveKey(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	warm, err := s.GetAllKeys(ctx)
	if err != nil {
		t.Fatalf("warm GetAllKeys: %v", err)
	}
	if len(warm) != 1 {
		t.Fatalf("expected 1 key, got %d", len(warm))
	}

	// Entrada vieja (pasó la ventana de refresco) pero dentro del TTL.
	time.Sleep(10 * time.Millisecond)
	flaky.down.Store(true)

	// Camino de verificación: el refresco falla y se sirve last-known-good.
	got, err := s.GetAllKeys(ctx)
	if err != nil {
		t.Fatalf("GetAllKeys with remote down: %v", err)
	}
	if len(got) != 1 || got[0].ID != warm[0].ID {
		t.Fatalf("stale fallback returned wrong list: %+v", got)
	}

	// Camino de emisión: nunca sirve copia vieja, el error se propaga.
	if _, err := s.GetActiveKey(ctx); !errors.Is(err, errRemoteDown) {
		t.Fatalf("expected remote error on issuance path, got %v", err)
	}
}

func TestCachedStore_DisabledCacheStaysCorrect(t *testing.T) {
	remote := keys.NewMemoryRemoteStore()
	a := keys.NewCachedStore(remote, keys.CachedOptions{TTL: 0})
	b := keys.NewCachedStore(remote, keys.CachedOptions{TTL: 0})
	ctx := context.Background()

	k1, err := a.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	if got, _ := b.GetActiveKey(ctx); got.ID != k1.ID {
		t.Fatalf("b sees %s, want %s", got.ID, k1.ID)
	}

	k2, err := a.CreateAndActivateNewKey(ctx)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	// Sin cache no hay ventana de staleness: b ve la rotación al instante.
	got, err := b.GetActiveKey(ctx)
	if err != nil {
		t.Fatalf("GetActiveKey on b: %v", err)
	}
	if got.ID != k2.ID {
		t.Fatalf("b sees %s, want %s", got.ID, k2.ID)
	}
}
