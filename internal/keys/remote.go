package keys

import (
	"context"
	"sync"
	"time"
)

// RemoteStore abstrae el backend compartido del keystore distribuido:
// un key-value opaco para records, el kid activo, el listado de kids y un
// lock de exclusión mutua nombrado y acotado en el tiempo.
//
// Contratos de error: GetKey devuelve ErrKeyNotFound si el kid no existe;
// GetActiveID devuelve ErrNoActiveKey si el puntero no fue publicado aún;
// DeleteKey sobre un kid ausente es no-op.
type RemoteStore interface {
	GetKey(ctx context.Context, id string) (*KeyRecord, error)
	PutKey(ctx context.Context, rec *KeyRecord) error
	DeleteKey(ctx context.Context, id string) error
	ListKeyIDs(ctx context.Context) ([]string, error)

	GetActiveID(ctx context.Context) (string, error)
	SetActiveID(ctx context.Context, id string) error

	// AcquireLock toma el lock `name` esperando hasta `wait`. El lock expira
	// solo a los `ttl` (protección contra holders muertos). Si no lo consigue
	// dentro de `wait` devuelve ErrRotationInProgress. El release devuelto
	// debe llamarse incondicionalmente, también en caminos de error.
	AcquireLock(ctx context.Context, name string, ttl, wait time.Duration) (release func(context.Context) error, err error)
}

// MemoryRemoteStore es un RemoteStore en memoria para desarrollo y tests.
// Simula el backend compartido dentro de un proceso; varios CachedStore
// pueden apuntarle para ejercitar contención de rotación.
type MemoryRemoteStore struct {
	mu       sync.Mutex
	records  map[string]KeyRecord
	activeID string
	locks    map[string]time.Time // name → expiración
}

var _ RemoteStore = (*MemoryRemoteStore)(nil)

func NewMemoryRemoteStore() *MemoryRemoteStore {
	return &MemoryRemoteStore{
		records: make(map[string]KeyRecord),
		locks:   make(map[string]time.Time),
	}
}

func (m *MemoryRemoteStore) GetKey(ctx context.Context, id string) (*KeyRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	cp := rec.Clone()
	return &cp, nil
}

func (m *MemoryRemoteStore) PutKey(ctx context.Context, rec *KeyRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[rec.ID] = rec.Clone()
	return nil
}

func (m *MemoryRemoteStore) DeleteKey(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, id)
	return nil
}

func (m *MemoryRemoteStore) ListKeyIDs(ctx context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.records))
	for id := range m.records {
		out = append(out, id)
	}
	return out, nil
}

func (m *MemoryRemoteStore) GetActiveID(ctx context.Context) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.activeID == "" {
		return "", ErrNoActiveKey
	}
	return m.activeID, nil
}

func (m *MemoryRemoteStore) SetActiveID(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.activeID = id
	return nil
}

func (m *MemoryRemoteStore) AcquireLock(ctx context.Context, name string, ttl, wait time.Duration) (func(context.Context) error, error) {
	deadline := time.Now().Add(wait)
	for {
		m.mu.Lock()
		exp, held := m.locks[name]
		if !held || time.Now().After(exp) {
			m.locks[name] = time.Now().Add(ttl)
			m.mu.Unlock()
			release := func(context.Context) error {
				m.mu.Lock()
				delete(m.locks, name)
				m.mu.Unlock()
				return nil
			}
			return release, nil
		}
		m.mu.Unlock()

		if time.Now().After(deadline) {
			return nil, ErrRotationInProgress
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Millisecond):
		}
	}
}
