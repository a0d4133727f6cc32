package keys

import (
	"context"
	"sync"
)

// MemoryStore es el keystore autoritativo de un solo proceso: un mapa
// kid → KeyRecord más un puntero a la clave activa, bajo un único mutex
// para todas las mutaciones. El lookup por kid es O(1) porque ocurre en
// cada verificación.
type MemoryStore struct {
	mu       sync.RWMutex
	records  map[string]*KeyRecord
	activeID string
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore construye el store y genera sincrónicamente la clave
// inicial activa. Es la única variante donde el bootstrap es trivialmente
// seguro: hay exactamente una instancia del estado.
func NewMemoryStore() (*MemoryStore, error) {
	s := &MemoryStore{records: make(map[string]*KeyRecord)}
	rec, err := newKeyRecord(true)
	if err != nil {
		return nil, err
	}
	s.records[rec.ID] = rec
	s.activeID = rec.ID
	return s, nil
}

func (s *MemoryStore) GetActiveKey(ctx context.Context) (*KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[s.activeID]
	if !ok {
		return nil, ErrNoActiveKey
	}
	cp := rec.Clone()
	return &cp, nil
}

func (s *MemoryStore) GetAllKeys(ctx context.Context) ([]KeyRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]KeyRecord, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.PublicOnly())
	}
	return out, nil
}

func (s *MemoryStore) CreateAndActivateNewKey(ctx context.Context) (*KeyRecord, error) {
	newRec, err := newKeyRecord(true)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// La anterior queda en el mapa con Active=false; rotar nunca borra.
	if prev, ok := s.records[s.activeID]; ok {
		prev.Active = false
	}
	s.records[newRec.ID] = newRec
	s.activeID = newRec.ID

	cp := newRec.Clone()
	return &cp, nil
}

func (s *MemoryStore) RetireKey(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}
