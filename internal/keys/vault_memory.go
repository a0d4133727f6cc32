package keys

import (
	"context"
	"sync"
)

// MemoryVault es un SecretVault en memoria (desarrollo y tests).
type MemoryVault struct {
	mu      sync.Mutex
	secrets map[string][]byte
}

var _ SecretVault = (*MemoryVault)(nil)

func NewMemoryVault() *MemoryVault {
	return &MemoryVault{secrets: make(map[string][]byte)}
}

func (v *MemoryVault) GetSecret(ctx context.Context, name string) ([]byte, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	val, ok := v.secrets[name]
	if !ok {
		return nil, ErrSecretNotFound
	}
	return append([]byte(nil), val...), nil
}

func (v *MemoryVault) PutSecret(ctx context.Context, name string, value []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.secrets[name] = append([]byte(nil), value...)
	return nil
}

func (v *MemoryVault) DeleteSecret(ctx context.Context, name string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.secrets, name)
	return nil
}

type versionedValue struct {
	value   []byte
	version int64
}

// MemoryConfigStore es un ConfigStore en memoria con la misma semántica de
// escritura condicional que los backends reales.
type MemoryConfigStore struct {
	mu      sync.Mutex
	entries map[string]versionedValue
}

var _ ConfigStore = (*MemoryConfigStore)(nil)

func NewMemoryConfigStore() *MemoryConfigStore {
	return &MemoryConfigStore{entries: make(map[string]versionedValue)}
}

func (c *MemoryConfigStore) Get(ctx context.Context, name string) ([]byte, int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[name]
	if !ok {
		return nil, 0, ErrConfigNotFound
	}
	return append([]byte(nil), e.value...), e.version, nil
}

func (c *MemoryConfigStore) Put(ctx context.Context, name string, value []byte, version int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, exists := c.entries[name]
	if version == 0 {
		if exists {
			return ErrVersionConflict
		}
		c.entries[name] = versionedValue{value: append([]byte(nil), value...), version: 1}
		return nil
	}
	if !exists || e.version != version {
		return ErrVersionConflict
	}
	c.entries[name] = versionedValue{value: append([]byte(nil), value...), version: version + 1}
	return nil
}

func (c *MemoryConfigStore) Delete(ctx context.Context, name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, name)
	return nil
}
