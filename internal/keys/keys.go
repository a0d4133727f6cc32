// Package keys implementa el ciclo de vida de las claves de firma:
// qué claves existen, cuál está activa y cuáles fueron retiradas.
//
// Hay tres implementaciones del mismo contrato (Store):
//
//   - MemoryStore: mapa autoritativo en memoria, un solo proceso.
//   - CachedStore: wrapper con cache local (TTL) sobre un RemoteStore
//     compartido; la rotación se serializa con un lock nombrado.
//   - VaultStore: material privado en un vault de secretos + metadata en un
//     config store versionado; la rotación usa concurrencia optimista.
//
// Las tres garantizan: exactamente una clave activa después de cada rotación,
// rotación nunca borra (graceful rotation) y retiro idempotente.
package keys

import (
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Errores del subsistema de claves.
var (
	// ErrNoActiveKey indica que no existe clave activa. Fuera del bootstrap
	// inicial es un invariante roto (estado corrupto).
	ErrNoActiveKey = errors.New("keys: no active signing key")

	// ErrKeyNotFound: lookup por kid falló. Interno; la capa de verificación
	// lo colapsa en un fallo genérico de autorización.
	ErrKeyNotFound = errors.New("keys: key not found")

	// ErrRotationInProgress: otro proceso tiene el lock de rotación.
	// Recuperable; el caller debe reintentar más tarde, no spinear.
	ErrRotationInProgress = errors.New("keys: rotation already in progress")

	// ErrRotationConflict: la escritura condicional perdió contra otro
	// proceso y se agotaron los reintentos. Recuperable con backoff.
	ErrRotationConflict = errors.New("keys: rotation conflict")
)

// KeyRecord es una clave de firma Ed25519 con su metadata.
// El ID es opaco, único e inmutable; un kid retirado nunca se reusa.
type KeyRecord struct {
	ID        string
	Public    ed25519.PublicKey
	Private   ed25519.PrivateKey // nil en listados públicos
	Active    bool
	CreatedAt time.Time
}

// Clone devuelve una copia profunda (los slices de clave se copian).
func (k *KeyRecord) Clone() KeyRecord {
	cp := *k
	if k.Public != nil {
		cp.Public = append(ed25519.PublicKey(nil), k.Public...)
	}
	if k.Private != nil {
		cp.Private = append(ed25519.PrivateKey(nil), k.Private...)
	}
	return cp
}

// PublicOnly devuelve una copia sin la mitad privada.
func (k *KeyRecord) PublicOnly() KeyRecord {
	cp := k.Clone()
	cp.Private = nil
	return cp
}

// newKeyRecord genera un par Ed25519 fresco con kid UUID.
func newKeyRecord(active bool) (*KeyRecord, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return &KeyRecord{
		ID:        uuid.NewString(),
		Public:    pub,
		Private:   priv,
		Active:    active,
		CreatedAt: time.Now().UTC(),
	}, nil
}
