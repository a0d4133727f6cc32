package keys

import "context"

// Store es el contrato que cumplen las tres variantes de keystore.
// La capa HTTP y el emisor de tokens solo hablan con esta interfaz.
type Store interface {
	// GetActiveKey devuelve la clave activa (con mitad privada).
	// Falla con ErrNoActiveKey si no existe ninguna.
	GetActiveKey(ctx context.Context) (*KeyRecord, error)

	// GetAllKeys lista todas las claves conocidas (activa + inactivas),
	// solo mitades públicas. El orden no es significativo. Refleja el
	// estado más reciente dentro de la ventana de consistencia del store
	// (inmediato en memoria, acotado por TTL en las variantes distribuidas).
	GetAllKeys(ctx context.Context) ([]KeyRecord, error)

	// CreateAndActivateNewKey rota: genera clave nueva, desactiva la
	// anterior (sin borrarla) y activa la nueva. Devuelve la nueva.
	CreateAndActivateNewKey(ctx context.Context) (*KeyRecord, error)

	// RetireKey elimina la clave de forma permanente. No-op si el kid
	// no existe (retiro idempotente).
	RetireKey(ctx context.Context, id string) error
}
