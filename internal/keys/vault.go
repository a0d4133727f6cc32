package keys

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dropDatabas3/linksign/internal/metrics"
	"github.com/dropDatabas3/linksign/internal/observability/logger"
)

// Errores de los colaboradores del VaultStore.
var (
	// ErrSecretNotFound: el vault no tiene un secreto con ese nombre.
	ErrSecretNotFound = errors.New("keys: secret not found")

	// ErrConfigNotFound: el config store no tiene esa entrada.
	ErrConfigNotFound = errors.New("keys: config entry not found")

	// ErrVersionConflict: la escritura condicional fue rechazada porque otro
	// proceso actualizó la entrada primero.
	ErrVersionConflict = errors.New("keys: config version conflict")
)

// SecretVault guarda material sensible (mitades privadas) indexado por un
// nombre derivado del kid. Opaco: puede ser un vault real, archivos
// cifrados, etc.
type SecretVault interface {
	GetSecret(ctx context.Context, name string) ([]byte, error)
	PutSecret(ctx context.Context, name string, value []byte) error
	DeleteSecret(ctx context.Context, name string) error
}

// ConfigStore es un almacén de configuración versionado con escritura
// condicional estilo ETag: Put solo aplica si `version` coincide con la
// versión actual de la entrada; version 0 significa "crear si no existe".
type ConfigStore interface {
	// Get devuelve el valor y su versión actual, o ErrConfigNotFound.
	Get(ctx context.Context, name string) (value []byte, version int64, err error)

	// Put escribe condicionalmente. Devuelve ErrVersionConflict si la
	// versión no coincide (o si version=0 y la entrada ya existe).
	Put(ctx context.Context, name string, value []byte, version int64) error

	// Delete elimina la entrada. No-op si no existe.
	Delete(ctx context.Context, name string) error
}

const (
	configNameActive = "active-kid"
	configNameKeys   = "keys"
)

// secretName deriva el nombre del secreto en el vault a partir del kid.
func secretName(kid string) string { return "linksign-key-" + kid }

// keyMeta es la metadata por clave que vive en el config store.
// La mitad privada NUNCA pasa por acá: va al vault.
type keyMeta struct {
	Public    string    `json:"public"` // base64(ed25519 pub)
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// VaultOptions parametriza los reintentos de la concurrencia optimista.
type VaultOptions struct {
	// MaxAttempts acota los reintentos de la secuencia completa de rotación
	// ante ErrVersionConflict. Agotar los intentos → ErrRotationConflict.
	MaxAttempts int

	// Backoff es la espera base entre intentos; crece 2^n por intento.
	Backoff time.Duration
}

func (o *VaultOptions) withDefaults() VaultOptions {
	cfg := *o
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	return cfg
}

// VaultStore parte el almacenamiento en dos: material privado en un
// SecretVault y todo lo demás (kid activo, listado, metadata) en un
// ConfigStore versionado. La rotación no usa locks: usa escrituras
// condicionales con reintento acotado.
type VaultStore struct {
	vault  SecretVault
	config ConfigStore
	cfg    VaultOptions
}

var _ Store = (*VaultStore)(nil)

// NewVaultStore construye el store y hace el bootstrap idempotente: si no
// hay kid activo publica la clave inicial. Varios procesos arrancando a la
// vez son seguros — solo uno gana la escritura condicional con versión 0,
// el resto observa el resultado en la relectura.
func NewVaultStore(ctx context.Context, vault SecretVault, config ConfigStore, opts VaultOptions) (*VaultStore, error) {
	s := &VaultStore{vault: vault, config: config, cfg: opts.withDefaults()}
	if err := s.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *VaultStore) ensureInitialized(ctx context.Context) error {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		_, _, err := s.config.Get(ctx, configNameActive)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrConfigNotFound) {
			return err
		}
		rec, err := newKeyRecord(true)
		if err != nil {
			return err
		}
		err = s.publish(ctx, rec, nil, 0, 0)
		if err == nil {
			logger.From(ctx).Info("vault keystore bootstrapped", logger.KID(rec.ID))
			return nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return err
		}
		// Otro proceso publicó primero: deshacer lo escrito a medias y releer.
		s.rollbackPublish(ctx, rec.ID)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.cfg.Backoff):
		}
	}
	return ErrRotationConflict
}

func (s *VaultStore) GetActiveKey(ctx context.Context) (*KeyRecord, error) {
	val, _, err := s.config.Get(ctx, configNameActive)
	if errors.Is(err, ErrConfigNotFound) {
		return nil, ErrNoActiveKey
	}
	if err != nil {
		return nil, err
	}
	kid := string(val)

	metas, _, err := s.readMetas(ctx)
	if err != nil {
		return nil, err
	}
	meta, ok := metas[kid]
	if !ok {
		// Puntero activo a una clave ya retirada: ventana de carrera aceptada.
		return nil, ErrNoActiveKey
	}
	rec, err := recordFromMeta(kid, meta)
	if err != nil {
		return nil, err
	}
	priv, err := s.vault.GetSecret(ctx, secretName(kid))
	if errors.Is(err, ErrSecretNotFound) {
		return nil, ErrNoActiveKey
	}
	if err != nil {
		return nil, err
	}
	rec.Private = priv
	return rec, nil
}

func (s *VaultStore) GetAllKeys(ctx context.Context) ([]KeyRecord, error) {
	metas, _, err := s.readMetas(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KeyRecord, 0, len(metas))
	for kid, meta := range metas {
		rec, err := recordFromMeta(kid, meta)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	return out, nil
}

// CreateAndActivateNewKey rota con concurrencia optimista: lee el kid activo
// con su versión, escribe el secreto nuevo, actualiza metadata y recién
// entonces intenta la escritura condicional del kid activo con la versión
// capturada al inicio. Si otro proceso ganó, reintenta la secuencia entera
// con backoff creciente.
func (s *VaultStore) CreateAndActivateNewKey(ctx context.Context) (*KeyRecord, error) {
	start := time.Now()
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			backoff := s.cfg.Backoff * (1 << (attempt - 1))
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		var (
			prevKID       string
			activeVersion int64
		)
		val, ver, err := s.config.Get(ctx, configNameActive)
		switch {
		case err == nil:
			prevKID, activeVersion = string(val), ver
		case errors.Is(err, ErrConfigNotFound):
			// Sin bootstrap previo; la rotación lo cubre con versión 0.
		default:
			return nil, err
		}

		rec, err := newKeyRecord(true)
		if err != nil {
			return nil, err
		}
		metas, metasVersion, err := s.readMetas(ctx)
		if err != nil {
			return nil, err
		}

		err = s.publish(ctx, rec, metas, metasVersion, activeVersion)
		if err == nil {
			metrics.KeyRotations.Inc()
			metrics.RotationLatency.Observe(float64(time.Since(start).Milliseconds()))
			logger.From(ctx).Info("signing key rotated",
				logger.KID(rec.ID), logger.PrevKID(prevKID))
			cp := rec.Clone()
			return &cp, nil
		}
		if !errors.Is(err, ErrVersionConflict) {
			return nil, err
		}
		// Perdimos la carrera. El conflicto pudo llegar DESPUÉS de escribir
		// la metadata (solo el puntero activo perdió): retirar la entrada del
		// kid perdedor, o queda un record fantasma en el listado y el JWKS.
		s.rollbackPublish(ctx, rec.ID)
		metrics.KeyRotationConflicts.Inc()
		lastErr = err
	}
	logger.From(ctx).Warn("rotation retries exhausted", logger.Err(lastErr))
	return nil, ErrRotationConflict
}

// publish escribe el secreto, la metadata y el kid activo, en ese orden.
// metas nil significa "solo la clave nueva" (bootstrap). La escritura del
// kid activo con la versión capturada es la que decide quién gana.
func (s *VaultStore) publish(ctx context.Context, rec *KeyRecord, metas map[string]keyMeta, metasVersion, activeVersion int64) error {
	if err := s.vault.PutSecret(ctx, secretName(rec.ID), rec.Private); err != nil {
		return err
	}

	if metas == nil {
		metas = make(map[string]keyMeta)
	}
	for kid, m := range metas {
		if m.Active {
			m.Active = false
			metas[kid] = m
		}
	}
	metas[rec.ID] = keyMeta{
		Public:    base64.StdEncoding.EncodeToString(rec.Public),
		Active:    true,
		CreatedAt: rec.CreatedAt,
	}
	buf, err := json.Marshal(metas)
	if err != nil {
		return err
	}
	if err := s.config.Put(ctx, configNameKeys, buf, metasVersion); err != nil {
		return err
	}
	return s.config.Put(ctx, configNameActive, []byte(rec.ID), activeVersion)
}

// RetireKey saca la clave de la metadata con escritura condicional y borra
// el secreto del vault. Idempotente: un kid ausente es no-op.
func (s *VaultStore) RetireKey(ctx context.Context, id string) error {
	removed, err := s.removeMeta(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	// El material privado se borra junto con el retiro: dejar mitades
	// privadas vivas en el vault contradice que retirar es revocar.
	if err := s.vault.DeleteSecret(ctx, secretName(id)); err != nil && !errors.Is(err, ErrSecretNotFound) {
		return err
	}
	metrics.KeyRetirements.Inc()
	logger.From(ctx).Info("signing key retired", logger.KID(id))
	return nil
}

// removeMeta saca un kid de la metadata con escritura condicional y reintento
// acotado. Devuelve si el kid estaba presente; un kid ausente es no-op.
func (s *VaultStore) removeMeta(ctx context.Context, id string) (bool, error) {
	for attempt := 0; attempt < s.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return false, ctx.Err()
			case <-time.After(s.cfg.Backoff * (1 << (attempt - 1))):
			}
		}
		metas, version, err := s.readMetas(ctx)
		if err != nil {
			return false, err
		}
		if _, ok := metas[id]; !ok {
			return false, nil
		}
		delete(metas, id)
		buf, err := json.Marshal(metas)
		if err != nil {
			return false, err
		}
		if err := s.config.Put(ctx, configNameKeys, buf, version); err != nil {
			if errors.Is(err, ErrVersionConflict) {
				continue
			}
			return false, err
		}
		return true, nil
	}
	return false, ErrRotationConflict
}

// rollbackPublish deshace una publicación que perdió la escritura condicional
// del kid activo: la entrada de metadata (si llegó a escribirse) y el secreto
// del vault del kid perdedor. Best effort; lo que no se pueda deshacer acá lo
// barre igual la próxima rotación que gane.
func (s *VaultStore) rollbackPublish(ctx context.Context, id string) {
	if _, err := s.removeMeta(ctx, id); err != nil {
		logger.From(ctx).Warn("rotation rollback failed",
			logger.KID(id), logger.Err(err))
	}
	_ = s.vault.DeleteSecret(ctx, secretName(id))
}

func (s *VaultStore) readMetas(ctx context.Context) (map[string]keyMeta, int64, error) {
	val, version, err := s.config.Get(ctx, configNameKeys)
	if errors.Is(err, ErrConfigNotFound) {
		return make(map[string]keyMeta), 0, nil
	}
	if err != nil {
		return nil, 0, err
	}
	metas := make(map[string]keyMeta)
	if err := json.Unmarshal(val, &metas); err != nil {
		return nil, 0, fmt.Errorf("unmarshal key metadata: %w", err)
	}
	return metas, version, nil
}

func recordFromMeta(kid string, meta keyMeta) (*KeyRecord, error) {
	pub, err := base64.StdEncoding.DecodeString(meta.Public)
	if err != nil {
		return nil, fmt.Errorf("decode public key for %s: %w", kid, err)
	}
	return &KeyRecord{
		ID:        kid,
		Public:    pub,
		Active:    meta.Active,
		CreatedAt: meta.CreatedAt,
	}, nil
}
