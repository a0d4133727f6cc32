package keys

import (
	"context"
	"errors"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/linksign/internal/metrics"
	"github.com/dropDatabas3/linksign/internal/observability/logger"
)

const (
	rotationLockName = "key-rotation"

	cacheKeyActive = "keys:active"
	cacheKeyAll    = "keys:all"
)

// CachedOptions parametriza el CachedStore. Los ceros toman defaults,
// salvo TTL: un TTL <= 0 desactiva el cache por completo (el store sigue
// siendo correcto, solo más lento).
type CachedOptions struct {
	// TTL es la vida máxima de una entrada local. Acota la ventana de
	// staleness de TODO el fleet: una clave retirada puede seguir validando
	// en otras instancias hasta un TTL después del retiro.
	TTL time.Duration

	// RefreshAfter es la ventana de refresco deslizante: pasada esa edad la
	// entrada se re-consulta al remoto aunque siga dentro del TTL. Si el
	// refresco falla, el camino de verificación sirve la copia vieja
	// (last-known-good) mientras no venza el TTL.
	RefreshAfter time.Duration

	// LockTTL es la expiración del lock de rotación (holder muerto).
	LockTTL time.Duration

	// LockWait es la espera máxima para adquirir el lock de rotación.
	LockWait time.Duration
}

func (o *CachedOptions) withDefaults() CachedOptions {
	cfg := *o
	if cfg.RefreshAfter <= 0 || cfg.RefreshAfter > cfg.TTL {
		cfg.RefreshAfter = cfg.TTL
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.LockWait <= 0 {
		cfg.LockWait = 10 * time.Second
	}
	return cfg
}

// DefaultCachedOptions son los defaults de producción: TTL 5m, refresco 1m.
func DefaultCachedOptions() CachedOptions {
	return CachedOptions{
		TTL:          5 * time.Minute,
		RefreshAfter: time.Minute,
		LockTTL:      30 * time.Second,
		LockWait:     10 * time.Second,
	}
}

// cachedEntry envuelve un valor cacheado con su momento de fetch, para poder
// distinguir "fresco" (edad < RefreshAfter) de "viejo pero servible".
type cachedEntry struct {
	rec       *KeyRecord  // cacheKeyActive
	list      []KeyRecord // cacheKeyAll
	fetchedAt time.Time
}

// CachedStore envuelve un RemoteStore compartido con un cache local por
// proceso. El cache es estado derivado, nunca fuente de verdad: se invalida
// en rotación/retiro local y se auto-expira por TTL en el resto del fleet.
type CachedStore struct {
	remote RemoteStore
	local  *gocache.Cache
	cfg    CachedOptions
	sf     singleflight.Group
}

var _ Store = (*CachedStore)(nil)

func NewCachedStore(remote RemoteStore, opts CachedOptions) *CachedStore {
	cfg := opts.withDefaults()
	return &CachedStore{
		remote: remote,
		local:  gocache.New(cfg.TTL, time.Minute),
		cfg:    cfg,
	}
}

func (s *CachedStore) cacheEnabled() bool { return s.cfg.TTL > 0 }

// lookup devuelve la entrada local y si está fresca (edad < RefreshAfter).
func (s *CachedStore) lookup(key string) (*cachedEntry, bool) {
	if !s.cacheEnabled() {
		return nil, false
	}
	v, ok := s.local.Get(key)
	if !ok {
		return nil, false
	}
	ce := v.(cachedEntry)
	return &ce, time.Since(ce.fetchedAt) < s.cfg.RefreshAfter
}

func (s *CachedStore) put(key string, ce cachedEntry) {
	if s.cacheEnabled() {
		s.local.Set(key, ce, s.cfg.TTL)
	}
}

func (s *CachedStore) GetActiveKey(ctx context.Context) (*KeyRecord, error) {
	if ce, fresh := s.lookup(cacheKeyActive); fresh {
		metrics.KeyCacheHits.Inc()
		cp := ce.rec.Clone()
		return &cp, nil
	}
	metrics.KeyCacheMisses.Inc()

	// singleflight: N requests concurrentes en miss = 1 viaje al remoto.
	v, err, _ := s.sf.Do(cacheKeyActive, func() (any, error) {
		rec, err := s.fetchActive(ctx)
		if err != nil {
			return nil, err
		}
		s.put(cacheKeyActive, cachedEntry{rec: rec, fetchedAt: time.Now()})
		return rec, nil
	})
	if err != nil {
		// Camino de emisión: sin fallback a copia vieja. Emitir exige una
		// clave activa real.
		return nil, err
	}
	cp := v.(*KeyRecord).Clone()
	return &cp, nil
}

// fetchActive lee el kid activo y su record del remoto. Si el backend nunca
// fue inicializado, hace el bootstrap idempotente bajo el lock de rotación.
func (s *CachedStore) fetchActive(ctx context.Context) (*KeyRecord, error) {
	id, err := s.remote.GetActiveID(ctx)
	if errors.Is(err, ErrNoActiveKey) {
		return s.bootstrap(ctx)
	}
	if err != nil {
		return nil, err
	}
	rec, err := s.remote.GetKey(ctx, id)
	if errors.Is(err, ErrKeyNotFound) {
		// Puntero activo hacia un record retirado en la ventana de carrera
		// retiro/lectura: para el caller equivale a no tener clave activa.
		return nil, ErrNoActiveKey
	}
	return rec, err
}

// bootstrap publica la clave inicial. Seguro si lo corren varios procesos a
// la vez: el lock serializa y el re-check dentro del lock hace el resto.
func (s *CachedStore) bootstrap(ctx context.Context) (*KeyRecord, error) {
	release, err := s.remote.AcquireLock(ctx, rotationLockName, s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		return nil, err
	}
	defer func() { _ = release(ctx) }()

	// Re-check: otro proceso pudo habernos ganado el bootstrap.
	if id, err := s.remote.GetActiveID(ctx); err == nil {
		return s.remote.GetKey(ctx, id)
	} else if !errors.Is(err, ErrNoActiveKey) {
		return nil, err
	}

	rec, err := newKeyRecord(true)
	if err != nil {
		return nil, err
	}
	if err := s.remote.PutKey(ctx, rec); err != nil {
		return nil, err
	}
	if err := s.remote.SetActiveID(ctx, rec.ID); err != nil {
		return nil, err
	}
	logger.From(ctx).Info("keystore bootstrapped", logger.KID(rec.ID))
	return rec, nil
}

func (s *CachedStore) GetAllKeys(ctx context.Context) ([]KeyRecord, error) {
	ce, fresh := s.lookup(cacheKeyAll)
	if fresh {
		metrics.KeyCacheHits.Inc()
		return cloneList(ce.list), nil
	}
	metrics.KeyCacheMisses.Inc()

	v, err, _ := s.sf.Do(cacheKeyAll, func() (any, error) {
		list, err := s.fetchAll(ctx)
		if err != nil {
			return nil, err
		}
		s.put(cacheKeyAll, cachedEntry{list: list, fetchedAt: time.Now()})
		return list, nil
	})
	if err != nil {
		// Camino de verificación: si hay copia vieja dentro del TTL, se
		// sirve (last-known-good). El TTL acota cuánto puede valer.
		if ce != nil {
			logger.From(ctx).Warn("key list refresh failed, serving stale copy",
				logger.Err(err))
			return cloneList(ce.list), nil
		}
		return nil, err
	}
	return cloneList(v.([]KeyRecord)), nil
}

func (s *CachedStore) fetchAll(ctx context.Context) ([]KeyRecord, error) {
	ids, err := s.remote.ListKeyIDs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]KeyRecord, 0, len(ids))
	for _, id := range ids {
		rec, err := s.remote.GetKey(ctx, id)
		if errors.Is(err, ErrKeyNotFound) {
			continue // retirada entre el listado y el get
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec.PublicOnly())
	}
	return out, nil
}

// CreateAndActivateNewKey rota bajo el lock compartido "key-rotation".
// Dentro del lock se lee el estado del remoto directamente (nunca del cache
// local) para no actuar sobre datos viejos.
func (s *CachedStore) CreateAndActivateNewKey(ctx context.Context) (*KeyRecord, error) {
	start := time.Now()
	release, err := s.remote.AcquireLock(ctx, rotationLockName, s.cfg.LockTTL, s.cfg.LockWait)
	if err != nil {
		if errors.Is(err, ErrRotationInProgress) {
			metrics.KeyRotationConflicts.Inc()
		}
		return nil, err
	}
	// Release incondicional, también si la rotación falla a mitad de camino:
	// un lock colgado bloquearía toda rotación futura hasta su TTL.
	defer func() { _ = release(ctx) }()

	prevID := ""
	if id, err := s.remote.GetActiveID(ctx); err == nil {
		prevID = id
		old, err := s.remote.GetKey(ctx, id)
		if err == nil {
			old.Active = false
			if err := s.remote.PutKey(ctx, old); err != nil {
				return nil, err
			}
		} else if !errors.Is(err, ErrKeyNotFound) {
			return nil, err
		}
	} else if !errors.Is(err, ErrNoActiveKey) {
		return nil, err
	}

	newRec, err := newKeyRecord(true)
	if err != nil {
		return nil, err
	}
	if err := s.remote.PutKey(ctx, newRec); err != nil {
		return nil, err
	}
	if err := s.remote.SetActiveID(ctx, newRec.ID); err != nil {
		return nil, err
	}

	// Invalidar (no solo expirar) el cache local. Los caches de otras
	// instancias se auto-curan al vencer su TTL.
	s.invalidate()

	metrics.KeyRotations.Inc()
	metrics.RotationLatency.Observe(float64(time.Since(start).Milliseconds()))
	logger.From(ctx).Info("signing key rotated",
		logger.KID(newRec.ID), logger.PrevKID(prevID))

	cp := newRec.Clone()
	return &cp, nil
}

// RetireKey borra el record del remoto e invalida las entradas locales.
// No toma el lock de rotación: a nivel estructura de datos el retiro conmuta
// con la rotación, y la carrera retiro-vs-lectura se acepta como fallo de
// verificación acotado.
func (s *CachedStore) RetireKey(ctx context.Context, id string) error {
	if err := s.remote.DeleteKey(ctx, id); err != nil {
		return err
	}
	s.invalidate()
	metrics.KeyRetirements.Inc()
	logger.From(ctx).Info("signing key retired", logger.KID(id))
	return nil
}

func (s *CachedStore) invalidate() {
	if !s.cacheEnabled() {
		return
	}
	s.local.Delete(cacheKeyActive)
	s.local.Delete(cacheKeyAll)
}

func cloneList(in []KeyRecord) []KeyRecord {
	out := make([]KeyRecord, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
