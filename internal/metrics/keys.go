package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Métricas del ciclo de vida de claves y de verificación de tokens.
// Van en un paquete propio para evitar ciclos de import entre el keystore
// y la capa HTTP.

var (
	KeyRotations = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linksign_key_rotations_total",
		Help: "Rotaciones de clave completadas",
	})

	KeyRotationConflicts = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linksign_key_rotation_conflicts_total",
		Help: "Rotaciones perdidas por contención (lock o escritura condicional)",
	})

	KeyRetirements = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linksign_key_retirements_total",
		Help: "Claves retiradas",
	})

	KeyCacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linksign_key_cache_hits_total",
		Help: "Hits del cache local de claves",
	})

	KeyCacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "linksign_key_cache_misses_total",
		Help: "Misses del cache local de claves",
	})

	TokenVerifications = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "linksign_token_verifications_total",
		Help: "Verificaciones de tokens por resultado",
	}, []string{"result"}) // "ok" | "unauthorized"

	RotationLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "linksign_key_rotation_latency_ms",
		Help:    "Latencia de rotación en milisegundos",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	})
)

// Register registra todas las métricas en el registry dado (default si es nil).
// Tolera AlreadyRegisteredError para poder llamarse desde más de un wiring.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	cs := []prometheus.Collector{
		KeyRotations, KeyRotationConflicts, KeyRetirements,
		KeyCacheHits, KeyCacheMisses, TokenVerifications, RotationLatency,
	}
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
