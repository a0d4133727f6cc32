package token

import (
	"context"
	"crypto/ed25519"
	"errors"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/linksign/internal/keys"
	"github.com/dropDatabas3/linksign/internal/metrics"
)

// Verifier resuelve la clave de verificación estrictamente por el kid del
// header del token. Por cada verificación arma un snapshot kid → pubkey a
// partir de GetAllKeys(); un kid ausente (nunca existió o fue retirado)
// falla determinísticamente, sin probar contra otras claves. Eso mantiene
// la verificación O(1) sobre N claves históricas y convierte al retiro en
// revocación instantánea (acotada por el TTL de cache del store).
type Verifier struct {
	Store keys.Store
}

func NewVerifier(store keys.Store) *Verifier { return &Verifier{Store: store} }

// snapshot construye la tabla kid → pubkey del momento.
func (v *Verifier) snapshot(ctx context.Context) (map[string]ed25519.PublicKey, error) {
	recs, err := v.Store.GetAllKeys(ctx)
	if err != nil {
		return nil, err
	}
	byKID := make(map[string]ed25519.PublicKey, len(recs))
	for _, r := range recs {
		byKID[r.ID] = ed25519.PublicKey(r.Public)
	}
	return byKID, nil
}

// Keyfunc devuelve un jwt.Keyfunc sobre el snapshot actual.
func (v *Verifier) Keyfunc(ctx context.Context) (jwtv5.Keyfunc, error) {
	byKID, err := v.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return func(t *jwtv5.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			return nil, ErrUnknownSigningKey
		}
		pub, ok := byKID[kid]
		if !ok {
			return nil, ErrUnknownSigningKey
		}
		return pub, nil
	}, nil
}

// Verify parsea y valida el token. Todos los fallos se reportan con un
// sentinel tipado; la capa HTTP los colapsa en 401 sin distinguirlos.
func (v *Verifier) Verify(ctx context.Context, raw string) (jwtv5.MapClaims, error) {
	kf, err := v.Keyfunc(ctx)
	if err != nil {
		return nil, err
	}
	claims := jwtv5.MapClaims{}
	_, err = jwtv5.ParseWithClaims(raw, claims, kf,
		jwtv5.WithValidMethods([]string{"EdDSA"}),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil {
		metrics.TokenVerifications.WithLabelValues("unauthorized").Inc()
		return nil, mapParseError(err)
	}
	metrics.TokenVerifications.WithLabelValues("ok").Inc()
	return claims, nil
}

func mapParseError(err error) error {
	switch {
	case errors.Is(err, ErrUnknownSigningKey):
		return ErrUnknownSigningKey
	case errors.Is(err, jwtv5.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwtv5.ErrTokenSignatureInvalid):
		return ErrInvalidSignature
	case errors.Is(err, jwtv5.ErrTokenMalformed):
		return ErrMalformed
	default:
		return ErrInvalidSignature
	}
}
