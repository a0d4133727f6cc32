package token

import (
	"context"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/linksign/internal/keys"
)

// Issuer firma tokens con la clave activa del keystore configurado.
// Cada emisión consulta la clave activa al momento (el cacheo, si lo hay,
// vive en el store).
type Issuer struct {
	Iss   string
	Store keys.Store
	TTL   time.Duration
}

func NewIssuer(iss string, store keys.Store) *Issuer {
	return &Issuer{Iss: iss, Store: store, TTL: DefaultTTL}
}

// ActiveKID devuelve el kid activo actual.
func (i *Issuer) ActiveKID(ctx context.Context) (string, error) {
	rec, err := i.Store.GetActiveKey(ctx)
	if err != nil {
		return "", err
	}
	return rec.ID, nil
}

// SignClaims firma un MapClaims arbitrario con la clave activa, setea
// header kid/typ y devuelve el JWT firmado más el kid usado.
func (i *Issuer) SignClaims(ctx context.Context, claims jwtv5.MapClaims) (string, string, error) {
	rec, err := i.Store.GetActiveKey(ctx)
	if err != nil {
		return "", "", err
	}
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, claims)
	tk.Header["kid"] = rec.ID
	tk.Header["typ"] = "JWT"
	signed, err := tk.SignedString(rec.Private)
	if err != nil {
		return "", "", err
	}
	return signed, rec.ID, nil
}

// Issue emite un token con claims estándar (iss/sub/iat/nbf/exp) más los
// extras que pase el caller. TTL <= 0 usa el default del Issuer.
// Devuelve el JWT, el kid que firmó y la expiración.
func (i *Issuer) Issue(ctx context.Context, sub string, ttl time.Duration, extra map[string]any) (string, string, time.Time, error) {
	if ttl <= 0 {
		ttl = i.TTL
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)

	claims := jwtv5.MapClaims{
		"iss": i.Iss,
		"sub": sub,
		"iat": now.Unix(),
		"nbf": now.Unix(),
		"exp": exp.Unix(),
	}
	for k, v := range extra {
		claims[k] = v
	}
	signed, kid, err := i.SignClaims(ctx, claims)
	if err != nil {
		return "", "", time.Time{}, err
	}
	return signed, kid, exp, nil
}
