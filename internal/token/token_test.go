package token_test

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/json"
	"errors"
	"testing"
	"time"

	jwtv5 "github.com/golang-jwt/jwt/v5"

	"github.com/dropDatabas3/linksign/internal/keys"
	"github.com/dropDatabas3/linksign/internal/token"
)

func newFixture(t *testing.T) (*keys.MemoryStore, *token.Issuer, *token.Verifier) {
	t.Helper()
	store, err := keys.NewMemoryStore()
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	return store, token.NewIssuer("linksign-test", store), token.NewVerifier(store)
}

func TestIssueAndVerify(t *testing.T) {
	_, iss, ver := newFixture(t)
	ctx := context.Background()

	signed, kid, exp, err := iss.Issue(ctx, "user-1", 0, map[string]any{"file": "f-42"})
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if kid == "" {
		t.Fatalf("Issue returned empty kid")
	}
	if d := time.Until(exp); d < 4*time.Minute || d > 6*time.Minute {
		t.Fatalf("default TTL out of range: %v", d)
	}

	claims, err := ver.Verify(ctx, signed)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims["sub"] != "user-1" || claims["file"] != "f-42" || claims["iss"] != "linksign-test" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

// Escenario completo del ciclo de vida: un token firmado antes de la
// rotación sigue validando después (clave inactiva pero presente), y deja de
// validar en cuanto su clave se retira — mientras los tokens de la clave
// nueva siguen andando.
func TestRotationAndRetirementLifecycle(t *testing.T) {
	store, iss, ver := newFixture(t)
	ctx := context.Background()

	t1, kid1, _, err := iss.Issue(ctx, "alice", time.Minute, nil)
	if err != nil {
		t.Fatalf("issue t1: %v", err)
	}

	if _, err := store.CreateAndActivateNewKey(ctx); err != nil {
		t.Fatalf("rotate: %v", err)
	}

	t2, kid2, _, err := iss.Issue(ctx, "bob", time.Minute, nil)
	if err != nil {
		t.Fatalf("issue t2: %v", err)
	}
	if kid2 == kid1 {
		t.Fatalf("t2 signed with pre-rotation kid %s", kid1)
	}

	// Rotación graceful: ambos tokens validan.
	if _, err := ver.Verify(ctx, t1); err != nil {
		t.Fatalf("t1 after rotation: %v", err)
	}
	if _, err := ver.Verify(ctx, t2); err != nil {
		t.Fatalf("t2 after rotation: %v", err)
	}

	// Retiro = revocación de todo lo firmado por esa clave.
	if err := store.RetireKey(ctx, kid1); err != nil {
		t.Fatalf("retire: %v", err)
	}
	if _, err := ver.Verify(ctx, t1); !errors.Is(err, token.ErrUnknownSigningKey) {
		t.Fatalf("t1 after retirement: want ErrUnknownSigningKey, got %v", err)
	}
	if _, err := ver.Verify(ctx, t2); err != nil {
		t.Fatalf("t2 after retirement: %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	_, iss, ver := newFixture(t)
	ctx := context.Background()

	now := time.Now().UTC()
	signed, _, err := iss.SignClaims(ctx, jwtv5.MapClaims{
		"sub": "alice",
		"iat": now.Add(-2 * time.Minute).Unix(),
		"exp": now.Add(-time.Minute).Unix(),
	})
	if err != nil {
		t.Fatalf("SignClaims: %v", err)
	}
	if _, err := ver.Verify(ctx, signed); !errors.Is(err, token.ErrTokenExpired) {
		t.Fatalf("want ErrTokenExpired, got %v", err)
	}
}

func TestVerifyRejectsMissingExpiration(t *testing.T) {
	_, iss, ver := newFixture(t)
	ctx := context.Background()

	signed, _, err := iss.SignClaims(ctx, jwtv5.MapClaims{"sub": "alice"})
	if err != nil {
		t.Fatalf("SignClaims: %v", err)
	}
	if _, err := ver.Verify(ctx, signed); err == nil {
		t.Fatalf("token without exp must not validate")
	}
}

// Un kid desconocido falla sin probar contra ninguna otra clave, incluida la
// activa. No hay fallback.
func TestVerifyUnknownKID(t *testing.T) {
	_, _, ver := newFixture(t)
	ctx := context.Background()

	_, priv, _ := ed25519.GenerateKey(rand.Reader)
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, jwtv5.MapClaims{
		"sub": "mallory",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	tk.Header["kid"] = "ghost-kid"
	signed, err := tk.SignedString(priv)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ver.Verify(ctx, signed); !errors.Is(err, token.ErrUnknownSigningKey) {
		t.Fatalf("want ErrUnknownSigningKey, got %v", err)
	}
}

func TestVerifyMissingKIDHeader(t *testing.T) {
	store, _, ver := newFixture(t)
	ctx := context.Background()

	// Firmado con la clave activa real, pero sin header kid: también se
	// rechaza. La resolución es estricta por kid.
	active, _ := store.GetActiveKey(ctx)
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, jwtv5.MapClaims{
		"sub": "alice",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	signed, err := tk.SignedString(ed25519.PrivateKey(active.Private))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ver.Verify(ctx, signed); !errors.Is(err, token.ErrUnknownSigningKey) {
		t.Fatalf("want ErrUnknownSigningKey, got %v", err)
	}
}

// kid válido pero firma de otra clave: la verificación corre una sola vez
// contra la clave que el kid nombra, y falla.
func TestVerifySpoofedKID(t *testing.T) {
	store, _, ver := newFixture(t)
	ctx := context.Background()

	active, _ := store.GetActiveKey(ctx)
	_, foreign, _ := ed25519.GenerateKey(rand.Reader)
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodEdDSA, jwtv5.MapClaims{
		"sub": "mallory",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	tk.Header["kid"] = active.ID
	signed, err := tk.SignedString(foreign)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ver.Verify(ctx, signed); !errors.Is(err, token.ErrInvalidSignature) {
		t.Fatalf("want ErrInvalidSignature, got %v", err)
	}
}

func TestVerifyMalformed(t *testing.T) {
	_, _, ver := newFixture(t)
	if _, err := ver.Verify(context.Background(), "not-a-jwt"); !errors.Is(err, token.ErrMalformed) {
		t.Fatalf("want ErrMalformed, got %v", err)
	}
}

func TestVerifyRejectsAlgNone(t *testing.T) {
	store, _, ver := newFixture(t)
	ctx := context.Background()

	active, _ := store.GetActiveKey(ctx)
	tk := jwtv5.NewWithClaims(jwtv5.SigningMethodNone, jwtv5.MapClaims{
		"sub": "mallory",
		"exp": time.Now().Add(time.Minute).Unix(),
	})
	tk.Header["kid"] = active.ID
	signed, err := tk.SignedString(jwtv5.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := ver.Verify(ctx, signed); err == nil {
		t.Fatalf("alg=none must not validate")
	}
}

func TestBuildJWKS(t *testing.T) {
	store, _, _ := newFixture(t)
	ctx := context.Background()
	if _, err := store.CreateAndActivateNewKey(ctx); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	recs, _ := store.GetAllKeys(ctx)

	var doc struct {
		Keys []map[string]string `json:"keys"`
	}
	if err := json.Unmarshal(token.BuildJWKS(recs), &doc); err != nil {
		t.Fatalf("unmarshal jwks: %v", err)
	}
	if len(doc.Keys) != len(recs) {
		t.Fatalf("expected %d jwks entries, got %d", len(recs), len(doc.Keys))
	}
	for _, k := range doc.Keys {
		if k["kty"] != "OKP" || k["crv"] != "Ed25519" || k["alg"] != "EdDSA" || k["use"] != "sig" {
			t.Fatalf("bad jwk: %+v", k)
		}
		if k["kid"] == "" || k["x"] == "" {
			t.Fatalf("jwk missing kid or x: %+v", k)
		}
	}
}
