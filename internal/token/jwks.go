package token

import (
	"encoding/base64"
	"encoding/json"

	"github.com/dropDatabas3/linksign/internal/keys"
)

// ----- JWKS (serialización) -----

type jwk struct {
	Kty string `json:"kty"` // "OKP"
	Crv string `json:"crv"` // "Ed25519"
	Kid string `json:"kid"`
	Alg string `json:"alg"` // "EdDSA"
	Use string `json:"use"` // "sig"
	X   string `json:"x"`   // base64url(pub)
}

type jwks struct {
	Keys []jwk `json:"keys"`
}

// BuildJWKS serializa las mitades públicas como JWKS. Las claves retiradas
// no aparecen: ya no están en el listado del store.
func BuildJWKS(recs []keys.KeyRecord) []byte {
	out := jwks{Keys: make([]jwk, 0, len(recs))}
	for _, r := range recs {
		out.Keys = append(out.Keys, jwk{
			Kty: "OKP",
			Crv: "Ed25519",
			Kid: r.ID,
			Alg: "EdDSA",
			Use: "sig",
			X:   base64.RawURLEncoding.EncodeToString(r.Public),
		})
	}
	b, _ := json.Marshal(out)
	return b
}
