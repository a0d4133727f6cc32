// Package token firma y verifica los JWT EdDSA del servicio contra el
// keystore configurado. La resolución de clave en verificación es estricta
// por `kid`: nunca se prueba firma contra claves que el header no nombra.
package token

import (
	"errors"
	"time"
)

// Fallos de verificación. Hacia afuera se colapsan todos en un
// "unauthorized" uniforme para no filtrar cuál modo falló; los sentinels
// existen para logs y tests.
var (
	ErrTokenExpired      = errors.New("token: expired")
	ErrInvalidSignature  = errors.New("token: invalid signature")
	ErrUnknownSigningKey = errors.New("token: unknown signing key")
	ErrMalformed         = errors.New("token: malformed")
)

// DefaultTTL es el TTL por defecto de los tokens emitidos.
const DefaultTTL = 5 * time.Minute
