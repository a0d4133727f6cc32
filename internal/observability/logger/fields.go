package logger

import (
	"time"

	"go.uber.org/zap"
)

// =================================================================================
// CAMPOS ESTÁNDAR - HTTP
// =================================================================================

// RequestID crea un campo para el ID del request.
func RequestID(v string) zap.Field {
	return zap.String("request_id", v)
}

// Method crea un campo para el método HTTP.
func Method(v string) zap.Field {
	return zap.String("method", v)
}

// Path crea un campo para el path del request.
func Path(v string) zap.Field {
	return zap.String("path", v)
}

// Status crea un campo para el status code HTTP.
func Status(v int) zap.Field {
	return zap.Int("status", v)
}

// Duration crea un campo para la duración del request.
func Duration(v time.Duration) zap.Field {
	return zap.Duration("duration", v)
}

// ClientIP crea un campo para la IP del cliente.
func ClientIP(v string) zap.Field {
	return zap.String("client_ip", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - DOMINIO (claves y links)
// =================================================================================

// KID crea un campo para el id de una clave de firma.
func KID(v string) zap.Field {
	return zap.String("kid", v)
}

// PrevKID crea un campo para el kid desactivado en una rotación.
// Omite el campo si la rotación no tenía clave anterior (bootstrap).
func PrevKID(v string) zap.Field {
	if v == "" {
		return zap.Skip()
	}
	return zap.String("prev_kid", v)
}

// Principal crea un campo para el principal autorizado por un link.
func Principal(v string) zap.Field {
	return zap.String("principal", v)
}

// FileID crea un campo para el archivo referenciado por un link.
func FileID(v string) zap.Field {
	return zap.String("file_id", v)
}

// LinkID crea un campo para el jti del grant.
func LinkID(v string) zap.Field {
	return zap.String("link_id", v)
}

// Driver crea un campo para el driver de keystore configurado.
func Driver(v string) zap.Field {
	return zap.String("driver", v)
}

// =================================================================================
// CAMPOS ESTÁNDAR - SISTEMA
// =================================================================================

// Component crea un campo para el componente/módulo.
func Component(v string) zap.Field {
	return zap.String("component", v)
}

// Op crea un campo para la operación actual.
func Op(v string) zap.Field {
	return zap.String("op", v)
}

// Err crea un campo para un error.
func Err(err error) zap.Field {
	return zap.Error(err)
}

// Count crea un campo para un conteo.
func Count(v int) zap.Field {
	return zap.Int("count", v)
}

// Any crea un campo genérico para cualquier tipo.
func Any(key string, v any) zap.Field {
	return zap.Any(key, v)
}

// String crea un campo string genérico.
func String(key, v string) zap.Field {
	return zap.String(key, v)
}
