// Package secretbox sella material sensible (mitades privadas de claves de
// firma) antes de persistirlo fuera de la memoria del proceso: records en
// redis, archivos del vault local.
//
// Esquema: AES-256-GCM con una subclave derivada por HKDF-SHA256 de la clave
// maestra (SECRETBOX_MASTER_KEY) y el nombre del secreto. Así comprometer un
// sellado no expone material sellado bajo otros nombres, y un sellado movido
// de nombre no abre.
package secretbox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/crypto/hkdf"
)

const (
	secretBoxEnvVar   = "SECRETBOX_MASTER_KEY"
	nonceSizeGCM      = 12  // AES-GCM nonce recomendado (96 bits)
	requiredKeyLength = 32  // 32 bytes => AES-256
	sep               = "|" // nonce|ciphertext (ambos en base64)

	hkdfInfoPrefix = "linksign:secret:"
)

var (
	mu        sync.RWMutex
	masterKey []byte
)

// LoadMasterKey setea la clave maestra explícitamente (base64 de 32 bytes).
// Pisa lo que haya; útil para wiring desde config y para tests.
func LoadMasterKey(b64 string) error {
	k, err := base64.StdEncoding.DecodeString(strings.TrimSpace(b64))
	if err != nil {
		return fmt.Errorf("decode master key: %w", err)
	}
	if len(k) != requiredKeyLength {
		return fmt.Errorf("master key debe decodificar a %d bytes, obtuvo %d", requiredKeyLength, len(k))
	}
	mu.Lock()
	masterKey = append([]byte(nil), k...)
	mu.Unlock()
	return nil
}

// ensureLoaded carga la clave maestra desde el env si todavía no hay una.
func ensureLoaded() error {
	mu.RLock()
	loaded := len(masterKey) == requiredKeyLength
	mu.RUnlock()
	if loaded {
		return nil
	}
	kb64 := strings.TrimSpace(os.Getenv(secretBoxEnvVar))
	if kb64 == "" {
		return fmt.Errorf("%s no seteada; genere una clave con: openssl rand -base64 32", secretBoxEnvVar)
	}
	return LoadMasterKey(kb64)
}

// IsReady expone si la clave está cargada (útil para healthchecks).
func IsReady() bool {
	mu.RLock()
	defer mu.RUnlock()
	return len(masterKey) == requiredKeyLength
}

// deriveKey deriva la subclave AES para un nombre de secreto dado.
func deriveKey(name string) ([]byte, error) {
	mu.RLock()
	master := append([]byte(nil), masterKey...)
	mu.RUnlock()

	sub := make([]byte, requiredKeyLength)
	r := hkdf.New(sha256.New, master, nil, []byte(hkdfInfoPrefix+name))
	if _, err := io.ReadFull(r, sub); err != nil {
		return nil, fmt.Errorf("hkdf: %w", err)
	}
	return sub, nil
}

// Seal cifra plaintext bajo el nombre dado y devuelve
// base64(nonce)|base64(ciphertext).
func Seal(name string, plaintext []byte) (string, error) {
	if err := ensureLoaded(); err != nil {
		return "", err
	}
	key, err := deriveKey(name)
	if err != nil {
		return "", err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("cipher.NewGCM: %w", err)
	}

	nonce := make([]byte, nonceSizeGCM)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce random: %w", err)
	}

	ct := aesgcm.Seal(nil, nonce, plaintext, nil)
	return base64.StdEncoding.EncodeToString(nonce) + sep + base64.StdEncoding.EncodeToString(ct), nil
}

// Open descifra un sellado producido por Seal bajo el mismo nombre.
func Open(name, sealed string) ([]byte, error) {
	if err := ensureLoaded(); err != nil {
		return nil, err
	}

	parts := strings.Split(sealed, sep)
	if len(parts) != 2 {
		return nil, errors.New("formato inválido: esperado base64(nonce)|base64(ciphertext)")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(nonce) != nonceSizeGCM {
		return nil, fmt.Errorf("nonce inválido: esperado %d bytes, obtuvo %d", nonceSizeGCM, len(nonce))
	}

	key, err := deriveKey(name)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	aesgcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}

	pt, err := aesgcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("gcm auth/decrypt: %w", err)
	}
	return pt, nil
}

// UnsafeResetForTests limpia la clave cargada. Solo tests.
func UnsafeResetForTests() {
	mu.Lock()
	masterKey = nil
	mu.Unlock()
}
