// Package fsvault implementa keys.SecretVault sobre el filesystem local,
// para deployments de un solo host del VaultStore. Cada secreto vive en su
// propio archivo, sellado con secretbox y escrito atómicamente.
package fsvault

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/dropDatabas3/linksign/internal/keys"
	"github.com/dropDatabas3/linksign/internal/security/secretbox"
	"github.com/dropDatabas3/linksign/internal/util/atomicwrite"
)

type Vault struct {
	dir string
}

var _ keys.SecretVault = (*Vault)(nil)

func New(dir string) (*Vault, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}
	return &Vault{dir: dir}, nil
}

// pathFor mapea el nombre del secreto a un archivo. Hex del nombre para no
// depender de qué caracteres trae el kid.
func (v *Vault) pathFor(name string) string {
	return filepath.Join(v.dir, hex.EncodeToString([]byte(name))+".sealed")
}

func (v *Vault) GetSecret(ctx context.Context, name string) ([]byte, error) {
	raw, err := os.ReadFile(v.pathFor(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, keys.ErrSecretNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read secret %s: %w", name, err)
	}
	pt, err := secretbox.Open(name, string(raw))
	if err != nil {
		return nil, fmt.Errorf("unseal secret %s: %w", name, err)
	}
	return pt, nil
}

func (v *Vault) PutSecret(ctx context.Context, name string, value []byte) error {
	sealed, err := secretbox.Seal(name, value)
	if err != nil {
		return fmt.Errorf("seal secret %s: %w", name, err)
	}
	if err := atomicwrite.AtomicWriteFile(v.pathFor(name), []byte(sealed), 0600); err != nil {
		return fmt.Errorf("write secret %s: %w", name, err)
	}
	return nil
}

func (v *Vault) DeleteSecret(ctx context.Context, name string) error {
	err := os.Remove(v.pathFor(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return err
}
