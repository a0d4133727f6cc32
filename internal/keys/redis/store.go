// Package redis implementa keys.RemoteStore sobre un redis compartido.
//
// Layout de claves (bajo un prefijo configurable):
//
//	{prefix}key:{kid}   → JSON del record (privada sellada con secretbox)
//	{prefix}keys        → set de kids conocidos
//	{prefix}active      → kid activo
//	{prefix}lock:{name} → lock nombrado (SET NX PX + token de dueño)
package redis

import (
	"context"
	"crypto/ed25519"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	rdb "github.com/redis/go-redis/v9"

	"github.com/dropDatabas3/linksign/internal/keys"
	"github.com/dropDatabas3/linksign/internal/security/secretbox"
)

// releaseLockScript borra el lock solo si seguimos siendo el dueño.
// Evita que un holder lento libere el lock de otro proceso.
var releaseLockScript = rdb.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// keyDoc es la representación persistida de un KeyRecord.
// La mitad privada va sellada; nunca toca redis en claro.
type keyDoc struct {
	KID        string    `json:"kid"`
	Public     string    `json:"public"`                // base64
	PrivateEnc string    `json:"private_enc,omitempty"` // secretbox.Seal
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

type Store struct {
	c      *rdb.Client
	prefix string
}

var _ keys.RemoteStore = (*Store)(nil)

func New(addr string, db int, prefix string) *Store {
	if prefix == "" {
		prefix = "linksign:"
	}
	return &Store{
		c:      rdb.NewClient(&rdb.Options{Addr: addr, DB: db}),
		prefix: prefix,
	}
}

// NewWithClient permite inyectar un cliente ya configurado (tests, TLS, etc).
func NewWithClient(c *rdb.Client, prefix string) *Store {
	if prefix == "" {
		prefix = "linksign:"
	}
	return &Store{c: c, prefix: prefix}
}

func (s *Store) recKey(id string) string { return s.prefix + "key:" + id }
func (s *Store) setKey() string          { return s.prefix + "keys" }
func (s *Store) activeKey() string       { return s.prefix + "active" }
func (s *Store) lockKey(n string) string { return s.prefix + "lock:" + n }

func (s *Store) Ping(ctx context.Context) error { return s.c.Ping(ctx).Err() }

func (s *Store) Close() error { return s.c.Close() }

func (s *Store) GetKey(ctx context.Context, id string) (*keys.KeyRecord, error) {
	raw, err := s.c.Get(ctx, s.recKey(id)).Bytes()
	if errors.Is(err, rdb.Nil) {
		return nil, keys.ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get key %s: %w", id, err)
	}

	var doc keyDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal key %s: %w", id, err)
	}
	pub, err := base64.StdEncoding.DecodeString(doc.Public)
	if err != nil {
		return nil, fmt.Errorf("decode public key %s: %w", id, err)
	}
	rec := &keys.KeyRecord{
		ID:        doc.KID,
		Public:    pub,
		Active:    doc.Active,
		CreatedAt: doc.CreatedAt,
	}
	if doc.PrivateEnc != "" {
		priv, err := secretbox.Open(doc.KID, doc.PrivateEnc)
		if err != nil {
			return nil, fmt.Errorf("unseal private key %s: %w", id, err)
		}
		rec.Private = ed25519.PrivateKey(priv)
	}
	return rec, nil
}

func (s *Store) PutKey(ctx context.Context, rec *keys.KeyRecord) error {
	doc := keyDoc{
		KID:       rec.ID,
		Public:    base64.StdEncoding.EncodeToString(rec.Public),
		Active:    rec.Active,
		CreatedAt: rec.CreatedAt,
	}
	if rec.Private != nil {
		sealed, err := secretbox.Seal(rec.ID, rec.Private)
		if err != nil {
			return fmt.Errorf("seal private key %s: %w", rec.ID, err)
		}
		doc.PrivateEnc = sealed
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}

	pipe := s.c.TxPipeline()
	pipe.Set(ctx, s.recKey(rec.ID), raw, 0)
	pipe.SAdd(ctx, s.setKey(), rec.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put key %s: %w", rec.ID, err)
	}
	return nil
}

func (s *Store) DeleteKey(ctx context.Context, id string) error {
	pipe := s.c.TxPipeline()
	pipe.Del(ctx, s.recKey(id))
	pipe.SRem(ctx, s.setKey(), id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis delete key %s: %w", id, err)
	}
	return nil
}

func (s *Store) ListKeyIDs(ctx context.Context) ([]string, error) {
	ids, err := s.c.SMembers(ctx, s.setKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("redis list keys: %w", err)
	}
	return ids, nil
}

func (s *Store) GetActiveID(ctx context.Context) (string, error) {
	id, err := s.c.Get(ctx, s.activeKey()).Result()
	if errors.Is(err, rdb.Nil) {
		return "", keys.ErrNoActiveKey
	}
	if err != nil {
		return "", fmt.Errorf("redis get active: %w", err)
	}
	return id, nil
}

func (s *Store) SetActiveID(ctx context.Context, id string) error {
	if err := s.c.Set(ctx, s.activeKey(), id, 0).Err(); err != nil {
		return fmt.Errorf("redis set active: %w", err)
	}
	return nil
}

// AcquireLock implementa el lock nombrado con SET NX PX y token de dueño.
// Pollea cada 100ms hasta `wait`; no hay espera no acotada.
func (s *Store) AcquireLock(ctx context.Context, name string, ttl, wait time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()
	key := s.lockKey(name)
	deadline := time.Now().Add(wait)

	for {
		ok, err := s.c.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", name, err)
		}
		if ok {
			release := func(rctx context.Context) error {
				return releaseLockScript.Run(rctx, s.c, []string{key}, token).Err()
			}
			return release, nil
		}
		if time.Now().After(deadline) {
			return nil, keys.ErrRotationInProgress
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}
