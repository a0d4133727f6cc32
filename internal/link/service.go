// Package link construye y valida grants de descarga: tokens de corta vida
// que autorizan a un principal concreto a bajar un archivo concreto.
package link

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dropDatabas3/linksign/internal/observability/logger"
	"github.com/dropDatabas3/linksign/internal/token"
)

var (
	// ErrUnauthorized es el único fallo que sale de Validate: expirado,
	// firma inválida y kid desconocido no se distinguen hacia el caller.
	ErrUnauthorized = errors.New("link: unauthorized")

	ErrBadRequest = errors.New("link: invalid request")
)

// Grant es la autorización contenida en un link firmado.
type Grant struct {
	LinkID    string    `json:"link_id"`
	Principal string    `json:"principal"`
	FileID    string    `json:"file_id"`
	KID       string    `json:"kid"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Link es un grant emitido, con su URL de descarga.
type Link struct {
	Grant
	Token string `json:"token"`
	URL   string `json:"url"`
}

type Service struct {
	issuer   *token.Issuer
	verifier *token.Verifier
	baseURL  string

	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

func NewService(issuer *token.Issuer, verifier *token.Verifier, baseURL string) *Service {
	return &Service{
		issuer:     issuer,
		verifier:   verifier,
		baseURL:    strings.TrimRight(baseURL, "/"),
		DefaultTTL: 5 * time.Minute,
		MaxTTL:     15 * time.Minute,
	}
}

// CreateLink emite un grant firmado con la clave activa. ttl <= 0 usa el
// default; ttl mayor al máximo se recorta (no es error: el caller pidió
// "lo más largo posible").
func (s *Service) CreateLink(ctx context.Context, principal, fileID string, ttl time.Duration) (*Link, error) {
	if principal == "" || fileID == "" {
		return nil, fmt.Errorf("%w: principal and file_id are required", ErrBadRequest)
	}
	if ttl <= 0 {
		ttl = s.DefaultTTL
	}
	if ttl > s.MaxTTL {
		ttl = s.MaxTTL
	}

	linkID := uuid.NewString()
	signed, kid, exp, err := s.issuer.Issue(ctx, principal, ttl, map[string]any{
		"jti":  linkID,
		"file": fileID,
	})
	if err != nil {
		return nil, err
	}

	logger.From(ctx).Info("download link created",
		logger.LinkID(linkID), logger.Principal(principal), logger.FileID(fileID))

	return &Link{
		Grant: Grant{
			LinkID:    linkID,
			Principal: principal,
			FileID:    fileID,
			KID:       kid,
			ExpiresAt: exp,
		},
		Token: signed,
		URL:   s.baseURL + "/v1/download/" + url.PathEscape(signed),
	}, nil
}

// Validate verifica el token y devuelve el grant. Cualquier fallo de
// verificación sale como ErrUnauthorized, sin detalle.
func (s *Service) Validate(ctx context.Context, raw string) (*Grant, error) {
	claims, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		logger.From(ctx).Debug("grant rejected", logger.Err(err))
		return nil, ErrUnauthorized
	}

	g := &Grant{}
	if v, ok := claims["sub"].(string); ok {
		g.Principal = v
	}
	if v, ok := claims["file"].(string); ok {
		g.FileID = v
	}
	if v, ok := claims["jti"].(string); ok {
		g.LinkID = v
	}
	if g.Principal == "" || g.FileID == "" {
		return nil, ErrUnauthorized
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		g.ExpiresAt = exp.Time
	}
	return g, nil
}
