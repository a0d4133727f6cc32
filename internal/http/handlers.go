package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/dropDatabas3/linksign/internal/keys"
	"github.com/dropDatabas3/linksign/internal/link"
	"github.com/dropDatabas3/linksign/internal/observability/logger"
	"github.com/dropDatabas3/linksign/internal/token"
)

type handlers struct {
	links *link.Service
	keys  keys.Store
}

// ───────── links ─────────

type createLinkRequest struct {
	Principal string `json:"principal"`
	FileID    string `json:"file_id"`
	TTL       string `json:"ttl,omitempty"` // "5m"; opcional
}

func (h *handlers) createLink(w http.ResponseWriter, r *http.Request) {
	var req createLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, "invalid_json")
		return
	}
	var ttl time.Duration
	if req.TTL != "" {
		d, err := time.ParseDuration(req.TTL)
		if err != nil {
			writeErr(w, http.StatusBadRequest, "invalid_ttl")
			return
		}
		ttl = d
	}

	lnk, err := h.links.CreateLink(r.Context(), req.Principal, req.FileID, ttl)
	if err != nil {
		if errors.Is(err, link.ErrBadRequest) {
			writeErr(w, http.StatusBadRequest, "invalid_request")
			return
		}
		logger.From(r.Context()).Error("create link failed", logger.Err(err))
		writeErr(w, http.StatusInternalServerError, "internal_error")
		return
	}
	writeJSON(w, http.StatusCreated, lnk)
}

func (h *handlers) download(w http.ResponseWriter, r *http.Request) {
	raw, err := url.PathUnescape(chi.URLParam(r, "token"))
	if err != nil || raw == "" {
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	grant, err := h.links.Validate(r.Context(), raw)
	if err != nil {
		// Expirado, firma inválida y kid desconocido salen idénticos.
		writeErr(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	// La entrega del archivo en sí es de otro servicio; acá se responde el
	// grant validado para que el data plane sirva el contenido.
	writeJSON(w, http.StatusOK, grant)
}

// ───────── admin: claves ─────────

type keyView struct {
	KID       string    `json:"kid"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

func (h *handlers) listKeys(w http.ResponseWriter, r *http.Request) {
	recs, err := h.keys.GetAllKeys(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("list keys failed", logger.Err(err))
		writeErr(w, http.StatusInternalServerError, "internal_error")
		return
	}
	out := make([]keyView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, keyView{KID: rec.ID, Active: rec.Active, CreatedAt: rec.CreatedAt})
	}
	writeJSON(w, http.StatusOK, map[string]any{"keys": out})
}

func (h *handlers) rotateKey(w http.ResponseWriter, r *http.Request) {
	rec, err := h.keys.CreateAndActivateNewKey(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, keys.ErrRotationInProgress), errors.Is(err, keys.ErrRotationConflict):
			// Contención: el caller debe reintentar con backoff.
			writeErr(w, http.StatusConflict, "rotation_in_progress")
		default:
			logger.From(r.Context()).Error("rotation failed", logger.Err(err))
			writeErr(w, http.StatusInternalServerError, "internal_error")
		}
		return
	}
	writeJSON(w, http.StatusCreated, keyView{KID: rec.ID, Active: true, CreatedAt: rec.CreatedAt})
}

func (h *handlers) retireKey(w http.ResponseWriter, r *http.Request) {
	kid := chi.URLParam(r, "kid")
	if err := h.keys.RetireKey(r.Context(), kid); err != nil {
		logger.From(r.Context()).Error("retire failed", logger.Err(err), logger.KID(kid))
		writeErr(w, http.StatusInternalServerError, "internal_error")
		return
	}
	// Idempotente: retirar un kid inexistente también es 204.
	w.WriteHeader(http.StatusNoContent)
}

// ───────── público ─────────

func (h *handlers) jwks(w http.ResponseWriter, r *http.Request) {
	recs, err := h.keys.GetAllKeys(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("jwks failed", logger.Err(err))
		writeErr(w, http.StatusInternalServerError, "internal_error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=60")
	_, _ = w.Write(token.BuildJWKS(recs))
}

func (h *handlers) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// ───────── helpers ─────────

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}
