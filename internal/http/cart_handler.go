package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/cart"
	"github.com/andreasstove999/ecommerce-system/services/registration-service-go/internal/catalog"
)

const idempotencyHeader = "Idempotency-Key"

type CartService interface {
	GetActiveCart(ctx context.Context, userID string) (cart.Snapshot, error)
	AddToCart(ctx context.Context, userID, productID string, quantity int) (cart.Item, error)
	Finalize(ctx context.Context, userID string) (cart.Snapshot, error)
}

// KeyGuard deduplicates client retries by Idempotency-Key.
type KeyGuard interface {
	Claim(ctx context.Context, userID, key string) (bool, error)
	Release(ctx context.Context, userID, key string) error
}

type Handler struct {
	svc    CartService
	guard  KeyGuard
	logger *log.Logger
}

// NewHandler wires the cart endpoints. guard may be nil, in which case
// Idempotency-Key headers are ignored.
func NewHandler(svc CartService, guard KeyGuard, logger *log.Logger) *Handler {
	return &Handler{svc: svc, guard: guard, logger: logger}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// GetCart returns the user's active cart. It is not read-only: a user with
// no active cart gets a new empty one, persisted with no reservation expiry.
func (h *Handler) GetCart(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	snap, err := h.svc.GetActiveCart(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

type addItemRequest struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
}

func (h *Handler) AddItem(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "")
		return
	}
	if req.ProductID == "" {
		writeError(w, http.StatusBadRequest, "productId is required", "")
		return
	}

	key := r.Header.Get(idempotencyHeader)
	if key != "" && h.guard != nil {
		ok, err := h.guard.Claim(r.Context(), userID, key)
		if err != nil {
			h.logger.Printf("claim idempotency key user=%s: %v", userID, err)
			writeError(w, http.StatusServiceUnavailable, "idempotency store unavailable", "")
			return
		}
		if !ok {
			writeError(w, http.StatusConflict, "request with this Idempotency-Key was already processed", "duplicate_request")
			return
		}
	}

	if _, err := h.svc.AddToCart(r.Context(), userID, req.ProductID, req.Quantity); err != nil {
		if key != "" && h.guard != nil {
			if rerr := h.guard.Release(r.Context(), userID, key); rerr != nil {
				h.logger.Printf("release idempotency key user=%s: %v", userID, rerr)
			}
		}
		h.writeServiceError(w, err)
		return
	}

	snap, err := h.svc.GetActiveCart(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) Finalize(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	snap, err := h.svc.Finalize(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) writeServiceError(w http.ResponseWriter, err error) {
	var verr *cart.ValidationError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusUnprocessableEntity, verr.Reason, string(verr.Kind))
	case errors.Is(err, catalog.ErrNotFound), errors.Is(err, cart.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error(), "")
	case errors.Is(err, cart.ErrTransientConflict):
		writeError(w, http.StatusConflict, "concurrent update, retry the request", "transient_conflict")
	default:
		h.logger.Printf("internal error: %v", err)
		writeError(w, http.StatusInternalServerError, "internal error", "")
	}
}

type errorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg, kind string) {
	writeJSON(w, status, errorResponse{Error: msg, Kind: kind})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
