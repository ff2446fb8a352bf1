package httpapi

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// maxAddItemBody bounds the add-item request; the body is one product id
// and a quantity.
const maxAddItemBody = 4 << 10

// NewRouter exposes the cart endpoints. Every cart route is scoped to the
// {userId} path segment; authentication happens upstream.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	r.Get("/health", h.Health)

	r.Route("/api/carts/{userId}", func(r chi.Router) {
		r.Use(requireUserID)

		r.Get("/", h.GetCart)
		r.With(middleware.RequestSize(maxAddItemBody)).Post("/items", h.AddItem)
		r.Post("/finalize", h.Finalize)
	})

	return r
}

// requireUserID rejects a blank user segment before it can create or
// finalize a cart nobody owns.
func requireUserID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.TrimSpace(chi.URLParam(r, "userId")) == "" {
			writeError(w, http.StatusBadRequest, "userId is required", "")
			return
		}
		next.ServeHTTP(w, r)
	})
}
