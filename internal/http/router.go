package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

func NewRouter(carts *CartHandler, requestTimeout time.Duration, log *logrus.Entry) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(TelegramUserMiddleware)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", carts.GetCart)
			r.Delete("/", carts.ClearCart)
			r.Put("/delivery", carts.UpdateDelivery)
			r.Post("/items", carts.AddItem)
			r.Post("/items/{product_id}/increase", carts.IncreaseQuantity)
			r.Post("/items/{product_id}/decrease", carts.DecreaseQuantity)
			r.Delete("/items/{product_id}", carts.RemoveItem)
		})
		r.Post("/checkout", carts.Checkout)
	})

	return r
}
