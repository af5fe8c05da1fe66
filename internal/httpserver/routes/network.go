package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/MrSnakeDoc/beacon/internal/httpserver/deps"
	"github.com/MrSnakeDoc/beacon/internal/httpserver/handlers"
	"github.com/MrSnakeDoc/beacon/internal/httpserver/mw"
)

func init() { Register(registerNetworkRefresh) }

func registerNetworkRefresh(r chi.Router, d deps.Deps) {
	r.With(mw.AllowOnlyCIDRS(d.AllowedCIDRS, d.TrustProxy, d.Logger), mw.EnforceHost(d.AllowedHosts, d.Logger)).Post("/network/refresh", handlers.RefreshNetwork(d))
}
