package main

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// routes serves the admin listener. The upgrade endpoint lives on its own
// listener owned by the push server.
func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", app.handleHealth)
	mux.Handle("GET /metrics", app.authenticate(promhttp.Handler().ServeHTTP))

	return mux
}
