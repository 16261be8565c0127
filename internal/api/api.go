package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Register registers the API endpoints on the given router.
func Register(rootRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	rootRouter.Handle("/health", addContext(handleGetHealth)).Methods("GET")
	rootRouter.Handle("/metrics", promhttp.Handler()).Methods("GET")

	initUsers(rootRouter, context)
	initSubscriptions(rootRouter, context)
	initUndelivered(rootRouter, context)
	initFlush(rootRouter, context)
}

// handleGetHealth responds to GET /health as a liveness probe.
func handleGetHealth(c *Context, w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, map[string]string{"status": "ok"})
}
