package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mattermost/mattermost-messaging/model"
)

// initFlush registers the flush endpoint on the given router.
func initFlush(rootRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	rootRouter.Handle("/flush", addContext(handleFlush)).Methods("POST")
}

// handleFlush responds to POST /flush, triggering delivery of the
// accumulated backlog.
func handleFlush(c *Context, w http.ResponseWriter, r *http.Request) {
	request, err := model.NewFlushRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	report, err := c.Flusher.Flush(request)
	if err != nil {
		c.Logger.WithError(err).Error("failed to flush")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, report)
}
