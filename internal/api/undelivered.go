package api

import (
	"math"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mattermost/mattermost-messaging/model"
)

// initUndelivered registers backlog inspection endpoints on the given router.
func initUndelivered(rootRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	undeliveredRouter := rootRouter.PathPrefix("/undelivered").Subrouter()
	undeliveredRouter.Handle("", addContext(handleGetUndelivered)).Methods("GET")
	undeliveredRouter.Handle("", addContext(handleDeleteUndelivered)).Methods("DELETE")
	undeliveredRouter.Handle("/stats", addContext(handleGetUndeliveredStats)).Methods("GET")
}

// handleGetUndelivered responds to GET /undelivered, returning undelivered
// events across all users.
func handleGetUndelivered(c *Context, w http.ResponseWriter, r *http.Request) {
	filter, ok := parseEventFilter(c, w, r)
	if !ok {
		return
	}

	events, err := c.Store.GetUndeliveredEvents(filter)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query events")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, events)
}

// handleGetUndeliveredStats responds to GET /undelivered/stats, summarizing
// the undelivered backlog.
func handleGetUndeliveredStats(c *Context, w http.ResponseWriter, r *http.Request) {
	stats, err := c.Store.GetUndeliveredStats()
	if err != nil {
		c.Logger.WithError(err).Error("failed to query stats")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, stats)
}

// handleDeleteUndelivered responds to DELETE /undelivered, removing events by
// explicit ids or by user.
func handleDeleteUndelivered(c *Context, w http.ResponseWriter, r *http.Request) {
	request, err := model.NewDeleteEventsRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var deleted int64
	switch {
	case len(request.EventIDs) > 0:
		deleted, err = c.Store.DeleteEvents(request.EventIDs)

	case request.UserID != "":
		deleted, err = c.Store.ClearEvents(request.UserID, math.MaxInt64)

	default:
		c.Logger.Error("delete request names neither event ids nor a user")
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err != nil {
		c.Logger.WithError(err).Error("failed to delete events")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, model.DeleteEventsResponse{DeletedCount: deleted})
}
