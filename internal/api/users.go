package api

import (
	"math"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mattermost/mattermost-messaging/model"
)

// initUsers registers user inspection endpoints on the given router.
func initUsers(rootRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	rootRouter.Handle("/users", addContext(handleGetUsers)).Methods("GET")

	userRouter := rootRouter.PathPrefix("/users/{user}").Subrouter()
	userRouter.Handle("/messages", addContext(handleGetUserMessages)).Methods("GET")
	userRouter.Handle("/messages", addContext(handleDeleteUserMessages)).Methods("DELETE")
	userRouter.Handle("/messages/{message}", addContext(handleGetUserMessage)).Methods("GET")
	userRouter.Handle("/messages/{message}", addContext(handleDeleteUserMessage)).Methods("DELETE")
}

// handleGetUsers responds to GET /users, returning per-user subscription and
// backlog statistics.
func handleGetUsers(c *Context, w http.ResponseWriter, r *http.Request) {
	includeEmpty, err := parseBool(r.URL, "include_empty", false)
	if err != nil {
		c.Logger.WithError(err).Error("failed to parse include_empty")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	userStats, err := c.Store.GetUserStats(includeEmpty)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query user stats")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, userStats)
}

// handleGetUserMessages responds to GET /users/{user}/messages, returning the
// user's undelivered events.
func handleGetUserMessages(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["user"]

	filter, ok := parseEventFilter(c, w, r)
	if !ok {
		return
	}
	filter.UserID = userID

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

// handleGetUserMessage responds to GET /users/{user}/messages/{message},
// returning the given undelivered event.
func handleGetUserMessage(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	event := getUserEvent(c, w, vars["user"], vars["message"])
	if event == nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, event)
}

// handleDeleteUserMessage responds to DELETE /users/{user}/messages/{message},
// removing the given undelivered event.
func handleDeleteUserMessage(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	event := getUserEvent(c, w, vars["user"], vars["message"])
	if event == nil {
		return
	}

	existed, err := c.Store.DeleteEvent(event.EventID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to delete event")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	var deleted int64
	if existed {
		deleted = 1
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, model.DeleteEventsResponse{DeletedCount: deleted})
}

// handleDeleteUserMessages responds to DELETE /users/{user}/messages, removing
// the user's undelivered events at or before before_timestamp, or all of them
// when the parameter is absent.
func handleDeleteUserMessages(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["user"]

	beforeTimestamp, err := parseInt64(r.URL, "before_timestamp", math.MaxInt64)
	if err != nil {
		c.Logger.WithError(err).Error("failed to parse before_timestamp")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	deleted, err := c.Store.ClearEvents(userID, beforeTimestamp)
	if err != nil {
		c.Logger.WithError(err).Error("failed to clear events")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, model.DeleteEventsResponse{DeletedCount: deleted})
}

// getUserEvent fetches the given event, writing a 404 when it does not exist
// or belongs to another user.
func getUserEvent(c *Context, w http.ResponseWriter, userID, eventID string) *model.Event {
	event, err := c.Store.GetEvent(eventID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query event")
		w.WriteHeader(http.StatusInternalServerError)
		return nil
	}
	if event == nil || event.UserID != userID {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}

	return event
}

// parseEventFilter extracts the event_type and limit query parameters,
// writing a 400 on invalid input.
func parseEventFilter(c *Context, w http.ResponseWriter, r *http.Request) (*model.EventFilter, bool) {
	limit, err := parseInt(r.URL, "limit", 0)
	if err != nil {
		c.Logger.WithError(err).Error("failed to parse limit")
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}

	eventType := model.EventType(r.URL.Query().Get("event_type"))
	if eventType != "" && !eventType.IsValid() {
		c.Logger.WithField("event_type", eventType).Error("invalid event type")
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}

	return &model.EventFilter{
		EventType: eventType,
		Limit:     limit,
	}, true
}
