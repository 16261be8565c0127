package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/mattermost/mattermost-messaging/model"
)

// initSubscriptions registers subscription CRUD endpoints on the given router.
func initSubscriptions(rootRouter *mux.Router, context *Context) {
	addContext := func(handler contextHandlerFunc) *contextHandler {
		return newContextHandler(context, handler)
	}

	subscriptionsRouter := rootRouter.PathPrefix("/users/{user}/subscriptions").Subrouter()
	subscriptionsRouter.Handle("", addContext(handleGetSubscriptions)).Methods("GET")
	subscriptionsRouter.Handle("", addContext(handleCreateSubscription)).Methods("POST")
	subscriptionsRouter.Handle("/{subscription}", addContext(handleGetSubscription)).Methods("GET")
	subscriptionsRouter.Handle("/{subscription}", addContext(handleUpdateSubscription)).Methods("PUT")
	subscriptionsRouter.Handle("/{subscription}", addContext(handleDeleteSubscription)).Methods("DELETE")
}

// handleGetSubscriptions responds to GET /users/{user}/subscriptions,
// returning all of the user's subscriptions, disabled ones included.
func handleGetSubscriptions(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	subscriptions, err := c.Store.GetSubscriptions(&model.SubscriptionFilter{UserID: vars["user"]})
	if err != nil {
		c.Logger.WithError(err).Error("failed to query subscriptions")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, subscriptions)
}

// handleCreateSubscription responds to POST /users/{user}/subscriptions,
// creating a subscription for the user.
func handleCreateSubscription(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["user"]

	request, err := model.NewUpsertSubscriptionRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	subscription, err := request.ToSubscription(userID)
	if err != nil {
		c.Logger.WithError(err).Error("invalid subscription")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err = c.Store.CreateSubscription(subscription); err != nil {
		c.Logger.WithError(err).Error("failed to create subscription")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	outputJSON(c, w, subscription)
}

// handleGetSubscription responds to GET
// /users/{user}/subscriptions/{subscription}, returning the subscription.
func handleGetSubscription(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	subscription := getUserSubscription(c, w, vars["user"], vars["subscription"])
	if subscription == nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, subscription)
}

// handleUpdateSubscription responds to PUT
// /users/{user}/subscriptions/{subscription}, replacing the subscription.
func handleUpdateSubscription(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["user"]

	existing := getUserSubscription(c, w, userID, vars["subscription"])
	if existing == nil {
		return
	}

	request, err := model.NewUpsertSubscriptionRequestFromReader(r.Body)
	if err != nil {
		c.Logger.WithError(err).Error("failed to decode request")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	subscription, err := request.ToSubscription(userID)
	if err != nil {
		c.Logger.WithError(err).Error("invalid subscription")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	subscription.SubscriptionID = existing.SubscriptionID
	subscription.CreateAt = existing.CreateAt

	if err = c.Store.UpdateSubscription(subscription); err != nil {
		c.Logger.WithError(err).Error("failed to update subscription")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	outputJSON(c, w, subscription)
}

// handleDeleteSubscription responds to DELETE
// /users/{user}/subscriptions/{subscription}. Deleting a missing subscription
// succeeds as a no-op.
func handleDeleteSubscription(c *Context, w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	userID := vars["user"]
	subscriptionID := vars["subscription"]

	subscription, err := c.Store.GetSubscription(subscriptionID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query subscription")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if subscription != nil && subscription.UserID != userID {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if err = c.Store.DeleteSubscription(subscriptionID); err != nil {
		c.Logger.WithError(err).Error("failed to delete subscription")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// getUserSubscription fetches the given subscription, writing a 404 when it
// does not exist or belongs to another user.
func getUserSubscription(c *Context, w http.ResponseWriter, userID, subscriptionID string) *model.Subscription {
	subscription, err := c.Store.GetSubscription(subscriptionID)
	if err != nil {
		c.Logger.WithError(err).Error("failed to query subscription")
		w.WriteHeader(http.StatusInternalServerError)
		return nil
	}
	if subscription == nil || subscription.UserID != userID {
		w.WriteHeader(http.StatusNotFound)
		return nil
	}

	return subscription
}
