package api

import (
	"github.com/sirupsen/logrus"

	"github.com/mattermost/mattermost-messaging/model"
)

// Store describes the interface required to serve API requests from the
// event and subscription store.
type Store interface {
	GetEvent(eventID string) (*model.Event, error)
	GetUndeliveredEvents(filter *model.EventFilter) ([]*model.Event, error)
	GetUndeliveredStats() (*model.UndeliveredStats, error)
	GetUserStats(includeEmpty bool) ([]*model.UserStats, error)
	ClearEvents(userID string, beforeTimestamp int64) (int64, error)
	DeleteEvent(eventID string) (bool, error)
	DeleteEvents(eventIDs []string) (int64, error)

	CreateSubscription(subscription *model.Subscription) error
	GetSubscription(subscriptionID string) (*model.Subscription, error)
	GetSubscriptions(filter *model.SubscriptionFilter) ([]*model.Subscription, error)
	UpdateSubscription(subscription *model.Subscription) error
	DeleteSubscription(subscriptionID string) error
}

// Flusher describes the interface required to trigger delivery of the
// accumulated backlog.
type Flusher interface {
	Flush(request *model.FlushRequest) (*model.FlushReport, error)
}

// Context provides the API with all necessary data and interfaces for responding to requests.
//
// It is cloned before each request, allowing per-request changes such as logger annotations.
type Context struct {
	Store   Store
	Flusher Flusher
	Logger  logrus.FieldLogger
}

// Clone creates a shallow copy of context, allowing clones to apply per-request changes.
func (c *Context) Clone() *Context {
	return &Context{
		Store:   c.Store,
		Flusher: c.Flusher,
		Logger:  c.Logger,
	}
}
