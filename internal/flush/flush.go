// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package flush implements on-demand batch delivery of accumulated events.
package flush

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mattermost/mattermost-messaging/internal/aggregator"
	"github.com/mattermost/mattermost-messaging/internal/metrics"
	"github.com/mattermost/mattermost-messaging/internal/provider"
	"github.com/mattermost/mattermost-messaging/model"
)

// eventStore abstracts the store operations the engine needs.
type eventStore interface {
	GetUndeliveredEvents(filter *model.EventFilter) ([]*model.Event, error)
	GetUndeliveredUserIDs() ([]string, error)
	GetSubscriptions(filter *model.SubscriptionFilter) ([]*model.Subscription, error)
	ClearEvents(userID string, beforeTimestamp int64) (int64, error)
}

// Engine delivers the undelivered backlog for one or all users.
//
// The engine never retries inline. A failed delivery is retried by the next
// flush call, subject to each subscription's error strategy.
type Engine struct {
	store   eventStore
	senders map[model.DeliveryMethod]provider.Sender
	logger  logrus.FieldLogger
	metrics *metrics.MessagingMetrics
}

// NewEngine creates a flush engine delivering through the given senders.
func NewEngine(store eventStore, senders map[model.DeliveryMethod]provider.Sender, logger logrus.FieldLogger, messagingMetrics *metrics.MessagingMetrics) *Engine {
	return &Engine{
		store:   store,
		senders: senders,
		logger:  logger,
		metrics: messagingMetrics,
	}
}

// Flush delivers the undelivered backlog per the given request, returning a
// report of what happened. A failure for one user never aborts the flush for
// other users.
func (e *Engine) Flush(request *model.FlushRequest) (*model.FlushReport, error) {
	start := time.Now()

	target := request.UserID
	if target == "" {
		target = "all"
	}
	correlationID := fmt.Sprintf("flush-%s-%d", target, time.Now().Unix())
	logger := e.logger.WithField("correlation", correlationID)

	var userIDs []string
	if request.UserID != "" {
		userIDs = []string{request.UserID}
	} else {
		var err error
		userIDs, err = e.store.GetUndeliveredUserIDs()
		if err != nil {
			return nil, errors.Wrap(err, "failed to list users with undelivered events")
		}
	}

	report := &model.FlushReport{
		DryRun:        request.DryRun,
		CorrelationID: correlationID,
		Errors:        []string{},
	}

	for _, userID := range userIDs {
		err := e.flushUser(userID, request, report, logger.WithField("user", userID))
		if err != nil {
			logger.WithError(err).WithField("user", userID).Error("Failed to flush user")
			report.Errors = append(report.Errors, fmt.Sprintf("user %s: %s", userID, err))
		}
	}

	e.metrics.FlushDurationHist.Observe(time.Since(start).Seconds())
	logger.WithFields(logrus.Fields{
		"users":     report.UsersProcessed,
		"delivered": report.MessagesDelivered,
		"failed":    report.MessagesFailed,
		"cleared":   report.EventsCleared,
		"dry-run":   report.DryRun,
	}).Info("Flush complete")

	return report, nil
}

// subscriptionOutcome records one subscription's delivery attempt for the
// clear decision.
type subscriptionOutcome struct {
	delivered bool
	strategy  model.DeliveryErrorStrategy
}

func (e *Engine) flushUser(userID string, request *model.FlushRequest, report *model.FlushReport, logger logrus.FieldLogger) error {
	events, err := e.store.GetUndeliveredEvents(&model.EventFilter{UserID: userID})
	if err != nil {
		return errors.Wrap(err, "failed to snapshot events")
	}

	subscriptions, err := e.store.GetSubscriptions(&model.SubscriptionFilter{UserID: userID, EnabledOnly: true})
	if err != nil {
		return errors.Wrap(err, "failed to snapshot subscriptions")
	}

	if len(events) == 0 || len(subscriptions) == 0 {
		return nil
	}

	report.UsersProcessed++

	// Events are ordered ascending by timestamp, so the snapshot bound is
	// the last one. Events stored after this point carry a later timestamp
	// and survive the clear.
	snapshotTimestamp := events[len(events)-1].Timestamp

	outcomes := make([]subscriptionOutcome, 0, len(subscriptions))
	for _, subscription := range subscriptions {
		subject, body, contentType, err := aggregator.Render(userID, events, subscription.AggregationMethod)
		if err != nil {
			report.MessagesFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("user %s subscription %s: %s", userID, subscription.SubscriptionID, err))
			outcomes = append(outcomes, subscriptionOutcome{delivered: false, strategy: subscription.DeliveryErrorStrategy})
			continue
		}
		if subscription.AggregatedMessageSubject != "" {
			subject = subscription.AggregatedMessageSubject
		}

		if request.DryRun {
			report.MessagesDelivered++
			outcomes = append(outcomes, subscriptionOutcome{delivered: true, strategy: subscription.DeliveryErrorStrategy})
			continue
		}

		sender, ok := e.senders[subscription.DeliveryMethod]
		if !ok {
			report.MessagesFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("user %s subscription %s: no sender for method %s", userID, subscription.SubscriptionID, subscription.DeliveryMethod))
			outcomes = append(outcomes, subscriptionOutcome{delivered: false, strategy: subscription.DeliveryErrorStrategy})
			continue
		}

		result := sender.Send(subscription, subject, body, contentType, "")
		if result.Delivered() {
			report.MessagesDelivered++
			logger.WithField("subscription", subscription.SubscriptionID).Debug("Delivered aggregated message")
		} else {
			report.MessagesFailed++
			report.Errors = append(report.Errors, fmt.Sprintf("user %s subscription %s: %s", userID, subscription.SubscriptionID, result.Error))
		}
		outcomes = append(outcomes, subscriptionOutcome{delivered: result.Delivered(), strategy: subscription.DeliveryErrorStrategy})
	}

	if request.DryRun {
		report.EventsCleared += int64(len(events))
		return nil
	}

	if !shouldClear(outcomes, request.ForceDelivery) {
		return nil
	}

	cleared, err := e.store.ClearEvents(userID, snapshotTimestamp)
	if err != nil {
		return errors.Wrap(err, "failed to clear events")
	}

	report.EventsCleared += cleared
	e.metrics.EventsClearedCount.Add(float64(cleared))
	logger.WithField("cleared", cleared).Debug("Cleared delivered events")

	return nil
}

// shouldClear decides whether a user's snapshot is removed after delivery:
// any successful delivery clears, a forced flush clears, and an all-failed
// pass clears only when every subscription ignores delivery errors.
func shouldClear(outcomes []subscriptionOutcome, force bool) bool {
	if force {
		return true
	}

	allIgnore := true
	for _, outcome := range outcomes {
		if outcome.delivered {
			return true
		}
		if outcome.strategy != model.ErrorStrategyIgnore {
			allIgnore = false
		}
	}

	return allIgnore
}
