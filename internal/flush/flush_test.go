// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package flush

import (
	"fmt"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-messaging/internal/metrics"
	"github.com/mattermost/mattermost-messaging/internal/provider"
	"github.com/mattermost/mattermost-messaging/internal/store"
	"github.com/mattermost/mattermost-messaging/internal/testlib"
	"github.com/mattermost/mattermost-messaging/model"
)

type sendCall struct {
	subscription *model.Subscription
	subject      string
	body         string
	contentType  string
}

// fakeSender returns canned results in order, repeating the last one, and
// optionally runs a hook before responding.
type fakeSender struct {
	results []provider.Result
	calls   []sendCall
	hook    func()
}

func (f *fakeSender) Send(subscription *model.Subscription, subject, body, contentType, sender string) provider.Result {
	if f.hook != nil {
		f.hook()
	}

	f.calls = append(f.calls, sendCall{subscription, subject, body, contentType})

	if len(f.results) == 0 {
		return provider.Result{Status: provider.StatusDelivered}
	}

	result := f.results[0]
	if len(f.results) > 1 {
		f.results = f.results[1:]
	}

	return result
}

func transientResult() provider.Result {
	return provider.Result{Status: provider.StatusTransientFailure, Error: fmt.Errorf("boom")}
}

type engineFixture struct {
	sqlStore *store.SQLStore
	email    *fakeSender
	slack    *fakeSender
	engine   *Engine
}

func makeEngineFixture(t *testing.T) *engineFixture {
	logger := testlib.MakeLogger(t)
	sqlStore := store.MakeTestSQLStore(t, logger)
	t.Cleanup(func() {
		store.CloseConnection(t, sqlStore)
	})

	email := &fakeSender{}
	slack := &fakeSender{}
	engine := NewEngine(sqlStore, map[model.DeliveryMethod]provider.Sender{
		model.DeliveryMethodEmail: email,
		model.DeliveryMethodSlack: slack,
	}, logger, metrics.NewWithRegisterer(prometheus.NewRegistry()))

	return &engineFixture{sqlStore, email, slack, engine}
}

func (f *engineFixture) storeEvent(t *testing.T, eventID, userID string, timestamp int64) {
	require.NoError(t, f.sqlStore.StoreEvent(&model.Event{
		EventID:   eventID,
		UserID:    userID,
		EventType: model.EventTypeInfo,
		Message:   "message for " + eventID,
		Sender:    "sender@example.com",
		Subject:   "subject for " + eventID,
		Timestamp: timestamp,
		Metadata:  model.EventMetadata{},
	}))
}

func (f *engineFixture) createSubscription(t *testing.T, userID string, method model.DeliveryMethod, strategy model.DeliveryErrorStrategy) *model.Subscription {
	subscription := &model.Subscription{
		UserID:                userID,
		DeliveryMethod:        method,
		AggregationFrequency:  model.FrequencyDaily,
		AggregationMethod:     model.AggregationPlain,
		DeliveryErrorStrategy: strategy,
		DeliveryTime:          "09:00",
		Timezone:              "UTC",
		Enabled:               true,
	}
	switch method {
	case model.DeliveryMethodEmail:
		subscription.EmailAddress = userID + "@example.com"
	case model.DeliveryMethodSlack:
		subscription.SlackWebhookURL = "https://hooks.example.com/" + userID
	}

	require.NoError(t, f.sqlStore.CreateSubscription(subscription))

	return subscription
}

func (f *engineFixture) undeliveredCount(t *testing.T, userID string) int {
	events, err := f.sqlStore.GetUndeliveredEvents(&model.EventFilter{UserID: userID})
	require.NoError(t, err)
	return len(events)
}

func TestFlush(t *testing.T) {
	t.Run("delivers and clears the backlog", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.storeEvent(t, "evt2-user1", "user1", 2000)
		f.createSubscription(t, "user1", model.DeliveryMethodEmail, model.ErrorStrategyRetry)

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)

		assert.EqualValues(t, 1, report.UsersProcessed)
		assert.EqualValues(t, 1, report.MessagesDelivered)
		assert.EqualValues(t, 0, report.MessagesFailed)
		assert.EqualValues(t, 2, report.EventsCleared)
		assert.Empty(t, report.Errors)

		require.Len(t, f.email.calls, 1)
		assert.Contains(t, f.email.calls[0].body, "Total events: 2")
		assert.Equal(t, "Event Summary for User user1", f.email.calls[0].subject)
		assert.Equal(t, 0, f.undeliveredCount(t, "user1"))
	})

	t.Run("uses the subscription's aggregated subject", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		subscription := f.createSubscription(t, "user1", model.DeliveryMethodEmail, model.ErrorStrategyRetry)
		subscription.AggregatedMessageSubject = "Your daily digest"
		require.NoError(t, f.sqlStore.UpdateSubscription(subscription))

		_, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)

		require.Len(t, f.email.calls, 1)
		assert.Equal(t, "Your daily digest", f.email.calls[0].subject)
	})

	t.Run("dry run plans without delivering or clearing", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.storeEvent(t, "evt2-user1", "user1", 2000)
		f.createSubscription(t, "user1", model.DeliveryMethodEmail, model.ErrorStrategyRetry)

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1", DryRun: true})
		require.NoError(t, err)

		assert.True(t, report.DryRun)
		assert.EqualValues(t, 1, report.MessagesDelivered)
		assert.EqualValues(t, 2, report.EventsCleared)
		assert.Empty(t, f.email.calls)
		assert.Equal(t, 2, f.undeliveredCount(t, "user1"))
	})

	t.Run("all failed under retry leaves events in place", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.createSubscription(t, "user1", model.DeliveryMethodSlack, model.ErrorStrategyRetry)
		f.slack.results = []provider.Result{transientResult()}

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)

		assert.EqualValues(t, 1, report.MessagesFailed)
		assert.EqualValues(t, 0, report.EventsCleared)
		assert.NotEmpty(t, report.Errors)
		assert.Equal(t, 1, f.undeliveredCount(t, "user1"))

		// Once the webhook recovers, the next flush delivers and clears.
		f.slack.results = nil
		report, err = f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)
		assert.EqualValues(t, 1, report.MessagesDelivered)
		assert.EqualValues(t, 1, report.EventsCleared)
		assert.Equal(t, 0, f.undeliveredCount(t, "user1"))
	})

	t.Run("all failed under ignore clears", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.createSubscription(t, "user1", model.DeliveryMethodSlack, model.ErrorStrategyIgnore)
		f.slack.results = []provider.Result{transientResult()}

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)

		assert.EqualValues(t, 1, report.MessagesFailed)
		assert.EqualValues(t, 1, report.EventsCleared)
		assert.Equal(t, 0, f.undeliveredCount(t, "user1"))
	})

	t.Run("mixed strategies with all failed does not clear", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.createSubscription(t, "user1", model.DeliveryMethodSlack, model.ErrorStrategyRetry)
		f.createSubscription(t, "user1", model.DeliveryMethodEmail, model.ErrorStrategyIgnore)
		f.slack.results = []provider.Result{transientResult()}
		f.email.results = []provider.Result{transientResult()}

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)

		assert.EqualValues(t, 2, report.MessagesFailed)
		assert.EqualValues(t, 0, report.EventsCleared)
		assert.Equal(t, 1, f.undeliveredCount(t, "user1"))
	})

	t.Run("one success among failures clears", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.createSubscription(t, "user1", model.DeliveryMethodSlack, model.ErrorStrategyRetry)
		f.createSubscription(t, "user1", model.DeliveryMethodEmail, model.ErrorStrategyRetry)
		f.slack.results = []provider.Result{transientResult()}

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)

		assert.EqualValues(t, 1, report.MessagesDelivered)
		assert.EqualValues(t, 1, report.MessagesFailed)
		assert.EqualValues(t, 1, report.EventsCleared)
		assert.Equal(t, 0, f.undeliveredCount(t, "user1"))
	})

	t.Run("force delivery clears despite failures", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.storeEvent(t, "evt2-user1", "user1", 2000)
		f.createSubscription(t, "user1", model.DeliveryMethodSlack, model.ErrorStrategyRetry)
		f.slack.results = []provider.Result{transientResult()}

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1", ForceDelivery: true})
		require.NoError(t, err)

		assert.EqualValues(t, 1, report.MessagesFailed)
		assert.EqualValues(t, 2, report.EventsCleared)
		assert.Equal(t, 0, f.undeliveredCount(t, "user1"))
	})

	t.Run("events arriving mid-flush survive the clear", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.createSubscription(t, "user1", model.DeliveryMethodEmail, model.ErrorStrategyRetry)

		f.email.hook = func() {
			f.storeEvent(t, "evt2-user1", "user1", 5000)
		}

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)

		assert.EqualValues(t, 1, report.EventsCleared)
		events, err := f.sqlStore.GetUndeliveredEvents(&model.EventFilter{UserID: "user1"})
		require.NoError(t, err)
		require.Len(t, events, 1)
		assert.Equal(t, "evt2-user1", events[0].EventID)
	})

	t.Run("global flush walks every user independently", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		f.storeEvent(t, "evt2-user2", "user2", 2000)
		f.storeEvent(t, "evt3-user3", "user3", 3000)
		f.createSubscription(t, "user1", model.DeliveryMethodEmail, model.ErrorStrategyRetry)
		f.createSubscription(t, "user2", model.DeliveryMethodSlack, model.ErrorStrategyRetry)
		f.slack.results = []provider.Result{transientResult()}

		// user3 has events but no subscription; skipped entirely.
		report, err := f.engine.Flush(&model.FlushRequest{})
		require.NoError(t, err)

		assert.EqualValues(t, 2, report.UsersProcessed)
		assert.EqualValues(t, 1, report.MessagesDelivered)
		assert.EqualValues(t, 1, report.MessagesFailed)
		assert.EqualValues(t, 1, report.EventsCleared)
		assert.Equal(t, 0, f.undeliveredCount(t, "user1"))
		assert.Equal(t, 1, f.undeliveredCount(t, "user2"))
		assert.Equal(t, 1, f.undeliveredCount(t, "user3"))
	})

	t.Run("disabled subscriptions are invisible", func(t *testing.T) {
		f := makeEngineFixture(t)
		f.storeEvent(t, "evt1-user1", "user1", 1000)
		subscription := f.createSubscription(t, "user1", model.DeliveryMethodEmail, model.ErrorStrategyRetry)
		subscription.Enabled = false
		require.NoError(t, f.sqlStore.UpdateSubscription(subscription))

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)

		assert.EqualValues(t, 0, report.UsersProcessed)
		assert.Empty(t, f.email.calls)
		assert.Equal(t, 1, f.undeliveredCount(t, "user1"))
	})

	t.Run("correlation id names the target", func(t *testing.T) {
		f := makeEngineFixture(t)

		report, err := f.engine.Flush(&model.FlushRequest{UserID: "user1"})
		require.NoError(t, err)
		assert.Regexp(t, `^flush-user1-\d+$`, report.CorrelationID)

		report, err = f.engine.Flush(&model.FlushRequest{})
		require.NoError(t, err)
		assert.Regexp(t, `^flush-all-\d+$`, report.CorrelationID)
	})
}
