// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package ingest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocloud.dev/pubsub"
	_ "gocloud.dev/pubsub/mempubsub"

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

type fakeSender struct {
	result provider.Result
	calls  []sendCall
}

func (f *fakeSender) Send(subscription *model.Subscription, subject, body, contentType, sender string) provider.Result {
	f.calls = append(f.calls, sendCall{subscription, subject, body, contentType})
	if f.result.Status == "" {
		return provider.Result{Status: provider.StatusDelivered}
	}
	return f.result
}

type gatewayCall struct {
	to      string
	subject string
	body    string
	sender  string
}

type fakeGateway struct {
	result provider.Result
	calls  []gatewayCall
}

func (f *fakeGateway) SendTo(to, subject, body, contentType, sender string) provider.Result {
	f.calls = append(f.calls, gatewayCall{to, subject, body, sender})
	if f.result.Status == "" {
		return provider.Result{Status: provider.StatusDelivered}
	}
	return f.result
}

type processorFixture struct {
	sqlStore  *store.SQLStore
	email     *fakeSender
	slack     *fakeSender
	gateway   *fakeGateway
	processor *Processor
}

func makeProcessorFixture(t *testing.T) *processorFixture {
	logger := testlib.MakeLogger(t)
	sqlStore := store.MakeTestSQLStore(t, logger)
	t.Cleanup(func() {
		store.CloseConnection(t, sqlStore)
	})

	email := &fakeSender{}
	slack := &fakeSender{}
	gateway := &fakeGateway{}
	processor := NewProcessor(sqlStore, map[model.DeliveryMethod]provider.Sender{
		model.DeliveryMethodEmail: email,
		model.DeliveryMethodSlack: slack,
	}, gateway, logger, metrics.NewWithRegisterer(prometheus.NewRegistry()), 0)

	return &processorFixture{sqlStore, email, slack, gateway, processor}
}

func (f *processorFixture) createSubscription(t *testing.T, userID string, frequency model.AggregationFrequency, strategy model.DeliveryErrorStrategy) *model.Subscription {
	subscription := &model.Subscription{
		UserID:                userID,
		DeliveryMethod:        model.DeliveryMethodEmail,
		AggregationFrequency:  frequency,
		AggregationMethod:     model.AggregationPlain,
		DeliveryErrorStrategy: strategy,
		DeliveryTime:          "09:00",
		Timezone:              "UTC",
		EmailAddress:          userID + "@example.com",
		Enabled:               true,
	}
	require.NoError(t, f.sqlStore.CreateSubscription(subscription))

	return subscription
}

func (f *processorFixture) undelivered(t *testing.T, userID string) []*model.Event {
	events, err := f.sqlStore.GetUndeliveredEvents(&model.EventFilter{UserID: userID})
	require.NoError(t, err)
	return events
}

func envelopePayload(userField string) []byte {
	return []byte(fmt.Sprintf(`{
		"event_id": "evt1",
		%s,
		"event_type": "ALERT",
		"message": "disk full",
		"sender": "ops@example.com",
		"subject": "disk alert",
		"timestamp": "2024-05-01T10:00:00Z"
	}`, userField))
}

func TestProcessMessage(t *testing.T) {
	t.Run("malformed json is dropped, not redelivered", func(t *testing.T) {
		f := makeProcessorFixture(t)
		require.NoError(t, f.processor.ProcessMessage([]byte(`{not json`)))
	})

	t.Run("invalid envelope is dropped", func(t *testing.T) {
		f := makeProcessorFixture(t)
		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": ""`)))
		require.NoError(t, f.processor.ProcessMessage([]byte(`{
			"event_id": "evt1", "user_id": "user1", "event_type": "GOSSIP",
			"message": "m", "sender": "s", "subject": "x",
			"timestamp": "2024-05-01T10:00:00Z"
		}`)))
		assert.Empty(t, f.undelivered(t, "user1"))
	})

	t.Run("no subscriptions parks the event", func(t *testing.T) {
		f := makeProcessorFixture(t)
		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": "user1"`)))

		events := f.undelivered(t, "user1")
		require.Len(t, events, 1)
		assert.Equal(t, "evt1-user1", events[0].EventID)
		assert.Equal(t, model.EventTypeAlert, events[0].EventType)
	})

	t.Run("immediate subscription delivers without storing", func(t *testing.T) {
		f := makeProcessorFixture(t)
		f.createSubscription(t, "user1", model.FrequencyImmediate, model.ErrorStrategyRetry)

		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": "user1"`)))

		require.Len(t, f.email.calls, 1)
		assert.Equal(t, "disk alert", f.email.calls[0].subject)
		assert.Equal(t, "disk full", f.email.calls[0].body)
		assert.Empty(t, f.undelivered(t, "user1"))
	})

	t.Run("deferred subscription stores for later flush", func(t *testing.T) {
		f := makeProcessorFixture(t)
		f.createSubscription(t, "user1", model.FrequencyDaily, model.ErrorStrategyRetry)

		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": "user1"`)))

		assert.Empty(t, f.email.calls)
		assert.Len(t, f.undelivered(t, "user1"), 1)
	})

	t.Run("transient failure with retry strategy stores the event", func(t *testing.T) {
		f := makeProcessorFixture(t)
		f.createSubscription(t, "user1", model.FrequencyImmediate, model.ErrorStrategyRetry)
		f.email.result = provider.Result{Status: provider.StatusTransientFailure, Error: fmt.Errorf("boom")}

		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": "user1"`)))
		assert.Len(t, f.undelivered(t, "user1"), 1)
	})

	t.Run("transient failure with ignore strategy drops the event", func(t *testing.T) {
		f := makeProcessorFixture(t)
		f.createSubscription(t, "user1", model.FrequencyImmediate, model.ErrorStrategyIgnore)
		f.email.result = provider.Result{Status: provider.StatusTransientFailure, Error: fmt.Errorf("boom")}

		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": "user1"`)))
		assert.Empty(t, f.undelivered(t, "user1"))
	})

	t.Run("permanent failure drops the event", func(t *testing.T) {
		f := makeProcessorFixture(t)
		f.createSubscription(t, "user1", model.FrequencyImmediate, model.ErrorStrategyRetry)
		f.email.result = provider.Result{Status: provider.StatusPermanentFailure, Error: fmt.Errorf("rejected")}

		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": "user1"`)))
		assert.Empty(t, f.undelivered(t, "user1"))
	})

	t.Run("fan-out routes each user independently", func(t *testing.T) {
		f := makeProcessorFixture(t)
		f.createSubscription(t, "user1", model.FrequencyImmediate, model.ErrorStrategyRetry)
		f.createSubscription(t, "user2", model.FrequencyDaily, model.ErrorStrategyRetry)

		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_ids": ["user1", "user2"]`)))

		require.Len(t, f.email.calls, 1)
		assert.Equal(t, "user1", f.email.calls[0].subscription.UserID)
		assert.Empty(t, f.undelivered(t, "user1"))

		events := f.undelivered(t, "user2")
		require.Len(t, events, 1)
		assert.Equal(t, "evt1-user2", events[0].EventID)
	})

	t.Run("redelivered message does not duplicate the stored event", func(t *testing.T) {
		f := makeProcessorFixture(t)
		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": "user1"`)))
		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"user_id": "user1"`)))
		assert.Len(t, f.undelivered(t, "user1"), 1)
	})

	t.Run("gateway email bypasses subscriptions", func(t *testing.T) {
		f := makeProcessorFixture(t)
		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"email_to": "direct@example.com"`)))

		require.Len(t, f.gateway.calls, 1)
		assert.Equal(t, "direct@example.com", f.gateway.calls[0].to)
		assert.Equal(t, "disk alert", f.gateway.calls[0].subject)
		assert.Equal(t, "disk full", f.gateway.calls[0].body)
		assert.Equal(t, "ops@example.com", f.gateway.calls[0].sender)
	})

	t.Run("gateway transient failure nacks for redelivery", func(t *testing.T) {
		f := makeProcessorFixture(t)
		f.gateway.result = provider.Result{Status: provider.StatusTransientFailure, Error: fmt.Errorf("boom")}
		require.Error(t, f.processor.ProcessMessage(envelopePayload(`"email_to": "direct@example.com"`)))
	})

	t.Run("gateway permanent failure is dropped", func(t *testing.T) {
		f := makeProcessorFixture(t)
		f.gateway.result = provider.Result{Status: provider.StatusPermanentFailure, Error: fmt.Errorf("rejected")}
		require.NoError(t, f.processor.ProcessMessage(envelopePayload(`"email_to": "direct@example.com"`)))
	})
}

func TestRun(t *testing.T) {
	t.Run("consumes published messages until cancelled", func(t *testing.T) {
		f := makeProcessorFixture(t)

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		topicURL := "mem://" + model.NewID()
		topic, err := pubsub.OpenTopic(ctx, topicURL)
		require.NoError(t, err)
		defer topic.Shutdown(context.Background())

		done := make(chan error, 1)
		go func() {
			done <- f.processor.Run(ctx, topicURL)
		}()

		// The receive loop opens the subscription asynchronously, and the mem
		// driver drops messages published before a subscriber exists, so keep
		// publishing until one lands. Storage is idempotent by event id, so
		// duplicates cannot inflate the count.
		require.Eventually(t, func() bool {
			if err := topic.Send(ctx, &pubsub.Message{Body: envelopePayload(`"user_id": "user1"`)}); err != nil {
				return false
			}
			return len(f.undelivered(t, "user1")) == 1
		}, 5*time.Second, 10*time.Millisecond)

		cancel()

		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Fatal("processor did not stop after cancellation")
		}
	})

	t.Run("fails when the subscription cannot be opened", func(t *testing.T) {
		f := makeProcessorFixture(t)

		ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
		defer cancel()

		err := f.processor.Run(ctx, "bogus://nowhere")
		require.Error(t, err)
	})
}
