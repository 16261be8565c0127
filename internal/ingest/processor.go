// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package ingest consumes event envelopes from a pub/sub subscription and
// routes them to immediate delivery or durable storage.
package ingest

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gocloud.dev/pubsub"

	"github.com/mattermost/mattermost-messaging/internal/aggregator"
	"github.com/mattermost/mattermost-messaging/internal/metrics"
	"github.com/mattermost/mattermost-messaging/internal/provider"
	"github.com/mattermost/mattermost-messaging/model"
)

const (
	// DefaultMaxConcurrency caps how many messages are processed in flight.
	// Additional messages are held at the pub/sub transport layer.
	DefaultMaxConcurrency = 100

	shutdownGracePeriod = 30 * time.Second
)

// eventStore abstracts the store operations the processor needs.
type eventStore interface {
	StoreEvent(event *model.Event) error
	GetSubscriptions(filter *model.SubscriptionFilter) ([]*model.Subscription, error)
}

// emailGateway sends a direct email without a subscription.
type emailGateway interface {
	SendTo(to, subject, body, contentType, sender string) provider.Result
}

// Processor routes inbound event envelopes.
type Processor struct {
	store          eventStore
	senders        map[model.DeliveryMethod]provider.Sender
	gateway        emailGateway
	logger         logrus.FieldLogger
	metrics        *metrics.MessagingMetrics
	maxConcurrency int
}

// NewProcessor creates a processor delivering through the given senders.
// The gateway handles envelopes addressed directly to an email address.
func NewProcessor(store eventStore, senders map[model.DeliveryMethod]provider.Sender, gateway emailGateway, logger logrus.FieldLogger, messagingMetrics *metrics.MessagingMetrics, maxConcurrency int) *Processor {
	if maxConcurrency <= 0 {
		maxConcurrency = DefaultMaxConcurrency
	}

	return &Processor{
		store:          store,
		senders:        senders,
		gateway:        gateway,
		logger:         logger,
		metrics:        messagingMetrics,
		maxConcurrency: maxConcurrency,
	}
}

// Run consumes the given subscription until ctx is cancelled, restarting the
// receive loop with exponential backoff if it fails.
func (p *Processor) Run(ctx context.Context, subscriptionURL string) error {
	backoffPolicy := backoff.WithContext(backoff.NewExponentialBackOff(), ctx)

	err := backoff.Retry(func() error {
		err := p.serve(ctx, subscriptionURL)
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if err != nil {
			p.logger.WithError(err).Error("Receive loop failed, restarting")
		}

		return err
	}, backoffPolicy)

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// serve runs one receive loop over the subscription. It returns when ctx is
// cancelled or when Receive reports that it will no longer succeed, after
// waiting for in-flight messages up to the grace period.
func (p *Processor) serve(ctx context.Context, subscriptionURL string) error {
	subscription, err := pubsub.OpenSubscription(ctx, subscriptionURL)
	if err != nil {
		return errors.Wrap(err, "failed to open subscription")
	}

	p.logger.WithField("subscription", subscriptionURL).Info("Consuming pub/sub subscription")

	semaphore := make(chan struct{}, p.maxConcurrency)
	var wg sync.WaitGroup

	var receiveErr error
	for {
		select {
		case semaphore <- struct{}{}:
		case <-ctx.Done():
			receiveErr = ctx.Err()
		}
		if receiveErr != nil {
			break
		}

		msg, err := subscription.Receive(ctx)
		if err != nil {
			<-semaphore
			receiveErr = err
			break
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-semaphore }()

			if err := p.ProcessMessage(msg.Body); err != nil {
				p.logger.WithError(err).Error("Failed to process message")
				p.metrics.IngestFailuresCount.Inc()
				if msg.Nackable() {
					msg.Nack()
				}
				return
			}

			msg.Ack()
		}()
	}

	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := subscription.Shutdown(shutdownCtx); err != nil {
		p.logger.WithError(err).Warn("Failed to shut down subscription cleanly")
	}

	return receiveErr
}

// ProcessMessage handles one inbound message body. A nil return acks the
// message; an error nacks it for redelivery. Malformed payloads are dropped
// with a log rather than redelivered forever.
func (p *Processor) ProcessMessage(body []byte) error {
	envelope, err := model.EventEnvelopeFromBytes(body)
	if err != nil {
		p.logger.WithError(err).Warn("Dropping malformed message")
		p.metrics.IngestedMessagesCount.WithLabelValues("invalid").Inc()
		return nil
	}

	if err = envelope.Validate(); err != nil {
		p.logger.WithError(err).WithField("event", envelope.EventID).Warn("Dropping invalid message")
		p.metrics.IngestedMessagesCount.WithLabelValues("invalid").Inc()
		return nil
	}

	if envelope.IsGateway() {
		return p.processGateway(envelope)
	}

	for _, userID := range envelope.Targets() {
		if err = p.processUser(envelope, userID); err != nil {
			return errors.Wrapf(err, "failed to process event %s for user %s", envelope.EventID, userID)
		}
	}

	p.metrics.IngestedMessagesCount.WithLabelValues("processed").Inc()

	return nil
}

// processGateway sends a direct email to the envelope's address, bypassing
// subscription lookup entirely.
func (p *Processor) processGateway(envelope *model.EventEnvelope) error {
	result := p.gateway.SendTo(envelope.EmailTo, envelope.Subject, envelope.Message, "text/plain; charset=utf-8", envelope.Sender)
	if result.Transient() {
		return errors.Wrapf(result.Error, "transient failure sending gateway email for event %s", envelope.EventID)
	}
	if !result.Delivered() {
		p.logger.WithError(result.Error).WithField("event", envelope.EventID).Error("Dropping gateway email after permanent failure")
		p.metrics.IngestedMessagesCount.WithLabelValues("dropped").Inc()
		return nil
	}

	p.metrics.IngestedMessagesCount.WithLabelValues("processed").Inc()

	return nil
}

func (p *Processor) processUser(envelope *model.EventEnvelope, userID string) error {
	event, err := envelope.ToEvent(userID)
	if err != nil {
		return errors.Wrap(err, "failed to build event")
	}

	subscriptions, err := p.store.GetSubscriptions(&model.SubscriptionFilter{UserID: userID, EnabledOnly: true})
	if err != nil {
		return errors.Wrap(err, "failed to load subscriptions")
	}

	// Without subscribers the event is parked in the store; a later flush
	// picks it up once a subscription exists.
	if len(subscriptions) == 0 {
		return p.persist(event)
	}

	for _, subscription := range subscriptions {
		if subscription.AggregationFrequency != model.FrequencyImmediate {
			if err = p.persist(event); err != nil {
				return err
			}
			continue
		}

		if err = p.deliverImmediate(event, subscription); err != nil {
			return err
		}
	}

	return nil
}

func (p *Processor) deliverImmediate(event *model.Event, subscription *model.Subscription) error {
	subject, body, contentType, err := aggregator.RenderSingle(event, subscription.AggregationMethod)
	if err != nil {
		return errors.Wrap(err, "failed to render event")
	}

	sender, ok := p.senders[subscription.DeliveryMethod]
	if !ok {
		return errors.Errorf("no sender for delivery method %s", subscription.DeliveryMethod)
	}

	result := sender.Send(subscription, subject, body, contentType, event.Sender)
	switch {
	case result.Delivered():
		return nil

	case result.Transient() && subscription.DeliveryErrorStrategy == model.ErrorStrategyRetry:
		p.logger.WithError(result.Error).WithFields(logrus.Fields{
			"event":        event.EventID,
			"subscription": subscription.SubscriptionID,
		}).Warn("Storing event after transient delivery failure")
		return p.persist(event)

	case result.Transient():
		p.logger.WithError(result.Error).WithFields(logrus.Fields{
			"event":        event.EventID,
			"subscription": subscription.SubscriptionID,
		}).Warn("Dropping event after transient delivery failure")
		return nil

	default:
		p.logger.WithError(result.Error).WithFields(logrus.Fields{
			"event":        event.EventID,
			"subscription": subscription.SubscriptionID,
		}).Error("Dropping event after permanent delivery failure")
		return nil
	}
}

func (p *Processor) persist(event *model.Event) error {
	if err := p.store.StoreEvent(event); err != nil {
		return errors.Wrap(err, "failed to store event")
	}

	p.metrics.EventsStoredCount.Inc()

	return nil
}
