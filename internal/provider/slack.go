// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package provider

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/mattermost/mattermost-messaging/internal/metrics"
	"github.com/mattermost/mattermost-messaging/model"
)

const slackRequestTimeout = 30 * time.Second

// slackPayload is the JSON body posted to the webhook.
type slackPayload struct {
	Subject string `json:"subject"`
	Message string `json:"message"`
	Sender  string `json:"sender"`
}

// SlackSender delivers rendered messages by posting to a Slack-compatible
// incoming webhook.
type SlackSender struct {
	httpClient *http.Client
	logger     logrus.FieldLogger
	metrics    *metrics.MessagingMetrics
}

// NewSlackSender creates a Sender posting to webhook URLs, sharing one HTTP
// client across sends.
func NewSlackSender(logger logrus.FieldLogger, messagingMetrics *metrics.MessagingMetrics) *SlackSender {
	return &SlackSender{
		httpClient: &http.Client{Timeout: slackRequestTimeout},
		logger:     logger.WithField("provider", "slack"),
		metrics:    messagingMetrics,
	}
}

// Send posts the rendered message to the subscription's webhook URL.
func (s *SlackSender) Send(subscription *model.Subscription, subject, body, contentType, sender string) Result {
	start := time.Now()
	result := s.post(subscription.SlackWebhookURL, subject, body, sender)
	elapsed := time.Since(start).Seconds()

	s.metrics.DeliveryDurationHist.WithLabelValues("slack").Observe(elapsed)
	s.metrics.DeliveriesCount.WithLabelValues("slack", string(result.Status)).Inc()

	if result.Delivered() {
		s.logger.WithField("user", subscription.UserID).Debug("Delivered webhook message")
	} else {
		s.logger.WithError(result.Error).WithFields(logrus.Fields{
			"user":   subscription.UserID,
			"status": result.Status,
		}).Warn("Failed to deliver webhook message")
	}

	return result
}

func (s *SlackSender) post(webhookURL, subject, body, sender string) Result {
	payload, err := json.Marshal(slackPayload{
		Subject: subject,
		Message: body,
		Sender:  sender,
	})
	if err != nil {
		return permanentFailure(errors.Wrap(err, "failed to marshal webhook payload"))
	}

	resp, err := s.httpClient.Post(webhookURL, "application/json", bytes.NewReader(payload))
	if err != nil {
		return transientFailure(errors.Wrap(err, "failed to post to webhook"))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	return classifyWebhookStatus(resp.StatusCode)
}

// classifyWebhookStatus maps HTTP status codes onto the result taxonomy: 2xx
// delivered, 408 and 429 transient, other 4xx permanent, everything else
// transient.
func classifyWebhookStatus(statusCode int) Result {
	switch {
	case statusCode >= 200 && statusCode < 300:
		return delivered()

	case statusCode == http.StatusRequestTimeout, statusCode == http.StatusTooManyRequests:
		return transientFailure(errors.Errorf("webhook responded with status code %d", statusCode))

	case statusCode >= 400 && statusCode < 500:
		return permanentFailure(errors.Errorf("webhook responded with status code %d", statusCode))

	default:
		return transientFailure(errors.Errorf("webhook responded with status code %d", statusCode))
	}
}
