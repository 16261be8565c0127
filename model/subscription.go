// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"
	"regexp"
	"time"

	"github.com/pkg/errors"
)

// DeliveryMethod selects the transport used to reach a subscriber.
type DeliveryMethod string

const (
	// DeliveryMethodEmail delivers over SMTP.
	DeliveryMethodEmail DeliveryMethod = "email"
	// DeliveryMethodSlack delivers over an incoming webhook.
	DeliveryMethodSlack DeliveryMethod = "slack"
)

// IsValid returns whether the delivery method is a known value.
func (m DeliveryMethod) IsValid() bool {
	return m == DeliveryMethodEmail || m == DeliveryMethodSlack
}

// AggregationFrequency determines when events for a subscription are
// delivered.
type AggregationFrequency string

const (
	// FrequencyImmediate delivers at ingestion time, bypassing the store.
	FrequencyImmediate AggregationFrequency = "immediate"
	// FrequencyHourly accumulates events for hourly delivery.
	FrequencyHourly AggregationFrequency = "hourly"
	// FrequencyDaily accumulates events for daily delivery.
	FrequencyDaily AggregationFrequency = "daily"
	// FrequencyWeekly accumulates events for weekly delivery.
	FrequencyWeekly AggregationFrequency = "weekly"
)

// IsValid returns whether the aggregation frequency is a known value.
func (f AggregationFrequency) IsValid() bool {
	switch f {
	case FrequencyImmediate, FrequencyHourly, FrequencyDaily, FrequencyWeekly:
		return true
	}
	return false
}

// AggregationMethod selects the format used to render a set of events
// into a single message.
type AggregationMethod string

const (
	// AggregationPlain renders a plain text summary.
	AggregationPlain AggregationMethod = "plain"
	// AggregationHTML renders a self-contained HTML document.
	AggregationHTML AggregationMethod = "HTML"
	// AggregationMIME renders a multipart/mixed message.
	AggregationMIME AggregationMethod = "MIME"
)

// IsValid returns whether the aggregation method is a known value.
func (m AggregationMethod) IsValid() bool {
	switch m {
	case AggregationPlain, AggregationHTML, AggregationMIME:
		return true
	}
	return false
}

// DeliveryErrorStrategy determines what happens to an event whose
// delivery fails with a transient error.
type DeliveryErrorStrategy string

const (
	// ErrorStrategyRetry retains the event for a later flush.
	ErrorStrategyRetry DeliveryErrorStrategy = "retry"
	// ErrorStrategyIgnore drops the event.
	ErrorStrategyIgnore DeliveryErrorStrategy = "ignore"
)

// IsValid returns whether the delivery error strategy is a known value.
func (s DeliveryErrorStrategy) IsValid() bool {
	return s == ErrorStrategyRetry || s == ErrorStrategyIgnore
}

var deliveryTimeRegex = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)

// Subscription is a subscriber's delivery preference. A user may have
// any number of subscriptions; each is evaluated independently.
type Subscription struct {
	SubscriptionID           string                `json:"subscription_id"`
	UserID                   string                `json:"user_id"`
	DeliveryMethod           DeliveryMethod        `json:"delivery_method"`
	AggregationFrequency     AggregationFrequency  `json:"aggregation_frequency"`
	AggregationMethod        AggregationMethod     `json:"aggregation_method"`
	DeliveryErrorStrategy    DeliveryErrorStrategy `json:"delivery_error_strategy"`
	DeliveryTime             string                `json:"delivery_time"` // wall-clock HH:MM; meaningful for daily/weekly only
	Timezone                 string                `json:"timezone"`
	EmailAddress             string                `json:"email_address,omitempty"`
	SlackWebhookURL          string                `json:"slack_webhook_url,omitempty"`
	AggregatedMessageSubject string                `json:"aggregated_message_subject,omitempty"`
	Enabled                  bool                  `json:"enabled"`
	CreateAt                 int64                 `json:"create_at"`
	UpdateAt                 int64                 `json:"update_at"`
}

// Validate enforces the subscription invariants.
func (s *Subscription) Validate() error {
	if s.UserID == "" {
		return errors.New("user ID is required")
	}
	if !s.DeliveryMethod.IsValid() {
		return errors.Errorf("invalid delivery method %q", s.DeliveryMethod)
	}
	if !s.AggregationFrequency.IsValid() {
		return errors.Errorf("invalid aggregation frequency %q", s.AggregationFrequency)
	}
	if !s.AggregationMethod.IsValid() {
		return errors.Errorf("invalid aggregation method %q", s.AggregationMethod)
	}
	if !s.DeliveryErrorStrategy.IsValid() {
		return errors.Errorf("invalid delivery error strategy %q", s.DeliveryErrorStrategy)
	}
	if s.DeliveryTime != "" && !deliveryTimeRegex.MatchString(s.DeliveryTime) {
		return errors.Errorf("invalid delivery time %q, expected HH:MM", s.DeliveryTime)
	}
	if s.Timezone != "" {
		if _, err := time.LoadLocation(s.Timezone); err != nil {
			return errors.Wrapf(err, "invalid timezone %q", s.Timezone)
		}
	}

	// Exactly one delivery address, selected by the delivery method.
	switch s.DeliveryMethod {
	case DeliveryMethodEmail:
		if s.EmailAddress == "" {
			return errors.New("email address is required for email delivery")
		}
		if s.SlackWebhookURL != "" {
			return errors.New("slack webhook URL must not be set for email delivery")
		}
	case DeliveryMethodSlack:
		if s.SlackWebhookURL == "" {
			return errors.New("slack webhook URL is required for slack delivery")
		}
		if s.EmailAddress != "" {
			return errors.New("email address must not be set for slack delivery")
		}
	}

	return nil
}

// SubscriptionFilter describes the parameters used to constrain a set
// of subscriptions.
type SubscriptionFilter struct {
	UserID      string
	EnabledOnly bool
}

// SubscriptionFromReader decodes a json-encoded subscription from the given io.Reader.
func SubscriptionFromReader(reader io.Reader) (*Subscription, error) {
	subscription := Subscription{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&subscription)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return &subscription, nil
}

// SubscriptionsFromReader decodes a json-encoded list of subscriptions from the given io.Reader.
func SubscriptionsFromReader(reader io.Reader) ([]*Subscription, error) {
	subscriptions := []*Subscription{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&subscriptions)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return subscriptions, nil
}
