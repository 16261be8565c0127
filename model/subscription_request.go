// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"
)

// UpsertSubscriptionRequest represents a request to create or replace a
// subscription for a user.
type UpsertSubscriptionRequest struct {
	DeliveryMethod           DeliveryMethod        `json:"delivery_method"`
	AggregationFrequency     AggregationFrequency  `json:"aggregation_frequency"`
	AggregationMethod        AggregationMethod     `json:"aggregation_method"`
	DeliveryErrorStrategy    DeliveryErrorStrategy `json:"delivery_error_strategy"`
	DeliveryTime             string                `json:"delivery_time"`
	Timezone                 string                `json:"timezone"`
	EmailAddress             string                `json:"email_address"`
	SlackWebhookURL          string                `json:"slack_webhook_url"`
	AggregatedMessageSubject string                `json:"aggregated_message_subject"`
	Enabled                  *bool                 `json:"enabled"`
}

// ToSubscription validates the request and converts it to a subscription
// owned by the given user. Omitted optional fields assume their
// defaults before validation.
func (r *UpsertSubscriptionRequest) ToSubscription(userID string) (*Subscription, error) {
	subscription := &Subscription{
		UserID:                   userID,
		DeliveryMethod:           r.DeliveryMethod,
		AggregationFrequency:     r.AggregationFrequency,
		AggregationMethod:        r.AggregationMethod,
		DeliveryErrorStrategy:    r.DeliveryErrorStrategy,
		DeliveryTime:             r.DeliveryTime,
		Timezone:                 r.Timezone,
		EmailAddress:             r.EmailAddress,
		SlackWebhookURL:          r.SlackWebhookURL,
		AggregatedMessageSubject: r.AggregatedMessageSubject,
		Enabled:                  true,
	}

	if subscription.AggregationMethod == "" {
		subscription.AggregationMethod = AggregationPlain
	}
	if subscription.DeliveryErrorStrategy == "" {
		subscription.DeliveryErrorStrategy = ErrorStrategyRetry
	}
	if subscription.DeliveryTime == "" {
		subscription.DeliveryTime = "09:00"
	}
	if subscription.Timezone == "" {
		subscription.Timezone = "UTC"
	}
	if r.Enabled != nil {
		subscription.Enabled = *r.Enabled
	}

	if err := subscription.Validate(); err != nil {
		return nil, err
	}

	return subscription, nil
}

// NewUpsertSubscriptionRequestFromReader decodes a json-encoded upsert
// subscription request from the given io.Reader.
func NewUpsertSubscriptionRequestFromReader(reader io.Reader) (*UpsertSubscriptionRequest, error) {
	request := UpsertSubscriptionRequest{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&request)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return &request, nil
}
