// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

// Package provider implements the delivery backends for rendered messages.
//
// Providers are oblivious senders: they know nothing about events or the
// store, and never retry internally. Retry policy belongs to the caller.
package provider

import (
	"github.com/mattermost/mattermost-messaging/model"
)

// Status classifies the outcome of a delivery attempt.
type Status string

const (
	// StatusDelivered indicates the message was accepted by the destination.
	StatusDelivered Status = "delivered"

	// StatusTransientFailure indicates a failure that may succeed if retried
	// later, such as a timeout or a 5xx response.
	StatusTransientFailure Status = "transient-failure"

	// StatusPermanentFailure indicates a failure that will not succeed on
	// retry, such as a rejected recipient.
	StatusPermanentFailure Status = "permanent-failure"
)

// Result describes the outcome of a single delivery attempt.
type Result struct {
	Status Status
	Error  error
}

// Delivered reports whether the attempt succeeded.
func (r Result) Delivered() bool {
	return r.Status == StatusDelivered
}

// Transient reports whether the attempt failed in a retryable way.
func (r Result) Transient() bool {
	return r.Status == StatusTransientFailure
}

func delivered() Result {
	return Result{Status: StatusDelivered}
}

func transientFailure(err error) Result {
	return Result{Status: StatusTransientFailure, Error: err}
}

func permanentFailure(err error) Result {
	return Result{Status: StatusPermanentFailure, Error: err}
}

// Sender delivers a rendered message to the destination described by the
// subscription.
type Sender interface {
	Send(subscription *model.Subscription, subject, body, contentType, sender string) Result
}
