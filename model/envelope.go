// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/pkg/errors"
)

// EventEnvelope is the JSON payload carried by one pub/sub message.
//
// Exactly one of UserID, UserIDs, or EmailTo must be present. EmailTo
// selects gateway mode: a single direct email that bypasses
// subscription lookup entirely.
type EventEnvelope struct {
	EventID   string        `json:"event_id"`
	UserID    string        `json:"user_id,omitempty"`
	UserIDs   []string      `json:"user_ids,omitempty"`
	EventType EventType     `json:"event_type"`
	Message   string        `json:"message"`
	Sender    string        `json:"sender"`
	Subject   string        `json:"subject"`
	Timestamp string        `json:"timestamp"` // RFC3339, UTC
	Metadata  EventMetadata `json:"metadata,omitempty"`
	EmailTo   string        `json:"email_to,omitempty"`
}

// Validate checks the envelope for the required fields and rejects
// unknown enum values rather than coercing them.
func (e *EventEnvelope) Validate() error {
	if e.EventID == "" {
		return errors.New("event_id is required")
	}

	targets := 0
	if e.UserID != "" {
		targets++
	}
	if len(e.UserIDs) > 0 {
		targets++
	}
	if e.EmailTo != "" {
		targets++
	}
	if targets != 1 {
		return errors.New("exactly one of user_id, user_ids, or email_to must be present")
	}

	if e.EmailTo == "" {
		if !e.EventType.IsValid() {
			return errors.Errorf("invalid event_type %q", e.EventType)
		}
		if e.Timestamp == "" {
			return errors.New("timestamp is required")
		}
		if _, err := time.Parse(time.RFC3339, e.Timestamp); err != nil {
			return errors.Wrap(err, "failed to parse timestamp")
		}
	}

	return nil
}

// IsGateway returns whether the envelope is an email-gateway message.
func (e *EventEnvelope) IsGateway() bool {
	return e.EmailTo != ""
}

// Targets expands the envelope into the set of recipient user IDs.
func (e *EventEnvelope) Targets() []string {
	if e.UserID != "" {
		return []string{e.UserID}
	}
	return e.UserIDs
}

// ToEvent materializes the envelope as an event for the given user. The
// event ID is derived per user so fan-out copies do not collide while
// redeliveries of the same message remain idempotent.
func (e *EventEnvelope) ToEvent(userID string) (*Event, error) {
	ts, err := time.Parse(time.RFC3339, e.Timestamp)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse timestamp")
	}

	return &Event{
		EventID:   fmt.Sprintf("%s-%s", e.EventID, userID),
		UserID:    userID,
		EventType: e.EventType,
		Message:   e.Message,
		Sender:    e.Sender,
		Subject:   e.Subject,
		Timestamp: MillisFromTime(ts),
		Metadata:  e.Metadata,
	}, nil
}

// EventEnvelopeFromBytes decodes a json-encoded envelope from a raw
// pub/sub message body.
func EventEnvelopeFromBytes(data []byte) (*EventEnvelope, error) {
	envelope := EventEnvelope{}
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal event envelope")
	}

	return &envelope, nil
}
