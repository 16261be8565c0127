// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"
)

// EventType categorizes an event published to the messaging system.
type EventType string

const (
	// EventTypeNotification is a routine notification event.
	EventTypeNotification EventType = "NOTIFICATION"
	// EventTypeAlert is an event requiring attention.
	EventTypeAlert EventType = "ALERT"
	// EventTypeWarning is an event warning of a potential problem.
	EventTypeWarning EventType = "WARNING"
	// EventTypeInfo is an informational event.
	EventTypeInfo EventType = "INFO"
)

// IsValid returns whether the event type is a known value.
func (t EventType) IsValid() bool {
	switch t {
	case EventTypeNotification, EventTypeAlert, EventTypeWarning, EventTypeInfo:
		return true
	}
	return false
}

// Event is a single notification record published by an upstream system.
//
// An event is considered undelivered for as long as it remains in the
// store; there is no delivered flag.
type Event struct {
	EventID   string        `json:"event_id"`
	UserID    string        `json:"user_id"`
	EventType EventType     `json:"event_type"`
	Message   string        `json:"message"`
	Sender    string        `json:"sender"`
	Subject   string        `json:"subject"`
	Timestamp int64         `json:"timestamp"` // milliseconds since epoch, UTC, assigned by the publisher
	Metadata  EventMetadata `json:"metadata,omitempty"`
}

// EventFilter describes the parameters used to constrain a set of
// undelivered events.
type EventFilter struct {
	UserID    string
	EventType EventType
	Limit     int
}

// EventFromReader decodes a json-encoded event from the given io.Reader.
func EventFromReader(reader io.Reader) (*Event, error) {
	event := Event{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&event)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return &event, nil
}

// EventsFromReader decodes a json-encoded list of events from the given io.Reader.
func EventsFromReader(reader io.Reader) ([]*Event, error) {
	events := []*Event{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&events)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return events, nil
}
