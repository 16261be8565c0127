// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() *EventEnvelope {
	return &EventEnvelope{
		EventID:   "evt1",
		UserID:    "user1",
		EventType: EventTypeNotification,
		Message:   "hello",
		Sender:    "sender@example.com",
		Subject:   "greetings",
		Timestamp: "2024-05-01T10:00:00Z",
	}
}

func TestEventEnvelopeValidate(t *testing.T) {
	t.Run("valid single user", func(t *testing.T) {
		require.NoError(t, validEnvelope().Validate())
	})

	t.Run("valid fan-out", func(t *testing.T) {
		envelope := validEnvelope()
		envelope.UserID = ""
		envelope.UserIDs = []string{"user1", "user2"}
		require.NoError(t, envelope.Validate())
	})

	t.Run("valid gateway", func(t *testing.T) {
		envelope := validEnvelope()
		envelope.UserID = ""
		envelope.EmailTo = "someone@example.com"
		envelope.Timestamp = ""
		require.NoError(t, envelope.Validate())
		assert.True(t, envelope.IsGateway())
	})

	t.Run("missing event id", func(t *testing.T) {
		envelope := validEnvelope()
		envelope.EventID = ""
		require.Error(t, envelope.Validate())
	})

	t.Run("no targets", func(t *testing.T) {
		envelope := validEnvelope()
		envelope.UserID = ""
		require.Error(t, envelope.Validate())
	})

	t.Run("multiple target fields", func(t *testing.T) {
		envelope := validEnvelope()
		envelope.UserIDs = []string{"user2"}
		require.Error(t, envelope.Validate())

		envelope = validEnvelope()
		envelope.EmailTo = "someone@example.com"
		require.Error(t, envelope.Validate())
	})

	t.Run("unknown event type rejected", func(t *testing.T) {
		envelope := validEnvelope()
		envelope.EventType = "GOSSIP"
		require.Error(t, envelope.Validate())
	})

	t.Run("missing timestamp", func(t *testing.T) {
		envelope := validEnvelope()
		envelope.Timestamp = ""
		require.Error(t, envelope.Validate())
	})

	t.Run("malformed timestamp", func(t *testing.T) {
		envelope := validEnvelope()
		envelope.Timestamp = "yesterday"
		require.Error(t, envelope.Validate())
	})
}

func TestEventEnvelopeTargets(t *testing.T) {
	envelope := validEnvelope()
	assert.Equal(t, []string{"user1"}, envelope.Targets())

	envelope.UserID = ""
	envelope.UserIDs = []string{"user1", "user2"}
	assert.Equal(t, []string{"user1", "user2"}, envelope.Targets())
}

func TestEventEnvelopeToEvent(t *testing.T) {
	envelope := validEnvelope()
	event, err := envelope.ToEvent("user2")
	require.NoError(t, err)

	assert.Equal(t, "evt1-user2", event.EventID)
	assert.Equal(t, "user2", event.UserID)
	assert.Equal(t, EventTypeNotification, event.EventType)
	assert.Equal(t, "hello", event.Message)

	expected, err := time.Parse(time.RFC3339, envelope.Timestamp)
	require.NoError(t, err)
	assert.Equal(t, MillisFromTime(expected), event.Timestamp)
}

func TestEventEnvelopeFromBytes(t *testing.T) {
	t.Run("well formed", func(t *testing.T) {
		envelope, err := EventEnvelopeFromBytes([]byte(`{
			"event_id": "evt1",
			"user_ids": ["user1", "user2"],
			"event_type": "ALERT",
			"message": "disk full",
			"sender": "ops@example.com",
			"subject": "alert",
			"timestamp": "2024-05-01T10:00:00Z",
			"metadata": {"disk": "sda1"}
		}`))
		require.NoError(t, err)
		assert.Equal(t, EventTypeAlert, envelope.EventType)
		assert.Equal(t, []string{"user1", "user2"}, envelope.UserIDs)
		assert.Equal(t, "sda1", envelope.Metadata["disk"])
	})

	t.Run("malformed json", func(t *testing.T) {
		_, err := EventEnvelopeFromBytes([]byte(`{not json`))
		require.Error(t, err)
	})
}
