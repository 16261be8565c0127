// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"
)

// UndeliveredStats summarizes the undelivered events currently in the
// store.
type UndeliveredStats struct {
	TotalUsersWithUndelivered int              `json:"total_users_with_undelivered"`
	TotalUndeliveredEvents    int64            `json:"total_undelivered_events"`
	UsersWithCounts           map[string]int64 `json:"users_with_counts"`
	EventsByType              map[string]int64 `json:"events_by_type"`
}

// UserStats summarizes one user's subscriptions and undelivered backlog.
type UserStats struct {
	UserID               string `json:"user_id"`
	SubscriptionCount    int    `json:"subscription_count"`
	EnabledSubscriptions int    `json:"enabled_subscriptions"`
	UndeliveredCount     int64  `json:"undelivered_count"`
}

// DeleteEventsRequest represents a request to delete undelivered events,
// either by explicit IDs or for a whole user.
type DeleteEventsRequest struct {
	EventIDs []string `json:"event_ids,omitempty"`
	UserID   string   `json:"user_id,omitempty"`
}

// DeleteEventsResponse reports the number of events removed.
type DeleteEventsResponse struct {
	DeletedCount int64 `json:"deleted_count"`
}

// NewDeleteEventsRequestFromReader decodes a json-encoded delete request
// from the given io.Reader.
func NewDeleteEventsRequestFromReader(reader io.Reader) (*DeleteEventsRequest, error) {
	request := DeleteEventsRequest{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&request)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return &request, nil
}

// UndeliveredStatsFromReader decodes json-encoded undelivered stats from
// the given io.Reader.
func UndeliveredStatsFromReader(reader io.Reader) (*UndeliveredStats, error) {
	stats := UndeliveredStats{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&stats)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return &stats, nil
}

// UserStatsListFromReader decodes a json-encoded list of user stats from
// the given io.Reader.
func UserStatsListFromReader(reader io.Reader) ([]*UserStats, error) {
	stats := []*UserStats{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&stats)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return stats, nil
}
