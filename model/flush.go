// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"encoding/json"
	"io"
)

// FlushRequest represents a request to deliver and clear accumulated
// undelivered events.
type FlushRequest struct {
	UserID        string `json:"user_id,omitempty"` // empty flushes every user with undelivered events
	DryRun        bool   `json:"dry_run"`
	ForceDelivery bool   `json:"force_delivery"`
}

// FlushReport summarizes the outcome of a single flush invocation.
type FlushReport struct {
	UsersProcessed    int      `json:"users_processed"`
	MessagesDelivered int      `json:"messages_delivered"`
	MessagesFailed    int      `json:"messages_failed"`
	EventsCleared     int64    `json:"events_cleared"`
	Errors            []string `json:"errors"`
	DryRun            bool     `json:"dry_run"`
	CorrelationID     string   `json:"correlation_id"`
}

// NewFlushRequestFromReader decodes a json-encoded flush request from the
// given io.Reader.
func NewFlushRequestFromReader(reader io.Reader) (*FlushRequest, error) {
	request := FlushRequest{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&request)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return &request, nil
}

// FlushReportFromReader decodes a json-encoded flush report from the
// given io.Reader.
func FlushReportFromReader(reader io.Reader) (*FlushReport, error) {
	report := FlushReport{}
	decoder := json.NewDecoder(reader)
	err := decoder.Decode(&report)
	if err != nil && err != io.EOF {
		return nil, err
	}

	return &report, nil
}
