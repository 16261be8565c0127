// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/pkg/errors"
)

// Client is the programmatic interface to the messaging server API.
type Client struct {
	address    string
	httpClient *http.Client
}

// NewClient creates a client to the messaging server at the given address.
func NewClient(address string) *Client {
	return &Client{
		address:    address,
		httpClient: &http.Client{},
	}
}

// closeBody ensures the Body of an http.Response is properly closed.
func closeBody(r *http.Response) {
	if r.Body != nil {
		_, _ = io.Copy(io.Discard, r.Body)
		_ = r.Body.Close()
	}
}

func (c *Client) buildURL(urlPath string, args ...interface{}) string {
	return fmt.Sprintf("%s%s", c.address, fmt.Sprintf(urlPath, args...))
}

func (c *Client) doGet(u string) (*http.Response, error) {
	return c.httpClient.Get(u)
}

func (c *Client) doPost(u string, request interface{}) (*http.Response, error) {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	return c.httpClient.Post(u, "application/json", bytes.NewReader(requestBytes))
}

func (c *Client) doPut(u string, request interface{}) (*http.Response, error) {
	requestBytes, err := json.Marshal(request)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal request")
	}

	httpRequest, err := http.NewRequest(http.MethodPut, u, bytes.NewReader(requestBytes))
	if err != nil {
		return nil, err
	}

	return c.httpClient.Do(httpRequest)
}

func (c *Client) doDelete(u string, request interface{}) (*http.Response, error) {
	var body io.Reader
	if request != nil {
		requestBytes, err := json.Marshal(request)
		if err != nil {
			return nil, errors.Wrap(err, "failed to marshal request")
		}
		body = bytes.NewReader(requestBytes)
	}

	httpRequest, err := http.NewRequest(http.MethodDelete, u, body)
	if err != nil {
		return nil, err
	}

	return c.httpClient.Do(httpRequest)
}

// GetUsers fetches per-user subscription and backlog statistics.
func (c *Client) GetUsers(includeEmpty bool) ([]*UserStats, error) {
	resp, err := c.doGet(c.buildURL("/users?include_empty=%t", includeEmpty))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return UserStatsListFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// GetUserMessages fetches the undelivered events for the given user.
func (c *Client) GetUserMessages(userID string, eventType EventType, limit int) ([]*Event, error) {
	u := c.buildURL("/users/%s/messages?event_type=%s&limit=%d", userID, url.QueryEscape(string(eventType)), limit)
	resp, err := c.doGet(u)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return EventsFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// GetUserMessage fetches a single undelivered event by id, returning nil
// if it does not exist.
func (c *Client) GetUserMessage(userID, eventID string) (*Event, error) {
	resp, err := c.doGet(c.buildURL("/users/%s/messages/%s", userID, eventID))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return EventFromReader(resp.Body)

	case http.StatusNotFound:
		return nil, nil

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// DeleteUserMessage deletes a single undelivered event by id.
func (c *Client) DeleteUserMessage(userID, eventID string) (*DeleteEventsResponse, error) {
	resp, err := c.doDelete(c.buildURL("/users/%s/messages/%s", userID, eventID), nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		response := DeleteEventsResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil && err != io.EOF {
			return nil, err
		}
		return &response, nil

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// DeleteUserMessages deletes the given user's undelivered events with
// timestamp at or before beforeTimestamp, or all of them when it is 0.
func (c *Client) DeleteUserMessages(userID string, beforeTimestamp int64) (*DeleteEventsResponse, error) {
	u := c.buildURL("/users/%s/messages", userID)
	if beforeTimestamp > 0 {
		u = fmt.Sprintf("%s?before_timestamp=%d", u, beforeTimestamp)
	}
	resp, err := c.doDelete(u, nil)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		response := DeleteEventsResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil && err != io.EOF {
			return nil, err
		}
		return &response, nil

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// GetUndelivered fetches undelivered events across all users.
func (c *Client) GetUndelivered(eventType EventType, limit int) ([]*Event, error) {
	u := c.buildURL("/undelivered?event_type=%s&limit=%d", url.QueryEscape(string(eventType)), limit)
	resp, err := c.doGet(u)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return EventsFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// GetUndeliveredStats fetches statistics about undelivered events.
func (c *Client) GetUndeliveredStats() (*UndeliveredStats, error) {
	resp, err := c.doGet(c.buildURL("/undelivered/stats"))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return UndeliveredStatsFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// DeleteUndelivered deletes undelivered events by explicit IDs or user.
func (c *Client) DeleteUndelivered(request *DeleteEventsRequest) (*DeleteEventsResponse, error) {
	resp, err := c.doDelete(c.buildURL("/undelivered"), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		response := DeleteEventsResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&response); err != nil && err != io.EOF {
			return nil, err
		}
		return &response, nil

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// GetSubscriptions fetches all subscriptions belonging to the given user.
func (c *Client) GetSubscriptions(userID string) ([]*Subscription, error) {
	resp, err := c.doGet(c.buildURL("/users/%s/subscriptions", userID))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return SubscriptionsFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// GetSubscription fetches a single subscription by id, returning nil if
// it does not exist.
func (c *Client) GetSubscription(userID, subscriptionID string) (*Subscription, error) {
	resp, err := c.doGet(c.buildURL("/users/%s/subscriptions/%s", userID, subscriptionID))
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return SubscriptionFromReader(resp.Body)

	case http.StatusNotFound:
		return nil, nil

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// CreateSubscription requests the creation of a subscription for the
// given user.
func (c *Client) CreateSubscription(userID string, request *UpsertSubscriptionRequest) (*Subscription, error) {
	resp, err := c.doPost(c.buildURL("/users/%s/subscriptions", userID), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusCreated:
		return SubscriptionFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// UpdateSubscription replaces an existing subscription.
func (c *Client) UpdateSubscription(userID, subscriptionID string, request *UpsertSubscriptionRequest) (*Subscription, error) {
	resp, err := c.doPut(c.buildURL("/users/%s/subscriptions/%s", userID, subscriptionID), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return SubscriptionFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// DeleteSubscription deletes the given subscription. Deleting a missing
// subscription is a no-op success.
func (c *Client) DeleteSubscription(userID, subscriptionID string) error {
	resp, err := c.doDelete(c.buildURL("/users/%s/subscriptions/%s", userID, subscriptionID), nil)
	if err != nil {
		return err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil

	default:
		return errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}

// Flush triggers delivery of accumulated undelivered events.
func (c *Client) Flush(request *FlushRequest) (*FlushReport, error) {
	resp, err := c.doPost(c.buildURL("/flush"), request)
	if err != nil {
		return nil, err
	}
	defer closeBody(resp)

	switch resp.StatusCode {
	case http.StatusOK:
		return FlushReportFromReader(resp.Body)

	default:
		return nil, errors.Errorf("failed with status code %d", resp.StatusCode)
	}
}
