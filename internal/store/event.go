// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"
	"sort"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-messaging/model"
)

// eventPageSize bounds how many events a single query fetches when walking a
// user's backlog.
const eventPageSize = 1000

var eventSelect sq.SelectBuilder

func init() {
	eventSelect = sq.
		Select("EventID", "UserID", "EventType", "Message", "Sender", "Subject", "Timestamp", "Metadata").
		From("Event")
}

// StoreEvent persists the given undelivered event.
//
// Storing an event whose id is already present is a no-op, making redelivery
// of the same broker message safe.
func (sqlStore *SQLStore) StoreEvent(event *model.Event) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Insert("Event").
		SetMap(map[string]interface{}{
			"EventID":   event.EventID,
			"UserID":    event.UserID,
			"EventType": event.EventType,
			"Message":   event.Message,
			"Sender":    event.Sender,
			"Subject":   event.Subject,
			"Timestamp": event.Timestamp,
			"Metadata":  event.Metadata,
		}).
		Suffix("ON CONFLICT (EventID) DO NOTHING"),
	)
	if err != nil {
		return errors.Wrap(err, "failed to store event")
	}

	return nil
}

// GetEvent fetches the given undelivered event, returning nil if none exists.
func (sqlStore *SQLStore) GetEvent(eventID string) (*model.Event, error) {
	var event model.Event
	err := sqlStore.getBuilder(sqlStore.db, &event,
		eventSelect.Where("EventID = ?", eventID),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get event by id")
	}

	return &event, nil
}

// GetUndeliveredEvents fetches undelivered events matching the given filter,
// ordered by timestamp then event id.
//
// The backlog is walked in fixed-size pages to keep individual queries bounded.
func (sqlStore *SQLStore) GetUndeliveredEvents(filter *model.EventFilter) ([]*model.Event, error) {
	events := []*model.Event{}

	var lastTimestamp int64
	var lastEventID string
	first := true

	for {
		pageSize := eventPageSize
		if filter.Limit > 0 && filter.Limit-len(events) < pageSize {
			pageSize = filter.Limit - len(events)
		}
		if pageSize <= 0 {
			break
		}

		query := eventSelect.
			OrderBy("Timestamp ASC", "EventID ASC").
			Limit(uint64(pageSize))

		if filter.UserID != "" {
			query = query.Where("UserID = ?", filter.UserID)
		}
		if filter.EventType != "" {
			query = query.Where("EventType = ?", filter.EventType)
		}
		if !first {
			query = query.Where(
				"(Timestamp > ? OR (Timestamp = ? AND EventID > ?))",
				lastTimestamp, lastTimestamp, lastEventID,
			)
		}

		var page []*model.Event
		err := sqlStore.selectBuilder(sqlStore.db, &page, query)
		if err != nil {
			return nil, errors.Wrap(err, "failed to query for events")
		}

		events = append(events, page...)

		if len(page) < pageSize {
			break
		}

		last := page[len(page)-1]
		lastTimestamp = last.Timestamp
		lastEventID = last.EventID
		first = false
	}

	return events, nil
}

// GetUndeliveredUserIDs fetches the distinct ids of users holding undelivered
// events, in lexical order.
func (sqlStore *SQLStore) GetUndeliveredUserIDs() ([]string, error) {
	userIDs := []string{}
	err := sqlStore.selectBuilder(sqlStore.db, &userIDs, sq.
		Select("DISTINCT UserID").
		From("Event").
		OrderBy("UserID ASC"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for users with events")
	}

	return userIDs, nil
}

// ClearEvents deletes the given user's undelivered events with timestamp at or
// before beforeTimestamp, returning the number of events deleted.
//
// Events stored after the caller snapshotted the backlog carry a later
// timestamp and survive the clear.
func (sqlStore *SQLStore) ClearEvents(userID string, beforeTimestamp int64) (int64, error) {
	result, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete("Event").
		Where("UserID = ?", userID).
		Where("Timestamp <= ?", beforeTimestamp),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to clear events")
	}

	cleared, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to query affected rows")
	}

	return cleared, nil
}

// DeleteEvent deletes the given undelivered event, reporting whether it
// existed.
func (sqlStore *SQLStore) DeleteEvent(eventID string) (bool, error) {
	result, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete("Event").
		Where("EventID = ?", eventID),
	)
	if err != nil {
		return false, errors.Wrap(err, "failed to delete event")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to query affected rows")
	}

	return rows > 0, nil
}

// DeleteEvents deletes the undelivered events with the given ids, returning
// the number of events deleted. Unknown ids are ignored.
func (sqlStore *SQLStore) DeleteEvents(eventIDs []string) (int64, error) {
	if len(eventIDs) == 0 {
		return 0, nil
	}

	result, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete("Event").
		Where(sq.Eq{"EventID": eventIDs}),
	)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete events")
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to query affected rows")
	}

	return deleted, nil
}

// GetUndeliveredStats summarizes the undelivered backlog across all users.
func (sqlStore *SQLStore) GetUndeliveredStats() (*model.UndeliveredStats, error) {
	var rows []struct {
		UserID    string
		EventType string
		Count     int64
	}

	err := sqlStore.selectBuilder(sqlStore.db, &rows, sq.
		Select("UserID", "EventType", "COUNT(*) AS Count").
		From("Event").
		GroupBy("UserID", "EventType"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for event stats")
	}

	stats := &model.UndeliveredStats{
		UsersWithCounts: map[string]int64{},
		EventsByType:    map[string]int64{},
	}
	for _, row := range rows {
		if _, ok := stats.UsersWithCounts[row.UserID]; !ok {
			stats.TotalUsersWithUndelivered++
		}
		stats.UsersWithCounts[row.UserID] += row.Count
		stats.EventsByType[row.EventType] += row.Count
		stats.TotalUndeliveredEvents += row.Count
	}

	return stats, nil
}

// GetUserStats summarizes subscriptions and undelivered backlog per user.
//
// Users known only through events, with no subscription, are included. Users
// with no undelivered events are included only when includeEmpty is set.
func (sqlStore *SQLStore) GetUserStats(includeEmpty bool) ([]*model.UserStats, error) {
	var subscriptionRows []struct {
		UserID       string
		Count        int64
		EnabledCount int64
	}

	err := sqlStore.selectBuilder(sqlStore.db, &subscriptionRows, sq.
		Select(
			"UserID",
			"COUNT(*) AS Count",
			"SUM(CASE WHEN Enabled THEN 1 ELSE 0 END) AS EnabledCount",
		).
		From("Subscription").
		GroupBy("UserID"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for subscription stats")
	}

	var eventRows []struct {
		UserID string
		Count  int64
	}

	err = sqlStore.selectBuilder(sqlStore.db, &eventRows, sq.
		Select("UserID", "COUNT(*) AS Count").
		From("Event").
		GroupBy("UserID"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for event counts")
	}

	byUser := map[string]*model.UserStats{}
	for _, row := range subscriptionRows {
		byUser[row.UserID] = &model.UserStats{
			UserID:               row.UserID,
			SubscriptionCount:    int(row.Count),
			EnabledSubscriptions: int(row.EnabledCount),
		}
	}
	for _, row := range eventRows {
		stats, ok := byUser[row.UserID]
		if !ok {
			stats = &model.UserStats{UserID: row.UserID}
			byUser[row.UserID] = stats
		}
		stats.UndeliveredCount = row.Count
	}

	userIDs := make([]string, 0, len(byUser))
	for userID := range byUser {
		userIDs = append(userIDs, userID)
	}
	sort.Strings(userIDs)

	userStats := []*model.UserStats{}
	for _, userID := range userIDs {
		stats := byUser[userID]
		if !includeEmpty && stats.UndeliveredCount == 0 {
			continue
		}
		userStats = append(userStats, stats)
	}

	return userStats, nil
}
