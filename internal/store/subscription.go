// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"database/sql"

	sq "github.com/Masterminds/squirrel"
	"github.com/pkg/errors"

	"github.com/mattermost/mattermost-messaging/model"
)

var subscriptionSelect sq.SelectBuilder

func init() {
	subscriptionSelect = sq.
		Select(
			"SubscriptionID", "UserID", "DeliveryMethod", "AggregationFrequency",
			"AggregationMethod", "DeliveryErrorStrategy", "DeliveryTime", "Timezone",
			"EmailAddress", "SlackWebhookURL", "AggregatedMessageSubject", "Enabled",
			"CreateAt", "UpdateAt",
		).
		From("Subscription")
}

// GetSubscription fetches the given subscription, returning nil if none exists.
func (sqlStore *SQLStore) GetSubscription(subscriptionID string) (*model.Subscription, error) {
	var subscription model.Subscription
	err := sqlStore.getBuilder(sqlStore.db, &subscription,
		subscriptionSelect.Where("SubscriptionID = ?", subscriptionID),
	)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "failed to get subscription by id")
	}

	return &subscription, nil
}

// GetSubscriptions fetches all subscriptions matching the given filter,
// ordered by creation time then id.
func (sqlStore *SQLStore) GetSubscriptions(filter *model.SubscriptionFilter) ([]*model.Subscription, error) {
	query := subscriptionSelect.OrderBy("CreateAt ASC", "SubscriptionID ASC")
	if filter.UserID != "" {
		query = query.Where("UserID = ?", filter.UserID)
	}
	if filter.EnabledOnly {
		query = query.Where("Enabled = ?", true)
	}

	subscriptions := []*model.Subscription{}
	err := sqlStore.selectBuilder(sqlStore.db, &subscriptions, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query for subscriptions")
	}

	return subscriptions, nil
}

// CreateSubscription records the given subscription, assigning it an id.
func (sqlStore *SQLStore) CreateSubscription(subscription *model.Subscription) error {
	subscription.SubscriptionID = model.NewID()
	subscription.CreateAt = model.GetMillis()
	subscription.UpdateAt = subscription.CreateAt

	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Insert("Subscription").
		SetMap(map[string]interface{}{
			"SubscriptionID":           subscription.SubscriptionID,
			"UserID":                   subscription.UserID,
			"DeliveryMethod":           subscription.DeliveryMethod,
			"AggregationFrequency":     subscription.AggregationFrequency,
			"AggregationMethod":        subscription.AggregationMethod,
			"DeliveryErrorStrategy":    subscription.DeliveryErrorStrategy,
			"DeliveryTime":             subscription.DeliveryTime,
			"Timezone":                 subscription.Timezone,
			"EmailAddress":             subscription.EmailAddress,
			"SlackWebhookURL":          subscription.SlackWebhookURL,
			"AggregatedMessageSubject": subscription.AggregatedMessageSubject,
			"Enabled":                  subscription.Enabled,
			"CreateAt":                 subscription.CreateAt,
			"UpdateAt":                 subscription.UpdateAt,
		}),
	)
	if err != nil {
		return errors.Wrap(err, "failed to create subscription")
	}

	return nil
}

// UpdateSubscription replaces the stored state of the given subscription.
func (sqlStore *SQLStore) UpdateSubscription(subscription *model.Subscription) error {
	subscription.UpdateAt = model.GetMillis()

	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Update("Subscription").
		SetMap(map[string]interface{}{
			"UserID":                   subscription.UserID,
			"DeliveryMethod":           subscription.DeliveryMethod,
			"AggregationFrequency":     subscription.AggregationFrequency,
			"AggregationMethod":        subscription.AggregationMethod,
			"DeliveryErrorStrategy":    subscription.DeliveryErrorStrategy,
			"DeliveryTime":             subscription.DeliveryTime,
			"Timezone":                 subscription.Timezone,
			"EmailAddress":             subscription.EmailAddress,
			"SlackWebhookURL":          subscription.SlackWebhookURL,
			"AggregatedMessageSubject": subscription.AggregatedMessageSubject,
			"Enabled":                  subscription.Enabled,
			"UpdateAt":                 subscription.UpdateAt,
		}).
		Where("SubscriptionID = ?", subscription.SubscriptionID),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update subscription")
	}

	return nil
}

// DeleteSubscription deletes the given subscription. Deleting a missing
// subscription is a no-op.
func (sqlStore *SQLStore) DeleteSubscription(subscriptionID string) error {
	_, err := sqlStore.execBuilder(sqlStore.db, sq.
		Delete("Subscription").
		Where("SubscriptionID = ?", subscriptionID),
	)
	if err != nil {
		return errors.Wrap(err, "failed to delete subscription")
	}

	return nil
}
