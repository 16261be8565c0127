// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mattermost/mattermost-messaging/internal/testlib"
	"github.com/mattermost/mattermost-messaging/model"
)

func makeTestSubscription(userID string) *model.Subscription {
	return &model.Subscription{
		UserID:                userID,
		DeliveryMethod:        model.DeliveryMethodEmail,
		AggregationFrequency:  model.FrequencyDaily,
		AggregationMethod:     model.AggregationPlain,
		DeliveryErrorStrategy: model.ErrorStrategyRetry,
		DeliveryTime:          "09:00",
		Timezone:              "UTC",
		EmailAddress:          userID + "@example.com",
		Enabled:               true,
	}
}

func TestSubscriptions(t *testing.T) {
	t.Run("get unknown subscription", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := MakeTestSQLStore(t, logger)
		defer CloseConnection(t, sqlStore)

		subscription, err := sqlStore.GetSubscription("unknown")
		require.NoError(t, err)
		require.Nil(t, subscription)
	})

	t.Run("create and get subscriptions", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := MakeTestSQLStore(t, logger)
		defer CloseConnection(t, sqlStore)

		subscription1 := makeTestSubscription("user1")
		subscription2 := makeTestSubscription("user1")
		subscription2.DeliveryMethod = model.DeliveryMethodSlack
		subscription2.EmailAddress = ""
		subscription2.SlackWebhookURL = "https://hooks.slack.com/services/T/B/X"
		subscription3 := makeTestSubscription("user2")

		err := sqlStore.CreateSubscription(subscription1)
		require.NoError(t, err)
		require.NotEmpty(t, subscription1.SubscriptionID)
		require.NotZero(t, subscription1.CreateAt)

		time.Sleep(1 * time.Millisecond)

		err = sqlStore.CreateSubscription(subscription2)
		require.NoError(t, err)

		time.Sleep(1 * time.Millisecond)

		err = sqlStore.CreateSubscription(subscription3)
		require.NoError(t, err)

		actual, err := sqlStore.GetSubscription(subscription1.SubscriptionID)
		require.NoError(t, err)
		require.Equal(t, subscription1, actual)

		subscriptions, err := sqlStore.GetSubscriptions(&model.SubscriptionFilter{UserID: "user1"})
		require.NoError(t, err)
		require.Equal(t, []*model.Subscription{subscription1, subscription2}, subscriptions)

		subscriptions, err = sqlStore.GetSubscriptions(&model.SubscriptionFilter{})
		require.NoError(t, err)
		require.Equal(t, []*model.Subscription{subscription1, subscription2, subscription3}, subscriptions)

		subscriptions, err = sqlStore.GetSubscriptions(&model.SubscriptionFilter{UserID: "user3"})
		require.NoError(t, err)
		require.Empty(t, subscriptions)
	})

	t.Run("enabled only filter", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := MakeTestSQLStore(t, logger)
		defer CloseConnection(t, sqlStore)

		enabled := makeTestSubscription("user1")
		require.NoError(t, sqlStore.CreateSubscription(enabled))

		time.Sleep(1 * time.Millisecond)

		disabled := makeTestSubscription("user1")
		disabled.Enabled = false
		require.NoError(t, sqlStore.CreateSubscription(disabled))

		subscriptions, err := sqlStore.GetSubscriptions(&model.SubscriptionFilter{UserID: "user1", EnabledOnly: true})
		require.NoError(t, err)
		require.Equal(t, []*model.Subscription{enabled}, subscriptions)
	})

	t.Run("update subscription", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := MakeTestSQLStore(t, logger)
		defer CloseConnection(t, sqlStore)

		subscription := makeTestSubscription("user1")
		require.NoError(t, sqlStore.CreateSubscription(subscription))

		time.Sleep(1 * time.Millisecond)

		subscription.AggregationMethod = model.AggregationHTML
		subscription.Enabled = false
		require.NoError(t, sqlStore.UpdateSubscription(subscription))
		require.Greater(t, subscription.UpdateAt, subscription.CreateAt)

		actual, err := sqlStore.GetSubscription(subscription.SubscriptionID)
		require.NoError(t, err)
		require.Equal(t, subscription, actual)
	})

	t.Run("delete subscription", func(t *testing.T) {
		logger := testlib.MakeLogger(t)
		sqlStore := MakeTestSQLStore(t, logger)
		defer CloseConnection(t, sqlStore)

		subscription := makeTestSubscription("user1")
		require.NoError(t, sqlStore.CreateSubscription(subscription))

		err := sqlStore.DeleteSubscription(subscription.SubscriptionID)
		require.NoError(t, err)

		actual, err := sqlStore.GetSubscription(subscription.SubscriptionID)
		require.NoError(t, err)
		require.Nil(t, actual)

		// Deleting a missing subscription is not an error.
		err = sqlStore.DeleteSubscription(subscription.SubscriptionID)
		require.NoError(t, err)
	})
}
