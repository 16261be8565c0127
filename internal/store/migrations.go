// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package store

import (
	"github.com/blang/semver"
	"github.com/jmoiron/sqlx"
)

type migration struct {
	fromVersion   semver.Version
	toVersion     semver.Version
	migrationFunc func(*sqlx.Tx) error
}

// migrations defines the set of migrations necessary to advance the database to the latest
// expected version.
//
// Note that the canonical schema is currently obtained by applying all migrations to an empty
// database.
var migrations = []migration{
	{semver.MustParse("0.0.0"), semver.MustParse("0.1.0"), func(tx *sqlx.Tx) error {
		_, err := tx.Exec(`
			CREATE TABLE System (
				Key VARCHAR(64) PRIMARY KEY,
				Value VARCHAR(1024) NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			CREATE TABLE Event (
				EventID VARCHAR(256) PRIMARY KEY,
				UserID VARCHAR(256) NOT NULL,
				EventType VARCHAR(32) NOT NULL,
				Message TEXT NOT NULL,
				Sender VARCHAR(256) NOT NULL,
				Subject VARCHAR(1024) NOT NULL,
				Timestamp BIGINT NOT NULL,
				Metadata TEXT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			CREATE INDEX Event_UserID_Timestamp ON Event (UserID, Timestamp);
		`)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			CREATE INDEX Event_UserID_EventType_Timestamp ON Event (UserID, EventType, Timestamp);
		`)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			CREATE TABLE Subscription (
				SubscriptionID CHAR(26) PRIMARY KEY,
				UserID VARCHAR(256) NOT NULL,
				DeliveryMethod VARCHAR(32) NOT NULL,
				AggregationFrequency VARCHAR(32) NOT NULL,
				AggregationMethod VARCHAR(32) NOT NULL,
				DeliveryErrorStrategy VARCHAR(32) NOT NULL,
				DeliveryTime CHAR(5) NOT NULL,
				Timezone VARCHAR(64) NOT NULL,
				EmailAddress VARCHAR(256) NOT NULL,
				SlackWebhookURL VARCHAR(1024) NOT NULL,
				AggregatedMessageSubject VARCHAR(1024) NOT NULL,
				Enabled BOOLEAN NOT NULL,
				CreateAt BIGINT NOT NULL,
				UpdateAt BIGINT NOT NULL
			);
		`)
		if err != nil {
			return err
		}

		_, err = tx.Exec(`
			CREATE INDEX Subscription_UserID ON Subscription (UserID);
		`)
		if err != nil {
			return err
		}

		return nil
	}},
}
