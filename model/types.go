// Copyright (c) 2015-present Mattermost, Inc. All Rights Reserved.
// See LICENSE.txt for license information.
//

package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
)

// EventMetadata is an opaque mapping of publisher-supplied metadata
// attached to an event. It is stored verbatim and never interpreted by
// routing or delivery.
type EventMetadata map[string]interface{}

// Value implements driver.Valuer, serializing the metadata to JSON.
func (m EventMetadata) Value() (driver.Value, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner, deserializing JSON metadata.
func (m *EventMetadata) Scan(v interface{}) error {
	if v == nil {
		return nil
	}
	switch data := v.(type) {
	case string: // sqlite's text
		return json.Unmarshal([]byte(data), m)
	case []byte: // psql's jsonb
		return json.Unmarshal(data, m)
	default:
		return fmt.Errorf("cannot scan type %t into EventMetadata", v)
	}
}
