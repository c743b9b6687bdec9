// NetSentinel - Home Network Security Monitor
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/netsentinel

package alert

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
)

func TestAlertMarshalTimestamp(t *testing.T) {
	firstSeen := time.Date(2026, 8, 29, 10, 30, 0, 0, time.UTC)
	a := Alert{
		AlertID:         "a1",
		AlertType:       "port_scan",
		Source:          "192.168.1.5",
		Severity:        SeverityMedium,
		Status:          StatusNew,
		OccurrenceCount: 1,
		FirstSeen:       firstSeen,
		LastSeen:        firstSeen,
		CreatedAt:       firstSeen,
		UpdatedAt:       firstSeen,
	}

	raw, err := json.Marshal(a)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	var got struct {
		AlertID   string `json:"alert_id"`
		Timestamp int64  `json:"timestamp"`
		FirstSeen string `json:"first_seen"`
	}
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}

	if got.AlertID != "a1" {
		t.Errorf("alert_id = %s, want a1", got.AlertID)
	}
	if want := firstSeen.Unix(); got.Timestamp != want {
		t.Errorf("timestamp = %d, want %d", got.Timestamp, want)
	}
	if got.FirstSeen == "" {
		t.Error("first_seen missing from serialized alert")
	}
}
