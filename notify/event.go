// Package notify fans out row changes on the requests table to in-process
// subscribers. Postgres emits them with pg_notify from a trigger; a Listener
// forwards them into a Hub.
//
// Delivery is at-least-once and unordered across reconnects. Subscribers
// treat each event as a hint and re-read the row.
package notify

import (
	"encoding/json"
	"fmt"
	"time"

	"reviewdesk/lock"
	"reviewdesk/request"
)

// TableRequests is the only table the trigger publishes.
const TableRequests = "requests"

type Op string

const (
	OpInsert Op = "insert"
	OpUpdate Op = "update"
	// OpResync is published after the listener reconnects. Changes made
	// while it was away were lost, so subscribers reload everything.
	OpResync Op = "resync"
)

// Event is one change notification.
type Event struct {
	Table          string         `json:"table"`
	Op             Op             `json:"op"`
	ID             string         `json:"id,omitempty"`
	Kind           request.Kind   `json:"kind,omitempty"`
	PlayerID       string         `json:"player_id,omitempty"`
	BusinessStatus request.Status `json:"business_status,omitempty"`
	Processing     lock.State     `json:"processing"`
	CommittedAt    time.Time      `json:"committed_at"`
}

// Decode parses a pg_notify payload produced by the requests_notify trigger.
func Decode(payload string) (Event, error) {
	var ev Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return Event{}, fmt.Errorf("notify: decode payload: %w", err)
	}
	if ev.Table == "" || ev.ID == "" {
		return Event{}, fmt.Errorf("notify: payload missing table or id")
	}
	switch ev.Op {
	case OpInsert, OpUpdate:
	default:
		return Event{}, fmt.Errorf("notify: unknown op %q", ev.Op)
	}
	return ev, nil
}
