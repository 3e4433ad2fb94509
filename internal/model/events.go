package model

import "time"

// Domain events emitted by the store on committed state changes. The
// notification, activity-feed and audit subsystems consume these; the
// core only guarantees they fire after commit.
type EventType string

const (
	EventRelationshipAdded   EventType = "relationship_added"
	EventRelationshipRemoved EventType = "relationship_removed"
	EventProfilesMerged      EventType = "profiles_merged"
	EventBridgeAccepted      EventType = "bridge_accepted"
)

type Event struct {
	Type      EventType      `json:"type"`
	At        time.Time      `json:"at"`
	PersonIDs []string       `json:"person_ids,omitempty"`
	EdgeID    string         `json:"edge_id,omitempty"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// EventSink receives committed events. Sinks must not block; slow
// consumers should hand off to their own queue.
type EventSink func(Event)
