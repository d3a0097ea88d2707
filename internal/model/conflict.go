package model

import "time"

// Resolution is the caller's choice when resolving a conflict manually.
type Resolution string

const (
	ResolutionLocal  Resolution = "local"
	ResolutionServer Resolution = "server"
	ResolutionMerge  Resolution = "merge"
)

// Conflict records two change records touching the same entity field with
// divergent values from different sources. Priorities are carried so the
// resolver can decide whether an automatic pick is allowed.
type Conflict struct {
	ID               string     `json:"id"`
	EntityType       EntityType `json:"entity_type"`
	EntityID         string     `json:"entity_id"`
	Field            string     `json:"field"`
	LocalValue       any        `json:"local_value"`
	RemoteValue      any        `json:"remote_value"`
	LocalTimestamp   time.Time  `json:"local_timestamp"`
	RemoteTimestamp  time.Time  `json:"remote_timestamp"`
	LocalPriority    int64      `json:"local_priority"`
	RemotePriority   int64      `json:"remote_priority"`
	SourceDeviceName string     `json:"source_device_name"`
}
