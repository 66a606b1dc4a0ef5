package models

import "encoding/json"

const (
	OpCreate = "CREATE"
	OpUpdate = "UPDATE"
	OpDelete = "DELETE"
)

// ValidOperationType reports whether s is one of the accepted mutation kinds.
func ValidOperationType(s string) bool {
	switch s {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Operation is a single client-originated mutation. All timestamps are epoch
// milliseconds. ReceivedAt is assigned by the server at ingestion; everything
// else comes from the device. Once stored an operation is never mutated.
type Operation struct {
	ID         string          `json:"id" msgpack:"id"`
	Table      string          `json:"table" msgpack:"table"`
	Operation  string          `json:"operation" msgpack:"operation"`
	Data       json.RawMessage `json:"data,omitempty" msgpack:"data"`
	DeviceID   string          `json:"deviceId" msgpack:"device_id"`
	UserID     string          `json:"userId,omitempty" msgpack:"user_id"`
	Timestamp  int64           `json:"timestamp" msgpack:"timestamp"`
	ReceivedAt int64           `json:"receivedAt" msgpack:"received_at"`
}

// DeviceCursor records the last server time at which a device completed a
// push or pull. Devices that have never synced have no cursor at all.
type DeviceCursor struct {
	DeviceID  string `json:"deviceId" msgpack:"device_id"`
	LastSync  int64  `json:"lastSync" msgpack:"last_sync"`
	UpdatedAt int64  `json:"updatedAt" msgpack:"updated_at"`
}

type RejectedOperation struct {
	ID     string `json:"id"`
	Reason string `json:"reason"`
}

type PushResult struct {
	Accepted int                 `json:"accepted"`
	Rejected []RejectedOperation `json:"rejected"`
}

type PullResult struct {
	Operations []Operation `json:"operations"`
	ServerTime int64       `json:"serverTime"`
	// FullResyncRequired is set when the caller's watermark is older than the
	// operation retention window, meaning expired operations may have been
	// missed and local state should be rebuilt from an authoritative source.
	FullResyncRequired bool `json:"fullResyncRequired,omitempty"`
}
