package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Snapshot groups the readings of a single device poll.
type Snapshot struct {
	ID         string    `json:"id"`
	DeviceID   string    `json:"device_id"`
	DeviceName string    `json:"device_name"`
	Timestamp  time.Time `json:"timestamp"`
	Readings   []Reading `json:"readings"`
}

func NewSnapshot(deviceID, deviceName string, readings []Reading) *Snapshot {
	return &Snapshot{
		ID:         uuid.New().String(),
		DeviceID:   deviceID,
		DeviceName: deviceName,
		Timestamp:  time.Now().UTC(),
		Readings:   readings,
	}
}

func (s *Snapshot) ToJSON() ([]byte, error) {
	return json.Marshal(s)
}

func SnapshotFromJSON(data []byte) (*Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return &s, nil
}
