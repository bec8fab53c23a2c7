package model

import "time"

// Reading is one converted sensor value produced by a poll.
type Reading struct {
	CapteurID int       `json:"capteur_id"`
	Name      string    `json:"name"`
	Unit      string    `json:"unit"`
	Kind      string    `json:"kind,omitempty"`
	Raw       uint16    `json:"raw"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
