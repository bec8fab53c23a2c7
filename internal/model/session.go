package model

import "time"

// Session is a named recording of readings owned by a user.
// Once End is set the session no longer accepts measures.
type Session struct {
	ID          int64      `json:"id_session"`
	Name        string     `json:"nom"`
	Description string     `json:"description"`
	Start       time.Time  `json:"date_debut"`
	End         *time.Time `json:"date_fin"`
	Interval    int        `json:"intervalle"`
	UserID      int64      `json:"id_utilisateur"`
	Measures    []Measure  `json:"mesures,omitempty"`
}

func (s *Session) Ended() bool {
	return s.End != nil
}

type Measure struct {
	CapteurID int       `json:"capteur_id"`
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}
