package model

import "time"

// PredictionRecord is one served prediction, persisted asynchronously for
// the history endpoints.
type PredictionRecord struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	RequestID  string    `gorm:"size:36;not null;uniqueIndex" json:"request_id"`
	Digit      int       `gorm:"not null;index" json:"digit"`
	Confidence float64   `gorm:"not null" json:"confidence"`
	Source     string    `gorm:"size:16;not null" json:"source"`
	LatencyMS  int64     `gorm:"not null" json:"latency_ms"`
	CreatedAt  time.Time `json:"created_at"`
}
