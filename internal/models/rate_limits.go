package models

import "time"

// RateLimitRecord counts attempts for identifier+":"+action inside one fixed window.
type RateLimitRecord struct {
	Key         string    `json:"key"`
	Count       int       `json:"count"`
	WindowStart time.Time `json:"window_start"`
}

// FailedAttemptRecord counts consecutive failures for one identifier.
type FailedAttemptRecord struct {
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
}
