package dto

import "time"

type HoldResponseDTO struct {
	Reference        int64     `json:"reference" example:"1042"`
	Code             string    `json:"code" example:"914207"`
	Amount           float64   `json:"amount" example:"500.00"`
	ExpiresAt        time.Time `json:"expires_at"`
	RemainingSeconds int       `json:"remaining_seconds" example:"412"`
}
