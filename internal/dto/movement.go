package dto

import "time"

type MovementRequestDTO struct {
	Type         string  `json:"type" example:"fund-transfer"`
	Amount       float64 `json:"amount" example:"250.00"`
	Recipient    string  `json:"recipient" example:"12345678"`
	Counterparty string  `json:"counterparty,omitempty" example:"First National Bank"`
	Description  string  `json:"description,omitempty" example:"rent"`
}

type MovementFlowResponseDTO struct {
	FlowID        string  `json:"flow_id" example:"1f6f7b2e-57a7-4d4e-9f3a-2f4a9b8a3b6e"`
	Type          string  `json:"type" example:"fund-transfer"`
	Amount        float64 `json:"amount" example:"250.00"`
	Fee           float64 `json:"fee" example:"0"`
	Recipient     string  `json:"recipient" example:"12345678"`
	RecipientName string  `json:"recipient_name,omitempty" example:"Jane Smith"`
}

type VerifyRequestDTO struct {
	Code string `json:"code" example:"482916"`
	PIN  string `json:"pin,omitempty" example:"1234"`
}

type ReceiptResponseDTO struct {
	Reference    int64      `json:"reference" example:"1042"`
	Type         string     `json:"type" example:"fund-transfer"`
	Status       string     `json:"status" example:"Successfully Completed"`
	Amount       float64    `json:"amount" example:"250.00"`
	Fee          float64    `json:"fee" example:"0"`
	Counterparty string     `json:"counterparty" example:"12345678"`
	BalanceAfter float64    `json:"balance_after" example:"750.00"`
	CreatedAt    time.Time  `json:"created_at" example:"2020-12-09T16:09:57+03:00"`
	Code         string     `json:"code,omitempty" example:"914207"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

type LockedResponseDTO struct {
	Message          string `json:"message"`
	RemainingSeconds int    `json:"remaining_seconds" example:"60"`
}
