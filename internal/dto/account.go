package dto

import "time"

type AccountResponseDTO struct {
	Number  string  `json:"number" example:"31415926"`
	Balance float64 `json:"balance" example:"1000.00"`
}

type TransactionResponseDTO struct {
	Reference    int64     `json:"reference" example:"1042"`
	Amount       float64   `json:"amount" example:"-250.00"`
	Type         string    `json:"type" example:"fund-transfer"`
	Status       string    `json:"status" example:"Successfully Completed"`
	Counterparty string    `json:"counterparty" example:"12345678"`
	Description  string    `json:"description,omitempty" example:"rent"`
	BalanceAfter float64   `json:"balance_after" example:"750.00"`
	CreatedAt    time.Time `json:"created_at" example:"2020-12-09T16:09:57+03:00"`
}
