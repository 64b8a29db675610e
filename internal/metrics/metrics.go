package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MovementsSubmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankline_movements_submitted_total",
		Help: "Movement flows started, by movement type",
	}, []string{"type"})

	MovementsCommitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankline_movements_committed_total",
		Help: "Movements that reached the ledger, by movement type",
	}, []string{"type"})

	MovementsFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankline_movements_failed_total",
		Help: "Movement flows that ended in a typed error, by reason",
	}, []string{"reason"})

	OTPVerifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankline_otp_verifications_total",
		Help: "OTP verification attempts, by result",
	}, []string{"result"})

	HoldsFinalized = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bankline_withdrawal_holds_finalized_total",
		Help: "Withdrawal holds finalized, by outcome",
	}, []string{"outcome"})
)
