package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	_ "github.com/nstepanov/bankline/docs"
	accounthandlers "github.com/nstepanov/bankline/internal/handlers/account"
	authhandlers "github.com/nstepanov/bankline/internal/handlers/auth"
	movementhandlers "github.com/nstepanov/bankline/internal/handlers/movement"
	withdrawalhandlers "github.com/nstepanov/bankline/internal/handlers/withdrawal"
	"github.com/nstepanov/bankline/internal/service"
	"github.com/nstepanov/bankline/pkg/auth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger"
)

type AuthHandler interface {
	Register(w http.ResponseWriter, r *http.Request)
	Login(w http.ResponseWriter, r *http.Request)
}

type AccountHandler interface {
	GetAccount(w http.ResponseWriter, r *http.Request)
	GetTransactions(w http.ResponseWriter, r *http.Request)
}

type MovementHandler interface {
	Begin(w http.ResponseWriter, r *http.Request)
	Confirm(w http.ResponseWriter, r *http.Request)
	Resend(w http.ResponseWriter, r *http.Request)
	Verify(w http.ResponseWriter, r *http.Request)
	Cancel(w http.ResponseWriter, r *http.Request)
}

type WithdrawalHandler interface {
	GetHold(w http.ResponseWriter, r *http.Request)
	Claim(w http.ResponseWriter, r *http.Request)
	Cancel(w http.ResponseWriter, r *http.Request)
}

type Handlers struct {
	AuthHandler       AuthHandler
	AccountHandler    AccountHandler
	MovementHandler   MovementHandler
	WithdrawalHandler WithdrawalHandler
}

func New(s *service.Services) *Handlers {
	return &Handlers{
		AuthHandler:       authhandlers.New(s.AuthService),
		AccountHandler:    accounthandlers.New(s.MovementService),
		MovementHandler:   movementhandlers.New(s.MovementService),
		WithdrawalHandler: withdrawalhandlers.New(s.HoldService),
	}
}

func (h *Handlers) InitRoutes(r chi.Router) chi.Router {
	r.Use(
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Logger,
	)
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("doc.json"),
	))
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/user/register", h.AuthHandler.Register)
		r.Post("/user/login", h.AuthHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(auth.AuthMiddleware)
			r.Get("/account", h.AccountHandler.GetAccount)
			r.Get("/transactions", h.AccountHandler.GetTransactions)

			r.Route("/movements", func(r chi.Router) {
				r.Post("/", h.MovementHandler.Begin)
				r.Post("/{flowID}/confirm", h.MovementHandler.Confirm)
				r.Post("/{flowID}/resend", h.MovementHandler.Resend)
				r.Post("/{flowID}/verify", h.MovementHandler.Verify)
				r.Post("/{flowID}/cancel", h.MovementHandler.Cancel)
			})

			r.Route("/withdrawal", func(r chi.Router) {
				r.Get("/", h.WithdrawalHandler.GetHold)
				r.Post("/claim", h.WithdrawalHandler.Claim)
				r.Post("/cancel", h.WithdrawalHandler.Cancel)
			})
		})
	})

	return r
}
