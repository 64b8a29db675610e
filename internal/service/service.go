package service

import (
	"github.com/nstepanov/bankline/internal/config"
	"github.com/nstepanov/bankline/internal/repo"
	"github.com/nstepanov/bankline/internal/service/authservice"
	"github.com/nstepanov/bankline/internal/service/holdservice"
	"github.com/nstepanov/bankline/internal/service/movementservice"
	"github.com/nstepanov/bankline/internal/service/otpservice"
	pkgauth "github.com/nstepanov/bankline/pkg/auth"
	"github.com/nstepanov/bankline/pkg/kvstore"
)

type Services struct {
	AuthService     *authservice.Service
	MovementService *movementservice.Service
	HoldService     *holdservice.Service
}

func New(cfg *config.Config, repo *repo.Repositories, store kvstore.Store, sender otpservice.Sender) *Services {
	holdService := holdservice.New(repo.TransactionRepo, repo.AccountRepo, store)
	movementService := movementservice.New(cfg,
		repo.AccountRepo, repo.TransactionRepo, repo.UserRepo,
		holdService, &pkgauth.HashService{}, sender, store)
	authService := authservice.New(repo.UserRepo, repo.AccountRepo, &pkgauth.HashService{}, &pkgauth.JWTService{})

	return &Services{
		AuthService:     authService,
		MovementService: movementService,
		HoldService:     holdService,
	}
}
