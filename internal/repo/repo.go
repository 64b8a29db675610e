package repo

import (
	"github.com/nstepanov/bankline/internal/pg"
	accountrepo "github.com/nstepanov/bankline/internal/repo/account-repo"
	transactionrepo "github.com/nstepanov/bankline/internal/repo/transaction-repo"
	userrepo "github.com/nstepanov/bankline/internal/repo/user-repo"
)

type Repositories struct {
	UserRepo        *userrepo.Repository
	AccountRepo     *accountrepo.Repository
	TransactionRepo *transactionrepo.Repository
}

func New(conn pg.Database, txManager pg.TXManager) *Repositories {
	return &Repositories{
		UserRepo:        userrepo.New(conn),
		AccountRepo:     accountrepo.New(conn, txManager),
		TransactionRepo: transactionrepo.New(conn),
	}
}
