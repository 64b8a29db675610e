package authservice

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/nstepanov/bankline/internal/domain"
	"github.com/nstepanov/bankline/pkg/auth"
	"github.com/nstepanov/bankline/pkg/validate"
	"go.uber.org/zap"
)

type Repo interface {
	FindByLogin(ctx context.Context, login string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) (*domain.User, error)
}

type AccountRepo interface {
	Create(ctx context.Context, userID int, number string) (*domain.Account, error)
	GetByNumber(ctx context.Context, number string) (*domain.Account, error)
}

var (
	ErrLoginTaken         = errors.New("username already taken")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrInvalidPIN         = errors.New("pin must be exactly 4 digits")
)

type Service struct {
	userRepo    Repo
	accountRepo AccountRepo
	hashService auth.HashServiceInterface
	jwtService  auth.JWTServiceInterface
}

func New(repo Repo, accountRepo AccountRepo, hashService auth.HashServiceInterface, jwtService auth.JWTServiceInterface) *Service {
	return &Service{
		userRepo:    repo,
		accountRepo: accountRepo,
		hashService: hashService,
		jwtService:  jwtService,
	}
}

// Register creates the user and opens their account with a fresh 8-digit
// number and a zero balance. The withdrawal PIN is stored hashed, same as
// the password.
func (s *Service) Register(ctx context.Context, login, password, fullName, phone, pin string) (*domain.User, error) {
	existingUser, err := s.userRepo.FindByLogin(ctx, login)
	if err != nil {
		zap.L().Error("can't find user: ", zap.Error(err))
		return nil, err
	}
	if existingUser != nil {
		zap.L().Info("user already exists, login: ", zap.String("login", login))
		return nil, ErrLoginTaken
	}
	if !validate.IsPIN(pin) {
		return nil, ErrInvalidPIN
	}

	hashedPassword, err := s.hashService.Hash(password)
	if err != nil {
		zap.L().Error("can't hash password: ", zap.Error(err))
		return nil, err
	}
	hashedPIN, err := s.hashService.Hash(pin)
	if err != nil {
		zap.L().Error("can't hash pin: ", zap.Error(err))
		return nil, err
	}

	user := &domain.User{
		Login:        login,
		PasswordHash: hashedPassword,
		FullName:     fullName,
		Phone:        phone,
		PINHash:      hashedPIN,
	}
	newUser, err := s.userRepo.Create(ctx, user)
	if err != nil {
		zap.L().Error("can't create user: ", zap.Error(err))
		return nil, err
	}

	if _, err := s.openAccount(ctx, newUser.ID); err != nil {
		zap.L().Error("can't create account: ", zap.Error(err))
		return nil, err
	}

	zap.L().Info("user successfully registered", zap.String("login", login))
	return user, nil
}

// openAccount retries on the off chance a generated number collides.
func (s *Service) openAccount(ctx context.Context, userID int) (*domain.Account, error) {
	for attempt := 0; attempt < 3; attempt++ {
		number, err := generateAccountNumber()
		if err != nil {
			return nil, err
		}
		existing, err := s.accountRepo.GetByNumber(ctx, number)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			continue
		}
		return s.accountRepo.Create(ctx, userID, number)
	}
	return nil, fmt.Errorf("failed to allocate an account number")
}

func (s *Service) Authenticate(ctx context.Context, login, password string) (*domain.User, error) {
	user, err := s.userRepo.FindByLogin(ctx, login)
	if err != nil || user == nil {
		zap.L().Error("invalid credentials", zap.Error(err))
		return nil, ErrInvalidCredentials
	}
	if ok := s.hashService.Compare(user.PasswordHash, password); !ok {
		zap.L().Error("invalid credentials", zap.String("login", login))
		return nil, ErrInvalidCredentials
	}
	zap.L().Info("user successfully authenticated", zap.String("login", login))
	return user, nil
}

func (s *Service) GenerateToken(userID int) (string, error) {
	expirationTime := time.Now().Add(15 * time.Minute)

	token, err := s.jwtService.GenerateJWT(userID, expirationTime)
	if err != nil {
		zap.L().Error("can't generate token: ", zap.Error(err))
		return "", err
	}
	return token, nil
}

func generateAccountNumber() (string, error) {
	// First digit nonzero so the display form is always 8 characters.
	n, err := rand.Int(rand.Reader, big.NewInt(90000000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%08d", n.Int64()+10000000), nil
}
