package usecase

import (
	"fmt"

	"tootplan/internal/entity"
	"tootplan/internal/repo/persistent"
	"tootplan/pkg/jwt"
	"tootplan/pkg/logger"

	"golang.org/x/crypto/bcrypt"
)

type AuthUseCase interface {
	// Setup creates the first (and only) user. It fails once any user exists.
	Setup(username, password string) (*entity.User, string, error)
	Login(username, password string) (*entity.User, string, error)
	GetUser(userID string) (*entity.User, error)
	// NeedsSetup reports whether no user has been created yet.
	NeedsSetup() (bool, error)
}

type authUseCase struct {
	userRepo persistent.UserRepository
	jwt      *jwt.Service
	logger   *logger.Logger
}

func NewAuthUseCase(userRepo persistent.UserRepository, jwtService *jwt.Service, logger *logger.Logger) AuthUseCase {
	return &authUseCase{
		userRepo: userRepo,
		jwt:      jwtService,
		logger:   logger,
	}
}

const minPasswordLength = 8

// bcrypt silently ignores input beyond 72 bytes, so truncate explicitly to
// keep hashing and verification consistent.
func bcryptInput(password string) []byte {
	b := []byte(password)
	if len(b) > 72 {
		b = b[:72]
	}
	return b
}

func (uc *authUseCase) Setup(username, password string) (*entity.User, string, error) {
	if username == "" {
		return nil, "", fmt.Errorf("username is required")
	}
	if len(password) < minPasswordLength {
		return nil, "", fmt.Errorf("password must be at least %d characters", minPasswordLength)
	}

	count, err := uc.userRepo.Count()
	if err != nil {
		uc.logger.Error("Failed to count users: %v", err)
		return nil, "", fmt.Errorf("setup unavailable")
	}
	if count > 0 {
		return nil, "", fmt.Errorf("setup already completed")
	}

	hashed, err := bcrypt.GenerateFromPassword(bcryptInput(password), bcrypt.DefaultCost)
	if err != nil {
		uc.logger.Error("Failed to hash password: %v", err)
		return nil, "", fmt.Errorf("failed to complete setup")
	}

	user := &entity.User{
		Username:     username,
		PasswordHash: string(hashed),
	}
	if err := uc.userRepo.Create(user); err != nil {
		uc.logger.Error("Failed to create user: %v", err)
		return nil, "", fmt.Errorf("failed to create user")
	}

	token, err := uc.jwt.GenerateToken(user.ID)
	if err != nil {
		uc.logger.Error("Failed to generate token: %v", err)
		return nil, "", fmt.Errorf("failed to generate token")
	}

	uc.logger.Info("Initial user %s created", username)
	return user, token, nil
}

func (uc *authUseCase) Login(username, password string) (*entity.User, string, error) {
	user, err := uc.userRepo.GetByUsername(username)
	if err != nil {
		return nil, "", fmt.Errorf("invalid credentials")
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), bcryptInput(password)); err != nil {
		return nil, "", fmt.Errorf("invalid credentials")
	}

	token, err := uc.jwt.GenerateToken(user.ID)
	if err != nil {
		uc.logger.Error("Failed to generate token: %v", err)
		return nil, "", fmt.Errorf("failed to generate token")
	}

	return user, token, nil
}

func (uc *authUseCase) GetUser(userID string) (*entity.User, error) {
	return uc.userRepo.GetByID(userID)
}

func (uc *authUseCase) NeedsSetup() (bool, error) {
	count, err := uc.userRepo.Count()
	if err != nil {
		return false, err
	}
	return count == 0, nil
}
