package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"tootplan/internal/entity"
	"tootplan/internal/platform"
	"tootplan/internal/repo/persistent"
	"tootplan/pkg/crypto"
	"tootplan/pkg/logger"
)

// oauthStateTTL bounds how long a pending Mastodon authorization stays valid.
const oauthStateTTL = 15 * time.Minute

// AccountStatus is the result of a live credential check.
type AccountStatus struct {
	Account  *entity.Account `json:"account"`
	IsActive bool            `json:"is_active"`
	Error    string          `json:"error,omitempty"`
}

type AccountUseCase interface {
	// BeginMastodonAuth registers the app on the instance and returns the URL
	// the user must visit to approve access.
	BeginMastodonAuth(ctx context.Context, userID, instanceURL string) (string, error)
	// CompleteMastodonAuth exchanges the callback code for a token and stores
	// the connected account.
	CompleteMastodonAuth(ctx context.Context, state, code string) (*entity.Account, error)
	ConnectBluesky(ctx context.Context, userID, handle, appPassword string) (*entity.Account, error)
	ListAccounts(userID string) ([]*entity.Account, error)
	// CheckStatus verifies the stored credential against the live platform and
	// persists the resulting active flag.
	CheckStatus(ctx context.Context, accountID, userID string) (*AccountStatus, error)
	DeleteAccount(accountID, userID string) error
}

type accountUseCase struct {
	accountRepo persistent.AccountRepository
	stateRepo   persistent.OAuthStateRepository
	mastodon    *platform.Mastodon
	registry    *platform.Registry
	encryptor   *crypto.FieldEncryptor
	redirectURI string
	logger      *logger.Logger
}

func NewAccountUseCase(
	accountRepo persistent.AccountRepository,
	stateRepo persistent.OAuthStateRepository,
	mastodon *platform.Mastodon,
	registry *platform.Registry,
	encryptor *crypto.FieldEncryptor,
	redirectURI string,
	logger *logger.Logger,
) AccountUseCase {
	return &accountUseCase{
		accountRepo: accountRepo,
		stateRepo:   stateRepo,
		mastodon:    mastodon,
		registry:    registry,
		encryptor:   encryptor,
		redirectURI: redirectURI,
		logger:      logger,
	}
}

func newStateToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func (uc *accountUseCase) BeginMastodonAuth(ctx context.Context, userID, instanceURL string) (string, error) {
	instanceURL = platform.NormalizeInstanceURL(instanceURL)

	clientID, clientSecret, err := uc.mastodon.RegisterApp(ctx, instanceURL, uc.redirectURI)
	if err != nil {
		uc.logger.Error("Failed to register app on %s: %v", instanceURL, err)
		return "", fmt.Errorf("could not register with %s", instanceURL)
	}

	token, err := newStateToken()
	if err != nil {
		return "", fmt.Errorf("failed to start authorization")
	}

	state := &entity.OAuthState{
		StateToken:   token,
		UserID:       userID,
		InstanceURL:  instanceURL,
		ClientID:     clientID,
		ClientSecret: clientSecret,
	}
	if err := uc.stateRepo.Create(state); err != nil {
		uc.logger.Error("Failed to store oauth state: %v", err)
		return "", fmt.Errorf("failed to start authorization")
	}

	// Opportunistic cleanup of abandoned flows.
	if err := uc.stateRepo.PurgeOlderThan(time.Now().Add(-oauthStateTTL)); err != nil {
		uc.logger.Warn("Failed to purge expired oauth states: %v", err)
	}

	return uc.mastodon.AuthURL(instanceURL, clientID, uc.redirectURI, token), nil
}

func (uc *accountUseCase) CompleteMastodonAuth(ctx context.Context, stateToken, code string) (*entity.Account, error) {
	state, err := uc.stateRepo.GetByToken(stateToken)
	if err != nil {
		return nil, fmt.Errorf("invalid or expired authorization state")
	}
	// One-shot: the state is consumed whether the exchange succeeds or not.
	defer func() {
		if err := uc.stateRepo.Delete(state.ID); err != nil {
			uc.logger.Warn("Failed to delete oauth state %s: %v", state.ID, err)
		}
	}()

	if time.Since(state.CreatedAt) > oauthStateTTL {
		return nil, fmt.Errorf("invalid or expired authorization state")
	}

	accessToken, err := uc.mastodon.ExchangeCode(ctx, state.InstanceURL, state.ClientID, state.ClientSecret, uc.redirectURI, code)
	if err != nil {
		uc.logger.Error("Token exchange with %s failed: %v", state.InstanceURL, err)
		return nil, fmt.Errorf("authorization was not accepted by %s", state.InstanceURL)
	}

	info, err := uc.mastodon.VerifyCredential(ctx, platform.Target{InstanceURL: state.InstanceURL}, accessToken)
	if err != nil {
		uc.logger.Error("Credential verification with %s failed: %v", state.InstanceURL, err)
		return nil, fmt.Errorf("could not verify the new credential")
	}

	return uc.saveAccount(state.UserID, entity.PlatformMastodon, state.InstanceURL, accessToken, info)
}

func (uc *accountUseCase) ConnectBluesky(ctx context.Context, userID, handle, appPassword string) (*entity.Account, error) {
	handle = platform.NormalizeHandle(handle)
	if handle == "" || appPassword == "" {
		return nil, fmt.Errorf("handle and app password are required")
	}

	credJSON, err := json.Marshal(platform.BlueskyCredential{
		Identifier:  handle,
		AppPassword: appPassword,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect account")
	}

	adapter, err := uc.registry.Resolve(entity.PlatformBluesky)
	if err != nil {
		return nil, fmt.Errorf("bluesky is not available")
	}

	info, err := adapter.VerifyCredential(ctx, platform.Target{}, string(credJSON))
	if err != nil {
		uc.logger.Error("Bluesky credential verification failed for %s: %v", handle, err)
		return nil, fmt.Errorf("invalid handle or app password")
	}

	return uc.saveAccount(userID, entity.PlatformBluesky, "", string(credJSON), info)
}

// saveAccount encrypts the credential and creates the account, or refreshes
// an existing row for the same platform identity.
func (uc *accountUseCase) saveAccount(userID, platformName, instanceURL, credential string, info *platform.AccountInfo) (*entity.Account, error) {
	encrypted, err := uc.encryptor.Encrypt(credential)
	if err != nil {
		uc.logger.Error("Failed to encrypt credential: %v", err)
		return nil, fmt.Errorf("failed to store credential")
	}

	now := time.Now()

	if existing, err := uc.accountRepo.GetByPlatformIdentity(userID, platformName, info.AccountID); err == nil {
		existing.EncryptedCredentials = encrypted
		existing.DisplayName = info.DisplayName
		existing.AvatarURL = info.AvatarURL
		existing.InstanceURL = instanceURL
		existing.IsActive = true
		existing.LastSyncedAt = &now
		if err := uc.accountRepo.Save(existing); err != nil {
			uc.logger.Error("Failed to update account %s: %v", existing.ID, err)
			return nil, fmt.Errorf("failed to store account")
		}
		uc.logger.Info("Reconnected %s account %s for user %s", platformName, info.AccountID, userID)
		return existing, nil
	}

	account := &entity.Account{
		UserID:               userID,
		Platform:             platformName,
		AccountID:            info.AccountID,
		DisplayName:          info.DisplayName,
		AvatarURL:            info.AvatarURL,
		InstanceURL:          instanceURL,
		EncryptedCredentials: encrypted,
		IsActive:             true,
		LastSyncedAt:         &now,
	}
	if err := uc.accountRepo.Create(account); err != nil {
		uc.logger.Error("Failed to create account: %v", err)
		return nil, fmt.Errorf("failed to store account")
	}

	uc.logger.Info("Connected %s account %s for user %s", platformName, info.AccountID, userID)
	return account, nil
}

func (uc *accountUseCase) ListAccounts(userID string) ([]*entity.Account, error) {
	return uc.accountRepo.ListByUser(userID)
}

func (uc *accountUseCase) CheckStatus(ctx context.Context, accountID, userID string) (*AccountStatus, error) {
	account, err := uc.accountRepo.GetByIDForUser(accountID, userID)
	if err != nil {
		return nil, fmt.Errorf("account not found")
	}

	status := &AccountStatus{Account: account}

	info, verifyErr := uc.verify(ctx, account)
	now := time.Now()
	account.LastSyncedAt = &now

	if verifyErr != nil {
		account.IsActive = false
		status.Error = verifyErr.Error()
	} else {
		account.IsActive = true
		account.DisplayName = info.DisplayName
		account.AvatarURL = info.AvatarURL
	}
	status.IsActive = account.IsActive

	if err := uc.accountRepo.Save(account); err != nil {
		uc.logger.Error("Failed to save account %s after status check: %v", account.ID, err)
		return nil, fmt.Errorf("failed to update account status")
	}
	return status, nil
}

func (uc *accountUseCase) verify(ctx context.Context, account *entity.Account) (*platform.AccountInfo, error) {
	adapter, err := uc.registry.Resolve(account.Platform)
	if err != nil {
		return nil, err
	}

	credential, err := uc.encryptor.Decrypt(account.EncryptedCredentials)
	if err != nil {
		return nil, platform.NewError(platform.KindCredentialDecryption, "Failed to decrypt credentials: %v", err)
	}

	return adapter.VerifyCredential(ctx, platform.Target{InstanceURL: account.InstanceURL}, credential)
}

func (uc *accountUseCase) DeleteAccount(accountID, userID string) error {
	account, err := uc.accountRepo.GetByIDForUser(accountID, userID)
	if err != nil {
		return fmt.Errorf("account not found")
	}
	if err := uc.accountRepo.Delete(account.ID); err != nil {
		uc.logger.Error("Failed to delete account %s: %v", account.ID, err)
		return fmt.Errorf("failed to delete account")
	}
	uc.logger.Info("Deleted %s account %s for user %s", account.Platform, account.AccountID, userID)
	return nil
}
