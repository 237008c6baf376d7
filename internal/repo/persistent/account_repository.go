package persistent

import (
	"time"

	"tootplan/internal/entity"
	"tootplan/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type AccountRepository interface {
	Create(account *entity.Account) error
	GetByID(id string) (*entity.Account, error)
	GetByIDForUser(id, userID string) (*entity.Account, error)
	GetByPlatformIdentity(userID, platform, accountID string) (*entity.Account, error)
	ListByUser(userID string) ([]*entity.Account, error)
	ListByIDsForUser(ids []string, userID string) ([]*entity.Account, error)
	Save(account *entity.Account) error
	Delete(id string) error
}

type accountRepository struct {
	db *gorm.DB
}

func NewAccountRepository(db *gorm.DB) AccountRepository {
	return &accountRepository{db: db}
}

func (r *accountRepository) Create(account *entity.Account) error {
	accountModel := ToAccountModel(account)
	if accountModel.ID == "" {
		accountModel.ID = uuid.New().String()
	}

	if err := r.db.Create(accountModel).Error; err != nil {
		return err
	}

	*account = *ToAccountEntity(accountModel)
	return nil
}

func (r *accountRepository) GetByID(id string) (*entity.Account, error) {
	var accountModel model.AccountModel
	if err := r.db.Where("id = ?", id).First(&accountModel).Error; err != nil {
		return nil, err
	}
	return ToAccountEntity(&accountModel), nil
}

func (r *accountRepository) GetByIDForUser(id, userID string) (*entity.Account, error) {
	var accountModel model.AccountModel
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&accountModel).Error; err != nil {
		return nil, err
	}
	return ToAccountEntity(&accountModel), nil
}

func (r *accountRepository) GetByPlatformIdentity(userID, platform, accountID string) (*entity.Account, error) {
	var accountModel model.AccountModel
	err := r.db.
		Where("user_id = ? AND platform = ? AND account_id = ?", userID, platform, accountID).
		First(&accountModel).Error
	if err != nil {
		return nil, err
	}
	return ToAccountEntity(&accountModel), nil
}

func (r *accountRepository) ListByUser(userID string) ([]*entity.Account, error) {
	var accountModels []model.AccountModel
	if err := r.db.Where("user_id = ?", userID).Order("created_at ASC").Find(&accountModels).Error; err != nil {
		return nil, err
	}

	accounts := make([]*entity.Account, len(accountModels))
	for i := range accountModels {
		accounts[i] = ToAccountEntity(&accountModels[i])
	}
	return accounts, nil
}

func (r *accountRepository) ListByIDsForUser(ids []string, userID string) ([]*entity.Account, error) {
	var accountModels []model.AccountModel
	if err := r.db.Where("id IN ? AND user_id = ?", ids, userID).Find(&accountModels).Error; err != nil {
		return nil, err
	}

	accounts := make([]*entity.Account, len(accountModels))
	for i := range accountModels {
		accounts[i] = ToAccountEntity(&accountModels[i])
	}
	return accounts, nil
}

func (r *accountRepository) Save(account *entity.Account) error {
	return r.db.Save(ToAccountModel(account)).Error
}

func (r *accountRepository) Delete(id string) error {
	return r.db.Delete(&model.AccountModel{}, "id = ?", id).Error
}

type OAuthStateRepository interface {
	Create(state *entity.OAuthState) error
	GetByToken(token string) (*entity.OAuthState, error)
	Delete(id string) error
	PurgeOlderThan(cutoff time.Time) error
}

type oauthStateRepository struct {
	db *gorm.DB
}

func NewOAuthStateRepository(db *gorm.DB) OAuthStateRepository {
	return &oauthStateRepository{db: db}
}

func (r *oauthStateRepository) Create(state *entity.OAuthState) error {
	stateModel := ToOAuthStateModel(state)
	if stateModel.ID == "" {
		stateModel.ID = uuid.New().String()
	}

	if err := r.db.Create(stateModel).Error; err != nil {
		return err
	}

	*state = *ToOAuthStateEntity(stateModel)
	return nil
}

func (r *oauthStateRepository) GetByToken(token string) (*entity.OAuthState, error) {
	var stateModel model.OAuthStateModel
	if err := r.db.Where("state_token = ?", token).First(&stateModel).Error; err != nil {
		return nil, err
	}
	return ToOAuthStateEntity(&stateModel), nil
}

func (r *oauthStateRepository) Delete(id string) error {
	return r.db.Delete(&model.OAuthStateModel{}, "id = ?", id).Error
}

func (r *oauthStateRepository) PurgeOlderThan(cutoff time.Time) error {
	return r.db.Where("created_at < ?", cutoff).Delete(&model.OAuthStateModel{}).Error
}
