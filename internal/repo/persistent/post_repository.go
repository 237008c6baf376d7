package persistent

import (
	"time"

	"tootplan/internal/entity"
	"tootplan/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostRepository interface {
	Create(post *entity.Post) error
	GetByID(id string) (*entity.Post, error)
	GetByIDForUser(id, userID string) (*entity.Post, error)
	ListByUser(userID string, status entity.PostStatus, limit, offset int) ([]*entity.Post, error)
	// SelectDue returns scheduled posts whose scheduled_at has passed, earliest
	// first (ties broken by id). It never mutates state.
	SelectDue(now time.Time) ([]*entity.Post, error)
	ListByStatus(status entity.PostStatus) ([]*entity.Post, error)
	Save(post *entity.Post) error
	Delete(id string) error
}

type postRepository struct {
	db *gorm.DB
}

func NewPostRepository(db *gorm.DB) PostRepository {
	return &postRepository{db: db}
}

func (r *postRepository) Create(post *entity.Post) error {
	postModel := ToPostModel(post)
	if postModel.ID == "" {
		postModel.ID = uuid.New().String()
	}

	if err := r.db.Create(postModel).Error; err != nil {
		return err
	}

	mapped, err := ToPostEntity(postModel)
	if err != nil {
		return err
	}
	*post = *mapped
	return nil
}

func (r *postRepository) GetByID(id string) (*entity.Post, error) {
	var postModel model.PostModel
	if err := r.db.Where("id = ?", id).First(&postModel).Error; err != nil {
		return nil, err
	}
	return ToPostEntity(&postModel)
}

func (r *postRepository) GetByIDForUser(id, userID string) (*entity.Post, error) {
	var postModel model.PostModel
	if err := r.db.Where("id = ? AND user_id = ?", id, userID).First(&postModel).Error; err != nil {
		return nil, err
	}
	return ToPostEntity(&postModel)
}

func (r *postRepository) ListByUser(userID string, status entity.PostStatus, limit, offset int) ([]*entity.Post, error) {
	var postModels []model.PostModel
	query := r.db.Where("user_id = ?", userID).Order("scheduled_at DESC")

	if status != "" {
		query = query.Where("status = ?", string(status))
	}
	if limit > 0 {
		query = query.Limit(limit).Offset(offset)
	}

	if err := query.Find(&postModels).Error; err != nil {
		return nil, err
	}
	return toPostEntities(postModels)
}

func (r *postRepository) SelectDue(now time.Time) ([]*entity.Post, error) {
	var postModels []model.PostModel
	err := r.db.
		Where("status = ? AND scheduled_at <= ?", string(entity.StatusScheduled), now).
		Order("scheduled_at ASC, id ASC").
		Find(&postModels).Error
	if err != nil {
		return nil, err
	}
	return toPostEntities(postModels)
}

func (r *postRepository) ListByStatus(status entity.PostStatus) ([]*entity.Post, error) {
	var postModels []model.PostModel
	if err := r.db.Where("status = ?", string(status)).Find(&postModels).Error; err != nil {
		return nil, err
	}
	return toPostEntities(postModels)
}

func (r *postRepository) Save(post *entity.Post) error {
	return r.db.Save(ToPostModel(post)).Error
}

func (r *postRepository) Delete(id string) error {
	return r.db.Delete(&model.PostModel{}, "id = ?", id).Error
}

func toPostEntities(postModels []model.PostModel) ([]*entity.Post, error) {
	posts := make([]*entity.Post, len(postModels))
	for i := range postModels {
		post, err := ToPostEntity(&postModels[i])
		if err != nil {
			return nil, err
		}
		posts[i] = post
	}
	return posts, nil
}
