package usecase

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"tootplan/internal/entity"
	"tootplan/internal/repo/persistent"
	"tootplan/pkg/logger"
)

// PostProcessor publishes one post synchronously through the same
// claim/dispatch/resolve path the background loop uses.
type PostProcessor interface {
	ProcessPost(ctx context.Context, post *entity.Post) error
}

type PostUseCase interface {
	// CreatePosts creates one post per target account. A nil scheduledAt means
	// publish now; the created posts are driven through a publish attempt
	// before returning.
	CreatePosts(ctx context.Context, userID, content string, scheduledAt *time.Time, accountIDs []string) ([]*entity.Post, error)
	GetPost(postID, userID string) (*entity.Post, error)
	ListPosts(userID, statusFilter string, limit, offset int) ([]*entity.Post, error)
	// RetryPost re-runs a failed or still-scheduled post immediately. The
	// post's retry_count carries over; it only ever increases.
	RetryPost(ctx context.Context, postID, userID string) (*entity.Post, error)
	DeletePost(postID, userID string) error
}

type postUseCase struct {
	postRepo    persistent.PostRepository
	accountRepo persistent.AccountRepository
	processor   PostProcessor
	logger      *logger.Logger
}

func NewPostUseCase(
	postRepo persistent.PostRepository,
	accountRepo persistent.AccountRepository,
	processor PostProcessor,
	logger *logger.Logger,
) PostUseCase {
	return &postUseCase{
		postRepo:    postRepo,
		accountRepo: accountRepo,
		processor:   processor,
		logger:      logger,
	}
}

func validateContent(content string) error {
	if strings.TrimSpace(content) == "" {
		return fmt.Errorf("content is required")
	}
	if len([]rune(content)) > entity.MaxContentLength {
		return fmt.Errorf("content exceeds %d characters", entity.MaxContentLength)
	}
	return nil
}

func (uc *postUseCase) CreatePosts(ctx context.Context, userID, content string, scheduledAt *time.Time, accountIDs []string) ([]*entity.Post, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}
	if len(accountIDs) == 0 {
		return nil, fmt.Errorf("at least one account is required")
	}

	accounts, err := uc.accountRepo.ListByIDsForUser(accountIDs, userID)
	if err != nil {
		uc.logger.Error("Failed to load accounts for user %s: %v", userID, err)
		return nil, fmt.Errorf("failed to load accounts")
	}
	if len(accounts) != len(accountIDs) {
		return nil, fmt.Errorf("one or more accounts were not found")
	}

	publishNow := scheduledAt == nil
	when := time.Now()
	status := entity.StatusScheduled
	if publishNow {
		// Created already claimed: a poll cycle firing between the insert
		// and the publish attempt below must not pick the row up too.
		status = entity.StatusPublishing
	} else {
		when = scheduledAt.UTC()
	}

	posts := make([]*entity.Post, 0, len(accounts))
	for _, account := range accounts {
		post := &entity.Post{
			UserID:      userID,
			AccountID:   account.ID,
			Platform:    account.Platform,
			Content:     content,
			ScheduledAt: when,
			Status:      status,
		}
		if err := uc.postRepo.Create(post); err != nil {
			uc.logger.Error("Failed to create post for account %s: %v", account.ID, err)
			return nil, fmt.Errorf("failed to create post")
		}
		posts = append(posts, post)
	}

	if publishNow {
		for _, post := range posts {
			if err := uc.processor.ProcessPost(ctx, post); err != nil {
				uc.logger.Error("Immediate publish of post %s failed: %v", post.ID, err)
			}
		}
	}

	return posts, nil
}

func (uc *postUseCase) GetPost(postID, userID string) (*entity.Post, error) {
	post, err := uc.postRepo.GetByIDForUser(postID, userID)
	if err != nil {
		return nil, fmt.Errorf("post not found")
	}
	return post, nil
}

const maxPageSize = 100

// ErrInvalidStatusFilter is returned by ListPosts for a status value outside
// the post state enum.
var ErrInvalidStatusFilter = errors.New("invalid status filter")

func (uc *postUseCase) ListPosts(userID, statusFilter string, limit, offset int) ([]*entity.Post, error) {
	if limit <= 0 || limit > maxPageSize {
		limit = maxPageSize
	}
	var status entity.PostStatus
	if statusFilter != "" {
		parsed, err := entity.ParsePostStatus(statusFilter)
		if err != nil {
			return nil, fmt.Errorf("%w %q", ErrInvalidStatusFilter, statusFilter)
		}
		status = parsed
	}
	return uc.postRepo.ListByUser(userID, status, limit, offset)
}

func (uc *postUseCase) RetryPost(ctx context.Context, postID, userID string) (*entity.Post, error) {
	post, err := uc.postRepo.GetByIDForUser(postID, userID)
	if err != nil {
		return nil, fmt.Errorf("post not found")
	}
	if post.Status != entity.StatusFailed && post.Status != entity.StatusScheduled {
		return nil, fmt.Errorf("only failed or scheduled posts can be retried")
	}

	// Claim the post here rather than saving it back to "scheduled": that
	// would open a window for the poll loop to publish it a second time.
	// retry_count is kept; it counts attempts, not attempts since the last
	// manual retry.
	post.Status = entity.StatusPublishing
	post.LastError = ""
	post.ScheduledAt = time.Now()
	if err := uc.postRepo.Save(post); err != nil {
		uc.logger.Error("Failed to claim post %s for retry: %v", post.ID, err)
		return nil, fmt.Errorf("failed to retry post")
	}

	if err := uc.processor.ProcessPost(ctx, post); err != nil {
		uc.logger.Error("Manual retry of post %s failed: %v", post.ID, err)
	}
	return post, nil
}

func (uc *postUseCase) DeletePost(postID, userID string) error {
	post, err := uc.postRepo.GetByIDForUser(postID, userID)
	if err != nil {
		return fmt.Errorf("post not found")
	}
	switch post.Status {
	case entity.StatusPublished:
		return fmt.Errorf("published posts cannot be deleted")
	case entity.StatusPublishing:
		return fmt.Errorf("post is being published and cannot be deleted")
	}
	if err := uc.postRepo.Delete(post.ID); err != nil {
		uc.logger.Error("Failed to delete post %s: %v", post.ID, err)
		return fmt.Errorf("failed to delete post")
	}
	return nil
}
