package post

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KAsare1/strings-server/cmd/models"
	"github.com/KAsare1/strings-server/cmd/utils"
	"github.com/KAsare1/strings-server/db"
	"github.com/KAsare1/strings-server/service/media"
)

// toggleAttempts bounds retries when a concurrent toggle wins the insert race.
const toggleAttempts = 3

// Service implements post creation, retrieval, edits, deletes and the
// like/repost toggles.
type Service struct {
	db       *gorm.DB
	uploader *media.Uploader
	logger   *zap.Logger
	now      func() time.Time
}

func NewService(db *gorm.DB, uploader *media.Uploader, logger *zap.Logger) *Service {
	return &Service{
		db:       db,
		uploader: uploader,
		logger:   logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

type CreatePostInput struct {
	Content    string
	Files      []media.File
	ReplyingTo *uint
}

// CreatedPost is the enriched post plus the number of media files that
// could not be uploaded and were dropped.
type CreatedPost struct {
	EnrichedPost
	FailedUploads int `json:"failedUploads"`
}

type ToggleResult struct {
	Active bool
	Count  int64
}

// CreatePost creates a top-level post, or a comment when ReplyingTo is set.
// Media files that fail to upload are dropped from the post.
func (s *Service) CreatePost(ctx context.Context, authorID uint, in CreatePostInput) (*CreatedPost, error) {
	blank := strings.TrimSpace(in.Content) == ""
	if err := validateContent(in.Content); err != nil {
		return nil, err
	}
	if err := media.Validate("media", in.Files, models.MaxMediaPerPost, s.uploader.MaxBytes()); err != nil {
		return nil, err
	}
	if blank && len(in.Files) == 0 {
		return nil, utils.NewValidationError("content", "content is required when no media is attached")
	}

	if err := s.db.WithContext(ctx).Select("id").First(&models.User{}, authorID).Error; err != nil {
		return nil, notFound(err, "user", authorID)
	}
	if in.ReplyingTo != nil {
		if err := s.db.WithContext(ctx).Select("id").First(&models.Post{}, *in.ReplyingTo).Error; err != nil {
			return nil, notFound(err, "post", *in.ReplyingTo)
		}
	}

	uploaded := s.uploader.UploadAll(ctx, in.Files)
	if uploaded.Failed > 0 {
		s.logger.Warn("post created with dropped media",
			zap.Uint("author_id", authorID),
			zap.Int("failed", uploaded.Failed),
			zap.Int("uploaded", len(uploaded.URLs)),
		)
	}
	if blank && len(uploaded.URLs) == 0 {
		return nil, utils.NewUpstreamError("media upload", errors.New("every media upload failed"))
	}

	now := s.now()
	post := models.Post{
		AuthorID:     authorID,
		Content:      in.Content,
		ReplyingToID: in.ReplyingTo,
	}
	post.CreatedAt = now
	post.UpdatedAt = now

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if in.ReplyingTo != nil {
			// the parent may have been deleted since the check above
			if err := tx.Select("id").First(&models.Post{}, *in.ReplyingTo).Error; err != nil {
				return notFound(err, "post", *in.ReplyingTo)
			}
		}
		if err := tx.Create(&post).Error; err != nil {
			return fmt.Errorf("error creating post: %w", err)
		}
		if len(uploaded.URLs) == 0 {
			return nil
		}
		rows := make([]models.PostMedia, len(uploaded.URLs))
		for i, url := range uploaded.URLs {
			rows[i] = models.PostMedia{PostID: post.ID, Position: i, URL: url}
		}
		if err := tx.Create(&rows).Error; err != nil {
			return fmt.Errorf("error saving post media: %w", err)
		}
		return nil
	})
	if err != nil {
		s.uploader.DeleteAll(context.WithoutCancel(ctx), uploaded.URLs)
		return nil, err
	}

	s.logger.Info("post created",
		zap.Uint("post_id", post.ID),
		zap.Uint("author_id", authorID),
		zap.Bool("comment", post.IsComment()),
	)

	enriched, err := s.GetPost(ctx, post.ID)
	if err != nil {
		return nil, err
	}
	return &CreatedPost{EnrichedPost: *enriched, FailedUploads: uploaded.Failed}, nil
}

// ListPosts returns one page of top-level posts, newest first. meta.total
// counts top-level posts only so it matches what a feed renders.
func (s *Service) ListPosts(ctx context.Context, page, limit int) (*Page[EnrichedPost], error) {
	if page < 1 {
		page = 1
	}
	limit = utils.ClampLimit(limit)

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("replying_to_id IS NULL").
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("error counting posts: %w", err)
	}

	var posts []models.Post
	if err := s.db.WithContext(ctx).
		Scopes(withAuthorAndMedia, newestFirst).
		Where("replying_to_id IS NULL").
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&posts).Error; err != nil {
		return nil, fmt.Errorf("error retrieving posts: %w", err)
	}

	data, err := enrich(ctx, s.db, posts)
	if err != nil {
		return nil, fmt.Errorf("error loading posts: %w", err)
	}
	return &Page[EnrichedPost]{Data: data, Meta: newPageMeta(total, page, limit)}, nil
}

// GetPost returns a single enriched post.
func (s *Service) GetPost(ctx context.Context, postID uint) (*EnrichedPost, error) {
	var post models.Post
	if err := s.db.WithContext(ctx).Scopes(withAuthorAndMedia).First(&post, postID).Error; err != nil {
		return nil, notFound(err, "post", postID)
	}
	enriched, err := enrich(ctx, s.db, []models.Post{post})
	if err != nil {
		return nil, fmt.Errorf("error loading post: %w", err)
	}
	return &enriched[0], nil
}

// ListComments pages through the direct replies of a post, newest first.
func (s *Service) ListComments(ctx context.Context, postID uint, page, limit int) (*Page[PostView], error) {
	if page < 1 {
		page = 1
	}
	limit = utils.ClampLimit(limit)

	if err := s.db.WithContext(ctx).Select("id").First(&models.Post{}, postID).Error; err != nil {
		return nil, notFound(err, "post", postID)
	}

	var total int64
	if err := s.db.WithContext(ctx).Model(&models.Post{}).
		Where("replying_to_id = ?", postID).
		Count(&total).Error; err != nil {
		return nil, fmt.Errorf("error counting comments: %w", err)
	}

	views, err := ListViews(ctx, s.db, func(db *gorm.DB) *gorm.DB {
		return db.Where("replying_to_id = ?", postID).Offset((page - 1) * limit).Limit(limit)
	})
	if err != nil {
		return nil, fmt.Errorf("error retrieving comments: %w", err)
	}
	return &Page[PostView]{Data: views, Meta: newPageMeta(total, page, limit)}, nil
}

// ToggleLike adds userID to the post's reactions, or removes it if present.
func (s *Service) ToggleLike(ctx context.Context, userID, postID uint) (*ToggleResult, error) {
	return toggle(ctx, s.db, postID, userID, models.PostReaction{PostID: postID, UserID: userID, CreatedAt: s.now()})
}

// ToggleRepost adds userID to the post's reposts, or removes it if present.
func (s *Service) ToggleRepost(ctx context.Context, userID, postID uint) (*ToggleResult, error) {
	return toggle(ctx, s.db, postID, userID, models.PostRepost{PostID: postID, UserID: userID, CreatedAt: s.now()})
}

// toggle flips membership in one transaction. The composite primary key
// keeps membership a set; losing an insert race to a concurrent toggle
// retries, so two racing toggles cancel out like two sequential ones.
func toggle[T membership](ctx context.Context, conn *gorm.DB, postID, userID uint, row T) (*ToggleResult, error) {
	var result ToggleResult
	var err error
	for attempt := 0; attempt < toggleAttempts; attempt++ {
		err = conn.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Select("id").First(&models.Post{}, postID).Error; err != nil {
				return notFound(err, "post", postID)
			}

			res := tx.Where("post_id = ? AND user_id = ?", postID, userID).Delete(new(T))
			if res.Error != nil {
				return res.Error
			}
			result.Active = res.RowsAffected == 0
			if result.Active {
				if err := tx.Create(&row).Error; err != nil {
					return err
				}
			}
			return tx.Model(new(T)).Where("post_id = ?", postID).Count(&result.Count).Error
		})
		if !db.IsUniqueViolation(err) {
			break
		}
	}
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// EditPost replaces the content of a post owned by actorID. Media, author,
// creation time and reply target never change.
func (s *Service) EditPost(ctx context.Context, actorID, postID uint, content string) (*EnrichedPost, error) {
	if err := validateContent(content); err != nil {
		return nil, err
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.First(&post, postID).Error; err != nil {
			return notFound(err, "post", postID)
		}
		if post.AuthorID != actorID {
			return utils.NewForbiddenError("only the author can edit this post")
		}
		if strings.TrimSpace(content) == "" {
			var mediaCount int64
			if err := tx.Model(&models.PostMedia{}).Where("post_id = ?", postID).Count(&mediaCount).Error; err != nil {
				return err
			}
			if mediaCount == 0 {
				return utils.NewValidationError("content", "content is required when no media is attached")
			}
		}
		return tx.Model(&post).Updates(map[string]interface{}{
			"content":    content,
			"updated_at": s.now(),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	return s.GetPost(ctx, postID)
}

// DeletePost removes a post owned by actorID together with every reply
// beneath it, their media, reactions and reposts.
func (s *Service) DeletePost(ctx context.Context, actorID, postID uint) error {
	var mediaURLs []string
	var removed []uint

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var post models.Post
		if err := tx.First(&post, postID).Error; err != nil {
			return notFound(err, "post", postID)
		}
		if post.AuthorID != actorID {
			return utils.NewForbiddenError("only the author can delete this post")
		}

		removed = []uint{postID}
		frontier := []uint{postID}
		for len(frontier) > 0 {
			var next []uint
			if err := tx.Model(&models.Post{}).Where("replying_to_id IN ?", frontier).Pluck("id", &next).Error; err != nil {
				return err
			}
			removed = append(removed, next...)
			frontier = next
		}

		if err := tx.Model(&models.PostMedia{}).Where("post_id IN ?", removed).Order("id").Pluck("url", &mediaURLs).Error; err != nil {
			return err
		}
		if err := tx.Where("post_id IN ?", removed).Delete(&models.PostReaction{}).Error; err != nil {
			return fmt.Errorf("error deleting reactions: %w", err)
		}
		if err := tx.Where("post_id IN ?", removed).Delete(&models.PostRepost{}).Error; err != nil {
			return fmt.Errorf("error deleting reposts: %w", err)
		}
		if err := tx.Where("post_id IN ?", removed).Delete(&models.PostMedia{}).Error; err != nil {
			return fmt.Errorf("error deleting media: %w", err)
		}
		if err := tx.Where("id IN ?", removed).Delete(&models.Post{}).Error; err != nil {
			return fmt.Errorf("error deleting posts: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("post deleted",
		zap.Uint("post_id", postID),
		zap.Uint("actor_id", actorID),
		zap.Int("removed", len(removed)),
	)
	s.uploader.DeleteAll(context.WithoutCancel(ctx), mediaURLs)
	return nil
}

func validateContent(content string) error {
	if utf8.RuneCountInString(content) > models.MaxContentLength {
		return utils.NewValidationError("content", fmt.Sprintf("must be at most %d characters", models.MaxContentLength))
	}
	return nil
}

func notFound(err error, resource string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NewNotFoundError(resource, id)
	}
	return err
}
