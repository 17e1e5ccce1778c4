package user

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/KAsare1/strings-server/cmd/models"
	"github.com/KAsare1/strings-server/cmd/utils"
	"github.com/KAsare1/strings-server/db"
	"github.com/KAsare1/strings-server/service/media"
	"github.com/KAsare1/strings-server/service/post"
)

const followAttempts = 3

// Service owns accounts, profiles and the follow graph.
type Service struct {
	db         *gorm.DB
	uploader   *media.Uploader
	auth       *utils.Authenticator
	bcryptCost int
	logger     *zap.Logger
	now        func() time.Time
}

func NewService(db *gorm.DB, uploader *media.Uploader, auth *utils.Authenticator, bcryptCost int, logger *zap.Logger) *Service {
	if bcryptCost == 0 {
		bcryptCost = bcrypt.DefaultCost
	}
	return &Service{
		db:         db,
		uploader:   uploader,
		auth:       auth,
		bcryptCost: bcryptCost,
		logger:     logger,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// PublicUser is what anyone may see of a user: no email, phone number or
// date of birth.
type PublicUser struct {
	post.AuthorSummary
	Bio            string    `json:"bio"`
	CreatedAt      time.Time `json:"createdAt"`
	FollowersCount int64     `json:"followersCount"`
	FollowingCount int64     `json:"followingCount"`
}

// Profile is everything shown on a user's profile page.
type Profile struct {
	User          PublicUser           `json:"user"`
	Posts         []post.PostView      `json:"posts"`
	Comments      []post.PostView      `json:"comments"`
	LikedPosts    []post.PostView      `json:"likedPosts"`
	RepostedPosts []post.PostView      `json:"repostedPosts"`
	Followers     []post.AuthorSummary `json:"followers"`
	Following     []post.AuthorSummary `json:"following"`
}

// GetFullProfile resolves a user and all of their derived lists.
func (s *Service) GetFullProfile(ctx context.Context, userID uint) (*Profile, error) {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile := &Profile{User: *user}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		profile.Posts, err = post.ListViews(gctx, s.db, func(q *gorm.DB) *gorm.DB {
			return q.Where("author_id = ? AND replying_to_id IS NULL", userID)
		})
		return err
	})
	g.Go(func() (err error) {
		profile.Comments, err = post.ListViews(gctx, s.db, func(q *gorm.DB) *gorm.DB {
			return q.Where("author_id = ? AND replying_to_id IS NOT NULL", userID)
		})
		return err
	})
	g.Go(func() (err error) {
		liked := s.db.Model(&models.PostReaction{}).Select("post_id").Where("user_id = ?", userID)
		profile.LikedPosts, err = post.ListViews(gctx, s.db, func(q *gorm.DB) *gorm.DB {
			return q.Where("id IN (?)", liked)
		})
		return err
	})
	g.Go(func() (err error) {
		reposted := s.db.Model(&models.PostRepost{}).Select("post_id").Where("user_id = ?", userID)
		profile.RepostedPosts, err = post.ListViews(gctx, s.db, func(q *gorm.DB) *gorm.DB {
			return q.Where("id IN (?)", reposted)
		})
		return err
	})
	g.Go(func() (err error) {
		profile.Followers, err = s.followEdges(gctx, "follower_id", "followee_id", userID)
		return err
	})
	g.Go(func() (err error) {
		profile.Following, err = s.followEdges(gctx, "followee_id", "follower_id", userID)
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("error loading profile: %w", err)
	}
	return profile, nil
}

// followEdges lists the users on the far side of userID's follow edges,
// oldest edge first.
func (s *Service) followEdges(ctx context.Context, joinCol, matchCol string, userID uint) ([]post.AuthorSummary, error) {
	var users []models.User
	if err := s.db.WithContext(ctx).
		Joins(fmt.Sprintf("JOIN follows ON follows.%s = users.id", joinCol)).
		Where(fmt.Sprintf("follows.%s = ?", matchCol), userID).
		Order("follows.created_at ASC").
		Order("users.id ASC").
		Find(&users).Error; err != nil {
		return nil, err
	}
	out := make([]post.AuthorSummary, len(users))
	for i := range users {
		out[i] = post.AuthorSummaryOf(&users[i])
	}
	return out, nil
}

func (s *Service) GetUser(ctx context.Context, userID uint) (*PublicUser, error) {
	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, notFound(err, "user", userID)
	}
	return s.withCounts(ctx, &user)
}

func (s *Service) GetUserByUsername(ctx context.Context, username string) (*PublicUser, error) {
	var user models.User
	if err := s.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewNotFoundError("user", username)
		}
		return nil, err
	}
	return s.withCounts(ctx, &user)
}

// CheckUsername reports whether username is well formed and unused.
func (s *Service) CheckUsername(ctx context.Context, username string) (bool, error) {
	if !usernameRegex.MatchString(username) {
		return false, utils.NewValidationError("username", "must be 3-20 letters, digits or underscores")
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&models.User{}).Where("username = ?", username).Count(&n).Error; err != nil {
		return false, err
	}
	return n == 0, nil
}

func (s *Service) withCounts(ctx context.Context, user *models.User) (*PublicUser, error) {
	out := &PublicUser{
		AuthorSummary: post.AuthorSummaryOf(user),
		Bio:           user.Bio,
		CreatedAt:     user.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Model(&models.Follow{}).Where("followee_id = ?", user.ID).Count(&out.FollowersCount).Error; err != nil {
		return nil, err
	}
	if err := s.db.WithContext(ctx).Model(&models.Follow{}).Where("follower_id = ?", user.ID).Count(&out.FollowingCount).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ProfileUpdate patches the editable profile fields. Nil fields are left
// alone; username, email, phone and dob are not editable here.
type ProfileUpdate struct {
	DisplayName *string
	Bio         *string
	Avatar      *media.File
}

type UpdatedUser struct {
	*models.User
	AvatarUploadFailed bool `json:"avatarUploadFailed,omitempty"`
}

// UpdateProfile applies the text fields even when the avatar upload fails;
// the result then reports AvatarUploadFailed. An avatar-only update that
// fails is an UpstreamError.
func (s *Service) UpdateProfile(ctx context.Context, userID uint, in ProfileUpdate) (*UpdatedUser, error) {
	updates := map[string]interface{}{}
	if in.DisplayName != nil {
		name := strings.TrimSpace(*in.DisplayName)
		if name == "" {
			return nil, utils.NewValidationError("displayName", "cannot be blank")
		}
		if utf8.RuneCountInString(name) > models.MaxDisplayNameLength {
			return nil, utils.NewValidationError("displayName", fmt.Sprintf("must be at most %d characters", models.MaxDisplayNameLength))
		}
		updates["display_name"] = name
	}
	if in.Bio != nil {
		if utf8.RuneCountInString(*in.Bio) > models.MaxBioLength {
			return nil, utils.NewValidationError("bio", fmt.Sprintf("must be at most %d characters", models.MaxBioLength))
		}
		updates["bio"] = *in.Bio
	}
	if in.Avatar != nil {
		if err := media.Validate("avatar", []media.File{*in.Avatar}, 1, s.uploader.MaxBytes()); err != nil {
			return nil, err
		}
	}

	var user models.User
	if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
		return nil, notFound(err, "user", userID)
	}

	result := &UpdatedUser{}
	if in.Avatar != nil {
		url, err := s.uploader.Upload(ctx, *in.Avatar)
		switch {
		case err == nil:
			updates["avatar"] = url
		case len(updates) == 0:
			return nil, utils.NewUpstreamError("avatar upload", err)
		default:
			s.logger.Warn("avatar upload failed, applying remaining fields",
				zap.Uint("user_id", userID),
				zap.Error(err),
			)
			result.AvatarUploadFailed = true
		}
	}

	if len(updates) > 0 {
		updates["updated_at"] = s.now()
		if err := s.db.WithContext(ctx).Model(&user).Updates(updates).Error; err != nil {
			if url, ok := updates["avatar"].(string); ok {
				s.uploader.DeleteAll(context.WithoutCancel(ctx), []string{url})
			}
			return nil, fmt.Errorf("error updating user: %w", err)
		}
		if err := s.db.WithContext(ctx).First(&user, userID).Error; err != nil {
			return nil, err
		}
	}

	result.User = &user
	return result, nil
}

// UploadAvatar replaces the avatar. Upload failure fails the request.
func (s *Service) UploadAvatar(ctx context.Context, userID uint, file media.File) (*models.User, error) {
	updated, err := s.UpdateProfile(ctx, userID, ProfileUpdate{Avatar: &file})
	if err != nil {
		return nil, err
	}
	return updated.User, nil
}

type FollowResult struct {
	IsFollowing    bool  `json:"isFollowing"`
	FollowersCount int64 `json:"followersCount"`
}

// ToggleFollow makes actorID follow targetID, or unfollow if it already does.
func (s *Service) ToggleFollow(ctx context.Context, actorID, targetID uint) (*FollowResult, error) {
	if actorID == targetID {
		return nil, utils.NewValidationError("id", "you cannot follow yourself")
	}

	var result FollowResult
	var err error
	for attempt := 0; attempt < followAttempts; attempt++ {
		err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			if err := tx.Select("id").First(&models.User{}, targetID).Error; err != nil {
				return notFound(err, "user", targetID)
			}

			res := tx.Where("follower_id = ? AND followee_id = ?", actorID, targetID).Delete(&models.Follow{})
			if res.Error != nil {
				return res.Error
			}
			result.IsFollowing = res.RowsAffected == 0
			if result.IsFollowing {
				edge := models.Follow{FollowerID: actorID, FolloweeID: targetID, CreatedAt: s.now()}
				if err := tx.Create(&edge).Error; err != nil {
					return err
				}
			}
			return tx.Model(&models.Follow{}).Where("followee_id = ?", targetID).Count(&result.FollowersCount).Error
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

func notFound(err error, resource string, id uint) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return utils.NewNotFoundError(resource, id)
	}
	return err
}
