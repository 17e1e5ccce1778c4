package post

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/KAsare1/strings-server/cmd/models"
)

// AuthorSummary is the public slice of a user shown next to content.
type AuthorSummary struct {
	ID          uint   `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Avatar      string `json:"avatar"`
}

func AuthorSummaryOf(u *models.User) AuthorSummary {
	if u == nil {
		return AuthorSummary{}
	}
	return AuthorSummary{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: u.DisplayName,
		Avatar:      u.Avatar,
	}
}

// PostView is the API shape of a post or comment.
type PostView struct {
	ID         uint          `json:"id"`
	Author     AuthorSummary `json:"author"`
	Content    string        `json:"content"`
	Media      []string      `json:"media"`
	ReplyingTo *uint         `json:"replyingTo"`
	IsComment  bool          `json:"isComment"`
	Reactions  []uint        `json:"reactions"`
	Reposts    []uint        `json:"reposts"`
	CommentIDs []uint        `json:"commentIds"`
	CreatedAt  time.Time     `json:"createdAt"`
	UpdatedAt  time.Time     `json:"updatedAt"`
}

// EnrichedPost is a post with its direct comments populated, newest first.
// Comments of comments are not populated.
type EnrichedPost struct {
	PostView
	Comments []PostView `json:"comments"`
}

type PageMeta struct {
	Total      int64 `json:"total"`
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalPages int64 `json:"totalPages"`
}

type Page[T any] struct {
	Data []T      `json:"data"`
	Meta PageMeta `json:"meta"`
}

func newPageMeta(total int64, page, limit int) PageMeta {
	return PageMeta{
		Total:      total,
		Page:       page,
		Limit:      limit,
		TotalPages: (total + int64(limit) - 1) / int64(limit),
	}
}

// withAuthorAndMedia preloads what every view needs.
func withAuthorAndMedia(db *gorm.DB) *gorm.DB {
	return db.Preload("Author").Preload("Media", func(db *gorm.DB) *gorm.DB {
		return db.Order("position ASC")
	})
}

// newestFirst orders posts by creation time with id as the tie-break so
// pagination is deterministic.
func newestFirst(db *gorm.DB) *gorm.DB {
	return db.Order("created_at DESC").Order("id DESC")
}

// ListViews loads the posts selected by scope, newest first, as views.
func ListViews(ctx context.Context, db *gorm.DB, scope func(*gorm.DB) *gorm.DB) ([]PostView, error) {
	var posts []models.Post
	if err := db.WithContext(ctx).Scopes(withAuthorAndMedia, scope, newestFirst).Find(&posts).Error; err != nil {
		return nil, err
	}
	return buildViews(ctx, db, posts)
}

func buildViews(ctx context.Context, db *gorm.DB, posts []models.Post) ([]PostView, error) {
	views := make([]PostView, len(posts))
	if len(posts) == 0 {
		return views, nil
	}

	ids := make([]uint, len(posts))
	for i, p := range posts {
		ids[i] = p.ID
	}

	reactions, err := membersByPost[models.PostReaction](ctx, db, ids)
	if err != nil {
		return nil, err
	}
	reposts, err := membersByPost[models.PostRepost](ctx, db, ids)
	if err != nil {
		return nil, err
	}

	var children []models.Post
	if err := db.WithContext(ctx).
		Select("id", "replying_to_id", "created_at").
		Where("replying_to_id IN ?", ids).
		Scopes(newestFirst).
		Find(&children).Error; err != nil {
		return nil, err
	}
	commentIDs := make(map[uint][]uint)
	for _, c := range children {
		commentIDs[*c.ReplyingToID] = append(commentIDs[*c.ReplyingToID], c.ID)
	}

	for i, p := range posts {
		urls := make([]string, len(p.Media))
		for j, m := range p.Media {
			urls[j] = m.URL
		}
		views[i] = PostView{
			ID:         p.ID,
			Author:     AuthorSummaryOf(p.Author),
			Content:    p.Content,
			Media:      urls,
			ReplyingTo: p.ReplyingToID,
			IsComment:  p.IsComment(),
			Reactions:  nonNil(reactions[p.ID]),
			Reposts:    nonNil(reposts[p.ID]),
			CommentIDs: nonNil(commentIDs[p.ID]),
			CreatedAt:  p.CreatedAt,
			UpdatedAt:  p.UpdatedAt,
		}
	}
	return views, nil
}

// enrich builds views and populates one level of comments.
func enrich(ctx context.Context, db *gorm.DB, posts []models.Post) ([]EnrichedPost, error) {
	views, err := buildViews(ctx, db, posts)
	if err != nil {
		return nil, err
	}
	enriched := make([]EnrichedPost, len(views))
	if len(views) == 0 {
		return enriched, nil
	}

	ids := make([]uint, len(views))
	for i, v := range views {
		ids[i] = v.ID
	}
	comments, err := ListViews(ctx, db, func(db *gorm.DB) *gorm.DB {
		return db.Where("replying_to_id IN ?", ids)
	})
	if err != nil {
		return nil, err
	}
	byParent := make(map[uint][]PostView)
	for _, c := range comments {
		byParent[*c.ReplyingTo] = append(byParent[*c.ReplyingTo], c)
	}

	for i, v := range views {
		enriched[i] = EnrichedPost{
			PostView: v,
			Comments: byParent[v.ID],
		}
		if enriched[i].Comments == nil {
			enriched[i].Comments = []PostView{}
		}
	}
	return enriched, nil
}

type membership interface {
	models.PostReaction | models.PostRepost
}

// membersByPost returns user ids per post in the order they joined.
func membersByPost[T membership](ctx context.Context, db *gorm.DB, postIDs []uint) (map[uint][]uint, error) {
	var rows []struct {
		PostID uint
		UserID uint
	}
	if err := db.WithContext(ctx).Model(new(T)).
		Select("post_id", "user_id").
		Where("post_id IN ?", postIDs).
		Order("created_at ASC").Order("user_id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[uint][]uint)
	for _, r := range rows {
		out[r.PostID] = append(out[r.PostID], r.UserID)
	}
	return out, nil
}

func nonNil(ids []uint) []uint {
	if ids == nil {
		return []uint{}
	}
	return ids
}
