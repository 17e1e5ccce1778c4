package models

import (
	"time"

	"gorm.io/gorm"
)

// Post is either a top-level post or a comment; comments carry ReplyingToID.
type Post struct {
	gorm.Model
	AuthorID     uint        `gorm:"column:author_id;not null;index" json:"authorId"`
	Content      string      `gorm:"column:content;type:text;not null;default:''" json:"content"`
	ReplyingToID *uint       `gorm:"column:replying_to_id;index" json:"replyingTo"`
	Author       *User       `gorm:"foreignKey:AuthorID" json:"author,omitempty"`
	Media        []PostMedia `gorm:"foreignKey:PostID" json:"media,omitempty"`
}

func (p *Post) IsComment() bool {
	return p.ReplyingToID != nil
}

type PostMedia struct {
	ID       uint   `gorm:"primaryKey" json:"id"`
	PostID   uint   `gorm:"column:post_id;not null;index" json:"postId"`
	Position int    `gorm:"column:position;not null" json:"position"`
	URL      string `gorm:"column:url;size:500;not null" json:"url"`
}

// PostReaction is a like. The composite key makes reactions a set.
type PostReaction struct {
	PostID    uint      `gorm:"column:post_id;primaryKey;autoIncrement:false" json:"postId"`
	UserID    uint      `gorm:"column:user_id;primaryKey;autoIncrement:false;index" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

type PostRepost struct {
	PostID    uint      `gorm:"column:post_id;primaryKey;autoIncrement:false" json:"postId"`
	UserID    uint      `gorm:"column:user_id;primaryKey;autoIncrement:false;index" json:"userId"`
	CreatedAt time.Time `json:"createdAt"`
}

const (
	MaxContentLength = 500
	MaxMediaPerPost  = 10
)

// All lists every model in migration order.
func All() []interface{} {
	return []interface{}{
		&User{},
		&Follow{},
		&Post{},
		&PostMedia{},
		&PostReaction{},
		&PostRepost{},
	}
}
