package models

import "time"

// User is an account. Its post, comment, like, repost and follow lists are
// derived from posts, post_reactions, post_reposts and follows.
type User struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	Username     string    `gorm:"column:username;size:30;not null;uniqueIndex" json:"username"`
	DisplayName  string    `gorm:"column:display_name;size:50;not null" json:"displayName"`
	DOB          time.Time `gorm:"column:dob;not null" json:"dob"`
	PhoneNumber  string    `gorm:"column:phone_number;size:20;not null;uniqueIndex" json:"phoneNumber"`
	Email        string    `gorm:"column:email;size:255;not null;uniqueIndex" json:"email"`
	PasswordHash string    `gorm:"column:password_hash;size:255;not null" json:"-"`
	Avatar       string    `gorm:"column:avatar;size:500;not null;default:''" json:"avatar"`
	Bio          string    `gorm:"column:bio;size:160;not null;default:''" json:"bio"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// Follow is one edge of the follow graph. A single row is both the
// follower's "following" entry and the followee's "followers" entry.
type Follow struct {
	FollowerID uint      `gorm:"column:follower_id;primaryKey;autoIncrement:false" json:"followerId"`
	FolloweeID uint      `gorm:"column:followee_id;primaryKey;autoIncrement:false;index" json:"followeeId"`
	CreatedAt  time.Time `json:"createdAt"`
}

const (
	MaxBioLength         = 160
	MaxDisplayNameLength = 50
)
