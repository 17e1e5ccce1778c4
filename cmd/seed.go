package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/KAsare1/strings-server/cmd/config"
	"github.com/KAsare1/strings-server/cmd/utils"
	"github.com/KAsare1/strings-server/service/media"
	"github.com/KAsare1/strings-server/service/post"
	"github.com/KAsare1/strings-server/service/user"
)

type seedUser struct {
	input user.SignupInput
	bio   string
}

var seedUsers = []seedUser{
	{
		input: user.SignupInput{
			Username:    "alice",
			DisplayName: "Alice Nguyen",
			DOB:         "1990-01-01",
			PhoneNumber: "0123456789",
			Email:       "alice@example.com",
			Password:    "password123",
		},
		bio: "Hello I'm Alice",
	},
	{
		input: user.SignupInput{
			Username:    "bob",
			DisplayName: "Bob Tran",
			DOB:         "1988-05-05",
			PhoneNumber: "0987654321",
			Email:       "bob@example.com",
			Password:    "password123",
		},
		bio: "Hi I'm Bob",
	},
}

// seed creates alice and bob, alice's first post and bob's reply to it.
// It does nothing if alice already exists.
func seed(ctx context.Context, conn *gorm.DB, store media.Store, cfg *config.Config, logger *zap.Logger) error {
	uploader, err := media.NewUploader(store, media.UploaderConfig{
		TmpDir:  cfg.Media.TmpDir,
		Timeout: cfg.GetUploadTimeout(),
	}, logger)
	if err != nil {
		return err
	}
	auth := utils.NewAuthenticator(cfg.Auth.SecretKey, cfg.GetTokenTTL())
	users := user.NewService(conn, uploader, auth, cfg.Auth.BcryptCost, logger)
	posts := post.NewService(conn, uploader, logger)

	available, err := users.CheckUsername(ctx, seedUsers[0].input.Username)
	if err != nil {
		return err
	}
	if !available {
		logger.Info("seed data already present", zap.String("username", seedUsers[0].input.Username))
		return nil
	}

	ids := make([]uint, len(seedUsers))
	for i, su := range seedUsers {
		res, err := users.Signup(ctx, su.input)
		if err != nil {
			return fmt.Errorf("error creating %s: %w", su.input.Username, err)
		}
		bio := su.bio
		if _, err := users.UpdateProfile(ctx, res.User.ID, user.ProfileUpdate{Bio: &bio}); err != nil {
			return err
		}
		ids[i] = res.User.ID
	}

	first, err := posts.CreatePost(ctx, ids[0], post.CreatePostInput{Content: "My first post on Strings!"})
	if err != nil {
		return err
	}
	reply, err := posts.CreatePost(ctx, ids[1], post.CreatePostInput{Content: "Replying to Alice", ReplyingTo: &first.ID})
	if err != nil {
		return err
	}

	logger.Info("seed done",
		zap.Uints("users", ids),
		zap.Uint("post_id", first.ID),
		zap.Uint("reply_id", reply.ID),
	)
	return nil
}
