package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/KAsare1/strings-server/cmd/models"
	"github.com/KAsare1/strings-server/cmd/utils"
	"github.com/KAsare1/strings-server/db"
	"github.com/KAsare1/strings-server/db/dbtest"
	"github.com/KAsare1/strings-server/service/media"
	"github.com/KAsare1/strings-server/service/media/mediatest"
	"github.com/KAsare1/strings-server/service/post"
)

type fixture struct {
	users *Service
	posts *post.Service
	db    *gorm.DB
	store *mediatest.MemoryStore
	auth  *utils.Authenticator
}

func newFixture(t *testing.T, failing ...string) *fixture {
	t.Helper()

	conn := dbtest.New(t)
	store := mediatest.NewMemoryStore(failing...)
	uploader, err := media.NewUploader(store, media.UploaderConfig{
		TmpDir:  t.TempDir(),
		Timeout: time.Second,
	}, zap.NewNop())
	require.NoError(t, err)

	auth := utils.NewAuthenticator("test-secret", time.Hour)
	users := NewService(conn, uploader, auth, bcrypt.MinCost, zap.NewNop())
	clock := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	users.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}

	return &fixture{
		users: users,
		posts: post.NewService(conn, uploader, zap.NewNop()),
		db:    conn,
		store: store,
		auth:  auth,
	}
}

func signupInput(username string) SignupInput {
	return SignupInput{
		Username:    username,
		DisplayName: "Test " + username,
		DOB:         "1990-05-17",
		PhoneNumber: "+1 555 010 " + map[string]string{"alice": "0001", "bob": "0002", "carol": "0003"}[username],
		Email:       username + "@example.com",
		Password:    "password123",
	}
}

func TestSignupAndLogin(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.users.Signup(ctx, signupInput("alice"))
	require.NoError(t, err)
	assert.NotZero(t, res.User.ID)
	assert.NotEqual(t, "password123", res.User.PasswordHash)

	session, err := f.auth.ParseToken(res.Token)
	require.NoError(t, err)
	assert.Equal(t, res.User.ID, session.UserID)

	for _, credential := range []string{"alice", "ALICE@example.com", "+1 555 010 0001"} {
		login, err := f.users.Login(ctx, credential, "password123")
		require.NoError(t, err, credential)
		assert.Equal(t, res.User.ID, login.User.ID)
	}

	_, err = f.users.Login(ctx, "alice", "wrong-password")
	assert.True(t, utils.IsAuthError(err))
	_, err = f.users.Login(ctx, "nobody", "password123")
	assert.True(t, utils.IsAuthError(err))
	_, err = f.users.Login(ctx, "alice", "")
	assert.True(t, utils.IsValidationError(err))
}

func TestSignup_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := map[string]func(*SignupInput){
		"missing password": func(in *SignupInput) { in.Password = "" },
		"bad email":        func(in *SignupInput) { in.Email = "not-an-email" },
		"short username":   func(in *SignupInput) { in.Username = "al" },
		"bad dob":          func(in *SignupInput) { in.DOB = "17/05/1990" },
		"future dob":       func(in *SignupInput) { in.DOB = "2999-01-01" },
		"short password":   func(in *SignupInput) { in.Password = "abc" },
		"bad phone":        func(in *SignupInput) { in.PhoneNumber = "call me" },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			in := signupInput("alice")
			mutate(&in)
			_, err := f.users.Signup(ctx, in)
			require.Error(t, err)
			assert.True(t, utils.IsValidationError(err))
		})
	}
}

func TestSignup_Conflicts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.users.Signup(ctx, signupInput("alice"))
	require.NoError(t, err)

	tests := map[string]func(*SignupInput){
		"username":    func(in *SignupInput) {},
		"email":       func(in *SignupInput) { in.Username = "alice2" },
		"phoneNumber": func(in *SignupInput) { in.Username = "alice3"; in.Email = "other@example.com" },
	}
	for field, mutate := range tests {
		t.Run(field, func(t *testing.T) {
			in := signupInput("alice")
			mutate(&in)
			_, err := f.users.Signup(ctx, in)
			var conflict *utils.ConflictError
			require.ErrorAs(t, err, &conflict)
			assert.Equal(t, field, conflict.Field)
		})
	}
}

func TestGetFullProfile_Scenario(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u1 := dbtest.CreateUser(t, f.db, "alice")
	u2 := dbtest.CreateUser(t, f.db, "bob")

	p1, err := f.posts.CreatePost(ctx, u1.ID, post.CreatePostInput{Content: "hello"})
	require.NoError(t, err)
	p2, err := f.posts.CreatePost(ctx, u2.ID, post.CreatePostInput{Content: "reply", ReplyingTo: &p1.ID})
	require.NoError(t, err)

	// like twice: back to no like
	_, err = f.posts.ToggleLike(ctx, u1.ID, p1.ID)
	require.NoError(t, err)
	_, err = f.posts.ToggleLike(ctx, u1.ID, p1.ID)
	require.NoError(t, err)

	profile, err := f.users.GetFullProfile(ctx, u1.ID)
	require.NoError(t, err)
	require.Len(t, profile.Posts, 1)
	assert.Equal(t, p1.ID, profile.Posts[0].ID)
	assert.Empty(t, profile.Comments)
	assert.Empty(t, profile.LikedPosts)
	assert.Empty(t, profile.RepostedPosts)
	assert.Empty(t, profile.Followers)
	assert.Empty(t, profile.Following)
	assert.Equal(t, "alice", profile.User.Username)

	bob, err := f.users.GetFullProfile(ctx, u2.ID)
	require.NoError(t, err)
	assert.Empty(t, bob.Posts)
	require.Len(t, bob.Comments, 1)
	assert.Equal(t, p2.ID, bob.Comments[0].ID)

	_, err = f.users.GetFullProfile(ctx, 999)
	assert.True(t, utils.IsNotFound(err))
}

func TestGetFullProfile_DerivedLists(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, f.db, "alice")
	bob := dbtest.CreateUser(t, f.db, "bob")
	carol := dbtest.CreateUser(t, f.db, "carol")

	older, err := f.posts.CreatePost(ctx, bob.ID, post.CreatePostInput{Content: "older"})
	require.NoError(t, err)
	newer, err := f.posts.CreatePost(ctx, carol.ID, post.CreatePostInput{Content: "newer"})
	require.NoError(t, err)
	require.NoError(t, f.db.Model(&models.Post{}).Where("id = ?", older.ID).
		Update("created_at", time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)).Error)

	for _, id := range []uint{older.ID, newer.ID} {
		_, err := f.posts.ToggleLike(ctx, alice.ID, id)
		require.NoError(t, err)
	}
	_, err = f.posts.ToggleRepost(ctx, alice.ID, older.ID)
	require.NoError(t, err)

	_, err = f.users.ToggleFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	_, err = f.users.ToggleFollow(ctx, carol.ID, alice.ID)
	require.NoError(t, err)

	profile, err := f.users.GetFullProfile(ctx, alice.ID)
	require.NoError(t, err)
	require.Len(t, profile.LikedPosts, 2)
	assert.Equal(t, newer.ID, profile.LikedPosts[0].ID, "newest first")
	assert.Equal(t, older.ID, profile.LikedPosts[1].ID)
	assert.Equal(t, "bob", profile.LikedPosts[1].Author.Username)
	require.Len(t, profile.RepostedPosts, 1)
	assert.Equal(t, older.ID, profile.RepostedPosts[0].ID)
	require.Len(t, profile.Following, 1)
	assert.Equal(t, "bob", profile.Following[0].Username)
	require.Len(t, profile.Followers, 1)
	assert.Equal(t, "carol", profile.Followers[0].Username)
	assert.Equal(t, int64(1), profile.User.FollowersCount)
	assert.Equal(t, int64(1), profile.User.FollowingCount)

	// deleting a liked post drops it from every derived list
	require.NoError(t, f.posts.DeletePost(ctx, bob.ID, older.ID))
	profile, err = f.users.GetFullProfile(ctx, alice.ID)
	require.NoError(t, err)
	assert.Len(t, profile.LikedPosts, 1)
	assert.Empty(t, profile.RepostedPosts)
}

func TestToggleFollow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, f.db, "alice")
	bob := dbtest.CreateUser(t, f.db, "bob")

	res, err := f.users.ToggleFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.True(t, res.IsFollowing)
	assert.Equal(t, int64(1), res.FollowersCount)

	res, err = f.users.ToggleFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.False(t, res.IsFollowing)
	assert.Zero(t, res.FollowersCount)

	_, err = f.users.ToggleFollow(ctx, alice.ID, alice.ID)
	assert.True(t, utils.IsValidationError(err))

	_, err = f.users.ToggleFollow(ctx, alice.ID, 999)
	assert.True(t, utils.IsNotFound(err))
}

func TestToggleFollow_DuplicateInsert(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, f.db, "alice")
	bob := dbtest.CreateUser(t, f.db, "bob")
	collisions := dbtest.DuplicateOnCreate(t, f.db, "follows", 1)

	res, err := f.users.ToggleFollow(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Equal(t, int32(1), collisions.Load())
	assert.True(t, res.IsFollowing)
	assert.Equal(t, int64(1), res.FollowersCount)

	var edges int64
	require.NoError(t, f.db.Model(&models.Follow{}).Count(&edges).Error)
	assert.Equal(t, int64(1), edges)

}

func TestToggleFollow_GivesUpAfterRepeatedDuplicates(t *testing.T) {
	f := newFixture(t)
	alice := dbtest.CreateUser(t, f.db, "alice")
	bob := dbtest.CreateUser(t, f.db, "bob")
	collisions := dbtest.DuplicateOnCreate(t, f.db, "follows", followAttempts)

	_, err := f.users.ToggleFollow(context.Background(), alice.ID, bob.ID)
	assert.True(t, db.IsUniqueViolation(err))
	assert.Equal(t, int32(followAttempts), collisions.Load())

	var edges int64
	require.NoError(t, f.db.Model(&models.Follow{}).Count(&edges).Error)
	assert.Zero(t, edges)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, f.db, "alice")

	name, bio := "Alice A.", "hello there"
	avatar := mediatest.File("me.png", []byte("png"))
	updated, err := f.users.UpdateProfile(ctx, alice.ID, ProfileUpdate{DisplayName: &name, Bio: &bio, Avatar: &avatar})
	require.NoError(t, err)
	assert.Equal(t, name, updated.DisplayName)
	assert.Equal(t, bio, updated.Bio)
	assert.Contains(t, updated.Avatar, "me.png")
	assert.False(t, updated.AvatarUploadFailed)
	assert.Equal(t, alice.Username, updated.Username)
	assert.True(t, alice.DOB.Equal(updated.DOB))

	long := string(make([]rune, models.MaxBioLength+1))
	_, err = f.users.UpdateProfile(ctx, alice.ID, ProfileUpdate{Bio: &long})
	assert.True(t, utils.IsValidationError(err))

	blank := "  "
	_, err = f.users.UpdateProfile(ctx, alice.ID, ProfileUpdate{DisplayName: &blank})
	assert.True(t, utils.IsValidationError(err))

	_, err = f.users.UpdateProfile(ctx, 999, ProfileUpdate{Bio: &bio})
	assert.True(t, utils.IsNotFound(err))
}

func TestUpdateProfile_AvatarFailure(t *testing.T) {
	f := newFixture(t, "me.png")
	ctx := context.Background()
	alice := dbtest.CreateUser(t, f.db, "alice")
	avatar := mediatest.File("me.png", []byte("png"))

	bio := "still updated"
	updated, err := f.users.UpdateProfile(ctx, alice.ID, ProfileUpdate{Bio: &bio, Avatar: &avatar})
	require.NoError(t, err)
	assert.True(t, updated.AvatarUploadFailed)
	assert.Equal(t, bio, updated.Bio)
	assert.Empty(t, updated.Avatar)

	_, err = f.users.UploadAvatar(ctx, alice.ID, avatar)
	assert.True(t, utils.IsUpstream(err))
}

func TestLookups(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := dbtest.CreateUser(t, f.db, "alice")

	got, err := f.users.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, alice.ID, got.ID)

	_, err = f.users.GetUserByUsername(ctx, "nobody")
	assert.True(t, utils.IsNotFound(err))

	available, err := f.users.CheckUsername(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, available)

	available, err = f.users.CheckUsername(ctx, "dave")
	require.NoError(t, err)
	assert.True(t, available)

	_, err = f.users.CheckUsername(ctx, "no spaces")
	assert.True(t, utils.IsValidationError(err))
}
