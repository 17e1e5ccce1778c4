package user

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newRouter(f *fixture) *mux.Router {
	router := mux.NewRouter()
	NewHandler(f.users, f.auth, zap.NewNop()).RegisterRoutes(router)
	return router
}

func serve(router *mux.Router, req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	return rr
}

func jsonRequest(method, url string, v interface{}) *http.Request {
	body, _ := json.Marshal(v)
	req := httptest.NewRequest(method, url, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHandler_SignupLoginProfile(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)

	rr := serve(router, jsonRequest(http.MethodPost, "/auth/signup", signupInput("alice")), "")
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "password")
	var signup AuthResult
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &signup))
	assert.NotEmpty(t, signup.Token)

	rr = serve(router, jsonRequest(http.MethodPost, "/auth/signup", signupInput("alice")), "")
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = serve(router, jsonRequest(http.MethodPost, "/auth/login", loginRequest{Credential: "alice", Password: "nope-nope"}), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(router, jsonRequest(http.MethodPost, "/auth/login", loginRequest{Credential: "alice@example.com", Password: "password123"}), "")
	require.Equal(t, http.StatusOK, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodGet, fmt.Sprintf("/users/%d/profile", signup.User.ID), nil), "")
	require.Equal(t, http.StatusOK, rr.Code)
	var profile map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &profile))
	for _, key := range []string{"user", "posts", "comments", "likedPosts", "repostedPosts", "followers", "following"} {
		assert.Contains(t, profile, key)
	}

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/users/404/profile", nil), "")
	assert.Equal(t, http.StatusNotFound, rr.Code)

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/users/check-username/alice", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"available":false}`, rr.Body.String())

	rr = serve(router, httptest.NewRequest(http.MethodGet, "/users/username/alice", nil), "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"followersCount":0`)

	// public reads never expose contact details
	var public map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &public))
	assert.Equal(t, "alice", public["username"])
	profileUser := profile["user"].(map[string]interface{})
	for _, key := range []string{"email", "phoneNumber", "dob", "passwordHash"} {
		assert.NotContains(t, public, key)
		assert.NotContains(t, profileUser, key)
	}
}

func TestHandler_UpdateMeAndFollow(t *testing.T) {
	f := newFixture(t)
	router := newRouter(f)
	ctx := context.Background()

	alice, err := f.users.Signup(ctx, signupInput("alice"))
	require.NoError(t, err)
	bob, err := f.users.Signup(ctx, signupInput("bob"))
	require.NoError(t, err)

	rr := serve(router, jsonRequest(http.MethodPatch, "/users/me", map[string]string{"bio": "new bio"}), "")
	assert.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = serve(router, jsonRequest(http.MethodPatch, "/users/me", map[string]string{"bio": "new bio"}), alice.Token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	var updated UpdatedUser
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &updated))
	assert.Equal(t, "new bio", updated.Bio)
	assert.Equal(t, alice.User.DisplayName, updated.DisplayName)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("avatar", "face.webp")
	require.NoError(t, err)
	_, err = part.Write([]byte("webp"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/users/me/avatar", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rr = serve(router, req, alice.Token)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.True(t, strings.Contains(rr.Body.String(), "face.webp"))

	followURL := fmt.Sprintf("/users/%d/follow", bob.User.ID)
	rr = serve(router, httptest.NewRequest(http.MethodPost, followURL, nil), alice.Token)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"isFollowing":true,"followersCount":1}`, rr.Body.String())

	rr = serve(router, httptest.NewRequest(http.MethodPost, followURL, nil), bob.Token)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}
