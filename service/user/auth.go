package user

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"github.com/KAsare1/strings-server/cmd/models"
	"github.com/KAsare1/strings-server/cmd/utils"
	"github.com/KAsare1/strings-server/db"
)

var (
	emailRegex    = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	usernameRegex = regexp.MustCompile(`^[\p{L}0-9_]{3,20}$`)
	phoneRegex    = regexp.MustCompile(`^\+?[0-9 ()-]{7,20}$`)
)

const (
	minPasswordLength = 6
	// bcrypt ignores everything past 72 bytes
	maxPasswordLength = 72
)

type SignupInput struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	DOB         string `json:"dob"`
	PhoneNumber string `json:"phoneNumber"`
	Email       string `json:"email"`
	Password    string `json:"password"`
}

// AuthResult is returned by signup and login.
type AuthResult struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Signup creates an account and signs a token for it.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	in.Username = strings.TrimSpace(in.Username)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.PhoneNumber = strings.TrimSpace(in.PhoneNumber)

	dob, err := validateSignup(in, s.now())
	if err != nil {
		return nil, err
	}

	if err := s.checkTaken(ctx, in.Username, in.Email, in.PhoneNumber); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.bcryptCost)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	now := s.now()
	user := &models.User{
		Username:     in.Username,
		DisplayName:  in.DisplayName,
		DOB:          dob,
		PhoneNumber:  in.PhoneNumber,
		Email:        in.Email,
		PasswordHash: string(hash),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		if db.IsUniqueViolation(err) {
			// lost a race with a concurrent signup
			if taken := s.checkTaken(ctx, in.Username, in.Email, in.PhoneNumber); taken != nil {
				return nil, taken
			}
			return nil, utils.NewConflictError("username")
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	token, err := s.auth.GenerateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}

	s.logger.Info("user signed up", zap.Uint("user_id", user.ID), zap.String("username", user.Username))
	return &AuthResult{User: user, Token: token}, nil
}

// Login accepts a username, email or phone number as the credential.
func (s *Service) Login(ctx context.Context, credential, password string) (*AuthResult, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, utils.NewValidationError("credential", "is required")
	}
	if password == "" {
		return nil, utils.NewValidationError("password", "is required")
	}

	var user models.User
	err := s.db.WithContext(ctx).
		Where("username = ? OR email = ? OR phone_number = ?", credential, strings.ToLower(credential), credential).
		First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, utils.NewAuthError("Invalid credential or password")
		}
		return nil, fmt.Errorf("error finding user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, utils.NewAuthError("Invalid credential or password")
	}

	token, err := s.auth.GenerateToken(user.ID)
	if err != nil {
		return nil, fmt.Errorf("error generating token: %w", err)
	}
	return &AuthResult{User: &user, Token: token}, nil
}

func validateSignup(in SignupInput, now time.Time) (time.Time, error) {
	required := []struct{ field, value string }{
		{"username", in.Username},
		{"displayName", in.DisplayName},
		{"dob", in.DOB},
		{"phoneNumber", in.PhoneNumber},
		{"email", in.Email},
		{"password", in.Password},
	}
	for _, r := range required {
		if r.value == "" {
			return time.Time{}, utils.NewValidationError(r.field, "is required")
		}
	}

	if !usernameRegex.MatchString(in.Username) {
		return time.Time{}, utils.NewValidationError("username", "must be 3-20 letters, digits or underscores")
	}
	if utf8.RuneCountInString(in.DisplayName) > models.MaxDisplayNameLength {
		return time.Time{}, utils.NewValidationError("displayName", fmt.Sprintf("must be at most %d characters", models.MaxDisplayNameLength))
	}
	if !emailRegex.MatchString(in.Email) {
		return time.Time{}, utils.NewValidationError("email", "invalid email format")
	}
	if !phoneRegex.MatchString(in.PhoneNumber) {
		return time.Time{}, utils.NewValidationError("phoneNumber", "invalid phone number")
	}
	if len(in.Password) < minPasswordLength || len(in.Password) > maxPasswordLength {
		return time.Time{}, utils.NewValidationError("password", fmt.Sprintf("must be %d-%d characters", minPasswordLength, maxPasswordLength))
	}

	dob, err := parseDOB(in.DOB)
	if err != nil {
		return time.Time{}, utils.NewValidationError("dob", "must be a date like 2000-01-31")
	}
	if !dob.Before(now) {
		return time.Time{}, utils.NewValidationError("dob", "must be in the past")
	}
	return dob, nil
}

func parseDOB(v string) (time.Time, error) {
	if t, err := time.Parse("2006-01-02", v); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// checkTaken returns a ConflictError naming the first unique field in use.
func (s *Service) checkTaken(ctx context.Context, username, email, phone string) error {
	var existing []models.User
	if err := s.db.WithContext(ctx).
		Select("username", "email", "phone_number").
		Where("username = ? OR email = ? OR phone_number = ?", username, email, phone).
		Limit(3).
		Find(&existing).Error; err != nil {
		return fmt.Errorf("error checking existing users: %w", err)
	}
	for _, u := range existing {
		switch {
		case u.Username == username:
			return utils.NewConflictError("username")
		case u.Email == email:
			return utils.NewConflictError("email")
		case u.PhoneNumber == phone:
			return utils.NewConflictError("phoneNumber")
		}
	}
	return nil
}
