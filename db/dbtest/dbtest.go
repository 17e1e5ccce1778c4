// Package dbtest opens throwaway in-memory databases for tests.
package dbtest

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/KAsare1/strings-server/cmd/config"
	"github.com/KAsare1/strings-server/cmd/models"
	"github.com/KAsare1/strings-server/db"
)

// New returns a migrated in-memory sqlite database private to t.
func New(t testing.TB) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s-%s?mode=memory&cache=shared", name, uuid.NewString())

	conn, err := db.Open(config.DatabaseConfig{Driver: "sqlite", URL: dsn}, logger.Silent)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		_ = db.Close(conn)
	})
	return conn
}

// CreateUser inserts a user whose unique fields derive from username.
func CreateUser(t testing.TB, conn *gorm.DB, username string) *models.User {
	t.Helper()

	h := fnv.New32a()
	h.Write([]byte(username))
	user := &models.User{
		Username:     username,
		DisplayName:  strings.ToUpper(username[:1]) + username[1:],
		DOB:          time.Date(1995, 4, 12, 0, 0, 0, 0, time.UTC),
		PhoneNumber:  fmt.Sprintf("+1%010d", h.Sum32()),
		Email:        username + "@example.com",
		PasswordHash: "not-a-real-hash",
	}
	if err := conn.Create(user).Error; err != nil {
		t.Fatalf("create user %s: %v", username, err)
	}
	return user
}

// DuplicateOnCreate makes the next n creates into table collide: just before
// each one, the same row is inserted through the statement's own connection,
// so the real insert fails with a unique violation. It returns the number of
// collisions injected so far.
func DuplicateOnCreate(t testing.TB, conn *gorm.DB, table string, n int32) *atomic.Int32 {
	t.Helper()

	var injected atomic.Int32
	var inside atomic.Bool
	err := conn.Callback().Create().Before("gorm:create").Register("dbtest:duplicate_"+table, func(tx *gorm.DB) {
		if tx.Statement.Schema == nil || tx.Statement.Schema.Table != table {
			return
		}
		if inside.Load() || injected.Load() >= n {
			return
		}
		inside.Store(true)
		defer inside.Store(false)
		injected.Add(1)
		if err := tx.Session(&gorm.Session{NewDB: true}).Create(tx.Statement.Dest).Error; err != nil {
			tx.AddError(err)
		}
	})
	if err != nil {
		t.Fatalf("register duplicate callback: %v", err)
	}
	return &injected
}
