package db

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/pysugar/chat-relay/internal/db/models"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// InitDB opens the SQLite database and runs migrations.
func InitDB(dbPath string, level logger.LogLevel) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(level),
	})
	if err != nil {
		return nil, err
	}
	if err := Migrate(db); err != nil {
		return nil, err
	}
	return db, nil
}

// Migrate creates or updates every table the relay reads or writes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Account{},
		&models.BrowserSession{},
		&models.Quota{},
		&models.Request{},
		&models.UsageLog{},
		&models.Alert{},
		&models.APIKey{},
	)
}

// HashAPIKey returns the hex SHA-256 digest stored in place of a raw key.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// GenerateAPIKey returns a new random key: sk-<32 hex chars>.
func GenerateAPIKey() string {
	keyBytes := make([]byte, 16)
	rand.Read(keyBytes)
	return "sk-" + hex.EncodeToString(keyBytes)
}

// EnsureAPIKey creates a first-run key for userID when the user has none.
// The raw key is only returned when it was just created; otherwise it is empty.
func EnsureAPIKey(db *gorm.DB, userID string) (string, error) {
	var existing models.APIKey
	err := db.Where("user_id = ? AND revoked = ?", userID, false).First(&existing).Error
	if err == nil {
		return "", nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return "", err
	}
	return CreateAPIKey(db, userID, "default")
}

// CreateAPIKey stores a new key for userID and returns the raw key.
func CreateAPIKey(db *gorm.DB, userID, name string) (string, error) {
	apiKey := GenerateAPIKey()
	row := models.APIKey{
		ID:      uuid.New().String(),
		UserID:  userID,
		Name:    name,
		KeyHash: HashAPIKey(apiKey),
	}
	if err := db.Create(&row).Error; err != nil {
		return "", fmt.Errorf("create api key: %w", err)
	}
	return apiKey, nil
}

// LookupAPIKey resolves a raw key to its non-revoked record.
func LookupAPIKey(db *gorm.DB, rawKey string) (*models.APIKey, error) {
	var key models.APIKey
	if err := db.Where("key_hash = ? AND revoked = ?", HashAPIKey(rawKey), false).First(&key).Error; err != nil {
		return nil, err
	}
	return &key, nil
}
