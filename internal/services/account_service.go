package services

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"gorm.io/gorm"
)

var (
	// ErrAccountNotFound indicates the user has not configured IMAP settings
	ErrAccountNotFound = errors.New("email account not configured")
	// ErrInvalidAccountData indicates invalid account data
	ErrInvalidAccountData = errors.New("invalid account data")
	// ErrEncryptionFailed indicates password encryption failed
	ErrEncryptionFailed = errors.New("password encryption failed")
	// ErrDecryptionFailed indicates password decryption failed
	ErrDecryptionFailed = errors.New("password decryption failed")
)

// AccountService manages the per-user IMAP connection settings
type AccountService struct {
	db            *gorm.DB
	encryptionKey []byte // 32 bytes for AES-256
	logService    *LogService
}

// NewAccountService creates a new AccountService instance
func NewAccountService(db *gorm.DB, encryptionKey []byte, logService *LogService) *AccountService {
	// Ensure key is 32 bytes for AES-256
	key := make([]byte, 32)
	copy(key, encryptionKey)
	return &AccountService{
		db:            db,
		encryptionKey: key,
		logService:    logService,
	}
}

// encryptPassword encrypts a password using AES-256-GCM
func (s *AccountService) encryptPassword(password string) (string, error) {
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrEncryptionFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrEncryptionFailed
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrEncryptionFailed
	}
	return base64.StdEncoding.EncodeToString(gcm.Seal(nonce, nonce, []byte(password), nil)), nil
}

// decryptPassword decrypts a password using AES-256-GCM
func (s *AccountService) decryptPassword(encrypted string) (string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	block, err := aes.NewCipher(s.encryptionKey)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", ErrDecryptionFailed
	}

	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return "", ErrDecryptionFailed
	}
	nonce, ciphertext := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// SettingsInput is a create-or-update of the IMAP settings.
// Zero values keep the stored value; Password is only replaced when non-empty.
type SettingsInput struct {
	Email              string
	IMAPHost           string
	IMAPPort           int
	Username           string
	Password           string
	UseSSL             *bool
	Folder             string
	ConnectTimeoutSec  int
	GreetingTimeoutSec int
	SocketTimeoutSec   int
	MaxEmails          int
	HistoricalSync     *bool
	ProgressiveLoading *bool
	Enabled            *bool
}

// GetAccount returns the user's settings row
func (s *AccountService) GetAccount(userID uint) (*models.EmailAccount, error) {
	var account models.EmailAccount
	if err := s.db.Where("user_id = ?", userID).First(&account).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAccountNotFound
		}
		return nil, err
	}
	return &account, nil
}

// SaveSettings creates the user's account or updates it in place
func (s *AccountService) SaveSettings(userID uint, input SettingsInput) (*models.EmailAccount, error) {
	account, err := s.GetAccount(userID)
	created := false
	if errors.Is(err, ErrAccountNotFound) {
		if input.IMAPHost == "" || input.Username == "" || input.Password == "" {
			return nil, ErrInvalidAccountData
		}
		account = &models.EmailAccount{
			UserID:             userID,
			UseSSL:             true,
			Folder:             models.FolderInbox,
			ConnectTimeoutSec:  models.DefaultConnectTimeoutSec,
			GreetingTimeoutSec: models.DefaultGreetingTimeoutSec,
			SocketTimeoutSec:   models.DefaultSocketTimeoutSec,
			MaxEmails:          models.DefaultMaxEmails,
			ProgressiveLoading: true,
			Enabled:            true,
		}
		created = true
	} else if err != nil {
		return nil, err
	}

	if input.Email != "" {
		account.Email = strings.TrimSpace(input.Email)
	}
	if input.IMAPHost != "" {
		account.IMAPHost = strings.TrimSpace(input.IMAPHost)
	}
	if input.Username != "" {
		account.Username = input.Username
	}
	if input.UseSSL != nil {
		account.UseSSL = *input.UseSSL
	}
	if input.IMAPPort > 0 {
		account.IMAPPort = input.IMAPPort
	} else if account.IMAPPort == 0 {
		account.IMAPPort = defaultPortFor(account.UseSSL)
	}
	if input.Folder != "" {
		account.Folder = input.Folder
	}
	if input.ConnectTimeoutSec > 0 {
		account.ConnectTimeoutSec = input.ConnectTimeoutSec
	}
	if input.GreetingTimeoutSec > 0 {
		account.GreetingTimeoutSec = input.GreetingTimeoutSec
	}
	if input.SocketTimeoutSec > 0 {
		account.SocketTimeoutSec = input.SocketTimeoutSec
	}
	if input.MaxEmails > 0 {
		account.MaxEmails = input.MaxEmails
	}
	if input.HistoricalSync != nil {
		account.HistoricalSync = *input.HistoricalSync
	}
	if input.ProgressiveLoading != nil {
		account.ProgressiveLoading = *input.ProgressiveLoading
	}
	if input.Enabled != nil {
		account.Enabled = *input.Enabled
	}
	if account.Email == "" {
		account.Email = account.Username
	}
	if input.Password != "" {
		encrypted, err := s.encryptPassword(input.Password)
		if err != nil {
			return nil, err
		}
		account.PasswordEncrypted = encrypted
	}

	if err := s.db.Save(account).Error; err != nil {
		return nil, err
	}

	action := "update"
	if created {
		action = "create"
	}
	s.logService.LogInfo(userID, models.LogModuleAccount, action, "IMAP settings saved", map[string]interface{}{
		"host":    account.IMAPHost,
		"port":    account.IMAPPort,
		"use_ssl": account.UseSSL,
	})
	return account, nil
}

// UpdateAccount persists an account mutated by another service
func (s *AccountService) UpdateAccount(account *models.EmailAccount) error {
	return s.db.Save(account).Error
}

// MarkSynced records the completion time of a successful sync
func (s *AccountService) MarkSynced(userID uint, at time.Time) error {
	return s.db.Model(&models.EmailAccount{}).Where("user_id = ?", userID).Update("last_sync_at", at).Error
}

// ListEnabledAccounts returns every account the scheduler should sync
func (s *AccountService) ListEnabledAccounts() ([]models.EmailAccount, error) {
	var accounts []models.EmailAccount
	if err := s.db.Where("enabled = ?", true).Find(&accounts).Error; err != nil {
		return nil, err
	}
	return accounts, nil
}

// ConnectionSettings resolves the user's stored settings into negotiator input
func (s *AccountService) ConnectionSettings(userID uint) (ConnectionSettings, error) {
	account, err := s.GetAccount(userID)
	if err != nil {
		return ConnectionSettings{}, err
	}
	return s.ToConnectionSettings(account)
}

// ToConnectionSettings decrypts the password and applies defaults
func (s *AccountService) ToConnectionSettings(account *models.EmailAccount) (ConnectionSettings, error) {
	password, err := s.decryptPassword(account.PasswordEncrypted)
	if err != nil {
		return ConnectionSettings{}, err
	}
	return ConnectionSettings{
		UserID:             account.UserID,
		Host:               account.IMAPHost,
		Port:               account.IMAPPort,
		UseTLS:             account.UseSSL,
		Username:           account.Username,
		Password:           password,
		Folder:             account.Folder,
		ConnectTimeout:     time.Duration(account.ConnectTimeoutSec) * time.Second,
		GreetingTimeout:    time.Duration(account.GreetingTimeoutSec) * time.Second,
		SocketTimeout:      time.Duration(account.SocketTimeoutSec) * time.Second,
		MaxEmails:          account.MaxEmails,
		HistoricalSync:     account.HistoricalSync,
		ProgressiveLoading: account.ProgressiveLoading,
	}.withDefaults(), nil
}
