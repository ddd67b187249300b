package services

import (
	"testing"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Feature: 账户密码加密往返
// For any password, decrypting the stored ciphertext yields the original password,
// and two encryptions of the same password never produce the same ciphertext.
func TestProperty_PasswordEncryptionRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	service := NewAccountService(nil, testEncryptionKey, nil)

	properties.Property("decrypt_inverts_encrypt", prop.ForAll(
		func(password string) bool {
			encrypted, err := service.encryptPassword(password)
			if err != nil {
				return false
			}
			decrypted, err := service.decryptPassword(encrypted)
			return err == nil && decrypted == password
		},
		gen.AnyString(),
	))

	properties.Property("ciphertext_is_randomised", prop.ForAll(
		func(password string) bool {
			a, _ := service.encryptPassword(password)
			b, _ := service.encryptPassword(password)
			return a != b
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestDecryptWithWrongKeyFails(t *testing.T) {
	a := NewAccountService(nil, testEncryptionKey, nil)
	b := NewAccountService(nil, []byte("another-key-of-thirty-two-bytes!"), nil)

	encrypted, _ := a.encryptPassword("secret")
	if _, err := b.decryptPassword(encrypted); err != ErrDecryptionFailed {
		t.Errorf("Expected ErrDecryptionFailed, got %v", err)
	}
	if _, err := a.decryptPassword("not-base64!"); err != ErrDecryptionFailed {
		t.Errorf("Expected ErrDecryptionFailed for garbage, got %v", err)
	}
}

func TestSaveSettingsCreateAndUpdate(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	service := NewAccountService(db, testEncryptionKey, NewLogService(db, nil))

	user := &models.User{Username: "alice", PasswordHash: "hash"}
	db.Create(user)

	if _, err := service.SaveSettings(user.ID, SettingsInput{IMAPHost: "imap.example.org"}); err != ErrInvalidAccountData {
		t.Fatalf("Creating without credentials should fail, got %v", err)
	}

	account, err := service.SaveSettings(user.ID, SettingsInput{
		IMAPHost: "imap.example.org",
		Username: "alice@example.org",
		Password: "app-password",
	})
	if err != nil {
		t.Fatalf("SaveSettings failed: %v", err)
	}
	if !account.UseSSL || account.IMAPPort != models.DefaultTLSPort || account.Folder != "INBOX" || !account.Enabled {
		t.Errorf("Unexpected defaults %+v", account)
	}
	if account.Email != "alice@example.org" {
		t.Errorf("Email should default to the username, got %q", account.Email)
	}

	// Disabling and switching to plain text must persist false values
	_, err = service.SaveSettings(user.ID, SettingsInput{
		UseSSL:             boolPtr(false),
		IMAPPort:           143,
		Enabled:            boolPtr(false),
		ProgressiveLoading: boolPtr(false),
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	stored, _ := service.GetAccount(user.ID)
	if stored.UseSSL || stored.Enabled || stored.ProgressiveLoading || stored.IMAPPort != 143 {
		t.Errorf("Update not persisted: %+v", stored)
	}

	settings, err := service.ConnectionSettings(user.ID)
	if err != nil {
		t.Fatalf("ConnectionSettings failed: %v", err)
	}
	if settings.Password != "app-password" {
		t.Error("Password should survive an update that leaves it empty")
	}
	if settings.ConnectTimeout != 30*time.Second || settings.GreetingTimeout != 15*time.Second {
		t.Errorf("Unexpected timeouts %v/%v", settings.ConnectTimeout, settings.GreetingTimeout)
	}

	enabled, _ := service.ListEnabledAccounts()
	if len(enabled) != 0 {
		t.Errorf("Disabled account should not be listed, got %d", len(enabled))
	}
}

func TestGetAccountNotFound(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	service := NewAccountService(db, testEncryptionKey, NewLogService(db, nil))

	if _, err := service.GetAccount(42); err != ErrAccountNotFound {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
	if _, err := service.ConnectionSettings(42); err != ErrAccountNotFound {
		t.Errorf("Expected ErrAccountNotFound, got %v", err)
	}
}
