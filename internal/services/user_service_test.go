package services

import (
	"fmt"
	"testing"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// Feature: 用户凭据校验
// For any valid username and password, a created user verifies with the same
// password and is rejected with any other password.
func TestProperty_UserCredentialVerification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("created_user_verifies_only_with_its_password", prop.ForAll(
		func(suffix uint, password string) bool {
			db, cleanup := setupTestDB(t)
			defer cleanup()
			service := NewUserService(db)

			username := fmt.Sprintf("user%d", suffix)
			if _, err := service.CreateUser(username, password, ""); err != nil {
				return false
			}
			if _, err := service.VerifyPassword(username, password); err != nil {
				return false
			}
			_, err := service.VerifyPassword(username, password+"x")
			return err == ErrInvalidCredentials
		},
		gen.UIntRange(1, 100000),
		gen.AlphaString().Map(func(s string) string {
			if len(s) > 40 {
				s = s[:40]
			}
			return "pw-" + s + "-123"
		}),
	))

	properties.TestingRun(t)
}

func TestCreateUserValidation(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	service := NewUserService(db)

	if _, err := service.CreateUser("bob", "short", ""); err != ErrPasswordTooShort {
		t.Errorf("Expected ErrPasswordTooShort, got %v", err)
	}
	if _, err := service.CreateUser("bob", "long-enough", "Bob"); err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if _, err := service.CreateUser("bob", "long-enough", ""); err != ErrUserAlreadyExists {
		t.Errorf("Expected ErrUserAlreadyExists, got %v", err)
	}
}

func TestDeleteUserRemovesSyncedRows(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	service := NewUserService(db)

	user, err := service.CreateUser("carol", "password1", "")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	db.Create(&models.Email{UserID: user.ID, Folder: "INBOX", MessageID: "<a@example.org>"})
	db.Create(&models.Folder{UserID: user.ID, Path: "INBOX"})
	db.Create(&models.SyncState{UserID: user.ID, Folder: "INBOX"})

	if err := service.DeleteUser(user.ID); err != nil {
		t.Fatalf("DeleteUser failed: %v", err)
	}
	for _, model := range []interface{}{&models.Email{}, &models.Folder{}, &models.SyncState{}} {
		var count int64
		db.Model(model).Where("user_id = ?", user.ID).Count(&count)
		if count != 0 {
			t.Errorf("%T rows left after delete: %d", model, count)
		}
	}
	if _, err := service.GetUserByID(user.ID); err != ErrUserNotFound {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestResetPassword(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	service := NewUserService(db)

	user, _ := service.CreateUser("dave", "password1", "")
	if err := service.ResetPassword(user.ID, "password2"); err != nil {
		t.Fatalf("ResetPassword failed: %v", err)
	}
	if _, err := service.VerifyPassword("dave", "password1"); err != ErrInvalidCredentials {
		t.Error("Old password should no longer verify")
	}
	if _, err := service.VerifyPassword("dave", "password2"); err != nil {
		t.Errorf("New password should verify: %v", err)
	}
}
