package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/emersion/go-imap"
	"go.uber.org/zap"
)

// FolderService creates, deletes and renames mailboxes on the IMAP origin.
// Every call negotiates its own session and performs one mutation.
type FolderService struct {
	negotiator *Negotiator
	accounts   *AccountService
	notifier   CatalogNotifier
	logService *LogService
	log        *zap.Logger
}

// NewFolderService creates a new FolderService instance
func NewFolderService(negotiator *Negotiator, accounts *AccountService, notifier CatalogNotifier, logService *LogService, log *zap.Logger) *FolderService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FolderService{
		negotiator: negotiator,
		accounts:   accounts,
		notifier:   notifier,
		logService: logService,
		log:        log,
	}
}

// SetNotifier swaps the catalog notifier, e.g. for the broker-backed one
func (s *FolderService) SetNotifier(n CatalogNotifier) {
	s.notifier = n
}

// Create creates a mailbox named name
func (s *FolderService) Create(ctx context.Context, userID uint, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return &OperationError{Op: "create", Path: name, Cause: ErrInvalidFolderName}
	}
	return s.mutate(ctx, userID, "create", name, func(c MailClient) error {
		return c.Create(name)
	})
}

// Delete removes the mailbox at path
func (s *FolderService) Delete(ctx context.Context, userID uint, path string) error {
	if strings.TrimSpace(path) == "" {
		return &OperationError{Op: "delete", Path: path, Cause: ErrInvalidFolderName}
	}
	if strings.EqualFold(path, "INBOX") {
		return &OperationError{Op: "delete", Path: path, Cause: ErrProtectedFolder}
	}
	return s.mutate(ctx, userID, "delete", path, func(c MailClient) error {
		return c.Delete(path)
	})
}

// Rename moves path to newName. A newName without the hierarchy delimiter
// only replaces the leaf, so the folder stays under its parent.
// It returns the resulting path.
func (s *FolderService) Rename(ctx context.Context, userID uint, path, newName string) (string, error) {
	newName = strings.TrimSpace(newName)
	if strings.TrimSpace(path) == "" || newName == "" {
		return "", &OperationError{Op: "rename", Path: path, Cause: ErrInvalidFolderName}
	}
	if strings.EqualFold(path, "INBOX") {
		return "", &OperationError{Op: "rename", Path: path, Cause: ErrProtectedFolder}
	}

	var target string
	err := s.mutate(ctx, userID, "rename", path, func(c MailClient) error {
		delimiter, err := mailboxDelimiter(c, path)
		if err != nil {
			return err
		}
		target = renameTarget(path, newName, delimiter)
		return c.Rename(path, target)
	})
	if err != nil {
		return "", err
	}
	return target, nil
}

func (s *FolderService) mutate(ctx context.Context, userID uint, op, path string, fn func(MailClient) error) error {
	settings, err := s.accounts.ConnectionSettings(userID)
	if err != nil {
		return &OperationError{Op: op, Path: path, Cause: err}
	}

	err = s.negotiator.WithSession(ctx, settings, func(sess *Session) error {
		return fn(sess.Client)
	})
	s.logService.LogFolderOperation(userID, op, path, err)
	if err != nil {
		return &OperationError{Op: op, Path: path, Cause: err}
	}

	// The mutation already happened; a refresh failure is only logged
	go func() {
		if err := s.notifier.NotifyFoldersChanged(context.Background(), userID); err != nil {
			s.log.Warn("folder change notification failed", zap.Uint("user_id", userID), zap.String("op", op), zap.Error(err))
		}
	}()
	return nil
}

// mailboxDelimiter lists path itself to learn the server's hierarchy delimiter
func mailboxDelimiter(c MailClient, path string) (string, error) {
	mailboxes := make(chan *imap.MailboxInfo, 4)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", path, mailboxes)
	}()

	delimiter := ""
	found := false
	for m := range mailboxes {
		if m.Name == path {
			found = true
			delimiter = m.Delimiter
		}
	}
	if err := <-done; err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("mailbox %q does not exist", path)
	}
	return delimiter, nil
}

func renameTarget(path, newName, delimiter string) string {
	if delimiter == "" || strings.Contains(newName, delimiter) {
		return newName
	}
	if i := strings.LastIndex(path, delimiter); i >= 0 {
		return path[:i+len(delimiter)] + newName
	}
	return newName
}
