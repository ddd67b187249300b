package services

import (
	"context"
	"errors"
	"sort"
	"testing"
	"time"

	"github.com/emersion/go-imap/backend/memory"
)

type recordingNotifier struct {
	calls chan uint
	err   error
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{calls: make(chan uint, 8)}
}

func (n *recordingNotifier) NotifyFoldersChanged(_ context.Context, userID uint) error {
	n.calls <- userID
	return n.err
}

func (n *recordingNotifier) expectCall(t *testing.T, userID uint) {
	t.Helper()
	select {
	case got := <-n.calls:
		if got != userID {
			t.Errorf("Notified user %d, want %d", got, userID)
		}
	case <-time.After(2 * time.Second):
		t.Error("Expected a folders-changed notification")
	}
}

func remoteMailboxes(t *testing.T, be *memory.Backend) []string {
	t.Helper()
	u, err := be.Login(nil, "username", "password")
	if err != nil {
		t.Fatalf("Backend login failed: %v", err)
	}
	boxes, err := u.ListMailboxes(false)
	if err != nil {
		t.Fatalf("ListMailboxes failed: %v", err)
	}
	var names []string
	for _, b := range boxes {
		names = append(names, b.Name())
	}
	sort.Strings(names)
	return names
}

func TestFolderLifecycleAgainstMemoryServer(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	host, port, be := startIMAPServer(t)

	logService := NewLogService(db, nil)
	accounts := NewAccountService(db, testEncryptionKey, logService)
	user := createTestAccount(t, db, accounts, host, port, false)
	notifier := newRecordingNotifier()
	svc := NewFolderService(NewNegotiator(nil), accounts, notifier, logService, nil)
	ctx := context.Background()

	if err := svc.Create(ctx, user.ID, "Projects"); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	notifier.expectCall(t, user.ID)
	if err := svc.Create(ctx, user.ID, "Projects/Old"); err != nil {
		t.Fatalf("Create child failed: %v", err)
	}
	notifier.expectCall(t, user.ID)

	target, err := svc.Rename(ctx, user.ID, "Projects/Old", "Current")
	if err != nil {
		t.Fatalf("Rename failed: %v", err)
	}
	if target != "Projects/Current" {
		t.Errorf("A leaf-only rename should stay under its parent, got %q", target)
	}
	notifier.expectCall(t, user.ID)

	names := remoteMailboxes(t, be)
	want := []string{"INBOX", "Projects", "Projects/Current"}
	if len(names) != len(want) {
		t.Fatalf("Expected %v on the server, got %v", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("Expected %v on the server, got %v", want, names)
		}
	}

	if err := svc.Delete(ctx, user.ID, "Projects/Current"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	notifier.expectCall(t, user.ID)
	if names := remoteMailboxes(t, be); len(names) != 2 {
		t.Errorf("Expected INBOX and Projects left, got %v", names)
	}
}

func TestFolderServiceRejectsInvalidInput(t *testing.T) {
	dialer := &fakeDialer{client: newFakeMailClient(0)}
	notifier := newRecordingNotifier()
	svc := NewFolderService(newFakeNegotiator(dialer), nil, notifier, nil, nil)
	ctx := context.Background()

	checks := []struct {
		name string
		err  error
		want error
	}{
		{"create empty", svc.Create(ctx, 1, "  "), ErrInvalidFolderName},
		{"delete inbox", svc.Delete(ctx, 1, "inbox"), ErrProtectedFolder},
		{"delete empty", svc.Delete(ctx, 1, ""), ErrInvalidFolderName},
	}
	_, renameErr := svc.Rename(ctx, 1, "INBOX", "Main")
	checks = append(checks, struct {
		name string
		err  error
		want error
	}{"rename inbox", renameErr, ErrProtectedFolder})

	for _, c := range checks {
		var opErr *OperationError
		if !errors.As(c.err, &opErr) {
			t.Errorf("%s: expected OperationError, got %v", c.name, c.err)
			continue
		}
		if !errors.Is(c.err, c.want) {
			t.Errorf("%s: expected %v, got %v", c.name, c.want, c.err)
		}
	}
	if dialer.callCount() != 0 {
		t.Errorf("Invalid input must not reach the server, got %d dials", dialer.callCount())
	}
	select {
	case <-notifier.calls:
		t.Error("Failed operations must not notify")
	default:
	}
}

func TestFolderServiceServerRejection(t *testing.T) {
	db, cleanup := setupTestDB(t)
	defer cleanup()
	logService := NewLogService(db, nil)
	accounts := NewAccountService(db, testEncryptionKey, logService)
	user := createTestAccount(t, db, accounts, "imap.example.org", 993, true)

	client := newFakeMailClient(0)
	client.mutateErr = errors.New("NO [ALREADYEXISTS] Mailbox exists")
	notifier := newRecordingNotifier()
	svc := NewFolderService(newFakeNegotiator(&fakeDialer{client: client}), accounts, notifier, logService, nil)

	err := svc.Create(context.Background(), user.ID, "Archive")
	var opErr *OperationError
	if !errors.As(err, &opErr) || opErr.Op != "create" || opErr.Path != "Archive" {
		t.Fatalf("Expected create OperationError, got %v", err)
	}
	if !client.loggedOut {
		t.Error("Session should be closed after a failed mutation")
	}
	select {
	case <-notifier.calls:
		t.Error("Failed operations must not notify")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestRenameTarget(t *testing.T) {
	tests := []struct {
		path, newName, delim, want string
	}{
		{"Work/Old", "New", "/", "Work/New"},
		{"Work/Old", "Other/New", "/", "Other/New"},
		{"Old", "New", "/", "New"},
		{"INBOX.Old", "New", ".", "INBOX.New"},
		{"Work/Old", "New", "", "New"},
	}
	for _, tt := range tests {
		if got := renameTarget(tt.path, tt.newName, tt.delim); got != tt.want {
			t.Errorf("renameTarget(%q, %q, %q) = %q, want %q", tt.path, tt.newName, tt.delim, got, tt.want)
		}
	}
}
