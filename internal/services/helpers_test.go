package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var testEncryptionKey = []byte("test-encryption-key-32-bytes!!!!")

func setupTestDB(t *testing.T) (*gorm.DB, func()) {
	t.Helper()
	tmpFile, err := os.CreateTemp("", "mailsync_test_*.db")
	if err != nil {
		t.Fatalf("Failed to create temp file: %v", err)
	}
	tmpFile.Close()

	db, err := gorm.Open(sqlite.Open(tmpFile.Name()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to open database: %v", err)
	}

	err = db.AutoMigrate(
		&models.User{},
		&models.EmailAccount{},
		&models.Email{},
		&models.Folder{},
		&models.SyncState{},
		&models.Log{},
	)
	if err != nil {
		os.Remove(tmpFile.Name())
		t.Fatalf("Failed to migrate: %v", err)
	}

	cleanup := func() {
		sqlDB, _ := db.DB()
		if sqlDB != nil {
			sqlDB.Close()
		}
		os.Remove(tmpFile.Name())
	}
	return db, cleanup
}

func boolPtr(b bool) *bool { return &b }

// recordWrites reports the row count of every committed create or update on table,
// one entry per statement
func recordWrites(t *testing.T, db *gorm.DB, table string) func() []int {
	t.Helper()
	var mu sync.Mutex
	var sizes []int
	hook := func(tx *gorm.DB) {
		if tx.Error != nil || tx.Statement.Table != table {
			return
		}
		n := 1
		if rv := tx.Statement.ReflectValue; rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
			n = rv.Len()
		}
		mu.Lock()
		sizes = append(sizes, n)
		mu.Unlock()
	}

	name := "test:record_writes_" + table
	if err := db.Callback().Create().After("gorm:create").Register(name, hook); err != nil {
		t.Fatalf("Failed to register create hook: %v", err)
	}
	if err := db.Callback().Update().After("gorm:update").Register(name, hook); err != nil {
		t.Fatalf("Failed to register update hook: %v", err)
	}
	return func() []int {
		mu.Lock()
		defer mu.Unlock()
		return append([]int(nil), sizes...)
	}
}

// createTestAccount creates a user plus IMAP settings pointing at host:port
func createTestAccount(t *testing.T, db *gorm.DB, accounts *AccountService, host string, port int, useTLS bool) *models.User {
	t.Helper()
	user := &models.User{Username: fmt.Sprintf("user%d", time.Now().UnixNano()), PasswordHash: "hash"}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("Failed to create user: %v", err)
	}
	_, err := accounts.SaveSettings(user.ID, SettingsInput{
		Email:    "username@example.org",
		IMAPHost: host,
		IMAPPort: port,
		Username: "username",
		Password: "password",
		UseSSL:   boolPtr(useTLS),
	})
	if err != nil {
		t.Fatalf("Failed to save settings: %v", err)
	}
	return user
}

// startIMAPServer serves the go-imap memory backend on a random local port.
// The backend has user "username"/"password" and one message in INBOX.
func startIMAPServer(t *testing.T) (string, int, *memory.Backend) {
	t.Helper()
	be := memory.New()
	s := server.New(be)
	s.AllowInsecureAuth = true

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })

	addr := l.Addr().(*net.TCPAddr)
	return "127.0.0.1", addr.Port, be
}

// appendToMemoryInbox adds n plain messages to the backend's INBOX
func appendToMemoryInbox(t *testing.T, be *memory.Backend, n int) {
	t.Helper()
	u, err := be.Login(nil, "username", "password")
	if err != nil {
		t.Fatalf("Failed to log into backend: %v", err)
	}
	mbox, err := u.GetMailbox("INBOX")
	if err != nil {
		t.Fatalf("Failed to open INBOX: %v", err)
	}
	for i := 0; i < n; i++ {
		body := fmt.Sprintf("From: sender%d@example.org\r\n"+
			"To: username@example.org\r\n"+
			"Subject: Message %d\r\n"+
			"Message-ID: <msg-%d@example.org>\r\n"+
			"Content-Type: text/plain\r\n"+
			"\r\n"+
			"Body %d", i, i, i, i)
		if err := mbox.CreateMessage(nil, time.Now(), bytes.NewBufferString(body)); err != nil {
			t.Fatalf("Failed to append message: %v", err)
		}
	}
}

// fakeMailClient is an in-memory MailClient; messages[i] has sequence number i+1
type fakeMailClient struct {
	mu        sync.Mutex
	messages  []*imap.Message
	mailboxes []*imap.MailboxInfo
	selects   int
	fetches   int
	loggedOut bool
	selectErr error
	mutateErr error
	created   []string
	deleted   []string
	renamed   [][2]string
}

func newFakeMailClient(n int) *fakeMailClient {
	c := &fakeMailClient{
		mailboxes: []*imap.MailboxInfo{{Name: "INBOX", Delimiter: "/"}},
	}
	base := time.Date(2024, time.March, 1, 0, 0, 0, 0, time.UTC)
	for i := 1; i <= n; i++ {
		c.messages = append(c.messages, &imap.Message{
			SeqNum: uint32(i),
			Uid:    uint32(100 + i),
			Envelope: &imap.Envelope{
				Date:      base.Add(time.Duration(i) * time.Minute),
				Subject:   fmt.Sprintf("Message %d", i),
				MessageId: fmt.Sprintf("<fake-%d@example.org>", i),
				From:      []*imap.Address{{MailboxName: "sender", HostName: "example.org"}},
			},
			Body: map[*imap.BodySectionName]imap.Literal{},
		})
	}
	return c
}

func (c *fakeMailClient) List(_, name string, ch chan *imap.MailboxInfo) error {
	defer close(ch)
	c.mu.Lock()
	boxes := append([]*imap.MailboxInfo(nil), c.mailboxes...)
	c.mu.Unlock()
	for _, m := range boxes {
		if name == "*" || m.Name == name {
			ch <- m
		}
	}
	return nil
}

func (c *fakeMailClient) Create(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mutateErr != nil {
		return c.mutateErr
	}
	c.created = append(c.created, name)
	c.mailboxes = append(c.mailboxes, &imap.MailboxInfo{Name: name, Delimiter: "/"})
	return nil
}

func (c *fakeMailClient) Delete(name string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mutateErr != nil {
		return c.mutateErr
	}
	c.deleted = append(c.deleted, name)
	return nil
}

func (c *fakeMailClient) Rename(existing, newName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mutateErr != nil {
		return c.mutateErr
	}
	c.renamed = append(c.renamed, [2]string{existing, newName})
	return nil
}

func (c *fakeMailClient) Select(name string, _ bool) (*imap.MailboxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.selects++
	if c.selectErr != nil {
		return nil, c.selectErr
	}
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(c.messages))}, nil
}

func (c *fakeMailClient) Status(name string, _ []imap.StatusItem) (*imap.MailboxStatus, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return &imap.MailboxStatus{Name: name, Messages: uint32(len(c.messages))}, nil
}

func (c *fakeMailClient) Fetch(seqset *imap.SeqSet, _ []imap.FetchItem, ch chan *imap.Message) error {
	defer close(ch)
	c.mu.Lock()
	c.fetches++
	msgs := append([]*imap.Message(nil), c.messages...)
	c.mu.Unlock()
	for _, m := range msgs {
		if seqset.Contains(m.SeqNum) {
			ch <- m
		}
	}
	return nil
}

func (c *fakeMailClient) Logout() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loggedOut = true
	return nil
}

func (c *fakeMailClient) selectCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selects
}

var errDialRefused = errors.New("connection refused")

// fakeDialer records every candidate; the first failFirst dials fail, or all when failAll
type fakeDialer struct {
	mu        sync.Mutex
	client    *fakeMailClient
	calls     []ConnectionSettings
	failFirst int
	failAll   bool
}

func (d *fakeDialer) dial(_ context.Context, s ConnectionSettings) (MailClient, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, s)
	if d.failAll || len(d.calls) <= d.failFirst {
		return nil, fmt.Errorf("dial %s: %w", s.Address(), errDialRefused)
	}
	return d.client, nil
}

func (d *fakeDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.calls)
}

func newFakeNegotiator(d *fakeDialer) *Negotiator {
	n := NewNegotiator(nil)
	n.SetDialer(d.dial)
	return n
}

// waitFor polls cond until it holds or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}
