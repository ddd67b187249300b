package cli

import (
	"bytes"
	"net"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/creativable/mailsync/internal/api"
	"github.com/creativable/mailsync/internal/config"
	"github.com/creativable/mailsync/internal/database"
	"github.com/emersion/go-imap/backend/memory"
	"github.com/emersion/go-imap/server"
	"github.com/fatih/color"
)

func newTestServices(t *testing.T) (*config.Config, *api.Services) {
	t.Helper()
	color.NoColor = true
	dir := t.TempDir()

	db, err := database.Initialize(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	c := &config.Config{
		DataDir:         dir,
		JWTSecret:       "test-secret",
		LogLevel:        "INFO",
		ThrottleWindow:  15 * time.Second,
		CatalogCooldown: time.Minute,
		IngestBatchSize: 10,
		ProgressCeiling: time.Minute,
	}
	return c, api.NewServices(db, c, api.LocalCoordination(), nil)
}

// runCLI executes one command line with the given stdin and returns its output.
// Flag globals survive between runs, so the ones tests rely on are cleared first.
func runCLI(t *testing.T, c *config.Config, s *api.Services, stdinText string, args ...string) (string, error) {
	t.Helper()
	syncUser, accountUser, foldersUser = 0, 0, 0
	syncFolder = ""
	syncForce, syncYes, keyResetYes, userDeleteYes, foldersForce, foldersDeleteYes = false, false, false, false, false, false

	stdin = strings.NewReader(stdinText)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := Execute(c, s)
	return out.String(), err
}

func startIMAP(t *testing.T) int {
	t.Helper()
	s := server.New(memory.New())
	s.AllowInsecureAuth = true
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}
	go s.Serve(l)
	t.Cleanup(func() { s.Close() })
	return l.Addr().(*net.TCPAddr).Port
}

func TestUserCreateAndList(t *testing.T) {
	c, s := newTestServices(t)

	out, err := runCLI(t, c, s, "secret1\nsecret1\n", "user", "create", "--username", "bob")
	if err != nil {
		t.Fatalf("user create failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "用户创建成功") {
		t.Errorf("Unexpected output: %s", out)
	}

	out, err = runCLI(t, c, s, "", "user", "list")
	if err != nil {
		t.Fatalf("user list failed: %v", err)
	}
	if !strings.Contains(out, "bob") || !strings.Contains(out, "共 1 个用户") {
		t.Errorf("Listing misses the new user: %s", out)
	}

	_, err = runCLI(t, c, s, "secret1\nsecret2\n", "user", "create", "--username", "carol")
	if err == nil {
		t.Error("Mismatched passwords should fail")
	}
}

func TestKeyResetConfirmation(t *testing.T) {
	c, s := newTestServices(t)

	out, err := runCLI(t, c, s, "", "key", "show")
	if err != nil {
		t.Fatalf("key show failed: %v", err)
	}
	original := apiKeyManager.GetCurrentKey()
	if !strings.Contains(out, original) {
		t.Fatalf("key show did not print the key: %s", out)
	}

	out, err = runCLI(t, c, s, "no\n", "key", "reset")
	if err != nil {
		t.Fatalf("Declining should not be an error: %v", err)
	}
	if !strings.Contains(out, "操作已取消") {
		t.Errorf("Expected cancellation notice: %s", out)
	}
	if apiKeyManager.GetCurrentKey() != original {
		t.Error("Key changed although reset was declined")
	}

	if _, err := runCLI(t, c, s, "", "key", "reset", "--yes"); err != nil {
		t.Fatalf("key reset --yes failed: %v", err)
	}
	if apiKeyManager.GetCurrentKey() == original {
		t.Error("Key did not change after reset")
	}
}

func TestCommandsRequireUser(t *testing.T) {
	c, s := newTestServices(t)

	for _, args := range [][]string{
		{"sync", "run"},
		{"account", "show"},
		{"folders", "list"},
		{"sync", "status", "--user", "42"},
	} {
		if _, err := runCLI(t, c, s, "", args...); err == nil {
			t.Errorf("%v: expected an error without a valid user", args)
		}
	}
}

func TestAccountSyncAndFolders(t *testing.T) {
	c, s := newTestServices(t)
	port := startIMAP(t)

	u, err := s.Users.CreateUser("dave", "password1", "Dave")
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	uid := strconv.FormatUint(uint64(u.ID), 10)

	out, err := runCLI(t, c, s, "password\n", "account", "set", "--user", uid,
		"--host", "127.0.0.1", "--port", strconv.Itoa(port), "--tls=false", "--username", "username")
	if err != nil {
		t.Fatalf("account set failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "IMAP 账户已保存") || !strings.Contains(out, "127.0.0.1") {
		t.Errorf("Unexpected output: %s", out)
	}

	out, err = runCLI(t, c, s, "", "account", "test", "--user", uid)
	if err != nil {
		t.Fatalf("account test failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "连接成功") {
		t.Errorf("Unexpected output: %s", out)
	}

	out, err = runCLI(t, c, s, "", "sync", "run", "--user", uid)
	if err != nil {
		t.Fatalf("sync run failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "同步完成: INBOX 共 1 封") {
		t.Errorf("Unexpected output: %s", out)
	}

	out, err = runCLI(t, c, s, "", "sync", "run", "--user", uid)
	if err != nil {
		t.Fatalf("A throttled run should not be an error: %v", err)
	}
	if !strings.Contains(out, "请稍后再试") {
		t.Errorf("Expected throttle notice: %s", out)
	}

	out, err = runCLI(t, c, s, "", "sync", "status", "--user", uid)
	if err != nil {
		t.Fatalf("sync status failed: %v", err)
	}
	if !strings.Contains(out, "succeeded") {
		t.Errorf("Unexpected status: %s", out)
	}

	out, err = runCLI(t, c, s, "", "folders", "sync", "--user", uid)
	if err != nil {
		t.Fatalf("folders sync failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "已同步") {
		t.Errorf("Unexpected catalog output: %s", out)
	}
	out, err = runCLI(t, c, s, "", "folders", "list", "--user", uid)
	if err != nil {
		t.Fatalf("folders list failed: %v", err)
	}
	if !strings.Contains(out, "INBOX") {
		t.Errorf("Expected INBOX in listing: %s", out)
	}

	if _, err := runCLI(t, c, s, "", "folders", "delete", "INBOX", "--user", uid, "--yes"); err == nil {
		t.Error("Deleting INBOX should be refused")
	}

	out, err = runCLI(t, c, s, "", "sync", "reset", "--user", uid, "--yes")
	if err != nil {
		t.Fatalf("sync reset failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, "已重新同步 1 封邮件") {
		t.Errorf("Unexpected reset output: %s", out)
	}
}
