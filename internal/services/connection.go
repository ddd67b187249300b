package services

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/creativable/mailsync/internal/metrics"
	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	id "github.com/emersion/go-imap-id"
	"github.com/emersion/go-sasl"
	"go.uber.org/zap"
)

const (
	defaultConnectTimeout  = time.Duration(models.DefaultConnectTimeoutSec) * time.Second
	defaultGreetingTimeout = time.Duration(models.DefaultGreetingTimeoutSec) * time.Second
	defaultSocketTimeout   = time.Duration(models.DefaultSocketTimeoutSec) * time.Second

	// DefaultMaxAttempts is the primary candidate plus one flipped retry
	DefaultMaxAttempts = 2
)

// ConnectionSettings is everything needed to open an authenticated session
type ConnectionSettings struct {
	UserID             uint
	Host               string
	Port               int
	UseTLS             bool
	InsecureSkipVerify bool
	Username           string
	Password           string
	Folder             string
	ConnectTimeout     time.Duration
	GreetingTimeout    time.Duration
	SocketTimeout      time.Duration
	MaxEmails          int
	HistoricalSync     bool
	ProgressiveLoading bool
}

// Address returns host:port
func (s ConnectionSettings) Address() string {
	return net.JoinHostPort(s.Host, fmt.Sprintf("%d", s.Port))
}

func (s ConnectionSettings) withDefaults() ConnectionSettings {
	if s.ConnectTimeout <= 0 {
		s.ConnectTimeout = defaultConnectTimeout
	}
	if s.GreetingTimeout <= 0 {
		s.GreetingTimeout = defaultGreetingTimeout
	}
	if s.SocketTimeout <= 0 {
		s.SocketTimeout = defaultSocketTimeout
	}
	if s.Port <= 0 {
		s.Port = defaultPortFor(s.UseTLS)
	}
	if s.Folder == "" {
		s.Folder = models.FolderInbox
	}
	return s
}

func defaultPortFor(useTLS bool) int {
	if useTLS {
		return models.DefaultTLSPort
	}
	return models.DefaultPlainPort
}

// MailClient is the subset of the IMAP client the sync engine drives.
// *client.Client satisfies it.
type MailClient interface {
	List(ref, name string, ch chan *imap.MailboxInfo) error
	Create(name string) error
	Delete(name string) error
	Rename(existingName, newName string) error
	Select(name string, readOnly bool) (*imap.MailboxStatus, error)
	Status(name string, items []imap.StatusItem) (*imap.MailboxStatus, error)
	Fetch(seqset *imap.SeqSet, items []imap.FetchItem, ch chan *imap.Message) error
	Logout() error
}

// DialFunc opens an authenticated client for one candidate
type DialFunc func(ctx context.Context, settings ConnectionSettings) (MailClient, error)

// CandidatePlan orders the settings variants to try
type CandidatePlan func(primary ConnectionSettings) []ConnectionSettings

// DefaultCandidatePlan tries the configured settings, then the opposite transport
func DefaultCandidatePlan(primary ConnectionSettings) []ConnectionSettings {
	return []ConnectionSettings{primary, FlipTransport(primary)}
}

// FlipTransport inverts TLS, swaps 993/143 and relaxes certificate validation.
// Ports other than the two defaults map to the default of the new mode.
func FlipTransport(s ConnectionSettings) ConnectionSettings {
	flipped := s
	flipped.UseTLS = !s.UseTLS
	flipped.Port = defaultPortFor(flipped.UseTLS)
	flipped.InsecureSkipVerify = true
	return flipped
}

// Session is an authenticated connection plus the candidate that produced it
type Session struct {
	Client   MailClient
	Settings ConnectionSettings
	Attempts int
}

// ConnectionTestResult represents the result of a connection test
type ConnectionTestResult struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`
	UseTLS    bool   `json:"use_tls"`
	Attempts  int    `json:"attempts"`
	LatencyMs int64  `json:"latency_ms"`
}

// Negotiator opens IMAP sessions with a bounded fallback plan
type Negotiator struct {
	dial        DialFunc
	plan        CandidatePlan
	maxAttempts int
	log         *zap.Logger
}

// NewNegotiator creates a negotiator dialing real servers
func NewNegotiator(log *zap.Logger) *Negotiator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Negotiator{
		dial:        dialIMAP,
		plan:        DefaultCandidatePlan,
		maxAttempts: DefaultMaxAttempts,
		log:         log,
	}
}

// SetDialer replaces the transport, used by tests
func (n *Negotiator) SetDialer(dial DialFunc) {
	n.dial = dial
}

// SetCandidatePlan replaces the candidate ordering
func (n *Negotiator) SetCandidatePlan(plan CandidatePlan) {
	n.plan = plan
}

// SetMaxAttempts caps how many candidates are dialed
func (n *Negotiator) SetMaxAttempts(max int) {
	if max > 0 {
		n.maxAttempts = max
	}
}

// Open walks the candidate plan until a session authenticates
func (n *Negotiator) Open(ctx context.Context, settings ConnectionSettings) (*Session, error) {
	settings = settings.withDefaults()
	candidates := n.plan(settings)
	if len(candidates) > n.maxAttempts {
		candidates = candidates[:n.maxAttempts]
	}
	if len(candidates) == 0 {
		return nil, &ConnectionError{Host: settings.Host, Cause: ErrNoCandidates}
	}

	var lastErr error
	attempts := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			break
		}
		attempts++
		candidate = candidate.withDefaults()
		c, err := n.dial(ctx, candidate)
		metrics.IncrementConnectionAttempt(err == nil)
		if err == nil {
			if attempts > 1 {
				n.log.Info("imap connected via fallback candidate",
					zap.Uint("user_id", settings.UserID),
					zap.String("addr", candidate.Address()),
					zap.Bool("tls", candidate.UseTLS))
			}
			return &Session{Client: c, Settings: candidate, Attempts: attempts}, nil
		}
		lastErr = err
		n.log.Warn("imap connection attempt failed",
			zap.Uint("user_id", settings.UserID),
			zap.Int("attempt", attempts),
			zap.String("addr", candidate.Address()),
			zap.Bool("tls", candidate.UseTLS),
			zap.Error(err))
	}

	return nil, &ConnectionError{Host: settings.Host, Attempts: attempts, Cause: lastErr}
}

// WithSession opens a session, runs fn and always logs out
func (n *Negotiator) WithSession(ctx context.Context, settings ConnectionSettings, fn func(*Session) error) error {
	sess, err := n.Open(ctx, settings)
	if err != nil {
		return err
	}
	defer sess.Close()
	return fn(sess)
}

// Close logs out, ignoring errors from an already broken connection
func (s *Session) Close() {
	if s == nil || s.Client == nil {
		return
	}
	_ = s.Client.Logout()
}

// Probe negotiates a session and reports the outcome without returning an error
func (n *Negotiator) Probe(ctx context.Context, settings ConnectionSettings) ConnectionTestResult {
	start := time.Now()
	sess, err := n.Open(ctx, settings)
	latency := time.Since(start).Milliseconds()
	if err != nil {
		result := ConnectionTestResult{
			Success:   false,
			Message:   err.Error(),
			Host:      settings.Host,
			Port:      settings.Port,
			UseTLS:    settings.UseTLS,
			LatencyMs: latency,
		}
		var connErr *ConnectionError
		if errors.As(err, &connErr) {
			result.Attempts = connErr.Attempts
		}
		return result
	}
	defer sess.Close()

	return ConnectionTestResult{
		Success:   true,
		Message:   "IMAP connection and authentication successful",
		Host:      sess.Settings.Host,
		Port:      sess.Settings.Port,
		UseTLS:    sess.Settings.UseTLS,
		Attempts:  sess.Attempts,
		LatencyMs: latency,
	}
}

// dialIMAP connects, waits for the greeting, identifies and authenticates
func dialIMAP(ctx context.Context, s ConnectionSettings) (MailClient, error) {
	addr := s.Address()
	dialer := &net.Dialer{Timeout: s.ConnectTimeout}

	var conn net.Conn
	var err error
	if s.UseTLS {
		tlsDialer := &tls.Dialer{
			NetDialer: dialer,
			Config: &tls.Config{
				ServerName:         s.Host,
				InsecureSkipVerify: s.InsecureSkipVerify,
			},
		}
		conn, err = tlsDialer.DialContext(ctx, "tcp", addr)
	} else {
		conn, err = dialer.DialContext(ctx, "tcp", addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	// client.New blocks until the greeting arrives
	_ = conn.SetDeadline(time.Now().Add(s.GreetingTimeout))
	c, err := client.New(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("greeting from %s: %w", addr, err)
	}
	_ = conn.SetDeadline(time.Time{})
	c.Timeout = s.SocketTimeout

	// Some providers (163.com, 188.com) reject unidentified clients
	if ok, _ := c.Support("ID"); ok {
		_, _ = id.NewClient(c).ID(id.ID{
			id.FieldName:    "mailsync",
			id.FieldVersion: "1.0.0",
		})
	}

	if err := authenticate(c, s.Username, s.Password); err != nil {
		c.Logout()
		return nil, fmt.Errorf("login failed: %w", err)
	}

	return c, nil
}

func authenticate(c *client.Client, username, password string) error {
	err := c.Login(username, password)
	if err == nil {
		return nil
	}
	if errors.Is(err, client.ErrLoginDisabled) {
		if ok, _ := c.SupportAuth(sasl.Plain); ok {
			return c.Authenticate(sasl.NewPlainClient("", username, password))
		}
	}
	return err
}
