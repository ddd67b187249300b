package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/creativable/mailsync/internal/metrics"
	"github.com/emersion/go-imap"
	"go.uber.org/zap"
)

const (
	// DefaultThrottleWindow is the minimum gap between dispatched fetches for one user and folder
	DefaultThrottleWindow = 15 * time.Second
	// SyntheticTotal is the size of the offline placeholder mailbox
	SyntheticTotal = 25
	// DefaultPageSize is used when a request leaves the page size unset
	DefaultPageSize = 25

	maxRetryBackoff = 8 * time.Second
)

// PageRequest selects one newest-first page of a folder
type PageRequest struct {
	UserID uint
	Folder string
	Limit  int
	Offset int
}

// Page is the result of one fetch.
// Synthetic is set when the placeholder generator produced the emails.
type Page struct {
	Emails    []FetchedEmail
	HasMore   bool
	Total     int
	Offset    int
	Synthetic bool
}

// StreamRequest describes a pagination sequence sharing one throttle admission and one session
type StreamRequest struct {
	UserID    uint
	Folder    string
	PageSize  int
	MaxEmails int // 0 means until the folder is exhausted
	// MaxRetries re-runs the negotiator when it gives up, with 1s, 2s, 4s... backoff
	MaxRetries int
	// Admitted marks a stream whose dispatch already passed Admit
	Admitted bool
}

// PageFunc consumes a page; returning false stops the stream early
type PageFunc func(page *Page) (bool, error)

// FetchService retrieves pages of messages from the IMAP origin
type FetchService struct {
	negotiator      *Negotiator
	gate            ThrottleGate
	window          time.Duration
	offlineFallback bool
	log             *zap.Logger
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewFetchService creates a fetcher; window <= 0 disables throttling
func NewFetchService(negotiator *Negotiator, gate ThrottleGate, window time.Duration, offlineFallback bool, log *zap.Logger) *FetchService {
	if log == nil {
		log = zap.NewNop()
	}
	return &FetchService{
		negotiator:      negotiator,
		gate:            gate,
		window:          window,
		offlineFallback: offlineFallback,
		log:             log,
		sleep:           sleepContext,
	}
}

// FetchPage retrieves a single page; each call is its own throttled dispatch
func (s *FetchService) FetchPage(ctx context.Context, settings ConnectionSettings, req PageRequest) (*Page, error) {
	folder := folderOrDefault(req.Folder, settings.Folder)
	if err := s.admit(ctx, req.UserID, folder); err != nil {
		return nil, err
	}

	limit := req.Limit
	if limit <= 0 {
		limit = DefaultPageSize
	}
	offset := req.Offset
	if offset < 0 {
		offset = 0
	}

	var page *Page
	err := s.negotiator.WithSession(ctx, settings, func(sess *Session) error {
		var err error
		page, err = fetchPageFromSession(sess.Client, folder, limit, offset)
		return err
	})
	if err != nil {
		if isConnectionError(err) && s.offlineFallback {
			s.log.Warn("imap origin unreachable, serving synthetic page",
				zap.Uint("user_id", req.UserID), zap.String("folder", folder), zap.Error(err))
			return SyntheticPage(req.UserID, folder, limit, offset), nil
		}
		return nil, asFetchError(err, folder, offset)
	}
	metrics.IncrementFetchPage("imap")
	return page, nil
}

// Stream walks a folder newest-first, handing each page to fn.
// The whole sequence counts as one dispatch for the throttle.
func (s *FetchService) Stream(ctx context.Context, settings ConnectionSettings, req StreamRequest, fn PageFunc) error {
	folder := folderOrDefault(req.Folder, settings.Folder)
	if !req.Admitted {
		if err := s.admit(ctx, req.UserID, folder); err != nil {
			return err
		}
	}

	pageSize := req.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}

	sess, err := s.openWithRetry(ctx, settings, req.MaxRetries)
	if err != nil {
		if isConnectionError(err) && s.offlineFallback {
			s.log.Warn("imap origin unreachable, streaming synthetic pages",
				zap.Uint("user_id", req.UserID), zap.String("folder", folder), zap.Error(err))
			return streamPages(ctx, pageSize, req.MaxEmails, fn, func(limit, offset int) (*Page, error) {
				return SyntheticPage(req.UserID, folder, limit, offset), nil
			})
		}
		return asFetchError(err, folder, 0)
	}
	defer sess.Close()

	return streamPages(ctx, pageSize, req.MaxEmails, fn, func(limit, offset int) (*Page, error) {
		page, err := fetchPageFromSession(sess.Client, folder, limit, offset)
		if err != nil {
			return nil, asFetchError(err, folder, offset)
		}
		metrics.IncrementFetchPage("imap")
		return page, nil
	})
}

func streamPages(ctx context.Context, pageSize, maxEmails int, fn PageFunc, next func(limit, offset int) (*Page, error)) error {
	offset := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		limit := pageSize
		if maxEmails > 0 {
			if remaining := maxEmails - offset; remaining < limit {
				limit = remaining
			}
		}
		if limit <= 0 {
			return nil
		}

		page, err := next(limit, offset)
		if err != nil {
			return err
		}
		more, err := fn(page)
		if err != nil {
			return err
		}
		if !more || !page.HasMore || len(page.Emails) == 0 {
			return nil
		}
		offset += limit
	}
}

// Admit consumes the throttle window for one dispatch against the folder.
// It returns ErrRateLimited while the previous dispatch is still inside the window.
func (s *FetchService) Admit(ctx context.Context, userID uint, folder string) error {
	return s.admit(ctx, userID, folder)
}

func (s *FetchService) admit(ctx context.Context, userID uint, folder string) error {
	ok, err := s.gate.Admit(ctx, fetchKey(userID, folder), s.window)
	if err != nil {
		// A broken shared gate must not stall syncing
		s.log.Warn("throttle gate unavailable, admitting fetch", zap.Uint("user_id", userID), zap.Error(err))
		return nil
	}
	if !ok {
		metrics.IncrementThrottled()
		return ErrRateLimited
	}
	return nil
}

func (s *FetchService) openWithRetry(ctx context.Context, settings ConnectionSettings, maxRetries int) (*Session, error) {
	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(1<<uint(attempt-1)) * time.Second
			if backoff > maxRetryBackoff {
				backoff = maxRetryBackoff
			}
			s.log.Info("retrying imap connection",
				zap.Uint("user_id", settings.UserID), zap.Int("retry", attempt), zap.Duration("backoff", backoff))
			if err := s.sleep(ctx, backoff); err != nil {
				return nil, lastErr
			}
		}
		sess, err := s.negotiator.Open(ctx, settings)
		if err == nil {
			return sess, nil
		}
		lastErr = err
	}
	return nil, lastErr
}

// fetchPageFromSession selects folder and fetches messages total-offset-limit+1 .. total-offset
func fetchPageFromSession(c MailClient, folder string, limit, offset int) (*Page, error) {
	mbox, err := c.Select(folder, true)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", folder, err)
	}

	total := int(mbox.Messages)
	page := &Page{Total: total, Offset: offset}
	if offset >= total {
		return page, nil
	}

	hi := total - offset
	lo := hi - limit + 1
	if lo < 1 {
		lo = 1
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(uint32(lo), uint32(hi))

	messages := make(chan *imap.Message, limit)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, fetchItems(), messages)
	}()

	for msg := range messages {
		if msg == nil {
			continue
		}
		page.Emails = append(page.Emails, parseIMAPMessage(msg))
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("fetch %d:%d: %w", lo, hi, err)
	}

	// Newest first
	sort.Slice(page.Emails, func(i, j int) bool {
		return page.Emails[i].SeqNum > page.Emails[j].SeqNum
	})
	page.HasMore = lo > 1
	return page, nil
}

var syntheticEpoch = time.Date(2024, time.January, 1, 9, 0, 0, 0, time.UTC)

// SyntheticPage builds a deterministic placeholder page of a SyntheticTotal-message mailbox
func SyntheticPage(userID uint, folder string, limit, offset int) *Page {
	metrics.IncrementFetchPage("synthetic")
	count := SyntheticTotal - offset
	if limit < count {
		count = limit
	}
	if count < 0 {
		count = 0
	}

	emails := make([]FetchedEmail, 0, count)
	for i := 0; i < count; i++ {
		n := offset + i
		date := syntheticEpoch.Add(-time.Duration(n) * time.Hour)
		emails = append(emails, FetchedEmail{
			SeqNum:     uint32(SyntheticTotal - n),
			UID:        uint32(SyntheticTotal - n),
			MessageID:  fmt.Sprintf("synthetic-%d-%s-%d@offline.invalid", userID, folder, n),
			Subject:    fmt.Sprintf("Offline placeholder #%d", n+1),
			From:       "placeholder@offline.invalid",
			To:         []string{"inbox@offline.invalid"},
			Date:       date,
			ReceivedAt: date,
			Body:       "This message was generated while the mail server was unreachable.",
		})
	}

	return &Page{
		Emails:    emails,
		HasMore:   offset+limit < SyntheticTotal,
		Total:     SyntheticTotal,
		Offset:    offset,
		Synthetic: true,
	}
}

func asFetchError(err error, folder string, offset int) error {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) {
		return err
	}
	return &FetchError{Folder: folder, Offset: offset, Cause: err}
}

func folderOrDefault(folder, fallback string) string {
	if folder != "" {
		return folder
	}
	if fallback != "" {
		return fallback
	}
	return "INBOX"
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
