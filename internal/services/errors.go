package services

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimited indicates a fetch for the same user and folder was dispatched inside the throttle window
	ErrRateLimited = errors.New("rate limited: a fetch for this folder started moments ago")
	// ErrSyncAlreadyRunning indicates another sync run holds the latch for the same user and folder
	ErrSyncAlreadyRunning = errors.New("sync already running for this folder")
	// ErrInvalidFolderName indicates an empty or malformed mailbox name
	ErrInvalidFolderName = errors.New("invalid folder name")
	// ErrProtectedFolder indicates a mutation of INBOX, which servers refuse
	ErrProtectedFolder = errors.New("INBOX cannot be deleted or renamed")
	// ErrNoCandidates indicates the candidate plan produced nothing to dial
	ErrNoCandidates = errors.New("no connection candidates")
)

// ConnectionError is returned when every negotiation attempt failed.
// Cause is the error of the last attempt.
type ConnectionError struct {
	Host     string
	Attempts int
	Cause    error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("IMAP connection to %s failed after %d attempt(s): %v", e.Host, e.Attempts, e.Cause)
}

func (e *ConnectionError) Unwrap() error { return e.Cause }

// OperationError wraps a failed mailbox mutation
type OperationError struct {
	Op    string // create, delete, rename
	Path  string
	Cause error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("folder %s %q failed: %v", e.Op, e.Path, e.Cause)
}

func (e *OperationError) Unwrap() error { return e.Cause }

// FetchError wraps a failed page retrieval
type FetchError struct {
	Folder string
	Offset int
	Cause  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s at offset %d failed: %v", e.Folder, e.Offset, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }

// WriteError reports a batch the ingestion writer had to skip
type WriteError struct {
	Batch int
	Size  int
	Cause error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("ingest batch %d (%d emails) failed: %v", e.Batch, e.Size, e.Cause)
}

func (e *WriteError) Unwrap() error { return e.Cause }

// isConnectionError reports whether err came from the negotiator giving up
func isConnectionError(err error) bool {
	var connErr *ConnectionError
	return errors.As(err, &connErr)
}
