package services

import (
	"context"
	"errors"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestNegotiatorFallsBackToFlippedTransport(t *testing.T) {
	dialer := &fakeDialer{client: newFakeMailClient(0), failFirst: 1}
	n := newFakeNegotiator(dialer)

	sess, err := n.Open(context.Background(), ConnectionSettings{
		Host: "imap.example.org", Port: 993, UseTLS: true, Username: "u", Password: "p",
	})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sess.Close()

	if sess.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", sess.Attempts)
	}
	if len(dialer.calls) != 2 {
		t.Fatalf("Expected 2 dials, got %d", len(dialer.calls))
	}
	first, second := dialer.calls[0], dialer.calls[1]
	if !first.UseTLS || first.Port != 993 || first.InsecureSkipVerify {
		t.Errorf("First candidate should be the configured one, got %+v", first)
	}
	if second.UseTLS || second.Port != 143 || !second.InsecureSkipVerify {
		t.Errorf("Second candidate should be plain 143 with relaxed validation, got %+v", second)
	}
	if sess.Settings.Port != 143 {
		t.Errorf("Session should report the winning candidate, got port %d", sess.Settings.Port)
	}
}

func TestNegotiatorGivesUpAfterTwoAttempts(t *testing.T) {
	dialer := &fakeDialer{failAll: true}
	n := newFakeNegotiator(dialer)

	_, err := n.Open(context.Background(), ConnectionSettings{Host: "imap.example.org", Port: 143})
	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Expected ConnectionError, got %v", err)
	}
	if connErr.Attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", connErr.Attempts)
	}
	if !errors.Is(err, errDialRefused) {
		t.Errorf("ConnectionError should wrap the last cause, got %v", err)
	}
	if dialer.callCount() != 2 {
		t.Errorf("Expected exactly 2 dials, got %d", dialer.callCount())
	}
}

func TestNegotiatorCustomPlanAndAttemptCap(t *testing.T) {
	threeWay := func(primary ConnectionSettings) []ConnectionSettings {
		alternate := primary
		alternate.Host = "mail." + primary.Host
		return []ConnectionSettings{primary, FlipTransport(primary), alternate}
	}
	settings := ConnectionSettings{Host: "example.org", Port: 993, UseTLS: true}

	dialer := &fakeDialer{client: newFakeMailClient(0), failFirst: 2}
	n := newFakeNegotiator(dialer)
	n.SetCandidatePlan(threeWay)
	n.SetMaxAttempts(3)

	sess, err := n.Open(context.Background(), settings)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer sess.Close()
	if sess.Attempts != 3 || dialer.callCount() != 3 {
		t.Errorf("Expected 3 attempts, got %d attempts and %d dials", sess.Attempts, dialer.callCount())
	}
	if sess.Settings.Host != "mail.example.org" || !sess.Settings.UseTLS {
		t.Errorf("Session should come from the third candidate, got %+v", sess.Settings)
	}

	// The default cap never reaches the third candidate
	dialer = &fakeDialer{client: newFakeMailClient(0), failFirst: 2}
	n = newFakeNegotiator(dialer)
	n.SetCandidatePlan(threeWay)
	n.SetMaxAttempts(0)

	_, err = n.Open(context.Background(), settings)
	var connErr *ConnectionError
	if !errors.As(err, &connErr) || connErr.Attempts != DefaultMaxAttempts {
		t.Fatalf("Expected ConnectionError after %d attempts, got %v", DefaultMaxAttempts, err)
	}
	if dialer.callCount() != DefaultMaxAttempts {
		t.Errorf("Expected %d dials, got %d", DefaultMaxAttempts, dialer.callCount())
	}
}

func TestNegotiatorHonoursCancelledContext(t *testing.T) {
	dialer := &fakeDialer{client: newFakeMailClient(0)}
	n := newFakeNegotiator(dialer)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := n.Open(ctx, ConnectionSettings{Host: "imap.example.org"})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if dialer.callCount() != 0 {
		t.Errorf("No dial expected after cancellation, got %d", dialer.callCount())
	}
}

func TestWithSessionAlwaysLogsOut(t *testing.T) {
	client := newFakeMailClient(0)
	n := newFakeNegotiator(&fakeDialer{client: client})

	boom := errors.New("boom")
	err := n.WithSession(context.Background(), ConnectionSettings{Host: "h"}, func(*Session) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Errorf("Expected fn error, got %v", err)
	}
	if !client.loggedOut {
		t.Error("Session should be logged out after fn returns")
	}
}

func TestProperty_FlipTransport(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 20
	properties := gopter.NewProperties(parameters)

	properties.Property("flipped_candidate_uses_default_port_of_new_mode", prop.ForAll(
		func(port int, useTLS bool) bool {
			flipped := FlipTransport(ConnectionSettings{Host: "h", Port: port, UseTLS: useTLS})
			if flipped.UseTLS == useTLS || !flipped.InsecureSkipVerify {
				return false
			}
			return flipped.Port == defaultPortFor(flipped.UseTLS)
		},
		gen.IntRange(1, 65535),
		gen.Bool(),
	))

	properties.Property("double_flip_restores_transport", prop.ForAll(
		func(useTLS bool) bool {
			s := ConnectionSettings{Host: "h", Port: defaultPortFor(useTLS), UseTLS: useTLS}
			back := FlipTransport(FlipTransport(s))
			return back.UseTLS == s.UseTLS && back.Port == s.Port
		},
		gen.Bool(),
	))

	properties.TestingRun(t)
}

func TestNegotiatorAgainstMemoryServer(t *testing.T) {
	host, port, _ := startIMAPServer(t)
	n := NewNegotiator(nil)

	result := n.Probe(context.Background(), ConnectionSettings{
		Host: host, Port: port, Username: "username", Password: "password",
	})
	if !result.Success {
		t.Fatalf("Probe failed: %s", result.Message)
	}
	if result.Attempts != 1 || result.Port != port || result.UseTLS {
		t.Errorf("Unexpected probe result %+v", result)
	}

	bad := n.Probe(context.Background(), ConnectionSettings{
		Host: host, Port: port, Username: "username", Password: "wrong",
	})
	if bad.Success {
		t.Fatal("Probe with a wrong password should fail")
	}
	if bad.Attempts != 2 {
		t.Errorf("Expected the flipped candidate to be tried, got %d attempts", bad.Attempts)
	}
}
