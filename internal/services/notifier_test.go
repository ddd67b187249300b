package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type recordingPublisher struct {
	routingKey string
	payload    any
	err        error
}

func (p *recordingPublisher) Publish(routingKey string, payload any) error {
	p.routingKey = routingKey
	p.payload = payload
	return p.err
}

func TestQueueCatalogNotifierPublishes(t *testing.T) {
	pub := &recordingPublisher{}
	n := NewQueueCatalogNotifier(pub)

	if err := n.NotifyFoldersChanged(context.Background(), 9); err != nil {
		t.Fatalf("NotifyFoldersChanged failed: %v", err)
	}
	if pub.routingKey != RoutingKeyFoldersChanged {
		t.Errorf("Unexpected routing key %q", pub.routingKey)
	}
	if ev, ok := pub.payload.(FoldersChangedEvent); !ok || ev.UserID != 9 {
		t.Errorf("Unexpected payload %#v", pub.payload)
	}

	pub.err = errors.New("broker down")
	if err := n.NotifyFoldersChanged(context.Background(), 9); err == nil {
		t.Error("Publish errors should surface")
	}
}

func TestCatalogRefreshHandler(t *testing.T) {
	f := newCatalogFixture(t)
	f.createRemote(t, "Archive")
	handler := CatalogRefreshHandler(f.catalog)
	ctx := context.Background()

	var syntaxErr *json.SyntaxError
	if err := handler(ctx, json.RawMessage("{")); !errors.As(err, &syntaxErr) {
		t.Errorf("Expected a syntax error, got %v", err)
	}
	if err := handler(ctx, json.RawMessage(`{}`)); err == nil {
		t.Error("Missing user id should be rejected")
	}

	body, _ := json.Marshal(FoldersChangedEvent{UserID: f.user.ID})
	if err := handler(ctx, body); err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	folders, _ := f.catalog.ListFolders(f.user.ID)
	if len(folders) != 2 {
		t.Errorf("Expected INBOX and Archive, got %d folders", len(folders))
	}
}

func TestLocalCatalogNotifierRefreshes(t *testing.T) {
	f := newCatalogFixture(t)
	n := NewLocalCatalogNotifier(f.catalog, nil)

	if err := n.NotifyFoldersChanged(context.Background(), f.user.ID); err != nil {
		t.Fatalf("NotifyFoldersChanged failed: %v", err)
	}
	if !waitFor(t, 2*time.Second, func() bool {
		folders, _ := f.catalog.ListFolders(f.user.ID)
		return len(folders) == 1
	}) {
		t.Error("Catalog should be refreshed in the background")
	}
}
