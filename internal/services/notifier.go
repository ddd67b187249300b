package services

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
)

// RoutingKeyFoldersChanged is the event published after a successful mailbox mutation
const RoutingKeyFoldersChanged = "folders.changed"

// CatalogNotifier is told when a user's mailbox hierarchy changed
type CatalogNotifier interface {
	NotifyFoldersChanged(ctx context.Context, userID uint) error
}

// FoldersChangedEvent is the payload carried by RoutingKeyFoldersChanged
type FoldersChangedEvent struct {
	UserID uint `json:"user_id"`
}

// LocalCatalogNotifier refreshes the catalog in this process
type LocalCatalogNotifier struct {
	catalog *FolderCatalog
	log     *zap.Logger
}

// NewLocalCatalogNotifier creates a notifier that runs a forced catalog sync in the background
func NewLocalCatalogNotifier(catalog *FolderCatalog, log *zap.Logger) *LocalCatalogNotifier {
	if log == nil {
		log = zap.NewNop()
	}
	return &LocalCatalogNotifier{catalog: catalog, log: log}
}

func (n *LocalCatalogNotifier) NotifyFoldersChanged(_ context.Context, userID uint) error {
	go func() {
		if _, err := n.catalog.Sync(context.Background(), userID, true); err != nil {
			n.log.Warn("catalog refresh after folder change failed", zap.Uint("user_id", userID), zap.Error(err))
		}
	}()
	return nil
}

// EventPublisher publishes a JSON payload under a routing key
type EventPublisher interface {
	Publish(routingKey string, payload any) error
}

// QueueCatalogNotifier hands the refresh to whichever instance consumes RoutingKeyFoldersChanged
type QueueCatalogNotifier struct {
	publisher EventPublisher
}

// NewQueueCatalogNotifier creates a notifier backed by the message broker
func NewQueueCatalogNotifier(publisher EventPublisher) *QueueCatalogNotifier {
	return &QueueCatalogNotifier{publisher: publisher}
}

func (n *QueueCatalogNotifier) NotifyFoldersChanged(_ context.Context, userID uint) error {
	return n.publisher.Publish(RoutingKeyFoldersChanged, FoldersChangedEvent{UserID: userID})
}

// CatalogRefreshHandler consumes RoutingKeyFoldersChanged deliveries with a forced catalog sync
func CatalogRefreshHandler(catalog *FolderCatalog) func(ctx context.Context, data json.RawMessage) error {
	return func(ctx context.Context, data json.RawMessage) error {
		var ev FoldersChangedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		if ev.UserID == 0 {
			return fmt.Errorf("folders changed event without user id")
		}
		_, err := catalog.Sync(ctx, ev.UserID, true)
		return err
	}
}
