package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/creativable/mailsync/internal/database/models"
	"github.com/emersion/go-imap"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultCatalogCooldown is the minimum gap between unforced catalog syncs for a user
const DefaultCatalogCooldown = 5 * time.Minute

// CatalogResult reports a catalog sync.
// Skipped means the cooldown was active; AlreadySyncing means another caller holds the latch.
type CatalogResult struct {
	FolderCount    int  `json:"folderCount"`
	Skipped        bool `json:"skipped"`
	AlreadySyncing bool `json:"alreadySyncing"`
}

// ReconcileResult reports a duplicate cleanup pass
type ReconcileResult struct {
	Examined int `json:"examined"`
	Removed  int `json:"removed"`
}

// remoteFolder is one mailbox as listed by the server
type remoteFolder struct {
	Path       string
	Name       string
	Delimiter  string
	SpecialUse string
	Unread     int
	Total      int
}

// FolderCatalog mirrors the server's mailbox list into Folder rows
type FolderCatalog struct {
	db         *gorm.DB
	negotiator *Negotiator
	accounts   *AccountService
	gate       ThrottleGate
	latch      Latch
	cooldown   time.Duration
	logService *LogService
	log        *zap.Logger
}

// NewFolderCatalog creates a catalog syncer
func NewFolderCatalog(db *gorm.DB, negotiator *Negotiator, accounts *AccountService, gate ThrottleGate, latch Latch, cooldown time.Duration, logService *LogService, log *zap.Logger) *FolderCatalog {
	if log == nil {
		log = zap.NewNop()
	}
	return &FolderCatalog{
		db:         db,
		negotiator: negotiator,
		accounts:   accounts,
		gate:       gate,
		latch:      latch,
		cooldown:   cooldown,
		logService: logService,
		log:        log,
	}
}

// Sync refreshes the user's folder rows from the server
func (c *FolderCatalog) Sync(ctx context.Context, userID uint, force bool) (*CatalogResult, error) {
	if !force {
		if active, err := c.gate.Active(ctx, catalogKey(userID)); err == nil && active {
			count, _ := c.countFolders(userID)
			c.logService.LogDebug(userID, models.LogModuleFolder, "catalog_skipped", "Folder catalog sync skipped inside cooldown", map[string]interface{}{"folder_count": count})
			return &CatalogResult{FolderCount: count, Skipped: true}, nil
		}
	}

	key := catalogKey(userID)
	acquired, err := c.latch.TryAcquire(ctx, key)
	if err != nil {
		return nil, err
	}
	if !acquired {
		return &CatalogResult{AlreadySyncing: true}, nil
	}
	defer c.latch.Release(context.Background(), key)

	settings, err := c.accounts.ConnectionSettings(userID)
	if err != nil {
		return nil, err
	}

	var folders []remoteFolder
	err = c.negotiator.WithSession(ctx, settings, func(sess *Session) error {
		var err error
		folders, err = listRemoteFolders(sess.Client)
		return err
	})
	if err != nil {
		c.logService.LogWarn(userID, models.LogModuleFolder, "catalog_sync", "Folder catalog sync failed", map[string]interface{}{"error_msg": err.Error()})
		return nil, err
	}

	if err := c.persist(userID, folders); err != nil {
		return nil, err
	}
	if err := c.gate.Stamp(ctx, key, c.cooldown); err != nil {
		c.log.Warn("catalog cooldown not recorded", zap.Uint("user_id", userID), zap.Error(err))
	}

	if res, err := c.Reconcile(ctx, userID); err != nil {
		c.log.Warn("folder reconcile failed", zap.Uint("user_id", userID), zap.Error(err))
	} else if res.Removed > 0 {
		c.log.Info("folder duplicates removed", zap.Uint("user_id", userID), zap.Int("removed", res.Removed))
	}

	c.logService.LogInfo(userID, models.LogModuleFolder, "catalog_sync", "Folder catalog synced", map[string]interface{}{"folder_count": len(folders)})
	return &CatalogResult{FolderCount: len(folders)}, nil
}

// ListFolders returns the catalog rows in display order
func (c *FolderCatalog) ListFolders(userID uint) ([]models.Folder, error) {
	var folders []models.Folder
	if err := c.db.Where("user_id = ?", userID).Order("sort_order ASC, path ASC").Find(&folders).Error; err != nil {
		return nil, err
	}
	return folders, nil
}

// Reconcile removes rows whose normalized path duplicates another row, keeping the most recently updated
func (c *FolderCatalog) Reconcile(ctx context.Context, userID uint) (*ReconcileResult, error) {
	var rows []models.Folder
	if err := c.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC, id DESC").Find(&rows).Error; err != nil {
		return nil, err
	}

	result := &ReconcileResult{Examined: len(rows)}
	seen := make(map[string]bool, len(rows))
	var duplicates []uint
	for _, row := range rows {
		norm := NormalizeFolderPath(row.Path, row.Delimiter)
		if seen[norm] {
			duplicates = append(duplicates, row.ID)
			continue
		}
		seen[norm] = true
	}
	if len(duplicates) == 0 {
		return result, nil
	}

	tx := c.db.WithContext(ctx).Where("id IN ?", duplicates).Delete(&models.Folder{})
	if tx.Error != nil {
		return nil, tx.Error
	}
	result.Removed = int(tx.RowsAffected)
	return result, nil
}

// ResetCooldown lets the next unforced catalog sync run immediately
func (c *FolderCatalog) ResetCooldown(ctx context.Context, userID uint) error {
	return c.gate.Clear(ctx, catalogUserPrefix(userID))
}

// NormalizeFolderPath folds INBOX case and trims a trailing delimiter
func NormalizeFolderPath(path, delimiter string) string {
	p := strings.TrimSpace(path)
	if delimiter == "" {
		delimiter = "/"
	}
	p = strings.TrimRight(p, delimiter)
	if strings.EqualFold(p, models.FolderInbox) {
		return models.FolderInbox
	}
	if len(p) > len(models.FolderInbox) && strings.EqualFold(p[:len(models.FolderInbox)+1], models.FolderInbox+delimiter) {
		return models.FolderInbox + p[len(models.FolderInbox):]
	}
	return p
}

func (c *FolderCatalog) countFolders(userID uint) (int, error) {
	var count int64
	err := c.db.Model(&models.Folder{}).Where("user_id = ?", userID).Count(&count).Error
	return int(count), err
}

func (c *FolderCatalog) persist(userID uint, folders []remoteFolder) error {
	return c.db.Transaction(func(tx *gorm.DB) error {
		paths := make([]string, 0, len(folders))
		for i, f := range folders {
			row := models.Folder{
				UserID:      userID,
				Path:        f.Path,
				Name:        f.Name,
				Delimiter:   f.Delimiter,
				SortOrder:   i,
				UnreadCount: f.Unread,
				TotalCount:  f.Total,
				SpecialUse:  f.SpecialUse,
			}
			err := tx.Clauses(clause.OnConflict{
				Columns:   []clause.Column{{Name: "user_id"}, {Name: "path"}},
				DoUpdates: clause.AssignmentColumns([]string{"name", "delimiter", "sort_order", "unread_count", "total_count", "special_use", "updated_at"}),
			}).Create(&row).Error
			if err != nil {
				return err
			}
			paths = append(paths, f.Path)
		}

		stale := tx.Where("user_id = ?", userID)
		if len(paths) > 0 {
			stale = stale.Where("path NOT IN ?", paths)
		}
		return stale.Delete(&models.Folder{}).Error
	})
}

var specialUseOrder = map[string]int{
	"inbox":   0,
	"drafts":  1,
	"sent":    2,
	"archive": 3,
	"junk":    4,
	"trash":   5,
}

// listRemoteFolders runs LIST "*" then STATUS on every selectable mailbox
func listRemoteFolders(c MailClient) ([]remoteFolder, error) {
	mailboxes := make(chan *imap.MailboxInfo, 32)
	done := make(chan error, 1)
	go func() {
		done <- c.List("", "*", mailboxes)
	}()

	var infos []*imap.MailboxInfo
	for m := range mailboxes {
		infos = append(infos, m)
	}
	if err := <-done; err != nil {
		return nil, err
	}

	folders := make([]remoteFolder, 0, len(infos))
	for _, info := range infos {
		f := remoteFolder{
			Path:       info.Name,
			Name:       leafName(info.Name, info.Delimiter),
			Delimiter:  info.Delimiter,
			SpecialUse: specialUse(info),
		}
		if !hasAttr(info.Attributes, imap.NoSelectAttr) {
			status, err := c.Status(info.Name, []imap.StatusItem{imap.StatusMessages, imap.StatusUnseen})
			if err == nil {
				f.Total = int(status.Messages)
				f.Unread = int(status.Unseen)
			}
		}
		folders = append(folders, f)
	}

	sort.SliceStable(folders, func(i, j int) bool {
		oi, iok := specialUseOrder[folders[i].SpecialUse]
		oj, jok := specialUseOrder[folders[j].SpecialUse]
		if iok != jok {
			return iok
		}
		if iok && oi != oj {
			return oi < oj
		}
		return folders[i].Path < folders[j].Path
	})
	return folders, nil
}

func specialUse(info *imap.MailboxInfo) string {
	if strings.EqualFold(info.Name, models.FolderInbox) {
		return "inbox"
	}
	for _, attr := range info.Attributes {
		switch attr {
		case imap.SentAttr:
			return "sent"
		case imap.DraftsAttr:
			return "drafts"
		case imap.TrashAttr:
			return "trash"
		case imap.JunkAttr:
			return "junk"
		case imap.ArchiveAttr:
			return "archive"
		case imap.AllAttr:
			return "all"
		case imap.FlaggedAttr:
			return "flagged"
		}
	}
	return ""
}

func hasAttr(attrs []string, want string) bool {
	for _, a := range attrs {
		if strings.EqualFold(a, want) {
			return true
		}
	}
	return false
}

func leafName(path, delimiter string) string {
	if delimiter == "" {
		return path
	}
	if i := strings.LastIndex(path, delimiter); i >= 0 {
		return path[i+len(delimiter):]
	}
	return path
}
