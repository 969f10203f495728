package service

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabdoc/internal/storage"
	"github.com/hyperjump/tabdoc/internal/watcher"
	"github.com/hyperjump/tabdoc/pkg/retry"
)

// LoadDocument loads the persisted document once.
func (s *Service) LoadDocument() error {
	if err := s.store.LoadFile(s.opts.XMLPath); err != nil {
		return err
	}
	snap := s.store.Snapshot()
	s.metrics.SetDocument(snap.Records, snap.Size)
	return nil
}

// WaitForDocument blocks until a document is being served, either loaded from
// the persisted file or uploaded meanwhile. Attempts back off and are retried
// early whenever wake fires; wake may be nil.
func (s *Service) WaitForDocument(ctx context.Context, wake <-chan struct{}) error {
	cfg := retry.UntilDone()
	cfg.Wake = wake
	attempt := 0
	err := retry.Do(ctx, cfg, func() error {
		if s.store.Loaded() {
			return nil
		}
		attempt++
		err := s.LoadDocument()
		if err != nil && (attempt == 1 || attempt%10 == 0) {
			s.logger.Info("Waiting for document", zap.String("path", s.opts.XMLPath), zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("wait for document: %w", err)
	}
	return nil
}

// ReloadFile replaces the served document with the file at path when its
// content differs. Invalid files are logged and the current document kept.
func (s *Service) ReloadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Warn("Reload skipped", zap.String("path", path), zap.Error(err))
		return
	}
	changed, err := s.store.ReplaceIfChanged(data)
	if err != nil {
		s.logger.Warn("Reload rejected, keeping current document", zap.String("path", path), zap.Error(err))
		return
	}
	if changed {
		snap := s.store.Snapshot()
		s.metrics.SetDocument(snap.Records, snap.Size)
		s.logger.Info("Document reloaded from disk", zap.String("path", path), zap.Int("records", snap.Records))
	}
}

// Watch starts a watcher that reloads the document whenever its file changes.
func (s *Service) Watch(ctx context.Context) (*watcher.Watcher, error) {
	if err := os.MkdirAll(filepath.Dir(s.opts.XMLPath), 0755); err != nil {
		return nil, fmt.Errorf("create document directory: %w", err)
	}
	w := watcher.NewWatcher([]string{s.opts.XMLPath}, s.ReloadFile, watcher.WithLogger(s.logger))
	if err := w.Start(ctx); err != nil {
		return nil, fmt.Errorf("watch document: %w", err)
	}
	return w, nil
}

// Status describes the served document and upload activity.
type Status struct {
	Loaded        bool              `json:"loaded"`
	ItemTag       string            `json:"item_tag,omitempty"`
	IDAttr        string            `json:"id_attr,omitempty"`
	Records       int               `json:"records"`
	Checksum      string            `json:"checksum,omitempty"`
	DocumentBytes int64             `json:"document_bytes"`
	LoadedAt      *time.Time        `json:"loaded_at,omitempty"`
	XMLPath       string            `json:"xml_path"`
	XSDPath       string            `json:"xsd_path,omitempty"`
	Disk          storage.FileUsage `json:"disk"`
	Uploads       int64             `json:"uploads"`
	FailedUploads int64             `json:"failed_uploads"`
}

// Status reports the current state.
func (s *Service) Status(ctx context.Context) (Status, error) {
	st := Status{XMLPath: s.opts.XMLPath, XSDPath: s.opts.XSDPath}
	if snap := s.store.Snapshot(); snap != nil {
		loadedAt := snap.LoadedAt
		st.Loaded = true
		st.ItemTag = snap.ItemTag
		st.IDAttr = snap.IDAttr
		st.Records = snap.Records
		st.Checksum = snap.Checksum
		st.DocumentBytes = snap.Size
		st.LoadedAt = &loadedAt
	}
	disk, err := storage.DiskUsage(s.opts.XMLPath, s.opts.XSDPath)
	if err != nil {
		return st, fmt.Errorf("disk usage: %w", err)
	}
	st.Disk = disk
	if st.Uploads, st.FailedUploads, err = s.history.Count(ctx); err != nil {
		return st, fmt.Errorf("count uploads: %w", err)
	}
	return st, nil
}

// Uploads lists recent uploads, newest first.
func (s *Service) Uploads(ctx context.Context, offset, limit int) ([]*storage.UploadEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	return s.history.List(ctx, offset, limit)
}
