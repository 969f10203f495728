// Package service is the protocol-independent core shared by both front ends:
// uploads, reads and keeping the served document in step with the file on disk.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tabdoc/internal/docstore"
	"github.com/hyperjump/tabdoc/internal/metrics"
	"github.com/hyperjump/tabdoc/internal/query"
	"github.com/hyperjump/tabdoc/internal/storage"
	"github.com/hyperjump/tabdoc/internal/validate"
)

// ErrEmptyUpload is returned for uploads without document data.
var ErrEmptyUpload = errors.New("upload contains no document")

// Options configures a Service.
type Options struct {
	XMLPath string
	XSDPath string
	// ValidateUploads checks uploaded documents against the uploaded schema,
	// or the persisted one when the upload carries none.
	ValidateUploads bool
	History         storage.History
	Metrics         *metrics.Metrics
	Logger          *zap.Logger
}

// Service owns the document store and everything that changes it.
type Service struct {
	store   *docstore.Store
	engine  *query.Engine
	opts    Options
	history storage.History
	metrics *metrics.Metrics
	logger  *zap.Logger

	uploadMu sync.Mutex
}

// New creates a service around store.
func New(store *docstore.Store, opts Options) *Service {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	history := opts.History
	if history == nil {
		history = storage.NewMemoryHistory(100)
	}
	return &Service{
		store:   store,
		engine:  query.NewEngine(store),
		opts:    opts,
		history: history,
		metrics: opts.Metrics,
		logger:  logger,
	}
}

// Store returns the underlying document store.
func (s *Service) Store() *docstore.Store { return s.store }

// Count returns the number of records in the current document.
func (s *Service) Count() int { return s.engine.Count() }

// GetByID returns the record's XML, or a sentinel error payload.
func (s *Service) GetByID(id int) string { return s.engine.LookupText(id) }

// Record returns the structured record for id.
func (s *Service) Record(id int) (*query.Record, error) { return s.engine.GetByID(id) }

// Execute runs a path query.
func (s *Service) Execute(q string) query.Result { return s.engine.Execute(q) }

// UploadRequest carries a document and an optional schema.
type UploadRequest struct {
	XML      []byte
	XSD      []byte
	Protocol string
}

// UploadResult is reported back to the uploader.
type UploadResult struct {
	OK       bool   `json:"ok"`
	Message  string `json:"message"`
	Records  int    `json:"records,omitempty"`
	UploadID string `json:"upload_id,omitempty"`
}

// Upload validates, persists and then publishes a new document. If the document
// cannot be parsed, validated or saved, the previously served document and files
// stay in place and OK is false.
func (s *Service) Upload(ctx context.Context, req UploadRequest) UploadResult {
	start := time.Now()
	s.uploadMu.Lock()
	defer s.uploadMu.Unlock()

	entry := &storage.UploadEntry{
		Protocol: req.Protocol,
		Bytes:    int64(len(req.XML)),
		Checksum: docstore.Checksum(req.XML),
	}
	records, err := s.upload(req)
	res := UploadResult{OK: err == nil, Records: records}
	if err != nil {
		res.Message = err.Error()
		s.logger.Warn("Upload rejected", zap.String("protocol", req.Protocol), zap.Int("bytes", len(req.XML)), zap.Error(err))
	} else {
		res.Message = fmt.Sprintf("document received and saved to %s (%d records)", s.opts.XMLPath, records)
		s.logger.Info("Upload accepted", zap.String("protocol", req.Protocol), zap.Int("records", records), zap.Duration("took", time.Since(start)))
	}

	entry.OK = res.OK
	entry.Message = res.Message
	entry.Records = records
	if herr := s.history.Record(ctx, entry); herr != nil {
		s.logger.Error("Failed to record upload history", zap.Error(herr))
	} else {
		res.UploadID = entry.ID
	}
	s.metrics.ObserveUpload(res.OK)
	return res
}

func (s *Service) upload(req UploadRequest) (int, error) {
	if len(bytes.TrimSpace(req.XML)) == 0 {
		return 0, ErrEmptyUpload
	}

	xmlTmp, err := stage(s.opts.XMLPath, req.XML)
	if err != nil {
		return 0, err
	}
	defer removeIfExists(xmlTmp)

	var xsdTmp string
	if len(req.XSD) > 0 && s.opts.XSDPath != "" {
		if xsdTmp, err = stage(s.opts.XSDPath, req.XSD); err != nil {
			return 0, err
		}
		defer removeIfExists(xsdTmp)
	}

	if s.opts.ValidateUploads {
		if err := s.validateUpload(req.XML, xsdTmp); err != nil {
			return 0, err
		}
	}

	snap, err := s.store.Parse(req.XML)
	if err != nil {
		return 0, fmt.Errorf("document rejected: %w", err)
	}
	if err := os.Rename(xmlTmp, s.opts.XMLPath); err != nil {
		return 0, fmt.Errorf("document not saved: %w", err)
	}
	// the file on disk is now the new document; serve it even if the schema
	// cannot be saved so memory and disk agree
	s.store.Publish(snap)
	s.metrics.SetDocument(snap.Records, snap.Size)

	if xsdTmp != "" {
		if err := os.Rename(xsdTmp, s.opts.XSDPath); err != nil {
			return snap.Records, fmt.Errorf("document saved but schema not saved: %w", err)
		}
	}
	return snap.Records, nil
}

func (s *Service) validateUpload(doc []byte, stagedSchema string) error {
	schemaPath := stagedSchema
	if schemaPath == "" {
		schemaPath = s.opts.XSDPath
		if _, err := os.Stat(schemaPath); schemaPath == "" || err != nil {
			s.logger.Debug("No schema available, skipping upload validation")
			return nil
		}
	}
	schema, err := validate.LoadSchema(schemaPath)
	if err != nil {
		return err
	}
	return schema.Bytes(doc)
}

// stage writes data next to path so it can later be renamed into place.
func stage(path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create directory: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.upload")
	if err != nil {
		return "", fmt.Errorf("stage upload: %w", err)
	}
	name := f.Name()
	_, werr := f.Write(data)
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr == nil {
		werr = os.Chmod(name, 0644)
	}
	if werr != nil {
		_ = os.Remove(name)
		return "", fmt.Errorf("stage upload: %w", werr)
	}
	return name, nil
}

func removeIfExists(path string) {
	if path != "" {
		_ = os.Remove(path)
	}
}
