// Package docstore holds the currently served document. Replacement builds a new
// snapshot out of place and publishes it with one atomic store, so readers
// always see either the old or the new document, never a mix.
package docstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/antchfx/xmlquery"
	"go.uber.org/zap"
)

var (
	// ErrNoRoot is returned for input that parses but has no root element.
	ErrNoRoot = errors.New("document has no root element")
	// ErrEmpty is returned for zero-length input.
	ErrEmpty = errors.New("document is empty")
)

// Snapshot is an immutable, fully parsed document.
type Snapshot struct {
	Doc      *xmlquery.Node
	Root     *xmlquery.Node
	ItemTag  string
	IDAttr   string
	Records  int
	Checksum string
	Size     int64
	LoadedAt time.Time
}

// Store publishes snapshots. The zero value is not usable; call New.
type Store struct {
	// mu serializes writers; readers only load current.
	mu      sync.Mutex
	current atomic.Pointer[Snapshot]

	defaultItemTag string
	defaultIDAttr  string
	logger         *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithDefaults sets the item tag and identifier attribute used when they cannot
// be inferred from the document.
func WithDefaults(itemTag, idAttr string) Option {
	return func(s *Store) {
		if itemTag != "" {
			s.defaultItemTag = itemTag
		}
		if idAttr != "" {
			s.defaultIDAttr = idAttr
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty store.
func New(opts ...Option) *Store {
	s := &Store{
		defaultItemTag: "record",
		defaultIDAttr:  "id",
		logger:         zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns the current document, or nil when nothing is loaded.
func (s *Store) Snapshot() *Snapshot {
	return s.current.Load()
}

// Loaded reports whether a document is being served.
func (s *Store) Loaded() bool {
	return s.current.Load() != nil
}

// Load parses data and makes it the current document.
func (s *Store) Load(data []byte) error {
	return s.Replace(data)
}

// Replace parses data and swaps it in. On failure the previous document stays
// current.
func (s *Store) Replace(data []byte) error {
	_, err := s.replace(data, false)
	return err
}

// ReplaceIfChanged is Replace that skips parsing when data matches the current
// document's checksum. It reports whether a new snapshot was published.
func (s *Store) ReplaceIfChanged(data []byte) (bool, error) {
	return s.replace(data, true)
}

// LoadFile reads path and replaces the current document with it.
func (s *Store) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read document: %w", err)
	}
	if err := s.Replace(data); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Parse builds a snapshot from data without publishing it.
func (s *Store) Parse(data []byte) (*Snapshot, error) {
	return s.parse(data, Checksum(data))
}

// Publish makes snap the current document.
func (s *Store) Publish(snap *Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.publish(snap)
}

func (s *Store) publish(snap *Snapshot) {
	s.current.Store(snap)
	s.logger.Info("Document loaded",
		zap.String("item_tag", snap.ItemTag),
		zap.String("id_attr", snap.IDAttr),
		zap.Int("records", snap.Records),
		zap.Int64("bytes", snap.Size))
}

// replace holds mu across check, parse and publish so concurrent writers are
// applied one at a time, in lock order.
func (s *Store) replace(data []byte, skipUnchanged bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sum := Checksum(data)
	if skipUnchanged {
		if cur := s.current.Load(); cur != nil && cur.Checksum == sum {
			return false, nil
		}
	}

	snap, err := s.parse(data, sum)
	if err != nil {
		s.logger.Warn("Document rejected, keeping previous",
			zap.Int("bytes", len(data)),
			zap.Bool("had_previous", s.Loaded()),
			zap.Error(err))
		return false, err
	}
	s.publish(snap)
	return true, nil
}

func (s *Store) parse(data []byte, sum string) (*Snapshot, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, ErrEmpty
	}
	doc, err := xmlquery.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	root := firstElement(doc)
	if root == nil {
		return nil, ErrNoRoot
	}

	itemTag, idAttr := s.defaultItemTag, s.defaultIDAttr
	if item := firstElement(root); item != nil {
		itemTag = item.Data
		if name := firstAttr(item); name != "" {
			idAttr = name
		}
	}

	return &Snapshot{
		Doc:      doc,
		Root:     root,
		ItemTag:  itemTag,
		IDAttr:   idAttr,
		Records:  countElements(root, itemTag),
		Checksum: sum,
		Size:     int64(len(data)),
		LoadedAt: time.Now().UTC(),
	}, nil
}

// Checksum returns the hex sha256 of data.
func Checksum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

func firstElement(n *xmlquery.Node) *xmlquery.Node {
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			return c
		}
	}
	return nil
}

// firstAttr skips namespace declarations.
func firstAttr(n *xmlquery.Node) string {
	for _, a := range n.Attr {
		if a.Name.Space == "xmlns" || (a.Name.Space == "" && a.Name.Local == "xmlns") {
			continue
		}
		return a.Name.Local
	}
	return ""
}

func countElements(n *xmlquery.Node, tag string) int {
	count := 0
	if n.Type == xmlquery.ElementNode && n.Data == tag {
		count++
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode {
			count += countElements(c, tag)
		}
	}
	return count
}

// Walk calls fn for every element named tag in document order until fn returns false.
func (s *Snapshot) Walk(tag string, fn func(*xmlquery.Node) bool) {
	walk(s.Root, tag, fn)
}

func walk(n *xmlquery.Node, tag string, fn func(*xmlquery.Node) bool) bool {
	if n.Type == xmlquery.ElementNode && n.Data == tag {
		if !fn(n) {
			return false
		}
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == xmlquery.ElementNode && !walk(c, tag, fn) {
			return false
		}
	}
	return true
}
