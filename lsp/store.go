package lsp

import (
	"sort"
	"sync"

	"github.com/gophersatwork/recon"
)

// DocumentStore holds the current snapshot of every open document.
// Versions are assigned by the store, start at 1 and grow by one on every
// mutation, including ones that do not change the text. The version of an
// invalidated document keeps counting when it is opened again.
type DocumentStore struct {
	mu          sync.RWMutex
	docs        map[string]recon.Snapshot
	invalidated map[string]int
}

// NewDocumentStore creates an empty store
func NewDocumentStore() *DocumentStore {
	return &DocumentStore{
		docs:        make(map[string]recon.Snapshot),
		invalidated: make(map[string]int),
	}
}

// Open records a document with its language kind and returns its version.
// Opening a known document replaces its content and language kind.
func (s *DocumentStore) Open(uri, languageKind, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.versionLocked(uri) + 1
	delete(s.invalidated, uri)
	s.docs[uri] = recon.NewSnapshot(uri, languageKind, version, content)
	return version
}

// Put replaces the content of a document and returns the new version.
func (s *DocumentStore) Put(uri, content string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	version := s.versionLocked(uri) + 1
	delete(s.invalidated, uri)
	s.docs[uri] = recon.NewSnapshot(uri, s.docs[uri].LanguageKind, version, content)
	return version
}

// Invalidate forgets the content of uri and bumps its version, so a pass
// still running for the document can no longer publish. It returns the new
// version, or 0 when the document is unknown.
func (s *DocumentStore) Invalidate(uri string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[uri]
	if !ok {
		return 0
	}
	delete(s.docs, uri)
	s.invalidated[uri] = doc.Version + 1
	return doc.Version + 1
}

func (s *DocumentStore) versionLocked(uri string) int {
	if doc, ok := s.docs[uri]; ok {
		return doc.Version
	}
	return s.invalidated[uri]
}

// Get returns the current snapshot of a document.
func (s *DocumentStore) Get(uri string) (recon.Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[uri]
	return doc, ok
}

// CopySnapshot returns the version and content of a document as one unit.
func (s *DocumentStore) CopySnapshot(uri string) (int, string, bool) {
	doc, ok := s.Get(uri)
	return doc.Version, doc.Content, ok
}

// Version returns the current version of a document, 0 when it was never
// stored.
func (s *DocumentStore) Version(uri string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.versionLocked(uri)
}

// IsCurrent reports whether uri is stored at version.
func (s *DocumentStore) IsCurrent(uri string, version int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[uri]
	return ok && doc.Version == version
}

// URIs returns the known documents in sorted order.
func (s *DocumentStore) URIs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uris := make([]string, 0, len(s.docs))
	for uri := range s.docs {
		uris = append(uris, uri)
	}
	sort.Strings(uris)
	return uris
}
