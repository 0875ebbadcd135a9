// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Yggdrasil Contributors

// Package docstore implements a directory-backed keyed JSON document cache.
//
// Each key maps to a single <key>.json file under the store's base
// directory. All writes go through a temp-file-and-rename sequence, so a
// concurrent reader never observes a partially written document. Keys are
// independent: there is no cross-key locking and no transactions. Writers
// racing on the same key are allowed; the last rename wins.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"

	"github.com/RepeaterTS/yggdrasil/internal/observability"
	"github.com/RepeaterTS/yggdrasil/internal/xdg"
)

// ErrNotFound is returned when a requested document does not exist or
// cannot be parsed. Callers treat it as "no cached state", not a failure.
var ErrNotFound = errors.New("document not found")

// Document is a free-form JSON object keyed by field name.
type Document = map[string]any

// identityField is the document field forced to equal the storage key on
// every create, update, and replace.
const identityField = "username"

// getAllBatchSize bounds how many documents GetAll reads concurrently,
// capping file-handle usage on large caches.
const getAllBatchSize = 5000

// Store is a directory of JSON documents, one file per key.
type Store struct {
	dir string
}

// New creates a Store rooted at dir. Call Init before first use.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// Init ensures the store's directory exists (0700).
func (s *Store) Init() error {
	if err := xdg.EnsureDir(s.dir); err != nil {
		return oops.Code("CACHE_INIT_FAILED").
			With("dir", s.dir).
			Wrap(err)
	}
	return nil
}

// Dir returns the store's base directory.
func (s *Store) Dir() string {
	return s.dir
}

// sanitizeKey reduces an arbitrary key to a single flat file id. Path
// separators and other unsafe runes collapse to '_' so a key can never
// escape the base directory.
func sanitizeKey(key string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_', r == '@', r == '+':
			return r
		default:
			return '_'
		}
	}, key)
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, sanitizeKey(key)+".json")
}

// Get reads and parses the document for key. A missing or unparsable file
// yields ErrNotFound.
func (s *Store) Get(key string) (Document, error) {
	raw, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			observability.RecordCacheOp("get", observability.OutcomeMiss)
			return nil, ErrNotFound
		}
		observability.RecordCacheOp("get", observability.OutcomeError)
		return nil, oops.Code("CACHE_READ_FAILED").
			With("key", key).
			Wrap(err)
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		// Corrupt cache entries behave like misses so the credential
		// chain can rebuild them.
		observability.RecordCacheOp("get", observability.OutcomeMiss)
		return nil, ErrNotFound
	}
	observability.RecordCacheOp("get", observability.OutcomeOK)
	return doc, nil
}

// GetAll reads the documents for the given keys, defaulting to every key
// in the store. Keys are processed in fixed-size batches; documents that
// resolve to ErrNotFound are omitted from the result.
func (s *Store) GetAll(ctx context.Context, keys ...string) ([]Document, error) {
	if len(keys) == 0 {
		var err error
		keys, err = s.Keys()
		if err != nil {
			return nil, err
		}
	}

	out := make([]Document, 0, len(keys))
	for start := 0; start < len(keys); start += getAllBatchSize {
		end := min(start+getAllBatchSize, len(keys))
		batch := keys[start:end]
		docs := make([]Document, len(batch))

		g, _ := errgroup.WithContext(ctx)
		for i, key := range batch {
			i, key := i, key
			g.Go(func() error {
				doc, err := s.Get(key)
				if err != nil {
					if errors.Is(err, ErrNotFound) {
						return nil
					}
					return err
				}
				docs[i] = doc
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		for _, doc := range docs {
			if doc != nil {
				out = append(out, doc)
			}
		}
	}
	return out, nil
}

// Keys lists every stored key, in directory order.
func (s *Store) Keys() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.Code("CACHE_LIST_FAILED").
			With("dir", s.dir).
			Wrap(err)
	}
	keys := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".json") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".json"))
	}
	return keys, nil
}

// KeysMatching lists stored keys matching the given glob pattern.
func (s *Store) KeysMatching(pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, oops.Code("CACHE_BAD_PATTERN").
			With("pattern", pattern).
			Wrap(err)
	}
	keys, err := s.Keys()
	if err != nil {
		return nil, err
	}
	matched := keys[:0]
	for _, key := range keys {
		if g.Match(key) {
			matched = append(matched, key)
		}
	}
	return matched, nil
}

// Has reports whether a document exists for key, without parsing it.
func (s *Store) Has(key string) bool {
	_, err := os.Stat(s.path(key))
	return err == nil
}

// Create writes a new document for key, overwriting any existing one. The
// identity field is forced to equal the key.
func (s *Store) Create(key string, data Document) error {
	doc := cloneDoc(data)
	doc[identityField] = key
	return s.record("create", s.write(key, doc))
}

// Update deep-merges data over the existing document for key (or over a
// fresh identity-only document when none exists): nested objects merge
// recursively, scalars and arrays replace.
func (s *Store) Update(key string, data Document) error {
	existing, err := s.Get(key)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			return err
		}
		existing = Document{identityField: key}
	}
	merged := mergeDocs(existing, data)
	merged[identityField] = key
	return s.record("update", s.write(key, merged))
}

// Replace writes the document for key verbatim, discarding prior content.
// Only the identity field survives from the old document's contract.
func (s *Store) Replace(key string, data Document) error {
	doc := cloneDoc(data)
	doc[identityField] = key
	return s.record("replace", s.write(key, doc))
}

// Delete removes the backing file for key. Deleting an absent key yields
// ErrNotFound.
func (s *Store) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil {
		if os.IsNotExist(err) {
			observability.RecordCacheOp("delete", observability.OutcomeMiss)
			return ErrNotFound
		}
		observability.RecordCacheOp("delete", observability.OutcomeError)
		return oops.Code("CACHE_DELETE_FAILED").
			With("key", key).
			Wrap(err)
	}
	observability.RecordCacheOp("delete", observability.OutcomeOK)
	return nil
}

// record tags a mutation's outcome on the cache op counter and passes
// the error through.
func (s *Store) record(op string, err error) error {
	if err != nil {
		observability.RecordCacheOp(op, observability.OutcomeError)
		return err
	}
	observability.RecordCacheOp(op, observability.OutcomeOK)
	return nil
}

// write marshals doc and renames it into place so readers never observe a
// partial document.
func (s *Store) write(key string, doc Document) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return oops.Code("CACHE_WRITE_FAILED").
			With("key", key).
			Wrap(err)
	}

	tmp, err := os.CreateTemp(s.dir, sanitizeKey(key)+".*.tmp")
	if err != nil {
		return oops.Code("CACHE_WRITE_FAILED").
			With("key", key).
			Wrap(err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return oops.Code("CACHE_WRITE_FAILED").
			With("key", key).
			Wrap(err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return oops.Code("CACHE_WRITE_FAILED").
			With("key", key).
			Wrap(err)
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return oops.Code("CACHE_WRITE_FAILED").
			With("key", key).
			Wrap(err)
	}
	if err := os.Rename(tmpName, s.path(key)); err != nil {
		os.Remove(tmpName)
		return oops.Code("CACHE_WRITE_FAILED").
			With("key", key).
			Wrap(err)
	}
	return nil
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc)+1)
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// mergeDocs deep-merges src over dst and returns the result. Nested
// objects merge recursively; every other value type replaces.
func mergeDocs(dst, src Document) Document {
	out := cloneDoc(dst)
	for k, v := range src {
		srcMap, srcOK := v.(map[string]any)
		dstMap, dstOK := out[k].(map[string]any)
		if srcOK && dstOK {
			out[k] = mergeDocs(dstMap, srcMap)
			continue
		}
		out[k] = v
	}
	return out
}
