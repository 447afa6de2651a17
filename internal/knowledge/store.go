// SPDX-License-Identifier: MIT

package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dgraph-io/badger/v4"

	"github.com/subhogram/riskobot/internal/log"
)

// Badger key layout:
//   meta:kb        -> Meta (JSON)
//   chunk:<id>     -> Chunk (JSON, embedding included)

var (
	metaKey     = []byte("meta:kb")
	chunkPrefix = []byte("chunk:")
)

// ErrNoSavedIndex is returned by Load when no persisted knowledge base exists.
var ErrNoSavedIndex = errors.New("knowledge: no saved index")

// ErrModelMismatch is returned by Load when the persisted index was embedded
// with a different model than the one currently configured.
var ErrModelMismatch = errors.New("knowledge: saved index was built with a different embedding model")

// Store persists a trained Index in a badger database.
type Store struct {
	db *badger.DB
}

// OpenStore opens (or creates) the knowledge base database at path.
func OpenStore(path string) (*Store, error) {
	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("knowledge: open store: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Save writes the current index contents, replacing any previous save.
func (s *Store) Save(ctx context.Context, ix *Index) error {
	chunks, meta := ix.snapshot()
	if len(chunks) == 0 {
		return ErrNotTrained
	}

	if err := s.db.DropPrefix(chunkPrefix); err != nil {
		return fmt.Errorf("knowledge: clear previous save: %w", err)
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()

	for _, c := range chunks {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		buf, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("knowledge: marshal chunk %s: %w", c.ID, err)
		}
		if err := wb.Set([]byte("chunk:"+c.ID), buf); err != nil {
			return fmt.Errorf("knowledge: write chunk %s: %w", c.ID, err)
		}
	}
	metaBuf, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("knowledge: marshal meta: %w", err)
	}
	if err := wb.Set(metaKey, metaBuf); err != nil {
		return fmt.Errorf("knowledge: write meta: %w", err)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("knowledge: flush save: %w", err)
	}

	logger := log.WithComponentFromContext(ctx, "knowledge")
	logger.Info().
		Str(log.FieldEvent, "kb.saved").
		Int(log.FieldChunks, len(chunks)).
		Str(log.FieldModel, meta.Model).
		Msg("knowledge base persisted")
	return nil
}

// Load restores a persisted index into ix. The saved index must have been
// built with the embedding model ix is configured with.
func (s *Store) Load(ctx context.Context, ix *Index) (Meta, error) {
	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNoSavedIndex
			}
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if err != nil {
		return Meta{}, err
	}

	if meta.Model != ix.embedder.Model() {
		return Meta{}, fmt.Errorf("%w: saved %q, configured %q", ErrModelMismatch, meta.Model, ix.embedder.Model())
	}

	chunks := make([]Chunk, 0, meta.Chunks)
	err = s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		for it.Seek(chunkPrefix); it.ValidForPrefix(chunkPrefix); it.Next() {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
			}
			var c Chunk
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &c)
			}); err != nil {
				return fmt.Errorf("knowledge: decode chunk: %w", err)
			}
			if len(c.Embedding) != meta.Dimension {
				return fmt.Errorf("knowledge: chunk %s has dimension %d, meta says %d", c.ID, len(c.Embedding), meta.Dimension)
			}
			chunks = append(chunks, c)
		}
		return nil
	})
	if err != nil {
		return Meta{}, err
	}
	if len(chunks) == 0 {
		return Meta{}, ErrNoSavedIndex
	}

	ix.restore(chunks, meta)
	logger := log.WithComponentFromContext(ctx, "knowledge")
	logger.Info().
		Str(log.FieldEvent, "kb.loaded").
		Int(log.FieldChunks, len(chunks)).
		Str(log.FieldModel, meta.Model).
		Time("trained_at", meta.TrainedAt).
		Msg("knowledge base loaded from disk")
	return meta, nil
}

// Delete removes the persisted index. Deleting a nonexistent save is a no-op.
func (s *Store) Delete(ctx context.Context) error {
	if err := s.db.DropPrefix(chunkPrefix); err != nil {
		return fmt.Errorf("knowledge: drop chunks: %w", err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(metaKey)
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("knowledge: drop meta: %w", err)
	}
	logger := log.WithComponentFromContext(ctx, "knowledge")
	logger.Info().
		Str(log.FieldEvent, "kb.deleted").
		Msg("persisted knowledge base removed")
	return nil
}

// SavedMeta reads the metadata of a persisted index without loading chunks.
func (s *Store) SavedMeta() (Meta, bool, error) {
	var meta Meta
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(metaKey)
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &meta)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Meta{}, false, nil
	}
	if err != nil {
		return Meta{}, false, err
	}
	return meta, true, nil
}
