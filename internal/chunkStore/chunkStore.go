// Package chunkStore persists content addressed chunks and classifies each of
// them as complete, when every descendant is already stored as complete, or
// incomplete otherwise.
//
// Chunks are expected to be written bottom-up. An incomplete chunk is not
// promoted when its children arrive later; storing the same content again
// recomputes its classification.
package chunkStore

import (
	"context"
	"errors"
	"fmt"

	"github.com/i5heu/ouroboros-dag/internal/keyValStore"
	"github.com/sirupsen/logrus"
)

// MaxChunkSize is the largest content in bytes a chunk may have.
const MaxChunkSize = 1024

const (
	CompleteStoreName        = "complete-chunks"
	IncompleteStoreName      = "incomplete-chunks"
	IncompleteCompatibleName = "chunk"
)

var (
	ErrSizeLimitExceeded = errors.New("chunkStore: chunk size limit exceeded")
	ErrChunkNotFound     = errors.New("chunkStore: chunk not found")
	ErrCorruptRecord     = errors.New("chunkStore: corrupt chunk record")
)

// Identity derives identifiers from chunk content.
type Identity interface {
	// Identifier must be deterministic and depend on content only.
	Identifier(content []byte) (string, error)
	// ChildIdentifiers returns the identifiers referenced by content in order.
	ChildIdentifiers(content []byte) ([]string, error)
}

// Stats is only known for complete chunks.
type Stats struct {
	// Depth is 0 for leaves and 1 + the deepest child otherwise.
	Depth uint64
	// Size is the length of the content plus the sizes of all children.
	Size uint64
}

type Chunk struct {
	Identifier string
	Content    []byte
	Complete   bool
	Stats      *Stats // nil if the chunk is incomplete
}

type ChunkStore struct {
	complete   *keyValStore.Store
	incomplete *keyValStore.Store
	identity   Identity
	log        logrus.FieldLogger
}

// NewChunkStore registers the complete and incomplete stores on reg. The
// returned ChunkStore is usable once reg is attached to a KeyValStore.
func NewChunkStore(reg *keyValStore.Registry, identity Identity, log logrus.FieldLogger) *ChunkStore {
	if log == nil {
		log = logrus.New()
	}

	return &ChunkStore{
		complete:   reg.Register(CompleteStoreName, ""),
		incomplete: reg.Register(IncompleteStoreName, IncompleteCompatibleName),
		identity:   identity,
		log:        log.WithField("component", "chunkStore"),
	}
}

// StoreChunkContents stores content and returns its identifier together with
// the completeness classification.
func (cs *ChunkStore) StoreChunkContents(ctx context.Context, content []byte) (Chunk, error) {
	if len(content) > MaxChunkSize {
		return Chunk{}, fmt.Errorf("%w: %d bytes, limit is %d", ErrSizeLimitExceeded, len(content), MaxChunkSize)
	}

	children, err := cs.identity.ChildIdentifiers(content)
	if err != nil {
		return Chunk{}, fmt.Errorf("error extracting child identifiers: %w", err)
	}

	complete := true
	stats := Stats{Size: uint64(len(content))}
	for _, childIdentifier := range children {
		child, found, err := cs.lookupComplete(ctx, childIdentifier)
		if err != nil {
			return Chunk{}, err
		}
		if !found {
			complete = false
			break
		}

		stats.Size += child.Size
		stats.Depth = max(stats.Depth, child.Depth+1)
	}

	identifier, err := cs.identity.Identifier(content)
	if err != nil {
		return Chunk{}, fmt.Errorf("error computing identifier: %w", err)
	}

	chunk := Chunk{
		Identifier: identifier,
		Content:    content,
		Complete:   complete,
	}

	if complete {
		record := completeRecord{Content: content, Depth: stats.Depth, Size: stats.Size}
		if err := cs.complete.Put(ctx, identifier, record.marshal()); err != nil {
			return Chunk{}, fmt.Errorf("error storing complete chunk %s: %w", identifier, err)
		}
		chunk.Stats = &stats
	} else {
		if err := cs.incomplete.Put(ctx, identifier, content); err != nil {
			return Chunk{}, fmt.Errorf("error storing incomplete chunk %s: %w", identifier, err)
		}
	}

	cs.log.WithFields(logrus.Fields{
		"identifier": identifier,
		"complete":   complete,
		"children":   len(children),
	}).Debug("Stored chunk")

	return chunk, nil
}

// GetChunkContents reads a chunk, looking at complete chunks first.
func (cs *ChunkStore) GetChunkContents(ctx context.Context, identifier string) (Chunk, error) {
	record, found, err := cs.lookupComplete(ctx, identifier)
	if err != nil {
		return Chunk{}, err
	}
	if found {
		return Chunk{
			Identifier: identifier,
			Content:    record.Content,
			Complete:   true,
			Stats:      &Stats{Depth: record.Depth, Size: record.Size},
		}, nil
	}

	res, err := cs.incomplete.Lookup(ctx, identifier)
	if err != nil {
		return Chunk{}, fmt.Errorf("error reading incomplete chunk %s: %w", identifier, err)
	}
	if !res.Found {
		return Chunk{}, fmt.Errorf("%w: %s", ErrChunkNotFound, identifier)
	}

	return Chunk{
		Identifier: identifier,
		Content:    res.Value,
		Complete:   false,
	}, nil
}

func (cs *ChunkStore) lookupComplete(ctx context.Context, identifier string) (completeRecord, bool, error) {
	res, err := cs.complete.Lookup(ctx, identifier)
	if err != nil {
		return completeRecord{}, false, fmt.Errorf("error reading complete chunk %s: %w", identifier, err)
	}
	if !res.Found {
		return completeRecord{}, false, nil
	}

	record, err := unmarshalCompleteRecord(res.Value)
	if err != nil {
		return completeRecord{}, false, fmt.Errorf("chunk %s: %w", identifier, err)
	}
	return record, true, nil
}

// Counts returns the number of complete and incomplete chunks.
func (cs *ChunkStore) Counts(ctx context.Context) (complete, incomplete int, err error) {
	complete, err = cs.complete.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	incomplete, err = cs.incomplete.Count(ctx)
	if err != nil {
		return 0, 0, err
	}
	return complete, incomplete, nil
}
