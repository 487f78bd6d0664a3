// Package chunkTree stores byte streams as trees of chunks and reads them back.
//
// Leaves hold up to LeafSize bytes of the stream, base64 encoded behind a
// "blob\n" header. The base64 alphabet has no ':', so stream data is never
// taken for a child identifier.
// Inner nodes hold a "tree\n" header followed by up to Fanout child
// identifiers, one per line. Leaves are written before the nodes that
// reference them, so every node of a fully written tree is complete.
package chunkTree

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/i5heu/ouroboros-dag/internal/chunkStore"
	"github.com/i5heu/ouroboros-dag/internal/identity"
	"github.com/i5heu/ouroboros-dag/internal/workerPool"
	boxochunker "github.com/ipfs/boxo/chunker"
	"github.com/sirupsen/logrus"
)

const (
	DefaultLeafSize = 512
	// MaxLeafSize is the largest leaf whose encoded form fits a chunk.
	MaxLeafSize = (chunkStore.MaxChunkSize - len("blob\n")) / 4 * 3
	// Fanout keeps inner nodes below chunkStore.MaxChunkSize.
	Fanout = 20
)

var (
	leafHeader   = []byte("blob\n")
	leafEncoding = base64.StdEncoding
	treeHeader   = []byte("tree\n")

	ErrUnknownNode = errors.New("chunkTree: unknown node type")
)

// ChunkWriter stores single chunks.
type ChunkWriter interface {
	StoreChunkContents(ctx context.Context, content []byte) (chunkStore.Chunk, error)
}

// ChunkReader loads single chunks.
type ChunkReader interface {
	GetChunkContents(ctx context.Context, identifier string) (chunkStore.Chunk, error)
}

type Builder struct {
	store    ChunkWriter
	pool     *workerPool.WorkerPool
	leafSize int64
	log      logrus.FieldLogger
}

// NewBuilder returns a Builder writing leaves of leafSize bytes through pool.
// A leafSize of 0 selects DefaultLeafSize.
func NewBuilder(store ChunkWriter, pool *workerPool.WorkerPool, leafSize int64, log logrus.FieldLogger) (*Builder, error) {
	if leafSize == 0 {
		leafSize = DefaultLeafSize
	}
	if leafSize < 1 || leafSize > int64(MaxLeafSize) {
		return nil, fmt.Errorf("leaf size %d out of range", leafSize)
	}
	if log == nil {
		log = logrus.New()
	}

	return &Builder{
		store:    store,
		pool:     pool,
		leafSize: leafSize,
		log:      log.WithField("component", "chunkTree"),
	}, nil
}

// Write stores everything read from r and returns the root chunk.
func (b *Builder) Write(ctx context.Context, r io.Reader) (chunkStore.Chunk, error) {
	level, err := b.writeLeaves(ctx, r)
	if err != nil {
		return chunkStore.Chunk{}, err
	}

	depth := 0
	for len(level) > 1 {
		level, err = b.writeLevel(ctx, level)
		if err != nil {
			return chunkStore.Chunk{}, err
		}
		depth++
	}

	root := level[0]
	b.log.WithFields(logrus.Fields{
		"root":     root.Identifier,
		"levels":   depth,
		"complete": root.Complete,
	}).Debug("Stored tree")

	return root, nil
}

func (b *Builder) writeLeaves(ctx context.Context, r io.Reader) ([]chunkStore.Chunk, error) {
	splitter := boxochunker.NewSizeSplitter(r, b.leafSize)
	room := b.pool.CreateRoom()

	for {
		data, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			room.Wait()
			return nil, fmt.Errorf("error splitting input: %w", err)
		}

		content := encodeLeaf(data)
		if err := b.storeInRoom(ctx, room, content); err != nil {
			room.Wait()
			return nil, err
		}
	}

	results, err := room.Wait()
	if err != nil {
		return nil, err
	}

	if len(results) == 0 {
		chunk, err := b.store.StoreChunkContents(ctx, leafHeader)
		if err != nil {
			return nil, err
		}
		return []chunkStore.Chunk{chunk}, nil
	}

	return toChunks(results), nil
}

// writeLevel stores the parents of children, Fanout children per parent.
func (b *Builder) writeLevel(ctx context.Context, children []chunkStore.Chunk) ([]chunkStore.Chunk, error) {
	room := b.pool.CreateRoom()

	for start := 0; start < len(children); start += Fanout {
		end := min(start+Fanout, len(children))

		var content bytes.Buffer
		content.Write(treeHeader)
		for i, child := range children[start:end] {
			if i > 0 {
				content.WriteByte('\n')
			}
			content.WriteString(child.Identifier)
		}

		if err := b.storeInRoom(ctx, room, content.Bytes()); err != nil {
			room.Wait()
			return nil, err
		}
	}

	results, err := room.Wait()
	if err != nil {
		return nil, err
	}
	return toChunks(results), nil
}

func (b *Builder) storeInRoom(ctx context.Context, room *workerPool.Room, content []byte) error {
	return room.NewTask(func() (interface{}, error) {
		chunk, err := b.store.StoreChunkContents(ctx, content)
		if err != nil {
			return nil, err
		}
		return chunk, nil
	})
}

func encodeLeaf(data []byte) []byte {
	content := make([]byte, len(leafHeader)+leafEncoding.EncodedLen(len(data)))
	copy(content, leafHeader)
	leafEncoding.Encode(content[len(leafHeader):], data)
	return content
}

func toChunks(results []interface{}) []chunkStore.Chunk {
	chunks := make([]chunkStore.Chunk, len(results))
	for i, r := range results {
		chunks[i] = r.(chunkStore.Chunk)
	}
	return chunks
}

type Reader struct {
	store ChunkReader
}

func NewReader(store ChunkReader) *Reader {
	return &Reader{store: store}
}

// Read writes the stream stored under root to w.
func (rd *Reader) Read(ctx context.Context, root string, w io.Writer) error {
	chunk, err := rd.store.GetChunkContents(ctx, root)
	if err != nil {
		return err
	}

	switch {
	case bytes.HasPrefix(chunk.Content, leafHeader):
		data, err := leafEncoding.DecodeString(string(chunk.Content[len(leafHeader):]))
		if err != nil {
			return fmt.Errorf("%w: bad leaf encoding in %s: %v", ErrUnknownNode, root, err)
		}
		_, err = w.Write(data)
		return err
	case bytes.HasPrefix(chunk.Content, treeHeader):
		body := string(chunk.Content[len(treeHeader):])
		for _, child := range strings.Split(body, "\n") {
			if !identity.Valid(child) {
				return fmt.Errorf("%w: bad child reference in %s", ErrUnknownNode, root)
			}
			if err := rd.Read(ctx, child, w); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("%w: %s", ErrUnknownNode, root)
	}
}
