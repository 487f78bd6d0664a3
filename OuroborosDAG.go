package OuroborosDAG

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/i5heu/ouroboros-dag/internal/chunkStore"
	"github.com/i5heu/ouroboros-dag/internal/chunkTree"
	"github.com/i5heu/ouroboros-dag/internal/identity"
	"github.com/i5heu/ouroboros-dag/internal/keyValStore"
	"github.com/i5heu/ouroboros-dag/internal/nvd"
	"github.com/i5heu/ouroboros-dag/internal/workerPool"
	"github.com/sirupsen/logrus"
)

type Chunk = chunkStore.Chunk
type Stats = chunkStore.Stats

var (
	ErrSizeLimitExceeded = chunkStore.ErrSizeLimitExceeded
	ErrChunkNotFound     = chunkStore.ErrChunkNotFound
)

type OuroborosDAG struct {
	kv      *keyValStore.KeyValStore
	chunks  *chunkStore.ChunkStore
	nvd     *nvd.NVD
	wp      *workerPool.WorkerPool
	builder *chunkTree.Builder
	reader  *chunkTree.Reader
	config  Config
	log     *logrus.Logger

	stopGC    chan struct{}
	gcDone    sync.WaitGroup
	closeOnce sync.Once
}

type Config struct {
	Paths                     []string
	MinimumFreeGB             int
	GarbageCollectionInterval time.Duration // in minutes, 0 disables it
	SchemaVersion             uint64
	InMemory                  bool
	Compression               bool
	LeafSize                  int64
	Logger                    *logrus.Logger
	// Identity defaults to identity.SHA256.
	Identity chunkStore.Identity
}

type DBStats struct {
	CompleteChunks   int
	IncompleteChunks int
	Reads            uint64
	Writes           uint64
	SchemaVersion    uint64
}

func NewOuroborosDAG(conf Config) (*OuroborosDAG, error) {
	if conf.Logger == nil {
		conf.Logger = logrus.New()
	}
	if conf.Identity == nil {
		conf.Identity = identity.SHA256{}
	}

	reg := keyValStore.NewRegistry()
	chunks := chunkStore.NewChunkStore(reg, conf.Identity, conf.Logger)
	settings := nvd.NewNVD(reg, conf.Logger)

	kv, err := keyValStore.NewKeyValStore(keyValStore.StoreConfig{
		Paths:            conf.Paths,
		MinimumFreeSpace: conf.MinimumFreeGB,
		Logger:           conf.Logger,
		SchemaVersion:    conf.SchemaVersion,
		InMemory:         conf.InMemory,
		Compression:      conf.Compression,
	}, reg)
	if err != nil {
		return nil, fmt.Errorf("error creating KeyValStore: %w", err)
	}

	wp := workerPool.NewWorkerPool(workerPool.Config{})
	builder, err := chunkTree.NewBuilder(chunks, wp, conf.LeafSize, conf.Logger)
	if err != nil {
		wp.Close()
		kv.Close()
		return nil, err
	}

	ou := &OuroborosDAG{
		kv:      kv,
		chunks:  chunks,
		nvd:     settings,
		wp:      wp,
		builder: builder,
		reader:  chunkTree.NewReader(chunks),
		config:  conf,
		log:     conf.Logger,
		stopGC:  make(chan struct{}),
	}

	if conf.GarbageCollectionInterval > 0 {
		ou.gcDone.Add(1)
		go ou.createGarbageCollection()
	}

	return ou, nil
}

func (ou *OuroborosDAG) createGarbageCollection() {
	defer ou.gcDone.Done()

	ticker := time.NewTicker(ou.config.GarbageCollectionInterval * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ou.stopGC:
			return
		case <-ticker.C:
			if err := ou.kv.Clean(); err != nil {
				ou.log.WithError(err).Error("Error during garbage collection")
			}
		}
	}
}

// StoreChunkContents stores a single chunk of at most chunkStore.MaxChunkSize bytes.
func (ou *OuroborosDAG) StoreChunkContents(ctx context.Context, content []byte) (Chunk, error) {
	return ou.chunks.StoreChunkContents(ctx, content)
}

func (ou *OuroborosDAG) GetChunkContents(ctx context.Context, identifier string) (Chunk, error) {
	return ou.chunks.GetChunkContents(ctx, identifier)
}

// StoreFile stores r as a tree of chunks and returns the root chunk.
func (ou *OuroborosDAG) StoreFile(ctx context.Context, r io.Reader) (Chunk, error) {
	return ou.builder.Write(ctx, r)
}

// RetrieveFile writes the stream stored under root to w.
func (ou *OuroborosDAG) RetrieveFile(ctx context.Context, root string, w io.Writer) error {
	return ou.reader.Read(ctx, root, w)
}

// NVD returns the settings store.
func (ou *OuroborosDAG) NVD() *nvd.NVD {
	return ou.nvd
}

func (ou *OuroborosDAG) Stats(ctx context.Context) (DBStats, error) {
	complete, incomplete, err := ou.chunks.Counts(ctx)
	if err != nil {
		return DBStats{}, err
	}

	version, err := ou.kv.SchemaVersion()
	if err != nil {
		return DBStats{}, err
	}

	reads, writes := ou.kv.OperationCounts()
	return DBStats{
		CompleteChunks:   complete,
		IncompleteChunks: incomplete,
		Reads:            reads,
		Writes:           writes,
		SchemaVersion:    version,
	}, nil
}

// Close stops the garbage collection and closes the store. It is safe to call more than once.
func (ou *OuroborosDAG) Close() error {
	var err error
	ou.closeOnce.Do(func() {
		close(ou.stopGC)
		ou.gcDone.Wait()
		ou.wp.Close()
		err = ou.kv.Close()
	})
	return err
}
