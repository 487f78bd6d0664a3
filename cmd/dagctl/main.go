package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	OuroborosDAG "github.com/i5heu/ouroboros-dag"
	"github.com/i5heu/ouroboros-dag/internal/config"
	"github.com/sirupsen/logrus"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: dagctl [-config file] [-data dir] <command> [arguments]")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  put <file>                 store a single chunk (max 1024 bytes)")
	fmt.Fprintln(os.Stderr, "  get <identifier>           print a single chunk")
	fmt.Fprintln(os.Stderr, "  store <file>               store a file as a chunk tree")
	fmt.Fprintln(os.Stderr, "  retrieve <root> <file>     write a chunk tree to a file, - for stdout")
	fmt.Fprintln(os.Stderr, "  info                       print statistics")
	flag.PrintDefaults()
}

func main() {
	configPath := flag.String("config", "", "YAML config file")
	dataDir := flag.String("data", "", "data directory, overrides the config file")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	conf := config.Default()
	if *configPath != "" {
		var err error
		conf, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
			os.Exit(1)
		}
	}
	if *dataDir != "" {
		conf.Paths = []string{*dataDir}
	}

	log, err := newLogger(conf)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	if !conf.InMemory {
		if err := os.MkdirAll(conf.Paths[0], 0o700); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating data directory: %v\n", err)
			os.Exit(1)
		}
	}

	db, err := OuroborosDAG.NewOuroborosDAG(OuroborosDAG.Config{
		Paths:                     conf.Paths,
		MinimumFreeGB:             conf.MinimumFreeGB,
		GarbageCollectionInterval: time.Duration(conf.GarbageCollectionInterval),
		SchemaVersion:             conf.SchemaVersion,
		InMemory:                  conf.InMemory,
		Compression:               conf.Compression,
		LeafSize:                  conf.LeafSize,
		Logger:                    log,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing DB: %v\n", err)
		os.Exit(1)
	}

	err = run(context.Background(), db, flag.Args())
	if closeErr := db.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, db *OuroborosDAG.OuroborosDAG, args []string) error {
	switch args[0] {
	case "put":
		if len(args) != 2 {
			return fmt.Errorf("put needs a file")
		}
		content, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		chunk, err := db.StoreChunkContents(ctx, content)
		if err != nil {
			return err
		}
		printChunk(chunk)
	case "get":
		if len(args) != 2 {
			return fmt.Errorf("get needs an identifier")
		}
		chunk, err := db.GetChunkContents(ctx, args[1])
		if err != nil {
			return err
		}
		printChunk(chunk)
		fmt.Printf("%s\n", chunk.Content)
	case "store":
		if len(args) != 2 {
			return fmt.Errorf("store needs a file")
		}
		f, err := os.Open(args[1])
		if err != nil {
			return err
		}
		defer f.Close()
		root, err := db.StoreFile(ctx, f)
		if err != nil {
			return err
		}
		printChunk(root)
	case "retrieve":
		if len(args) != 3 {
			return fmt.Errorf("retrieve needs a root identifier and an output file")
		}
		var w io.Writer = os.Stdout
		if args[2] != "-" {
			f, err := os.Create(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			w = f
		}
		return db.RetrieveFile(ctx, args[1], w)
	case "info":
		stats, err := db.Stats(ctx)
		if err != nil {
			return err
		}
		printStats(os.Stdout, stats)
	default:
		usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
	return nil
}

func newLogger(conf config.Config) (*logrus.Logger, error) {
	level, err := conf.Level()
	if err != nil {
		return nil, err
	}
	log := logrus.New()
	log.SetLevel(level)
	return log, nil
}

func printStats(w io.Writer, stats OuroborosDAG.DBStats) {
	fmt.Fprintln(w, "Database Statistics:")
	fmt.Fprintf(w, "  Schema version:     %d\n", stats.SchemaVersion)
	fmt.Fprintf(w, "  Complete chunks:    %d\n", stats.CompleteChunks)
	fmt.Fprintf(w, "  Incomplete chunks:  %d\n", stats.IncompleteChunks)
	fmt.Fprintf(w, "  Store reads:        %d\n", stats.Reads)
	fmt.Fprintf(w, "  Store writes:       %d\n", stats.Writes)
}

func printChunk(chunk OuroborosDAG.Chunk) {
	fmt.Printf("Identifier: %s\n", chunk.Identifier)
	fmt.Printf("Complete:   %t\n", chunk.Complete)
	if chunk.Stats != nil {
		fmt.Printf("Depth:      %d\n", chunk.Stats.Depth)
		fmt.Printf("Size:       %d\n", chunk.Stats.Size)
	}
}
