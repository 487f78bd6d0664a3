package keyValStore

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"
)

// DefaultSchemaVersion is the schema version used when StoreConfig.SchemaVersion is zero.
const DefaultSchemaVersion uint64 = 3

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace int      // in GB
	Logger           *logrus.Logger

	// SchemaVersion must only ever grow. Raising it runs the upgrade over the registry on open.
	SchemaVersion uint64
	// InMemory keeps everything in RAM, Paths are ignored.
	InMemory bool
	// Compression stores new values LZMA compressed.
	Compression bool
	SyncWrites  bool
}

func (sc *StoreConfig) applyDefaults() {
	if sc.Logger == nil {
		sc.Logger = logrus.New()
	}
	if sc.SchemaVersion == 0 {
		sc.SchemaVersion = DefaultSchemaVersion
	}
}

func (sc *StoreConfig) checkConfig() error {
	if sc.InMemory {
		return nil
	}

	if len(sc.Paths) == 0 {
		return errors.New("no path provided in configuration")
	}

	path := sc.Paths[0] // Currently only the first path is utilized
	info, err := os.Stat(path)
	if os.IsNotExist(err) {
		return errors.New("path does not exist")
	}
	if err != nil {
		return fmt.Errorf("error checking path %s: %w", path, err)
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	usage, err := disk.Usage(path)
	if err != nil {
		return fmt.Errorf("error reading disk usage of %s: %w", path, err)
	}

	availableSpaceInGB := usage.Free / (1024 * 1024 * 1024)
	if sc.MinimumFreeSpace > 0 && availableSpaceInGB < uint64(sc.MinimumFreeSpace) {
		return errors.New("not enough space available on disk")
	}

	return nil
}
