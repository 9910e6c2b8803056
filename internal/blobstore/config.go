package blobstore

import (
	"errors"
	"fmt"
	"os"

	"github.com/shirou/gopsutil/disk"
	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/internal/workerpool"
)

const (
	// DefaultChunkSize is the size of the chunks bodies are split into.
	DefaultChunkSize = 256 * 1024

	gigabyte = 1024 * 1024 * 1024
)

// Config configures a Store.
type Config struct {
	// Path is the data directory. It must exist unless InMemory is set.
	Path string
	// InMemory keeps everything in RAM. Path and MinimumFreeGB are ignored.
	InMemory bool
	// MinimumFreeGB is the free space Open insists on.
	MinimumFreeGB uint64
	ChunkSize     int
	// Pool compresses chunks in parallel. If nil, Open starts a private one.
	Pool   *workerpool.Pool
	Logger *logrus.Logger
}

func (c *Config) checkConfig() error {
	if c.ChunkSize <= 0 {
		c.ChunkSize = DefaultChunkSize
	}
	if c.InMemory {
		return nil
	}
	if c.Path == "" {
		return errors.New("no path provided in configuration")
	}

	info, err := os.Stat(c.Path)
	if os.IsNotExist(err) {
		return errors.New("path does not exist")
	}
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return errors.New("path is not a directory")
	}

	usage, err := disk.Usage(c.Path)
	if err != nil {
		return fmt.Errorf("disk usage: %w", err)
	}
	if usage.Free/gigabyte < c.MinimumFreeGB {
		return fmt.Errorf("not enough space available on disk: %d GB free, %d GB required",
			usage.Free/gigabyte, c.MinimumFreeGB)
	}
	return nil
}

// logDiskUsage logs the disk usage of the data directory.
func logDiskUsage(log *logrus.Logger, path string) {
	usage, err := disk.Usage(path)
	if err != nil {
		log.WithField("path", path).Warnf("could not read disk usage: %v", err)
		return
	}
	log.WithFields(logrus.Fields{
		"path":    path,
		"fstype":  usage.Fstype,
		"totalGB": fmt.Sprintf("%.2f", float64(usage.Total)/1e9),
		"usedGB":  fmt.Sprintf("%.2f", float64(usage.Used)/1e9),
		"freeGB":  fmt.Sprintf("%.2f", float64(usage.Free)/1e9),
	}).Info("disk usage")
}
