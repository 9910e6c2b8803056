package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i5heu/ouroboros-vault/internal/blobstore"
	"github.com/i5heu/ouroboros-vault/internal/config"
	"github.com/i5heu/ouroboros-vault/internal/devnet"
)

const (
	logKeyListenAddr  = "listenAddr"
	logKeyDataPath    = "dataPath"
	logKeyInMemory    = "inMemory"
	logKeyNodeAddress = "nodeAddress"
	logKeySignal      = "signal"
	logKeyError       = "error"
	logKeyReads       = "reads"
	logKeyWrites      = "writes"
)

const gcInterval = 10 * time.Minute

func main() { // A
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(2)
	}

	logger := cfg.Log.Logger()
	if cfg.debug {
		logger.SetLevel(logrus.DebugLevel)
	}

	logger.WithFields(logrus.Fields{
		logKeyListenAddr: cfg.Devnet.Listen,
		logKeyDataPath:   cfg.Devnet.DataPath,
		logKeyInMemory:   cfg.inMemory,
	}).Info("starting vault devnet")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.WithField(logKeySignal, sig.String()).Info("received shutdown signal")
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithField(logKeyError, err).Error("devnet error")
		os.Exit(1)
	}
}

// devnetConfig is the file configuration plus flag-only switches.
type devnetConfig struct { // A
	config.Config
	inMemory bool
	debug    bool
}

func parseFlags() (devnetConfig, error) { // A
	var (
		cfgPath  string
		listen   string
		dataPath string
		cfg      devnetConfig
	)

	flag.StringVar(&cfgPath, "config", "", "Path to YAML config file")
	flag.StringVar(&listen, "listen", "", "Address to listen on (overrides devnet.listen)")
	flag.StringVar(&dataPath, "data", "", "Path to data directory (overrides devnet.dataPath)")
	flag.BoolVar(&cfg.inMemory, "in-memory", false, "Keep uploads in memory only; keys are still persisted")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")
	flag.Parse()

	fileCfg, err := config.Load(cfgPath)
	if err != nil {
		return cfg, err
	}
	cfg.Config = fileCfg
	if listen != "" {
		cfg.Devnet.Listen = listen
	}
	if dataPath != "" {
		cfg.Devnet.DataPath = dataPath
	}
	return cfg, nil
}

// run serves the devnet until ctx is cancelled.
func run(ctx context.Context, cfg devnetConfig, logger *logrus.Logger) error { // A
	if err := os.MkdirAll(cfg.Devnet.DataPath, 0o750); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	keys, err := devnet.LoadOrCreateKeys(filepath.Join(cfg.Devnet.DataPath, "keys"))
	if err != nil {
		return fmt.Errorf("load node keys: %w", err)
	}

	blobCfg := blobstore.Config{InMemory: cfg.inMemory, Logger: logger}
	if !cfg.inMemory {
		blobPath := filepath.Join(cfg.Devnet.DataPath, "blobs")
		if err := os.MkdirAll(blobPath, 0o750); err != nil {
			return fmt.Errorf("create blob directory: %w", err)
		}
		blobCfg.Path = blobPath
		blobCfg.MinimumFreeGB = cfg.Devnet.MinimumFreeGB
	}
	blobs, err := blobstore.Open(blobCfg)
	if err != nil {
		return fmt.Errorf("open blob store: %w", err)
	}
	defer func() {
		if err := blobs.Close(); err != nil {
			logger.WithField(logKeyError, err).Warn("error closing blob store")
		}
	}()

	srv, err := devnet.New(
		devnet.WithLogger(logger),
		devnet.WithKeys(keys),
		devnet.WithBlobstore(blobs),
		devnet.WithRateLimit(cfg.Devnet.RateLimit, cfg.Devnet.Burst),
	)
	if err != nil {
		return fmt.Errorf("create devnet: %w", err)
	}
	defer srv.Close()

	httpServer := &http.Server{
		Addr:              cfg.Devnet.Listen,
		Handler:           srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	logger.WithFields(logrus.Fields{
		logKeyListenAddr:  cfg.Devnet.Listen,
		logKeyNodeAddress: srv.NodeAddress(),
	}).Info("devnet started")

	gc := time.NewTicker(gcInterval)
	defer gc.Stop()

	for {
		select {
		case err := <-errCh:
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("serve: %w", err)
		case <-gc.C:
			if err := blobs.Clean(); err != nil {
				logger.WithField(logKeyError, err).Warn("value log gc failed")
			}
			reads, writes := blobs.Counters()
			logger.WithFields(logrus.Fields{
				logKeyReads:  reads,
				logKeyWrites: writes,
			}).Debug("blob store stats")
		case <-ctx.Done():
			logger.Info("devnet shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return httpServer.Shutdown(shutdownCtx)
		}
	}
}
