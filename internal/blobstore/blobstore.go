// Package blobstore keeps uploaded transactions on disk. Bodies are split
// into fixed size chunks, compressed and stored once per distinct chunk;
// a manifest per transaction lists its chunks in order.
package blobstore

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	boxochunker "github.com/ipfs/boxo/chunker"
	"github.com/sirupsen/logrus"
	"github.com/ulikunitz/xz/lzma"

	"github.com/i5heu/ouroboros-vault/internal/workerpool"
)

var (
	ErrNotFound = errors.New("blobstore: transaction not found")
	ErrExists   = errors.New("blobstore: transaction already exists")
	ErrEmptyID  = errors.New("blobstore: empty transaction id")
	ErrCorrupt  = errors.New("blobstore: stored data is corrupt")
)

var (
	chunkPrefix = []byte("chunk:")
	txPrefix    = []byte("tx:")
)

// Tag is an indexing tag supplied by the uploader.
type Tag struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Object is a stored transaction.
type Object struct {
	ID          string
	ContentType string
	Tags        []Tag
	Created     time.Time
	Body        []byte
}

type manifest struct {
	ContentType string   `json:"contentType"`
	Tags        []Tag    `json:"tags,omitempty"`
	Size        int      `json:"size"`
	Created     int64    `json:"created"`
	Chunks      []string `json:"chunks"`
}

type compressedChunk struct {
	key  []byte
	data []byte
}

// Store is a badger backed transaction store.
type Store struct {
	config       Config
	db           *badger.DB
	pool         *workerpool.Pool
	ownPool      bool
	log          *logrus.Logger
	readCounter  uint64
	writeCounter uint64
}

// Open checks the configuration and opens the database.
func Open(config Config) (*Store, error) { // A
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if err := config.checkConfig(); err != nil {
		return nil, fmt.Errorf("error checking config for blobstore: %w", err)
	}

	opts := badger.DefaultOptions(config.Path)
	if config.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100
	opts.SyncWrites = false

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	s := &Store{
		config: config,
		db:     db,
		pool:   config.Pool,
		log:    config.Logger,
	}
	if s.pool == nil {
		s.pool = workerpool.New(workerpool.Config{WorkerCount: runtime.NumCPU()})
		s.ownPool = true
	}
	if !config.InMemory {
		logDiskUsage(s.log, config.Path)
	}
	return s, nil
}

// Put stores body under id. Ids are never overwritten.
func (s *Store) Put(id, contentType string, tags []Tag, body []byte) error { // A
	if id == "" {
		return ErrEmptyID
	}
	if ok, err := s.Has(id); err != nil {
		return err
	} else if ok {
		return fmt.Errorf("%w: %s", ErrExists, id)
	}

	room := s.pool.CreateRoom()
	splitter := boxochunker.NewSizeSplitter(bytes.NewReader(body), int64(s.config.ChunkSize))
	for index := 0; ; index++ {
		chunk, err := splitter.NextBytes()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("split body: %w", err)
		}
		if err := room.Submit(index, func() (interface{}, error) {
			sum := sha256.Sum256(chunk)
			compressed, err := compress(chunk)
			if err != nil {
				return nil, err
			}
			return compressedChunk{key: chunkKey(hex.EncodeToString(sum[:])), data: compressed}, nil
		}); err != nil {
			return err
		}
	}
	results, err := room.Wait()
	if err != nil {
		return fmt.Errorf("compress chunks: %w", err)
	}

	m := manifest{
		ContentType: contentType,
		Tags:        tags,
		Size:        len(body),
		Created:     time.Now().UnixMilli(),
		Chunks:      make([]string, 0, len(results)),
	}
	chunks := make([]compressedChunk, 0, len(results))
	for _, r := range results {
		c := r.Value.(compressedChunk)
		chunks = append(chunks, c)
		m.Chunks = append(m.Chunks, string(bytes.TrimPrefix(c.key, chunkPrefix)))
	}
	rawManifest, err := json.Marshal(m)
	if err != nil {
		return err
	}

	missing, err := s.missingChunks(chunks)
	if err != nil {
		return err
	}

	// Chunks are content addressed, so a chunk written for an upload that
	// then loses the race for its id is harmless.
	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, c := range missing {
		if err := wb.Set(c.key, c.data); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
		atomic.AddUint64(&s.writeCounter, 1)
	}
	if err := wb.Flush(); err != nil {
		return fmt.Errorf("write chunks: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(txKey(id)); err == nil {
			return fmt.Errorf("%w: %s", ErrExists, id)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		atomic.AddUint64(&s.writeCounter, 1)
		return txn.Set(txKey(id), rawManifest)
	})
	if err != nil {
		return err
	}

	s.log.WithFields(logrus.Fields{
		"id":     id,
		"size":   len(body),
		"chunks": len(chunks),
		"new":    len(missing),
	}).Debug("transaction stored")
	return nil
}

// missingChunks returns the chunks not yet in the database, each once.
func (s *Store) missingChunks(chunks []compressedChunk) ([]compressedChunk, error) {
	seen := make(map[string]bool, len(chunks))
	var missing []compressedChunk
	err := s.db.View(func(txn *badger.Txn) error {
		for _, c := range chunks {
			if seen[string(c.key)] {
				continue
			}
			seen[string(c.key)] = true
			_, err := txn.Get(c.key)
			if errors.Is(err, badger.ErrKeyNotFound) {
				missing = append(missing, c)
				continue
			}
			if err != nil {
				return err
			}
		}
		return nil
	})
	return missing, err
}

// Get reassembles the transaction stored under id.
func (s *Store) Get(id string) (Object, error) { // A
	if id == "" {
		return Object{}, ErrEmptyID
	}

	var obj Object
	err := s.db.View(func(txn *badger.Txn) error {
		atomic.AddUint64(&s.readCounter, 1)
		raw, err := readValue(txn, txKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		if err != nil {
			return err
		}

		var m manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("%w: manifest: %v", ErrCorrupt, err)
		}

		body := make([]byte, 0, m.Size)
		for _, h := range m.Chunks {
			atomic.AddUint64(&s.readCounter, 1)
			compressed, err := readValue(txn, chunkKey(h))
			if err != nil {
				return fmt.Errorf("%w: chunk %s: %v", ErrCorrupt, h, err)
			}
			chunk, err := decompress(compressed)
			if err != nil {
				return fmt.Errorf("%w: chunk %s: %v", ErrCorrupt, h, err)
			}
			sum := sha256.Sum256(chunk)
			if hex.EncodeToString(sum[:]) != h {
				return fmt.Errorf("%w: chunk %s hash mismatch", ErrCorrupt, h)
			}
			body = append(body, chunk...)
		}
		if len(body) != m.Size {
			return fmt.Errorf("%w: size %d, want %d", ErrCorrupt, len(body), m.Size)
		}

		obj = Object{
			ID:          id,
			ContentType: m.ContentType,
			Tags:        m.Tags,
			Created:     time.UnixMilli(m.Created),
			Body:        body,
		}
		return nil
	})
	return obj, err
}

// Has reports whether id is stored.
func (s *Store) Has(id string) (bool, error) { // A
	var ok bool
	err := s.db.View(func(txn *badger.Txn) error {
		atomic.AddUint64(&s.readCounter, 1)
		_, err := txn.Get(txKey(id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		ok = true
		return nil
	})
	return ok, err
}

// ChunkCount returns the number of distinct chunks stored.
func (s *Store) ChunkCount() (int, error) { // A
	n := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(chunkPrefix); it.ValidForPrefix(chunkPrefix); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// Counters returns the number of reads and writes since Open.
func (s *Store) Counters() (reads, writes uint64) { // A
	return atomic.LoadUint64(&s.readCounter), atomic.LoadUint64(&s.writeCounter)
}

// Clean syncs the database and garbage collects the value log.
func (s *Store) Clean() error { // A
	if s.config.InMemory {
		return nil
	}
	if err := s.db.Sync(); err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}
	err := s.db.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}
	return nil
}

// Close cleans and closes the database.
func (s *Store) Close() error { // A
	if err := s.Clean(); err != nil {
		s.log.Warnf("blobstore clean on close: %v", err)
	}
	if s.ownPool {
		s.pool.Close()
	}
	return s.db.Close()
}

func readValue(txn *badger.Txn, key []byte) ([]byte, error) {
	item, err := txn.Get(key)
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func chunkKey(hash string) []byte {
	return append(append([]byte(nil), chunkPrefix...), hash...)
}

func txKey(id string) []byte {
	return append(append([]byte(nil), txPrefix...), id...)
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := lzma.NewWriter(&buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	r, err := lzma.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
