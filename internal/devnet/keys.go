package devnet

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/i5heu/ouroboros-vault/pkg/wallet"
)

const (
	masterKeyFile = "master.key"
	nodeKeyFile   = "node.key"
	seedFile      = "chain.seed"
	keySize       = 32
)

var ErrBadMasterKey = errors.New("devnet: master key must be 32 bytes")

// Keys are the long lived secrets of a node.
type Keys struct {
	// Master seals every payload encrypted by the node.
	Master []byte
	// Node signs issued sessions.
	Node *wallet.LocalSigner
	// ChainSeed derives the emulated block hashes.
	ChainSeed []byte
}

// GenerateKeys returns fresh random keys.
func GenerateKeys() (Keys, error) {
	master, err := randomBytes(keySize)
	if err != nil {
		return Keys{}, err
	}
	seed, err := randomBytes(keySize)
	if err != nil {
		return Keys{}, err
	}
	node, err := wallet.GenerateLocalSigner()
	if err != nil {
		return Keys{}, err
	}
	return Keys{Master: master, Node: node, ChainSeed: seed}, nil
}

// LoadOrCreateKeys reads the keys kept in dir, creating missing ones, so
// that data sealed before a restart can still be opened.
func LoadOrCreateKeys(dir string) (Keys, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Keys{}, fmt.Errorf("create key dir: %w", err)
	}

	master, err := loadOrCreateSecret(filepath.Join(dir, masterKeyFile))
	if err != nil {
		return Keys{}, fmt.Errorf("master key: %w", err)
	}
	seed, err := loadOrCreateSecret(filepath.Join(dir, seedFile))
	if err != nil {
		return Keys{}, fmt.Errorf("chain seed: %w", err)
	}

	nodePath := filepath.Join(dir, nodeKeyFile)
	node, err := wallet.LoadLocalSigner(nodePath)
	if errors.Is(err, os.ErrNotExist) {
		node, err = wallet.GenerateLocalSigner()
		if err == nil {
			err = node.Save(nodePath)
		}
	}
	if err != nil {
		return Keys{}, fmt.Errorf("node key: %w", err)
	}
	return Keys{Master: master, Node: node, ChainSeed: seed}, nil
}

func loadOrCreateSecret(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		raw, err := hex.DecodeString(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, err
		}
		if len(raw) != keySize {
			return nil, ErrBadMasterKey
		}
		return raw, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	raw, err := randomBytes(keySize)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte(hex.EncodeToString(raw)+"\n"), 0o600); err != nil {
		return nil, err
	}
	return raw, nil
}

func randomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, err
	}
	return b, nil
}
