package devnet

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gowebpki/jcs"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/i5heu/ouroboros-vault/pkg/acc"
)

var ErrIntegrity = errors.New("devnet: ciphertext does not match hash or conditions")

// dataHash is the integrity hash returned as dataToEncryptHash.
func dataHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// additionalData binds a ciphertext to its plaintext hash and to the exact
// condition list it was encrypted under.
func additionalData(hash string, conds []acc.Condition) ([]byte, error) {
	raw, err := json.Marshal(conds)
	if err != nil {
		return nil, err
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, err
	}
	return append([]byte(hash+"\n"), canonical...), nil
}

func seal(master, data []byte, conds []acc.Condition) (cipherText, hash string, err error) {
	aead, err := chacha20poly1305.NewX(master)
	if err != nil {
		return "", "", err
	}
	hash = dataHash(data)
	ad, err := additionalData(hash, conds)
	if err != nil {
		return "", "", err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX, chacha20poly1305.NonceSizeX+len(data)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", "", err
	}
	sealed := aead.Seal(nonce, nonce, data, ad)
	return base64.StdEncoding.EncodeToString(sealed), hash, nil
}

func open(master []byte, cipherText, hash string, conds []acc.Condition) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(master)
	if err != nil {
		return nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(cipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if len(raw) < chacha20poly1305.NonceSizeX+aead.Overhead() {
		return nil, fmt.Errorf("%w: ciphertext too short", ErrIntegrity)
	}
	ad, err := additionalData(hash, conds)
	if err != nil {
		return nil, err
	}

	nonce, sealed := raw[:chacha20poly1305.NonceSizeX], raw[chacha20poly1305.NonceSizeX:]
	data, err := aead.Open(nil, nonce, sealed, ad)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIntegrity, err)
	}
	if dataHash(data) != hash {
		return nil, fmt.Errorf("%w: hash mismatch", ErrIntegrity)
	}
	return data, nil
}
