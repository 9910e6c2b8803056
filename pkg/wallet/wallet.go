// Package wallet provides the Signer capability used to authorize session
// credentials. A Signer is always passed in explicitly; there is no ambient
// provider.
package wallet

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcec/v2"
	btcecdsa "github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidKey       = errors.New("wallet: invalid private key")
	ErrInvalidSignature = errors.New("wallet: invalid signature")
	ErrInvalidAddress   = errors.New("wallet: invalid address")
)

// Signer signs EIP-191 personal messages on behalf of one address.
// Implementations must serialize concurrent signing prompts themselves.
type Signer interface { // A
	Address(ctx context.Context) (string, error)
	SignMessage(ctx context.Context, msg []byte) ([]byte, error)
}

// LocalSigner holds a secp256k1 key in memory.
type LocalSigner struct { // A
	mu      sync.Mutex
	key     *btcec.PrivateKey
	address string
}

// NewLocalSigner wraps an existing private key.
func NewLocalSigner(key *btcec.PrivateKey) *LocalSigner { // A
	return &LocalSigner{
		key:     key,
		address: AddressFromPubKey(key.PubKey()),
	}
}

// GenerateLocalSigner creates a signer with a fresh random key.
func GenerateLocalSigner() (*LocalSigner, error) { // A
	key, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return NewLocalSigner(key), nil
}

// LocalSignerFromHex parses a 32 byte hex private key, with or without
// a 0x prefix.
func LocalSignerFromHex(s string) (*LocalSigner, error) { // A
	raw, err := hex.DecodeString(strip0x(strings.TrimSpace(s)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidKey, len(raw))
	}
	key, _ := btcec.PrivKeyFromBytes(raw)
	return NewLocalSigner(key), nil
}

// LoadLocalSigner reads a hex key file written by Save.
func LoadLocalSigner(path string) (*LocalSigner, error) { // A
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read key file: %w", err)
	}
	return LocalSignerFromHex(string(data))
}

// Save writes the private key as hex to path with owner-only permissions.
func (s *LocalSigner) Save(path string) error { // A
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create key dir: %w", err)
	}
	return os.WriteFile(path, []byte(s.PrivateKeyHex()+"\n"), 0o600)
}

// PrivateKeyHex returns the 0x-prefixed private key.
func (s *LocalSigner) PrivateKeyHex() string { // A
	return "0x" + hex.EncodeToString(s.key.Serialize())
}

// Address returns the EIP-55 checksummed address.
func (s *LocalSigner) Address(_ context.Context) (string, error) { // A
	return s.address, nil
}

// SignMessage produces a 65 byte r||s||v personal-message signature with
// v in {27, 28}.
func (s *LocalSigner) SignMessage(
	ctx context.Context,
	msg []byte,
) ([]byte, error) { // A
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	compact := btcecdsa.SignCompact(s.key, PersonalMessageHash(msg), false)

	// btcec puts the recovery byte first, Ethereum puts it last.
	sig := make([]byte, 65)
	copy(sig, compact[1:])
	sig[64] = compact[0]
	return sig, nil
}

// PersonalMessageHash returns keccak256 of the EIP-191 prefixed message.
func PersonalMessageHash(msg []byte) []byte { // A
	prefix := fmt.Sprintf("\x19Ethereum Signed Message:\n%d", len(msg))
	return keccak256([]byte(prefix), msg)
}

// RecoverAddress returns the checksummed address that produced sig over
// the personal message msg.
func RecoverAddress(msg, sig []byte) (string, error) { // A
	if len(sig) != 65 {
		return "", fmt.Errorf("%w: expected 65 bytes, got %d", ErrInvalidSignature, len(sig))
	}

	v := sig[64]
	if v < 27 {
		v += 27
	}
	if v != 27 && v != 28 {
		return "", fmt.Errorf("%w: bad recovery id %d", ErrInvalidSignature, sig[64])
	}

	compact := make([]byte, 65)
	compact[0] = v
	copy(compact[1:], sig[:64])

	pub, _, err := btcecdsa.RecoverCompact(compact, PersonalMessageHash(msg))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return AddressFromPubKey(pub), nil
}

// AddressFromPubKey derives the checksummed address of a public key.
func AddressFromPubKey(pub *btcec.PublicKey) string { // A
	uncompressed := pub.SerializeUncompressed()
	sum := keccak256(uncompressed[1:])
	addr, _ := ChecksumAddress("0x" + hex.EncodeToString(sum[12:]))
	return addr
}

// ChecksumAddress applies EIP-55 mixed-case encoding to a hex address.
func ChecksumAddress(addr string) (string, error) { // A
	lower := strings.ToLower(strip0x(addr))
	if len(lower) != 40 {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}
	if _, err := hex.DecodeString(lower); err != nil {
		return "", fmt.Errorf("%w: %q", ErrInvalidAddress, addr)
	}

	sum := keccak256([]byte(lower))
	out := make([]byte, 40)
	for i := 0; i < 40; i++ {
		c := lower[i]
		nibble := sum[i/2]
		if i%2 == 0 {
			nibble >>= 4
		}
		if c >= 'a' && nibble&0x0f >= 8 {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return "0x" + string(out), nil
}

// EqualAddress compares two hex addresses ignoring case and prefix.
func EqualAddress(a, b string) bool { // A
	a, b = strip0x(strings.TrimSpace(a)), strip0x(strings.TrimSpace(b))
	return a != "" && strings.EqualFold(a, b)
}

// SignatureHex formats a signature the way wallets return it.
func SignatureHex(sig []byte) string {
	return "0x" + hex.EncodeToString(sig)
}

// ParseSignatureHex is the inverse of SignatureHex.
func ParseSignatureHex(s string) ([]byte, error) {
	sig, err := hex.DecodeString(strip0x(s))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return sig, nil
}

func keccak256(parts ...[]byte) []byte {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func strip0x(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return s[2:]
	}
	return s
}
