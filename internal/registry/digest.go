package registry

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"strings"

	"github.com/zeebo/blake3"
)

// DigestAlgorithm names a supported checksum function.
type DigestAlgorithm string

const (
	SHA256 DigestAlgorithm = "sha256"
	BLAKE3 DigestAlgorithm = "blake3"
)

// Digest is an expected checksum of the exact artifact bytes.
type Digest struct {
	Algorithm DigestAlgorithm `json:"algorithm"`
	Hex       string          `json:"hex"`
}

// ParseDigest accepts "sha256:<hex>", "blake3:<hex>" or a bare sha256 hex.
func ParseDigest(raw string) (Digest, error) {
	value := strings.TrimSpace(raw)
	alg := SHA256
	if idx := strings.IndexByte(value, ':'); idx >= 0 {
		alg = DigestAlgorithm(strings.ToLower(value[:idx]))
		value = value[idx+1:]
	}
	d := Digest{Algorithm: alg, Hex: strings.ToLower(value)}
	if err := d.Validate(); err != nil {
		return Digest{}, err
	}
	return d, nil
}

// IsZero reports whether the digest is unset.
func (d Digest) IsZero() bool { return d.Hex == "" }

// Validate checks the algorithm and hex length.
func (d Digest) Validate() error {
	if d.Hex == "" {
		return fmt.Errorf("empty digest")
	}
	switch d.Algorithm {
	case SHA256, BLAKE3:
	default:
		return fmt.Errorf("unsupported digest algorithm %q", d.Algorithm)
	}
	if len(d.Hex) != 64 {
		return fmt.Errorf("%s digest must be 64 hex characters, got %d", d.Algorithm, len(d.Hex))
	}
	if _, err := hex.DecodeString(d.Hex); err != nil {
		return fmt.Errorf("%s digest: %w", d.Algorithm, err)
	}
	return nil
}

// NewHash returns a fresh hash.Hash for the digest's algorithm.
func (d Digest) NewHash() (hash.Hash, error) {
	switch d.Algorithm {
	case SHA256, "":
		return sha256.New(), nil
	case BLAKE3:
		return blake3.New(), nil
	default:
		return nil, fmt.Errorf("unsupported digest algorithm %q", d.Algorithm)
	}
}

// Sum hashes r with the digest's algorithm and returns the lowercase hex.
func (d Digest) Sum(r io.Reader) (string, error) {
	h, err := d.NewHash()
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("hash: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Matches reports whether actual equals the expected hex.
func (d Digest) Matches(actual string) bool {
	return d.Hex != "" && strings.EqualFold(d.Hex, actual)
}

func (d Digest) String() string {
	if d.Hex == "" {
		return ""
	}
	return string(d.Algorithm) + ":" + d.Hex
}
