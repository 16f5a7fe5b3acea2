package hashing

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	AlgorithmHMACSHA256 = "hmac-sha256"
	AlgorithmArgon2id   = "argon2id"
)

var (
	ErrMissingSecret    = errors.New("signing secret is required")
	ErrUnknownAlgorithm = errors.New("unknown hash algorithm")
	ErrInvalidHash      = errors.New("invalid hash format")
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

func DefaultArgon2Params() Argon2Params {
	return Argon2Params{
		Memory:      19 * 1024,
		Iterations:  2,
		Parallelism: 1,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Hasher produces the keyed digest that binds a code to its phone, purpose
// and per-issuance salt. The same inputs always give the same digest; the
// only randomness is the salt returned by NewSalt.
type Hasher struct {
	algorithm string
	secret    []byte
	params    Argon2Params
}

type HashResult struct {
	Hash      string `json:"hash"`
	Salt      string `json:"salt"`
	Algorithm string `json:"algorithm"`
}

func NewHasher(secret, algorithm string, params Argon2Params) (*Hasher, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if algorithm == "" {
		algorithm = AlgorithmHMACSHA256
	}
	switch algorithm {
	case AlgorithmHMACSHA256, AlgorithmArgon2id:
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlgorithm, algorithm)
	}
	if params.SaltLength == 0 {
		params.SaltLength = 16
	}
	if params.KeyLength == 0 {
		params.KeyLength = 32
	}

	return &Hasher{
		algorithm: algorithm,
		secret:    []byte(secret),
		params:    params,
	}, nil
}

func (h *Hasher) Algorithm() string {
	return h.algorithm
}

func (h *Hasher) NewSalt() (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(salt), nil
}

// Digest computes the keyed digest of (phone, code, purpose, salt).
func (h *Hasher) Digest(phone, code, purpose, salt string) (string, error) {
	switch h.algorithm {
	case AlgorithmArgon2id:
		saltBytes, err := base64.RawURLEncoding.DecodeString(salt)
		if err != nil {
			return "", ErrInvalidHash
		}
		// The secret travels as a pepper inside the password input.
		material := strings.Join([]string{phone, code, purpose, string(h.secret)}, "|")
		key := argon2.IDKey(
			[]byte(material),
			saltBytes,
			h.params.Iterations,
			h.params.Memory,
			h.params.Parallelism,
			h.params.KeyLength,
		)
		return base64.RawURLEncoding.EncodeToString(key), nil
	default:
		mac := hmac.New(sha256.New, h.secret)
		mac.Write([]byte(strings.Join([]string{phone, code, purpose, salt}, "|")))
		return hex.EncodeToString(mac.Sum(nil)), nil
	}
}

// Issue draws a fresh salt and digests the code with it.
func (h *Hasher) Issue(phone, code, purpose string) (*HashResult, error) {
	salt, err := h.NewSalt()
	if err != nil {
		return nil, err
	}
	digest, err := h.Digest(phone, code, purpose, salt)
	if err != nil {
		return nil, fmt.Errorf("failed to digest code: %w", err)
	}
	return &HashResult{Hash: digest, Salt: salt, Algorithm: h.algorithm}, nil
}

// Verify recomputes the digest and compares it in constant time.
func (h *Hasher) Verify(phone, code, purpose string, stored *HashResult) (bool, error) {
	if stored == nil || stored.Hash == "" || stored.Salt == "" {
		return false, ErrInvalidHash
	}
	computed, err := h.Digest(phone, code, purpose, stored.Salt)
	if err != nil {
		return false, err
	}
	return subtle.ConstantTimeCompare([]byte(computed), []byte(stored.Hash)) == 1, nil
}
