package service

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/bcrypt"
)

const (
	HashArgon2id = "argon2id"
	HashBcrypt   = "bcrypt"
)

var ErrUnknownHashFormat = errors.New("unknown password hash format")

// bcrypt refuses passwords longer than this.
const maxBcryptPasswordBytes = 72

// Argon2id parameters for newly created hashes. Verification reads the
// parameters stored in each hash.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// PasswordHasher creates hashes with the configured algorithm and verifies
// hashes produced by either supported algorithm.
type PasswordHasher struct {
	algorithm  string
	bcryptCost int
}

func NewPasswordHasher(algorithm string, bcryptCost int) (*PasswordHasher, error) {
	switch algorithm {
	case HashArgon2id:
	case HashBcrypt:
		if bcryptCost < bcrypt.MinCost || bcryptCost > bcrypt.MaxCost {
			return nil, fmt.Errorf("bcrypt cost %d out of range", bcryptCost)
		}
	default:
		return nil, fmt.Errorf("unsupported password hash algorithm %q", algorithm)
	}
	return &PasswordHasher{algorithm: algorithm, bcryptCost: bcryptCost}, nil
}

func (h *PasswordHasher) Hash(password string) (string, error) {
	if h.algorithm == HashBcrypt {
		if len(password) > maxBcryptPasswordBytes {
			return "", validationError("password must be at most %d bytes", maxBcryptPasswordBytes)
		}
		hash, err := bcrypt.GenerateFromPassword([]byte(password), h.bcryptCost)
		if err != nil {
			return "", fmt.Errorf("failed to hash password: %w", err)
		}
		return string(hash), nil
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}
	hash := argon2.IDKey([]byte(password), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	// $argon2id$v=19$m=65536,t=1,p=4$SALT$HASH
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// Compare reports whether password matches the encoded hash. A malformed
// hash is an error, not a mismatch.
func (h *PasswordHasher) Compare(encoded, password string) (bool, error) {
	switch {
	case strings.HasPrefix(encoded, "$argon2id$"):
		return compareArgon2id(encoded, password)
	case strings.HasPrefix(encoded, "$2a$"), strings.HasPrefix(encoded, "$2b$"), strings.HasPrefix(encoded, "$2y$"):
		err := bcrypt.CompareHashAndPassword([]byte(encoded), []byte(password))
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to compare bcrypt hash: %w", err)
		}
		return true, nil
	default:
		return false, ErrUnknownHashFormat
	}
}

func compareArgon2id(encoded, password string) (bool, error) {
	// ["", "argon2id", "v=19", "m=65536,t=1,p=4", "salt", "hash"]
	sections := strings.Split(encoded, "$")
	if len(sections) != 6 {
		return false, fmt.Errorf("%w: expected 6 sections, got %d", ErrUnknownHashFormat, len(sections))
	}

	var version int
	if _, err := fmt.Sscanf(sections[2], "v=%d", &version); err != nil {
		return false, fmt.Errorf("invalid argon2 version: %w", err)
	}
	if version != argon2.Version {
		return false, fmt.Errorf("unsupported argon2 version %d", version)
	}

	var m, t uint32
	var p uint8
	if _, err := fmt.Sscanf(sections[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false, fmt.Errorf("invalid argon2 parameters: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(sections[4])
	if err != nil {
		return false, fmt.Errorf("failed to decode salt: %w", err)
	}
	want, err := base64.RawStdEncoding.DecodeString(sections[5])
	if err != nil {
		return false, fmt.Errorf("failed to decode hash: %w", err)
	}

	got := argon2.IDKey([]byte(password), salt, t, m, p, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}
