package hashing

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"admin-auth-service/internal/config"

	"golang.org/x/crypto/argon2"
)

var (
	ErrInvalidHash         = errors.New("invalid hash format")
	ErrIncompatibleVersion = errors.New("incompatible argon2 version")
	ErrUnknownPepper       = errors.New("pepper version not found")
)

const (
	algorithm = "argon2id"
	// password hashes and other secrets never verify against each other.
	passwordContext = "admin-password"
)

type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher produces self-describing argon2id hashes:
//
//	argon2id$v=19$m=65536,t=3,p=2$pv=1$<salt>$<hash>
//
// pv is the pepper version, so peppers can rotate without invalidating
// existing hashes.
type Hasher struct {
	params        Argon2Params
	pepper        string
	pepperVersion int
	oldPeppers    map[int]string
}

func NewHasher(cfg *config.Config) *Hasher {
	params := Argon2Params{
		Memory:      uint32(cfg.Hashing.Argon2MemoryCost),
		Iterations:  uint32(cfg.Hashing.Argon2TimeCost),
		Parallelism: uint8(cfg.Hashing.Argon2Parallelism),
		SaltLength:  16,
		KeyLength:   32,
	}
	return NewHasherWithParams(params, cfg.Hashing.Pepper, cfg.Hashing.PepperVersion, cfg.Hashing.OldPeppers)
}

func NewHasherWithParams(params Argon2Params, pepper string, version int, old map[int]string) *Hasher {
	if old == nil {
		old = map[int]string{}
	}
	return &Hasher{
		params:        params,
		pepper:        pepper,
		pepperVersion: version,
		oldPeppers:    old,
	}
}

func (h *Hasher) HashPassword(password string) (string, error) {
	salt := make([]byte, h.params.SaltLength)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	key := argon2.IDKey(
		[]byte(password+h.pepper+passwordContext),
		salt,
		h.params.Iterations,
		h.params.Memory,
		h.params.Parallelism,
		h.params.KeyLength,
	)

	return fmt.Sprintf("%s$v=%d$m=%d,t=%d,p=%d$pv=%d$%s$%s",
		algorithm,
		argon2.Version,
		h.params.Memory, h.params.Iterations, h.params.Parallelism,
		h.pepperVersion,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// VerifyPassword compares in constant time. A malformed hash is an error,
// a mismatch is not.
func (h *Hasher) VerifyPassword(password, encoded string) (bool, error) {
	d, err := decode(encoded)
	if err != nil {
		return false, err
	}
	pepper, err := h.pepperFor(d.pepperVersion)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password+pepper+passwordContext),
		d.salt,
		d.params.Iterations,
		d.params.Memory,
		d.params.Parallelism,
		uint32(len(d.key)),
	)
	return subtle.ConstantTimeCompare(computed, d.key) == 1, nil
}

// NeedsRehash reports hashes made with older parameters or an old pepper.
func (h *Hasher) NeedsRehash(encoded string) bool {
	d, err := decode(encoded)
	if err != nil {
		return true
	}
	return d.pepperVersion != h.pepperVersion ||
		d.params.Memory != h.params.Memory ||
		d.params.Iterations != h.params.Iterations ||
		d.params.Parallelism != h.params.Parallelism
}

func (h *Hasher) pepperFor(version int) (string, error) {
	if version == h.pepperVersion {
		return h.pepper, nil
	}
	if p, ok := h.oldPeppers[version]; ok {
		return p, nil
	}
	return "", fmt.Errorf("%w: %d", ErrUnknownPepper, version)
}

type decoded struct {
	params        Argon2Params
	pepperVersion int
	salt          []byte
	key           []byte
}

func decode(encoded string) (*decoded, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != algorithm {
		return nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[1], "v=%d", &version); err != nil {
		return nil, ErrInvalidHash
	}
	if version != argon2.Version {
		return nil, ErrIncompatibleVersion
	}

	d := &decoded{}
	var parallelism uint32
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &d.params.Memory, &d.params.Iterations, &parallelism); err != nil {
		return nil, ErrInvalidHash
	}
	d.params.Parallelism = uint8(parallelism)

	pv, ok := strings.CutPrefix(parts[3], "pv=")
	if !ok {
		return nil, ErrInvalidHash
	}
	var err error
	if d.pepperVersion, err = strconv.Atoi(pv); err != nil {
		return nil, ErrInvalidHash
	}
	if d.salt, err = base64.RawStdEncoding.DecodeString(parts[4]); err != nil {
		return nil, ErrInvalidHash
	}
	if d.key, err = base64.RawStdEncoding.DecodeString(parts[5]); err != nil || len(d.key) == 0 {
		return nil, ErrInvalidHash
	}
	return d, nil
}
