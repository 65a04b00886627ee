// Package identity derives measurement identifiers.
//
// In deterministic mode an identifier is the MD5 digest of
// protocol, server, domain and cache-warming pass, formatted as a UUID. Two
// runs with the same inputs collide on purpose so stores can deduplicate
// them. Nonce mode mixes a per-run ULID into the digest so every run gets a
// distinct identifier.
package identity

import (
	"crypto/md5"
	"crypto/rand"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// Mode selects how identifiers are derived.
type Mode string

const (
	ModeDeterministic Mode = "deterministic"
	ModeNonce         Mode = "nonce"
)

// Identify returns the deterministic identifier of a measurement.
func Identify(protocol, server, domain string, cacheWarming int) string {
	return digest(protocol + server + domain + strconv.Itoa(cacheWarming))
}

func digest(input string) string {
	sum := md5.Sum([]byte(input))
	// FromBytes only fails on a length mismatch, which a 16-byte digest can't hit.
	id, _ := uuid.FromBytes(sum[:])
	return id.String()
}

// Generator produces identifiers according to its Mode.
type Generator struct {
	mode    Mode
	mu      sync.Mutex
	entropy io.Reader
	now     func() time.Time
}

// NewGenerator creates a Generator. An empty mode means deterministic.
func NewGenerator(mode Mode) (*Generator, error) {
	switch Mode(strings.ToLower(string(mode))) {
	case "", ModeDeterministic:
		mode = ModeDeterministic
	case ModeNonce:
		mode = ModeNonce
	default:
		return nil, fmt.Errorf("unsupported id mode %q", mode)
	}
	return &Generator{
		mode:    mode,
		entropy: ulid.Monotonic(rand.Reader, 0),
		now:     time.Now,
	}, nil
}

// Mode returns the generator's mode. A nil Generator is deterministic.
func (g *Generator) Mode() Mode {
	if g == nil {
		return ModeDeterministic
	}
	return g.mode
}

// Identify returns the identifier for a measurement.
func (g *Generator) Identify(protocol, server, domain string, cacheWarming int) (string, error) {
	if g == nil || g.mode == ModeDeterministic {
		return Identify(protocol, server, domain, cacheWarming), nil
	}

	g.mu.Lock()
	nonce, err := ulid.New(ulid.Timestamp(g.now()), g.entropy)
	g.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	return digest(protocol + server + domain + strconv.Itoa(cacheWarming) + nonce.String()), nil
}
