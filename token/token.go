// Package token defines the token universe: four issuance levels, each with a
// fixed maximum token number, and the canonical content published for every
// token on the storage network.
//
// Content layout is 3 ASCII digits for the level followed by 64 hex chars of
// SHA-256(decimal token number), 67 chars total.
package token

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/mr-tron/base58"
)

const (
	// LevelDigits is the zero-padded level prefix width of token content.
	LevelDigits = 3
	// HashLength is the hex length of a SHA-256 digest.
	HashLength = 64
	// ContentLength is the full length of canonical token content.
	ContentLength = LevelDigits + HashLength

	MinLevel = 1
	MaxLevel = 4
)

// LevelLimit is the maximum token number issued per level.
var LevelLimit = map[int]int{
	1: 4300000,
	2: 2425000,
	3: 2303750,
	4: 2188563,
}

// TotalTokens is the size of the full token universe across all levels.
func TotalTokens() int {
	total := 0
	for _, limit := range LevelLimit {
		total += limit
	}
	return total
}

var (
	ErrBadContent = errors.New("malformed token content")
	ErrBadLevel   = errors.New("token level out of range")
	ErrBadNumber  = errors.New("token number out of range")
)

// Key identifies one token by issuance level and number.
type Key struct {
	Level  int `json:"token_level"`
	Number int `json:"token_number"`
}

// Valid reports whether the key falls inside its level's issuance range.
func (k Key) Valid() bool {
	limit, ok := LevelLimit[k.Level]
	return ok && k.Number >= 1 && k.Number <= limit
}

func (k Key) String() string {
	return fmt.Sprintf("level %d number %d", k.Level, k.Number)
}

// Digest returns the raw SHA-256 digest of the token number's decimal form.
func Digest(number int) [sha256.Size]byte {
	return sha256.Sum256([]byte(strconv.Itoa(number)))
}

// Hash returns the lowercase hex SHA-256 of the token number's decimal form.
func Hash(number int) string {
	digest := Digest(number)
	return hex.EncodeToString(digest[:])
}

// Content returns the canonical content string for a token.
func Content(level, number int) string {
	return fmt.Sprintf("%0*d%s", LevelDigits, level, Hash(number))
}

// ContentFromHash assembles content from a level and an already-derived hash.
func ContentFromHash(level int, hash string) string {
	return fmt.Sprintf("%0*d%s", LevelDigits, level, hash)
}

// ParseContent decodes canonical token content into its level and hash.
// The hash is returned lowercase. The token number is not recovered here;
// that requires the hash index.
func ParseContent(content string) (level int, hash string, err error) {
	if len(content) != ContentLength {
		return 0, "", fmt.Errorf("%w: length %d, want %d", ErrBadContent, len(content), ContentLength)
	}
	level, err = strconv.Atoi(content[:LevelDigits])
	if err != nil {
		return 0, "", fmt.Errorf("%w: level prefix %q", ErrBadContent, content[:LevelDigits])
	}
	if level < MinLevel || level > MaxLevel {
		return 0, "", fmt.Errorf("%w: %d", ErrBadLevel, level)
	}
	hash = content[LevelDigits:]
	if _, err := hex.DecodeString(hash); err != nil {
		return 0, "", fmt.Errorf("%w: non-hex hash", ErrBadContent)
	}
	return level, strings.ToLower(hash), nil
}

// CIDv0 converts a hex SHA-256 digest to a CIDv0 string: base58btc of the
// sha2-256 multihash prefix (0x12 0x20) followed by the raw digest.
func CIDv0(hash string) (string, error) {
	if len(hash) != HashLength {
		return "", fmt.Errorf("%w: hash length %d", ErrBadContent, len(hash))
	}
	digest, err := hex.DecodeString(hash)
	if err != nil {
		return "", fmt.Errorf("%w: non-hex hash", ErrBadContent)
	}
	return base58.Encode(append([]byte{0x12, 0x20}, digest...)), nil
}
