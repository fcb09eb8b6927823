// Package password hashes and verifies login passwords with Argon2id.
//
// Encoded hashes use the PHC string form
// ($argon2id$v=19$m=<KiB>,t=<iterations>,p=<lanes>$<salt>$<key>) and are treated
// as untrusted input when verified.
package password

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
)

// Argon2idParams controls the hashing cost. MemoryKiB is in KiB as argon2.IDKey expects.
type Argon2idParams struct {
	MemoryKiB   uint32
	Iterations  uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Policy bounds accepted passwords.
type Policy struct {
	MinLength int
	MaxLength int
	// RejectVeryWeak refuses a short list of trivial passwords.
	RejectVeryWeak bool
}

// Config is the single configuration surface for this package.
type Config struct {
	Params Argon2idParams
	Policy Policy
}

// DefaultConfig follows the OWASP Argon2id baseline (19 MiB, t=2).
func DefaultConfig() Config {
	lanes := min(max(runtime.NumCPU(), 1), 4)

	return Config{
		Params: Argon2idParams{
			MemoryKiB:   19 * 1024,
			Iterations:  2,
			Parallelism: uint8(lanes), // #nosec G115 -- clamped to [1..4].
			SaltLength:  16,
			KeyLength:   32,
		},
		Policy: Policy{
			MinLength: 4,
			MaxLength: 256,
		},
	}
}

// FromEnv overlays LOVECHAT_PASSWORD_* and LOVECHAT_ARGON2_* variables on DefaultConfig.
func FromEnv() (Config, error) {
	cfg := DefaultConfig()

	ints := []struct {
		key      string
		min, max int
		dst      *int
	}{
		{"LOVECHAT_PASSWORD_MIN_LEN", 1, 1024, &cfg.Policy.MinLength},
		{"LOVECHAT_PASSWORD_MAX_LEN", 1, 4096, &cfg.Policy.MaxLength},
	}
	for _, f := range ints {
		if v, ok := os.LookupEnv(f.key); ok {
			n, err := parseRange(v, f.min, f.max)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = n
		}
	}

	u32s := []struct {
		key      string
		min, max int
		dst      *uint32
	}{
		{"LOVECHAT_ARGON2_MEMORY_KIB", 8 * 1024, 1024 * 1024, &cfg.Params.MemoryKiB},
		{"LOVECHAT_ARGON2_ITERATIONS", 1, 20, &cfg.Params.Iterations},
		{"LOVECHAT_ARGON2_SALT_LEN", 8, 64, &cfg.Params.SaltLength},
		{"LOVECHAT_ARGON2_KEY_LEN", 16, 64, &cfg.Params.KeyLength},
	}
	for _, f := range u32s {
		if v, ok := os.LookupEnv(f.key); ok {
			n, err := parseRange(v, f.min, f.max)
			if err != nil {
				return Config{}, fmt.Errorf("%s: %w", f.key, err)
			}
			*f.dst = uint32(n) // #nosec G115 -- bounded by parseRange.
		}
	}

	if v, ok := os.LookupEnv("LOVECHAT_ARGON2_PARALLELISM"); ok {
		n, err := parseRange(v, 1, math.MaxUint8)
		if err != nil {
			return Config{}, fmt.Errorf("LOVECHAT_ARGON2_PARALLELISM: %w", err)
		}
		cfg.Params.Parallelism = uint8(n) // #nosec G115 -- bounded by parseRange.
	}

	if v, ok := os.LookupEnv("LOVECHAT_PASSWORD_REJECT_VERY_WEAK"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return Config{}, fmt.Errorf("LOVECHAT_PASSWORD_REJECT_VERY_WEAK: invalid boolean")
		}
		cfg.Policy.RejectVeryWeak = b
	}

	if cfg.Policy.MinLength > cfg.Policy.MaxLength {
		return Config{}, fmt.Errorf("password policy invalid: min_len(%d) > max_len(%d)",
			cfg.Policy.MinLength, cfg.Policy.MaxLength)
	}
	return cfg, nil
}

func parseRange(s string, lo, hi int) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("not an integer")
	}
	if n < lo || n > hi {
		return 0, fmt.Errorf("out of range [%d..%d]", lo, hi)
	}
	return n, nil
}
