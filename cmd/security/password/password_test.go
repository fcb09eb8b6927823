package password

import (
	"errors"
	"strings"
	"testing"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Params.MemoryKiB = 8 * 1024
	cfg.Params.Iterations = 1
	cfg.Params.Parallelism = 1
	return cfg
}

func TestHashAndVerify(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	h, err := cfg.Hash("moonlight picnic")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if !strings.HasPrefix(h, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("encoded=%q", h)
	}

	ok, err := cfg.Verify(h, "moonlight picnic")
	if err != nil || !ok {
		t.Fatalf("Verify ok=%v err=%v", ok, err)
	}
	ok, err = cfg.Verify(h, "sunrise picnic")
	if err != nil || ok {
		t.Fatalf("Verify wrong password ok=%v err=%v", ok, err)
	}
}

func TestVerify_RejectsMalformedAndCostly(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	for _, enc := range []string{
		"not-a-hash",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=16$m=8192,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=0,t=1,p=1$c2FsdHNhbHQ$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$!!$a2V5",
	} {
		if ok, err := cfg.Verify(enc, "x"); !errors.Is(err, ErrInvalidHash) || ok {
			t.Fatalf("Verify(%q) ok=%v err=%v", enc, ok, err)
		}
	}

	strong := testConfig()
	strong.Params.MemoryKiB = 20 * 1024
	h, err := strong.Hash("moonlight picnic")
	if err != nil {
		t.Fatalf("Hash: %v", err)
	}
	if _, err := cfg.Verify(h, "moonlight picnic"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected cost bound rejection, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.Policy.MinLength = 8
	cfg.Policy.MaxLength = 16

	cases := []struct {
		in   string
		weak bool
		want error
	}{
		{in: "short", want: ErrPasswordTooShort},
		{in: "this one is far too long", want: ErrPasswordTooLong},
		{in: "goodpassw0rd"},
		{in: "password", weak: true, want: ErrWeakPassword},
		{in: "aaaaaaaa", weak: true, want: ErrWeakPassword},
		{in: "12345678", weak: true, want: ErrWeakPassword},
		{in: "a-fine-pass", weak: true},
	}
	for _, tc := range cases {
		c := cfg
		c.Policy.RejectVeryWeak = tc.weak
		if err := c.Validate(tc.in); !errors.Is(err, tc.want) {
			t.Fatalf("Validate(%q) err=%v want=%v", tc.in, err, tc.want)
		}
	}
}

func TestFromEnv(t *testing.T) {
	t.Setenv("LOVECHAT_PASSWORD_MIN_LEN", "10")
	t.Setenv("LOVECHAT_ARGON2_MEMORY_KIB", "32768")
	t.Setenv("LOVECHAT_ARGON2_PARALLELISM", "2")
	t.Setenv("LOVECHAT_PASSWORD_REJECT_VERY_WEAK", "true")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv: %v", err)
	}
	if cfg.Policy.MinLength != 10 || !cfg.Policy.RejectVeryWeak {
		t.Fatalf("policy=%+v", cfg.Policy)
	}
	if cfg.Params.MemoryKiB != 32768 || cfg.Params.Parallelism != 2 || cfg.Params.Iterations != DefaultConfig().Params.Iterations {
		t.Fatalf("params=%+v", cfg.Params)
	}
}

func TestFromEnv_Invalid(t *testing.T) {
	t.Setenv("LOVECHAT_PASSWORD_MIN_LEN", "20")
	t.Setenv("LOVECHAT_PASSWORD_MAX_LEN", "10")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected min>max error")
	}
}

func TestFromEnv_OutOfRange(t *testing.T) {
	t.Setenv("LOVECHAT_ARGON2_ITERATIONS", "99")
	if _, err := FromEnv(); err == nil {
		t.Fatalf("expected range error")
	}
}
