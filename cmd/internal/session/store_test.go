package session

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

func TestOpen_MissingFileIsLoggedOut(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "nested", "session.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if s.LoggedIn() || s.Token() != "" || s.UserID() != 0 {
		t.Fatalf("expected empty store")
	}
}

func TestFileStore_SaveReloadPurge(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lovechat", "session.json")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	cred := Credential{Token: "t1", User: v1.User{ID: 7, Username: "alice", Nickname: "Ali"}}
	if err := s.Save(cred); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if s.Token() != "t1" || s.UserID() != 7 || s.User().Nickname != "Ali" {
		t.Fatalf("in-memory credential not updated")
	}

	if runtime.GOOS != "windows" {
		fi, err := os.Stat(path)
		if err != nil {
			t.Fatalf("stat: %v", err)
		}
		if perm := fi.Mode().Perm(); perm != 0o600 {
			t.Fatalf("perm got=%o want=600", perm)
		}
	}

	reloaded, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reloaded.Token() != "t1" || reloaded.UserID() != 7 {
		t.Fatalf("reloaded got token=%q user=%d", reloaded.Token(), reloaded.UserID())
	}

	if err := reloaded.Purge(); err != nil {
		t.Fatalf("Purge: %v", err)
	}
	if reloaded.LoggedIn() {
		t.Fatalf("still logged in after purge")
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("session file still present: %v", err)
	}

	// Purging twice is fine.
	if err := reloaded.Purge(); err != nil {
		t.Fatalf("second Purge: %v", err)
	}
}

func TestFileStore_SaveRejectsIncomplete(t *testing.T) {
	t.Parallel()

	s, err := Open(filepath.Join(t.TempDir(), "session.json"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	for _, c := range []Credential{{}, {Token: "t"}, {User: v1.User{ID: 1}}} {
		if err := s.Save(c); !errors.Is(err, ErrInvalidCredential) {
			t.Fatalf("cred=%+v err=%v", c, err)
		}
	}
}

func TestOpen_CorruptFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "session.json")
	if err := os.WriteFile(path, []byte("{nope"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("expected decode error")
	}
}
