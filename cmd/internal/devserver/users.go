package devserver

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Coding-Lml/love-space/cmd/security/password"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

// ErrBadCredentials is returned by Authenticate for unknown users and wrong passwords.
var ErrBadCredentials = errors.New("devserver: bad credentials")

// UserSpec is one configured account before hashing.
type UserSpec struct {
	ID       int64
	Username string
	Password string
	Nickname string
}

// ParseUsers reads "id:username:password[:nickname]" entries.
func ParseUsers(entries []string) ([]UserSpec, error) {
	out := make([]UserSpec, 0, len(entries))
	for _, e := range entries {
		parts := strings.SplitN(strings.TrimSpace(e), ":", 4)
		if len(parts) < 3 {
			return nil, fmt.Errorf("user %q: want id:username:password[:nickname]", e)
		}
		id, err := strconv.ParseInt(parts[0], 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("user %q: bad id", e)
		}
		u := UserSpec{ID: id, Username: parts[1], Password: parts[2]}
		if len(parts) == 4 {
			u.Nickname = parts[3]
		}
		if u.Username == "" {
			return nil, fmt.Errorf("user %q: empty username", e)
		}
		out = append(out, u)
	}
	return out, nil
}

type account struct {
	user v1.User
	hash string
}

// Directory holds exactly two partners with Argon2id password hashes.
type Directory struct {
	pw     password.Config
	byID   map[int64]account
	byName map[string]int64
}

// NewDirectory hashes every password with pw.
func NewDirectory(specs []UserSpec, pw password.Config) (*Directory, error) {
	if len(specs) != 2 {
		return nil, fmt.Errorf("devserver: need exactly 2 users, got %d", len(specs))
	}
	d := &Directory{pw: pw, byID: make(map[int64]account, 2), byName: make(map[string]int64, 2)}
	for _, s := range specs {
		if _, dup := d.byID[s.ID]; dup {
			return nil, fmt.Errorf("devserver: duplicate user id %d", s.ID)
		}
		name := strings.ToLower(s.Username)
		if _, dup := d.byName[name]; dup {
			return nil, fmt.Errorf("devserver: duplicate username %q", s.Username)
		}
		h, err := pw.Hash(s.Password)
		if err != nil {
			return nil, fmt.Errorf("devserver: user %q: %w", s.Username, err)
		}
		d.byID[s.ID] = account{user: v1.User{ID: s.ID, Username: s.Username, Nickname: s.Nickname}, hash: h}
		d.byName[name] = s.ID
	}
	return d, nil
}

// Authenticate checks username/password.
func (d *Directory) Authenticate(username, pass string) (v1.User, error) {
	id, ok := d.byName[strings.ToLower(strings.TrimSpace(username))]
	if !ok {
		return v1.User{}, ErrBadCredentials
	}
	acc := d.byID[id]
	match, err := d.pw.Verify(acc.hash, pass)
	if err != nil {
		return v1.User{}, err
	}
	if !match {
		return v1.User{}, ErrBadCredentials
	}
	return acc.user, nil
}

// User looks up a user by id.
func (d *Directory) User(id int64) (v1.User, bool) {
	acc, ok := d.byID[id]
	return acc.user, ok
}

// Partner returns the other member of the couple.
func (d *Directory) Partner(id int64) (v1.User, bool) {
	if _, ok := d.byID[id]; !ok {
		return v1.User{}, false
	}
	for other, acc := range d.byID {
		if other != id {
			return acc.user, true
		}
	}
	return v1.User{}, false
}
