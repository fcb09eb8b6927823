package devserver

import (
	"net/http"
	"strings"

	"github.com/Coding-Lml/love-space/cmd/security/token"
	v1 "github.com/Coding-Lml/love-space/shared/contracts/chat/v1"
)

// authenticator resolves bearer tokens to directory users.
type authenticator struct {
	signer *token.Signer
	dir    *Directory
}

func (a *authenticator) verify(tok string) (v1.User, error) {
	claims, err := a.signer.Verify(tok)
	if err != nil {
		return v1.User{}, err
	}
	u, ok := a.dir.User(claims.UserID)
	if !ok {
		return v1.User{}, token.ErrInvalidToken
	}
	return u, nil
}

func bearerToken(r *http.Request) string {
	raw := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, tok, ok := strings.Cut(raw, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(tok)
}
