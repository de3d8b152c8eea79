package frontend

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/sheafdata/sheaf/go/types"
	"github.com/sheafdata/sheaf/go/userstore"
)

type contextKey string

// userContextKey carries the authenticated user through the request.
const userContextKey = contextKey("sheaf-user")

// Authenticator validates bearer tokens of the form "<user_id>:<sig>"
// where sig is the hex HMAC-SHA256 of the user id under the shared
// secret. Token issuance lives outside this service; it only needs the
// same secret.
type Authenticator struct {
	secret []byte
	users  userstore.Store
}

// NewAuthenticator returns an Authenticator.
func NewAuthenticator(secret string, users userstore.Store) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// TokenFor returns the token for a user id. Used by tests and tooling.
func (a *Authenticator) TokenFor(userID types.UserID) string {
	return userID.String() + ":" + a.sign(userID.String())
}

func (a *Authenticator) sign(msg string) string {
	mac := hmac.New(sha256.New, a.secret)
	_, _ = mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// authenticate resolves the request's bearer token to a user.
func (a *Authenticator) authenticate(r *http.Request) (userstore.User, bool) {
	header := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return userstore.User{}, false
	}
	idPart, sig, ok := strings.Cut(token, ":")
	if !ok || !hmac.Equal([]byte(a.sign(idPart)), []byte(sig)) {
		return userstore.User{}, false
	}
	id, err := uuid.Parse(idPart)
	if err != nil {
		return userstore.User{}, false
	}
	user, err := a.users.Get(r.Context(), id)
	if err != nil {
		return userstore.User{}, false
	}
	return user, true
}

// Middleware rejects unauthenticated requests with 401 and stores the
// user in the request context otherwise.
func (a *Authenticator) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := a.authenticate(r)
		if !ok {
			http.Error(w, `{"kind":"unauthenticated","message":"a valid bearer token is required"}`, http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userContextKey, user)))
	})
}

// userFrom returns the authenticated user stored by Middleware.
func userFrom(ctx context.Context) userstore.User {
	user, _ := ctx.Value(userContextKey).(userstore.User)
	return user
}
