// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
)

// Area is a password protected area of the site. The name of the area is also
// the role granted to its visitors.
type Area struct {
	Name string
	// PasswordDigest is the hex encoded SHA-256 digest of the area password.
	// An empty digest disables the area.
	PasswordDigest string
}

// CookieName returns the name of the cookie which carries the area's authentication
func (a Area) CookieName() string {
	return a.Name + "_auth"
}

// Enabled returns true if the area has a password
func (a Area) Enabled() bool {
	return a.PasswordDigest != ""
}

// Digest returns the hex encoded SHA-256 digest of password
func Digest(password string) string {
	sum := sha256.Sum256([]byte(password))
	return hex.EncodeToString(sum[:])
}

// Check returns true if password is the area password
func (a Area) Check(password string) bool {
	return a.Enabled() && equalSecret(Digest(password), strings.ToLower(a.PasswordDigest))
}

// NewAreaMiddleware returns a middleware which grants the area role to every request
// carrying a valid area cookie.
func NewAreaMiddleware(areas ...Area) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			for _, area := range areas {
				if !area.Enabled() {
					continue
				}
				cookie, _ := r.Cookie(area.CookieName())
				if cookie != nil && equalSecret(strings.ToLower(cookie.Value), strings.ToLower(area.PasswordDigest)) {
					r = addRole(r, area.Name)
				}
			}
			h.ServeHTTP(w, r)
		})
	}
}
