// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
)

// AdminTokenCookie is the name of the cookie carrying the admin token
const AdminTokenCookie = "admin_token"

// cookieMaxAge is the lifetime of all authentication cookies
const cookieMaxAge = 30 * 24 * time.Hour

// equalSecret compares two secrets in constant time. Empty secrets never match.
func equalSecret(given, expected string) bool {
	if len(given) == 0 || len(expected) == 0 {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(given), []byte(expected)) == 1
}

// bearerToken returns the token of an "Authorization: Bearer" header
func bearerToken(r *http.Request) string {
	bearer := r.Header.Get("Authorization")
	if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
		return strings.TrimSpace(bearer[7:])
	}
	return ""
}

func authCookie(name, value string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(cookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func clearCookie(name string, secure bool) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// NewTokenMiddleware returns a middleware which grants the admin role to requests carrying the
// admin token, either as admin_token cookie or as "Authorization: Bearer" header.
//
// Requests with other or no tokens pass through unchanged. If adminToken is empty, nobody
// is granted the admin role.
func NewTokenMiddleware(adminToken string) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminToken == "" {
				h.ServeHTTP(w, r)
				return
			}
			granted := equalSecret(bearerToken(r), adminToken)
			if !granted {
				if cookie, _ := r.Cookie(AdminTokenCookie); cookie != nil {
					granted = equalSecret(cookie.Value, adminToken)
				}
			}
			if granted {
				r = addRole(r, RoleAdmin)
			}
			h.ServeHTTP(w, r)
		})
	}
}
