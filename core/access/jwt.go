// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/logger"
)

// MachineClaims are the claims of a machine token
type MachineClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// NewMachineToken creates a HS256 signed machine token for subject with roles. A ttl <= 0
// creates a token which does not expire.
func NewMachineToken(secret, subject string, roles []string, ttl time.Duration) (string, error) {
	if secret == "" {
		return "", fmt.Errorf("machine token secret is missing")
	}
	now := time.Now()
	claims := MachineClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  subject,
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseMachineToken validates a machine token and returns its claims
func ParseMachineToken(secret, tokenString string) (*MachineClaims, error) {
	claims := &MachineClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

// NewJwtMiddleware returns a middleware handler to validate machine tokens, passed as
// "Authorization: Bearer" header.
//
// Bearer tokens which look like a JWT are final with regards to the token: the middleware
// returns http.StatusUnauthorized when such a token is invalid. Other bearer tokens, like the
// admin token, pass through. If secret is empty, the middleware does nothing.
func NewJwtMiddleware(secret string) mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tokenString := bearerToken(r)
			if secret == "" || strings.Count(tokenString, ".") != 2 {
				h.ServeHTTP(w, r)
				return
			}
			rlog := logger.FromContext(r.Context())
			claims, err := ParseMachineToken(secret, tokenString)
			if err != nil {
				rlog.WithError(err).Infoln("rejected machine token")
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			identity := "machine|" + claims.Subject
			ctx, _ := logger.ContextWithLoggerIdentity(r.Context(), identity)
			auth := &Authorization{Identity: identity}
			if existing := AuthorizationFromContext(ctx); existing != nil {
				auth.Roles = append(auth.Roles, existing.Roles...)
			}
			for _, role := range claims.Roles {
				auth = auth.WithRole(role)
			}
			h.ServeHTTP(w, r.WithContext(ContextWithAuthorization(ctx, auth)))
		})
	}
}
