// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package access provides utilities for access control

Requests are authenticated by middlewares, which add an Authorization to the request context:

  - the admin token, as admin_token cookie or Authorization bearer header (NewTokenMiddleware)
  - password protected areas like family or personal, as {area}_auth cookie (NewAreaMiddleware)
  - machine tokens, HS256 signed JWTs with a roles claim (NewJwtMiddleware)

An Authorization is retrieved with

	auth := access.AuthorizationFromContext(r.Context())

and checked against the permits of a resource with auth.IsAuthorized(operation, permits).
*/
package access

import (
	"context"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// the well known roles
const (
	RoleAdmin     = "admin"
	RoleFamily    = "family"
	RolePersonal  = "personal"
	RolePublic    = "public"
	RoleEverybody = "everybody"
)

// Authorization is a context object which stores the roles of the requester
type Authorization struct {
	Roles    []string `json:"roles"`
	Identity string   `json:"identity,omitempty"`
}

// Permit grants a role a list of operations
type Permit struct {
	Role       string           `json:"role"`
	Operations []core.Operation `json:"operations"`
}

// HasRole returns true if the authorization contains the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	for _, hasRole := range a.Roles {
		if role == hasRole {
			return true
		}
	}
	return false
}

// WithRole returns a copy of the authorization with role added. It works on nil authorizations.
func (a *Authorization) WithRole(role string) *Authorization {
	result := &Authorization{}
	if a != nil {
		result.Identity = a.Identity
		result.Roles = append(result.Roles, a.Roles...)
	}
	if !result.HasRole(role) {
		result.Roles = append(result.Roles, role)
	}
	return result
}

// IsAuthorized returns true if the authorization is authorized for the requested
// operation according to the passed permits.
//
// The "admin" role is always authorized, unless the permits name admin explicitly.
// A permit for "public" applies to every request, a permit for "everybody" to every
// authenticated request.
func (a *Authorization) IsAuthorized(operation core.Operation, permits []Permit) bool {
	adminNamed := false
	for _, permit := range permits {
		if permit.Role == RoleAdmin {
			adminNamed = true
			break
		}
	}
	if !adminNamed && a.HasRole(RoleAdmin) {
		return true
	}

	authenticated := a != nil && len(a.Roles) > 0
	for _, permit := range permits {
		applies := permit.Role == RolePublic ||
			(permit.Role == RoleEverybody && authenticated) ||
			a.HasRole(permit.Role)
		if !applies {
			continue
		}
		for _, op := range permit.Operations {
			if op == operation {
				return true
			}
		}
	}
	return false
}

// ContextWithAuthorization returns a new context with this authorization added to it
func ContextWithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// addRole returns r with role added to its authorization
func addRole(r *http.Request, role string) *http.Request {
	auth := AuthorizationFromContext(r.Context()).WithRole(role)
	return r.WithContext(ContextWithAuthorization(r.Context(), auth))
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization, or 204 if there is none.
func HandleAuthorizationRoute(router *mux.Router) {
	logger.Default().Debugln("authorization")
	logger.Default().Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
