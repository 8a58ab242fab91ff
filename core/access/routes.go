// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/logger"
)

// Builder is a builder helper for the access middlewares and routes
type Builder struct {
	// AdminToken is the static admin token. Empty disables admin login.
	AdminToken string
	// Areas are the password protected areas
	Areas []Area
	// MachineJwtSecret is the HS256 secret for machine tokens. Empty disables machine tokens.
	MachineJwtSecret string
	// SecureCookies sets the Secure flag on all authentication cookies
	SecureCookies bool
}

// CheckResponse is the response of GET /api/auth/check
type CheckResponse struct {
	Authenticated bool     `json:"authenticated"`
	Roles         []string `json:"roles"`
}

// Install adds the authentication middlewares and routes to router
//
//	POST /api/auth/login      {"token"} sets the admin_token cookie
//	POST /api/auth/logout     clears all authentication cookies
//	GET  /api/auth/check      returns the current roles
//	POST /api/{area}/login    {"password"} sets the {area}_auth cookie
//	POST /api/{area}/logout   clears the {area}_auth cookie
//	GET  /authorization       returns the current authorization
func (b *Builder) Install(router *mux.Router) {
	router.Use(NewJwtMiddleware(b.MachineJwtSecret))
	router.Use(NewTokenMiddleware(b.AdminToken))
	router.Use(NewAreaMiddleware(b.Areas...))

	rlog := logger.Default()
	rlog.Debugln("access")

	rlog.Debugln("  handle route: /api/auth/login POST")
	router.HandleFunc("/api/auth/login", b.adminLogin).Methods(http.MethodPost, http.MethodOptions)
	rlog.Debugln("  handle route: /api/auth/logout POST")
	router.HandleFunc("/api/auth/logout", b.logout).Methods(http.MethodPost, http.MethodOptions)
	rlog.Debugln("  handle route: /api/auth/check GET")
	router.HandleFunc("/api/auth/check", check).Methods(http.MethodGet, http.MethodOptions)

	for _, area := range b.Areas {
		area := area
		rlog.Debugf("  handle route: /api/%s/login POST", area.Name)
		router.HandleFunc("/api/"+area.Name+"/login", func(w http.ResponseWriter, r *http.Request) {
			b.areaLogin(w, r, area)
		}).Methods(http.MethodPost, http.MethodOptions)
		rlog.Debugf("  handle route: /api/%s/logout POST", area.Name)
		router.HandleFunc("/api/"+area.Name+"/logout", func(w http.ResponseWriter, r *http.Request) {
			http.SetCookie(w, clearCookie(area.CookieName(), b.SecureCookies))
			w.WriteHeader(http.StatusNoContent)
		}).Methods(http.MethodPost, http.MethodOptions)
	}

	HandleAuthorizationRoute(router)
}

func (b *Builder) adminLogin(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	if b.AdminToken == "" {
		http.Error(w, "admin login is not configured", http.StatusNotFound)
		return
	}
	var body struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !equalSecret(body.Token, b.AdminToken) {
		rlog.Warnln("failed admin login")
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, authCookie(AdminTokenCookie, b.AdminToken, b.SecureCookies))
	writeCheck(w, AuthorizationFromContext(r.Context()).WithRole(RoleAdmin))
}

func (b *Builder) areaLogin(w http.ResponseWriter, r *http.Request, area Area) {
	rlog := logger.FromContext(r.Context())
	if !area.Enabled() {
		http.Error(w, area.Name+" login is not configured", http.StatusNotFound)
		return
	}
	var body struct {
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !area.Check(body.Password) {
		rlog.Warnf("failed %s login", area.Name)
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	http.SetCookie(w, authCookie(area.CookieName(), Digest(body.Password), b.SecureCookies))
	writeCheck(w, AuthorizationFromContext(r.Context()).WithRole(area.Name))
}

func (b *Builder) logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, clearCookie(AdminTokenCookie, b.SecureCookies))
	for _, area := range b.Areas {
		http.SetCookie(w, clearCookie(area.CookieName(), b.SecureCookies))
	}
	w.WriteHeader(http.StatusNoContent)
}

func check(w http.ResponseWriter, r *http.Request) {
	writeCheck(w, AuthorizationFromContext(r.Context()))
}

func writeCheck(w http.ResponseWriter, auth *Authorization) {
	response := CheckResponse{Roles: []string{}}
	if auth != nil && len(auth.Roles) > 0 {
		response.Authenticated = true
		response.Roles = auth.Roles
	}
	jsonData, _ := json.Marshal(response)
	w.Header().Set("Content-Type", "application/json")
	w.Write(jsonData)
}
