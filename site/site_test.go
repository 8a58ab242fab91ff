// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package site_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/homebase/core/access"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/site"
)

const (
	adminToken       = "admin-secret"
	familyPassword   = "family password"
	personalPassword = "personal password"
)

func newSite(t *testing.T) (*mux.Router, client.Client) {
	router := mux.NewRouter()
	site.New(&site.Builder{
		Store:  kv.NewMemory(),
		Router: router,
		Access: access.Builder{
			AdminToken: adminToken,
			Areas: []access.Area{
				{Name: access.RoleFamily, PasswordDigest: access.Digest(familyPassword)},
				{Name: access.RolePersonal, PasswordDigest: access.Digest(personalPassword)},
			},
		},
	})
	return router, client.NewWithRouter(router)
}

// login logs into a password area and returns the cookie header
func login(t *testing.T, router *mux.Router, area, password string) string {
	body := strings.NewReader(`{"password":"` + password + `"}`)
	r := httptest.NewRequest(http.MethodPost, "/api/"+area+"/login", body)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	cookies := w.Result().Cookies()
	require.Len(t, cookies, 1)
	return cookies[0].Name + "=" + cookies[0].Value
}

func TestConfiguration(t *testing.T) {
	var config backend.Configuration
	require.NoError(t, json.Unmarshal([]byte(site.Configuration()), &config))
	validator, err := site.Validator()
	require.NoError(t, err)

	for _, rc := range config.Collections {
		if rc.SchemaID != "" {
			assert.True(t, validator.HasSchema(rc.SchemaID), rc.SchemaID)
		}
	}
	for _, rc := range config.Singletons {
		assert.True(t, validator.HasSchema(rc.SchemaID), rc.SchemaID)
	}
	for _, resource := range []string{"blog", "certification", "competition", "expertise", "reading",
		"project", "admin_section", "admin_category", "case", "family_post", "personal_note", "gallery_image"} {
		assert.True(t, config.HasCollection(resource), resource)
	}
	assert.True(t, config.HasSingleton("profile"))
	assert.True(t, config.HasSingleton("settings"))
}

func TestSchemas(t *testing.T) {
	validator, err := site.Validator()
	require.NoError(t, err)

	assert.NoError(t, validator.ValidateString(`{"slug":"hello-world","title":"Hello","tags":["go"],"date":"2021-06-01"}`,
		"https://homebase/blog.json"))
	assert.Error(t, validator.ValidateString(`{"slug":"Hello World","title":"Hello"}`, "https://homebase/blog.json"))
	assert.Error(t, validator.ValidateString(`{"slug":"hello","title":"Hello","tags":[""]}`, "https://homebase/blog.json"))

	assert.NoError(t, validator.ValidateString(`{"number":"CV-2021-0001","title":"A v. B","status":"open"}`,
		"https://homebase/case.json"))
	assert.Error(t, validator.ValidateString(`{"number":"CV-2021-0001","title":"A v. B","status":"lost"}`,
		"https://homebase/case.json"))

	assert.NoError(t, validator.ValidateString(`{"links":[{"label":"GitHub","url":"https://github.com"}]}`,
		"https://homebase/profile.json"))
	assert.Error(t, validator.ValidateString(`{"links":[{"label":"Broken","url":"javascript:alert(1)"}]}`,
		"https://homebase/profile.json"))
}

func TestPortfolio(t *testing.T) {
	_, cl := newSite(t)
	admin := cl.WithToken(adminToken)

	var post map[string]interface{}
	_, err := admin.Collection("blog").Create(map[string]interface{}{
		"title":     "Hello World",
		"content":   "first post",
		"published": true,
		"tags":      []string{"go"},
	}, &post)
	require.NoError(t, err)
	assert.Equal(t, "hello-world", post["slug"])
	assert.EqualValues(t, 1, post["reading_minutes"])

	_, err = admin.Collection("blog").Create(map[string]interface{}{"title": "Draft", "content": "later"}, nil)
	require.NoError(t, err)

	status, err := admin.Collection("blog").Create(map[string]interface{}{"slug": "Not A Slug", "title": "Bad"}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	// drafts are hidden from visitors
	var posts []map[string]interface{}
	_, err = cl.Collection("blog").List(&posts)
	require.NoError(t, err)
	require.Len(t, posts, 1)
	assert.Equal(t, "Hello World", posts[0]["title"])

	var tags map[string]int
	_, err = cl.RawGet("/api/blogs/tags", &tags)
	require.NoError(t, err)
	assert.Equal(t, map[string]int{"go": 1}, tags)

	var profile map[string]interface{}
	_, err = cl.Singleton("profile").Read(&profile)
	require.NoError(t, err)
	assert.Equal(t, "", profile["name"])

	status, err = cl.Singleton("profile").Update(map[string]interface{}{"name": "Visitor"}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	_, err = admin.Singleton("profile").Update(map[string]interface{}{"name": "Owner", "headline": "Lawyer and engineer"}, nil)
	require.NoError(t, err)

	status, _ = cl.Singleton("settings").Read(nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = cl.Collection("admin_section").List(nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestCaseVault(t *testing.T) {
	_, cl := newSite(t)
	admin := cl.WithToken(adminToken)

	var c map[string]interface{}
	_, err := admin.Collection("case").Create(map[string]interface{}{
		"title":   "Doe v. Roe",
		"year":    2021,
		"court":   "BGH",
		"parties": []string{"Doe", "Roe"},
	}, &c)
	require.NoError(t, err)
	assert.Equal(t, "CV-2021-0001", c["number"])
	assert.Equal(t, "open", c["status"])

	status, err := admin.Collection("case").Create(map[string]interface{}{"title": "Bad", "year": 2021, "status": "lost"}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusBadRequest, status)

	var facets map[string]map[string]int
	_, err = cl.RawGet("/api/cases/facets", &facets)
	require.NoError(t, err)
	assert.Equal(t, 1, facets["court"]["BGH"])
}

func TestPrivateAreas(t *testing.T) {
	router, cl := newSite(t)
	family := cl.WithHeader("Cookie", login(t, router, access.RoleFamily, familyPassword))
	personal := cl.WithHeader("Cookie", login(t, router, access.RolePersonal, personalPassword))

	status, err := cl.RawPost("/api/family/login", map[string]string{"password": "guess"}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)

	_, err = family.Collection("family_post").Create(map[string]interface{}{"content": "Sunday lunch at noon"}, nil)
	require.NoError(t, err)

	var posts []map[string]interface{}
	_, err = family.Collection("family_post").List(&posts)
	require.NoError(t, err)
	assert.Len(t, posts, 1)

	status, _ = cl.Collection("family_post").List(nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = personal.Collection("family_post").List(nil)
	assert.Equal(t, http.StatusUnauthorized, status)
	status, _ = family.Collection("personal_note").List(nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	var note map[string]interface{}
	_, err = personal.Collection("personal_note").Create(map[string]interface{}{"title": "Ideas"}, &note)
	require.NoError(t, err)
	_, err = personal.Collection("personal_note").Item(note["id"].(string)).Delete()
	require.NoError(t, err)

	var check access.CheckResponse
	_, err = family.RawGet("/api/auth/check", &check)
	require.NoError(t, err)
	assert.True(t, check.Authenticated)
	assert.Equal(t, []string{access.RoleFamily}, check.Roles)
}
