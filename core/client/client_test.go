// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package client

import (
	"io"
	"net/http"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/homebase/core/access"
)

func TestPaths(t *testing.T) {
	client := NewWithRouter(nil)

	collection := client.Collection("blog")
	if p := collection.CollectionPath(); p != "/api/blogs" {
		t.Fatal("unexpected collection path:", p)
	}

	item := collection.Item("hello-world")
	if p := item.Path(); p != "/api/blogs/hello-world" {
		t.Fatal("unexpected item path:", p)
	}

	item = client.Collection("admin_category").Item("a b")
	if p := item.Path(); p != "/api/admin_categories/a%20b" {
		t.Fatal("unexpected item path:", p)
	}

	if p := client.Singleton("profile").WithParameter("x", "y").Path(); p != "/api/profile?x=y" {
		t.Fatal("unexpected singleton path:", p)
	}

	collection = client.Collection("case").WithFilter("court", "BGH").WithParameter("q", "miete")
	if p := collection.CollectionPath(); p != "/api/cases?filter=court%3DBGH&q=miete" {
		t.Fatal("unexpected collection path:", p)
	}

	// parameters do not leak into other clients
	base := client.Collection("case")
	_ = base.WithParameter("a", "b")
	assert.Equal(t, "/api/cases", base.CollectionPath())
}

func TestWithHeader(t *testing.T) {
	base := NewWithRouter(nil)
	a := base.WithHeader("X-A", "1")
	b := a.WithHeader("X-B", "2")
	assert.Len(t, a.defaultHeaders, 1)
	assert.Len(t, b.defaultHeaders, 2)
}

func TestRequestsThroughRouter(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/echos", func(w http.ResponseWriter, r *http.Request) {
		auth := access.AuthorizationFromContext(r.Context())
		if !auth.HasRole("admin") {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("Content-Type", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
		w.Write(body)
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/echos", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Pagination-Page-Count", "3")
		w.Header().Set("Pagination-Total-Count", "25")
		w.Write([]byte(`[{"id":"x"}]`))
	}).Methods(http.MethodGet)

	client := NewWithRouter(router)

	_, err := client.Collection("echo").Create(map[string]string{"a": "b"}, nil)
	assert.Error(t, err)

	var result map[string]string
	status, err := client.WithAdminAuthorization().Collection("echo").Create(map[string]string{"a": "b"}, &result)
	require.NoError(t, err)
	assert.Equal(t, http.StatusCreated, status)
	assert.Equal(t, "b", result["a"])

	page := client.Collection("echo").FirstPage()
	var items []map[string]string
	_, err = page.Get(&items)
	require.NoError(t, err)
	assert.Equal(t, 25, page.TotalCount())
	assert.True(t, page.Next().HasData())
	assert.False(t, page.Next().Next().Next().HasData())
}

func TestRawRequestsWithHeader(t *testing.T) {
	router := mux.NewRouter()
	router.HandleFunc("/api/sms/inbound", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/xml")
		w.Write([]byte("<Response>" + r.FormValue("Body") + "</Response>"))
	}).Methods(http.MethodPost)
	router.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if string(body) == "{}" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		http.Error(w, "unexpected body", http.StatusBadRequest)
	}).Methods(http.MethodPatch)

	client := NewWithRouter(router)

	var twiml []byte
	status, err := client.RawPostWithHeader("/api/sms/inbound",
		map[string]string{"Content-Type": "application/x-www-form-urlencoded"},
		[]byte("From=%2B4915112345678&Body=hello"), &twiml)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "<Response>hello</Response>", string(twiml))

	status, err = client.RawPatch("/api/profile", []byte("{}"), nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)

	status, err = client.RawPatch("/api/profile", map[string]string{"a": "b"}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
	var statusErr *StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, "unexpected body", statusErr.Body)
}
