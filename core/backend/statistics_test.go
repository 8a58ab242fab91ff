// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kv"
)

type resourceStatistics struct {
	Resource string  `json:"resource"`
	Count    int64   `json:"count"`
	SizeMB   float64 `json:"size_mb"`
}

type statisticsDetails struct {
	Collections []resourceStatistics `json:"collections"`
	Singletons  []resourceStatistics `json:"singletons"`
}

// TestStatistics verifies that the /api/admin/statistics endpoint returns information about the backend
func TestStatistics(t *testing.T) {
	s := CreateTestService(t, configurationJSON, nil)

	numberOfElements := 14
	for i := 0; i < numberOfElements; i++ {
		_, err := s.client.Collection("entry").Create(Entry{Title: t.Name()}, nil)
		require.NoError(t, err)
	}

	var stats statisticsDetails
	_, h, err := s.client.RawGetWithHeader("/api/admin/statistics", nil, &stats)
	require.NoError(t, err)
	etag := h.Get("ETag")
	assert.NotEmpty(t, etag)

	var collections []string
	for _, r := range stats.Collections {
		collections = append(collections, r.Resource)
		if r.Resource == "entry" {
			assert.Equal(t, int64(numberOfElements), r.Count)
			assert.Greater(t, r.SizeMB, 0.0)
		} else {
			assert.Equal(t, int64(0), r.Count)
		}
	}
	assert.Equal(t, s.backend.Collections(), collections)
	require.Len(t, stats.Singletons, 2)
	assert.Equal(t, "profile", stats.Singletons[0].Resource)
	assert.Equal(t, int64(0), stats.Singletons[0].Count)

	status, _, err := s.client.RawGetWithHeader("/api/admin/statistics", map[string]string{"If-None-Match": etag}, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotModified, status)

	status, _ = s.clientNoAuth.RawGet("/api/admin/statistics", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

// TestVersion verifies that the /version endpoint works
func TestVersion(t *testing.T) {
	s := CreateTestService(t, configurationJSON, nil)
	var version struct {
		Version string `json:"version"`
	}
	backend.Version = "unset"
	_, err := s.clientNoAuth.RawGet("/version", &version)
	require.NoError(t, err)
	assert.Equal(t, "unset", version.Version)

	backend.Version = "another version"
	defer func() { backend.Version = "unset" }()
	_, err = s.clientNoAuth.RawGet("/version", &version)
	require.NoError(t, err)
	assert.Equal(t, "another version", version.Version)
}

type unreachableStore struct {
	kv.Store
}

func (unreachableStore) Ping(ctx context.Context) error {
	return errors.New("connection refused")
}

func TestHealth(t *testing.T) {
	s := CreateTestService(t, configurationJSON, nil)
	var health map[string]string
	status, err := s.clientNoAuth.RawGet("/health", &health)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", health["status"])

	router := mux.NewRouter()
	backend.New(&backend.Builder{
		Config: configurationJSON,
		Store:  unreachableStore{Store: kv.NewMemory()},
		Router: router,
	})
	status, _ = client.NewWithRouter(router).RawGet("/health", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestCORS(t *testing.T) {
	s := CreateTestService(t, configurationJSON, nil)
	r := httptest.NewRequest(http.MethodOptions, "/api/entries", nil)
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
}
