// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend_test

import (
	"context"
	"net/http"
	"testing"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/backend"
)

// countExtension adds a widget collection, a count route and stamps every widget
type countExtension struct {
	b *backend.Backend
}

func (e *countExtension) GetName() string {
	return "count"
}

func (e *countExtension) UpdateConfig(config backend.Configuration) (backend.Configuration, error) {
	if !config.HasCollection("widget") {
		config.Collections = append(config.Collections, backend.CollectionConfiguration{Resource: "widget"})
	}
	return config, nil
}

func (e *countExtension) UpdateMux(router *mux.Router) error {
	router.HandleFunc("/api/widgets/count", func(w http.ResponseWriter, r *http.Request) {
		var widgets []map[string]interface{}
		if _, err := e.b.Client(r.Context()).Collection("widget").List(&widgets); err != nil {
			backend.WriteError(w, r, "9999", err)
			return
		}
		data, _ := json.Marshal(map[string]int{"count": len(widgets)})
		w.Write(data)
	}).Methods(http.MethodGet)
	return nil
}

func (e *countExtension) UpdateBackend(b *backend.Backend) error {
	e.b = b
	b.HandleResourceRequest("widget", func(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
		var widget map[string]interface{}
		if err := json.Unmarshal(data, &widget); err != nil {
			return nil, err
		}
		widget["stamped"] = true
		return json.Marshal(widget)
	}, core.OperationCreate)
	return nil
}

func TestExtension(t *testing.T) {
	s := CreateTestService(t, configurationJSON, nil, &countExtension{})

	for i := 0; i < 3; i++ {
		var widget map[string]interface{}
		_, err := s.client.Collection("widget").Create(map[string]string{"name": "w"}, &widget)
		require.NoError(t, err)
		assert.Equal(t, true, widget["stamped"])
	}

	var count map[string]int
	_, err := s.client.RawGet("/api/widgets/count", &count)
	require.NoError(t, err)
	assert.Equal(t, 3, count["count"])

	// the extension's client carries the caller's authorization
	status, _ := s.clientNoAuth.RawGet("/api/widgets/count", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
