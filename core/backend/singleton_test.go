// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend_test

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/homebase/core"
)

func TestSingleton(t *testing.T) {
	s := CreateTestService(t, configurationJSON, nil)
	profile := s.client.Singleton("profile")

	var doc map[string]interface{}
	status, err := profile.Read(&doc)
	assert.Error(t, err)
	assert.Equal(t, http.StatusNotFound, status)

	_, err = profile.Update(map[string]interface{}{"name": "Jane"}, &doc)
	require.NoError(t, err)
	assert.Equal(t, float64(1), doc["revision"])
	assert.Equal(t, "profile", doc["id"])

	doc = nil
	_, err = s.clientNoAuth.Singleton("profile").Read(&doc)
	require.NoError(t, err)
	assert.Equal(t, "Jane", doc["name"])

	status, _ = s.clientNoAuth.Singleton("profile").Update(map[string]interface{}{"name": "Mallory"}, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	doc = nil
	_, err = profile.Patch(map[string]interface{}{"city": "Berlin"}, &doc)
	require.NoError(t, err)
	assert.Equal(t, float64(2), doc["revision"])
	assert.Equal(t, "Jane", doc["name"])
	assert.Equal(t, "Berlin", doc["city"])

	status, err = s.client.RawPutWithHeader(profile.Path(), map[string]string{"If-Match": "1"}, map[string]interface{}{"name": "Old"}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusPreconditionFailed, status)

	status, err = profile.Delete()
	require.NoError(t, err)
	assert.Equal(t, http.StatusNoContent, status)
	status, _ = profile.Read(nil)
	assert.Equal(t, http.StatusNotFound, status)
	status, _ = profile.Delete()
	assert.Equal(t, http.StatusNotFound, status)

	assert.Equal(t, []core.Operation{
		core.OperationCreate,
		core.OperationUpdate,
		core.OperationDelete,
	}, s.notifier.operations("profile"))
}

func TestSingletonDefault(t *testing.T) {
	s := CreateTestService(t, configurationJSON, nil)
	settings := s.client.Singleton("settings")

	var doc map[string]interface{}
	_, err := settings.Read(&doc)
	require.NoError(t, err)
	assert.Equal(t, "dark", doc["theme"])
	assert.Equal(t, float64(0), doc["revision"])

	doc = nil
	_, err = settings.Patch(map[string]interface{}{"lang": "de"}, &doc)
	require.NoError(t, err)
	assert.Equal(t, "dark", doc["theme"])
	assert.Equal(t, "de", doc["lang"])
	assert.Equal(t, float64(1), doc["revision"])

	status, _ := s.clientNoAuth.Singleton("settings").Read(nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}
