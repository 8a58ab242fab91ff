// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss_test

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kss"
)

func newLocal(t *testing.T) (kss.Driver, client.Client) {
	router := mux.NewRouter()
	driver, err := kss.New(router, kss.Configuration{
		DriverType:         kss.DriverTypeLocal,
		LocalConfiguration: &kss.LocalConfiguration{BasePath: t.TempDir()},
	}, "https://localhost")
	require.NoError(t, err)
	return driver, client.NewWithRouter(router)
}

func TestLocal_PresignedURL_PutGet(t *testing.T) {
	driver, cl := newLocal(t)
	ctx := context.Background()
	key := "gallery/image-1"

	putURL, err := driver.GetPreSignedURL(ctx, kss.Put, key, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, putURL, "https://localhost"+kss.FilesystemRoute+"?")

	_, err = cl.RawPut(putURL, []byte("123"), nil)
	require.NoError(t, err)

	getURL, err := driver.GetPreSignedURL(ctx, kss.Get, key, time.Minute)
	require.NoError(t, err)
	var data []byte
	_, err = cl.RawGet(getURL, &data)
	require.NoError(t, err)
	assert.Equal(t, "123", string(data))

	// a tainted URL is not authorized
	tainted, err := url.Parse(putURL)
	require.NoError(t, err)
	v := tainted.Query()
	v.Set("key", "gallery/another")
	tainted.RawQuery = v.Encode()
	status, _ := cl.RawPut(tainted.String(), []byte("123"), nil)
	assert.Equal(t, http.StatusForbidden, status)

	// an expired URL is not authorized
	expiredURL, err := driver.GetPreSignedURL(ctx, kss.Put, key, time.Millisecond)
	require.NoError(t, err)
	time.Sleep(5 * time.Millisecond)
	status, _ = cl.RawPut(expiredURL, []byte("123"), nil)
	assert.Equal(t, http.StatusForbidden, status)

	// a URL signed for GET cannot be used to PUT
	status, _ = cl.RawPut(getURL, []byte("456"), nil)
	assert.Equal(t, http.StatusForbidden, status)
}

func TestLocal_Delete(t *testing.T) {
	driver, cl := newLocal(t)
	ctx := context.Background()

	for _, key := range []string{"gallery/a", "gallery/b", "other/c"} {
		putURL, err := driver.GetPreSignedURL(ctx, kss.Put, key, time.Minute)
		require.NoError(t, err)
		_, err = cl.RawPut(putURL, []byte(key), nil)
		require.NoError(t, err)
	}

	keys, err := driver.ListAllWithPrefix(ctx, "gallery/")
	require.NoError(t, err)
	assert.Equal(t, []string{"gallery/a", "gallery/b"}, keys)

	getURL, err := driver.GetPreSignedURL(ctx, kss.Get, "gallery/a", time.Minute)
	require.NoError(t, err)
	require.NoError(t, driver.Delete(ctx, "gallery/a"))
	status, _ := cl.RawGet(getURL, nil)
	assert.Equal(t, http.StatusNotFound, status)
	assert.NoError(t, driver.Delete(ctx, "gallery/a"), "deleting twice is fine")

	require.NoError(t, driver.DeleteAllWithPrefix(ctx, "gallery/"))
	keys, err = driver.ListAllWithPrefix(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"other/c"}, keys)
}

func TestLocal_InvalidKeys(t *testing.T) {
	driver, _ := newLocal(t)
	_, err := driver.GetPreSignedURL(context.Background(), kss.Get, "../etc/passwd", time.Minute)
	assert.Error(t, err)
	_, err = driver.GetPreSignedURL(context.Background(), kss.Get, "", time.Minute)
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	driver, err := kss.New(mux.NewRouter(), kss.Configuration{}, "")
	assert.NoError(t, err)
	assert.Nil(t, driver)

	_, err = kss.New(mux.NewRouter(), kss.Configuration{DriverType: kss.DriverTypeLocal}, "")
	assert.Error(t, err)

	_, err = kss.New(mux.NewRouter(), kss.Configuration{DriverType: "ftp"}, "")
	assert.Error(t, err)
}
