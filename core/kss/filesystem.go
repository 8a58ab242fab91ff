// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package kss

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/logger"
)

// FilesystemRoute is the route which serves pre-signed URLs of the local filesystem driver
const FilesystemRoute = "/kss/filesystem"

// maxUploadSize limits uploads through the local filesystem driver
const maxUploadSize = 64 << 20

// LocalConfiguration contains the configuration for the local filesystem KSS service
type LocalConfiguration struct {
	BasePath string
	// PrivateKey signs the URLs. If nil, a random key is generated, which only
	// works as long as a single instance serves all requests.
	PrivateKey *rsa.PrivateKey
}

// LocalFilesystem stores files in a local directory
type LocalFilesystem struct {
	baseFolder string
	publicURL  url.URL
	privateKey *rsa.PrivateKey
}

var _ Driver = (*LocalFilesystem)(nil)

// NewLocalFilesystem returns a new LocalFilesystem and installs its route on router
func NewLocalFilesystem(router *mux.Router, config LocalConfiguration, publicURL url.URL) (*LocalFilesystem, error) {
	privateKey := config.PrivateKey
	if privateKey == nil {
		logger.Default().Warn("No private key provided to sign URLs, a random one will be generated")
		logger.Default().Warn("This can only work when running in a single instance configuration")

		var err error
		privateKey, err = rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			return nil, err
		}
	}
	if err := os.MkdirAll(config.BasePath, 0700); err != nil {
		return nil, fmt.Errorf("cannot create %s: %w", config.BasePath, err)
	}
	f := &LocalFilesystem{baseFolder: config.BasePath, publicURL: publicURL, privateKey: privateKey}

	logger.Default().Debugln("filesystem routes enabled")
	logger.Default().Debugln("  handle route: " + FilesystemRoute + " GET,PUT")
	router.HandleFunc(FilesystemRoute, f.handler).Methods(http.MethodOptions, http.MethodGet, http.MethodPut)
	return f, nil
}

func validKey(key string) bool {
	return key != "" && !strings.Contains(key, "..") && !strings.HasPrefix(key, "/")
}

func (f *LocalFilesystem) filePath(key string) string {
	return filepath.Join(f.baseFolder, filepath.FromSlash(key))
}

// signedData is the canonical form of a pre-signed URL's parameters
func signedData(method Method, key, expiry string) []byte {
	hashed := sha256.Sum256([]byte(string(method) + "\n" + key + "\n" + expiry))
	return hashed[:]
}

func (f *LocalFilesystem) handler(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	v := r.URL.Query()
	key := v.Get("key")
	method := Method(v.Get("method"))

	if !f.isValid(v) {
		rlog.Warnf("invalid signature for %s", r.URL.String())
		http.Error(w, "not authorized", http.StatusForbidden)
		return
	}
	if string(method) != r.Method {
		rlog.Warnf("signature valid for %s, but was used for %s", method, r.Method)
		http.Error(w, "not authorized", http.StatusForbidden)
		return
	}

	filePath := f.filePath(key)
	rlog.Infof("filesystem: [%s] key: '%s'", r.Method, key)
	switch r.Method {
	case http.MethodGet:
		file, err := os.Open(filePath)
		if os.IsNotExist(err) {
			http.Error(w, "no such file", http.StatusNotFound)
			return
		}
		if err != nil {
			rlog.WithError(err).Errorf("Error 1205: cannot open key '%s'", key)
			http.Error(w, "Error 1205", http.StatusInternalServerError)
			return
		}
		defer file.Close()
		stat, err := file.Stat()
		if err != nil {
			rlog.WithError(err).Errorf("Error 1206: cannot stat key '%s'", key)
			http.Error(w, "Error 1206", http.StatusInternalServerError)
			return
		}
		http.ServeContent(w, r, filepath.Base(filePath), stat.ModTime(), file)

	case http.MethodPut:
		if err := os.MkdirAll(filepath.Dir(filePath), 0700); err != nil {
			rlog.WithError(err).Errorf("Error 1202: cannot create directory for key '%s'", key)
			http.Error(w, "Error 1202", http.StatusInternalServerError)
			return
		}
		dstFile, err := os.Create(filePath)
		if err != nil {
			rlog.WithError(err).Errorf("Error 1203: cannot create key '%s'", key)
			http.Error(w, "Error 1203", http.StatusInternalServerError)
			return
		}
		defer dstFile.Close()
		if _, err = io.Copy(dstFile, http.MaxBytesReader(w, r.Body, maxUploadSize)); err != nil {
			rlog.WithError(err).Errorf("Error 1204: cannot write key '%s'", key)
			http.Error(w, "Error 1204", http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)

	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// Delete deletes the key file
func (f *LocalFilesystem) Delete(ctx context.Context, key string) error {
	if !validKey(key) {
		return fmt.Errorf("invalid key '%s'", key)
	}
	err := os.Remove(f.filePath(key))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

// ListAllWithPrefix lists all keys starting with prefix
func (f *LocalFilesystem) ListAllWithPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(f.baseFolder, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(f.baseFolder, path)
		if err != nil {
			return err
		}
		if key := filepath.ToSlash(rel); strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	sort.Strings(keys)
	return keys, err
}

// DeleteAllWithPrefix deletes all keys starting with prefix
func (f *LocalFilesystem) DeleteAllWithPrefix(ctx context.Context, prefix string) error {
	keys, err := f.ListAllWithPrefix(ctx, prefix)
	if err != nil {
		return err
	}
	for _, key := range keys {
		if err := f.Delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// GetPreSignedURL returns a pre-signed URL that can be used with the given method until expireIn has passed
func (f *LocalFilesystem) GetPreSignedURL(ctx context.Context, method Method, key string, expireIn time.Duration) (string, error) {
	if !validKey(key) {
		return "", fmt.Errorf("invalid key '%s'", key)
	}
	expiry := time.Now().Add(expireIn).UTC().Format(time.RFC3339Nano)
	signature, err := rsa.SignPKCS1v15(rand.Reader, f.privateKey, crypto.SHA256, signedData(method, key, expiry))
	if err != nil {
		return "", fmt.Errorf("cannot sign url: %w", err)
	}

	v := url.Values{}
	v.Set("key", key)
	v.Set("expiry", expiry)
	v.Set("method", string(method))
	v.Set("signature", base64.RawURLEncoding.EncodeToString(signature))
	u := url.URL{
		Scheme:   f.publicURL.Scheme,
		Host:     f.publicURL.Host,
		Path:     strings.TrimSuffix(f.publicURL.Path, "/") + FilesystemRoute,
		RawQuery: v.Encode(),
	}
	return u.String(), nil
}

// isValid tells whether or not the query parameters carry a valid, unexpired signature
func (f *LocalFilesystem) isValid(v url.Values) bool {
	key := v.Get("key")
	if !validKey(key) {
		return false
	}
	expiry := v.Get("expiry")
	t, err := time.Parse(time.RFC3339Nano, expiry)
	if err != nil || t.Before(time.Now()) {
		return false
	}
	signature, err := base64.RawURLEncoding.DecodeString(v.Get("signature"))
	if err != nil {
		return false
	}
	method := Method(v.Get("method"))
	return rsa.VerifyPKCS1v15(&f.privateKey.PublicKey, crypto.SHA256, signedData(method, key, expiry), signature) == nil
}
