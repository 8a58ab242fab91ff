// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/logger"
	"github.com/relabs-tech/homebase/core/schema"
)

// the properties the backend maintains for every document
const (
	propertyID        = "id"
	propertyCreatedAt = "created_at"
	propertyUpdatedAt = "updated_at"
	propertyRevision  = "revision"
	propertyPosition  = "position"
	propertyPublished = "published"
)

var systemProperties = []string{propertyID, propertyCreatedAt, propertyUpdatedAt, propertyRevision}

// ErrNotFound is returned when a resource does not exist
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a document with the same key already exists
var ErrConflict = errors.New("conflict")

// ErrPreconditionFailed is returned when If-Match does not match the current revision
var ErrPreconditionFailed = errors.New("precondition failed")

// HTTPError is an error with an HTTP status. Interceptors return it to choose the status
// the client receives.
type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return e.Message
}

// internalError is a failure of the site rather than of the request
type internalError struct {
	err error
}

func (e *internalError) Error() string {
	return e.err.Error()
}

func (e *internalError) Unwrap() error {
	return e.err
}

// Internal marks err as an internal failure, for example of the store. An interceptor
// returning it fails the request with a logged 500 instead of a 400.
func Internal(err error) error {
	return &internalError{err: err}
}

func badRequest(format string, a ...interface{}) error {
	return &HTTPError{Status: http.StatusBadRequest, Message: fmt.Sprintf(format, a...)}
}

// WriteError maps err to an HTTP status. Unexpected errors are logged with code and
// the client only sees the code. Client errors of nested requests pass their status on.
func WriteError(w http.ResponseWriter, r *http.Request, code string, err error) {
	writeError(w, r, code, err)
}

func writeError(w http.ResponseWriter, r *http.Request, code string, err error) {
	var httpErr *HTTPError
	var validationErr *schema.ValidationError
	var statusErr *client.StatusError
	switch {
	case errors.As(err, &httpErr):
		http.Error(w, httpErr.Message, httpErr.Status)
	case errors.As(err, &statusErr) && statusErr.Status < http.StatusInternalServerError:
		http.Error(w, statusErr.Body, statusErr.Status)
	case errors.As(err, &validationErr):
		http.Error(w, validationErr.Error(), http.StatusBadRequest)
	case errors.Is(err, ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, ErrConflict):
		http.Error(w, "constraint violation", http.StatusConflict)
	case errors.Is(err, ErrPreconditionFailed):
		http.Error(w, "precondition failed", http.StatusPreconditionFailed)
	default:
		logger.FromContext(r.Context()).WithError(err).Errorf("Error %s", code)
		http.Error(w, "Error "+code, http.StatusInternalServerError)
	}
}

// document is a JSON object as stored in the key-value store
type document map[string]interface{}

func parseDocument(data []byte) (document, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, badRequest("invalid json body: %s", err)
	}
	if doc == nil {
		return nil, badRequest("body must be a json object")
	}
	return doc, nil
}

func (d document) id() string {
	return propertyString(d[propertyID])
}

func (d document) revision() int {
	if f, ok := d[propertyRevision].(float64); ok {
		return int(f)
	}
	if i, ok := d[propertyRevision].(int); ok {
		return i
	}
	return 0
}

func (d document) position() float64 {
	switch v := d[propertyPosition].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

// hidden returns true if the document is explicitly unpublished
func (d document) hidden() bool {
	published, ok := d[propertyPublished].(bool)
	return ok && !published
}

func (d document) marshal() []byte {
	data, _ := json.MarshalWithOption(d, json.DisableHTMLEscape())
	return data
}

// userProperties returns a copy of the document without the properties the backend maintains
func (d document) userProperties() document {
	result := document{}
	for k, v := range d {
		result[k] = v
	}
	for _, k := range systemProperties {
		delete(result, k)
	}
	return result
}

// stamp sets the system properties for a new revision
func (d document) stamp(id string, createdAt string, revision int, now time.Time) {
	d[propertyID] = id
	if createdAt == "" {
		createdAt = now.Format(time.RFC3339Nano)
	}
	d[propertyCreatedAt] = createdAt
	d[propertyUpdatedAt] = now.Format(time.RFC3339Nano)
	d[propertyRevision] = revision
}

// withDefault returns the default merged under the document
func withDefault(defaults json.RawMessage, doc document) (document, error) {
	if len(defaults) == 0 {
		return doc, nil
	}
	var result document
	if err := json.Unmarshal(defaults, &result); err != nil {
		return nil, fmt.Errorf("invalid default: %w", err)
	}
	if result == nil {
		result = document{}
	}
	for k, v := range doc {
		result[k] = v
	}
	return result, nil
}

// mergePatch applies a JSON merge patch (RFC 7386) to target
func mergePatch(target, patch map[string]interface{}) map[string]interface{} {
	if target == nil {
		target = map[string]interface{}{}
	}
	for k, v := range patch {
		if v == nil {
			delete(target, k)
			continue
		}
		if p, ok := v.(map[string]interface{}); ok {
			t, _ := target[k].(map[string]interface{})
			target[k] = mergePatch(t, p)
			continue
		}
		target[k] = v
	}
	return target
}

// propertyString converts a JSON value to the string used for filters and sorting
func propertyString(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	case []interface{}:
		s := make([]string, 0, len(t))
		for _, e := range t {
			s = append(s, propertyString(e))
		}
		return strings.Join(s, " ")
	default:
		data, _ := json.Marshal(t)
		return string(data)
	}
}

// propertyMatches returns true if v equals want. Arrays match if any element does.
func propertyMatches(v interface{}, want string) bool {
	if array, ok := v.([]interface{}); ok {
		for _, e := range array {
			if propertyString(e) == want {
				return true
			}
		}
		return false
	}
	return propertyString(v) == want
}

func bytesToEtag(data []byte) string {
	sum := sha256.Sum256(data)
	return "\"" + hex.EncodeToString(sum[:12]) + "\""
}

// ifNoneMatchFound returns true if etag is found in ifNoneMatch. The format of ifNoneMatch is one
// of the following:
// If-None-Match: "<etag_value>"
// If-None-Match: "<etag_value>", "<etag_value>", …
// If-None-Match: *
func ifNoneMatchFound(ifNoneMatch, etag string) bool {
	ifNoneMatch = strings.Trim(ifNoneMatch, " ")
	if len(ifNoneMatch) == 0 {
		return false
	}
	if ifNoneMatch == "*" {
		return true
	}
	t := strings.Trim(etag, " \"")
	for _, s := range strings.Split(ifNoneMatch, ",") {
		s = strings.TrimPrefix(strings.Trim(s, " "), "W/")
		if strings.Trim(s, " \"") == t {
			return true
		}
	}
	return false
}

// ifMatchFailed returns true if the If-Match header names neither the revision nor the etag
// of the current document
func ifMatchFailed(ifMatch string, current document) bool {
	ifMatch = strings.Trim(ifMatch, " ")
	if ifMatch == "" || ifMatch == "*" {
		return false
	}
	revision := strconv.Itoa(current.revision())
	etag := strings.Trim(bytesToEtag(current.marshal()), "\"")
	for _, s := range strings.Split(ifMatch, ",") {
		s = strings.Trim(strings.TrimPrefix(strings.Trim(s, " "), "W/"), " \"")
		if s == revision || s == etag {
			return false
		}
	}
	return true
}

// writeWithEtag writes data with an ETag, or 304 if the client already has it
func writeWithEtag(w http.ResponseWriter, r *http.Request, data []byte) {
	etag := bytesToEtag(data)
	w.Header().Set("ETag", etag)
	if ifNoneMatchFound(r.Header.Get("If-None-Match"), etag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	writeJSON(w, http.StatusOK, data)
}
