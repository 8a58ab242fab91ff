// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package client provides easy and fast in-process access to the site's REST api

Instead of marshalling HTTP, the client talks directly to the mux router. The client
is the tool of choice if one request handler needs to call other handlers to fulfill
its task. It is also perfectly suited for unit tests. With NewWithURL the same client
talks to a remote site over HTTP, which is what the operational commands do.
*/
package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/access"
)

// APIPrefix is the path prefix of all resource routes
const APIPrefix = "/api"

// Client provides easy access to the REST API.
type Client struct {
	router     *mux.Router
	httpClient *http.Client
	url        string
	token      string
	auth       *access.Authorization
	ctx        context.Context

	defaultHeaders map[string]string
}

// NewWithRouter creates a client to make pseudo-REST requests to the backend,
// through the mux router
//
// WithAuthorization() adds an authorization to the request context.
// WithContext() specifies a different base context all together.
func NewWithRouter(router *mux.Router) Client {
	return Client{
		router: router,
	}
}

// NewWithURL creates a client to make REST requests to the backend
//
// WithToken adds an authorization token to the request header.
func NewWithURL(url string) Client {
	return Client{
		url:        strings.TrimSuffix(url, "/"),
		httpClient: &http.Client{Timeout: 20 * time.Second},
	}
}

// WithHeader returns a new client with a default header added
func (c Client) WithHeader(key string, value string) Client {
	headers := map[string]string{key: value}
	for k, v := range c.defaultHeaders {
		if k != key {
			headers[k] = v
		}
	}
	c.defaultHeaders = headers
	return c
}

// WithToken returns a new client which sends token as bearer token. Works against
// the router and against remote sites.
func (c Client) WithToken(token string) Client {
	c.token = token
	return c
}

// WithAdminAuthorization returns a new client with admin authorizations
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAdminAuthorization() Client {
	return c.WithRole(access.RoleAdmin)
}

// WithRole returns a new client with role authorization
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithRole(role string) Client {
	c.auth = &access.Authorization{
		Roles: []string{role},
	}
	return c
}

// WithAuthorization returns a new client with specific authorizations
// (this works only directly against the mux router, for a normal client
// use WithToken())
func (c Client) WithAuthorization(auth *access.Authorization) Client {
	c.auth = auth
	return c
}

// WithContext returns a new client with specific request context
func (c Client) WithContext(ctx context.Context) Client {
	c.ctx = ctx
	return c
}

// Context returns the context requests are made with
func (c Client) Context() context.Context {
	ctx := c.ctx
	if c.ctx == nil {
		ctx = context.Background()
	}
	if c.auth != nil {
		ctx = access.ContextWithAuthorization(ctx, c.auth)
	}
	return ctx
}

// Collection represents a collection of particular resource
type Collection struct {
	client     Client
	resource   string
	parameters []string
}

// Collection returns a new collection client
func (c Client) Collection(resource string) Collection {
	return Collection{
		client:   c,
		resource: resource,
	}
}

// WithParameter returns a new collection client with a URL parameter added.
func (r Collection) WithParameter(key string, value string) Collection {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	// we want a true copy to avoid side effects
	r.parameters = append(append([]string{}, r.parameters...), parameter)
	return r
}

// WithParameters returns a new collection client with all URL parameters added.
func (r Collection) WithParameters(keyValues map[string]string) Collection {
	for key, value := range keyValues {
		r = r.WithParameter(key, value)
	}
	return r
}

// WithFilter returns a new collection client with a URL filter parameter added.
// This is a shortcut for WithParameter("filter", key+"="+value)
func (r Collection) WithFilter(key string, value string) Collection {
	return r.WithParameter("filter", key+"="+value)
}

// CollectionPath returns the created path for the collection plus optional query strings
func (r Collection) CollectionPath() string {
	path := APIPrefix + "/" + core.Plural(r.resource)
	if len(r.parameters) > 0 {
		path += "?" + strings.Join(r.parameters, "&")
	}
	return path
}

// Create creates a new item.
//
// The operation corresponds to a POST request.
//
// Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Collection) Create(body interface{}, result interface{}) (int, error) {
	return r.client.RawPost(r.CollectionPath(), body, result)
}

// Clear deletes the entire collection
//
// The operation corresponds to a DELETE request.
//
// Expects http.StatusNoContent as response, otherwise it will
// flag an error.
func (r Collection) Clear() (int, error) {
	return r.client.RawDelete(r.CollectionPath())
}

// List gets the collection up until the specified limit.
//
// If you potentially need multiple pages, use FirstPage() instead.
//
// The operation corresponds to a GET request.
//
// result can be a slice, []map[string]interface{} or a raw *[]byte.
func (r Collection) List(result interface{}) (int, error) {
	return r.client.RawGet(r.CollectionPath(), result)
}

// Order rewrites the positions of an orderable collection
//
// The operation corresponds to a PUT request to /order.
func (r Collection) Order(ids []string, result interface{}) (int, error) {
	return r.client.RawPut(APIPrefix+"/"+core.Plural(r.resource)+"/order", ids, result)
}

// Item represents a single item in a collection, or a singleton
type Item struct {
	path       string
	client     Client
	parameters []string
}

// Item gets an item from a collection
func (r Collection) Item(id string) Item {
	return Item{
		client: r.client,
		path:   APIPrefix + "/" + core.Plural(r.resource) + "/" + url.PathEscape(id),
	}
}

// Singleton returns a client for a singleton resource
func (c Client) Singleton(resource string) Item {
	return Item{
		client: c,
		path:   APIPrefix + "/" + resource,
	}
}

// WithParameter returns a new item client with a URL parameter added.
func (r Item) WithParameter(key string, value string) Item {
	parameter := url.QueryEscape(key) + "=" + url.QueryEscape(value)
	r.parameters = append(append([]string{}, r.parameters...), parameter)
	return r
}

// Path returns the created path for this item
func (r Item) Path() string {
	if len(r.parameters) > 0 {
		return r.path + "?" + strings.Join(r.parameters, "&")
	}
	return r.path
}

// Read reads an item
//
// The operation corresponds to a GET request.
//
// Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
//
// result can also be map[string]interface{} or a raw *[]byte.
func (r Item) Read(result interface{}) (int, error) {
	return r.client.RawGet(r.Path(), result)
}

// Delete deletes an item
//
// Expects http.StatusNoContent as response, otherwise it will
// flag an error.
func (r Item) Delete() (int, error) {
	return r.client.RawDelete(r.Path())
}

// Update replaces an item, or creates a singleton if it doesn't exist yet.
//
// The operation corresponds to a PUT request.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Item) Update(body interface{}, result interface{}) (int, error) {
	return r.client.RawPut(r.Path(), body, result)
}

// Patch updates selected fields of an item with a JSON merge patch
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (r Item) Patch(body interface{}, result interface{}) (int, error) {
	return r.client.RawPatch(r.Path(), body, result)
}

// Page is a requester for one page in a collection
type Page struct {
	r          Collection
	page       int
	pageCount  int
	totalCount int
}

// FirstPage returns a requester for the first page of a collection
//
// Do not specify the page parameter when using the page requester, as
// it manages page itself. You can set all others parameters, including
// limit.
func (r Collection) FirstPage() Page {
	return Page{page: 1, r: r}
}

// HasData returns true if the page has data (by definition true for the first page)
func (p Page) HasData() bool {
	return p.page == 1 || p.page <= p.pageCount
}

// TotalCount returns the total number of elements (only available after you have called Get on the page)
func (p Page) TotalCount() int {
	return p.totalCount
}

// Get gets one page of the collection
func (p *Page) Get(result interface{}) (int, error) {
	path := p.r.WithParameter("page", strconv.Itoa(p.page)).CollectionPath()
	status, header, err := p.r.client.RawGetWithHeader(path, nil, result)
	if err != nil {
		return status, err
	}
	if pageCount, err := strconv.Atoi(header.Get("Pagination-Page-Count")); err == nil {
		p.pageCount = pageCount
	}
	if totalCount, err := strconv.Atoi(header.Get("Pagination-Total-Count")); err == nil {
		p.totalCount = totalCount
	}
	return status, nil
}

// Next returns the next page
func (p Page) Next() Page {
	return Page{
		r:         p.r,
		page:      p.page + 1,
		pageCount: p.pageCount,
	}
}

// All gets every item of the collection, page by page with the largest page size
func (r Collection) All() ([]map[string]interface{}, error) {
	all := []map[string]interface{}{}
	page := r.WithParameter("limit", "1000").FirstPage()
	for page.HasData() {
		var items []map[string]interface{}
		if _, err := page.Get(&items); err != nil {
			return nil, err
		}
		all = append(all, items...)
		page = page.Next()
	}
	return all, nil
}

// response is the outcome of a request
type response struct {
	status int
	header http.Header
	body   []byte
}

// do executes a request, either directly through the router or over HTTP
func (c Client) do(method, path string, headers map[string]string, body []byte) (*response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	r, err := http.NewRequestWithContext(c.Context(), method, c.url+path, reader)
	if err != nil {
		return nil, err
	}
	for key, value := range c.defaultHeaders {
		r.Header.Set(key, value)
	}
	for key, value := range headers {
		r.Header.Set(key, value)
	}
	if c.token != "" {
		r.Header.Set("Authorization", "Bearer "+c.token)
	}
	if body != nil && r.Header.Get("Content-Type") == "" {
		r.Header.Set("Content-Type", "application/json")
	}

	if c.router != nil {
		rec := httptest.NewRecorder()
		c.router.ServeHTTP(rec, r)
		return &response{status: rec.Code, header: rec.Result().Header, body: rec.Body.Bytes()}, nil
	}

	res, err := c.httpClient.Do(r)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()
	resBody, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, err
	}
	return &response{status: res.StatusCode, header: res.Header, body: resBody}, nil
}

func marshalBody(body interface{}) ([]byte, error) {
	if body == nil {
		return nil, nil
	}
	if j, ok := body.([]byte); ok {
		return j, nil
	}
	return json.Marshal(body)
}

func unmarshalResult(data []byte, result interface{}) error {
	if len(data) == 0 || result == nil {
		return nil
	}
	if raw, ok := result.(*[]byte); ok {
		*raw = data
		return nil
	}
	return json.Unmarshal(data, result)
}

// StatusError is returned when a request gets an unexpected status
type StatusError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s returned status %d: %s", e.Method, e.Path, e.Status, e.Body)
}

func statusError(method, path string, res *response) error {
	return &StatusError{
		Method: method,
		Path:   path,
		Status: res.status,
		Body:   strings.TrimSpace(string(res.body)),
	}
}

// RawGetWithHeader gets the resource from path. Expects http.StatusOK or http.StatusNoContent as
// response, otherwise it will flag an error. Returns the actual http status code and the header.
//
// The path can be extend with query strings.
//
// result can be map[string]interface{} or a raw *[]byte.
// result can be nil.
func (c Client) RawGetWithHeader(path string, header map[string]string, result interface{}) (int, http.Header, error) {
	res, err := c.do(http.MethodGet, path, header, nil)
	if err != nil {
		return http.StatusInternalServerError, nil, err
	}
	if res.status == http.StatusNoContent || res.status == http.StatusNotModified {
		return res.status, res.header, nil
	}
	if res.status != http.StatusOK {
		return res.status, res.header, statusError(http.MethodGet, path, res)
	}
	return res.status, res.header, unmarshalResult(res.body, result)
}

// RawGet gets the resource from path. Expects http.StatusOK as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawGet(path string, result interface{}) (int, error) {
	status, _, err := c.RawGetWithHeader(path, nil, result)
	return status, err
}

// RawPostWithHeader posts a resource to path. Expects http.StatusCreated or http.StatusOK as response,
// otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPostWithHeader(path string, headers map[string]string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("POST to %s: %w", path, err)
	}
	res, err := c.do(http.MethodPost, path, headers, j)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if res.status != http.StatusCreated && res.status != http.StatusOK {
		return res.status, statusError(http.MethodPost, path, res)
	}
	return res.status, unmarshalResult(res.body, result)
}

// RawPost posts a resource to path. Expects http.StatusCreated as response, otherwise it will
// flag an error. Returns the actual http status code.
func (c Client) RawPost(path string, body interface{}, result interface{}) (int, error) {
	return c.RawPostWithHeader(path, nil, body, result)
}

// RawPutWithHeader puts a resource to path. Expects http.StatusOK, http.StatusCreated or
// http.StatusNoContent as valid responses, otherwise it will flag an error.
// Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPutWithHeader(path string, headers map[string]string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("PUT to %s: %w", path, err)
	}
	res, err := c.do(http.MethodPut, path, headers, j)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if res.status != http.StatusOK && res.status != http.StatusCreated && res.status != http.StatusNoContent {
		return res.status, statusError(http.MethodPut, path, res)
	}
	return res.status, unmarshalResult(res.body, result)
}

// RawPut puts a resource to path, see RawPutWithHeader
func (c Client) RawPut(path string, body interface{}, result interface{}) (int, error) {
	return c.RawPutWithHeader(path, nil, body, result)
}

// RawPatch patches the resource at path. Expects http.StatusOK or http.StatusNoContent as valid
// responses, otherwise it will flag an error. Returns the actual http status code.
//
// body can also be a []byte, result can also be raw *[]byte.
// result can be nil.
func (c Client) RawPatch(path string, body interface{}, result interface{}) (int, error) {
	j, err := marshalBody(body)
	if err != nil {
		return http.StatusBadRequest, fmt.Errorf("PATCH to %s: %w", path, err)
	}
	res, err := c.do(http.MethodPatch, path, nil, j)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if res.status != http.StatusOK && res.status != http.StatusNoContent {
		return res.status, statusError(http.MethodPatch, path, res)
	}
	return res.status, unmarshalResult(res.body, result)
}

// RawDelete deletes the resource at path. Expects http.StatusNoContent as response, otherwise it will
// flag an error.
//
// Returns the actual http status code.
func (c Client) RawDelete(path string) (int, error) {
	res, err := c.do(http.MethodDelete, path, nil, nil)
	if err != nil {
		return http.StatusInternalServerError, err
	}
	if res.status != http.StatusNoContent {
		return res.status, statusError(http.MethodDelete, path, res)
	}
	return res.status, nil
}
