// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/access"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
)

// maxBodySize is the maximum size of a request body
const maxBodySize = 4 << 20

// collection is a collection resource stored in one hash, item id -> document
type collection struct {
	b   *Backend
	rc  CollectionConfiguration
	key string
}

func (b *Backend) createCollectionResource(router *mux.Router, rc CollectionConfiguration) {
	resource := rc.Resource
	nillog := logger.FromContext(nil)
	nillog.Debugln("create collection:", resource)
	if rc.Description != "" {
		nillog.Debugln("  description:", rc.Description)
	}

	if rc.SchemaID != "" && !b.validator.HasSchema(rc.SchemaID) {
		nillog.Errorf("ERROR: invalid configuration for resource %s, schemaID %s is unknown. Validation is deactivated for this resource",
			resource, rc.SchemaID)
	}
	if len(rc.Default) > 0 {
		if _, err := withDefault(rc.Default, document{}); err != nil {
			panic(fmt.Sprintf("invalid default for collection %s: %s", resource, err))
		}
	}

	c := &collection{
		b:   b,
		rc:  rc,
		key: b.Key(resource),
	}
	b.collections[resource] = c

	listRoute := client.APIPrefix + "/" + core.Plural(resource)
	itemRoute := listRoute + "/{id}"

	if rc.Orderable {
		orderRoute := listRoute + "/order"
		nillog.Debugf("  handle collection route: %s PUT", orderRoute)
		router.HandleFunc(orderRoute, func(w http.ResponseWriter, r *http.Request) {
			logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
			c.orderWithAuth(w, r)
		}).Methods(http.MethodOptions, http.MethodPut)
	}

	nillog.Debugf("  handle collection routes: %s GET,POST,DELETE", listRoute)
	router.HandleFunc(listRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.listWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc(listRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.createWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc(listRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.clearWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)

	nillog.Debugf("  handle collection routes: %s GET,PUT,PATCH,DELETE", itemRoute)
	router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.readWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.updateWithAuth(w, r, r.Method == http.MethodPatch)
	}).Methods(http.MethodOptions, http.MethodPut, http.MethodPatch)

	router.HandleFunc(itemRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		c.deleteWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}

// authorized checks the permits of the collection and writes 401 if the request is not authorized
func authorized(w http.ResponseWriter, r *http.Request, operation core.Operation, permits []access.Permit) bool {
	auth := access.AuthorizationFromContext(r.Context())
	if !auth.IsAuthorized(operation, permits) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return false
	}
	return true
}

// Authorized checks permits for extension routes and writes 401 if the request is not
// authorized. Without permits, only admin is authorized.
func Authorized(w http.ResponseWriter, r *http.Request, operation core.Operation, permits ...access.Permit) bool {
	return authorized(w, r, operation, permits)
}

// ReadBody reads a request body of at most 4MB. It writes 400 if it cannot.
func ReadBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	return readBody(w, r)
}

func isAdmin(ctx context.Context) bool {
	return access.AuthorizationFromContext(ctx).HasRole(access.RoleAdmin)
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		http.Error(w, "cannot read body: "+err.Error(), http.StatusBadRequest)
		return nil, false
	}
	return body, true
}

func (c *collection) listWithAuth(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, core.OperationList, c.rc.Permits) {
		return
	}
	ctx := r.Context()
	q, err := parseListQuery(&c.rc, r.URL.Query())
	if err != nil {
		writeError(w, r, "4720", err)
		return
	}

	docs, err := c.load(ctx)
	if err != nil {
		writeError(w, r, "4721", err)
		return
	}
	admin := isAdmin(ctx)
	filtered := make([]document, 0, len(docs))
	for _, doc := range docs {
		if c.rc.WithVisibility && doc.hidden() && !admin {
			continue
		}
		if q.match(doc, c.rc.TextProperties) {
			filtered = append(filtered, doc)
		}
	}
	sortDocuments(filtered, q.sortBy, q.descending)
	totalCount := len(filtered)

	jsonData, _ := json.MarshalWithOption(q.paginate(filtered), json.DisableHTMLEscape())
	jsonData, err = c.b.intercept(ctx, Request{
		Resource:   c.rc.Resource,
		Operation:  core.OperationList,
		Parameters: parametersOf(r.URL.Query()),
	}, jsonData)
	if err != nil {
		writeError(w, r, "4726", err)
		return
	}

	w.Header().Set("Pagination-Limit", strconv.Itoa(q.limit))
	w.Header().Set("Pagination-Total-Count", strconv.Itoa(totalCount))
	w.Header().Set("Pagination-Page-Count", strconv.Itoa(q.pageCount(totalCount)))
	w.Header().Set("Pagination-Current-Page", strconv.Itoa(q.page))
	writeWithEtag(w, r, jsonData)
}

func (c *collection) readWithAuth(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, core.OperationRead, c.rc.Permits) {
		return
	}
	if len(r.URL.Query()) > 0 {
		http.Error(w, "unknown query parameter", http.StatusBadRequest)
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	doc, err := c.get(ctx, id)
	if err == nil && c.rc.WithVisibility && doc.hidden() && !isAdmin(ctx) {
		err = ErrNotFound
	}
	if err != nil {
		writeError(w, r, "4727", err)
		return
	}

	jsonData, err := c.b.intercept(ctx, Request{
		Resource:   c.rc.Resource,
		ResourceID: id,
		Operation:  core.OperationRead,
	}, doc.marshal())
	if err != nil {
		writeError(w, r, "4748", err)
		return
	}
	writeWithEtag(w, r, jsonData)
}

func (c *collection) createWithAuth(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, core.OperationCreate, c.rc.Permits) {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	doc, err := c.create(r.Context(), body, parametersOf(r.URL.Query()))
	if err != nil {
		writeError(w, r, "4734", err)
		return
	}
	jsonData := doc.marshal()
	w.Header().Set("ETag", bytesToEtag(jsonData))
	writeJSON(w, http.StatusCreated, jsonData)
}

func (c *collection) updateWithAuth(w http.ResponseWriter, r *http.Request, patch bool) {
	if !authorized(w, r, core.OperationUpdate, c.rc.Permits) {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	doc, err := c.update(r.Context(), mux.Vars(r)["id"], body, r.Header.Get("If-Match"), patch, parametersOf(r.URL.Query()))
	if err != nil {
		writeError(w, r, "4736", err)
		return
	}
	jsonData := doc.marshal()
	w.Header().Set("ETag", bytesToEtag(jsonData))
	writeJSON(w, http.StatusOK, jsonData)
}

func (c *collection) deleteWithAuth(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, core.OperationDelete, c.rc.Permits) {
		return
	}
	if err := c.delete(r.Context(), mux.Vars(r)["id"], parametersOf(r.URL.Query())); err != nil {
		writeError(w, r, "4744", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *collection) clearWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !isAdmin(ctx) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}
	unlock := c.b.locks.lock(c.key)
	err := c.b.store.Delete(ctx, c.key)
	unlock()
	if err != nil {
		writeError(w, r, "4745", err)
		return
	}
	c.b.commitWithNotification(ctx, c.rc.Resource, core.OperationClear, []byte("{}"))
	w.WriteHeader(http.StatusNoContent)
}

func (c *collection) orderWithAuth(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, core.OperationUpdate, c.rc.Permits) {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	var ids []string
	if err := json.Unmarshal(body, &ids); err != nil {
		http.Error(w, "body must be a json array of ids", http.StatusBadRequest)
		return
	}
	docs, err := c.order(r.Context(), ids)
	if err != nil {
		writeError(w, r, "4739", err)
		return
	}
	jsonData, _ := json.MarshalWithOption(docs, json.DisableHTMLEscape())
	writeJSON(w, http.StatusOK, jsonData)
}

// load returns all documents of the collection, unsorted. Corrupt documents are logged and skipped.
func (c *collection) load(ctx context.Context) ([]document, error) {
	all, err := c.b.store.HGetAll(ctx, c.key)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", c.rc.Resource, err)
	}
	docs := make([]document, 0, len(all))
	for id, data := range all {
		var doc document
		if err := json.Unmarshal([]byte(data), &doc); err != nil || doc == nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4711: corrupt %s %s", c.rc.Resource, id)
			continue
		}
		doc[propertyID] = id
		docs = append(docs, doc)
	}
	return docs, nil
}

// get returns one document, or ErrNotFound
func (c *collection) get(ctx context.Context, id string) (document, error) {
	data, err := c.b.store.HGet(ctx, c.key, id)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read %s %s: %w", c.rc.Resource, id, err)
	}
	var doc document
	if err := json.Unmarshal([]byte(data), &doc); err != nil || doc == nil {
		return nil, fmt.Errorf("corrupt %s %s: %v", c.rc.Resource, id, err)
	}
	doc[propertyID] = id
	return doc, nil
}

func (c *collection) put(ctx context.Context, doc document) error {
	if err := c.b.store.HSet(ctx, c.key, doc.id(), string(doc.marshal())); err != nil {
		return fmt.Errorf("write %s %s: %w", c.rc.Resource, doc.id(), err)
	}
	return nil
}

func validID(id string) bool {
	return id != "" && !strings.ContainsAny(id, "/?#")
}

func (c *collection) create(ctx context.Context, body []byte, parameters map[string]string) (document, error) {
	incoming, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	doc, err := withDefault(c.rc.Default, incoming.userProperties())
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	var id string
	if c.rc.KeyProperty == "" {
		id = uuid.New().String()
	}
	doc.stamp(id, "", 1, now)
	createdAt := propertyString(doc[propertyCreatedAt])

	doc, err = c.b.interceptWrite(ctx, Request{
		Resource:   c.rc.Resource,
		ResourceID: id,
		Operation:  core.OperationCreate,
		Parameters: parameters,
	}, doc)
	if err != nil {
		return nil, err
	}

	if c.rc.KeyProperty != "" {
		id = propertyString(doc[c.rc.KeyProperty])
		if id == "" {
			return nil, badRequest("missing key property '%s'", c.rc.KeyProperty)
		}
	}
	if !validID(id) {
		return nil, badRequest("invalid id '%s'", id)
	}
	doc.stamp(id, createdAt, 1, now)

	if err := c.b.validate(c.rc.SchemaID, doc.userProperties().marshal()); err != nil {
		return nil, err
	}

	unlock := c.b.locks.lock(c.key)
	defer unlock()

	if c.rc.KeyProperty != "" {
		_, err := c.b.store.HGet(ctx, c.key, id)
		if err == nil {
			return nil, ErrConflict
		}
		if !errors.Is(err, kv.ErrNotFound) {
			return nil, fmt.Errorf("check %s %s: %w", c.rc.Resource, id, err)
		}
	}

	if c.rc.Orderable {
		if _, ok := doc[propertyPosition]; !ok {
			docs, err := c.load(ctx)
			if err != nil {
				return nil, err
			}
			position := 0.0
			for _, other := range docs {
				if p := other.position(); p > position {
					position = p
				}
			}
			doc[propertyPosition] = position + 1
		}
	}

	if err := c.put(ctx, doc); err != nil {
		return nil, err
	}
	c.b.commitWithNotification(ctx, c.rc.Resource, core.OperationCreate, doc.marshal())
	return doc, nil
}

func (c *collection) update(ctx context.Context, id string, body []byte, ifMatch string, patch bool, parameters map[string]string) (document, error) {
	incoming, err := parseDocument(body)
	if err != nil {
		return nil, err
	}
	if incomingID := incoming.id(); incomingID != "" && incomingID != id {
		return nil, badRequest("identifier mismatch for %s", c.rc.Resource)
	}

	unlock := c.b.locks.lock(c.key)
	defer unlock()

	current, err := c.get(ctx, id)
	if err != nil {
		return nil, err
	}
	if ifMatchFailed(ifMatch, current) {
		return nil, ErrPreconditionFailed
	}

	var doc document
	if patch {
		doc = document(mergePatch(current.userProperties(), incoming.userProperties()))
	} else {
		doc = incoming.userProperties()
		if _, ok := doc[propertyPosition]; !ok && c.rc.Orderable {
			doc[propertyPosition] = current.position()
		}
	}
	if c.rc.KeyProperty != "" {
		if v, ok := doc[c.rc.KeyProperty]; ok && propertyString(v) != id {
			return nil, badRequest("key property '%s' cannot be changed", c.rc.KeyProperty)
		}
		doc[c.rc.KeyProperty] = id
	}

	now := time.Now().UTC()
	createdAt := propertyString(current[propertyCreatedAt])
	revision := current.revision() + 1
	doc.stamp(id, createdAt, revision, now)

	doc, err = c.b.interceptWrite(ctx, Request{
		Resource:   c.rc.Resource,
		ResourceID: id,
		Operation:  core.OperationUpdate,
		Parameters: parameters,
	}, doc)
	if err != nil {
		return nil, err
	}
	if c.rc.KeyProperty != "" {
		doc[c.rc.KeyProperty] = id
	}
	doc.stamp(id, createdAt, revision, now)

	if err := c.b.validate(c.rc.SchemaID, doc.userProperties().marshal()); err != nil {
		return nil, err
	}
	if err := c.put(ctx, doc); err != nil {
		return nil, err
	}
	c.b.commitWithNotification(ctx, c.rc.Resource, core.OperationUpdate, doc.marshal())
	return doc, nil
}

func (c *collection) delete(ctx context.Context, id string, parameters map[string]string) error {
	unlock := c.b.locks.lock(c.key)
	defer unlock()

	current, err := c.get(ctx, id)
	if err != nil {
		return err
	}
	_, err = c.b.intercept(ctx, Request{
		Resource:   c.rc.Resource,
		ResourceID: id,
		Operation:  core.OperationDelete,
		Parameters: parameters,
	}, current.marshal())
	if err != nil {
		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			return err
		}
		return badRequest("%s", err)
	}

	removed, err := c.b.store.HDel(ctx, c.key, id)
	if err != nil {
		return fmt.Errorf("delete %s %s: %w", c.rc.Resource, id, err)
	}
	if removed == 0 {
		return ErrNotFound
	}
	c.b.commitWithNotification(ctx, c.rc.Resource, core.OperationDelete, current.marshal())
	return nil
}

// order moves the listed ids to the front, in the given order. All other items keep their
// relative order behind them. Only items whose position changes get a new revision.
func (c *collection) order(ctx context.Context, ids []string) ([]document, error) {
	unlock := c.b.locks.lock(c.key)
	defer unlock()

	docs, err := c.load(ctx)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]document, len(docs))
	for _, doc := range docs {
		byID[doc.id()] = doc
	}

	ordered := make([]document, 0, len(docs))
	listed := map[string]bool{}
	for _, id := range ids {
		doc, ok := byID[id]
		if !ok {
			return nil, badRequest("unknown id '%s'", id)
		}
		if listed[id] {
			return nil, badRequest("duplicate id '%s'", id)
		}
		listed[id] = true
		ordered = append(ordered, doc)
	}
	var rest []document
	for _, doc := range docs {
		if !listed[doc.id()] {
			rest = append(rest, doc)
		}
	}
	sortDocuments(rest, propertyPosition, false)
	ordered = append(ordered, rest...)

	now := time.Now().UTC()
	for i, doc := range ordered {
		position := float64(i + 1)
		if _, ok := doc[propertyPosition]; ok && doc.position() == position {
			continue
		}
		doc[propertyPosition] = position
		doc.stamp(doc.id(), propertyString(doc[propertyCreatedAt]), doc.revision()+1, now)
		if err := c.put(ctx, doc); err != nil {
			return nil, err
		}
		c.b.commitWithNotification(ctx, c.rc.Resource, core.OperationUpdate, doc.marshal())
	}
	return ordered, nil
}
