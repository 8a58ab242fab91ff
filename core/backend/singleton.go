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
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
)

// singleton is a resource which exists at most once, stored as one string value
type singleton struct {
	b   *Backend
	rc  SingletonConfiguration
	key string
}

func (b *Backend) createSingletonResource(router *mux.Router, rc SingletonConfiguration) {
	resource := rc.Resource
	nillog := logger.FromContext(nil)
	nillog.Debugln("create singleton:", resource)
	if rc.Description != "" {
		nillog.Debugln("  description:", rc.Description)
	}
	if rc.SchemaID != "" && !b.validator.HasSchema(rc.SchemaID) {
		nillog.Errorf("ERROR: invalid configuration for resource %s, schemaID %s is unknown. Validation is deactivated for this resource",
			resource, rc.SchemaID)
	}
	if len(rc.Default) > 0 {
		if _, err := withDefault(rc.Default, document{}); err != nil {
			panic(fmt.Sprintf("invalid default for singleton %s: %s", resource, err))
		}
	}

	s := &singleton{
		b:   b,
		rc:  rc,
		key: b.Key(resource),
	}
	b.singletons[resource] = s

	singletonRoute := client.APIPrefix + "/" + resource
	nillog.Debugf("  handle singleton routes: %s GET,PUT,PATCH,DELETE", singletonRoute)

	router.HandleFunc(singletonRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.readWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc(singletonRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.updateWithAuth(w, r, r.Method == http.MethodPatch)
	}).Methods(http.MethodOptions, http.MethodPut, http.MethodPatch)

	router.HandleFunc(singletonRoute, func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		s.deleteWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
}

// get returns the stored singleton. If it was never written, the default is returned
// with revision 0, or ErrNotFound if there is no default.
func (s *singleton) get(ctx context.Context) (document, error) {
	data, err := s.b.store.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		if len(s.rc.Default) == 0 {
			return nil, ErrNotFound
		}
		doc, err := withDefault(s.rc.Default, document{})
		if err != nil {
			return nil, err
		}
		doc[propertyRevision] = 0
		return doc, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", s.rc.Resource, err)
	}
	var doc document
	if err := json.Unmarshal([]byte(data), &doc); err != nil || doc == nil {
		return nil, fmt.Errorf("corrupt %s: %v", s.rc.Resource, err)
	}
	return doc, nil
}

func (s *singleton) readWithAuth(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, core.OperationRead, s.rc.Permits) {
		return
	}
	ctx := r.Context()
	doc, err := s.get(ctx)
	if err != nil {
		writeError(w, r, "4787", err)
		return
	}
	jsonData, err := s.b.intercept(ctx, Request{
		Resource:  s.rc.Resource,
		Operation: core.OperationRead,
	}, doc.marshal())
	if err != nil {
		writeError(w, r, "4751", err)
		return
	}
	writeWithEtag(w, r, jsonData)
}

func (s *singleton) updateWithAuth(w http.ResponseWriter, r *http.Request, patch bool) {
	if !authorized(w, r, core.OperationUpdate, s.rc.Permits) {
		return
	}
	body, ok := readBody(w, r)
	if !ok {
		return
	}
	doc, err := s.update(r.Context(), body, r.Header.Get("If-Match"), patch, parametersOf(r.URL.Query()))
	if err != nil {
		writeError(w, r, "4788", err)
		return
	}
	jsonData := doc.marshal()
	w.Header().Set("ETag", bytesToEtag(jsonData))
	writeJSON(w, http.StatusOK, jsonData)
}

// update creates or replaces the singleton. A patch is applied to the current version,
// or to the default if the singleton was never written.
func (s *singleton) update(ctx context.Context, body []byte, ifMatch string, patch bool, parameters map[string]string) (document, error) {
	incoming, err := parseDocument(body)
	if err != nil {
		return nil, err
	}

	unlock := s.b.locks.lock(s.key)
	defer unlock()

	current, err := s.get(ctx)
	if errors.Is(err, ErrNotFound) {
		current = document{propertyRevision: 0}
	} else if err != nil {
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
		if current.revision() == 0 {
			if doc, err = withDefault(s.rc.Default, doc); err != nil {
				return nil, err
			}
		}
	}

	operation := core.OperationUpdate
	if current.revision() == 0 {
		operation = core.OperationCreate
	}
	now := time.Now().UTC()
	createdAt := propertyString(current[propertyCreatedAt])
	revision := current.revision() + 1
	doc.stamp(s.rc.Resource, createdAt, revision, now)
	createdAt = propertyString(doc[propertyCreatedAt])

	doc, err = s.b.interceptWrite(ctx, Request{
		Resource:   s.rc.Resource,
		Operation:  core.OperationUpdate,
		Parameters: parameters,
	}, doc)
	if err != nil {
		return nil, err
	}
	doc.stamp(s.rc.Resource, createdAt, revision, now)

	if err := s.b.validate(s.rc.SchemaID, doc.userProperties().marshal()); err != nil {
		return nil, err
	}
	if err := s.b.store.Set(ctx, s.key, string(doc.marshal()), 0); err != nil {
		return nil, fmt.Errorf("write %s: %w", s.rc.Resource, err)
	}
	s.b.commitWithNotification(ctx, s.rc.Resource, operation, doc.marshal())
	return doc, nil
}

func (s *singleton) deleteWithAuth(w http.ResponseWriter, r *http.Request) {
	if !authorized(w, r, core.OperationDelete, s.rc.Permits) {
		return
	}
	ctx := r.Context()
	unlock := s.b.locks.lock(s.key)
	defer unlock()

	data, err := s.b.store.Get(ctx, s.key)
	if errors.Is(err, kv.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		writeError(w, r, "4789", err)
		return
	}
	_, err = s.b.intercept(ctx, Request{
		Resource:   s.rc.Resource,
		Operation:  core.OperationDelete,
		Parameters: parametersOf(r.URL.Query()),
	}, []byte(data))
	if err != nil {
		var httpErr *HTTPError
		if !errors.As(err, &httpErr) {
			err = badRequest("%s", err)
		}
		writeError(w, r, "4790", err)
		return
	}
	if err := s.b.store.Delete(ctx, s.key); err != nil {
		writeError(w, r, "4791", err)
		return
	}
	s.b.commitWithNotification(ctx, s.rc.Resource, core.OperationDelete, []byte(data))
	w.WriteHeader(http.StatusNoContent)
}
