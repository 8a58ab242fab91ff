// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
	"github.com/relabs-tech/homebase/core/notify"
	"github.com/relabs-tech/homebase/core/schema"
)

// Backend is the generic rest backend
type Backend struct {
	config    Configuration
	store     kv.Store
	prefix    string
	router    *mux.Router
	notifier  notify.Notifier
	validator *schema.Validator

	collections  map[string]*collection
	singletons   map[string]*singleton
	interceptors map[string]requestHandler
	locks        resourceLocks
}

// Builder is a builder helper for the Backend
type Builder struct {
	// Config is the JSON description of all resources. This is mandatory.
	Config string
	// Store is the key-value store all resources live in. This is mandatory.
	Store kv.Store
	// Prefix is prepended to all keys, separated by a colon. Defaults to "homebase".
	Prefix string
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Notifier receives a notification for every successful create, update and delete. This is optional.
	Notifier notify.Notifier
	// Validator validates resources with a schema_id. This is optional.
	Validator *schema.Validator
	// Extensions add resources, routes and interceptors. This is optional.
	Extensions []KExtension
}

// DefaultPrefix is the key prefix if the builder does not specify one
const DefaultPrefix = "homebase"

// New realizes the actual backend. It adds all routes to the router. Configuration errors
// are programming errors and panic.
func New(bb *Builder) *Backend {
	var config Configuration
	if err := json.Unmarshal([]byte(bb.Config), &config); err != nil {
		panic(fmt.Errorf("parse error in backend configuration: %s", err))
	}
	if bb.Store == nil {
		panic("Store is missing")
	}
	if bb.Router == nil {
		panic("Router is missing")
	}

	nillog := logger.FromContext(nil)
	for _, extension := range bb.Extensions {
		var err error
		nillog.Debugln("update configuration for extension", extension.GetName())
		if config, err = extension.UpdateConfig(config); err != nil {
			panic(fmt.Errorf("extension %s: %w", extension.GetName(), err))
		}
	}

	prefix := bb.Prefix
	if prefix == "" {
		prefix = DefaultPrefix
	}

	b := &Backend{
		config:       config,
		store:        bb.Store,
		prefix:       prefix,
		router:       bb.Router,
		notifier:     bb.Notifier,
		validator:    bb.Validator,
		collections:  make(map[string]*collection),
		singletons:   make(map[string]*singleton),
		interceptors: make(map[string]requestHandler),
		locks:        resourceLocks{locks: make(map[string]*sync.Mutex)},
	}

	b.handleCORS()
	b.handleCompression()

	// extension routes are more specific than the generic item routes, so they go first
	for _, extension := range bb.Extensions {
		if err := extension.UpdateMux(b.router); err != nil {
			panic(fmt.Errorf("extension %s: %w", extension.GetName(), err))
		}
	}

	b.handleRoutes(b.router)

	for _, extension := range bb.Extensions {
		if err := extension.UpdateBackend(b); err != nil {
			panic(fmt.Errorf("extension %s: %w", extension.GetName(), err))
		}
	}
	return b
}

// handleRoutes adds all necessary handlers for the specified configuration
func (b *Backend) handleRoutes(router *mux.Router) {
	nillog := logger.FromContext(nil)
	nillog.Debugln("backend: handle routes")

	resources := map[string]bool{}
	checkResource := func(resource string) {
		if resource == "" || strings.ContainsAny(resource, "/:{}") {
			panic(fmt.Sprintf("invalid resource name '%s'", resource))
		}
		if resources[resource] {
			panic(fmt.Sprintf("resource %s is configured twice", resource))
		}
		resources[resource] = true
	}

	for i := range b.config.Collections {
		rc := b.config.Collections[i]
		checkResource(rc.Resource)
		b.createCollectionResource(router, rc)
	}
	for i := range b.config.Singletons {
		rc := b.config.Singletons[i]
		checkResource(rc.Resource)
		b.createSingletonResource(router, rc)
	}

	b.handleStatistics(router)
	b.handleVersion(router)
	b.handleHealth(router)
}

// Store returns the key-value store of the backend
func (b *Backend) Store() kv.Store {
	return b.store
}

// Key returns the store key for name, with the backend's prefix
func (b *Backend) Key(name string) string {
	return b.prefix + ":" + name
}

// Router returns the router of the backend
func (b *Backend) Router() *mux.Router {
	return b.router
}

// Client returns an in-process client for the backend's routes, with the authorization
// and logger of ctx
func (b *Backend) Client(ctx context.Context) client.Client {
	return client.NewWithRouter(b.router).WithContext(ctx)
}

// Collections returns the names of all configured collections, sorted
func (b *Backend) Collections() []string {
	var names []string
	for name := range b.collections {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Singletons returns the names of all configured singletons, sorted
func (b *Backend) Singletons() []string {
	var names []string
	for name := range b.singletons {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *Backend) hasCollectionOrSingleton(resource string) bool {
	_, isCollection := b.collections[resource]
	_, isSingleton := b.singletons[resource]
	return isCollection || isSingleton
}

// validate validates a document against the schema of a resource
func (b *Backend) validate(schemaID string, data []byte) error {
	if schemaID == "" || !b.validator.HasSchema(schemaID) {
		return nil
	}
	return b.validator.ValidateBytes(data, schemaID)
}

// commitWithNotification publishes a notification after a successful write. Notification
// failures are logged and never reach the client.
func (b *Backend) commitWithNotification(ctx context.Context, resource string, operation core.Operation, payload []byte) {
	if b.notifier == nil {
		return
	}
	if err := b.notifier.Notify(ctx, resource, operation, payload); err != nil {
		logger.FromContext(ctx).WithError(err).Errorf("Error 4760: notify %s %s", operation, resource)
	}
}

// Notify publishes a notification for a resource which is not managed by the backend, for
// example an outgoing message. Failures are logged.
func (b *Backend) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) {
	b.commitWithNotification(ctx, resource, operation, payload)
}

// resourceLocks serializes read-modify-write cycles on one resource within this process
type resourceLocks struct {
	mutex sync.Mutex
	locks map[string]*sync.Mutex
}

func (l *resourceLocks) lock(key string) func() {
	l.mutex.Lock()
	m, ok := l.locks[key]
	if !ok {
		m = &sync.Mutex{}
		l.locks[key] = m
	}
	l.mutex.Unlock()
	m.Lock()
	return m.Unlock
}

// WriteJSON writes JSON data with status
func WriteJSON(w http.ResponseWriter, status int, data []byte) {
	writeJSON(w, status, data)
}

// writeJSON writes JSON data with status
func writeJSON(w http.ResponseWriter, status int, data []byte) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}
