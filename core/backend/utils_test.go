// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend_test

import (
	"context"
	"sync"
	"testing"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/notify"
	"github.com/relabs-tech/homebase/core/schema"
)

// TestService is a backend on the memory store, with clients for admin and anonymous requests
type TestService struct {
	backend      *backend.Backend
	router       *mux.Router
	store        kv.Store
	notifier     *recordingNotifier
	client       client.Client
	clientNoAuth client.Client
}

// recordingNotifier records all notifications
type recordingNotifier struct {
	mutex  sync.Mutex
	events []notify.Event
}

func (n *recordingNotifier) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	n.events = append(n.events, notify.NewEvent(ctx, resource, operation, payload))
	return nil
}

// operations returns the operations notified for resource, in order
func (n *recordingNotifier) operations(resource string) []core.Operation {
	n.mutex.Lock()
	defer n.mutex.Unlock()
	var result []core.Operation
	for _, e := range n.events {
		if e.Resource == resource {
			result = append(result, e.Operation)
		}
	}
	return result
}

// CreateTestService creates a new service on a fresh memory store
func CreateTestService(t *testing.T, config string, validator *schema.Validator, extensions ...backend.KExtension) *TestService {
	t.Helper()
	s := &TestService{
		router:   mux.NewRouter(),
		store:    kv.NewMemory(),
		notifier: &recordingNotifier{},
	}
	s.backend = backend.New(&backend.Builder{
		Config:     config,
		Store:      s.store,
		Prefix:     "test",
		Router:     s.router,
		Notifier:   s.notifier,
		Validator:  validator,
		Extensions: extensions,
	})
	s.client = client.NewWithRouter(s.router).WithAdminAuthorization()
	s.clientNoAuth = client.NewWithRouter(s.router)
	t.Cleanup(func() { s.store.Close() })
	return s
}
