// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/logger"
)

// Handler handles an event in-process
type Handler func(ctx context.Context, event Event) error

// Request is a notification request for a resource and a list of operations
type Request struct {
	Resource   string
	Operations []core.Operation
}

// Handlers is a notifier which calls in-process handlers
type Handlers struct {
	mutex    sync.RWMutex
	handlers map[string]Handler
}

// NewHandlers returns a notifier without handlers
func NewHandlers() *Handlers {
	return &Handlers{handlers: make(map[string]Handler)}
}

func requestKey(resource string, operation core.Operation) string {
	return string(operation) + " " + resource
}

// RequestNotifications installs a handler for notifications.
//
// There can only be one handler for each unique combination of resource and operation.
func (h *Handlers) RequestNotifications(handler Handler, requests ...Request) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for _, request := range requests {
		for _, operation := range request.Operations {
			key := requestKey(request.Resource, operation)
			if _, ok := h.handlers[key]; ok {
				panic(fmt.Sprintf("notification handler for %s already installed", key))
			}
			logger.Default().Debugf("install notification handler %s", key)
			h.handlers[key] = handler
		}
	}
}

func callWithPanicEnvelope(ctx context.Context, handler Handler, event Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("recovered from panic: %v", r)
		}
	}()
	return handler(ctx, event)
}

// Notify implements Notifier. Notifications nobody requested are dropped.
func (h *Handlers) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	key := requestKey(resource, operation)
	h.mutex.RLock()
	handler, ok := h.handlers[key]
	h.mutex.RUnlock()
	if !ok {
		return nil
	}
	if err := callWithPanicEnvelope(ctx, handler, NewEvent(ctx, resource, operation, payload)); err != nil {
		return fmt.Errorf("error handling %s: %w", key, err)
	}
	return nil
}
