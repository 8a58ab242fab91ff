// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package notify publishes change notifications of the site's resources

Every successful create, update and delete produces one notification. Drivers publish them to
the log, to in-process handlers, to a Kafka topic or to an SQS queue. Multi fans out to
several drivers.
*/
package notify

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/logger"
)

// Notifier publishes notifications
type Notifier interface {
	Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error
}

// Event is the wire format of a notification
type Event struct {
	Resource  string          `json:"resource"`
	Operation core.Operation  `json:"operation"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	RequestID string          `json:"request_id,omitempty"`
}

// NewEvent creates an event for a notification in ctx
func NewEvent(ctx context.Context, resource string, operation core.Operation, payload []byte) Event {
	if len(payload) == 0 {
		payload = []byte("{}")
	}
	return Event{
		Resource:  resource,
		Operation: operation,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
		RequestID: logger.RequestIDFromContext(ctx),
	}
}

// Log is a notifier which logs every notification
type Log struct{}

// Notify implements Notifier
func (Log) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	logger.FromContext(ctx).WithField("resource", resource).
		WithField("operation", operation).
		Debugf("notification with %d bytes payload", len(payload))
	return nil
}

// Multi is a notifier which publishes to all its notifiers
type Multi []Notifier

// Notify implements Notifier. All notifiers are called, even if some of them fail.
func (m Multi) Notify(ctx context.Context, resource string, operation core.Operation, payload []byte) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, resource, operation, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
