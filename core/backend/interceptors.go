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

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/logger"
)

// Request is a resource request. Receive them with HandleResourceRequest()
type Request struct {
	// Resource for which this request is made
	Resource string
	// ResourceID is the id of the item. It is empty for singletons, list requests and
	// for create requests, where the id is not known yet.
	ResourceID string
	// Operation for this request
	Operation core.Operation
	// Parameters are the query parameters from the request URL
	Parameters map[string]string
}

type requestHandler func(ctx context.Context, request Request, data []byte) ([]byte, error)

// HandleResourceRequest installs an in-band interceptor for a given resource and a set of operations.
// If no operations are specified, the handler will be installed for the Read operation only.
//
// Any returned non-nil error will abort the operation. An *HTTPError chooses the status code, other
// errors result in 400 (bad request) for write operations and 500 (internal server error) for read
// operations.
//
// If the handler returns a non-nil []byte, this will replace the original data. In case of Read and
// List, the user will see the handler's version. In case of Create or Update, the handler's version
// will be validated, stored and then returned to the user. For the Delete operation, data is the
// document about to be deleted and the returned data is ignored.
//
// Write interceptors run while the resource is locked and must not write to their own resource.
func (b *Backend) HandleResourceRequest(resource string,
	handler func(ctx context.Context, request Request, data []byte) ([]byte, error),
	operations ...core.Operation) {
	if !b.hasCollectionOrSingleton(resource) {
		panic(fmt.Sprintf("handle resource request for %s: no such collection or singleton", resource))
	}

	if len(operations) == 0 {
		operations = []core.Operation{core.OperationRead}
	}
	for _, operation := range operations {
		key := requestKey(resource, operation)
		if _, ok := b.interceptors[key]; ok {
			panic(fmt.Sprintf("resource request handler for %s already installed", key))
		}
		logger.FromContext(nil).Debugf("install resource request handler for %s", key)
		b.interceptors[key] = handler
	}
}

func requestKey(resource string, operation core.Operation) string {
	return resource + "(" + string(operation) + ")"
}

// intercept calls the interceptor for resource and operation, if there is one. It returns
// the data to continue with.
func (b *Backend) intercept(ctx context.Context, request Request, data []byte) ([]byte, error) {
	interceptor, ok := b.interceptors[requestKey(request.Resource, request.Operation)]
	if !ok {
		return data, nil
	}
	result, err := interceptor(ctx, request, data)
	if err != nil {
		return nil, err
	}
	if result == nil {
		return data, nil
	}
	return result, nil
}

// interceptWrite intercepts a create or update. Plain errors become 400.
func (b *Backend) interceptWrite(ctx context.Context, request Request, doc document) (document, error) {
	data, err := b.intercept(ctx, request, doc.marshal())
	if err != nil {
		var httpErr *HTTPError
		var internal *internalError
		var statusErr *client.StatusError
		if errors.As(err, &httpErr) || errors.As(err, &internal) || errors.As(err, &statusErr) {
			return nil, err
		}
		return nil, badRequest("%s", err)
	}
	return parseDocument(data)
}

func parametersOf(query map[string][]string) map[string]string {
	parameters := map[string]string{}
	for key, array := range query {
		if len(array) > 0 {
			parameters[key] = array[0]
		}
	}
	return parameters
}
