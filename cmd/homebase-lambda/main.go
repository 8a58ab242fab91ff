// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Command homebase-lambda serves the site's JSON API as AWS Lambda behind an API Gateway
// HTTP API (payload format 2.0)
//
// All configuration is read from the environment, see site.Service. The memory store does not
// survive between invocations, so KV_DRIVER should be redis or postgres.
package main

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"unicode/utf8"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/logger"
	"github.com/relabs-tech/homebase/site"
)

func main() {
	service, err := site.ServiceFromEnvironment()
	if err != nil {
		panic(err)
	}
	logger.InitLogger(logger.ParseLevel(service.LogLevel))

	router := mux.NewRouter()
	if _, _, err := service.Build(context.Background(), router); err != nil {
		logger.Default().WithError(err).Fatalln("cannot build site")
	}
	if service.KVDriver == "memory" {
		logger.Default().Warnln("memory store loses all data between invocations")
	}
	lambda.Start(newHandler(router))
}

type handlerFunc func(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error)

// newHandler returns a lambda handler which routes every event through handler
func newHandler(handler http.Handler) handlerFunc {
	return func(ctx context.Context, event events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		r, err := toRequest(ctx, event)
		if err != nil {
			return events.APIGatewayV2HTTPResponse{StatusCode: http.StatusBadRequest, Body: err.Error()}, nil
		}
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, r)
		return toResponse(w), nil
	}
}

// toRequest converts an API Gateway event into an http request
func toRequest(ctx context.Context, event events.APIGatewayV2HTTPRequest) (*http.Request, error) {
	body := event.Body
	if event.IsBase64Encoded {
		decoded, err := base64.StdEncoding.DecodeString(body)
		if err != nil {
			return nil, err
		}
		body = string(decoded)
	}
	target := event.RawPath
	if event.RawQueryString != "" {
		target += "?" + event.RawQueryString
	}
	r, err := http.NewRequestWithContext(ctx, event.RequestContext.HTTP.Method, target, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	for key, value := range event.Headers {
		r.Header.Set(key, value)
	}
	if len(event.Cookies) > 0 {
		r.Header.Set("Cookie", strings.Join(event.Cookies, "; "))
	}
	r.RemoteAddr = event.RequestContext.HTTP.SourceIP
	r.Host = event.RequestContext.DomainName
	return r, nil
}

// toResponse converts a recorded response into an API Gateway response. Set-Cookie headers
// travel in Cookies, binary bodies base64 encoded.
func toResponse(w *httptest.ResponseRecorder) events.APIGatewayV2HTTPResponse {
	res := w.Result()
	response := events.APIGatewayV2HTTPResponse{
		StatusCode: res.StatusCode,
		Headers:    map[string]string{},
		Cookies:    res.Header.Values("Set-Cookie"),
	}
	for key, values := range res.Header {
		if key == "Set-Cookie" {
			continue
		}
		response.Headers[key] = strings.Join(values, ",")
	}
	body := w.Body.Bytes()
	if utf8.Valid(body) {
		response.Body = string(body)
	} else {
		response.Body = base64.StdEncoding.EncodeToString(body)
		response.IsBase64Encoded = true
	}
	return response
}
