// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package test runs the complete site against real stores in containers
package test

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"

	"github.com/docker/go-connections/nat"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/site"
)

// AdminToken is the admin token of the site under test
const AdminToken = "integration-admin-token"

// IntegrationTestSuite serves the site over HTTP with the store of a container
type IntegrationTestSuite struct {
	suite.Suite
	*backend.Backend

	// Request describes the store container, Configure points the service at it
	Request   testcontainers.ContainerRequest
	Port      nat.Port
	Configure func(service *site.Service, host, port string)

	container testcontainers.Container
	closer    func()
	server    *httptest.Server
	client    client.Client
	router    *mux.Router
}

// RedisSuite is an IntegrationTestSuite with a redis store
func RedisSuite() *IntegrationTestSuite {
	return &IntegrationTestSuite{
		Request: testcontainers.ContainerRequest{
			Image:        "redis:7",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections"),
		},
		Port: "6379",
		Configure: func(service *site.Service, host, port string) {
			service.KVDriver = string(kv.DriverRedis)
			service.RedisURL = fmt.Sprintf("redis://%s:%s/0", host, port)
		},
	}
}

// PostgresSuite is an IntegrationTestSuite with a postgres store
func PostgresSuite() *IntegrationTestSuite {
	return &IntegrationTestSuite{
		Request: testcontainers.ContainerRequest{
			Image:        "postgres:15",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "testuser",
				"POSTGRES_PASSWORD": "testpass",
				"POSTGRES_DB":       "testdb",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
		},
		Port: "5432",
		Configure: func(service *site.Service, host, port string) {
			service.KVDriver = string(kv.DriverPostgres)
			service.Postgres = fmt.Sprintf("host=%s port=%s user=testuser dbname=testdb sslmode=disable", host, port)
			service.PostgresPassword = "testpass"
		},
	}
}

func (s *IntegrationTestSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("skipping integration test in short mode")
	}
	ctx := context.Background()

	c, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: s.Request,
		Started:          true,
	})
	if err != nil {
		s.T().Skipf("cannot start %s: %v", s.Request.Image, err)
	}
	s.container = c
	host, err := c.Host(ctx)
	s.Require().NoError(err)
	mapped, err := c.MappedPort(ctx, s.Port)
	s.Require().NoError(err)

	service := &site.Service{
		KVPrefix:        "integration",
		AdminToken:      AdminToken,
		PublicURL:       "http://localhost",
		KafkaTopic:      "homebase.events",
		SMSWebhookToken: "",
	}
	s.Configure(service, host, mapped.Port())

	s.router = mux.NewRouter()
	s.Backend, s.closer, err = service.Build(ctx, s.router)
	s.Require().NoError(err)
	s.server = httptest.NewServer(s.router)
	s.client = client.NewWithURL(s.server.URL)
}

func (s *IntegrationTestSuite) TearDownSuite() {
	if s.server != nil {
		s.server.Close()
	}
	if s.closer != nil {
		s.closer()
	}
	if s.container != nil {
		s.Require().NoError(s.container.Terminate(context.Background()))
	}
}

// Admin returns a client with the admin token
func (s *IntegrationTestSuite) Admin() client.Client {
	return s.client.WithToken(AdminToken)
}

// Anonymous returns a client without authorization
func (s *IntegrationTestSuite) Anonymous() client.Client {
	return s.client
}
