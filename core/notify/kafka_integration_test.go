// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package notify

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/homebase/core"
)

type KafkaIntegrationSuite struct {
	suite.Suite
	network       testcontainers.Network
	containers    []testcontainers.Container
	kafkaAddr     string
	kafkaConn     *kafka.Conn
	kafkaNotifier *Kafka
	topic         string
}

func (s *KafkaIntegrationSuite) SetupSuite() {
	if testing.Short() {
		s.T().Skip("skipping kafka integration test in short mode")
	}
	ctx := context.Background()

	// zookeeper and kafka share a network
	networkName := fmt.Sprintf("homebase-kafka-%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	if err != nil {
		s.T().Skipf("no container runtime: %v", err)
	}
	s.network = network

	zookeeper, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-zookeeper:7.5.0",
			ExposedPorts: []string{"2181/tcp"},
			Env: map[string]string{
				"ZOOKEEPER_CLIENT_PORT": "2181",
				"ZOOKEEPER_TICK_TIME":   "2000",
			},
			WaitingFor:     wait.ForListeningPort("2181/tcp"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.containers = append(s.containers, zookeeper)

	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-kafka:7.5.0",
			ExposedPorts: []string{"9092:9092/tcp"},
			Env: map[string]string{
				"KAFKA_BROKER_ID":                        "1",
				"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,INTERNAL://0.0.0.0:9093",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,INTERNAL://kafka:9093",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,INTERNAL:PLAINTEXT",
				"KAFKA_INTER_BROKER_LISTENER_NAME":       "INTERNAL",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
			},
			WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"kafka"}},
		},
		Started: true,
	})
	s.Require().NoError(err)
	s.containers = append(s.containers, kafkaC)

	host, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	port, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", host, port.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)

	s.topic = "homebase-notifications"
	s.Require().NoError(s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             s.topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))

	s.kafkaNotifier, err = NewKafka(s.kafkaAddr, s.topic)
	s.Require().NoError(err)
}

func (s *KafkaIntegrationSuite) TearDownSuite() {
	ctx := context.Background()
	if s.kafkaNotifier != nil {
		s.kafkaNotifier.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}
	for i := len(s.containers) - 1; i >= 0; i-- {
		s.containers[i].Terminate(ctx)
	}
	if s.network != nil {
		s.network.Remove(ctx)
	}
}

func (s *KafkaIntegrationSuite) TestPublish() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	s.Require().NoError(s.kafkaNotifier.Notify(ctx, "blog", core.OperationCreate, []byte(`{"id":"first-post"}`)))

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:   []string{s.kafkaAddr},
		Topic:     s.topic,
		Partition: 0,
		MinBytes:  1,
		MaxBytes:  10e6,
	})
	defer reader.Close()

	msg, err := reader.ReadMessage(ctx)
	s.Require().NoError(err)
	s.Equal("blog", string(msg.Key))
	var event Event
	s.Require().NoError(json.Unmarshal(msg.Value, &event))
	s.Equal(core.OperationCreate, event.Operation)
	s.JSONEq(`{"id":"first-post"}`, string(event.Payload))
}

func TestKafkaIntegration(t *testing.T) {
	suite.Run(t, new(KafkaIntegrationSuite))
}
