// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package site

import (
	"context"
	"fmt"
	"strings"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/homebase/core/access"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/kss"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
	"github.com/relabs-tech/homebase/core/notify"
)

// Service holds the configuration of the site, read from the environment
//
// use KV_DRIVER=redis with REDIS_URL="redis://localhost:6379/0", or KV_DRIVER=postgres with
// POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD="docker"
type Service struct {
	Port                   int    `env:"PORT,default=3000" description:"the port the site listens on"`
	LogLevel               string `env:"LOG_LEVEL,default=info" description:"the log level, e.g. debug, info, warn"`
	KVDriver               string `env:"KV_DRIVER,default=memory" description:"the key-value store, memory, redis or postgres"`
	RedisURL               string `env:"REDIS_URL" description:"the redis URL for KV_DRIVER=redis"`
	Postgres               string `env:"POSTGRES" description:"the connection string for the Postgres DB without password"`
	PostgresPassword       string `env:"POSTGRES_PASSWORD" description:"password to the Postgres DB"`
	KVPrefix               string `env:"KV_PREFIX,default=homebase" description:"the prefix of all keys, also the postgres schema"`
	AdminToken             string `env:"ADMIN_TOKEN" description:"the static admin token, empty disables admin access"`
	FamilyPasswordSHA256   string `env:"FAMILY_PASSWORD_SHA256" description:"hex SHA-256 digest of the family area password"`
	PersonalPasswordSHA256 string `env:"PERSONAL_PASSWORD_SHA256" description:"hex SHA-256 digest of the personal area password"`
	MachineJwtSecret       string `env:"MACHINE_JWT_SECRET" description:"HS256 secret of machine tokens"`
	PublicURL              string `env:"PUBLIC_URL,default=http://localhost:3000" description:"the public URL of the site"`
	KSSDriver              string `env:"KSS_DRIVER" description:"the object storage for the gallery, local or s3"`
	KSSLocalPath           string `env:"KSS_LOCAL_PATH,default=./data/kss" description:"the directory of the local object storage"`
	AWSRegion              string `env:"AWS_REGION,default=eu-central-1" description:"the AWS region for S3 and SQS"`
	AWSBucket              string `env:"AWS_BUCKET" description:"the S3 bucket for KSS_DRIVER=s3 and backups"`
	AWSAccessID            string `env:"AWS_ACCESS_ID" description:"AWS access key ID, empty uses the default credential chain"`
	AWSAccessKey           string `env:"AWS_ACCESS_KEY" description:"AWS secret access key"`
	KafkaBrokers           string `env:"KAFKA_BROKERS" description:"comma separated kafka brokers for notifications"`
	KafkaTopic             string `env:"KAFKA_TOPIC,default=homebase.events" description:"the kafka topic for notifications"`
	SQSQueueURL            string `env:"SQS_QUEUE_URL" description:"the SQS queue for notifications"`
	SMSWebhookToken        string `env:"SMS_WEBHOOK_TOKEN" description:"the token the sms provider passes to the webhook"`
}

// ServiceFromEnvironment decodes the service configuration from the environment
func ServiceFromEnvironment() (*Service, error) {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil {
		return nil, fmt.Errorf("environment: %w", err)
	}
	return service, nil
}

// OpenStore opens the configured key-value store
func (s *Service) OpenStore() (kv.Store, error) {
	return kv.Open(kv.Configuration{
		Driver:           kv.Driver(s.KVDriver),
		RedisURL:         s.RedisURL,
		Postgres:         s.Postgres,
		PostgresPassword: s.PostgresPassword,
		PostgresSchema:   s.KVPrefix,
	})
}

// OpenKSS creates the configured object storage. It returns nil if KSS_DRIVER is empty.
func (s *Service) OpenKSS(router *mux.Router) (kss.Driver, error) {
	config := kss.Configuration{DriverType: kss.DriverType(s.KSSDriver)}
	switch config.DriverType {
	case kss.DriverTypeLocal:
		config.LocalConfiguration = &kss.LocalConfiguration{BasePath: s.KSSLocalPath}
	case kss.DriverTypeAWSS3:
		config.S3Configuration = &kss.S3Configuration{
			AWSRegion:     s.AWSRegion,
			AWSBucketName: s.AWSBucket,
			AccessID:      s.AWSAccessID,
			AccessKey:     s.AWSAccessKey,
			KeyPrefix:     s.KVPrefix + "/",
		}
	}
	return kss.New(router, config, s.PublicURL)
}

// OpenNotifier creates the notifier. Notifications are always logged, and published to Kafka
// and SQS when they are configured. The returned function closes the Kafka writer.
func (s *Service) OpenNotifier(ctx context.Context) (notify.Notifier, func(), error) {
	notifiers := notify.Multi{notify.Log{}}
	closer := func() {}
	if s.KafkaBrokers != "" {
		k, err := notify.NewKafka(s.KafkaBrokers, s.KafkaTopic)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, k)
		closer = func() {
			if err := k.Close(); err != nil {
				logger.Default().WithError(err).Errorln("Error 4901: close kafka writer")
			}
		}
	}
	if s.SQSQueueURL != "" {
		cfg, err := kss.LoadAWSConfig(ctx, s.AWSRegion, s.AWSAccessID, s.AWSAccessKey)
		if err != nil {
			return nil, nil, fmt.Errorf("aws configuration: %w", err)
		}
		q, err := notify.NewSQS(cfg, s.SQSQueueURL)
		if err != nil {
			return nil, nil, err
		}
		notifiers = append(notifiers, q)
	}
	return notifiers, closer, nil
}

// Access returns the access configuration
func (s *Service) Access() access.Builder {
	return access.Builder{
		AdminToken: s.AdminToken,
		Areas: []access.Area{
			{Name: access.RoleFamily, PasswordDigest: s.FamilyPasswordSHA256},
			{Name: access.RolePersonal, PasswordDigest: s.PersonalPasswordSHA256},
		},
		MachineJwtSecret: s.MachineJwtSecret,
		SecureCookies:    strings.HasPrefix(s.PublicURL, "https://"),
	}
}

// Build opens store, object storage and notifier and realizes the site on router. The
// returned function releases all resources.
func (s *Service) Build(ctx context.Context, router *mux.Router) (*backend.Backend, func(), error) {
	store, err := s.OpenStore()
	if err != nil {
		return nil, nil, fmt.Errorf("kv store: %w", err)
	}
	driver, err := s.OpenKSS(router)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("kss: %w", err)
	}
	notifier, closeNotifier, err := s.OpenNotifier(ctx)
	if err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("notifier: %w", err)
	}

	b := New(&Builder{
		Store:           store,
		Prefix:          s.KVPrefix,
		Router:          router,
		Access:          s.Access(),
		Notifier:        notifier,
		KSS:             driver,
		SMSWebhookToken: s.SMSWebhookToken,
	})
	return b, func() {
		closeNotifier()
		if err := store.Close(); err != nil {
			logger.Default().WithError(err).Errorln("Error 4902: close kv store")
		}
	}, nil
}
