// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package kss stores large files like gallery images outside of the key-value store

Clients never stream files through the API. Instead they receive pre-signed URLs, which
are valid for one method and a limited time. There are two drivers: the local filesystem,
which serves the signed URLs through the router, and AWS S3.
*/
package kss

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/logger"
)

// Method is the http method a pre-signed URL is valid for
type Method string

// the supported methods
const (
	Get Method = "GET"
	Put Method = "PUT"
)

// Driver defines the interface for the KSS service
type Driver interface {
	// GetPreSignedURL returns a URL that can be used with method until expireIn has passed
	GetPreSignedURL(ctx context.Context, method Method, key string, expireIn time.Duration) (string, error)
	// Delete deletes the file stored under key. Missing files are not an error.
	Delete(ctx context.Context, key string) error
	// DeleteAllWithPrefix deletes all files with keys starting with prefix
	DeleteAllWithPrefix(ctx context.Context, prefix string) error
	// ListAllWithPrefix lists all keys starting with prefix
	ListAllWithPrefix(ctx context.Context, prefix string) ([]string, error)
}

// DriverType represents the different type of KSS Drivers
type DriverType string

// all driver types
const (
	// DriverTypeLocal is the local filesystem implementation of the KSS service
	DriverTypeLocal DriverType = "local"
	// DriverTypeAWSS3 is the AWS S3 implementation of the KSS service
	DriverTypeAWSS3 DriverType = "s3"
	// None is used when there is no KSS implementation
	None DriverType = ""
)

// Configuration contains the configuration for the KSS service
type Configuration struct {
	DriverType         DriverType
	LocalConfiguration *LocalConfiguration
	S3Configuration    *S3Configuration
}

// New creates the driver selected by config. The local driver installs its route on router and
// signs URLs for publicURL. It returns nil for DriverType None.
func New(router *mux.Router, config Configuration, publicURL string) (Driver, error) {
	logger.Default().Infoln("kss in use with driver", config.DriverType)
	switch config.DriverType {
	case None:
		return nil, nil
	case DriverTypeLocal:
		if config.LocalConfiguration == nil {
			return nil, fmt.Errorf("kss expecting a configuration for local KSS, but got nothing")
		}
		u, err := url.Parse(publicURL)
		if err != nil {
			return nil, fmt.Errorf("cannot parse url %s: %w", publicURL, err)
		}
		drv, err := NewLocalFilesystem(router, *config.LocalConfiguration, *u)
		if err != nil {
			return nil, fmt.Errorf("cannot create local kss driver: %w", err)
		}
		return drv, nil
	case DriverTypeAWSS3:
		if config.S3Configuration == nil {
			return nil, fmt.Errorf("kss expecting a configuration for S3 KSS, but got nothing")
		}
		drv, err := NewS3(*config.S3Configuration)
		if err != nil {
			return nil, fmt.Errorf("cannot create S3 kss driver: %w", err)
		}
		return drv, nil
	}
	return nil, fmt.Errorf("unknown kss driver type '%s'", config.DriverType)
}
