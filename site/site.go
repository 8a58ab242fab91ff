// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package site assembles the homebase backend

The resources of the site are described in the embedded config.json, their JSON schemas
live in the embedded schemas directory. New wires the resources together with the access
routes and all service extensions on one router. The commands only decide which store,
object storage and notifier the site runs with.
*/
package site

import (
	"embed"
	"fmt"

	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/access"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/kss"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
	"github.com/relabs-tech/homebase/core/notify"
	"github.com/relabs-tech/homebase/core/schema"
	"github.com/relabs-tech/homebase/services/blog"
	"github.com/relabs-tech/homebase/services/casevault"
	"github.com/relabs-tech/homebase/services/gallery"
	"github.com/relabs-tech/homebase/services/shortener"
	"github.com/relabs-tech/homebase/services/sms"
)

//go:embed config.json
var configurationJSON string

//go:embed schemas
var schemaFS embed.FS

// Builder is a builder helper for the site
type Builder struct {
	// Store holds all data of the site. This is mandatory.
	Store kv.Store
	// Prefix is prepended to all keys. Defaults to backend.DefaultPrefix.
	Prefix string
	// Router is a mux router. This is mandatory.
	Router *mux.Router
	// Access configures tokens, password areas and machine tokens
	Access access.Builder
	// Notifier receives all change notifications. This is optional.
	Notifier notify.Notifier
	// KSS stores the gallery images. Without it the gallery cannot take uploads.
	KSS kss.Driver
	// SMSWebhookToken protects the inbound sms webhook
	SMSWebhookToken string
}

// Configuration returns the embedded resource configuration
func Configuration() string {
	return configurationJSON
}

// Validator returns a validator for the embedded schemas
func Validator() (*schema.Validator, error) {
	return schema.NewValidatorFromFS(schemaFS, "schemas")
}

// New realizes the site on the builder's router. Configuration errors panic.
func New(sb *Builder) *backend.Backend {
	if sb.Router == nil {
		panic("Router is missing")
	}
	validator, err := Validator()
	if err != nil {
		panic(fmt.Errorf("site schemas: %w", err))
	}

	logger.AddRequestID(sb.Router)
	sb.Access.Install(sb.Router)

	// in-process handlers run before the external notifier
	handlers := notify.NewHandlers()
	images := gallery.New(sb.KSS)
	images.RequestNotifications(handlers)
	notifier := notify.Multi{handlers}
	if sb.Notifier != nil {
		notifier = append(notifier, sb.Notifier)
	}

	return backend.New(&backend.Builder{
		Config:    configurationJSON,
		Store:     sb.Store,
		Prefix:    sb.Prefix,
		Router:    sb.Router,
		Notifier:  notifier,
		Validator: validator,
		Extensions: []backend.KExtension{
			blog.New(),
			casevault.New(),
			shortener.New(),
			sms.New(sb.SMSWebhookToken),
			images,
		},
	})
}
