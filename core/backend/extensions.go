// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import "github.com/gorilla/mux"

// KExtension is the interface that all extensions must implement
// It is used to manage the extensions of the backend.
type KExtension interface {
	// GetName returns the name of the extension which is used for logging
	GetName() string

	// UpdateConfig updates the backend configuration, potentially adding collections and singletons.
	// The UpdateConfig is called by the builder before any route is created.
	UpdateConfig(config Configuration) (Configuration, error)

	// UpdateMux updates the mux router with the extension routes.
	// The UpdateMux is called by the builder before the resource routes are created, so
	// extension routes take precedence.
	UpdateMux(router *mux.Router) error

	// UpdateBackend installs interceptors and keeps the backend for the extension's handlers.
	// The UpdateBackend is called by the builder after all resource routes are created.
	UpdateBackend(b *Backend) error
}
