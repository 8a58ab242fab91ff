// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"context"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/logger"
)

var (
	// Version is the version of the current build
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("version")
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		data, _ := json.Marshal(map[string]string{"version": Version})
		writeJSON(w, http.StatusOK, data)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) handleHealth(router *mux.Router) {
	logger.Default().Debugln("health")
	logger.Default().Debugln("  handle health route: /health GET")
	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()
		if err := b.store.Ping(ctx); err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("Error 4030: store ping")
			data, _ := json.Marshal(map[string]string{"status": "unavailable"})
			writeJSON(w, http.StatusServiceUnavailable, data)
			return
		}
		data, _ := json.Marshal(map[string]string{"status": "ok"})
		writeJSON(w, http.StatusOK, data)
	}).Methods(http.MethodOptions, http.MethodGet)
}
