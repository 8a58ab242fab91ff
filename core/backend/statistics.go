// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"errors"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
)

// resourceStatistics represents information about a resource
type resourceStatistics struct {
	Resource     string  `json:"resource"`
	Count        int64   `json:"count"`
	SizeMB       float64 `json:"size_mb"`
	AverageSizeB float64 `json:"average_size_b"`
}

// statisticsDetails represents information about the backend resources
type statisticsDetails struct {
	Collections []resourceStatistics `json:"collections"`
	Singletons  []resourceStatistics `json:"singletons"`
}

func (b *Backend) handleStatistics(router *mux.Router) {
	logger.Default().Debugln("statistics")
	logger.Default().Debugln("  handle statistics route: /api/admin/statistics GET")
	router.HandleFunc("/api/admin/statistics", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		b.statisticsWithAuth(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
}

func (b *Backend) statisticsWithAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !isAdmin(ctx) {
		http.Error(w, "not authorized", http.StatusUnauthorized)
		return
	}

	// do not return null in json, but empty arrays
	s := statisticsDetails{
		Collections: []resourceStatistics{},
		Singletons:  []resourceStatistics{},
	}
	// resource names are sorted so that the ETag does not depend on map order
	for _, resource := range b.Collections() {
		all, err := b.store.HGetAll(ctx, b.collections[resource].key)
		if err != nil {
			logger.FromContext(ctx).WithError(err).Errorln("Error 4028: HGetAll")
			http.Error(w, "Error 4028", http.StatusInternalServerError)
			return
		}
		var size int64
		for _, data := range all {
			size += int64(len(data))
		}
		s.Collections = append(s.Collections, newResourceStatistics(resource, int64(len(all)), size))
	}
	for _, resource := range b.Singletons() {
		data, err := b.store.Get(ctx, b.singletons[resource].key)
		if err != nil && !errors.Is(err, kv.ErrNotFound) {
			logger.FromContext(ctx).WithError(err).Errorln("Error 4029: Get")
			http.Error(w, "Error 4029", http.StatusInternalServerError)
			return
		}
		var count int64
		if err == nil {
			count = 1
		}
		s.Singletons = append(s.Singletons, newResourceStatistics(resource, count, int64(len(data))))
	}

	jsonData, _ := json.Marshal(s)
	writeWithEtag(w, r, jsonData)
}

func newResourceStatistics(resource string, count, size int64) resourceStatistics {
	var averageSize float64
	if count != 0 {
		averageSize = float64(size / count)
	}
	return resourceStatistics{
		Resource:     resource,
		Count:        count,
		SizeMB:       float64(size) / 1024. / 1024.,
		AverageSizeB: averageSize,
	}
}
