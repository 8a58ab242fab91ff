// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package casevault numbers legal cases and counts their facets

Every new case gets a number of the form CV-{year}-{sequence}, for example CV-2021-0042. The
sequence is kept per year in the counter hash of the backend and never reused, even when cases
are deleted. The year is taken from the case's year property, or the current year if it has none.

Routes

	GET /api/cases/facets    value counts for court, status, year and practice_area

The facets honor the same filter and search parameters as the case list, so a client can show
how many cases remain for each value after filtering.
*/
package casevault

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/logger"
)

// Resource is the name of the case collection
const Resource = "case"

// SortProperty is the numeric property cases are sorted by, see SortKey
const SortProperty = "number_seq"

// the properties a case can be filtered by
var facetProperties = []string{"court", "status", "year", "practice_area"}

// CaseVault is an extension for the case collection
type CaseVault struct {
	b   *backend.Backend
	now func() time.Time
}

// New creates the case vault extension
func New() *CaseVault {
	return &CaseVault{now: time.Now}
}

// GetName returns the name of the extension.
func (e *CaseVault) GetName() string {
	return "CaseVault"
}

// UpdateConfig adds the case collection unless it is already configured. The site configuration
// decides about permits.
func (e *CaseVault) UpdateConfig(config backend.Configuration) (backend.Configuration, error) {
	if config.HasCollection(Resource) {
		return config, nil
	}
	config.Collections = append(config.Collections, backend.CollectionConfiguration{
		Resource:             Resource,
		SearchableProperties: facetProperties,
		TextProperties:       []string{"title", "summary", "parties"},
		SortBy:               SortProperty,
		SortDescending:       true,
		Description:          "legal cases of the case vault",
	})
	return config, nil
}

// UpdateMux adds the facet route.
func (e *CaseVault) UpdateMux(router *mux.Router) error {
	router.HandleFunc("/api/cases/facets", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.facets(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
	return nil
}

// UpdateBackend installs the numbering interceptors.
func (e *CaseVault) UpdateBackend(b *backend.Backend) error {
	e.b = b
	b.HandleResourceRequest(Resource, e.number, core.OperationCreate)
	b.HandleResourceRequest(Resource, e.keepNumber, core.OperationUpdate)
	return nil
}

// counterField is the field in the counter hash for the cases of one year
func counterField(year int) string {
	return "case:" + strconv.Itoa(year)
}

// FormatNumber formats a case number
func FormatNumber(year int, sequence int64) string {
	return fmt.Sprintf("CV-%d-%04d", year, sequence)
}

// SortKey orders cases like their numbers, also beyond sequence 9999 where the
// formatted numbers no longer sort as strings. Sequences stay below one million per year.
func SortKey(year int, sequence int64) int64 {
	return int64(year)*1000000 + sequence
}

func (e *CaseVault) yearOf(c map[string]interface{}) (int, error) {
	switch v := c["year"].(type) {
	case nil:
		return e.now().UTC().Year(), nil
	case float64:
		if v < 1 || v > 9999 || v != float64(int(v)) {
			return 0, &backend.HTTPError{Status: http.StatusBadRequest, Message: "invalid year"}
		}
		return int(v), nil
	case string:
		year, err := strconv.Atoi(v)
		if err != nil || year < 1 || year > 9999 {
			return 0, &backend.HTTPError{Status: http.StatusBadRequest, Message: "invalid year"}
		}
		return year, nil
	}
	return 0, &backend.HTTPError{Status: http.StatusBadRequest, Message: "invalid year"}
}

// number assigns the next number of the case's year
func (e *CaseVault) number(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	var c map[string]interface{}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	year, err := e.yearOf(c)
	if err != nil {
		return nil, err
	}
	sequence, err := e.b.Store().HIncrBy(ctx, e.b.Key("counter"), counterField(year), 1)
	if err != nil {
		return nil, backend.Internal(fmt.Errorf("case counter: %w", err))
	}
	c["number"] = FormatNumber(year, sequence)
	c[SortProperty] = SortKey(year, sequence)
	c["year"] = year
	return json.Marshal(c)
}

// keepNumber carries the number over when a replacement does not name it. A number cannot be
// changed.
func (e *CaseVault) keepNumber(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	var c map[string]interface{}
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	var current map[string]interface{}
	if _, err := e.b.Client(ctx).WithAdminAuthorization().Collection(Resource).Item(request.ResourceID).Read(&current); err != nil {
		return nil, err
	}
	number, _ := current["number"].(string)
	if given, ok := c["number"]; ok && given != number {
		return nil, &backend.HTTPError{Status: http.StatusBadRequest, Message: "the case number cannot be changed"}
	}
	c["number"] = number
	if key, ok := current[SortProperty]; ok {
		c[SortProperty] = key
	} else {
		delete(c, SortProperty)
	}
	return json.Marshal(c)
}

// Facets maps a property to the counts of its values
type Facets map[string]map[string]int

// CountFacets counts the values of the facet properties in cases. Array values count once
// per element.
func CountFacets(cases []map[string]interface{}) Facets {
	facets := Facets{}
	for _, property := range facetProperties {
		facets[property] = map[string]int{}
	}
	for _, c := range cases {
		for _, property := range facetProperties {
			values, ok := c[property].([]interface{})
			if !ok {
				values = []interface{}{c[property]}
			}
			for _, v := range values {
				if s := facetValue(v); s != "" {
					facets[property][s]++
				}
			}
		}
	}
	return facets
}

func facetValue(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	}
	return ""
}

func (e *CaseVault) facets(w http.ResponseWriter, r *http.Request) {
	collection := e.b.Client(r.Context()).Collection(Resource)
	for key, values := range r.URL.Query() {
		if key == "limit" || key == "page" {
			continue
		}
		for _, value := range values {
			collection = collection.WithParameter(key, value)
		}
	}
	cases, err := collection.All()
	if err != nil {
		backend.WriteError(w, r, "4811", err)
		return
	}
	data, _ := json.Marshal(CountFacets(cases))
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}
