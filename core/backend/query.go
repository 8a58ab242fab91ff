// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// list limits
const (
	defaultLimit = 100
	maxLimit     = 1000
)

type filter struct {
	property string
	value    string
}

// listQuery is a parsed list request
type listQuery struct {
	filters    []filter
	text       string
	sortBy     string
	descending bool
	limit      int
	page       int
}

// parseListQuery parses the query parameters of a list request for collection rc
func parseListQuery(rc *CollectionConfiguration, query url.Values) (*listQuery, error) {
	q := &listQuery{
		limit:      defaultLimit,
		page:       1,
		sortBy:     propertyCreatedAt,
		descending: false,
	}
	switch {
	case rc.Orderable:
		q.sortBy = propertyPosition
	case rc.SortBy != "":
		q.sortBy = rc.SortBy
		q.descending = rc.SortDescending
	}

	searchable := map[string]bool{}
	for _, p := range rc.SearchableProperties {
		searchable[p] = true
	}

	for key, array := range query {
		value := array[0]
		var err error
		switch key {
		case "limit":
			q.limit, err = strconv.Atoi(value)
			if err == nil && (q.limit < 1 || q.limit > maxLimit) {
				return nil, badRequest("parameter 'limit': out of range, must be between 1 and %d", maxLimit)
			}
		case "page":
			q.page, err = strconv.Atoi(value)
			if err == nil && q.page < 1 {
				return nil, badRequest("parameter 'page': out of range")
			}
		case "sort":
			q.sortBy = value
		case "order":
			if value != "asc" && value != "desc" {
				return nil, badRequest("parameter 'order': must be asc or desc")
			}
			q.descending = value == "desc"
		case "q":
			if len(rc.TextProperties) == 0 {
				return nil, badRequest("parameter 'q': %s has no text properties", rc.Resource)
			}
			q.text = strings.ToLower(strings.TrimSpace(value))
		case "filter":
			for _, value := range array {
				i := strings.IndexRune(value, '=')
				if i < 0 {
					return nil, badRequest("cannot parse filter, must be of type property=value")
				}
				property := value[:i]
				if !searchable[property] {
					return nil, badRequest("unknown filter property '%s'", property)
				}
				q.filters = append(q.filters, filter{property: property, value: value[i+1:]})
			}
		default:
			if !searchable[key] {
				return nil, badRequest("parameter '%s': unknown query parameter", key)
			}
			for _, value := range array {
				q.filters = append(q.filters, filter{property: key, value: value})
			}
		}
		if err != nil {
			return nil, badRequest("parameter '%s': %s", key, err)
		}
	}
	// deterministic filter order, the query map is not
	sort.SliceStable(q.filters, func(i, j int) bool {
		return q.filters[i].property < q.filters[j].property
	})
	return q, nil
}

// match returns true if doc passes all filters and the text search
func (q *listQuery) match(doc document, textProperties []string) bool {
	for _, f := range q.filters {
		if !propertyMatches(doc[f.property], f.value) {
			return false
		}
	}
	if q.text == "" {
		return true
	}
	for _, p := range textProperties {
		if strings.Contains(strings.ToLower(propertyString(doc[p])), q.text) {
			return true
		}
	}
	return false
}

// sortDocuments sorts docs by property. Ties break by created_at and then id, always ascending.
func sortDocuments(docs []document, property string, descending bool) {
	sort.SliceStable(docs, func(i, j int) bool {
		c := compareProperties(docs[i][property], docs[j][property])
		if descending {
			c = -c
		}
		if c == 0 {
			c = strings.Compare(propertyString(docs[i][propertyCreatedAt]), propertyString(docs[j][propertyCreatedAt]))
		}
		if c == 0 {
			c = strings.Compare(docs[i].id(), docs[j].id())
		}
		return c < 0
	})
}

// compareProperties compares numbers numerically and everything else as case-insensitive
// strings. Missing values sort first.
func compareProperties(a, b interface{}) int {
	fa, aIsNumber := toFloat(a)
	fb, bIsNumber := toFloat(b)
	if aIsNumber && bIsNumber {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	}
	return strings.Compare(strings.ToLower(propertyString(a)), strings.ToLower(propertyString(b)))
}

func toFloat(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	}
	return 0, false
}

// paginate returns the requested page of docs
func (q *listQuery) paginate(docs []document) []document {
	start := (q.page - 1) * q.limit
	if start >= len(docs) {
		return []document{}
	}
	end := start + q.limit
	if end > len(docs) {
		end = len(docs)
	}
	return docs[start:end]
}

func (q *listQuery) pageCount(totalCount int) int {
	return ((totalCount - 1) / q.limit) + 1
}
