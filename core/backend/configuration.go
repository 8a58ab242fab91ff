// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"github.com/goccy/go-json"

	"github.com/relabs-tech/homebase/core/access"
)

// Configuration holds a complete backend configuration
type Configuration struct {
	Collections []CollectionConfiguration `json:"collections"`
	Singletons  []SingletonConfiguration  `json:"singletons"`
}

// CollectionConfiguration describes a collection resource
type CollectionConfiguration struct {
	// Resource is the singular name of the resource. The route is the plural.
	Resource string `json:"resource"`
	// KeyProperty is used as item id instead of a generated UUID, e.g. the slug of a blog
	KeyProperty          string          `json:"key_property"`
	SearchableProperties []string        `json:"searchable_properties"`
	TextProperties       []string        `json:"text_properties"`
	SortBy               string          `json:"sort_by"`
	SortDescending       bool            `json:"sort_descending"`
	Orderable            bool            `json:"orderable"`
	SchemaID             string          `json:"schema_id"`
	Permits              []access.Permit `json:"permits"`
	// WithVisibility hides items with "published": false from non-admin readers
	WithVisibility bool            `json:"with_visibility"`
	Default        json.RawMessage `json:"default"`
	Description    string          `json:"description"`
}

// SingletonConfiguration describes a singleton resource
type SingletonConfiguration struct {
	Resource    string          `json:"resource"`
	SchemaID    string          `json:"schema_id"`
	Permits     []access.Permit `json:"permits"`
	Default     json.RawMessage `json:"default"`
	Description string          `json:"description"`
}

// HasCollection returns true if the configuration contains a collection for resource
func (c *Configuration) HasCollection(resource string) bool {
	for _, rc := range c.Collections {
		if rc.Resource == resource {
			return true
		}
	}
	return false
}

// HasSingleton returns true if the configuration contains a singleton for resource
func (c *Configuration) HasSingleton(resource string) bool {
	for _, rc := range c.Singletons {
		if rc.Resource == resource {
			return true
		}
	}
	return false
}
