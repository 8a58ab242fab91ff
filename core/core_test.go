// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package core

import (
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
)

func TestOperations_JSON_Unmarshalling(t *testing.T) {

	type Object struct {
		Operations []Operation `json:"operations"`
	}
	var object Object
	jsonRead := `{"operations":["create","read","update","list","clear"]}`
	err := json.Unmarshal([]byte(jsonRead), &object)
	if err != nil {
		t.Fatal(err)
	}
	assert.Len(t, object.Operations, 5)

	jsonRead = `{"operations":["invalid"]}`
	err = json.Unmarshal([]byte(jsonRead), &object)
	if err == nil {
		t.Fatal("invalid operation accepted")
	}
}

func TestPlural(t *testing.T) {
	tests := map[string]string{
		"blog":           "blogs",
		"case":           "cases",
		"admin_category": "admin_categories",
		"expertise":      "expertises",
		"day":            "days",
		"address":        "addresses",
		"child":          "children",
	}
	for singular, plural := range tests {
		assert.Equal(t, plural, Plural(singular), singular)
	}
}
