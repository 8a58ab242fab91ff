// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package access

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/relabs-tech/homebase/core"
)

func TestAuthorization_Admin(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"admin"},
	}
	if !auth.IsAuthorized(core.OperationCreate, nil) {
		t.Fatal("admin not authorized")
	}

	// admin named explicitly only gets what is listed
	permits := []Permit{{Role: "admin", Operations: []core.Operation{core.OperationRead}}}
	if auth.IsAuthorized(core.OperationDelete, permits) {
		t.Fatal("admin should not delete")
	}
	if !auth.IsAuthorized(core.OperationRead, permits) {
		t.Fatal("admin not authorized for read")
	}
}

func TestAuthorization_Public(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"family"},
	}
	permits := []Permit{{Role: "public", Operations: []core.Operation{core.OperationRead, core.OperationList}}}

	if auth.IsAuthorized(core.OperationCreate, permits) {
		t.Fatal("public should not create")
	}
	if !auth.IsAuthorized(core.OperationRead, permits) {
		t.Fatal("public not authorized for read")
	}

	// now try without any authorization, this should also work
	auth = nil
	if auth.IsAuthorized(core.OperationCreate, permits) {
		t.Fatal("public should not create")
	}
	if !auth.IsAuthorized(core.OperationList, permits) {
		t.Fatal("public not authorized for list")
	}
}

func TestAuthorization_Everybody(t *testing.T) {
	auth := &Authorization{
		Roles: []string{"personal"},
	}
	permits := []Permit{{Role: "everybody", Operations: []core.Operation{core.OperationRead}}}

	if auth.IsAuthorized(core.OperationCreate, permits) {
		t.Fatal("everybody should not create")
	}
	if !auth.IsAuthorized(core.OperationRead, permits) {
		t.Fatal("everybody not authorized for read")
	}

	// now try without any authorization, this should not work
	auth = nil
	if auth.IsAuthorized(core.OperationRead, permits) {
		t.Fatal("unauthenticated should not read")
	}
	auth = &Authorization{}
	if auth.IsAuthorized(core.OperationRead, permits) {
		t.Fatal("authorization without roles should not read")
	}
}

func TestAuthorization_Role(t *testing.T) {
	permits := []Permit{{Role: "family", Operations: []core.Operation{core.OperationRead, core.OperationCreate}}}

	assert.True(t, (&Authorization{Roles: []string{"family"}}).IsAuthorized(core.OperationCreate, permits))
	assert.False(t, (&Authorization{Roles: []string{"family"}}).IsAuthorized(core.OperationDelete, permits))
	assert.False(t, (&Authorization{Roles: []string{"personal"}}).IsAuthorized(core.OperationRead, permits))
	assert.True(t, (&Authorization{Roles: []string{"personal", "family"}}).IsAuthorized(core.OperationRead, permits))
}

func TestAuthorization_WithRole(t *testing.T) {
	var auth *Authorization
	family := auth.WithRole("family")
	assert.Equal(t, []string{"family"}, family.Roles)

	both := family.WithRole("admin").WithRole("family")
	assert.Equal(t, []string{"family", "admin"}, both.Roles)
	assert.Equal(t, []string{"family"}, family.Roles, "WithRole must not modify the receiver")
}

func TestAuthorization_Context(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, AuthorizationFromContext(ctx))

	auth := &Authorization{Roles: []string{"admin"}}
	ctx = ContextWithAuthorization(ctx, auth)
	assert.Same(t, auth, AuthorizationFromContext(ctx))
}
