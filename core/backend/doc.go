// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package backend implements the configurable backend

A backend manages resources in a key-value store and provides an auto-generated RESTful-API for them.
Every collection lives in one hash, item id -> JSON document. Every singleton lives in one string value.

# Configuration

The configuration is done entirely via JSON. It consists of collections and singletons.

Example:

	{
	  "collections": [
	    {
	      "resource": "blog",
	      "key_property": "slug",
	      "searchable_properties": ["tags"],
	      "text_properties": ["title", "content"],
	      "sort_by": "published_at",
	      "sort_descending": true,
	      "with_visibility": true,
	      "permits": [
	        {"role": "public", "operations": ["read", "list"]}
	      ]
	    },
	    {
	      "resource": "expertise",
	      "orderable": true
	    }
	  ],
	  "singletons": [
	    {
	      "resource": "profile",
	      "default": {"name": ""}
	    }
	  ]
	}

This configuration creates the following REST routes:

	GET /api/blogs
	POST /api/blogs
	DELETE /api/blogs
	GET /api/blogs/{id}
	PUT /api/blogs/{id}
	PATCH /api/blogs/{id}
	DELETE /api/blogs/{id}
	GET /api/expertises
	...
	PUT /api/expertises/order
	GET /api/profile
	PUT /api/profile
	PATCH /api/profile
	DELETE /api/profile

Blogs use their slug as id, so creating a second blog with the same slug fails with 409 (Conflict).
Expertises get a generated UUID and an integer position, which PUT /api/expertises/order rewrites
from a JSON array of ids.

Every document carries the properties the backend maintains:

	{
		"id": STRING,
		"created_at": TIMESTAMP,
		"updated_at": TIMESTAMP,
		"revision": INTEGER,
		...
	}

Properties

  - key_property: property used as id instead of a generated UUID. Must be unique.
  - searchable_properties: properties which can be filtered with ?filter=property=value or ?property=value.
    Array values match if any element matches.
  - text_properties: properties searched case-insensitively with ?q=text
  - sort_by, sort_descending: default ordering, overridden with ?sort=property and ?order=asc|desc.
    Ties are broken by created_at and id.
  - orderable: items carry a position and are sorted by it
  - schema_id: a JSON schema the document must validate against
  - permits: roles and their operations. Without permits, only admin has access.
  - with_visibility: documents with "published": false are hidden from everybody but admin
  - default: a JSON object merged under every new document

Lists are paginated with ?limit=n&page=p. The response carries the headers Pagination-Limit,
Pagination-Total-Count, Pagination-Page-Count and Pagination-Current-Page.

Caching and concurrency

All reads return an ETag. A request with a matching If-None-Match header gets 304 (Not Modified).
Updates accept an If-Match header with either the revision or the ETag of the document; if the
document has changed since, the update fails with 412 (Precondition Failed).

Interceptors and notifications

Services change documents before they are stored or returned with HandleResourceRequest, and extend
the backend with the KExtension interface. Every successful create, update and delete is published
to the Notifier of the Builder.

Other routes

	GET /version                the version of the build
	GET /health                 pings the key-value store, 503 if unreachable
	GET /api/admin/statistics   counts and sizes of all resources, admin only
*/
package backend
