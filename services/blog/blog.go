// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package blog adds reading time, slugs and a tag cloud to the blog collection
package blog

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"unicode"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/logger"
)

// Resource is the name of the blog collection
const Resource = "blog"

// WordsPerMinute is the reading speed used for the estimate
const WordsPerMinute = 200

// reservedSlugs are path segments under /api/blogs taken by routes of the extension
var reservedSlugs = map[string]bool{"tags": true}

// Blog is an extension for the blog collection.
//
// Features:
// - reading_minutes is computed from the content on every create and update
// - a missing slug is derived from the title
// - GET /api/blogs/tags returns the number of visible posts per tag, as tag -> count
type Blog struct {
	b *backend.Backend
}

// New creates the blog extension
func New() *Blog {
	return &Blog{}
}

// GetName returns the name of the extension.
func (e *Blog) GetName() string {
	return "Blog"
}

// UpdateConfig checks that the blog collection exists.
func (e *Blog) UpdateConfig(config backend.Configuration) (backend.Configuration, error) {
	if !config.HasCollection(Resource) {
		return config, errMissingCollection
	}
	return config, nil
}

// UpdateMux adds the tag route.
func (e *Blog) UpdateMux(router *mux.Router) error {
	router.HandleFunc("/api/blogs/tags", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.tags(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)
	return nil
}

// UpdateBackend installs the interceptor for created and updated posts.
func (e *Blog) UpdateBackend(b *backend.Backend) error {
	e.b = b
	b.HandleResourceRequest(Resource, prepare, core.OperationCreate, core.OperationUpdate)
	return nil
}

var errMissingCollection = errors.New("blog collection is not configured")

func prepare(ctx context.Context, request backend.Request, data []byte) ([]byte, error) {
	var post map[string]interface{}
	if err := json.Unmarshal(data, &post); err != nil {
		return nil, err
	}
	content, _ := post["content"].(string)
	post["reading_minutes"] = ReadingMinutes(content)

	slug, _ := post["slug"].(string)
	if slug == "" {
		title, _ := post["title"].(string)
		slug = Slugify(title)
		if slug == "" {
			return nil, &backend.HTTPError{Status: http.StatusBadRequest, Message: "a post needs a slug or a title"}
		}
		post["slug"] = slug
	}
	if reservedSlugs[slug] {
		return nil, &backend.HTTPError{Status: http.StatusBadRequest, Message: "slug '" + slug + "' is reserved"}
	}
	return json.Marshal(post)
}

// ReadingMinutes estimates the reading time of text in minutes, at least 1
func ReadingMinutes(text string) int {
	words := len(strings.Fields(text))
	minutes := int(math.Ceil(float64(words) / WordsPerMinute))
	if minutes < 1 {
		return 1
	}
	return minutes
}

// Slugify turns a title into a slug: lower case, runs of other characters than letters and
// digits collapsed to a single dash, no leading or trailing dashes
func Slugify(title string) string {
	var sb strings.Builder
	dash := false
	for _, r := range strings.ToLower(title) {
		if r <= unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)) {
			sb.WriteRune(r)
			dash = false
			continue
		}
		if !dash && sb.Len() > 0 {
			sb.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(sb.String(), "-")
}

func (e *Blog) tags(w http.ResponseWriter, r *http.Request) {
	// unpublished posts are skipped below, so the tag cloud is public
	posts, err := e.b.Client(r.Context()).WithAdminAuthorization().Collection(Resource).All()
	if err != nil {
		backend.WriteError(w, r, "4801", err)
		return
	}

	counts := map[string]int{}
	for _, post := range posts {
		if published, ok := post["published"].(bool); ok && !published {
			continue
		}
		tags, _ := post["tags"].([]interface{})
		for _, tag := range tags {
			if s, ok := tag.(string); ok && s != "" {
				counts[s]++
			}
		}
	}

	data, _ := json.Marshal(counts)
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Write(data)
}
