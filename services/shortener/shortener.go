// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package shortener implements a URL shortener with click statistics

Links are stored in the hash {prefix}:links, slug -> link. Clicks are counted in the hash
{prefix}:link_clicks and every click is recorded in the list {prefix}:link_log:{slug}, which keeps
the latest 500 entries.

Routes

	POST   /api/links                create a link, admin only
	GET    /api/links                all links with their clicks, most clicked first, admin only
	GET    /api/links/{slug}/stats   clicks, latest clicks and clicks per day, admin only
	DELETE /api/links/{slug}         delete a link with its statistics, admin only
	GET    /s/{slug}                 redirect to the target
*/
package shortener

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"net/url"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/logger"
)

const (
	// SlugLength is the length of generated slugs
	SlugLength = 7
	// MaxLogEntries is the number of clicks kept per link
	MaxLogEntries = 500
	// RecentClicks is the number of clicks in the statistics
	RecentClicks = 50

	base62 = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz"
)

var slugPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{3,64}$`)

// Link is a short link
type Link struct {
	Slug      string     `json:"slug"`
	URL       string     `json:"url"`
	CreatedAt time.Time  `json:"created_at"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	Clicks    int64      `json:"clicks"`
}

// Expired returns true if the link has expired at now
func (l *Link) Expired(now time.Time) bool {
	return l.ExpiresAt != nil && !l.ExpiresAt.After(now)
}

// Click is one recorded redirect
type Click struct {
	At        time.Time `json:"at"`
	Referrer  string    `json:"referrer,omitempty"`
	UserAgent string    `json:"user_agent,omitempty"`
	Country   string    `json:"country,omitempty"`
}

// Stats are the statistics of one link
type Stats struct {
	Link
	Recent []Click        `json:"recent"`
	PerDay map[string]int `json:"per_day"`
}

// Shortener is an extension which adds short links to the backend
type Shortener struct {
	b     *backend.Backend
	store kv.Store
	mutex sync.Mutex
	now   func() time.Time
}

// New creates the shortener extension
func New() *Shortener {
	return &Shortener{now: time.Now}
}

// GetName returns the name of the extension.
func (e *Shortener) GetName() string {
	return "Shortener"
}

// UpdateConfig reserves the link resource. Links are not a backend collection.
func (e *Shortener) UpdateConfig(config backend.Configuration) (backend.Configuration, error) {
	if config.HasCollection("link") {
		return config, errors.New("the link resource is reserved for the shortener")
	}
	return config, nil
}

// UpdateMux adds the link routes.
func (e *Shortener) UpdateMux(router *mux.Router) error {
	router.HandleFunc("/api/links", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.create(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/links", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.list(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/links/{slug}/stats", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.stats(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/links/{slug}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.delete(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)

	router.HandleFunc("/s/{slug}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.redirect(w, r)
	}).Methods(http.MethodGet, http.MethodHead)
	return nil
}

// UpdateBackend keeps the backend for its store.
func (e *Shortener) UpdateBackend(b *backend.Backend) error {
	e.b = b
	e.store = b.Store()
	return nil
}

func (e *Shortener) linksKey() string {
	return e.b.Key("links")
}

func (e *Shortener) clicksKey() string {
	return e.b.Key("link_clicks")
}

func (e *Shortener) logKey(slug string) string {
	return e.b.Key("link_log:" + slug)
}

// NewSlug returns a random slug of SlugLength base62 characters
func NewSlug() (string, error) {
	max := big.NewInt(int64(len(base62)))
	b := make([]byte, SlugLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b[i] = base62[n.Int64()]
	}
	return string(b), nil
}

// ValidTarget returns an error unless target is an absolute http or https URL
func ValidTarget(target string) error {
	u, err := url.Parse(target)
	if err != nil {
		return fmt.Errorf("invalid url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid url: scheme must be http or https")
	}
	if u.Host == "" {
		return fmt.Errorf("invalid url: host is missing")
	}
	return nil
}

func (e *Shortener) get(ctx context.Context, slug string) (*Link, error) {
	data, err := e.store.HGet(ctx, e.linksKey(), slug)
	if err != nil {
		return nil, err
	}
	link := &Link{}
	if err := json.Unmarshal([]byte(data), link); err != nil {
		return nil, fmt.Errorf("corrupt link %s: %w", slug, err)
	}
	return link, nil
}

func (e *Shortener) create(w http.ResponseWriter, r *http.Request) {
	if !backend.Authorized(w, r, core.OperationCreate) {
		return
	}
	body, ok := backend.ReadBody(w, r)
	if !ok {
		return
	}
	var request struct {
		URL       string     `json:"url"`
		Slug      string     `json:"slug"`
		ExpiresAt *time.Time `json:"expires_at"`
	}
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if err := ValidTarget(request.URL); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if request.Slug != "" && !slugPattern.MatchString(request.Slug) {
		http.Error(w, "invalid slug, must match "+slugPattern.String(), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	e.mutex.Lock()
	defer e.mutex.Unlock()

	slug := request.Slug
	if slug == "" {
		// a collision of generated slugs is unlikely, but possible
		for attempt := 0; attempt < 5 && slug == ""; attempt++ {
			candidate, err := NewSlug()
			if err != nil {
				backend.WriteError(w, r, "4821", err)
				return
			}
			if _, err := e.store.HGet(ctx, e.linksKey(), candidate); errors.Is(err, kv.ErrNotFound) {
				slug = candidate
			}
		}
		if slug == "" {
			backend.WriteError(w, r, "4822", errors.New("no free slug"))
			return
		}
	} else {
		_, err := e.store.HGet(ctx, e.linksKey(), slug)
		if err == nil {
			http.Error(w, "slug already exists", http.StatusConflict)
			return
		}
		if !errors.Is(err, kv.ErrNotFound) {
			backend.WriteError(w, r, "4823", err)
			return
		}
	}

	link := &Link{
		Slug:      slug,
		URL:       request.URL,
		CreatedAt: e.now().UTC(),
		ExpiresAt: request.ExpiresAt,
	}
	data, _ := json.Marshal(link)
	if err := e.store.HSet(ctx, e.linksKey(), slug, string(data)); err != nil {
		backend.WriteError(w, r, "4824", err)
		return
	}
	e.b.Notify(ctx, "link", core.OperationCreate, data)
	backend.WriteJSON(w, http.StatusCreated, data)
}

func (e *Shortener) list(w http.ResponseWriter, r *http.Request) {
	if !backend.Authorized(w, r, core.OperationList) {
		return
	}
	ctx := r.Context()
	all, err := e.store.HGetAll(ctx, e.linksKey())
	if err != nil {
		backend.WriteError(w, r, "4825", err)
		return
	}
	clicks, err := e.store.HGetAll(ctx, e.clicksKey())
	if err != nil {
		backend.WriteError(w, r, "4826", err)
		return
	}

	links := make([]Link, 0, len(all))
	for slug, data := range all {
		var link Link
		if err := json.Unmarshal([]byte(data), &link); err != nil {
			logger.FromContext(ctx).WithError(err).Errorf("Error 4827: corrupt link %s", slug)
			continue
		}
		fmt.Sscan(clicks[slug], &link.Clicks)
		links = append(links, link)
	}
	sort.Slice(links, func(i, j int) bool {
		if links[i].Clicks != links[j].Clicks {
			return links[i].Clicks > links[j].Clicks
		}
		return links[i].Slug < links[j].Slug
	})
	data, _ := json.Marshal(links)
	backend.WriteJSON(w, http.StatusOK, data)
}

func (e *Shortener) redirect(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]
	link, err := e.get(ctx, slug)
	if errors.Is(err, kv.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		backend.WriteError(w, r, "4828", err)
		return
	}
	now := e.now().UTC()
	if link.Expired(now) {
		http.Error(w, "link expired", http.StatusGone)
		return
	}

	// HEAD comes from link previews and uptime checks, only GET is a click
	if r.Method == http.MethodGet {
		e.recordClick(r, slug, now)
	}
	http.Redirect(w, r, link.URL, http.StatusFound)
}

// recordClick counts and logs a click. Failures are logged, they never block the redirect.
func (e *Shortener) recordClick(r *http.Request, slug string, now time.Time) {
	ctx := r.Context()
	rlog := logger.FromContext(ctx)
	if _, err := e.store.HIncrBy(ctx, e.clicksKey(), slug, 1); err != nil {
		rlog.WithError(err).Errorln("Error 4829: count click")
	}
	click, _ := json.Marshal(Click{
		At:        now,
		Referrer:  r.Referer(),
		UserAgent: r.UserAgent(),
		Country:   country(r),
	})
	if err := e.store.LPush(ctx, e.logKey(slug), string(click)); err != nil {
		rlog.WithError(err).Errorln("Error 4830: log click")
	} else if err := e.store.LTrim(ctx, e.logKey(slug), 0, MaxLogEntries-1); err != nil {
		rlog.WithError(err).Errorln("Error 4831: trim click log")
	}
}

// country returns the country code set by a CDN in front of the site
func country(r *http.Request) string {
	for _, header := range []string{"CF-IPCountry", "CloudFront-Viewer-Country", "X-Country-Code"} {
		if c := strings.TrimSpace(r.Header.Get(header)); c != "" {
			return strings.ToUpper(c)
		}
	}
	return ""
}

func (e *Shortener) stats(w http.ResponseWriter, r *http.Request) {
	if !backend.Authorized(w, r, core.OperationRead) {
		return
	}
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]
	link, err := e.get(ctx, slug)
	if errors.Is(err, kv.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		backend.WriteError(w, r, "4832", err)
		return
	}
	if count, err := e.store.HGet(ctx, e.clicksKey(), slug); err == nil {
		fmt.Sscan(count, &link.Clicks)
	}
	entries, err := e.store.LRange(ctx, e.logKey(slug), 0, -1)
	if err != nil {
		backend.WriteError(w, r, "4833", err)
		return
	}

	stats := Stats{Link: *link, Recent: []Click{}, PerDay: map[string]int{}}
	for _, entry := range entries {
		var click Click
		if err := json.Unmarshal([]byte(entry), &click); err != nil {
			continue
		}
		if len(stats.Recent) < RecentClicks {
			stats.Recent = append(stats.Recent, click)
		}
		stats.PerDay[click.At.UTC().Format("2006-01-02")]++
	}
	data, _ := json.Marshal(stats)
	backend.WriteJSON(w, http.StatusOK, data)
}

func (e *Shortener) delete(w http.ResponseWriter, r *http.Request) {
	if !backend.Authorized(w, r, core.OperationDelete) {
		return
	}
	ctx := r.Context()
	slug := mux.Vars(r)["slug"]
	e.mutex.Lock()
	defer e.mutex.Unlock()

	link, err := e.get(ctx, slug)
	if errors.Is(err, kv.ErrNotFound) {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if err != nil {
		backend.WriteError(w, r, "4834", err)
		return
	}
	if _, err := e.store.HDel(ctx, e.linksKey(), slug); err != nil {
		backend.WriteError(w, r, "4835", err)
		return
	}
	if _, err := e.store.HDel(ctx, e.clicksKey(), slug); err != nil {
		backend.WriteError(w, r, "4836", err)
		return
	}
	if err := e.store.Delete(ctx, e.logKey(slug)); err != nil {
		backend.WriteError(w, r, "4837", err)
		return
	}
	data, _ := json.Marshal(link)
	e.b.Notify(ctx, "link", core.OperationDelete, data)
	w.WriteHeader(http.StatusNoContent)
}
