// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package gallery manages images in the object storage

The metadata of every image is a gallery_image item; the image itself is stored under the key
gallery/{id} of the object storage. Clients never send image data through the backend, they
upload and download with pre-signed URLs.

Routes

	POST   /api/gallery        create an image {"title", "content_type", "album"}, returns a PUT URL, admin only
	GET    /api/gallery        images with GET URLs, ?album= selects one album
	DELETE /api/gallery/{id}   delete an image with its stored object, admin only

Reading the gallery follows the permits of the gallery_image collection. Stored objects are
removed by notification handlers, see RequestNotifications, so deleting or clearing
gallery_image items through the collection routes removes the images as well.
*/
package gallery

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/kss"
	"github.com/relabs-tech/homebase/core/logger"
	"github.com/relabs-tech/homebase/core/notify"
)

// Resource is the collection of the image metadata
const Resource = "gallery_image"

// DefaultExpiry is the lifetime of pre-signed URLs
const DefaultExpiry = time.Hour

// Image is the metadata of an image
type Image struct {
	ID          string    `json:"id,omitempty"`
	Title       string    `json:"title"`
	ContentType string    `json:"content_type"`
	Album       string    `json:"album,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	URL         string    `json:"url,omitempty"`
}

// Upload is the response to a created image
type Upload struct {
	Image     Image  `json:"image"`
	UploadURL string `json:"upload_url"`
}

// Gallery is an extension for images in the object storage
type Gallery struct {
	// KSS stores the images. Without it, images cannot be created and carry no URLs.
	KSS kss.Driver
	// Expiry is the lifetime of pre-signed URLs, DefaultExpiry if zero
	Expiry time.Duration

	b *backend.Backend
}

// New creates the gallery extension
func New(driver kss.Driver) *Gallery {
	return &Gallery{KSS: driver, Expiry: DefaultExpiry}
}

// GetName returns the name of the extension.
func (e *Gallery) GetName() string {
	return "Gallery"
}

// UpdateConfig adds the gallery_image collection unless it is already configured.
func (e *Gallery) UpdateConfig(config backend.Configuration) (backend.Configuration, error) {
	if config.HasCollection(Resource) {
		return config, nil
	}
	config.Collections = append(config.Collections, backend.CollectionConfiguration{
		Resource:             Resource,
		SearchableProperties: []string{"album"},
		TextProperties:       []string{"title"},
		SortDescending:       true,
		SortBy:               "created_at",
		Description:          "metadata of the gallery images",
	})
	return config, nil
}

// UpdateMux adds the gallery routes.
func (e *Gallery) UpdateMux(router *mux.Router) error {
	router.HandleFunc("/api/gallery", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.create(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)

	router.HandleFunc("/api/gallery", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.list(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/gallery/{id}", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.delete(w, r)
	}).Methods(http.MethodOptions, http.MethodDelete)
	return nil
}

// UpdateBackend keeps the backend for its client.
func (e *Gallery) UpdateBackend(b *backend.Backend) error {
	e.b = b
	return nil
}

// RequestNotifications installs the handlers which remove stored objects once their metadata
// is deleted or the collection is cleared.
func (e *Gallery) RequestNotifications(handlers *notify.Handlers) {
	handlers.RequestNotifications(e.removeObject, notify.Request{
		Resource:   Resource,
		Operations: []core.Operation{core.OperationDelete},
	})
	handlers.RequestNotifications(e.removeAllObjects, notify.Request{
		Resource:   Resource,
		Operations: []core.Operation{core.OperationClear},
	})
}

func (e *Gallery) removeObject(ctx context.Context, event notify.Event) error {
	if e.KSS == nil {
		return nil
	}
	var image struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Payload, &image); err != nil {
		return err
	}
	if image.ID == "" {
		return fmt.Errorf("deleted image has no id")
	}
	return e.KSS.Delete(ctx, ObjectKey(image.ID))
}

func (e *Gallery) removeAllObjects(ctx context.Context, event notify.Event) error {
	if e.KSS == nil {
		return nil
	}
	return e.KSS.DeleteAllWithPrefix(ctx, ObjectKey(""))
}

// ObjectKey is the key of an image in the object storage
func ObjectKey(id string) string {
	return "gallery/" + id
}

func (e *Gallery) expiry() time.Duration {
	if e.Expiry <= 0 {
		return DefaultExpiry
	}
	return e.Expiry
}

var errNoStorage = &backend.HTTPError{Status: http.StatusServiceUnavailable, Message: "object storage is not configured"}

func (e *Gallery) create(w http.ResponseWriter, r *http.Request) {
	if !backend.Authorized(w, r, core.OperationCreate) {
		return
	}
	if e.KSS == nil {
		backend.WriteError(w, r, "4851", errNoStorage)
		return
	}
	body, ok := backend.ReadBody(w, r)
	if !ok {
		return
	}
	var request Image
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(request.Title) == "" {
		http.Error(w, "missing title", http.StatusBadRequest)
		return
	}
	if !strings.HasPrefix(request.ContentType, "image/") {
		http.Error(w, "content_type must be an image type", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	item := map[string]string{
		"title":        request.Title,
		"content_type": request.ContentType,
	}
	if request.Album != "" {
		item["album"] = request.Album
	}
	var image Image
	_, err := e.b.Client(ctx).Collection(Resource).Create(item, &image)
	if err != nil {
		backend.WriteError(w, r, "4852", err)
		return
	}
	uploadURL, err := e.KSS.GetPreSignedURL(ctx, kss.Put, ObjectKey(image.ID), e.expiry())
	if err != nil {
		backend.WriteError(w, r, "4853", err)
		return
	}
	data, _ := json.Marshal(Upload{Image: image, UploadURL: uploadURL})
	backend.WriteJSON(w, http.StatusCreated, data)
}

func (e *Gallery) list(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	collection := e.b.Client(ctx).Collection(Resource)
	if album := r.URL.Query().Get("album"); album != "" {
		collection = collection.WithFilter("album", album)
	}
	items, err := collection.All()
	if err != nil {
		backend.WriteError(w, r, "4854", err)
		return
	}
	// round trip through JSON to drop the properties the gallery does not expose
	data, _ := json.Marshal(items)
	var images []Image
	if err := json.Unmarshal(data, &images); err != nil {
		backend.WriteError(w, r, "4855", err)
		return
	}
	if images == nil {
		images = []Image{}
	}
	if err := e.sign(ctx, images); err != nil {
		backend.WriteError(w, r, "4856", err)
		return
	}
	data, _ = json.Marshal(images)
	backend.WriteJSON(w, http.StatusOK, data)
}

// sign adds pre-signed GET URLs to images
func (e *Gallery) sign(ctx context.Context, images []Image) error {
	if e.KSS == nil {
		return nil
	}
	for i := range images {
		u, err := e.KSS.GetPreSignedURL(ctx, kss.Get, ObjectKey(images[i].ID), e.expiry())
		if err != nil {
			return err
		}
		images[i].URL = u
	}
	return nil
}

func (e *Gallery) delete(w http.ResponseWriter, r *http.Request) {
	if !backend.Authorized(w, r, core.OperationDelete) {
		return
	}
	ctx := r.Context()
	id := mux.Vars(r)["id"]
	// the delete notification removes the stored object
	if _, err := e.b.Client(ctx).Collection(Resource).Item(id).Delete(); err != nil {
		backend.WriteError(w, r, "4857", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
