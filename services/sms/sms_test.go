// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package sms

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/client"
	"github.com/relabs-tech/homebase/core/kv"
	"github.com/relabs-tech/homebase/core/notify"
)

type testService struct {
	router    *mux.Router
	store     kv.Store
	admin     client.Client
	anonymous client.Client

	mutex    sync.Mutex
	outgoing []Message
	clock    time.Time
}

func newTestService(t *testing.T, token string) *testService {
	s := &testService{
		router: mux.NewRouter(),
		store:  kv.NewMemory(),
		clock:  time.Date(2021, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	handlers := notify.NewHandlers()
	handlers.RequestNotifications(func(ctx context.Context, event notify.Event) error {
		var message Message
		if err := json.Unmarshal(event.Payload, &message); err != nil {
			return err
		}
		s.mutex.Lock()
		defer s.mutex.Unlock()
		s.outgoing = append(s.outgoing, message)
		return nil
	}, notify.Request{Resource: OutboundResource, Operations: []core.Operation{core.OperationCreate}})

	extension := New(token)
	// every message is one minute younger than the one before
	extension.now = func() time.Time {
		s.clock = s.clock.Add(time.Minute)
		return s.clock
	}
	backend.New(&backend.Builder{
		Config:     `{}`,
		Store:      s.store,
		Router:     s.router,
		Notifier:   handlers,
		Extensions: []backend.KExtension{extension},
	})
	s.admin = client.NewWithRouter(s.router).WithAdminAuthorization()
	s.anonymous = client.NewWithRouter(s.router)
	return s
}

func (s *testService) webhook(query string, form url.Values) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/api/sms/inbound"+query, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, r)
	return w
}

func TestValidNumber(t *testing.T) {
	assert.True(t, ValidNumber("+4915112345678"))
	assert.True(t, ValidNumber("+12"))
	assert.False(t, ValidNumber("004915112345678"))
	assert.False(t, ValidNumber("+0151"))
	assert.False(t, ValidNumber("+1234567890123456"))
	assert.False(t, ValidNumber("+49 151 1234"))
}

func TestInbound(t *testing.T) {
	s := newTestService(t, "secret")
	form := url.Values{
		"From":       {"+4915112345678"},
		"To":         {"+4930123456"},
		"Body":       {"Hello there"},
		"MessageSid": {"SM123"},
	}

	assert.Equal(t, http.StatusUnauthorized, s.webhook("", form).Code)
	assert.Equal(t, http.StatusUnauthorized, s.webhook("?token=wrong", form).Code)

	w := s.webhook("?token=secret", form)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, emptyTwiML, w.Body.String())
	assert.Contains(t, w.Header().Get("Content-Type"), "text/xml")

	assert.Equal(t, http.StatusBadRequest, s.webhook("?token=secret", url.Values{"Body": {"anonymous"}}).Code)

	var messages []Message
	_, err := s.admin.RawGet("/api/sms/messages?direction=inbound", &messages)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, "+4915112345678", messages[0].From)
	assert.Equal(t, "Hello there", messages[0].Body)
	assert.Equal(t, "SM123", messages[0].MessageSid)
	assert.Equal(t, StatusReceived, messages[0].Status)

	status, _ := s.anonymous.RawGet("/api/sms/messages", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestInboxIsTrimmed(t *testing.T) {
	s := newTestService(t, "")
	for i := 0; i < MaxMessages+3; i++ {
		require.Equal(t, http.StatusOK, s.webhook("", url.Values{"From": {"+12"}, "Body": {"x"}}).Code)
	}
	entries, err := s.store.LRange(context.Background(), "homebase:sms:inbox", 0, -1)
	require.NoError(t, err)
	assert.Len(t, entries, MaxMessages)
}

func TestSend(t *testing.T) {
	s := newTestService(t, "")

	var sent Message
	_, err := s.admin.RawPost("/api/sms/send", map[string]string{"to": "+4915112345678", "body": "See you at 8"}, &sent)
	require.NoError(t, err)
	assert.Equal(t, Outbound, sent.Direction)
	assert.Equal(t, StatusQueued, sent.Status)
	assert.NotEmpty(t, sent.ID)

	require.Len(t, s.outgoing, 1)
	assert.Equal(t, sent.ID, s.outgoing[0].ID)
	assert.Equal(t, "See you at 8", s.outgoing[0].Body)

	for _, body := range []map[string]string{
		{"to": "015112345678", "body": "no country code"},
		{"to": "+4915112345678", "body": ""},
		{"to": "+4915112345678", "body": strings.Repeat("ü", MaxBodyLength+1)},
	} {
		status, err := s.admin.RawPost("/api/sms/send", body, nil)
		assert.Error(t, err)
		assert.Equal(t, http.StatusBadRequest, status)
	}
	_, err = s.admin.RawPost("/api/sms/send", map[string]string{"to": "+4915112345678", "body": strings.Repeat("ü", MaxBodyLength)}, nil)
	require.NoError(t, err)

	status, err := s.anonymous.RawPost("/api/sms/send", map[string]string{"to": "+4915112345678", "body": "hi"}, nil)
	assert.Error(t, err)
	assert.Equal(t, http.StatusUnauthorized, status)
	assert.Len(t, s.outgoing, 2)

	// an inbound message after the two outgoing ones is the newest of all
	require.Equal(t, http.StatusOK, s.webhook("", url.Values{"From": {"+12"}, "Body": {"reply"}}).Code)
	var messages []Message
	_, err = s.admin.RawGet("/api/sms/messages", &messages)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "reply", messages[0].Body)
	assert.Equal(t, Inbound, messages[0].Direction)
	assert.Equal(t, "See you at 8", messages[2].Body)

	messages = nil
	_, err = s.admin.RawGet("/api/sms/messages?limit=1&direction=outbound", &messages)
	require.NoError(t, err)
	require.Len(t, messages, 1)
	assert.Equal(t, Outbound, messages[0].Direction)

	status, _ = s.admin.RawGet("/api/sms/messages?direction=sideways", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}
