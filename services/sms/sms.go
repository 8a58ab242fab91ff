// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

/*
Package sms receives text messages from an SMS provider webhook and queues outgoing ones

Incoming messages are kept in the list {prefix}:sms:inbox, outgoing messages in the list
{prefix}:sms:outbox, newest first. Both lists keep the latest 1000 messages. The provider API
itself is not called here: every outgoing message is published as an sms.outbound notification,
and a sender subscribed to the notifications delivers it.

Routes

	POST /api/sms/inbound    provider webhook, form encoded From, To, Body and MessageSid
	GET  /api/sms/messages   messages, ?direction=inbound|outbound&limit=n, admin only
	POST /api/sms/send       queue a message {"to", "body"}, admin only
*/
package sms

import (
	"context"
	"crypto/subtle"
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/homebase/core"
	"github.com/relabs-tech/homebase/core/backend"
	"github.com/relabs-tech/homebase/core/logger"
)

const (
	// MaxMessages is the number of messages kept per direction
	MaxMessages = 1000
	// MaxBodyLength is the maximum length of an outgoing message in characters
	MaxBodyLength = 1600
	// OutboundResource is the resource of the notifications for outgoing messages
	OutboundResource = "sms.outbound"

	defaultLimit = 50
	emptyTwiML   = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// the directions of a message
const (
	Inbound  = "inbound"
	Outbound = "outbound"
)

// the status of a message
const (
	StatusReceived = "received"
	StatusQueued   = "queued"
)

var e164 = regexp.MustCompile(`^\+[1-9][0-9]{1,14}$`)

// Message is a text message
type Message struct {
	ID         string    `json:"id"`
	Direction  string    `json:"direction"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to"`
	Body       string    `json:"body"`
	MessageSid string    `json:"message_sid,omitempty"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"created_at"`
}

// SMS is an extension for text messages
type SMS struct {
	// WebhookToken, if set, must be passed by the provider as ?token=
	WebhookToken string

	b   *backend.Backend
	now func() time.Time
}

// New creates the sms extension. An empty webhookToken accepts all webhook calls.
func New(webhookToken string) *SMS {
	return &SMS{
		WebhookToken: webhookToken,
		now:          time.Now,
	}
}

// GetName returns the name of the extension.
func (e *SMS) GetName() string {
	return "SMS"
}

// UpdateConfig returns the configuration unchanged.
func (e *SMS) UpdateConfig(config backend.Configuration) (backend.Configuration, error) {
	return config, nil
}

// UpdateMux adds the sms routes.
func (e *SMS) UpdateMux(router *mux.Router) error {
	if e.WebhookToken == "" {
		logger.Default().Warnln("sms webhook accepts calls without token")
	}
	router.HandleFunc("/api/sms/inbound", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.inbound(w, r)
	}).Methods(http.MethodPost)

	router.HandleFunc("/api/sms/messages", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.messages(w, r)
	}).Methods(http.MethodOptions, http.MethodGet)

	router.HandleFunc("/api/sms/send", func(w http.ResponseWriter, r *http.Request) {
		logger.FromContext(r.Context()).Infoln("called route for", r.URL, r.Method)
		e.send(w, r)
	}).Methods(http.MethodOptions, http.MethodPost)
	return nil
}

// UpdateBackend keeps the backend for its store and notifications.
func (e *SMS) UpdateBackend(b *backend.Backend) error {
	e.b = b
	return nil
}

func (e *SMS) listKey(direction string) string {
	if direction == Outbound {
		return e.b.Key("sms:outbox")
	}
	return e.b.Key("sms:inbox")
}

func (e *SMS) push(ctx context.Context, message *Message) error {
	data, _ := json.Marshal(message)
	key := e.listKey(message.Direction)
	if err := e.b.Store().LPush(ctx, key, string(data)); err != nil {
		return err
	}
	return e.b.Store().LTrim(ctx, key, 0, MaxMessages-1)
}

// ValidNumber returns true if number is an E.164 phone number
func ValidNumber(number string) bool {
	return e164.MatchString(number)
}

func (e *SMS) inbound(w http.ResponseWriter, r *http.Request) {
	rlog := logger.FromContext(r.Context())
	if e.WebhookToken != "" {
		token := r.URL.Query().Get("token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(e.WebhookToken)) != 1 {
			rlog.Warnln("sms webhook called with invalid token")
			http.Error(w, "not authorized", http.StatusUnauthorized)
			return
		}
	}
	r.Body = http.MaxBytesReader(w, r.Body, 64<<10)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "cannot parse form: "+err.Error(), http.StatusBadRequest)
		return
	}
	message := &Message{
		ID:         uuid.New().String(),
		Direction:  Inbound,
		From:       strings.TrimSpace(r.PostForm.Get("From")),
		To:         strings.TrimSpace(r.PostForm.Get("To")),
		Body:       r.PostForm.Get("Body"),
		MessageSid: r.PostForm.Get("MessageSid"),
		Status:     StatusReceived,
		CreatedAt:  e.now().UTC(),
	}
	if message.From == "" {
		http.Error(w, "missing From", http.StatusBadRequest)
		return
	}
	if err := e.push(r.Context(), message); err != nil {
		backend.WriteError(w, r, "4841", err)
		return
	}
	rlog.Infof("received sms %s from %s", message.MessageSid, message.From)
	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.Write([]byte(emptyTwiML))
}

func (e *SMS) messages(w http.ResponseWriter, r *http.Request) {
	if !backend.Authorized(w, r, core.OperationList) {
		return
	}
	query := r.URL.Query()
	limit := defaultLimit
	if s := query.Get("limit"); s != "" {
		var err error
		limit, err = strconv.Atoi(s)
		if err != nil || limit < 1 || limit > MaxMessages {
			http.Error(w, fmt.Sprintf("parameter 'limit': must be between 1 and %d", MaxMessages), http.StatusBadRequest)
			return
		}
	}
	var directions []string
	switch direction := query.Get("direction"); direction {
	case "":
		directions = []string{Inbound, Outbound}
	case Inbound, Outbound:
		directions = []string{direction}
	default:
		http.Error(w, "parameter 'direction': must be inbound or outbound", http.StatusBadRequest)
		return
	}

	messages := []Message{}
	for _, direction := range directions {
		entries, err := e.b.Store().LRange(r.Context(), e.listKey(direction), 0, int64(limit-1))
		if err != nil {
			backend.WriteError(w, r, "4842", err)
			return
		}
		for _, entry := range entries {
			var message Message
			if err := json.Unmarshal([]byte(entry), &message); err != nil {
				continue
			}
			messages = append(messages, message)
		}
	}
	sort.SliceStable(messages, func(i, j int) bool {
		return messages[i].CreatedAt.After(messages[j].CreatedAt)
	})
	if len(messages) > limit {
		messages = messages[:limit]
	}
	data, _ := json.Marshal(messages)
	backend.WriteJSON(w, http.StatusOK, data)
}

func (e *SMS) send(w http.ResponseWriter, r *http.Request) {
	if !backend.Authorized(w, r, core.OperationCreate) {
		return
	}
	body, ok := backend.ReadBody(w, r)
	if !ok {
		return
	}
	var request struct {
		To   string `json:"to"`
		Body string `json:"body"`
	}
	if err := json.Unmarshal(body, &request); err != nil {
		http.Error(w, "invalid json body: "+err.Error(), http.StatusBadRequest)
		return
	}
	if !ValidNumber(request.To) {
		http.Error(w, "invalid number, must be E.164 like +4915112345678", http.StatusBadRequest)
		return
	}
	if n := utf8.RuneCountInString(request.Body); n < 1 || n > MaxBodyLength {
		http.Error(w, fmt.Sprintf("invalid body, must have 1 to %d characters", MaxBodyLength), http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	message := &Message{
		ID:        uuid.New().String(),
		Direction: Outbound,
		To:        request.To,
		Body:      request.Body,
		Status:    StatusQueued,
		CreatedAt: e.now().UTC(),
	}
	if err := e.push(ctx, message); err != nil {
		backend.WriteError(w, r, "4843", err)
		return
	}
	data, _ := json.Marshal(message)
	e.b.Notify(ctx, OutboundResource, core.OperationCreate, data)
	backend.WriteJSON(w, http.StatusCreated, data)
}
