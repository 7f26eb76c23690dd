package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/sujalsin/enterprisebridge/internal/coreerrors"
	"github.com/sujalsin/enterprisebridge/internal/handler"
	"github.com/sujalsin/enterprisebridge/internal/models"
)

// newRouter binds §6's four core operations onto HTTP as a thin adapter;
// it holds no business logic of its own, only request parsing and the
// sentinel-error-to-status mapping in writeCoreError.
func newRouter(core handler.Core, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger, middleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Get("/v1/messages", listMessagesHandler(core, log))
	r.Get("/v1/messages/{uid}", getMessageHandler(core, log))
	r.Post("/v1/messages/send", sendMessageHandler(core, log))
	r.Get("/v1/pool/stats", poolStatsHandler(core, log))

	return r
}

func listMessagesHandler(core handler.Core, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		inboxID := q.Get("inbox_id")
		if inboxID == "" {
			http.Error(w, "inbox_id query parameter is required", http.StatusBadRequest)
			return
		}
		limit, _ := strconv.Atoi(q.Get("limit"))
		cursor := q.Get("cursor")

		result, err := core.ListMessages(r.Context(), inboxID, limit, cursor)
		if err != nil {
			writeCoreError(w, log, "list_messages", err)
			return
		}
		writeJSON(w, log, struct {
			Messages   []models.TransformedMessage `json:"messages"`
			NextCursor string                       `json:"next_cursor,omitempty"`
		}{Messages: result.Messages, NextCursor: result.NextCursor})
	}
}

func getMessageHandler(core handler.Core, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inboxID := r.URL.Query().Get("inbox_id")
		if inboxID == "" {
			http.Error(w, "inbox_id query parameter is required", http.StatusBadRequest)
			return
		}
		uid64, err := strconv.ParseUint(chi.URLParam(r, "uid"), 10, 32)
		if err != nil {
			http.Error(w, "uid path parameter must be a positive integer", http.StatusBadRequest)
			return
		}

		msg, err := core.GetMessage(r.Context(), inboxID, uint32(uid64))
		if err != nil {
			writeCoreError(w, log, "get_message", err)
			return
		}
		writeJSON(w, log, msg)
	}
}

type sendMessageRequest struct {
	InboxID string            `json:"inbox_id"`
	To      []string          `json:"to"`
	CC      []string          `json:"cc,omitempty"`
	BCC     []string          `json:"bcc,omitempty"`
	Subject string            `json:"subject"`
	Body    string            `json:"body"`
	Headers map[string]string `json:"headers,omitempty"`
}

func sendMessageHandler(core handler.Core, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sendMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if req.InboxID == "" || len(req.To) == 0 {
			http.Error(w, "inbox_id and to are required", http.StatusBadRequest)
			return
		}

		msgID, err := core.SendMessage(r.Context(), req.InboxID, models.OutgoingMessage{
			To:      req.To,
			CC:      req.CC,
			BCC:     req.BCC,
			Subject: req.Subject,
			Body:    req.Body,
			Headers: req.Headers,
		})
		if err != nil {
			writeCoreError(w, log, "send_message", err)
			return
		}
		writeJSON(w, log, struct {
			MessageID string `json:"message_id"`
		}{MessageID: msgID})
	}
}

func poolStatsHandler(core handler.Core, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		inboxID := r.URL.Query().Get("inbox_id")

		stats, err := core.PoolStats(r.Context(), inboxID)
		if err != nil {
			writeCoreError(w, log, "pool_stats", err)
			return
		}
		writeJSON(w, log, struct {
			Hits     int64 `json:"hits"`
			Misses   int64 `json:"misses"`
			LiveIMAP int   `json:"live_imap"`
			LiveSMTP int   `json:"live_smtp"`
		}{Hits: stats.Hits, Misses: stats.Misses, LiveIMAP: stats.LiveIMAP, LiveSMTP: stats.LiveSMTP})
	}
}

// writeJSON buffers the encoded response so a mid-write encoding failure
// never leaves a half-written body on the wire.
func writeJSON(w http.ResponseWriter, log zerolog.Logger, data interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		log.Error().Err(err).Msg("response_encode_failed")
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(buf.Bytes()); err != nil {
		log.Warn().Err(err).Msg("response_write_failed")
	}
}

// writeCoreError maps the sentinel errors coreerrors defines to HTTP status
// codes (§6: "Core-exposed operations" — the core itself stays transport-
// agnostic and never does this mapping).
func writeCoreError(w http.ResponseWriter, log zerolog.Logger, op string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, coreerrors.ErrNotFound), errors.Is(err, coreerrors.ErrMissing):
		status = http.StatusNotFound
	case errors.Is(err, coreerrors.ErrCredentialExpired), errors.Is(err, coreerrors.ErrUpstreamAuthFailed):
		status = http.StatusUnauthorized
	case errors.Is(err, coreerrors.ErrUpstreamUnavailable), errors.Is(err, coreerrors.ErrStoreUnavailable):
		status = http.StatusBadGateway
	case errors.Is(err, coreerrors.ErrDeadlineExceeded):
		status = http.StatusGatewayTimeout
	case errors.Is(err, coreerrors.ErrUpstreamProtocolError), errors.Is(err, coreerrors.ErrAlreadyExists):
		status = http.StatusBadRequest
	}
	log.Error().Err(err).Str("op", op).Int("status", status).Msg("core_operation_failed")
	http.Error(w, err.Error(), status)
}
