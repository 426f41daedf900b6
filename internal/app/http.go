package app

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"wafleet/internal/dispatch"
	"wafleet/internal/recipient"
	"wafleet/internal/route"
	"wafleet/internal/session"
)

// maxBodyBytes bounds one inbound request. The largest legal payload is
// a 100 MiB document, which grows by 4/3 in base64, plus JSON overhead.
const maxBodyBytes = 144 << 20

// handler is the bot daemon's HTTP surface.
type handler struct {
	bot     string
	disp    *dispatch.Service
	machine *session.Machine
	monitor *session.Monitor
	log     *slog.Logger
}

func (h *handler) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /send", h.handleSend)
	mux.HandleFunc("GET /status", h.handleStatus)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// sendPayload carries the message parts of a send request. Recipient
// fields are decoded separately by recipient.RawRequest, which accepts
// the legacy key spellings.
type sendPayload struct {
	Message    string             `json:"message"`
	Attachment *attachmentPayload `json:"attachment"`
}

type attachmentPayload struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64
	Filename string `json:"filename"`
}

type errorReply struct {
	Success   bool   `json:"success"`
	Error     string `json:"error"`
	State     string `json:"state,omitempty"`
	RequestID string `json:"requestId,omitempty"`
}

func (h *handler) handleSend(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "reading request body: " + err.Error()})
		return
	}

	// The body is decoded twice: once for the recipient fields (legacy
	// spellings, string-or-array shapes) and once for the message parts.
	var raw recipient.RawRequest
	if err := json.Unmarshal(body, &raw); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid JSON: " + err.Error()})
		return
	}
	var p sendPayload
	if err := json.Unmarshal(body, &p); err != nil {
		writeJSON(w, http.StatusBadRequest, errorReply{Error: "invalid JSON: " + err.Error()})
		return
	}

	req := dispatch.Request{Raw: raw, Body: p.Message}
	if p.Attachment != nil {
		data, err := base64.StdEncoding.DecodeString(p.Attachment.Data)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorReply{Error: "attachment.data is not valid base64"})
			return
		}
		req.Attachment = &route.Attachment{
			MimeType: p.Attachment.MimeType,
			Data:     data,
			Filename: p.Attachment.Filename,
			Size:     int64(len(data)),
		}
	}

	rep, err := h.disp.Send(r.Context(), req)
	if err != nil {
		var nre *session.NotReadyError
		switch {
		case errors.As(err, &nre):
			writeJSON(w, http.StatusServiceUnavailable, errorReply{
				Error:     err.Error(),
				State:     string(nre.State),
				RequestID: rep.RequestID,
			})
		default:
			// Pre-send rejections: empty recipient set, oversize or
			// unroutable payloads.
			writeJSON(w, http.StatusBadRequest, errorReply{
				Error:     err.Error(),
				RequestID: rep.RequestID,
			})
		}
		return
	}

	writeJSON(w, rep.Status.HTTPStatus(), rep)
}

// statusReply is the daemon's diagnostics document.
type statusReply struct {
	Bot      string               `json:"bot"`
	Current  session.Snapshot     `json:"current"`
	History  []session.Transition `json:"history"`
	Recovery recoveryReply        `json:"recovery"`
}

type recoveryReply struct {
	Remaining int        `json:"remaining"`
	ResetAt   *time.Time `json:"resetAt,omitempty"`
}

func (h *handler) handleStatus(w http.ResponseWriter, _ *http.Request) {
	rec := recoveryReply{Remaining: h.monitor.Budget().Remaining()}
	if at := h.monitor.Budget().ResetAt(); !at.IsZero() {
		rec.ResetAt = &at
	}
	writeJSON(w, http.StatusOK, statusReply{
		Bot:      h.bot,
		Current:  h.machine.Current(),
		History:  h.machine.History(),
		Recovery: rec,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
