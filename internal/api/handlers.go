package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JimiYounger/connect-sub001/internal/model"
	"github.com/JimiYounger/connect-sub001/internal/recipient"
	"github.com/JimiYounger/connect-sub001/internal/repo"
	"github.com/JimiYounger/connect-sub001/internal/scheduler"
	"github.com/JimiYounger/connect-sub001/internal/segment"
	"github.com/JimiYounger/connect-sub001/internal/service"
	"github.com/JimiYounger/connect-sub001/internal/template"
)

const maxBodyBytes = 1 << 20

type Deps struct {
	Orchestrator *service.Orchestrator
	Bulk         *service.BulkSender
	Reconciler   *service.Reconciler
	Resolver     *recipient.Resolver
	Messages     repo.MessageRepository
	Bulks        repo.BulkRepository
	Preferences  repo.PreferenceRepository
	Sweeper      *scheduler.Job

	// BaseContext parents background work started over HTTP, such as the
	// sweeper. It must outlive individual requests.
	BaseContext     context.Context
	PricePerSegment int64
	Logger          *slog.Logger
}

type Handler struct {
	Deps
	validator *recipient.Validator
}

func NewHandler(d Deps) *Handler {
	if d.BaseContext == nil {
		d.BaseContext = context.Background()
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Handler{
		Deps:      d,
		validator: recipient.NewValidator(d.Resolver, recipient.PhoneFirst),
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

type sendMessageRequest struct {
	Content           string             `json:"content"`
	RecipientID       string             `json:"recipientId"`
	SenderID          string             `json:"senderId"`
	TemplateVariables map[string]*string `json:"templateVariables"`
}

type sendMessageResponse struct {
	Success   bool   `json:"success"`
	MessageID string `json:"messageId,omitempty"`
	CarrierID string `json:"carrierId,omitempty"`
	Segments  int    `json:"segments,omitempty"`
	Error     string `json:"error,omitempty"`
}

func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	var req sendMessageRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RecipientID == "" || req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "recipientId and senderId are required")
		return
	}

	res := h.Orchestrator.Send(r.Context(), service.SendRequest{
		Content:           req.Content,
		RecipientID:       req.RecipientID,
		SenderID:          req.SenderID,
		TemplateVariables: req.TemplateVariables,
	})
	writeJSON(w, sendStatus(res), toSendResponse(res))
}

func (h *Handler) RetryMessage(w http.ResponseWriter, r *http.Request) {
	res := h.Orchestrator.Retry(r.Context(), chi.URLParam(r, "id"))
	writeJSON(w, sendStatus(res), toSendResponse(res))
}

func sendStatus(res service.SendResult) int {
	if res.Err == nil {
		return http.StatusCreated
	}
	return statusFor(res.Err)
}

func toSendResponse(res service.SendResult) sendMessageResponse {
	out := sendMessageResponse{
		Success:   res.Success,
		MessageID: res.MessageID,
		CarrierID: res.CarrierID,
		Segments:  res.Segments,
	}
	if res.Err != nil {
		out.Error = res.Err.Error()
	}
	return out
}

type bulkRequest struct {
	Content           string                   `json:"content"`
	SenderID          string                   `json:"senderId"`
	TemplateVariables map[string]*string       `json:"templateVariables"`
	RecipientIDs      []string                 `json:"recipientIds"`
	Filter            model.OrganizationFilter `json:"filter"`
	FilterMode        string                   `json:"filterMode"`
}

type bulkResponse struct {
	service.BulkResult
	Invalid []recipient.InvalidRecipient `json:"invalid,omitempty"`
	Unknown []string                     `json:"unknownRecipientIds,omitempty"`
}

// SendBulk resolves the audience from explicit ids or an organizational
// filter, drops unsendable recipients and fans the message out to the rest.
func (h *Handler) SendBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.SenderID == "" {
		writeError(w, http.StatusBadRequest, "senderId is required")
		return
	}

	var (
		recs []model.Recipient
		resp bulkResponse
	)
	if len(req.RecipientIDs) > 0 {
		found, unknown, err := h.Resolver.GetRecipientsByIDs(r.Context(), req.RecipientIDs)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		resp.Unknown = unknown
		recs, resp.Invalid = h.validator.ValidateRecipients(r.Context(), found)
	} else {
		mode, err := recipient.ParseFilterMode(req.FilterMode)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		page, err := h.Resolver.GetRecipientsByFilter(r.Context(), req.Filter, mode, 0, 0)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		recs = page.Recipients
	}

	if len(recs) == 0 {
		resp.Results = []service.RecipientResult{}
		resp.Message = service.ErrNoRecipients.Error()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}

	res, err := h.Bulk.Send(r.Context(), service.BulkRequest{
		Content:           req.Content,
		TemplateVariables: req.TemplateVariables,
		Recipients:        recs,
		SenderID:          req.SenderID,
	})
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	resp.BulkResult = res

	status := http.StatusOK
	if !res.Success {
		status = http.StatusBadGateway
	}
	writeJSON(w, status, resp)
}

func (h *Handler) GetMessage(w http.ResponseWriter, r *http.Request) {
	m, err := h.Messages.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *Handler) GetBulk(w http.ResponseWriter, r *http.Request) {
	b, err := h.Bulks.GetBulk(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, b)
}

type readRequest struct {
	ReaderID    string `json:"readerId"`
	OtherUserID string `json:"otherUserId"`
}

func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReaderID == "" {
		writeError(w, http.StatusBadRequest, "readerId is required")
		return
	}

	changed, err := h.Reconciler.MarkRead(r.Context(), req.ReaderID, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": changed})
}

func (h *Handler) MarkConversationRead(w http.ResponseWriter, r *http.Request) {
	var req readRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ReaderID == "" || req.OtherUserID == "" {
		writeError(w, http.StatusBadRequest, "readerId and otherUserId are required")
		return
	}

	n, err := h.Reconciler.MarkConversationRead(r.Context(), req.ReaderID, req.OtherUserID)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"updated": n})
}

func (h *Handler) ListConversation(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	a, b := q.Get("userA"), q.Get("userB")
	if a == "" || b == "" {
		writeError(w, http.StatusBadRequest, "userA and userB are required")
		return
	}

	items, err := h.Messages.ListConversation(r.Context(), a, b, parseInt(q.Get("limit"), 50), parseInt(q.Get("offset"), 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (h *Handler) ListUserMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	items, err := h.Messages.ListForUser(r.Context(), chi.URLParam(r, "userId"), parseInt(q.Get("limit"), 50), parseInt(q.Get("offset"), 0))
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": nonNil(items)})
}

func (h *Handler) GetPreference(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "recipientId")
	p, err := h.Preferences.GetPreference(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if p == nil {
		writeJSON(w, http.StatusOK, model.Preference{RecipientID: id})
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type preferenceRequest struct {
	OptedOut *bool  `json:"optedOut"`
	Reason   string `json:"reason"`
}

func (h *Handler) SetPreference(w http.ResponseWriter, r *http.Request) {
	var req preferenceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.OptedOut == nil {
		writeError(w, http.StatusBadRequest, "optedOut is required")
		return
	}

	p, err := h.Resolver.SetOptOut(r.Context(), chi.URLParam(r, "recipientId"), *req.OptedOut, req.Reason)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type searchRequest struct {
	Filter     model.OrganizationFilter `json:"filter"`
	FilterMode string                   `json:"filterMode"`
	Limit      int                      `json:"limit"`
	Offset     int                      `json:"offset"`
}

func (h *Handler) SearchRecipients(w http.ResponseWriter, r *http.Request) {
	var req searchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	mode, err := recipient.ParseFilterMode(req.FilterMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit <= 0 {
		req.Limit = 50
	}

	page, err := h.Resolver.GetRecipientsByFilter(r.Context(), req.Filter, mode, req.Limit, req.Offset)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *Handler) ValidateRecipients(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RecipientIDs []string `json:"recipientIds"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	found, unknown, err := h.Resolver.GetRecipientsByIDs(r.Context(), req.RecipientIDs)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	valid, invalid := h.validator.ValidateRecipients(r.Context(), found)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":               valid,
		"invalid":             nonNil(invalid),
		"unknownRecipientIds": nonNil(unknown),
	})
}

type segmentsRequest struct {
	Content           string             `json:"content"`
	RecipientID       string             `json:"recipientId"`
	TemplateVariables map[string]*string `json:"templateVariables"`
}

// Segments previews the segmentation and cost of a body, personalized for
// a recipient when one is given.
func (h *Handler) Segments(w http.ResponseWriter, r *http.Request) {
	var req segmentsRequest
	if !decodeBody(w, r, &req) {
		return
	}

	body := req.Content
	if req.RecipientID != "" {
		rec, err := h.Resolver.Lookup(r.Context(), req.RecipientID)
		if err != nil {
			writeError(w, statusFor(err), err.Error())
			return
		}
		if rec == nil {
			writeError(w, http.StatusNotFound, service.ErrRecipientNotFound.Error())
			return
		}
		body = template.Render(body, *rec, req.TemplateVariables)
	}

	info := segment.Calculate(body)
	writeJSON(w, http.StatusOK, map[string]any{
		"segment":      info,
		"placeholders": nonNil(template.Placeholders(req.Content)),
		"cost":         info.Cost(h.PricePerSegment),
	})
}

type statusCallback struct {
	CarrierMessageID string `json:"carrierMessageId"`
	Status           string `json:"status"`
	ErrorCode        string `json:"errorCode"`
	ErrorMessage     string `json:"errorMessage"`
}

// CarrierStatus accepts delivery reports as JSON or as form fields in the
// MessageSid/MessageStatus convention.
func (h *Handler) CarrierStatus(w http.ResponseWriter, r *http.Request) {
	var cb service.Callback
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		cb = service.Callback{
			CarrierMessageID: r.PostForm.Get("MessageSid"),
			Status:           r.PostForm.Get("MessageStatus"),
			ErrorCode:        r.PostForm.Get("ErrorCode"),
			ErrorMessage:     r.PostForm.Get("ErrorMessage"),
		}
	} else {
		var req statusCallback
		if !decodeBody(w, r, &req) {
			return
		}
		cb = service.Callback(req)
	}

	out, err := h.Reconciler.Apply(r.Context(), cb)
	if err != nil {
		writeError(w, statusFor(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, out)
}

type inboundRequest struct {
	From             string `json:"from"`
	Body             string `json:"body"`
	CarrierMessageID string `json:"carrierMessageId"`
}

// CarrierInbound records a reply. Replies that cannot be attributed are
// acknowledged anyway so the carrier does not redeliver them.
func (h *Handler) CarrierInbound(w http.ResponseWriter, r *http.Request) {
	var in service.InboundSMS
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		in = service.InboundSMS{
			From:             r.PostForm.Get("From"),
			Body:             r.PostForm.Get("Body"),
			CarrierMessageID: r.PostForm.Get("MessageSid"),
		}
	} else {
		var req inboundRequest
		if !decodeBody(w, r, &req) {
			return
		}
		in = service.InboundSMS(req)
	}
	if strings.TrimSpace(in.From) == "" {
		writeError(w, http.StatusBadRequest, "from is required")
		return
	}

	msg, err := h.Reconciler.RecordInbound(r.Context(), in)
	switch {
	case errors.Is(err, service.ErrUnknownSender), errors.Is(err, service.ErrNoConversation):
		h.Logger.Info("inbound message ignored", "from", in.From, "reason", err.Error())
		writeJSON(w, http.StatusOK, map[string]any{"recorded": false, "reason": err.Error()})
	case err != nil:
		writeError(w, statusFor(err), err.Error())
	default:
		writeJSON(w, http.StatusOK, map[string]any{"recorded": true, "messageId": msg.ID})
	}
}

func (h *Handler) SweeperStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"running": h.Sweeper.IsRunning()})
}

func (h *Handler) SweeperStart(w http.ResponseWriter, r *http.Request) {
	h.Sweeper.Start(h.BaseContext)
	writeJSON(w, http.StatusOK, map[string]any{"running": h.Sweeper.IsRunning()})
}

func (h *Handler) SweeperStop(w http.ResponseWriter, r *http.Request) {
	h.Sweeper.Stop()
	writeJSON(w, http.StatusOK, map[string]any{"running": h.Sweeper.IsRunning()})
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	var gwErr *service.GatewayError
	switch {
	case errors.As(err, &gwErr):
		return http.StatusBadGateway
	case errors.Is(err, service.ErrRecipientNotFound),
		errors.Is(err, service.ErrMessageNotFound),
		errors.Is(err, repo.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrRecipientOptedOut),
		errors.Is(err, service.ErrNotRetryable):
		return http.StatusConflict
	case errors.Is(err, service.ErrMissingPhoneNumber),
		errors.Is(err, service.ErrContentOverLimit),
		errors.Is(err, service.ErrEmptyContent),
		errors.Is(err, service.ErrNoRecipients),
		errors.Is(err, service.ErrUnknownStatus),
		errors.Is(err, service.ErrInvalidCallback),
		errors.Is(err, service.ErrUnknownSender),
		errors.Is(err, service.ErrNoConversation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, recipient.ErrDirectoryQueryFailed),
		errors.Is(err, recipient.ErrPreferenceLookupFailed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func isForm(r *http.Request) bool {
	mt, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	return mt == "application/x-www-form-urlencoded" || mt == "multipart/form-data"
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid json body: %v", err))
		return false
	}
	return true
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

func parseInt(raw string, def int) int {
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
