package api

import (
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/BTreeMap/RentBot/internal/models"
	"github.com/BTreeMap/RentBot/internal/util"
	"github.com/tidwall/gjson"
)

const (
	// FileUploadedText stands in for an attachment without a caption.
	FileUploadedText = "File uploaded"
	emptyTwiML       = `<?xml version="1.0" encoding="UTF-8"?><Response></Response>`
)

// cloudVerifyHandler answers Meta's subscription handshake.
func (s *Server) cloudVerifyHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode, token, challenge := q.Get("hub.mode"), q.Get("hub.verify_token"), q.Get("hub.challenge")
	if mode == "" || token == "" {
		http.Error(w, "missing verification parameters", http.StatusBadRequest)
		return
	}
	if mode != "subscribe" || s.verifyToken == "" || token != s.verifyToken {
		slog.Warn("Server.cloudVerifyHandler: verification rejected", "mode", mode)
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	slog.Info("WhatsApp Cloud webhook verified")
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, challenge)
}

// cloudWebhookHandler accepts Meta notifications. Only the first message of
// the first change is read; status callbacks carry no messages and are
// acknowledged without action.
func (s *Server) cloudWebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil || !gjson.ValidBytes(body) {
		writeJSONResponse(w, http.StatusBadRequest, models.Error("Invalid JSON format"))
		return
	}
	payload := gjson.ParseBytes(body)
	if payload.Get("object").String() != "whatsapp_business_account" {
		writeJSONResponse(w, http.StatusNotFound, models.Error("Not a WhatsApp Business event"))
		return
	}

	msg, ok := parseCloudMessage(payload.Get("entry.0.changes.0.value.messages.0"))
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}
	if err := s.cloud.Deliver(msg); err != nil {
		slog.Error("Server.cloudWebhookHandler: deliver failed", "error", err, "from", msg.From, "id", msg.ID)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("Message could not be queued"))
		return
	}
	slog.Debug("Server.cloudWebhookHandler: message queued", "from", msg.From, "id", msg.ID)
	w.WriteHeader(http.StatusOK)
}

// parseCloudMessage maps one Cloud API message object to an InboundMessage.
// Text uses its body; image and document messages use their caption.
func parseCloudMessage(m gjson.Result) (models.InboundMessage, bool) {
	if !m.Exists() {
		return models.InboundMessage{}, false
	}
	msg := models.InboundMessage{
		ID:   m.Get("id").String(),
		From: m.Get("from").String(),
		Time: m.Get("timestamp").Int(),
	}
	switch kind := m.Get("type").String(); kind {
	case "text":
		msg.Body = m.Get("text.body").String()
	case "image", "document":
		msg.Body = m.Get(kind + ".caption").String()
		if msg.Body == "" {
			msg.Body = FileUploadedText
		}
	default:
		slog.Debug("Ignoring unsupported Cloud message type", "type", kind)
		return models.InboundMessage{}, false
	}
	if msg.ID == "" {
		msg.ID = util.GenerateMessageID()
	}
	return msg, msg.From != "" && strings.TrimSpace(msg.Body) != ""
}

// twilioWebhookHandler accepts Twilio's form-encoded message callback and
// replies with empty TwiML; the answer goes out through the REST API.
func (s *Server) twilioWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}
	if s.twilioValidator != nil {
		if !s.twilioValidator.Valid(s.requestURL(r), r.PostForm, r.Header.Get("X-Twilio-Signature")) {
			slog.Warn("Server.twilioWebhookHandler: invalid signature", "from", r.PostForm.Get("From"))
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	msg := models.InboundMessage{
		ID:   r.PostForm.Get("MessageSid"),
		From: r.PostForm.Get("From"),
		Body: r.PostForm.Get("Body"),
	}
	if n, _ := strconv.Atoi(r.PostForm.Get("NumMedia")); n > 0 && strings.TrimSpace(msg.Body) == "" {
		msg.Body = FileUploadedText
	}
	if msg.From == "" || strings.TrimSpace(msg.Body) == "" {
		http.Error(w, "missing From or Body", http.StatusBadRequest)
		return
	}
	if msg.ID == "" {
		msg.ID = util.GenerateMessageID()
	}
	if err := s.twilio.Deliver(msg); err != nil {
		slog.Error("Server.twilioWebhookHandler: deliver failed", "error", err, "from", msg.From)
		http.Error(w, "message could not be queued", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/xml")
	w.WriteHeader(http.StatusOK)
	_, _ = io.WriteString(w, emptyTwiML)
}

// requestURL rebuilds the URL Twilio signed. Behind a proxy the public URL
// must be configured.
func (s *Server) requestURL(r *http.Request) string {
	if s.publicURL != "" {
		return strings.TrimRight(s.publicURL, "/") + r.URL.RequestURI()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	return scheme + "://" + r.Host + r.URL.RequestURI()
}
