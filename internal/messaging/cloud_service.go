package messaging

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/BTreeMap/RentBot/internal/models"
)

// DefaultCloudTimeout bounds each Cloud API call.
const DefaultCloudTimeout = 10 * time.Second

var (
	imgSrcRegex = regexp.MustCompile(`<img[^>]*?src="([^"]*)"[^>]*>`)
	imgTagRegex = regexp.MustCompile(`<img[^>]*>`)
	anyTagRegex = regexp.MustCompile(`<[^>]*>`)
)

// CloudOpts holds configuration options for CloudService.
type CloudOpts struct {
	APIURL     string
	Token      string
	HTTPClient *http.Client
}

// CloudOption defines a configuration option for CloudService.
type CloudOption func(*CloudOpts)

// WithCloudAPIURL sets the phone-number endpoint, e.g.
// https://graph.facebook.com/v19.0/<phone-number-id>.
func WithCloudAPIURL(url string) CloudOption {
	return func(o *CloudOpts) { o.APIURL = url }
}

// WithCloudToken sets the bearer token.
func WithCloudToken(token string) CloudOption {
	return func(o *CloudOpts) { o.Token = token }
}

// WithHTTPClient replaces the HTTP client.
func WithHTTPClient(c *http.Client) CloudOption {
	return func(o *CloudOpts) { o.HTTPClient = c }
}

// CloudService implements Service over the WhatsApp Business Cloud API.
// Incoming messages arrive through the Meta webhook, which hands them to
// Deliver.
type CloudService struct {
	apiURL string
	token  string
	http   *http.Client
	inbox  *inbox
}

// NewCloudService builds the service; unset options fall back to
// WHATSAPP_API_URL and WHATSAPP_API_TOKEN.
func NewCloudService(opts ...CloudOption) (*CloudService, error) {
	var cfg CloudOpts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIURL == "" {
		cfg.APIURL = os.Getenv("WHATSAPP_API_URL")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("WHATSAPP_API_TOKEN")
	}
	if cfg.APIURL == "" || cfg.Token == "" {
		return nil, fmt.Errorf("WhatsApp Cloud API URL and token must be provided")
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: DefaultCloudTimeout}
	}
	return &CloudService{
		apiURL: strings.TrimRight(cfg.APIURL, "/"),
		token:  cfg.Token,
		http:   cfg.HTTPClient,
		inbox:  newInbox("CloudService"),
	}, nil
}

// ValidateAndCanonicalizeRecipient returns the digits of a phone number.
func (s *CloudService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

// Start is a no-op; inbound traffic is pushed by the webhook.
func (s *CloudService) Start(ctx context.Context) error {
	return nil
}

// Stop closes Responses.
func (s *CloudService) Stop() error {
	s.inbox.stop()
	return nil
}

// Deliver queues a message received by the webhook.
func (s *CloudService) Deliver(msg models.InboundMessage) error {
	from, err := s.ValidateAndCanonicalizeRecipient(msg.From)
	if err != nil {
		return err
	}
	msg.From = from
	if msg.Time == 0 {
		msg.Time = time.Now().Unix()
	}
	return s.inbox.deliver(msg)
}

// Responses returns incoming messages.
func (s *CloudService) Responses() <-chan models.InboundMessage {
	return s.inbox.responses()
}

// SplitImages turns HTML image tags into "[Image]" markers, strips any
// other markup and returns the image URLs in order.
func SplitImages(body string) (string, []string) {
	matches := imgSrcRegex.FindAllStringSubmatch(body, -1)
	if len(matches) == 0 && !imgTagRegex.MatchString(body) {
		return body, nil
	}
	urls := make([]string, 0, len(matches))
	for _, m := range matches {
		urls = append(urls, m[1])
	}
	text := imgTagRegex.ReplaceAllString(body, "[Image]")
	text = anyTagRegex.ReplaceAllString(text, "")
	return strings.TrimSpace(text), urls
}

// SendMessage sends body as text, followed by one image message per
// embedded <img> tag.
func (s *CloudService) SendMessage(ctx context.Context, to string, body string) error {
	if s.inbox.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("CloudService SendMessage validation failed", "error", err, "to", to)
		return err
	}

	text, images := SplitImages(body)
	if err := s.post(ctx, map[string]any{
		"messaging_product": "whatsapp",
		"recipient_type":    "individual",
		"to":                canonical,
		"type":              "text",
		"text":              map[string]string{"body": text},
	}); err != nil {
		return err
	}
	for _, link := range images {
		if err := s.post(ctx, map[string]any{
			"messaging_product": "whatsapp",
			"recipient_type":    "individual",
			"to":                canonical,
			"type":              "image",
			"image":             map[string]string{"link": link},
		}); err != nil {
			return err
		}
	}
	slog.Debug("CloudService message sent", "to", canonical, "images", len(images))
	return nil
}

func (s *CloudService) post(ctx context.Context, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode cloud message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.apiURL+"/messages", bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to build cloud request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.token)

	resp, err := s.http.Do(req)
	if err != nil {
		slog.Error("CloudService request failed", "error", err)
		return fmt.Errorf("cloud api request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		slog.Error("CloudService API error", "status", resp.StatusCode, "body", string(respBody))
		return fmt.Errorf("cloud api error: %s", resp.Status)
	}
	return nil
}
