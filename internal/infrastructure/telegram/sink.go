package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/ports"
)

// Sink delivers formatted posts to the destination channel via the bot API.
type Sink struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.DestinationFeed = (*Sink)(nil)

// NewSink registers bot token and destination chat identifier.
func NewSink(botToken, chatID string) *Sink {
	return &Sink{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

// Send posts the text (with the first photo as attachment when present) and
// returns the destination reference "chatID/messageID".
func (s *Sink) Send(ctx context.Context, text string, media []domain.MediaRef) (string, error) {
	if s.botToken == "" || s.chatID == "" {
		return "", &domain.PublishError{Err: fmt.Errorf("telegram sink misconfigured")}
	}

	method := "sendMessage"
	form := url.Values{}
	form.Set("chat_id", s.chatID)
	form.Set("parse_mode", "HTML")

	if len(media) > 0 && media[0].Kind == "photo" {
		method = "sendPhoto"
		form.Set("photo", media[0].Ref)
		form.Set("caption", text)
	} else {
		form.Set("text", text)
	}

	endpoint := fmt.Sprintf("%s/bot%s/%s", s.apiBase, s.botToken, method)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", &domain.PublishError{Err: fmt.Errorf("new request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", &domain.PublishError{Err: fmt.Errorf("do request: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", &domain.PublishError{Err: fmt.Errorf("telegram error: %s", resp.Status)}
	}

	var parsed struct {
		OK     bool `json:"ok"`
		Result struct {
			MessageID int64 `json:"message_id"`
		} `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "", &domain.PublishError{Err: fmt.Errorf("decode response: %w", err)}
	}
	if !parsed.OK {
		return "", &domain.PublishError{Err: fmt.Errorf("telegram rejected the message")}
	}

	return fmt.Sprintf("%s/%d", s.chatID, parsed.Result.MessageID), nil
}

// Notifier posts plain alerts to the moderator chat.
type Notifier struct {
	botToken string
	chatID   string
	apiBase  string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and moderator chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		botToken: botToken,
		chatID:   chatID,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify sends a plain-text message to the moderator chat.
func (n *Notifier) Notify(ctx context.Context, message string) error {
	if n.botToken == "" || n.chatID == "" {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", message)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram error: %s", resp.Status)
	}

	return nil
}
