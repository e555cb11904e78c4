package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/ports"
)

// Source polls channel posts for every monitored channel of one bot token
// via getUpdates. Telegram keeps a single update queue per token and
// confirming an offset acknowledges updates globally, so the token gets
// exactly one poller that dispatches posts to the configured channels.
type Source struct {
	name     string
	botToken string
	channels map[int64]struct{}
	apiBase  string
	client   *http.Client
	offset   int64
}

var _ ports.SourceFeed = (*Source)(nil)

// NewSource builds the shared poller for a bot token and its channels.
func NewSource(name, botToken string, channelIDs ...int64) *Source {
	channels := make(map[int64]struct{}, len(channelIDs))
	for _, id := range channelIDs {
		channels[id] = struct{}{}
	}
	return &Source{
		name:     name,
		botToken: botToken,
		channels: channels,
		apiBase:  defaultAPIBase,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

// Name identifies the source inside the registry.
func (s *Source) Name() string {
	return s.name
}

type update struct {
	UpdateID    int64 `json:"update_id"`
	ChannelPost *struct {
		MessageID int64 `json:"message_id"`
		Date      int64 `json:"date"`
		Chat      struct {
			ID int64 `json:"id"`
		} `json:"chat"`
		Text    string `json:"text"`
		Caption string `json:"caption"`
		Photo   []struct {
			FileID string `json:"file_id"`
		} `json:"photo"`
	} `json:"channel_post"`
}

// Fetch returns the channel posts that arrived since the previous poll.
func (s *Source) Fetch(ctx context.Context) ([]domain.SourceMessage, error) {
	if s.botToken == "" {
		return nil, fmt.Errorf("telegram source misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/getUpdates", s.apiBase, s.botToken)
	form := url.Values{}
	form.Set("offset", strconv.FormatInt(s.offset, 10))
	form.Set("allowed_updates", `["channel_post"]`)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+form.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("new request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("telegram error: %s", resp.Status)
	}

	var parsed struct {
		OK     bool     `json:"ok"`
		Result []update `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if !parsed.OK {
		return nil, fmt.Errorf("telegram rejected getUpdates")
	}

	var messages []domain.SourceMessage
	for _, u := range parsed.Result {
		if u.UpdateID >= s.offset {
			s.offset = u.UpdateID + 1
		}

		post := u.ChannelPost
		if post == nil {
			continue
		}
		if _, ok := s.channels[post.Chat.ID]; !ok {
			continue
		}

		text := post.Text
		if text == "" {
			text = post.Caption
		}

		var media []domain.MediaRef
		if len(post.Photo) > 0 {
			// the last size is the largest rendition
			media = append(media, domain.MediaRef{Kind: "photo", Ref: post.Photo[len(post.Photo)-1].FileID})
		}

		messages = append(messages, domain.SourceMessage{
			Source: domain.SourceRef{
				ChannelID: post.Chat.ID,
				MessageID: post.MessageID,
				Permalink: channelPermalink(post.Chat.ID, post.MessageID),
			},
			Text:     text,
			Media:    media,
			PostedAt: time.Unix(post.Date, 0).UTC(),
		})
	}

	return messages, nil
}
