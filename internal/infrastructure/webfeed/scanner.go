package webfeed

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"FeedCurator/internal/domain"
	"FeedCurator/internal/ports"
)

// Scanner pulls posts from an HTML listing page. Each entry is expected as
// an <article> with a data-post-id attribute, body text under .post-body,
// and optional <img> attachments.
type Scanner struct {
	name      string
	pageURL   string
	channelID int64
	client    *http.Client
	logger    *slog.Logger
}

var _ ports.SourceFeed = (*Scanner)(nil)

// NewScanner wires an HTTP client; a nil client gets a 20s-timeout default.
func NewScanner(name, pageURL string, channelID int64, client *http.Client, logger *slog.Logger) *Scanner {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		name:      name,
		pageURL:   pageURL,
		channelID: channelID,
		client:    client,
		logger:    logger,
	}
}

// Name identifies the source inside the registry.
func (s *Scanner) Name() string {
	return s.name
}

// Fetch downloads the listing page and extracts every post it carries.
// Downstream dedup drops the ones already ingested.
func (s *Scanner) Fetch(ctx context.Context) ([]domain.SourceMessage, error) {
	doc, err := s.fetchDocument(ctx)
	if err != nil {
		return nil, err
	}

	var messages []domain.SourceMessage
	doc.Find("article[data-post-id]").Each(func(i int, sel *goquery.Selection) {
		msg, err := parseEntry(sel, s.channelID)
		if err != nil {
			s.logger.Warn("skip malformed entry", "source", s.name, "error", err)
			return
		}
		messages = append(messages, msg)
	})

	return messages, nil
}

func (s *Scanner) fetchDocument(ctx context.Context) (*goquery.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "FeedCurator/1.0")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request document: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed returned %s", resp.Status)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}

	return doc, nil
}

func parseEntry(sel *goquery.Selection, channelID int64) (domain.SourceMessage, error) {
	rawID, ok := sel.Attr("data-post-id")
	if !ok {
		return domain.SourceMessage{}, fmt.Errorf("entry without post id")
	}

	postID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return domain.SourceMessage{}, fmt.Errorf("post id %q: %w", rawID, err)
	}

	text := strings.TrimSpace(sel.Find(".post-body").First().Text())
	if text == "" {
		return domain.SourceMessage{}, fmt.Errorf("entry %d has no body", postID)
	}

	permalink, _ := sel.Find("a.post-link").First().Attr("href")

	var media []domain.MediaRef
	sel.Find("img").Each(func(i int, img *goquery.Selection) {
		if src, ok := img.Attr("src"); ok && src != "" {
			media = append(media, domain.MediaRef{Kind: "photo", Ref: src})
		}
	})

	var postedAt time.Time
	if raw, ok := sel.Attr("data-posted-at"); ok {
		if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
			postedAt = parsed.UTC()
		}
	}
	if postedAt.IsZero() {
		postedAt = time.Now().UTC()
	}

	return domain.SourceMessage{
		Source: domain.SourceRef{
			ChannelID: channelID,
			MessageID: postID,
			Permalink: permalink,
		},
		Text:     text,
		Media:    media,
		PostedAt: postedAt,
	}, nil
}
