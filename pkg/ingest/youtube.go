package ingest

import (
	"context"
	"encoding/xml"
	"fmt"
	"html"
	"math"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/xhad/tubechat/internal/models"
	"golang.org/x/time/rate"
)

type SourceConfig struct {
	WatchBaseURL     string // watch/playlist pages, default https://www.youtube.com
	TimedTextBaseURL string // caption endpoint, default https://video.google.com/timedtext
	RateLimit        float64
	Timeout          time.Duration
	Language         string
}

// Source talks to YouTube over plain HTTP: the timedtext endpoint for
// captions and the watch/playlist pages for titles and playlist members.
type Source struct {
	config  SourceConfig
	client  *http.Client
	limiter *rate.Limiter
}

func NewSourceWithConfig(config SourceConfig) *Source {
	if config.WatchBaseURL == "" {
		config.WatchBaseURL = "https://www.youtube.com"
	}
	if config.TimedTextBaseURL == "" {
		config.TimedTextBaseURL = "https://video.google.com/timedtext"
	}
	if config.RateLimit == 0 {
		config.RateLimit = 2 // 2 requests per second by default
	}
	if config.Timeout == 0 {
		config.Timeout = 30 * time.Second
	}
	if config.Language == "" {
		config.Language = "en"
	}

	return &Source{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
		},
		limiter: rate.NewLimiter(rate.Limit(config.RateLimit), 1),
	}
}

// timedtext XML: <transcript><text start="1.2" dur="3.4">line</text>...</transcript>
type timedText struct {
	XMLName xml.Name       `xml:"transcript"`
	Lines   []timedTextRow `xml:"text"`
}

type timedTextRow struct {
	Start float64 `xml:"start,attr"`
	Dur   float64 `xml:"dur,attr"`
	Text  string  `xml:",chardata"`
}

// Fetch returns the ordered caption sequence for a video, or
// ErrUnavailableTranscript when captions do not exist or are disabled.
func (s *Source) Fetch(ctx context.Context, videoID string) (models.Transcript, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return models.Transcript{}, err
	}

	endpoint := fmt.Sprintf("%s?lang=%s&v=%s",
		s.config.TimedTextBaseURL, url.QueryEscape(s.config.Language), url.QueryEscape(videoID))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.Transcript{}, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return models.Transcript{}, fmt.Errorf("%w: %v", ErrUnavailableTranscript, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.Transcript{}, fmt.Errorf("%w: status %d for video %s",
			ErrUnavailableTranscript, resp.StatusCode, videoID)
	}

	var parsed timedText
	if err := xml.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return models.Transcript{}, fmt.Errorf("%w: no caption track for video %s",
			ErrUnavailableTranscript, videoID)
	}

	if len(parsed.Lines) == 0 {
		return models.Transcript{}, fmt.Errorf("%w: empty caption track for video %s",
			ErrUnavailableTranscript, videoID)
	}

	captions := make([]models.Caption, 0, len(parsed.Lines))
	for _, line := range parsed.Lines {
		text := cleanCaption(line.Text)
		if text == "" {
			continue
		}
		start := int(line.Start)
		end := int(math.Ceil(line.Start + line.Dur))
		if end < start {
			end = start
		}
		captions = append(captions, models.Caption{
			Text:  text,
			Start: start,
			End:   end,
		})
	}

	if len(captions) == 0 {
		return models.Transcript{}, fmt.Errorf("%w: caption track for video %s has no text",
			ErrUnavailableTranscript, videoID)
	}

	return models.Transcript{VideoID: videoID, Captions: captions}, nil
}

// Title fetches the watch page title. Best effort; callers fall back to a
// placeholder when it fails.
func (s *Source) Title(ctx context.Context, videoID string) (string, error) {
	doc, err := s.page(ctx, fmt.Sprintf("%s/watch?v=%s", s.config.WatchBaseURL, url.QueryEscape(videoID)))
	if err != nil {
		return "", err
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	title = strings.TrimSuffix(title, " - YouTube")
	if title == "" {
		return "", fmt.Errorf("no title for video %s", videoID)
	}
	return title, nil
}

// Videos expands a playlist page into its member videos, in page order.
func (s *Source) Videos(ctx context.Context, playlistID string) ([]models.Video, error) {
	doc, err := s.page(ctx, fmt.Sprintf("%s/playlist?list=%s", s.config.WatchBaseURL, url.QueryEscape(playlistID)))
	if err != nil {
		return nil, fmt.Errorf("%w: playlist %s: %v", ErrInvalidReference, playlistID, err)
	}

	var videos []models.Video
	seen := make(map[string]bool)

	doc.Find("a[href]").Each(func(_ int, selection *goquery.Selection) {
		href, exists := selection.Attr("href")
		if !exists || !strings.Contains(href, "/watch?v=") {
			return
		}

		parsed, err := url.Parse(href)
		if err != nil {
			return
		}
		vid := parsed.Query().Get("v")
		if vid == "" || seen[vid] {
			return
		}
		seen[vid] = true

		videos = append(videos, models.Video{
			ID:            vid,
			URL:           CanonicalURL(vid),
			Title:         strings.TrimSpace(selection.Text()),
			PlaylistID:    playlistID,
			PlaylistIndex: len(videos),
		})
	})

	if len(videos) == 0 {
		return nil, fmt.Errorf("%w: playlist %s contains no videos", ErrInvalidReference, playlistID)
	}

	return videos, nil
}

func (s *Source) page(ctx context.Context, pageURL string) (*goquery.Document, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("received status code %d for URL: %s", resp.StatusCode, pageURL)
	}

	return goquery.NewDocumentFromReader(resp.Body)
}

// cleanCaption normalizes whitespace and HTML entities; keeps punctuation.
func cleanCaption(text string) string {
	return strings.Join(strings.Fields(html.UnescapeString(text)), " ")
}
