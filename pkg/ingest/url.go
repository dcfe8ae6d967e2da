package ingest

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var (
	// ErrInvalidReference marks a URL that is not a recognized YouTube
	// video or playlist link. User input, never retried.
	ErrInvalidReference = errors.New("invalid video or playlist reference")

	// ErrUnavailableTranscript marks a video whose captions do not exist,
	// are disabled, or cannot be fetched.
	ErrUnavailableTranscript = errors.New("transcript unavailable")
)

type Kind int

const (
	KindVideo Kind = iota
	KindPlaylist
)

// Classify decides whether a URL names a single video or a playlist and
// extracts the corresponding id. A watch URL carrying a list parameter is
// treated as a playlist, matching how playlist links are shared.
func Classify(raw string) (Kind, string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, "", fmt.Errorf("%w: empty URL", ErrInvalidReference)
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}

	u, err := url.Parse(raw)
	if err != nil {
		return 0, "", fmt.Errorf("%w: %s", ErrInvalidReference, raw)
	}

	host := strings.TrimPrefix(u.Hostname(), "www.")
	host = strings.TrimPrefix(host, "m.")
	query := u.Query()

	switch host {
	case "youtube.com":
		if pid := query.Get("list"); pid != "" {
			return KindPlaylist, pid, nil
		}
		if strings.HasPrefix(u.Path, "/playlist") {
			return 0, "", fmt.Errorf("%w: playlist URL without list parameter", ErrInvalidReference)
		}
		if vid := query.Get("v"); vid != "" {
			return KindVideo, vid, nil
		}
		if strings.HasPrefix(u.Path, "/embed/") || strings.HasPrefix(u.Path, "/shorts/") {
			parts := strings.Split(strings.Trim(u.Path, "/"), "/")
			if len(parts) == 2 && parts[1] != "" {
				return KindVideo, parts[1], nil
			}
		}
	case "youtu.be":
		if vid := strings.Trim(u.Path, "/"); vid != "" && !strings.Contains(vid, "/") {
			return KindVideo, vid, nil
		}
	}

	return 0, "", fmt.Errorf("%w: %s", ErrInvalidReference, raw)
}

// CanonicalURL is the normalized form used for duplicate tracking and for
// citation links. Playlist-context and direct links to the same video
// collapse to the same canonical URL.
func CanonicalURL(videoID string) string {
	return "https://youtu.be/" + videoID
}
