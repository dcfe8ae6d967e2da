package ingest

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/xhad/tubechat/internal/models"
	"github.com/xhad/tubechat/internal/types"
)

// Result pairs one resolved video with its raw transcript.
type Result struct {
	Video      models.Video
	Transcript models.Transcript
}

// Failure records one video that could not be resolved. Per-video failures
// inside a playlist do not abort the whole playlist.
type Failure struct {
	VideoID string
	URL     string
	Reason  string
}

// Report is the outcome of resolving one URL: the videos that yielded a
// transcript plus the ones that were skipped.
type Report struct {
	Results  []Result
	Failures []Failure
}

type Ingestor struct {
	transcripts types.TranscriptSource
	playlists   types.PlaylistSource
}

func New(transcripts types.TranscriptSource, playlists types.PlaylistSource) *Ingestor {
	return &Ingestor{transcripts: transcripts, playlists: playlists}
}

// Resolve expands a video or playlist URL into (video, transcript) pairs.
// A single-video URL yields exactly one result or fails. A playlist skips
// failing videos and succeeds as long as at least one member resolves;
// when every member fails the aggregate error lists each cause.
func (ing *Ingestor) Resolve(ctx context.Context, rawURL string) (*Report, error) {
	kind, id, err := Classify(rawURL)
	if err != nil {
		return nil, err
	}

	switch kind {
	case KindVideo:
		video := models.Video{ID: id, URL: CanonicalURL(id)}
		result, err := ing.resolveVideo(ctx, video)
		if err != nil {
			return nil, err
		}
		return &Report{Results: []Result{result}}, nil

	case KindPlaylist:
		videos, err := ing.playlists.Videos(ctx, id)
		if err != nil {
			return nil, err
		}
		return ing.resolvePlaylist(ctx, videos)
	}

	return nil, fmt.Errorf("%w: %s", ErrInvalidReference, rawURL)
}

func (ing *Ingestor) resolvePlaylist(ctx context.Context, videos []models.Video) (*Report, error) {
	report := &Report{}

	for _, video := range videos {
		result, err := ing.resolveVideo(ctx, video)
		if err != nil {
			log.Printf("transcript fetch failed for %s: %v", video.ID, err)
			report.Failures = append(report.Failures, Failure{
				VideoID: video.ID,
				URL:     video.URL,
				Reason:  err.Error(),
			})
			continue
		}
		report.Results = append(report.Results, result)
	}

	if len(report.Results) == 0 {
		reasons := make([]string, 0, len(report.Failures))
		for _, f := range report.Failures {
			reasons = append(reasons, fmt.Sprintf("%s: %s", f.VideoID, f.Reason))
		}
		return nil, fmt.Errorf("%w: no transcript for any playlist video (%s)",
			ErrUnavailableTranscript, strings.Join(reasons, "; "))
	}

	return report, nil
}

func (ing *Ingestor) resolveVideo(ctx context.Context, video models.Video) (Result, error) {
	transcript, err := ing.transcripts.Fetch(ctx, video.ID)
	if err != nil {
		return Result{}, err
	}

	if video.Title == "" {
		title, err := ing.transcripts.Title(ctx, video.ID)
		if err != nil {
			video.Title = fmt.Sprintf("Video %s", video.ID)
		} else {
			video.Title = title
		}
	}

	return Result{Video: video, Transcript: transcript}, nil
}
