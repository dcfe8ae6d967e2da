package types

import (
	"context"

	"github.com/xhad/tubechat/internal/models"
)

// Core interfaces
type Embedder interface {
	CreateEmbedding(ctx context.Context, texts []string) ([][]float32, error)
}

// TranscriptSource fetches the ordered captions for one video id.
type TranscriptSource interface {
	Fetch(ctx context.Context, videoID string) (models.Transcript, error)
	Title(ctx context.Context, videoID string) (string, error)
}

// PlaylistSource expands a playlist id into its member videos, in playlist
// order.
type PlaylistSource interface {
	Videos(ctx context.Context, playlistID string) ([]models.Video, error)
}
