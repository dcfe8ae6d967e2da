package retrieve

import (
	"context"
	"fmt"
	"math"

	"github.com/xhad/tubechat/internal/models"
	"github.com/xhad/tubechat/internal/types"
	"github.com/xhad/tubechat/pkg/index"
)

type Config struct {
	TopK        int
	FetchK      int     // over-fetch size before the per-video cap pass
	PerVideoCap float64 // max fraction of TopK a single video may fill
}

// Ranked is one retrieved chunk with its similarity score.
type Ranked struct {
	Chunk *models.Chunk
	Score float32
}

// Retriever embeds a question with the same embedder used at indexing time
// and ranks index entries, capping how much of the result one video may
// occupy so a single long video cannot crowd out the rest of a playlist.
type Retriever struct {
	config   Config
	embedder types.Embedder
}

func NewWithConfig(config Config, embedder types.Embedder) Retriever {
	if config.TopK == 0 {
		config.TopK = 10
	}
	if config.FetchK < config.TopK {
		config.FetchK = config.TopK * 4
	}
	if config.FetchK < 20 {
		config.FetchK = 20
	}
	if config.PerVideoCap <= 0 || config.PerVideoCap > 1 {
		config.PerVideoCap = 0.5
	}

	return Retriever{
		config:   config,
		embedder: embedder,
	}
}

func (r Retriever) Retrieve(ctx context.Context, question string, ix *index.Index) ([]Ranked, error) {
	embeddings, err := r.embedder.CreateEmbedding(ctx, []string{question})
	if err != nil {
		return nil, fmt.Errorf("failed to embed question: %w", err)
	}
	if len(embeddings) == 0 {
		return nil, fmt.Errorf("embedder returned no vector for question")
	}

	results, err := ix.Search(embeddings[0], r.config.FetchK)
	if err != nil {
		return nil, err
	}

	return r.applyCap(results), nil
}

// applyCap keeps rank order but limits each video to its share of TopK.
// With a single-video pool the cap is moot and the top TopK pass through
// unchanged. The cap is hard: when a multi-video pool's minority videos run
// dry the result is shorter than TopK rather than letting one video exceed
// its share.
func (r Retriever) applyCap(results []index.Result) []Ranked {
	distinct := make(map[string]bool)
	for _, res := range results {
		distinct[res.Entry.Chunk.VideoID] = true
	}

	limit := r.config.TopK
	if len(distinct) > 1 {
		limit = int(math.Ceil(r.config.PerVideoCap * float64(r.config.TopK)))
		if limit < 1 {
			limit = 1
		}
	}

	perVideo := make(map[string]int)
	ranked := make([]Ranked, 0, r.config.TopK)

	for _, res := range results {
		if len(ranked) == r.config.TopK {
			break
		}
		vid := res.Entry.Chunk.VideoID
		if perVideo[vid] >= limit {
			continue
		}
		perVideo[vid]++
		ranked = append(ranked, Ranked{Chunk: res.Entry.Chunk, Score: res.Score})
	}

	return ranked
}
