package session

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/xhad/tubechat/internal/models"
	"github.com/xhad/tubechat/internal/types"
	"github.com/xhad/tubechat/pkg/chunker"
	"github.com/xhad/tubechat/pkg/cite"
	"github.com/xhad/tubechat/pkg/index"
	"github.com/xhad/tubechat/pkg/ingest"
	"github.com/xhad/tubechat/pkg/retrieve"
)

// Resolver expands one URL into videos with transcripts.
type Resolver interface {
	Resolve(ctx context.Context, rawURL string) (*ingest.Report, error)
}

// Synthesizer turns a question plus candidate chunks into answer text with
// inline bracket references.
type Synthesizer interface {
	Synthesize(ctx context.Context, question string, candidates []models.Candidate, mode string) (string, error)
}

type Config struct {
	VectorDim int
	Chunker   chunker.Config
	Retrieval retrieve.Config
}

// generation is one vector-index lifetime between resets. A generation is
// never mutated destructively: IndexVideos appends, Reset swaps the whole
// generation for a fresh one, so an in-flight Ask that captured the pointer
// keeps a consistent view.
type generation struct {
	number uint64
	index  *index.Index
	videos []models.Video
	urls   map[string]bool // canonical URLs already indexed
}

// Session owns the live index, the ordered video list with stable V-tags,
// and the tracked-URL set. Writers (IndexVideos, Reset) serialize with each
// other; readers never block writers and always observe a whole generation.
type Session struct {
	writerMu sync.Mutex   // serializes IndexVideos and Reset
	stateMu  sync.RWMutex // guards the generation pointer and its members
	gen      *generation

	resolver  Resolver
	chunk     chunker.Chunker
	embedder  types.Embedder
	retriever retrieve.Retriever
	synth     Synthesizer
}

func New(config Config, resolver Resolver, embedder types.Embedder, synth Synthesizer) *Session {
	return &Session{
		gen: &generation{
			number: 1,
			index:  index.NewWithConfig(index.Config{VectorDim: config.VectorDim}),
			urls:   make(map[string]bool),
		},
		resolver:  resolver,
		chunk:     chunker.NewWithConfig(config.Chunker),
		embedder:  embedder,
		retriever: retrieve.NewWithConfig(config.Retrieval, embedder),
		synth:     synth,
	}
}

// IndexOutcome reports one incremental indexing call.
type IndexOutcome struct {
	IndexedURLs []string          `json:"indexed_urls"`
	Failures    map[string]string `json:"failures,omitempty"`
	Videos      int               `json:"videos"`
	Chunks      int               `json:"chunks"`
	Timings     map[string]int64  `json:"timings"`
}

// IndexVideos runs the ingest → chunk → embed → index pipeline for the URLs
// not already tracked by the current generation. Duplicates are skipped
// silently; per-URL failures are collected without aborting the batch. The
// shared generation is only touched once the whole surviving batch has been
// embedded, so a failure partway through merges nothing ("all or nothing"
// from the session's perspective). All duplicates and no failures is
// success with an empty indexed_urls list.
func (s *Session) IndexVideos(ctx context.Context, urls []string) (*IndexOutcome, error) {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	s.stateMu.RLock()
	gen := s.gen
	s.stateMu.RUnlock()

	outcome := &IndexOutcome{
		Failures: make(map[string]string),
		Timings:  make(map[string]int64),
	}

	total := time.Now()
	results, duplicates, invalid, err := s.resolveBatch(ctx, gen, urls, outcome)
	outcome.Timings["ingest_ms"] = time.Since(total).Milliseconds()
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		// All duplicates is success; nothing but failures is not.
		if len(outcome.Failures) > 0 && duplicates == 0 {
			return nil, aggregateFailure(outcome.Failures, invalid)
		}
		outcome.Timings["total_ms"] = time.Since(total).Milliseconds()
		return outcome, nil
	}

	// Assign stable tags continuing the generation's order, then chunk.
	chunkStart := time.Now()
	newVideos := make([]models.Video, 0, len(results))
	var chunks []models.Chunk
	for _, result := range results {
		video := result.Video
		video.Tag = fmt.Sprintf("V%d", len(gen.videos)+len(newVideos)+1)
		newVideos = append(newVideos, video)
		chunks = append(chunks, s.chunk.Chunk(video, result.Transcript)...)
	}
	outcome.Timings["chunk_ms"] = time.Since(chunkStart).Milliseconds()

	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: transcripts produced no chunks", ingest.ErrUnavailableTranscript)
	}

	embedStart := time.Now()
	entries, err := s.embedChunks(ctx, chunks)
	outcome.Timings["embed_ms"] = time.Since(embedStart).Milliseconds()
	if err != nil {
		return nil, err
	}

	// Merge point: the only write to shared state in this call.
	s.stateMu.Lock()
	if _, err := gen.index.Add(entries); err != nil {
		s.stateMu.Unlock()
		return nil, fmt.Errorf("failed to extend index: %w", err)
	}
	gen.videos = append(gen.videos, newVideos...)
	for _, video := range newVideos {
		gen.urls[video.URL] = true
	}
	s.stateMu.Unlock()

	for _, video := range newVideos {
		outcome.IndexedURLs = append(outcome.IndexedURLs, video.URL)
	}
	outcome.Videos = len(newVideos)
	outcome.Chunks = len(chunks)
	outcome.Timings["total_ms"] = time.Since(total).Milliseconds()
	return outcome, nil
}

// resolveBatch expands every URL, pre-filtering single-video URLs already
// tracked, filtering playlist members after expansion, and de-duplicating
// within the batch itself. The invalid counter tracks how many collected
// failures were malformed references rather than upstream problems.
func (s *Session) resolveBatch(ctx context.Context, gen *generation, urls []string, outcome *IndexOutcome) ([]ingest.Result, int, int, error) {
	s.stateMu.RLock()
	tracked := make(map[string]bool, len(gen.urls))
	for u := range gen.urls {
		tracked[u] = true
	}
	s.stateMu.RUnlock()

	var results []ingest.Result
	duplicates := 0
	invalid := 0
	inBatch := make(map[string]bool)

	for _, raw := range urls {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		kind, id, err := ingest.Classify(raw)
		if err != nil {
			outcome.Failures[raw] = err.Error()
			invalid++
			continue
		}

		if kind == ingest.KindVideo {
			canonical := ingest.CanonicalURL(id)
			if tracked[canonical] || inBatch[canonical] {
				duplicates++
				continue
			}
		}

		report, err := s.resolver.Resolve(ctx, raw)
		if err != nil {
			outcome.Failures[raw] = err.Error()
			if errors.Is(err, ingest.ErrInvalidReference) {
				invalid++
			}
			continue
		}
		for _, failure := range report.Failures {
			outcome.Failures[failure.URL] = failure.Reason
		}

		for _, result := range report.Results {
			canonical := result.Video.URL
			if tracked[canonical] || inBatch[canonical] {
				duplicates++
				continue
			}
			inBatch[canonical] = true
			results = append(results, result)
		}
	}

	if ctx.Err() != nil {
		return nil, 0, 0, ctx.Err()
	}
	return results, duplicates, invalid, nil
}

func (s *Session) embedChunks(ctx context.Context, chunks []models.Chunk) ([]index.Entry, error) {
	texts := make([]string, len(chunks))
	for i := range chunks {
		texts[i] = chunks[i].Text
	}

	embeddings, err := s.embedder.CreateEmbedding(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}
	if len(embeddings) != len(chunks) {
		return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(embeddings), len(chunks))
	}

	entries := make([]index.Entry, len(chunks))
	for i := range chunks {
		chunk := chunks[i]
		entries[i] = index.Entry{Embedding: embeddings[i], Chunk: &chunk}
	}
	return entries, nil
}

// Ask answers a question against the generation that exists when the call
// starts. A reset completing after this point does not disturb the answer;
// a reset completing before it yields the empty-index error.
func (s *Session) Ask(ctx context.Context, question, mode string) (*models.Answer, error) {
	s.stateMu.RLock()
	gen := s.gen
	s.stateMu.RUnlock()

	if gen.index.Len() == 0 {
		return nil, index.ErrEmptyIndex
	}

	timings := make(map[string]int64)
	total := time.Now()

	stage := time.Now()
	ranked, err := s.retriever.Retrieve(ctx, question, gen.index)
	timings["retrieval_ms"] = time.Since(stage).Milliseconds()
	if err != nil {
		return nil, err
	}

	candidates := make([]models.Candidate, len(ranked))
	for i, r := range ranked {
		candidates[i] = models.Candidate{
			RefID: fmt.Sprintf("#%d", i+1),
			Chunk: r.Chunk,
			Score: r.Score,
		}
	}

	stage = time.Now()
	text, err := s.synth.Synthesize(ctx, question, candidates, mode)
	timings["llm_response_ms"] = time.Since(stage).Milliseconds()
	if err != nil {
		return nil, err
	}

	stage = time.Now()
	resolution := cite.Resolve(text, candidates)
	timings["citations_ms"] = time.Since(stage).Milliseconds()
	timings["total_ms"] = time.Since(total).Milliseconds()

	return &models.Answer{
		Text:         text,
		Citations:    resolution.Citations,
		Grouped:      resolution.Grouped,
		SourceVideos: resolution.SourceVideos,
		LowEvidence:  resolution.LowEvidence,
		Timings:      timings,
	}, nil
}

// Reset atomically swaps in a fresh empty generation. In-flight reads keep
// the old generation; reads starting after the swap see the new empty one.
func (s *Session) Reset() {
	s.writerMu.Lock()
	defer s.writerMu.Unlock()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.gen = &generation{
		number: s.gen.number + 1,
		index:  s.gen.index.Reset(),
		urls:   make(map[string]bool),
	}
}

// Generation exposes the fencing counter; internal, but handy in logs.
func (s *Session) Generation() uint64 {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.gen.number
}

// Videos returns the generation's indexed videos in tag order.
func (s *Session) Videos() []models.Video {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	out := make([]models.Video, len(s.gen.videos))
	copy(out, s.gen.videos)
	return out
}

// TrackedURLs returns the canonical URLs indexed in the current generation,
// in indexing order.
func (s *Session) TrackedURLs() []string {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	urls := make([]string, 0, len(s.gen.videos))
	for _, v := range s.gen.videos {
		urls = append(urls, v.URL)
	}
	return urls
}

// aggregateFailure wraps the collected failures in the sentinel matching
// their kind: a batch that failed only on malformed references is bad client
// input, anything else is an upstream problem.
func aggregateFailure(failures map[string]string, invalid int) error {
	parts := make([]string, 0, len(failures))
	for u, reason := range failures {
		parts = append(parts, fmt.Sprintf("%s: %s", u, reason))
	}
	sentinel := ingest.ErrUnavailableTranscript
	if invalid == len(failures) {
		sentinel = ingest.ErrInvalidReference
	}
	return fmt.Errorf("%w: %s", sentinel, strings.Join(parts, "; "))
}
