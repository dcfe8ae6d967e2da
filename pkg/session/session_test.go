package session_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/tubechat/internal/models"
	"github.com/xhad/tubechat/pkg/chunker"
	"github.com/xhad/tubechat/pkg/index"
	"github.com/xhad/tubechat/pkg/ingest"
	"github.com/xhad/tubechat/pkg/retrieve"
	"github.com/xhad/tubechat/pkg/session"
)

type fakeResolver struct {
	reports map[string]*ingest.Report
	errs    map[string]error
	calls   []string
}

func (f *fakeResolver) Resolve(_ context.Context, rawURL string) (*ingest.Report, error) {
	f.calls = append(f.calls, rawURL)
	if err, ok := f.errs[rawURL]; ok {
		return nil, err
	}
	report, ok := f.reports[rawURL]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ingest.ErrUnavailableTranscript, rawURL)
	}
	return report, nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	fail  bool
	calls int
}

func (f *fakeEmbedder) CreateEmbedding(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, errors.New("embedding backend down")
	}
	out := make([][]float32, len(texts))
	for i, text := range texts {
		out[i] = []float32{1, float32(len(text)%7) + 1}
	}
	return out, nil
}

type fakeSynthesizer struct {
	answer string
	err    error
	seen   []models.Candidate
}

func (f *fakeSynthesizer) Synthesize(_ context.Context, _ string, candidates []models.Candidate, _ string) (string, error) {
	f.seen = candidates
	if f.err != nil {
		return "", f.err
	}
	return f.answer, nil
}

func videoReport(id, title string, captions ...models.Caption) *ingest.Report {
	return &ingest.Report{
		Results: []ingest.Result{{
			Video:      models.Video{ID: id, URL: ingest.CanonicalURL(id), Title: title},
			Transcript: models.Transcript{VideoID: id, Captions: captions},
		}},
	}
}

func newSession(resolver *fakeResolver, embedder *fakeEmbedder, synth *fakeSynthesizer) *session.Session {
	return session.New(session.Config{
		VectorDim: 2,
		Chunker:   chunker.Config{ChunkSize: 500, MaxSpanSeconds: 120},
		Retrieval: retrieve.Config{TopK: 4},
	}, resolver, embedder, synth)
}

func TestIndexThenAskWithCitation(t *testing.T) {
	resolver := &fakeResolver{reports: map[string]*ingest.Report{
		"https://youtu.be/abc": videoReport("abc", "Greeting",
			models.Caption{Text: "Hello", Start: 0, End: 2},
			models.Caption{Text: "world", Start: 2, End: 5},
		),
	}}
	synth := &fakeSynthesizer{answer: "The video opens with a greeting [#1]."}
	sess := newSession(resolver, &fakeEmbedder{}, synth)

	outcome, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/abc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://youtu.be/abc"}, outcome.IndexedURLs)
	assert.Equal(t, 1, outcome.Videos)
	assert.Equal(t, 1, outcome.Chunks)
	assert.Empty(t, outcome.Failures)
	assert.Contains(t, outcome.Timings, "total_ms")

	answer, err := sess.Ask(context.Background(), "How does it start?", "")
	require.NoError(t, err)
	assert.Equal(t, synth.answer, answer.Text)

	require.NotEmpty(t, answer.Citations)
	first := answer.Citations[0]
	assert.True(t, first.Used)
	assert.Equal(t, "#1", first.RefID)
	assert.Equal(t, "V1", first.VideoTag)
	assert.Contains(t, first.URL, "t=0s")
	assert.Contains(t, first.Snippet, "Hello")

	for _, src := range answer.SourceVideos {
		assert.Contains(t, sess.TrackedURLs(), src)
	}
	for _, key := range []string{"retrieval_ms", "llm_response_ms", "citations_ms", "total_ms"} {
		assert.Contains(t, answer.Timings, key)
	}
}

func TestIndexIsIdempotent(t *testing.T) {
	resolver := &fakeResolver{reports: map[string]*ingest.Report{
		"https://youtu.be/abc": videoReport("abc", "Talk",
			models.Caption{Text: "some content here", Start: 0, End: 5},
		),
	}}
	sess := newSession(resolver, &fakeEmbedder{}, &fakeSynthesizer{answer: "ok"})

	_, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/abc"})
	require.NoError(t, err)
	require.Len(t, sess.Videos(), 1)

	// Same video through a different link form: skipped silently, success.
	outcome, err := sess.IndexVideos(context.Background(), []string{"https://www.youtube.com/watch?v=abc"})
	require.NoError(t, err)
	assert.Empty(t, outcome.IndexedURLs)
	assert.Empty(t, outcome.Failures)
	assert.Len(t, sess.Videos(), 1)
	// Pre-filtered before hitting the resolver.
	assert.Len(t, resolver.calls, 1)
}

func TestIndexAssignsStableTags(t *testing.T) {
	resolver := &fakeResolver{reports: map[string]*ingest.Report{
		"https://youtu.be/one": videoReport("one", "First",
			models.Caption{Text: "alpha", Start: 0, End: 3}),
		"https://youtu.be/two": videoReport("two", "Second",
			models.Caption{Text: "beta", Start: 0, End: 3}),
	}}
	sess := newSession(resolver, &fakeEmbedder{}, &fakeSynthesizer{answer: "ok"})

	_, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/one"})
	require.NoError(t, err)
	_, err = sess.IndexVideos(context.Background(), []string{"https://youtu.be/two"})
	require.NoError(t, err)

	videos := sess.Videos()
	require.Len(t, videos, 2)
	assert.Equal(t, "V1", videos[0].Tag)
	assert.Equal(t, "one", videos[0].ID)
	assert.Equal(t, "V2", videos[1].Tag)
	assert.Equal(t, "two", videos[1].ID)
}

func TestIndexCollectsFailuresWithoutAborting(t *testing.T) {
	resolver := &fakeResolver{
		reports: map[string]*ingest.Report{
			"https://youtu.be/good": videoReport("good", "Works",
				models.Caption{Text: "content", Start: 0, End: 3}),
		},
	}
	sess := newSession(resolver, &fakeEmbedder{}, &fakeSynthesizer{answer: "ok"})

	outcome, err := sess.IndexVideos(context.Background(),
		[]string{"https://youtu.be/good", "https://youtu.be/bad", "not a url at all"})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://youtu.be/good"}, outcome.IndexedURLs)
	assert.Len(t, outcome.Failures, 2)
	assert.Contains(t, outcome.Failures, "https://youtu.be/bad")
	assert.Contains(t, outcome.Failures, "not a url at all")
}

func TestIndexAllFailuresIsAnError(t *testing.T) {
	resolver := &fakeResolver{}
	sess := newSession(resolver, &fakeEmbedder{}, &fakeSynthesizer{answer: "ok"})

	_, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrUnavailableTranscript)
	assert.Empty(t, sess.Videos())
}

func TestIndexAllInvalidURLsIsBadInput(t *testing.T) {
	sess := newSession(&fakeResolver{}, &fakeEmbedder{}, &fakeSynthesizer{answer: "ok"})

	_, err := sess.IndexVideos(context.Background(),
		[]string{"not a url at all", "https://vimeo.com/12345"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrInvalidReference)
	assert.NotErrorIs(t, err, ingest.ErrUnavailableTranscript)
	assert.Empty(t, sess.Videos())
}

func TestIndexMixedFailureKindsIsUpstream(t *testing.T) {
	sess := newSession(&fakeResolver{}, &fakeEmbedder{}, &fakeSynthesizer{answer: "ok"})

	// One malformed reference, one video whose transcript cannot be fetched:
	// the aggregate is an upstream failure, not bad input.
	_, err := sess.IndexVideos(context.Background(),
		[]string{"not a url at all", "https://youtu.be/bad"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ingest.ErrUnavailableTranscript)
}

func TestEmbedFailureLeavesSessionUntouched(t *testing.T) {
	resolver := &fakeResolver{reports: map[string]*ingest.Report{
		"https://youtu.be/one": videoReport("one", "First",
			models.Caption{Text: "alpha", Start: 0, End: 3}),
		"https://youtu.be/two": videoReport("two", "Second",
			models.Caption{Text: "beta", Start: 0, End: 3}),
	}}
	embedder := &fakeEmbedder{}
	sess := newSession(resolver, embedder, &fakeSynthesizer{answer: "ok"})

	_, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/one"})
	require.NoError(t, err)

	embedder.fail = true
	_, err = sess.IndexVideos(context.Background(), []string{"https://youtu.be/two"})
	require.Error(t, err)

	videos := sess.Videos()
	require.Len(t, videos, 1)
	assert.Equal(t, "one", videos[0].ID)
	assert.Equal(t, []string{"https://youtu.be/one"}, sess.TrackedURLs())

	// The surviving state still answers questions.
	embedder.fail = false
	_, err = sess.Ask(context.Background(), "what happened?", "")
	require.NoError(t, err)
}

func TestAskBeforeIndexing(t *testing.T) {
	sess := newSession(&fakeResolver{}, &fakeEmbedder{}, &fakeSynthesizer{answer: "ok"})

	_, err := sess.Ask(context.Background(), "anything?", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrEmptyIndex)
}

func TestResetClearsStateAndBumpsGeneration(t *testing.T) {
	resolver := &fakeResolver{reports: map[string]*ingest.Report{
		"https://youtu.be/abc": videoReport("abc", "Talk",
			models.Caption{Text: "content", Start: 0, End: 3}),
	}}
	sess := newSession(resolver, &fakeEmbedder{}, &fakeSynthesizer{answer: "ok"})

	_, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/abc"})
	require.NoError(t, err)
	before := sess.Generation()

	sess.Reset()

	assert.Equal(t, before+1, sess.Generation())
	assert.Empty(t, sess.Videos())
	assert.Empty(t, sess.TrackedURLs())

	_, err = sess.Ask(context.Background(), "anything?", "")
	assert.ErrorIs(t, err, index.ErrEmptyIndex)

	// The same URL can be indexed again after a reset.
	outcome, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/abc"})
	require.NoError(t, err)
	assert.Equal(t, []string{"https://youtu.be/abc"}, outcome.IndexedURLs)
	assert.Equal(t, "V1", sess.Videos()[0].Tag)
}

func TestCandidateRefIDsFollowRankOrder(t *testing.T) {
	resolver := &fakeResolver{reports: map[string]*ingest.Report{
		"https://youtu.be/abc": videoReport("abc", "Talk",
			models.Caption{Text: strings.Repeat("first part ", 30), Start: 0, End: 60},
			models.Caption{Text: strings.Repeat("second part ", 30), Start: 60, End: 120},
		),
	}}
	synth := &fakeSynthesizer{answer: "ok"}
	sess := newSession(resolver, &fakeEmbedder{}, synth)

	_, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/abc"})
	require.NoError(t, err)

	_, err = sess.Ask(context.Background(), "anything?", "")
	require.NoError(t, err)

	require.NotEmpty(t, synth.seen)
	for i, cand := range synth.seen {
		assert.Equal(t, fmt.Sprintf("#%d", i+1), cand.RefID)
	}
}

func TestConcurrentAskAndReset(t *testing.T) {
	resolver := &fakeResolver{reports: map[string]*ingest.Report{
		"https://youtu.be/abc": videoReport("abc", "Talk",
			models.Caption{Text: "content here", Start: 0, End: 3}),
	}}
	sess := newSession(resolver, &fakeEmbedder{}, &fakeSynthesizer{answer: "fine [#1]"})

	_, err := sess.IndexVideos(context.Background(), []string{"https://youtu.be/abc"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// Either a complete answer or the empty-index error; never a panic
			// or a half-reset view.
			answer, err := sess.Ask(context.Background(), "anything?", "")
			if err != nil {
				assert.ErrorIs(t, err, index.ErrEmptyIndex)
				return
			}
			assert.NotEmpty(t, answer.Text)
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		sess.Reset()
	}()
	wg.Wait()
}
