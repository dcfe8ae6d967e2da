package chunker

import (
	"strings"

	"github.com/xhad/tubechat/internal/models"
)

type Config struct {
	ChunkSize      int // character budget per chunk
	ChunkOverlap   int // character budget of trailing captions carried forward
	MaxSpanSeconds int // hard cap on a chunk's time span
}

// Chunker splits a transcript into caption-aligned chunks. Boundaries never
// fall inside a caption, so every chunk's time range is independently
// clickable. Deterministic: same transcript, same chunks.
type Chunker struct {
	config Config
}

func NewWithConfig(config Config) Chunker {
	if config.ChunkSize == 0 {
		config.ChunkSize = 500
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = 0
	}
	if config.MaxSpanSeconds == 0 {
		config.MaxSpanSeconds = 120
	}

	return Chunker{
		config: config,
	}
}

// Chunk greedily accumulates consecutive captions until the character budget
// or the maximum time span is reached, then closes the chunk at the last
// included caption's end time. A single caption longer than the budget
// becomes its own oversized chunk; transcript content is never dropped.
func (c Chunker) Chunk(video models.Video, transcript models.Transcript) []models.Chunk {
	var chunks []models.Chunk
	var window []models.Caption
	windowChars := 0

	flush := func() {
		if len(window) == 0 {
			return
		}
		chunks = append(chunks, c.build(video, len(chunks), window))

		// Carry a bounded tail of captions into the next chunk, always
		// strictly fewer than the whole window so every chunk consumes
		// new transcript.
		tail, tailChars := c.overlapTail(window)
		window = tail
		windowChars = tailChars
	}

	for _, caption := range transcript.Captions {
		if len(window) > 0 {
			overBudget := windowChars+1+len(caption.Text) > c.config.ChunkSize
			overSpan := caption.End-window[0].Start > c.config.MaxSpanSeconds
			if overBudget || overSpan {
				flush()
			}
		}

		if len(window) > 0 {
			windowChars++
		}
		window = append(window, caption)
		windowChars += len(caption.Text)
	}

	if len(window) > 0 {
		chunks = append(chunks, c.build(video, len(chunks), window))
	}

	return chunks
}

func (c Chunker) build(video models.Video, seq int, window []models.Caption) models.Chunk {
	parts := make([]string, len(window))
	for i, caption := range window {
		parts[i] = caption.Text
	}

	return models.Chunk{
		VideoID:    video.ID,
		VideoURL:   video.URL,
		VideoTitle: video.Title,
		VideoTag:   video.Tag,
		PlaylistID: video.PlaylistID,
		Seq:        seq,
		Start:      window[0].Start,
		End:        window[len(window)-1].End,
		Text:       strings.Join(parts, " "),
	}
}

func (c Chunker) overlapTail(window []models.Caption) ([]models.Caption, int) {
	if c.config.ChunkOverlap <= 0 || len(window) < 2 {
		return nil, 0
	}

	chars := 0
	start := len(window)
	for i := len(window) - 1; i > 0; i-- {
		next := chars + len(window[i].Text)
		if chars > 0 {
			next++
		}
		if next > c.config.ChunkOverlap {
			break
		}
		chars = next
		start = i
	}

	if start == len(window) {
		return nil, 0
	}
	tail := make([]models.Caption, len(window)-start)
	copy(tail, window[start:])
	return tail, chars
}
