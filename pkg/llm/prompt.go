package llm

import (
	"fmt"
	"strings"

	"github.com/xhad/tubechat/internal/models"
)

// Shape is the answer structure chosen per request from the candidate set's
// composition, never from UI state.
type Shape int

const (
	// ShapeSingleVideo organizes the answer chronologically under
	// timestamped micro-headings.
	ShapeSingleVideo Shape = iota
	// ShapeMultiVideoCompare produces numbered compare/contrast points
	// across videos.
	ShapeMultiVideoCompare
	// ShapePlaylistSummary produces a cross-video summary of one playlist.
	ShapePlaylistSummary
)

func (s Shape) String() string {
	switch s {
	case ShapeSingleVideo:
		return "single_video"
	case ShapeMultiVideoCompare:
		return "multi_video_compare"
	case ShapePlaylistSummary:
		return "playlist_summary"
	}
	return "unknown"
}

// SelectShape picks the answer shape from how many distinct videos appear in
// the candidate set. Multiple videos that all belong to one playlist get the
// playlist summary; multiple unrelated videos get the comparison.
func SelectShape(candidates []models.Candidate) Shape {
	videos := make(map[string]bool)
	playlists := make(map[string]bool)

	for _, cand := range candidates {
		videos[cand.Chunk.VideoID] = true
		playlists[cand.Chunk.PlaylistID] = true
	}

	if len(videos) <= 1 {
		return ShapeSingleVideo
	}
	if len(playlists) == 1 && !playlists[""] {
		return ShapePlaylistSummary
	}
	return ShapeMultiVideoCompare
}

const systemTemplate = `You are an assistant that answers questions about YouTube videos.

You will receive transcript segments, each prefixed like "[#N VX M:SS–M:SS] text".
- #N is a unique reference id.
- VX is the video tag (V1, V2, ...).
- M:SS–M:SS is the exact time range of the segment.

Answer using ONLY the provided segments. Never add links in the text.
Cite evidence inline with the exact bracket syntax [#N]. Use only the
timestamps and reference ids you were given; never invent or reformat them.
If something is uncertain or missing from the segments, say so and point to
the nearest [#N].`

var shapeInstructions = map[Shape]string{
	ShapeSingleVideo: `Structure: organize the answer chronologically by timestamp.
Use timestamped micro-headings of the form "[#N VX M:SS–M:SS] • Short label",
with 1-2 sentences beneath each heading tied to that specific segment.`,

	ShapeMultiVideoCompare: `Structure: the segments come from multiple videos. Produce 3-6 numbered
points that compare and contrast across videos (merge overlaps, highlight
differences), 1-3 sentences each. End each point with a line starting with:
Evidence: [#N], [#M], ...
listing only the references you actually used.`,

	ShapePlaylistSummary: `Structure: the segments come from several videos of one playlist. Write a
cross-video summary: 3-6 numbered themes spanning the playlist, 1-3 sentences
each, ending each theme with a line starting with:
Evidence: [#N], [#M], ...
listing only the references you actually used.`,
}

var modeInstructions = map[string]string{
	"concise":  "Length: be concise, roughly 120 words total.",
	"detailed": "Length: be thorough, up to 400 words total.",
	"":         "Length: roughly 200-250 words total unless the question demands more.",
}

// BuildPrompt renders the system and user messages for one synthesis call.
// Every candidate appears as one context line carrying its reference id,
// video tag and time range, so the model can copy them verbatim.
func BuildPrompt(question string, candidates []models.Candidate, shape Shape, mode string) (system, prompt string) {
	var context strings.Builder
	for _, cand := range candidates {
		context.WriteString(fmt.Sprintf("[%s %s %s] %s\n",
			cand.RefID, cand.Chunk.VideoTag, cand.Chunk.TimeRange(), cand.Chunk.Text))
	}

	length, ok := modeInstructions[mode]
	if !ok {
		length = modeInstructions[""]
	}

	prompt = fmt.Sprintf(`%s

%s

Question:
%s

Context (each line begins with a bracketed reference):
%s
Write the final answer now.`,
		shapeInstructions[shape], length, question, context.String())

	return systemTemplate, prompt
}
