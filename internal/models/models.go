package models

import "fmt"

// FormatSeconds renders whole seconds as M:SS, the form used in prompts,
// answers and citations alike.
func FormatSeconds(sec int) string {
	if sec < 0 {
		sec = 0
	}
	return fmt.Sprintf("%d:%02d", sec/60, sec%60)
}

// TimeRange renders the chunk's span as "M:SS–M:SS".
func (c *Chunk) TimeRange() string {
	return FormatSeconds(c.Start) + "–" + FormatSeconds(c.End)
}

// Video identifies one indexed YouTube video. Tag is assigned in indexing
// order ("V1", "V2", ...) and stays stable for the lifetime of a session
// generation so citations keep pointing at the right video.
type Video struct {
	ID            string
	URL           string
	Title         string
	Tag           string
	PlaylistID    string
	PlaylistIndex int
}

// Caption is one time-coded line of a raw transcript. Times are whole
// seconds, End >= Start.
type Caption struct {
	Text  string
	Start int
	End   int
}

// Transcript is the raw, ordered caption sequence for one video.
type Transcript struct {
	VideoID  string
	Captions []Caption
}

// Duration returns the end time of the last caption, in seconds.
func (t Transcript) Duration() int {
	if len(t.Captions) == 0 {
		return 0
	}
	return t.Captions[len(t.Captions)-1].End
}

// Chunk is a caption-aligned slice of a transcript. Chunks carry enough
// video identity to build a citation without a lookup.
type Chunk struct {
	VideoID    string
	VideoURL   string
	VideoTitle string
	VideoTag   string
	PlaylistID string
	Seq        int
	Start      int
	End        int
	Text       string
}

// Candidate is one retrieved chunk handed to the synthesizer, with the
// reference id ("#1", "#2", ...) it carries for the duration of one answer.
type Candidate struct {
	RefID string
	Chunk *Chunk
	Score float32
}

// Citation is a resolved pointer from answer text back to a chunk. One
// citation exists per retrieved chunk; Used marks whether its reference id
// actually appears in the generated answer.
type Citation struct {
	RefID      string  `json:"ref_id"`
	VideoTag   string  `json:"video_tag"`
	VideoTitle string  `json:"video_title"`
	Timestamp  string  `json:"timestamp"`
	URL        string  `json:"url"`
	VideoURL   string  `json:"video_url"`
	Snippet    string  `json:"snippet"`
	Score      float32 `json:"score"`
	Start      int     `json:"start"`
	Used       bool    `json:"used"`
}

// VideoCitations groups the citations belonging to one video for display.
type VideoCitations struct {
	VideoTag   string     `json:"video_tag"`
	VideoTitle string     `json:"video_title"`
	VideoURL   string     `json:"video_url"`
	Citations  []Citation `json:"citations"`
}

// Answer is the full result of one ask cycle.
type Answer struct {
	Text         string           `json:"answer"`
	Citations    []Citation       `json:"citations"`
	Grouped      []VideoCitations `json:"grouped_citations"`
	SourceVideos []string         `json:"source_videos"`
	LowEvidence  bool             `json:"low_evidence"`
	Timings      map[string]int64 `json:"timings"`
}
