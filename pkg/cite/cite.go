package cite

import (
	"fmt"
	"log"
	"net/url"
	"regexp"
	"sort"

	"github.com/xhad/tubechat/internal/models"
)

// Generated text is untrusted input. Only two fixed bracket forms are
// recognized: the long form carrying video tag and time range, and the
// short form holding just the reference id. Anything else stays plain text.
var (
	longForm  = regexp.MustCompile(`\[(#\d+)\s+V\d+\s+\d{1,3}:\d{2}[–-]\d{1,3}:\d{2}\]`)
	shortForm = regexp.MustCompile(`\[(#\d+)\]`)
	bareTime  = regexp.MustCompile(`\b\d{1,3}:\d{2}\b`)
)

// Resolution is the outcome of validating one answer against its candidate
// set. The answer text itself is never modified.
type Resolution struct {
	Citations    []models.Citation
	Grouped      []models.VideoCitations
	SourceVideos []string
	LowEvidence  bool
	Dangling     []string
}

// Resolve scans the answer for bracket references, marks the candidates the
// model actually cited, and builds one citation per candidate: cited ones
// first in usage order, the rest kept as supplementary evidence sorted by
// video tag and start time. A reference id with no matching candidate is a
// dangling citation: logged, reported, rendered as plain text.
func Resolve(answer string, candidates []models.Candidate) Resolution {
	byRef := make(map[string]int, len(candidates))
	for i, cand := range candidates {
		byRef[cand.RefID] = i
	}

	usedOrder, dangling := usedRefs(answer, candidates, byRef)

	citations := make([]models.Citation, len(candidates))
	for i, cand := range candidates {
		citations[i] = buildCitation(cand)
	}

	usedFirst := make([]models.Citation, 0, len(citations))
	for _, ref := range usedOrder {
		idx := byRef[ref]
		citations[idx].Used = true
		usedFirst = append(usedFirst, citations[idx])
	}

	var others []models.Citation
	for _, c := range citations {
		if !c.Used {
			others = append(others, c)
		}
	}
	sort.SliceStable(others, func(a, b int) bool {
		if others[a].VideoTag != others[b].VideoTag {
			return others[a].VideoTag < others[b].VideoTag
		}
		return others[a].Start < others[b].Start
	})

	ordered := append(usedFirst, others...)

	return Resolution{
		Citations:    ordered,
		Grouped:      groupByVideo(ordered),
		SourceVideos: sourceVideos(ordered),
		LowEvidence:  len(usedOrder) < 2,
		Dangling:     dangling,
	}
}

// usedRefs returns candidate reference ids in the order the answer used
// them. Explicit [#N] tokens win; when the model cited none, bare M:SS
// timestamps matching candidate start times are accepted as a fallback.
func usedRefs(answer string, candidates []models.Candidate, byRef map[string]int) (order, dangling []string) {
	type hit struct {
		pos int
		ref string
	}
	var hits []hit

	for _, re := range []*regexp.Regexp{longForm, shortForm} {
		for _, m := range re.FindAllStringSubmatchIndex(answer, -1) {
			hits = append(hits, hit{pos: m[0], ref: answer[m[2]:m[3]]})
		}
	}
	sort.SliceStable(hits, func(a, b int) bool { return hits[a].pos < hits[b].pos })

	seen := make(map[string]bool)
	for _, h := range hits {
		if seen[h.ref] {
			continue
		}
		seen[h.ref] = true
		if _, ok := byRef[h.ref]; !ok {
			log.Printf("dangling citation %s in answer, no matching chunk", h.ref)
			dangling = append(dangling, h.ref)
			continue
		}
		order = append(order, h.ref)
	}
	if len(order) > 0 || len(hits) > 0 {
		return order, dangling
	}

	// Fallback: match bare timestamps against candidate start times.
	for _, ts := range bareTime.FindAllString(answer, -1) {
		for _, cand := range candidates {
			if models.FormatSeconds(cand.Chunk.Start) == ts && !seen[cand.RefID] {
				seen[cand.RefID] = true
				order = append(order, cand.RefID)
				break
			}
		}
	}
	return order, dangling
}

func buildCitation(cand models.Candidate) models.Citation {
	return models.Citation{
		RefID:      cand.RefID,
		VideoTag:   cand.Chunk.VideoTag,
		VideoTitle: cand.Chunk.VideoTitle,
		Timestamp:  models.FormatSeconds(cand.Chunk.Start),
		URL:        WithTimestamp(cand.Chunk.VideoURL, cand.Chunk.Start),
		VideoURL:   cand.Chunk.VideoURL,
		Snippet:    snippet(cand.Chunk.Text),
		Score:      cand.Score,
		Start:      cand.Chunk.Start,
		Used:       false,
	}
}

// WithTimestamp returns the video URL with a t=<seconds>s query parameter,
// so the citation opens the video at the cited moment.
func WithTimestamp(videoURL string, startSec int) string {
	if startSec < 0 {
		startSec = 0
	}
	u, err := url.Parse(videoURL)
	if err != nil {
		return videoURL
	}
	q := u.Query()
	q.Set("t", fmt.Sprintf("%ds", startSec))
	u.RawQuery = q.Encode()
	return u.String()
}

func snippet(text string) string {
	runes := []rune(text)
	if len(runes) <= 140 {
		return text
	}
	return string(runes[:140]) + "…"
}

func groupByVideo(citations []models.Citation) []models.VideoCitations {
	var groups []models.VideoCitations
	byTag := make(map[string]int)

	for _, c := range citations {
		idx, ok := byTag[c.VideoTag]
		if !ok {
			idx = len(groups)
			byTag[c.VideoTag] = idx
			groups = append(groups, models.VideoCitations{
				VideoTag:   c.VideoTag,
				VideoTitle: c.VideoTitle,
				VideoURL:   c.VideoURL,
			})
		}
		groups[idx].Citations = append(groups[idx].Citations, c)
	}

	sort.SliceStable(groups, func(a, b int) bool {
		return groups[a].VideoTag < groups[b].VideoTag
	})
	return groups
}

func sourceVideos(citations []models.Citation) []string {
	var sources []string
	seen := make(map[string]bool)

	for _, c := range citations {
		if c.VideoURL == "" || seen[c.VideoURL] {
			continue
		}
		seen[c.VideoURL] = true
		sources = append(sources, c.VideoURL)
	}
	return sources
}
