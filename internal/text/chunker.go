package text

import (
	"regexp"
	"strings"

	"deskrag/features/corpus"
)

// ChunkConfig bounds one chunk: MaxTokens is the packing budget, OverlapTokens
// the sliding-window carry between adjacent chunks.
type ChunkConfig struct {
	MaxTokens     int
	OverlapTokens int
}

// DefaultConfig applies to free-text types without an explicit entry.
var DefaultConfig = ChunkConfig{MaxTokens: 500, OverlapTokens: 50}

// chunkConfigs is the static per-type budget table. Structured types never
// consult it; they always emit a single chunk.
var chunkConfigs = map[corpus.SourceType]ChunkConfig{
	corpus.TypeTicket:        {MaxTokens: 500, OverlapTokens: 50},
	corpus.TypeTicketComment: {MaxTokens: 400, OverlapTokens: 40},
	corpus.TypeInteraction:   {MaxTokens: 400, OverlapTokens: 40},
	corpus.TypeEmail:         {MaxTokens: 500, OverlapTokens: 50},
}

// ConfigFor returns the chunk budget for a source type.
func ConfigFor(t corpus.SourceType) ChunkConfig {
	if cfg, ok := chunkConfigs[t]; ok {
		return cfg
	}
	return DefaultConfig
}

// EstimateTokens approximates the token count of s as ceil(wordCount * 1.3).
func EstimateTokens(s string) int {
	words := len(strings.Fields(s))
	return (words*13 + 9) / 10
}

var paragraphSplitRe = regexp.MustCompile(`\n[ \t\r]*\n`)

// splitParagraphs breaks raw text on blank lines and collapses each
// paragraph's internal whitespace runs to single spaces.
func splitParagraphs(raw string) []string {
	var paragraphs []string
	for _, p := range paragraphSplitRe.Split(raw, -1) {
		normalized := strings.Join(strings.Fields(p), " ")
		if normalized != "" {
			paragraphs = append(paragraphs, normalized)
		}
	}
	return paragraphs
}

// Chunk splits raw text into ordered chunks for embedding. It is
// deterministic and has no side effects: the same input always yields the
// same chunk list. Empty or whitespace-only input yields no chunks.
//
// Structured types (order, invoice, estimate, customer and shipment
// snapshots) come out as one chunk. Free-text types are packed paragraph by
// paragraph up to the type's token budget, each new chunk carrying the tail
// of the previous one forward so retrieval keeps cross-chunk context.
func Chunk(t corpus.SourceType, raw string) []string {
	paragraphs := splitParagraphs(raw)
	if len(paragraphs) == 0 {
		return nil
	}

	if t.Structured() {
		return []string{strings.Join(paragraphs, "\n\n")}
	}

	cfg := ConfigFor(t)
	return packParagraphs(paragraphs, cfg)
}

func packParagraphs(paragraphs []string, cfg ChunkConfig) []string {
	maxTokens := cfg.MaxTokens
	if maxTokens < 1 {
		maxTokens = DefaultConfig.MaxTokens
	}
	overlap := cfg.OverlapTokens
	if overlap >= maxTokens {
		overlap = maxTokens / 2
	}

	// Packing measures words against the budget; with the 1.3 token
	// estimate a full chunk lands around 1.3x the budget, which is what
	// downstream embedding limits are sized for.
	var chunks []string
	var current []string
	currentWords := 0

	// overlapOnly tracks whether current holds nothing but the tail carried
	// from the previous chunk. Such a buffer already lives at the end of
	// that chunk and must never be emitted on its own.
	overlapOnly := false

	flush := func() string {
		if len(current) == 0 {
			return ""
		}
		chunk := strings.Join(current, "\n\n")
		chunks = append(chunks, chunk)
		current = current[:0]
		currentWords = 0
		return chunk
	}

	reset := func() {
		current = current[:0]
		currentWords = 0
	}

	carryOverlap := func(from string) {
		tail := tailWords(from, overlap)
		if tail != "" {
			current = append(current, tail)
			currentWords = len(strings.Fields(tail))
			overlapOnly = true
		}
	}

	for _, para := range paragraphs {
		paraWords := len(strings.Fields(para))

		// A paragraph that alone busts the budget gets hard-split into
		// fixed, overlapping word windows.
		if paraWords > maxTokens {
			if overlapOnly {
				reset()
			} else {
				flush()
			}
			windows := splitWindows(para, maxTokens, overlap)
			chunks = append(chunks, windows...)
			carryOverlap(windows[len(windows)-1])
			continue
		}

		if currentWords+paraWords > maxTokens && len(current) > 0 {
			if overlapOnly {
				reset()
			} else {
				flushed := flush()
				carryOverlap(flushed)
			}
		}
		current = append(current, para)
		currentWords += paraWords
		overlapOnly = false
	}
	if !overlapOnly {
		flush()
	}

	return chunks
}

// splitWindows slices a single over-budget paragraph into word windows of
// windowWords size, stepping forward by windowWords-overlapWords.
func splitWindows(para string, windowWords, overlapWords int) []string {
	words := strings.Fields(para)
	step := windowWords - overlapWords
	if step < 1 {
		step = 1
	}

	var windows []string
	for start := 0; start < len(words); start += step {
		end := start + windowWords
		if end > len(words) {
			end = len(words)
		}
		windows = append(windows, strings.Join(words[start:end], " "))
		if end == len(words) {
			break
		}
	}
	return windows
}

// tailWords returns the last n words of s as a single space-joined string.
func tailWords(s string, n int) string {
	if n <= 0 {
		return ""
	}
	words := strings.Fields(s)
	if len(words) <= n {
		return strings.Join(words, " ")
	}
	return strings.Join(words[len(words)-n:], " ")
}
