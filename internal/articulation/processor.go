package articulation

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

// Parse methods recorded on a Reply.
const (
	ParseJSON      = "json"
	ParseMarkdown  = "json_markdown"
	ParseExtracted = "json_extracted"
	ParseFallback  = "fallback"
)

// Reply is the structured insight returned by the model.
type Reply struct {
	Title      string            `json:"title"`
	Insight    string            `json:"insight"`
	Produces   types.Produces    `json:"produces"`
	KeyNumbers []types.KeyNumber `json:"key_numbers"`
	Caveats    []string          `json:"caveats"`

	// Parsing metadata
	ParseMethod string   `json:"-"`
	Warnings    []string `json:"-"`
}

// ProcessorStats counts parse outcomes.
type ProcessorStats struct {
	TotalProcessed     int
	SuccessfulParses   int
	FallbackParses     int
	ValidationFailures int
}

// ResponseProcessor turns raw model output into a Reply. Safe for concurrent use.
type ResponseProcessor struct {
	// RequireValidJSON disables the plain-text fallback.
	RequireValidJSON bool
	// MaxInsightLength truncates the narrative, in runes. Zero disables.
	MaxInsightLength int
	MaxKeyNumbers    int

	mu    sync.Mutex
	stats ProcessorStats
}

// NewResponseProcessor creates a processor with default limits.
func NewResponseProcessor() *ResponseProcessor {
	return &ResponseProcessor{
		MaxInsightLength: 2000,
		MaxKeyNumbers:    8,
	}
}

// Process parses raw, trying plain JSON, a fenced block, then any embedded
// object. Without RequireValidJSON the trimmed text becomes the insight.
func (rp *ResponseProcessor) Process(raw string) (*Reply, error) {
	rp.count(func(s *ProcessorStats) { s.TotalProcessed++ })

	attempts := []struct {
		method string
		parse  func(string) (*Reply, error)
	}{
		{ParseJSON, parseReply},
		{ParseMarkdown, parseFenced},
		{ParseExtracted, parseEmbedded},
	}
	var lastErr error
	for _, a := range attempts {
		reply, err := a.parse(raw)
		if err != nil {
			lastErr = err
			continue
		}
		reply.ParseMethod = a.method
		if a.method == ParseExtracted {
			reply.Warnings = append(reply.Warnings, "JSON extracted from mixed content")
		}
		rp.normalize(reply)
		rp.count(func(s *ProcessorStats) { s.SuccessfulParses++ })
		return reply, nil
	}

	text := strings.TrimSpace(raw)
	if rp.RequireValidJSON || text == "" {
		rp.count(func(s *ProcessorStats) { s.ValidationFailures++ })
		return nil, fmt.Errorf("failed to parse insight reply: %w", lastErr)
	}

	reply := &Reply{
		Insight:     text,
		ParseMethod: ParseFallback,
		Warnings:    []string{"no valid JSON found, using raw response as insight"},
	}
	rp.normalize(reply)
	rp.count(func(s *ProcessorStats) { s.FallbackParses++ })
	return reply, nil
}

// Stats returns a snapshot of the counters.
func (rp *ResponseProcessor) Stats() ProcessorStats {
	rp.mu.Lock()
	defer rp.mu.Unlock()
	return rp.stats
}

func (rp *ResponseProcessor) count(f func(*ProcessorStats)) {
	rp.mu.Lock()
	f(&rp.stats)
	rp.mu.Unlock()
}

func (rp *ResponseProcessor) normalize(r *Reply) {
	r.Title = strings.TrimSpace(r.Title)
	r.Insight = strings.TrimSpace(r.Insight)
	if rp.MaxInsightLength > 0 {
		if runes := []rune(r.Insight); len(runes) > rp.MaxInsightLength {
			r.Insight = string(runes[:rp.MaxInsightLength]) + "..."
			r.Warnings = append(r.Warnings, "insight truncated")
		}
	}

	nums := r.KeyNumbers[:0]
	for _, kn := range r.KeyNumbers {
		kn.Label = strings.TrimSpace(kn.Label)
		if kn.Label == "" || kn.Value == nil {
			continue
		}
		nums = append(nums, kn)
	}
	if rp.MaxKeyNumbers > 0 && len(nums) > rp.MaxKeyNumbers {
		nums = nums[:rp.MaxKeyNumbers]
	}
	r.KeyNumbers = nums
	if r.KeyNumbers == nil {
		r.KeyNumbers = []types.KeyNumber{}
	}

	caveats := make([]string, 0, len(r.Caveats))
	for _, c := range r.Caveats {
		if c = strings.TrimSpace(c); c != "" {
			caveats = append(caveats, c)
		}
	}
	r.Caveats = caveats
}

func parseReply(s string) (*Reply, error) {
	var r Reply
	if err := json.Unmarshal([]byte(strings.TrimSpace(s)), &r); err != nil {
		return nil, err
	}
	if strings.TrimSpace(r.Insight) == "" {
		return nil, fmt.Errorf("missing insight field")
	}
	return &r, nil
}

func parseFenced(s string) (*Reply, error) {
	s = strings.TrimSpace(s)
	for _, p := range []string{"```json", "```JSON", "```"} {
		s = strings.TrimPrefix(s, p)
	}
	return parseReply(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

func parseEmbedded(s string) (*Reply, error) {
	candidates := objectCandidates(s)
	// Later objects usually carry the final answer.
	for i := len(candidates) - 1; i >= 0; i-- {
		if r, err := parseReply(candidates[i]); err == nil {
			return r, nil
		}
	}
	return nil, fmt.Errorf("no embedded JSON found")
}
