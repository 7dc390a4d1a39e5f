package usage

import (
	"strings"

	"github.com/Rigel0718/transcript-insight/internal/types"
)

// Price is the USD cost per million tokens.
type Price struct {
	InputPerMTok  float64
	OutputPerMTok float64
}

// DefaultPrices covers the models the clients default to. Keys are matched
// by prefix so dated snapshots (gpt-4.1-mini-2025-04-14) resolve too.
var DefaultPrices = map[string]Price{
	"gpt-4.1-mini":     {InputPerMTok: 0.40, OutputPerMTok: 1.60},
	"gpt-4.1-nano":     {InputPerMTok: 0.10, OutputPerMTok: 0.40},
	"gpt-4.1":          {InputPerMTok: 2.00, OutputPerMTok: 8.00},
	"gpt-4o-mini":      {InputPerMTok: 0.15, OutputPerMTok: 0.60},
	"gpt-4o":           {InputPerMTok: 2.50, OutputPerMTok: 10.00},
	"gemini-2.5-flash": {InputPerMTok: 0.30, OutputPerMTok: 2.50},
	"gemini-2.5-pro":   {InputPerMTok: 1.25, OutputPerMTok: 10.00},
}

// PriceTable resolves model names to prices.
type PriceTable map[string]Price

// Lookup returns the price for model, preferring the longest matching prefix.
func (pt PriceTable) Lookup(model string) (Price, bool) {
	model = strings.ToLower(strings.TrimSpace(model))
	if p, ok := pt[model]; ok {
		return p, true
	}
	best, bestLen, found := Price{}, 0, false
	for name, p := range pt {
		if strings.HasPrefix(model, name) && len(name) > bestLen {
			best, bestLen, found = p, len(name), true
		}
	}
	return best, found
}

// Cost prices one call. Unknown models cost zero.
func (pt PriceTable) Cost(model string, u types.UsageMetadata) float64 {
	p, ok := pt.Lookup(model)
	if !ok {
		return 0
	}
	return float64(u.InputTokens)*p.InputPerMTok/1e6 + float64(u.OutputTokens)*p.OutputPerMTok/1e6
}
