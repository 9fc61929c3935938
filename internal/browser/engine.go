package browser

import (
	"strconv"

	"github.com/paulmach/orb"
)

// Engine combines the text and viewport filters.
type Engine struct {
	Text     TextFilter
	Viewport ViewportFilter
}

// IsVisible is the AND of both filters. It is a pure function of its inputs.
func (e Engine) IsVisible(entry Entry, state FilterState, bound orb.Bound) bool {
	return e.Text.Matches(entry.Label, state.TextQuery) &&
		e.Viewport.Matches(entry.Feature.Geometry, bound, state.ViewportRestricted)
}

// Evaluate decides every entry at once.
func (e Engine) Evaluate(entries []Entry, state FilterState, bound orb.Bound) []bool {
	out := make([]bool, len(entries))
	for i, entry := range entries {
		out[i] = e.IsVisible(entry, state, bound)
	}
	return out
}

// CountIndicator renders "N", or "M/N" when a filter hides features.
func CountIndicator(visible, total int, filtered bool) string {
	if filtered && visible < total {
		return strconv.Itoa(visible) + "/" + strconv.Itoa(total)
	}
	return strconv.Itoa(total)
}
