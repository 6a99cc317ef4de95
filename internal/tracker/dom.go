package tracker

import (
	"math"
	"strings"
	"unicode"

	"github.com/goccy/go-json"

	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

// ElementKey identifies a DOM node for as long as it lives. Zero is
// reserved for the window.
type ElementKey uint64

const windowKey ElementKey = 0

// ScrollMetrics are the scroll offsets of the window or an element.
type ScrollMetrics struct {
	Top            float64
	ViewportHeight float64
	ScrollHeight   float64
}

// Rect is a bounding client rect.
type Rect struct {
	Left, Top, Width, Height float64
}

// Element is the view of a DOM node the tracker needs.
type Element interface {
	Key() ElementKey
	// TagName is lower case.
	TagName() string
	ID() string
	ClassName() string
	Attr(name string) (string, bool)
	// DataAttrs returns data-* attributes keyed by the name after "data-".
	DataAttrs() map[string]string
	TextContent() string
	// HeadingText is the text of the first h1-h6 descendant.
	HeadingText() string
	// Parent returns nil at the document root.
	Parent() Element
	ScrollMetrics() ScrollMetrics
	Rect() Rect
}

// Document is the page the tracker observes.
type Document interface {
	// Origin is window.location.origin, "" when unavailable.
	Origin() string
	Body() Element
	Viewport() (width, height float64)
	// WindowScroll reports document scroll metrics; false when the document
	// has no body yet.
	WindowScroll() (ScrollMetrics, bool)
	ElementFromPoint(x, y float64) Element
	Contains(el Element) bool
	Hidden() bool
}

// FrameScheduler runs fn before the next repaint. fn must not run before
// RequestFrame returns.
type FrameScheduler interface {
	RequestFrame(fn func()) (cancel func())
}

// Opt-in attributes.
const (
	attrEvent          = "data-analytics-event"
	attrCTA            = "data-analytics-cta"
	attrLabel          = "data-analytics-label"
	attrTarget         = "data-analytics-target"
	attrMetadata       = "data-analytics-metadata"
	attrForm           = "data-analytics-form"
	attrScrollSection  = "data-analytics-scroll-section"
	attrScrollTarget   = "data-analytics-scroll-target"
	attrScrollLabel    = "data-analytics-scroll-label"
	attrScrollMetadata = "data-analytics-scroll-metadata"
)

const maxLabelRunes = 200

func attr(el Element, name string) string {
	v, _ := el.Attr(name)
	return v
}

func hasAttr(el Element, name string) bool {
	_, ok := el.Attr(name)
	return ok
}

// closest walks from el up to the root and returns the first match.
func closest(el Element, match func(Element) bool) Element {
	for cur := el; cur != nil; cur = cur.Parent() {
		if match(cur) {
			return cur
		}
	}
	return nil
}

func closestSection(el Element) Element {
	return closest(el, func(e Element) bool { return hasAttr(e, attrScrollSection) })
}

// selectorPath builds "tag#id.c1.c2 > ..." for el and up to four ancestors.
func selectorPath(el Element) string {
	if el == nil {
		return "unknown"
	}
	var segments []string
	for cur := el; cur != nil && len(segments) < 5; cur = cur.Parent() {
		var b strings.Builder
		b.WriteString(strings.ToLower(cur.TagName()))
		if id := cur.ID(); id != "" {
			b.WriteString("#")
			b.WriteString(id)
		}
		classes := strings.Fields(cur.ClassName())
		if len(classes) > 2 {
			classes = classes[:2]
		}
		if len(classes) > 0 {
			b.WriteString(".")
			b.WriteString(strings.Join(classes, "."))
		}
		segments = append(segments, b.String())
	}
	for i, j := 0, len(segments)-1; i < j; i, j = i+1, j-1 {
		segments[i], segments[j] = segments[j], segments[i]
	}
	return strings.Join(segments, " > ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// elementLabel picks the first non-empty of the explicit label sources,
// then the first heading, then the element text.
func elementLabel(el Element) string {
	if el == nil {
		return ""
	}
	candidates := []string{
		attr(el, attrScrollLabel),
		attr(el, attrLabel),
		attr(el, "aria-label"),
		attr(el, "name"),
	}
	if tag := strings.ToLower(el.TagName()); tag == "input" || tag == "textarea" {
		candidates = append(candidates, attr(el, "placeholder"))
	}
	candidates = append(candidates, el.ID())
	for _, c := range candidates {
		if c == "" {
			continue
		}
		if trimmed := strings.TrimSpace(c); trimmed != "" {
			return truncate(trimmed, maxLabelRunes)
		}
		break
	}
	if heading := strings.TrimSpace(el.HeadingText()); heading != "" {
		return truncate(heading, maxLabelRunes)
	}
	if text := strings.TrimSpace(el.TextContent()); text != "" {
		return truncate(text, maxLabelRunes)
	}
	return ""
}

// parseMetadataAttr decodes a JSON object attribute. Malformed JSON is
// logged and ignored.
func parseMetadataAttr(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		logging.Warn().Err(err).Msg("tracker: could not parse analytics metadata attribute")
		return nil
	}
	return out
}

// datasetKey converts a data attribute name to its DOMStringMap key:
// "analytics-scroll-target" becomes "analyticsScrollTarget".
func datasetKey(name string) string {
	var b strings.Builder
	upper := false
	for _, r := range name {
		if r == '-' {
			if upper {
				b.WriteRune('-')
			}
			upper = true
			continue
		}
		if upper {
			if r >= 'a' && r <= 'z' {
				r = unicode.ToUpper(r)
			} else {
				b.WriteRune('-')
			}
			upper = false
		}
		b.WriteRune(r)
	}
	if upper {
		b.WriteRune('-')
	}
	return b.String()
}

// dataset returns el's data attributes under their DOMStringMap keys,
// filtered by keep. Empty values are skipped unless keepEmpty is set.
func dataset(el Element, keepEmpty bool, keep func(key string) bool) map[string]any {
	out := map[string]any{}
	for name, value := range el.DataAttrs() {
		if value == "" && !keepEmpty {
			continue
		}
		key := datasetKey(name)
		if keep(key) {
			out[key] = value
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func clamp(v, lo, hi float64) float64 {
	return math.Min(math.Max(v, lo), hi)
}

func roundMs(ms float64) int64 {
	return int64(math.Max(0, math.Round(ms)))
}
