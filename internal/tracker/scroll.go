package tracker

import (
	"math"
	"strings"
	"time"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
)

// Thresholds are the scroll depths, in percent, reported once per target
// and view.
var Thresholds = []int{10, 25, 50, 75, 90, 100}

const (
	scrollContextWindow  = "window"
	scrollContextElement = "element"
)

type scrollState struct {
	crossed map[int]bool
	last    float64
}

type sectionTiming struct {
	section ElementKey
	active  bool
	since   time.Time
}

// scrollTracker keeps per-target scroll depth. Every method expects the
// owning Tracker's mutex to be held, except runFrame which takes it.
type scrollTracker struct {
	t *Tracker

	contexts map[ElementKey]*scrollState
	sections map[ElementKey]*sectionTiming

	pending    []Element
	pendingSet map[ElementKey]bool

	cancel func()
	armed  bool
	// gen invalidates frames requested before the last reset.
	gen uint64
}

func newScrollTracker(t *Tracker) *scrollTracker {
	s := &scrollTracker{t: t}
	s.reset()
	return s
}

func (s *scrollTracker) reset() {
	s.contexts = map[ElementKey]*scrollState{}
	s.sections = map[ElementKey]*sectionTiming{}
	s.pending = nil
	s.pendingSet = map[ElementKey]bool{}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.armed = false
	s.gen++
}

func keyOf(target Element) ElementKey {
	if target == nil {
		return windowKey
	}
	return target.Key()
}

// scheduleLocked queues target (nil for the window) for the next frame.
// Repeated requests within a frame are coalesced.
func (s *scrollTracker) scheduleLocked(target Element) {
	if !s.t.public || s.t.doc == nil || !s.t.client.Enabled() {
		return
	}
	key := keyOf(target)
	if !s.pendingSet[key] {
		s.pendingSet[key] = true
		s.pending = append(s.pending, target)
	}
	if s.armed {
		return
	}
	s.armed = true
	gen := s.gen
	s.cancel = s.t.frames.RequestFrame(func() { s.runFrame(gen) })
}

func (s *scrollTracker) runFrame(gen uint64) {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	if gen != s.gen {
		return
	}
	s.armed = false
	s.cancel = nil
	targets := s.pending
	s.pending = nil
	s.pendingSet = map[ElementKey]bool{}
	for _, target := range targets {
		s.calculateLocked(target)
	}
}

func (s *scrollTracker) calculateLocked(target Element) {
	if !s.t.public || !s.t.client.Enabled() {
		return
	}
	doc := s.t.doc
	key := keyOf(target)
	if target != nil && !doc.Contains(target) {
		delete(s.contexts, key)
		delete(s.sections, key)
		return
	}

	var m ScrollMetrics
	if target == nil {
		var ok bool
		if m, ok = doc.WindowScroll(); !ok {
			return
		}
	} else {
		m = target.ScrollMetrics()
	}

	state, ok := s.contexts[key]
	if !ok {
		state = &scrollState{crossed: map[int]bool{}}
		s.contexts[key] = state
	}
	now := s.t.clock.Now()

	pct := 100.0
	if maxScrollable := math.Max(m.ScrollHeight-m.ViewportHeight, 0); maxScrollable > 0 {
		pct = m.Top / maxScrollable * 100
	}
	if math.IsNaN(pct) || math.IsInf(m.Top, 0) {
		return
	}
	rounded := clamp(math.Round(pct*100)/100, 0, 100)
	pixels := math.Max(m.Top, 0)

	if rounded <= state.last {
		return
	}
	state.last = rounded

	section := s.activeSection(target)
	var sectionMs *int64
	timing := s.sections[key]
	switch {
	case section != nil:
		if timing == nil || !timing.active || timing.section != section.Key() {
			s.sections[key] = &sectionTiming{section: section.Key(), active: true, since: now}
			sectionMs = event.Int64(0)
		} else {
			sectionMs = event.Int64(roundMs(float64(now.Sub(timing.since)) / float64(time.Millisecond)))
		}
	case timing == nil || timing.active:
		s.sections[key] = &sectionTiming{since: now}
	}

	for _, threshold := range Thresholds {
		if rounded < float64(threshold) || state.crossed[threshold] {
			continue
		}
		state.crossed[threshold] = true
		md := s.metadata(target, section, threshold, rounded, pixels)
		md.Additional["page_time_ms"] = s.t.pageElapsedLocked()
		if sectionMs != nil {
			md.DurationMs = event.Int64(*sectionMs)
			md.Additional["component_visible_ms"] = *sectionMs
		}
		s.t.client.Track(event.Input{Type: event.TypeScroll, Metadata: md})
	}
}

// activeSection finds the tagged section under the probe point: the
// horizontal centre at 40% height of the viewport, or of the container for
// element targets.
func (s *scrollTracker) activeSection(target Element) Element {
	doc := s.t.doc
	vw, vh := doc.Viewport()
	if vw == 0 && vh == 0 {
		return nil
	}
	maxX, maxY := math.Max(vw-1, 0), math.Max(vh-1, 0)

	if target == nil {
		x := clamp(vw/2, 0, maxX)
		y := clamp(vh*0.4, 0, maxY)
		return closestSection(doc.ElementFromPoint(x, y))
	}

	r := target.Rect()
	x := clamp(r.Left+r.Width/2, 0, maxX)
	y := clamp(r.Top+math.Min(r.Height*0.4, r.Height/2), 0, maxY)
	if section := closestSection(doc.ElementFromPoint(x, y)); section != nil {
		return section
	}
	return closestSection(target)
}

func (s *scrollTracker) metadata(target, section Element, threshold int, pct, pixels float64) *event.Metadata {
	md := &event.Metadata{
		ScrollPercentage: event.Float(pct),
		ScrollPixels:     event.Int64(int64(math.Round(pixels))),
	}
	additional := map[string]any{
		"threshold": threshold,
	}

	if target == nil {
		additional["scroll_context"] = scrollContextWindow
		additional["scroll_container_selector"] = selectorPath(s.t.doc.Body())
		md.InteractionTarget = scrollContextWindow
		md.InteractionLabel = scrollContextWindow
	} else {
		additional["scroll_context"] = scrollContextElement
		additional["scroll_container_selector"] = selectorPath(target)
		if id := target.ID(); id != "" {
			additional["scroll_container_id"] = id
		}
		if container := scrollTarget(target); container != "" {
			additional["scroll_container"] = container
			md.InteractionTarget = container
		}
		md.InteractionLabel = elementLabel(target)
		if extra := parseMetadataAttr(attr(target, attrScrollMetadata)); extra != nil {
			additional["scroll_container_additional"] = extra
		}
		if ds := scrollDataset(target); ds != nil {
			additional["scroll_container_dataset"] = ds
		}
		if md.InteractionTarget == "" {
			md.InteractionTarget = selectorPath(target)
		}
	}

	if section != nil {
		selector := selectorPath(section)
		sectionTarget := scrollTarget(section)
		additional["section_selector"] = selector
		if sectionTarget != "" {
			additional["section_target"] = sectionTarget
		}
		if id := section.ID(); id != "" {
			additional["section_id"] = id
		}
		if extra := parseMetadataAttr(attr(section, attrScrollMetadata)); extra != nil {
			additional["section_additional"] = extra
		}
		if ds := scrollDataset(section); ds != nil {
			additional["section_dataset"] = ds
		}
		md.InteractionTarget = selector
		if sectionTarget != "" {
			md.InteractionTarget = sectionTarget
		}
		if label := elementLabel(section); label != "" {
			md.InteractionLabel = label
		}
	}

	md.Additional = additional
	return md
}

func scrollTarget(el Element) string {
	if v := attr(el, attrScrollTarget); v != "" {
		return v
	}
	return attr(el, attrTarget)
}

var reservedScrollKeys = map[string]bool{
	"analyticsScrollSection":  true,
	"analyticsScrollTarget":   true,
	"analyticsScrollLabel":    true,
	"analyticsScrollMetadata": true,
}

// scrollDataset forwards the non-empty data-analytics-scroll-* attributes
// that carry no meaning of their own.
func scrollDataset(el Element) map[string]any {
	return dataset(el, false, func(key string) bool {
		return strings.HasPrefix(key, "analyticsScroll") && !reservedScrollKeys[key]
	})
}

// HandleScroll schedules a depth calculation for target, nil meaning the
// window.
func (t *Tracker) HandleScroll(target Element) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.scroll.scheduleLocked(target)
}

// HandleResize schedules a window depth calculation.
func (t *Tracker) HandleResize() {
	t.HandleScroll(nil)
}
