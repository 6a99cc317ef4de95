package tracker

import (
	"strings"
	"time"

	"github.com/Arsene94/dacarsfe-sub002/internal/event"
)

var reservedCTAKeys = map[string]bool{
	"analyticsEvent":    true,
	"analyticsLabel":    true,
	"analyticsTarget":   true,
	"analyticsMetadata": true,
	"analyticsCta":      true,
}

func isCTA(el Element) bool {
	return hasAttr(el, attrEvent) || hasAttr(el, attrCTA)
}

func isTrackedForm(el Element) bool {
	return strings.EqualFold(el.TagName(), "form") && hasAttr(el, attrForm)
}

// HandleClick reports a click on target when it sits inside an element
// marked with data-analytics-event or data-analytics-cta.
func (t *Tracker) HandleClick(target Element) {
	if target == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.public || !t.client.Enabled() {
		return
	}

	el := closest(target, isCTA)
	if el == nil {
		return
	}
	typ := attr(el, attrEvent)
	if typ == "" && attr(el, attrCTA) != "" {
		typ = event.TypeCTAClick
	}
	if typ == "" {
		return
	}

	md := &event.Metadata{}
	if label := attr(el, attrLabel); label != "" {
		md.InteractionLabel = label
	} else if text := strings.TrimSpace(el.TextContent()); text != "" {
		md.InteractionLabel = truncate(text, maxLabelRunes)
	}
	md.InteractionTarget = attr(el, attrTarget)
	if md.InteractionTarget == "" {
		md.InteractionTarget = selectorPath(el)
	}

	additional := map[string]any{}
	for k, v := range parseMetadataAttr(attr(el, attrMetadata)) {
		additional[k] = v
	}
	if ds := dataset(el, true, func(key string) bool { return !reservedCTAKeys[key] }); ds != nil {
		additional["dataset"] = ds
	}
	elapsed := t.pageElapsedLocked()
	additional["page_time_ms"] = elapsed
	md.Additional = additional
	md.DurationMs = event.Int64(elapsed)

	t.client.Track(event.Input{Type: typ, Metadata: md})
}

// HandleFocusIn emits form_start the first time focus enters a tracked form
// during the current view.
func (t *Tracker) HandleFocusIn(target Element) {
	if target == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.public || !t.client.Enabled() {
		return
	}

	form := closest(target, isTrackedForm)
	if form == nil {
		return
	}
	if _, started := t.forms[form.Key()]; started {
		return
	}
	t.forms[form.Key()] = t.clock.Now()

	elapsed := t.pageElapsedLocked()
	md := formMetadata(form)
	md.Additional["page_time_ms"] = elapsed
	md.DurationMs = event.Int64(elapsed)

	t.client.Track(event.Input{Type: event.TypeFormStart, Metadata: md})
}

// HandleSubmit emits form_submit for a tracked form, with the completion
// time when form_start fired earlier in the view.
func (t *Tracker) HandleSubmit(form Element) {
	if form == nil || !isTrackedForm(form) {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.public || !t.client.Enabled() {
		return
	}

	elapsed := t.pageElapsedLocked()
	startedAt, started := t.forms[form.Key()]

	md := formMetadata(form)
	md.Additional["action"] = nullable(attr(form, "action"))
	md.Additional["started"] = started
	md.Additional["page_time_ms"] = elapsed
	if started {
		completion := roundMs(float64(t.clock.Since(startedAt)) / float64(time.Millisecond))
		md.DurationMs = event.Int64(completion)
		md.Additional["form_completion_ms"] = completion
	} else {
		md.DurationMs = event.Int64(elapsed)
	}

	t.client.Track(event.Input{Type: event.TypeFormSubmit, Metadata: md})
}

func formMetadata(form Element) *event.Metadata {
	target := attr(form, attrTarget)
	if target == "" {
		target = selectorPath(form)
	}
	label := "form"
	for _, c := range []string{attr(form, attrLabel), attr(form, "aria-label"), attr(form, "name"), form.ID()} {
		if c != "" {
			label = c
			break
		}
	}
	return &event.Metadata{
		InteractionTarget: target,
		InteractionLabel:  label,
		Additional: map[string]any{
			"form_id":   nullable(form.ID()),
			"form_name": nullable(attr(form, "name")),
			"method":    formMethod(form),
		},
	}
}

// formMethod mirrors HTMLFormElement.method: unknown values read as "get".
func formMethod(form Element) string {
	switch m := strings.ToLower(strings.TrimSpace(attr(form, "method"))); m {
	case "post", "dialog":
		return m
	default:
		return "get"
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
