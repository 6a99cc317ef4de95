// Package geo infers a best-effort visitor country and a device snapshot from
// the host environment. Nothing here touches the network or asks for
// permissions; every lookup is synchronous.
package geo

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"golang.org/x/text/language"

	"github.com/Arsene94/dacarsfe-sub002/internal/environment"
	"github.com/Arsene94/dacarsfe-sub002/internal/event"
	"github.com/Arsene94/dacarsfe-sub002/internal/logging"
)

var (
	alpha2 = regexp.MustCompile(`^[A-Za-z]{2}$`)
	m49    = regexp.MustCompile(`^[0-9]{3}$`)
	spaces = regexp.MustCompile(`\s+`)

	upperTimezones = func() map[string]string {
		m := make(map[string]string, len(timezoneCountries))
		for zone, cc := range timezoneCountries {
			m[strings.ToUpper(zone)] = cc
		}
		return m
	}()
)

// Resolver resolves country and device for one page lifetime.
type Resolver struct {
	env environment.Environment

	once    sync.Once
	country string
}

func NewResolver(env environment.Environment) *Resolver {
	if env == nil {
		env = environment.Headless{}
	}
	return &Resolver{env: env}
}

// ResolveCountry returns a normalized country code. A valid explicit value
// wins and is not cached; otherwise the environment is consulted once:
// default locale, then time zone, then navigator languages.
func (r *Resolver) ResolveCountry(explicit string) string {
	if cc := NormalizeCountry(explicit); cc != "" {
		return cc
	}
	r.once.Do(func() {
		r.country = r.inferCountry()
	})
	return r.country
}

func (r *Resolver) inferCountry() (cc string) {
	defer func() {
		if rec := recover(); rec != nil {
			logging.Warn().Str("panic", fmt.Sprint(rec)).Msg("geo: country inference failed")
			cc = ""
		}
	}()

	if cc := regionFromLocale(r.env.Locale()); cc != "" {
		return cc
	}
	if cc := CountryForTimeZone(r.env.TimeZone()); cc != "" {
		return cc
	}
	for _, lang := range r.env.Languages() {
		if cc := regionFromLocale(lang); cc != "" {
			return cc
		}
	}
	return ""
}

// NormalizeCountry accepts a 2-letter ISO code, a 3-digit UN M49 code or a
// locale tag with an explicit region, and returns its canonical form. It
// returns "" for anything else.
func NormalizeCountry(value string) string {
	value = strings.TrimSpace(value)
	if value == "" {
		return ""
	}
	switch {
	case alpha2.MatchString(value):
		region, err := language.ParseRegion(strings.ToUpper(value))
		if err != nil || !region.IsCountry() {
			return ""
		}
		return region.String()
	case m49.MatchString(value):
		region, err := language.ParseRegion(value)
		if err != nil {
			return ""
		}
		return region.String()
	}
	return regionFromLocale(value)
}

// regionFromLocale extracts an explicitly stated region from a BCP 47 tag.
// Inferred regions (e.g. "en" implying US) are ignored.
func regionFromLocale(tag string) string {
	tag = strings.TrimSpace(tag)
	if tag == "" {
		return ""
	}
	parsed, err := language.Parse(tag)
	if err != nil {
		return ""
	}
	region, confidence := parsed.Region()
	if confidence != language.Exact {
		return ""
	}
	return region.String()
}

// CountryForTimeZone looks a zone name up by exact match, then with
// whitespace normalized to underscores, then case-insensitively.
func CountryForTimeZone(zone string) string {
	if zone == "" {
		return ""
	}
	if cc, ok := timezoneCountries[zone]; ok {
		return cc
	}
	normalized := spaces.ReplaceAllString(strings.TrimSpace(zone), "_")
	if cc, ok := timezoneCountries[normalized]; ok {
		return cc
	}
	return upperTimezones[strings.ToUpper(normalized)]
}

// ResolveDevice snapshots viewport and navigator fields. It returns nil
// outside a DOM or when nothing resolves.
func (r *Resolver) ResolveDevice() (device *event.DeviceInfo) {
	if !r.env.HasDOM() {
		return nil
	}
	defer func() {
		if rec := recover(); rec != nil {
			logging.Warn().Str("panic", fmt.Sprint(rec)).Msg("geo: device snapshot failed")
			device = nil
		}
	}()

	d := &event.DeviceInfo{}
	resolved := false
	if w, h, ok := r.env.Viewport(); ok {
		d.Width = event.Int(w)
		d.Height = event.Int(h)
		resolved = true
	}
	if p := r.env.Platform(); p != "" {
		d.Platform = p
		resolved = true
	}
	for _, lang := range r.env.Languages() {
		if lang != "" {
			d.Language = lang
			resolved = true
			break
		}
	}
	if tz := r.env.TimeZone(); tz != "" {
		d.Timezone = tz
		resolved = true
	}
	if !resolved {
		return nil
	}
	return d
}
