// Package environment describes what the analytics client can ask of its host:
// a DOM-capable page or a headless process. The client, identity store and
// resolvers depend only on these interfaces.
package environment

// Environment is the capability surface of the host page.
type Environment interface {
	// HasDOM is false for server-side rendering and other non-page hosts.
	HasDOM() bool
	// Location returns origin + path + query of the current document.
	Location() (string, error)
	// Referrer returns document.referrer or "".
	Referrer() string
	// DurableStorage survives browser restarts. May be nil.
	DurableStorage() Storage
	// SessionStorage is cleared when the browsing context closes. May be nil.
	SessionStorage() Storage
	// Viewport returns the inner window size.
	Viewport() (width, height int, ok bool)
	Platform() string
	// Languages returns navigator.language followed by navigator.languages.
	Languages() []string
	// Locale is the default locale of the runtime (Intl).
	Locale() string
	// TimeZone is the IANA zone name of the runtime (Intl).
	TimeZone() string
}

// Headless is the non-DOM environment.
type Headless struct{}

func (Headless) HasDOM() bool               { return false }
func (Headless) Location() (string, error)  { return "", nil }
func (Headless) Referrer() string           { return "" }
func (Headless) DurableStorage() Storage    { return nil }
func (Headless) SessionStorage() Storage    { return nil }
func (Headless) Viewport() (int, int, bool) { return 0, 0, false }
func (Headless) Platform() string           { return "" }
func (Headless) Languages() []string        { return nil }
func (Headless) Locale() string             { return "" }
func (Headless) TimeZone() string           { return "" }

// Static is a DOM-capable environment backed by plain values. Native hosts
// and tests use it in place of a browser.
type Static struct {
	URL         string
	LocationErr error
	ReferrerURL string
	Durable     Storage
	Session     Storage
	Width       int
	Height      int
	NoViewport  bool
	PlatformID  string
	Langs       []string
	LocaleTag   string
	Zone        string
}

// NewStatic returns a Static environment with in-memory storages.
func NewStatic(url string) *Static {
	return &Static{
		URL:     url,
		Durable: NewMemoryStorage(),
		Session: NewMemoryStorage(),
	}
}

func (s *Static) HasDOM() bool { return true }

func (s *Static) Location() (string, error) {
	if s.LocationErr != nil {
		return "", s.LocationErr
	}
	return s.URL, nil
}

func (s *Static) Referrer() string        { return s.ReferrerURL }
func (s *Static) DurableStorage() Storage { return s.Durable }
func (s *Static) SessionStorage() Storage { return s.Session }

func (s *Static) Viewport() (int, int, bool) {
	if s.NoViewport {
		return 0, 0, false
	}
	return s.Width, s.Height, true
}

func (s *Static) Platform() string    { return s.PlatformID }
func (s *Static) Languages() []string { return s.Langs }
func (s *Static) Locale() string      { return s.LocaleTag }
func (s *Static) TimeZone() string    { return s.Zone }
