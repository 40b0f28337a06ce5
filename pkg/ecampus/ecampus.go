// Package ecampus logs into the PSG eCampus student portal and extracts
// attendance, grades, internal marks, exam schedules and profile data from
// its pages.
package ecampus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nimora/nimora/pkg/browser"
)

const (
	DefaultBaseURL = "https://ecampus.psgtech.ac.in"

	defaultNavigationTimeout = 30 * time.Second
	defaultSelectorTimeout   = 10 * time.Second
)

var (
	ErrAuthentication       = errors.New("ecampus rejected the credentials")
	ErrNavigationTimeout    = errors.New("ecampus navigation timed out")
	ErrExtractionMismatch   = errors.New("ecampus page did not have the expected structure")
	ErrFeedbackDisabled     = errors.New("feedback automation is currently disabled")
	ErrInvalidFeedbackIndex = errors.New("invalid feedback index")
	ErrFeedbackAutomation   = errors.New("feedback automation failed")
	ErrUnknownVariant       = errors.New("unknown portal variant")
)

// Variant selects one of the two portal sub-systems. They have separate
// login forms and separate session cookies.
type Variant string

const (
	Studzone  Variant = "studzone"
	Studzone2 Variant = "studzone2"
)

type loginForm struct {
	path           string
	userField      string
	passField      string
	failureMarkers []string
}

var loginForms = map[Variant]loginForm{
	Studzone: {
		path:           "/studzone",
		userField:      `input[name="rollno"]`,
		passField:      `input[name="pass"]`,
		failureMarkers: []string{"Invalid", "incorrect", "error"},
	},
	Studzone2: {
		path:           "/studzone2/",
		userField:      `input[name="regno"]`,
		passField:      `input[name="passwd"]`,
		failureMarkers: []string{"Invalid", "incorrect"},
	},
}

// Credentials are supplied per request and never stored by this package.
type Credentials struct {
	RollNo   string
	Password string
}

// Logger abstracts logging so callers can use logrus, stdlib log, or any
// other logger that satisfies this interface.
type Logger interface {
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
	Debugf(format string, args ...interface{})
}

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Warnf(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Debugf(string, ...interface{}) {}

// Config holds the portal location and the per-step time bounds.
type Config struct {
	BaseURL           string
	NavigationTimeout time.Duration // defaults to 30s if <= 0
	SelectorTimeout   time.Duration // defaults to 10s if <= 0
	Log               Logger        // optional; nil = no logging
}

// Provider opens authenticated portal sessions.
type Provider struct {
	launcher browser.Launcher
	cfg      Config
	log      Logger
}

func NewProvider(launcher browser.Launcher, cfg Config) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.NavigationTimeout <= 0 {
		cfg.NavigationTimeout = defaultNavigationTimeout
	}
	if cfg.SelectorTimeout <= 0 {
		cfg.SelectorTimeout = defaultSelectorTimeout
	}
	log := cfg.Log
	if log == nil {
		log = nopLogger{}
	}
	return &Provider{launcher: launcher, cfg: cfg, log: log}
}

// Session is an authenticated page inside its own browser context. Close
// must be called on every path once the caller is done with it.
type Session struct {
	Variant Variant
	RollNo  string

	page     browser.Page
	bctx     browser.Context
	provider *Provider

	closeOnce sync.Once
	closeErr  error
}

// Page exposes the underlying page for multi-step UI walks.
func (s *Session) Page() browser.Page {
	return s.page
}

// Close releases the browser context. It is safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.closeErr = s.bctx.Close()
	})
	return s.closeErr
}

// Authenticate opens a fresh browser context, submits the login form of the
// requested variant and checks the landing page for the portal's failure
// messages. On any error the context is already released.
func (p *Provider) Authenticate(ctx context.Context, variant Variant, creds Credentials) (*Session, error) {
	form, ok := loginForms[variant]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownVariant, variant)
	}

	bctx, err := p.launcher.Launch(ctx)
	if err != nil {
		return nil, fmt.Errorf("launching browser: %w", err)
	}
	s := &Session{Variant: variant, RollNo: NormalizeRollNo(creds.RollNo), bctx: bctx, provider: p}

	fail := func(err error) (*Session, error) {
		if cerr := s.Close(); cerr != nil {
			p.log.Warnf("Error closing browser for %s: %v", s.RollNo, cerr)
		}
		return nil, err
	}

	s.page, err = bctx.NewPage(ctx)
	if err != nil {
		return fail(fmt.Errorf("opening page: %w", err))
	}

	if err := s.page.Goto(ctx, p.cfg.BaseURL+form.path, p.cfg.NavigationTimeout); err != nil {
		return fail(classify("loading login page", err))
	}
	if err := s.page.WaitForSelector(ctx, form.userField, p.cfg.SelectorTimeout); err != nil {
		return fail(classify("waiting for login form", err))
	}
	if err := s.page.Type(form.userField, creds.RollNo); err != nil {
		return fail(classify("filling roll number", err))
	}
	if err := s.page.Type(form.passField, creds.Password); err != nil {
		return fail(classify("filling password", err))
	}
	if n, _ := s.page.Count("#terms"); n > 0 {
		if err := s.page.Click(ctx, "#terms"); err != nil {
			return fail(classify("accepting terms", err))
		}
	}

	submit := `input[type="submit"]`
	if n, _ := s.page.Count(submit); n == 0 {
		submit = "#btnLogin"
	}
	if err := s.page.Click(ctx, submit); err != nil {
		return fail(classify("submitting login form", err))
	}

	content, err := s.page.Content()
	if err != nil {
		return fail(fmt.Errorf("reading login result: %w", err))
	}
	if marker, found := containsAny(visibleText(content), form.failureMarkers); found {
		p.log.Debugf("Login for %s on %s rejected (page mentions %q)", s.RollNo, variant, marker)
		return fail(fmt.Errorf("%w: %s login for %s", ErrAuthentication, variant, s.RollNo))
	}

	p.log.Infof("Successfully logged into %s for %s", variant, s.RollNo)
	return s, nil
}

// WithSession authenticates, runs fn and releases the session on every exit
// path.
func (p *Provider) WithSession(ctx context.Context, variant Variant, creds Credentials, fn func(*Session) error) error {
	s, err := p.Authenticate(ctx, variant, creds)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			p.log.Warnf("Error closing browser for %s: %v", s.RollNo, cerr)
		}
	}()
	return fn(s)
}

// document navigates to a portal path and parses the resulting page.
func (s *Session) document(ctx context.Context, path string) (*goquery.Document, error) {
	if err := s.page.Goto(ctx, s.provider.cfg.BaseURL+path, s.provider.cfg.NavigationTimeout); err != nil {
		return nil, classify("loading "+path, err)
	}
	content, err := s.page.Content()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}
	return goquery.NewDocumentFromReader(strings.NewReader(content))
}

func (s *Session) waitFor(ctx context.Context, selector string) error {
	if err := s.page.WaitForSelector(ctx, selector, s.provider.cfg.SelectorTimeout); err != nil {
		return classify("waiting for "+selector, err)
	}
	return nil
}

// classify folds browser-level waits and timeouts into ErrNavigationTimeout.
func classify(step string, err error) error {
	switch {
	case errors.Is(err, browser.ErrTimeout),
		errors.Is(err, browser.ErrSelectorNotFound),
		errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", ErrNavigationTimeout, step, err)
	}
	return fmt.Errorf("%s: %w", step, err)
}

// visibleText drops scripts and styles so keywords inside them do not count
// as portal messages.
func visibleText(content string) string {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(content))
	if err != nil {
		return content
	}
	doc.Find("script, style, noscript").Remove()
	return doc.Text()
}

func containsAny(s string, markers []string) (string, bool) {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return m, true
		}
	}
	return "", false
}

// NormalizeRollNo is the canonical form used for keys and responses.
func NormalizeRollNo(rollNo string) string {
	return strings.ToUpper(strings.TrimSpace(rollNo))
}
