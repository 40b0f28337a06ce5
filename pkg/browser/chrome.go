package browser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"golang.org/x/net/html"
)

const (
	defaultSettle = 250 * time.Millisecond
	pollInterval  = 100 * time.Millisecond
)

// ChromeLauncher drives a real Chrome through the DevTools protocol, so
// script-driven widgets behave as they do for a student. Selectors are
// matched on a snapshot of the live DOM with goquery, then the matched node
// is addressed by its structural path, which keeps jQuery-style selectors
// such as :contains working.
type ChromeLauncher struct {
	// ExecPath is the Chrome binary; empty lets chromedp look it up.
	ExecPath  string
	Headful   bool
	UserAgent string
	Proxy     string
	// NavigationTimeout bounds an action when the caller passes no timeout.
	NavigationTimeout time.Duration
	// Settle is waited after a click for the page to react.
	Settle time.Duration
}

func (l *ChromeLauncher) Launch(ctx context.Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ua := l.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserAgent(ua),
		chromedp.Flag("headless", !l.Headful),
	)
	if l.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(l.ExecPath))
	}
	if l.Proxy != "" {
		opts = append(opts, chromedp.ProxyServer(l.Proxy))
	}

	// The browser outlives the launching call; Close tears it down.
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.WithoutCancel(ctx), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("starting chrome: %w", err)
	}

	timeout := l.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}
	settle := l.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	return &chromeContext{
		ctx:     browserCtx,
		cancel:  func() { browserCancel(); allocCancel() },
		timeout: timeout,
		settle:  settle,
	}, nil
}

type chromeContext struct {
	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	settle  time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *chromeContext) NewPage(ctx context.Context) (Page, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	tabCtx, cancel := chromedp.NewContext(c.ctx)
	if err := chromedp.Run(tabCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("opening tab: %w", err)
	}
	return &chromePage{ctx: tabCtx, bctx: c}, nil
}

func (c *chromeContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.cancel()
	return nil
}

type chromePage struct {
	ctx  context.Context
	bctx *chromeContext
	url  string
}

// run executes actions on the tab, giving up after timeout or when ctx is
// done, whichever comes first.
func (p *chromePage) run(ctx context.Context, timeout time.Duration, actions ...chromedp.Action) error {
	if timeout <= 0 {
		timeout = p.bctx.timeout
	}
	runCtx, cancel := context.WithTimeout(p.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(runCtx, actions...)
	if err == nil {
		return nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w after %s", ErrTimeout, timeout)
	}
	return err
}

func (p *chromePage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	err := p.run(ctx, timeout,
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&p.url),
	)
	if err != nil && !errors.Is(err, ErrTimeout) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s: %v", ErrNavigation, url, err)
	}
	return err
}

func (p *chromePage) snapshot(ctx context.Context) (string, *goquery.Document, error) {
	var raw string
	if err := p.run(ctx, 0, chromedp.OuterHTML("html", &raw, chromedp.ByQuery)); err != nil {
		return "", nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(raw))
	if err != nil {
		return "", nil, err
	}
	return raw, doc, nil
}

func (p *chromePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = p.bctx.timeout
	}
	deadline := time.Now().Add(timeout)
	for {
		_, doc, err := p.snapshot(ctx)
		if err != nil {
			return err
		}
		if doc.Find(selector).Length() > 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

// resolve turns the n-th match of selector into a path Chrome can query.
func (p *chromePage) resolve(ctx context.Context, selector string, n int) (string, error) {
	_, doc, err := p.snapshot(ctx)
	if err != nil {
		return "", err
	}
	sel := doc.Find(selector)
	if n >= sel.Length() {
		return "", fmt.Errorf("%w: %s (match %d of %d)", ErrSelectorNotFound, selector, n, sel.Length())
	}
	return nodePath(sel.Eq(n)), nil
}

func (p *chromePage) Type(selector, text string) error {
	ctx := context.Background()
	path, err := p.resolve(ctx, selector, 0)
	if err != nil {
		return err
	}
	return p.run(ctx, 0,
		chromedp.SetValue(path, "", chromedp.ByQuery),
		chromedp.SendKeys(path, text, chromedp.ByQuery),
	)
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	return p.ClickNth(ctx, selector, 0)
}

func (p *chromePage) ClickNth(ctx context.Context, selector string, n int) error {
	path, err := p.resolve(ctx, selector, n)
	if err != nil {
		return err
	}
	return p.run(ctx, 0,
		chromedp.Click(path, chromedp.ByQuery),
		chromedp.Sleep(p.bctx.settle),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&p.url),
	)
}

func (p *chromePage) Count(selector string) (int, error) {
	_, doc, err := p.snapshot(context.Background())
	if err != nil {
		return 0, err
	}
	return doc.Find(selector).Length(), nil
}

func (p *chromePage) Text(selector string) (string, error) {
	_, doc, err := p.snapshot(context.Background())
	if err != nil {
		return "", err
	}
	sel := doc.Find(selector).First()
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	return strings.TrimSpace(sel.Text()), nil
}

func (p *chromePage) Content() (string, error) {
	raw, _, err := p.snapshot(context.Background())
	return raw, err
}

func (p *chromePage) URL() string {
	return p.url
}

// nodePath builds a child-index path from the document root to the first
// node of sel, e.g. "html > body:nth-child(2) > div:nth-child(3)".
func nodePath(sel *goquery.Selection) string {
	if sel.Length() == 0 {
		return ""
	}
	var parts []string
	for node := sel.Get(0); node != nil && node.Type == html.ElementNode; node = node.Parent {
		if node.Parent == nil || node.Parent.Type == html.DocumentNode {
			parts = append(parts, node.Data)
			break
		}
		idx := 1
		for sib := node.PrevSibling; sib != nil; sib = sib.PrevSibling {
			if sib.Type == html.ElementNode {
				idx++
			}
		}
		parts = append(parts, fmt.Sprintf("%s:nth-child(%d)", node.Data, idx))
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, " > ")
}
