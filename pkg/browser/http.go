package browser

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/hashicorp/go-retryablehttp"
	"github.com/nimora/nimora/pkg/whttp"
	"github.com/weppos/publicsuffix-go/publicsuffix"
	"golang.org/x/net/html"
)

const (
	DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

	defaultNavigationTimeout = 30 * time.Second
)

var onclickLocation = regexp.MustCompile(`(?:window\.)?location(?:\.href)?\s*=\s*['"]([^'"]+)['"]`)

// HTTPLauncher drives pages over plain HTTP: documents are fetched and
// parsed, forms are filled in the parsed DOM and submitted the way a browser
// would submit them. Script-only widgets are not executed.
type HTTPLauncher struct {
	UserAgent string
	Proxy     string
	// RetryMax is handed to the retryablehttp client. Zero disables retries.
	RetryMax int
	// NavigationTimeout bounds a Goto or form submission when the caller
	// passes no timeout of its own.
	NavigationTimeout time.Duration
}

func (l *HTTPLauncher) Launch(ctx context.Context) (Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.CookieJarList})
	if err != nil {
		return nil, err
	}

	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = l.RetryMax
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.HTTPClient.Jar = jar

	if l.Proxy != "" {
		proxyURL, err := url.Parse(l.Proxy)
		if err != nil {
			return nil, fmt.Errorf("invalid proxy URL: %v", err)
		}
		client.HTTPClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	ua := l.UserAgent
	if ua == "" {
		ua = DefaultUserAgent
	}
	timeout := l.NavigationTimeout
	if timeout <= 0 {
		timeout = defaultNavigationTimeout
	}

	return &httpContext{client: client, userAgent: ua, timeout: timeout}, nil
}

type httpContext struct {
	client    *retryablehttp.Client
	userAgent string
	timeout   time.Duration

	mu     sync.Mutex
	closed bool
}

func (c *httpContext) NewPage(ctx context.Context) (Page, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	return &httpPage{bctx: c}, nil
}

func (c *httpContext) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.client.HTTPClient.CloseIdleConnections()
	return nil
}

func (c *httpContext) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type httpPage struct {
	bctx *httpContext

	url    *url.URL
	raw    string
	isHTML bool
	doc    *goquery.Document
}

func (p *httpPage) Goto(ctx context.Context, rawURL string, timeout time.Duration) error {
	target, err := p.resolve(rawURL)
	if err != nil {
		return err
	}
	return p.navigate(ctx, &whttp.WHTTPReq{Method: "GET", URL: target.String()}, timeout)
}

func (p *httpPage) navigate(ctx context.Context, req *whttp.WHTTPReq, timeout time.Duration) error {
	if p.bctx.isClosed() {
		return ErrClosed
	}
	if timeout <= 0 {
		timeout = p.bctx.timeout
	}
	if p.url != nil {
		req.Headers = append(req.Headers, whttp.WHTTPHeader{Name: "Referer", Value: p.url.String()})
	}

	navCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res, err := whttp.SendHTTPRequest(navCtx, req, p.bctx.client, p.bctx.userAgent)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return fmt.Errorf("%w: %s %s after %s", ErrTimeout, req.Method, req.URL, timeout)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("%w: %s %s: %v", ErrNavigation, req.Method, req.URL, err)
	}
	if res.StatusCode >= 400 {
		return fmt.Errorf("%w: %s %s returned %d", ErrNavigation, req.Method, req.URL, res.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(res.BodyString))
	if err != nil {
		return fmt.Errorf("%w: parsing %s: %v", ErrNavigation, res.FinalURL, err)
	}

	final, err := url.Parse(res.FinalURL)
	if err != nil {
		return err
	}
	p.url = final
	p.raw = res.BodyString
	p.isHTML = !res.IsJSON()
	p.doc = doc
	return nil
}

func (p *httpPage) resolve(ref string) (*url.URL, error) {
	u, err := url.Parse(strings.TrimSpace(ref))
	if err != nil {
		return nil, err
	}
	if p.url != nil {
		u = p.url.ResolveReference(u)
	}
	if !u.IsAbs() {
		return nil, fmt.Errorf("%w: relative URL %q without a loaded page", ErrNavigation, ref)
	}
	return u, nil
}

func (p *httpPage) find(selector string) (*goquery.Selection, error) {
	if p.doc == nil {
		return nil, fmt.Errorf("%w: %s (no document loaded)", ErrSelectorNotFound, selector)
	}
	return p.doc.Find(selector), nil
}

func (p *httpPage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// Documents are static once loaded, so a single look is conclusive.
	sel, err := p.find(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	return nil
}

func (p *httpPage) Type(selector, text string) error {
	sel, err := p.find(selector)
	if err != nil {
		return err
	}
	if sel.Length() == 0 {
		return fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	el := sel.First()
	if goquery.NodeName(el) == "textarea" {
		el.SetText(text)
		return nil
	}
	setAttr(el.Get(0), "value", text)
	return nil
}

func (p *httpPage) Click(ctx context.Context, selector string) error {
	return p.ClickNth(ctx, selector, 0)
}

func (p *httpPage) ClickNth(ctx context.Context, selector string, n int) error {
	sel, err := p.find(selector)
	if err != nil {
		return err
	}
	if n < 0 || n >= sel.Length() {
		return fmt.Errorf("%w: %s[%d] (%d matches)", ErrSelectorNotFound, selector, n, sel.Length())
	}
	return p.activate(ctx, sel.Eq(n))
}

// activate performs what a click on el would do without scripts.
func (p *httpPage) activate(ctx context.Context, el *goquery.Selection) error {
	switch goquery.NodeName(el) {
	case "label":
		if id, ok := el.Attr("for"); ok {
			p.check(p.byID(id))
			return nil
		}
		if inner := el.Find("input").First(); inner.Length() > 0 {
			p.check(inner)
			return nil
		}
	case "input":
		switch strings.ToLower(el.AttrOr("type", "text")) {
		case "radio", "checkbox":
			p.check(el)
			return nil
		case "submit", "image":
			return p.submit(ctx, p.formOf(el), el)
		}
	case "button":
		if t := strings.ToLower(el.AttrOr("type", "submit")); t == "submit" {
			if form := p.formOf(el); form.Length() > 0 {
				return p.submit(ctx, form, el)
			}
		}
	}

	if link := el.Closest("a[href]"); link.Length() > 0 {
		href := strings.TrimSpace(link.AttrOr("href", ""))
		if href != "" && !strings.HasPrefix(href, "#") && !strings.HasPrefix(strings.ToLower(href), "javascript:") {
			return p.Goto(ctx, href, 0)
		}
	}

	for s := el; s.Length() > 0; s = s.Parent() {
		if m := onclickLocation.FindStringSubmatch(s.AttrOr("onclick", "")); m != nil {
			return p.Goto(ctx, m[1], 0)
		}
	}

	// Nothing navigational: the element only drives client-side widgets.
	return nil
}

func (p *httpPage) byID(id string) *goquery.Selection {
	return p.doc.Find("[id]").FilterFunction(func(_ int, s *goquery.Selection) bool {
		return s.AttrOr("id", "") == id
	}).First()
}

func (p *httpPage) formOf(el *goquery.Selection) *goquery.Selection {
	if id, ok := el.Attr("form"); ok {
		return p.byID(id)
	}
	return el.Closest("form")
}

func (p *httpPage) check(input *goquery.Selection) {
	if input.Length() == 0 {
		return
	}
	node := input.Get(0)
	switch strings.ToLower(input.AttrOr("type", "")) {
	case "radio":
		name := input.AttrOr("name", "")
		scope := input.Closest("form")
		if scope.Length() == 0 {
			scope = p.doc.Selection
		}
		scope.Find("input[type=radio]").Each(func(_ int, s *goquery.Selection) {
			if s.AttrOr("name", "") == name {
				s.RemoveAttr("checked")
			}
		})
		setAttr(node, "checked", "checked")
	case "checkbox":
		if _, on := input.Attr("checked"); on {
			input.RemoveAttr("checked")
		} else {
			setAttr(node, "checked", "checked")
		}
	}
}

func (p *httpPage) submit(ctx context.Context, form, submitter *goquery.Selection) error {
	if form.Length() == 0 {
		return nil
	}

	values := url.Values{}
	form.Find("input, select, textarea").Each(func(_ int, s *goquery.Selection) {
		name := s.AttrOr("name", "")
		if name == "" {
			return
		}
		if _, disabled := s.Attr("disabled"); disabled {
			return
		}
		switch goquery.NodeName(s) {
		case "input":
			switch strings.ToLower(s.AttrOr("type", "text")) {
			case "submit", "button", "image", "reset", "file":
			case "radio", "checkbox":
				if _, on := s.Attr("checked"); on {
					values.Add(name, s.AttrOr("value", "on"))
				}
			default:
				values.Add(name, s.AttrOr("value", ""))
			}
		case "select":
			opt := s.Find("option[selected]").First()
			if opt.Length() == 0 {
				opt = s.Find("option").First()
			}
			if opt.Length() > 0 {
				v, ok := opt.Attr("value")
				if !ok {
					v = strings.TrimSpace(opt.Text())
				}
				values.Add(name, v)
			}
		case "textarea":
			values.Add(name, s.Text())
		}
	})
	if submitter != nil {
		if name := submitter.AttrOr("name", ""); name != "" {
			values.Add(name, submitter.AttrOr("value", ""))
		}
	}

	target, err := p.resolve(form.AttrOr("action", ""))
	if err != nil {
		return err
	}
	target.Fragment = ""

	if strings.EqualFold(form.AttrOr("method", "get"), "post") {
		return p.navigate(ctx, &whttp.WHTTPReq{
			Method:  "POST",
			URL:     target.String(),
			Body:    values.Encode(),
			Headers: []whttp.WHTTPHeader{{Name: "Content-Type", Value: "application/x-www-form-urlencoded"}},
		}, 0)
	}
	target.RawQuery = values.Encode()
	return p.navigate(ctx, &whttp.WHTTPReq{Method: "GET", URL: target.String()}, 0)
}

func (p *httpPage) Count(selector string) (int, error) {
	sel, err := p.find(selector)
	if err != nil {
		return 0, err
	}
	return sel.Length(), nil
}

func (p *httpPage) Text(selector string) (string, error) {
	sel, err := p.find(selector)
	if err != nil {
		return "", err
	}
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", ErrSelectorNotFound, selector)
	}
	return strings.TrimSpace(sel.First().Text()), nil
}

func (p *httpPage) Content() (string, error) {
	if p.doc == nil {
		return "", nil
	}
	if !p.isHTML {
		return p.raw, nil
	}
	return p.doc.Html()
}

func (p *httpPage) URL() string {
	if p.url == nil {
		return ""
	}
	return p.url.String()
}

func setAttr(n *html.Node, key, val string) {
	for i := range n.Attr {
		if n.Attr[i].Key == key {
			n.Attr[i].Val = val
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: key, Val: val})
}
