package ecampus

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/nimora/nimora/pkg/browser"
)

// fakePage serves canned documents and evaluates selectors against them
// with goquery. Clicks are recorded and can swap the current document.
type fakePage struct {
	pages    map[string]string // url -> html
	onClick  map[string]string // selector -> html shown after the click
	clickErr map[string]error

	url     string
	content string
	typed   map[string]string
	clicks  []string
}

func (p *fakePage) doc() *goquery.Document {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(p.content))
	if err != nil {
		panic(err)
	}
	return doc
}

func (p *fakePage) Goto(ctx context.Context, url string, timeout time.Duration) error {
	html, ok := p.pages[url]
	if !ok {
		return fmt.Errorf("%w: no page at %s", browser.ErrNavigation, url)
	}
	p.url = url
	p.content = html
	return nil
}

func (p *fakePage) WaitForSelector(ctx context.Context, selector string, timeout time.Duration) error {
	if p.doc().Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", browser.ErrSelectorNotFound, selector)
	}
	return nil
}

func (p *fakePage) Type(selector, text string) error {
	if p.doc().Find(selector).Length() == 0 {
		return fmt.Errorf("%w: %s", browser.ErrSelectorNotFound, selector)
	}
	if p.typed == nil {
		p.typed = map[string]string{}
	}
	p.typed[selector] = text
	return nil
}

func (p *fakePage) Click(ctx context.Context, selector string) error {
	return p.click(selector, selector, 0)
}

func (p *fakePage) ClickNth(ctx context.Context, selector string, n int) error {
	return p.click(fmt.Sprintf("%s#%d", selector, n), selector, n)
}

func (p *fakePage) click(record, selector string, n int) error {
	if n >= p.doc().Find(selector).Length() {
		return fmt.Errorf("%w: %s", browser.ErrSelectorNotFound, record)
	}
	if err := p.clickErr[selector]; err != nil {
		return err
	}
	p.clicks = append(p.clicks, record)
	if html, ok := p.onClick[selector]; ok {
		p.content = html
	}
	return nil
}

func (p *fakePage) Count(selector string) (int, error) {
	return p.doc().Find(selector).Length(), nil
}

func (p *fakePage) Text(selector string) (string, error) {
	sel := p.doc().Find(selector)
	if sel.Length() == 0 {
		return "", fmt.Errorf("%w: %s", browser.ErrSelectorNotFound, selector)
	}
	return strings.TrimSpace(sel.First().Text()), nil
}

func (p *fakePage) Content() (string, error) { return p.content, nil }
func (p *fakePage) URL() string              { return p.url }

type fakeContext struct {
	page   *fakePage
	closes int
}

func (c *fakeContext) NewPage(ctx context.Context) (browser.Page, error) { return c.page, nil }

func (c *fakeContext) Close() error {
	c.closes++
	return nil
}

type fakeLauncher struct {
	bctx     *fakeContext
	launches int
}

func (l *fakeLauncher) Launch(ctx context.Context) (browser.Context, error) {
	l.launches++
	return l.bctx, nil
}

const testBase = "https://portal.test"

const studzoneLogin = `<html><body><form method="post">
<input name="rollno"><input name="pass" type="password">
<input type="submit" value="Login"></form></body></html>`

func newFakeProvider(page *fakePage) (*Provider, *fakeLauncher) {
	l := &fakeLauncher{bctx: &fakeContext{page: page}}
	return NewProvider(l, Config{BaseURL: testBase + "/"}), l
}
