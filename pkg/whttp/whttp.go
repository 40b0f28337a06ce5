package whttp

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/hashicorp/go-retryablehttp"
)

type WHTTPHeader struct {
	Name  string
	Value string
}

type WHTTPReq struct {
	URL     string
	Method  string
	Body    string
	Headers []WHTTPHeader
}

type WHTTPRes struct {
	StatusCode int
	BodyString string
	Headers    http.Header
	// FinalURL is the URL of the last request after redirects were followed.
	FinalURL string
}

// SendHTTPRequest performs wReq with client and buffers the whole body.
func SendHTTPRequest(ctx context.Context, wReq *WHTTPReq, client *retryablehttp.Client, userAgent string) (wRes *WHTTPRes, err error) {
	var body interface{}
	if wReq.Body != "" {
		body = strings.NewReader(wReq.Body)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, wReq.Method, wReq.URL, body)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(req.Host, ":80") {
		req.Host = strings.TrimSuffix(req.Host, ":80")
	} else if strings.HasSuffix(req.Host, ":443") {
		req.Host = strings.TrimSuffix(req.Host, ":443")
	}

	// Set common headers
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en")
	req.Header.Set("Cache-Control", "no-transform")

	for _, h := range wReq.Headers {
		req.Header.Set(h.Name, h.Value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", wReq.URL, err)
	}

	wRes = &WHTTPRes{
		StatusCode: resp.StatusCode,
		BodyString: string(bodyBytes),
		Headers:    resp.Header,
		FinalURL:   wReq.URL,
	}
	if resp.Request != nil && resp.Request.URL != nil {
		wRes.FinalURL = resp.Request.URL.String()
	}

	return wRes, nil
}

// IsJSON reports whether the response declared a JSON body.
func (r *WHTTPRes) IsJSON() bool {
	return strings.Contains(strings.ToLower(r.Headers.Get("Content-Type")), "json")
}
