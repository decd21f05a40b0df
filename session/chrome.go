package session

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// ChromeBrowser drives a local Chrome through the DevTools protocol.
type ChromeBrowser struct {
	ctx         context.Context
	cancelAlloc context.CancelFunc
	cancel      context.CancelFunc
}

// NewChromeBrowser starts Chrome. Extra allocator options are appended to
// the chromedp defaults.
func NewChromeBrowser(ctx context.Context, headless bool, extra ...chromedp.ExecAllocatorOption) (*ChromeBrowser, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.WindowSize(1280, 900),
	)
	opts = append(opts, extra...)

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	bctx, cancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(bctx); err != nil {
		cancel()
		cancelAlloc()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	return &ChromeBrowser{ctx: bctx, cancelAlloc: cancelAlloc, cancel: cancel}, nil
}

// NewPage opens a tab with network events enabled.
func (b *ChromeBrowser) NewPage(ctx context.Context) (Page, error) {
	tctx, cancel := chromedp.NewContext(b.ctx)
	if err := chromedp.Run(tctx, network.Enable()); err != nil {
		cancel()
		return nil, fmt.Errorf("open tab: %w", err)
	}
	return &chromePage{ctx: tctx, cancel: cancel}, nil
}

// Close shuts the browser down.
func (b *ChromeBrowser) Close() error {
	b.cancel()
	b.cancelAlloc()
	return nil
}

type chromePage struct {
	ctx    context.Context // tab context
	cancel context.CancelFunc
}

// scope derives a tab context that also ends when ctx does.
func (p *chromePage) scope(ctx context.Context) (context.Context, context.CancelFunc) {
	var (
		tctx   context.Context
		cancel context.CancelFunc
	)
	if deadline, ok := ctx.Deadline(); ok {
		tctx, cancel = context.WithDeadline(p.ctx, deadline)
	} else {
		tctx, cancel = context.WithCancel(p.ctx)
	}
	stop := context.AfterFunc(ctx, cancel)
	return tctx, func() {
		stop()
		cancel()
	}
}

func (p *chromePage) Navigate(ctx context.Context, url string) (int, error) {
	tctx, done := p.scope(ctx)
	defer done()
	resp, err := chromedp.RunResponse(tctx, chromedp.Navigate(url))
	if resp == nil {
		return 0, err
	}
	return int(resp.Status), err
}

func (p *chromePage) Click(ctx context.Context, selector string) error {
	tctx, done := p.scope(ctx)
	defer done()
	return chromedp.Run(tctx, chromedp.Click(selector, chromedp.ByQuery, chromedp.NodeVisible))
}

func (p *chromePage) Fill(ctx context.Context, selector, value string) error {
	tctx, done := p.scope(ctx)
	defer done()
	return chromedp.Run(tctx,
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	)
}

func (p *chromePage) WaitFirst(ctx context.Context, timeout time.Duration, selectors ...string) (string, error) {
	wctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	tctx, done := p.scope(wctx)
	defer done()

	found := make(chan string, len(selectors))
	for _, sel := range selectors {
		go func() {
			if err := chromedp.Run(tctx, chromedp.WaitVisible(sel, chromedp.ByQuery)); err == nil {
				found <- sel
			}
		}()
	}
	select {
	case sel := <-found:
		return sel, nil
	case <-tctx.Done():
		if err := ctx.Err(); err != nil {
			return "", err
		}
		return "", ErrWaitTimeout
	}
}

// CaptureRequest merges the headers of the basic request event with its
// extra-info event; Chrome only reports cookies in the latter.
func (p *chromePage) CaptureRequest(ctx context.Context, urlPart string, trigger func(context.Context) error) (http.Header, error) {
	tctx, done := p.scope(ctx)
	defer done()

	var (
		mu      sync.Mutex
		target  network.RequestID
		extra   = make(map[network.RequestID]network.Headers)
		headers = make(http.Header)
		notify  = make(chan struct{}, 1)
	)
	merge := func(h network.Headers) {
		for k, v := range h {
			headers.Set(k, fmt.Sprint(v))
		}
		select {
		case notify <- struct{}{}:
		default:
		}
	}
	chromedp.ListenTarget(tctx, func(ev any) {
		mu.Lock()
		defer mu.Unlock()
		switch e := ev.(type) {
		case *network.EventRequestWillBeSent:
			if target != "" || e.Request == nil || !strings.Contains(e.Request.URL, urlPart) {
				return
			}
			target = e.RequestID
			merge(e.Request.Headers)
			if h, ok := extra[target]; ok {
				merge(h)
			}
		case *network.EventRequestWillBeSentExtraInfo:
			if target == "" {
				extra[e.RequestID] = e.Headers
				return
			}
			if e.RequestID == target {
				merge(e.Headers)
			}
		}
	})

	if err := trigger(tctx); err != nil {
		return nil, err
	}
	for {
		mu.Lock()
		complete := headers.Get("Authorization") != "" && headers.Get("Cookie") != ""
		snapshot := headers.Clone()
		mu.Unlock()
		if complete {
			return snapshot, nil
		}
		select {
		case <-notify:
		case <-tctx.Done():
			if len(snapshot) > 0 {
				return snapshot, nil
			}
			return nil, fmt.Errorf("capture %s: %w", urlPart, tctx.Err())
		}
	}
}

func (p *chromePage) Cookies(ctx context.Context) ([]*http.Cookie, error) {
	tctx, done := p.scope(ctx)
	defer done()
	var cookies []*network.Cookie
	err := chromedp.Run(tctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().Do(ctx)
		return err
	}))
	if err != nil {
		return nil, err
	}
	out := make([]*http.Cookie, 0, len(cookies))
	for _, c := range cookies {
		out = append(out, &http.Cookie{Name: c.Name, Value: c.Value, Domain: c.Domain, Path: c.Path})
	}
	return out, nil
}

func (p *chromePage) Close() error {
	p.cancel()
	return nil
}
