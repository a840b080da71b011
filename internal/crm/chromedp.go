package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// ChromeClient implements BrowserClient on a dedicated Chrome instance
// via the DevTools protocol. One client owns one browser; Close tears
// both the tab and the process down.
type ChromeClient struct {
	browserCtx  context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc

	dialogMu sync.Mutex
	onDialog func(message string)
}

// NewChromeClient launches Chrome and opens a blank tab. The parent ctx
// bounds the browser's lifetime.
func NewChromeClient(ctx context.Context, headless bool) (*ChromeClient, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", headless),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(1920, 1080),
	)
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	browserCtx, cancelTab := chromedp.NewContext(allocCtx)

	if err := chromedp.Run(browserCtx); err != nil {
		cancelTab()
		cancelAlloc()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	c := &ChromeClient{
		browserCtx:  browserCtx,
		cancelTab:   cancelTab,
		cancelAlloc: cancelAlloc,
	}

	chromedp.ListenTarget(browserCtx, func(ev interface{}) {
		dialog, ok := ev.(*page.EventJavascriptDialogOpening)
		if !ok {
			return
		}
		c.dialogMu.Lock()
		handler := c.onDialog
		c.dialogMu.Unlock()
		if handler != nil {
			go handler(dialog.Message)
		}
		// Accept every dialog so the page never blocks on one.
		go func() {
			_ = chromedp.Run(browserCtx, page.HandleJavaScriptDialog(true))
		}()
	})

	return c, nil
}

func (c *ChromeClient) Navigate(ctx context.Context, url string) error {
	return c.run(ctx, chromedp.Navigate(url), chromedp.WaitReady("body"))
}

func (c *ChromeClient) Fill(ctx context.Context, locator, text string) error {
	sel, opt := c.selector(locator)
	return c.run(ctx, chromedp.Clear(sel, opt), chromedp.SendKeys(sel, text, opt))
}

func (c *ChromeClient) SelectOption(ctx context.Context, locator, value string) error {
	script := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		if (!el) return false;
		el.value = %s;
		el.dispatchEvent(new Event('change', {bubbles: true}));
		return true;
	})()`, jsString(locator), jsString(value))

	var found bool
	if err := c.run(ctx, chromedp.Evaluate(script, &found)); err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("no element matches %q", locator)
	}
	return nil
}

func (c *ChromeClient) Click(ctx context.Context, locator string) error {
	sel, opt := c.selector(locator)
	return c.run(ctx, chromedp.Click(sel, opt))
}

func (c *ChromeClient) Upload(ctx context.Context, locator, path string) error {
	sel, opt := c.selector(locator)
	return c.run(ctx, chromedp.SetUploadFiles(sel, []string{path}, opt))
}

func (c *ChromeClient) WaitFor(ctx context.Context, locator string, state WaitState, timeout time.Duration) error {
	visible := state == WaitVisible
	expr := fmt.Sprintf(`(() => {
		const el = document.querySelector(%s);
		const visible = !!el && el.offsetParent !== null;
		return visible === %t;
	})()`, jsString(locator), visible)

	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	var reached bool
	return c.run(waitCtx, chromedp.Poll(expr, &reached, chromedp.WithPollingInterval(100*time.Millisecond)))
}

func (c *ChromeClient) LocatorCount(ctx context.Context, locator string) (int, error) {
	var count int
	script := fmt.Sprintf(`document.querySelectorAll(%s).length`, jsString(locator))
	if err := c.run(ctx, chromedp.Evaluate(script, &count)); err != nil {
		return 0, err
	}
	return count, nil
}

func (c *ChromeClient) TextContents(ctx context.Context, locator string) ([]string, error) {
	var texts []string
	script := fmt.Sprintf(`Array.from(document.querySelectorAll(%s))
		.map(el => (el.getAttribute('title') || el.textContent || '').trim())`, jsString(locator))
	if err := c.run(ctx, chromedp.Evaluate(script, &texts)); err != nil {
		return nil, err
	}
	return texts, nil
}

func (c *ChromeClient) OnDialog(handler func(message string)) {
	c.dialogMu.Lock()
	c.onDialog = handler
	c.dialogMu.Unlock()
}

func (c *ChromeClient) Close(ctx context.Context) error {
	err := chromedp.Cancel(c.browserCtx)
	c.cancelTab()
	c.cancelAlloc()
	return err
}

// run executes actions on the browser context while honoring the
// caller's deadline and cancellation.
func (c *ChromeClient) run(ctx context.Context, actions ...chromedp.Action) error {
	runCtx := c.browserCtx
	if deadline, ok := ctx.Deadline(); ok {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithDeadline(runCtx, deadline)
		defer cancel()
	}
	done := make(chan error, 1)
	go func() { done <- chromedp.Run(runCtx, actions...) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// selector translates an engine locator into a chromedp selector. CSS
// passes straight through; the "text=" form becomes an XPath match on
// visible text.
func (c *ChromeClient) selector(locator string) (string, chromedp.QueryOption) {
	if text, ok := strings.CutPrefix(locator, "text="); ok {
		return fmt.Sprintf(`//*[contains(normalize-space(.), %s)][not(.//*[contains(normalize-space(.), %s)])]`,
			xpathLiteral(text), xpathLiteral(text)), chromedp.BySearch
	}
	return locator, chromedp.ByQuery
}

func jsString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

// xpathLiteral quotes s for use inside an XPath expression. XPath 1.0
// has no escape syntax, so strings containing both quote kinds need
// concat().
func xpathLiteral(s string) string {
	if !strings.Contains(s, `'`) {
		return "'" + s + "'"
	}
	if !strings.Contains(s, `"`) {
		return `"` + s + `"`
	}
	parts := strings.Split(s, `'`)
	for i, p := range parts {
		parts[i] = "'" + p + "'"
	}
	return "concat(" + strings.Join(parts, `,"'",`) + ")"
}
