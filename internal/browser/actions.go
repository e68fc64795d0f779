package browser

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/platform/apperr"
)

func refNotFoundErr(ref int) error {
	return apperr.New(apperr.KindNotFound, fmt.Sprintf("Ref %d not found. Run snapshot again.", ref))
}

func (c *Controller) sessionFor(sessionID string) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[sessionID]
	if !ok {
		return nil, apperr.New(apperr.KindNotFound, fmt.Sprintf("browser session %s not found", sessionID))
	}
	return sess, nil
}

func refSelector(ref int) string { return fmt.Sprintf(`[data-nx-ref="%d"]`, ref) }

// ClickByRef clicks the element assigned the given ref by the most recent
// snapshot.
func (c *Controller) ClickByRef(ctx context.Context, sessionID string, ref int) error {
	sess, err := c.sessionFor(sessionID)
	if err != nil {
		return err
	}
	if _, ok := sess.elements[ref]; !ok {
		return refNotFoundErr(ref)
	}
	if err := chromedp.Run(sess.ctx, chromedp.Click(refSelector(ref), chromedp.ByQuery)); err != nil {
		return apperr.Wrap(apperr.KindBrowserUnavail, fmt.Sprintf("click on ref %d failed", ref), err)
	}
	sess.touch()
	return nil
}

// TypeByRef types text into the element assigned the given ref, attempting
// a direct value fill first and falling back to focus-plus-keyboard typing
// when fill fails.
func (c *Controller) TypeByRef(ctx context.Context, sessionID string, ref int, text string, clear bool, pressEnter bool) error {
	sess, err := c.sessionFor(sessionID)
	if err != nil {
		return err
	}
	if _, ok := sess.elements[ref]; !ok {
		return refNotFoundErr(ref)
	}
	sel := refSelector(ref)

	tasks := chromedp.Tasks{}
	if clear {
		tasks = append(tasks, chromedp.Clear(sel, chromedp.ByQuery))
	}
	tasks = append(tasks, chromedp.SetValue(sel, text, chromedp.ByQuery))

	if err := chromedp.Run(sess.ctx, tasks); err != nil {
		fallback := chromedp.Tasks{chromedp.Focus(sel, chromedp.ByQuery)}
		if clear {
			fallback = append(fallback, chromedp.KeyEvent("ctrl+a"), chromedp.KeyEvent("Backspace"))
		}
		fallback = append(fallback, chromedp.SendKeys(sel, text, chromedp.ByQuery))
		if fbErr := chromedp.Run(sess.ctx, fallback); fbErr != nil {
			return apperr.Wrap(apperr.KindBrowserUnavail, fmt.Sprintf("type into ref %d failed", ref), fbErr)
		}
	}

	if pressEnter {
		if err := chromedp.Run(sess.ctx, chromedp.KeyEvent("\r")); err != nil {
			return apperr.Wrap(apperr.KindBrowserUnavail, "enter key dispatch failed", err)
		}
	}

	sess.touch()
	return nil
}

// Navigate loads url in the session's page, waiting for DOM content to load.
func (c *Controller) Navigate(ctx context.Context, sessionID string, url string) error {
	sess, err := c.sessionFor(sessionID)
	if err != nil {
		return err
	}
	navCtx, cancel := context.WithTimeout(sess.ctx, defaultNavigateTimeout)
	defer cancel()
	if err := chromedp.Run(navCtx, chromedp.Navigate(url), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		return apperr.Wrap(apperr.KindBrowserUnavail, fmt.Sprintf("navigate to %s failed", url), err)
	}
	var title string
	_ = chromedp.Run(sess.ctx, chromedp.Title(&title))
	sess.Title = title
	sess.touch()
	return nil
}

// Screenshot captures the current page, preferring chromedp's own
// screenshot action and falling back to a direct CDP Page.captureScreenshot
// call when that fails. When dir is configured, the PNG is also written to
// disk and the saved path is returned alongside the bytes.
func (c *Controller) Screenshot(ctx context.Context, sessionID string, fullPage bool) ([]byte, string, error) {
	sess, err := c.sessionFor(sessionID)
	if err != nil {
		return nil, "", err
	}

	var png []byte
	var runErr error
	if fullPage {
		runErr = chromedp.Run(sess.ctx, chromedp.FullScreenshot(&png, 90))
	} else {
		runErr = chromedp.Run(sess.ctx, chromedp.CaptureScreenshot(&png))
	}
	if runErr != nil {
		c.logger.Debug("chromedp screenshot action failed, falling back to raw CDP capture", zap.Error(runErr))
		if err := chromedp.Run(sess.ctx, chromedp.ActionFunc(func(ctx context.Context) error {
			data, err := page.CaptureScreenshot().WithFormat(page.CaptureScreenshotFormatPng).Do(ctx)
			if err != nil {
				return err
			}
			png = data
			return nil
		})); err != nil {
			return nil, "", apperr.Wrap(apperr.KindBrowserUnavail, "screenshot failed", err)
		}
	}

	var savedPath string
	if c.cfg.ScreenshotDir != "" {
		if err := os.MkdirAll(c.cfg.ScreenshotDir, 0o700); err == nil {
			name := fmt.Sprintf("%s-%d.png", sessionID, time.Now().UnixNano())
			p := filepath.Join(c.cfg.ScreenshotDir, name)
			if err := os.WriteFile(p, png, 0o600); err == nil {
				savedPath = p
			}
		}
	}

	sess.touch()
	return png, savedPath, nil
}

// evaluateTimeout bounds ad-hoc script execution regardless of the caller's
// own context deadline, since an injected script is untrusted page code
// dispatched through a tool call rather than an internal navigation step.
const evaluateTimeout = 15 * time.Second

// Evaluate runs an arbitrary JavaScript expression in the session's page and
// returns its JSON-decoded result. Execution is capped at evaluateTimeout.
func (c *Controller) Evaluate(ctx context.Context, sessionID string, script string) (any, error) {
	sess, err := c.sessionFor(sessionID)
	if err != nil {
		return nil, err
	}
	evalCtx, cancel := context.WithTimeout(sess.ctx, evaluateTimeout)
	defer cancel()

	var result any
	if err := chromedp.Run(evalCtx, chromedp.Evaluate(script, &result)); err != nil {
		return nil, apperr.Wrap(apperr.KindBrowserUnavail, "evaluate failed", err)
	}
	sess.touch()
	return result, nil
}
