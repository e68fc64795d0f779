// Package browser implements the runtime's Chrome controller: a single
// browser process, lazily attached or launched, backing a capacity-bounded
// pool of tab sessions with an accessibility snapshot protocol for
// ref-addressed interaction.
package browser

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nxclaw/nxclaw/internal/eventbus"
	"github.com/nxclaw/nxclaw/internal/platform/apperr"
)

// Mode selects how the controller obtains a browser process.
type Mode string

const (
	ModeLaunch Mode = "launch"
	ModeCDP    Mode = "cdp"
)

const (
	defaultMaxSessions         = 6
	defaultCDPConnectTimeout   = 5 * time.Second
	defaultNavigateTimeout     = 30 * time.Second
	hardMaxSnapshotElements    = 500
	defaultMaxSnapshotElements = 200
	aboutBlank                 = "about:blank"
)

// Config mirrors the chrome.* configuration block.
type Config struct {
	Mode                 Mode
	CDPURL               string
	CDPConnectTimeout    time.Duration
	CDPReuseExistingPage bool
	CDPFallbackToLaunch  bool
	Headless             bool
	ExecutablePath       string
	MaxSessions          int
	ScreenshotDir        string
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeLaunch
	}
	if c.CDPConnectTimeout <= 0 {
		c.CDPConnectTimeout = defaultCDPConnectTimeout
	}
	if c.MaxSessions <= 0 {
		c.MaxSessions = defaultMaxSessions
	}
}

// Session is a single open tab, tracked per spec's browser-session record.
type Session struct {
	ID                 string
	Mode               Mode
	CreatedAt          time.Time
	UpdatedAt          time.Time
	Title              string
	RefCount           int
	LastSnapshotAt     time.Time
	OwnsContext        bool
	OwnsPage           bool
	Attached           bool
	ReusedExistingPage bool

	ctx      context.Context
	cancel   context.CancelFunc
	elements map[int]Element
	targetID string
}

func (s *Session) touch() { s.UpdatedAt = time.Now() }

// Controller owns at most one browser process and a bounded pool of
// sessions over it.
type Controller struct {
	mu     sync.Mutex
	cfg    Config
	logger *zap.Logger
	bus    *eventbus.Bus

	allocCtx      context.Context
	allocCancel   context.CancelFunc
	browserCtx    context.Context
	browserCancel context.CancelFunc
	started       bool
	activeMode    Mode

	sessions map[string]*Session
}

// New constructs a Controller. The browser process is not started until the
// first OpenSession call.
func New(cfg Config, bus *eventbus.Bus, logger *zap.Logger) *Controller {
	cfg.applyDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		cfg:      cfg,
		logger:   logger.With(zap.String("component", "browser")),
		bus:      bus,
		sessions: make(map[string]*Session),
	}
}

// OpenOptions parameterizes a new session.
type OpenOptions struct {
	URL string
}

// ensureBrowser lazily attaches (cdp mode) or launches (launch mode) the
// single browser process this controller owns, falling back from cdp to
// launch when configured to do so.
func (c *Controller) ensureBrowser(ctx context.Context) error {
	if c.started {
		return nil
	}

	if c.cfg.Mode == ModeCDP {
		attachCtx, cancel := context.WithTimeout(ctx, c.cfg.CDPConnectTimeout)
		allocCtx, allocCancel := chromedp.NewRemoteAllocator(attachCtx, c.cfg.CDPURL)
		browserCtx, browserCancel := chromedp.NewContext(allocCtx)
		if err := chromedp.Run(browserCtx, chromedp.ActionFunc(func(context.Context) error { return nil })); err != nil {
			browserCancel()
			allocCancel()
			cancel()
			c.logger.Warn("cdp attach failed", zap.Error(err))
			if c.cfg.CDPFallbackToLaunch && c.cfg.ExecutablePath != "" {
				c.logger.Info("falling back to launch mode")
				return c.launchBrowser(ctx)
			}
			return apperr.Wrap(apperr.KindBrowserUnavail, "cdp attach failed and no launch fallback configured", err)
		}
		c.allocCtx, c.allocCancel = allocCtx, allocCancel
		c.browserCtx, c.browserCancel = browserCtx, browserCancel
		c.activeMode = ModeCDP
		c.started = true
		// attachCtx's deadline only bounds the initial handshake above.
		cancel()
		return nil
	}

	return c.launchBrowser(ctx)
}

func (c *Controller) launchBrowser(ctx context.Context) error {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", c.cfg.Headless),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
	)
	if c.cfg.ExecutablePath != "" {
		opts = append(opts, chromedp.ExecPath(c.cfg.ExecutablePath))
	}
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return apperr.Wrap(apperr.KindBrowserUnavail, "failed to launch browser", err)
	}
	c.allocCtx, c.allocCancel = allocCtx, allocCancel
	c.browserCtx, c.browserCancel = browserCtx, browserCancel
	c.activeMode = ModeLaunch
	c.started = true
	return nil
}

// OpenSession opens a new tab session, evicting the least-recently-updated
// session first if the pool is at capacity.
func (c *Controller) OpenSession(ctx context.Context, opts OpenOptions) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureBrowser(ctx); err != nil {
		c.emitError(err)
		return nil, err
	}

	if len(c.sessions) >= c.cfg.MaxSessions {
		c.evictLRULocked()
	}

	sess, err := c.openSessionLocked(ctx, opts)
	if err != nil {
		c.emitError(err)
		return nil, err
	}

	c.sessions[sess.ID] = sess
	if c.bus != nil {
		c.bus.Emit(eventbus.TypeBrowserOpened, map[string]any{
			"sessionId": sess.ID,
			"mode":      string(sess.Mode),
		})
	}
	return sess, nil
}

func (c *Controller) openSessionLocked(ctx context.Context, opts OpenOptions) (*Session, error) {
	var (
		tabCtx             context.Context
		cancel             context.CancelFunc
		ownsContext        = true
		ownsPage           = true
		reusedExistingPage bool
	)

	if c.activeMode == ModeCDP && c.cfg.CDPReuseExistingPage {
		targetID, reused, err := c.findReusablePageLocked(ctx)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindBrowserUnavail, "failed to enumerate browser targets", err)
		}
		if reused {
			tabCtx, cancel = chromedp.NewContext(c.browserCtx, chromedp.WithTargetID(target.ID(targetID)))
			ownsContext, ownsPage = false, false
			reusedExistingPage = true
		}
	}
	if tabCtx == nil {
		tabCtx, cancel = chromedp.NewContext(c.browserCtx)
		if err := chromedp.Run(tabCtx); err != nil {
			cancel()
			return nil, apperr.Wrap(apperr.KindBrowserUnavail, "failed to create page", err)
		}
	}

	sess := &Session{
		ID:                 uuid.NewString(),
		Mode:               c.activeMode,
		CreatedAt:          time.Now(),
		UpdatedAt:          time.Now(),
		OwnsContext:        ownsContext,
		OwnsPage:           ownsPage,
		ReusedExistingPage: reusedExistingPage,
		ctx:                tabCtx,
		cancel:             cancel,
		elements:           make(map[int]Element),
	}
	if tc := chromedp.FromContext(tabCtx); tc != nil && tc.Target != nil {
		sess.targetID = string(tc.Target.TargetID)
	}

	if err := chromedp.Run(tabCtx, page.Enable(), runtime.Enable()); err != nil {
		c.logger.Debug("cdp debug session unavailable", zap.Error(err))
		sess.Attached = false
	} else {
		sess.Attached = true
	}

	if opts.URL != "" && opts.URL != aboutBlank {
		navCtx, navCancel := context.WithTimeout(tabCtx, defaultNavigateTimeout)
		defer navCancel()
		if err := chromedp.Run(navCtx, chromedp.Navigate(opts.URL), chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
			cancel()
			return nil, apperr.Wrap(apperr.KindBrowserUnavail, fmt.Sprintf("navigate to %s failed", opts.URL), err)
		}
		var title string
		_ = chromedp.Run(tabCtx, chromedp.Title(&title))
		sess.Title = title
	}

	return sess, nil
}

// findReusablePageLocked scans existing targets for an unclaimed page,
// preferring one with a real (non-blank) URL.
func (c *Controller) findReusablePageLocked(context.Context) (targetID string, found bool, err error) {
	claimed := make(map[string]bool, len(c.sessions))
	for _, s := range c.sessions {
		if s.targetID != "" {
			claimed[s.targetID] = true
		}
	}

	var targets []*chromeTarget
	if targets, err = listTargets(c.browserCtx); err != nil {
		return "", false, err
	}

	var fallback string
	for _, t := range targets {
		if t.Type != "page" || claimed[t.ID] {
			continue
		}
		if t.URL != "" && t.URL != aboutBlank && !isNewTabURL(t.URL) {
			return t.ID, true, nil
		}
		if fallback == "" {
			fallback = t.ID
		}
	}
	if fallback != "" {
		return fallback, true, nil
	}
	return "", false, nil
}

func isNewTabURL(u string) bool {
	return u == aboutBlank || u == "chrome://newtab/" || u == "about:newtab"
}

// GetSession returns the session by id, incrementing nothing — callers must
// hold no external lock; it is safe to call concurrently with OpenSession.
func (c *Controller) GetSession(id string) (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[id]
	return s, ok
}

// CloseSession detaches the CDP debug channel and releases the context or
// page according to ownership, then forgets the session record.
func (c *Controller) CloseSession(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	sess, ok := c.sessions[id]
	if !ok {
		return apperr.New(apperr.KindNotFound, fmt.Sprintf("browser session %s not found", id))
	}
	c.closeSessionLocked(sess)
	if c.bus != nil {
		c.bus.Emit(eventbus.TypeBrowserClosed, map[string]any{"sessionId": id})
	}
	return nil
}

func (c *Controller) closeSessionLocked(sess *Session) {
	if sess.Attached {
		_ = chromedp.Run(sess.ctx, page.Disable(), runtime.Disable())
	}
	// cancel() always tears down the chromedp-managed target (the "page");
	// OwnsContext only controls whether a dedicated browser context was
	// created for this session and should be torn down with it.
	sess.cancel()
	delete(c.sessions, sess.ID)
}

func (c *Controller) evictLRULocked() {
	var oldest *Session
	for _, s := range c.sessions {
		if oldest == nil || s.UpdatedAt.Before(oldest.UpdatedAt) {
			oldest = s
		}
	}
	if oldest == nil {
		return
	}
	c.logger.Info("evicting least-recently-updated session", zap.String("sessionId", oldest.ID))
	c.closeSessionLocked(oldest)
}

// CloseAll releases every session and the browser process itself.
func (c *Controller) CloseAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, sess := range c.sessions {
		c.closeSessionLocked(sess)
	}
	if c.browserCancel != nil {
		c.browserCancel()
	}
	if c.allocCancel != nil {
		c.allocCancel()
	}
	c.started = false
}

func (c *Controller) emitError(err error) {
	if c.bus == nil {
		return
	}
	c.bus.Emit(eventbus.TypeBrowserError, map[string]any{"error": err.Error()})
}

// SessionCount reports how many sessions are currently open.
func (c *Controller) SessionCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sessions)
}
