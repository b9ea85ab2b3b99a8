package render

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"pagepress/internal/config"
	"pagepress/internal/infra/logging"
)

// Request describes one page to print.
type Request struct {
	URL string
	// Wait is a CSS class name that must be present before printing.
	Wait string
	// Options override DefaultPrintOptions key by key.
	Options PrintOptions
	// AuthToken, when set, is sent as the Authorization header on every
	// request the browser makes.
	AuthToken string
}

// Renderer prints pages with a fresh browser per call.
type Renderer struct {
	cfg config.RenderConfig

	waitFn func(ctx context.Context, selector string) error
}

// New returns a Renderer. Zero values in cfg fall back to config.DefaultRenderConfig.
func New(cfg config.RenderConfig) *Renderer {
	def := config.DefaultRenderConfig()
	if cfg.WindowWidth <= 0 {
		cfg.WindowWidth = def.WindowWidth
	}
	if cfg.WindowHeight <= 0 {
		cfg.WindowHeight = def.WindowHeight
	}
	if cfg.WaitTimeout <= 0 {
		cfg.WaitTimeout = def.WaitTimeout
	}
	if cfg.RenderTimeout <= 0 {
		cfg.RenderTimeout = def.RenderTimeout
	}
	return &Renderer{cfg: cfg, waitFn: waitPresent}
}

// Render loads req.URL and prints it. The browser is shut down before Render
// returns, whatever the outcome.
func (r *Renderer) Render(ctx context.Context, req Request) ([]byte, error) {
	if req.URL == "" {
		return nil, ErrMissingURL
	}
	opts := MergePrintOptions(req.Options)
	if err := ValidatePrintOptions(opts); err != nil {
		return nil, err
	}
	var selector string
	if req.Wait != "" {
		var err error
		if selector, err = ClassSelector(req.Wait); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithTimeout(ctx, r.cfg.RenderTimeout)
	defer cancel()

	allocCtx, cancelAlloc, err := r.allocator(ctx)
	if err != nil {
		return nil, err
	}
	defer cancelAlloc()

	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()

	if err := chromedp.Run(browserCtx, loadActions(req)...); err != nil {
		return nil, fmt.Errorf("render: load %s: %w", req.URL, err)
	}

	if selector != "" {
		if err := r.waitFor(browserCtx, selector); err != nil {
			return nil, err
		}
	}

	var pdf []byte
	err = chromedp.Run(browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		pdf, err = printToPDF(ctx, opts)
		return err
	}))
	if err != nil {
		return nil, err
	}
	return pdf, nil
}

// waitFor blocks until selector is present or the wait timeout passes.
// Running out of the wait budget is ErrWaitTimeout; anything else, including
// the overall render deadline, is returned wrapped.
func (r *Renderer) waitFor(ctx context.Context, selector string) error {
	waitCtx, cancel := context.WithTimeout(ctx, r.cfg.WaitTimeout)
	defer cancel()

	err := r.waitFn(waitCtx, selector)
	if err == nil {
		return nil
	}
	if ctx.Err() == nil && errors.Is(waitCtx.Err(), context.DeadlineExceeded) {
		logging.Warn("Wait selector timed out", "selector", selector, "timeout", r.cfg.WaitTimeout.String())
		return fmt.Errorf("%w: %s after %s", ErrWaitTimeout, selector, r.cfg.WaitTimeout)
	}
	return fmt.Errorf("render: wait for %s: %w", selector, err)
}

// loadActions opens req.URL, first setting the Authorization header for
// every request of the session when a token is given.
func loadActions(req Request) []chromedp.Action {
	actions := authActions(req.AuthToken)
	return append(actions, chromedp.Navigate(req.URL))
}

func authActions(token string) []chromedp.Action {
	if token == "" {
		return nil
	}
	return []chromedp.Action{
		network.Enable(),
		network.SetExtraHTTPHeaders(network.Headers{"Authorization": token}),
	}
}

func waitPresent(ctx context.Context, selector string) error {
	return chromedp.Run(ctx, chromedp.WaitReady(selector, chromedp.ByQuery))
}

// allocator returns a context that owns the browser. With RemoteURL set it
// attaches to a running browser; otherwise it starts a local headless one
// with its own throwaway profile directory.
func (r *Renderer) allocator(ctx context.Context) (context.Context, context.CancelFunc, error) {
	if r.cfg.RemoteURL != "" {
		allocCtx, cancel := chromedp.NewRemoteAllocator(ctx, r.cfg.RemoteURL)
		return allocCtx, cancel, nil
	}

	profileDir, err := os.MkdirTemp(r.cfg.UserDataDir, "pagepress-chrome-*")
	if err != nil {
		return nil, nil, fmt.Errorf("render: cannot create profile dir: %w", err)
	}

	allocCtx, cancel := chromedp.NewExecAllocator(ctx, r.allocatorOptions(profileDir)...)
	return allocCtx, func() {
		cancel()
		_ = os.RemoveAll(profileDir)
	}, nil
}

func (r *Renderer) allocatorOptions(profileDir string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.UserDataDir(profileDir),
		chromedp.WindowSize(r.cfg.WindowWidth, r.cfg.WindowHeight),
		chromedp.DisableGPU,
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("run-all-compositor-stages-before-draw", true),
	)
	if r.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(r.cfg.ChromePath))
	}
	if r.cfg.NoSandbox {
		opts = append(opts, chromedp.NoSandbox)
	}
	return opts
}

// Timeout is how long one Render may take in total.
func (r *Renderer) Timeout() time.Duration { return r.cfg.RenderTimeout }
