package handlers

import (
	"context"
	"errors"
	"fmt"
	neturl "net/url"
	"regexp"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/xid"

	"pagepress/internal/config"
	"pagepress/internal/export"
	"pagepress/internal/infra/logging"
	"pagepress/internal/infra/pdfcache"
	"pagepress/internal/render"
)

var (
	validate        = validator.New()
	filenamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]+$`)
)

// Renderer prints a page to PDF.
type Renderer interface {
	Render(ctx context.Context, req render.Request) ([]byte, error)
}

// PDFRequest is the JSON body of POST /v1/pdf and POST /v1/pdf/archive.
type PDFRequest struct {
	URL       string              `json:"url" validate:"required,http_url"`
	Wait      string              `json:"wait" validate:"omitempty,max=256"`
	Options   render.PrintOptions `json:"options"`
	AuthToken string              `json:"auth_token"`
	Filename  string              `json:"filename" validate:"omitempty,max=255"`
}

// PDFService bundles configuration and dependencies for PDF rendering.
type PDFService struct {
	Config   *config.Config
	Renderer Renderer
	Cache    *pdfcache.Cache
	Archiver export.Archiver

	stats renderStats
}

type renderStats struct {
	renders      atomic.Int64
	failures     atomic.Int64
	waitTimeouts atomic.Int64
	cacheHits    atomic.Int64
	archived     atomic.Int64
}

// NewPDFService creates a new PDFService instance.
func NewPDFService(cfg config.Config, r Renderer, cache *pdfcache.Cache, archiver export.Archiver) *PDFService {
	return &PDFService{
		Config:   &cfg,
		Renderer: r,
		Cache:    cache,
		Archiver: archiver,
	}
}

// HandleURLConversion renders the page named by the query string.
func (svc *PDFService) HandleURLConversion(c *fiber.Ctx) error {
	req, err := parseQueryRequest(c)
	if err != nil {
		return err
	}
	if err := svc.validateRequest(req); err != nil {
		return err
	}
	pdf, err := svc.produce(c, req)
	if err != nil {
		return err
	}
	return export.Respond(c, pdf, req.Filename)
}

// HandleConversion renders the page described by a JSON body.
func (svc *PDFService) HandleConversion(c *fiber.Ctx) error {
	req, err := svc.parseBody(c)
	if err != nil {
		return err
	}
	pdf, err := svc.produce(c, req)
	if err != nil {
		return err
	}
	return export.Respond(c, pdf, req.Filename)
}

// HandleArchive renders like HandleConversion and stores the result through
// the configured archiver instead of returning it.
func (svc *PDFService) HandleArchive(c *fiber.Ctx) error {
	if svc.Archiver == nil {
		return fiber.NewError(fiber.StatusNotImplemented, "Archiving is not configured")
	}
	req, err := svc.parseBody(c)
	if err != nil {
		return err
	}
	if req.Filename == "" {
		req.Filename = xid.New().String() + ".pdf"
	}
	pdf, err := svc.produce(c, req)
	if err != nil {
		return err
	}

	loc, err := svc.Archiver.Store(c.UserContext(), req.Filename, pdf)
	if err != nil {
		logging.Error("PDF archive failed", "filename", req.Filename, "error", err)
		return fiber.NewError(fiber.StatusBadGateway, "PDF archive failed")
	}
	svc.stats.archived.Add(1)
	logging.Info("PDF archived", "location", loc, "bytes", len(pdf))

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"file":  loc,
		"bytes": len(pdf),
	})
}

// HandleStats exposes render counters.
func (svc *PDFService) HandleStats(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"renders":        svc.stats.renders.Load(),
		"failures":       svc.stats.failures.Load(),
		"wait_timeouts":  svc.stats.waitTimeouts.Load(),
		"cache_hits":     svc.stats.cacheHits.Load(),
		"archived":       svc.stats.archived.Load(),
		"cache_enabled":  svc.cacheEnabled(),
		"wait_timeout_s": svc.Config.Render.WaitTimeout.Seconds(),
	})
}

func (svc *PDFService) cacheEnabled() bool {
	return svc.Cache != nil && svc.Config.Cache.PDFCacheEnabled
}

// produce serves from cache or renders. The caller's Authorization header is
// only used when forwarding is configured. Requests carrying an auth token are
// never cached: their output depends on who asked.
func (svc *PDFService) produce(c *fiber.Ctx, req *PDFRequest) ([]byte, error) {
	if req.AuthToken == "" && svc.Config.Server.ForwardAuthorization {
		req.AuthToken = c.Get(fiber.HeaderAuthorization)
	}
	useCache := svc.cacheEnabled() && req.AuthToken == ""

	var key string
	if useCache {
		key = pdfcache.Key(req.URL, req.Wait, render.MergePrintOptions(req.Options))
		if cached := svc.Cache.Get(c.UserContext(), key); cached != nil {
			svc.stats.cacheHits.Add(1)
			return cached, nil
		}
	}

	svc.stats.renders.Add(1)
	pdf, err := svc.Renderer.Render(c.UserContext(), render.Request{
		URL:       req.URL,
		Wait:      req.Wait,
		Options:   req.Options,
		AuthToken: req.AuthToken,
	})
	if err != nil {
		svc.stats.failures.Add(1)
		if errors.Is(err, render.ErrWaitTimeout) {
			svc.stats.waitTimeouts.Add(1)
		}
		return nil, renderError(err)
	}

	if len(pdf) > svc.Config.Limits.MaxPDFBytes {
		return nil, fiber.NewError(fiber.StatusRequestEntityTooLarge, "PDF exceeds allowed size")
	}

	if useCache {
		svc.Cache.Set(c.UserContext(), key, pdf)
	}

	logging.Info("PDF generated", "url", req.URL, "bytes", len(pdf), "request_id", c.GetRespHeader(fiber.HeaderXRequestID))
	return pdf, nil
}

// renderError maps a render failure onto an HTTP error.
func renderError(err error) error {
	var pe *render.ProtocolError
	switch {
	case errors.Is(err, render.ErrWaitTimeout):
		logging.Warn("PDF wait selector timed out", "error", err)
		return fiber.NewError(fiber.StatusGatewayTimeout, "Wait selector did not appear in time")
	case errors.As(err, &pe):
		logging.Error("PDF print command failed", "method", pe.Method, "code", pe.Code, "error", pe.Message)
		return fiber.NewError(fiber.StatusBadGateway, "Browser failed to print: "+pe.Message)
	case errors.Is(err, context.DeadlineExceeded):
		logging.Error("PDF generation timeout", "error", err)
		return fiber.NewError(fiber.StatusRequestTimeout, "PDF rendering took too long")
	case errors.Is(err, render.ErrMissingURL):
		return fiber.NewError(fiber.StatusBadRequest, "Invalid URL: missing")
	case errors.Is(err, render.ErrInvalidWaitClass), errors.Is(err, render.ErrInvalidOptions):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	default:
		logging.Error("PDF generation failed", "error", err)
		return fiber.NewError(fiber.StatusInternalServerError, "PDF generation failed: "+err.Error())
	}
}

func (svc *PDFService) parseBody(c *fiber.Ctx) (*PDFRequest, error) {
	var req PDFRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid body: "+err.Error())
	}
	if err := svc.validateRequest(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (svc *PDFService) validateRequest(req *PDFRequest) error {
	if limit := svc.Config.Limits.MaxURLBytes; limit > 0 && len(req.URL) > limit {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, fmt.Sprintf("URL exceeds %d bytes", limit))
	}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fiber.NewError(fiber.StatusBadRequest, validationMessage(verrs[0]))
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	parsed, err := neturl.Parse(req.URL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid URL: must be HTTP or HTTPS")
	}
	if req.Filename != "" {
		if !strings.HasSuffix(req.Filename, ".pdf") {
			return fiber.NewError(fiber.StatusBadRequest, "Filename must end with .pdf")
		}
		if !filenamePattern.MatchString(req.Filename) {
			return fiber.NewError(fiber.StatusBadRequest, "Filename contains invalid characters")
		}
	}
	if req.Wait != "" {
		if _, err := render.ClassSelector(req.Wait); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid wait: must be a single CSS class name")
		}
	}
	if err := render.ValidatePrintOptions(req.Options); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid options: only transferMode ReturnAsBase64 is supported")
	}
	if scale, ok := req.Options["scale"]; ok {
		f, isNum := scale.(float64)
		if !isNum || f < 0.1 || f > 2 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid scale: must be a number between 0.1 and 2")
		}
	}
	return nil
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Field() {
	case "URL":
		if fe.Tag() == "required" {
			return "Invalid URL: missing"
		}
		return "Invalid URL: must be HTTP or HTTPS"
	default:
		return fmt.Sprintf("Invalid %s: failed %s", strings.ToLower(fe.Field()), fe.Tag())
	}
}

// queryBoolOptions maps query parameters onto print option names.
var queryBoolOptions = map[string]string{
	"landscape":             "landscape",
	"print_background":      "printBackground",
	"display_header_footer": "displayHeaderFooter",
	"prefer_css_page_size":  "preferCSSPageSize",
}

func parseQueryRequest(c *fiber.Ctx) (*PDFRequest, error) {
	req := &PDFRequest{
		URL:      c.Query("url"),
		Wait:     c.Query("wait"),
		Filename: c.Query("filename"),
	}

	opts := render.PrintOptions{}
	for param, option := range queryBoolOptions {
		raw := c.Query(param)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid "+param+": must be a boolean")
		}
		opts[option] = v
	}
	if raw := c.Query("scale"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fiber.NewError(fiber.StatusBadRequest, "Invalid scale: must be a number between 0.1 and 2")
		}
		opts["scale"] = v
	}
	if len(opts) > 0 {
		req.Options = opts
	}
	return req, nil
}
