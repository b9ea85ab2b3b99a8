package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pagepress/internal/config"
	"pagepress/internal/export"
	"pagepress/internal/infra/pdfcache"
	"pagepress/internal/render"
)

var fakePDF = []byte("%PDF-1.7 fake body")

type fakeRenderer struct {
	mu    sync.Mutex
	calls []render.Request
	pdf   []byte
	err   error
}

func (f *fakeRenderer) Render(ctx context.Context, req render.Request) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req)
	if f.err != nil {
		return nil, f.err
	}
	return f.pdf, nil
}

func (f *fakeRenderer) last() render.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

type fakeArchiver struct {
	name string
	pdf  []byte
	err  error
}

func (f *fakeArchiver) Store(ctx context.Context, name string, pdf []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.name, f.pdf = name, pdf
	return "mem://" + name, nil
}

func testCfg() config.Config {
	cfg := config.Defaults()
	cfg.Limits.MaxPDFBytes = 1024
	cfg.Limits.MaxURLBytes = 256
	cfg.Cache.PDFCacheEnabled = true
	cfg.Cache.PDFCacheTTL = time.Minute
	return cfg
}

func newApp(svc *PDFService) *fiber.App {
	app := fiber.New()
	app.Get("/pdf", svc.HandleURLConversion)
	app.Post("/pdf", svc.HandleConversion)
	app.Post("/pdf/archive", svc.HandleArchive)
	app.Get("/stats", svc.HandleStats)
	return app
}

func postJSON(t *testing.T, app *fiber.App, path string, body any, headers map[string]string) *http.Response {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest("POST", path, strings.NewReader(string(raw)))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func TestHandleURLConversion_Success(t *testing.T) {
	fr := &fakeRenderer{pdf: fakePDF}
	app := newApp(NewPDFService(testCfg(), fr, nil, nil))

	resp, err := app.Test(httptest.NewRequest("GET", "/pdf?url=https://example.com/form&wait=formio-ready&landscape=true&scale=0.5&filename=report.pdf", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, fakePDF, body)
	assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))
	assert.Equal(t, "inline; filename=report.pdf", resp.Header.Get("Content-Disposition"))

	got := fr.last()
	assert.Equal(t, "https://example.com/form", got.URL)
	assert.Equal(t, "formio-ready", got.Wait)
	assert.Equal(t, render.PrintOptions{"landscape": true, "scale": 0.5}, got.Options)
}

func TestHandleURLConversion_DefaultFilename(t *testing.T) {
	app := newApp(NewPDFService(testCfg(), &fakeRenderer{pdf: fakePDF}, nil, nil))
	resp, err := app.Test(httptest.NewRequest("GET", "/pdf?url=https://example.com", nil))
	require.NoError(t, err)
	assert.Equal(t, "inline; filename=Pdf.pdf", resp.Header.Get("Content-Disposition"))
}

func TestHandleURLConversion_ValidationErrors(t *testing.T) {
	app := newApp(NewPDFService(testCfg(), &fakeRenderer{pdf: fakePDF}, nil, nil))

	tests := []struct {
		url  string
		code int
	}{
		{"/pdf", fiber.StatusBadRequest},
		{"/pdf?url=ftp://example.com", fiber.StatusBadRequest},
		{"/pdf?url=not-a-url", fiber.StatusBadRequest},
		{"/pdf?url=https://example.com&landscape=maybe", fiber.StatusBadRequest},
		{"/pdf?url=https://example.com&scale=9", fiber.StatusBadRequest},
		{"/pdf?url=https://example.com&scale=abc", fiber.StatusBadRequest},
		{"/pdf?url=https://example.com&filename=x.txt", fiber.StatusBadRequest},
		{"/pdf?url=https://example.com&filename=bad%20name.pdf", fiber.StatusBadRequest},
		{"/pdf?url=https://example.com/" + strings.Repeat("a", 300), fiber.StatusRequestEntityTooLarge},
	}
	for _, tc := range tests {
		resp, err := app.Test(httptest.NewRequest("GET", tc.url, nil))
		require.NoError(t, err)
		assert.Equal(t, tc.code, resp.StatusCode, "url=%s", tc.url)
	}
}

func TestHandleConversion_ForwardsAuthorization(t *testing.T) {
	cfg := testCfg()
	cfg.Server.ForwardAuthorization = true
	fr := &fakeRenderer{pdf: fakePDF}
	app := newApp(NewPDFService(cfg, fr, nil, nil))

	resp := postJSON(t, app, "/pdf", PDFRequest{URL: "https://forms.example.com/submission/1"}, map[string]string{"Authorization": "Bearer user-token"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer user-token", fr.last().AuthToken)

	resp = postJSON(t, app, "/pdf", PDFRequest{URL: "https://forms.example.com/submission/1", AuthToken: "Bearer body"}, map[string]string{"Authorization": "Bearer header"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer body", fr.last().AuthToken)
}

func TestHandleConversion_AuthorizationNotForwardedByDefault(t *testing.T) {
	fr := &fakeRenderer{pdf: fakePDF}
	app := newApp(NewPDFService(testCfg(), fr, nil, nil))

	resp := postJSON(t, app, "/pdf", PDFRequest{URL: "https://forms.example.com/submission/1"}, map[string]string{"Authorization": "Bearer proxy-credential"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Empty(t, fr.last().AuthToken)

	resp = postJSON(t, app, "/pdf", PDFRequest{URL: "https://forms.example.com/submission/1", AuthToken: "Bearer body"}, map[string]string{"Authorization": "Bearer proxy-credential"})
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "Bearer body", fr.last().AuthToken)
}

func TestHandleConversion_OptionsPassThrough(t *testing.T) {
	fr := &fakeRenderer{pdf: fakePDF}
	app := newApp(NewPDFService(testCfg(), fr, nil, nil))

	resp := postJSON(t, app, "/pdf", map[string]any{
		"url":     "https://example.com",
		"options": map[string]any{"landscape": true, "paperWidth": 8.5},
	}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, render.PrintOptions{"landscape": true, "paperWidth": 8.5}, fr.last().Options)
}

func TestHandleConversion_BadBody(t *testing.T) {
	app := newApp(NewPDFService(testCfg(), &fakeRenderer{pdf: fakePDF}, nil, nil))

	req := httptest.NewRequest("POST", "/pdf", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/pdf", PDFRequest{}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/pdf", PDFRequest{URL: "https://example.com", Wait: strings.Repeat("w", 300)}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/pdf", PDFRequest{URL: "https://example.com", Wait: "a b"}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	resp = postJSON(t, app, "/pdf", map[string]any{
		"url":     "https://example.com",
		"options": map[string]any{"transferMode": "ReturnAsStream"},
	}, nil)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHandleConversion_EscapableWaitClassAccepted(t *testing.T) {
	fr := &fakeRenderer{pdf: fakePDF}
	app := newApp(NewPDFService(testCfg(), fr, nil, nil))

	resp := postJSON(t, app, "/pdf", PDFRequest{URL: "https://example.com", Wait: "md:flex"}, nil)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "md:flex", fr.last().Wait)
}

func TestHandleConversion_ErrorMapping(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"wait timeout", render.ErrWaitTimeout, fiber.StatusGatewayTimeout},
		{"protocol error", &render.ProtocolError{Method: "Page.printToPDF", Code: -32000, Message: "Printing failed"}, fiber.StatusBadGateway},
		{"deadline", context.DeadlineExceeded, fiber.StatusRequestTimeout},
		{"missing url", render.ErrMissingURL, fiber.StatusBadRequest},
		{"bad wait class", fmt.Errorf("%w: %q", render.ErrInvalidWaitClass, "a b"), fiber.StatusBadRequest},
		{"bad options", render.ErrInvalidOptions, fiber.StatusBadRequest},
		{"other", errors.New("exec: chrome not found"), fiber.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			app := newApp(NewPDFService(testCfg(), &fakeRenderer{err: tc.err}, nil, nil))
			resp := postJSON(t, app, "/pdf", PDFRequest{URL: "https://example.com"}, nil)
			assert.Equal(t, tc.code, resp.StatusCode)
		})
	}
}

func TestHandleConversion_TooLarge(t *testing.T) {
	app := newApp(NewPDFService(testCfg(), &fakeRenderer{pdf: make([]byte, 2048)}, nil, nil))
	resp := postJSON(t, app, "/pdf", PDFRequest{URL: "https://example.com"}, nil)
	assert.Equal(t, fiber.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestProduce_CachesAnonymousRenders(t *testing.T) {
	mrs := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mrs.Addr()})
	defer rdb.Close()

	cfg := testCfg()
	cfg.Server.ForwardAuthorization = true
	fr := &fakeRenderer{pdf: fakePDF}
	svc := NewPDFService(cfg, fr, pdfcache.New(rdb, time.Minute), nil)
	app := newApp(svc)

	for i := 0; i < 2; i++ {
		resp, err := app.Test(httptest.NewRequest("GET", "/pdf?url=https://example.com", nil))
		require.NoError(t, err)
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, fakePDF, body)
	}
	assert.Len(t, fr.calls, 1, "second request should be served from cache")

	req := httptest.NewRequest("GET", "/pdf?url=https://example.com", nil)
	req.Header.Set("Authorization", "Bearer u")
	_, err := app.Test(req)
	require.NoError(t, err)
	assert.Len(t, fr.calls, 2, "authenticated renders bypass the cache")

	statsResp, err := app.Test(httptest.NewRequest("GET", "/stats", nil))
	require.NoError(t, err)
	var stats map[string]any
	require.NoError(t, json.NewDecoder(statsResp.Body).Decode(&stats))
	assert.Equal(t, float64(2), stats["renders"])
	assert.Equal(t, float64(1), stats["cache_hits"])
	assert.Equal(t, true, stats["cache_enabled"])
}

func TestHandleArchive(t *testing.T) {
	fa := &fakeArchiver{}
	app := newApp(NewPDFService(testCfg(), &fakeRenderer{pdf: fakePDF}, nil, fa))

	resp := postJSON(t, app, "/pdf/archive", PDFRequest{URL: "https://example.com", Filename: "form-1.pdf"}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "mem://form-1.pdf", out["file"])
	assert.Equal(t, float64(len(fakePDF)), out["bytes"])
	assert.Equal(t, fakePDF, fa.pdf)

	resp = postJSON(t, app, "/pdf/archive", PDFRequest{URL: "https://example.com"}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)
	assert.True(t, strings.HasSuffix(fa.name, ".pdf"))
}

func TestHandleArchive_LocalDisk(t *testing.T) {
	dir := t.TempDir()
	app := newApp(NewPDFService(testCfg(), &fakeRenderer{pdf: fakePDF}, nil, &export.LocalArchiver{Dir: dir}))

	resp := postJSON(t, app, "/pdf/archive", PDFRequest{URL: "https://example.com", Filename: "x.pdf"}, nil)
	require.Equal(t, fiber.StatusCreated, resp.StatusCode)

	got, err := os.ReadFile(dir + "/x.pdf")
	require.NoError(t, err)
	assert.Equal(t, fakePDF, got)
}

func TestHandleArchive_Errors(t *testing.T) {
	app := newApp(NewPDFService(testCfg(), &fakeRenderer{pdf: fakePDF}, nil, nil))
	resp := postJSON(t, app, "/pdf/archive", PDFRequest{URL: "https://example.com"}, nil)
	assert.Equal(t, fiber.StatusNotImplemented, resp.StatusCode)

	app = newApp(NewPDFService(testCfg(), &fakeRenderer{pdf: fakePDF}, nil, &fakeArchiver{err: errors.New("disk full")}))
	resp = postJSON(t, app, "/pdf/archive", PDFRequest{URL: "https://example.com"}, nil)
	assert.Equal(t, fiber.StatusBadGateway, resp.StatusCode)
}
