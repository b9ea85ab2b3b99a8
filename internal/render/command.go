package render

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/chromedp/cdproto"
	"github.com/chromedp/cdproto/cdp"
)

// SendCommand issues a raw devtools command on the target bound to ctx.
// params is marshalled as-is, so callers are not limited to the typed
// cdproto parameter structs. A protocol level failure comes back as *ProtocolError.
func SendCommand(ctx context.Context, method string, params, res any) error {
	err := cdp.Execute(ctx, method, params, res)
	if err == nil {
		return nil
	}
	var cerr *cdproto.Error
	if errors.As(err, &cerr) {
		return &ProtocolError{Method: method, Code: cerr.Code, Message: cerr.Message}
	}
	return fmt.Errorf("render: %s: %w", method, err)
}

// printResult is the Page.printToPDF reply.
type printResult struct {
	Data string `json:"data"`
}

func (r printResult) decode() ([]byte, error) {
	if r.Data == "" {
		return nil, errors.New("render: print result has no data")
	}
	pdf, err := base64.StdEncoding.DecodeString(r.Data)
	if err != nil {
		return nil, fmt.Errorf("render: decode print result: %w", err)
	}
	return pdf, nil
}

// printToPDF prints the page bound to ctx with opts and returns the raw PDF.
func printToPDF(ctx context.Context, opts PrintOptions) ([]byte, error) {
	var res printResult
	if err := SendCommand(ctx, "Page.printToPDF", map[string]any(opts), &res); err != nil {
		return nil, err
	}
	return res.decode()
}
