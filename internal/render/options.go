package render

import (
	"fmt"
	"strings"
	"unicode"
)

// PrintOptions are Page.printToPDF parameters keyed by their protocol names.
type PrintOptions map[string]any

// DefaultPrintOptions returns a fresh copy of the defaults applied to every print.
func DefaultPrintOptions() PrintOptions {
	return PrintOptions{
		"landscape":           false,
		"displayHeaderFooter": false,
		"printBackground":     true,
		"preferCSSPageSize":   true,
	}
}

// MergePrintOptions lays overrides over the defaults. Keys the defaults do not
// know are passed through as-is. The overrides map is not modified.
func MergePrintOptions(overrides PrintOptions) PrintOptions {
	out := DefaultPrintOptions()
	for k, v := range overrides {
		out[k] = v
	}
	return out
}

// ValidatePrintOptions rejects options that change the shape of the print
// result. Only base64 output is supported.
func ValidatePrintOptions(opts PrintOptions) error {
	if mode, ok := opts["transferMode"]; ok && mode != "ReturnAsBase64" {
		return fmt.Errorf("%w: transferMode %v", ErrInvalidOptions, mode)
	}
	return nil
}

// ClassSelector turns a CSS class name into a query selector matching
// elements that carry that class. One leading dot is accepted and dropped.
// The name is escaped like CSS.escape; names with whitespace are rejected.
func ClassSelector(class string) (string, error) {
	class = strings.TrimPrefix(strings.TrimSpace(class), ".")
	if class == "" || strings.ContainsFunc(class, unicode.IsSpace) {
		return "", fmt.Errorf("%w: %q", ErrInvalidWaitClass, class)
	}
	return "." + escapeIdent(class), nil
}

func escapeIdent(s string) string {
	runes := []rune(s)
	var b strings.Builder
	for i, r := range runes {
		switch {
		case r == 0:
			b.WriteRune('\uFFFD')
		case (r >= 0x1 && r <= 0x1f) || r == 0x7f,
			i == 0 && r >= '0' && r <= '9',
			i == 1 && r >= '0' && r <= '9' && runes[0] == '-':
			fmt.Fprintf(&b, "\\%x ", r)
		case i == 0 && r == '-' && len(runes) == 1:
			b.WriteString("\\-")
		case r >= 0x80, r == '-', r == '_',
			r >= '0' && r <= '9', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		default:
			b.WriteByte('\\')
			b.WriteRune(r)
		}
	}
	return b.String()
}
