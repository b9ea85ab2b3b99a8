// Package export hands rendered PDFs to their destination: an HTTP
// response, a local file or an object store.
package export

import (
	"fmt"
	"os"

	"github.com/gofiber/fiber/v2"
)

// DefaultFileName is used when the caller names no file.
const DefaultFileName = "Pdf.pdf"

// Respond writes pdf as an inline application/pdf response.
func Respond(c *fiber.Ctx, pdf []byte, fileName string) error {
	if fileName == "" {
		fileName = DefaultFileName
	}
	c.Set(fiber.HeaderContentType, "application/pdf")
	c.Set(fiber.HeaderContentDisposition, "inline; filename="+fileName)
	return c.Send(pdf)
}

// SaveLocal writes pdf to fileName, replacing any existing file.
func SaveLocal(pdf []byte, fileName string) error {
	if fileName == "" {
		fileName = DefaultFileName
	}
	if err := os.WriteFile(fileName, pdf, 0o644); err != nil {
		return fmt.Errorf("export: save %s: %w", fileName, err)
	}
	return nil
}
