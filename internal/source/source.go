package source

import (
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"

	"github.com/gen2brain/go-fitz"
)

// Decoder turns a panel image reference into a drawable bitmap.
type Decoder interface {
	Decode(ctx context.Context, ref string) (image.Image, error)
}

// Resolver dispatches a reference to the matching decoder:
// "data:" URLs, "<file>.pdf#<page>" (1-based) and plain image files.
type Resolver struct {
	DPI int
}

func NewResolver(dpi int) *Resolver {
	return &Resolver{DPI: dpi}
}

func (r *Resolver) Decode(ctx context.Context, ref string) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if strings.HasPrefix(ref, "data:") {
		return decodeDataURL(ref)
	}
	if path, page, ok := splitPDFRef(ref); ok {
		return renderPDFPage(path, page, r.DPI)
	}
	return decodeFile(ref)
}

func splitPDFRef(ref string) (string, int, bool) {
	hash := strings.LastIndexByte(ref, '#')
	if hash < 0 || !strings.HasSuffix(strings.ToLower(ref[:hash]), ".pdf") {
		return "", 0, false
	}
	page, err := strconv.Atoi(ref[hash+1:])
	if err != nil || page < 1 {
		return "", 0, false
	}
	return ref[:hash], page, true
}

// renderPDFPage opens its own document so concurrent loads never share a handle.
func renderPDFPage(path string, page, dpi int) (image.Image, error) {
	doc, err := fitz.New(path)
	if err != nil {
		return nil, err
	}
	defer doc.Close()

	if page > doc.NumPage() {
		return nil, fmt.Errorf("%s: page %d out of range (%d pages)", path, page, doc.NumPage())
	}
	if dpi <= 0 {
		dpi = 150
	}
	return doc.ImageDPI(page-1, float64(dpi))
}
