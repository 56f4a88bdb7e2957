package pages

import (
	"bytes"
	"image"
	_ "image/gif"  // Register GIF decoder
	_ "image/jpeg" // Register JPEG decoder
	"image/png"
	"strings"

	"github.com/gen2brain/go-fitz"
	"github.com/gen2brain/heic"
	"github.com/rotisserie/eris"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
)

// Page is one rasterized document page ready for the vision call.
// Number is 1-based and follows the document's own page order; it is the
// ordering the extractor's page_number values refer back to.
type Page struct {
	Number int
	PNG    []byte
}

// Render turns an uploaded document into its ordered PNG pages.
// PDFs rasterize every page via go-fitz; HEIC/HEIF decodes with the pure
// Go decoder; JPEG/PNG/GIF decode via the stdlib registry. Single images
// always produce exactly one page.
func Render(data []byte, contentType string) ([]Page, error) {
	ct := constants.NormalizeContentType(contentType)
	if ct == "" {
		ct = "image/jpeg"
	}

	if ct == "application/pdf" {
		return renderPDF(data)
	}

	pngData, err := imageToPNG(data, ct)
	if err != nil {
		return nil, err
	}
	return []Page{{Number: 1, PNG: pngData}}, nil
}

func renderPDF(pdfData []byte) ([]Page, error) {
	doc, err := fitz.NewFromMemory(pdfData)
	if err != nil {
		return nil, eris.Wrap(err, "pages: open pdf")
	}
	defer doc.Close()

	n := doc.NumPage()
	if n == 0 {
		return nil, eris.New("pages: pdf has no pages")
	}

	out := make([]Page, 0, n)
	for i := 0; i < n; i++ {
		img, err := doc.Image(i)
		if err != nil {
			return nil, eris.Wrapf(err, "pages: render pdf page %d", i+1)
		}
		var buf bytes.Buffer
		if err := png.Encode(&buf, img); err != nil {
			return nil, eris.Wrapf(err, "pages: encode pdf page %d", i+1)
		}
		out = append(out, Page{Number: i + 1, PNG: buf.Bytes()})
	}
	return out, nil
}

func imageToPNG(imageData []byte, mimeType string) ([]byte, error) {
	var img image.Image
	var err error

	if isHEICFormat(imageData) || isHEICMimeType(mimeType) {
		img, err = heic.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, eris.Wrap(err, "pages: decode heic")
		}
	} else if mimeType == "image/png" && !isHEICFormat(imageData) {
		// already PNG, keep bytes as-is
		return imageData, nil
	} else {
		img, _, err = image.Decode(bytes.NewReader(imageData))
		if err != nil {
			return nil, eris.Wrap(err, "pages: decode image")
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, eris.Wrap(err, "pages: encode png")
	}
	return buf.Bytes(), nil
}

// isHEICFormat checks the ftyp box brands HEIC containers start with.
func isHEICFormat(data []byte) bool {
	if len(data) < 12 {
		return false
	}
	if string(data[4:8]) != "ftyp" {
		return false
	}
	switch string(data[8:12]) {
	case "heic", "heif", "mif1", "msf1":
		return true
	}
	return false
}

func isHEICMimeType(mimeType string) bool {
	mimeType = strings.ToLower(strings.TrimSpace(mimeType))
	return strings.Contains(mimeType, "heic") || strings.Contains(mimeType, "heif")
}
