package constants

import "strings"

// Default values applied to extracted line items when the upstream
// response omits them.
const (
	DefaultQuantity = 1.0
	DefaultUnit     = "cope" // "piece"
)

// SupportedContentTypes holds the document content types the pipeline
// accepts at upload time.
var SupportedContentTypes = map[string]struct{}{
	"application/pdf": {},
	"image/jpeg":      {},
	"image/png":       {},
	"image/gif":       {},
	"image/heic":      {},
	"image/heif":      {},
}

// NormalizeContentType lowercases a MIME type and strips any parameters.
func NormalizeContentType(ct string) string {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.Index(ct, ";"); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	return ct
}

// IsSupportedContentType reports whether uploads of this type are accepted.
func IsSupportedContentType(ct string) bool {
	_, ok := SupportedContentTypes[NormalizeContentType(ct)]
	return ok
}
