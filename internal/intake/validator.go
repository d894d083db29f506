// Package intake checks an upload before any provider is called.
package intake

import (
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"english-eval-go/internal/evalerr"
)

// Validator holds the configured size limit and content type allow-list.
// Any audio/* or video/* type is accepted on top of the list.
type Validator struct {
	maxBytes int64
	allowed  map[string]struct{}
}

func New(maxBytes int64, allowedContentTypes []string) *Validator {
	allowed := make(map[string]struct{}, len(allowedContentTypes))
	for _, ct := range allowedContentTypes {
		allowed[normalize(ct)] = struct{}{}
	}
	return &Validator{maxBytes: maxBytes, allowed: allowed}
}

func (v *Validator) MaxBytes() int64 { return v.maxBytes }

// Validate is a pure check of declared size and content type. It returns
// the effective (normalised) content type on success.
func (v *Validator) Validate(size int64, contentType string) (string, error) {
	if size <= 0 {
		return "", evalerr.Validation(evalerr.ConstraintEmpty, "file is empty")
	}
	if size > v.maxBytes {
		return "", v.TooLarge(size)
	}
	ct := normalize(contentType)
	if !v.accepts(ct) {
		return "", evalerr.Validation(evalerr.ConstraintContentType,
			"invalid file type: %q, must be audio or video", contentType)
	}
	return ct, nil
}

func (v *Validator) accepts(ct string) bool {
	if _, ok := v.allowed[ct]; ok {
		return true
	}
	major, sub, ok := strings.Cut(ct, "/")
	return ok && sub != "" && (major == "audio" || major == "video")
}

// TooLarge is the size violation, also used when the request body itself
// is cut off before the file could be read.
func (v *Validator) TooLarge(size int64) error {
	return evalerr.Validation(evalerr.ConstraintSize,
		"file too large: %d bytes, maximum %d MB", size, v.maxBytes/(1024*1024))
}

// ResolveContentType returns the declared type, or the type sniffed from
// the first bytes when nothing useful was declared.
func ResolveContentType(declared string, head []byte) string {
	ct := normalize(declared)
	if ct != "" && ct != "application/octet-stream" {
		return ct
	}
	if len(head) == 0 {
		return ct
	}
	return normalize(mimetype.Detect(head).String())
}

func normalize(ct string) string {
	ct = strings.TrimSpace(strings.ToLower(ct))
	if ct == "" {
		return ""
	}
	if mt, _, err := mime.ParseMediaType(ct); err == nil {
		return mt
	}
	return ct
}
