package verification

import (
	"bytes"
	"errors"
	"strings"
)

var (
	ErrInvalidRequest   = errors.New("invalid verification request")
	ErrUndecodableImage = errors.New("document image cannot be decoded")
)

// Image is an uploaded image together with its declared MIME type.
type Image struct {
	data     []byte
	mimeType string
}

// NewImage copies data so later changes by the caller cannot leak into a run.
func NewImage(data []byte, mimeType string) Image {
	return Image{data: bytes.Clone(data), mimeType: strings.TrimSpace(mimeType)}
}

// Bytes returns a copy of the raw image bytes.
func (i Image) Bytes() []byte {
	return bytes.Clone(i.data)
}

// Len returns the image size in bytes.
func (i Image) Len() int {
	return len(i.data)
}

// MIMEType returns the declared MIME type.
func (i Image) MIMEType() string {
	return i.mimeType
}

// Request is one verification run's input. It is read-only once constructed and
// shared by every task of a single orchestration.
type Request struct {
	id       string
	identity string
	document Image
	template *Image
}

// NewRequest validates the presence of the mandatory fields. The identity string is not
// checked for format here; the checksum metric scores it.
func NewRequest(id, identity string, document Image, template *Image) (*Request, error) {
	if strings.TrimSpace(identity) == "" {
		return nil, errors.Join(ErrInvalidRequest, errors.New("identity is required"))
	}
	if document.Len() == 0 {
		return nil, errors.Join(ErrInvalidRequest, errors.New("document image is required"))
	}
	req := &Request{id: id, identity: identity, document: document}
	if template != nil && template.Len() > 0 {
		t := *template
		req.template = &t
	}
	return req, nil
}

// ID returns the request identifier used for logging and persistence.
func (r *Request) ID() string { return r.id }

// Identity returns the identity string supplied by the caller.
func (r *Request) Identity() string { return r.identity }

// Document returns the primary document image.
func (r *Request) Document() Image { return r.document }

// Template returns the optional reference template.
func (r *Request) Template() (Image, bool) {
	if r.template == nil {
		return Image{}, false
	}
	return *r.template, true
}
