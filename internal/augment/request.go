package augment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"slices"
	"strings"
)

// Request is an outgoing API call before it is turned into an *http.Request.
//
// Body is interpreted by type:
//   - nil: no body
//   - map[string]any or any struct: a structured object, sent as JSON
//   - string or json.RawMessage: serialized JSON text
//   - *FormData: multipart/form-data
//   - url.Values: application/x-www-form-urlencoded
//   - []byte or io.Reader: opaque binary payload
type Request struct {
	Method string
	URL    string
	Header http.Header
	Body   any

	// Credentials makes the client attach and accept cookies
	Credentials bool
}

// NewRequest creates a request with an empty header set
func NewRequest(method, rawURL string, body any) *Request {
	return &Request{
		Method: strings.ToUpper(method),
		URL:    rawURL,
		Header: make(http.Header),
		Body:   body,
	}
}

// Clone returns a copy whose header and body containers can be modified
// without touching r
func (r *Request) Clone() *Request {
	out := *r
	out.Header = r.Header.Clone()
	if out.Header == nil {
		out.Header = make(http.Header)
	}

	switch body := r.Body.(type) {
	case map[string]any:
		out.Body = maps.Clone(body)
	case *FormData:
		out.Body = body.Clone()
	case url.Values:
		out.Body = cloneValues(body)
	case []byte:
		out.Body = slices.Clone(body)
	}
	return &out
}

func cloneValues(v url.Values) url.Values {
	out := make(url.Values, len(v))
	for key, values := range v {
		out[key] = slices.Clone(values)
	}
	return out
}

// FormFile is a file part of a multipart form
type FormFile struct {
	Filename    string
	ContentType string
	Content     []byte
}

// FormField is one ordered entry of a multipart form
type FormField struct {
	Name  string
	Value string
	File  *FormFile
}

// FormData is an ordered multipart form payload
type FormData struct {
	fields []FormField
}

// NewFormData creates an empty form
func NewFormData() *FormData {
	return &FormData{}
}

// Append adds a text field
func (f *FormData) Append(name, value string) {
	f.fields = append(f.fields, FormField{Name: name, Value: value})
}

// AppendFile adds a file field
func (f *FormData) AppendFile(name, filename, contentType string, content []byte) {
	f.fields = append(f.fields, FormField{
		Name: name,
		File: &FormFile{Filename: filename, ContentType: contentType, Content: content},
	})
}

// Delete removes every field called name
func (f *FormData) Delete(name string) {
	f.fields = slices.DeleteFunc(f.fields, func(field FormField) bool { return field.Name == name })
}

// Get returns the first text value of name
func (f *FormData) Get(name string) (string, bool) {
	for _, field := range f.fields {
		if field.Name == name && field.File == nil {
			return field.Value, true
		}
	}
	return "", false
}

// Fields returns the form entries in order
func (f *FormData) Fields() []FormField {
	return slices.Clone(f.fields)
}

// Clone returns an independent copy of the form
func (f *FormData) Clone() *FormData {
	return &FormData{fields: slices.Clone(f.fields)}
}

// Encode turns r into an *http.Request, serializing the body by type and
// setting a matching Content-Type when the caller hasn't
func Encode(ctx context.Context, r *Request) (*http.Request, error) {
	body, contentType, err := encodeBody(r.Body)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	for name, values := range r.Header {
		for _, value := range values {
			req.Header.Add(name, value)
		}
	}

	if contentType != "" {
		// Multipart boundaries are generated here, so that type always wins
		if req.Header.Get("Content-Type") == "" || strings.HasPrefix(contentType, "multipart/") {
			req.Header.Set("Content-Type", contentType)
		}
	}

	return req, nil
}

func encodeBody(body any) (io.Reader, string, error) {
	switch b := body.(type) {
	case nil:
		return nil, "", nil
	case string:
		return strings.NewReader(b), "application/json", nil
	case json.RawMessage:
		return bytes.NewReader(b), "application/json", nil
	case []byte:
		return bytes.NewReader(b), "application/octet-stream", nil
	case io.Reader:
		return b, "", nil
	case url.Values:
		return strings.NewReader(b.Encode()), "application/x-www-form-urlencoded", nil
	case *FormData:
		return encodeMultipart(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			return nil, "", fmt.Errorf("failed to marshal request: %w", err)
		}
		return bytes.NewReader(data), "application/json", nil
	}
}

func encodeMultipart(form *FormData) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	for _, field := range form.fields {
		if field.File == nil {
			if err := w.WriteField(field.Name, field.Value); err != nil {
				return nil, "", fmt.Errorf("failed to write form field %s: %w", field.Name, err)
			}
			continue
		}

		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, field.Name, field.File.Filename))
		contentType := field.File.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		header.Set("Content-Type", contentType)

		part, err := w.CreatePart(header)
		if err != nil {
			return nil, "", fmt.Errorf("failed to write form file %s: %w", field.Name, err)
		}
		if _, err := part.Write(field.File.Content); err != nil {
			return nil, "", fmt.Errorf("failed to write form file %s: %w", field.Name, err)
		}
	}

	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to finish multipart body: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
