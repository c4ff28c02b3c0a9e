// Package webhook decodes raw webhook deliveries into a flat key/value
// payload.
package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"

	common "github.com/example/whatsapp-channel-adapter/internal/adapters/common"
)

// DefaultMaxBodyBytes caps how much of a request body DecodeRequest reads.
const DefaultMaxBodyBytes int64 = 1 << 20

const formContentType = "application/x-www-form-urlencoded"

// Payload is a decoded webhook body. Form fields may repeat, so every key maps
// to a list of values.
type Payload map[string][]string

// Get returns the first value for key or "".
func (p Payload) Get(key string) string {
	if vs := p[key]; len(vs) > 0 {
		return vs[0]
	}
	return ""
}

// Values returns all values for key.
func (p Payload) Values(key string) []string { return p[key] }

// Has reports whether key is present with a non-empty first value.
func (p Payload) Has(key string) bool { return p.Get(key) != "" }

// Keys returns the keys in sorted order.
func (p Payload) Keys() []string {
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy.
func (p Payload) Clone() Payload {
	if p == nil {
		return nil
	}
	out := make(Payload, len(p))
	for k, vs := range p {
		out[k] = append([]string(nil), vs...)
	}
	return out
}

// ToMap flattens the payload: single values become strings, repeated values
// stay lists.
func (p Payload) ToMap() map[string]any {
	out := make(map[string]any, len(p))
	for k, vs := range p {
		switch len(vs) {
		case 0:
			out[k] = ""
		case 1:
			out[k] = vs[0]
		default:
			out[k] = append([]string(nil), vs...)
		}
	}
	return out
}

// Decode turns body into a Payload. Raw bodies ([]byte, string, io.Reader)
// are parsed as form data when contentType says so and as a JSON object
// otherwise. Bodies a framework already decoded are passed through. A body
// without any field is a DecodeError.
func Decode(body any, contentType string) (Payload, error) {
	payload, err := decode(body, contentType)
	if err != nil {
		return nil, err
	}
	return nonEmpty(payload, contentType)
}

func decode(body any, contentType string) (Payload, error) {
	switch v := body.(type) {
	case nil:
		return nil, &common.DecodeError{ContentType: contentType, Err: errors.New("body is empty")}
	case Payload:
		return v, nil
	case url.Values:
		return Payload(v), nil
	case map[string][]string:
		return Payload(v), nil
	case map[string]string:
		out := make(Payload, len(v))
		for k, s := range v {
			out[k] = []string{s}
		}
		return out, nil
	case map[string]any:
		return fromObject(v, contentType)
	case []byte:
		return decodeRaw(v, contentType)
	case string:
		return decodeRaw([]byte(v), contentType)
	case io.Reader:
		raw, err := io.ReadAll(v)
		if err != nil {
			return nil, &common.DecodeError{ContentType: contentType, Err: err}
		}
		return decodeRaw(raw, contentType)
	default:
		return nil, &common.DecodeError{ContentType: contentType, Err: fmt.Errorf("unsupported body type %T", body)}
	}
}

// DecodeRequest reads and decodes the body of r. The raw bytes are returned
// alongside the payload so JSON signatures can be checked over them. When the
// form was already parsed upstream, r.PostForm is reused and raw is nil.
func DecodeRequest(r *http.Request, maxBytes int64) (Payload, []byte, error) {
	contentType := r.Header.Get("Content-Type")
	if len(r.PostForm) > 0 {
		return Payload(r.PostForm), nil, nil
	}
	if r.Body == nil {
		return nil, nil, &common.DecodeError{ContentType: contentType, Err: errors.New("body is empty")}
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBodyBytes
	}
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxBytes+1))
	if err != nil {
		return nil, nil, &common.DecodeError{ContentType: contentType, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(raw)) > maxBytes {
		return nil, nil, &common.DecodeError{ContentType: contentType, Err: fmt.Errorf("body exceeds %d bytes", maxBytes)}
	}
	payload, err := decodeRaw(raw, contentType)
	if err != nil {
		return nil, raw, err
	}
	if payload, err = nonEmpty(payload, contentType); err != nil {
		return nil, raw, err
	}
	return payload, raw, nil
}

// IsForm reports whether contentType declares form encoding.
func IsForm(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.Contains(strings.ToLower(contentType), formContentType)
	}
	return mediaType == formContentType
}

func nonEmpty(p Payload, contentType string) (Payload, error) {
	if len(p) == 0 {
		return nil, &common.DecodeError{ContentType: contentType, Err: errors.New("payload has no fields")}
	}
	return p, nil
}

func decodeRaw(raw []byte, contentType string) (Payload, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil, &common.DecodeError{ContentType: contentType, Err: errors.New("body is empty")}
	}
	if IsForm(contentType) {
		values, err := url.ParseQuery(string(raw))
		if err != nil {
			return nil, &common.DecodeError{ContentType: contentType, Err: err}
		}
		return Payload(values), nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var obj map[string]any
	if err := dec.Decode(&obj); err != nil {
		return nil, &common.DecodeError{ContentType: contentType, Err: err}
	}
	if obj == nil {
		return nil, &common.DecodeError{ContentType: contentType, Err: errors.New("json body is not an object")}
	}
	return fromObject(obj, contentType)
}

func fromObject(obj map[string]any, contentType string) (Payload, error) {
	out := make(Payload, len(obj))
	for k, v := range obj {
		switch val := v.(type) {
		case nil:
			continue
		case []any:
			values := make([]string, 0, len(val))
			for _, item := range val {
				s, err := scalarString(item)
				if err != nil {
					return nil, &common.DecodeError{ContentType: contentType, Err: fmt.Errorf("field %s: %w", k, err)}
				}
				values = append(values, s)
			}
			out[k] = values
		default:
			s, err := scalarString(val)
			if err != nil {
				return nil, &common.DecodeError{ContentType: contentType, Err: fmt.Errorf("field %s: %w", k, err)}
			}
			out[k] = []string{s}
		}
	}
	return out, nil
}

func scalarString(v any) (string, error) {
	switch val := v.(type) {
	case string:
		return val, nil
	case json.Number:
		return val.String(), nil
	case bool:
		if val {
			return "true", nil
		}
		return "false", nil
	case nil:
		return "", nil
	default:
		raw, err := json.Marshal(val)
		if err != nil {
			return "", err
		}
		return string(raw), nil
	}
}
