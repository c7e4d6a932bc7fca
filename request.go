package unison

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/tidwall/gjson"
)

// DefaultBodyLimit is the largest body BodyFrom reads without ParseBody.
const DefaultBodyLimit int64 = 1 << 20

type bodyKey struct{}

// Body is a parsed request body.  JSON objects and urlencoded forms are
// understood; other content is kept raw and has no fields.
type Body struct {
	raw    []byte
	fields map[string]gjson.Result
	form   url.Values
}

// Has reports whether name is a top-level field of the body.  A JSON null
// counts as present.
func (b *Body) Has(name string) bool {
	if b == nil {
		return false
	}
	if _, ok := b.fields[name]; ok {
		return true
	}
	return b.form.Has(name)
}

// Value returns the string form of a top-level field.
func (b *Body) Value(name string) (string, bool) {
	if b == nil {
		return "", false
	}
	if res, ok := b.fields[name]; ok {
		return res.String(), true
	}
	if b.form.Has(name) {
		return b.form.Get(name), true
	}
	return "", false
}

// Raw returns the unparsed body bytes.
func (b *Body) Raw() []byte {
	if b == nil {
		return nil
	}
	return b.raw
}

// Decode unmarshals a JSON body into v.
func (b *Body) Decode(v interface{}) error {
	return json.Unmarshal(b.Raw(), v)
}

// BodyFrom returns the body parsed by ParseBody, parsing it now if no
// middleware did.  The request body remains readable afterwards.  A body
// larger than DefaultBodyLimit yields an *http.MaxBytesError.
func BodyFrom(r *http.Request) (*Body, error) {
	if b, ok := r.Context().Value(bodyKey{}).(*Body); ok {
		return b, nil
	}
	return readBody(nil, r, DefaultBodyLimit)
}

// ParseBody is middleware that parses JSON and urlencoded bodies of at
// most limit bytes and stores the result on the request context.  Larger
// bodies are answered with 413.
func ParseBody(limit int64) func(http.Handler) http.Handler {
	if limit <= 0 {
		limit = DefaultBodyLimit
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			b, err := readBody(w, r, limit)
			if err != nil {
				writeBodyError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), bodyKey{}, b)))
		})
	}
}

// writeBodyError answers a request whose body could not be read.
func writeBodyError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	WriteJSON(w, Fail(http.StatusText(status)))
}

func readBody(w http.ResponseWriter, r *http.Request, limit int64) (*Body, error) {
	b := &Body{}
	if r.Body == nil || r.Body == http.NoBody {
		return b, nil
	}
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		return nil, err
	}
	_ = r.Body.Close()
	r.Body = io.NopCloser(bytes.NewReader(raw))
	b.raw = raw

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "application/x-www-form-urlencoded":
		form, err := url.ParseQuery(string(raw))
		if err == nil {
			b.form = form
		}
	default:
		if mediaType != "" && mediaType != "application/json" {
			break
		}
		if !gjson.ValidBytes(raw) {
			break
		}
		if parsed := gjson.ParseBytes(raw); parsed.IsObject() {
			b.fields = parsed.Map()
		}
	}
	return b, nil
}
