package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"net/url"

	"github.com/tjfontaine/contact-gateway/internal/pipeline"
)

const (
	msgBodyTooLarge = "Request body too large"
	msgBodyInvalid  = "Malformed request body"
)

// bodyStage decodes JSON and form bodies into the RequestContext. Other
// content types pass through untouched.
type bodyStage struct {
	limit int64
}

func (s *bodyStage) Name() string { return "body" }

func (s *bodyStage) Process(w http.ResponseWriter, r *http.Request) (*http.Request, pipeline.Action, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return r, pipeline.ActionAllow, nil
	}

	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return r, pipeline.ActionAllow, nil
	}
	if mediaType != "application/json" && mediaType != "application/x-www-form-urlencoded" {
		return r, pipeline.ActionAllow, nil
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteMessage(w, http.StatusRequestEntityTooLarge, false, msgBodyTooLarge)
			return nil, pipeline.ActionDeny, nil
		}
		return nil, "", err
	}

	var body map[string]any
	if len(bytes.TrimSpace(raw)) > 0 {
		switch mediaType {
		case "application/json":
			body, err = decodeJSONObject(raw)
		default:
			body, err = decodeForm(raw)
		}
		if err != nil {
			WriteMessage(w, http.StatusBadRequest, false, msgBodyInvalid)
			return nil, pipeline.ActionDeny, nil
		}
	}

	if rc := FromContext(r.Context()); rc != nil {
		rc.Body = body
		rc.RawBody = raw
	}

	// Downstream handlers may still read the body themselves
	out := r.WithContext(r.Context())
	out.Body = io.NopCloser(bytes.NewReader(raw))
	return out, pipeline.ActionMutate, nil
}

// decodeJSONObject accepts a single JSON object.
func decodeJSONObject(raw []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		return nil, err
	}
	if body == nil {
		return nil, errors.New("body is not a JSON object")
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON object")
	}
	return body, nil
}

// decodeForm keeps the first value of each field.
func decodeForm(raw []byte) (map[string]any, error) {
	values, err := url.ParseQuery(string(raw))
	if err != nil {
		return nil, err
	}
	body := make(map[string]any, len(values))
	for k, v := range values {
		if len(v) > 0 {
			body[k] = v[0]
		}
	}
	return body, nil
}
