package simulator

import (
	"bytes"
	"encoding/json"
	"io"
	"math"
	"mime"
	"mime/multipart"
	"net/url"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	EncodingJSON = "json"
	EncodingForm = "form"

	maxFormPartBytes = 1 << 20
)

// TriggerRequest is the canonical form of a pipeline trigger request,
// independent of the wire encoding it arrived in.
type TriggerRequest struct {
	Token                string
	Ref                  string
	Variables            map[string]string
	ScenarioID           *int64
	TerminalAfterSeconds *int64
	TerminalStatus       *string

	// Encoding records which front end produced the request.
	Encoding string
}

// FormField is a single key/value pair of a flat form body, in wire order.
type FormField struct {
	Key   string
	Value string
}

// rawTrigger is what both front ends reduce a body to before the shared
// canonicalisation step.
type rawTrigger struct {
	encoding  string
	fields    map[string]any
	variables map[string]string
}

// NormalizeTrigger parses body according to contentType. Structured JSON
// bodies go through the JSON front end; anything else is treated as a flat
// form (urlencoded or multipart).
func NormalizeTrigger(contentType string, body io.Reader) (TriggerRequest, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return TriggerRequest{}, errors.Wrap(err, "read trigger body")
	}

	mediaType, params, parseErr := mime.ParseMediaType(contentType)
	if parseErr != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}

	switch {
	case isJSONMediaType(mediaType):
		return NormalizeJSON(data)
	case mediaType == "multipart/form-data":
		fields, err := ParseMultipart(bytes.NewReader(data), params["boundary"])
		if err != nil {
			return TriggerRequest{}, err
		}
		return NormalizeForm(fields)
	default:
		fields, err := ParseURLEncoded(string(data))
		if err != nil {
			return TriggerRequest{}, err
		}
		return NormalizeForm(fields)
	}
}

func isJSONMediaType(mediaType string) bool {
	return mediaType == "application/json" ||
		strings.HasSuffix(mediaType, "+json") ||
		strings.Contains(mediaType, "application/json")
}

// NormalizeJSON is the structured-document front end.
func NormalizeJSON(data []byte) (TriggerRequest, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var payload any
	if err := dec.Decode(&payload); err != nil {
		return TriggerRequest{}, Validationf("invalid JSON payload")
	}
	obj, ok := payload.(map[string]any)
	if !ok {
		return TriggerRequest{}, Validationf("invalid JSON payload")
	}

	raw := rawTrigger{
		encoding:  EncodingJSON,
		fields:    obj,
		variables: map[string]string{},
	}

	switch vars := obj["variables"].(type) {
	case nil:
	case map[string]any:
		for k, v := range vars {
			raw.variables[k] = stringify(v)
		}
	default:
		return TriggerRequest{}, Validationf("variables must be an object")
	}

	return canonicalize(raw)
}

// NormalizeForm is the flat-form front end. variables[NAME]=value keys build
// the variables map; a bare variables key replaces the map with a single
// "value" entry. Every other key is a scalar field and the last occurrence wins.
func NormalizeForm(fields []FormField) (TriggerRequest, error) {
	raw := rawTrigger{
		encoding:  EncodingForm,
		fields:    map[string]any{},
		variables: map[string]string{},
	}

	for _, f := range fields {
		switch {
		case strings.HasPrefix(f.Key, "variables[") && strings.HasSuffix(f.Key, "]") && len(f.Key) >= len("variables[]"):
			name := f.Key[len("variables[") : len(f.Key)-1]
			raw.variables[name] = f.Value
		case f.Key == "variables":
			raw.variables = map[string]string{"value": f.Value}
		default:
			raw.fields[f.Key] = f.Value
		}
	}

	return canonicalize(raw)
}

// ParseURLEncoded splits an application/x-www-form-urlencoded body into
// fields, keeping their order.
func ParseURLEncoded(body string) ([]FormField, error) {
	var fields []FormField
	for _, pair := range strings.Split(body, "&") {
		if pair == "" {
			continue
		}
		rawKey, rawValue, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(rawKey)
		if err != nil {
			return nil, Validationf("invalid form field %q", rawKey)
		}
		value, err := url.QueryUnescape(rawValue)
		if err != nil {
			return nil, Validationf("invalid value for form field %q", key)
		}
		fields = append(fields, FormField{Key: key, Value: value})
	}
	return fields, nil
}

// ParseMultipart reads a multipart/form-data body part by part so that field
// order is preserved.
func ParseMultipart(body io.Reader, boundary string) ([]FormField, error) {
	if boundary == "" {
		return nil, Validationf("multipart body missing boundary")
	}

	reader := multipart.NewReader(body, boundary)
	var fields []FormField
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return fields, nil
		}
		if err != nil {
			return nil, Validationf("invalid multipart body")
		}

		name := part.FormName()
		value, err := io.ReadAll(io.LimitReader(part, maxFormPartBytes))
		_ = part.Close()
		if err != nil {
			return nil, Validationf("invalid multipart field %q", name)
		}
		if name == "" {
			continue
		}
		fields = append(fields, FormField{Key: name, Value: string(value)})
	}
}

func canonicalize(raw rawTrigger) (TriggerRequest, error) {
	req := TriggerRequest{
		Token:     stringify(raw.fields["token"]),
		Ref:       stringify(raw.fields["ref"]),
		Variables: raw.variables,
		Encoding:  raw.encoding,
	}
	if req.Variables == nil {
		req.Variables = map[string]string{}
	}

	if req.Token == "" || req.Ref == "" {
		return TriggerRequest{}, Validationf("token and ref are required")
	}

	var err error
	if req.ScenarioID, err = optionalInt(raw.fields["scenario_id"], "scenario_id"); err != nil {
		return TriggerRequest{}, err
	}
	if req.TerminalAfterSeconds, err = optionalInt(raw.fields["terminal_after_seconds"], "terminal_after_seconds"); err != nil {
		return TriggerRequest{}, err
	}
	if req.TerminalAfterSeconds != nil && *req.TerminalAfterSeconds < 0 {
		return TriggerRequest{}, Validationf("terminal_after_seconds must be non-negative")
	}
	if status := stringify(raw.fields["terminal_status"]); status != "" {
		req.TerminalStatus = &status
	}

	return req, nil
}

// optionalInt coerces v to an integer. Absent, null and empty string all mean
// "not provided".
func optionalInt(v any, field string) (*int64, error) {
	switch val := v.(type) {
	case nil:
		return nil, nil
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return nil, nil
		}
		n, err := strconv.ParseInt(trimmed, 10, 64)
		if err != nil {
			return nil, Validationf("%s must be an integer", field)
		}
		return &n, nil
	case json.Number:
		if n, err := val.Int64(); err == nil {
			return &n, nil
		}
		f, err := val.Float64()
		if err != nil || f != math.Trunc(f) || math.Abs(f) > math.MaxInt64 {
			return nil, Validationf("%s must be an integer", field)
		}
		n := int64(f)
		return &n, nil
	default:
		return nil, Validationf("%s must be an integer", field)
	}
}

// stringify renders a decoded JSON or form value as a string. JSON null is
// the empty string and booleans are lowercase, as they appear on the wire.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case json.Number:
		return val.String()
	case bool:
		return strconv.FormatBool(val)
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	default:
		data, err := json.Marshal(val)
		if err != nil {
			return ""
		}
		return string(data)
	}
}
