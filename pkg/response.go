package pkg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// maxErrorBody caps how much of an error response body is kept in FetchError.
const maxErrorBody = 512

// APIResponse is the envelope some servers wrap every response in.
// Servers that answer with raw JSON are supported too: see DecodeResponse.
type APIResponse struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// DecodeResponse checks the status of resp and decodes its JSON body into v.
//
// Non-2xx statuses return a *FetchError. A body wrapped in an APIResponse
// envelope is unwrapped first; a failed envelope (success=false) is reported
// as a FetchError carrying the server's message. An empty body leaves v
// untouched.
func DecodeResponse(resp *http.Response, path string, v any) error {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read %s: %v", ErrFetch, path, err)
	}

	method := ""
	if resp.Request != nil {
		method = resp.Request.Method
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &FetchError{Method: method, Path: path, Status: resp.StatusCode, Body: errorText(body)}
	}

	body = bytes.TrimSpace(body)
	if len(body) == 0 || v == nil {
		return nil
	}

	if body[0] == '{' {
		var env APIResponse
		if err := json.Unmarshal(body, &env); err == nil && env.Success != nil {
			if !*env.Success {
				return &FetchError{Method: method, Path: path, Status: resp.StatusCode, Body: env.Error}
			}
			if len(env.Data) == 0 || string(env.Data) == "null" {
				return nil
			}
			body = env.Data
		}
	}

	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrMalformedPayload, path, err)
	}
	return nil
}

// errorText extracts a readable message from an error body: the "error" field
// of an envelope when present, otherwise the trimmed text.
func errorText(body []byte) string {
	var env APIResponse
	if err := json.Unmarshal(body, &env); err == nil && env.Error != "" {
		return env.Error
	}
	text := strings.TrimSpace(string(body))
	if len(text) > maxErrorBody {
		text = text[:maxErrorBody]
	}
	return text
}
