package session

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Verdict is how a response to a query is interpreted.
type Verdict int

const (
	// VerdictOk means the payload is plausible data.
	VerdictOk Verdict = iota
	// VerdictStale means the origin was reached but the payload looks like an
	// auth failure, the token is treated as expired.
	VerdictStale
	// VerdictNotFound means the session is fine but the origin has nothing
	// for the requested keys.
	VerdictNotFound
	// VerdictFailed means the call failed at the transport/http level.
	VerdictFailed
)

func (v Verdict) String() string {
	switch v {
	case VerdictOk:
		return "ok"
	case VerdictStale:
		return "stale"
	case VerdictNotFound:
		return "not_found"
	case VerdictFailed:
		return "failed"
	}
	return fmt.Sprintf("verdict(%d)", int(v))
}

// Classifier separates "token expired" from "target unknown upstream".
// The checks run in this order:
//
//  1. auth statuses (401, 403, 419) are stale, any other non-2xx failed
//  2. ErrorMarkers at the start of the body are failed
//  3. NotFoundMarkers anywhere in the body are not found
//  4. StaleMarkers anywhere in the body are stale
//  5. bodies shorter than MinPayloadLength are stale
//  6. if ResultPath is set and the body is json: a missing path is stale, an
//     empty array/object/string at the path is not found
type Classifier struct {
	StaleMarkers     []string
	NotFoundMarkers  []string
	ErrorMarkers     []string
	MinPayloadLength int
	// ResultPath is a gjson path into the response that holds the results.
	ResultPath string
}

func containsAny(body []byte, markers []string) (string, bool) {
	for _, m := range markers {
		if m != "" && bytes.Contains(body, []byte(m)) {
			return m, true
		}
	}
	return "", false
}

func (c Classifier) Classify(res Response) (Verdict, string) {
	if !res.Ok() {
		if IsAuthStatus(res.Status) {
			return VerdictStale, fmt.Sprintf("auth status %d", res.Status)
		}
		return VerdictFailed, fmt.Sprintf("status %d", res.Status)
	}

	trimmed := bytes.TrimSpace(res.Body)
	for _, m := range c.ErrorMarkers {
		if m != "" && bytes.HasPrefix(trimmed, []byte(m)) {
			return VerdictFailed, fmt.Sprintf("error marker %q", m)
		}
	}
	if m, ok := containsAny(trimmed, c.NotFoundMarkers); ok {
		return VerdictNotFound, fmt.Sprintf("not found marker %q", m)
	}
	if m, ok := containsAny(trimmed, c.StaleMarkers); ok {
		return VerdictStale, fmt.Sprintf("stale marker %q", m)
	}
	if len(trimmed) < c.MinPayloadLength {
		return VerdictStale, fmt.Sprintf("payload too short (%d < %d)", len(trimmed), c.MinPayloadLength)
	}

	if c.ResultPath != "" && gjson.ValidBytes(trimmed) {
		result := gjson.GetBytes(trimmed, c.ResultPath)
		if !result.Exists() {
			return VerdictStale, fmt.Sprintf("result path %q missing", c.ResultPath)
		}
		if isEmptyResult(result) {
			return VerdictNotFound, fmt.Sprintf("result path %q empty", c.ResultPath)
		}
	}

	return VerdictOk, ""
}

func isEmptyResult(result gjson.Result) bool {
	switch {
	case result.Type == gjson.Null:
		return true
	case result.IsArray():
		return len(result.Array()) == 0
	case result.IsObject():
		return len(result.Map()) == 0
	case result.Type == gjson.String:
		return strings.TrimSpace(result.String()) == ""
	}
	return false
}
