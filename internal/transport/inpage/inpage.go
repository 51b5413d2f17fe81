// Package inpage holds the javascript both browser transports evaluate to
// make an origin call from inside the page.
package inpage

import (
	"encoding/json"
	"fmt"

	"cargotrack-backend/internal/session"
)

// ErrorPrefix starts the body of a call that threw inside the page.
const ErrorPrefix = "JS_ERROR"

// FetchScript takes the object built by Args and resolves to
// {status, body}. A rejected fetch resolves with status 0 and a body
// starting with ErrorPrefix instead of throwing.
const FetchScript = `async (req) => {
	try {
		const res = await fetch(req.url, {
			method: req.method,
			headers: req.headers,
			body: req.body === null ? undefined : req.body,
			credentials: "include",
		});
		return { status: res.status, body: await res.text() };
	} catch (e) {
		return { status: 0, body: "` + ErrorPrefix + `: " + e.toString() };
	}
}`

// Args turns a request into the argument of FetchScript.
func Args(req session.Request) map[string]any {
	var body any
	if req.Body != nil {
		body = string(req.Body)
	}
	headers := map[string]any{}
	for k, v := range req.Headers {
		headers[k] = v
	}
	return map[string]any{
		"url":     req.Url,
		"method":  req.Method,
		"headers": headers,
		"body":    body,
	}
}

type fetchResult struct {
	Status int    `json:"status"`
	Body   string `json:"body"`
}

// Decode converts whatever the driver handed back for FetchScript into a
// Response.
func Decode(value any) (session.Response, error) {
	if value == nil {
		return session.Response{}, fmt.Errorf("inpage: fetch returned nothing")
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return session.Response{}, fmt.Errorf("inpage: %w", err)
	}
	return DecodeJSON(raw)
}

// DecodeJSON is Decode for drivers that hand back raw json.
func DecodeJSON(raw []byte) (session.Response, error) {
	var out fetchResult
	err := json.Unmarshal(raw, &out)
	if err != nil {
		return session.Response{}, fmt.Errorf("inpage: decode fetch result: %w", err)
	}
	if out.Status == 0 {
		// a rejected fetch never reached the origin
		return session.Response{}, fmt.Errorf("inpage: %s", out.Body)
	}
	return session.Response{Status: out.Status, Body: []byte(out.Body)}, nil
}
