/*
 * Copyright 2022 RapidLoop, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package gatejson

import "fmt"

// ErrorKind is the machine-readable error taxonomy of spec.md §7.
type ErrorKind string

const (
	ErrBadRequest          ErrorKind = "BadRequest"
	ErrUnauthorized        ErrorKind = "Unauthorized"
	ErrNotFound            ErrorKind = "NotFound"
	ErrConflict            ErrorKind = "Conflict"
	ErrServerConfiguration ErrorKind = "ServerConfiguration"
	ErrDb                  ErrorKind = "DbError"
	ErrNodeJs              ErrorKind = "NodeJsError"
	ErrPipeline            ErrorKind = "PipelineError"
	ErrTimeout             ErrorKind = "Timeout"
)

// Status returns the HTTP status code associated with a [GatewayError]'s
// kind, per spec.md §7.
func (k ErrorKind) Status() int {
	switch k {
	case ErrBadRequest:
		return 400
	case ErrUnauthorized:
		return 401
	case ErrNotFound:
		return 404
	case ErrConflict:
		return 409
	case ErrTimeout:
		return 504
	default: // ServerConfiguration, DbError, NodeJsError, PipelineError
		return 500
	}
}

// GatewayError is the error type returned by every action and dispatch
// step. Only at the HTTP boundary does it become a [RouteResponse]
// (spec.md §7).
type GatewayError struct {
	Kind ErrorKind
	Node string // populated for PipelineError, names the failing processor
	Err  error
}

func (e *GatewayError) Error() string {
	if e.Node != "" {
		return fmt.Sprintf("%s: node %q: %v", e.Kind, e.Node, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return string(e.Kind)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// NewError wraps err (may be nil) with the given kind.
func NewError(kind ErrorKind, err error) *GatewayError {
	return &GatewayError{Kind: kind, Err: err}
}

// NewErrorf is a convenience wrapper for NewError(kind, fmt.Errorf(...)).
func NewErrorf(kind ErrorKind, format string, args ...any) *GatewayError {
	return &GatewayError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// forNode returns a copy of e tagged with the failing pipeline processor's
// name, for PipelineError propagation (spec.md §4.E step 5).
func (e *GatewayError) forNode(name string) *GatewayError {
	if e.Node != "" {
		return e // already tagged by an inner pipeline
	}
	return &GatewayError{Kind: ErrPipeline, Node: name, Err: e}
}

// errorResponse converts a GatewayError into its wire-level JSON shape:
// `{"error":"<kind>"}`, plus `"node"` for a tagged PipelineError
// (spec.md §4.F, §7, scenario E6). The wrapped error's text is not
// echoed into the body — it stays available on the GatewayError itself
// for a caller that wants to log it.
func errorResponse(err error) RouteResponse {
	ge, ok := err.(*GatewayError)
	if !ok {
		ge = NewError(ErrDb, err)
	}
	body := map[string]any{"error": string(ge.Kind)}
	if ge.Node != "" {
		body["node"] = ge.Node
	}
	return RouteResponse{Status: ge.Kind.Status(), Body: body}
}
