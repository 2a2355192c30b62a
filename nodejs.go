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

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"
)

// nodeEnvelope is the JSON object a Node.js action script must print to
// stdout (spec.md §4.D, §6 "Node.js interface").
type nodeEnvelope struct {
	Status  int             `json:"status"`
	Headers [][2]string     `json:"headers"`
	Body    json.RawMessage `json:"body"`
}

// RunNodeJS spawns `<nodeBinary> <scriptPath>`, writes bag as a JSON object
// on stdin, and decodes the single JSON envelope printed on stdout. A
// non-zero exit status or malformed envelope is reported as NodeJsError
// (spec.md §4.D, §7); stderr output is attached to the rc logger.
func RunNodeJS(ctx context.Context, rc *RequestContext, scriptPath string, bag map[string]any) (RouteResponse, error) {
	nodeBinary := "node"
	if rc != nil && rc.NodeBinary != "" {
		nodeBinary = rc.NodeBinary
	}

	stdin, err := json.Marshal(bag)
	if err != nil {
		return RouteResponse{}, NewError(ErrNodeJs, err)
	}

	cmd := exec.CommandContext(ctx, nodeBinary, scriptPath)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	if rc != nil && rc.Logger != nil && stderr.Len() > 0 {
		rc.Logger.Warn().Str("script", scriptPath).Str("stderr", stderr.String()).Msg("nodejs script wrote to stderr")
	}
	if runErr != nil {
		return RouteResponse{}, NewErrorf(ErrNodeJs, "script %q: %v", scriptPath, runErr)
	}

	var env nodeEnvelope
	if err := json.Unmarshal(stdout.Bytes(), &env); err != nil {
		return RouteResponse{}, NewErrorf(ErrNodeJs, "script %q produced a malformed envelope: %v", scriptPath, err)
	}
	if env.Status == 0 {
		return RouteResponse{}, NewErrorf(ErrNodeJs, "script %q: envelope missing status", scriptPath)
	}

	var body any
	if len(env.Body) > 0 {
		if err := json.Unmarshal(env.Body, &body); err != nil {
			return RouteResponse{}, NewErrorf(ErrNodeJs, "script %q: invalid body json: %v", scriptPath, err)
		}
	}

	headers := make(map[string]string, len(env.Headers))
	for _, h := range env.Headers {
		headers[h[0]] = h[1]
	}

	return RouteResponse{Status: env.Status, Headers: headers, Body: body}, nil
}
