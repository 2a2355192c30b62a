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

// Package gatejson implements a declarative JSON-over-HTTP gateway: a text
// routing DSL binds an HTTP method and URI pattern to a SQL statement, a
// pipeline of processors, a Node.js script or a static JSON response. See
// [GatewayConfig] and [Parse] for the configuration surface, and
// [GatewayServer] for the runnable server. The code in cmd/gatewayd is a
// worked example of how to use the package.
package gatejson
