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
	"encoding/json"
	"fmt"
	"strings"
)

// SchemaVersion is the semver version of the schema of the gateway's server
// configuration file. Currently this is v1.0.0.
const SchemaVersion = "1.0.0"

//------------------------------------------------------------------------------
// server configuration

// GatewayConfig is the entirety of the runtime configuration for a
// [GatewayServer], typically deserialized from a .json or .yaml file. It is
// deliberately kept separate from the routes DSL file (see [Parse]), which
// carries the routing table itself.
type GatewayConfig struct {
	// Version is the semver schema version of this structure. Required.
	Version string `json:"version"`

	// Listen is the `IP` or `IP:port` the server will bind to. If the port
	// is omitted, it defaults to 8080.
	Listen string `json:"listen,omitempty"`

	// RoutesFile is the path to the routes DSL file (see [Parse]). Required.
	RoutesFile string `json:"routesFile"`

	// Datasources lists every PostgreSQL database that routes, pipelines
	// and jobs may refer to by name. All of them are connected to at
	// startup unless marked lazy.
	Datasources []Datasource `json:"datasources,omitempty"`

	// CORS configures Cross-Origin-Resource-Sharing. Optional; CORS
	// headers are not added if this is absent.
	CORS *CORS `json:"cors,omitempty"`

	// Compression enables transparent gzip/deflate of responses.
	Compression bool `json:"compression,omitempty"`

	// HMAC configures request authentication (spec §4.F, §6).
	HMAC *HMACConfig `json:"hmac,omitempty"`

	// NodeBinary is the path to the Node.js executable used for NodeJs
	// actions. Defaults to "node" if empty.
	NodeBinary string `json:"nodeBinary,omitempty"`

	// MaxBodyBytes bounds the size of request bodies read by the
	// dispatcher (spec §4.F step 1). Defaults to 1<<20 if <= 0.
	MaxBodyBytes int64 `json:"maxBodyBytes,omitempty"`

	// DefaultTimeoutSeconds is the default per-action execution budget
	// (spec §5). Defaults to 30 if <= 0.
	DefaultTimeoutSeconds float64 `json:"defaultTimeout,omitempty"`

	// CacheTTLSeconds, if > 0, turns on response caching (see cache.go)
	// for read-only SQL actions (Item, ItemOk, Collection). Entries are
	// keyed by the route's SQL template text plus the bound parameter bag,
	// so distinct bindings never share an entry (spec §5).
	CacheTTLSeconds float64 `json:"cacheTTL,omitempty"`

	// EventsDatasource, if set, names a datasource used to relay
	// successful-dispatch events (the "post-success hook" plug point of
	// spec §6) over Postgres LISTEN/NOTIFY to any subscriber of the
	// /_events endpoint. If unset, the event bus still runs, fed
	// in-process, but no Postgres round-trip is made.
	EventsDatasource string `json:"eventsDatasource,omitempty"`

	// Jobs lists scheduled maintenance jobs (see jobs.go). Not part of the
	// distilled core; an ambient operational supplement.
	Jobs []Job `json:"jobs,omitempty"`

	// Pipelines is the named table of externally defined pipelines (spec.md
	// glossary: "Mesh") that routes' `||name` pipeline actions and
	// processors of type `pipeline` resolve against. Each entry uses the
	// same wire schema as an inline pipeline literal (see [Parse]).
	Pipelines map[string]json.RawMessage `json:"pipelines,omitempty"`
}

// Validate the server configuration. Returns a list of errors and warnings.
func (c *GatewayConfig) Validate() (r []ValidationResult) {
	return c.validate()
}

// IsValid performs validation (calling Validate() internally) and returns an
// error if at least one error-level result was found. Warnings are not
// included in the returned error.
func (c *GatewayConfig) IsValid() error {
	var a []string
	for _, r := range c.Validate() {
		if !r.Warn {
			a = append(a, r.Message)
		}
	}
	if len(a) > 0 {
		return fmt.Errorf("%d errors: %s", len(a), strings.Join(a, "; "))
	}
	return nil
}

// ValidationResult holds one entry of the results of validation.
type ValidationResult struct {
	// Warn is true if the message is a warning, else it is an error.
	Warn bool

	// Message describes the error or warning.
	Message string
}

//------------------------------------------------------------------------------
// hmac

// HMACConfig configures request-signature authentication (spec §4.F, §6).
type HMACConfig struct {
	// Enabled turns on signature verification.
	Enabled bool `json:"enabled,omitempty"`

	// Keys maps a public key id (the value of the X-Public-Key header) to
	// its shared secret.
	Keys map[string]string `json:"keys,omitempty"`

	// TrustLoopback, if true, exempts requests originating from a loopback
	// address from signature verification (spec §4.F step 2).
	TrustLoopback bool `json:"trustLoopback,omitempty"`
}

//------------------------------------------------------------------------------
// cors

// CORS specifies the Cross-Origin-Resource-Sharing configuration.
type CORS struct {
	// AllowedOrigins is a list of origins a cross-domain request can be
	// executed from. `*` allows all origins. Default is [`*`].
	AllowedOrigins []string `json:"allowedOrigins,omitempty"`

	// AllowedMethods is a list of methods allowed for cross-domain
	// requests. Default is [`HEAD`, `GET`, `POST`].
	AllowedMethods []string `json:"allowedMethods,omitempty"`

	// AllowedHeaders is a list of non-simple headers the client may use.
	// `*` allows all headers.
	AllowedHeaders []string `json:"allowedHeaders,omitempty"`

	// ExposedHeaders indicates which headers are safe to expose.
	ExposedHeaders []string `json:"exposedHeaders,omitempty"`

	// AllowCredentials indicates whether the request can include
	// credentials.
	AllowCredentials bool `json:"allowCredentials,omitempty"`

	// MaxAge indicates how long (seconds) a preflight response may be
	// cached.
	MaxAge *int `json:"maxAge,omitempty"`

	// Debug enables logging of CORS decisions.
	Debug bool `json:"debug,omitempty"`
}

//------------------------------------------------------------------------------
// datasource

// Datasource defines the parameters to connect to a PostgreSQL database.
type Datasource struct {
	// Name uniquely identifies a datasource. Required.
	Name string `json:"name"`

	// Host is an IP, hostname or Unix socket path. May include `:port`.
	Host string `json:"host,omitempty"`

	// Database is the name of the database to connect to.
	Database string `json:"dbname,omitempty"`

	// User is the PostgreSQL user to connect as.
	User string `json:"user,omitempty"`

	// Password for password authentication.
	Password string `json:"password,omitempty"`

	// SSLMode is one of disable, allow, prefer, require, verify-ca,
	// verify-full.
	SSLMode string `json:"sslmode,omitempty"`

	// SSLCert, SSLKey, SSLRootCert name client certificate files.
	SSLCert     string `json:"sslcert,omitempty"`
	SSLKey      string `json:"sslkey,omitempty"`
	SSLRootCert string `json:"sslrootcert,omitempty"`

	// Params specifies additional connection parameters.
	Params map[string]string `json:"params,omitempty"`

	// Timeout for establishing the connection, in seconds.
	Timeout *float64 `json:"timeout,omitempty"`

	// Role, if set, is a PostgreSQL role set immediately upon connection.
	Role string `json:"role,omitempty"`

	// Pool configures connection pooling for this datasource.
	Pool *ConnPool `json:"pool,omitempty"`

	// Default marks the datasource used by Sql actions in the routes DSL,
	// which (per spec.md §3) addresses "the" database connection pool and
	// never names a datasource explicitly. Exactly one datasource must be
	// marked Default, unless there is only one datasource altogether, in
	// which case it is the implicit default. Jobs and EventsDatasource may
	// still name any datasource explicitly.
	Default bool `json:"default,omitempty"`
}

// ConnPool specifies the pooling settings for a single datasource.
type ConnPool struct {
	// MinConns sets the minimum number of pooled connections.
	MinConns *int64 `json:"minConns,omitempty"`

	// MaxConns sets the maximum number of pooled connections. Defaults to
	// 10, unless a `pool_max_conns` entry in Params sets it.
	MaxConns *int64 `json:"maxConns,omitempty"`

	// MaxIdleTime in seconds after which an idle connection is closed.
	MaxIdleTime *float64 `json:"maxIdleTime,omitempty"`

	// MaxConnectedTime in seconds after which a connection is closed
	// regardless of activity.
	MaxConnectedTime *float64 `json:"maxConnectedTime,omitempty"`

	// Lazy, if set, means connections are established on first demand.
	Lazy bool `json:"lazy,omitempty"`
}

// TxOptions specify what type of transaction to use for a SQL statement.
type TxOptions struct {
	// Access is one of `read only` or `read write`. Defaults to read write.
	Access string `json:"access,omitempty"`

	// ISOLevel is one of `serializable`, `repeatable read`, `read
	// committed`. Defaults to read committed.
	ISOLevel string `json:"level,omitempty"`

	// Deferrable turns on the `deferrable` option.
	Deferrable bool `json:"deferrable,omitempty"`
}

//------------------------------------------------------------------------------
// jobs (ambient supplement, see jobs.go)

// Job represents a scheduled job run on a CRON-style schedule (spec.md is
// silent on scheduling; this is a supplement, see SPEC_FULL.md).
type Job struct {
	// Name uniquely identifies the job.
	Name string `json:"name"`

	// Schedule is a standard 5-part CRON expression, or a `@every ...`
	// style descriptor.
	Schedule string `json:"schedule"`

	// Type is one of `exec` or `pipeline`.
	Type string `json:"type"`

	// Datasource is required when Type is `exec`.
	Datasource string `json:"datasource,omitempty"`

	// Script holds the SQL statement(s) to run when Type is `exec`.
	Script string `json:"script,omitempty"`

	// Pipeline names a pipeline in the mesh to run when Type is `pipeline`.
	Pipeline string `json:"pipeline,omitempty"`

	// TxOptions applies to both `exec` and `pipeline` type jobs. An `exec`
	// job with no TxOptions runs its script outside an explicit transaction.
	TxOptions *TxOptions `json:"tx,omitempty"`

	// Debug turns on debug logging for invocations of this job.
	Debug bool `json:"debug,omitempty"`

	// Timeout in seconds, ignored if <= 0.
	Timeout *float64 `json:"timeout,omitempty"`
}

//------------------------------------------------------------------------------
// routing DSL data model (spec.md §3)

// Method is one of the HTTP methods recognized by the routing DSL.
type Method string

const (
	MethodGet     Method = "GET"
	MethodPost    Method = "POST"
	MethodPut     Method = "PUT"
	MethodPatch   Method = "PATCH"
	MethodDelete  Method = "DELETE"
	MethodOptions Method = "OPTIONS"
)

// Segment is one component of a URI [Pattern]: either a literal atom or a
// named variable.
type Segment struct {
	Literal  string
	Variable bool
}

// Pattern is an ordered list of URI [Segment]s, as parsed from a route's URI
// (spec.md §3).
type Pattern struct {
	Segments []Segment
	Raw      string
}

// DbResultKind determines how a SQL action's results are shaped into JSON
// (spec.md §3).
type DbResultKind int

const (
	ResultNone DbResultKind = iota
	ResultItem
	ResultItemOk
	ResultCollection
	ResultLastInsert
	ResultCount
)

// DbResult pairs a [DbResultKind] with the extra data each kind needs.
type DbResult struct {
	Kind DbResultKind

	// Columns names the output columns for Item, ItemOk and Collection.
	// Nil means a plain single-table `select *` was recognized (or
	// declared) with no fixed column list: rows are shaped from the
	// query's own live column names at execution time instead
	// (spec.md §4.A, §4.D).
	Columns []string

	// Table and Sequence name the insert target and its sequence, for
	// LastInsert.
	Table    string
	Sequence string
}

// HoleKind distinguishes a template hole bound from the URI path versus one
// bound from the JSON request body (spec.md §4.A).
type HoleKind int

const (
	HoleBody HoleKind = iota
	HolePath
)

// Fragment is one element of a parsed [DbTemplate]: either literal SQL text
// or a hole to be substituted from the parameter bag.
type Fragment struct {
	Literal bool
	Text    string   // literal SQL, when Literal
	Name    string   // hole name, when !Literal
	Kind    HoleKind // when !Literal
}

// DbTemplate is an ordered list of [Fragment]s produced by [ParseTemplate].
type DbTemplate struct {
	Fragments []Fragment
	Source    string
}

// DbQuery pairs a [DbResult] shaping mode with the [DbTemplate] to render
// and execute.
type DbQuery struct {
	Result   DbResult
	Template DbTemplate
}

// ActionKind tags the variant held by an [Action].
type ActionKind int

const (
	ActionSQL ActionKind = iota
	ActionPipeline
	ActionInlinePipeline
	ActionNodeJS
	ActionStatic
)

// Action is the tagged variant bound to a [Route] (spec.md §3): exactly one
// of the fields corresponding to Kind is populated.
type Action struct {
	Kind ActionKind

	SQL            DbQuery
	PipelineName   string
	InlinePipeline *Pipeline
	ScriptPath     string
	StaticResponse map[string]any

	TxOptions *TxOptions
	Timeout   *float64
}

// Route binds a [Method] and [Pattern] to an [Action]. Order within a
// routing table is significant: the first matching route wins (spec.md §3).
type Route struct {
	Method  Method
	Pattern Pattern
	Action  Action
	Line    int // 1-based source line, for diagnostics
}

//------------------------------------------------------------------------------
// pipelines (spec.md §3, §4.E)

// ProcessorKind tags the variant of a [Processor].
type ProcessorKind int

const (
	ProcSQL ProcessorKind = iota
	ProcStatic
	ProcPipeline
	ProcNodeJS
)

// Processor is one node of a [Pipeline]'s processor graph.
type Processor struct {
	Name string
	Kind ProcessorKind

	SQL            DbQuery
	StaticResponse map[string]any
	PipelineName   string // names an entry in the PipelineMesh; inline literals are not nestable as processors
	ScriptPath     string
}

// Connection is one edge of a [Pipeline]'s graph: it copies
// source.output[SrcField] into target.input[DstField] (spec.md §3, §4.E).
type Connection struct {
	SrcProcessor string
	SrcField     string
	DstProcessor string
	DstField     string
}

// AggregatorName is the distinguished processor name that produces a
// pipeline's final result (spec.md §4.E).
const AggregatorName = "_out"

// InputName is the distinguished processor name exposing the request's JSON
// parameter bag as a pipeline's root input.
const InputName = "_in"

// Pipeline is a directed acyclic graph of [Processor] nodes connected by
// [Connection] edges, with [AggregatorName] producing the final response
// (spec.md §3).
type Pipeline struct {
	Name        string
	Processors  map[string]*Processor
	Connections []Connection
}

//------------------------------------------------------------------------------
// response

// RouteResponse is a header+status+body triple produced by the action
// executor (spec.md §3).
type RouteResponse struct {
	Status  int
	Headers map[string]string
	Body    any
}
