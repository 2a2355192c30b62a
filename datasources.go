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
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
)

// Datasources holds a live connection pool per configured [Datasource],
// resolved once at startup (spec.md §3 "Context": "database connection
// pool"; §6: "a pool of long-lived connections, configurable size, default
// 10"). defaultName names the pool that DSL-level Sql actions address.
type Datasources struct {
	pools       map[string]*pgxpool.Pool
	defaultName string
}

// Connect establishes a pool for every configured datasource (unless
// Pool.Lazy defers it), mirroring the teacher's startup-time connect loop.
func Connect(ctx context.Context, cfgs []Datasource, log *zerolog.Logger) (*Datasources, error) {
	ds := &Datasources{pools: make(map[string]*pgxpool.Pool, len(cfgs))}

	defaultName := ""
	for _, c := range cfgs {
		if c.Default {
			defaultName = c.Name
		}
	}
	if defaultName == "" && len(cfgs) == 1 {
		defaultName = cfgs[0].Name
	}
	ds.defaultName = defaultName

	for _, c := range cfgs {
		poolCfg, err := poolConfig(c)
		if err != nil {
			return nil, fmt.Errorf("datasource %q: %w", c.Name, err)
		}
		lazy := c.Pool != nil && c.Pool.Lazy
		if lazy {
			poolCfg.LazyConnect = true
			pool, err := pgxpool.ConnectConfig(context.Background(), poolCfg)
			if err != nil {
				return nil, fmt.Errorf("datasource %q: %w", c.Name, err)
			}
			ds.pools[c.Name] = pool
			continue
		}
		if log != nil {
			log.Info().Str("datasource", c.Name).Msg("connecting")
		}
		pool, err := pgxpool.ConnectConfig(ctx, poolCfg)
		if err != nil {
			return nil, fmt.Errorf("datasource %q: %w", c.Name, err)
		}
		ds.pools[c.Name] = pool
	}
	return ds, nil
}

func poolConfig(c Datasource) (*pgxpool.Config, error) {
	dsn := buildDSN(c)
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	if c.Pool != nil {
		if c.Pool.MinConns != nil {
			cfg.MinConns = int32(*c.Pool.MinConns)
		}
		if c.Pool.MaxConns != nil {
			cfg.MaxConns = int32(*c.Pool.MaxConns)
		}
		if c.Pool.MaxIdleTime != nil {
			cfg.MaxConnIdleTime = time.Duration(*c.Pool.MaxIdleTime * float64(time.Second))
		}
		if c.Pool.MaxConnectedTime != nil {
			cfg.MaxConnLifetime = time.Duration(*c.Pool.MaxConnectedTime * float64(time.Second))
		}
	}
	if c.Pool == nil || c.Pool.MaxConns == nil {
		if _, ok := c.Params["pool_max_conns"]; !ok {
			cfg.MaxConns = 10
		}
	}
	if c.Role != "" {
		cfg.AfterConnect = func(ctx context.Context, conn *pgxpool.Conn) error {
			_, err := conn.Exec(ctx, fmt.Sprintf("set role %s", pgIdent(c.Role)))
			return err
		}
	}
	return cfg, nil
}

// pgIdent quotes s as a PostgreSQL identifier, doubling embedded quotes.
func pgIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func buildDSN(c Datasource) string {
	v := url.Values{}
	if c.SSLMode != "" {
		v.Set("sslmode", c.SSLMode)
	}
	if c.SSLCert != "" {
		v.Set("sslcert", c.SSLCert)
	}
	if c.SSLKey != "" {
		v.Set("sslkey", c.SSLKey)
	}
	if c.SSLRootCert != "" {
		v.Set("sslrootcert", c.SSLRootCert)
	}
	if c.Timeout != nil {
		v.Set("connect_timeout", strconv.Itoa(int(*c.Timeout)))
	}
	for k, val := range c.Params {
		v.Set(k, val)
	}
	u := url.URL{
		Scheme:   "postgres",
		Host:     c.Host,
		Path:     "/" + c.Database,
		RawQuery: v.Encode(),
	}
	if c.User != "" {
		if c.Password != "" {
			u.User = url.UserPassword(c.User, c.Password)
		} else {
			u.User = url.User(c.User)
		}
	}
	return u.String()
}

// Pool returns the named datasource's pool, or the default pool when name
// is empty.
func (d *Datasources) Pool(name string) (*pgxpool.Pool, error) {
	if name == "" {
		name = d.defaultName
	}
	p, ok := d.pools[name]
	if !ok {
		return nil, fmt.Errorf("unknown datasource %q", name)
	}
	return p, nil
}

// Default returns the pool DSL-level Sql actions address.
func (d *Datasources) Default() (*pgxpool.Pool, error) {
	return d.Pool("")
}

// Close closes every pool.
func (d *Datasources) Close() {
	for _, p := range d.pools {
		p.Close()
	}
}
