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

// Command gatewayd loads a [gatejson.GatewayConfig] and routes file and
// serves the gateway until interrupted.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/goccy/go-yaml"
	"github.com/mattn/go-isatty"
	"github.com/rapidloop/gatejson"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
)

var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		check   = pflag.Bool("check", false, "validate config and routes file, then exit")
		isYAML  = pflag.Bool("yaml", false, "config file is YAML (default JSON)")
		logType = pflag.String("logtype", "console", "log output: console or json")
		noColor = pflag.Bool("no-color", false, "disable colored console logging")
		showVer = pflag.Bool("version", false, "print version and exit")
	)
	pflag.Parse()

	if *showVer {
		fmt.Println("gatewayd", version)
		return 0
	}

	args := pflag.Args()
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: gatewayd [flags] <config-file>")
		return 2
	}

	log := newLogger(*logType, *noColor)

	cfg, err := loadConfig(args[0], *isYAML)
	if err != nil {
		log.Error().Err(err).Msg("loading config")
		return 2
	}

	var results []gatejson.ValidationResult
	results = cfg.Validate()
	hadErrors := false
	for _, res := range results {
		if res.Warn {
			log.Warn().Msg(res.Message)
		} else {
			log.Error().Msg(res.Message)
			hadErrors = true
		}
	}
	if hadErrors {
		return 2
	}

	routesText, err := os.ReadFile(cfg.RoutesFile)
	if err != nil {
		log.Error().Err(err).Msg("reading routes file")
		return 2
	}
	routes, err := gatejson.Parse(string(routesText))
	if err != nil {
		log.Error().Err(err).Msg("parsing routes file")
		return 2
	}
	log.Info().Int("routes", len(routes)).Msg("routes loaded")

	mesh, err := gatejson.ParseMesh(cfg.Pipelines)
	if err != nil {
		log.Error().Err(err).Msg("parsing pipeline mesh")
		return 2
	}
	log.Info().Int("pipelines", len(mesh)).Msg("pipeline mesh loaded")

	if *check {
		return 0
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, err := gatejson.NewGatewayServer(ctx, cfg, routes, mesh, log)
	if err != nil {
		log.Error().Err(err).Msg("starting server")
		return 1
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutting down")
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.Error().Err(err).Msg("server error")
		return 1
	}
	return 0
}

func newLogger(logType string, noColor bool) zerolog.Logger {
	if logType == "json" {
		return zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	useColor := !noColor && isatty.IsTerminal(os.Stderr.Fd())
	cw := zerolog.ConsoleWriter{Out: os.Stderr, NoColor: !useColor}
	return zerolog.New(cw).With().Timestamp().Logger()
}

func loadConfig(path string, isYAML bool) (*gatejson.GatewayConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg gatejson.GatewayConfig
	if isYAML {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	} else {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}
