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

// Scheduled jobs are not part of spec.md's distilled core; they are a
// domain supplement (see SPEC_FULL.md) running the same SQL/pipeline
// primitives as request-triggered actions, on a cron schedule.
package gatejson

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobRunner drives [Job] entries on their configured schedule.
type JobRunner struct {
	cron *cron.Cron
	jobs []Job
	ds   *Datasources
	mesh PipelineMesh
	rc   *RequestContext
	log  *zerolog.Logger
}

// NewJobRunner builds (but does not start) a job runner for jobs.
func NewJobRunner(jobs []Job, ds *Datasources, mesh PipelineMesh, rc *RequestContext, log *zerolog.Logger) *JobRunner {
	jr := &JobRunner{
		cron: cron.New(),
		jobs: jobs,
		ds:   ds,
		mesh: mesh,
		rc:   rc,
		log:  log,
	}
	for i := range jobs {
		job := jobs[i]
		if _, err := jr.cron.AddFunc(job.Schedule, func() { jr.run(job) }); err != nil {
			log.Error().Err(err).Str("job", job.Name).Msg("invalid job schedule")
		}
	}
	return jr
}

// Start begins the scheduler.
func (jr *JobRunner) Start() { jr.cron.Start() }

// Stop drains any in-flight run and stops the scheduler.
func (jr *JobRunner) Stop() {
	ctx := jr.cron.Stop()
	<-ctx.Done()
}

func (jr *JobRunner) run(job Job) {
	timeout := 30 * time.Second
	if job.Timeout != nil && *job.Timeout > 0 {
		timeout = time.Duration(*job.Timeout * float64(time.Second))
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger := jr.log.With().Str("job", job.Name).Logger()
	if job.Debug {
		logger.Debug().Msg("starting")
	}

	var err error
	switch job.Type {
	case "exec":
		err = jr.runExec(ctx, job)
	case "pipeline":
		err = jr.runPipeline(ctx, job)
	default:
		logger.Error().Str("type", job.Type).Msg("unknown job type")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("job failed")
	} else if job.Debug {
		logger.Debug().Msg("finished")
	}
}

func (jr *JobRunner) runExec(ctx context.Context, job Job) error {
	pool, err := jr.ds.Pool(job.Datasource)
	if err != nil {
		return err
	}
	if job.TxOptions != nil {
		tx, err := pool.BeginTx(ctx, toPgxTxOptions(job.TxOptions))
		if err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, job.Script); err != nil {
			_ = tx.Rollback(ctx)
			return err
		}
		return tx.Commit(ctx)
	}
	_, err = pool.Exec(ctx, job.Script)
	return err
}

func (jr *JobRunner) runPipeline(ctx context.Context, job Job) error {
	p, ok := jr.mesh[job.Pipeline]
	if !ok {
		return NewErrorf(ErrServerConfiguration, "unknown pipeline %q", job.Pipeline)
	}
	pool, err := jr.ds.Default()
	if err != nil {
		return err
	}
	tx, err := pool.BeginTx(ctx, toPgxTxOptions(job.TxOptions))
	if err != nil {
		return err
	}
	if _, err := RunPipeline(ctx, jr.rc, tx, jr.mesh, p, map[string]any{}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	return tx.Commit(ctx)
}
