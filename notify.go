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

// The live event stream is a domain supplement implementing the
// "post-success hook" plug point named, but left external, by spec.md §6:
// every successful dispatch is fanned out to subscribers of /_events.
package gatejson

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const eventsChannel = "gateway_events"

// Event is published once per successful dispatch (spec.md §6).
type Event struct {
	Route  string `json:"route"`
	Status int    `json:"status"`
}

// EventBus fans a stream of [Event]s out to any number of subscribers,
// adapted from the teacher's notifDispatcher/notifWriter design.
type EventBus struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewEventBus creates an empty bus.
func NewEventBus() *EventBus {
	return &EventBus{subs: make(map[chan Event]struct{})}
}

// Publish fans out ev to every current subscriber, dropping it for any
// subscriber whose channel is full rather than blocking the dispatcher.
func (b *EventBus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (b *EventBus) subscribe() chan Event {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *EventBus) unsubscribe(ch chan Event) {
	b.mu.Lock()
	delete(b.subs, ch)
	b.mu.Unlock()
	close(ch)
}

// NotifyPostgres publishes ev to the gateway_events channel on pool, for
// relay to any other gateway process listening via [EventBus.ListenPostgres].
func NotifyPostgres(ctx context.Context, pool *pgxpool.Pool, ev Event, log *zerolog.Logger) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if _, err := pool.Exec(ctx, "select pg_notify($1, $2)", eventsChannel, string(payload)); err != nil {
		log.Warn().Err(err).Msg("events: notify")
	}
}

// ListenPostgres additionally relays events received over the PostgreSQL
// `gateway_events` NOTIFY channel on pool into this bus, so that multiple
// gateway processes sharing one database see each other's dispatch events.
func (b *EventBus) ListenPostgres(ctx context.Context, pool *pgxpool.Pool, log *zerolog.Logger) {
	go func() {
		conn, err := pool.Acquire(ctx)
		if err != nil {
			log.Error().Err(err).Msg("events: acquire listen connection")
			return
		}
		defer conn.Release()

		if _, err := conn.Exec(ctx, "listen "+eventsChannel); err != nil {
			log.Error().Err(err).Msg("events: listen")
			return
		}
		for {
			n, err := conn.Conn().WaitForNotification(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				log.Warn().Err(err).Msg("events: wait for notification")
				time.Sleep(time.Second)
				continue
			}
			var ev Event
			if err := json.Unmarshal([]byte(n.Payload), &ev); err == nil {
				b.Publish(ev)
			}
		}
	}()
}

// ServeHTTP upgrades to a WebSocket and streams events until the client
// disconnects (spec.md §6 "post-success hook" plug point, realized here as
// a live subscription endpoint).
func (b *EventBus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	defer c.Close(websocket.StatusInternalError, "closing")

	ch := b.subscribe()
	defer b.unsubscribe(ch)

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			c.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, c, ev); err != nil {
				return
			}
		}
	}
}
