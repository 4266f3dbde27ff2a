// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package notify delivers post-commit session events to external sinks.
//
// Delivery is strictly best-effort: the solving hot path publishes into a
// buffered channel and moves on. Events that overflow the buffer are
// dropped and counted, never waited on.
package notify

import (
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/Gridlock/services/gridlock/session"
)

// Sender pushes one event to a delivery backend.
//
// Implementations may block; they run on the dispatcher's worker goroutine,
// not the request path.
type Sender interface {
	Send(event session.Event) error
}

// LogSender writes events to the structured log. The default backend when
// no push infrastructure is configured.
type LogSender struct {
	Logger *slog.Logger
}

var _ Sender = (*LogSender)(nil)

func (s *LogSender) Send(event session.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("notify: session event",
		slog.String("type", event.Type),
		slog.String("session_id", event.SessionID),
		slog.String("puzzle_id", event.PuzzleID),
		slog.Int64("timestamp", event.Timestamp))
	return nil
}

// Dispatcher is a buffered, single-worker event pump implementing
// session.Notifier.
//
// # Thread Safety
//
// Publish is safe for concurrent use.
type Dispatcher struct {
	sender Sender
	logger *slog.Logger
	events chan session.Event
	stopCh chan struct{}
	doneCh chan struct{}

	stopOnce sync.Once
	dropped  atomic.Uint64
}

var _ session.Notifier = (*Dispatcher)(nil)

// NewDispatcher starts a dispatcher pumping events into the sender.
//
// # Inputs
//
//   - sender: Delivery backend. If nil, a LogSender is used.
//   - buffer: Channel capacity. Non-positive defaults to 256.
//   - logger: Structured logger. If nil, slog.Default() is used.
func NewDispatcher(sender Sender, buffer int, logger *slog.Logger) *Dispatcher {
	if sender == nil {
		sender = &LogSender{Logger: logger}
	}
	if buffer <= 0 {
		buffer = 256
	}
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		sender: sender,
		logger: logger,
		events: make(chan session.Event, buffer),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	go d.run()
	return d
}

// Publish implements session.Notifier. Never blocks; overflow is dropped.
func (d *Dispatcher) Publish(event session.Event) {
	select {
	case d.events <- event:
	default:
		d.dropped.Add(1)
	}
}

// Dropped returns the number of events lost to buffer overflow.
func (d *Dispatcher) Dropped() uint64 {
	return d.dropped.Load()
}

// Stop drains buffered events and shuts the worker down.
func (d *Dispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stopCh)
		<-d.doneCh
	})
}

func (d *Dispatcher) run() {
	defer close(d.doneCh)
	for {
		select {
		case event := <-d.events:
			d.deliver(event)
		case <-d.stopCh:
			for {
				select {
				case event := <-d.events:
					d.deliver(event)
				default:
					return
				}
			}
		}
	}
}

func (d *Dispatcher) deliver(event session.Event) {
	if err := d.sender.Send(event); err != nil {
		d.logger.Warn("notify: delivery failed",
			slog.String("type", event.Type),
			slog.String("session_id", event.SessionID),
			slog.String("error", err.Error()))
	}
}
