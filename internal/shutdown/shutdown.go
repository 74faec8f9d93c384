// Copyright 2025 UMH Systems GmbH
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package shutdown turns SIGINT and SIGTERM into an orderly stop of the
// alarm client process.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// DefaultTimeout bounds the shutdown tasks. Kubernetes sends SIGKILL 30
// seconds after SIGTERM.
const DefaultTimeout = 30 * time.Second

type Handler interface {
	Shutdown()                // Triggers a graceful shutdown programmatically.
	ShuttingDown() bool       // Quickly checks if a shutdown is in progress.
	Context() context.Context // Cancelled as soon as the shutdown starts.
	Wait()                    // Blocks until shutdown tasks are complete.
}

type gracefulShutdown struct {
	quit         chan os.Signal // Receives SIGTERM/SIGINT.
	shuttingDown chan bool      // Holds a value once a shutdown started.
	wg           sync.WaitGroup // Waits until all shutdown tasks are complete.

	ctx     context.Context
	cancel  context.CancelFunc
	timeout time.Duration
	exit    func(code int)
}

type Option func(*gracefulShutdown)

// WithTimeout replaces DefaultTimeout.
func WithTimeout(timeout time.Duration) Option {
	return func(gs *gracefulShutdown) {
		gs.timeout = timeout
	}
}

// WithExit replaces os.Exit.
func WithExit(exit func(code int)) Option {
	return func(gs *gracefulShutdown) {
		gs.exit = exit
	}
}

// New installs the signal handler. onShutdown, if not nil, runs once a
// signal arrives or Shutdown is called. The process exits with 0 when it
// succeeds and with 1 when it fails or exceeds the timeout.
func New(onShutdown func() error, opts ...Option) Handler {
	ctx, cancel := context.WithCancel(context.Background())
	gs := &gracefulShutdown{
		quit:         make(chan os.Signal, 1),
		shuttingDown: make(chan bool, 1),
		ctx:          ctx,
		cancel:       cancel,
		timeout:      DefaultTimeout,
		exit:         os.Exit,
	}
	for _, opt := range opts {
		opt(gs)
	}
	signal.Notify(gs.quit, syscall.SIGINT, syscall.SIGTERM)

	gs.wg.Add(1)
	go gs.run(onShutdown)
	return gs
}

func (gs *gracefulShutdown) run(onShutdown func() error) {
	defer gs.wg.Done()

	sig := <-gs.quit
	signal.Stop(gs.quit)
	gs.shuttingDown <- true
	gs.cancel()
	zap.S().Infow("Received signal, shutting down", "signal", sig.String())

	if onShutdown != nil {
		zap.S().Infow("Waiting for shutdown tasks to complete", "timeout", gs.timeout)
		done := make(chan struct{})
		go func() {
			timer := time.NewTimer(gs.timeout)
			defer timer.Stop()
			select {
			case <-done:
			case <-timer.C:
				zap.S().Errorw("Shutdown tasks did not complete in time", "timeout", gs.timeout)
				// Flush buffer
				_ = zap.S().Sync()
				gs.exit(1)
			}
		}()
		err := onShutdown()
		close(done)
		if err != nil {
			zap.S().Errorw("Error during shutdown", "error", err)
			_ = zap.S().Sync()
			gs.exit(1)
			return
		}
	}
	zap.S().Info("Shutdown tasks completed. Ready to exit.")
	_ = zap.S().Sync()
	gs.exit(0)
}

func (gs *gracefulShutdown) ShuttingDown() bool {
	select {
	case <-gs.shuttingDown:
		// Put the value back, in case it's checked again later during shutdown.
		gs.shuttingDown <- true
		return true
	default:
		return false
	}
}

func (gs *gracefulShutdown) Shutdown() {
	if gs.ShuttingDown() {
		return
	}
	select {
	case gs.quit <- syscall.SIGTERM:
	default:
		// A signal is already queued.
	}
}

func (gs *gracefulShutdown) Context() context.Context {
	return gs.ctx
}

func (gs *gracefulShutdown) Wait() {
	gs.wg.Wait()
}
