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

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/heptiolabs/healthcheck"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/united-manufacturing-hub/alarm-client/internal/shutdown"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/areaview"
	"github.com/united-manufacturing-hub/alarm-client/pkg/alarm/client"
)

const metricsPath = "/metrics"

func newServeCommand(s *settings) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Replicate the alarm tree and serve it over HTTP",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return serve(s)
		},
	}
}

// newHealthHandler reports live while the goroutine count is sane and
// ready while the client runs and hears from the alarm server.
func newHealthHandler(c *client.Client) healthcheck.Handler {
	health := healthcheck.NewHandler()
	health.AddLivenessCheck("goroutine-threshold", healthcheck.GoroutineCountCheck(1000))
	health.AddReadinessCheck("alarm-client-running", func() error {
		if !c.IsRunning() {
			return fmt.Errorf("alarm client is %s", c.State())
		}
		return nil
	})
	health.AddReadinessCheck("alarm-server-alive", func() error {
		if !c.IsServerAlive() {
			return errors.New("no state from the alarm server")
		}
		return nil
	})
	return health
}

// logAreas is the render function of the area view of serve.
func logAreas(c *client.Client) areaview.RenderFunc {
	return func(areas []string, updated []string) {
		zap.S().Infow("Alarm areas changed",
			"areas", len(areas),
			"updated", updated,
			"severity", c.Root().Severity().String())
	}
}

func listen(name string, srv *http.Server) {
	zap.S().Infof("Starting %s server on %s", name, srv.Addr)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			zap.S().Errorf("Error starting %s server: %s", name, err)
		}
	}()
}

func serve(s *settings) error {
	c, err := client.NewFromBrokers(s.Client)
	if err != nil {
		return err
	}
	view := areaview.New(c.Root(), logAreas(c), areaview.WithLevel(s.AreaLevel))
	if err := c.AddListener(view); err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}

	viewCtx, stopView := context.WithCancel(context.Background())
	go view.Run(viewCtx)

	metrics := http.NewServeMux()
	metrics.Handle(metricsPath, promhttp.Handler())

	servers := map[string]*http.Server{
		"api":         {Addr: fmt.Sprintf(":%d", s.HTTPPort), Handler: newRouter(c), ReadHeaderTimeout: 5 * time.Second},
		"metrics":     {Addr: fmt.Sprintf(":%d", s.MetricsPort), Handler: metrics, ReadHeaderTimeout: 5 * time.Second},
		"healthcheck": {Addr: fmt.Sprintf("0.0.0.0:%d", s.HealthPort), Handler: newHealthHandler(c), ReadHeaderTimeout: 5 * time.Second},
	}
	for name, srv := range servers {
		listen(name, srv)
	}

	gs := shutdown.New(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		stopView()
		var errs []error
		for name, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("%s server: %w", name, err))
			}
		}
		if err := c.Shutdown(); err != nil {
			errs = append(errs, err)
		}
		return errors.Join(errs...)
	})
	gs.Wait()
	return nil
}
