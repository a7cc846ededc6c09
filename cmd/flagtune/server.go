// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/flagtune/services/tune/store"
	"github.com/AleutianAI/flagtune/services/tune/telemetry"
)

// statusSource is what the status server reports on.
type statusSource interface {
	Status(ctx context.Context) (map[store.Phase]store.Status, error)
	SessionID() string
}

// newRouter serves /healthz, /status and the Prometheus /metrics
// endpoint of the current telemetry setup.
func newRouter(src statusSource) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("flagtune"))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/status", func(c *gin.Context) {
		statuses, err := src.Status(c.Request.Context())
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		phases := make([]gin.H, 0, len(store.Phases))
		for _, p := range store.Phases {
			phases = append(phases, gin.H{"phase": string(p), "status": statuses[p].String()})
		}
		c.JSON(http.StatusOK, gin.H{"session": src.SessionID(), "phases": phases})
	})

	router.GET("/metrics", func(c *gin.Context) {
		h := telemetry.MetricsHandler()
		if h == nil {
			c.String(http.StatusServiceUnavailable, "prometheus exporter not enabled\n")
			return
		}
		h.ServeHTTP(c.Writer, c.Request)
	})

	return router
}

// serve runs an HTTP server on addr until ctx is done.
func serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("status server: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// runWithServer runs fn, serving the status endpoints on addr alongside
// it when addr is set. The server stops when fn returns; a server that
// cannot start cancels fn.
func runWithServer(ctx context.Context, addr string, src statusSource, fn func(context.Context) error) error {
	if addr == "" {
		return fn(ctx)
	}

	g, gctx := errgroup.WithContext(ctx)
	srvCtx, stop := context.WithCancel(gctx)
	defer stop()

	g.Go(func() error {
		return serve(srvCtx, addr, newRouter(src))
	})
	g.Go(func() error {
		defer stop()
		return fn(gctx)
	})
	return g.Wait()
}
