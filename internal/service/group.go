// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package service runs long-lived components together under one context.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hashicorp/go-multierror"

	"github.com/morganforge/coachline/internal/logger"
)

// Service is a named component that runs until its context is cancelled.
type Service interface {
	Name() string
	Run(context.Context) error
}

// Func adapts a function to a Service.
type Func struct {
	ServiceName string
	Fn          func(context.Context) error
}

// Name returns the service name.
func (f Func) Name() string { return f.ServiceName }

// Run calls Fn.
func (f Func) Run(ctx context.Context) error { return f.Fn(ctx) }

// Group runs services concurrently. The first failure cancels the others;
// Run returns once all of them have stopped, with every error aggregated.
type Group []Service

// Run blocks until ctx is cancelled or a service fails.
func (g Group) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancelFn := context.WithCancel(ctx)
	defer cancelFn()

	var wg sync.WaitGroup
	errCh := make(chan error, len(g))
	wg.Add(len(g))
	for _, s := range g {
		go func(s Service) {
			defer wg.Done()
			slog.Debug("service starting", "service", s.Name())
			if err := s.Run(runCtx); err != nil {
				slog.Error("service failed", "service", s.Name(), logger.Err(err))
				errCh <- fmt.Errorf("%s: %w", s.Name(), err)
				cancelFn()
				return
			}
			slog.Debug("service stopped", "service", s.Name())
		}(s)
	}

	<-runCtx.Done()
	wg.Wait()

	var err error
	close(errCh)
	for srvErr := range errCh {
		err = multierror.Append(err, srvErr)
	}
	return err
}
