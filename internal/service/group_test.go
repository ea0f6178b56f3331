// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func blocking(name string, stopped *atomic.Int32) Func {
	return Func{ServiceName: name, Fn: func(ctx context.Context) error {
		<-ctx.Done()
		stopped.Add(1)
		return nil
	}}
}

func TestGroup_StopsOnCancel(t *testing.T) {
	var stopped atomic.Int32
	g := Group{blocking("http", &stopped), blocking("watcher", &stopped)}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("group did not stop")
	}
	assert.Equal(t, int32(2), stopped.Load())
}

func TestGroup_FailureCancelsOthers(t *testing.T) {
	var stopped atomic.Int32
	boom := errors.New("address in use")
	g := Group{
		blocking("watcher", &stopped),
		Func{ServiceName: "http", Fn: func(context.Context) error { return boom }},
	}

	err := g.Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "http: address in use")
	assert.Equal(t, int32(1), stopped.Load())
}

func TestGroup_AggregatesErrors(t *testing.T) {
	fail := func(name string) Func {
		return Func{ServiceName: name, Fn: func(ctx context.Context) error {
			<-ctx.Done()
			return errors.New(name + " shutdown failed")
		}}
	}
	g := Group{fail("a"), fail("b")}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := g.Run(ctx)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 2)
}
