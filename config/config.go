// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config holds the tunable constants the core was built
// around (MSS, window limits, timer periods, the ephemeral port
// range). The compiled-in values are the defaults; a process can
// override any of them at start-up through environment variables,
// which is useful for test harnesses that want a much shorter MSL so
// TIME_WAIT doesn't dominate a test run.
package config

import (
	"context"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Tuning is the set of constants that parameterize the state machine,
// congestion control, and the manager's port allocation.
type Tuning struct {
	DefaultMSS      uint16        `env:"TCP_DEFAULT_MSS,default=536"`
	MaxWindow       uint16        `env:"TCP_MAX_WINDOW,default=65535"`
	MaxWindowShift  uint8         `env:"TCP_MAX_WINDOW_SHIFT,default=14"`
	ConnectTimeout  time.Duration `env:"TCP_CONNECT_TIMEOUT,default=75s"`
	DelayedACK      time.Duration `env:"TCP_DELAYED_ACK,default=100ms"`
	PersistTimeout  time.Duration `env:"TCP_PERSIST_TIMEOUT,default=1s"`
	MSL             time.Duration `env:"TCP_MSL,default=60s"`
	MinRTO          time.Duration `env:"TCP_MIN_RTO,default=200ms"`
	MaxRTO          time.Duration `env:"TCP_MAX_RTO,default=60s"`
	InitialSynRTO   time.Duration `env:"TCP_INITIAL_SYN_RTO,default=1s"`
	EphemeralBase   uint16        `env:"TCP_EPHEMERAL_BASE,default=40000"`
	LastReservedPort uint16       `env:"TCP_LAST_RESERVED_PORT,default=1023"`
	BindRetryDelay  time.Duration `env:"TCP_BIND_RETRY_DELAY,default=10ms"`
	BindRetryCount  int           `env:"TCP_BIND_RETRY_COUNT,default=5"`
}

// Default returns the compiled-in tuning, with no environment
// overrides applied.
func Default() Tuning {
	var t Tuning
	_ = envconfig.ProcessWith(context.Background(), &t, envconfig.MapLookuper(nil))
	return t
}

// FromEnv loads tuning from the process environment, falling back to
// Default's values for anything unset.
func FromEnv(ctx context.Context) (Tuning, error) {
	var t Tuning
	if err := envconfig.Process(ctx, &t); err != nil {
		return Tuning{}, err
	}
	return t, nil
}

// TimeWaitDuration is 2*MSL, the time an endpoint lingers in TIME_WAIT.
func (t Tuning) TimeWaitDuration() time.Duration {
	return 2 * t.MSL
}
