// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tcp

import (
	"testing"
	"time"

	"github.com/lucidnet/tcpstack/stack"
)

func establishedTestEndpoint(t *testing.T) *Endpoint {
	t.Helper()
	ep, _ := newTestEndpoint(t)
	ep.snd = newSender(ep, 100, 200, 65535, 1460, 0)
	ep.rcv = newReceiver(ep, 200, 16384, 0)
	return ep
}

func TestArmDelayedAckIsIdempotentUntilItFires(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.tuning.DelayedACK = 20 * time.Millisecond

	ep.mu.Lock()
	ep.armDelayedAck()
	if !ep.delayedAckDue {
		ep.mu.Unlock()
		t.Fatalf("delayedAckDue = false right after arming, want true")
	}
	ep.armDelayedAck() // second call before it fires must not panic or double-schedule
	ep.mu.Unlock()

	time.Sleep(60 * time.Millisecond)
	ep.mu.Lock()
	due := ep.delayedAckDue
	ep.mu.Unlock()
	if due {
		t.Errorf("delayedAckDue still true after the timer should have fired")
	}
}

func TestSendImmediateAckCancelsPendingDelayedAck(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.tuning.DelayedACK = time.Hour // long enough it would never fire on its own

	ep.mu.Lock()
	ep.armDelayedAck()
	ep.sendImmediateAck()
	ep.mu.Unlock()

	if ep.delayedAckDue {
		t.Errorf("delayedAckDue = true after sendImmediateAck, want false")
	}
}

func TestPawsRecentTrueWhenTimestampsDisabled(t *testing.T) {
	ep := establishedTestEndpoint(t)
	seg := &segment{}
	if !ep.pawsRecent(seg) {
		t.Errorf("pawsRecent() = false with timestamps disabled, want true (nothing to check)")
	}
}

func TestPersistTimerFiredNoOpWhenWindowNonZero(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.snd.sndWnd = 1000
	ep.state = stack.StateEstablished

	ep.persistTimerFired()
	// No panic and no timer left running is the behavior under test; a
	// non-zero window means the probe must not be sent.
}

func TestPersistTimerFiredDoublesBackoffWithoutTouchingTuning(t *testing.T) {
	ep := establishedTestEndpoint(t)
	ep.snd.sndWnd = 0
	ep.state = stack.StateEstablished
	ep.tuning.PersistTimeout = 100 * time.Millisecond
	ep.tuning.MaxRTO = time.Hour

	ep.persistTimerFired()
	if got, want := ep.snd.persistBackoff, 200*time.Millisecond; got != want {
		t.Errorf("persistBackoff after one fire = %v, want %v", got, want)
	}
	if got, want := ep.tuning.PersistTimeout, 100*time.Millisecond; got != want {
		t.Errorf("tuning.PersistTimeout mutated to %v, want unchanged %v", got, want)
	}

	ep.persistTimerFired()
	if got, want := ep.snd.persistBackoff, 400*time.Millisecond; got != want {
		t.Errorf("persistBackoff after two fires = %v, want %v", got, want)
	}

	ep.stopPersistTimer()
	if ep.snd.persistBackoff != 0 {
		t.Errorf("persistBackoff = %v after stopPersistTimer, want reset to 0", ep.snd.persistBackoff)
	}
}
