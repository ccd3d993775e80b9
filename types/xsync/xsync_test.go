// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSpinLockHandoff(t *testing.T) {
	var l SpinLock
	l.Init()
	require.True(t, l.OkToWrite())
	require.False(t, l.OkToRead())

	const rounds = 100
	var got []int
	var wg sync.WaitGroup
	shared := 0
	wg.Add(2)
	go func() { // producer.
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			l.WaitForOkToWrite(nil)
			shared = i
			l.MarkWriteDone()
		}
	}()
	go func() { // consumer.
		defer wg.Done()
		for i := 0; i < rounds; i++ {
			l.WaitForOkToRead(nil)
			got = append(got, shared)
			l.MarkReadDone()
		}
	}()
	wg.Wait()
	require.Len(t, got, rounds)
	for i, v := range got {
		require.Equal(t, i, v)
	}
}

func TestLatch(t *testing.T) {
	l := NewLatch()
	require.False(t, l.Test())
	done := make(chan struct{})
	go func() {
		l.Wait()
		close(done)
	}()
	l.Trigger()
	l.Trigger() // idempotent.
	<-done
	require.True(t, l.Test())
}
