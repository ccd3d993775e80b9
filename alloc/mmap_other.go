// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

//go:build !linux

package alloc

import "github.com/pkg/errors"

// anonMap falls back to the Go heap where mmap policies are unavailable.
func anonMap(bytes, key int) ([]byte, error) {
	_ = key
	return make([]byte, bytes), nil
}

// pmemMap is unsupported off Linux.
func pmemMap(dir string, device, bytes int) ([]byte, error) {
	return nil, errors.Errorf("PMEM allocation is only supported on linux (device %d)", device)
}

func currentNumaNode() int { return 0 }
