// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

//go:build linux

package alloc

import (
	"fmt"
	"os"
	"path/filepath"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/opesci/yask/vars"
)

// anonMap allocates an anonymous mapping and applies huge-page advice.
// The NUMA key is advisory: explicit node binding requires a NUMA library,
// so local/interleave/specific-node keys share the mapping policy and the
// kernel's first-touch placement applies.
func anonMap(bytes, key int) ([]byte, error) {
	raw, err := unix.Mmap(-1, 0, bytes,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap of %d bytes (mem-key %d)", bytes, key)
	}
	if key != vars.NumaNone {
		// Advice only; failure is not an allocation error.
		_ = unix.Madvise(raw, unix.MADV_HUGEPAGE)
	}
	return raw, nil
}

// pmemMap maps a file on the PMEM device mount, sized to the request.
func pmemMap(dir string, device, bytes int) ([]byte, error) {
	if dir == "" {
		return nil, errors.Errorf("PMEM device %d requested but no PMEM directory configured", device)
	}
	path := filepath.Join(dir, fmt.Sprintf("yask-pmem-%d-pid%d", device, os.Getpid()))
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o600)
	if err != nil {
		return nil, errors.Wrapf(err, "open PMEM backing file %q", path)
	}
	defer f.Close()
	if err := f.Truncate(int64(bytes)); err != nil {
		return nil, errors.Wrapf(err, "size PMEM backing file %q", path)
	}
	raw, err := unix.Mmap(int(f.Fd()), 0, bytes,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap PMEM backing file %q", path)
	}
	return raw, nil
}

// currentNumaNode returns the NUMA node of the calling thread, or 0 when
// it cannot be determined.
func currentNumaNode() int {
	var cpu, node int
	if _, _, errno := unix.Syscall(unix.SYS_GETCPU,
		uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0); errno != 0 {
		return 0
	}
	return node
}
