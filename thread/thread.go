// Copyright 2024 by Sven Fabricius, see LICENSE file

// Package thread pins the calling goroutine to a realtime-scheduled
// kernel thread, for the one goroutine in this module whose latency the
// air interface's timing actually depends on: radio/sx1231's worker.
package thread

import (
	"runtime"
	"syscall"
	"unsafe"
)

// Realtime locks the calling goroutine to its own kernel thread and
// elevates that thread's priority to realtime. It sets the round-robin
// scheduling policy at priority level 10 (lower middle of the range) so
// the worker loop isn't preempted mid-mode-switch by unrelated Go
// runtime work, which would blow §4.3/§5's radio-level deadlines.
func Realtime() error {
	runtime.LockOSThread()
	tid := syscall.Gettid()
	res, _, err := syscall.RawSyscall(syscall.SYS_SCHED_SETSCHEDULER, uintptr(tid),
		uintptr(RR), uintptr(unsafe.Pointer(&schedParam{10})))
	if res == 0 {
		return nil
	}
	return err
}

const FIFO = 1 // fifo scheduling policy
const RR = 2   // round-robin scheduling policy

type schedParam struct {
	Priority int
}
