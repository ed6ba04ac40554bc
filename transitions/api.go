// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transitions

import (
	"github.com/NVIDIA/freerange/conf"
)

// Callbacks is the interface implemented by each package desiring notification of
// configuration changes. Each such package should implement a struct with pointer
// receivers for each API listed below even when there is no interest in being
// notified of a particular condition.
//
// By calling transitions.Register() in the package's init() func, the proper order
// of registration will be ensured. In specific, the following callbacks will be
// issued in the same order as package init() func calls have registered:
//
//   Up()
//   PoolCreated()
//   SignaledFinish()
//
// By contrast, the following callbacks will be issued in the reverse order as package
// init() func calls have registered:
//
//   SignaledStart()
//   PoolDestroyed()
//   Down()
//
type Callbacks interface {
	Up(confMap conf.ConfMap) (err error)
	PoolCreated(confMap conf.ConfMap, poolName string) (err error)
	PoolDestroyed(confMap conf.ConfMap, poolName string) (err error)
	SignaledStart(confMap conf.ConfMap) (err error)
	SignaledFinish(confMap conf.ConfMap) (err error)
	Down(confMap conf.ConfMap) (err error)
}

// Register should be called from a package's init() func should the package be interested
// in one or more of the callbacks that they will receive. Each callback func should receive
// a struct implementing the Callbacks interface by reference.
//
// A special exception to the need for registration is the package logger. Package
// transitions makes an explicit reference to logging functions in package logger and,
// as such, will perform the registration for package logger itself.
//
func Register(packageName string, callbacks Callbacks) {
	register(packageName, callbacks)
}

// Up should be called at startup by the main() (or setup func) of each program including
// any of the packages needing callback notifications. This will trigger Up() callbacks
// to each of the packages that have registered with package transitions starting with
// package logger (that was registered automatically by package transitions).
//
// Following the Up() callbacks, PoolCreated() will be issued (in registration order)
// for each pool listed in FreeRange.PoolList, followed by SignaledFinish() (in
// registration order).
//
func Up(confMap conf.ConfMap) (err error) {
	return up(confMap)
}

// Signaled should be called during execution of a signal handler for e.g. SIGHUP by the
// main() (or monitoring func) of each program including any of the packages needing
// callback notifications. The pool set of the supplied confMap is compared against the
// currently served pool set; the following callbacks are then issued:
//
//   SignaledStart()  - reverse registration order
//   PoolDestroyed()  - reverse registration order (for each removed pool)
//   PoolCreated()    -         registration order (for each added pool)
//   SignaledFinish() -         registration order
//
func Signaled(confMap conf.ConfMap) (err error) {
	return signaled(confMap)
}

// Down should be called just before shutdown by the main() (or teardown func) of each
// program including any of the packages needing callback notifications. Each served
// pool receives a PoolDestroyed() callback (in reverse registration order) before the
// Down() callbacks are issued in reverse registration order ending with package logger.
//
func Down(confMap conf.ConfMap) (err error) {
	return down(confMap)
}
