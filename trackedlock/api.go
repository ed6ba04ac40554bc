// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package trackedlock wraps sync.Mutex and sync.RWMutex with lock hold
// tracking.
//
// When tracking is enabled (config variable "TrackedLock.LockHoldTimeLimit"
// non-zero), each acquisition records the holder's goroutine and stack; an
// unlock that releases a lock held past the limit logs both the acquisition
// and release stacks. A watcher daemon (period set by
// "TrackedLock.LockCheckPeriod"; zero disables it) additionally logs locks
// that are still held past the limit, so a wedged holder is reported before
// it ever unlocks.
//
// Locks may be given a name with SetName() — the mvff pools name their entry
// locks after the pool — so the reports identify the lock by role rather
// than only by address. Locks used before the package is brought up behave
// as plain sync locks and start being tracked on their next acquisition.
package trackedlock

import (
	"sync"
)

// Mutex wraps sync.Mutex with hold tracking
type Mutex struct {
	name    string
	watched bool // on the watcher's list; only touched while holding wrapped
	wrapped sync.Mutex
	hold    holdTrack
}

// RWMutex wraps sync.RWMutex with hold tracking of both the writer and each
// reader
type RWMutex struct {
	name    string
	watched bool
	wrapped sync.RWMutex
	hold    holdTrack   // exclusive (writer) holds
	readers readerTrack // shared (reader) holds
}

// SetName labels the Mutex in hold-time reports. Call before first use.
func (m *Mutex) SetName(name string) {
	m.name = name
}

// SetName labels the RWMutex in hold-time reports. Call before first use.
func (m *RWMutex) SetName(name string) {
	m.name = name
}

//
// Tracked Mutex API
//

func (m *Mutex) Lock() {
	m.wrapped.Lock()

	m.hold.noteAcquired()
	if !m.watched {
		m.watched = watchRegister(m)
	}
}

func (m *Mutex) Unlock() {
	m.hold.noteReleased(m.label())

	m.wrapped.Unlock()
}

//
// Tracked RWMutex API
//

func (m *RWMutex) Lock() {
	m.wrapped.Lock()

	m.hold.noteAcquired()
	if !m.watched {
		m.watched = watchRegister(m)
	}
}

func (m *RWMutex) Unlock() {
	m.hold.noteReleased(m.label())

	m.wrapped.Unlock()
}

func (m *RWMutex) RLock() {
	m.wrapped.RLock()

	m.readers.noteAcquired()
	// only a writer may set the watched flag (readers run concurrently);
	// registration itself is idempotent
	if !m.watched {
		_ = watchRegister(m)
	}
}

func (m *RWMutex) RUnlock() {
	m.readers.noteReleased(m.label())

	m.wrapped.RUnlock()
}
