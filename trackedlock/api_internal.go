// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package trackedlock

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/NVIDIA/freerange/logger"
	"github.com/NVIDIA/freerange/utils"
)

type globalsStruct struct {
	mapMutex               sync.Mutex              // protects watchSet
	watchSet               map[watchable]struct{}  // the locks the watcher is checking
	lockHoldTimeLimit      time.Duration           // holds longer than this get logged
	lockCheckPeriod        time.Duration           // the watcher wakes up once per period
	lockWatcherLocksLogged int                     // max overdue holds logged per wakeup
	lockCheckChan          <-chan time.Time
	stopChan               chan struct{}
	doneChan               chan struct{}
	lockCheckTicker        *time.Ticker
}

var globals globalsStruct

// tracking reports whether hold tracking is currently enabled
func tracking() bool {
	return 0 != globals.lockHoldTimeLimit
}

// A watchable is a lock the watcher daemon can interrogate: it yields its
// currently overdue holds and says when it was last locked (so idle locks
// can be dropped from the watch set).
type watchable interface {
	overdueHolds(now time.Time) (holds []overdueHoldStruct)
	lastLocked() (lastLockTime time.Time, lockedNow bool)
	unwatch()
}

// overdueHoldStruct describes one hold that has exceeded the limit
type overdueHoldStruct struct {
	label     string
	op        string // "Lock()" or "RLock()"
	goId      uint64
	heldSince time.Time
	stack     string
}

func (m *Mutex) label() string {
	if "" == m.name {
		return fmt.Sprintf("Mutex at %p", m)
	}
	return m.name
}

func (m *RWMutex) label() string {
	if "" == m.name {
		return fmt.Sprintf("RWMutex at %p", m)
	}
	return m.name
}

// holdTrack records the current exclusive holder of a Mutex, or of an
// RWMutex locked in writer mode. The holder's goroutine and stack are only
// captured while tracking is enabled.
type holdTrack struct {
	held      bool
	heldSince time.Time
	goId      uint64
	stack     string // "" when untracked or released
}

func (ht *holdTrack) noteAcquired() {
	ht.heldSince = time.Now()
	ht.held = true
	if tracking() {
		ht.goId = utils.GetGID()
		ht.stack = utils.StackTrace()
	} else {
		ht.goId = 0
		ht.stack = ""
	}
}

func (ht *holdTrack) noteReleased(label string) {
	if tracking() {
		heldFor := time.Since(ht.heldSince)
		if heldFor >= globals.lockHoldTimeLimit {
			acquireStack := ht.stack
			if "" == acquireStack {
				acquireStack = "(locked before tracking was enabled)"
			}
			logger.Warnf("Unlock(): %s locked for %.3f sec by goroutine %v; stack at Lock():\n%s\nstack at Unlock():\n%s",
				label, heldFor.Seconds(), ht.goId, acquireStack, utils.StackTrace())
		}
	}
	ht.held = false
	ht.stack = ""
}

func (ht *holdTrack) overdueHold(now time.Time, label string, op string) (hold overdueHoldStruct, overdue bool) {
	if !ht.held || ("" == ht.stack) || (now.Sub(ht.heldSince) < globals.lockHoldTimeLimit) {
		overdue = false
		return
	}
	hold = overdueHoldStruct{
		label:     label,
		op:        op,
		goId:      ht.goId,
		heldSince: ht.heldSince,
		stack:     ht.stack,
	}
	overdue = true
	return
}

// readerHoldStruct records one shared holder of an RWMutex
type readerHoldStruct struct {
	heldSince time.Time
	stack     string
}

// readerTrack records the shared holders of an RWMutex. Its own mutex only
// guards the holder map; the wrapped RWMutex being held shared guarantees no
// writer is active.
type readerTrack struct {
	sync.Mutex
	count      int
	lastChange time.Time
	holders    map[uint64]*readerHoldStruct // goId -> hold; entries only while tracking
}

func (rt *readerTrack) noteAcquired() {
	var (
		goId  uint64
		stack string
	)

	// capture outside the holder-map lock to keep contention down
	if tracking() {
		goId = utils.GetGID()
		stack = utils.StackTrace()
	}

	rt.Lock()
	rt.count++
	rt.lastChange = time.Now()
	if tracking() {
		if nil == rt.holders {
			rt.holders = make(map[uint64]*readerHoldStruct)
		}
		rt.holders[goId] = &readerHoldStruct{heldSince: rt.lastChange, stack: stack}
	}
	rt.Unlock()
}

func (rt *readerTrack) noteReleased(label string) {
	var goId uint64

	if tracking() {
		goId = utils.GetGID()
	}

	rt.Lock()

	// An RLock() taken on one goroutine and released on another, or taken
	// before tracking was enabled, has no holder entry; nothing to check
	// then. Stale entries from such handoffs are discarded with the last
	// release so they cannot trip the watcher forever.
	hold, known := rt.holders[goId]
	if known {
		heldFor := time.Since(hold.heldSince)
		if heldFor >= globals.lockHoldTimeLimit {
			logger.Warnf("RUnlock(): %s locked for %.3f sec by goroutine %v; stack at RLock():\n%s\nstack at RUnlock():\n%s",
				label, heldFor.Seconds(), goId, hold.stack, utils.StackTrace())
		}
		delete(rt.holders, goId)
	}

	rt.count--
	rt.lastChange = time.Now()
	if (rt.count <= 0) && (0 != len(rt.holders)) {
		rt.holders = nil
	}

	rt.Unlock()
}

func (rt *readerTrack) overdueHolds(now time.Time, label string) (holds []overdueHoldStruct) {
	rt.Lock()
	for goId, hold := range rt.holders {
		if now.Sub(hold.heldSince) >= globals.lockHoldTimeLimit {
			holds = append(holds, overdueHoldStruct{
				label:     label,
				op:        "RLock()",
				goId:      goId,
				heldSince: hold.heldSince,
				stack:     hold.stack,
			})
		}
	}
	rt.Unlock()
	return
}

//
// watchable implementations
//

func (m *Mutex) overdueHolds(now time.Time) (holds []overdueHoldStruct) {
	if hold, overdue := m.hold.overdueHold(now, m.label(), "Lock()"); overdue {
		holds = append(holds, hold)
	}
	return
}

func (m *Mutex) lastLocked() (lastLockTime time.Time, lockedNow bool) {
	return m.hold.heldSince, m.hold.held
}

func (m *Mutex) unwatch() {
	m.watched = false
}

func (m *RWMutex) overdueHolds(now time.Time) (holds []overdueHoldStruct) {
	if hold, overdue := m.hold.overdueHold(now, m.label(), "Lock()"); overdue {
		holds = append(holds, hold)
	}
	holds = append(holds, m.readers.overdueHolds(now, m.label())...)
	return
}

func (m *RWMutex) lastLocked() (lastLockTime time.Time, lockedNow bool) {
	m.readers.Lock()
	readerTime := m.readers.lastChange
	readersNow := 0 != m.readers.count
	m.readers.Unlock()

	lastLockTime = m.hold.heldSince
	if readerTime.After(lastLockTime) {
		lastLockTime = readerTime
	}
	lockedNow = m.hold.held || readersNow
	return
}

func (m *RWMutex) unwatch() {
	m.watched = false
}

// watchRegister puts the lock on the watcher's list when both tracking and
// the watcher are enabled. Registration is idempotent.
func watchRegister(w watchable) (registered bool) {
	if !tracking() || (0 == globals.lockCheckPeriod) {
		return false
	}
	globals.mapMutex.Lock()
	globals.watchSet[w] = struct{}{}
	globals.mapMutex.Unlock()
	return true
}

// lockWatcher periodically reports the longest-overdue holds and forgets
// locks that have sat idle for a full check period
func lockWatcher() {
	for shutdown := false; !shutdown; {
		select {
		case <-globals.stopChan:
			shutdown = true
			logger.Infof("trackedlock lock watcher shutting down")
			// fall through and perform one last check
		case <-globals.lockCheckChan:
			// fall through and perform checks
		}

		var (
			now     = time.Now()
			overdue []overdueHoldStruct
		)

		globals.mapMutex.Lock()
		for w := range globals.watchSet {
			lastLockTime, lockedNow := w.lastLocked()
			if !lockedNow {
				if now.Sub(lastLockTime) >= globals.lockCheckPeriod {
					w.unwatch()
					delete(globals.watchSet, w)
				}
				continue
			}
			overdue = append(overdue, w.overdueHolds(now)...)
		}
		globals.mapMutex.Unlock()

		// longest-held first; cap the noise at lockWatcherLocksLogged
		sort.Slice(overdue, func(i int, j int) bool {
			return overdue[i].heldSince.Before(overdue[j].heldSince)
		})
		if len(overdue) > globals.lockWatcherLocksLogged {
			overdue = overdue[:globals.lockWatcherLocksLogged]
		}

		for _, hold := range overdue {
			logger.Warnf("trackedlock watcher: %s locked for %.3f sec by goroutine %v via %s; stack at %s:\n%s",
				hold.label, now.Sub(hold.heldSince).Seconds(), hold.goId, hold.op, hold.op, hold.stack)
		}
	}

	globals.doneChan <- struct{}{}
}
