// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package halter provides fault-injection trigger points for freerange.
//
// A trigger point is named by a halt label. Test code arms a label with a
// countdown; when production code reaches the trigger point that many times,
// the process HALTs (or, for error-injection labels consulted via
// CheckInject(), the operation is made to fail with a simulated allocation
// failure instead).
package halter

import (
	"fmt"
	"os"
	"syscall"
)

// Note 1: Following const block and HaltLabelStrings should be kept in sync
// Note 2: HaltLabelStrings should be easily parseable as URL components

const (
	apiTestHaltLabel1 = iota
	apiTestHaltLabel2
	CbsBlockPoolAlloc
	FailoverDeleteRecoveryEntry
	MvffAllocEntry
	MvffAllocExit
	MvffFreeEntry
	MvffFreeExit
)

var (
	HaltLabelStrings = []string{
		"halter.testHaltLabel1",
		"halter.testHaltLabel2",
		"cbs.blockPoolAlloc",
		"failover.deleteRecovery_Entry",
		"mvff.alloc_Entry",
		"mvff.alloc_Exit",
		"mvff.free_Entry",
		"mvff.free_Exit",
	}
)

// Arm sets up a HALT on the haltAfterCount'd call to Trigger()
func Arm(haltLabelString string, haltAfterCount uint32) {
	globals.Lock()
	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		err := fmt.Errorf("halter.Arm(haltLabelString='%v',) - label unknown", haltLabelString)
		haltWithErr(err)
	}
	if 0 == haltAfterCount {
		err := fmt.Errorf("halter.Arm(haltLabel==%v,) called with haltAfterCount==0", haltLabelString)
		haltWithErr(err)
	}
	globals.armedTriggers[haltLabel] = haltAfterCount
	globals.Unlock()
}

// ArmWithInject sets up error injection on the injectAfterCount'd call to
// CheckInject() for the given label. Once the countdown is exhausted every
// subsequent CheckInject() call reports injection until Disarm() is called,
// modelling a persistently exhausted resource.
func ArmWithInject(haltLabelString string, injectAfterCount uint32) {
	globals.Lock()
	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		err := fmt.Errorf("halter.ArmWithInject(haltLabelString='%v',) - label unknown", haltLabelString)
		haltWithErr(err)
	}
	if 0 == injectAfterCount {
		err := fmt.Errorf("halter.ArmWithInject(haltLabel==%v,) called with injectAfterCount==0", haltLabelString)
		haltWithErr(err)
	}
	globals.armedInjections[haltLabel] = injectAfterCount
	globals.Unlock()
}

// Disarm removes a previously armed trigger via a call to Arm() or ArmWithInject()
func Disarm(haltLabelString string) {
	globals.Lock()
	haltLabel, ok := globals.triggerNamesToNumbers[haltLabelString]
	if !ok {
		err := fmt.Errorf("halter.Disarm(haltLabelString='%v') - label unknown", haltLabelString)
		haltWithErr(err)
	}
	delete(globals.armedTriggers, haltLabel)
	delete(globals.armedInjections, haltLabel)
	globals.Unlock()
}

// Trigger decrements the haltAfterCount if armed and, should it reach 0, HALTs
func Trigger(haltLabel uint32) {
	globals.Lock()
	numTriggersRemaining, armed := globals.armedTriggers[haltLabel]
	if !armed {
		globals.Unlock()
		return
	}
	numTriggersRemaining--
	if 0 == numTriggersRemaining {
		err := fmt.Errorf("halter.Trigger(haltLabelString==%v) triggered HALT", globals.triggerNumbersToNames[haltLabel])
		haltWithErr(err)
	}
	globals.armedTriggers[haltLabel] = numTriggersRemaining
	globals.Unlock()
}

// CheckInject decrements the injectAfterCount if armed and reports whether the
// caller should simulate a failure at this trigger point
func CheckInject(haltLabel uint32) (inject bool) {
	globals.Lock()
	numTriggersRemaining, armed := globals.armedInjections[haltLabel]
	if !armed {
		globals.Unlock()
		return false
	}
	if numTriggersRemaining > 0 {
		numTriggersRemaining--
		globals.armedInjections[haltLabel] = numTriggersRemaining
	}
	inject = (0 == numTriggersRemaining)
	globals.Unlock()
	return
}

// Dump returns a map of currently armed triggers and their remaining trigger count
func Dump() (armedTriggers map[string]uint32) {
	globals.Lock()
	armedTriggers = make(map[string]uint32)
	for k, v := range globals.armedTriggers {
		armedTriggers[globals.triggerNumbersToNames[k]] = v
	}
	for k, v := range globals.armedInjections {
		armedTriggers[globals.triggerNumbersToNames[k]] = v
	}
	globals.Unlock()
	return
}

// List returns a slice of available triggers
func List() (availableTriggers []string) {
	availableTriggers = make([]string, 0, len(globals.triggerNumbersToNames))
	for k := range globals.triggerNamesToNumbers {
		availableTriggers = append(availableTriggers, k)
	}
	return
}

func haltWithErr(err error) {
	if nil == globals.testModeHaltCB {
		fmt.Println(err)
		os.Exit(int(syscall.SIGKILL))
	} else {
		globals.testModeHaltCB(err)
	}
}
