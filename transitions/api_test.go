// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transitions

import (
	"fmt"
	"testing"

	"github.com/NVIDIA/freerange/conf"
)

type testCallbacksInterfaceStruct struct {
	name string
	t    *testing.T
}

var testCallbackLog []string

func (testCallbacksInterface *testCallbacksInterfaceStruct) logCallback(callbackName string, extraArg string) {
	if "" == extraArg {
		testCallbackLog = append(testCallbackLog, fmt.Sprintf("%s.%s()", testCallbacksInterface.name, callbackName))
	} else {
		testCallbackLog = append(testCallbackLog, fmt.Sprintf("%s.%s(%s)", testCallbacksInterface.name, callbackName, extraArg))
	}
}

func (testCallbacksInterface *testCallbacksInterfaceStruct) Up(confMap conf.ConfMap) (err error) {
	testCallbacksInterface.logCallback("Up", "")
	return nil
}

func (testCallbacksInterface *testCallbacksInterfaceStruct) PoolCreated(confMap conf.ConfMap, poolName string) (err error) {
	testCallbacksInterface.logCallback("PoolCreated", poolName)
	return nil
}

func (testCallbacksInterface *testCallbacksInterfaceStruct) PoolDestroyed(confMap conf.ConfMap, poolName string) (err error) {
	testCallbacksInterface.logCallback("PoolDestroyed", poolName)
	return nil
}

func (testCallbacksInterface *testCallbacksInterfaceStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	testCallbacksInterface.logCallback("SignaledStart", "")
	return nil
}

func (testCallbacksInterface *testCallbacksInterfaceStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	testCallbacksInterface.logCallback("SignaledFinish", "")
	return nil
}

func (testCallbacksInterface *testCallbacksInterfaceStruct) Down(confMap conf.ConfMap) (err error) {
	testCallbacksInterface.logCallback("Down", "")
	return nil
}

func testExpectCallbackLog(t *testing.T, step string, expected []string) {
	if len(expected) != len(testCallbackLog) {
		t.Fatalf("%s: callback log == %v; expected %v", step, testCallbackLog, expected)
	}
	for i := range expected {
		if expected[i] != testCallbackLog[i] {
			t.Fatalf("%s: callback log == %v; expected %v", step, testCallbackLog, expected)
		}
	}
	testCallbackLog = testCallbackLog[:0]
}

func TestAPI(t *testing.T) {
	testCallbacksA := &testCallbacksInterfaceStruct{name: "A", t: t}
	testCallbacksB := &testCallbacksInterfaceStruct{name: "B", t: t}

	Register("testA", testCallbacksA)
	Register("testB", testCallbacksB)

	testCallbackLog = make([]string, 0)

	confMapOnePool, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"FreeRange.PoolList=Pool0",
	})
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() returned error: %v", err)
	}

	err = Up(confMapOnePool)
	if nil != err {
		t.Fatalf("transitions.Up() returned error: %v", err)
	}

	// Up(), PoolCreated(), and SignaledFinish() arrive in registration order
	testExpectCallbackLog(t, "Up", []string{
		"A.Up()",
		"B.Up()",
		"A.PoolCreated(Pool0)",
		"B.PoolCreated(Pool0)",
		"A.SignaledFinish()",
		"B.SignaledFinish()",
	})

	// adding Pool1 and dropping Pool0 via Signaled()
	confMapOtherPool, err := conf.MakeConfMapFromStrings([]string{
		"Logging.LogToConsole=false",
		"FreeRange.PoolList=Pool1",
	})
	if nil != err {
		t.Fatalf("conf.MakeConfMapFromStrings() returned error: %v", err)
	}

	err = Signaled(confMapOtherPool)
	if nil != err {
		t.Fatalf("transitions.Signaled() returned error: %v", err)
	}

	// SignaledStart() and PoolDestroyed() arrive in reverse registration order
	testExpectCallbackLog(t, "Signaled", []string{
		"B.SignaledStart()",
		"A.SignaledStart()",
		"B.PoolDestroyed(Pool0)",
		"A.PoolDestroyed(Pool0)",
		"A.PoolCreated(Pool1)",
		"B.PoolCreated(Pool1)",
		"A.SignaledFinish()",
		"B.SignaledFinish()",
	})

	err = Down(confMapOtherPool)
	if nil != err {
		t.Fatalf("transitions.Down() returned error: %v", err)
	}

	testExpectCallbackLog(t, "Down", []string{
		"B.PoolDestroyed(Pool1)",
		"A.PoolDestroyed(Pool1)",
		"B.Down()",
		"A.Down()",
	})
}
