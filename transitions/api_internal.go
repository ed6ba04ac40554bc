// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package transitions

import (
	"container/list"
	"fmt"
	"sync"

	"github.com/NVIDIA/freerange/conf"
	"github.com/NVIDIA/freerange/logger"
)

type loggerCallbacksInterfaceStruct struct {
}

var loggerCallbacksInterface loggerCallbacksInterfaceStruct

type registrationItemStruct struct {
	packageName string
	callbacks   Callbacks
}

type globalsStruct struct {
	sync.Mutex       //                                  Used only for protecting insertions into registration{List|Set} during init() phase
	registrationList *list.List
	registrationSet  map[string]*registrationItemStruct // Key: registrationItemStruct.packageName
	servedPoolSet    map[string]struct{}                // Key: pool name
}

var globals globalsStruct

func init() {
	globals.Lock()
	globals.registrationList = list.New()
	globals.registrationSet = make(map[string]*registrationItemStruct)
	globals.Unlock()

	Register("logger", &loggerCallbacksInterface)
}

func register(packageName string, callbacks Callbacks) {
	var (
		alreadyRegistered bool
		registrationItem  *registrationItemStruct
	)

	globals.Lock()
	_, alreadyRegistered = globals.registrationSet[packageName]
	if alreadyRegistered {
		logger.Fatalf("transitions.Register(%s,) called twice", packageName)
	}
	registrationItem = &registrationItemStruct{packageName, callbacks}
	_ = globals.registrationList.PushBack(registrationItem)
	globals.registrationSet[packageName] = registrationItem
	globals.Unlock()
}

func fetchPoolList(confMap conf.ConfMap) (poolList []string, err error) {
	poolList, err = confMap.FetchOptionValueStringSlice("FreeRange", "PoolList")
	if nil != err {
		// An absent FreeRange.PoolList simply means no pools
		poolList = []string{}
		err = nil
	}
	return
}

// issueCallbackForward issues the supplied callback from Front() to Back() of
// globals.registrationList stopping on the first error.
func issueCallbackForward(callbackName string, callback func(callbacks Callbacks) (err error)) (err error) {
	var (
		registrationItem        *registrationItemStruct
		registrationListElement *list.Element
	)

	registrationListElement = globals.registrationList.Front()

	for nil != registrationListElement {
		registrationItem = registrationListElement.Value.(*registrationItemStruct)
		logger.Tracef("transitions calling %s.%s()", registrationItem.packageName, callbackName)
		err = callback(registrationItem.callbacks)
		if nil != err {
			err = fmt.Errorf("%s.%s() failed: %v", registrationItem.packageName, callbackName, err)
			return
		}
		registrationListElement = registrationListElement.Next()
	}

	err = nil
	return
}

// issueCallbackReverse issues the supplied callback from Back() to Front() of
// globals.registrationList stopping on the first error.
func issueCallbackReverse(callbackName string, callback func(callbacks Callbacks) (err error)) (err error) {
	var (
		registrationItem        *registrationItemStruct
		registrationListElement *list.Element
	)

	registrationListElement = globals.registrationList.Back()

	for nil != registrationListElement {
		registrationItem = registrationListElement.Value.(*registrationItemStruct)
		logger.Tracef("transitions calling %s.%s()", registrationItem.packageName, callbackName)
		err = callback(registrationItem.callbacks)
		if nil != err {
			err = fmt.Errorf("%s.%s() failed: %v", registrationItem.packageName, callbackName, err)
			return
		}
		registrationListElement = registrationListElement.Prev()
	}

	err = nil
	return
}

func up(confMap conf.ConfMap) (err error) {
	var (
		poolList []string
		poolName string
	)

	defer func() {
		if nil == err {
			logger.Infof("transitions.Up() returning successfully")
		} else {
			// On the relatively good likelihood that at least logger.Up() worked...
			logger.Errorf("transitions.Up() returning with failure: %v", err)
		}
	}()

	globals.servedPoolSet = make(map[string]struct{})

	err = issueCallbackForward("Up", func(callbacks Callbacks) (err error) {
		err = callbacks.Up(confMap)
		return
	})
	if nil != err {
		return
	}

	poolList, err = fetchPoolList(confMap)
	if nil != err {
		return
	}

	for _, poolName = range poolList {
		thisPoolName := poolName
		err = issueCallbackForward("PoolCreated", func(callbacks Callbacks) (err error) {
			err = callbacks.PoolCreated(confMap, thisPoolName)
			return
		})
		if nil != err {
			return
		}
		globals.servedPoolSet[poolName] = struct{}{}
	}

	err = issueCallbackForward("SignaledFinish", func(callbacks Callbacks) (err error) {
		err = callbacks.SignaledFinish(confMap)
		return
	})

	return
}

func signaled(confMap conf.ConfMap) (err error) {
	var (
		newPoolList []string
		newPoolSet  map[string]struct{}
		poolName    string
	)

	err = issueCallbackReverse("SignaledStart", func(callbacks Callbacks) (err error) {
		err = callbacks.SignaledStart(confMap)
		return
	})
	if nil != err {
		return
	}

	newPoolList, err = fetchPoolList(confMap)
	if nil != err {
		return
	}

	newPoolSet = make(map[string]struct{})
	for _, poolName = range newPoolList {
		newPoolSet[poolName] = struct{}{}
	}

	for poolName = range globals.servedPoolSet {
		if _, stillServed := newPoolSet[poolName]; !stillServed {
			thisPoolName := poolName
			err = issueCallbackReverse("PoolDestroyed", func(callbacks Callbacks) (err error) {
				err = callbacks.PoolDestroyed(confMap, thisPoolName)
				return
			})
			if nil != err {
				return
			}
			delete(globals.servedPoolSet, poolName)
		}
	}

	for _, poolName = range newPoolList {
		if _, alreadyServed := globals.servedPoolSet[poolName]; !alreadyServed {
			thisPoolName := poolName
			err = issueCallbackForward("PoolCreated", func(callbacks Callbacks) (err error) {
				err = callbacks.PoolCreated(confMap, thisPoolName)
				return
			})
			if nil != err {
				return
			}
			globals.servedPoolSet[poolName] = struct{}{}
		}
	}

	err = issueCallbackForward("SignaledFinish", func(callbacks Callbacks) (err error) {
		err = callbacks.SignaledFinish(confMap)
		return
	})

	return
}

func down(confMap conf.ConfMap) (err error) {
	var (
		poolName string
	)

	for poolName = range globals.servedPoolSet {
		thisPoolName := poolName
		err = issueCallbackReverse("PoolDestroyed", func(callbacks Callbacks) (err error) {
			err = callbacks.PoolDestroyed(confMap, thisPoolName)
			return
		})
		if nil != err {
			return
		}
		delete(globals.servedPoolSet, poolName)
	}

	err = issueCallbackReverse("Down", func(callbacks Callbacks) (err error) {
		err = callbacks.Down(confMap)
		return
	})

	return
}

// Package logger is registered by package transitions itself (see init() above)
// so that logging is set up before any other package's Up() callback is issued
// and torn down after every other package's Down() callback has completed.

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) Up(confMap conf.ConfMap) (err error) {
	err = logger.Up(confMap)
	return
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) PoolCreated(confMap conf.ConfMap, poolName string) (err error) {
	err = nil
	return
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) PoolDestroyed(confMap conf.ConfMap, poolName string) (err error) {
	err = nil
	return
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	err = nil
	return
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	err = nil
	return
}

func (loggerCallbacksInterface *loggerCallbacksInterfaceStruct) Down(confMap conf.ConfMap) (err error) {
	err = logger.Down()
	return
}
