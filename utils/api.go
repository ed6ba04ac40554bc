// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

// Package utils provides the runtime-introspection helpers shared by the
// freerange packages: caller identification for package logger and goroutine
// stack access for package trackedlock.
package utils

import (
	"fmt"
	"runtime"
	"strconv"
	"strings"
)

// GetGID returns the ID of the calling goroutine.
//
// The runtime does not expose goroutine IDs, but the first line of a
// formatted stack trace is "goroutine <id> [<state>]:", so parse it out.
// Lock debugging is the only consumer; don't call this on a hot path.
//
func GetGID() (gid uint64) {
	var header [64]byte

	n := runtime.Stack(header[:], false)
	fields := strings.Fields(string(header[:n]))
	if (3 > len(fields)) || ("goroutine" != fields[0]) {
		return 0
	}
	gid, _ = strconv.ParseUint(fields[1], 10, 64)
	return
}

// GetAFnName returns "<package>.<function>" for the caller the requested
// number of levels up the stack
func GetAFnName(level int) string {
	pc, _, _, ok := runtime.Caller(level + 1)
	if !ok {
		return "?.?"
	}

	// A fully qualified name looks like
	// "github.com/NVIDIA/freerange/cbs.(*BlockSet).Insert"; everything up
	// to the final '/' is module path noise
	name := runtime.FuncForPC(pc).Name()
	if slash := strings.LastIndexByte(name, '/'); slash >= 0 {
		name = name[slash+1:]
	}
	return name
}

// GetFuncPackage splits GetAFnName()'s result into its package and function
// components and adds the goroutine id
func GetFuncPackage(level int) (fn string, pkg string, gid uint64) {
	funcPkg := GetAFnName(level + 1)

	// The package name ends at the first '.'; the function name starts
	// after the last one (methods carry a receiver in between)
	if dot := strings.IndexByte(funcPkg, '.'); dot >= 0 {
		pkg = funcPkg[:dot]
		fn = funcPkg[strings.LastIndexByte(funcPkg, '.')+1:]
	} else {
		fn = funcPkg
	}

	gid = GetGID()

	return
}

// GetFnName returns a string containing the name of the running function and
// its package. This can be useful for debug prints.
func GetFnName() string {
	return GetAFnName(1)
}

// GetCallerFnName returns a string containing the name of the calling
// function. This can be useful for debug prints.
func GetCallerFnName() string {
	return GetAFnName(2)
}

// StackTrace returns the formatted stack trace of the calling goroutine
func StackTrace() (stackTrace string) {
	buf := make([]byte, 4040)
	buf = buf[:runtime.Stack(buf, false)]
	stackTrace = string(buf)
	return
}

func Uint64ToHexStr(value uint64) string {
	return fmt.Sprintf("%016X", value)
}

func HexStrToUint64(value string) (uint64, error) {
	return strconv.ParseUint(value, 16, 64)
}
