// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/NVIDIA/freerange/conf"
	"github.com/NVIDIA/freerange/mvff"
	"github.com/NVIDIA/freerange/stats"
	"github.com/NVIDIA/freerange/transitions"
)

const allocSize = uint64(64)

var (
	doNextStepChan chan bool
	measureFirst   bool
	measureLast    bool
	measureLargest bool
	churn          bool
	opsPerThread   uint64
	pool           *mvff.Pool
	stepErrChan    chan error
	threads        uint64
)

func usage(file *os.File) {
	fmt.Fprintf(file, "Usage:\n")
	fmt.Fprintf(file, "    %v [fFlLgG] threads ops-per-thread conf-file [section.option=value]*\n", os.Args[0])
	fmt.Fprintf(file, "  where:\n")
	fmt.Fprintf(file, "    f                       run first-fit alloc/free cycles\n")
	fmt.Fprintf(file, "    F                       run first-fit cycles with fragmentation churn\n")
	fmt.Fprintf(file, "    l                       run last-fit  alloc/free cycles\n")
	fmt.Fprintf(file, "    L                       run last-fit  cycles with fragmentation churn\n")
	fmt.Fprintf(file, "    g                       run largest-fit alloc/free cycles\n")
	fmt.Fprintf(file, "    G                       run largest-fit cycles with fragmentation churn\n")
	fmt.Fprintf(file, "    threads                 number of threads\n")
	fmt.Fprintf(file, "    ops-per-thread          number of alloc/free cycles each thread performs\n")
	fmt.Fprintf(file, "    conf-file               input to conf.MakeConfMapFromFile()\n")
	fmt.Fprintf(file, "    [section.option=value]* optional input to conf.UpdateFromStrings()\n")
	fmt.Fprintf(file, "\n")
	fmt.Fprintf(file, "Note: Precisely one test selector must be specified\n")
	fmt.Fprintf(file, "      The conf-file must define at least one pool in FreeRange.PoolList;\n")
	fmt.Fprintf(file, "      the first listed pool is the one exercised\n")
	fmt.Fprintf(file, "      Fragmentation churn holds every other allocation across the run,\n")
	fmt.Fprintf(file, "      forcing descriptor pressure in the primary when Pool.BlockLimit\n")
	fmt.Fprintf(file, "      is small\n")
}

func main() {
	var (
		confMap                      conf.ConfMap
		durationOfMeasuredOperations time.Duration
		err                          error
		latencyPerOpInMicroSeconds   float64
		opsPerSecond                 float64
		poolList                     []string
		threadIndex                  uint64
		timeAfterMeasuredOperations  time.Time
		timeBeforeMeasuredOperations time.Time
	)

	// Parse arguments

	if 5 > len(os.Args) {
		usage(os.Stderr)
		os.Exit(1)
	}

	switch os.Args[1] {
	case "f":
		measureFirst = true
	case "F":
		measureFirst = true
		churn = true
	case "l":
		measureLast = true
	case "L":
		measureLast = true
		churn = true
	case "g":
		measureLargest = true
	case "G":
		measureLargest = true
		churn = true
	default:
		fmt.Fprintf(os.Stderr, "os.Args[1] ('%v') must be one of 'f', 'F', 'l', 'L', 'g', or 'G'\n", os.Args[1])
		os.Exit(1)
	}

	threads, err = strconv.ParseUint(os.Args[2], 10, 64)
	if nil != err {
		fmt.Fprintf(os.Stderr, "strconv.ParseUint(\"%v\", 10, 64) of threads failed: %v\n", os.Args[2], err)
		os.Exit(1)
	}
	if 0 == threads {
		fmt.Fprintf(os.Stderr, "threads must be a positive number\n")
		os.Exit(1)
	}

	opsPerThread, err = strconv.ParseUint(os.Args[3], 10, 64)
	if nil != err {
		fmt.Fprintf(os.Stderr, "strconv.ParseUint(\"%v\", 10, 64) of ops-per-thread failed: %v\n", os.Args[3], err)
		os.Exit(1)
	}
	if 0 == opsPerThread {
		fmt.Fprintf(os.Stderr, "ops-per-thread must be a positive number\n")
		os.Exit(1)
	}

	confMap, err = conf.MakeConfMapFromFile(os.Args[4])
	if nil != err {
		fmt.Fprintf(os.Stderr, "conf.MakeConfMapFromFile(\"%v\") failed: %v\n", os.Args[4], err)
		os.Exit(1)
	}

	if 5 < len(os.Args) {
		err = confMap.UpdateFromStrings(os.Args[5:])
		if nil != err {
			fmt.Fprintf(os.Stderr, "confMap.UpdateFromStrings(%#v) failed: %v\n", os.Args[5:], err)
			os.Exit(1)
		}
	}

	// Start up the freerange packages

	err = transitions.Up(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "transitions.Up() failed: %v\n", err)
		os.Exit(1)
	}

	poolList, err = confMap.FetchOptionValueStringSlice("FreeRange", "PoolList")
	if (nil != err) || (0 == len(poolList)) {
		fmt.Fprintf(os.Stderr, "conf-file must define at least one pool in FreeRange.PoolList\n")
		os.Exit(1)
	}

	pool, err = mvff.FetchPool(poolList[0])
	if nil != err {
		fmt.Fprintf(os.Stderr, "mvff.FetchPool(\"%v\") failed: %v\n", poolList[0], err)
		os.Exit(1)
	}

	// Launch the worker threads and start the measurement

	doNextStepChan = make(chan bool, threads)
	stepErrChan = make(chan error, threads)

	for threadIndex = 0; threadIndex < threads; threadIndex++ {
		go workoutThread()
	}

	timeBeforeMeasuredOperations = time.Now()

	for threadIndex = 0; threadIndex < threads; threadIndex++ {
		doNextStepChan <- true
	}
	for threadIndex = 0; threadIndex < threads; threadIndex++ {
		err = <-stepErrChan
		if nil != err {
			fmt.Fprintf(os.Stderr, "workout thread failed: %v\n", err)
			os.Exit(1)
		}
	}

	timeAfterMeasuredOperations = time.Now()

	durationOfMeasuredOperations = timeAfterMeasuredOperations.Sub(timeBeforeMeasuredOperations)

	// Report

	totalOps := threads * opsPerThread
	opsPerSecond = float64(totalOps) / (float64(durationOfMeasuredOperations) / float64(time.Second))
	latencyPerOpInMicroSeconds = (float64(durationOfMeasuredOperations) / float64(time.Microsecond)) / float64(totalOps)

	fmt.Printf("%v threads x %v alloc/free cycles in %v\n", threads, opsPerThread, durationOfMeasuredOperations)
	fmt.Printf("  %.0f cycles/sec, %.2f usec/cycle\n", opsPerSecond, latencyPerOpInMicroSeconds)
	fmt.Printf("  pool %v: 0x%X bytes free at rest\n", pool.Name(), pool.TotalFree())

	for statName, statValue := range stats.Dump() {
		fmt.Printf("  %v: %v\n", statName, statValue)
	}

	err = transitions.Down(confMap)
	if nil != err {
		fmt.Fprintf(os.Stderr, "transitions.Down() failed: %v\n", err)
		os.Exit(1)
	}
}

func workoutThread() {
	var (
		base uint64
		err  error
		held []uint64
		op   uint64
	)

	_ = <-doNextStepChan

	held = make([]uint64, 0, opsPerThread/2+1)

	for op = 0; op < opsPerThread; op++ {
		switch {
		case measureFirst:
			base, err = pool.AllocFirst(allocSize)
		case measureLast:
			base, err = pool.AllocLast(allocSize)
		case measureLargest:
			base, err = pool.AllocLargest(allocSize)
		}
		if nil != err {
			stepErrChan <- fmt.Errorf("alloc [op %v]: %v", op, err)
			return
		}

		if churn && (0 == op%2) {
			// hold this allocation to fragment the free set
			held = append(held, base)
			continue
		}

		err = pool.Free(base, allocSize)
		if nil != err {
			stepErrChan <- fmt.Errorf("free [op %v]: %v", op, err)
			return
		}
	}

	// release anything held by the churn

	for _, base = range held {
		err = pool.Free(base, allocSize)
		if nil != err {
			stepErrChan <- fmt.Errorf("final free: %v", err)
			return
		}
	}

	stepErrChan <- nil
}
