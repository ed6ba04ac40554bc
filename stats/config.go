// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package stats

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/NVIDIA/freerange/conf"
	"github.com/NVIDIA/freerange/transitions"
)

const (
	expectedNumberOfDistinctStatNames = 100

	// upper bound on counters pushed to StatsD per tick; see sender()
	maxStatsPerTick = 20
)

type statStruct struct {
	name      *string
	increment uint64
}

type globalsStruct struct {
	sync.Mutex    //                       Used only for snapshotting statFullMap
	network       string //                "udp" or "tcp"
	raddr         string //                "<host>:<port>" of the local StatsD
	conn          net.Conn //              persistent connection; nil until first send
	bufferLength  uint16
	maxLatency    time.Duration
	statChan      chan statStruct
	tickChan      <-chan time.Time
	stopChan      chan bool
	doneChan      chan bool
	pendingDeltas map[string]uint64 //     accumulated increments not yet sent (sender goroutine only)
	statFullMap   map[string]uint64 //     all accumulated increments since Up()
}

var globals globalsStruct

func init() {
	transitions.Register("stats", &globals)
}

func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	var (
		errFetchingTCPPort error
		errFetchingUDPPort error
		tcpPort            uint16
		udpPort            uint16
	)

	udpPort, errFetchingUDPPort = confMap.FetchOptionValueUint16("Stats", "UDPPort")
	tcpPort, errFetchingTCPPort = confMap.FetchOptionValueUint16("Stats", "TCPPort")

	if (nil != errFetchingUDPPort) && (nil != errFetchingTCPPort) {
		// Neither port specified; stats are disabled: IncrementOperations*()
		// calls are dropped (statChan stays nil) and nothing accumulates
		err = nil
		return
	}

	if (nil == errFetchingUDPPort) && (nil == errFetchingTCPPort) {
		err = fmt.Errorf("Only one of [Stats]UDPPort and [Stats]TCPPort may be specified")
		return
	}

	// Hard-coded host since we only want to talk to the local StatsD
	if nil == errFetchingUDPPort {
		globals.network = "udp"
		globals.raddr = "localhost:" + strconv.FormatUint(uint64(udpPort), 10)
	} else {
		globals.network = "tcp"
		globals.raddr = "localhost:" + strconv.FormatUint(uint64(tcpPort), 10)
	}
	globals.conn = nil

	globals.bufferLength, err = confMap.FetchOptionValueUint16("Stats", "BufferLength")
	if nil != err {
		globals.bufferLength = 1000
	}

	globals.maxLatency, err = confMap.FetchOptionValueDuration("Stats", "MaxLatency")
	if nil != err {
		globals.maxLatency = 100 * time.Millisecond
	}

	globals.statChan = make(chan statStruct, globals.bufferLength)
	globals.stopChan = make(chan bool, 1)
	globals.doneChan = make(chan bool, 1)

	globals.pendingDeltas = make(map[string]uint64, expectedNumberOfDistinctStatNames)
	globals.statFullMap = make(map[string]uint64, expectedNumberOfDistinctStatNames)

	// Start the ticker
	globals.tickChan = time.Tick(globals.maxLatency)

	go sender()

	err = nil
	return
}

func (dummy *globalsStruct) PoolCreated(confMap conf.ConfMap, poolName string) (err error) {
	return nil
}

func (dummy *globalsStruct) PoolDestroyed(confMap conf.ConfMap, poolName string) (err error) {
	return nil
}

func (dummy *globalsStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	return nil
}

func (dummy *globalsStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	return nil
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	if nil == globals.statChan {
		// Stats were never enabled
		err = nil
		return
	}

	globals.statChan = nil

	globals.stopChan <- true

	_ = <-globals.doneChan

	err = nil

	return
}
