// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package mvff

import (
	"fmt"

	"github.com/NVIDIA/freerange/cbs"
	"github.com/NVIDIA/freerange/conf"
	"github.com/NVIDIA/freerange/failover"
	"github.com/NVIDIA/freerange/freelist"
	"github.com/NVIDIA/freerange/logger"
	"github.com/NVIDIA/freerange/ranges"
	"github.com/NVIDIA/freerange/stats"
	"github.com/NVIDIA/freerange/trackedlock"
	"github.com/NVIDIA/freerange/transitions"
)

const (
	defaultAlignment  = uint64(8)
	defaultBlockLimit = uint64(0)
	defaultZoneShift  = uint8(20)
)

type globalsStruct struct {
	trackedlock.Mutex //          Protects poolMap
	poolMap           map[string]*Pool
}

var globals globalsStruct

func init() {
	transitions.Register("mvff", &globals)
}

func (dummy *globalsStruct) Up(confMap conf.ConfMap) (err error) {
	globals.Lock()
	globals.poolMap = make(map[string]*Pool)
	globals.Unlock()
	err = nil
	return
}

// PoolCreated builds the pool described by the [Pool:<poolName>] section:
//
//   [Pool:<poolName>]
//   SpanBase   = <first address of the managed span>
//   SpanSize   = <bytes in the managed span>
//   Alignment  = <grain size; defaults to 8>
//   BlockLimit = <primary block descriptor budget; defaults to 0 (unlimited)>
//   ZoneShift  = <zone stripe width in bits; defaults to 20>
//
func (dummy *globalsStruct) PoolCreated(confMap conf.ConfMap, poolName string) (err error) {
	var (
		alignment  uint64
		blockLimit uint64
		spanBase   uint64
		spanSize   uint64
		zoneShift  uint8
	)

	sectionName := "Pool:" + poolName

	spanBase, err = confMap.FetchOptionValueUint64(sectionName, "SpanBase")
	if nil != err {
		return
	}
	spanSize, err = confMap.FetchOptionValueUint64(sectionName, "SpanSize")
	if nil != err {
		return
	}

	alignment, err = confMap.FetchOptionValueUint64(sectionName, "Alignment")
	if nil != err {
		alignment = defaultAlignment
	}
	blockLimit, err = confMap.FetchOptionValueUint64(sectionName, "BlockLimit")
	if nil != err {
		blockLimit = defaultBlockLimit
	}
	zoneShift, err = confMap.FetchOptionValueUint8(sectionName, "ZoneShift")
	if nil != err {
		zoneShift = defaultZoneShift
	}

	pool, err := CreatePool(poolName, alignment, blockLimit, zoneShift)
	if nil != err {
		return
	}

	if 0 != spanSize {
		err = pool.AddSpan(spanBase, spanSize)
		if nil != err {
			_ = DestroyPool(poolName)
			return
		}
	}

	logger.Infof("mvff: created pool %s spanning %v (alignment 0x%X, blockLimit %v)",
		poolName, ranges.New(spanBase, spanBase+spanSize), alignment, blockLimit)

	err = nil
	return
}

func (dummy *globalsStruct) PoolDestroyed(confMap conf.ConfMap, poolName string) (err error) {
	err = DestroyPool(poolName)
	if nil == err {
		logger.Infof("mvff: destroyed pool %s", poolName)
	}
	return
}

func (dummy *globalsStruct) SignaledStart(confMap conf.ConfMap) (err error) {
	err = nil
	return
}

func (dummy *globalsStruct) SignaledFinish(confMap conf.ConfMap) (err error) {
	err = nil
	return
}

func (dummy *globalsStruct) Down(confMap conf.ConfMap) (err error) {
	globals.Lock()
	leftoverPoolNames := make([]string, 0, len(globals.poolMap))
	for poolName := range globals.poolMap {
		leftoverPoolNames = append(leftoverPoolNames, poolName)
	}
	globals.Unlock()

	for _, poolName := range leftoverPoolNames {
		err = DestroyPool(poolName)
		if nil != err {
			return
		}
	}
	err = nil
	return
}

// CreatePool programmatically creates an empty pool (no conf section
// involved); spans are supplied via AddSpan()
func CreatePool(poolName string, alignment uint64, blockLimit uint64, zoneShift uint8) (pool *Pool, err error) {
	bs, err := cbs.New(alignment, blockLimit, zoneShift)
	if nil != err {
		return
	}
	fl, err := freelist.New(alignment, zoneShift)
	if nil != err {
		return
	}
	fo, err := failover.New(alignment, bs, fl)
	if nil != err {
		return
	}

	pool = &Pool{
		poolName:  poolName,
		alignment: alignment,
		fo:        fo,
		bs:        bs,
		fl:        fl,
	}
	pool.mutex.SetName("mvff:" + poolName)

	globals.Lock()
	if nil == globals.poolMap {
		globals.poolMap = make(map[string]*Pool)
	}
	if _, exists := globals.poolMap[poolName]; exists {
		globals.Unlock()
		pool = nil
		err = fmt.Errorf("mvff: pool %s already exists", poolName)
		return
	}
	globals.poolMap[poolName] = pool
	globals.Unlock()

	stats.IncrementOperations(&stats.MvffPoolCreateOps)
	err = nil
	return
}

// DestroyPool finishes a pool's failover land and forgets the pool
func DestroyPool(poolName string) (err error) {
	globals.Lock()
	pool, exists := globals.poolMap[poolName]
	if !exists {
		globals.Unlock()
		err = fmt.Errorf("mvff: pool %s does not exist", poolName)
		return
	}
	delete(globals.poolMap, poolName)
	globals.Unlock()

	pool.mutex.Lock()
	pool.fo.Finish()
	pool.mutex.Unlock()

	stats.IncrementOperations(&stats.MvffPoolDestroyOps)
	err = nil
	return
}

// FetchPool looks up a pool created via conf or CreatePool()
func FetchPool(poolName string) (pool *Pool, err error) {
	globals.Lock()
	pool, exists := globals.poolMap[poolName]
	globals.Unlock()
	if !exists {
		err = fmt.Errorf("mvff: pool %s does not exist", poolName)
		return
	}
	err = nil
	return
}
