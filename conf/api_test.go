// Copyright (c) 2015-2021, NVIDIA CORPORATION.
// SPDX-License-Identifier: Apache-2.0

package conf

import (
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestUpdateFromString(t *testing.T) {
	confMap := MakeConfMap()

	err := confMap.UpdateFromString("TestNamespace.Alignment=8")
	if nil != err {
		t.Fatalf("UpdateFromString() returned error: %v", err)
	}

	err = confMap.UpdateFromString("TestNamespace.PoolList=PoolA, PoolB")
	if nil != err {
		t.Fatalf("UpdateFromString() returned error: %v", err)
	}

	err = confMap.UpdateFromString("TestNamespace.EmptyOption=")
	if nil != err {
		t.Fatalf("UpdateFromString() returned error: %v", err)
	}

	err = confMap.UpdateFromString("MalformedNoDot=17")
	if nil == err {
		t.Fatalf("UpdateFromString(\"MalformedNoDot=17\") should have returned an error")
	}

	err = confMap.UpdateFromString("")
	if nil == err {
		t.Fatalf("UpdateFromString(\"\") should have returned an error")
	}

	alignment, err := confMap.FetchOptionValueUint64("TestNamespace", "Alignment")
	if nil != err {
		t.Fatalf("FetchOptionValueUint64() returned error: %v", err)
	}
	if 8 != alignment {
		t.Fatalf("FetchOptionValueUint64() returned %v", alignment)
	}

	poolList, err := confMap.FetchOptionValueStringSlice("TestNamespace", "PoolList")
	if nil != err {
		t.Fatalf("FetchOptionValueStringSlice() returned error: %v", err)
	}
	if (2 != len(poolList)) || ("PoolA" != poolList[0]) || ("PoolB" != poolList[1]) {
		t.Fatalf("FetchOptionValueStringSlice() returned %v", poolList)
	}

	err = confMap.VerifyOptionValueIsEmpty("TestNamespace", "EmptyOption")
	if nil != err {
		t.Fatalf("VerifyOptionValueIsEmpty() returned error: %v", err)
	}

	err = confMap.VerifyOptionValueIsEmpty("TestNamespace", "Alignment")
	if nil == err {
		t.Fatalf("VerifyOptionValueIsEmpty() on non-empty option should have returned an error")
	}
}

func TestFetchTypedOptions(t *testing.T) {
	confMap, err := MakeConfMapFromStrings([]string{
		"S.BoolYes=yes",
		"S.BoolOff=off",
		"S.BoolBad=maybe",
		"S.HexU64=0x1000",
		"S.DecU64=4096",
		"S.SmallU8=200",
		"S.BigForU8=300",
		"S.SomeDuration=250ms",
	})
	if nil != err {
		t.Fatalf("MakeConfMapFromStrings() returned error: %v", err)
	}

	boolYes, err := confMap.FetchOptionValueBool("S", "BoolYes")
	if (nil != err) || !boolYes {
		t.Fatalf("FetchOptionValueBool(\"S\", \"BoolYes\") returned (%v, %v)", boolYes, err)
	}

	boolOff, err := confMap.FetchOptionValueBool("S", "BoolOff")
	if (nil != err) || boolOff {
		t.Fatalf("FetchOptionValueBool(\"S\", \"BoolOff\") returned (%v, %v)", boolOff, err)
	}

	_, err = confMap.FetchOptionValueBool("S", "BoolBad")
	if nil == err {
		t.Fatalf("FetchOptionValueBool(\"S\", \"BoolBad\") should have returned an error")
	}

	hexU64, err := confMap.FetchOptionValueUint64("S", "HexU64")
	if (nil != err) || (0x1000 != hexU64) {
		t.Fatalf("FetchOptionValueUint64(\"S\", \"HexU64\") returned (%v, %v)", hexU64, err)
	}

	decU64, err := confMap.FetchOptionValueUint64("S", "DecU64")
	if (nil != err) || (4096 != decU64) {
		t.Fatalf("FetchOptionValueUint64(\"S\", \"DecU64\") returned (%v, %v)", decU64, err)
	}

	smallU8, err := confMap.FetchOptionValueUint8("S", "SmallU8")
	if (nil != err) || (200 != smallU8) {
		t.Fatalf("FetchOptionValueUint8(\"S\", \"SmallU8\") returned (%v, %v)", smallU8, err)
	}

	_, err = confMap.FetchOptionValueUint8("S", "BigForU8")
	if nil == err {
		t.Fatalf("FetchOptionValueUint8(\"S\", \"BigForU8\") should have returned an error")
	}

	someDuration, err := confMap.FetchOptionValueDuration("S", "SomeDuration")
	if (nil != err) || (250*time.Millisecond != someDuration) {
		t.Fatalf("FetchOptionValueDuration(\"S\", \"SomeDuration\") returned (%v, %v)", someDuration, err)
	}

	_, err = confMap.FetchOptionValueString("S", "MissingOption")
	if nil == err {
		t.Fatalf("FetchOptionValueString(\"S\", \"MissingOption\") should have returned an error")
	}

	_, err = confMap.FetchOptionValueString("MissingSection", "MissingOption")
	if nil == err {
		t.Fatalf("FetchOptionValueString(\"MissingSection\",) should have returned an error")
	}
}

func TestUpdateFromFile(t *testing.T) {
	tempDir, err := ioutil.TempDir("", "conf_test")
	if nil != err {
		t.Fatalf("ioutil.TempDir() returned error: %v", err)
	}
	defer os.RemoveAll(tempDir)

	includedConfFilePath := filepath.Join(tempDir, "included.conf")
	err = ioutil.WriteFile(includedConfFilePath, []byte("[Included]\nOption = 17\n"), 0644)
	if nil != err {
		t.Fatalf("ioutil.WriteFile() returned error: %v", err)
	}

	primaryConfFilePath := filepath.Join(tempDir, "primary.conf")
	primaryConfFileContents := "" +
		"# leading comment\n" +
		"[SectionA]\n" +
		"OptionOne = valueOne ; trailing comment\n" +
		"OptionTwo : two, three\n" +
		"\n" +
		".include included.conf\n" +
		"\n" +
		"[SectionB]\n" +
		"OptionThree = 0x10\n"
	err = ioutil.WriteFile(primaryConfFilePath, []byte(primaryConfFileContents), 0644)
	if nil != err {
		t.Fatalf("ioutil.WriteFile() returned error: %v", err)
	}

	confMap, err := MakeConfMapFromFile(primaryConfFilePath)
	if nil != err {
		t.Fatalf("MakeConfMapFromFile() returned error: %v", err)
	}

	optionOne, err := confMap.FetchOptionValueString("SectionA", "OptionOne")
	if (nil != err) || ("valueOne" != optionOne) {
		t.Fatalf("FetchOptionValueString(\"SectionA\", \"OptionOne\") returned (%v, %v)", optionOne, err)
	}

	optionTwo, err := confMap.FetchOptionValueStringSlice("SectionA", "OptionTwo")
	if (nil != err) || (2 != len(optionTwo)) || ("two" != optionTwo[0]) || ("three" != optionTwo[1]) {
		t.Fatalf("FetchOptionValueStringSlice(\"SectionA\", \"OptionTwo\") returned (%v, %v)", optionTwo, err)
	}

	includedOption, err := confMap.FetchOptionValueUint64("Included", "Option")
	if (nil != err) || (17 != includedOption) {
		t.Fatalf("FetchOptionValueUint64(\"Included\", \"Option\") returned (%v, %v)", includedOption, err)
	}

	optionThree, err := confMap.FetchOptionValueUint64("SectionB", "OptionThree")
	if (nil != err) || (0x10 != optionThree) {
		t.Fatalf("FetchOptionValueUint64(\"SectionB\", \"OptionThree\") returned (%v, %v)", optionThree, err)
	}

	optionlessConfFilePath := filepath.Join(tempDir, "optionless.conf")
	err = ioutil.WriteFile(optionlessConfFilePath, []byte("OptionBeforeSection = true\n"), 0644)
	if nil != err {
		t.Fatalf("ioutil.WriteFile() returned error: %v", err)
	}

	_, err = MakeConfMapFromFile(optionlessConfFilePath)
	if nil == err {
		t.Fatalf("MakeConfMapFromFile() on section-less file should have returned an error")
	}
}
