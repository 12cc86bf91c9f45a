package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func baseCommandConfig() *CommandConfig {
	return &CommandConfig{
		FreqAllowedRanges:  []FreqRange{{Lo: 24000000, Hi: 1766000000}},
		AllowGainSet:       true,
		AllowSampleRateSet: true,
		FirstClientCanSet:  true,
		ClientCantSetUntil: 5,
	}
}

func frame(op Opcode, param uint32) CommandFrame {
	f := CommandFrame{Opcode: op, Param: param}
	f.Raw[0] = byte(op)
	putU32(f.Raw[1:], param)
	return f
}

func TestEvaluateCommand_FrequencyBoundaries(t *testing.T) {
	cfg := baseCommandConfig()
	d := EvaluateCommand(frame(OpSetFrequency, 24000000), cfg, 1, 10*time.Second)
	require.True(t, d.allow)

	d = EvaluateCommand(frame(OpSetFrequency, 1766000000), cfg, 1, 10*time.Second)
	require.True(t, d.allow)

	d = EvaluateCommand(frame(OpSetFrequency, 23999999), cfg, 1, 10*time.Second)
	require.False(t, d.allow)

	d = EvaluateCommand(frame(OpSetFrequency, 1766000001), cfg, 1, 10*time.Second)
	require.False(t, d.allow)
}

func TestEvaluateCommand_TimeGate(t *testing.T) {
	cfg := baseCommandConfig()

	// Non-first client, too soon: denied regardless of opcode.
	d := EvaluateCommand(frame(OpSetFrequency, 100000000), cfg, 1, 1*time.Second)
	require.False(t, d.allow)

	// Non-first client, past the gate: evaluated normally.
	d = EvaluateCommand(frame(OpSetFrequency, 100000000), cfg, 1, 6*time.Second)
	require.True(t, d.allow)

	// First client is exempt from the gate even immediately after connecting.
	d = EvaluateCommand(frame(OpSetFrequency, 100000000), cfg, 0, 0)
	require.True(t, d.allow)
}

func TestEvaluateCommand_FirstClientExemptionDisabled(t *testing.T) {
	cfg := baseCommandConfig()
	cfg.FirstClientCanSet = false

	d := EvaluateCommand(frame(OpSetFrequency, 100000000), cfg, 0, 0)
	require.False(t, d.allow)
}

func TestEvaluateCommand_SampleRate(t *testing.T) {
	cfg := baseCommandConfig()
	d := EvaluateCommand(frame(OpSetSampleRate, 2400000), cfg, 0, 10*time.Second)
	require.True(t, d.allow)
	require.True(t, d.sampleRateSet)
	require.Equal(t, uint32(2400000), d.newSampleRate)

	cfg.AllowSampleRateSet = false
	d = EvaluateCommand(frame(OpSetSampleRate, 2400000), cfg, 0, 10*time.Second)
	require.False(t, d.allow)
}

func TestEvaluateCommand_GainFamily(t *testing.T) {
	cfg := baseCommandConfig()
	for _, op := range []Opcode{OpSetGainMode, OpSetGain, OpSetIFGain, OpSetAGCMode, OpSetTunerGainByIdx} {
		d := EvaluateCommand(frame(op, 0), cfg, 0, 10*time.Second)
		require.True(t, d.allow, "opcode %d", op)
	}

	cfg.AllowGainSet = false
	for _, op := range []Opcode{OpSetGainMode, OpSetGain, OpSetIFGain, OpSetAGCMode, OpSetTunerGainByIdx} {
		d := EvaluateCommand(frame(op, 0), cfg, 0, 10*time.Second)
		require.False(t, d.allow, "opcode %d", op)
	}
}

func TestEvaluateCommand_AlwaysDenied(t *testing.T) {
	cfg := baseCommandConfig()
	for _, op := range []Opcode{
		OpSetFreqCorrection, OpSetTestMode, OpSetDirectSampling,
		OpSetOffsetTuning, OpSetRTLXtal, OpSetTunerXtal, Opcode(99),
	} {
		d := EvaluateCommand(frame(op, 0), cfg, 0, 10*time.Second)
		require.False(t, d.allow, "opcode %d", op)
	}
}

func TestParseCommandFrame_RoundTrip(t *testing.T) {
	raw := [CommandFrameLen]byte{byte(OpSetFrequency), 0x00, 0x2d, 0xc6, 0xc0}
	f := ParseCommandFrame(raw[:])
	require.Equal(t, OpSetFrequency, f.Opcode)
	require.Equal(t, uint32(3000000), f.Param)
	require.Equal(t, raw, f.Raw)
}
