package main

import (
	"encoding/binary"
	"time"
)

// Opcode identifies an rtl_tcp control-channel command (spec.md §3/§6).
type Opcode byte

const (
	OpSetFrequency       Opcode = 1
	OpSetSampleRate      Opcode = 2
	OpSetGainMode        Opcode = 3
	OpSetGain            Opcode = 4
	OpSetFreqCorrection  Opcode = 5
	OpSetIFGain          Opcode = 6
	OpSetTestMode        Opcode = 7
	OpSetAGCMode         Opcode = 8
	OpSetDirectSampling  Opcode = 9
	OpSetOffsetTuning    Opcode = 10
	OpSetRTLXtal         Opcode = 11
	OpSetTunerXtal       Opcode = 12
	OpSetTunerGainByIdx  Opcode = 13
)

// CommandFrameLen is the fixed wire size of a control-channel command:
// one opcode byte plus a big-endian uint32 parameter (spec.md §3).
const CommandFrameLen = 5

// CommandFrame is a parsed 5-byte control-channel command.
type CommandFrame struct {
	Opcode Opcode
	Param  uint32
	Raw    [CommandFrameLen]byte
}

// ParseCommandFrame decodes exactly CommandFrameLen bytes. Callers are
// responsible for buffering partial reads across socket boundaries
// (session.go) — this function never blocks or partially consumes.
func ParseCommandFrame(b []byte) CommandFrame {
	var f CommandFrame
	copy(f.Raw[:], b[:CommandFrameLen])
	f.Opcode = Opcode(b[0])
	f.Param = binary.BigEndian.Uint32(b[1:5])
	return f
}

// decision is the outcome of evaluating the command policy: whether the
// frame may be forwarded upstream, and on a sample-rate change, the new
// rate to apply.
type decision struct {
	allow         bool
	newSampleRate uint32
	sampleRateSet bool
}

// EvaluateCommand applies the command policy from spec.md §4.2. ident is
// the session's admission-order identifier (0 is the first client ever
// accepted); sinceStart is how long the session has existed.
func EvaluateCommand(f CommandFrame, cmdCfg *CommandConfig, ident int64, sinceStart time.Duration) decision {
	cantSetUntil := time.Duration(cmdCfg.ClientCantSetUntil) * time.Second
	exempt := cmdCfg.FirstClientCanSet && ident == 0
	if sinceStart < cantSetUntil && !exempt {
		return decision{allow: false}
	}

	switch f.Opcode {
	case OpSetFrequency:
		for _, r := range cmdCfg.FreqAllowedRanges {
			if f.Param >= r.Lo && f.Param <= r.Hi {
				return decision{allow: true}
			}
		}
		return decision{allow: false}

	case OpSetSampleRate:
		if !cmdCfg.AllowSampleRateSet {
			return decision{allow: false}
		}
		return decision{allow: true, sampleRateSet: true, newSampleRate: f.Param}

	case OpSetGainMode, OpSetGain, OpSetIFGain, OpSetAGCMode, OpSetTunerGainByIdx:
		return decision{allow: cmdCfg.AllowGainSet}

	default:
		// OpSetFreqCorrection, OpSetTestMode, OpSetDirectSampling,
		// OpSetOffsetTuning, OpSetRTLXtal, OpSetTunerXtal, and any
		// unrecognized opcode are always denied (spec.md §4.2.2).
		return decision{allow: false}
	}
}
