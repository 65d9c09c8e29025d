package protocol

import (
	"github.com/KevinKickass/OpenMotionCore/internal/machine"
	"github.com/KevinKickass/OpenMotionCore/internal/signals"
	"go.uber.org/zap"
)

const (
	minFeedOverride     = 10
	maxFeedOverride     = 200
	minSpindleOverride  = 10
	maxSpindleOverride  = 200
	overrideCoarseStep  = 10
	overrideFineStep    = 1
	rapidOverrideMedium = 50
	rapidOverrideLow    = 25
)

func clampOverride(v, lo, hi int) uint8 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	return uint8(v)
}

func stepOverride(cur uint8, req signals.Override, reset, coarsePlus, coarseMinus, finePlus, fineMinus signals.Override, def uint8) int {
	v := int(cur)
	if req&reset != 0 {
		v = int(def)
	}
	if req&coarsePlus != 0 {
		v += overrideCoarseStep
	}
	if req&coarseMinus != 0 {
		v -= overrideCoarseStep
	}
	if req&finePlus != 0 {
		v += overrideFineStep
	}
	if req&fineMinus != 0 {
		v -= overrideFineStep
	}
	return v
}

// applyOverrides consumes pending override requests. A request that leaves
// a value unchanged has no effect.
func (e *Executor) applyOverrides() {
	req := e.sys.Signals.TakeOverrides()
	if req == 0 {
		return
	}
	sys := e.sys
	ovr := sys.Overrides

	feed := clampOverride(stepOverride(ovr.Feed, req,
		signals.FeedReset, signals.FeedCoarsePlus, signals.FeedCoarseMinus,
		signals.FeedFinePlus, signals.FeedFineMinus, machine.DefaultFeedOverride),
		minFeedOverride, maxFeedOverride)

	rapid := ovr.Rapid
	if req&signals.RapidReset != 0 {
		rapid = machine.DefaultRapidOverride
	}
	if req&signals.RapidMedium != 0 {
		rapid = rapidOverrideMedium
	}
	if req&signals.RapidLow != 0 {
		rapid = rapidOverrideLow
	}

	if feed != ovr.Feed || rapid != ovr.Rapid {
		sys.Overrides.Feed, sys.Overrides.Rapid = feed, rapid
		e.c.Planner.UpdateOverrides(feed, rapid)
		e.c.Planner.CycleReinitialize()
		e.logger.Debug("Motion override changed",
			zap.Uint8("feed", feed),
			zap.Uint8("rapid", rapid))
	}

	spindle := clampOverride(stepOverride(ovr.Spindle, req,
		signals.SpindleReset, signals.SpindleCoarsePlus, signals.SpindleCoarseMinus,
		signals.SpindleFinePlus, signals.SpindleFineMinus, machine.DefaultSpindleOverride),
		minSpindleOverride, maxSpindleOverride)
	if spindle != ovr.Spindle {
		sys.Overrides.Spindle = spindle
		sys.StepControl |= machine.StepUpdateSpindleSpeed
		e.logger.Debug("Spindle override changed", zap.Uint8("spindle", spindle))
	}

	if req&signals.SpindleStop != 0 && sys.State() == machine.StateHold {
		switch {
		case sys.SpindleStopOvr == 0:
			sys.SpindleStopOvr = machine.SpindleStopInitiate
		case sys.SpindleStopOvr&machine.SpindleStopEnabled != 0:
			sys.SpindleStopOvr |= machine.SpindleStopRestore
		}
	}

	if req&(signals.CoolantFloodToggle|signals.CoolantMistToggle) != 0 {
		state := sys.State()
		if state == machine.StateIdle || state == machine.StateCycle || state == machine.StateHold {
			flood, mist := e.c.Coolant.State()
			if req&signals.CoolantFloodToggle != 0 {
				flood = !flood
			}
			if req&signals.CoolantMistToggle != 0 {
				mist = !mist
			}
			e.c.Coolant.SetState(flood, mist)
		}
	}
}
