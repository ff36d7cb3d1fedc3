package engine

// Stage-control message types (spec §6): arbitrary typed values dispatched
// to TransformStage.ApplyControl by stage key. Each transform declares which
// types it recognizes by type-asserting control in its own ApplyControl.

// TransitionGainControl carries a gain-ramp request to a gain transform.
type TransitionGainControl struct {
	Request GainTransitionRequest
}

// GaplessTrimControl informs the gapless-trim transform of an updated trim
// spec as reported by the decoder, alongside the position at which it took
// effect.
type GaplessTrimControl struct {
	Spec       GaplessTrimSpec
	PositionMs int64
}
