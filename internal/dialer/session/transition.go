package session

import "github.com/sebas/dialer/internal/dialer/channel"

// Transition computes the next state and the effects to run for one input.
// It never blocks and never touches a channel. Stale channel events, dial
// results and timer fires leave the state unchanged. Commands that are not
// valid in the current state return a *TransitionError.
func Transition(s State, in Input) (State, []Effect, error) {
	switch in.Kind {
	case InputPlace, InputJoin:
		if s.Status != StatusIdle {
			return s, nil, &TransitionError{From: s.Status, Input: in.Kind, Err: ErrSessionActive}
		}
		next := State{Status: StatusDialingInternal, Mode: ModeOutbound, Generation: s.Generation + 1}
		if in.Kind == InputJoin {
			next.Mode = ModeJoin
		}
		return next, []Effect{{Kind: EffectDialInternal, Leg: channel.KindInternal, Generation: next.Generation}}, nil

	case InputIncoming:
		if s.Status != StatusIdle {
			return s, []Effect{{Kind: EffectRejectIncoming, Leg: in.Leg, ConnID: in.ConnID, Generation: s.Generation}}, nil
		}
		next := State{Status: StatusIncoming, Mode: ModeInbound, Generation: s.Generation + 1}
		next.Legs[in.Leg] = LegState{ConnID: in.ConnID, Live: true}
		return next, nil, nil

	case InputLegPlaced:
		if in.Generation != s.Generation || !s.Status.IsActive() {
			return s, nil, nil
		}
		s.Legs[in.Leg] = LegState{ConnID: in.ConnID, Live: true}
		return s, nil, nil

	case InputLegConnected:
		return connected(s, in)

	case InputLegDisconnected:
		if !s.owns(in.Leg, in.ConnID) {
			return s, nil, nil
		}
		s.Legs[in.Leg].Live = false
		s.Legs[in.Leg].Connected = false
		return legDown(s)

	case InputLegFailed:
		if in.Generation != s.Generation {
			return s, nil, nil
		}
		if in.ConnID != "" && s.Legs[in.Leg].ConnID == in.ConnID {
			s.Legs[in.Leg].Live = false
			s.Legs[in.Leg].Connected = false
		}
		return legDown(s)

	case InputSettleElapsed:
		if in.Generation != s.Generation || !s.SettlePending || s.Status != StatusDialingExternal {
			return s, nil, nil
		}
		s.SettlePending = false
		s.ExternalPlaced = true
		return s, []Effect{{Kind: EffectDialExternal, Leg: channel.KindExternal, Generation: s.Generation}}, nil

	case InputAnswer:
		if s.Status != StatusIncoming {
			return s, nil, &TransitionError{From: s.Status, Input: in.Kind, Err: ErrNotIncoming}
		}
		kind := ringingLeg(s)
		s.Status = StatusConnected
		return s, []Effect{{Kind: EffectAcceptIncoming, Leg: kind, ConnID: s.Legs[kind].ConnID, Generation: s.Generation}}, nil

	case InputDecline:
		if s.Status == StatusIncoming {
			kind := ringingLeg(s)
			s.Status = StatusDisconnected
			return s, []Effect{
				{Kind: EffectRejectIncoming, Leg: kind, ConnID: s.Legs[kind].ConnID, Generation: s.Generation},
				{Kind: EffectScheduleCleanup, Generation: s.Generation},
			}, nil
		}
		return hangup(s, in)

	case InputHangup:
		return hangup(s, in)

	case InputMute:
		if !s.Status.IsActive() {
			return s, nil, &TransitionError{From: s.Status, Input: in.Kind, Err: ErrNoSession}
		}
		s.Legs[in.Leg].Muted = in.Muted
		return s, []Effect{{Kind: EffectMute, Leg: in.Leg, ConnID: s.Legs[in.Leg].ConnID, Generation: s.Generation, Muted: in.Muted}}, nil

	case InputCleanup:
		if in.Generation != s.Generation || s.Status != StatusDisconnected {
			return s, nil, nil
		}
		return State{Status: StatusIdle, Generation: s.Generation}, []Effect{{Kind: EffectNotifyEnded, Generation: s.Generation}}, nil
	}
	return s, nil, nil
}

func connected(s State, in Input) (State, []Effect, error) {
	if !s.owns(in.Leg, in.ConnID) {
		return s, nil, nil
	}
	s.Legs[in.Leg].Connected = true

	switch s.Status {
	case StatusDialingInternal:
		if in.Leg != channel.KindInternal {
			return s, nil, nil
		}
		if s.Mode == ModeJoin {
			s.Status = StatusConnected
			return s, nil, nil
		}
		s.Status = StatusDialingExternal
		s.SettlePending = true
		return s, []Effect{{Kind: EffectScheduleSettle, Generation: s.Generation}}, nil

	case StatusDialingExternal, StatusIncoming:
		s.Status = StatusConnected
		if s.SettlePending {
			s.SettlePending = false
			return s, []Effect{{Kind: EffectCancelSettle, Generation: s.Generation}}, nil
		}
		return s, nil, nil
	}
	return s, nil, nil
}

// legDown tears the whole call down when any leg goes away, and finishes
// cleanup once no leg is live.
func legDown(s State) (State, []Effect, error) {
	if s.Status.IsActive() {
		return teardown(s)
	}
	if s.Status == StatusDisconnected && !s.anyLive() {
		return s, []Effect{{Kind: EffectCleanup, Generation: s.Generation}}, nil
	}
	return s, nil, nil
}

func teardown(s State) (State, []Effect, error) {
	var effects []Effect
	if s.SettlePending {
		s.SettlePending = false
		effects = append(effects, Effect{Kind: EffectCancelSettle, Generation: s.Generation})
	}
	s.Status = StatusDisconnected
	effects = append(effects, Effect{Kind: EffectTerminateAll, Generation: s.Generation})
	if s.anyLive() {
		effects = append(effects, Effect{Kind: EffectScheduleCleanup, Generation: s.Generation})
	} else {
		effects = append(effects, Effect{Kind: EffectCleanup, Generation: s.Generation})
	}
	return s, effects, nil
}

func hangup(s State, in Input) (State, []Effect, error) {
	switch {
	case s.Status.IsActive():
		return teardown(s)
	case s.Status == StatusDisconnected:
		return s, nil, nil
	default:
		return s, nil, &TransitionError{From: s.Status, Input: in.Kind, Err: ErrNoSession}
	}
}

func ringingLeg(s State) channel.Kind {
	if s.Legs[channel.KindExternal].Live {
		return channel.KindExternal
	}
	return channel.KindInternal
}
