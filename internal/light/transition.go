package light

import "time"

// DefaultDimmedLifetime is how long a dimmed level survives a turn-off.
const DefaultDimmedLifetime = 4 * time.Hour

// Env is everything a transition may look at besides the state and input.
type Env struct {
	Baseline       Brightness
	Now            time.Time
	Ladder         Ladder
	DimmedLifetime time.Duration
}

// Transition returns the state that follows s after input in. It has no side
// effects and reads nothing outside its arguments.
func Transition(s State, in Input, env Env) State {
	if in.Kind == InputCustom {
		return Custom(in.ColorTemperature, in.Brightness)
	}

	switch s.Kind {
	case KindOff:
		return fromOff(s, in, env)
	case KindDefault:
		return fromDefault(s, in, env)
	case KindBrightened:
		return fromBrightened(s, in, env)
	case KindDimmed:
		return fromDimmed(s, in, env)
	case KindDimmedOff:
		return fromDimmedOff(s, in, env)
	case KindCustom:
		return fromCustom(s, in)
	}
	return s
}

func fromOff(s State, in Input, env Env) State {
	switch in.Kind {
	case InputTurnOn, InputToggle:
		return Default()
	case InputIncrease:
		return Brightened(env.Ladder.Top())
	case InputDecrease:
		return Dimmed(0)
	case InputReset, InputTurnOff:
		return s
	}
	return s
}

func fromDefault(s State, in Input, env Env) State {
	switch in.Kind {
	case InputDecrease:
		return Dimmed(env.Ladder.Below(env.Baseline))
	case InputIncrease, InputTurnOn:
		return Brightened(env.Ladder.Above(env.Baseline))
	case InputReset:
		return Default()
	case InputToggle, InputTurnOff:
		return Off()
	}
	return s
}

func fromBrightened(s State, in Input, env Env) State {
	level := env.Ladder.Clamp(s.Level)
	switch in.Kind {
	case InputDecrease:
		next := level - 1
		if next < 0 || env.Ladder[next] <= env.Baseline {
			return Default()
		}
		return Brightened(next)
	case InputIncrease, InputTurnOn:
		return Brightened(env.Ladder.Clamp(level + 1))
	case InputReset:
		return Default()
	case InputToggle, InputTurnOff:
		return Off()
	}
	return s
}

func fromDimmed(s State, in Input, env Env) State {
	level := env.Ladder.Clamp(s.Level)
	switch in.Kind {
	case InputIncrease, InputTurnOn:
		next := level + 1
		if next > env.Ladder.Top() || env.Ladder[next] > env.Baseline {
			return Default()
		}
		return Dimmed(next)
	case InputDecrease:
		return Dimmed(env.Ladder.Clamp(level - 1))
	case InputReset:
		return Default()
	case InputToggle, InputTurnOff:
		return DimmedOff(Dimmed(level), env.Now)
	}
	return s
}

func fromDimmedOff(s State, in Input, env Env) State {
	switch in.Kind {
	case InputTurnOn, InputToggle:
		if s.Dimmed == nil || env.Now.Sub(s.OffAt) > env.DimmedLifetime {
			return Default()
		}
		return *s.Dimmed
	case InputIncrease:
		return Brightened(env.Ladder.Top())
	case InputReset:
		return Off()
	case InputDecrease, InputTurnOff:
		return s
	}
	return s
}

func fromCustom(s State, in Input) State {
	switch in.Kind {
	case InputReset:
		return Default()
	case InputTurnOff:
		return Off()
	}
	return s
}
