package curve

import (
	"fmt"
	"sort"
	"sync"
	"time"

	lua "github.com/yuin/gopher-lua"

	"github.com/dokzlo13/daylightd/internal/weather"
)

// scriptEntry is the Lua function a curve script must define.
const scriptEntry = "points"

// Script is a curve computed by a Lua function:
//
//	function points(w)
//	  return {
//	    {w.day, 0.1},
//	    {w.sunrise, 0.2},
//	    {t = w.midday, v = 1.0},
//	    {w.sunset + 2 * 3600, 0.3},
//	  }
//	end
//
// The weather table holds unix seconds for day (local midnight), sunrise,
// sunset and midday, plus temp_c and clouds. Each returned entry is a
// {time, value} pair, positional or named t/v.
type Script struct {
	name string
	loc  *time.Location

	mu sync.Mutex
	L  *lua.LState
}

// LoadScript runs the file at path and checks that it defines points.
func LoadScript(path string, loc *time.Location) (*Script, error) {
	L := lua.NewState()
	if err := L.DoFile(path); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load curve script %s: %w", path, err)
	}
	return newScript(path, L, loc)
}

// ParseScript is LoadScript for inline source.
func ParseScript(name, source string, loc *time.Location) (*Script, error) {
	L := lua.NewState()
	if err := L.DoString(source); err != nil {
		L.Close()
		return nil, fmt.Errorf("failed to load curve script %s: %w", name, err)
	}
	return newScript(name, L, loc)
}

func newScript(name string, L *lua.LState, loc *time.Location) (*Script, error) {
	if _, ok := L.GetGlobal(scriptEntry).(*lua.LFunction); !ok {
		L.Close()
		return nil, fmt.Errorf("curve script %s does not define function %q", name, scriptEntry)
	}
	if loc == nil {
		loc = time.Local
	}
	return &Script{name: name, loc: loc, L: L}, nil
}

func (s *Script) Points(day time.Time, w weather.Weather) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	local := day.In(s.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, s.loc)

	arg := s.L.NewTable()
	arg.RawSetString("day", lua.LNumber(midnight.Unix()))
	arg.RawSetString("sunrise", lua.LNumber(w.Sunrise.Unix()))
	arg.RawSetString("sunset", lua.LNumber(w.Sunset.Unix()))
	arg.RawSetString("midday", lua.LNumber(w.Midday().Unix()))
	arg.RawSetString("temp_c", lua.LNumber(w.TempC))
	arg.RawSetString("clouds", lua.LNumber(w.Clouds))

	err := s.L.CallByParam(lua.P{
		Fn:      s.L.GetGlobal(scriptEntry),
		NRet:    1,
		Protect: true,
	}, arg)
	if err != nil {
		return nil, fmt.Errorf("curve script %s failed: %w", s.name, err)
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)

	tbl, ok := ret.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("curve script %s returned %s, want table", s.name, ret.Type())
	}

	var out []Sample
	var bad error
	tbl.ForEach(func(_, entry lua.LValue) {
		if bad != nil {
			return
		}
		smp, err := sampleFrom(entry)
		if err != nil {
			bad = fmt.Errorf("curve script %s: %w", s.name, err)
			return
		}
		out = append(out, smp)
	})
	if bad != nil {
		return nil, bad
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("curve script %s returned no points", s.name)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func sampleFrom(entry lua.LValue) (Sample, error) {
	pair, ok := entry.(*lua.LTable)
	if !ok {
		return Sample{}, fmt.Errorf("point is %s, want table", entry.Type())
	}

	at := pair.RawGetString("t")
	if at == lua.LNil {
		at = pair.RawGetInt(1)
	}
	v := pair.RawGetString("v")
	if v == lua.LNil {
		v = pair.RawGetInt(2)
	}

	ts, ok := at.(lua.LNumber)
	if !ok {
		return Sample{}, fmt.Errorf("point time is %s, want number", at.Type())
	}
	val, ok := v.(lua.LNumber)
	if !ok {
		return Sample{}, fmt.Errorf("point value is %s, want number", v.Type())
	}

	sec := float64(ts)
	return Sample{At: time.Unix(int64(sec), 0), Value: float64(val)}, nil
}

// Close releases the Lua state.
func (s *Script) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.L.Close()
}
