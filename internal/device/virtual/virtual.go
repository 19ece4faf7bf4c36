// Package virtual provides in-process lights and switches for development
// and for the HTTP switch endpoint.
package virtual

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/daylightd/internal/device"
	"github.com/dokzlo13/daylightd/internal/light"
)

// Light records every command it receives.
type Light struct {
	name string

	mu       sync.RWMutex
	commands []device.Command
	err      error
}

// NewLight creates a virtual light.
func NewLight(name string) *Light {
	return &Light{name: name}
}

func (l *Light) Name() string { return l.name }

func (l *Light) Set(_ context.Context, cmd device.Command) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return l.err
	}
	l.commands = append(l.commands, cmd)
	log.Info().
		Str("device", l.name).
		Float64("brightness", cmd.Brightness.Float64()).
		Int("kelvin", cmd.ColorTemperature.Kelvin()).
		Dur("transition", cmd.Transition).
		Msg("Virtual light set")
	return nil
}

// FailWith makes every following Set return err. Nil restores success.
func (l *Light) FailWith(err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
}

// Last returns the most recent command.
func (l *Light) Last() (device.Command, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if len(l.commands) == 0 {
		return device.Command{}, false
	}
	return l.commands[len(l.commands)-1], true
}

// Commands returns a copy of every command received.
func (l *Light) Commands() []device.Command {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]device.Command(nil), l.commands...)
}

// Switch emits the inputs passed to Press.
type Switch struct {
	name string

	mu        sync.Mutex
	listeners []chan light.Input
}

// NewSwitch creates a virtual switch.
func NewSwitch(name string) *Switch {
	return &Switch{name: name}
}

func (s *Switch) Name() string { return s.name }

func (s *Switch) Inputs(ctx context.Context) (<-chan light.Input, error) {
	ch := make(chan light.Input, 16)

	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, l := range s.listeners {
			if l == ch {
				s.listeners = append(s.listeners[:i], s.listeners[i+1:]...)
				break
			}
		}
		close(ch)
	}()
	return ch, nil
}

// Listeners returns the number of open input streams.
func (s *Switch) Listeners() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners)
}

// Press delivers in to every listener, blocking while a listener is full.
func (s *Switch) Press(ctx context.Context, in light.Input) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	log.Info().Str("switch", s.name).Stringer("input", in).Msg("Virtual switch pressed")
	for _, l := range s.listeners {
		select {
		case l <- in:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

var (
	_ device.Light  = (*Light)(nil)
	_ device.Switch = (*Switch)(nil)
)
