package coinrank

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gdamore/tcell/v2"
)

// ErrInterrupted is the cancellation cause when the user quits the live view.
var ErrInterrupted = errors.New("interrupted by user")

// ScreenTracer draws the ranking live in the terminal while a search runs.
type ScreenTracer struct {
	NopTracer

	screen tcell.Screen
	budget int
	used   int
	// Pause holds each refinement frame, and the final one, on screen; zero
	// draws as fast as the search runs.
	Pause time.Duration

	mu     sync.Mutex
	done   <-chan struct{}
	cancel context.CancelCauseFunc
}

// OpenScreenTracer takes over the terminal. Call Close to restore it.
func OpenScreenTracer() (*ScreenTracer, error) {
	screen, err := tcell.NewScreen()
	if err != nil {
		return nil, fmt.Errorf("failed to create screen: %w", err)
	}
	if err := screen.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize screen: %w", err)
	}
	return NewScreenTracer(screen), nil
}

// NewScreenTracer draws on an already initialised screen.
func NewScreenTracer(screen tcell.Screen) *ScreenTracer {
	return &ScreenTracer{screen: screen}
}

// Watch handles terminal events until the screen is closed. Ctrl+C, Esc or
// q cancel the returned context with ErrInterrupted; resizes redraw the
// screen. Pass the context to the search so it stops on request.
func (s *ScreenTracer) Watch(ctx context.Context) context.Context {
	ctx, cancel := context.WithCancelCause(ctx)
	s.mu.Lock()
	s.done = ctx.Done()
	s.cancel = cancel
	s.mu.Unlock()

	screen := s.screen
	if screen == nil {
		return ctx
	}
	go func() {
		for {
			ev := screen.PollEvent()
			if ev == nil {
				// Screen was finalized
				return
			}
			switch ev := ev.(type) {
			case *tcell.EventKey:
				if ev.Key() == tcell.KeyCtrlC || ev.Key() == tcell.KeyEscape || ev.Rune() == 'q' {
					cancel(ErrInterrupted)
				}
			case *tcell.EventResize:
				screen.Sync()
			}
		}
	}()
	return ctx
}

// Close restores the terminal and stops the event loop started by Watch.
func (s *ScreenTracer) Close() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel(context.Canceled)
	}
	if s.screen != nil {
		s.screen.Fini()
		s.screen = nil
	}
}

// hold keeps the current frame for Pause, returning early once the watched
// context is done.
func (s *ScreenTracer) hold() {
	if s.Pause <= 0 {
		return
	}
	s.mu.Lock()
	done := s.done
	s.mu.Unlock()

	t := time.NewTimer(s.Pause)
	defer t.Stop()
	select {
	case <-t.C:
	case <-done:
	}
}

func (s *ScreenTracer) Start(_, budget, _ int) {
	s.budget = budget
	s.used = 0
}

func (s *ScreenTracer) Observed(o Observation) {
	s.used = o.Number
}

func (s *ScreenTracer) Refining(step RefineStep) {
	if s.screen == nil {
		return
	}
	header := fmt.Sprintf("STEP %d | Used: %d/%d | Remaining: %d | Focus: %v",
		step.Step, s.used, s.budget, step.Remaining, step.Focus)
	s.render(header, step.Top, step.Focus)
	s.hold()
}

func (s *ScreenTracer) Finalized(ranking []Entry, answer int, found bool) {
	if s.screen == nil {
		return
	}
	header := fmt.Sprintf("FINAL | Used: %d/%d | Answer: none", s.used, s.budget)
	if found {
		header = fmt.Sprintf("FINAL | Used: %d/%d | Answer: coin #%02d", s.used, s.budget, answer)
	}
	s.render(header, ranking, nil)
	s.hold()
}

func (s *ScreenTracer) render(header string, rows []Entry, focus []int) {
	s.screen.Clear()
	width, height := s.screen.Size()

	headerStyle := tcell.StyleDefault.Foreground(tcell.ColorWhite).Bold(true)
	s.writeString(0, 0, header, headerStyle)
	s.writeString(0, 1, strings.Repeat("-", width), tcell.StyleDefault.Foreground(tcell.ColorGray))

	inFocus := make(map[int]bool, len(focus))
	for _, i := range focus {
		inFocus[i] = true
	}

	barWidth := max(0, width-48)
	for pos, e := range rows {
		row := pos + 2
		if row >= height {
			break
		}
		style := tcell.StyleDefault
		switch {
		case pos == targetRank:
			style = style.Foreground(tcell.ColorGreen).Bold(true)
		case inFocus[e.Source]:
			style = style.Foreground(tcell.ColorYellow)
		}
		line := fmt.Sprintf("%2d) coin #%02d  n=%-4d p^=%.3f |p^-0.5|=%.3f ",
			pos+1, e.Source, e.Trials, e.Estimate, e.Distance)
		s.writeString(0, row, line, style)

		// Longer bars are farther from 0.5.
		bar := int(e.Distance * 2 * float64(barWidth))
		s.writeString(len(line), row, strings.Repeat("█", min(bar, barWidth)), style)
	}

	s.screen.Show()
}

func (s *ScreenTracer) writeString(x, y int, str string, style tcell.Style) {
	i := 0
	for _, ch := range str {
		s.screen.SetContent(x+i, y, ch, nil, style)
		i++
	}
}
