package tui

import (
	"context"
	"errors"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// ErrInterrupted is returned by RunWithWork when the user quits early.
var ErrInterrupted = errors.New("interrupted")

// RunWithWork creates a bubbletea program, launches workFn in a goroutine,
// and blocks until the program exits. The context passed to workFn is
// cancelled when the user quits.
func RunWithWork(ctx context.Context, out io.Writer, model ProgressModel, workFn func(ctx context.Context, send func(tea.Msg))) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := tea.NewProgram(model, tea.WithOutput(out), tea.WithContext(ctx))
	finished := make(chan struct{})

	go func() {
		defer close(finished)
		// Let bubbletea start its event loop and render the initial frame.
		time.Sleep(50 * time.Millisecond)

		workFn(ctx, func(msg tea.Msg) {
			p.Send(msg)
			// Small yield so the renderer can draw between bursts of events.
			time.Sleep(2 * time.Millisecond)
		})

		p.Send(WorkDoneMsg{})
	}()

	finalModel, err := p.Run()
	cancel()
	<-finished
	if err != nil && !errors.Is(err, tea.ErrProgramKilled) {
		return err
	}
	if m, ok := finalModel.(ProgressModel); ok {
		if m.Err() != nil {
			return m.Err()
		}
		if m.Interrupted() {
			return ErrInterrupted
		}
	}
	return nil
}
