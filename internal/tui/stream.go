package tui

import (
	"context"
	"fmt"
	"log/slog"

	tea "charm.land/bubbletea/v2"

	"github.com/koopa0/ragchat/internal/chat"
)

// streamBufferSize is sized for ~1.5s burst at 60 FPS refresh rate.
// This prevents backpressure during UI render delays while keeping
// memory bounded (100 strings ≈ 10KB typical).
const streamBufferSize = 100

// streamEvent is a discriminated union for all stream events.
// Using a single channel with union type simplifies select logic
// and eliminates complex multi-channel closure handling.
type streamEvent struct {
	// Exactly one of these fields is set per event
	text   string       // Answer text chunk (when non-empty)
	status string       // Pipeline phase label (when non-empty, e.g. "Searching documents...")
	result *chat.Result // Final result (when done is true)
	err    error        // Error (when non-nil)
	done   bool         // True when the turn completed successfully
}

// Stream message types for Bubble Tea
type streamStartedMsg struct {
	eventCh <-chan streamEvent
	cancel  context.CancelFunc
}

type streamTextMsg struct {
	text string
}

type streamPhaseMsg struct {
	status string
}

type streamDoneMsg struct {
	result *chat.Result
}

type streamErrorMsg struct {
	err error
}

// startStream creates a command that runs one chat turn.
//
// Goroutine lifecycle: the spawned goroutine exits when:
//  1. The turn completes (result or error from the service)
//  2. Context is canceled (cancel() called)
//
// Channel closure signals completion - no WaitGroup needed.
func (t *TUI) startStream(query string) tea.Cmd {
	return func() tea.Msg {
		eventCh := make(chan streamEvent, streamBufferSize)

		// Create context with timeout to prevent indefinite hangs
		ctx, cancel := context.WithTimeout(t.ctx, streamTimeout)

		go func() {
			// Ensure timer resources are released on all exit paths
			defer cancel()
			// Channel closure signals goroutine completion
			defer close(eventCh)

			// Panic recovery to prevent TUI lockup
			defer func() {
				if r := recover(); r != nil {
					slog.Error("stream panic recovered", "panic", r)
					select {
					case eventCh <- streamEvent{err: fmt.Errorf("stream panic: %v", r)}:
					default:
					}
				}
			}()

			cb := &chat.Callbacks{
				PhaseStart: func(_ chat.Phase, label, detail string) {
					status := label
					if detail != "" {
						status = label + " " + detail
					}
					// Best-effort: a dropped status update must not
					// stall the pipeline goroutine
					select {
					case eventCh <- streamEvent{status: status}:
					default:
					}
				},
				Chunk: func(chunk string, done bool) error {
					// The final result carries the full text; the done
					// marker itself has nothing to display
					if done || chunk == "" {
						return nil
					}
					select {
					case eventCh <- streamEvent{text: chunk}:
						return nil
					case <-ctx.Done():
						// Aborts the stream inside the service
						return ctx.Err()
					}
				},
			}

			res, err := t.svc.Chat(ctx, chat.Request{
				SessionID: t.sessionID,
				Message:   query,
			}, cb)
			if err != nil {
				select {
				case eventCh <- streamEvent{err: err}:
				case <-ctx.Done():
				}
				return
			}

			select {
			case eventCh <- streamEvent{done: true, result: res}:
			case <-ctx.Done():
			}
		}()

		return streamStartedMsg{
			eventCh: eventCh,
			cancel:  cancel,
		}
	}
}

// listenForStream creates a command to wait for the next stream event.
// Uses single union channel - no complex multi-channel select needed.
// Empty events (all fields zero) are skipped via loop instead of recursion
// to prevent stack overflow under pathological conditions.
func listenForStream(eventCh <-chan streamEvent) tea.Cmd {
	return func() tea.Msg {
		if eventCh == nil {
			return nil
		}

		for {
			event, ok := <-eventCh
			if !ok {
				// Channel closed - stream ended
				return streamErrorMsg{err: fmt.Errorf("stream ended without completion signal")}
			}

			// Discriminated union dispatch
			switch {
			case event.err != nil:
				return streamErrorMsg{err: event.err}
			case event.done:
				return streamDoneMsg{result: event.result}
			case event.status != "":
				return streamPhaseMsg{status: event.status}
			case event.text != "":
				return streamTextMsg{text: event.text}
			default:
				// Empty event - loop instead of recursing
				continue
			}
		}
	}
}
