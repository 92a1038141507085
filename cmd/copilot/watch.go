package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/domain"
	"github.com/tupakulamanoj/elastic-contributor-copilot/internal/protocol"
)

var (
	watchServer     string
	watchMode       string
	watchNumber     int
	watchRunID      string
	watchRetries    int
	watchRetryDelay time.Duration
	watchRaw        bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Start or follow a pipeline run",
	Long: `Connect to the pipeline WebSocket and print the run's events.

Either --mode and --number start a new run, or --run-id follows an existing
one. If the connection drops, watch reconnects and resumes after the last
event it printed.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "ws://localhost:8000/ws/pipeline", "Pipeline WebSocket address")
	watchCmd.Flags().StringVar(&watchMode, "mode", "", "Run mode: issue, pr or conflict")
	watchCmd.Flags().IntVar(&watchNumber, "number", 0, "Issue or pull request number")
	watchCmd.Flags().StringVar(&watchRunID, "run-id", "", "Follow an existing run")
	watchCmd.Flags().IntVar(&watchRetries, "retries", 5, "Reconnect attempts before giving up")
	watchCmd.Flags().DurationVar(&watchRetryDelay, "retry-delay", 2*time.Second, "Delay between reconnect attempts")
	watchCmd.Flags().BoolVar(&watchRaw, "raw", false, "Print raw JSON frames")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(_ *cobra.Command, _ []string) error {
	if watchRunID == "" && (watchMode == "" || watchNumber <= 0) {
		return errors.New("either --run-id or both --mode and --number are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := &watcher{
		addr:   watchServer,
		runID:  watchRunID,
		mode:   domain.Mode(watchMode),
		number: watchNumber,
		raw:    watchRaw,
		out:    os.Stdout,
	}

	attempts := 0
	for {
		done, err := w.session(ctx)
		if done {
			return err
		}
		if ctx.Err() != nil {
			return nil
		}
		if w.runID == "" {
			// Nothing to resume yet.
			return err
		}
		attempts++
		if attempts > watchRetries {
			return fmt.Errorf("giving up on run %s after %d reconnects: %w", w.runID, watchRetries, err)
		}
		log.Printf("Connection lost (%v), resuming run %s after seq %d...", err, w.runID, w.next-1)

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(watchRetryDelay):
		}
	}
}

// watcher follows one run across reconnects.
type watcher struct {
	addr   string
	runID  string
	mode   domain.Mode
	number int
	raw    bool
	out    io.Writer

	// next is the first seq not yet printed.
	next int
}

// request builds the opening frame: a resume once the run id is known,
// otherwise a new run.
func (w *watcher) request() protocol.PipelineRequest {
	if w.runID != "" {
		return protocol.PipelineRequest{RunID: w.runID, After: w.next}
	}
	return protocol.PipelineRequest{Mode: string(w.mode), Number: w.number}
}

// session runs one connection. done reports whether the run needs no
// further reconnects.
func (w *watcher) session(ctx context.Context) (bool, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, w.addr, nil)
	if err != nil {
		return false, fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	stopClose := context.AfterFunc(ctx, func() { conn.Close() })
	defer stopClose()

	if err := conn.WriteJSON(w.request()); err != nil {
		return false, fmt.Errorf("write request: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) {
				return false, errors.New("server closed the connection before the run finished")
			}
			return false, err
		}
		done, err := w.handle(data)
		if done || err != nil {
			return true, err
		}
	}
}

// handle prints one frame and reports whether the run is over.
func (w *watcher) handle(data []byte) (bool, error) {
	var base protocol.BaseMessage
	if err := json.Unmarshal(data, &base); err != nil {
		log.Printf("Unmarshal error: %v", err)
		return false, nil
	}
	if w.raw {
		fmt.Fprintln(w.out, string(data))
	}

	switch base.Type {
	case protocol.TypeRunID:
		var ack protocol.RunAck
		if err := json.Unmarshal(data, &ack); err != nil {
			return true, fmt.Errorf("unmarshal ack: %w", err)
		}
		if ack.Status == domain.RunStatusNotFound {
			return true, fmt.Errorf("run %s not found", ack.RunID)
		}
		if w.runID == "" && !w.raw {
			fmt.Fprintf(w.out, "Run %s (%s #%d)\n", ack.RunID, ack.Mode, ack.Number)
		}
		w.runID = ack.RunID
		return false, nil

	case protocol.TypeError:
		var msg protocol.ErrorMessage
		_ = json.Unmarshal(data, &msg)
		return true, fmt.Errorf("request rejected: %s - %s", msg.Code, msg.Message)

	case protocol.TypeRunError:
		var msg protocol.RunErrorMessage
		_ = json.Unmarshal(data, &msg)
		return true, fmt.Errorf("run %s failed: %s", msg.RunID, msg.Error)
	}

	var event domain.Event
	if err := json.Unmarshal(data, &event); err != nil {
		log.Printf("Unmarshal error: %v", err)
		return false, nil
	}
	if event.Seq < w.next {
		// Already printed before the reconnect.
		return false, nil
	}
	w.next = event.Seq + 1
	if !w.raw {
		fmt.Fprintln(w.out, formatEvent(event))
	}
	return event.Type == domain.EventTypeComplete, nil
}

func formatEvent(e domain.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d] %s", e.Seq, e.Type)
	switch e.Type {
	case domain.EventTypeStart:
		fmt.Fprintf(&b, " %s #%d", e.Mode, e.Number)
	case domain.EventTypeAgentStart:
		fmt.Fprintf(&b, " %s: %s", e.Name, e.Reasoning)
	case domain.EventTypeAgentDone:
		fmt.Fprintf(&b, " %s", e.Name)
		if e.DurationMs != nil {
			fmt.Fprintf(&b, " (%dms)", *e.DurationMs)
		}
		if e.Skipped {
			b.WriteString(" skipped")
		}
	case domain.EventTypeAgentError:
		fmt.Fprintf(&b, " %s: %s", e.Name, e.Error)
	case domain.EventTypeLog:
		fmt.Fprintf(&b, " %s", e.Message)
	case domain.EventTypeFinalReport:
		fmt.Fprintf(&b, " %s\n\n%s\n", e.Title, e.Content)
	case domain.EventTypeComplete:
		if e.Success != nil {
			fmt.Fprintf(&b, " success=%t", *e.Success)
		}
		if e.TotalTimeMs != nil {
			fmt.Fprintf(&b, " total=%dms", *e.TotalTimeMs)
		}
	}
	return b.String()
}
