package main

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"proofcanvas/application/interpolate"
	"proofcanvas/domain/canvas"
	"proofcanvas/domain/collab"
	"proofcanvas/pkg/frame"
)

var tailedTypes = []collab.MessageType{
	collab.TypePresenceSync,
	collab.TypeUserJoined,
	collab.TypeUserLeft,
	collab.TypeCursorMove,
	collab.TypeSelectionChange,
	collab.TypeDocumentSync,
	collab.TypeDocumentEdit,
	collab.TypeCanvasSync,
	collab.TypeNodeCreate,
	collab.TypeNodeUpdate,
	collab.TypeNodeDelete,
	collab.TypeNodeMove,
	collab.TypeNodesMove,
	collab.TypeEdgeCreate,
	collab.TypeEdgeDelete,
	collab.TypeError,
}

func tailCmd() *cobra.Command {
	var (
		smooth   bool
		maxBytes int
	)

	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Print every envelope relayed in a problem room",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, ctx, cancel, err := openChannel(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer ch.Close()

			out := cmd.OutOrStdout()
			var cursors *cursorBoard
			if smooth {
				loop := frame.NewLoop(60, zap.NewNop())
				defer loop.Stop()
				cursors = newCursorBoard(loop)
				defer cursors.close()
			}

			var mu sync.Mutex
			for _, t := range tailedTypes {
				ch.Subscribe(t, func(env collab.Envelope) {
					if cursors != nil && env.Type == collab.TypeCursorMove {
						var c collab.Cursor
						if env.Decode(&c) == nil {
							cursors.push(env.UserID, canvas.Point{X: c.X, Y: c.Y})
						}
						return
					}
					mu.Lock()
					defer mu.Unlock()
					printEnvelope(out, env, maxBytes)
				})
			}

			brand.Fprintf(out, "tailing %s\n", problemID)
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
					if cursors != nil {
						mu.Lock()
						cursors.print(out)
						mu.Unlock()
					}
				}
			}
		},
	}

	cmd.Flags().BoolVar(&smooth, "smooth", false, "summarize cursors as interpolated positions once a second")
	cmd.Flags().IntVar(&maxBytes, "max-bytes", 160, "truncate payloads longer than this")
	return cmd
}

func typeColor(t collab.MessageType) *color.Color {
	switch {
	case t == collab.TypeError:
		return bad
	case collab.IsMutation(t):
		return warn
	case t == collab.TypeUserJoined || t == collab.TypeUserLeft || t == collab.TypePresenceSync:
		return brand
	}
	return info
}

func printEnvelope(w io.Writer, env collab.Envelope, maxBytes int) {
	data := string(env.Data)
	if maxBytes > 0 && len(data) > maxBytes {
		data = data[:maxBytes] + "..."
	}
	from := env.UserID
	if from == "" {
		from = "relay"
	}
	fmt.Fprintf(w, "%s %-12s %s %s\n",
		subtle.Sprint(env.Time().Format("15:04:05.000")),
		from,
		typeColor(env.Type).Sprintf("%-16s", env.Type),
		data,
	)
}

// cursorBoard keeps one interpolator per remote user
type cursorBoard struct {
	scheduler frame.Scheduler

	mu      sync.Mutex
	cursors map[string]*interpolate.Interpolator
}

func newCursorBoard(scheduler frame.Scheduler) *cursorBoard {
	return &cursorBoard{scheduler: scheduler, cursors: make(map[string]*interpolate.Interpolator)}
}

func (b *cursorBoard) push(userID string, p canvas.Point) {
	b.mu.Lock()
	in, ok := b.cursors[userID]
	if !ok {
		in = interpolate.New(b.scheduler, func(canvas.Point) {}, interpolate.DefaultOptions())
		b.cursors[userID] = in
	}
	b.mu.Unlock()
	in.Push(p)
}

func (b *cursorBoard) print(w io.Writer) {
	b.mu.Lock()
	users := make([]string, 0, len(b.cursors))
	for u := range b.cursors {
		users = append(users, u)
	}
	sort.Strings(users)
	lines := make([]string, 0, len(users))
	for _, u := range users {
		in := b.cursors[u]
		pos, target := in.Position(), in.Target()
		state := "rest"
		if in.Animating() {
			state = "moving"
		}
		lines = append(lines, fmt.Sprintf("  %-12s (%7.1f, %7.1f) -> (%7.1f, %7.1f) %s", u, pos.X, pos.Y, target.X, target.Y, state))
	}
	b.mu.Unlock()

	for _, l := range lines {
		subtle.Fprintln(w, l)
	}
}

func (b *cursorBoard) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, in := range b.cursors {
		in.Dispose()
	}
}
