package main

import (
	"math"
	"time"

	"github.com/spf13/cobra"
)

func cursorCmd() *cobra.Command {
	var (
		radius   float64
		centerX  float64
		centerY  float64
		hz       int
		duration time.Duration
		file     string
	)

	cmd := &cobra.Command{
		Use:   "cursor",
		Short: "Drive a cursor around a circle so peers can watch it move",
		RunE: func(cmd *cobra.Command, args []string) error {
			ch, ctx, cancel, err := openChannel(cmd)
			if err != nil {
				return err
			}
			defer cancel()
			defer ch.Close()

			if hz <= 0 {
				hz = 20
			}
			ticker := time.NewTicker(time.Second / time.Duration(hz))
			defer ticker.Stop()

			var deadline <-chan time.Time
			if duration > 0 {
				deadline = time.After(duration)
			}

			start := time.Now()
			sent := 0
			for {
				select {
				case <-ctx.Done():
					info.Fprintf(cmd.OutOrStdout(), "sent %d cursor samples\n", sent)
					return nil
				case <-deadline:
					info.Fprintf(cmd.OutOrStdout(), "sent %d cursor samples\n", sent)
					return nil
				case now := <-ticker.C:
					angle := now.Sub(start).Seconds() * math.Pi / 2
					x := centerX + radius*math.Cos(angle)
					y := centerY + radius*math.Sin(angle)
					if err := ch.SendCursorMove(x, y, file); err != nil {
						warn.Fprintf(cmd.ErrOrStderr(), "cursor not sent: %v\n", err)
						continue
					}
					sent++
				}
			}
		},
	}

	cmd.Flags().Float64Var(&radius, "radius", 200, "circle radius in canvas units")
	cmd.Flags().Float64Var(&centerX, "x", 400, "circle center x")
	cmd.Flags().Float64Var(&centerY, "y", 300, "circle center y")
	cmd.Flags().IntVar(&hz, "hz", 20, "samples per second")
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long, 0 runs until interrupted")
	cmd.Flags().StringVar(&file, "file", "", "report the cursor inside this text file")
	return cmd
}
