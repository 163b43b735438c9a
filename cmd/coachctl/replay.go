package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/voicetyped/speechcoach/internal/analysis"
	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/internal/media"
	"github.com/voicetyped/speechcoach/internal/metrics"
	"github.com/voicetyped/speechcoach/pkg/events"
	"github.com/voicetyped/speechcoach/pkg/profile"
)

func newAnalysisClient(g *globalFlags) *analysis.Client {
	return analysis.NewClient(analysis.Config{
		AnalysisURL: g.analysisURL,
		BackendURL:  g.backendURL,
		Timeout:     5 * time.Second,
		Breaker:     analysis.BreakerConfig{FailureThreshold: 5, ResetTimeout: 30 * time.Second},
	}, analysis.WithTokenSource(analysis.NewStaticToken(g.token)))
}

func newReplayCmd(g *globalFlags) *cobra.Command {
	var (
		profileName string
		profileDir  string
		targetWPM   float64
		speed       float64
		provider    string
		seed        uint64
		save        bool
		live        bool
	)

	cmd := &cobra.Command{
		Use:   "replay <file.wav>",
		Short: "Coach a recorded WAV file as if it were a live microphone",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			profiles := profile.NewLoader(profileDir)
			if _, err := profiles.LoadAll(); err != nil {
				return fmt.Errorf("load profiles: %w", err)
			}
			degraded, err := metrics.Providers.Create(provider, map[string]string{
				"seed": strconv.FormatUint(seed, 10),
			})
			if err != nil {
				return err
			}

			client := newAnalysisClient(g)
			pub := events.NewPublisher(nil, "coachctl", "")
			opts := []coach.Option{coach.WithProvider(degraded), coach.WithPublisher(pub)}
			var saver *coach.Saver
			if save {
				saver = coach.NewSaver(client, coach.NewMemoryDeadLetterStore(), coach.SaverConfig{
					MaxRetries:     3,
					Timeout:        5 * time.Second,
					BackoffInitial: 250 * time.Millisecond,
					BackoffMax:     2 * time.Second,
				}, nil, pub)
				opts = append(opts, coach.WithSaver(saver))
			}

			device := &media.WAVDevice{Path: args[0], Speed: speed}
			c := coach.New(coach.Config{DefaultProfile: profile.ActivityRate}, media.NewAcquirer(device), client, profiles, opts...)

			noVideo := false
			info, err := c.Start(ctx, coach.StartRequest{Profile: profileName, TargetWPM: targetWPM, Video: &noVideo})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, renderHeader(info))

			if live {
				stopWatch := watchLocal(ctx, c, pub, info.ID, out)
				defer stopWatch()
			}

			done, err := c.Done(info.ID)
			if err != nil {
				return err
			}
			select {
			case <-done:
			case <-ctx.Done():
				if _, err := c.Stop(context.WithoutCancel(ctx), info.ID); err != nil {
					return err
				}
			}

			if saver != nil {
				saver.Wait()
			}
			sum, ok := c.LastSummary()
			if !ok {
				return coach.ErrNoSession
			}
			_, _ = fmt.Fprintln(out, renderSummary(sum))
			return nil
		},
	}
	cmd.Flags().StringVarP(&profileName, "profile", "p", "", "coaching profile (default rate)")
	cmd.Flags().StringVar(&profileDir, "profiles", "", "directory of YAML profiles")
	cmd.Flags().Float64Var(&targetWPM, "target", 0, "override the target words per minute")
	cmd.Flags().Float64Var(&speed, "speed", 1, "playback speed multiplier")
	cmd.Flags().StringVar(&provider, "degraded", "random", "degraded-mode provider: random|fixed")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "seed for the random degraded provider")
	cmd.Flags().BoolVar(&save, "save", false, "save the summary to the backend")
	cmd.Flags().BoolVar(&live, "live", true, "print a line per metric update")
	return cmd
}
