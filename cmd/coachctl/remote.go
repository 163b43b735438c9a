package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"connectrpc.com/connect"
	"github.com/rs/xid"
	"github.com/spf13/cobra"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/voicetyped/speechcoach/internal/coach"
	"github.com/voicetyped/speechcoach/internal/connectutil"
	"github.com/voicetyped/speechcoach/internal/handler"
	"github.com/voicetyped/speechcoach/internal/metrics"
	"github.com/voicetyped/speechcoach/pkg/events"
	"github.com/voicetyped/speechcoach/pkg/profile"
)

// watchLocal prints a line per metric update of an in-process session.
func watchLocal(ctx context.Context, c *coach.Coach, pub *events.Publisher, id string, out io.Writer) func() {
	subID := "cli-" + xid.New().String()
	ch := pub.SubscribeSession(subID, id, 64)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case env, ok := <-ch:
				if !ok {
					return
				}
				switch env.Type {
				case events.MetricUpdated:
					snap, err := c.Snapshot(id)
					if err != nil {
						return
					}
					_, _ = fmt.Fprintln(out, renderSnapshot(snap))
				case events.AlertRaised:
					var a events.AlertRaisedData
					if json.Unmarshal(env.Data, &a) == nil {
						_, _ = fmt.Fprintln(out, renderAlert(a))
					}
				}
			}
		}
	}()
	return func() { pub.Unsubscribe(subID) }
}

func newSessionsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "sessions",
		Short: "List saved pace sessions from the backend",
		RunE: func(cmd *cobra.Command, _ []string) error {
			resp, err := newAnalysisClient(g).ListPaceSessions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(resp.Sessions) == 0 {
				_, _ = fmt.Fprintln(out, mutedStyle.Render("no sessions"))
				return nil
			}
			for _, raw := range resp.Sessions {
				var s coach.Summary
				if err := json.Unmarshal(raw, &s); err != nil || s.SessionID == "" {
					_, _ = fmt.Fprintln(out, string(raw))
					continue
				}
				_, _ = fmt.Fprintln(out, renderSessionLine(s))
			}
			return nil
		},
	}
}

func newWatchCmd() *cobra.Command {
	var server, token string

	cmd := &cobra.Command{
		Use:   "watch [session-id]",
		Short: "Stream live snapshots from a running speechcoach service",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &structpb.Struct{}
			if len(args) == 1 {
				s, err := structpb.NewStruct(map[string]any{"session_id": args[0]})
				if err != nil {
					return err
				}
				req = s
			}
			client := connect.NewClient[structpb.Struct, structpb.Struct](
				http.DefaultClient, server+handler.WatchSnapshotsProcedure,
				connectutil.DefaultClientOptions()...,
			)
			call := connect.NewRequest(req)
			if token != "" {
				call.Header().Set("Authorization", "Bearer "+token)
			}
			stream, err := client.CallServerStream(cmd.Context(), call)
			if err != nil {
				return err
			}
			defer stream.Close()

			out := cmd.OutOrStdout()
			for stream.Receive() {
				var snap metrics.Snapshot
				if err := handler.FromStruct(stream.Msg(), &snap); err != nil {
					return fmt.Errorf("decode snapshot: %w", err)
				}
				_, _ = fmt.Fprintln(out, renderSnapshot(snap))
			}
			return stream.Err()
		},
	}
	cmd.Flags().StringVar(&server, "server", envOr("SPEECHCOACH_URL", "http://localhost:8080"), "speechcoach service URL")
	cmd.Flags().StringVar(&token, "server-token", "", "bearer token for the speechcoach service")
	return cmd
}

func newProfilesCmd() *cobra.Command {
	var dir string
	cmd := &cobra.Command{
		Use:   "profiles",
		Short: "List coaching profiles",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l := profile.NewLoader(dir)
			if _, err := l.LoadAll(); err != nil {
				return err
			}
			for _, p := range l.List() {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), renderProfile(p))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&dir, "profiles", "", "directory of YAML profiles")
	return cmd
}
