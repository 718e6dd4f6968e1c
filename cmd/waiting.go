package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"

	"waiting-client/internal/api"
	"waiting-client/internal/channel"
	"waiting-client/models"
	"waiting-client/services"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether you are waiting at a store",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetInt64("store")

		return withDeps(cmd, func(ctx context.Context, rt *deps) error {
			st, err := rt.client.WaitingStatus(ctx, storeID)
			if err != nil {
				return errors.New(api.Message(err))
			}
			printSession(cmd.OutOrStdout(), models.WaitingSession{
				StoreID:   storeID,
				IsWaiting: st.IsWaiting,
				Rank:      st.Rank,
			})
			return nil
		})
	},
}

var joinCmd = &cobra.Command{
	Use:   "join",
	Short: "Join a store's waiting list and follow your rank",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetInt64("store")
		return followWaiting(cmd, storeID, func(ctx context.Context, c *services.WaitingController) error {
			return c.Join(ctx, storeID)
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Follow your rank if you are already waiting",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetInt64("store")
		return followWaiting(cmd, storeID, func(ctx context.Context, c *services.WaitingController) error {
			return c.CheckInitialStatus(ctx, storeID)
		})
	},
}

var cancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Leave a store's waiting list",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetInt64("store")

		return withDeps(cmd, func(ctx context.Context, rt *deps) error {
			out := cmd.OutOrStdout()
			ctrl := services.NewWaitingController(rt.client, channel.New(rt.transport()), rt.creds,
				services.WithOnNotice(func(n services.Notice) { fmt.Fprintln(out, n.Message) }),
			)
			defer ctrl.Close()

			if err := ctrl.Cancel(ctx, storeID); err != nil {
				return errors.New(api.Message(err))
			}
			return nil
		})
	},
}

// followWaiting runs start on a fresh controller and prints rank changes
// until the waiting ends or the process is interrupted.
func followWaiting(cmd *cobra.Command, storeID int64, start func(context.Context, *services.WaitingController) error) error {
	return withDeps(cmd, func(ctx context.Context, rt *deps) error {
		out := cmd.OutOrStdout()
		ended := make(chan services.Notice, 1)

		ctrl := services.NewWaitingController(rt.client, channel.New(rt.transport()), rt.creds,
			services.WithOnChange(func(s models.WaitingSession) { printSession(out, s) }),
			services.WithOnNotice(func(n services.Notice) {
				fmt.Fprintln(out, n.Message)
				select {
				case ended <- n:
				default:
				}
			}),
		)
		defer ctrl.Close()

		if err := start(ctx, ctrl); err != nil {
			return errors.New(api.Message(err))
		}
		if !ctrl.Session().IsWaiting {
			fmt.Fprintf(out, "Not waiting at store %d.\n", storeID)
			return nil
		}

		select {
		case <-ctx.Done():
			fmt.Fprintln(out, "\nStopped watching. You are still in the waiting list.")
		case n := <-ended:
			if n.Kind == services.NoticeDisconnected {
				fmt.Fprintf(out, "Run `waitingctl watch --store %d` to check again.\n", storeID)
			}
		}
		return nil
	})
}

func printSession(out io.Writer, s models.WaitingSession) {
	switch {
	case !s.IsWaiting:
		fmt.Fprintf(out, "Not waiting at store %d.\n", s.StoreID)
	case s.Rank == nil:
		fmt.Fprintf(out, "Waiting at store %d.\n", s.StoreID)
	case *s.Rank == 1:
		fmt.Fprintf(out, "Waiting at store %d: you are next!\n", s.StoreID)
	default:
		fmt.Fprintf(out, "Waiting at store %d: rank %d.\n", s.StoreID, *s.Rank)
	}
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, joinCmd, watchCmd, cancelCmd} {
		c.Flags().Int64("store", 0, "store id")
		_ = c.MarkFlagRequired("store")
	}
}
