package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"waiting-client/internal/api"
	"waiting-client/internal/status"
	"waiting-client/models"
	"waiting-client/services"

	"github.com/spf13/cobra"
)

var ownerCmd = &cobra.Command{
	Use:   "owner",
	Short: "Manage a store's waiting list",
}

var ownerWatchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Poll and print the queue until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetInt64("store")

		return withDeps(cmd, func(ctx context.Context, rt *deps) error {
			out := cmd.OutOrStdout()
			opts := []services.ConsoleOption{
				services.WithPollInterval(rt.cfg.OwnerPollInterval),
				services.WithOnSnapshot(func(s models.QueueSnapshot) { printSnapshot(out, s) }),
			}
			if rt.cfg.OwnerPollMaxFailures > 0 {
				opts = append(opts, services.WithPollBreaker(uint32(rt.cfg.OwnerPollMaxFailures), rt.cfg.OwnerPollCooldown))
			}
			console := services.NewOwnerConsole(rt.client, storeID, opts...)

			console.Start(ctx)
			<-ctx.Done()
			console.Stop()

			fmt.Fprintln(out, "\nStopped polling.")
			return nil
		})
	},
}

var ownerAdmitCmd = &cobra.Command{
	Use:   "admit",
	Short: "Admit the first party in line",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetInt64("store")

		return withDeps(cmd, func(ctx context.Context, rt *deps) error {
			console := services.NewOwnerConsole(rt.client, storeID)
			if err := console.AdmitFirst(ctx); err != nil {
				return errors.New(api.Message(err))
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "✓ Admitted the first party")
			if snap, ok := console.Snapshot(); ok {
				printSnapshot(out, snap)
			}
			return nil
		})
	},
}

var ownerClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every party from a rank onwards",
	RunE: func(cmd *cobra.Command, args []string) error {
		storeID, _ := cmd.Flags().GetInt64("store")
		cutline, _ := cmd.Flags().GetInt("cutline")
		yes, _ := cmd.Flags().GetBool("yes")

		return withDeps(cmd, func(ctx context.Context, rt *deps) error {
			out := cmd.OutOrStdout()

			var confirmer services.Confirmer = promptConfirmer(cmd.InOrStdin(), out)
			if yes {
				confirmer = services.ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })
			}

			console := services.NewOwnerConsole(rt.client, storeID, services.WithConfirmer(confirmer))
			err := console.ClearFromRank(ctx, cutline)
			switch {
			case errors.Is(err, status.ErrNotConfirmed):
				fmt.Fprintln(out, "Aborted.")
				return nil
			case err != nil:
				return errors.New(api.Message(err))
			}

			fmt.Fprintf(out, "✓ Cleared from rank %d\n", cutline)
			if snap, ok := console.Snapshot(); ok {
				printSnapshot(out, snap)
			}
			return nil
		})
	},
}

// promptConfirmer asks on out and reads a yes/no answer from in.
func promptConfirmer(in io.Reader, out io.Writer) services.Confirmer {
	reader := bufio.NewReader(in)
	return services.ConfirmFunc(func(ctx context.Context, prompt string) (bool, error) {
		fmt.Fprintf(out, "%s [y/N]: ", prompt)
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return false, err
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	})
}

func printSnapshot(out io.Writer, s models.QueueSnapshot) {
	fmt.Fprintf(out, "%d waiting\n", s.TotalWaitingNumber)
	if len(s.UserIDs) == 0 {
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RANK\tUSER")
	for _, e := range s.UserIDs {
		fmt.Fprintf(w, "%d\t%d\n", e.Rank, e.UserID)
	}
	_ = w.Flush()
}

func init() {
	ownerCmd.AddCommand(ownerWatchCmd)
	ownerCmd.AddCommand(ownerAdmitCmd)
	ownerCmd.AddCommand(ownerClearCmd)

	for _, c := range []*cobra.Command{ownerWatchCmd, ownerAdmitCmd, ownerClearCmd} {
		c.Flags().Int64("store", 0, "store id")
		_ = c.MarkFlagRequired("store")
	}
	ownerClearCmd.Flags().Int("cutline", 0, "first rank to remove")
	ownerClearCmd.Flags().Bool("yes", false, "skip the confirmation prompt")
	_ = ownerClearCmd.MarkFlagRequired("cutline")
}
