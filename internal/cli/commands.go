package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/teyyyyy/MedGrab/internal/api"
	"github.com/teyyyyy/MedGrab/internal/domain"
)

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(creditLogCmd)
	rootCmd.AddCommand(versionCmd)

	cancelCmd.Flags().String("nurse", "", "ID of the nurse cancelling")
	cancelCmd.Flags().String("reason", "", "Cancellation reason")
	cancelCmd.Flags().Bool("json", false, "Print the outcome as JSON")
	creditLogCmd.Flags().String("month", "", "Only count cancellations in this month (YYYY-MM)")
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ─── serve ──────────────────────────────────────────────────────────────────

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the suspension sweep",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()
	return app.Serve(ctx)
}

// ─── cancel ─────────────────────────────────────────────────────────────────

var cancelCmd = &cobra.Command{
	Use:   "cancel BOOKING_ID",
	Short: "Cancel a booking on behalf of its nurse",
	Long: `Cancel a booking on behalf of the nurse assigned to it. The nurse is
penalized and the booking is reassigned to another eligible nurse while the
reassignment budget lasts.`,
	Args: cobra.ExactArgs(1),
	RunE: runCancel,
}

func runCancel(cmd *cobra.Command, args []string) error {
	nurseID, _ := cmd.Flags().GetString("nurse")
	reason, _ := cmd.Flags().GetString("reason")
	asJSON, _ := cmd.Flags().GetBool("json")

	app, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	out, err := app.Orchestrator.ProcessCancellation(cmd.Context(), domain.CancellationRequest{
		BookingID: args[0],
		NurseID:   nurseID,
		Reason:    reason,
	})
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if asJSON {
		return printJSON(w, out)
	}
	fmt.Fprintf(w, "Booking %s cancelled (cancellation %d of lineage)\n", out.CancelledBookingID, out.CancellationCount)
	fmt.Fprintf(w, "  Nurse %s: %d -> %d (%+d), %s\n",
		out.PreviousNurse.ID, out.PreviousNurse.PreviousScore, out.PreviousNurse.NewScore,
		out.PreviousNurse.Delta, out.PreviousNurse.Standing)
	if out.Reassigned() {
		fmt.Fprintf(w, "  Reassigned to %s as booking %s\n", out.NewNurseID, out.NewBookingID)
	} else {
		fmt.Fprintf(w, "  Permanently cancelled: %s\n", out.TerminalReason)
	}
	for _, warning := range out.Warnings {
		fmt.Fprintf(w, "  warning: %s\n", warning)
	}
	return nil
}

// ─── sweep ──────────────────────────────────────────────────────────────────

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Apply the suspension policy to every nurse once",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func runSweep(cmd *cobra.Command, args []string) error {
	app, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	rep, err := app.Sweeper.RunOnce(cmd.Context())
	if err != nil {
		return err
	}
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "Checked %d nurses in %s\n", rep.Checked, rep.Duration.Round(time.Millisecond))
	for _, t := range []domain.PolicyTransition{domain.TransitionWarn, domain.TransitionSuspend, domain.TransitionReinstate} {
		if n := rep.Transitions[t]; n > 0 {
			fmt.Fprintf(w, "  %s: %d\n", t, n)
		}
	}
	for _, f := range rep.Failures {
		fmt.Fprintf(w, "  failed: %s\n", f)
	}
	if len(rep.Failures) > 0 {
		return fmt.Errorf("sweep finished with %d failures", len(rep.Failures))
	}
	return nil
}

// ─── credit-log ─────────────────────────────────────────────────────────────

var creditLogCmd = &cobra.Command{
	Use:   "credit-log NURSE_ID",
	Short: "Show a nurse's credit score history",
	Args:  cobra.ExactArgs(1),
	RunE:  runCreditLog,
}

func runCreditLog(cmd *cobra.Command, args []string) error {
	nurseID := args[0]
	month, _ := cmd.Flags().GetString("month")

	app, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer app.Close()

	w := cmd.OutOrStdout()
	if month != "" {
		m, err := time.Parse("2006-01", month)
		if err != nil {
			return fmt.Errorf("month %q must be YYYY-MM", month)
		}
		n, err := app.Ledger.CancellationsInMonth(cmd.Context(), nurseID, m.Year(), m.Month())
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s cancelled %d booking(s) in %s\n", nurseID, n, month)
		return nil
	}

	entries, err := app.Ledger.History(cmd.Context(), nurseID)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintf(w, "No credit history for %s.\n", nurseID)
		return nil
	}
	fmt.Fprintf(w, "Credit history for %s (%d):\n", nurseID, len(entries))
	for _, e := range entries {
		fmt.Fprintf(w, "  %s  %-13s %3d -> %3d (%+d)  %s\n",
			e.Timestamp.Format(time.RFC3339), strings.ToLower(string(e.Kind)),
			e.PreviousScore, e.NewScore, e.Delta, e.Reason)
	}
	return nil
}

// ─── version ────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "medgrab %s\n", api.Version)
	},
}
