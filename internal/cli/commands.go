// Package cli is the headless operator seat: it runs one campaign from a
// target file against the configured PBX and prints the outcomes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"telecom-dialer/internal/auth"
	"telecom-dialer/internal/bootstrap"
	"telecom-dialer/internal/campaign"
	"telecom-dialer/internal/config"
	"telecom-dialer/internal/dialer"
	"telecom-dialer/internal/rbac"
	"telecom-dialer/internal/telephony"
	"telecom-dialer/pkg/logger"
)

func NewRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "dialer",
		Short: "Sequential dialing campaigns over Asterisk",
		Long: `Run a dialing campaign from a YAML target file on one operator seat.

Connection settings come from the same environment as the API service
(APP_ENV, APP_PORT, JWT_SECRET, AMI_*, DIALER_*, optional DB_*, REDIS_*, MQTT_*).`,
		SilenceUsage: true,
	}

	// Run
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Dial every target in a file, one at a time",
		RunE:  runCampaign,
	}
	runCmd.Flags().StringP("file", "f", "", "Target file (required)")
	runCmd.Flags().Bool("grant-audio", false, "Grant audio permission for this seat")
	runCmd.Flags().String("token", "", "Operator bearer token forwarded to credential issuance")
	runCmd.Flags().BoolP("verbose", "v", false, "Log engine activity to stderr")
	runCmd.MarkFlagRequired("file")

	// Targets
	targetsCmd := &cobra.Command{
		Use:   "targets",
		Short: "Inspect target files",
	}
	targetsCheckCmd := &cobra.Command{
		Use:   "check <file>",
		Short: "Validate a target file and show normalized numbers",
		Args:  cobra.ExactArgs(1),
		RunE:  checkTargets,
	}
	targetsCheckCmd.Flags().StringP("country-code", "c", os.Getenv("DIALER_COUNTRY_CODE"), "Country code for national numbers")
	targetsCmd.AddCommand(targetsCheckCmd)

	// Token
	tokenCmd := &cobra.Command{
		Use:   "token",
		Short: "Issue an operator access token for the API",
		RunE:  issueToken,
	}
	tokenCmd.Flags().StringP("user", "u", "", "Operator user id (required)")
	tokenCmd.Flags().StringP("role", "r", rbac.RoleAgent, "Operator role")
	tokenCmd.Flags().Duration("ttl", 12*time.Hour, "Token lifetime")
	tokenCmd.MarkFlagRequired("user")

	rootCmd.AddCommand(runCmd, targetsCmd, tokenCmd)
	return rootCmd
}

func runCampaign(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("file")
	grant, _ := cmd.Flags().GetBool("grant-audio")
	token, _ := cmd.Flags().GetString("token")
	verbose, _ := cmd.Flags().GetBool("verbose")
	out := cmd.OutOrStdout()

	f, err := campaign.LoadFile(path)
	if err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.NewText(cmd.ErrOrStderr(), verbose)
	st, err := bootstrap.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer st.Close()

	// The loop keeps running after an interrupt so the stop can finish.
	loopCtx, stopLoop := context.WithCancel(context.Background())
	defer stopLoop()
	go func() { _ = st.Engine.Run(loopCtx) }()

	if grant {
		st.Prompter.Report(true)
	}
	if err := st.Engine.RequestAudioPermission(ctx); err != nil {
		return fmt.Errorf("%w (pass --grant-audio)", err)
	}
	if err := st.Engine.InitializeDevice(ctx, token); err != nil {
		return fmt.Errorf("device: %w", err)
	}
	fmt.Fprintln(out, color.GreenString("✓ Device ready on %s", cfg.AMIAddr()))

	snap, err := st.Engine.StartCampaign(ctx, f.Targets, campaign.Options{
		ID:                 f.Campaign,
		DefaultDisposition: f.DefaultDisposition,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Campaign %s: %d targets\n", snap.ID, snap.Total)

	snap, waitErr := waitForCampaign(ctx, st.Engine, time.Second)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if errors.Is(waitErr, errInterrupted) || errors.Is(waitErr, errHalted) {
		if s, err := st.Engine.StopCampaign(shutdownCtx); err == nil {
			snap = s
		}
	}
	if err := st.Engine.Shutdown(shutdownCtx); err != nil {
		color.New(color.FgYellow).Fprintf(out, "! Shutdown incomplete: %v\n", err)
	}

	renderOutcomes(out, snap)
	switch {
	case errors.Is(waitErr, errHalted):
		color.New(color.FgRed).Fprintf(out, "✗ Campaign halted: %s\n", snap.HaltError)
		return waitErr
	case waitErr != nil:
		color.New(color.FgYellow).Fprintf(out, "! Campaign stopped early (%d/%d done)\n", snap.Done(), snap.Total)
		return waitErr
	}
	color.New(color.FgGreen).Fprintf(out, "✓ Campaign finished (%d/%d done)\n", snap.Done(), snap.Total)
	return nil
}

var (
	errInterrupted = errors.New("interrupted")
	errHalted      = errors.New("campaign halted")
)

// waitForCampaign blocks until the campaign finishes, halts on a device
// failure, or ctx is cancelled. The returned snapshot is the latest seen.
func waitForCampaign(ctx context.Context, e *dialer.Engine, poll time.Duration) (campaign.Snapshot, error) {
	waitCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	finished := make(chan campaign.Snapshot, 1)
	go func() {
		if s, err := e.WaitCampaign(waitCtx); err == nil {
			finished <- s
		}
	}()

	tick := time.NewTicker(poll)
	defer tick.Stop()
	var last campaign.Snapshot
	for {
		select {
		case s := <-finished:
			return s, nil
		case <-ctx.Done():
			return last, errInterrupted
		case <-tick.C:
			s, err := e.CampaignSnapshot(ctx)
			if err != nil {
				continue
			}
			last = s
			if s.HaltError != "" {
				return s, errHalted
			}
		}
	}
}

func checkTargets(cmd *cobra.Command, args []string) error {
	cc, _ := cmd.Flags().GetString("country-code")
	out := cmd.OutOrStdout()

	f, err := campaign.LoadFile(args[0])
	if err != nil {
		return err
	}

	table := tablewriter.NewWriter(out)
	table.SetHeader([]string{"#", "ID", "Name", "Phone", "Dials As"})
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	invalid := 0
	for i, t := range f.Targets {
		dials, err := telephony.NormalizeE164(t.Phone, cc)
		if err != nil {
			invalid++
			dials = color.RedString("invalid")
		}
		table.Append([]string{strconv.Itoa(i + 1), t.ID, t.Name, t.Phone, dials})
	}
	table.Render()

	if invalid > 0 {
		color.New(color.FgRed).Fprintf(out, "✗ %d of %d targets will fail without dialing\n", invalid, len(f.Targets))
		return fmt.Errorf("%d invalid targets", invalid)
	}
	color.New(color.FgGreen).Fprintf(out, "✓ %d targets ready\n", len(f.Targets))
	return nil
}

func issueToken(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	role, _ := cmd.Flags().GetString("role")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	if !rbac.Known(role) {
		return fmt.Errorf("unknown role %q", role)
	}
	m, err := auth.NewManager(config.AuthConfig{
		JWTSecret:      os.Getenv("JWT_SECRET"),
		JWTIssuer:      os.Getenv("JWT_ISSUER"),
		JWTAudience:    os.Getenv("JWT_AUDIENCE"),
		AccessTokenTTL: ttl,
	})
	if err != nil {
		return err
	}
	tok, err := m.IssueAccess(time.Now(), user, role)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), tok)
	return nil
}

// renderOutcomes prints one row per target with its terminal status.
func renderOutcomes(w io.Writer, snap campaign.Snapshot) {
	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "ID", "Name", "Phone", "Status", "Call", "Notes"})
	table.SetBorder(true)
	table.SetRowLine(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)

	for i, t := range snap.Targets {
		notes := t.Notes
		if t.Error != "" {
			notes = t.Error
		}
		table.Append([]string{
			strconv.Itoa(i + 1),
			t.ID,
			t.Name,
			t.Phone,
			statusString(t.Status),
			t.CallID,
			notes,
		})
	}
	table.Render()
}

func statusString(s campaign.Status) string {
	switch s {
	case campaign.StatusConnected, campaign.StatusVoicemail:
		return color.GreenString(string(s))
	case campaign.StatusBusy, campaign.StatusNoAnswer, campaign.StatusSkipped:
		return color.YellowString(string(s))
	case campaign.StatusFailed:
		return color.RedString(string(s))
	}
	return string(s)
}
