package cli

import (
	"encoding/json"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/resspec/resspec/orchestrator"
)

func newAnalyzeCmd(a *app) *cobra.Command {
	var (
		req    orchestrator.Request
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "analyze <audio>",
		Short: "Run one recording through inference and print the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer stop()

			pool, rs, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			if pool != nil {
				defer pool.Close()
			}

			req.AudioPath = args[0]
			rep, err := a.pipeline(rs, nil).Run(ctx, req)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(rep)
			}
			return renderReport(out, rep)
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.UserID, "user", "", "owner of the analysis")
	f.StringVar(&req.Patient.Name, "patient-name", "", "patient name")
	f.IntVar(&req.Patient.Age, "age", 0, "patient age")
	f.StringVar(&req.Patient.ContactDetails, "contact", "", "patient contact details")
	f.StringVar(&req.Patient.Address, "address", "", "patient address")
	f.StringVar(&req.Patient.Citizenship, "citizenship", "", "patient citizenship")
	f.StringVar(&req.Patient.CivilStatus, "civil-status", "", "patient civil status")
	f.BoolVar(&asJSON, "json", false, "print the full report as JSON")
	return cmd
}
