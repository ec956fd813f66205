package cli

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/resspec/resspec/orchestrator"
	"github.com/resspec/resspec/segments"
	"github.com/resspec/resspec/store"
)

func pct(p segments.Percentage) string {
	if _, ok := p.Value(); !ok {
		return p.String()
	}
	return p.String() + "%"
}

func renderReport(w io.Writer, rep *orchestrator.Report) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)

	fmt.Fprintf(tw, "Analysis\t%s\n", rep.ID)
	if rep.AudioName != "" {
		fmt.Fprintf(tw, "Recording\t%s\n", rep.AudioName)
	}
	if rep.Patient.Name != "" {
		fmt.Fprintf(tw, "Patient\t%s (%d)\n", rep.Patient.Name, rep.Patient.Age)
	}
	fmt.Fprintf(tw, "Created\t%s\n", rep.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(tw, "Detection\t%s\n", rep.Summary.Detection)
	fmt.Fprintf(tw, "Segments\t%d\n", rep.Summary.TotalSegments)
	fmt.Fprintf(tw, "Avg crackles confidence\t%s\n", pct(rep.Summary.AvgCracklesConfidence))
	fmt.Fprintf(tw, "Avg wheezes confidence\t%s\n", pct(rep.Summary.AvgWheezesConfidence))

	r := rep.Ratio
	if r.Total == 0 {
		fmt.Fprintf(tw, "Ratio\tno detections\n")
	} else {
		fmt.Fprintf(tw, "Ratio\tcrackles %.2f%% (%d), wheezes %.2f%% (%d), active %s\n",
			r.CracklesPercentage, r.CracklesCount, r.WheezesPercentage, r.WheezesCount, r.Active)
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	for _, l := range segments.Labels {
		regions := rep.Regions[l]
		fmt.Fprintf(w, "\n%s regions: %d\n", strings.ToUpper(l.String()[:1])+l.String()[1:], len(regions))
		for _, s := range regions {
			conf := s.CracklesConfidence
			if l == segments.Wheezes {
				conf = s.WheezesConfidence
			}
			fmt.Fprintf(w, "  %7.2fs - %7.2fs  %s\n", s.StartTime, s.EndTime, pct(segments.Percent(conf*100)))
		}
	}

	if len(rep.Diagnosis) > 0 {
		fmt.Fprintln(w, "\nDiagnosis:")
		tw = tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		for _, c := range rep.Diagnosis {
			fmt.Fprintf(tw, "  %s\t%.4f\n", c.Name, c.Probability)
		}
		return tw.Flush()
	}
	return nil
}

func renderHistory(w io.Writer, recs []store.Record) error {
	if len(recs) == 0 {
		_, err := fmt.Fprintln(w, "no analyses")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tCREATED\tRECORDING\tPATIENT\tAGE")
	for _, r := range recs {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", r.ID, r.CreatedAt.Format("2006-01-02 15:04"), r.AudioName, r.Patient.Name, r.Patient.Age)
	}
	return tw.Flush()
}
