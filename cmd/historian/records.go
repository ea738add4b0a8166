package main

import (
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/kalambet/historian/internal/pipeline"
	"github.com/kalambet/historian/internal/records"
)

// --- timeline ---

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Manage timeline entries",
}

var timelineListCmd = &cobra.Command{
	Use:   "list",
	Short: "List timeline entries in chronological order",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/timeline")
		if err != nil {
			return err
		}
		var entries []records.Timeline
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(entries) == 0 {
			fmt.Fprintln(out, "No timeline entries.")
			return nil
		}
		for _, e := range entries {
			fmt.Fprintf(out, "%s  %-10s  %s\n", colorize(colorCyan, e.ID), e.Label(), e.Title)
		}
		return nil
	},
}

var timelineAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a timeline entry",
	Long: `Add a timeline entry.

Examples:
  historian timeline add --year 44 --era BC --title "Assassination of Caesar" \
    --description "Julius Caesar is killed in the Senate on the Ides of March."`,
	RunE: func(cmd *cobra.Command, args []string) error {
		year, _ := cmd.Flags().GetString("year")
		era, _ := cmd.Flags().GetString("era")
		title, _ := cmd.Flags().GetString("title")
		desc, _ := cmd.Flags().GetString("description")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/timeline", records.TimelineInput{
			Year:        records.YearText(year),
			Era:         records.Era(era),
			Title:       title,
			Description: desc,
		})
		if err != nil {
			return err
		}
		var entry records.Timeline
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		printSuccess("Added %s (%s) as %s", entry.Title, entry.Label(), entry.ID)
		return nil
	},
}

var timelineEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of a timeline entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p records.TimelinePatch
		flags := cmd.Flags()
		if flags.Changed("year") {
			v, _ := flags.GetString("year")
			y := records.YearText(v)
			p.Year = &y
		}
		if flags.Changed("era") {
			v, _ := flags.GetString("era")
			e := records.Era(v)
			p.Era = &e
		}
		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			p.Title = &v
		}
		if flags.Changed("description") {
			v, _ := flags.GetString("description")
			p.Description = &v
		}
		if p == (records.TimelinePatch{}) {
			return fmt.Errorf("nothing to change: pass at least one of --year, --era, --title, --description")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/api/timeline/"+args[0], p)
		if err != nil {
			return err
		}
		var entry records.Timeline
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		printSuccess("Updated %s", entry.ID)
		return nil
	},
}

var timelineRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a timeline entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteRecord(cmd, "/api/timeline/"+args[0], args[0])
	},
}

var timelineReferenceCmd = &cobra.Command{
	Use:   "reference <id>",
	Short: "Show the generated reference for a timeline entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		regenerate, _ := cmd.Flags().GetBool("regenerate")
		return showReference(cmd, records.KindTimeline, args[0], regenerate)
	},
}

var timelineAcceptCmd = &cobra.Command{
	Use:   "accept <id>",
	Short: "Replace an entry's description with the suggested rewrite",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/timeline/"+args[0]+"/reference/accept", nil)
		if err != nil {
			return err
		}
		var entry records.Timeline
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		printSuccess("Description of %s replaced", entry.ID)
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{timelineAddCmd, timelineEditCmd} {
		c.Flags().String("year", "", "year, a positive whole number")
		c.Flags().String("era", "", "BC or AD (default AD)")
		c.Flags().String("title", "", "event title")
		c.Flags().String("description", "", "event description")
	}
	timelineReferenceCmd.Flags().Bool("regenerate", false, "discard the stored reference and generate a new one")

	timelineCmd.AddCommand(timelineListCmd, timelineAddCmd, timelineEditCmd, timelineRmCmd)
	timelineCmd.AddCommand(timelineReferenceCmd, timelineAcceptCmd)
}

// --- learning ---

var learningCmd = &cobra.Command{
	Use:   "learning",
	Short: "Manage history learning records",
}

var learningListCmd = &cobra.Command{
	Use:   "list",
	Short: "List learning records in the order they were added",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/learning")
		if err != nil {
			return err
		}
		var items []records.Learning
		if err := decodeJSON(resp, &items); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if len(items) == 0 {
			fmt.Fprintln(out, "No learning records.")
			return nil
		}
		for _, l := range items {
			mark := " "
			if l.Enriched() {
				mark = colorize(colorGreen, "*")
			}
			fmt.Fprintf(out, "%s %s  %s  %s\n", mark, colorize(colorCyan, l.ID), l.YearRange, l.Title)
		}
		return nil
	},
}

var learningAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Add a learning record",
	Long: `Add a learning record. Facts come from --facts or from a .txt, .md or
.pdf file passed with --facts-file. A reference is generated in the
background once the record is stored.

Examples:
  historian learning add --title "Punic Wars" --year-range "264-146 BC" \
    --facts-file ./punic-wars.pdf`,
	RunE: func(cmd *cobra.Command, args []string) error {
		title, _ := cmd.Flags().GetString("title")
		yearRange, _ := cmd.Flags().GetString("year-range")
		facts, _ := cmd.Flags().GetString("facts")
		factsFile, _ := cmd.Flags().GetString("facts-file")

		if facts != "" && factsFile != "" {
			return fmt.Errorf("use either --facts or --facts-file, not both")
		}
		if factsFile != "" {
			var err error
			if facts, err = readFacts(factsFile); err != nil {
				return err
			}
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/api/learning", records.LearningInput{
			Title:     title,
			YearRange: yearRange,
			Facts:     facts,
		})
		if err != nil {
			return err
		}
		var l records.Learning
		if err := decodeJSON(resp, &l); err != nil {
			return err
		}
		printSuccess("Added %s as %s, reference queued", l.Title, l.ID)
		return nil
	},
}

var learningShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a learning record and its reference",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/api/learning/"+args[0])
		if err != nil {
			return err
		}
		var l records.Learning
		if err := decodeJSON(resp, &l); err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "%s (%s)\n", colorize(colorBold, l.Title), l.YearRange)
		fmt.Fprintf(out, "Added %s\n", l.CreatedAt.Local().Format("2006-01-02 15:04"))
		printSection(out, "Facts", l.Facts)
		if e := l.Enrichment; e != nil {
			printSection(out, "Narrative", e.Narrative)
			printSection(out, "Organized facts", e.OrganizedFacts)
			printSection(out, "Key points", e.KeyPoints)
			printSection(out, "Chronological events", e.ChronologicalEvents)
		} else {
			fmt.Fprintf(out, "\nNo reference yet. Generate one with: historian learning regenerate %s\n", l.ID)
		}
		return nil
	},
}

var learningEditCmd = &cobra.Command{
	Use:   "edit <id>",
	Short: "Change fields of a learning record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var p records.LearningPatch
		flags := cmd.Flags()
		if flags.Changed("title") {
			v, _ := flags.GetString("title")
			p.Title = &v
		}
		if flags.Changed("year-range") {
			v, _ := flags.GetString("year-range")
			p.YearRange = &v
		}
		if flags.Changed("facts") {
			v, _ := flags.GetString("facts")
			p.Facts = &v
		}
		if flags.Changed("facts-file") {
			path, _ := flags.GetString("facts-file")
			v, err := readFacts(path)
			if err != nil {
				return err
			}
			p.Facts = &v
		}
		if p == (records.LearningPatch{}) {
			return fmt.Errorf("nothing to change: pass at least one of --title, --year-range, --facts, --facts-file")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.patch(cmd.Context(), "/api/learning/"+args[0], p)
		if err != nil {
			return err
		}
		var l records.Learning
		if err := decodeJSON(resp, &l); err != nil {
			return err
		}
		printSuccess("Updated %s", l.ID)
		return nil
	},
}

var learningRmCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a learning record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return deleteRecord(cmd, "/api/learning/"+args[0], args[0])
	},
}

var learningRegenerateCmd = &cobra.Command{
	Use:   "regenerate <id>",
	Short: "Generate a fresh reference for a learning record",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return showReference(cmd, records.KindLearning, args[0], true)
	},
}

func init() {
	for _, c := range []*cobra.Command{learningAddCmd, learningEditCmd} {
		c.Flags().String("title", "", "record title")
		c.Flags().String("year-range", "", `period covered, e.g. "264-146 BC"`)
		c.Flags().String("facts", "", "facts as text")
		c.Flags().String("facts-file", "", "read facts from a .txt, .md or .pdf file")
	}

	learningCmd.AddCommand(learningListCmd, learningAddCmd, learningShowCmd)
	learningCmd.AddCommand(learningEditCmd, learningRmCmd, learningRegenerateCmd)
}

// --- shared ---

func deleteRecord(cmd *cobra.Command, path, id string) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}
	resp, err := client.delete(cmd.Context(), path)
	if err != nil {
		return err
	}
	var result struct {
		Deleted bool `json:"deleted"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		return err
	}
	if !result.Deleted {
		printWarning("%s not found, nothing deleted", id)
		return nil
	}
	printSuccess("Deleted %s", id)
	return nil
}

func showReference(cmd *cobra.Command, kind records.Kind, id string, regenerate bool) error {
	client, err := newAPIClient()
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/api/%s/%s/reference", kind, id)
	var resp *http.Response
	if regenerate {
		resp, err = client.post(cmd.Context(), path+"/regenerate", nil)
	} else {
		resp, err = client.get(cmd.Context(), path)
	}
	if err != nil {
		return err
	}
	var out pipeline.Outcome
	if err := decodeJSON(resp, &out); err != nil {
		return err
	}
	return printOutcome(cmd.OutOrStdout(), out)
}

func printOutcome(w io.Writer, out pipeline.Outcome) error {
	switch {
	case out.State == pipeline.StateGenerating:
		printWarning("Reference for %s is still generating, try again shortly", out.RecordID)
		return nil
	case !out.Result.Succeeded:
		return fmt.Errorf("reference generation failed: %s", out.Result.Error)
	}

	r := out.Result
	printSection(w, "Narrative", r.Narrative)
	if out.Kind == records.KindTimeline {
		printSection(w, "Suggested description", r.Rewritten)
	} else {
		printSection(w, "Organized facts", r.Rewritten)
		printSection(w, "Key points", r.KeyPoints)
		printSection(w, "Chronological events", r.ChronologicalEvents)
	}

	src := "generated"
	if out.FromCache {
		src = "stored"
	}
	fmt.Fprintf(w, "\n%s\n", colorize(colorCyan, fmt.Sprintf("(%s reference, model %s)", src, r.Model)))
	return nil
}
