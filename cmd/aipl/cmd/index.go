package cmd

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/index"
	"github.com/AnshuML/Aipl/internal/output"
)

func newRebuildCmd(state *rootState) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "rebuild [department...]",
		Short: "Rebuild department vector indexes",
		Long: `Embed every stored chunk of a department and atomically replace its
vector index. Queries keep using the previous index until the new one is
published. A department without chunks has its index removed.`,
		Example: `  aipl rebuild hr
  aipl rebuild hr finance
  aipl rebuild --all`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 && !all {
				return errors.ValidationError("no department given", nil).
					WithSuggestion("Name one or more departments, or pass --all")
			}
			if len(args) > 0 && all {
				return errors.ValidationError("--all cannot be combined with department names", nil)
			}

			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			start := time.Now()
			if err := svc.RebuildAll(cmd.Context(), args...); err != nil {
				return err
			}
			if all {
				output.New(cmd.OutOrStdout()).Successf("Rebuilt all departments in %s",
					time.Since(start).Round(time.Millisecond))
				return nil
			}
			output.New(cmd.OutOrStdout()).Successf("Rebuilt %d department(s) in %s",
				len(args), time.Since(start).Round(time.Millisecond))
			return nil
		},
	}

	cmd.Flags().BoolVar(&all, "all", false, "Rebuild every known department")

	return cmd
}

func newPurgeCmd(state *rootState) *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:   "purge <department>",
		Short: "Remove a department's index and every stored document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !yes {
				return errors.ValidationError("purge deletes every document in "+args[0], nil).
					WithSuggestion("Re-run with --yes to confirm")
			}

			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			if err := svc.Purge(cmd.Context(), args[0]); err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Purged %s", args[0])
			return nil
		},
	}

	cmd.Flags().BoolVar(&yes, "yes", false, "Confirm the purge")

	return cmd
}

// statusJSON is the JSON form of one department's index state.
type statusJSON struct {
	Department string `json:"department"`
	State      string `json:"state"`
	Rebuilding bool   `json:"rebuilding"`
	Chunks     int    `json:"chunks"`
	Vectors    int    `json:"vectors"`
	Dims       int    `json:"dims,omitempty"`
	Backend    string `json:"backend,omitempty"`
	BuiltAt    string `json:"built_at,omitempty"`
	BuildID    string `json:"build_id,omitempty"`
	Path       string `json:"path"`
	Stale      bool   `json:"stale"`
}

func toStatusJSON(st index.Status) statusJSON {
	s := statusJSON{
		Department: st.Department,
		State:      st.State.String(),
		Rebuilding: st.Rebuilding,
		Chunks:     st.Chunks,
		Vectors:    st.Vectors,
		Dims:       st.Dims,
		Backend:    string(st.Backend),
		BuildID:    st.BuildID,
		Path:       st.Path,
		Stale:      st.Stale,
	}
	if !st.BuiltAt.IsZero() {
		s.BuiltAt = st.BuiltAt.UTC().Format(time.RFC3339)
	}
	return s
}

func newStatusCmd(state *rootState) *cobra.Command {
	var format string

	cmd := &cobra.Command{
		Use:   "status [department]",
		Short: "Show index state for one or every department",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			var statuses []index.Status
			if len(args) == 1 {
				st, err := svc.Status(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				statuses = []index.Status{st}
			} else if statuses, err = svc.Statuses(cmd.Context()); err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if format == "json" {
				rows := make([]statusJSON, len(statuses))
				for i, st := range statuses {
					rows[i] = toStatusJSON(st)
				}
				return out.JSON(rows)
			}

			if len(statuses) == 0 {
				out.Status("", "No departments yet")
				return nil
			}
			rows := make([][]string, len(statuses))
			for i, st := range statuses {
				built := "-"
				if !st.BuiltAt.IsZero() {
					built = st.BuiltAt.Local().Format("2006-01-02 15:04")
				}
				rows[i] = []string{
					st.Department,
					st.State.String(),
					strconv.Itoa(st.Chunks),
					strconv.Itoa(st.Vectors),
					strconv.FormatBool(st.Stale),
					built,
				}
			}
			out.Table([]string{"DEPARTMENT", "STATE", "CHUNKS", "VECTORS", "STALE", "BUILT"}, rows)
			return nil
		},
	}

	cmd.Flags().StringVarP(&format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func newVerifyCmd(state *rootState) *cobra.Command {
	var repair bool

	cmd := &cobra.Command{
		Use:   "verify <department>",
		Short: "Check a department index against stored chunks",
		Long: `Compare the chunk ids recorded in the department's vector index with
the chunks currently stored. With --repair, an inconsistent index is rebuilt.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			result, err := svc.Verify(cmd.Context(), args[0], repair)
			if result == nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if result.Consistent() {
				out.Successf("%s is consistent (%d chunks, %d vectors)",
					result.Department, result.Checked, result.Indexed)
				return err
			}
			for _, inc := range result.Inconsistencies {
				if inc.ChunkID != "" {
					out.Warningf("%s %s: %s", inc.Type, inc.ChunkID, inc.Details)
				} else {
					out.Warningf("%s: %s", inc.Type, inc.Details)
				}
			}
			if err != nil {
				return err
			}
			if repair {
				out.Successf("Rebuilt %s", result.Department)
				return nil
			}
			return errors.New(errors.ErrCodeCorruptIndex,
				fmt.Sprintf("%d inconsistencies found", len(result.Inconsistencies)), nil).
				WithSuggestion(fmt.Sprintf("Run 'aipl verify %s --repair' to rebuild the index", args[0]))
		},
	}

	cmd.Flags().BoolVar(&repair, "repair", false, "Rebuild the index if issues are found")

	return cmd
}
