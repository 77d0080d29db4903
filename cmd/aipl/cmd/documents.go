package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnshuML/Aipl/internal/errors"
	"github.com/AnshuML/Aipl/internal/output"
)

func newAddCmd(state *rootState) *cobra.Command {
	var rebuild bool

	cmd := &cobra.Command{
		Use:   "add <department> <file>...",
		Short: "Add or replace documents in a department",
		Long: `Extract text from each file and store it under the file's base name.
A document with the same name is replaced.

Supported formats: .txt, .md and .pdf. The department's vector index is
not rebuilt unless --rebuild is given, so keyword retrieval sees the new
text immediately and vector retrieval after the next rebuild.`,
		Example: `  aipl add hr leave-policy.pdf
  aipl add finance q1.md q2.md --rebuild`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			out := output.New(cmd.OutOrStdout())
			added, err := svc.AddFiles(cmd.Context(), args[0], args[1:], rebuild)
			for _, id := range added {
				out.Successf("Added %s", id)
			}
			if len(added) > 0 && !rebuild {
				out.Statusf("", "Run 'aipl rebuild %s' to refresh the vector index", args[0])
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&rebuild, "rebuild", false, "Rebuild the department index after adding")

	return cmd
}

func newIngestCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <department> <dir>",
		Short: "Bulk-load a directory of documents and rebuild the index",
		Long: `Store every supported file directly inside <dir> and rebuild the
department index once. Unsupported and unreadable files are reported and
skipped.`,
		Example: `  aipl ingest hr ./policies/hr`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			report, err := svc.IngestDir(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			for _, s := range report.Skipped {
				out.Warningf("Skipped %s: %s", s.Path, s.Reason)
			}
			out.Successf("Ingested %d documents into %s in %s",
				len(report.Added), report.Department, report.Duration.Round(time.Millisecond))
			return nil
		},
	}
}

func newDeleteCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:     "delete <department> <doc-id>",
		Short:   "Delete a document and rebuild the index",
		Example: `  aipl delete hr leave-policy.pdf`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			existed, err := svc.DeleteDocument(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			if !existed {
				return errors.NotFoundError("document not found", nil).
					WithDetail("department", args[0]).
					WithDetail("doc_id", args[1]).
					WithSuggestion(fmt.Sprintf("Run 'aipl list %s' to see stored documents", args[0]))
			}
			output.New(cmd.OutOrStdout()).Successf("Deleted %s from %s", args[1], args[0])
			return nil
		},
	}
}

func newListCmd(state *rootState) *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list <department>",
		Short: "List documents stored for a department",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			docs, err := svc.ListDocuments(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if jsonOutput {
				if docs == nil {
					docs = []string{}
				}
				return out.JSON(docs)
			}
			if len(docs) == 0 {
				out.Statusf("", "No documents in %s", args[0])
				return nil
			}
			for _, d := range docs {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")

	return cmd
}

func newDepartmentsCmd(state *rootState) *cobra.Command {
	return &cobra.Command{
		Use:   "departments",
		Short: "List departments with stored documents or an index",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			depts, err := svc.Departments(cmd.Context())
			if err != nil {
				return err
			}

			out := output.New(cmd.OutOrStdout())
			if len(depts) == 0 {
				out.Status("", "No departments yet. Run 'aipl add <department> <file>' to create one")
				return nil
			}
			for _, d := range depts {
				fmt.Fprintln(cmd.OutOrStdout(), d)
			}
			return nil
		},
	}
}
