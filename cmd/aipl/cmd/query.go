package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AnshuML/Aipl/internal/output"
	"github.com/AnshuML/Aipl/internal/retrieve"
	"github.com/AnshuML/Aipl/internal/service"
)

// queryOptions holds CLI flags for query.
type queryOptions struct {
	k      int
	format string // "text", "json"
}

// queryHit is the JSON form of one passage.
type queryHit struct {
	Text    string `json:"text"`
	ChunkID string `json:"chunk_id"`
	Source  string `json:"source"`
}

// queryResult is the JSON form of a retrieval.
type queryResult struct {
	Department  string     `json:"department"`
	Query       string     `json:"query"`
	Passages    []string   `json:"passages"`
	Hits        []queryHit `json:"hits"`
	NoDocuments bool       `json:"no_documents"`
	VectorUsed  bool       `json:"vector_used"`
}

func newQueryCmd(state *rootState) *cobra.Command {
	var opts queryOptions

	cmd := &cobra.Command{
		Use:   "query <department> <question>...",
		Short: "Retrieve passages relevant to a question",
		Long: `Retrieve passages from one department using hybrid retrieval.

The top k keyword (BM25) matches come first, followed by the top k vector
matches, with duplicate passages removed. When the department's index is
missing or out of date, only keyword matches are returned.`,
		Example: `  aipl query hr "how many days of annual leave"
  aipl query finance reimbursement limits -k 5 --format json`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := state.openService()
			if err != nil {
				return err
			}
			defer func() { _ = svc.Close() }()

			return runQuery(cmd.Context(), cmd, svc, args[0], strings.Join(args[1:], " "), opts)
		},
	}

	cmd.Flags().IntVarP(&opts.k, "top-k", "k", 0, "Candidates per ranker (default from config)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")

	return cmd
}

func runQuery(ctx context.Context, cmd *cobra.Command, svc *service.Service, department, question string, opts queryOptions) error {
	start := time.Now()
	result, err := svc.Retrieve(ctx, question, department, opts.k)
	if err != nil {
		return err
	}
	slog.Info("query_complete",
		slog.String("department", department),
		slog.Int("passages", len(result.Passages)),
		slog.Bool("vector_used", result.VectorUsed),
		slog.Int64("duration_ms", time.Since(start).Milliseconds()))

	out := output.New(cmd.OutOrStdout())
	if opts.format == "json" {
		return out.JSON(toQueryResult(department, question, result))
	}

	if result.NoDocuments {
		out.Warningf("No documents stored for %s", department)
		return nil
	}
	if len(result.Hits) == 0 {
		out.Status("", "No matching passages")
		return nil
	}

	out.Header(fmt.Sprintf("%d passages for %q", len(result.Hits), question))
	for i, h := range result.Hits {
		out.Statusf(fmt.Sprintf("%d.", i+1), "[%s] %s", h.Source, h.ChunkID)
		out.Code(h.Text)
	}
	if !result.VectorUsed {
		out.Newline()
		out.Status("", "Keyword matches only. Run 'aipl rebuild "+department+"' to enable vector retrieval")
	}
	return nil
}

func toQueryResult(department, question string, r retrieve.Result) queryResult {
	qr := queryResult{
		Department:  department,
		Query:       question,
		Passages:    r.Passages,
		Hits:        make([]queryHit, len(r.Hits)),
		NoDocuments: r.NoDocuments,
		VectorUsed:  r.VectorUsed,
	}
	if qr.Passages == nil {
		qr.Passages = []string{}
	}
	for i, h := range r.Hits {
		qr.Hits[i] = queryHit{Text: h.Text, ChunkID: h.ChunkID, Source: string(h.Source)}
	}
	return qr
}
