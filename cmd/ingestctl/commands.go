package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"text/tabwriter"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/feichai0017/tender-ingest/internal/service/ingest"
	"github.com/feichai0017/tender-ingest/pkg/converters"
)

func newFileCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "file <path>",
		Short: "Ingest a single file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer p.Close()

			out := p.Ingest.IngestFile(cmd.Context(), ingest.FileRequest{
				ProjectID:     opts.ProjectID,
				Filename:      filepath.Base(args[0]),
				Path:          args[0],
				LanguageHints: opts.Languages,
				Force:         force,
			})
			if opts.JSON {
				return printJSON(out)
			}
			printOutcome(out, "")
			if out.Status == ingest.OutcomeFailed {
				return fmt.Errorf("%s failed", args[0])
			}
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-embed even if identical bytes are already indexed")
	return cmd
}

func newFolderCmd(opts *globalOptions) *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "folder <dir>",
		Short: "Ingest every file under a folder",
		Example: `  # Ingest a tender package with Arabic and English hints
  ingestctl folder ./tender-042 --project tender-042 --lang en,ar`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer p.Close()

			var (
				mu  sync.Mutex
				bar *progressbar.ProgressBar
			)
			req := ingest.FolderRequest{
				ProjectID:     opts.ProjectID,
				Root:          args[0],
				LanguageHints: opts.Languages,
				Force:         force,
				OnProgress: func(current, total int, filename string, status ingest.OutcomeStatus) {
					if opts.JSON {
						return
					}
					// 回调来自工作池的多个协程
					mu.Lock()
					defer mu.Unlock()
					if bar == nil {
						bar = progressbar.NewOptions(total,
							progressbar.OptionSetDescription("Ingesting"),
							progressbar.OptionShowCount(),
							progressbar.OptionSetWriter(os.Stderr),
							progressbar.OptionSetTheme(progressbar.Theme{
								Saucer:        "=",
								SaucerHead:    ">",
								SaucerPadding: " ",
								BarStart:      "[",
								BarEnd:        "]",
							}),
						)
					}
					bar.Describe(fmt.Sprintf("%-9s %s", status, filename))
					_ = bar.Set(current)
				},
			}
			result, err := p.Ingest.IngestFolder(cmd.Context(), req)
			if bar != nil {
				_ = bar.Finish()
				fmt.Fprintln(os.Stderr)
			}
			if err != nil {
				return err
			}
			if opts.JSON {
				return printJSON(result)
			}
			for _, o := range result.Outcomes {
				printOutcome(o, "")
			}
			fmt.Printf("\n%d files: %d indexed, %d skipped, %d failed, %d cancelled (%s, %d workers)\n",
				result.Total, result.Indexed, result.Skipped, result.Failed, result.Cancelled,
				result.Duration.Round(1e6), result.Workers)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&force, "force", "f", false, "Re-embed files whose bytes are already indexed")
	return cmd
}

func newSearchCmd(opts *globalOptions) *cobra.Command {
	var (
		k        int
		document string
		category string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Top-k similar chunks for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer p.Close()

			hits, err := p.Ingest.Search(cmd.Context(), ingest.SearchRequest{
				ProjectID:  opts.ProjectID,
				DocumentID: document,
				Category:   category,
				Query:      strings.Join(args, " "),
				K:          k,
			})
			if err != nil {
				return err
			}
			results := converters.ToSearchResults(hits)
			if opts.JSON {
				return printJSON(results)
			}
			for i, r := range results {
				fmt.Printf("%2d. %.4f  %s #%d", i+1, r.Score, r.Filename, r.Ordinal)
				if r.PageNumber > 0 {
					fmt.Printf(" p.%d", r.PageNumber)
				}
				fmt.Printf("  [%s]\n    %s\n", r.Category, snippet(r.Text, 160))
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&k, "k", "k", 10, "Number of hits")
	cmd.Flags().StringVar(&document, "document", "", "Restrict to one document id")
	cmd.Flags().StringVar(&category, "category", "", "Restrict to one category (boq, specs, drawings, ...)")
	return cmd
}

func newStatusCmd(opts *globalOptions) *cobra.Command {
	var all bool

	cmd := &cobra.Command{
		Use:   "status [document-id]",
		Short: "Show document statuses of the project, or one document",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := open(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer p.Close()
			ctx := cmd.Context()

			if len(args) == 1 {
				doc, err := p.Store.GetDocument(ctx, args[0])
				if err != nil {
					return err
				}
				n, err := p.Store.CountChunks(ctx, doc.ID)
				if err != nil {
					return err
				}
				return printJSON(converters.ToDocumentView(doc, n, converters.ViewOptions{}))
			}

			docs, err := p.Store.ListDocuments(ctx, opts.ProjectID)
			if err != nil {
				return err
			}
			var views []*converters.StatusView
			for _, d := range docs {
				if all || d.Live() {
					views = append(views, converters.ToStatusView(d))
				}
			}
			if opts.JSON {
				return printJSON(views)
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOCUMENT\tSTATUS\tREASON\tDEGRADED\tFILENAME")
			for _, v := range views {
				fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%s\n", v.DocumentID, v.Status, v.Reason, v.Degraded, v.Filename)
			}
			return w.Flush()
		},
	}
	cmd.Flags().BoolVarP(&all, "all", "a", false, "Include superseded versions")
	return cmd
}

func printOutcome(o ingest.Outcome, indent string) {
	line := fmt.Sprintf("%s%-9s %s", indent, o.Status, o.Path)
	if o.Reason != "" {
		line += " (" + string(o.Reason) + ")"
	}
	if o.Degraded {
		line += " [degraded]"
	}
	if o.Status == ingest.OutcomeFailed && o.Reason == "" && o.Error != "" {
		line += ": " + o.Error
	}
	fmt.Println(line)
	for _, a := range o.Attachments {
		printOutcome(a, indent+"  ")
	}
}

func snippet(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
