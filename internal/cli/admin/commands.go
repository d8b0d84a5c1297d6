package admin

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloo-solutions/agentkb/internal/domain"
	"github.com/cloo-solutions/agentkb/internal/service"
	"github.com/spf13/cobra"
)

// addScopeFlags registers the flags naming the vector owner.
func addScopeFlags(cmd *cobra.Command) {
	cmd.Flags().String("agent", "", "Agent ID owning the vectors")
	cmd.Flags().String("company", "", "Company ID owning the vectors")
	cmd.Flags().StringP("output", "o", "text", "Output format (text or json)")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("company")
}

func scopeFromFlags(cmd *cobra.Command) (domain.Scope, error) {
	agent, _ := cmd.Flags().GetString("agent")
	company, _ := cmd.Flags().GetString("company")
	scope := domain.Scope{AgentID: agent, CompanyID: company}
	return scope, scope.Validate()
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func outputFormat(cmd *cobra.Command) string {
	format, _ := cmd.Flags().GetString("output")
	return format
}

// IngestCmd groups the ingestion commands.
func IngestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest content into an agent's knowledge base",
	}

	cmd.AddCommand(ingestTextCmd())
	cmd.AddCommand(ingestQACmd())
	cmd.AddCommand(ingestURLsCmd())

	return cmd
}

func ingestTextCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "text [file...]",
		Short: "Ingest text, markdown, HTML or PDF files",
		Long:  "Ingest each file as one source. Use - to read text from stdin.",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			title, _ := cmd.Flags().GetString("title")
			category, _ := cmd.Flags().GetString("category")

			raws := make([]service.RawSource, 0, len(args))
			for _, path := range args {
				raw, err := readRawSource(cmd.InOrStdin(), path)
				if err != nil {
					return err
				}
				if title != "" && len(args) == 1 {
					raw.Title = title
				}
				raw.Category = category
				raws = append(raws, raw)
			}

			app, err := LoadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Ingestion.ProcessRaw(cmd.Context(), scope, raws)
			return printIngestion(cmd, result, err)
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().String("title", "", "Title for a single source")
	cmd.Flags().String("category", "", "Category stored with every chunk")
	return cmd
}

// readRawSource turns a path into a raw source. Text files are passed as
// text; anything else goes through document extraction.
func readRawSource(stdin io.Reader, path string) (service.RawSource, error) {
	if path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return service.RawSource{}, fmt.Errorf("failed to read stdin: %w", err)
		}
		return service.RawSource{SourceID: "stdin", Type: domain.SourceTypeText, Text: string(data)}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return service.RawSource{}, fmt.Errorf("failed to read %s: %w", path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".markdown", "":
		return service.RawSource{
			SourceID: path,
			Type:     domain.SourceTypeText,
			Title:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
			Text:     string(data),
		}, nil
	default:
		return service.RawSource{
			SourceID: path,
			Type:     domain.SourceTypeFile,
			FileName: filepath.Base(path),
			Data:     data,
		}, nil
	}
}

func ingestQACmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qa <file.json>",
		Short: "Ingest question and answer pairs",
		Long:  `Ingest a JSON array of {"question", "answer", "title", "id"} objects. Each pair becomes one vector.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			pairs, err := readQAPairs(args[0])
			if err != nil {
				return err
			}

			app, err := LoadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Ingestion.ProcessQAPairs(cmd.Context(), scope, pairs)
			return printIngestion(cmd, result, err)
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func readQAPairs(path string) ([]domain.QAPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var rows []struct {
		ID       string `json:"id"`
		Question string `json:"question"`
		Answer   string `json:"answer"`
		Title    string `json:"title"`
	}
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	pairs := make([]domain.QAPair, 0, len(rows))
	for _, r := range rows {
		pairs = append(pairs, domain.QAPair{ID: r.ID, Question: r.Question, Answer: r.Answer, Title: r.Title})
	}
	return pairs, nil
}

func ingestURLsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "urls <url...>",
		Short: "Crawl pages and ingest their content",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}

			app, err := LoadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			result, err := app.Ingestion.ProcessURLs(cmd.Context(), scope, args)
			return printIngestion(cmd, result, err)
		},
	}
	addScopeFlags(cmd)
	return cmd
}

func printIngestion(cmd *cobra.Command, result *domain.IngestionResult, runErr error) error {
	out := cmd.OutOrStdout()
	if result != nil {
		if outputFormat(cmd) == "json" {
			errs := make([]map[string]string, 0, len(result.Errors))
			for _, e := range result.Errors {
				errs = append(errs, map[string]string{"item": e.Item, "error": e.Error})
			}
			if err := printJSON(out, map[string]interface{}{
				"success":        result.Success,
				"totalItems":     result.TotalItems,
				"totalChunks":    result.TotalChunks,
				"totalVectors":   result.TotalVectors,
				"processingTime": result.ProcessingTime.Milliseconds(),
				"errors":         errs,
			}); err != nil {
				return err
			}
		} else {
			fmt.Fprintf(out, "Ingested %d items: %d chunks, %d vectors in %s\n",
				result.TotalItems, result.TotalChunks, result.TotalVectors, result.ProcessingTime.Round(time.Millisecond))
			for _, e := range result.Errors {
				fmt.Fprintf(out, "  skipped %s: %s\n", e.Item, e.Error)
			}
		}
	}
	if runErr != nil {
		return runErr
	}
	if result != nil && !result.Success {
		return fmt.Errorf("no vectors were stored")
	}
	return nil
}

// SearchCmd runs one semantic search.
func SearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an agent's knowledge base",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			limit, _ := cmd.Flags().GetInt("limit")
			sourceType, _ := cmd.Flags().GetString("source-type")
			category, _ := cmd.Flags().GetString("category")

			input := service.SearchInput{
				Scope:      scope,
				Query:      strings.Join(args, " "),
				Limit:      limit,
				SourceType: domain.SourceType(sourceType),
				Category:   category,
			}
			if cmd.Flags().Changed("threshold") {
				threshold, _ := cmd.Flags().GetFloat64("threshold")
				input.Threshold = &threshold
			}

			app, err := LoadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			out, err := app.Search.Search(cmd.Context(), input)
			if err != nil {
				return err
			}
			return printSearch(cmd, out)
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().IntP("limit", "n", 0, "Maximum number of results (default from config)")
	cmd.Flags().Float64("threshold", 0, "Minimum similarity (default from config)")
	cmd.Flags().String("source-type", "", "Only search one source type (url, file, text, qa)")
	cmd.Flags().String("category", "", "Only search one category")
	return cmd
}

func printSearch(cmd *cobra.Command, out *service.SearchOutput) error {
	w := cmd.OutOrStdout()
	if outputFormat(cmd) == "json" {
		results := make([]map[string]interface{}, 0, len(out.Results))
		for _, r := range out.Results {
			results = append(results, map[string]interface{}{
				"id":         r.ID,
				"content":    r.Content,
				"similarity": r.Similarity,
				"source": map[string]interface{}{
					"type":     r.Source.Type,
					"url":      r.Source.URL,
					"title":    r.Source.Title,
					"category": r.Source.Category,
				},
				"metadata": r.Metadata,
			})
		}
		return printJSON(w, map[string]interface{}{"results": results, "strategy": out.Strategy})
	}

	if len(out.Results) == 0 {
		fmt.Fprintln(w, "No results")
		return nil
	}
	for i, r := range out.Results {
		label := r.Source.Title
		if label == "" {
			label = r.Source.URL
		}
		fmt.Fprintf(w, "%d. [%.3f] %s (%s)\n", i+1, r.Similarity, label, r.Source.Type)
		fmt.Fprintf(w, "   %s\n", preview(r.Content, 160))
	}
	fmt.Fprintf(w, "\nstrategy: %s\n", out.Strategy)
	return nil
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "..."
}

// StatsCmd prints vector statistics for a scope.
func StatsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show vector statistics for an agent",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}

			app, err := LoadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			stats, err := app.Store.GetStats(cmd.Context(), scope)
			if err != nil {
				return err
			}

			w := cmd.OutOrStdout()
			if outputFormat(cmd) == "json" {
				return printJSON(w, map[string]interface{}{
					"totalVectors":       stats.TotalVectors,
					"totalContentLength": stats.TotalContentLength,
					"avgContentLength":   stats.AvgContentLength,
					"sourceTypes":        stats.SourceTypes,
					"categories":         stats.Categories,
					"embeddingDimension": stats.EmbeddingDimension,
				})
			}
			fmt.Fprintf(w, "Vectors:            %d\n", stats.TotalVectors)
			fmt.Fprintf(w, "Content length:     %d (avg %.1f)\n", stats.TotalContentLength, stats.AvgContentLength)
			fmt.Fprintf(w, "Source types:       %v\n", stats.SourceTypes)
			fmt.Fprintf(w, "Categories:         %s\n", strings.Join(stats.Categories, ", "))
			fmt.Fprintf(w, "Embedding dimension: %d\n", stats.EmbeddingDimension)
			return nil
		},
	}
	addScopeFlags(cmd)
	return cmd
}

// ClearCmd deletes vectors for a scope, optionally narrowed by a filter.
func ClearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete an agent's vectors",
		Long:  "Delete every vector of an agent, or only those matching the given filters.",
		RunE: func(cmd *cobra.Command, args []string) error {
			scope, err := scopeFromFlags(cmd)
			if err != nil {
				return err
			}
			sourceType, _ := cmd.Flags().GetString("source-type")
			category, _ := cmd.Flags().GetString("category")
			sourceURL, _ := cmd.Flags().GetString("source-url")
			sourceTitle, _ := cmd.Flags().GetString("source-title")

			filter := domain.VectorFilter{
				SourceType:  domain.SourceType(sourceType),
				Category:    category,
				SourceURL:   sourceURL,
				SourceTitle: sourceTitle,
			}
			if filter.SourceType != "" && !filter.SourceType.IsValid() {
				return domain.ErrInvalidSourceType
			}

			app, err := LoadApp(cmd.Context())
			if err != nil {
				return err
			}
			defer app.Close()

			deleted, err := app.Store.DeleteVectors(cmd.Context(), scope, filter)
			if err != nil {
				return err
			}

			if outputFormat(cmd) == "json" {
				return printJSON(cmd.OutOrStdout(), map[string]int64{"deletedCount": deleted})
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %d vectors\n", deleted)
			return nil
		},
	}
	addScopeFlags(cmd)
	cmd.Flags().String("source-type", "", "Only delete one source type (url, file, text, qa)")
	cmd.Flags().String("category", "", "Only delete one category")
	cmd.Flags().String("source-url", "", "Only delete vectors from this URL")
	cmd.Flags().String("source-title", "", "Only delete vectors with this source title")
	return cmd
}
