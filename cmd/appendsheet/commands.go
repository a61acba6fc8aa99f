package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/locvowork/appendsheet/internal/database"
	"github.com/locvowork/appendsheet/internal/domain"
	"github.com/locvowork/appendsheet/internal/logger"
	"github.com/locvowork/appendsheet/internal/repository"
	"github.com/locvowork/appendsheet/internal/service"
	"github.com/locvowork/appendsheet/pkg/appendsheet"
)

type exportFlags struct {
	templates  []string
	schema     string
	job        string
	output     string
	bufferSize int
	noCoerce   bool
	sqlite     string
	elastic    string
	dsProject  string
}

func newRootCmd() *cobra.Command {
	var logLevel string
	root := &cobra.Command{
		Use:          "appendsheet",
		Short:        "Fill spreadsheet templates with schema-checked data",
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.InitLogging("", logLevel)
		},
	}
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	root.AddCommand(newExportCmd(), newBatchCmd(), newInspectCmd())
	return root
}

func newExportCmd() *cobra.Command {
	var f exportFlags
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Run an export job file and write the workbook",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, f)
		},
	}
	cmd.Flags().StringSliceVarP(&f.templates, "template", "t", nil, "Template .xlsx file (repeatable, order matters)")
	cmd.Flags().StringVarP(&f.schema, "schema", "s", "", "Schema YAML file")
	cmd.Flags().StringVarP(&f.job, "job", "j", "", "Export job file (.json or .yaml)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "out.xlsx", "Output workbook path")
	cmd.Flags().IntVar(&f.bufferSize, "buffer", appendsheet.DefaultBufferSize, "Rows staged per sheet before flushing")
	cmd.Flags().BoolVar(&f.noCoerce, "no-coerce", false, "Do not convert text values to the declared field kind")
	cmd.Flags().StringVar(&f.sqlite, "sqlite", "", "SQLite database for query blocks")
	cmd.Flags().StringVar(&f.elastic, "elastic", "", "Elasticsearch URL for query blocks with source elastic")
	cmd.Flags().StringVar(&f.dsProject, "datastore-project", "", "Datastore project for query blocks with source datastore")
	for _, name := range []string{"template", "schema", "job"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

// buildService loads schema and templates and opens the optional database.
// The returned func releases the database.
func buildService(ctx context.Context, f exportFlags) (*service.ExportService, func(), error) {
	noop := func() {}
	schema, err := appendsheet.LoadSchema(f.schema)
	if err != nil {
		return nil, noop, err
	}
	reg, err := appendsheet.LoadTemplates(f.templates, appendsheet.WithRegistryLogger(logger.Logger()))
	if err != nil {
		return nil, noop, err
	}

	var (
		sources repository.Sources
		closers []func()
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	if f.sqlite != "" {
		db, err := database.NewSQLiteDB(ctx, f.sqlite)
		if err != nil {
			return nil, noop, err
		}
		closers = append(closers, func() { _ = db.Close() })
		sources.SQL = repository.NewBlockRepository(db)
	}
	if f.elastic != "" {
		client, err := database.NewElasticClient(f.elastic)
		if err != nil {
			closeAll()
			return nil, noop, err
		}
		closers = append(closers, client.Stop)
		sources.Elastic = repository.NewSearchRepository(client)
	}
	if f.dsProject != "" {
		client, err := database.NewDatastoreClient(ctx, f.dsProject)
		if err != nil {
			closeAll()
			return nil, noop, err
		}
		closers = append(closers, func() { _ = client.Close() })
		sources.Datastore = repository.NewDatastoreRepository(client)
	}

	var blocks domain.BlockRepository
	if sources != (repository.Sources{}) {
		blocks = repository.NewSourceRouter(sources)
	}
	return service.NewExportService(reg, schema, blocks, f.bufferSize, !f.noCoerce), closeAll, nil
}

func runExport(cmd *cobra.Command, f exportFlags) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, closeDB, err := buildService(ctx, f)
	if err != nil {
		return err
	}
	defer closeDB()

	job, err := service.LoadJobFile(f.job)
	if err != nil {
		return err
	}
	res, err := svc.ExportToFile(ctx, job, f.output)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	for _, sheet := range job.Sheets {
		if rows, ok := res.Sheets[sheet.Name]; ok {
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %d rows\n", sheet.Name, rows)
		}
	}
	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (job %s)\n", f.output, res.JobID)
	return nil
}

func newBatchCmd() *cobra.Command {
	var (
		f       exportFlags
		jobs    []string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Run several job files concurrently into one directory",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			svc, closeDB, err := buildService(ctx, f)
			if err != nil {
				return err
			}
			defer closeDB()

			loaded := make([]*domain.ExportJob, 0, len(jobs))
			for _, path := range jobs {
				job, err := service.LoadJobFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				loaded = append(loaded, job)
			}
			items, err := svc.ExportBatch(ctx, loaded, f.output, workers)
			if err != nil {
				return err
			}
			failed := 0
			for _, it := range items {
				if it.Error != "" {
					failed++
					fmt.Fprintf(cmd.OutOrStdout(), "FAIL %s: %s\n", jobs[it.Index], it.Error)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "ok   %s -> %s\n", jobs[it.Index], it.Path)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d jobs failed", failed, len(items))
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&f.templates, "template", "t", nil, "Template .xlsx file (repeatable, order matters)")
	cmd.Flags().StringVarP(&f.schema, "schema", "s", "", "Schema YAML file")
	cmd.Flags().StringSliceVarP(&jobs, "job", "j", nil, "Export job file (repeatable)")
	cmd.Flags().StringVarP(&f.output, "output", "o", "out", "Output directory")
	cmd.Flags().IntVarP(&workers, "workers", "w", 4, "Jobs run concurrently")
	cmd.Flags().IntVar(&f.bufferSize, "buffer", appendsheet.DefaultBufferSize, "Rows staged per sheet before flushing")
	cmd.Flags().BoolVar(&f.noCoerce, "no-coerce", false, "Do not convert text values to the declared field kind")
	cmd.Flags().StringVar(&f.sqlite, "sqlite", "", "SQLite database for query blocks")
	cmd.Flags().StringVar(&f.elastic, "elastic", "", "Elasticsearch URL for query blocks with source elastic")
	cmd.Flags().StringVar(&f.dsProject, "datastore-project", "", "Datastore project for query blocks with source datastore")
	for _, name := range []string{"template", "schema", "job"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func newInspectCmd() *cobra.Command {
	var templates []string
	cmd := &cobra.Command{
		Use:   "inspect",
		Short: "Print the sections found in templates as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := appendsheet.LoadTemplates(templates, appendsheet.WithRegistryLogger(logger.Logger()))
			if err != nil {
				return err
			}
			svc := service.NewExportService(reg, nil, nil, appendsheet.DefaultBufferSize, false)
			out := struct {
				Sheets     []domain.SheetInfo      `json:"sheets"`
				Collisions []appendsheet.Collision `json:"collisions,omitempty"`
			}{svc.Templates(), reg.Collisions()}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		},
	}
	cmd.Flags().StringSliceVarP(&templates, "template", "t", nil, "Template .xlsx file (repeatable)")
	_ = cmd.MarkFlagRequired("template")
	return cmd
}
