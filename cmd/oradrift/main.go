package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/oradrift/oradrift/internal/audit"
	"github.com/oradrift/oradrift/internal/checkpoint"
	"github.com/oradrift/oradrift/internal/config"
	"github.com/oradrift/oradrift/internal/logging"
	"github.com/oradrift/oradrift/internal/progress"
	"github.com/oradrift/oradrift/internal/service"
	"github.com/oradrift/oradrift/internal/util"
	"github.com/oradrift/oradrift/internal/version"

	_ "github.com/oradrift/oradrift/internal/driver/mssql"
	_ "github.com/oradrift/oradrift/internal/driver/oracle"
	_ "github.com/oradrift/oradrift/internal/driver/postgres"
)

func main() {
	app := &cli.App{
		Name:    version.Name,
		Usage:   version.Description,
		Version: version.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Value:   "config.yaml",
				Usage:   "Path to configuration file",
			},
			&cli.BoolFlag{
				Name:  "quiet",
				Usage: "Suppress the progress bar",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "Start a new migration",
				Action: runMigration,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "source-schema",
						Usage: "Source schema name",
					},
					&cli.StringFlag{
						Name:  "target-schema",
						Usage: "Target schema name",
					},
					&cli.IntFlag{
						Name:  "workers",
						Usage: "Number of parallel workers",
					},
					&cli.BoolFlag{
						Name:  "schema-only",
						Usage: "Translate and apply schema without moving data",
					},
					&cli.StringFlag{
						Name:  "tables",
						Usage: "Comma-separated list of tables to migrate (default: all)",
					},
				},
			},
			{
				Name:   "resume",
				Usage:  "Resume the last interrupted migration",
				Action: resumeMigration,
			},
			{
				Name:      "status",
				Usage:     "Show status of a job (default: most recent)",
				ArgsUsage: "[job-id]",
				Action:    showStatus,
			},
			{
				Name:      "cancel",
				Usage:     "Mark an interrupted job cancelled",
				ArgsUsage: "job-id",
				Action:    cancelJob,
			},
			{
				Name:      "validate",
				Usage:     "Re-check row counts between source and target for a finished job",
				ArgsUsage: "[job-id]",
				Action:    validateJob,
			},
			{
				Name:   "history",
				Usage:  "List all migration jobs",
				Action: showHistory,
			},
			{
				Name:      "audit",
				Usage:     "Show the audit trail for a job",
				ArgsUsage: "job-id",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "table",
						Usage: "Only entries for this table",
					},
					&cli.StringFlag{
						Name:  "action",
						Usage: "Only entries with this action",
					},
					&cli.IntFlag{
						Name:  "limit",
						Usage: "Maximum number of entries",
					},
				},
				Action: showAudit,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

// newEngine loads configuration, applies flag overrides, configures logging
// and opens the state store.
func newEngine(c *cli.Context) (*service.Engine, *progress.Tracker, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load config: %w", err)
	}

	if c.IsSet("source-schema") {
		cfg.Source.Schema = c.String("source-schema")
	}
	if c.IsSet("target-schema") {
		cfg.Target.Schema = c.String("target-schema")
	}
	if c.IsSet("workers") {
		cfg.Migration.Workers = c.Int("workers")
	}
	if c.IsSet("schema-only") {
		cfg.Migration.SchemaOnly = c.Bool("schema-only")
	}
	if c.IsSet("tables") {
		cfg.Migration.Tables = util.SplitCSV(c.String("tables"))
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, err
	}
	logging.SetLevel(level)
	logging.SetFormat(cfg.Logging.Format)

	quiet := c.Bool("quiet") || cfg.Logging.Format == "json"
	tracker := progress.New(quiet)

	eng, err := service.New(cfg, tracker)
	if err != nil {
		return nil, nil, err
	}
	return eng, tracker, nil
}

// runJob drives one job to completion with graceful interrupt handling.
func runJob(eng *service.Engine, tracker *progress.Tracker, start func(context.Context) (string, error)) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		<-sigCh
		fmt.Println("\nInterrupted. Saving checkpoint...")
		cancel()
	}()

	jobID, err := start(ctx)
	if err != nil {
		return err
	}
	logging.Info("Job %s started", jobID)

	err = eng.Wait(jobID)
	tracker.Finish()
	if err != nil {
		return err
	}
	fmt.Printf("Job %s completed\n", jobID)
	return nil
}

func runMigration(c *cli.Context) error {
	eng, tracker, err := newEngine(c)
	if err != nil {
		return err
	}
	defer eng.Close()

	return runJob(eng, tracker, eng.SubmitJob)
}

func resumeMigration(c *cli.Context) error {
	eng, tracker, err := newEngine(c)
	if err != nil {
		return err
	}
	defer eng.Close()

	err = runJob(eng, tracker, eng.Resume)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return fmt.Errorf("no incomplete job to resume")
	}
	return err
}

func showStatus(c *cli.Context) error {
	eng, _, err := newEngine(c)
	if err != nil {
		return err
	}
	defer eng.Close()

	jobID := c.Args().First()
	if jobID == "" {
		jobs, err := eng.History()
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			return fmt.Errorf("no jobs found")
		}
		jobID = jobs[0].ID
	}

	st, err := eng.GetStatus(jobID)
	if err != nil {
		return err
	}

	fmt.Printf("Job:    %s\n", st.Job.ID)
	fmt.Printf("Status: %s", st.Job.Status)
	if st.Job.Phase != "" {
		fmt.Printf(" (%s)", st.Job.Phase)
	}
	fmt.Println()
	if st.Job.Error != "" {
		fmt.Printf("Error:  %s\n", st.Job.Error)
	}
	fmt.Printf("Rows:   %d / %d\n\n", st.Stats.RowsTransferred, st.Stats.RowsTotal)

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tSTATUS\tROWS\tOFFSET")
	for _, ts := range st.Tables {
		fmt.Fprintf(w, "%s\t%s\t%d\t%d\n", ts.Table, ts.Status, ts.TotalRows, ts.CommittedOffset)
	}
	return w.Flush()
}

func cancelJob(c *cli.Context) error {
	jobID := c.Args().First()
	if jobID == "" {
		return fmt.Errorf("usage: %s cancel <job-id>", version.Name)
	}

	eng, _, err := newEngine(c)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.CancelJob(jobID); err != nil {
		return err
	}
	fmt.Printf("Job %s cancelled\n", jobID)
	return nil
}

func validateJob(c *cli.Context) error {
	eng, _, err := newEngine(c)
	if err != nil {
		return err
	}
	defer eng.Close()

	if err := eng.Validate(context.Background(), c.Args().First()); err != nil {
		return err
	}
	fmt.Println("Validation passed")
	return nil
}

func showHistory(c *cli.Context) error {
	eng, _, err := newEngine(c)
	if err != nil {
		return err
	}
	defer eng.Close()

	jobs, err := eng.History()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "JOB\tSOURCE\tSTATUS\tSTARTED\tUPDATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%s\n",
			j.ID, j.SourceType, j.SourceSchema, j.Status,
			j.CreatedAt.Format("2006-01-02 15:04:05"),
			j.UpdatedAt.Format("2006-01-02 15:04:05"))
	}
	return w.Flush()
}

func showAudit(c *cli.Context) error {
	jobID := c.Args().First()
	if jobID == "" {
		return fmt.Errorf("usage: %s audit <job-id>", version.Name)
	}

	eng, _, err := newEngine(c)
	if err != nil {
		return err
	}
	defer eng.Close()

	entries, err := eng.Audit().Query(jobID, audit.Filter{
		Table:  c.String("table"),
		Action: audit.Action(c.String("action")),
		Limit:  c.Int("limit"),
	})
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SEQ\tTIME\tACTION\tTABLE\tOUTCOME\tROWS\tDETAIL")
	for _, e := range entries {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Seq, e.Time.Format("15:04:05"), e.Action, e.Table, e.Outcome, e.Rows, e.Detail)
	}
	return w.Flush()
}
