// Package orchestrator sequences a migration job: schema translation and
// application, procedural code conversion, chunked data transfer in
// foreign-key dependency order, then validation. Job and table state is
// persisted through the checkpoint store so an interrupted job resumes
// from its last committed chunk.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/oradrift/oradrift/internal/audit"
	"github.com/oradrift/oradrift/internal/checkpoint"
	"github.com/oradrift/oradrift/internal/config"
	"github.com/oradrift/oradrift/internal/driver"
	"github.com/oradrift/oradrift/internal/logging"
	"github.com/oradrift/oradrift/internal/plsql"
	"github.com/oradrift/oradrift/internal/schema"
	"github.com/oradrift/oradrift/internal/transfer"
)

// Engine phases recorded on the job for status display.
const (
	PhaseSchemaAnalysis  = "schema_analysis"
	PhaseSchemaApply     = "schema_apply"
	PhasePLSQLConversion = "plsql_conversion"
	PhaseDataMigration   = "data_migration"
	PhaseFinalization    = "finalization"
	PhaseValidation      = "validation"
)

// ProgressReporter receives row totals and increments for live display.
type ProgressReporter interface {
	SetTotal(total int64)
	Add(n int64)
}

// Orchestrator runs one migration job end to end.
type Orchestrator struct {
	cfg      *config.Config
	state    *checkpoint.State
	auditLog *audit.Log
	src      driver.Source
	tgt      driver.Target
	reporter ProgressReporter
}

// New builds an orchestrator over already-open source and target
// connections. reporter may be nil.
func New(cfg *config.Config, state *checkpoint.State, auditLog *audit.Log, src driver.Source, tgt driver.Target, reporter ProgressReporter) *Orchestrator {
	return &Orchestrator{cfg: cfg, state: state, auditLog: auditLog, src: src, tgt: tgt, reporter: reporter}
}

// record appends one audit entry. An audit write failure never aborts the
// migration; it is surfaced in the log instead.
func (o *Orchestrator) record(e audit.Entry) {
	if err := o.auditLog.Append(e); err != nil {
		logging.Error("Audit append failed (job %s, action %s): %v", e.JobID, e.Action, err)
	}
}

// Run executes the job. The job record must already exist; a resumed job
// reuses its persisted offsets. Cancellation between chunks marks the job
// cancelled rather than failed.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	o.record(audit.Entry{JobID: jobID, Action: audit.ActionJobStart, Outcome: audit.OutcomeOK})

	err := o.run(ctx, jobID)
	switch {
	case err == nil:
		o.state.UpdateJobStatus(jobID, checkpoint.JobCompleted, "")
		o.record(audit.Entry{JobID: jobID, Action: audit.ActionJobComplete, Outcome: audit.OutcomeOK})
	case errors.Is(err, context.Canceled):
		o.state.UpdateJobStatus(jobID, checkpoint.JobCancelled, "cancelled")
		o.record(audit.Entry{JobID: jobID, Action: audit.ActionJobCancelled, Outcome: audit.OutcomeFailed, Detail: "cancelled"})
	default:
		o.state.UpdateJobStatus(jobID, checkpoint.JobFailed, err.Error())
		o.record(audit.Entry{JobID: jobID, Action: audit.ActionJobFailed, Outcome: audit.OutcomeFailed, Detail: err.Error()})
	}
	return err
}

func (o *Orchestrator) run(ctx context.Context, jobID string) error {
	if err := o.state.UpdateJobStatus(jobID, checkpoint.JobSchemaMigrating, ""); err != nil {
		return err
	}
	o.state.UpdateJobPhase(jobID, PhaseSchemaAnalysis)

	cat, err := o.src.IntrospectSchema(ctx, o.cfg.Source.Schema)
	if err != nil {
		return fmt.Errorf("schema analysis: %w", err)
	}
	o.filterCatalog(cat)

	result, err := schema.Translate(cat, o.src.DBType(), o.targetSchema())
	if err != nil {
		return fmt.Errorf("schema translation: %w", err)
	}

	o.state.UpdateJobPhase(jobID, PhaseSchemaApply)
	migratable, err := o.applySchema(ctx, jobID, result)
	if err != nil {
		return err
	}

	o.state.UpdateJobPhase(jobID, PhasePLSQLConversion)
	if err := o.convertProcedures(ctx, jobID, cat.Procedures); err != nil {
		return err
	}

	if !o.cfg.Migration.SchemaOnly {
		if err := o.state.UpdateJobStatus(jobID, checkpoint.JobDataMigrating, ""); err != nil {
			return err
		}
		o.state.UpdateJobPhase(jobID, PhaseDataMigration)
		if err := o.migrateData(ctx, jobID, cat, result, migratable); err != nil {
			return err
		}
	}

	o.state.UpdateJobPhase(jobID, PhaseFinalization)
	if err := o.applyDeferred(ctx, jobID, result); err != nil {
		return err
	}

	if !o.cfg.Migration.SchemaOnly {
		if err := o.state.UpdateJobStatus(jobID, checkpoint.JobValidating, ""); err != nil {
			return err
		}
		o.state.UpdateJobPhase(jobID, PhaseValidation)
		if err := o.validate(ctx, jobID, cat, migratable); err != nil {
			return err
		}
	}
	return nil
}

func (o *Orchestrator) targetSchema() string {
	if o.cfg.Target.Schema != "" {
		return strings.ToLower(o.cfg.Target.Schema)
	}
	return "public"
}

// filterCatalog drops tables excluded by configuration before translation,
// so dependency levels and DDL only cover what the job migrates.
func (o *Orchestrator) filterCatalog(cat *driver.Catalog) {
	kept := cat.Tables[:0]
	for _, t := range cat.Tables {
		if o.cfg.TableIncluded(t.Name) {
			kept = append(kept, t)
		} else {
			logging.Debug("Skipping excluded table %s", t.Name)
		}
	}
	cat.Tables = kept
}

// applySchema executes the non-deferred DDL in dependency order and returns
// the set of tables that exist on the target and should receive data.
func (o *Orchestrator) applySchema(ctx context.Context, jobID string, result *schema.Result) (map[string]bool, error) {
	migratable := make(map[string]bool)

	for _, obj := range result.Objects {
		if obj.Deferred {
			continue
		}

		if obj.Status == schema.StatusManualReview && obj.TargetDDL == "" {
			logging.Warn("%s %s needs manual review: %s", obj.Kind, obj.Name, obj.Note)
			o.record(audit.Entry{
				JobID: jobID, Action: audit.ActionManualReview, Table: obj.Table,
				Detail: fmt.Sprintf("%s %s: %s", obj.Kind, obj.Name, obj.Note), Outcome: audit.OutcomeFailed,
			})
			continue
		}

		if err := o.tgt.ExecuteDDL(ctx, obj.TargetDDL); err != nil {
			o.record(audit.Entry{
				JobID: jobID, Action: audit.ActionSchemaApply, Table: obj.Table,
				Detail: fmt.Sprintf("%s %s: %v", obj.Kind, obj.Name, err), Outcome: audit.OutcomeFailed,
			})
			return nil, fmt.Errorf("applying %s %s: %w", obj.Kind, obj.Name, err)
		}
		o.record(audit.Entry{
			JobID: jobID, Action: audit.ActionSchemaApply, Table: obj.Table,
			Detail: fmt.Sprintf("%s %s", obj.Kind, obj.Name), Outcome: audit.OutcomeOK,
		})

		if obj.Kind == schema.KindTable {
			migratable[obj.Name] = true
			if len(obj.LossyColumns) > 0 {
				logging.Warn("Table %s has lossy column mappings: %s", obj.Name, strings.Join(obj.LossyColumns, "; "))
				o.record(audit.Entry{
					JobID: jobID, Action: audit.ActionManualReview, Table: obj.Name,
					Detail: "lossy column mappings: " + strings.Join(obj.LossyColumns, "; "), Outcome: audit.OutcomeOK,
				})
			}
			if obj.Status == schema.StatusManualReview {
				// DDL applied (e.g. partitioned source table created flat);
				// the note still needs a human decision.
				o.record(audit.Entry{
					JobID: jobID, Action: audit.ActionManualReview, Table: obj.Name,
					Detail: obj.Note, Outcome: audit.OutcomeOK,
				})
			}
		}
	}
	return migratable, nil
}

// convertProcedures translates stored code and applies fully-converted
// definitions. Partial and unsupported results are audited for manual
// porting, never silently dropped.
func (o *Orchestrator) convertProcedures(ctx context.Context, jobID string, procs []driver.Procedure) error {
	for _, p := range procs {
		res := plsql.Translate(p.Source)
		switch res.Confidence {
		case plsql.Full:
			if err := o.tgt.ExecuteDDL(ctx, res.Target); err != nil {
				o.record(audit.Entry{
					JobID: jobID, Action: audit.ActionManualReview, Table: p.Name,
					Detail: fmt.Sprintf("%s %s translated but failed to apply: %v", p.Type, p.Name, err),
					Outcome: audit.OutcomeFailed,
				})
				logging.Warn("Applying translated %s %s failed: %v", p.Type, p.Name, err)
				continue
			}
			o.record(audit.Entry{
				JobID: jobID, Action: audit.ActionSchemaApply, Table: p.Name,
				Detail: fmt.Sprintf("%s %s (confidence %s)", p.Type, p.Name, res.Confidence), Outcome: audit.OutcomeOK,
			})
		default:
			notes := strings.Join(res.Notes, "; ")
			logging.Warn("%s %s needs manual porting (%s): %s", p.Type, p.Name, res.Confidence, notes)
			o.record(audit.Entry{
				JobID: jobID, Action: audit.ActionManualReview, Table: p.Name,
				Detail: fmt.Sprintf("%s %s confidence %s: %s", p.Type, p.Name, res.Confidence, notes),
				Outcome: audit.OutcomeFailed,
			})
		}
	}
	return nil
}

// migrateData transfers tables level by level: all tables in a dependency
// level run in parallel under the worker limit, and a level starts only
// after every table in the previous one finished.
func (o *Orchestrator) migrateData(ctx context.Context, jobID string, cat *driver.Catalog, result *schema.Result, migratable map[string]bool) error {
	tableByName := make(map[string]*driver.Table, len(cat.Tables))
	var total int64
	for i := range cat.Tables {
		t := &cat.Tables[i]
		tableByName[t.Name] = t
		if !migratable[t.Name] {
			continue
		}
		n, err := o.src.RowCount(ctx, t.Schema, t.Name)
		if err != nil {
			return fmt.Errorf("counting %s: %w", t.Name, err)
		}
		t.RowCount = n
		total += n
		if err := o.state.InitTable(jobID, t.Name, n, o.cfg.ChunkSizeFor(t.Name)); err != nil {
			return err
		}
	}
	if o.reporter != nil {
		o.reporter.SetTotal(total)
	}

	// A failed table halts only itself and its foreign-key descendants;
	// independent tables keep migrating and the first error is reported
	// once every level has run.
	halted := make(map[string]bool)
	var firstErr error
	for _, level := range result.TableLevels {
		if err := o.runLevel(ctx, jobID, level, tableByName, migratable, halted); err != nil {
			if ctx.Err() != nil {
				return err
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// runLevel transfers one dependency level with a bounded worker pool.
func (o *Orchestrator) runLevel(ctx context.Context, jobID string, level []string, tableByName map[string]*driver.Table, migratable, halted map[string]bool) error {
	sem := make(chan struct{}, o.cfg.Migration.Workers)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	for _, name := range level {
		t, ok := tableByName[name]
		if !ok || !migratable[name] {
			continue
		}
		mu.Lock()
		parent := haltedParent(t, halted)
		if parent != "" {
			halted[name] = true
		}
		mu.Unlock()
		if parent != "" {
			logging.Warn("Skipping %s: parent table %s did not complete", name, parent)
			o.state.MarkTableStatus(jobID, name, checkpoint.TableSkipped, "parent table "+parent+" did not complete")
			o.record(audit.Entry{
				JobID: jobID, Action: audit.ActionError, Table: name,
				Detail: "skipped: parent table " + parent + " did not complete", Outcome: audit.OutcomeFailed,
			})
			continue
		}
		ts, err := o.state.GetTableState(jobID, name)
		if err == nil && ts.Status == checkpoint.TableCompleted {
			logging.Debug("Table %s already completed, skipping", name)
			continue
		}

		wg.Add(1)
		go func(t *driver.Table) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				return
			}
			mover := transfer.New(o.src, o.tgt, o.state, o.auditLog, transfer.Options{
				ChunkSize:    o.cfg.ChunkSizeFor(t.Name),
				MaxRetries:   o.cfg.Migration.MaxRetries,
				RetryBackoff: o.cfg.Migration.RetryBackoff.Std(),
				ChunkTimeout: o.cfg.Migration.ChunkTimeout.Std(),
			}, o.reporter)
			if err := mover.TransferTable(ctx, jobID, t); err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				halted[t.Name] = true
				mu.Unlock()
			}
		}(t)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}
	return ctx.Err()
}

// haltedParent returns the name of a referenced table that failed or was
// skipped, or "" when all parents completed.
func haltedParent(t *driver.Table, halted map[string]bool) string {
	for i := range t.ForeignKeys {
		if halted[t.ForeignKeys[i].RefTable] {
			return t.ForeignKeys[i].RefTable
		}
	}
	return ""
}

// ValidateOnly re-runs validation for the tables a job recorded as
// completed, without transferring anything. Used by the standalone
// validate command.
func (o *Orchestrator) ValidateOnly(ctx context.Context, jobID string) error {
	states, err := o.state.GetTableStates(jobID)
	if err != nil {
		return err
	}
	migratable := make(map[string]bool)
	for _, ts := range states {
		if ts.Status == checkpoint.TableCompleted {
			migratable[ts.Table] = true
		}
	}
	if len(migratable) == 0 {
		return fmt.Errorf("job %s has no completed tables to validate", jobID)
	}

	cat, err := o.src.IntrospectSchema(ctx, o.cfg.Source.Schema)
	if err != nil {
		return fmt.Errorf("schema analysis: %w", err)
	}
	o.filterCatalog(cat)
	return o.validate(ctx, jobID, cat, migratable)
}

// applyDeferred creates secondary indexes and foreign keys after data load.
func (o *Orchestrator) applyDeferred(ctx context.Context, jobID string, result *schema.Result) error {
	for _, obj := range result.Objects {
		if !obj.Deferred {
			continue
		}
		if obj.Status == schema.StatusManualReview {
			o.record(audit.Entry{
				JobID: jobID, Action: audit.ActionManualReview, Table: obj.Table,
				Detail: fmt.Sprintf("%s %s: %s", obj.Kind, obj.Name, obj.Note), Outcome: audit.OutcomeFailed,
			})
			continue
		}
		if err := o.tgt.ExecuteDDL(ctx, obj.TargetDDL); err != nil {
			// A deferred object failing does not lose data; record it and
			// keep going so the remaining indexes still get built.
			logging.Warn("Applying %s %s failed: %v", obj.Kind, obj.Name, err)
			o.record(audit.Entry{
				JobID: jobID, Action: audit.ActionSchemaApply, Table: obj.Table,
				Detail: fmt.Sprintf("%s %s: %v", obj.Kind, obj.Name, err), Outcome: audit.OutcomeFailed,
			})
			continue
		}
		o.record(audit.Entry{
			JobID: jobID, Action: audit.ActionSchemaApply, Table: obj.Table,
			Detail: fmt.Sprintf("%s %s", obj.Kind, obj.Name), Outcome: audit.OutcomeOK,
		})
	}
	return nil
}
