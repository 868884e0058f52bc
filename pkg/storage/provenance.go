package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/agentmkt/marketplace/ent"
	"github.com/agentmkt/marketplace/ent/provenancerecord"
	"github.com/agentmkt/marketplace/pkg/provenance"
)

// ProvenanceStore is an ent/pgx-backed provenance.Store, collapsing the
// three record kinds into the single provenance_records table the way
// pkg/provenance.Record already collapses them in memory.
type ProvenanceStore struct {
	client *ent.Client
}

var _ provenance.Store = (*ProvenanceStore)(nil)

// NewProvenanceStore wraps client in a provenance.Store.
func NewProvenanceStore(client *ent.Client) *ProvenanceStore {
	return &ProvenanceStore{client: client}
}

// Append implements provenance.Store.
func (s *ProvenanceStore) Append(ctx context.Context, r *provenance.Record) error {
	builder := s.client.ProvenanceRecord.Create().
		SetID(r.ID).
		SetCreatedAt(r.CreatedAt).
		SetTraceID(r.TraceID).
		SetRunID(r.RunID).
		SetTenantID(r.TenantID).
		SetEventType(provenancerecord.EventType(r.EventType))

	if r.StepID != "" {
		builder = builder.SetStepID(r.StepID)
	}
	if r.DebugPayload != nil {
		builder = builder.SetDebugPayload(r.DebugPayload)
	}
	if r.LLM != nil {
		builder = builder.
			SetLLMModelID(r.LLM.ModelID).
			SetLLMPromptHash(r.LLM.PromptHash).
			SetLLMInputTokens(r.LLM.InputTokens).
			SetLLMOutputTokens(r.LLM.OutputTokens).
			SetLLMCost(r.LLM.Cost).
			SetLLMDurationMs(int(r.LLM.DurationMS)).
			SetLLMEffort(r.LLM.Effort)
	}
	if r.Tool != nil {
		builder = builder.
			SetToolName(r.Tool.Name).
			SetToolVersion(r.Tool.Version).
			SetToolArgsHash(r.Tool.ArgsHash).
			SetToolResultHash(r.Tool.ResultHash).
			SetToolSideEffectCommitted(r.Tool.SideEffectCommit).
			SetToolDurationMs(int(r.Tool.DurationMS))
	}
	if r.Error != nil {
		builder = builder.
			SetErrorMessage(r.Error.Message).
			SetErrorCode(r.Error.Code)
	}

	if _, err := builder.Save(ctx); err != nil {
		return fmt.Errorf("failed to append provenance record: %w", err)
	}
	return nil
}

// ByTrace implements provenance.Store.
func (s *ProvenanceStore) ByTrace(ctx context.Context, traceID string) ([]*provenance.Record, error) {
	rows, err := s.client.ProvenanceRecord.Query().
		Where(provenancerecord.TraceIDEQ(traceID)).
		Order(ent.Asc(provenancerecord.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance by trace: %w", err)
	}
	return toRecords(rows), nil
}

// ByRun implements provenance.Store.
func (s *ProvenanceStore) ByRun(ctx context.Context, runID string) ([]*provenance.Record, error) {
	rows, err := s.client.ProvenanceRecord.Query().
		Where(provenancerecord.RunIDEQ(runID)).
		Order(ent.Asc(provenancerecord.FieldCreatedAt)).
		All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query provenance by run: %w", err)
	}
	return toRecords(rows), nil
}

// Recent implements provenance.Store.
func (s *ProvenanceStore) Recent(ctx context.Context, n int, eventType provenance.EventType) ([]*provenance.Record, error) {
	q := s.client.ProvenanceRecord.Query().
		Order(ent.Desc(provenancerecord.FieldCreatedAt))
	if eventType != "" {
		q = q.Where(provenancerecord.EventTypeEQ(provenancerecord.EventType(eventType)))
	}
	if n > 0 {
		q = q.Limit(n)
	}

	rows, err := q.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent provenance: %w", err)
	}
	return toRecords(rows), nil
}

// DeleteOlderThan removes provenance records appended before cutoff,
// backing the provenance retention sweep. Provenance is append-only in
// the sense that no row is ever mutated; the retention window only
// governs how long rows survive before deletion.
func (s *ProvenanceStore) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.client.ProvenanceRecord.Delete().
		Where(provenancerecord.CreatedAtLT(cutoff)).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old provenance records: %w", err)
	}
	return n, nil
}

func toRecords(rows []*ent.ProvenanceRecord) []*provenance.Record {
	out := make([]*provenance.Record, 0, len(rows))
	for _, row := range rows {
		rec := &provenance.Record{
			ID:        row.ID,
			CreatedAt: row.CreatedAt,
			TraceID:   row.TraceID,
			RunID:     row.RunID,
			TenantID:  row.TenantID,
			EventType: provenance.EventType(row.EventType),
		}
		if row.StepID != nil {
			rec.StepID = *row.StepID
		}
		if row.DebugPayload != nil {
			rec.DebugPayload = row.DebugPayload
		}
		if row.LlmModelID != nil {
			detail := &provenance.LLMDetail{ModelID: *row.LlmModelID}
			if row.LlmPromptHash != nil {
				detail.PromptHash = *row.LlmPromptHash
			}
			if row.LlmInputTokens != nil {
				detail.InputTokens = *row.LlmInputTokens
			}
			if row.LlmOutputTokens != nil {
				detail.OutputTokens = *row.LlmOutputTokens
			}
			if row.LlmCost != nil {
				detail.Cost = *row.LlmCost
			}
			if row.LlmDurationMs != nil {
				detail.DurationMS = int64(*row.LlmDurationMs)
			}
			if row.LlmEffort != nil {
				detail.Effort = *row.LlmEffort
			}
			rec.LLM = detail
		}
		if row.ToolName != nil {
			detail := &provenance.ToolDetail{Name: *row.ToolName}
			if row.ToolVersion != nil {
				detail.Version = *row.ToolVersion
			}
			if row.ToolArgsHash != nil {
				detail.ArgsHash = *row.ToolArgsHash
			}
			if row.ToolResultHash != nil {
				detail.ResultHash = *row.ToolResultHash
			}
			if row.ToolSideEffectCommitted != nil {
				detail.SideEffectCommit = *row.ToolSideEffectCommitted
			}
			if row.ToolDurationMs != nil {
				detail.DurationMS = int64(*row.ToolDurationMs)
			}
			rec.Tool = detail
		}
		if row.ErrorMessage != nil {
			detail := &provenance.ErrorDetail{Message: *row.ErrorMessage}
			if row.ErrorCode != nil {
				detail.Code = *row.ErrorCode
			}
			rec.Error = detail
		}
		out = append(out, rec)
	}
	return out
}
