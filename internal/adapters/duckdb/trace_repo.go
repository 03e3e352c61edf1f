package duckdb

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sonika-ai/conductor/internal/core/domain"
)

// SaveTrace persists a completed trace and all its spans.
func (r *Repository) SaveTrace(ctx context.Context, trace *domain.Trace) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.ExecContext(ctx, `
		INSERT INTO traces (id, name, status, conversation_id, root_span_id,
		                    start_time, end_time, duration_ms, span_count)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			status      = excluded.status,
			end_time    = excluded.end_time,
			duration_ms = excluded.duration_ms,
			span_count  = excluded.span_count`,
		string(trace.ID),
		trace.Name,
		string(trace.Status),
		trace.ConversationID,
		string(trace.RootSpanID),
		trace.StartTime,
		trace.EndTime,
		trace.DurationMs,
		trace.SpanCount,
	)
	if err != nil {
		return fmt.Errorf("upsert trace: %w", err)
	}

	for _, span := range trace.Spans {
		attrJSON, _ := json.Marshal(span.Attributes)
		_, err = tx.ExecContext(ctx, `
			INSERT INTO spans (id, trace_id, parent_id, name, kind, status,
			                   input, output, error, attributes, start_time, end_time, duration_ms)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT (id) DO UPDATE SET
				status      = excluded.status,
				output      = excluded.output,
				error       = excluded.error,
				end_time    = excluded.end_time,
				duration_ms = excluded.duration_ms`,
			string(span.ID),
			string(span.TraceID),
			string(span.ParentID),
			span.Name,
			string(span.Kind),
			string(span.Status),
			span.Input,
			span.Output,
			span.Error,
			string(attrJSON),
			span.StartTime,
			span.EndTime,
			span.DurationMs,
		)
		if err != nil {
			return fmt.Errorf("upsert span %s: %w", span.ID, err)
		}
	}

	return tx.Commit()
}

// ListTraces returns summaries of the most recent traces (newest first).
func (r *Repository) ListTraces(ctx context.Context, limit int) ([]domain.TraceSummary, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, status, start_time, duration_ms, span_count
		FROM traces
		ORDER BY start_time DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	var out []domain.TraceSummary
	for rows.Next() {
		var s domain.TraceSummary
		var id, status string
		var durationMs sql.NullInt64
		var spanCount sql.NullInt32
		if err := rows.Scan(&id, &s.Name, &status, &s.StartTime, &durationMs, &spanCount); err != nil {
			return nil, fmt.Errorf("scan trace: %w", err)
		}
		s.ID = domain.TraceID(id)
		s.Status = domain.SpanStatus(status)
		s.DurationMs = durationMs.Int64
		s.SpanCount = int(spanCount.Int32)
		out = append(out, s)
	}
	return out, rows.Err()
}

// GetTrace loads one trace with all its spans.
func (r *Repository) GetTrace(ctx context.Context, id domain.TraceID) (*domain.Trace, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT id, name, status, conversation_id, root_span_id,
		       start_time, end_time, duration_ms, span_count
		FROM traces WHERE id = ?`, string(id))

	var trace domain.Trace
	var traceID, status, rootSpanID string
	var convID sql.NullString
	var endTime sql.NullTime
	var durationMs sql.NullInt64
	var spanCount sql.NullInt32
	err := row.Scan(&traceID, &trace.Name, &status, &convID, &rootSpanID,
		&trace.StartTime, &endTime, &durationMs, &spanCount)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("trace not found: %s", id)
		}
		return nil, fmt.Errorf("get trace: %w", err)
	}
	trace.ID = domain.TraceID(traceID)
	trace.Status = domain.SpanStatus(status)
	trace.ConversationID = convID.String
	trace.RootSpanID = domain.SpanID(rootSpanID)
	if endTime.Valid {
		t := endTime.Time
		trace.EndTime = &t
	}
	trace.DurationMs = durationMs.Int64
	trace.SpanCount = int(spanCount.Int32)

	spans, err := r.loadSpansForTrace(ctx, trace.ID)
	if err != nil {
		return nil, err
	}
	trace.Spans = spans
	return &trace, nil
}

func (r *Repository) loadSpansForTrace(ctx context.Context, traceID domain.TraceID) ([]domain.Span, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, trace_id, parent_id, name, kind, status,
		       input, output, error, attributes, start_time, end_time, duration_ms
		FROM spans
		WHERE trace_id = ?
		ORDER BY start_time ASC`, string(traceID))
	if err != nil {
		return nil, fmt.Errorf("load spans: %w", err)
	}
	defer rows.Close()

	var out []domain.Span
	for rows.Next() {
		var span domain.Span
		var id, tid string
		var parentID, input, output, errMsg, attrs sql.NullString
		var kind, status string
		var endTime sql.NullTime
		var durationMs sql.NullInt64
		if err := rows.Scan(&id, &tid, &parentID, &span.Name, &kind, &status,
			&input, &output, &errMsg, &attrs, &span.StartTime, &endTime, &durationMs); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		span.ID = domain.SpanID(id)
		span.TraceID = domain.TraceID(tid)
		span.ParentID = domain.SpanID(parentID.String)
		span.Kind = domain.SpanKind(kind)
		span.Status = domain.SpanStatus(status)
		span.Input = input.String
		span.Output = output.String
		span.Error = errMsg.String
		if attrs.Valid && attrs.String != "" {
			_ = json.Unmarshal([]byte(attrs.String), &span.Attributes)
		}
		if endTime.Valid {
			t := endTime.Time
			span.EndTime = &t
		}
		span.DurationMs = durationMs.Int64
		out = append(out, span)
	}
	return out, rows.Err()
}
