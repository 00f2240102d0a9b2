package ledger

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"time"
)

// ExportFormat defines supported export formats.
type ExportFormat string

const (
	// ExportFormatCSV exports the chain as comma-separated values.
	ExportFormatCSV ExportFormat = "csv"
	// ExportFormatJSON exports the chain as a JSON array.
	ExportFormatJSON ExportFormat = "json"
)

// ExportOptions configures a chain export.
type ExportOptions struct {
	Format ExportFormat // Export format (csv or json)
	From   time.Time    // Start of time range (inclusive, zero = unbounded)
	To     time.Time    // End of time range (inclusive, zero = unbounded)
}

// ExportChain exports a job's full audit chain for legal retention or
// offline review. Hashes are included so the export remains independently
// verifiable.
func ExportChain(ctx context.Context, repo Repository, jobID string, opts ExportOptions) ([]byte, error) {
	if opts.Format != ExportFormatCSV && opts.Format != ExportFormatJSON {
		return nil, fmt.Errorf("unsupported export format: %s", opts.Format)
	}

	events, err := repo.List(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("failed to read chain: %w", err)
	}

	if !opts.From.IsZero() || !opts.To.IsZero() {
		events = filterByTimeRange(events, opts.From, opts.To)
	}

	switch opts.Format {
	case ExportFormatCSV:
		return exportToCSV(events)
	default:
		return exportToJSON(events)
	}
}

// filterByTimeRange keeps events whose timestamps fall inside the range.
func filterByTimeRange(events []*AuditEvent, from, to time.Time) []*AuditEvent {
	var filtered []*AuditEvent
	for _, evt := range events {
		if !from.IsZero() && evt.OccurredAt.Before(from) {
			continue
		}
		if !to.IsZero() && evt.OccurredAt.After(to) {
			continue
		}
		filtered = append(filtered, evt)
	}
	return filtered
}

// exportToCSV exports the chain to CSV format.
func exportToCSV(events []*AuditEvent) ([]byte, error) {
	buf := new(bytes.Buffer)
	writer := csv.NewWriter(buf)

	header := []string{
		"ID",
		"Job ID",
		"Event Type",
		"Timestamp (UTC)",
		"Actor User ID",
		"Actor Name",
		"Platform",
		"Sync Status",
		"Event Hash",
		"Previous Event Hash",
	}
	if err := writer.Write(header); err != nil {
		return nil, fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, evt := range events {
		row := []string{
			evt.ID,
			evt.JobID,
			string(evt.EventType),
			evt.OccurredAt.UTC().Format(time.RFC3339),
			evt.Actor.UserID,
			evt.Actor.Name,
			evt.Actor.Platform,
			string(evt.SyncStatus),
			evt.EventHash,
			evt.PreviousEventHash,
		}
		if err := writer.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}
	return buf.Bytes(), nil
}

// exportToJSON exports the chain to JSON format.
func exportToJSON(events []*AuditEvent) ([]byte, error) {
	type exportEvent struct {
		ID                string         `json:"id"`
		JobID             string         `json:"job_id"`
		EventType         string         `json:"event_type"`
		Timestamp         string         `json:"timestamp"`
		ActorUserID       string         `json:"actor_user_id"`
		ActorName         string         `json:"actor_name"`
		Platform          string         `json:"platform,omitempty"`
		SyncStatus        string         `json:"sync_status"`
		Metadata          map[string]any `json:"metadata,omitempty"`
		EventHash         string         `json:"event_hash"`
		PreviousEventHash string         `json:"previous_event_hash"`
	}

	out := make([]exportEvent, len(events))
	for i, evt := range events {
		out[i] = exportEvent{
			ID:                evt.ID,
			JobID:             evt.JobID,
			EventType:         string(evt.EventType),
			Timestamp:         evt.OccurredAt.UTC().Format(time.RFC3339),
			ActorUserID:       evt.Actor.UserID,
			ActorName:         evt.Actor.Name,
			Platform:          evt.Actor.Platform,
			SyncStatus:        string(evt.SyncStatus),
			Metadata:          evt.Metadata,
			EventHash:         evt.EventHash,
			PreviousEventHash: evt.PreviousEventHash,
		}
	}

	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return data, nil
}
