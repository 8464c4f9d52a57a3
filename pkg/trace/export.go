package trace

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ExportJSONL renders a case's full trace as one JSON object per line, fields
// in the stable TraceEntry schema, suitable for archival outside the
// operating database.
func (l *Ledger) ExportJSONL(ctx context.Context, caseID string) (string, error) {
	traceID, err := l.store.TraceForCase(ctx, caseID)
	if err != nil {
		return "", err
	}
	entries, err := l.store.ListEntries(ctx, traceID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	enc := json.NewEncoder(&b)
	for i := range entries {
		if err := enc.Encode(&entries[i]); err != nil {
			return "", fmt.Errorf("trace: encode entry %d: %w", entries[i].SequenceNum, err)
		}
	}
	return b.String(), nil
}
