package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/klauspost/compress/gzip"
	"go.uber.org/zap"
)

// HandleDataDeletionRequest audits the request and opens a tracked
// ticket. Actual cross-system erasure is carried out by external
// collaborators against the ticket.
func (l *Ledger) HandleDataDeletionRequest(ctx context.Context, identity string, src Source) (Ticket, error) {
	return l.openTicket(ctx, identity, TicketDeletion, l.cfg.DeletionSLA, src)
}

// HandleDataAccessRequest audits the request and opens a tracked
// ticket with the shorter access SLA.
func (l *Ledger) HandleDataAccessRequest(ctx context.Context, identity string, src Source) (Ticket, error) {
	return l.openTicket(ctx, identity, TicketAccess, l.cfg.AccessSLA, src)
}

func (l *Ledger) openTicket(ctx context.Context, identity, kind string, sla time.Duration, src Source) (Ticket, error) {
	l.LogAction(ctx, identity, "privacy_"+kind+"_request", map[string]interface{}{
		"request_type": kind,
	}, src)

	now := l.clock.Now()
	ticket := Ticket{
		ID:                  uuid.New(),
		Identity:            identity,
		Type:                kind,
		Status:              "pending",
		RequestedAt:         now,
		EstimatedCompletion: now.Add(sla),
	}

	data, err := json.Marshal(ticket)
	if err != nil {
		return Ticket{}, fmt.Errorf("marshal ticket: %w", err)
	}
	key := "privacy:ticket:" + ticket.ID.String()
	if err := l.store.Set(ctx, key, string(data), sla); err != nil {
		return Ticket{}, fmt.Errorf("persist ticket: %w", err)
	}

	l.logger.Info("privacy ticket opened",
		zap.String("ticket_id", ticket.ID.String()),
		zap.String("identity", identity),
		zap.String("type", kind),
		zap.Time("estimated_completion", ticket.EstimatedCompletion))
	return ticket, nil
}

// Ticket looks up an open privacy ticket by id.
func (l *Ledger) Ticket(ctx context.Context, id string) (Ticket, error) {
	raw, err := l.store.Get(ctx, "privacy:ticket:"+id)
	if err != nil {
		return Ticket{}, fmt.Errorf("load ticket: %w", err)
	}
	var ticket Ticket
	if err := json.Unmarshal([]byte(raw), &ticket); err != nil {
		return Ticket{}, fmt.Errorf("decode ticket: %w", err)
	}
	return ticket, nil
}

// ExportData packages the identity's audit history as gzipped JSON for
// a data-access response.
func (l *Ledger) ExportData(ctx context.Context, identity string) ([]byte, error) {
	entries := l.AuditLog(ctx, identity, l.cfg.MaxEntries)

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.NewEncoder(zw).Encode(entries); err != nil {
		_ = zw.Close()
		return nil, fmt.Errorf("encode export: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish export: %w", err)
	}
	return buf.Bytes(), nil
}
