package store

import (
	"context"
	"strconv"

	"github.com/rs/zerolog"

	"github.com/five82/beacon/internal/torrentino"
)

// AuditAPI is the REST surface the audit store needs.
type AuditAPI interface {
	QueryAudit(ctx context.Context, query torrentino.AuditQuery, limit, offset int) (torrentino.AuditPage, error)
}

// AuditSnapshot is an immutable view of the audit store.
type AuditSnapshot = Snapshot[torrentino.AuditQuery, torrentino.AuditRecord]

// Audit pages through the server's audit log. Events are immutable and
// never pushed, so the store only lists.
type Audit struct {
	*Resource[torrentino.AuditQuery, torrentino.AuditRecord]
}

// NewAudit builds an audit store backed by api.
func NewAudit(api AuditAPI, pageSize int, report func(error), log zerolog.Logger) *Audit {
	return &Audit{Resource: NewResource(Config[torrentino.AuditQuery, torrentino.AuditRecord]{
		Name: "audit",
		ID:   AuditID,
		Clone: func(r torrentino.AuditRecord) torrentino.AuditRecord {
			r.Data = append([]byte(nil), r.Data...)
			return r
		},
		List: func(ctx context.Context, q torrentino.AuditQuery, limit, offset int) (Page[torrentino.AuditRecord], error) {
			page, err := api.QueryAudit(ctx, q, limit, offset)
			if err != nil {
				return Page[torrentino.AuditRecord]{}, err
			}
			return Page[torrentino.AuditRecord]{Items: page.Events, Total: page.Total}, nil
		},
		PageSize:    pageSize,
		Logger:      log,
		Report:      report,
		SameFilters: torrentino.AuditQuery.Equal,
	})}
}

// AuditID extracts an audit event's key.
func AuditID(r torrentino.AuditRecord) string { return strconv.FormatInt(r.ID, 10) }
