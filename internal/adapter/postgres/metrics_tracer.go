package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pscheid92/stockrelay/internal/metrics"
)

// MetricsTracer records query duration and errors, labelled by statement.
type MetricsTracer struct{}

var _ pgx.QueryTracer = (*MetricsTracer)(nil)

type queryContextKey struct{}

type queryContext struct {
	startTime time.Time
	queryName string
}

func (t *MetricsTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryContextKey{}, queryContext{
		startTime: time.Now(),
		queryName: queryName(data.SQL),
	})
}

func (t *MetricsTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	qctx, ok := ctx.Value(queryContextKey{}).(queryContext)
	if !ok {
		return
	}

	metrics.DBQueryDuration.WithLabelValues(qctx.queryName).Observe(time.Since(qctx.startTime).Seconds())
	if data.Err != nil {
		metrics.DBErrorsTotal.WithLabelValues(qctx.queryName).Inc()
	}
}

// queryName keeps label cardinality low. Statements prefixed with a
// "-- name: X" comment are labelled X, everything else by its leading verb.
func queryName(sql string) string {
	sql = strings.TrimSpace(sql)
	if rest, ok := strings.CutPrefix(sql, "-- name:"); ok {
		name, _, _ := strings.Cut(strings.TrimSpace(rest), "\n")
		if name = strings.TrimSpace(name); name != "" {
			return name
		}
	}

	verb, _, _ := strings.Cut(sql, " ")
	if verb == "" {
		return "unknown"
	}
	if i := strings.IndexAny(verb, "\n\t("); i > 0 {
		verb = verb[:i]
	}
	if len(verb) > 20 {
		verb = verb[:20]
	}
	return strings.ToUpper(verb)
}
