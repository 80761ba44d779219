package db

import (
	"context"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/jackc/pgx/v5"
)

// QueryObserver receives the outcome of every query. observability.Metrics
// implements it.
type QueryObserver interface {
	DBQuery(operation, table string, elapsed time.Duration, err error)
}

type queryTraceKey struct{}

type queryTrace struct {
	span      *sentry.Span
	operation string
	table     string
	started   time.Time
}

// queryTracer opens a Sentry span per query when the caller is inside a
// transaction and reports latency to the observer regardless.
type queryTracer struct {
	observer QueryObserver
	now      func() time.Time
}

func newQueryTracer(observer QueryObserver) *queryTracer {
	return &queryTracer{observer: observer, now: time.Now}
}

func (t *queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	query := normalizeQuery(data.SQL)
	trace := &queryTrace{
		operation: queryOperation(query),
		table:     queryTable(query),
		started:   t.now(),
	}

	if sentry.SpanFromContext(ctx) != nil {
		span := sentry.StartSpan(
			ctx,
			"db.query",
			sentry.WithDescription(query),
			sentry.WithSpanOrigin(sentry.SpanOriginManual),
		)
		span.SetData("db.system", "postgresql")
		if trace.operation != "" {
			span.SetData("db.operation", trace.operation)
		}
		if trace.table != "" {
			span.SetData("db.sql.table", trace.table)
		}
		trace.span = span
		ctx = span.Context()
	}

	return context.WithValue(ctx, queryTraceKey{}, trace)
}

func (t *queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	trace, _ := ctx.Value(queryTraceKey{}).(*queryTrace)
	if trace == nil {
		return
	}

	if t.observer != nil {
		t.observer.DBQuery(trace.operation, trace.table, t.now().Sub(trace.started), data.Err)
	}

	span := trace.span
	if span == nil {
		return
	}
	if data.Err != nil {
		span.Status = sentry.SpanStatusInternalError
		span.SetData("db.error", data.Err.Error())
	} else {
		span.Status = sentry.SpanStatusOK
	}
	if rows := data.CommandTag.RowsAffected(); rows >= 0 {
		span.SetData("db.rows_affected", rows)
	}
	span.Finish()
}

func normalizeQuery(query string) string {
	normalized := strings.Join(strings.Fields(query), " ")
	if normalized == "" {
		return "sql.query"
	}

	const maxLen = 512
	if len(normalized) > maxLen {
		return normalized[:maxLen]
	}
	return normalized
}

func queryOperation(query string) string {
	parts := strings.Fields(query)
	if len(parts) == 0 || parts[0] == "sql.query" {
		return ""
	}
	op := strings.ToUpper(parts[0])
	if op == "WITH" {
		return "CTE"
	}
	return op
}

// queryTable returns the first table the statement names after FROM, INTO or
// UPDATE. It is a label for metrics, not a parser.
func queryTable(query string) string {
	parts := strings.Fields(query)
	for i := 0; i < len(parts)-1; i++ {
		switch strings.ToUpper(parts[i]) {
		case "FROM", "INTO", "UPDATE":
			table := strings.Trim(parts[i+1], `"(),;`)
			if table == "" || strings.HasPrefix(table, "$") {
				continue
			}
			if strings.EqualFold(table, "ONLY") {
				continue
			}
			return strings.ToLower(table)
		}
	}
	return ""
}
