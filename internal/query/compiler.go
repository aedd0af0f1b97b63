package query

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/dgraph-io/ristretto"
	"github.com/influxdata/tdigest"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/authzed/hashgraph/pkg/filter"
	"github.com/authzed/hashgraph/pkg/temporal"
)

// CompileLatencyHistogram records how long Compile spends rendering a plan,
// labeled by whether the filter shape hit the plan cache. internal/telemetry
// fans this into the process-wide metrics registry.
var CompileLatencyHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
	Namespace: "hashgraph",
	Subsystem: "query",
	Name:      "compile_duration_seconds",
	Help:      "Time spent compiling a Filter into a relational plan.",
	Buckets:   prometheus.DefBuckets,
}, []string{"cache"})

// Direction is the traversal direction requested for an edge kind.
type Direction int

const (
	Outgoing Direction = iota
	Incoming
)

// TraversalPath bounds one edge-kind × direction traversal by an explicit
// depth, per spec §4.E step 4.
type TraversalPath struct {
	Edge      EdgeKind
	Direction Direction
	MaxDepth  int
}

// GraphResolveDepths is the legacy bounded-traversal shape this compiler
// also accepts, translated internally into an equivalent set of
// TraversalPaths.
type GraphResolveDepths struct {
	IsOfType       int
	HasLeftEntity  int
	HasRightEntity int
}

// SubgraphTraversalParams configures traversal projections appended to the
// compiled plan (spec §4.E step 4). Depth is always bounded — unbounded
// recursion is not permitted.
type SubgraphTraversalParams struct {
	Paths  []TraversalPath
	Legacy *GraphResolveDepths
}

// resolvedPaths normalizes Legacy into TraversalPaths if Paths is empty.
func (p SubgraphTraversalParams) resolvedPaths() []TraversalPath {
	if len(p.Paths) > 0 || p.Legacy == nil {
		return p.Paths
	}
	var out []TraversalPath
	if p.Legacy.IsOfType > 0 {
		out = append(out, TraversalPath{Edge: EdgeIsOfType, Direction: Outgoing, MaxDepth: p.Legacy.IsOfType})
	}
	if p.Legacy.HasLeftEntity > 0 {
		out = append(out, TraversalPath{Edge: EdgeHasLeftEntity, Direction: Outgoing, MaxDepth: p.Legacy.HasLeftEntity})
	}
	if p.Legacy.HasRightEntity > 0 {
		out = append(out, TraversalPath{Edge: EdgeHasRightEntity, Direction: Outgoing, MaxDepth: p.Legacy.HasRightEntity})
	}
	return out
}

// CompilationArtifacts maps logical fields the decoder needs back to their
// result column index, plus the cursor column positions, so row-scanning
// code never hardcodes SELECT-list ordering (spec §4.E step 3).
type CompilationArtifacts struct {
	ColumnIndex   map[string]int
	CursorColumns []string
}

// CompiledQuery is the relational plan emitted by Compile: SQL text, bound
// args, and the artifacts needed to decode result rows.
type CompiledQuery struct {
	SQL       string
	Args      []any
	Artifacts CompilationArtifacts
}

// entityColumns is the fixed decode column set every entity query selects,
// in stable order; column indices are recorded into CompilationArtifacts
// rather than assumed by callers.
var entityColumns = []string{
	"web_id", "entity_uuid", "draft_id", "edition_id",
	"properties", "archived", "provenance", "transaction_time", "decision_time",
}

// Compiler compiles Filter[EntityQueryPath] values into SQL against the
// relational schema in spec §6.1. It caches compiled plans by filter shape
// so that structurally-identical filters reuse the same prepared statement
// (spec §4.E "must guarantee ... byte-identical SQL").
type Compiler struct {
	planCache *ristretto.Cache

	latencyMu *sync.Mutex
	latency   *tdigest.TDigest
}

// NewCompiler constructs a Compiler with a bounded-by-shape-count plan
// cache (spec §5: "Prepared-statement cache is ... bounded-by-filter-shape
// count").
func NewCompiler() (*Compiler, error) {
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: 10_000,
		MaxCost:     1_000, // bounded by distinct filter *shapes*, not row volume
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("query: construct plan cache: %w", err)
	}
	return &Compiler{planCache: cache, latencyMu: &sync.Mutex{}, latency: tdigest.NewWithCompression(100)}, nil
}

// CompileLatencyQuantile reports the q-quantile (0 < q < 1) of every
// Compile call's wall-clock duration observed so far, in seconds.
// internal/telemetry exposes this alongside CompileLatencyHistogram so a
// dashboard can read an exact p99 without histogram bucket interpolation.
func (c *Compiler) CompileLatencyQuantile(q float64) float64 {
	c.latencyMu.Lock()
	defer c.latencyMu.Unlock()
	return c.latency.Quantile(q)
}

// joinBuilder tracks aliases assigned per (conditionIndex, chainDepth,
// number) so that structurally identical join chains share an alias (spec
// §4.E step 2), and accumulates the squirrel join clauses in the order
// they were first requested.
type joinBuilder struct {
	aliases map[string]string // canonical chain key -> alias
	joins   []string          // rendered "JOIN ... AS alias ON ..." clauses, in first-seen order
	next    int
}

func newJoinBuilder() *joinBuilder {
	return &joinBuilder{aliases: make(map[string]string)}
}

// aliasFor returns the existing alias for chainKey, or allocates and
// registers a new one via makeJoin.
func (jb *joinBuilder) aliasFor(chainKey string, makeJoin func(alias string) string) string {
	if alias, ok := jb.aliases[chainKey]; ok {
		return alias
	}
	alias := fmt.Sprintf("j%d", jb.next)
	jb.next++
	jb.aliases[chainKey] = alias
	jb.joins = append(jb.joins, makeJoin(alias))
	return alias
}

// cachedPlan is the shape-keyed portion of a compiled query: the rendered
// SQL text and its column artifacts. Args are never cached, since they
// carry this call's concrete literal values.
type cachedPlan struct {
	SQL       string
	Artifacts CompilationArtifacts
}

// Compile turns f into a relational plan reading entity_editions joined to
// entity_temporal_metadata (base table) and entity_is_of_type /
// ontology_ids / entity_types as needed, per spec §4.E. Plans are cached by
// filter shape (spec §5): two filters with the same operator tree and path
// set but different literal values render to the same SQL and reuse the
// cached rendering, paying only for the argument walk.
func (c *Compiler) Compile(f EntityFilter, resolution temporal.Resolution, params SubgraphTraversalParams, cursor *temporal.Cursor, limit int) (CompiledQuery, error) {
	start := time.Now()
	cacheLabel := "miss"
	defer func() {
		elapsed := time.Since(start).Seconds()
		CompileLatencyHistogram.WithLabelValues(cacheLabel).Observe(elapsed)
		c.latencyMu.Lock()
		c.latency.Add(elapsed, 1)
		c.latencyMu.Unlock()
	}()

	coerced, err := filter.Coerce(f)
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("query: coerce filter: %w", err)
	}

	jb := newJoinBuilder()
	whereSQL, args, err := compileFilterSQL(coerced, jb)
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("query: compile filter: %w", err)
	}

	temporalSQL, temporalArgs := compileTemporalResolution(resolution)
	args = append(args, temporalArgs...)

	var cursorSQL string
	if cursor != nil {
		var cursorArgs []any
		cursorSQL, cursorArgs = compileCursorPredicate(*cursor)
		args = append(args, cursorArgs...)
	}

	shapeKey := fmt.Sprintf("%s|%v|%d|%t|%d", shapeOf(coerced), resolution.Pinned, len(params.resolvedPaths()), cursor != nil, limit)

	if cached, ok := c.planCache.Get(shapeKey); ok {
		cacheLabel = "hit"
		plan := cached.(cachedPlan)
		return CompiledQuery{SQL: plan.SQL, Args: args, Artifacts: plan.Artifacts}, nil
	}

	builder := sq.
		Select(prefixedColumns("m", entityColumns)...).
		From("entity_temporal_metadata AS m").
		Join("entity_editions AS ed ON ed.edition_id = m.edition_id")

	var traversalColumns []string
	for _, tp := range params.resolvedPaths() {
		alias := jb.aliasFor(traversalChainKey(tp), func(alias string) string {
			return traversalJoinClause(tp, alias)
		})
		traversalColumns = append(traversalColumns,
			fmt.Sprintf("%s.target_web_id AS trav_%s_web_id", alias, alias),
			fmt.Sprintf("%s.target_entity_uuid AS trav_%s_uuid", alias, alias))
	}

	// jb.joins now holds every join discovered compiling the filter AND
	// every traversal path; attach them all in one pass so a traversal's
	// JOIN clause is never silently dropped (it must land before its alias
	// is referenced in the SELECT list built below).
	for _, j := range jb.joins {
		builder = builder.JoinClause(j)
	}
	if len(traversalColumns) > 0 {
		builder = builder.Columns(traversalColumns...)
	}

	builder = builder.Where(sq.Expr(whereSQL))
	if temporalSQL != "" {
		builder = builder.Where(sq.Expr(temporalSQL))
	}

	// Stable cursor ordering, per spec §4.E step 3.
	builder = builder.OrderBy(
		"m.transaction_time DESC", // revision_id surrogate: upper-bounded by transaction_time lower
		"m.entity_uuid ASC",
		"m.draft_id ASC NULLS FIRST",
		"m.web_id ASC",
	)

	if cursorSQL != "" {
		builder = builder.Where(sq.Expr(cursorSQL))
	}

	if limit > 0 {
		builder = builder.Limit(uint64(limit))
	}

	sqlText, _, err := builder.PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return CompiledQuery{}, fmt.Errorf("query: render sql: %w", err)
	}

	artifacts := CompilationArtifacts{
		ColumnIndex:   columnIndexFor(entityColumns),
		CursorColumns: []string{"transaction_time", "entity_uuid", "draft_id", "web_id"},
	}

	c.planCache.Set(shapeKey, cachedPlan{SQL: sqlText, Artifacts: artifacts}, 1)

	return CompiledQuery{SQL: sqlText, Args: args, Artifacts: artifacts}, nil
}

// shapeOf renders f's operator tree and path set without its literal
// values, the structural key plans are cached by.
func shapeOf(f EntityFilter) string {
	switch f.Op {
	case filter.OpAll, filter.OpAny:
		s := f.Op.String() + "("
		for i, c := range f.Combinators {
			if i > 0 {
				s += ","
			}
			s += shapeOf(c)
		}
		return s + ")"
	case filter.OpNot:
		return "not(" + shapeOf(*f.Inner) + ")"
	case filter.OpIn:
		return fmt.Sprintf("in(%s,%d)", exprShape(*f.Lhs), len(f.List))
	default:
		rhs := "null"
		if f.Rhs != nil {
			rhs = exprShape(*f.Rhs)
		}
		return fmt.Sprintf("%s(%s,%s)", f.Op, exprShape(*f.Lhs), rhs)
	}
}

func exprShape(e filter.Expression[EntityQueryPath]) string {
	if e.IsPath {
		return "path:" + e.Path.String()
	}
	return "param"
}

func columnIndexFor(columns []string) map[string]int {
	idx := make(map[string]int, len(columns))
	for i, col := range columns {
		idx[col] = i
	}
	return idx
}

func prefixedColumns(alias string, columns []string) []string {
	out := make([]string, len(columns))
	for i, c := range columns {
		out[i] = fmt.Sprintf("%s.%s", alias, c)
	}
	return out
}

func compileTemporalResolution(r temporal.Resolution) (string, []any) {
	pinnedCol := "m.decision_time"
	variableCol := "m.transaction_time"
	if r.Pinned == temporal.TransactionTimeAxis {
		pinnedCol, variableCol = variableCol, pinnedCol
	}
	var sql string
	var args []any
	sql = fmt.Sprintf("%s @> ?::timestamptz", pinnedCol)
	args = append(args, r.PinnedAt)
	if !r.VariableRange.Upper.Unbounded {
		sql += fmt.Sprintf(" AND %s && tstzrange(?, ?, '[)')", variableCol)
		args = append(args, r.VariableRange.Lower.Instant, r.VariableRange.Upper.Instant)
	}
	return sql, args
}

func compileCursorPredicate(c temporal.Cursor) (string, []any) {
	// Keyset predicate realizing the (transaction_time DESC, entity_uuid ASC,
	// draft_id ASC NULLS FIRST, web_id ASC) row order: strictly-after the
	// cursor row in that composite order.
	draftPred := "m.draft_id IS NULL"
	if c.DraftId != nil {
		draftPred = "m.draft_id = ?"
	}
	sql := fmt.Sprintf(`(m.transaction_time < ?) OR
		(m.transaction_time = ? AND m.entity_uuid > ?) OR
		(m.transaction_time = ? AND m.entity_uuid = ? AND NOT (%s) AND m.web_id > ?)`,
		draftPred)
	args := []any{c.RevisionId, c.RevisionId, c.EntityUuid.String(), c.RevisionId, c.EntityUuid.String()}
	if c.DraftId != nil {
		args = append(args, c.DraftId.String())
	}
	args = append(args, c.WebId.String())
	return sql, args
}

func traversalChainKey(tp TraversalPath) string {
	return fmt.Sprintf("trav:%d:%d:%d", tp.Edge, tp.Direction, tp.MaxDepth)
}

func traversalJoinClause(tp TraversalPath, alias string) string {
	sourceCol := "source_web_id, source_entity_uuid"
	if tp.Direction == Incoming {
		sourceCol = "target_web_id, target_entity_uuid"
	}
	return fmt.Sprintf(
		"LEFT JOIN entity_edge AS %s ON (%s.%s) = (m.web_id, m.entity_uuid) AND %s.edge_kind = %d",
		alias, alias, sourceCol, alias, tp.Edge,
	)
}

// compileFilterSQL renders f as a SQL boolean expression with ?-style
// placeholders (converted to $N by PlaceholderFormat at the top level),
// materializing any join chain a path requires via jb.
func compileFilterSQL(f EntityFilter, jb *joinBuilder) (string, []any, error) {
	switch f.Op {
	case filter.OpAll:
		return combineSQL(f.Combinators, " AND ", jb)
	case filter.OpAny:
		return combineSQL(f.Combinators, " OR ", jb)
	case filter.OpNot:
		inner, args, err := compileFilterSQL(*f.Inner, jb)
		if err != nil {
			return "", nil, err
		}
		return "NOT (" + inner + ")", args, nil
	case filter.OpIn:
		lhsSQL, lhsArgs, err := compileExpr(*f.Lhs, jb)
		if err != nil {
			return "", nil, err
		}
		placeholders := make([]string, len(f.List))
		var args []any
		args = append(args, lhsArgs...)
		for i, item := range f.List {
			itemSQL, itemArgs, err := compileExpr(item, jb)
			if err != nil {
				return "", nil, err
			}
			placeholders[i] = itemSQL
			args = append(args, itemArgs...)
		}
		return fmt.Sprintf("%s IN (%s)", lhsSQL, joinComma(placeholders)), args, nil
	case filter.OpCosineDistance:
		lhsSQL, lhsArgs, err := compileExpr(*f.Lhs, jb)
		if err != nil {
			return "", nil, err
		}
		rhsSQL, rhsArgs, err := compileExpr(*f.Rhs, jb)
		if err != nil {
			return "", nil, err
		}
		return fmt.Sprintf("(%s <=> %s) <= %s", lhsSQL, rhsSQL, strconv.FormatFloat(f.Threshold, 'f', -1, 64)),
			append(lhsArgs, rhsArgs...), nil
	default:
		return compileBinary(f, jb)
	}
}

func combineSQL(filters []EntityFilter, sep string, jb *joinBuilder) (string, []any, error) {
	if len(filters) == 0 {
		if sep == " AND " {
			return "TRUE", nil, nil
		}
		return "FALSE", nil, nil
	}
	var parts []string
	var args []any
	for _, inner := range filters {
		sql, innerArgs, err := compileFilterSQL(inner, jb)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, "("+sql+")")
		args = append(args, innerArgs...)
	}
	return joinSep(parts, sep), args, nil
}

func compileBinary(f EntityFilter, jb *joinBuilder) (string, []any, error) {
	lhsSQL, lhsArgs, err := compileExpr(*f.Lhs, jb)
	if err != nil {
		return "", nil, err
	}
	var args []any
	args = append(args, lhsArgs...)

	if f.Rhs == nil {
		switch f.Op {
		case filter.OpEqual:
			return lhsSQL + " IS NULL", args, nil
		case filter.OpNotEqual:
			return lhsSQL + " IS NOT NULL", args, nil
		default:
			return "", nil, fmt.Errorf("operator %s requires a right-hand side", f.Op)
		}
	}

	rhsSQL, rhsArgs, err := compileExpr(*f.Rhs, jb)
	if err != nil {
		return "", nil, err
	}
	args = append(args, rhsArgs...)

	operator, ok := sqlOperator(f.Op)
	if !ok {
		return "", nil, fmt.Errorf("unsupported binary operator %s", f.Op)
	}
	switch f.Op {
	case filter.OpStartsWith:
		return fmt.Sprintf("%s LIKE %s || '%%'", lhsSQL, rhsSQL), args, nil
	case filter.OpEndsWith:
		return fmt.Sprintf("%s LIKE '%%' || %s", lhsSQL, rhsSQL), args, nil
	case filter.OpContainsSegment:
		return fmt.Sprintf("%s LIKE '%%' || %s || '%%'", lhsSQL, rhsSQL), args, nil
	default:
		return fmt.Sprintf("%s %s %s", lhsSQL, operator, rhsSQL), args, nil
	}
}

func sqlOperator(op filter.Op) (string, bool) {
	switch op {
	case filter.OpEqual:
		return "=", true
	case filter.OpNotEqual:
		return "!=", true
	case filter.OpGreater:
		return ">", true
	case filter.OpGreaterOrEqual:
		return ">=", true
	case filter.OpLess:
		return "<", true
	case filter.OpLessOrEqual:
		return "<=", true
	case filter.OpStartsWith, filter.OpEndsWith, filter.OpContainsSegment:
		return "LIKE", true
	default:
		return "", false
	}
}

// compileExpr renders one Expression[EntityQueryPath]: a path materializes
// its join chain via jb and returns a column reference; a parameter
// returns a placeholder and its bound arg.
func compileExpr(e filter.Expression[EntityQueryPath], jb *joinBuilder) (string, []any, error) {
	if !e.IsPath {
		return "?", []any{e.Param.Value}, nil
	}
	return compilePath(e.Path, jb)
}

func compilePath(p EntityQueryPath, jb *joinBuilder) (string, []any, error) {
	switch p.Kind {
	case PathUuid:
		return "m.entity_uuid", nil, nil
	case PathWebId:
		return "m.web_id", nil, nil
	case PathDraftId:
		return "m.draft_id", nil, nil
	case PathEditionId:
		return "m.edition_id", nil, nil
	case PathArchived:
		return "ed.archived", nil, nil
	case PathRecordCreatedById:
		return "ed.provenance->>'createdById'", nil, nil
	case PathRecordCreatedAtTransactionTime:
		return "lower(m.transaction_time)", nil, nil
	case PathRecordCreatedAtDecisionTime:
		return "lower(m.decision_time)", nil, nil
	case PathEmbedding:
		return "emb.embedding", nil, nil

	case PathProperties:
		if p.PropertyBaseUrl == nil {
			return "ed.properties", nil, nil
		}
		return "ed.properties -> ?", []any{string(*p.PropertyBaseUrl)}, nil

	case PathEntityTypeEdge:
		depthKey := "any"
		if p.InheritanceDepth != nil {
			depthKey = strconv.Itoa(*p.InheritanceDepth)
		}
		chainKey := fmt.Sprintf("type_edge:%d:%s", p.EdgeKind, depthKey)
		alias := jb.aliasFor(chainKey, func(alias string) string {
			depthPred := ""
			if p.InheritanceDepth != nil {
				depthPred = fmt.Sprintf(" AND %s.inheritance_depth = %d", alias, *p.InheritanceDepth)
			}
			return fmt.Sprintf(
				"JOIN entity_is_of_type AS %s ON %s.edition_id = m.edition_id%s JOIN entity_types AS %s_et ON %s_et.ontology_id = %s.entity_type_ontology_id",
				alias, alias, depthPred, alias, alias, alias,
			)
		})
		switch p.EntityTypePath {
		case EntityTypeBaseUrl:
			return fmt.Sprintf("%s_et.base_url", alias), nil, nil
		case EntityTypeVersion:
			return fmt.Sprintf("%s_et.version", alias), nil, nil
		case EntityTypeTitle:
			return fmt.Sprintf("%s_et.title", alias), nil, nil
		}
		return "", nil, fmt.Errorf("unsupported entity type path %s", p.EntityTypePath)

	case PathLeftEntity, PathRightEntity:
		col := "left_entity"
		if p.Kind == PathRightEntity {
			col = "right_entity"
		}
		chainKey := "link:" + col
		alias := jb.aliasFor(chainKey, func(alias string) string {
			return fmt.Sprintf(
				"LEFT JOIN entity_editions AS %s ON %s.edition_id = (SELECT ld.%s_edition_id FROM entity_link_data ld WHERE ld.edition_id = ed.edition_id)",
				alias, alias, col,
			)
		})
		if p.Nested == nil {
			return alias + ".edition_id", nil, nil
		}
		nestedSQL, nestedArgs, err := compilePath(*p.Nested, jb)
		if err != nil {
			return "", nil, err
		}
		return nestedSQL, nestedArgs, nil

	default:
		return "", nil, fmt.Errorf("unsupported path kind %v", p.Kind)
	}
}

func joinComma(parts []string) string { return joinSep(parts, ", ") }

func joinSep(parts []string, sep string) string {
	if len(parts) == 0 {
		return ""
	}
	out := parts[0]
	for _, p := range parts[1:] {
		out += sep + p
	}
	return out
}
