package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// PostgresConfig configures the Postgres-backed catalog
type PostgresConfig struct {
	DSN             string        `mapstructure:"dsn"`
	Table           string        `mapstructure:"table"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	QueryTimeout    time.Duration `mapstructure:"query_timeout"`
}

const candidateColumns = `id, title, body, category, tags, intent_category, usage_count,
	average_rating, quality_score, complexity_score, success_rate, is_featured`

// candidateRow mirrors a templates row; tags live in a text[] column
type candidateRow struct {
	Candidate
	Tags pq.StringArray `db:"tags"`
}

func (r candidateRow) toCandidate() Candidate {
	c := r.Candidate
	c.Tags = []string(r.Tags)
	return c
}

// PostgresCatalog reads templates from a Postgres table
type PostgresCatalog struct {
	db           *sqlx.DB
	table        string
	queryTimeout time.Duration
}

// NewPostgresCatalog opens a connection pool and verifies it
func NewPostgresCatalog(ctx context.Context, cfg PostgresConfig) (*PostgresCatalog, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to catalog database: %w", err)
	}

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	return NewPostgresCatalogFromDB(db, cfg.Table, cfg.QueryTimeout), nil
}

// NewPostgresCatalogFromDB wraps an existing handle
func NewPostgresCatalogFromDB(db *sqlx.DB, table string, queryTimeout time.Duration) *PostgresCatalog {
	if table == "" {
		table = "templates"
	}
	if queryTimeout <= 0 {
		queryTimeout = 5 * time.Second
	}
	return &PostgresCatalog{db: db, table: table, queryTimeout: queryTimeout}
}

// Close releases the connection pool
func (p *PostgresCatalog) Close() error {
	return p.db.Close()
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern matches phrase literally anywhere in an ILIKE ... ESCAPE '\' operand
func containsPattern(phrase string) string {
	return "%" + likeEscaper.Replace(phrase) + "%"
}

// buildQuery renders a Filter into SQL with positional arguments
func (p *PostgresCatalog) buildQuery(f Filter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)

	phrase := strings.TrimSpace(f.Text)
	if phrase != "" {
		like := containsPattern(phrase)
		where = append(where, `(title ILIKE ? ESCAPE '\' OR body ILIKE ? ESCAPE '\' OR tags && ?)`)
		args = append(args, like, like, pq.Array(QueryWords(phrase)))
	}
	if f.Category != "" {
		where = append(where, "LOWER(category) = LOWER(?)")
		args = append(args, f.Category)
	}
	if f.IntentCategory != "" {
		where = append(where, "intent_category = ?")
		args = append(args, f.IntentCategory)
	}
	if len(f.Tags) > 0 {
		where = append(where, "tags && ?")
		args = append(args, pq.Array(f.Tags))
	}
	if f.FeaturedOrMinRating > 0 {
		where = append(where, "(is_featured OR average_rating >= ?)")
		args = append(args, f.FeaturedOrMinRating)
	}
	if f.ExcludeID != "" {
		where = append(where, "id <> ?")
		args = append(args, f.ExcludeID)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s", candidateColumns, p.table)
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}

	switch f.Order {
	case OrderIntentComposite:
		b.WriteString(" ORDER BY (quality_score + success_rate * 20 + average_rating * 10) DESC, id ASC")
	case OrderRating:
		b.WriteString(" ORDER BY average_rating DESC, usage_count DESC, id ASC")
	case OrderUsage:
		b.WriteString(" ORDER BY usage_count DESC, average_rating DESC, id ASC")
	default:
		if phrase != "" {
			b.WriteString(` ORDER BY CASE WHEN title ILIKE ? ESCAPE '\' THEN 2 WHEN body ILIKE ? ESCAPE '\' THEN 1 ELSE 0 END DESC,`)
			like := containsPattern(phrase)
			args = append(args, like, like)
		} else {
			b.WriteString(" ORDER BY")
		}
		b.WriteString(" usage_count DESC, average_rating DESC, quality_score DESC, id ASC")
	}

	if f.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, f.Limit)
	}

	return p.db.Rebind(b.String()), args
}

// Query implements Catalog
func (p *PostgresCatalog) Query(ctx context.Context, f Filter) ([]Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	query, args := p.buildQuery(f)
	var rows []candidateRow
	if err := p.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("catalog query failed: %w", err)
	}

	out := make([]Candidate, len(rows))
	for i, r := range rows {
		out[i] = r.toCandidate()
	}
	return out, nil
}

// Stream implements Catalog, scanning rows one at a time
func (p *PostgresCatalog) Stream(ctx context.Context, f Filter) iter.Seq2[Candidate, error] {
	return func(yield func(Candidate, error) bool) {
		query, args := p.buildQuery(f)
		rows, err := p.db.QueryxContext(ctx, query, args...)
		if err != nil {
			yield(Candidate{}, fmt.Errorf("catalog stream failed: %w", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			var r candidateRow
			if err := rows.StructScan(&r); err != nil {
				yield(Candidate{}, fmt.Errorf("catalog stream scan failed: %w", err))
				return
			}
			if !yield(r.toCandidate(), nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(Candidate{}, fmt.Errorf("catalog stream failed: %w", err))
		}
	}
}

// Get implements Catalog
func (p *PostgresCatalog) Get(ctx context.Context, id string) (Candidate, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	query := p.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ?", candidateColumns, p.table))
	var r candidateRow
	if err := p.db.GetContext(ctx, &r, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Candidate{}, ErrNotFound
		}
		return Candidate{}, fmt.Errorf("catalog get failed: %w", err)
	}
	return r.toCandidate(), nil
}

// GetByIDs implements Catalog
func (p *PostgresCatalog) GetByIDs(ctx context.Context, ids []string) (map[string]Candidate, error) {
	out := make(map[string]Candidate, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	query := p.db.Rebind(fmt.Sprintf("SELECT %s FROM %s WHERE id = ANY(?)", candidateColumns, p.table))
	var rows []candidateRow
	if err := p.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("catalog batch get failed: %w", err)
	}
	for _, r := range rows {
		out[r.ID] = r.toCandidate()
	}
	return out, nil
}

// Categories implements Catalog
func (p *PostgresCatalog) Categories(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.queryTimeout)
	defer cancel()

	var categories []string
	query := fmt.Sprintf("SELECT DISTINCT category FROM %s ORDER BY category", p.table)
	if err := p.db.SelectContext(ctx, &categories, query); err != nil {
		return nil, fmt.Errorf("catalog categories failed: %w", err)
	}
	return categories, nil
}

// Ping implements Catalog
func (p *PostgresCatalog) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}
