package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"HireScout/internal/domain"
	"HireScout/internal/ports"
)

func errMatchNotFound(id string) error {
	return fmt.Errorf("match %s not found", id)
}

// SQLStore bundles squirrel-built repositories over a database/sql handle.
// The placeholder format is the only thing that differs between the Postgres
// and SQLite backends.
type SQLStore struct {
	Posts   *SQLPosts
	Matches *SQLMatches
	Quota   *SQLQuota
	db      *sql.DB
}

func newSQLStore(db *sql.DB, placeholder sq.PlaceholderFormat) *SQLStore {
	builder := sq.StatementBuilder.PlaceholderFormat(placeholder)
	return &SQLStore{
		Posts:   &SQLPosts{db: db, builder: builder},
		Matches: &SQLMatches{db: db, builder: builder},
		Quota:   &SQLQuota{db: db, builder: builder},
		db:      db,
	}
}

// Close releases the underlying connection pool.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// SQLPosts persists canonical postings.
type SQLPosts struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.PostRepository = (*SQLPosts)(nil)

var postColumns = []string{"id", "url", "external_id", "text_content", "raw_html", "processed", "created_at"}

// FindByURLOrExternalID returns nil when no post matches either key.
func (p *SQLPosts) FindByURLOrExternalID(ctx context.Context, url, externalID string) (*domain.GlobalPost, error) {
	var conds sq.Or
	if url != "" {
		conds = append(conds, sq.Eq{"url": url})
	}
	if externalID != "" {
		conds = append(conds, sq.Eq{"external_id": externalID})
	}
	if len(conds) == 0 {
		return nil, nil
	}

	query, args, err := p.builder.
		Select(postColumns...).
		From("global_posts").
		Where(conds).
		OrderBy("created_at ASC").
		Limit(1).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find post: %w", err)
	}

	post, err := scanPost(p.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find post: %w", err)
	}
	return post, nil
}

// Create inserts the post; on a url or external-id conflict the earlier row wins.
func (p *SQLPosts) Create(ctx context.Context, post domain.GlobalPost) (*domain.GlobalPost, error) {
	if post.ID == "" {
		post.ID = uuid.NewString()
	}
	if post.CreatedAt.IsZero() {
		post.CreatedAt = time.Now().UTC()
	}

	query, args, err := p.builder.
		Insert("global_posts").
		Columns(postColumns...).
		Values(post.ID, post.URL, nullable(post.ExternalID), post.Text, post.RawHTML, post.Processed, post.CreatedAt).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build insert post: %w", err)
	}

	res, err := p.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert post: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		existing, err := p.FindByURLOrExternalID(ctx, post.URL, post.ExternalID)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return existing, nil
		}
		return nil, fmt.Errorf("post %s conflicted but is not retrievable", post.URL)
	}

	stored := post
	return &stored, nil
}

func scanPost(row *sql.Row) (*domain.GlobalPost, error) {
	var (
		post       domain.GlobalPost
		externalID sql.NullString
	)
	if err := row.Scan(&post.ID, &post.URL, &externalID, &post.Text, &post.RawHTML, &post.Processed, &post.CreatedAt); err != nil {
		return nil, err
	}
	post.ExternalID = externalID.String
	return &post, nil
}

// SQLMatches persists per-recipient match state.
type SQLMatches struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.MatchRepository = (*SQLMatches)(nil)

var matchColumns = []string{
	"id", "recipient_id", "post_id", "score", "tier", "contactable",
	"visible", "shown_at", "applied", "applied_at", "created_at",
}

// Create inserts the match; created is false for an existing (recipient, post) pair.
func (m *SQLMatches) Create(ctx context.Context, match domain.Match) (*domain.Match, bool, error) {
	if match.ID == "" {
		match.ID = uuid.NewString()
	}
	if match.CreatedAt.IsZero() {
		match.CreatedAt = time.Now().UTC()
	}
	if match.Tier == "" {
		match.Tier = domain.TierPending
	}

	query, args, err := m.builder.
		Insert("matches").
		Columns(matchColumns...).
		Values(match.ID, match.RecipientID, match.PostID, match.Score, string(match.Tier), match.Contactable,
			match.Visible, nullTime(match.ShownAt), match.Applied, nullTime(match.AppliedAt), match.CreatedAt).
		Suffix("ON CONFLICT DO NOTHING").
		ToSql()
	if err != nil {
		return nil, false, fmt.Errorf("build insert match: %w", err)
	}

	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("insert match: %w", err)
	}

	if affected, _ := res.RowsAffected(); affected == 0 {
		existing, err := m.findByKey(ctx, match.RecipientID, match.PostID)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	}

	stored := match
	return &stored, true, nil
}

func (m *SQLMatches) findByKey(ctx context.Context, recipientID, postID string) (*domain.Match, error) {
	query, args, err := m.builder.
		Select(matchColumns...).
		From("matches").
		Where(sq.Eq{"recipient_id": recipientID, "post_id": postID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find match: %w", err)
	}

	match, err := scanMatch(m.db.QueryRowContext(ctx, query, args...).Scan)
	if err != nil {
		return nil, fmt.Errorf("find match: %w", err)
	}
	return match, nil
}

// UpdateScore records the scorer verdict on a match.
func (m *SQLMatches) UpdateScore(ctx context.Context, matchID string, score float64, tier domain.QualityTier, contactable bool) error {
	query, args, err := m.builder.
		Update("matches").
		Set("score", score).
		Set("tier", string(tier)).
		Set("contactable", contactable).
		Where(sq.Eq{"id": matchID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build update score: %w", err)
	}

	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update score: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errMatchNotFound(matchID)
	}
	return nil
}

// SetVisibility flips the visibility flag and shown timestamp.
func (m *SQLMatches) SetVisibility(ctx context.Context, matchID string, visible bool, shownAt *time.Time) error {
	query, args, err := m.builder.
		Update("matches").
		Set("visible", visible).
		Set("shown_at", nullTime(shownAt)).
		Where(sq.Eq{"id": matchID}).
		ToSql()
	if err != nil {
		return fmt.Errorf("build set visibility: %w", err)
	}

	res, err := m.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("set visibility: %w", err)
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return errMatchNotFound(matchID)
	}
	return nil
}

// CountVisibleContactable counts visible contactable matches shown in the window.
func (m *SQLMatches) CountVisibleContactable(ctx context.Context, recipientID string, since time.Time) (int, error) {
	query, args, err := m.builder.
		Select("COUNT(*)").
		From("matches").
		Where(sq.Eq{"recipient_id": recipientID, "visible": true, "contactable": true}).
		Where(sq.GtOrEq{"shown_at": since}).
		ToSql()
	if err != nil {
		return 0, fmt.Errorf("build count visible: %w", err)
	}

	var count int
	if err := m.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count visible: %w", err)
	}
	return count, nil
}

// VisibleContactable lists counted matches ordered by ShownAt ascending.
func (m *SQLMatches) VisibleContactable(ctx context.Context, recipientID string, since time.Time) ([]domain.Match, error) {
	query, args, err := m.builder.
		Select(matchColumns...).
		From("matches").
		Where(sq.Eq{"recipient_id": recipientID, "visible": true, "contactable": true}).
		Where(sq.GtOrEq{"shown_at": since}).
		OrderBy("shown_at ASC", "id ASC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build list visible: %w", err)
	}

	rows, err := m.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list visible: %w", err)
	}
	defer rows.Close()

	var out []domain.Match
	for rows.Next() {
		match, err := scanMatch(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan match: %w", err)
		}
		out = append(out, *match)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate matches: %w", err)
	}
	return out, nil
}

func scanMatch(scan func(dest ...any) error) (*domain.Match, error) {
	var (
		match     domain.Match
		tier      string
		shownAt   sql.NullTime
		appliedAt sql.NullTime
	)
	err := scan(&match.ID, &match.RecipientID, &match.PostID, &match.Score, &tier, &match.Contactable,
		&match.Visible, &shownAt, &match.Applied, &appliedAt, &match.CreatedAt)
	if err != nil {
		return nil, err
	}
	match.Tier = domain.QualityTier(tier)
	if shownAt.Valid {
		t := shownAt.Time
		match.ShownAt = &t
	}
	if appliedAt.Valid {
		t := appliedAt.Time
		match.AppliedAt = &t
	}
	return &match, nil
}

// SQLQuota persists per-recipient window counters.
type SQLQuota struct {
	db      *sql.DB
	builder sq.StatementBuilderType
}

var _ ports.QuotaRepository = (*SQLQuota)(nil)

// Window returns nil when the recipient has no stored window yet.
func (q *SQLQuota) Window(ctx context.Context, recipientID string) (*domain.QuotaWindow, error) {
	query, args, err := q.builder.
		Select("recipient_id", "count", "cap_limit", "reset_at").
		From("quota_windows").
		Where(sq.Eq{"recipient_id": recipientID}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("build find window: %w", err)
	}

	var window domain.QuotaWindow
	err = q.db.QueryRowContext(ctx, query, args...).
		Scan(&window.RecipientID, &window.Count, &window.Limit, &window.ResetAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find window: %w", err)
	}
	return &window, nil
}

// SaveWindow upserts the recipient window.
func (q *SQLQuota) SaveWindow(ctx context.Context, window domain.QuotaWindow) error {
	query, args, err := q.builder.
		Insert("quota_windows").
		Columns("recipient_id", "count", "cap_limit", "reset_at").
		Values(window.RecipientID, window.Count, window.Limit, window.ResetAt).
		Suffix(`ON CONFLICT (recipient_id) DO UPDATE
                SET count = excluded.count,
                    cap_limit = excluded.cap_limit,
                    reset_at = excluded.reset_at`).
		ToSql()
	if err != nil {
		return fmt.Errorf("build save window: %w", err)
	}

	if _, err := q.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("save window: %w", err)
	}
	return nil
}

func nullable(value string) any {
	if value == "" {
		return nil
	}
	return value
}

func nullTime(value *time.Time) any {
	if value == nil {
		return nil
	}
	return *value
}
