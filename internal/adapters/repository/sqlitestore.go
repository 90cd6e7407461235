package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3" // sqlite3 driver registration

	"github.com/forgescore/forgescore/internal/domain/model"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore is the durable Store implementation. All multi-row writes run
// inside transactions so the ledger invariants survive crashes.
type SQLiteStore struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS fingerprints (
	token TEXT PRIMARY KEY,
	delivery_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	action TEXT NOT NULL,
	subject_id INTEGER NOT NULL,
	processed INTEGER NOT NULL DEFAULT 0,
	processed_at INTEGER NOT NULL DEFAULT 0,
	scoring_applied INTEGER NOT NULL DEFAULT 0,
	failure_count INTEGER NOT NULL DEFAULT 0,
	last_error TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS contributions (
	subject_id INTEGER PRIMARY KEY,
	id TEXT NOT NULL,
	number INTEGER NOT NULL,
	repository_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	title TEXT NOT NULL,
	state TEXT NOT NULL,
	diff_size INTEGER NOT NULL,
	score INTEGER NOT NULL,
	active INTEGER NOT NULL,
	opened_at INTEGER NOT NULL DEFAULT 0,
	reviewed_at INTEGER NOT NULL DEFAULT 0,
	approved_at INTEGER NOT NULL DEFAULT 0,
	merged_at INTEGER NOT NULL DEFAULT 0,
	closed_at INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_contributions_author ON contributions(author_id, repository_id, opened_at);
CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	contributor_id TEXT NOT NULL,
	contribution_id TEXT NOT NULL DEFAULT '',
	repository_id TEXT NOT NULL DEFAULT '',
	points INTEGER NOT NULL,
	reason TEXT NOT NULL,
	kind TEXT NOT NULL,
	metadata TEXT,
	created_at INTEGER NOT NULL,
	seq INTEGER
);
CREATE INDEX IF NOT EXISTS idx_transactions_contributor ON transactions(contributor_id, created_at);
CREATE INDEX IF NOT EXISTS idx_transactions_repo ON transactions(repository_id, created_at);
CREATE TABLE IF NOT EXISTS contributors (
	id TEXT PRIMARY KEY,
	balance INTEGER NOT NULL DEFAULT 0,
	first_contribution_at INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS reviews (
	id TEXT PRIMARY KEY,
	contribution_id TEXT NOT NULL,
	reviewer_id TEXT NOT NULL,
	author_id TEXT NOT NULL,
	action TEXT NOT NULL,
	rating INTEGER NOT NULL DEFAULT 0,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_reviews_reviewer ON reviews(reviewer_id, created_at);
CREATE INDEX IF NOT EXISTS idx_reviews_author ON reviews(author_id);
CREATE TABLE IF NOT EXISTS review_claims (
	contribution_id TEXT PRIMARY KEY,
	id TEXT NOT NULL,
	reviewer_id TEXT NOT NULL,
	claimed_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS badge_definitions (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	rarity TEXT NOT NULL DEFAULT '',
	category TEXT NOT NULL DEFAULT '',
	criteria TEXT NOT NULL,
	active INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS badge_awards (
	contributor_id TEXT NOT NULL,
	badge_id TEXT NOT NULL,
	earned_at INTEGER NOT NULL,
	manual INTEGER NOT NULL DEFAULT 0,
	awarded_by TEXT NOT NULL DEFAULT '',
	justification TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	PRIMARY KEY (contributor_id, badge_id)
);
CREATE TABLE IF NOT EXISTS rank_snapshots (
	id TEXT PRIMARY KEY,
	kind TEXT NOT NULL,
	period TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	taken_at INTEGER NOT NULL,
	entries TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_snapshots_kind ON rank_snapshots(kind, period, project_id, taken_at);
CREATE TABLE IF NOT EXISTS repositories (
	id TEXT PRIMARY KEY,
	subject_id INTEGER NOT NULL,
	name TEXT NOT NULL,
	full_name TEXT NOT NULL DEFAULT '',
	project_id TEXT NOT NULL DEFAULT '',
	default_branch TEXT NOT NULL DEFAULT 'main',
	active INTEGER NOT NULL DEFAULT 1
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_repositories_subject ON repositories(subject_id);
CREATE TABLE IF NOT EXISTS projects (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	rules TEXT
);
CREATE TABLE IF NOT EXISTS audit_log (
	id TEXT PRIMARY KEY,
	actor TEXT NOT NULL,
	subject TEXT NOT NULL,
	action TEXT NOT NULL,
	justification TEXT NOT NULL DEFAULT '',
	metadata TEXT,
	created_at INTEGER NOT NULL
);
`

// NewSQLiteStore opens (or creates) the database at path and bootstraps the
// schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, stmt := range pragmas {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply sqlite pragma %q: %w", stmt, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("bootstrap schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func encodeTime(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func decodeTime(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

func encodeMeta(m map[string]any) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("encode metadata: %w", err)
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func decodeMeta(ns sql.NullString) map[string]any {
	if !ns.Valid || strings.TrimSpace(ns.String) == "" {
		return nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(ns.String), &out); err != nil {
		return nil
	}
	return out
}

// ReserveFingerprint inserts unless the token exists, then reads back the
// stored row.
func (s *SQLiteStore) ReserveFingerprint(ctx context.Context, fp model.Fingerprint) (model.Fingerprint, bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO fingerprints
			(token, delivery_id, event_type, action, subject_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		fp.Token, fp.DeliveryID, fp.EventType, fp.Action, fp.SubjectID, encodeTime(fp.CreatedAt))
	if err != nil {
		return model.Fingerprint{}, false, fmt.Errorf("reserve fingerprint: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return model.Fingerprint{}, false, fmt.Errorf("reserve fingerprint: %w", err)
	}
	stored, err := s.getFingerprint(ctx, fp.Token)
	if err != nil {
		return model.Fingerprint{}, false, err
	}
	return stored, n > 0, nil
}

func (s *SQLiteStore) getFingerprint(ctx context.Context, token string) (model.Fingerprint, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT token, delivery_id, event_type, action, subject_id, processed,
		       processed_at, scoring_applied, failure_count, last_error, created_at
		FROM fingerprints WHERE token = ?`, token)
	var (
		fp                     model.Fingerprint
		processed, scoring     int
		processedAt, createdAt int64
	)
	err := row.Scan(&fp.Token, &fp.DeliveryID, &fp.EventType, &fp.Action, &fp.SubjectID,
		&processed, &processedAt, &scoring, &fp.FailureCount, &fp.LastError, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Fingerprint{}, fmt.Errorf("%w: fingerprint %s", ErrNotFound, token)
	}
	if err != nil {
		return model.Fingerprint{}, fmt.Errorf("load fingerprint: %w", err)
	}
	fp.Processed = processed != 0
	fp.ScoringApplied = scoring != 0
	fp.ProcessedAt = decodeTime(processedAt)
	fp.CreatedAt = decodeTime(createdAt)
	return fp, nil
}

// MarkFingerprintProcessed sets the processed flag. Idempotent.
func (s *SQLiteStore) MarkFingerprintProcessed(ctx context.Context, token, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fingerprints SET processed = 1, processed_at = ?, last_error = ?
		WHERE token = ?`, encodeTime(time.Now()), lastError, token)
	if err != nil {
		return fmt.Errorf("mark fingerprint processed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: fingerprint %s", ErrNotFound, token)
	}
	return nil
}

// RecordFingerprintFailure counts a failed attempt without marking processed.
func (s *SQLiteStore) RecordFingerprintFailure(ctx context.Context, token, lastError string) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE fingerprints SET failure_count = failure_count + 1, last_error = ?
		WHERE token = ?`, lastError, token)
	if err != nil {
		return fmt.Errorf("record fingerprint failure: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: fingerprint %s", ErrNotFound, token)
	}
	return nil
}

// ClaimFingerprintScoring flips scoring-applied via a guarded UPDATE; the
// rows-affected count picks the single winner.
func (s *SQLiteStore) ClaimFingerprintScoring(ctx context.Context, token string) (bool, error) {
	return claimScoring(ctx, s.db, token)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func claimScoring(ctx context.Context, ex execer, token string) (bool, error) {
	res, err := ex.ExecContext(ctx, `
		UPDATE fingerprints SET scoring_applied = 1
		WHERE token = ? AND scoring_applied = 0`, token)
	if err != nil {
		return false, fmt.Errorf("claim scoring: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim scoring: %w", err)
	}
	return n > 0, nil
}

// GetContributionBySubject looks a contribution up by its external id.
func (s *SQLiteStore) GetContributionBySubject(ctx context.Context, subjectID int64) (model.Contribution, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT subject_id, id, number, repository_id, author_id, title, state,
		       diff_size, score, active, opened_at, reviewed_at, approved_at,
		       merged_at, closed_at
		FROM contributions WHERE subject_id = ?`, subjectID)
	rec, err := scanContribution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Contribution{}, fmt.Errorf("%w: contribution subject %d", ErrNotFound, subjectID)
	}
	return rec, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanContribution(row rowScanner) (model.Contribution, error) {
	var (
		rec                                              model.Contribution
		active                                           int
		openedAt, reviewedAt, approvedAt, mergedAt, closedAt int64
	)
	err := row.Scan(&rec.SubjectID, &rec.ID, &rec.Number, &rec.RepositoryID, &rec.AuthorID,
		&rec.Title, &rec.State, &rec.DiffSize, &rec.Score, &active,
		&openedAt, &reviewedAt, &approvedAt, &mergedAt, &closedAt)
	if err != nil {
		return model.Contribution{}, err
	}
	rec.Active = active != 0
	rec.OpenedAt = decodeTime(openedAt)
	rec.ReviewedAt = decodeTime(reviewedAt)
	rec.ApprovedAt = decodeTime(approvedAt)
	rec.MergedAt = decodeTime(mergedAt)
	rec.ClosedAt = decodeTime(closedAt)
	return rec, nil
}

// PutContribution upserts a contribution keyed by its external subject id.
func (s *SQLiteStore) PutContribution(ctx context.Context, rec model.Contribution) error {
	if rec.SubjectID == 0 {
		return fmt.Errorf("%w: contribution without subject id", ErrInvalidRecord)
	}
	active := 0
	if rec.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO contributions
			(subject_id, id, number, repository_id, author_id, title, state,
			 diff_size, score, active, opened_at, reviewed_at, approved_at,
			 merged_at, closed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id) DO UPDATE SET
			id = excluded.id, number = excluded.number,
			repository_id = excluded.repository_id, author_id = excluded.author_id,
			title = excluded.title, state = excluded.state,
			diff_size = excluded.diff_size, score = excluded.score,
			active = excluded.active, opened_at = excluded.opened_at,
			reviewed_at = excluded.reviewed_at, approved_at = excluded.approved_at,
			merged_at = excluded.merged_at, closed_at = excluded.closed_at`,
		rec.SubjectID, rec.ID, rec.Number, rec.RepositoryID, rec.AuthorID, rec.Title,
		string(rec.State), rec.DiffSize, rec.Score, active,
		encodeTime(rec.OpenedAt), encodeTime(rec.ReviewedAt), encodeTime(rec.ApprovedAt),
		encodeTime(rec.MergedAt), encodeTime(rec.ClosedAt))
	if err != nil {
		return fmt.Errorf("put contribution: %w", err)
	}
	return nil
}

func (s *SQLiteStore) listContributions(ctx context.Context, query string, args ...any) ([]model.Contribution, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list contributions: %w", err)
	}
	defer rows.Close()
	var out []model.Contribution
	for rows.Next() {
		rec, err := scanContribution(rows)
		if err != nil {
			return nil, fmt.Errorf("scan contribution: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ListContributionsByAuthor returns all of one author's contributions.
func (s *SQLiteStore) ListContributionsByAuthor(ctx context.Context, authorID string) ([]model.Contribution, error) {
	return s.listContributions(ctx, `
		SELECT subject_id, id, number, repository_id, author_id, title, state,
		       diff_size, score, active, opened_at, reviewed_at, approved_at,
		       merged_at, closed_at
		FROM contributions WHERE author_id = ? ORDER BY opened_at`, authorID)
}

// ListContributionsByAuthorRepo narrows by repository and opened-at window.
func (s *SQLiteStore) ListContributionsByAuthorRepo(ctx context.Context, authorID, repoID string, since time.Time) ([]model.Contribution, error) {
	return s.listContributions(ctx, `
		SELECT subject_id, id, number, repository_id, author_id, title, state,
		       diff_size, score, active, opened_at, reviewed_at, approved_at,
		       merged_at, closed_at
		FROM contributions
		WHERE author_id = ? AND repository_id = ? AND opened_at >= ?
		ORDER BY opened_at`, authorID, repoID, encodeTime(since))
}

// CountMergedInRepos counts active merged contributions across repoIDs.
func (s *SQLiteStore) CountMergedInRepos(ctx context.Context, repoIDs []string, contributor string) (int, error) {
	if len(repoIDs) == 0 {
		return 0, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(repoIDs)), ",")
	args := make([]any, 0, len(repoIDs)+2)
	args = append(args, string(model.StateMerged))
	for _, id := range repoIDs {
		args = append(args, id)
	}
	query := `SELECT COUNT(*) FROM contributions
		WHERE state = ? AND active = 1 AND repository_id IN (` + placeholders + `)`
	if contributor != "" {
		query += ` AND author_id = ?`
		args = append(args, contributor)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("count merged contributions: %w", err)
	}
	return count, nil
}

// AppendTransaction appends the entry and folds the balance in one SQL
// transaction, optionally fused with the fingerprint scoring claim.
func (s *SQLiteStore) AppendTransaction(ctx context.Context, txn model.PointTransaction, scoringToken string) (model.PointTransaction, bool, error) {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PointTransaction{}, false, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	if scoringToken != "" {
		won, err := claimScoring(ctx, dbtx, scoringToken)
		if err != nil {
			return model.PointTransaction{}, false, err
		}
		if !won {
			return model.PointTransaction{}, false, nil
		}
	}

	meta, err := encodeMeta(txn.Metadata)
	if err != nil {
		return model.PointTransaction{}, false, err
	}
	if _, err := dbtx.ExecContext(ctx, `
		INSERT INTO transactions
			(id, contributor_id, contribution_id, repository_id, points, reason, kind, metadata, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM transactions))`,
		txn.ID, txn.ContributorID, txn.ContributionID, txn.RepositoryID, txn.Points,
		txn.Reason, string(txn.Kind), meta, encodeTime(txn.CreatedAt)); err != nil {
		return model.PointTransaction{}, false, fmt.Errorf("insert transaction: %w", err)
	}
	if _, err := dbtx.ExecContext(ctx, `
		INSERT INTO contributors (id, balance, first_contribution_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET balance = balance + excluded.balance`,
		txn.ContributorID, txn.Points, encodeTime(txn.CreatedAt), encodeTime(txn.CreatedAt)); err != nil {
		return model.PointTransaction{}, false, fmt.Errorf("fold balance: %w", err)
	}
	if err := dbtx.Commit(); err != nil {
		return model.PointTransaction{}, false, fmt.Errorf("commit transaction: %w", err)
	}
	return txn, true, nil
}

func scanTransaction(row rowScanner) (model.PointTransaction, error) {
	var (
		tx        model.PointTransaction
		meta      sql.NullString
		createdAt int64
	)
	err := row.Scan(&tx.ID, &tx.ContributorID, &tx.ContributionID, &tx.RepositoryID,
		&tx.Points, &tx.Reason, &tx.Kind, &meta, &createdAt)
	if err != nil {
		return model.PointTransaction{}, err
	}
	tx.Metadata = decodeMeta(meta)
	tx.CreatedAt = decodeTime(createdAt)
	return tx, nil
}

// GetTransaction returns one ledger entry by id.
func (s *SQLiteStore) GetTransaction(ctx context.Context, id string) (model.PointTransaction, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, contributor_id, contribution_id, repository_id, points, reason, kind, metadata, created_at
		FROM transactions WHERE id = ?`, id)
	tx, err := scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.PointTransaction{}, fmt.Errorf("%w: transaction %s", ErrNotFound, id)
	}
	if err != nil {
		return model.PointTransaction{}, fmt.Errorf("load transaction: %w", err)
	}
	return tx, nil
}

func (s *SQLiteStore) listTransactions(ctx context.Context, query string, args ...any) ([]model.PointTransaction, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()
	var out []model.PointTransaction
	for rows.Next() {
		tx, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		out = append(out, tx)
	}
	return out, rows.Err()
}

// ListTransactionsByContributor returns entries newest first.
func (s *SQLiteStore) ListTransactionsByContributor(ctx context.Context, contributorID string) ([]model.PointTransaction, error) {
	return s.listTransactions(ctx, `
		SELECT id, contributor_id, contribution_id, repository_id, points, reason, kind, metadata, created_at
		FROM transactions WHERE contributor_id = ? ORDER BY seq DESC`, contributorID)
}

// SumPointsByContributorRepo sums points earned from one repository since
// the given time.
func (s *SQLiteStore) SumPointsByContributorRepo(ctx context.Context, contributorID, repoID string, since time.Time) (int, error) {
	var sum int
	err := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(points), 0) FROM transactions
		WHERE contributor_id = ? AND repository_id = ? AND created_at >= ?`,
		contributorID, repoID, encodeTime(since)).Scan(&sum)
	if err != nil {
		return 0, fmt.Errorf("sum points: %w", err)
	}
	return sum, nil
}

// ListTransactionsInRange filters by creation window and repositories.
func (s *SQLiteStore) ListTransactionsInRange(ctx context.Context, from, to time.Time, repoIDs []string) ([]model.PointTransaction, error) {
	query := `SELECT id, contributor_id, contribution_id, repository_id, points, reason, kind, metadata, created_at
		FROM transactions WHERE 1=1`
	var args []any
	if !from.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, encodeTime(from))
	}
	if !to.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, encodeTime(to))
	}
	if len(repoIDs) > 0 {
		query += ` AND repository_id IN (` + strings.TrimSuffix(strings.Repeat("?,", len(repoIDs)), ",") + `)`
		for _, id := range repoIDs {
			args = append(args, id)
		}
	}
	query += ` ORDER BY seq`
	return s.listTransactions(ctx, query, args...)
}

// GetContributor returns one contributor by id.
func (s *SQLiteStore) GetContributor(ctx context.Context, id string) (model.Contributor, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, balance, first_contribution_at, created_at FROM contributors WHERE id = ?`, id)
	var (
		c                  model.Contributor
		firstAt, createdAt int64
	)
	err := row.Scan(&c.ID, &c.Balance, &firstAt, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Contributor{}, fmt.Errorf("%w: contributor %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Contributor{}, fmt.Errorf("load contributor: %w", err)
	}
	c.FirstContributionAt = decodeTime(firstAt)
	c.CreatedAt = decodeTime(createdAt)
	return c, nil
}

// ListContributors returns every contributor, id order.
func (s *SQLiteStore) ListContributors(ctx context.Context) ([]model.Contributor, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, balance, first_contribution_at, created_at FROM contributors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list contributors: %w", err)
	}
	defer rows.Close()
	var out []model.Contributor
	for rows.Next() {
		var (
			c                  model.Contributor
			firstAt, createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.Balance, &firstAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan contributor: %w", err)
		}
		c.FirstContributionAt = decodeTime(firstAt)
		c.CreatedAt = decodeTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// EnsureContributor creates the record on first sight.
func (s *SQLiteStore) EnsureContributor(ctx context.Context, id string, firstAt time.Time) (model.Contributor, error) {
	if _, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO contributors (id, balance, first_contribution_at, created_at)
		VALUES (?, 0, ?, ?)`, id, encodeTime(firstAt), encodeTime(firstAt)); err != nil {
		return model.Contributor{}, fmt.Errorf("ensure contributor: %w", err)
	}
	return s.GetContributor(ctx, id)
}

// PutReview upserts a review by id.
func (s *SQLiteStore) PutReview(ctx context.Context, review model.Review) error {
	if review.ID == "" {
		return fmt.Errorf("%w: review without id", ErrInvalidRecord)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, contribution_id, reviewer_id, author_id, action, rating, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			action = excluded.action, rating = excluded.rating`,
		review.ID, review.ContributionID, review.ReviewerID, review.AuthorID,
		string(review.Action), review.Rating, encodeTime(review.CreatedAt))
	if err != nil {
		return fmt.Errorf("put review: %w", err)
	}
	return nil
}

func (s *SQLiteStore) listReviews(ctx context.Context, query string, args ...any) ([]model.Review, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list reviews: %w", err)
	}
	defer rows.Close()
	var out []model.Review
	for rows.Next() {
		var (
			r         model.Review
			createdAt int64
		)
		if err := rows.Scan(&r.ID, &r.ContributionID, &r.ReviewerID, &r.AuthorID, &r.Action, &r.Rating, &createdAt); err != nil {
			return nil, fmt.Errorf("scan review: %w", err)
		}
		r.CreatedAt = decodeTime(createdAt)
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListReviewsByContribution returns reviews on one contribution.
func (s *SQLiteStore) ListReviewsByContribution(ctx context.Context, contributionID string) ([]model.Review, error) {
	return s.listReviews(ctx, `
		SELECT id, contribution_id, reviewer_id, author_id, action, rating, created_at
		FROM reviews WHERE contribution_id = ? ORDER BY created_at`, contributionID)
}

// ListReviewsByReviewer returns one reviewer's reviews at or after since.
func (s *SQLiteStore) ListReviewsByReviewer(ctx context.Context, reviewerID string, since time.Time) ([]model.Review, error) {
	return s.listReviews(ctx, `
		SELECT id, contribution_id, reviewer_id, author_id, action, rating, created_at
		FROM reviews WHERE reviewer_id = ? AND created_at >= ? ORDER BY created_at`,
		reviewerID, encodeTime(since))
}

// ListReviewsByAuthor returns reviews received by one author.
func (s *SQLiteStore) ListReviewsByAuthor(ctx context.Context, authorID string) ([]model.Review, error) {
	return s.listReviews(ctx, `
		SELECT id, contribution_id, reviewer_id, author_id, action, rating, created_at
		FROM reviews WHERE author_id = ? ORDER BY created_at`, authorID)
}

// ClaimReview takes the review slot for one contribution.
func (s *SQLiteStore) ClaimReview(ctx context.Context, claim model.ReviewClaim) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO review_claims (contribution_id, id, reviewer_id, claimed_at)
		VALUES (?, ?, ?, ?)`,
		claim.ContributionID, claim.ID, claim.ReviewerID, encodeTime(claim.ClaimedAt))
	if err != nil {
		return false, fmt.Errorf("claim review: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim review: %w", err)
	}
	return n > 0, nil
}

// ReleaseStaleReviewClaims drops claims older than the cutoff.
func (s *SQLiteStore) ReleaseStaleReviewClaims(ctx context.Context, olderThan time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM review_claims WHERE claimed_at < ?`, encodeTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("release stale claims: %w", err)
	}
	return int(n), nil
}

// ListBadgeDefinitions returns the catalog in insertion order.
func (s *SQLiteStore) ListBadgeDefinitions(ctx context.Context) ([]model.BadgeDefinition, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, rarity, category, criteria, active
		FROM badge_definitions ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("list badge definitions: %w", err)
	}
	defer rows.Close()
	var out []model.BadgeDefinition
	for rows.Next() {
		var (
			def      model.BadgeDefinition
			criteria string
			active   int
		)
		if err := rows.Scan(&def.ID, &def.Name, &def.Description, &def.Rarity, &def.Category, &criteria, &active); err != nil {
			return nil, fmt.Errorf("scan badge definition: %w", err)
		}
		if err := json.Unmarshal([]byte(criteria), &def.Criteria); err != nil {
			return nil, fmt.Errorf("decode badge criteria: %w", err)
		}
		def.Active = active != 0
		out = append(out, def)
	}
	return out, rows.Err()
}

// PutBadgeDefinition upserts a catalog entry by badge id.
func (s *SQLiteStore) PutBadgeDefinition(ctx context.Context, def model.BadgeDefinition) error {
	if def.ID == "" {
		return fmt.Errorf("%w: badge definition without id", ErrInvalidRecord)
	}
	criteria, err := json.Marshal(def.Criteria)
	if err != nil {
		return fmt.Errorf("encode badge criteria: %w", err)
	}
	active := 0
	if def.Active {
		active = 1
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO badge_definitions (id, name, description, rarity, category, criteria, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name, description = excluded.description,
			rarity = excluded.rarity, category = excluded.category,
			criteria = excluded.criteria, active = excluded.active`,
		def.ID, def.Name, def.Description, def.Rarity, def.Category, string(criteria), active)
	if err != nil {
		return fmt.Errorf("put badge definition: %w", err)
	}
	return nil
}

// ListBadgeAwards returns one contributor's held badges.
func (s *SQLiteStore) ListBadgeAwards(ctx context.Context, contributorID string) ([]model.BadgeAward, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contributor_id, badge_id, earned_at, manual, awarded_by, justification, metadata
		FROM badge_awards WHERE contributor_id = ? ORDER BY earned_at`, contributorID)
	if err != nil {
		return nil, fmt.Errorf("list badge awards: %w", err)
	}
	defer rows.Close()
	var out []model.BadgeAward
	for rows.Next() {
		var (
			a        model.BadgeAward
			earnedAt int64
			manual   int
			meta     sql.NullString
		)
		if err := rows.Scan(&a.ContributorID, &a.BadgeID, &earnedAt, &manual, &a.AwardedBy, &a.Justification, &meta); err != nil {
			return nil, fmt.Errorf("scan badge award: %w", err)
		}
		a.EarnedAt = decodeTime(earnedAt)
		a.Manual = manual != 0
		a.Metadata = decodeMeta(meta)
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateBadgeAward inserts the award and its audit entry in one database
// transaction unless the pair already exists.
func (s *SQLiteStore) CreateBadgeAward(ctx context.Context, award model.BadgeAward, audit model.AuditEntry) (bool, error) {
	meta, err := encodeMeta(award.Metadata)
	if err != nil {
		return false, err
	}
	manual := 0
	if award.Manual {
		manual = 1
	}

	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := dbtx.ExecContext(ctx, `
		INSERT OR IGNORE INTO badge_awards
			(contributor_id, badge_id, earned_at, manual, awarded_by, justification, metadata)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		award.ContributorID, award.BadgeID, encodeTime(award.EarnedAt), manual,
		award.AwardedBy, award.Justification, meta)
	if err != nil {
		return false, fmt.Errorf("create badge award: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("create badge award: %w", err)
	}
	if n == 0 {
		return false, nil
	}
	if err := appendAudit(ctx, dbtx, audit); err != nil {
		return false, err
	}
	if err := dbtx.Commit(); err != nil {
		return false, fmt.Errorf("commit badge award: %w", err)
	}
	return true, nil
}

// RevokeBadgeAward removes the pair and writes the audit entry in one
// database transaction; ErrNotFound when unheld.
func (s *SQLiteStore) RevokeBadgeAward(ctx context.Context, contributorID, badgeID string, audit model.AuditEntry) error {
	dbtx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbtx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	res, err := dbtx.ExecContext(ctx, `
		DELETE FROM badge_awards WHERE contributor_id = ? AND badge_id = ?`, contributorID, badgeID)
	if err != nil {
		return fmt.Errorf("revoke badge award: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: award %s/%s", ErrNotFound, contributorID, badgeID)
	}
	if err := appendAudit(ctx, dbtx, audit); err != nil {
		return err
	}
	if err := dbtx.Commit(); err != nil {
		return fmt.Errorf("commit badge revocation: %w", err)
	}
	return nil
}

// SaveRankSnapshot appends an immutable snapshot.
func (s *SQLiteStore) SaveRankSnapshot(ctx context.Context, snap model.RankSnapshot) error {
	entries, err := json.Marshal(snap.Entries)
	if err != nil {
		return fmt.Errorf("encode snapshot entries: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO rank_snapshots (id, kind, period, project_id, taken_at, entries)
		VALUES (?, ?, ?, ?, ?, ?)`,
		snap.ID, string(snap.Kind), snap.Period, snap.ProjectID, encodeTime(snap.TakenAt), string(entries))
	if err != nil {
		return fmt.Errorf("save rank snapshot: %w", err)
	}
	return nil
}

// LatestRankSnapshots returns up to n matching snapshots, newest first.
func (s *SQLiteStore) LatestRankSnapshots(ctx context.Context, kind model.LeaderboardKind, period, projectID string, n int) ([]model.RankSnapshot, error) {
	query := `SELECT id, kind, period, project_id, taken_at, entries
		FROM rank_snapshots WHERE kind = ?`
	args := []any{string(kind)}
	if period != "" {
		query += ` AND period = ?`
		args = append(args, period)
	}
	if projectID != "" {
		query += ` AND project_id = ?`
		args = append(args, projectID)
	}
	query += ` ORDER BY taken_at DESC LIMIT ?`
	args = append(args, n)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list rank snapshots: %w", err)
	}
	defer rows.Close()
	var out []model.RankSnapshot
	for rows.Next() {
		var (
			snap    model.RankSnapshot
			takenAt int64
			entries string
		)
		if err := rows.Scan(&snap.ID, &snap.Kind, &snap.Period, &snap.ProjectID, &takenAt, &entries); err != nil {
			return nil, fmt.Errorf("scan rank snapshot: %w", err)
		}
		if err := json.Unmarshal([]byte(entries), &snap.Entries); err != nil {
			return nil, fmt.Errorf("decode snapshot entries: %w", err)
		}
		snap.TakenAt = decodeTime(takenAt)
		out = append(out, snap)
	}
	return out, rows.Err()
}

// GetRepositoryBySubject looks a repository up by its external id.
func (s *SQLiteStore) GetRepositoryBySubject(ctx context.Context, subjectID int64) (model.Repository, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, subject_id, name, full_name, project_id, default_branch, active
		FROM repositories WHERE subject_id = ?`, subjectID)
	var (
		repo   model.Repository
		active int
	)
	err := row.Scan(&repo.ID, &repo.SubjectID, &repo.Name, &repo.FullName, &repo.ProjectID, &repo.DefaultBranch, &active)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Repository{}, fmt.Errorf("%w: repository subject %d", ErrNotFound, subjectID)
	}
	if err != nil {
		return model.Repository{}, fmt.Errorf("load repository: %w", err)
	}
	repo.Active = active != 0
	return repo, nil
}

// PutRepository upserts a repository by id.
func (s *SQLiteStore) PutRepository(ctx context.Context, repo model.Repository) error {
	if repo.ID == "" {
		return fmt.Errorf("%w: repository without id", ErrInvalidRecord)
	}
	active := 0
	if repo.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO repositories (id, subject_id, name, full_name, project_id, default_branch, active)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			subject_id = excluded.subject_id, name = excluded.name,
			full_name = excluded.full_name, project_id = excluded.project_id,
			default_branch = excluded.default_branch, active = excluded.active`,
		repo.ID, repo.SubjectID, repo.Name, repo.FullName, repo.ProjectID, repo.DefaultBranch, active)
	if err != nil {
		return fmt.Errorf("put repository: %w", err)
	}
	return nil
}

// ListRepositoriesByProject returns active repositories of one project.
func (s *SQLiteStore) ListRepositoriesByProject(ctx context.Context, projectID string) ([]model.Repository, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, subject_id, name, full_name, project_id, default_branch, active
		FROM repositories WHERE project_id = ? AND active = 1 ORDER BY id`, projectID)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer rows.Close()
	var out []model.Repository
	for rows.Next() {
		var (
			repo   model.Repository
			active int
		)
		if err := rows.Scan(&repo.ID, &repo.SubjectID, &repo.Name, &repo.FullName, &repo.ProjectID, &repo.DefaultBranch, &active); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repo.Active = active != 0
		out = append(out, repo)
	}
	return out, rows.Err()
}

// PutProject upserts a project by id.
func (s *SQLiteStore) PutProject(ctx context.Context, project model.Project) error {
	if project.ID == "" {
		return fmt.Errorf("%w: project without id", ErrInvalidRecord)
	}
	var rules sql.NullString
	if project.Rules != nil {
		b, err := json.Marshal(project.Rules)
		if err != nil {
			return fmt.Errorf("encode project rules: %w", err)
		}
		rules = sql.NullString{String: string(b), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO projects (id, name, rules) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, rules = excluded.rules`,
		project.ID, project.Name, rules)
	if err != nil {
		return fmt.Errorf("put project: %w", err)
	}
	return nil
}

// GetProject returns one project by id.
func (s *SQLiteStore) GetProject(ctx context.Context, id string) (model.Project, error) {
	row := s.db.QueryRowContext(ctx, `SELECT id, name, rules FROM projects WHERE id = ?`, id)
	var (
		p     model.Project
		rules sql.NullString
	)
	err := row.Scan(&p.ID, &p.Name, &rules)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Project{}, fmt.Errorf("%w: project %s", ErrNotFound, id)
	}
	if err != nil {
		return model.Project{}, fmt.Errorf("load project: %w", err)
	}
	if rules.Valid && strings.TrimSpace(rules.String) != "" {
		var rs model.RuleSet
		if err := json.Unmarshal([]byte(rules.String), &rs); err != nil {
			return model.Project{}, fmt.Errorf("decode project rules: %w", err)
		}
		p.Rules = &rs
	}
	return p, nil
}

// AppendAudit records an immutable audit entry.
func (s *SQLiteStore) AppendAudit(ctx context.Context, entry model.AuditEntry) error {
	return appendAudit(ctx, s.db, entry)
}

func appendAudit(ctx context.Context, ex execer, entry model.AuditEntry) error {
	meta, err := encodeMeta(entry.Metadata)
	if err != nil {
		return err
	}
	_, err = ex.ExecContext(ctx, `
		INSERT INTO audit_log (id, actor, subject, action, justification, metadata, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.Actor, entry.Subject, entry.Action, entry.Justification, meta, encodeTime(entry.CreatedAt))
	if err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// ListAudit returns matching entries in append order.
func (s *SQLiteStore) ListAudit(ctx context.Context, filter model.AuditFilter) ([]model.AuditEntry, error) {
	query := `SELECT id, actor, subject, action, justification, metadata, created_at
		FROM audit_log WHERE 1=1`
	var args []any
	if filter.Actor != "" {
		query += ` AND actor = ?`
		args = append(args, filter.Actor)
	}
	if filter.Subject != "" {
		query += ` AND subject = ?`
		args = append(args, filter.Subject)
	}
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	query += ` ORDER BY rowid`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit: %w", err)
	}
	defer rows.Close()
	var out []model.AuditEntry
	for rows.Next() {
		var (
			e         model.AuditEntry
			meta      sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Actor, &e.Subject, &e.Action, &e.Justification, &meta, &createdAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Metadata = decodeMeta(meta)
		e.CreatedAt = decodeTime(createdAt)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
