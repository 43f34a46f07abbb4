package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrNotPending is returned when deciding an approval that already left the
// pending state.
var ErrNotPending = errors.New("approval not pending")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// ---- users ----

func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, org_id, password_hash, is_email_verified, created_at, updated_at
		FROM users
		WHERE email = LOWER($1)
	`, strings.TrimSpace(email)).Scan(
		&user.ID, &user.Email, &user.Name, &user.Role, &user.OrgID,
		&user.PasswordHash, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, email, name, role, org_id, password_hash, is_email_verified, created_at, updated_at
		FROM users
		WHERE id = $1
	`, userID).Scan(
		&user.ID, &user.Email, &user.Name, &user.Role, &user.OrgID,
		&user.PasswordHash, &user.IsEmailVerified, &user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) CreateUser(ctx context.Context, user User) error {
	orgID := user.OrgID
	if orgID == 0 {
		orgID = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (id, email, name, role, org_id, password_hash, is_email_verified, verification_token)
		VALUES ($1, LOWER($2), $3, $4, $5, $6, $7, $8)
	`, user.ID, user.Email, user.Name, user.Role, orgID, user.PasswordHash, user.IsEmailVerified, user.VerificationToken)
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context, orgID int) ([]User, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, email, name, role, org_id, created_at, updated_at
		FROM users
		WHERE org_id = $1
		ORDER BY email ASC
	`, orgID)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	items := make([]User, 0)
	for rows.Next() {
		var user User
		if err := rows.Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.OrgID, &user.CreatedAt, &user.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		items = append(items, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate users: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateUser(ctx context.Context, userID, email, name, role string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET email = LOWER($2), name = $3, role = $4, updated_at = NOW()
		WHERE id = $1
	`, userID, email, name, role)
	if err != nil {
		return fmt.Errorf("update user: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteUser(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID); err != nil {
		return fmt.Errorf("delete user: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateUserVerificationToken(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET verification_token = $2, verification_expires_at = $3, updated_at = NOW()
		WHERE id = $1
	`, userID, token, expiresAt)
	if err != nil {
		return fmt.Errorf("update verification token: %w", err)
	}
	return nil
}

func (s *PostgresStore) VerifyUserEmail(ctx context.Context, token string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE users
		SET is_email_verified = TRUE, verification_token = '', verification_expires_at = NULL, updated_at = NOW()
		WHERE verification_token = $1
			AND verification_token <> ''
			AND (verification_expires_at IS NULL OR verification_expires_at > NOW())
	`, token)
	if err != nil {
		return fmt.Errorf("verify email: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) UpdateUserPassword(ctx context.Context, userID, passwordHash string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET password_hash = $2, updated_at = NOW() WHERE id = $1
	`, userID, passwordHash)
	if err != nil {
		return fmt.Errorf("update password: %w", err)
	}
	return nil
}

func (s *PostgresStore) CreatePasswordReset(ctx context.Context, userID, token string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at)
		VALUES ($1, $2, $3)
	`, token, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("create password reset: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetPasswordReset(ctx context.Context, token string) (string, error) {
	var userID string
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id FROM password_resets
		WHERE token = $1 AND used_at IS NULL AND expires_at > NOW()
	`, token).Scan(&userID)
	if err != nil {
		return "", err
	}
	return userID, nil
}

func (s *PostgresStore) MarkPasswordResetUsed(ctx context.Context, token string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE password_resets SET used_at = NOW() WHERE token = $1`, token)
	if err != nil {
		return fmt.Errorf("mark password reset used: %w", err)
	}
	return nil
}

// ---- sessions ----

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	const query = `
		SELECT u.id, u.email, u.name, u.role, u.org_id
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`
	var user User
	err := s.db.QueryRowContext(ctx, query, tokenHash).Scan(&user.ID, &user.Email, &user.Name, &user.Role, &user.OrgID)
	if err != nil {
		return User{}, err
	}
	if user.Role == "" {
		user.Role = "viewer"
	}
	return user, nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, exp)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var revoked bool
	err := s.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM revoked_access_tokens WHERE jti=$1)`, jti).Scan(&revoked)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return revoked, nil
}

// ---- documents ----

const documentColumns = `
	d.id, d.org_id, d.template_key, d.title, d.status, d.owner_email, d.created_at, d.updated_at,
	COALESCE((SELECT MAX(v.version) FROM versions v WHERE v.document_id = d.id), 0)
`

func scanDocument(row interface{ Scan(...any) error }) (Document, error) {
	var item Document
	err := row.Scan(
		&item.ID, &item.OrgID, &item.TemplateKey, &item.Title, &item.Status,
		&item.OwnerEmail, &item.CreatedAt, &item.UpdatedAt, &item.LatestVersion,
	)
	return item, err
}

func (s *PostgresStore) ListDocuments(ctx context.Context, orgID, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.org_id = $1
		ORDER BY d.updated_at DESC
		LIMIT $2
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]Document, 0)
	for rows.Next() {
		item, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetDocument(ctx context.Context, orgID int, documentID string) (Document, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+documentColumns+`
		FROM documents d
		WHERE d.id = $1 AND d.org_id = $2
	`, documentID, orgID)
	item, err := scanDocument(row)
	if err != nil {
		return Document{}, err
	}
	return item, nil
}

// CreateDocumentWithVersion inserts a document and its initial version in one
// transaction so a half-created document can never be observed.
func (s *PostgresStore) CreateDocumentWithVersion(ctx context.Context, doc Document, ver Version) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create document tx: %w", err)
	}
	defer tx.Rollback()

	orgID := doc.OrgID
	if orgID == 0 {
		orgID = 1
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO documents (id, org_id, template_key, title, status, owner_email)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, doc.ID, orgID, doc.TemplateKey, doc.Title, doc.Status, doc.OwnerEmail); err != nil {
		return fmt.Errorf("insert document: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO versions (id, document_id, version, html, params_json)
		VALUES ($1, $2, 1, $3, $4)
	`, ver.ID, doc.ID, ver.HTML, ver.ParamsJSON); err != nil {
		return fmt.Errorf("insert initial version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create document tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateDocumentMetadata(ctx context.Context, orgID int, documentID, title, status string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE documents
		SET title = $3, status = $4, updated_at = NOW()
		WHERE id = $1 AND org_id = $2
	`, documentID, orgID, title, status)
	if err != nil {
		return fmt.Errorf("update document metadata: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (s *PostgresStore) DeleteDocument(ctx context.Context, orgID int, documentID string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE id = $1 AND org_id = $2`, documentID, orgID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- versions ----

func (s *PostgresStore) ListVersions(ctx context.Context, documentID string) ([]Version, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version, html, params_json, created_at
		FROM versions
		WHERE document_id = $1
		ORDER BY version ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list versions: %w", err)
	}
	defer rows.Close()

	items := make([]Version, 0)
	for rows.Next() {
		var item Version
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Version, &item.HTML, &item.ParamsJSON, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan version: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate versions: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetVersion(ctx context.Context, documentID string, number int) (Version, error) {
	var item Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version, html, params_json, created_at
		FROM versions
		WHERE document_id = $1 AND version = $2
	`, documentID, number).Scan(&item.ID, &item.DocumentID, &item.Version, &item.HTML, &item.ParamsJSON, &item.CreatedAt)
	if err != nil {
		return Version{}, err
	}
	return item, nil
}

func (s *PostgresStore) GetLatestVersion(ctx context.Context, documentID string) (Version, error) {
	var item Version
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version, html, params_json, created_at
		FROM versions
		WHERE document_id = $1
		ORDER BY version DESC
		LIMIT 1
	`, documentID).Scan(&item.ID, &item.DocumentID, &item.Version, &item.HTML, &item.ParamsJSON, &item.CreatedAt)
	if err != nil {
		return Version{}, err
	}
	return item, nil
}

// InsertVersion assigns version = latest+1 inside the transaction so two
// concurrent writers cannot claim the same number, and bumps the document's
// updated_at in the same transaction.
func (s *PostgresStore) InsertVersion(ctx context.Context, ver Version) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert version tx: %w", err)
	}
	defer tx.Rollback()

	var number int
	if err := tx.QueryRowContext(ctx, `
		INSERT INTO versions (id, document_id, version, html, params_json)
		SELECT $1, $2, COALESCE(MAX(version), 0) + 1, $3, $4
		FROM versions
		WHERE document_id = $2
		RETURNING version
	`, ver.ID, ver.DocumentID, ver.HTML, ver.ParamsJSON).Scan(&number); err != nil {
		return 0, fmt.Errorf("insert version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET updated_at = NOW() WHERE id = $1
	`, ver.DocumentID); err != nil {
		return 0, fmt.Errorf("touch document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert version tx: %w", err)
	}
	return number, nil
}

// DeleteVersion removes one version without renumbering the rest and returns
// the highest remaining version number (0 when none remain).
func (s *PostgresStore) DeleteVersion(ctx context.Context, documentID string, number int) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin delete version tx: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		DELETE FROM versions WHERE document_id = $1 AND version = $2
	`, documentID, number)
	if err != nil {
		return 0, fmt.Errorf("delete version: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return 0, sql.ErrNoRows
	}

	var remaining int
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(version), 0) FROM versions WHERE document_id = $1
	`, documentID).Scan(&remaining); err != nil {
		return 0, fmt.Errorf("recompute latest version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE documents SET updated_at = NOW() WHERE id = $1
	`, documentID); err != nil {
		return 0, fmt.Errorf("touch document: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit delete version tx: %w", err)
	}
	return remaining, nil
}

func (s *PostgresStore) VersionExists(ctx context.Context, documentID string, number int) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM versions WHERE document_id = $1 AND version = $2)
	`, documentID, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check version exists: %w", err)
	}
	return exists, nil
}

// ---- approvals ----

func (s *PostgresStore) InsertApproval(ctx context.Context, item Approval) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO approvals (id, document_id, version, reviewer, status, note)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, item.ID, item.DocumentID, item.Version, item.Reviewer, item.Status, item.Note)
	if err != nil {
		return fmt.Errorf("insert approval: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetApproval(ctx context.Context, approvalID string) (Approval, error) {
	var item Approval
	err := s.db.QueryRowContext(ctx, `
		SELECT id, document_id, version, reviewer, status, note, requested_at, decided_at
		FROM approvals
		WHERE id = $1
	`, approvalID).Scan(&item.ID, &item.DocumentID, &item.Version, &item.Reviewer, &item.Status, &item.Note, &item.RequestedAt, &item.DecidedAt)
	if err != nil {
		return Approval{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListApprovals(ctx context.Context, documentID string) ([]Approval, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version, reviewer, status, note, requested_at, decided_at
		FROM approvals
		WHERE document_id = $1
		ORDER BY requested_at DESC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}
	defer rows.Close()

	items := make([]Approval, 0)
	for rows.Next() {
		var item Approval
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Version, &item.Reviewer, &item.Status, &item.Note, &item.RequestedAt, &item.DecidedAt); err != nil {
			return nil, fmt.Errorf("scan approval: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approvals: %w", err)
	}
	return items, nil
}

// DecideApproval transitions an approval out of pending exactly once. The
// guard lives in the WHERE clause so a lost race surfaces as ErrNotPending,
// never as a double decision.
func (s *PostgresStore) DecideApproval(ctx context.Context, approvalID, status, note string) (Approval, error) {
	var item Approval
	err := s.db.QueryRowContext(ctx, `
		UPDATE approvals
		SET status = $2, note = CASE WHEN $3 <> '' THEN $3 ELSE note END, decided_at = NOW()
		WHERE id = $1 AND status = 'pending'
		RETURNING id, document_id, version, reviewer, status, note, requested_at, decided_at
	`, approvalID, status, note).Scan(&item.ID, &item.DocumentID, &item.Version, &item.Reviewer, &item.Status, &item.Note, &item.RequestedAt, &item.DecidedAt)
	if errors.Is(err, sql.ErrNoRows) {
		if _, getErr := s.GetApproval(ctx, approvalID); getErr == nil {
			return Approval{}, ErrNotPending
		}
		return Approval{}, sql.ErrNoRows
	}
	if err != nil {
		return Approval{}, fmt.Errorf("decide approval: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) ApprovalSummary(ctx context.Context, documentID string, latestOnly bool) (ApprovalSummary, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'approved'),
			COUNT(*) FILTER (WHERE status = 'rejected')
		FROM approvals
		WHERE document_id = $1
	`
	if latestOnly {
		query += ` AND (version IS NULL OR version = (SELECT MAX(version) FROM versions WHERE document_id = $1))`
	}
	var summary ApprovalSummary
	if err := s.db.QueryRowContext(ctx, query, documentID).Scan(&summary.Pending, &summary.Approved, &summary.Rejected); err != nil {
		return ApprovalSummary{}, fmt.Errorf("approval summary: %w", err)
	}
	return summary, nil
}

// ---- comments ----

func (s *PostgresStore) InsertComment(ctx context.Context, item Comment) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO comments (id, document_id, version, author, body)
		VALUES ($1, $2, $3, $4, $5)
	`, item.ID, item.DocumentID, item.Version, item.Author, item.Body)
	if err != nil {
		return fmt.Errorf("insert comment: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListComments(ctx context.Context, documentID string) ([]Comment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, document_id, version, author, body, created_at
		FROM comments
		WHERE document_id = $1
		ORDER BY created_at ASC
	`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list comments: %w", err)
	}
	defer rows.Close()

	items := make([]Comment, 0)
	for rows.Next() {
		var item Comment
		if err := rows.Scan(&item.ID, &item.DocumentID, &item.Version, &item.Author, &item.Body, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan comment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate comments: %w", err)
	}
	return items, nil
}

// ---- templates ----

func (s *PostgresStore) SeedTemplate(ctx context.Context, item Template) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO templates (key, title, body, schema_json)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO NOTHING
	`, item.Key, item.Title, item.Body, item.SchemaJSON)
	if err != nil {
		return fmt.Errorf("seed template: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetTemplate(ctx context.Context, key string) (Template, error) {
	var item Template
	err := s.db.QueryRowContext(ctx, `
		SELECT key, title, body, schema_json, updated_at
		FROM templates
		WHERE key = $1
	`, key).Scan(&item.Key, &item.Title, &item.Body, &item.SchemaJSON, &item.UpdatedAt)
	if err != nil {
		return Template{}, err
	}
	return item, nil
}

func (s *PostgresStore) ListTemplates(ctx context.Context) ([]Template, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT key, title, body, schema_json, updated_at
		FROM templates
		ORDER BY key ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	defer rows.Close()

	items := make([]Template, 0)
	for rows.Next() {
		var item Template
		if err := rows.Scan(&item.Key, &item.Title, &item.Body, &item.SchemaJSON, &item.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan template: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate templates: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) UpdateTemplate(ctx context.Context, key, title, body, schemaJSON string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE templates
		SET title = $2, body = $3, schema_json = $4, updated_at = NOW()
		WHERE key = $1
	`, key, title, body, schemaJSON)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// ---- assessments ----

func scanAssessment(row interface{ Scan(...any) error }) (Assessment, error) {
	var item Assessment
	var evidence string
	err := row.Scan(
		&item.ID, &item.OrgID, &item.FrameworkKey, &item.ControlID,
		&item.Status, &item.OwnerEmail, &item.Notes, &evidence,
		&item.LastReviewedAt, &item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return Assessment{}, err
	}
	if err := json.Unmarshal([]byte(evidence), &item.EvidenceLinks); err != nil {
		item.EvidenceLinks = nil
	}
	return item, nil
}

func (s *PostgresStore) ListAssessments(ctx context.Context, orgID int, frameworkKey string) ([]Assessment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, org_id, framework_key, control_id, status, owner_email, notes, evidence_links, last_reviewed_at, created_at, updated_at
		FROM assessments
		WHERE org_id = $1 AND framework_key = $2
		ORDER BY control_id ASC
	`, orgID, frameworkKey)
	if err != nil {
		return nil, fmt.Errorf("list assessments: %w", err)
	}
	defer rows.Close()

	items := make([]Assessment, 0)
	for rows.Next() {
		item, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan assessment: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate assessments: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetAssessment(ctx context.Context, orgID int, frameworkKey, controlID string) (Assessment, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, org_id, framework_key, control_id, status, owner_email, notes, evidence_links, last_reviewed_at, created_at, updated_at
		FROM assessments
		WHERE org_id = $1 AND framework_key = $2 AND control_id = $3
	`, orgID, frameworkKey, controlID)
	return scanAssessment(row)
}

// UpsertAssessment creates the row on first touch and applies only the fields
// present in the patch on subsequent calls.
func (s *PostgresStore) UpsertAssessment(ctx context.Context, id string, orgID int, frameworkKey, controlID string, patch AssessmentPatch) (Assessment, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Assessment{}, fmt.Errorf("begin upsert assessment tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO assessments (id, org_id, framework_key, control_id)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (org_id, framework_key, control_id) DO NOTHING
	`, id, orgID, frameworkKey, controlID); err != nil {
		return Assessment{}, fmt.Errorf("insert assessment: %w", err)
	}

	sets := []string{"updated_at = NOW()"}
	args := []any{orgID, frameworkKey, controlID}
	argN := 4
	appendSet := func(column string, value any) {
		sets = append(sets, fmt.Sprintf("%s = $%d", column, argN))
		args = append(args, value)
		argN++
	}
	if patch.Status != nil {
		appendSet("status", *patch.Status)
	}
	if patch.OwnerEmail != nil {
		appendSet("owner_email", *patch.OwnerEmail)
	}
	if patch.Notes != nil {
		appendSet("notes", *patch.Notes)
	}
	if patch.EvidenceLinks != nil {
		encoded, err := json.Marshal(*patch.EvidenceLinks)
		if err != nil {
			return Assessment{}, fmt.Errorf("encode evidence links: %w", err)
		}
		appendSet("evidence_links", string(encoded))
	}
	if patch.LastReviewedAt != nil {
		appendSet("last_reviewed_at", *patch.LastReviewedAt)
	}

	query := fmt.Sprintf(`
		UPDATE assessments
		SET %s
		WHERE org_id = $1 AND framework_key = $2 AND control_id = $3
		RETURNING id, org_id, framework_key, control_id, status, owner_email, notes, evidence_links, last_reviewed_at, created_at, updated_at
	`, strings.Join(sets, ", "))
	item, err := scanAssessment(tx.QueryRowContext(ctx, query, args...))
	if err != nil {
		return Assessment{}, fmt.Errorf("update assessment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return Assessment{}, fmt.Errorf("commit upsert assessment tx: %w", err)
	}
	return item, nil
}

// ---- notifications ----

func (s *PostgresStore) InsertNotification(ctx context.Context, item Notification) error {
	orgID := item.OrgID
	if orgID == 0 {
		orgID = 1
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notifications (id, org_id, target_email, type, message, document_id, version, approval_id)
		VALUES ($1, $2, LOWER($3), $4, $5, $6, $7, $8)
	`, item.ID, orgID, item.TargetEmail, item.Type, item.Message, item.DocumentID, item.Version, item.ApprovalID)
	if err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListNotifications(ctx context.Context, targetEmail string, unreadOnly bool, limit int) ([]Notification, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, org_id, target_email, type, message, document_id, version, approval_id, created_at, read_at
		FROM notifications
		WHERE target_email = LOWER($1)
	`
	if unreadOnly {
		query += ` AND read_at IS NULL`
	}
	query += ` ORDER BY created_at DESC LIMIT $2`

	rows, err := s.db.QueryContext(ctx, query, targetEmail, limit)
	if err != nil {
		return nil, fmt.Errorf("list notifications: %w", err)
	}
	defer rows.Close()

	items := make([]Notification, 0)
	for rows.Next() {
		var item Notification
		if err := rows.Scan(&item.ID, &item.OrgID, &item.TargetEmail, &item.Type, &item.Message, &item.DocumentID, &item.Version, &item.ApprovalID, &item.CreatedAt, &item.ReadAt); err != nil {
			return nil, fmt.Errorf("scan notification: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate notifications: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) MarkNotificationsRead(ctx context.Context, targetEmail string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	placeholders := make([]string, 0, len(ids))
	args := []any{targetEmail}
	for i, id := range ids {
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
		args = append(args, id)
	}
	query := fmt.Sprintf(`
		UPDATE notifications
		SET read_at = NOW()
		WHERE target_email = LOWER($1) AND read_at IS NULL AND id IN (%s)
	`, strings.Join(placeholders, ", "))
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("mark notifications read: %w", err)
	}
	return nil
}

func (s *PostgresStore) MarkAllNotificationsRead(ctx context.Context, targetEmail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE notifications SET read_at = NOW()
		WHERE target_email = LOWER($1) AND read_at IS NULL
	`, targetEmail)
	if err != nil {
		return fmt.Errorf("mark all notifications read: %w", err)
	}
	return nil
}
