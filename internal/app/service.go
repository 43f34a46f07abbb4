package app

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"policyforge/api/internal/archive"
	"policyforge/api/internal/auth"
	"policyforge/api/internal/authpw"
	"policyforge/api/internal/config"
	"policyforge/api/internal/email"
	"policyforge/api/internal/evidence"
	"policyforge/api/internal/export"
	"policyforge/api/internal/framework"
	"policyforge/api/internal/rbac"
	"policyforge/api/internal/search"
	"policyforge/api/internal/session"
	"policyforge/api/internal/store"
	"policyforge/api/internal/tmpl"
	"policyforge/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       string
	UserName     string
	Email        string
	Role         string
	OrgID        int
	JTI          string
	ExpiresAt    time.Time
}

var allowedDocumentStatus = map[string]struct{}{
	"draft":     {},
	"in_review": {},
	"approved":  {},
	"published": {},
	"rejected":  {},
}

var allowedApprovalDecision = map[string]struct{}{
	"approved": {},
	"rejected": {},
}

var allowedAssessmentStatus = map[string]struct{}{
	"not_applicable": {},
	"planned":        {},
	"in_progress":    {},
	"implemented":    {},
}

type dataStore interface {
	Ping(ctx context.Context) error

	GetUserByID(context.Context, string) (store.User, error)
	GetUserByEmail(context.Context, string) (store.User, error)
	CreateUser(context.Context, store.User) error
	ListUsers(context.Context, int) ([]store.User, error)
	UpdateUser(context.Context, string, string, string, string) error
	DeleteUser(context.Context, string) error

	SaveRefreshSession(context.Context, string, string, time.Time) error
	LookupRefreshSession(context.Context, string) (store.User, error)
	RevokeRefreshSession(context.Context, string) error
	RevokeAccessToken(context.Context, string, time.Time) error
	IsAccessTokenRevoked(context.Context, string) (bool, error)

	ListDocuments(context.Context, int, int) ([]store.Document, error)
	GetDocument(context.Context, int, string) (store.Document, error)
	CreateDocumentWithVersion(context.Context, store.Document, store.Version) error
	UpdateDocumentMetadata(context.Context, int, string, string, string) error
	DeleteDocument(context.Context, int, string) error

	ListVersions(context.Context, string) ([]store.Version, error)
	GetVersion(context.Context, string, int) (store.Version, error)
	GetLatestVersion(context.Context, string) (store.Version, error)
	InsertVersion(context.Context, store.Version) (int, error)
	DeleteVersion(context.Context, string, int) (int, error)
	VersionExists(context.Context, string, int) (bool, error)

	InsertApproval(context.Context, store.Approval) error
	GetApproval(context.Context, string) (store.Approval, error)
	ListApprovals(context.Context, string) ([]store.Approval, error)
	DecideApproval(context.Context, string, string, string) (store.Approval, error)
	ApprovalSummary(context.Context, string, bool) (store.ApprovalSummary, error)

	InsertComment(context.Context, store.Comment) error
	ListComments(context.Context, string) ([]store.Comment, error)

	SeedTemplate(context.Context, store.Template) error
	GetTemplate(context.Context, string) (store.Template, error)
	ListTemplates(context.Context) ([]store.Template, error)
	UpdateTemplate(context.Context, string, string, string, string) error

	ListAssessments(context.Context, int, string) ([]store.Assessment, error)
	GetAssessment(context.Context, int, string, string) (store.Assessment, error)
	UpsertAssessment(context.Context, string, int, string, string, store.AssessmentPatch) (store.Assessment, error)

	InsertNotification(context.Context, store.Notification) error
	ListNotifications(context.Context, string, bool, int) ([]store.Notification, error)
	MarkNotificationsRead(context.Context, string, []string) error
	MarkAllNotificationsRead(context.Context, string) error
}

type archiveStore interface {
	EnsureDocumentArchive(documentID string, initial archive.Snapshot, author string) error
	CommitVersion(documentID string, snap archive.Snapshot, author, message string) (store.CommitInfo, error)
	History(documentID string, limit int) ([]store.CommitInfo, error)
}

type searchIndex interface {
	Search(q search.Query) search.Response
	IndexDocument(doc search.DocumentRecord)
	IndexComment(c search.CommentRecord)
	DeleteDocument(id string)
}

type documentExporter interface {
	Export(doc export.Document, approvals []export.ApprovalEntry, comments []export.CommentEntry, format export.Format) (*export.Result, error)
}

// refreshSessionStore is the Redis-backed session cache. When absent the
// service falls back to the refresh_sessions table.
type refreshSessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type Service struct {
	cfg      config.Config
	store    dataStore
	sessions refreshSessionStore
	archive  archiveStore
	search   searchIndex
	exporter documentExporter
	registry *framework.Registry
	authPw   *authpw.Service
	email    *email.Service
	evidence *evidence.Service
}

func New(cfg config.Config, dataStore *store.PostgresStore, archiveService *archive.Service, searchService *search.Service, registry *framework.Registry) *Service {
	return &Service{
		cfg:      cfg,
		store:    dataStore,
		archive:  archiveService,
		search:   searchService,
		exporter: export.NewService(),
		registry: registry,
	}
}

func NewWithSessionStore(cfg config.Config, dataStore *store.PostgresStore, sessions *session.RedisStore, archiveService *archive.Service, searchService *search.Service, registry *framework.Registry) *Service {
	service := New(cfg, dataStore, archiveService, searchService, registry)
	service.sessions = sessions
	return service
}

func (s *Service) SetAuthPasswordService(svc *authpw.Service) { s.authPw = svc }

func (s *Service) AuthPasswordService() *authpw.Service { return s.authPw }

func (s *Service) SetEmailService(svc *email.Service) { s.email = svc }

func (s *Service) SMTPConfigured() bool { return s.email != nil && s.email.IsConfigured() }

func (s *Service) SetEvidenceService(svc *evidence.Service) { s.evidence = svc }

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) Can(role string, action rbac.Action) bool {
	return rbac.Can(rbac.Normalize(role), action)
}

func (s *Service) IsAdmin(role string) bool {
	normalized := rbac.Normalize(role)
	return normalized == rbac.RoleOwner || normalized == rbac.RoleAdmin
}

// Bootstrap seeds the built-in template catalog. Existing rows win so
// operator edits survive restarts.
func (s *Service) Bootstrap(ctx context.Context) error {
	for _, def := range tmpl.Builtins() {
		item := store.Template{
			Key:        def.Key,
			Title:      def.Title,
			Body:       def.Body,
			SchemaJSON: def.SchemaJSON(),
		}
		if err := s.store.SeedTemplate(ctx, item); err != nil {
			return fmt.Errorf("seed template %s: %w", def.Key, err)
		}
	}
	return nil
}

// --- sessions ---

func (s *Service) CreateSession(ctx context.Context, userID string) (Session, error) {
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)

	var user store.User
	var err error
	if s.sessions != nil {
		user, err = s.sessions.LookupRefreshSession(ctx, tokenHash)
	} else {
		user, err = s.store.LookupRefreshSession(ctx, tokenHash)
	}
	if err != nil {
		return Session{}, err
	}

	if s.sessions != nil {
		err = s.sessions.RevokeRefreshSession(ctx, tokenHash)
	} else {
		err = s.store.RevokeRefreshSession(ctx, tokenHash)
	}
	if err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:   user.ID,
		Email: user.Email,
		Name:  user.Name,
		Role:  user.Role,
		OrgID: user.OrgID,
		JTI:   jti,
		Exp:   expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if s.sessions != nil {
		err = s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires)
	} else {
		err = s.store.SaveRefreshSession(ctx, auth.HashToken(refresh), user.ID, refreshExpires)
	}
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Name,
		Email:        user.Email,
		Role:         user.Role,
		OrgID:        user.OrgID,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	return Session{
		Token:     token,
		UserID:    claims.Sub,
		UserName:  claims.Name,
		Email:     claims.Email,
		Role:      claims.Role,
		OrgID:     claims.OrgID,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		tokenHash := auth.HashToken(refreshToken)
		if s.sessions != nil {
			_ = s.sessions.RevokeRefreshSession(ctx, tokenHash)
		} else {
			_ = s.store.RevokeRefreshSession(ctx, tokenHash)
		}
	}
	return nil
}

// --- documents ---

func (s *Service) CreateDocument(ctx context.Context, session Session, templateKey, title string, params map[string]any) (map[string]any, error) {
	rendered, resolved, err := s.renderTemplate(ctx, templateKey, params)
	if err != nil {
		return nil, err
	}

	docTitle := strings.TrimSpace(title)
	if docTitle == "" {
		docTitle = rendered.Title
	}

	paramsJSON, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	doc := store.Document{
		ID:          util.NewID("doc"),
		OrgID:       session.OrgID,
		TemplateKey: templateKey,
		Title:       docTitle,
		Status:      "draft",
		OwnerEmail:  session.Email,
	}
	ver := store.Version{
		ID:         util.NewID("ver"),
		DocumentID: doc.ID,
		Version:    1,
		HTML:       rendered.HTML,
		ParamsJSON: string(paramsJSON),
	}
	if err := s.store.CreateDocumentWithVersion(ctx, doc, ver); err != nil {
		return nil, err
	}

	if err := s.archive.EnsureDocumentArchive(doc.ID, archive.Snapshot{
		Title:       doc.Title,
		TemplateKey: doc.TemplateKey,
		Version:     1,
		Params:      paramsJSON,
		HTML:        rendered.HTML,
	}, session.UserName); err != nil {
		return nil, err
	}

	s.indexDocument(doc)
	doc.LatestVersion = 1

	payload := documentPayload(doc)
	payload["version"] = versionPayload(ver)
	return payload, nil
}

func (s *Service) ListDocuments(ctx context.Context, session Session, limit int) (map[string]any, error) {
	documents, err := s.store.ListDocuments(ctx, session.OrgID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(documents))
	for _, doc := range documents {
		items = append(items, documentPayload(doc))
	}
	return map[string]any{"documents": items}, nil
}

func (s *Service) GetDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.ApprovalSummary(ctx, doc.ID, false)
	if err != nil {
		return nil, err
	}

	versionItems := make([]map[string]any, 0, len(versions))
	for _, ver := range versions {
		versionItems = append(versionItems, versionPayload(ver))
	}

	payload := documentPayload(doc)
	payload["versions"] = versionItems
	payload["approvalSummary"] = summaryPayload(summary)
	return payload, nil
}

func (s *Service) UpdateMetadata(ctx context.Context, session Session, documentID string, title, status *string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}

	newTitle := doc.Title
	if title != nil {
		trimmed := strings.TrimSpace(*title)
		if trimmed == "" {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title must not be empty", nil)
		}
		newTitle = trimmed
	}
	newStatus := doc.Status
	if status != nil {
		if _, ok := allowedDocumentStatus[*status]; !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid document status", map[string]any{"status": *status})
		}
		newStatus = *status
	}

	if err := s.store.UpdateDocumentMetadata(ctx, session.OrgID, doc.ID, newTitle, newStatus); err != nil {
		return nil, err
	}
	doc.Title = newTitle
	doc.Status = newStatus
	s.indexDocument(doc)
	return documentPayload(doc), nil
}

func (s *Service) DeleteDocument(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if err := s.store.DeleteDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	s.search.DeleteDocument(documentID)
	return map[string]any{"deleted": documentID}, nil
}

// --- versions ---

func (s *Service) AddVersion(ctx context.Context, session Session, documentID, templateKey string, params map[string]any) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	if templateKey != "" && templateKey != doc.TemplateKey {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "template_key must match the document's template", map[string]any{"templateKey": doc.TemplateKey})
	}

	rendered, resolved, err := s.renderTemplate(ctx, doc.TemplateKey, params)
	if err != nil {
		return nil, err
	}
	paramsJSON, err := json.Marshal(resolved)
	if err != nil {
		return nil, fmt.Errorf("encode params: %w", err)
	}

	ver := store.Version{
		ID:         util.NewID("ver"),
		DocumentID: doc.ID,
		HTML:       rendered.HTML,
		ParamsJSON: string(paramsJSON),
	}
	number, err := s.store.InsertVersion(ctx, ver)
	if err != nil {
		return nil, err
	}
	ver.Version = number

	if _, err := s.archive.CommitVersion(doc.ID, archive.Snapshot{
		Title:       doc.Title,
		TemplateKey: doc.TemplateKey,
		Version:     number,
		Params:      paramsJSON,
		HTML:        rendered.HTML,
	}, session.UserName, fmt.Sprintf("Add version v%d", number)); err != nil {
		return nil, err
	}

	return versionPayload(ver), nil
}

func (s *Service) GetVersion(ctx context.Context, session Session, documentID, selector string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	ver, err := s.resolveVersion(ctx, documentID, selector)
	if err != nil {
		return nil, err
	}
	return versionPayload(ver), nil
}

func (s *Service) ListVersions(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	versions, err := s.store.ListVersions(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(versions))
	for _, ver := range versions {
		items = append(items, versionPayload(ver))
	}
	return map[string]any{"versions": items}, nil
}

func (s *Service) Rollback(ctx context.Context, session Session, documentID string, fromVersion int) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	source, err := s.store.GetVersion(ctx, doc.ID, fromVersion)
	if err != nil {
		return nil, err
	}

	ver := store.Version{
		ID:         util.NewID("ver"),
		DocumentID: doc.ID,
		HTML:       source.HTML,
		ParamsJSON: source.ParamsJSON,
	}
	number, err := s.store.InsertVersion(ctx, ver)
	if err != nil {
		return nil, err
	}
	ver.Version = number

	if _, err := s.archive.CommitVersion(doc.ID, archive.Snapshot{
		Title:       doc.Title,
		TemplateKey: doc.TemplateKey,
		Version:     number,
		Params:      json.RawMessage(source.ParamsJSON),
		HTML:        source.HTML,
	}, session.UserName, fmt.Sprintf("Rollback to v%d (as v%d)", fromVersion, number)); err != nil {
		return nil, err
	}

	payload := versionPayload(ver)
	payload["rolledBackFrom"] = fromVersion
	return payload, nil
}

func (s *Service) DeleteVersion(ctx context.Context, session Session, documentID string, number int) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	latest, err := s.store.DeleteVersion(ctx, documentID, number)
	if err != nil {
		return nil, err
	}
	payload := map[string]any{"deleted": number}
	if latest > 0 {
		payload["latestVersion"] = latest
	} else {
		payload["latestVersion"] = nil
	}
	return payload, nil
}

func (s *Service) Activity(ctx context.Context, session Session, documentID string, limit int) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	commits, err := s.archive.History(documentID, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(commits))
	for _, commit := range commits {
		items = append(items, map[string]any{
			"hash":      commit.Hash,
			"message":   commit.Message,
			"author":    commit.Author,
			"createdAt": commit.CreatedAt,
		})
	}
	return map[string]any{"activity": items}, nil
}

func (s *Service) resolveVersion(ctx context.Context, documentID, selector string) (store.Version, error) {
	if selector == "latest" {
		return s.store.GetLatestVersion(ctx, documentID)
	}
	number, err := strconv.Atoi(selector)
	if err != nil || number < 1 {
		return store.Version{}, domainError(http.StatusBadRequest, "VALIDATION_ERROR", `version must be a positive integer or "latest"`, nil)
	}
	return s.store.GetVersion(ctx, documentID, number)
}

func (s *Service) renderTemplate(ctx context.Context, templateKey string, params map[string]any) (tmpl.Rendered, map[string]any, error) {
	item, err := s.store.GetTemplate(ctx, templateKey)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return tmpl.Rendered{}, nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "unknown template", map[string]any{"templateKey": templateKey})
		}
		return tmpl.Rendered{}, nil, err
	}
	specs, err := tmpl.ParseSchema(item.SchemaJSON)
	if err != nil {
		return tmpl.Rendered{}, nil, fmt.Errorf("parse template schema: %w", err)
	}
	resolved, problems := tmpl.Resolve(specs, params)
	if len(problems) > 0 {
		return tmpl.Rendered{}, nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid template parameters", problems)
	}
	rendered, err := tmpl.Render(item.Title, item.Body, resolved)
	if err != nil {
		return tmpl.Rendered{}, nil, err
	}
	return rendered, resolved, nil
}

func (s *Service) indexDocument(doc store.Document) {
	s.search.IndexDocument(search.DocumentRecord{
		ID:          doc.ID,
		Title:       doc.Title,
		TemplateKey: doc.TemplateKey,
		Status:      doc.Status,
		OrgID:       doc.OrgID,
	})
}

// --- approvals ---

func (s *Service) RequestApproval(ctx context.Context, session Session, documentID string, version *int, reviewer, note string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	reviewer = strings.ToLower(strings.TrimSpace(reviewer))
	if reviewer == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "reviewer is required", nil)
	}
	if version != nil {
		exists, err := s.store.VersionExists(ctx, doc.ID, *version)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "version not found", map[string]any{"version": *version})
		}
	}

	item := store.Approval{
		ID:         util.NewID("apr"),
		DocumentID: doc.ID,
		Version:    version,
		Reviewer:   reviewer,
		Status:     "pending",
		Note:       strings.TrimSpace(note),
	}
	if err := s.store.InsertApproval(ctx, item); err != nil {
		return nil, err
	}
	item.RequestedAt = time.Now()

	scope := "all versions"
	if version != nil {
		scope = fmt.Sprintf("v%d", *version)
	}
	_ = s.store.InsertNotification(ctx, store.Notification{
		ID:          util.NewID("ntf"),
		OrgID:       session.OrgID,
		TargetEmail: reviewer,
		Type:        "approval_requested",
		Message:     fmt.Sprintf("%s requested your approval on %q (%s)", session.UserName, doc.Title, scope),
		DocumentID:  &doc.ID,
		Version:     version,
		ApprovalID:  &item.ID,
	})
	if s.SMTPConfigured() {
		_ = s.email.SendApprovalRequestedEmail(reviewer, reviewer, doc.Title, scope, session.UserName)
	}

	return approvalPayload(item), nil
}

func (s *Service) DecideApproval(ctx context.Context, session Session, documentID, approvalID, decision, note string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	if _, ok := allowedApprovalDecision[decision]; !ok {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", `status must be "approved" or "rejected"`, map[string]any{"status": decision})
	}

	existing, err := s.store.GetApproval(ctx, approvalID)
	if err != nil {
		return nil, err
	}
	if existing.DocumentID != doc.ID {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "approval not found for this document", nil)
	}

	decided, err := s.store.DecideApproval(ctx, approvalID, decision, strings.TrimSpace(note))
	if errors.Is(err, store.ErrNotPending) {
		return nil, domainError(http.StatusConflict, "CONFLICT", "approval already decided", map[string]any{"status": existing.Status})
	}
	if err != nil {
		return nil, err
	}

	if doc.OwnerEmail != "" {
		_ = s.store.InsertNotification(ctx, store.Notification{
			ID:          util.NewID("ntf"),
			OrgID:       session.OrgID,
			TargetEmail: doc.OwnerEmail,
			Type:        "approval_decided",
			Message:     fmt.Sprintf("%s %s %q", decided.Reviewer, decision, doc.Title),
			DocumentID:  &doc.ID,
			Version:     decided.Version,
			ApprovalID:  &decided.ID,
		})
		if s.SMTPConfigured() {
			_ = s.email.SendApprovalDecidedEmail(doc.OwnerEmail, doc.OwnerEmail, doc.Title, decision, decided.Reviewer, decided.Note)
		}
	}

	return approvalPayload(decided), nil
}

func (s *Service) ListApprovals(ctx context.Context, session Session, documentID string, latestOnly bool) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	approvals, err := s.store.ListApprovals(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	summary, err := s.store.ApprovalSummary(ctx, doc.ID, latestOnly)
	if err != nil {
		return nil, err
	}

	items := make([]map[string]any, 0, len(approvals))
	for _, item := range approvals {
		items = append(items, approvalPayload(item))
	}
	return map[string]any{
		"approvals": items,
		"summary":   summaryPayload(summary),
	}, nil
}

// --- comments ---

func (s *Service) AddComment(ctx context.Context, session Session, documentID string, version *int, body string) (map[string]any, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "body is required", nil)
	}
	if version != nil {
		exists, err := s.store.VersionExists(ctx, doc.ID, *version)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, domainError(http.StatusNotFound, "NOT_FOUND", "version not found", map[string]any{"version": *version})
		}
	}

	item := store.Comment{
		ID:         util.NewID("cmt"),
		DocumentID: doc.ID,
		Version:    version,
		Author:     session.Email,
		Body:       body,
	}
	if err := s.store.InsertComment(ctx, item); err != nil {
		return nil, err
	}
	item.CreatedAt = time.Now()

	s.search.IndexComment(search.CommentRecord{
		ID:         item.ID,
		Body:       item.Body,
		Author:     item.Author,
		DocumentID: doc.ID,
		OrgID:      doc.OrgID,
	})
	return commentPayload(item), nil
}

func (s *Service) ListComments(ctx context.Context, session Session, documentID string) (map[string]any, error) {
	if _, err := s.store.GetDocument(ctx, session.OrgID, documentID); err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, documentID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(comments))
	for _, item := range comments {
		items = append(items, commentPayload(item))
	}
	return map[string]any{"comments": items}, nil
}

// --- templates ---

func (s *Service) ListTemplates(ctx context.Context) (map[string]any, error) {
	templates, err := s.store.ListTemplates(ctx)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(templates))
	for _, item := range templates {
		items = append(items, map[string]any{
			"key":       item.Key,
			"title":     item.Title,
			"updatedAt": item.UpdatedAt,
		})
	}
	return map[string]any{"templates": items}, nil
}

func (s *Service) GetTemplate(ctx context.Context, key string) (map[string]any, error) {
	item, err := s.store.GetTemplate(ctx, key)
	if err != nil {
		return nil, err
	}
	return templatePayload(item)
}

func (s *Service) UpdateTemplate(ctx context.Context, key, title, body, schemaJSON string) (map[string]any, error) {
	if strings.TrimSpace(title) == "" || strings.TrimSpace(body) == "" {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "title and body are required", nil)
	}
	if schemaJSON == "" {
		schemaJSON = "[]"
	}
	if _, err := tmpl.ParseSchema(schemaJSON); err != nil {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid parameter schema", map[string]any{"error": err.Error()})
	}
	if err := s.store.UpdateTemplate(ctx, key, title, body, schemaJSON); err != nil {
		return nil, err
	}
	item, err := s.store.GetTemplate(ctx, key)
	if err != nil {
		return nil, err
	}
	return templatePayload(item)
}

// RenderPreview renders a draft without persisting anything.
func (s *Service) RenderPreview(ctx context.Context, templateKey string, params map[string]any) (map[string]any, error) {
	rendered, resolved, err := s.renderTemplate(ctx, templateKey, params)
	if err != nil {
		return nil, err
	}
	return map[string]any{
		"title":    rendered.Title,
		"markdown": rendered.Markdown,
		"html":     rendered.HTML,
		"params":   resolved,
	}, nil
}

// --- frameworks and assessments ---

func (s *Service) ListFrameworks() map[string]any {
	return map[string]any{"frameworks": s.registry.List()}
}

func (s *Service) GetFramework(key, query, function string) (map[string]any, error) {
	fw, ok := s.registry.Get(key, query, function)
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "framework not found", map[string]any{"key": key})
	}
	return map[string]any{"framework": fw}, nil
}

func (s *Service) ListAssessments(ctx context.Context, session Session, key string) (map[string]any, error) {
	fw, ok := s.registry.Get(key, "", "")
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "framework not found", map[string]any{"key": key})
	}
	assessments, err := s.store.ListAssessments(ctx, session.OrgID, key)
	if err != nil {
		return nil, err
	}
	byControl := make(map[string]store.Assessment, len(assessments))
	for _, item := range assessments {
		byControl[item.ControlID] = item
	}

	rows := make([]map[string]any, 0, len(fw.Controls))
	for _, control := range fw.Controls {
		row := map[string]any{"control": control}
		if item, ok := byControl[control.ID]; ok {
			row["assessment"] = assessmentPayload(item)
		} else {
			row["assessment"] = nil
		}
		rows = append(rows, row)
	}
	return map[string]any{"frameworkKey": key, "rows": rows}, nil
}

func (s *Service) UpsertAssessment(ctx context.Context, session Session, key, controlID string, patch store.AssessmentPatch) (map[string]any, error) {
	if _, ok := s.registry.Get(key, "", ""); !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "framework not found", map[string]any{"key": key})
	}
	if !s.registry.HasControl(key, controlID) {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "control not in framework", map[string]any{"controlId": controlID})
	}
	if patch.Status != nil {
		if _, ok := allowedAssessmentStatus[*patch.Status]; !ok {
			return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "invalid assessment status", map[string]any{"status": *patch.Status})
		}
	}

	item, err := s.store.UpsertAssessment(ctx, util.NewID("asm"), session.OrgID, key, controlID, patch)
	if err != nil {
		return nil, err
	}
	return assessmentPayload(item), nil
}

func (s *Service) ListCategories(ctx context.Context, session Session, key string) (map[string]any, error) {
	groups, ok := s.registry.Categories(key)
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "framework not found", map[string]any{"key": key})
	}
	assessments, err := s.store.ListAssessments(ctx, session.OrgID, key)
	if err != nil {
		return nil, err
	}
	implemented := make(map[string]bool, len(assessments))
	for _, item := range assessments {
		if item.Status != nil && *item.Status == "implemented" {
			implemented[item.ControlID] = true
		}
	}

	items := make([]map[string]any, 0, len(groups))
	for _, group := range groups {
		done := 0
		for _, control := range group.Controls {
			if implemented[control.ID] {
				done++
			}
		}
		items = append(items, map[string]any{
			"family":      group.Family,
			"category":    group.Category,
			"implemented": done,
			"total":       len(group.Controls),
		})
	}
	return map[string]any{"frameworkKey": key, "categories": items}, nil
}

func (s *Service) CategoryDetail(ctx context.Context, session Session, key, category string) (map[string]any, error) {
	groups, ok := s.registry.Categories(key)
	if !ok {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "framework not found", map[string]any{"key": key})
	}
	var group *framework.CategoryGroup
	for i := range groups {
		if strings.EqualFold(groups[i].Category, category) {
			group = &groups[i]
			break
		}
	}
	if group == nil {
		return nil, domainError(http.StatusNotFound, "NOT_FOUND", "category not found", map[string]any{"category": category})
	}

	assessments, err := s.store.ListAssessments(ctx, session.OrgID, key)
	if err != nil {
		return nil, err
	}
	byControl := make(map[string]store.Assessment, len(assessments))
	for _, item := range assessments {
		byControl[item.ControlID] = item
	}

	rows := make([]map[string]any, 0, len(group.Controls))
	for _, control := range group.Controls {
		row := map[string]any{"control": control}
		if item, ok := byControl[control.ID]; ok {
			row["assessment"] = assessmentPayload(item)
		} else {
			row["assessment"] = nil
		}
		rows = append(rows, row)
	}
	return map[string]any{
		"family":   group.Family,
		"category": group.Category,
		"rows":     rows,
	}, nil
}

func (s *Service) ExportFrameworkCSV(key string) ([]byte, string, error) {
	data, filename, ok := s.registry.CSV(key)
	if !ok {
		return nil, "", domainError(http.StatusNotFound, "NOT_FOUND", "framework not found", map[string]any{"key": key})
	}
	return data, filename, nil
}

func (s *Service) UploadEvidence(ctx context.Context, session Session, key, controlID, filename, contentType string, reader io.Reader, size int64) (map[string]any, error) {
	if s.evidence == nil || !s.evidence.Enabled() {
		return nil, domainError(http.StatusServiceUnavailable, "EVIDENCE_UNAVAILABLE", "evidence storage not configured", nil)
	}
	if !s.registry.HasControl(key, controlID) {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "control not in framework", map[string]any{"controlId": controlID})
	}

	link, err := s.evidence.Upload(ctx, key, controlID, filename, reader, size, contentType)
	if err != nil {
		return nil, err
	}

	links := []string{}
	if existing, err := s.store.GetAssessment(ctx, session.OrgID, key, controlID); err == nil {
		links = existing.EvidenceLinks
	}
	links = append(links, link)
	item, err := s.store.UpsertAssessment(ctx, util.NewID("asm"), session.OrgID, key, controlID, store.AssessmentPatch{EvidenceLinks: &links})
	if err != nil {
		return nil, err
	}

	payload := assessmentPayload(item)
	payload["uploaded"] = link
	return payload, nil
}

// --- notifications ---

func (s *Service) ListNotifications(ctx context.Context, session Session, status string, limit int) (map[string]any, error) {
	unreadOnly := status != "all"
	notifications, err := s.store.ListNotifications(ctx, session.Email, unreadOnly, limit)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(notifications))
	unread := 0
	for _, item := range notifications {
		if item.ReadAt == nil {
			unread++
		}
		items = append(items, notificationPayload(item))
	}
	return map[string]any{"notifications": items, "unreadCount": unread}, nil
}

func (s *Service) MarkNotificationsRead(ctx context.Context, session Session, ids []string) (map[string]any, error) {
	if len(ids) == 0 {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "ids is required", nil)
	}
	if err := s.store.MarkNotificationsRead(ctx, session.Email, ids); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

func (s *Service) MarkAllNotificationsRead(ctx context.Context, session Session) (map[string]any, error) {
	if err := s.store.MarkAllNotificationsRead(ctx, session.Email); err != nil {
		return nil, err
	}
	return map[string]any{"ok": true}, nil
}

// --- users ---

func (s *Service) ListUsers(ctx context.Context, session Session) (map[string]any, error) {
	users, err := s.store.ListUsers(ctx, session.OrgID)
	if err != nil {
		return nil, err
	}
	items := make([]map[string]any, 0, len(users))
	for _, user := range users {
		items = append(items, userPayload(user))
	}
	return map[string]any{"users": items}, nil
}

func (s *Service) CreateUser(ctx context.Context, session Session, userEmail, name, role, password string) (map[string]any, error) {
	userEmail = strings.ToLower(strings.TrimSpace(userEmail))
	if userEmail == "" || !strings.Contains(userEmail, "@") {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "a valid email is required", nil)
	}
	role = string(rbac.Normalize(role))
	if _, err := s.store.GetUserByEmail(ctx, userEmail); err == nil {
		return nil, domainError(http.StatusConflict, "CONFLICT", "email already registered", nil)
	}

	user := store.User{
		ID:    util.NewID("usr"),
		Email: userEmail,
		Name:  strings.TrimSpace(name),
		Role:  role,
		OrgID: session.OrgID,
		// Admin-created accounts skip the verification flow.
		IsEmailVerified: true,
	}
	if password != "" {
		hash, err := authpw.HashPassword(password)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}
	if err := s.store.CreateUser(ctx, user); err != nil {
		return nil, err
	}
	return userPayload(user), nil
}

func (s *Service) UpdateUser(ctx context.Context, userID, userEmail, name, role string) (map[string]any, error) {
	if role != "" {
		role = string(rbac.Normalize(role))
	}
	user, err := s.store.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if userEmail == "" {
		userEmail = user.Email
	}
	if name == "" {
		name = user.Name
	}
	if role == "" {
		role = user.Role
	}
	if err := s.store.UpdateUser(ctx, userID, strings.ToLower(userEmail), name, role); err != nil {
		return nil, err
	}
	user.Email = strings.ToLower(userEmail)
	user.Name = name
	user.Role = role
	return userPayload(user), nil
}

func (s *Service) DeleteUser(ctx context.Context, session Session, userID string) (map[string]any, error) {
	if userID == session.UserID {
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "cannot delete your own account", nil)
	}
	if err := s.store.DeleteUser(ctx, userID); err != nil {
		return nil, err
	}
	return map[string]any{"deleted": userID}, nil
}

// --- search ---

func (s *Service) Search(session Session, text string, filterType string, limit, offset int) search.Response {
	return s.search.Search(search.Query{
		Text:       text,
		FilterType: search.ResultType(filterType),
		OrgID:      session.OrgID,
		Limit:      limit,
		Offset:     offset,
	})
}

// --- export ---

func (s *Service) ExportVersion(ctx context.Context, session Session, documentID, selector, format string) (*export.Result, error) {
	doc, err := s.store.GetDocument(ctx, session.OrgID, documentID)
	if err != nil {
		return nil, err
	}
	ver, err := s.resolveVersion(ctx, doc.ID, selector)
	if err != nil {
		return nil, err
	}

	var exportFormat export.Format
	switch format {
	case "", string(export.FormatHTML):
		exportFormat = export.FormatHTML
	case string(export.FormatPDF):
		exportFormat = export.FormatPDF
	case string(export.FormatDOCX):
		exportFormat = export.FormatDOCX
	default:
		return nil, domainError(http.StatusBadRequest, "VALIDATION_ERROR", "format must be html, pdf, or docx", map[string]any{"format": format})
	}

	approvals, err := s.store.ListApprovals(ctx, doc.ID)
	if err != nil {
		return nil, err
	}
	comments, err := s.store.ListComments(ctx, doc.ID)
	if err != nil {
		return nil, err
	}

	approvalEntries := make([]export.ApprovalEntry, 0, len(approvals))
	for _, item := range approvals {
		if item.Version != nil && *item.Version != ver.Version {
			continue
		}
		approvalEntries = append(approvalEntries, export.ApprovalEntry{
			Reviewer:  item.Reviewer,
			Status:    item.Status,
			Note:      item.Note,
			DecidedAt: item.DecidedAt,
		})
	}
	commentEntries := make([]export.CommentEntry, 0, len(comments))
	for _, item := range comments {
		commentEntries = append(commentEntries, export.CommentEntry{
			Author:    item.Author,
			Body:      item.Body,
			CreatedAt: item.CreatedAt,
		})
	}

	return s.exporter.Export(export.Document{
		ID:          doc.ID,
		Title:       doc.Title,
		TemplateKey: doc.TemplateKey,
		Version:     ver.Version,
		HTML:        ver.HTML,
		OwnerEmail:  doc.OwnerEmail,
		CreatedAt:   ver.CreatedAt,
	}, approvalEntries, commentEntries, exportFormat)
}

// --- payload builders ---

func documentPayload(doc store.Document) map[string]any {
	payload := map[string]any{
		"id":          doc.ID,
		"title":       doc.Title,
		"templateKey": doc.TemplateKey,
		"status":      doc.Status,
		"ownerEmail":  doc.OwnerEmail,
		"createdAt":   doc.CreatedAt,
		"updatedAt":   doc.UpdatedAt,
	}
	if doc.LatestVersion > 0 {
		payload["latestVersion"] = doc.LatestVersion
	} else {
		payload["latestVersion"] = nil
	}
	return payload
}

func versionPayload(ver store.Version) map[string]any {
	payload := map[string]any{
		"id":         ver.ID,
		"documentId": ver.DocumentID,
		"version":    ver.Version,
		"html":       ver.HTML,
		"createdAt":  ver.CreatedAt,
	}
	var params map[string]any
	if err := json.Unmarshal([]byte(ver.ParamsJSON), &params); err == nil {
		payload["params"] = params
	} else {
		payload["params"] = nil
	}
	return payload
}

func approvalPayload(item store.Approval) map[string]any {
	payload := map[string]any{
		"id":          item.ID,
		"documentId":  item.DocumentID,
		"reviewer":    item.Reviewer,
		"status":      item.Status,
		"note":        item.Note,
		"requestedAt": item.RequestedAt,
	}
	if item.Version != nil {
		payload["version"] = *item.Version
	} else {
		payload["version"] = nil
	}
	if item.DecidedAt != nil {
		payload["decidedAt"] = *item.DecidedAt
	} else {
		payload["decidedAt"] = nil
	}
	return payload
}

func summaryPayload(summary store.ApprovalSummary) map[string]any {
	return map[string]any{
		"pending":  summary.Pending,
		"approved": summary.Approved,
		"rejected": summary.Rejected,
	}
}

func commentPayload(item store.Comment) map[string]any {
	payload := map[string]any{
		"id":         item.ID,
		"documentId": item.DocumentID,
		"author":     item.Author,
		"body":       item.Body,
		"createdAt":  item.CreatedAt,
	}
	if item.Version != nil {
		payload["version"] = *item.Version
	} else {
		payload["version"] = nil
	}
	return payload
}

func templatePayload(item store.Template) (map[string]any, error) {
	specs, err := tmpl.ParseSchema(item.SchemaJSON)
	if err != nil {
		return nil, fmt.Errorf("parse template schema: %w", err)
	}
	return map[string]any{
		"key":       item.Key,
		"title":     item.Title,
		"body":      item.Body,
		"params":    specs,
		"updatedAt": item.UpdatedAt,
	}, nil
}

func assessmentPayload(item store.Assessment) map[string]any {
	payload := map[string]any{
		"id":            item.ID,
		"frameworkKey":  item.FrameworkKey,
		"controlId":     item.ControlID,
		"evidenceLinks": item.EvidenceLinks,
		"createdAt":     item.CreatedAt,
		"updatedAt":     item.UpdatedAt,
	}
	payload["status"] = stringOrNil(item.Status)
	payload["ownerEmail"] = stringOrNil(item.OwnerEmail)
	payload["notes"] = stringOrNil(item.Notes)
	if item.LastReviewedAt != nil {
		payload["lastReviewedAt"] = *item.LastReviewedAt
	} else {
		payload["lastReviewedAt"] = nil
	}
	return payload
}

func notificationPayload(item store.Notification) map[string]any {
	payload := map[string]any{
		"id":        item.ID,
		"type":      item.Type,
		"message":   item.Message,
		"createdAt": item.CreatedAt,
	}
	if item.DocumentID != nil {
		payload["documentId"] = *item.DocumentID
	} else {
		payload["documentId"] = nil
	}
	if item.Version != nil {
		payload["version"] = *item.Version
	} else {
		payload["version"] = nil
	}
	if item.ApprovalID != nil {
		payload["approvalId"] = *item.ApprovalID
	} else {
		payload["approvalId"] = nil
	}
	if item.ReadAt != nil {
		payload["readAt"] = *item.ReadAt
	} else {
		payload["readAt"] = nil
	}
	return payload
}

func userPayload(user store.User) map[string]any {
	return map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"name":      user.Name,
		"role":      user.Role,
		"verified":  user.IsEmailVerified,
		"createdAt": user.CreatedAt,
	}
}

func stringOrNil(value *string) any {
	if value == nil {
		return nil
	}
	return *value
}
