package platform

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/edulane/notify-service/internal/collaborator"
	"github.com/edulane/notify-service/internal/model"
	apperrors "github.com/edulane/notify-service/pkg/errors"
)

// TemplateRenderer resolves templates from the shared database and renders
// them by {{variable}} substitution. Template authoring and compilation live
// in the platform's content service; this renderer only consumes the stored
// output.
type TemplateRenderer struct {
	db *sqlx.DB
}

func NewTemplateRenderer(db *sqlx.DB) *TemplateRenderer {
	return &TemplateRenderer{db: db}
}

type templateRow struct {
	ID        uuid.UUID `db:"id"`
	Name      string    `db:"name"`
	Subject   string    `db:"subject"`
	HTMLBody  string    `db:"html_body"`
	TextBody  string    `db:"text_body"`
	PushTitle string    `db:"push_title"`
	PushBody  string    `db:"push_body"`
	PushIcon  string    `db:"push_icon"`
	Actions   []byte    `db:"actions"`
	TTL       int       `db:"ttl"`
}

func (r *TemplateRenderer) GetTemplate(ctx context.Context, id uuid.UUID) (*collaborator.Template, error) {
	query := `SELECT id, name FROM notification_templates WHERE id = $1`

	var row struct {
		ID   uuid.UUID `db:"id"`
		Name string    `db:"name"`
	}
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("template", err)
		}
		return nil, apperrors.Unavailable("template store", err)
	}
	return &collaborator.Template{ID: row.ID, Name: row.Name}, nil
}

func (r *TemplateRenderer) RenderEmail(ctx context.Context, tpl *collaborator.Template, data map[string]string) (*collaborator.RenderedEmail, error) {
	row, err := r.load(ctx, tpl.ID)
	if err != nil {
		return nil, err
	}

	return &collaborator.RenderedEmail{
		Subject:  substitute(row.Subject, data),
		HTMLBody: substitute(row.HTMLBody, data),
		TextBody: substitute(row.TextBody, data),
	}, nil
}

func (r *TemplateRenderer) RenderPush(ctx context.Context, tpl *collaborator.Template, data map[string]string) (*collaborator.RenderedPush, error) {
	row, err := r.load(ctx, tpl.ID)
	if err != nil {
		return nil, err
	}

	rendered := &collaborator.RenderedPush{
		Title: substitute(row.PushTitle, data),
		Body:  substitute(row.PushBody, data),
		Icon:  row.PushIcon,
		TTL:   row.TTL,
	}
	if len(row.Actions) > 0 {
		var actions []model.PushAction
		if err := json.Unmarshal(row.Actions, &actions); err != nil {
			return nil, fmt.Errorf("failed to unmarshal template actions: %w", err)
		}
		rendered.Actions = actions
	}
	return rendered, nil
}

func (r *TemplateRenderer) load(ctx context.Context, id uuid.UUID) (*templateRow, error) {
	query := `
		SELECT id, name, subject, html_body, text_body, push_title, push_body,
		       push_icon, actions, ttl
		FROM notification_templates
		WHERE id = $1
	`

	var row templateRow
	if err := r.db.GetContext(ctx, &row, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.NotFound("template", err)
		}
		return nil, apperrors.Unavailable("template store", err)
	}
	return &row, nil
}

func substitute(s string, data map[string]string) string {
	for k, v := range data {
		s = strings.ReplaceAll(s, "{{"+k+"}}", v)
	}
	return s
}
