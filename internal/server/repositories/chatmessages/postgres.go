// Package chatmessages touches chat messages only as the referencing side of
// the asset retention cascade; the chat system itself lives elsewhere.
package chatmessages

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/carselling/uploadpipe/internal/common"
	"github.com/carselling/uploadpipe/internal/dbx"
	"github.com/carselling/uploadpipe/internal/server/models"
)

// PostgresRepository implements chat-message access over a dbx.DBTX.
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, m *models.ChatMessage) error {
	query := `
		INSERT INTO chat_messages (id, chat_id, sender_id, content, attachment_url, attachment_name, attachment_size, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.db.ExecContext(ctx, query,
		m.ID, m.ChatID, m.SenderID, m.Content,
		nullString(m.AttachmentURL), nullString(m.AttachmentName), m.AttachmentSize, m.CreatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*models.ChatMessage, error) {
	query := `SELECT id, chat_id, sender_id, content, attachment_url, attachment_name, attachment_size, created_at
		FROM chat_messages WHERE id=$1`
	var m models.ChatMessage
	var content, url, name sql.NullString
	var size sql.NullInt64
	err := r.db.QueryRowContext(ctx, query, id).Scan(
		&m.ID, &m.ChatID, &m.SenderID, &content, &url, &name, &size, &m.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select chat message: %w", err)
	}
	m.Content = content.String
	m.AttachmentURL = url.String
	m.AttachmentName = name.String
	m.AttachmentSize = size.Int64
	return &m, nil
}

// ClearAttachmentByURL nulls the attachment fields of every message pointing
// at the given URL and substitutes the placeholder body. Returns how many
// messages were touched; zero is fine (unreferenced asset).
func (r *PostgresRepository) ClearAttachmentByURL(ctx context.Context, attachmentURL, placeholder string) (int64, error) {
	query := `UPDATE chat_messages
		SET content=$1, attachment_url=NULL, attachment_name=NULL, attachment_size=NULL
		WHERE attachment_url=$2`
	res, err := r.db.ExecContext(ctx, query, placeholder, attachmentURL)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected error: %w", err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
