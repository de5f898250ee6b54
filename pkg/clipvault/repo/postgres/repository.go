package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clipvault/clipvault/pkg/clipvault"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DBTX is an interface that allows us to use either a database connection or a transaction
type DBTX interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository implements clipvault.Repository using PostgreSQL
type Repository struct {
	db DBTX
}

// New creates a new PostgreSQL repository
func New(db DBTX) clipvault.Repository {
	return &Repository{db: db}
}

// NewWithPool creates a new PostgreSQL repository with connection pool
func NewWithPool(pool *pgxpool.Pool) clipvault.Repository {
	return &Repository{db: pool}
}

// Error handling helper
func (r *Repository) handlePostgresError(operation string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("duplicate entry in %s", operation)
		case "23503": // foreign_key_violation
			return fmt.Errorf("referenced record not found in %s", operation)
		case "23502": // not_null_violation
			return fmt.Errorf("required field %s is missing", pgErr.ColumnName)
		case "42P01": // undefined_table
			return fmt.Errorf("table does not exist - database migration required")
		default:
			return fmt.Errorf("database error in %s: %s (code: %s)", operation, pgErr.Message, pgErr.Code)
		}
	}

	return fmt.Errorf("database error in %s: %w", operation, err)
}

// Video operations

func (r *Repository) CreateVideo(ctx context.Context, video *clipvault.Video) error {
	query := `
		INSERT INTO videos (
			id, owner_id, storage_key, file_name, mime_type, size_bytes,
			duration_seconds, status, failure_reason, created_at, updated_at, ready_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`

	_, err := r.db.Exec(ctx, query,
		video.ID, video.OwnerID, video.StorageKey, video.FileName,
		video.MimeType, video.SizeBytes, video.DurationSeconds,
		video.Status, video.FailureReason, video.CreatedAt, video.UpdatedAt, video.ReadyAt)

	if err != nil {
		return r.handlePostgresError("create video", err)
	}

	return nil
}

func (r *Repository) GetVideo(ctx context.Context, id uuid.UUID) (*clipvault.Video, error) {
	query := `
		SELECT id, owner_id, storage_key, file_name, mime_type, size_bytes,
		       duration_seconds, status, failure_reason, created_at, updated_at, ready_at
		FROM videos WHERE id = $1`

	var video clipvault.Video
	err := r.db.QueryRow(ctx, query, id).Scan(
		&video.ID, &video.OwnerID, &video.StorageKey, &video.FileName,
		&video.MimeType, &video.SizeBytes, &video.DurationSeconds,
		&video.Status, &video.FailureReason, &video.CreatedAt, &video.UpdatedAt, &video.ReadyAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, clipvault.ErrVideoNotFound
		}
		return nil, r.handlePostgresError("get video", err)
	}

	return &video, nil
}

func (r *Repository) UpdateVideo(ctx context.Context, video *clipvault.Video) error {
	query := `
		UPDATE videos SET
			duration_seconds = $2, status = $3, failure_reason = $4,
			updated_at = $5, ready_at = $6
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query,
		video.ID, video.DurationSeconds, video.Status, video.FailureReason,
		video.UpdatedAt, video.ReadyAt)

	if err != nil {
		return r.handlePostgresError("update video", err)
	}
	if tag.RowsAffected() == 0 {
		return clipvault.ErrVideoNotFound
	}

	return nil
}

func (r *Repository) ListVideosByOwner(ctx context.Context, ownerID uuid.UUID) ([]*clipvault.Video, error) {
	query := `
		SELECT id, owner_id, storage_key, file_name, mime_type, size_bytes,
		       duration_seconds, status, failure_reason, created_at, updated_at, ready_at
		FROM videos WHERE owner_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, ownerID)
	if err != nil {
		return nil, r.handlePostgresError("list videos", err)
	}
	defer rows.Close()

	var videos []*clipvault.Video
	for rows.Next() {
		var video clipvault.Video
		err := rows.Scan(
			&video.ID, &video.OwnerID, &video.StorageKey, &video.FileName,
			&video.MimeType, &video.SizeBytes, &video.DurationSeconds,
			&video.Status, &video.FailureReason, &video.CreatedAt, &video.UpdatedAt, &video.ReadyAt)
		if err != nil {
			return nil, r.handlePostgresError("scan video", err)
		}
		videos = append(videos, &video)
	}

	return videos, rows.Err()
}

// Thumbnail operations

// UpsertThumbnail inserts or replaces the row keyed by (video_id,
// position_index) so redelivered jobs never grow the row set.
func (r *Repository) UpsertThumbnail(ctx context.Context, thumb *clipvault.Thumbnail) error {
	query := `
		INSERT INTO thumbnails (
			id, video_id, storage_key, position_index, position_seconds,
			width, height, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (video_id, position_index) DO UPDATE SET
			storage_key = EXCLUDED.storage_key,
			position_seconds = EXCLUDED.position_seconds,
			width = EXCLUDED.width,
			height = EXCLUDED.height`

	createdAt := thumb.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}

	_, err := r.db.Exec(ctx, query,
		thumb.ID, thumb.VideoID, thumb.StorageKey, thumb.PositionIndex,
		thumb.PositionSeconds, thumb.Width, thumb.Height, createdAt)

	if err != nil {
		return r.handlePostgresError("upsert thumbnail", err)
	}

	return nil
}

func (r *Repository) ListThumbnails(ctx context.Context, videoID uuid.UUID) ([]*clipvault.Thumbnail, error) {
	query := `
		SELECT id, video_id, storage_key, position_index, position_seconds,
		       width, height, created_at
		FROM thumbnails WHERE video_id = $1
		ORDER BY position_index`

	rows, err := r.db.Query(ctx, query, videoID)
	if err != nil {
		return nil, r.handlePostgresError("list thumbnails", err)
	}
	defer rows.Close()

	var thumbs []*clipvault.Thumbnail
	for rows.Next() {
		var thumb clipvault.Thumbnail
		err := rows.Scan(
			&thumb.ID, &thumb.VideoID, &thumb.StorageKey, &thumb.PositionIndex,
			&thumb.PositionSeconds, &thumb.Width, &thumb.Height, &thumb.CreatedAt)
		if err != nil {
			return nil, r.handlePostgresError("scan thumbnail", err)
		}
		thumbs = append(thumbs, &thumb)
	}

	return thumbs, rows.Err()
}

// Upload session operations

func (r *Repository) PutUploadSession(ctx context.Context, session *clipvault.UploadSession) error {
	query := `
		INSERT INTO upload_sessions (
			upload_id, storage_key, video_id, owner_id, parts, created_at, expires_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (upload_id, storage_key) DO UPDATE SET
			parts = EXCLUDED.parts,
			expires_at = EXCLUDED.expires_at`

	_, err := r.db.Exec(ctx, query,
		session.UploadID, session.StorageKey, session.VideoID,
		session.OwnerID, session.Parts, session.CreatedAt, session.ExpiresAt)

	if err != nil {
		return r.handlePostgresError("put upload session", err)
	}

	return nil
}

func (r *Repository) GetUploadSession(ctx context.Context, uploadID, storageKey string) (*clipvault.UploadSession, error) {
	query := `
		SELECT upload_id, storage_key, video_id, owner_id, parts, created_at, expires_at
		FROM upload_sessions
		WHERE upload_id = $1 AND storage_key = $2`

	var session clipvault.UploadSession
	err := r.db.QueryRow(ctx, query, uploadID, storageKey).Scan(
		&session.UploadID, &session.StorageKey, &session.VideoID,
		&session.OwnerID, &session.Parts, &session.CreatedAt, &session.ExpiresAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, clipvault.ErrSessionNotFound
		}
		return nil, r.handlePostgresError("get upload session", err)
	}

	return &session, nil
}

func (r *Repository) AppendUploadPart(ctx context.Context, uploadID, storageKey string, part clipvault.CompletedPart) error {
	// Rebuild the jsonb array without any prior entry for this part number,
	// then add the new entry, keeping part-number order.
	query := `
		UPDATE upload_sessions
		SET parts = (
			SELECT coalesce(jsonb_agg(p ORDER BY (p->>'part_number')::int), '[]'::jsonb)
			FROM (
				SELECT p
				FROM jsonb_array_elements(parts) AS p
				WHERE (p->>'part_number')::int <> $3
				UNION ALL
				SELECT $4::jsonb
			) AS kept(p)
		)
		WHERE upload_id = $1 AND storage_key = $2`

	tag, err := r.db.Exec(ctx, query, uploadID, storageKey, part.PartNumber, part)
	if err != nil {
		return r.handlePostgresError("append upload part", err)
	}
	if tag.RowsAffected() == 0 {
		return clipvault.ErrSessionNotFound
	}

	return nil
}

func (r *Repository) DeleteUploadSession(ctx context.Context, uploadID, storageKey string) error {
	query := `DELETE FROM upload_sessions WHERE upload_id = $1 AND storage_key = $2`

	if _, err := r.db.Exec(ctx, query, uploadID, storageKey); err != nil {
		return r.handlePostgresError("delete upload session", err)
	}

	return nil
}

// Share link operations

func (r *Repository) CreateShareLink(ctx context.Context, link *clipvault.ShareLink) error {
	query := `
		INSERT INTO share_links (
			id, video_id, owner_id, token, visibility, allowed_emails,
			expires_at, revoked, last_viewed_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		link.ID, link.VideoID, link.OwnerID, link.Token, link.Visibility,
		link.AllowedEmails, link.ExpiresAt, link.Revoked, link.LastViewedAt, link.CreatedAt)

	if err != nil {
		return r.handlePostgresError("create share link", err)
	}

	return nil
}

func (r *Repository) GetShareLink(ctx context.Context, id uuid.UUID) (*clipvault.ShareLink, error) {
	return r.getShareLink(ctx, "id = $1", id)
}

func (r *Repository) GetShareLinkByToken(ctx context.Context, token string) (*clipvault.ShareLink, error) {
	return r.getShareLink(ctx, "token = $1", token)
}

func (r *Repository) getShareLink(ctx context.Context, where string, arg interface{}) (*clipvault.ShareLink, error) {
	query := `
		SELECT id, video_id, owner_id, token, visibility, allowed_emails,
		       expires_at, revoked, last_viewed_at, created_at
		FROM share_links WHERE ` + where

	var link clipvault.ShareLink
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&link.ID, &link.VideoID, &link.OwnerID, &link.Token, &link.Visibility,
		&link.AllowedEmails, &link.ExpiresAt, &link.Revoked, &link.LastViewedAt, &link.CreatedAt)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, clipvault.ErrLinkNotFound
		}
		return nil, r.handlePostgresError("get share link", err)
	}

	return &link, nil
}

func (r *Repository) UpdateShareLink(ctx context.Context, link *clipvault.ShareLink) error {
	query := `
		UPDATE share_links SET
			revoked = $2, last_viewed_at = $3
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, link.ID, link.Revoked, link.LastViewedAt)
	if err != nil {
		return r.handlePostgresError("update share link", err)
	}
	if tag.RowsAffected() == 0 {
		return clipvault.ErrLinkNotFound
	}

	return nil
}

func (r *Repository) ListShareLinksByVideo(ctx context.Context, videoID uuid.UUID) ([]*clipvault.ShareLink, error) {
	query := `
		SELECT id, video_id, owner_id, token, visibility, allowed_emails,
		       expires_at, revoked, last_viewed_at, created_at
		FROM share_links WHERE video_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, videoID)
	if err != nil {
		return nil, r.handlePostgresError("list share links", err)
	}
	defer rows.Close()

	var links []*clipvault.ShareLink
	for rows.Next() {
		var link clipvault.ShareLink
		err := rows.Scan(
			&link.ID, &link.VideoID, &link.OwnerID, &link.Token, &link.Visibility,
			&link.AllowedEmails, &link.ExpiresAt, &link.Revoked, &link.LastViewedAt, &link.CreatedAt)
		if err != nil {
			return nil, r.handlePostgresError("scan share link", err)
		}
		links = append(links, &link)
	}

	return links, rows.Err()
}
