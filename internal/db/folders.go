package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/vdavid/mailsync/internal/models"
)

// ErrFolderNotFound is returned when a folder cannot be found.
var ErrFolderNotFound = errors.New("folder not found")

const folderColumns = `id, user_id, name, path, type, flags, total_messages, unread_messages, created_at, updated_at`

func scanFolder(row pgx.Row) (*models.Folder, error) {
	var f models.Folder
	var folderType string
	if err := row.Scan(
		&f.ID,
		&f.UserID,
		&f.Name,
		&f.Path,
		&folderType,
		&f.Flags,
		&f.TotalMessages,
		&f.UnreadMessages,
		&f.CreatedAt,
		&f.UpdatedAt,
	); err != nil {
		return nil, err
	}
	f.Type = models.ParseFolderType(folderType)
	return &f, nil
}

// ListFolders returns every folder row of the user, duplicates included, ordered by path
// and then by age so the oldest row of a path comes first.
func ListFolders(ctx context.Context, pool *pgxpool.Pool, userID string) ([]*models.Folder, error) {
	rows, err := pool.Query(ctx, `
		SELECT `+folderColumns+`
		FROM folders
		WHERE user_id = $1
		ORDER BY path, created_at, id
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list folders: %w", err)
	}
	defer rows.Close()

	var folders []*models.Folder
	for rows.Next() {
		f, err := scanFolder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan folder: %w", err)
		}
		folders = append(folders, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating folders: %w", err)
	}

	return folders, nil
}

// GetFolderByPath returns the oldest folder row stored for the path.
func GetFolderByPath(ctx context.Context, pool *pgxpool.Pool, userID, path string) (*models.Folder, error) {
	f, err := scanFolder(pool.QueryRow(ctx, `
		SELECT `+folderColumns+`
		FROM folders
		WHERE user_id = $1 AND path = $2
		ORDER BY created_at, id
		LIMIT 1
	`, userID, path))

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFolderNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get folder: %w", err)
	}

	return f, nil
}

// UpsertFolder updates the folder rows matching (user_id, path) in place, or inserts a new
// row when there is none. Existing ids survive. On return folder holds the stored row and
// created reports whether an insert happened.
func UpsertFolder(ctx context.Context, pool *pgxpool.Pool, folder *models.Folder) (created bool, err error) {
	flags := folder.Flags
	if flags == nil {
		flags = []string{}
	}

	tag, err := pool.Exec(ctx, `
		UPDATE folders SET
			name = $3,
			type = $4,
			flags = $5,
			total_messages = $6,
			unread_messages = $7,
			updated_at = NOW()
		WHERE user_id = $1 AND path = $2
	`, folder.UserID, folder.Path, folder.Name, string(folder.Type), flags, folder.TotalMessages, folder.UnreadMessages)
	if err != nil {
		return false, fmt.Errorf("failed to update folder: %w", err)
	}

	if tag.RowsAffected() > 0 {
		stored, err := GetFolderByPath(ctx, pool, folder.UserID, folder.Path)
		if err != nil {
			return false, err
		}
		*folder = *stored
		return false, nil
	}

	stored, err := scanFolder(pool.QueryRow(ctx, `
		INSERT INTO folders (user_id, name, path, type, flags, total_messages, unread_messages)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+folderColumns,
		folder.UserID, folder.Name, folder.Path, string(folder.Type), flags, folder.TotalMessages, folder.UnreadMessages,
	))
	if err != nil {
		return false, fmt.Errorf("failed to insert folder: %w", err)
	}

	*folder = *stored
	return true, nil
}

// InsertFolder always inserts a new row, even when the path is already stored.
func InsertFolder(ctx context.Context, pool *pgxpool.Pool, folder *models.Folder) error {
	flags := folder.Flags
	if flags == nil {
		flags = []string{}
	}

	stored, err := scanFolder(pool.QueryRow(ctx, `
		INSERT INTO folders (user_id, name, path, type, flags, total_messages, unread_messages)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING `+folderColumns,
		folder.UserID, folder.Name, folder.Path, string(folder.Type), flags, folder.TotalMessages, folder.UnreadMessages,
	))
	if err != nil {
		return fmt.Errorf("failed to insert folder: %w", err)
	}

	*folder = *stored
	return nil
}

// DeleteFolderByID deletes a single folder row of the user.
func DeleteFolderByID(ctx context.Context, pool *pgxpool.Pool, userID, folderID string) error {
	_, err := pool.Exec(ctx, `DELETE FROM folders WHERE user_id = $1 AND id = $2`, userID, folderID)
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	return nil
}

// DeleteFolderByPath deletes every row stored for the path along with its cached
// messages and ingestion cursor.
func DeleteFolderByPath(ctx context.Context, pool *pgxpool.Pool, userID, path string) error {
	return withTx(ctx, pool, "delete folder", func(tx pgx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM folders WHERE user_id = $1 AND path = $2`,
			`DELETE FROM messages WHERE user_id = $1 AND folder_path = $2`,
			`DELETE FROM folder_sync_cursors WHERE user_id = $1 AND folder_path = $2`,
			`DELETE FROM folder_sync_timestamps WHERE user_id = $1 AND folder_path = $2`,
		} {
			if _, err := tx.Exec(ctx, stmt, userID, path); err != nil {
				return fmt.Errorf("failed to delete folder: %w", err)
			}
		}
		return nil
	})
}
