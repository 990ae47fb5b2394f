package mailsync

import (
	"context"
	"fmt"
	"sort"

	"github.com/vdavid/mailsync/internal/models"
)

// DuplicateReport is the outcome of RepairDuplicates.
type DuplicateReport struct {
	Merged int `json:"merged"`
}

// RepairDuplicates leaves at most one local folder per path. Of each group of rows
// sharing a path it keeps the one with the most messages and deletes the others. It is a
// no-op when there are no duplicates.
func (s *Synchronizer) RepairDuplicates(ctx context.Context, userID string) (DuplicateReport, error) {
	var report DuplicateReport

	folders, err := s.store.ListFolders(ctx, userID)
	if err != nil {
		return report, fmt.Errorf("failed to list folders: %w", err)
	}

	groups := make(map[string][]*models.Folder)
	var paths []string
	for _, folder := range folders {
		if _, ok := groups[folder.Path]; !ok {
			paths = append(paths, folder.Path)
		}
		groups[folder.Path] = append(groups[folder.Path], folder)
	}

	for _, path := range paths {
		group := groups[path]
		if len(group) < 2 {
			continue
		}

		keep := survivor(group)
		for _, folder := range group {
			if folder == keep {
				continue
			}
			if err := s.store.DeleteFolderByID(ctx, userID, folder.ID); err != nil {
				return report, fmt.Errorf("failed to delete duplicate folder %s: %w", path, err)
			}
			report.Merged++
		}

		s.log.Warn().
			Str("user_id", userID).
			Str("folder", path).
			Int("rows", len(group)).
			Str("kept_id", keep.ID).
			Msg("Merged duplicate folder rows")
	}

	return report, nil
}

// survivor picks the row with the greatest TotalMessages. Ties go to the oldest row,
// then the smallest id, so repeated runs agree.
func survivor(group []*models.Folder) *models.Folder {
	sorted := append([]*models.Folder(nil), group...)
	sort.SliceStable(sorted, func(i, j int) bool {
		a, b := sorted[i], sorted[j]
		if a.TotalMessages != b.TotalMessages {
			return a.TotalMessages > b.TotalMessages
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return sorted[0]
}
