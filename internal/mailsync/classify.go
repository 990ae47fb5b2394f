package mailsync

import (
	"strings"

	"github.com/vdavid/mailsync/internal/models"
)

// specialUseAliases maps normalized markers that servers use in place of the canonical
// type names.
var specialUseAliases = map[string]models.FolderType{
	"junk":          models.FolderSpam,
	"bulk":          models.FolderSpam,
	"deleted":       models.FolderTrash,
	"deleted items": models.FolderTrash,
	"sent items":    models.FolderSent,
	"sent mail":     models.FolderSent,
	"draft":         models.FolderDrafts,
	"archives":      models.FolderArchive,
}

// ClassifyFolder maps a special-use marker to a folder type. A marker may carry several
// attributes; the first type in models.SpecialFolderTypes order wins. Anything
// unrecognized is custom.
func ClassifyFolder(specialUse string) models.FolderType {
	found := map[models.FolderType]bool{}
	for _, token := range splitMarker(specialUse) {
		if t, ok := folderTypeOf(token); ok {
			found[t] = true
		}
	}

	for _, t := range models.SpecialFolderTypes {
		if found[t] {
			return t
		}
	}
	return models.FolderCustom
}

func folderTypeOf(token string) (models.FolderType, bool) {
	for _, t := range models.SpecialFolderTypes {
		if string(t) == token {
			return t, true
		}
	}
	t, ok := specialUseAliases[token]
	return t, ok
}

// splitMarker splits `\Sent \HasNoChildren` style markers into lower-case tokens
// without the leading backslash. A marker without backslashes is one token.
func splitMarker(marker string) []string {
	marker = strings.ToLower(strings.TrimSpace(marker))
	if marker == "" {
		return nil
	}
	if !strings.Contains(marker, `\`) {
		return []string{marker}
	}

	var tokens []string
	for _, field := range strings.FieldsFunc(marker, func(r rune) bool { return r == ',' || r == ' ' }) {
		if token := strings.TrimLeft(field, `\`); token != "" {
			tokens = append(tokens, token)
		}
	}
	return tokens
}
