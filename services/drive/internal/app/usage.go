package app

import (
	"context"
	"fmt"
	"mime"
	"strings"

	"filevault/pkg/domain"
)

// Usage sums file sizes in the caller's account per media category and
// records the newest upload in each.
func (a *App) Usage(ctx context.Context, user domain.User) (domain.Usage, error) {
	files, err := a.store.ListFilesByAccount(ctx, user.AccountID)
	if err != nil {
		return domain.Usage{}, fmt.Errorf("list files: %w", err)
	}
	var u domain.Usage
	for _, f := range files {
		u.Used += f.Size
		cat := usageBucket(&u, categoryOf(f.Type))
		cat.Size += f.Size
		if cat.LatestDate == nil || f.CreatedAt.After(*cat.LatestDate) {
			created := f.CreatedAt
			cat.LatestDate = &created
		}
	}
	return u, nil
}

func usageBucket(u *domain.Usage, category string) *domain.UsageCategory {
	switch category {
	case CategoryDocument:
		return &u.Document
	case CategoryImage:
		return &u.Image
	case CategoryVideo:
		return &u.Video
	case CategoryAudio:
		return &u.Audio
	default:
		return &u.Other
	}
}

// Usage categories.
const (
	CategoryDocument = "document"
	CategoryImage    = "image"
	CategoryVideo    = "video"
	CategoryAudio    = "audio"
	CategoryOther    = "other"
)

func isDocumentType(mediaType string) bool {
	switch mediaType {
	case "application/pdf",
		"application/msword",
		"application/rtf",
		"application/vnd.ms-excel",
		"application/vnd.ms-powerpoint",
		"application/vnd.oasis.opendocument.text",
		"application/vnd.oasis.opendocument.spreadsheet",
		"application/vnd.oasis.opendocument.presentation",
		"application/vnd.openxmlformats-officedocument.wordprocessingml.document",
		"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
		"application/vnd.openxmlformats-officedocument.presentationml.presentation":
		return true
	}
	return false
}

func categoryOf(contentType string) string {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		mediaType = strings.ToLower(strings.TrimSpace(contentType))
	}
	major, _, _ := strings.Cut(mediaType, "/")
	switch major {
	case "image":
		return CategoryImage
	case "video":
		return CategoryVideo
	case "audio":
		return CategoryAudio
	case "text":
		return CategoryDocument
	}
	if isDocumentType(mediaType) {
		return CategoryDocument
	}
	return CategoryOther
}
