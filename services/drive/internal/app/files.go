package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"filevault/internal/util"
	"filevault/pkg/access"
	"filevault/pkg/domain"
	"filevault/pkg/storage"
	"filevault/pkg/store"
)

const (
	ShareModeShare   = "share"
	ShareModeUnshare = "unshare"

	defaultContentType = "application/octet-stream"
)

// Upload is one incoming file.
type Upload struct {
	Filename    string
	ContentType string
	Size        int64
	Body        io.Reader
}

// PublicLink is a file's public share token and the URL that serves it.
type PublicLink struct {
	Token    string `json:"token"`
	ShareURL string `json:"shareUrl"`
}

// UploadFile stores the bytes under a fresh key in the owner's account and
// records the file. If the record cannot be saved the bytes are removed.
func (a *App) UploadFile(ctx context.Context, owner domain.User, up Upload) (domain.File, error) {
	name := strings.TrimSpace(filepath.Base(strings.ReplaceAll(up.Filename, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return domain.File{}, ErrInvalidName
	}
	if up.Body == nil || up.Size < 0 {
		return domain.File{}, ErrInvalidInput
	}
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(name)), ".")
	contentType := strings.TrimSpace(up.ContentType)
	if contentType == "" {
		contentType = mime.TypeByExtension("." + ext)
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	key := storage.BuildKey(owner.AccountID, name)
	if err := a.objects.Put(ctx, key, up.Body, up.Size, contentType); err != nil {
		return domain.File{}, fmt.Errorf("save file: %w", err)
	}
	now := a.now()
	file := domain.File{
		ID:         uuid.NewString(),
		OwnerID:    owner.ID,
		AccountID:  owner.AccountID,
		Name:       name,
		StorageKey: key,
		Type:       contentType,
		Extension:  ext,
		Size:       up.Size,
		Users:      []string{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := a.store.SaveFile(ctx, file); err != nil {
		if derr := a.objects.Delete(ctx, key); derr != nil {
			util.LoggerFromContext(ctx).Error("orphaned upload", "component", "files", "storage_key", key, "err", derr)
		}
		return domain.File{}, fmt.Errorf("save file record: %w", err)
	}
	return file, nil
}

// ListFiles returns the files in the caller's account. Files shared with the
// caller from other accounts are not included.
func (a *App) ListFiles(ctx context.Context, user domain.User) ([]domain.File, error) {
	files, err := a.store.ListFilesByAccount(ctx, user.AccountID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	return files, nil
}

// RenameFile changes a file's display name. Owner only.
func (a *App) RenameFile(ctx context.Context, user domain.User, id, name string) (domain.File, error) {
	name = strings.TrimSpace(name)
	return a.mutateOwned(ctx, user, id, domain.OpRename, func(f *domain.File) error {
		if name == "" {
			return ErrInvalidName
		}
		f.Name = name
		return nil
	})
}

// DeleteFile removes the record, then the bytes. A failed byte removal is
// logged with the storage key and not returned; the record deletion is the
// outcome that counts.
func (a *App) DeleteFile(ctx context.Context, user domain.User, id string) error {
	var key string
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		f, err := loadFile(ctx, tx, id)
		if err != nil {
			return err
		}
		if !access.Can(&user, f, "", domain.OpDelete) {
			return ErrNotAuthorized
		}
		key = f.StorageKey
		if err := tx.DeleteFile(ctx, f.ID); err != nil {
			return fmt.Errorf("delete file record: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if err := a.objects.Delete(ctx, key); err != nil {
		util.LoggerFromContext(ctx).Error("file bytes not removed", "component", "files", "file_id", id, "storage_key", key, "err", err)
	}
	return nil
}

// EnablePublicLink returns the file's share token, creating it only if the
// file has none.
func (a *App) EnablePublicLink(ctx context.Context, user domain.User, id string) (PublicLink, error) {
	f, err := a.mutateOwned(ctx, user, id, domain.OpManageShares, func(f *domain.File) error {
		if f.ShareToken == "" {
			f.ShareToken = newShareToken()
		}
		return nil
	})
	if err != nil {
		return PublicLink{}, err
	}
	return PublicLink{Token: f.ShareToken, ShareURL: a.publicURL(f.ShareToken)}, nil
}

// DisablePublicLink clears the share token; the old link stops resolving.
func (a *App) DisablePublicLink(ctx context.Context, user domain.User, id string) error {
	_, err := a.mutateOwned(ctx, user, id, domain.OpDisableLink, func(f *domain.File) error {
		f.ShareToken = ""
		return nil
	})
	return err
}

// UpdateShare adds or removes email from the file's share list and returns
// the resulting list.
func (a *App) UpdateShare(ctx context.Context, user domain.User, id, email, mode string) ([]string, error) {
	email = domain.NormalizeEmail(email)
	f, err := a.mutateOwned(ctx, user, id, domain.OpManageShares, func(f *domain.File) error {
		if mode != ShareModeShare && mode != ShareModeUnshare {
			return ErrInvalidMode
		}
		if email == "" {
			return ErrInvalidInput
		}
		next := make([]string, 0, len(f.Users)+1)
		for _, u := range f.Users {
			if domain.NormalizeEmail(u) != email {
				next = append(next, u)
			}
		}
		if mode == ShareModeShare {
			next = append(next, email)
		}
		f.Users = next
		return nil
	})
	if err != nil {
		return nil, err
	}
	return f.Users, nil
}

// CheckAccess reports the caller's role on a file; callers without one get
// ErrAccessDenied.
func (a *App) CheckAccess(ctx context.Context, user domain.User, id string) (domain.Role, error) {
	f, err := loadFile(ctx, a.store, id)
	if err != nil {
		return domain.RoleNone, err
	}
	role := access.Evaluate(&user, f, "")
	if !role.Allows(domain.OpViewMetadata) {
		return domain.RoleNone, ErrAccessDenied
	}
	return role, nil
}

// PublicFile resolves a share token to its file and download URL.
func (a *App) PublicFile(ctx context.Context, token string) (domain.File, string, error) {
	f, err := a.fileByToken(ctx, token)
	if err != nil {
		return domain.File{}, "", err
	}
	return f, a.publicURL(f.ShareToken) + "/download", nil
}

// OpenFile returns a file and a reader over its bytes for an authenticated
// caller holding owner or shared-user access. The caller closes the reader.
func (a *App) OpenFile(ctx context.Context, user domain.User, id string) (domain.File, io.ReadCloser, error) {
	f, err := loadFile(ctx, a.store, id)
	if err != nil {
		return domain.File{}, nil, err
	}
	if !access.Can(&user, f, "", domain.OpDownload) {
		return domain.File{}, nil, ErrAccessDenied
	}
	return a.openBytes(ctx, f)
}

// OpenPublicFile is OpenFile for an anonymous holder of the share token.
func (a *App) OpenPublicFile(ctx context.Context, token string) (domain.File, io.ReadCloser, error) {
	f, err := a.fileByToken(ctx, token)
	if err != nil {
		return domain.File{}, nil, err
	}
	if !access.Can(nil, f, token, domain.OpDownload) {
		return domain.File{}, nil, ErrInvalidToken
	}
	return a.openBytes(ctx, f)
}

func (a *App) openBytes(ctx context.Context, f domain.File) (domain.File, io.ReadCloser, error) {
	if strings.TrimSpace(f.StorageKey) == "" {
		return domain.File{}, nil, ErrFileMissing
	}
	rc, _, err := a.objects.Get(ctx, f.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return domain.File{}, nil, ErrFileMissing
		}
		return domain.File{}, nil, fmt.Errorf("open file: %w", err)
	}
	return f, rc, nil
}

func (a *App) fileByToken(ctx context.Context, token string) (domain.File, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return domain.File{}, ErrInvalidToken
	}
	f, ok, err := a.store.GetFileByShareToken(ctx, token)
	if err != nil {
		return domain.File{}, fmt.Errorf("load file: %w", err)
	}
	if !ok {
		return domain.File{}, ErrInvalidToken
	}
	return f, nil
}

// mutateOwned loads a file, checks the caller may perform op, applies fn and
// saves the result in one transaction. It returns the saved file.
func (a *App) mutateOwned(ctx context.Context, user domain.User, id string, op domain.Operation, fn func(*domain.File) error) (domain.File, error) {
	var saved domain.File
	err := a.store.WithTx(ctx, func(tx store.Store) error {
		f, err := loadFile(ctx, tx, id)
		if err != nil {
			return err
		}
		if !access.Can(&user, f, "", op) {
			return ErrNotAuthorized
		}
		if err := fn(&f); err != nil {
			return err
		}
		f.UpdatedAt = a.now()
		if err := tx.SaveFile(ctx, f); err != nil {
			return fmt.Errorf("save file: %w", err)
		}
		saved = f
		return nil
	})
	if err != nil {
		return domain.File{}, err
	}
	return saved, nil
}

func loadFile(ctx context.Context, st store.Store, id string) (domain.File, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.File{}, ErrFileNotFound
	}
	f, ok, err := st.GetFile(ctx, id)
	if err != nil {
		return domain.File{}, fmt.Errorf("load file: %w", err)
	}
	if !ok {
		return domain.File{}, ErrFileNotFound
	}
	return f, nil
}

func (a *App) publicURL(token string) string {
	return a.appURL + "/files/public/" + token
}

func newShareToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
