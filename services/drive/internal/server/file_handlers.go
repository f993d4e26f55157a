package server

import (
	"errors"
	"io"
	"mime"
	"net/http"
	"strconv"

	"filevault/internal/util"
	"filevault/pkg/domain"
	"filevault/services/drive/internal/app"
	"filevault/services/drive/internal/security"
)

// multipartOverhead allows for boundaries and part headers on top of the
// file bytes themselves.
const multipartOverhead = 1 << 20

type listFilesResponse struct {
	Documents []domain.File `json:"documents"`
	Total     int           `json:"total"`
}

type renameRequest struct {
	Name string `json:"name"`
}

type renameResponse struct {
	File domain.File `json:"file"`
}

type shareUserRequest struct {
	Email string `json:"email" validate:"required,email,max=320"`
	Mode  string `json:"mode"`
}

type shareUserResponse struct {
	Users []string `json:"users"`
}

type accessResponse struct {
	Access bool        `json:"access"`
	Role   domain.Role `json:"role"`
}

type publicFileResponse struct {
	Name string `json:"name"`
	URL  string `json:"url"`
	Type string `json:"type"`
	Size int64  `json:"size"`
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request, user domain.User) {
	files, err := s.app.ListFiles(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", listFilesResponse{Documents: files, Total: len(files)})
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request, user domain.User) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, r, app.ErrFileTooLarge)
			return
		}
		writeError(w, r, app.ErrInvalidInput.Wrap(err))
		return
	}
	defer r.MultipartForm.RemoveAll()
	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, r, &app.Error{Kind: app.KindValidation, Code: app.ErrInvalidInput.Code, Message: "file is required (field: file)", Err: err})
		return
	}
	defer file.Close()
	if header.Size > s.maxUploadBytes {
		writeError(w, r, app.ErrFileTooLarge)
		return
	}
	f, err := s.app.UploadFile(r.Context(), user, app.Upload{
		Filename:    header.Filename,
		ContentType: header.Header.Get("Content-Type"),
		Size:        header.Size,
		Body:        file,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	util.LoggerFromContext(r.Context()).Info("file uploaded", "component", "files", "file_id", f.ID, "user_id", user.ID, "size", f.Size)
	writeSuccess(w, http.StatusCreated, "File uploaded", f)
}

func (s *Server) handleDeleteFile(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathParam(r, "id")
	if err := s.app.DeleteFile(r.Context(), user, id); err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "File deleted", nil)
}

func (s *Server) handleRenameFile(w http.ResponseWriter, r *http.Request, user domain.User) {
	var req renameRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	f, err := s.app.RenameFile(r.Context(), user, pathParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "File renamed", renameResponse{File: f})
}

func (s *Server) handleEnablePublicLink(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathParam(r, "id")
	link, err := s.app.EnablePublicLink(r.Context(), user, id)
	if err != nil {
		s.audit(r, security.EventFileLink, security.OutcomeFail, "user_id", user.ID, "file_id", id, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	s.audit(r, security.EventFileLink, security.OutcomeSuccess, "user_id", user.ID, "file_id", id, "action", "enable")
	writeSuccess(w, http.StatusOK, "Public link enabled", link)
}

func (s *Server) handleDisablePublicLink(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathParam(r, "id")
	if err := s.app.DisablePublicLink(r.Context(), user, id); err != nil {
		s.audit(r, security.EventFileLink, security.OutcomeFail, "user_id", user.ID, "file_id", id, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	s.audit(r, security.EventFileLink, security.OutcomeSuccess, "user_id", user.ID, "file_id", id, "action", "disable")
	writeSuccess(w, http.StatusOK, "Public link disabled", nil)
}

func (s *Server) handleShareUser(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathParam(r, "id")
	var req shareUserRequest
	if err := s.decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	users, err := s.app.UpdateShare(r.Context(), user, id, req.Email, req.Mode)
	if err != nil {
		s.audit(r, security.EventFileShare, security.OutcomeFail, "user_id", user.ID, "file_id", id, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	s.audit(r, security.EventFileShare, security.OutcomeSuccess,
		"user_id", user.ID,
		"file_id", id,
		"mode", req.Mode,
		"target", util.MaskEmail(req.Email),
	)
	writeSuccess(w, http.StatusOK, "Sharing updated", shareUserResponse{Users: users})
}

func (s *Server) handleCheckAccess(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathParam(r, "id")
	role, err := s.app.CheckAccess(r.Context(), user, id)
	if err != nil {
		s.audit(r, security.EventFileAcc, security.OutcomeFail, "user_id", user.ID, "file_id", id, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", accessResponse{Access: true, Role: role})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request, user domain.User) {
	id := pathParam(r, "id")
	f, body, err := s.app.OpenFile(r.Context(), user, id)
	if err != nil {
		s.audit(r, security.EventFileAcc, security.OutcomeFail, "user_id", user.ID, "file_id", id, "reason", app.AsError(err).Code)
		writeError(w, r, err)
		return
	}
	defer body.Close()
	streamFile(w, r, f, body)
}

func (s *Server) handlePublicFile(w http.ResponseWriter, r *http.Request) {
	f, url, err := s.app.PublicFile(r.Context(), pathParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", publicFileResponse{Name: f.Name, URL: url, Type: f.Type, Size: f.Size})
}

func (s *Server) handlePublicDownload(w http.ResponseWriter, r *http.Request) {
	f, body, err := s.app.OpenPublicFile(r.Context(), pathParam(r, "token"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	defer body.Close()
	streamFile(w, r, f, body)
}

func (s *Server) handleUsage(w http.ResponseWriter, r *http.Request, user domain.User) {
	usage, err := s.app.Usage(r.Context(), user)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeSuccess(w, http.StatusOK, "OK", usage)
}

// streamFile writes the file as an attachment under its display name.
func streamFile(w http.ResponseWriter, r *http.Request, f domain.File, body io.Reader) {
	h := w.Header()
	h.Set("Content-Type", f.Type)
	h.Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": f.Name}))
	h.Set("Content-Length", strconv.FormatInt(f.Size, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, body); err != nil {
		util.LoggerFromContext(r.Context()).Warn("download interrupted", "component", "files", "file_id", f.ID, "err", err)
	}
}
