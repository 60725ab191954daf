package api

import (
	"io"
	"net/http"
	"strings"

	"tarpaulin/internal/apierr"
)

// maxAvatarBytes caps avatar uploads at 5 MiB.
const maxAvatarBytes = 5 << 20

func (h *Handler) avatar(w http.ResponseWriter, r *http.Request, userID string) {
	switch r.Method {
	case http.MethodPost:
		h.uploadAvatar(w, r, userID)
	case http.MethodGet:
		h.getAvatar(w, r, userID)
	case http.MethodDelete:
		h.deleteAvatar(w, r, userID)
	default:
		methodNotAllowed(w, http.MethodPost, http.MethodGet, http.MethodDelete)
	}
}

func (h *Handler) uploadAvatar(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.Guard.RequireSelf(r, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxAvatarBytes)
	if err := r.ParseMultipartForm(maxAvatarBytes); err != nil {
		h.writeError(w, r, apierr.InvalidRequest("request must be multipart form data with a file field"))
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		h.writeError(w, r, apierr.InvalidRequest("file field is required"))
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		h.writeError(w, r, apierr.InvalidRequest("could not read uploaded file"))
		return
	}
	contentType := header.Header.Get("Content-Type")
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		h.writeError(w, r, apierr.InvalidRequest("avatar must be an image"))
		return
	}
	key := "avatars/" + user.ID
	if err := h.Blob.Put(r.Context(), key, contentType, data); err != nil {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.Store.SetUserAvatar(r.Context(), user.ID, key); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"avatar_url": absoluteURL(r, "/users/"+user.ID+"/avatar"),
	})
}

func (h *Handler) getAvatar(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.Guard.RequireSelf(r, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !user.HasAvatar() {
		h.writeError(w, r, apierr.NotFound("user has no avatar"))
		return
	}
	data, contentType, err := h.Blob.Get(r.Context(), user.AvatarKey)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func (h *Handler) deleteAvatar(w http.ResponseWriter, r *http.Request, userID string) {
	user, err := h.Guard.RequireSelf(r, userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if !user.HasAvatar() {
		h.writeError(w, r, apierr.NotFound("user has no avatar"))
		return
	}
	if err := h.Blob.Delete(r.Context(), user.AvatarKey); err != nil && !apierr.IsNotFound(err) {
		h.writeError(w, r, err)
		return
	}
	if _, err := h.Store.SetUserAvatar(r.Context(), user.ID, ""); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
