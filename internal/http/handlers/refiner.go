package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"refiner/internal/domain"
	"refiner/internal/relay"
)

const (
	multipartMemory = 8 << 20
	maxWebhookBytes = 1 << 20
)

type statusRequest struct {
	ProjectID string `json:"projectId"`
}

// SkinRefinerSubmit accepts multipart "image" and "options" fields.
func (a *App) SkinRefinerSubmit(w http.ResponseWriter, r *http.Request) {
	if a.Config != nil && a.Config.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, a.Config.MaxUploadBytes)
	}
	req := relay.SubmitRequest{UserID: a.currentUserID(r)}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		if !errors.Is(err, http.ErrNotMultipart) {
			a.fail(w, r, domain.InputError("invalid multipart form"))
			return
		}
	}
	if r.MultipartForm != nil {
		defer r.MultipartForm.RemoveAll()
	}
	req.Options = r.FormValue("options")

	file, header, err := r.FormFile("image")
	switch {
	case err == nil:
		defer file.Close()
		data, err := io.ReadAll(file)
		if err != nil {
			a.fail(w, r, domain.InputError("could not read image"))
			return
		}
		req.Data = data
		req.Filename = header.Filename
		req.ContentType = header.Header.Get("Content-Type")
	case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
		// Submitter reports the missing image after its configuration checks.
	default:
		a.fail(w, r, domain.InputError("invalid multipart form"))
		return
	}

	res, err := a.Submitter.Submit(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

// SkinRefinerStatus polls RunPod for the caller's project.
func (a *App) SkinRefinerStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&req); err != nil {
		a.fail(w, r, domain.InputError("invalid payload"))
		return
	}
	res, err := a.Poller.Poll(r.Context(), a.currentUserID(r), req.ProjectID)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, res)
}

// SkinRefinerWebhook receives RunPod completion callbacks.
func (a *App) SkinRefinerWebhook(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusRequestEntityTooLarge, "payload too large")
			return
		}
		a.fail(w, r, domain.InputError("could not read body"))
		return
	}
	creds := relay.WebhookCredentials{
		Token:     strings.TrimSpace(r.URL.Query().Get("token")),
		Signature: r.Header.Get(relay.SignatureHeader),
	}
	if _, err := a.Webhooks.Receive(r.Context(), body, creds); err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, map[string]bool{"success": true})
}
