package httpserver

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"chatbackend/internal/domain"
)

// attachmentKind buckets a detected MIME type into an attachment fileType.
func attachmentKind(mime *mimetype.MIME) string {
	for m := mime; m != nil; m = m.Parent() {
		switch {
		case strings.HasPrefix(m.String(), "image/"):
			return string(domain.MessageImage)
		case strings.HasPrefix(m.String(), "video/"):
			return string(domain.MessageVideo)
		}
	}
	return string(domain.MessageFile)
}

// UploadRoutes returns a sub-router mounted at /api/uploads.
//   - POST /       stores a multipart "file" and returns its attachment descriptor
//   - GET /{name}  serves a stored file
func UploadRoutes(dir string, maxBytes int64, log *slog.Logger) chi.Router {
	r := chi.NewRouter()

	r.Post("/", func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
		if err := r.ParseMultipartForm(32 << 20); err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "file too large"})
				return
			}
			writeError(w, r, log, domain.Errorf(domain.ErrInvalidInput, "failed to parse multipart form"))
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			writeError(w, r, log, domain.Errorf(domain.ErrInvalidInput, "missing file"))
			return
		}
		defer file.Close()

		mime, err := mimetype.DetectReader(file)
		if err != nil {
			writeError(w, r, log, err)
			return
		}
		if _, err := file.Seek(0, io.SeekStart); err != nil {
			writeError(w, r, log, err)
			return
		}

		ext := mime.Extension()
		if ext == "" {
			ext = strings.ToLower(filepath.Ext(header.Filename))
		}
		name := uuid.NewString() + ext

		if err := storeFile(filepath.Join(dir, name), file); err != nil {
			writeError(w, r, log, err)
			return
		}

		log.Info("attachment stored", "name", name, "mime", mime.String(), "user_id", CurrentUser(r).ID)
		writeJSON(w, http.StatusCreated, domain.Attachment{
			URL:      "/api/uploads/" + name,
			FileName: filepath.Base(header.Filename),
			FileType: attachmentKind(mime),
		})
	})

	r.Get("/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		// Prevent path traversal by not allowing separators.
		if name == "" || filepath.Base(name) != name {
			writeError(w, r, log, domain.Errorf(domain.ErrInvalidInput, "invalid file name"))
			return
		}
		http.ServeFile(w, r, filepath.Join(dir, name))
	})

	return r
}

// storeFile writes src to path. A failed write leaves no partial file behind.
func storeFile(path string, src io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create upload: %w", err)
	}
	_, err = io.Copy(out, src)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(path)
		return fmt.Errorf("write upload: %w", err)
	}
	return nil
}
