package server

import (
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/gurigacaferi/skeneri-i-faturave-sub001/constants"
)

// defaultMaxUploadBytes bounds one receipt upload. Multi-page PDFs stay
// well under this.
const defaultMaxUploadBytes = 25 << 20

// handleUpload stores the document and creates the job in pending. The
// extraction is not started here; that is an explicit second call.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)
	if err := r.ParseMultipartForm(s.maxUpload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart body")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing file field")
		return
	}
	defer func() { _ = file.Close() }()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable file")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty file")
		return
	}

	contentType := constants.NormalizeContentType(header.Header.Get("Content-Type"))
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	if !constants.IsSupportedContentType(contentType) {
		writeError(w, http.StatusUnsupportedMediaType, "unsupported content type: "+contentType)
		return
	}

	ref, err := s.blobs.Put(header.Filename, data)
	if err != nil {
		s.log.Error("http.upload.blob_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "blob store failed")
		return
	}

	job, err := s.jobs.Create(r.Context(), ownerFrom(r), ref, contentType)
	if err != nil {
		s.log.Error("http.upload.create_failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "job create failed")
		return
	}

	s.log.Info("http.upload.ok",
		zap.String("job_id", job.ID.String()),
		zap.String("owner_id", job.OwnerID.String()),
		zap.String("content_type", contentType),
		zap.Int("bytes", len(data)),
	)
	writeJSON(w, http.StatusCreated, map[string]string{
		"job_id": job.ID.String(),
		"state":  string(job.State),
	})
}
