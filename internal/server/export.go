package server

import (
	"net/http"
	"time"

	"go.uber.org/zap"
)

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = "xlsx"
	}

	from, ok := parseDateParam(w, r, "from")
	if !ok {
		return
	}
	to, ok := parseDateParam(w, r, "to")
	if !ok {
		return
	}

	ownerID := ownerFrom(r)
	switch format {
	case "xlsx":
		data, err := s.exporter.XLSX(r.Context(), ownerID, from, to)
		if err != nil {
			s.log.Error("http.export.failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "export failed")
			return
		}
		w.Header().Set("Content-Type", "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet")
		w.Header().Set("Content-Disposition", `attachment; filename="line-items.xlsx"`)
		_, _ = w.Write(data)
	case "csv":
		data, err := s.exporter.CSV(r.Context(), ownerID, from, to)
		if err != nil {
			s.log.Error("http.export.failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "export failed")
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition", `attachment; filename="line-items.csv"`)
		_, _ = w.Write(data)
	default:
		writeError(w, http.StatusBadRequest, "format must be xlsx or csv")
	}
}

func parseDateParam(w http.ResponseWriter, r *http.Request, name string) (*time.Time, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, true
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, name+" must be YYYY-MM-DD")
		return nil, false
	}
	return &t, true
}
