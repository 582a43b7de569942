package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"CopenhagenIncome/src/datasource/file"
	"CopenhagenIncome/src/utils"
	"CopenhagenIncome/src/view"

	"github.com/gorilla/mux"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// figure returns the marshalled figure of year, cached per year.
func (s *Server) figure(year int) (json.RawMessage, error) {
	if !s.ds.HasYear(year) {
		return nil, fmt.Errorf("%w: %d", ErrUnknownYear, year)
	}

	key := GetCacheKey("figure", year)
	if cached, found := s.figures.Get(key); found {
		return cached.(json.RawMessage), nil
	}

	data, err := json.Marshal(s.ds.Redraw(year))
	if err != nil {
		return nil, err
	}
	s.figures.Set(key, json.RawMessage(data), cache.DefaultExpiration)
	return data, nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := view.Render(&buf, s.layout); err != nil {
		s.logger.Error("render page", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to render page")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}

func (s *Server) handleLayout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.layout)
}

func (s *Server) handleFigure(w http.ResponseWriter, r *http.Request) {
	year, err := strconv.Atoi(mux.Vars(r)["year"])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid year")
		return
	}
	s.respondFigure(w, year, func() (interface{}, error) { return s.figure(year) })
}

func (s *Server) handleEvent(w http.ResponseWriter, r *http.Request) {
	var ev view.Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, http.StatusBadRequest, "invalid event body")
		return
	}
	s.respondFigure(w, 0, func() (interface{}, error) { return s.dispatcher.Dispatch(ev) })
}

func (s *Server) respondFigure(w http.ResponseWriter, year int, produce func() (interface{}, error)) {
	out, err := produce()
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, out)
	case errors.Is(err, ErrUnknownYear):
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"error": err.Error(),
			"years": s.ds.Years(),
		})
	case errors.Is(err, view.ErrNoHandler), errors.Is(err, view.ErrBadValue):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("redraw failed", zap.Int("year", year), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to draw map")
	}
}

type districtInfo struct {
	file.District
	Latest *float64 `json:"latest_income,omitempty"`
}

func (s *Server) handleDistricts(w http.ResponseWriter, r *http.Request) {
	latest := make(map[string]float64)
	for _, rec := range s.ds.Records(s.ds.LatestYear()) {
		latest[rec.ID] = rec.Income
	}

	out := make([]districtInfo, 0, len(s.ds.Geo().Districts))
	for _, d := range s.ds.Geo().Districts {
		info := districtInfo{District: d}
		if v, ok := latest[d.ID]; ok && !math.IsNaN(v) {
			info.Latest = &v
		}
		out = append(out, info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleTrend(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	district, ok := s.ds.Geo().ByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, "unknown district "+id)
		return
	}

	var buf bytes.Buffer
	yName := s.dcfg.Map.ColorTitle + " (" + s.dcfg.Map.Currency + ")"
	if err := renderTrend(&buf, district.Name, yName, s.ds.Trend(id)); err != nil {
		if errors.Is(err, errTooFewPoints) {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		s.logger.Error("render trend", zap.String("district", district.Name), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to draw trend")
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Write(buf.Bytes())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	var buf bytes.Buffer
	if err := utils.WriteExcel(s.ds.Frame(), "income", &buf); err != nil {
		s.logger.Error("export workbook", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to export")
		return
	}
	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", `attachment; filename="avg-income-districts-cph.xlsx"`)
	w.Write(buf.Bytes())
}

// handleLogs streams log lines until the client goes away.
func (s *Server) handleLogs(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	// the stream lives longer than the server's WriteTimeout
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		s.logger.Warn("clear log stream deadline", zap.Error(err))
	}

	logChan := s.logger.Subscribe()
	defer s.logger.Unsubscribe(logChan)

	for {
		select {
		case msg, ok := <-logChan:
			if !ok {
				return
			}
			if _, err := fmt.Fprintln(w, msg); err != nil {
				return
			}
			if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"districts": len(s.ds.Districts()),
		"years":     s.ds.Years(),
		"rows":      s.ds.Len(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]interface{}{"error": msg, "code": status})
}
