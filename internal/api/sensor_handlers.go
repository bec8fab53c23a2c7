package api

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/speedwagon-io/vmc/internal/lib/logger/sl"
	"github.com/speedwagon-io/vmc/internal/model"
)

const (
	defaultHistoryLimit = 20
	defaultArchiveRange = 24 * time.Hour
	maxArchiveRange     = 31 * 24 * time.Hour
)

// ReadSensors reads the device on demand.
func (h *Handler) ReadSensors(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.readTimeout)
	defer cancel()

	data, err := h.reader.Collect(ctx)
	if err != nil {
		h.log.Error("failed to read sensors", sl.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to read sensors")
		return
	}

	readings := data.Readings
	if readings == nil {
		readings = []model.Reading{}
	}
	writeJSON(w, http.StatusOK, readings)
}

func (h *Handler) LatestSnapshot(w http.ResponseWriter, r *http.Request) {
	var snapshot *model.Snapshot

	if h.latest != nil {
		var err error
		snapshot, err = h.latest.Latest(r.Context())
		if err != nil {
			h.log.Warn("failed to read latest snapshot, using memory", sl.Err(err))
			snapshot = nil
		}
	}

	if snapshot == nil && h.recent != nil {
		if recent := h.recent.GetRecent(1); len(recent) > 0 {
			snapshot = recent[0]
		}
	}

	if snapshot == nil {
		writeError(w, http.StatusNotFound, "no readings yet")
		return
	}
	writeJSON(w, http.StatusOK, snapshot)
}

type sensorValue struct {
	CapteurID int     `json:"capteur_id"`
	Value     float64 `json:"value"`
	Source    string  `json:"source"`
}

// SensorLatest answers from the cache and falls back to the newest snapshot in memory.
func (h *Handler) SensorLatest(w http.ResponseWriter, r *http.Request) {
	id, ok := idParam(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}
	capteurID := int(id)

	if h.values != nil {
		v, found, err := h.values.LatestValue(r.Context(), capteurID)
		if err != nil {
			h.log.Warn("failed to read cached value, using memory",
				slog.Int("capteur_id", capteurID),
				sl.Err(err),
			)
		} else if found {
			writeJSON(w, http.StatusOK, sensorValue{CapteurID: capteurID, Value: v, Source: "cache"})
			return
		}
	}

	if h.recent != nil {
		if recent := h.recent.GetRecent(1); len(recent) > 0 {
			for _, reading := range recent[0].Readings {
				if reading.CapteurID == capteurID {
					writeJSON(w, http.StatusOK, sensorValue{CapteurID: capteurID, Value: reading.Value, Source: "memory"})
					return
				}
			}
		}
	}

	writeError(w, http.StatusNotFound, "no readings yet")
}

func (h *Handler) RecentHistory(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}

	writeJSON(w, http.StatusOK, h.recent.GetRecent(limit))
}

func (h *Handler) SensorHistory(w http.ResponseWriter, r *http.Request) {
	if h.archive == nil {
		writeError(w, http.StatusNotFound, "archive disabled")
		return
	}

	capteurID, err := strconv.Atoi(chi.URLParam(r, "id"))
	if err != nil || capteurID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid sensor id")
		return
	}

	window := defaultArchiveRange
	if raw := r.URL.Query().Get("range"); raw != "" {
		window, err = time.ParseDuration(raw)
		if err != nil || window <= 0 || window > maxArchiveRange {
			writeError(w, http.StatusBadRequest, "invalid range")
			return
		}
	}

	since := h.now().UTC().Add(-window)
	measures, err := h.archive.History(r.Context(), capteurID, since)
	if err != nil {
		h.log.Error("failed to query archive", slog.Int("capteur_id", capteurID), sl.Err(err))
		writeError(w, http.StatusInternalServerError, "failed to query history")
		return
	}
	if measures == nil {
		measures = []model.Measure{}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"capteur_id": capteurID,
		"since":      since,
		"data":       measures,
	})
}
