package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/iotflow/tierflow/internal/app/aggregate"
	"github.com/iotflow/tierflow/internal/app/coordinator"
	"github.com/iotflow/tierflow/internal/domain"
	"github.com/iotflow/tierflow/internal/timeexpr"
)

type submitRequest struct {
	DeviceID  int64                   `json:"device_id" binding:"required"`
	UserID    int64                   `json:"user_id"`
	Data      map[string]domain.Value `json:"data"`
	Metadata  map[string]string       `json:"metadata"`
	Timestamp string                  `json:"timestamp"`
}

func (s *Server) handleSubmit(c *gin.Context) {
	var req submitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Data) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "telemetry data is required"})
		return
	}

	var instant time.Time
	if req.Timestamp != "" {
		t, err := time.Parse(time.RFC3339, req.Timestamp)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid timestamp format, use ISO 8601"})
			return
		}
		instant = t
	}

	result, err := s.writer.Submit(c.Request.Context(), coordinator.Submission{
		DeviceID:     req.DeviceID,
		UserID:       req.UserID,
		Measurements: req.Data,
		Metadata:     req.Metadata,
		Instant:      instant,
	})
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidMeasurementPayload):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		case errors.Is(err, domain.ErrDurableWriteFailed):
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store telemetry data"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal server error"})
		}
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"message":   "telemetry data stored successfully",
		"device_id": result.DeviceID,
		"timestamp": result.Instant.Format(time.RFC3339Nano),
		"durable":   result.Durable,
	})
}

func (s *Server) handleGetLatest(c *gin.Context) {
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	snap, err := s.reader.GetLatest(c.Request.Context(), deviceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"device_id": deviceID,
				"message":   "no telemetry data found",
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read latest telemetry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id":   deviceID,
		"latest_data": snap.Measurements,
	})
}

func (s *Server) handleGetRange(c *gin.Context) {
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	// One "now" for the whole request keeps start and end consistent.
	now := time.Now()
	start, err := timeexpr.ResolveOr(c.Query("start_time"), timeexpr.DefaultRange, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := timeexpr.Resolve(c.Query("end_time"), now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := queryInt(c, "limit", 0)

	recs, err := s.reader.GetRange(c.Request.Context(), deviceID, start, end, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read telemetry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id": deviceID,
		"data":      recs,
		"count":     len(recs),
	})
}

func (s *Server) handleGetUserRange(c *gin.Context) {
	userID, ok := pathID(c, "user_id")
	if !ok {
		return
	}

	now := time.Now()
	start, err := timeexpr.ResolveOr(c.Query("start_time"), timeexpr.DefaultUserRange, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := timeexpr.Resolve(c.Query("end_time"), now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	limit := queryInt(c, "limit", 100)

	rows, err := s.reader.GetUserRange(c.Request.Context(), userID, start, end, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read user telemetry"})
		return
	}
	total, err := s.reader.CountUserRange(c.Request.Context(), userID, start)
	if err != nil {
		total = int64(len(rows))
	}

	c.JSON(http.StatusOK, gin.H{
		"user_id":     userID,
		"telemetry":   rows,
		"count":       len(rows),
		"total_count": total,
	})
}

func (s *Server) handleAggregate(c *gin.Context) {
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	measurement := c.Query("measurement")
	if measurement == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "measurement is required"})
		return
	}
	kind := domain.AggregationKind(c.DefaultQuery("aggregation", string(domain.AggMean)))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":           "invalid aggregation function",
			"valid_functions": []domain.AggregationKind{domain.AggMean, domain.AggSum, domain.AggMin, domain.AggMax, domain.AggCount},
		})
		return
	}
	window, err := parseWindow(c.DefaultQuery("window", "1h"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	now := time.Now()
	start, err := timeexpr.ResolveOr(c.Query("start_time"), timeexpr.DefaultUserRange, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := timeexpr.Resolve(c.Query("end_time"), now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	buckets, err := s.engine.Aggregate(c.Request.Context(), aggregate.Query{
		DeviceID:    deviceID,
		Measurement: measurement,
		Kind:        kind,
		Window:      window,
		Start:       start,
		End:         end,
	})
	if err != nil {
		if errors.Is(err, domain.ErrAggregationRangeTooLarge) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate telemetry"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"device_id":   deviceID,
		"measurement": measurement,
		"aggregation": kind,
		"window":      window.String(),
		"data":        buckets,
		"count":       len(buckets),
	})
}

type deleteRequest struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

func (s *Server) handleDeleteRange(c *gin.Context) {
	deviceID, ok := pathID(c, "device_id")
	if !ok {
		return
	}

	var req deleteRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.StartTime == "" || req.EndTime == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "start_time and end_time are required"})
		return
	}

	now := time.Now()
	start, err := timeexpr.Resolve(req.StartTime, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	end, err := timeexpr.Resolve(req.EndTime, now)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	count, err := s.reader.DeleteRange(c.Request.Context(), deviceID, start, end)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to delete telemetry data"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"message":       "telemetry data deleted",
		"device_id":     deviceID,
		"deleted_count": count,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	ctx := c.Request.Context()

	durableOK := s.store.Ping(ctx) == nil
	cacheOK := s.cache.Ping(ctx) == nil

	online, err := s.cache.OnlineDevices(ctx)
	if err != nil {
		online = nil
	}

	status := "healthy"
	if !durableOK {
		status = "unavailable"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":            status,
		"durable_available": durableOK,
		"cache_available":   cacheOK,
		"online_devices":    len(online),
	})
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("invalid %s", name)})
		return 0, false
	}
	return id, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

// parseWindow accepts Go duration syntax plus a day suffix ("1d", "7d").
func parseWindow(raw string) (time.Duration, error) {
	if strings.HasSuffix(raw, "d") {
		days, err := strconv.Atoi(strings.TrimSuffix(raw, "d"))
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid window %q", raw)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid window %q", raw)
	}
	return d, nil
}
