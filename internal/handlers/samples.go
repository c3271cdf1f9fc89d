package handlers

import (
	"net/http"
	"time"

	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/service"

	"github.com/gin-gonic/gin"
)

// @Summary      List measurement samples
// @Description  Filter recorded samples by run and date range (RFC3339, 'YYYY-MM-DD HH:MM:SS', or 'YYYY-MM-DD'). Date-only 'to' is treated as end-of-day inclusive.
// @Tags         samples
// @Produce      json
// @Param        run_id  query   string  false  "Run ID"
// @Param        from    query   string  false  "Start of range"  example(2026-03-01)
// @Param        to      query   string  false  "End of range"    example(2026-03-31)
// @Success      200     {object}  map[string]interface{}  "count, samples"
// @Failure      400     {object}  map[string]string
// @Failure      401     {object}  map[string]string
// @Failure      500     {object}  map[string]string
// @Router       /api/v1/samples [get]
// @Security     BearerAuth
func (h *Handler) getSamples(c *gin.Context) {
	ctx := c.Request.Context()
	var (
		from time.Time
		to   time.Time
		err  error
	)
	if qs := c.Query("from"); qs != "" {
		from, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errFromInvalid})
			return
		}
	}
	if qs := c.Query("to"); qs != "" {
		to, err = parseQueryTime(qs)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": errToInvalid})
			return
		}
		if isDateOnly(qs) {
			to = to.Add(24*time.Hour - time.Nanosecond).UTC()
		}
	}
	if !from.IsZero() && !to.IsZero() && from.After(to) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "'from' must be <= 'to'"})
		return
	}

	samples, err := h.services.Samples.List(ctx, service.SampleFilter{
		RunID: c.Query("run_id"),
		From:  from,
		To:    to,
	})
	if err != nil {
		if h.log != nil {
			h.log.Errorw("samples_list_failed", "err", err, "run_id", c.Query("run_id"))
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load samples"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":   len(samples),
		"samples": samples,
	})
}
