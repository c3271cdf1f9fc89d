package handlers

import (
	"errors"
	"math"
	"net/http"

	rig "github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/service"
	"github.com/zhanghevhhe/Keithley-2182-Kelvinion-Resistance-measurement-system/internal/session"

	"github.com/gin-gonic/gin"
)

// Common response/status constants to avoid magic strings and typos.
const (
	statusOK       = "ok"
	statusStarted  = "started"
	statusStopping = "stopping"
	statusUpdated  = "updated"
	statusReloaded = "reloaded"

	errStartRun        = "failed to start measurement run"
	errStopRun         = "failed to stop measurement run"
	errInvalidBodyPref = "invalid body: "
)

// finiteOrNull keeps NaN/Inf readings out of JSON payloads.
func finiteOrNull(v float64) any {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return v
}

// Centralized error logging and response.
func (h *Handler) logAndJSONError(c *gin.Context, httpCode int, userMsg, logKey string, err error, kv ...interface{}) {
	if h.log != nil && err != nil {
		fields := append([]interface{}{"err", err}, kv...)
		h.log.Errorw(logKey, fields...)
	}
	c.JSON(httpCode, gin.H{"error": userMsg})
}

// Respond with a status and include the current run state.
func (h *Handler) respondWithStatusAndState(c *gin.Context, status string, extra gin.H) {
	resp := gin.H{"status": status, "state": h.services.Monitoring.State()}
	for k, v := range extra {
		resp[k] = v
	}
	c.JSON(http.StatusOK, resp)
}

// Request DTO for starting a run.
type startRunRequest struct {
	Sequence rig.Sequence `json:"sequence" binding:"required"`
}

// StartRunRequest is an exported model for Swagger docs of the start payload.
type StartRunRequest struct {
	// Temperature blocks executed in order. step=0 measures once at start.
	Sequence []rig.TempBlock `json:"sequence"`
}

// Request DTO for a manual setpoint.
type setTemperatureRequest struct {
	// Target in kelvin, applied to the sample loop; the chamber loop follows
	// at its fixed ratio.
	TargetK float64 `json:"target_k" binding:"required"`
	// Optional ramp override in K/min; 0 uses the configured ramp table.
	Ramp float64 `json:"ramp,omitempty"`
}

// @Summary      Health check
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": statusOK,
	})
}

// @Summary      Start a temperature sweep
// @Description  Expands the block sequence into setpoints and measures every enabled channel at each stable point
// @Tags         run
// @Accept       json
// @Produce      json
// @Param        body  body   StartRunRequest  true  "Sweep payload"
// @Success      200   {object}  map[string]interface{}  "status, run_id, state"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/run/start [post]
// @Security     BearerAuth
func (h *Handler) startRun(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}

	runID, err := h.services.Run.Start(req.Sequence)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrAlreadyRunning):
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		case errors.Is(err, session.ErrEmptySequence):
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		default:
			h.logAndJSONError(c, http.StatusInternalServerError, errStartRun, "run_start_failed", err)
		}
		return
	}
	h.respondWithStatusAndState(c, statusStarted, gin.H{"run_id": runID})
}

// @Summary      Stop the active run
// @Description  Cancellation is cooperative; the run stops at the next checkpoint
// @Tags         run
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      401  {object}  map[string]string
// @Failure      409  {object}  map[string]string
// @Router       /api/v1/run/stop [post]
// @Security     BearerAuth
func (h *Handler) stopRun(c *gin.Context) {
	if err := h.services.Run.Stop(); err != nil {
		if errors.Is(err, session.ErrNotRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, errStopRun, "run_stop_failed", err)
		return
	}
	h.respondWithStatusAndState(c, statusStopping, gin.H{})
}

// @Summary      Get live run state
// @Tags         run
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "state, resistances"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/run/state [get]
// @Security     BearerAuth
func (h *Handler) getState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"state":       h.services.Monitoring.State(),
		"resistances": h.services.Monitoring.Resistances(),
	})
}

// @Summary      Preview a sweep
// @Description  Returns the setpoint list the sequence would produce, without touching hardware
// @Tags         run
// @Accept       json
// @Produce      json
// @Param        body  body   StartRunRequest  true  "Sweep payload"
// @Success      200   {object}  map[string]interface{}  "count, setpoints"
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Router       /api/v1/run/sequence/preview [post]
// @Security     BearerAuth
func (h *Handler) previewSequence(c *gin.Context) {
	var req startRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	setpoints, err := h.services.Run.Preview(req.Sequence)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"count":     len(setpoints),
		"setpoints": setpoints,
	})
}

// @Summary      Apply a manual setpoint
// @Description  Programs both controller loops outside the sequencer
// @Tags         instruments
// @Accept       json
// @Produce      json
// @Param        body  body   setTemperatureRequest  true  "Setpoint payload"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/temperature [post]
// @Security     BearerAuth
func (h *Handler) setTemperature(c *gin.Context) {
	var req setTemperatureRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if err := h.services.Run.SetTemperature(req.TargetK, req.Ramp); err != nil {
		if errors.Is(err, service.ErrInvalidTarget) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to apply setpoint", "set_temperature_failed", err, "target_k", req.TargetK)
		return
	}
	h.respondWithStatusAndState(c, statusOK, gin.H{"target_k": req.TargetK})
}

// @Summary      Get channel configuration
// @Tags         instruments
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "channels"
// @Failure      401  {object}  map[string]string
// @Router       /api/v1/channels [get]
// @Security     BearerAuth
func (h *Handler) getChannels(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"channels": h.services.Monitoring.Channels()})
}

// @Summary      Replace channel configuration
// @Description  Rejected with 409 while a run is active
// @Tags         instruments
// @Accept       json
// @Produce      json
// @Param        body  body   map[string]rig.ChannelConfig  true  "Channel table keyed by channel name"
// @Success      200   {object}  map[string]interface{}
// @Failure      400   {object}  map[string]string
// @Failure      401   {object}  map[string]string
// @Failure      409   {object}  map[string]string
// @Router       /api/v1/channels [put]
// @Security     BearerAuth
func (h *Handler) updateChannels(c *gin.Context) {
	var chans map[string]rig.ChannelConfig
	if err := c.ShouldBindJSON(&chans); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errInvalidBodyPref + err.Error()})
		return
	}
	if len(chans) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "channel table is empty"})
		return
	}
	if err := h.services.Run.UpdateChannels(chans); err != nil {
		if errors.Is(err, session.ErrRunActive) {
			c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to update channels", "channels_update_failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": statusUpdated, "channels": len(chans)})
}

// @Summary      Measure one channel now
// @Description  Routes the channel through the matrix and runs a delta measurement, serialized against any active run
// @Tags         instruments
// @Produce      json
// @Param        name  path   string  true  "Channel name"  example(CH1)
// @Success      200   {object}  map[string]interface{}  "channel, resistance_ohm"
// @Failure      401   {object}  map[string]string
// @Failure      404   {object}  map[string]string
// @Failure      500   {object}  map[string]string
// @Router       /api/v1/channels/{name}/measure [post]
// @Security     BearerAuth
func (h *Handler) measureChannel(c *gin.Context) {
	name := c.Param("name")
	r, err := h.services.Run.MeasureChannel(name)
	if err != nil {
		if errors.Is(err, session.ErrUnknownChannel) {
			c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
			return
		}
		h.logAndJSONError(c, http.StatusInternalServerError, "measurement failed", "channel_measure_failed", err, "channel", name)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"channel":        name,
		"resistance_ohm": finiteOrNull(r),
	})
}

// @Summary      Reload PIDRAMP tables
// @Description  Re-reads the control tables from disk; reports expected sections the file is missing
// @Tags         instruments
// @Produce      json
// @Success      200  {object}  map[string]interface{}  "status, missing"
// @Failure      401  {object}  map[string]string
// @Failure      500  {object}  map[string]string
// @Router       /api/v1/config/pidramp/reload [post]
// @Security     BearerAuth
func (h *Handler) reloadPidRamp(c *gin.Context) {
	missing, err := h.services.Run.ReloadPidRamp()
	if err != nil {
		h.logAndJSONError(c, http.StatusInternalServerError, "failed to reload PIDRAMP tables", "pidramp_reload_failed", err)
		return
	}
	if missing == nil {
		missing = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"status": statusReloaded, "missing": missing})
}
