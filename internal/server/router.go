package server

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/charithmadhuranga/fledge/internal/catalog"
	"github.com/charithmadhuranga/fledge/internal/joblock"
	"github.com/charithmadhuranga/fledge/internal/metrics"
	"github.com/charithmadhuranga/fledge/internal/restore"
	"github.com/charithmadhuranga/fledge/internal/service"
)

// RunFunc executes one restore run; the daemon wires it to a fully built
// orchestrator run (including its own lock acquisition).
type RunFunc func(ctx context.Context, req restore.Request) error

// API exposes the on-demand restore trigger and operational read endpoints.
// Endpoints:
//
//	POST {basePath}/restore         body: {"backup_id": 29} or {"file": "/path"} or {}
//	GET  {basePath}/status          lock owner + service lifecycle state
//	GET  {basePath}/backups/latest  the record a plain restore would pick
//	GET  /metrics                   Prometheus
//
// The trigger is fire-and-forget: it answers 202 with a job id and the run
// proceeds in the background, serialized by the job lock like any other run.
type API struct {
	Catalog catalog.Catalog
	Lock    *joblock.Guard
	Service *service.Controller
	Run     RunFunc
	Logger  *slog.Logger

	jobSeq atomic.Int64
}

type triggerRequest struct {
	BackupID int64  `json:"backup_id"`
	File     string `json:"file"`
}

// NewServer builds an http.Server with the API mounted under basePath.
func NewServer(addr, basePath string, api *API) *http.Server {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	api.mount(r.Group(basePath))
	return &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (a *API) mount(g *gin.RouterGroup) {
	g.POST("/restore", a.trigger)
	g.GET("/status", a.status)
	g.GET("/backups/latest", a.latestBackup)
	g.GET("/metrics", gin.WrapH(metrics.Handler()))
}

func (a *API) log() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

func (a *API) trigger(c *gin.Context) {
	var req triggerRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}
	if req.BackupID != 0 && req.File != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "backup_id and file are mutually exclusive"})
		return
	}
	if pid := a.Lock.IsRunning(); pid != 0 {
		c.JSON(http.StatusConflict, gin.H{"error": "a backup or restore job is already running", "pid": pid})
		return
	}

	jobID := a.jobSeq.Add(1)
	go func() {
		err := a.Run(context.Background(), restore.Request{BackupID: req.BackupID, FileName: req.File})
		if err != nil {
			a.log().Error("on-demand restore failed", "job_id", jobID, "error", err)
			return
		}
		a.log().Info("on-demand restore completed", "job_id", jobID)
	}()

	c.JSON(http.StatusAccepted, gin.H{"job_id": strconv.FormatInt(jobID, 10)})
}

func (a *API) status(c *gin.Context) {
	state, err := a.Service.Status(c.Request.Context())
	if err != nil {
		state = service.StateUnknown
	}
	c.JSON(http.StatusOK, gin.H{
		"service":   state.String(),
		"job_owner": a.Lock.IsRunning(),
	})
}

func (a *API) latestBackup(c *gin.Context) {
	b, err := a.Catalog.IdentifyLastBackup(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":        b.ID,
		"file_name": b.FileName,
		"ts":        b.TS,
		"status":    b.Status.String(),
	})
}
