package cluster

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
)

// Status is the body of GET /status.
type Status struct {
	WorkerID int      `json:"workerId"`
	PoolSize int      `json:"poolSize"`
	PID      int      `json:"pid"`
	Uptime   string   `json:"uptime"`
	Loaded   []string `json:"loaded"`
	Failed   []string `json:"failed"`
	Events   []string `json:"events"`
	Pending  *int     `json:"pending,omitempty"`
}

// Router returns the worker's admin HTTP surface.
func (w *Worker) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthz", w.healthz)
	r.GET("/status", w.status)
	r.POST("/bus/*event", w.publish)
	if h := w.Kernel.MetricsHandler(); h != nil {
		r.GET("/metrics", gin.WrapH(h))
	}
	return r
}

func (w *Worker) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (w *Worker) status(c *gin.Context) {
	k := w.Kernel
	st := Status{
		WorkerID: k.Env.WorkerID,
		PoolSize: k.Env.PoolSize,
		PID:      os.Getpid(),
		Uptime:   time.Since(w.started).Round(time.Second).String(),
		Loaded:   []string{},
		Failed:   []string{},
		Events:   k.Hooks.Events(),
	}
	if w.report != nil {
		st.Loaded = append(st.Loaded, w.report.Loaded...)
		st.Failed = append(st.Failed, w.report.FailedNames()...)
	}
	if q := k.Queue(); q != nil {
		if n, err := q.Pending(c.Request.Context()); err == nil {
			st.Pending = &n
		}
	}
	c.JSON(http.StatusOK, st)
}

// publish sends the JSON body as the payload of the event named by the
// rest of the path, so "/bus/problem/add" publishes "problem/add".
func (w *Worker) publish(c *gin.Context) {
	event := strings.TrimPrefix(c.Param("event"), "/")
	if event == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "event name required"})
		return
	}

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var payload any
	if len(body) > 0 {
		if err := json.Unmarshal(body, &payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body: " + err.Error()})
			return
		}
	}

	if err := w.Kernel.App.Publish(c.Request.Context(), event, payload); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"event": event})
}
