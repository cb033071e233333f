// Package learnertest bedient das Runner-Protokoll mit einem beliebigen
// Learner. Tests starten damit echte Runner-Prozesse ohne Python.
package learnertest

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/fastbert/trainer/learner"
)

// Handler bildet /health, /load, /fit und /save auf l ab
func Handler(l learner.Learner) http.Handler {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, learner.ServerStatusResponse{Status: learner.ServerStatusReady, Progress: 1})
	})

	r.POST("/load", func(c *gin.Context) {
		var req learner.LoadRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		resp, err := l.Load(c.Request.Context(), req)
		if err != nil {
			c.JSON(http.StatusOK, learner.LoadResponse{Error: err.Error()})
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	r.POST("/fit", func(c *gin.Context) {
		var req learner.FitRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}

		c.Header("Content-Type", "application/x-ndjson")
		write := func(p learner.FitProgress) {
			b, _ := json.Marshal(p)
			c.Writer.WriteString("data: " + string(b) + "\n")
			c.Writer.Flush()
		}
		if _, err := l.Fit(c.Request.Context(), req, write); err != nil {
			write(learner.FitProgress{Error: err.Error()})
		}
	})

	r.POST("/save", func(c *gin.Context) {
		var req learner.SaveRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.String(http.StatusBadRequest, err.Error())
			return
		}
		resp, err := l.Save(c.Request.Context(), req)
		if err != nil {
			c.String(http.StatusInternalServerError, err.Error())
			return
		}
		c.JSON(http.StatusOK, resp)
	})

	return r
}

// Port liest den Wert von --port aus den Argumenten eines Runners
func Port(args []string) (string, error) {
	for i, arg := range args {
		if arg == "--port" && i+1 < len(args) {
			return args[i+1], nil
		}
	}
	return "", errors.New("missing --port")
}

// ListenAndServe bedient l auf dem Port aus args, bis der Prozess beendet wird
func ListenAndServe(args []string, l learner.Learner) error {
	port, err := Port(args)
	if err != nil {
		return err
	}
	return http.ListenAndServe(net.JoinHostPort("127.0.0.1", port), Handler(l))
}
