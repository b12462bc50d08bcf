package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prperemyshlev/chatsync/internal/realtime"
)

const healthCheckTimeout = 2 * time.Second

type pinger interface {
	Ping(ctx context.Context) error
}

type HealthChecker struct {
	infra   Infrastructure
	channel *realtime.Channel
}

func NewHealthChecker(infra Infrastructure, channel *realtime.Channel) *HealthChecker {
	return &HealthChecker{
		infra:   infra,
		channel: channel,
	}
}

// check pings whichever database backs the storage. Memory and file storage have nothing to ping.
func (h *HealthChecker) check(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, healthCheckTimeout)
	defer cancel()

	var backends []pinger
	if pg := h.infra.Postgres(); pg != nil {
		backends = append(backends, pg)
	}
	if r := h.infra.Redis(); r != nil {
		backends = append(backends, r)
	}

	errs := make(chan error, len(backends))
	for _, b := range backends {
		go func() {
			errs <- b.Ping(ctx)
		}()
	}

	var err error
	for range backends {
		err = errors.Join(err, <-errs)
	}
	return err
}

// Handler reports storage health. The channel state is informational: a signed-out
// client is disconnected and still healthy.
func (h *HealthChecker) Handler(c *gin.Context) {
	state := h.channel.State().String()

	if err := h.check(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":  "fail",
			"error":   err.Error(),
			"channel": state,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "pass",
		"channel": state,
	})
}
