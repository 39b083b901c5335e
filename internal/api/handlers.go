package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"gas/internal/accounts"
	"gas/internal/logging"
	"gas/internal/messages"
	"gas/internal/services"
)

type errorResponse struct {
	Error string `json:"error"`
}

type uploadRequest struct {
	Bucket string `json:"bucket" binding:"required"`
	Key    string `json:"key" binding:"required"`
}

func (s *Server) health(c *gin.Context) {
	if err := s.deps.Jobs.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	summary, err := s.deps.Jobs.Health(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "jobs": summary})
}

func (s *Server) createUpload(c *gin.Context) {
	var req uploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	job, err := s.submitter.Submit(c.Request.Context(), messages.UploadCompleted{Bucket: req.Bucket, Key: req.Key})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, s.view(c, job))
}

func (s *Server) getJob(c *gin.Context) {
	job, err := s.deps.Jobs.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	if job == nil {
		c.JSON(http.StatusNotFound, errorResponse{Error: "job not found"})
		return
	}
	c.JSON(http.StatusOK, s.view(c, job))
}

func (s *Server) listUserJobs(c *gin.Context) {
	list, err := s.deps.Jobs.ListByUser(c.Request.Context(), c.Param("user"))
	if err != nil {
		s.fail(c, err)
		return
	}
	views := make([]jobView, 0, len(list))
	for _, job := range list {
		views = append(views, s.view(c, job))
	}
	c.JSON(http.StatusOK, gin.H{"jobs": views})
}

// upgradeUser makes the user premium and announces the upgrade so their
// archived results are restored. The announcement is published even when the
// tier was already premium, which retries a restore that failed earlier.
func (s *Server) upgradeUser(c *gin.Context) {
	ctx := c.Request.Context()
	userID := c.Param("user")
	changed, err := s.entitlements.SetTier(ctx, userID, accounts.TierPremium)
	if err != nil {
		s.fail(c, err)
		return
	}
	body, err := messages.Encode(messages.TierUpgrade{UserID: userID, ThawStatus: messages.ThawStatusPending})
	if err == nil {
		_, err = s.deps.Broker.Publish(ctx, s.deps.Config.Queues.Restore, body)
	}
	if err != nil {
		s.fail(c, err)
		return
	}
	s.logger.Info("user upgraded",
		logging.UserID(userID),
		logging.Bool("changed", changed),
		logging.String(logging.FieldEventType, "user_upgraded"),
	)
	c.JSON(http.StatusAccepted, gin.H{"user_id": userID, "tier": accounts.TierPremium, "changed": changed})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, services.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, services.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, services.ErrConfiguration):
		status = http.StatusServiceUnavailable
	}
	if status == http.StatusInternalServerError {
		s.logger.Warn("api request failed", logging.Error(err), logging.String("path", c.FullPath()))
	}
	c.JSON(status, errorResponse{Error: err.Error()})
}
