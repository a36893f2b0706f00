package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/http/middleware"
	"github.com/tbourn/assessment-chat/internal/services"
)

// CreateJobRequest is the JSON payload for POST /jobs.
type CreateJobRequest struct {
	ConversationID string                     `json:"conversation_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	AssessmentID   *string                    `json:"assessment_id" example:"a-42"`
	Assessment     *domain.AssessmentSnapshot `json:"assessment"`
	Prompt         string                     `json:"prompt" binding:"required" example:"Summarize my last three cycles"`
	Options        domain.GenerationOptions   `json:"options"`
	WebhookURL     string                     `json:"webhook_url" example:"https://example.com/hooks/chat"`
}

// CreateJobResponse acknowledges an enqueued job.
type CreateJobResponse struct {
	JobID          string           `json:"job_id"`
	Status         domain.JobStatus `json:"status"`
	ConversationID string           `json:"conversation_id,omitempty"`
}

// CreateJob godoc
// @ID          createJob
// @Summary     Enqueue a background generation
// @Description Enqueues an AI generation job. When webhook_url is set the result is POSTed there on completion.
// @Tags        Jobs
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
// @Param       body       body    handlers.CreateJobRequest  true  "Job payload"
//
// @Success     202  {object}  handlers.CreateJobResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /jobs [post]
func (h *Handlers) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	convID := strings.TrimSpace(req.ConversationID)
	if convID != "" && !validID(convID) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation_id must be a UUID")
		return
	}

	j, err := h.Jobs.EnqueueGeneration(c.Request.Context(), services.GenerateJobRequest{
		UserID:         middleware.UserID(c),
		ConversationID: convID,
		AssessmentID:   req.AssessmentID,
		Assessment:     req.Assessment,
		Prompt:         sanitizeContent(req.Prompt),
		Options:        req.Options,
		WebhookURL:     req.WebhookURL,
	})
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, CreateJobResponse{JobID: j.ID, Status: j.Status, ConversationID: j.ConversationID})
}

// GetJob godoc
// @ID          getJob
// @Summary     Get a job
// @Description Returns the state of a generation job owned by the caller, including its result once completed.
// @Tags        Jobs
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
// @Param       id         path    string  true  "Job ID (UUID)"    format(uuid)
//
// @Success     200  {object}  domain.Job
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse "Job not found"
// @Router      /jobs/{id} [get]
func (h *Handlers) GetJob(c *gin.Context) {
	id := c.Param("id")
	if !validID(id) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "job id must be a UUID")
		return
	}
	j, err := h.Jobs.GetJob(c.Request.Context(), middleware.UserID(c), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, j)
}

// GetUsage godoc
// @ID          getUsage
// @Summary     Daily generation usage
// @Description Reports today's generation calls against the shared daily limit. Reading does not consume quota.
// @Tags        Usage
// @Produce     json
//
// @Success     200  {object}  ratelimit.UsageStats
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /usage [get]
func (h *Handlers) GetUsage(c *gin.Context) {
	stats, err := h.Conversations.UsageStats(c.Request.Context())
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, stats)
}
