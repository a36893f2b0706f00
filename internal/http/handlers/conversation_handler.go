// Conversation HTTP handlers.
//
// This file exposes REST endpoints for conversation resources:
//   - POST   /conversations                 (create)
//   - GET    /conversations                 (list, paginated, ETag support)
//   - DELETE /conversations/{id}            (delete with its messages)
//   - GET    /conversations/{id}/messages   (chronological page, ETag support)
//
// Handlers are transport-thin: they validate input, call application services,
// and translate results into HTTP responses (including conditional responses).
package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/http/middleware"
	"github.com/tbourn/assessment-chat/internal/ratelimit"
	"github.com/tbourn/assessment-chat/internal/repo"
	"github.com/tbourn/assessment-chat/internal/services"
	"github.com/tbourn/assessment-chat/internal/utils"
)

//
// Service contracts (context-aware)
//

// ConversationService defines the conversation operations consumed by HTTP
// handlers. *services.ConversationService satisfies it.
type ConversationService interface {
	CreateConversation(ctx context.Context, userID string, assessmentID *string) (*domain.Conversation, error)
	ListConversations(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error)
	GetMessages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error)
	DeleteConversation(ctx context.Context, userID, conversationID string) error
	SendMessage(ctx context.Context, req services.SendRequest) (*services.Exchange, error)
	EditMessage(ctx context.Context, userID, messageID, content string) (*domain.Message, int64, error)
	UsageStats(ctx context.Context) (ratelimit.UsageStats, error)
}

// JobService defines background generation operations.
type JobService interface {
	EnqueueGeneration(ctx context.Context, req services.GenerateJobRequest) (*domain.Job, error)
	GetJob(ctx context.Context, userID, jobID string) (*domain.Job, error)
}

//
// Handler wiring
//

// Handlers groups HTTP endpoints for conversations, messages, jobs and usage.
//
// DB is optional. When set it backs weak ETags and the idempotency store for
// POST /messages; when nil both are skipped.
type Handlers struct {
	Conversations  ConversationService
	Jobs           JobService
	DB             *gorm.DB
	IdempotencyTTL time.Duration
}

// New constructs Handlers bound to the given services.
func New(conversations ConversationService, jobs JobService, db *gorm.DB) *Handlers {
	return &Handlers{
		Conversations:  conversations,
		Jobs:           jobs,
		DB:             db,
		IdempotencyTTL: 24 * time.Hour,
	}
}

//
// DTOs
//

// CreateConversationRequest is the JSON payload for creating a conversation.
type CreateConversationRequest struct {
	// AssessmentID optionally binds the conversation to an assessment.
	AssessmentID *string `json:"assessment_id" example:"a-42"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListConversationsResponse wraps a page of conversations.
type ListConversationsResponse struct {
	Conversations []domain.Conversation `json:"conversations"`
	Pagination    Pagination            `json:"pagination"`
}

// ListMessagesResponse wraps a page of messages in chronological order.
type ListMessagesResponse struct {
	Messages   []domain.Message `json:"messages"`
	Pagination Pagination       `json:"pagination"`
}

//
// Helpers
//

// clampPagination reads page and page_size from the query string.
func clampPagination(c *gin.Context) (page, pageSize int) {
	return utils.ClampPage(c.Query("page"), c.Query("page_size"))
}

func newPagination(page, pageSize int, total int64) Pagination {
	totalPages := utils.TotalPages(total, pageSize)
	return Pagination{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: totalPages,
		HasNext:    page < totalPages,
	}
}

// weakETag builds W/"<kind>:<scope>:<count>:<unix>" and reports whether the
// request's If-None-Match already matches it.
func weakETag(c *gin.Context, kind, scope string, count int64, maxTS *time.Time) (string, bool) {
	var ts int64
	if maxTS != nil {
		ts = maxTS.UnixNano()
	}
	etag := fmt.Sprintf(`W/"%s:%s:%d:%d"`, kind, scope, count, ts)
	inm := c.GetHeader("If-None-Match")
	return etag, inm != "" && inm == etag
}

func validID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

//
// Handlers
//

// CreateConversation godoc
// @ID          createConversation
// @Summary     Create a conversation
// @Description Creates an empty conversation for the current user, optionally bound to an assessment.
// @Tags        Conversations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"  example(user123)
// @Param       body       body    handlers.CreateConversationRequest  false  "Create payload"
//
// @Success     201  {object}  domain.Conversation
// @Failure     400  {object}  handlers.ErrorResponse  "Bad request"
// @Failure     401  {object}  handlers.ErrorResponse  "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /conversations [post]
func (h *Handlers) CreateConversation(c *gin.Context) {
	var req CreateConversationRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
			return
		}
	}
	if req.AssessmentID != nil && strings.TrimSpace(*req.AssessmentID) == "" {
		req.AssessmentID = nil
	}

	conv, err := h.Conversations.CreateConversation(c.Request.Context(), middleware.UserID(c), req.AssessmentID)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusCreated, conv)
}

// ListConversations godoc
// @ID          listConversations
// @Summary     List conversations (paginated)
// @Description Returns the caller's conversations, most recently active first. Supports weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID      header  string  true   "Caller identity"             example(user123)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListConversationsResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     401  {object}  handlers.ErrorResponse "Missing identity"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /conversations [get]
func (h *Handlers) ListConversations(c *gin.Context) {
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	page, pageSize := clampPagination(c)

	// ETag pre-check (best effort).
	if h.DB != nil {
		if count, maxTS, err := repo.ConversationsStats(ctx, h.DB, uid); err == nil {
			etag, match := weakETag(c, "conversations", fmt.Sprintf("%s:%d:%d", uid, page, pageSize), count, maxTS)
			c.Header("ETag", etag)
			if match {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.Conversations.ListConversations(ctx, uid, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, ListConversationsResponse{
		Conversations: items,
		Pagination:    newPagination(page, pageSize, total),
	})
}

// DeleteConversation godoc
// @ID          deleteConversation
// @Summary     Delete a conversation
// @Description Deletes a conversation owned by the caller together with all of its messages.
// @Tags        Conversations
//
// @Param       X-User-ID  header  string  true  "Caller identity"       example(user123)
// @Param       id         path    string  true  "Conversation ID (UUID)"  format(uuid)
//
// @Success     204  {string}  string "No Content"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id} [delete]
func (h *Handlers) DeleteConversation(c *gin.Context) {
	id := c.Param("id")
	if !validID(id) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	if err := h.Conversations.DeleteConversation(c.Request.Context(), middleware.UserID(c), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ListMessages godoc
// @ID          listMessages
// @Summary     List messages (paginated)
// @Description Returns a conversation's messages in chronological order. Supports weak ETag via If-None-Match.
// @Tags        Conversations
// @Produce     json
//
// @Param       X-User-ID      header  string  true   "Caller identity"          example(user123)
// @Param       If-None-Match  header  string  false  "Return 304 if ETag matches"
// @Param       id             path    string  true   "Conversation ID (UUID)"  format(uuid)
// @Param       page           query   int     false  "Page number"     minimum(1) default(1)
// @Param       page_size      query   int     false  "Items per page"  minimum(1) maximum(100) default(20)
//
// @Success     200  {object}  handlers.ListMessagesResponse
// @Header      200  {string}  ETag  "Weak ETag for current result"
// @Success     304  {string}  string "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /conversations/{id}/messages [get]
func (h *Handlers) ListMessages(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")
	if !validID(id) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation id must be a UUID")
		return
	}
	page, pageSize := clampPagination(c)

	// Ownership is checked by the service, so the ETag is only computed once
	// the caller is known to be allowed to see the conversation.
	items, total, err := h.Conversations.GetMessages(ctx, middleware.UserID(c), id, page, pageSize)
	if err != nil {
		failErr(c, err)
		return
	}

	if h.DB != nil {
		if count, maxTS, err := repo.MessagesStats(ctx, h.DB, id); err == nil {
			etag, match := weakETag(c, "messages", fmt.Sprintf("%s:%d:%d", id, page, pageSize), count, maxTS)
			c.Header("ETag", etag)
			if match {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	ok(c, http.StatusOK, ListMessagesResponse{
		Messages:   items,
		Pagination: newPagination(page, pageSize, total),
	})
}
