// Message HTTP handlers.
//
// Endpoints:
//   - POST /messages       (send a user turn and receive the assistant reply)
//   - PUT  /messages/{id}  (edit a user message and drop everything after it)
//
// Idempotency:
// If the client supplies an Idempotency-Key header and a previous successful
// send with the same key exists for the same conversation, the handler replays
// the stored exchange and sets `Idempotency-Replayed: true`. Replays do not
// touch the generation quota.
package handlers

import (
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/http/middleware"
	"github.com/tbourn/assessment-chat/internal/repo"
	"github.com/tbourn/assessment-chat/internal/services"
)

// SendMessageRequest is the JSON payload for POST /messages. Without a
// conversation_id a new conversation is created, bound to assessment_id.
type SendMessageRequest struct {
	ConversationID  string                     `json:"conversation_id" example:"141add05-4415-4938-b5a1-17e0d3171aff"`
	AssessmentID    *string                    `json:"assessment_id" example:"a-42"`
	Assessment      *domain.AssessmentSnapshot `json:"assessment"`
	Content         string                     `json:"content" binding:"required" example:"Why are my cramps worse this month?"`
	ParentMessageID *string                    `json:"parent_message_id"`
	Options         domain.GenerationOptions   `json:"options"`
}

// SendMessageResponse is the persisted exchange.
type SendMessageResponse struct {
	Conversation     *domain.Conversation `json:"conversation"`
	UserMessage      *domain.Message      `json:"user_message"`
	AssistantMessage *domain.Message      `json:"assistant_message"`
}

// EditMessageRequest is the JSON payload for PUT /messages/{id}.
type EditMessageRequest struct {
	Content string `json:"content" binding:"required" example:"Actually my cycle is 35 days"`
}

// EditMessageResponse returns the edited message and how many later messages
// were removed.
type EditMessageResponse struct {
	Message *domain.Message `json:"message"`
	Removed int64           `json:"removed"`
}

// nlCollapseRE collapses runs of 3+ newlines to two, preserving paragraphs.
var nlCollapseRE = regexp.MustCompile(`\n{3,}`)

// sanitizeContent normalizes user text for consistent downstream behavior:
// line endings become LF, runs of blank lines collapse to one and the result
// is trimmed.
func sanitizeContent(raw string) string {
	s := strings.ReplaceAll(raw, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = nlCollapseRE.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}

// SendMessage godoc
// @ID          sendMessage
// @Summary     Send a message
// @Description Persists the user message, generates an assistant reply (or a canned fallback) and returns both.
// @Description Supports idempotency via the Idempotency-Key header when conversation_id is set.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  true   "Caller identity"  example(user123)
// @Param       Idempotency-Key  header  string  false  "Idempotency key for safe retries"  example(7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab)
// @Param       body             body    handlers.SendMessageRequest  true  "Message payload"
//
// @Success     201  {object}  handlers.SendMessageResponse
// @Header      201  {string}  Idempotency-Replayed  "true when the response is a replay"
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse "Conversation not found"
// @Failure     429  {object}  handlers.ErrorResponse "Daily quota exceeded"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /messages [post]
func (h *Handlers) SendMessage(c *gin.Context) {
	var req SendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}
	ctx := c.Request.Context()
	uid := middleware.UserID(c)
	convID := strings.TrimSpace(req.ConversationID)
	if convID != "" && !validID(convID) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "conversation_id must be a UUID")
		return
	}

	idemKey, hasKey := middleware.GetIdempotencyKey(c)
	if hasKey && middleware.IsReplay(c) {
		if resp, status, found := h.replay(c, uid, convID, idemKey); found {
			c.Header("Idempotency-Replayed", "true")
			ok(c, status, resp)
			return
		}
	}

	ex, err := h.Conversations.SendMessage(ctx, services.SendRequest{
		UserID:          uid,
		ConversationID:  convID,
		AssessmentID:    req.AssessmentID,
		Assessment:      req.Assessment,
		Content:         sanitizeContent(req.Content),
		ParentMessageID: req.ParentMessageID,
		Options:         req.Options,
	})
	if err != nil {
		failErr(c, err)
		return
	}

	// Idempotency (store path): best effort.
	if hasKey && h.DB != nil {
		if _, err := repo.CreateIdempotency(ctx, h.DB, uid, ex.Conversation.ID, idemKey, ex.AssistantMessage.ID, http.StatusCreated, h.IdempotencyTTL); err != nil {
			middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
		}
	}

	ok(c, http.StatusCreated, SendMessageResponse{
		Conversation:     ex.Conversation,
		UserMessage:      ex.UserMessage,
		AssistantMessage: ex.AssistantMessage,
	})
}

// replay rebuilds a stored exchange from its assistant message. Anything
// missing or owned by someone else yields found=false and the send proceeds
// normally.
func (h *Handlers) replay(c *gin.Context, uid, convID, key string) (SendMessageResponse, int, bool) {
	if h.DB == nil || convID == "" {
		return SendMessageResponse{}, 0, false
	}
	ctx := c.Request.Context()
	rec, err := repo.GetIdempotency(ctx, h.DB, uid, convID, key, time.Now().UTC())
	if err != nil {
		return SendMessageResponse{}, 0, false
	}
	conv, err := repo.GetConversation(ctx, h.DB, convID)
	if err != nil || conv.UserID != uid {
		return SendMessageResponse{}, 0, false
	}
	asst, err := repo.GetMessage(ctx, h.DB, rec.MessageID)
	if err != nil || asst.ConversationID != conv.ID {
		return SendMessageResponse{}, 0, false
	}
	resp := SendMessageResponse{Conversation: conv, AssistantMessage: asst}
	if pid := asst.ParentID(); pid != "" {
		if um, err := repo.GetMessage(ctx, h.DB, pid); err == nil {
			resp.UserMessage = um
		}
	}
	status := rec.Status
	if status == 0 {
		status = http.StatusCreated
	}
	return resp, status, true
}

// EditMessage godoc
// @ID          editMessage
// @Summary     Edit a user message
// @Description Replaces the content of a user message and deletes every later message in its conversation.
// @Tags        Messages
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID  header  string  true  "Caller identity"   example(user123)
// @Param       id         path    string  true  "Message ID (UUID)" format(uuid)
// @Param       body       body    handlers.EditMessageRequest  true  "New content"
//
// @Success     200  {object}  handlers.EditMessageResponse
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     403  {object}  handlers.ErrorResponse "Owned by another user"
// @Failure     404  {object}  handlers.ErrorResponse "Message not found"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /messages/{id} [put]
func (h *Handlers) EditMessage(c *gin.Context) {
	id := c.Param("id")
	if !validID(id) {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "message id must be a UUID")
		return
	}
	var req EditMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "content required")
		return
	}

	m, removed, err := h.Conversations.EditMessage(c.Request.Context(), middleware.UserID(c), id, sanitizeContent(req.Content))
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, EditMessageResponse{Message: m, Removed: removed})
}
