// Package services – ConversationService
//
// This file implements ConversationService, the orchestrator of the
// synchronous message path. It validates input, enforces conversation
// ownership, appends messages through the thread linker under the
// per-conversation lock, asks the generation client for a reply and keeps the
// denormalized conversation preview up to date.
//
// SendMessage walks an explicit state machine:
//
//	Validating -> ConversationReady -> UserMessagePersisted ->
//	ResponseGenerated -> PreviewUpdated -> Done
//
// Any step may end in Error. Each transition is logged at debug level.
//
// Observability: all public methods are OpenTelemetry-instrumented; spans
// include conversation/user identifiers and pagination parameters where
// applicable.
package services

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/tbourn/assessment-chat/internal/domain"
	"github.com/tbourn/assessment-chat/internal/generation"
	"github.com/tbourn/assessment-chat/internal/prompt"
	"github.com/tbourn/assessment-chat/internal/ratelimit"
	"github.com/tbourn/assessment-chat/internal/repo"
	"github.com/tbourn/assessment-chat/internal/threading"
	"github.com/tbourn/assessment-chat/internal/utils"
)

const (
	// DefaultTitle is stored until the first user message names the conversation.
	DefaultTitle = "New conversation"

	defaultPreviewRunes = 120
	defaultTitleMaxLen  = 60
)

// State is a step of the SendMessage state machine.
type State string

const (
	StateValidating           State = "validating"
	StateConversationReady    State = "conversation_ready"
	StateUserMessagePersisted State = "user_message_persisted"
	StateResponseGenerated    State = "response_generated"
	StatePreviewUpdated       State = "preview_updated"
	StateDone                 State = "done"
	StateError                State = "error"
)

// Generator produces assistant replies. *generation.Client satisfies it.
type Generator interface {
	Generate(ctx context.Context, req generation.Request) (*generation.Result, error)
}

// UsageReporter exposes the daily quota. *ratelimit.DailyQuota satisfies it.
type UsageReporter interface {
	GetUsageStats(ctx context.Context) (ratelimit.UsageStats, error)
}

// SendRequest is one synchronous user turn. An empty ConversationID starts a
// new conversation bound to AssessmentID. Assessment, when set, overrides the
// provider lookup.
type SendRequest struct {
	UserID          string
	ConversationID  string
	AssessmentID    *string
	Assessment      *domain.AssessmentSnapshot
	Content         string
	ParentMessageID *string
	Options         domain.GenerationOptions
}

// Exchange is the persisted result of one user turn.
type Exchange struct {
	Conversation     *domain.Conversation `json:"conversation"`
	UserMessage      *domain.Message      `json:"user_message"`
	AssistantMessage *domain.Message      `json:"assistant_message"`
}

// ConversationService orchestrates conversations and their messages.
type ConversationService struct {
	DB          *gorm.DB
	Linker      *threading.Linker
	Locks       *threading.Locker
	Gen         Generator
	Quota       UsageReporter
	Assessments AssessmentProvider

	// MaxHistory bounds the prior messages sent with follow-ups.
	MaxHistory int
	// MaxContentRunes rejects longer user messages when > 0.
	MaxContentRunes int
	// PreviewRunes caps the stored preview excerpt.
	PreviewRunes int

	// Title generation config
	TitleLocale language.Tag
	TitleMaxLen int

	Log zerolog.Logger
	Now func() time.Time
}

// NewConversationService constructs a ConversationService with default limits.
// The same Locker must be shared with every other writer of these
// conversations, including the async worker.
func NewConversationService(db *gorm.DB, locks *threading.Locker, gen Generator, quota UsageReporter, assessments AssessmentProvider) *ConversationService {
	return &ConversationService{
		DB:           db,
		Linker:       threading.NewLinker(),
		Locks:        locks,
		Gen:          gen,
		Quota:        quota,
		Assessments:  assessments,
		MaxHistory:   prompt.DefaultMaxHistory,
		PreviewRunes: defaultPreviewRunes,
		TitleMaxLen:  defaultTitleMaxLen,
		TitleLocale:  language.Und,
		Log:          log.Logger,
		Now:          time.Now,
	}
}

func (s *ConversationService) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

// CreateConversation inserts an empty conversation owned by userID.
func (s *ConversationService) CreateConversation(ctx context.Context, userID string, assessmentID *string) (*domain.Conversation, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "CreateConversation",
		trace.WithAttributes(attribute.String("user.id", userID)),
	)
	defer span.End()

	if assessmentID != nil && strings.TrimSpace(*assessmentID) == "" {
		assessmentID = nil
	}
	c, err := repo.CreateConversation(ctx, s.DB, userID, assessmentID, DefaultTitle)
	if err != nil {
		span.RecordError(err)
		return nil, persistence("create conversation", err)
	}
	return c, nil
}

// AppendMessage adds one message to a conversation through the thread linker.
// updated_at always moves. The preview only changes for assistant messages.
func (s *ConversationService) AppendMessage(ctx context.Context, conversationID, role, content string, parentID *string, meta *domain.MessageMetadata) (*domain.Message, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "AppendMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("message.role", role),
		),
	)
	defer span.End()

	if !domain.ValidRole(role) {
		return nil, ErrInvalidRole
	}
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyContent
	}
	if _, err := s.loadConversation(ctx, conversationID); err != nil {
		return nil, err
	}

	unlock := s.Locks.Lock(conversationID)
	defer unlock()

	var out *domain.Message
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.appendTx(ctx, tx, conversationID, role, content, parentID, meta)
		out = m
		return err
	})
	if err != nil {
		span.RecordError(err)
		return nil, persistence("append message", err)
	}
	return out, nil
}

// SendMessage runs one synchronous user turn: persist the user message,
// generate a reply (falling back on endpoint failure) and persist it.
//
// ratelimit.ErrRateLimitExceeded is returned as-is; the user message is kept.
func (s *ConversationService) SendMessage(ctx context.Context, req SendRequest) (*Exchange, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "SendMessage",
		trace.WithAttributes(
			attribute.String("conversation.id", req.ConversationID),
			attribute.String("user.id", req.UserID),
		),
	)
	defer span.End()

	lg := s.Log.With().Str("user_id", req.UserID).Logger()
	step := func(st State, conversationID string) {
		lg.Debug().Str("state", string(st)).Str("conversation_id", conversationID).Msg("send message")
	}
	fail := func(err error) (*Exchange, error) {
		lg.Debug().Str("state", string(StateError)).Err(err).Msg("send message")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	step(StateValidating, req.ConversationID)
	content, err := s.validateContent(req.Content)
	if err != nil {
		return fail(err)
	}

	var conv *domain.Conversation
	if req.ConversationID != "" {
		conv, err = s.authorize(ctx, req.UserID, req.ConversationID)
	} else {
		conv, err = s.CreateConversation(ctx, req.UserID, req.AssessmentID)
	}
	if err != nil {
		return fail(err)
	}
	span.SetAttributes(attribute.String("conversation.id", conv.ID))
	step(StateConversationReady, conv.ID)

	unlock := s.Locks.Lock(conv.ID)
	defer unlock()

	prior, err := repo.ListRecentMessages(ctx, s.DB, conv.ID, s.maxHistory())
	if err != nil {
		return fail(persistence("load history", err))
	}

	var userMsg *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.appendTx(ctx, tx, conv.ID, domain.RoleUser, content, req.ParentMessageID, nil)
		userMsg = m
		return err
	})
	if err != nil {
		return fail(persistence("persist user message", err))
	}
	s.maybeAutoTitle(ctx, conv, content)
	step(StateUserMessagePersisted, conv.ID)

	snap, err := s.snapshot(ctx, conv, req.Assessment)
	if err != nil {
		return fail(err)
	}
	genReq := BuildGenerationRequest(snap, toContext(prior), content, s.maxHistory(), req.Options)
	res, err := s.Gen.Generate(ctx, genReq)
	if err != nil {
		return fail(err)
	}
	step(StateResponseGenerated, conv.ID)

	var asst *domain.Message
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		m, err := s.appendTx(ctx, tx, conv.ID, domain.RoleAssistant, res.Content, &userMsg.ID, &res.Metadata)
		asst = m
		return err
	})
	if err != nil {
		return fail(persistence("persist assistant message", err))
	}
	conv.Preview = s.preview(res.Content)
	conv.UpdatedAt = asst.CreatedAt
	step(StatePreviewUpdated, conv.ID)

	step(StateDone, conv.ID)
	return &Exchange{Conversation: conv, UserMessage: userMsg, AssistantMessage: asst}, nil
}

// RecordExchange persists a user prompt and its generated reply in one
// transaction. The async worker uses it once generation has succeeded.
func (s *ConversationService) RecordExchange(ctx context.Context, conversationID, userContent string, res *generation.Result) (*Exchange, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "RecordExchange",
		trace.WithAttributes(attribute.String("conversation.id", conversationID)),
	)
	defer span.End()

	conv, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	unlock := s.Locks.Lock(conversationID)
	defer unlock()

	ex := &Exchange{Conversation: conv}
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.exchangeTx(ctx, tx, ex, userContent, res)
	})
	if err != nil {
		span.RecordError(err)
		return nil, persistence("record exchange", err)
	}
	s.finishExchange(ctx, ex, userContent, res)
	return ex, nil
}

// StartExchange creates a conversation for userID and records the first
// exchange in it, all in one transaction, so a conversation only exists once
// a reply does. When jobID is set the job is pointed at the new conversation
// in the same transaction.
func (s *ConversationService) StartExchange(ctx context.Context, userID string, assessmentID *string, jobID, userContent string, res *generation.Result) (*Exchange, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "StartExchange",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.String("job.id", jobID),
		),
	)
	defer span.End()

	if assessmentID != nil && strings.TrimSpace(*assessmentID) == "" {
		assessmentID = nil
	}

	ex := &Exchange{}
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conv, err := repo.CreateConversation(ctx, tx, userID, assessmentID, DefaultTitle)
		if err != nil {
			return err
		}
		if jobID != "" {
			if err := repo.SetJobConversation(ctx, tx, jobID, conv.ID); err != nil {
				return err
			}
		}
		ex.Conversation = conv
		return s.exchangeTx(ctx, tx, ex, userContent, res)
	})
	if err != nil {
		span.RecordError(err)
		return nil, persistence("start exchange", err)
	}
	span.SetAttributes(attribute.String("conversation.id", ex.Conversation.ID))
	s.finishExchange(ctx, ex, userContent, res)
	return ex, nil
}

// exchangeTx appends the user message and its reply to ex.Conversation.
func (s *ConversationService) exchangeTx(ctx context.Context, tx *gorm.DB, ex *Exchange, userContent string, res *generation.Result) error {
	id := ex.Conversation.ID
	u, err := s.appendTx(ctx, tx, id, domain.RoleUser, userContent, nil, nil)
	if err != nil {
		return err
	}
	a, err := s.appendTx(ctx, tx, id, domain.RoleAssistant, res.Content, &u.ID, &res.Metadata)
	if err != nil {
		return err
	}
	ex.UserMessage, ex.AssistantMessage = u, a
	return nil
}

func (s *ConversationService) finishExchange(ctx context.Context, ex *Exchange, userContent string, res *generation.Result) {
	s.maybeAutoTitle(ctx, ex.Conversation, userContent)
	ex.Conversation.Preview = s.preview(res.Content)
	ex.Conversation.UpdatedAt = ex.AssistantMessage.CreatedAt
}

// ListConversations returns a page of the user's conversations, most recently
// updated first, plus the total count.
func (s *ConversationService) ListConversations(ctx context.Context, userID string, page, pageSize int) ([]domain.Conversation, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "ListConversations",
		trace.WithAttributes(
			attribute.String("user.id", userID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	offset, limit := utils.Offset(page, pageSize)
	total, err := repo.CountConversations(ctx, s.DB, userID)
	if err != nil {
		return nil, 0, persistence("count conversations", err)
	}
	if total == 0 {
		return []domain.Conversation{}, 0, nil
	}
	items, err := repo.ListConversationsPage(ctx, s.DB, userID, offset, limit)
	if err != nil {
		return nil, 0, persistence("list conversations", err)
	}
	return items, total, nil
}

// GetMessages returns a chronological page of a conversation's messages.
func (s *ConversationService) GetMessages(ctx context.Context, userID, conversationID string, page, pageSize int) ([]domain.Message, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "GetMessages",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.Int("page", page),
			attribute.Int("page_size", pageSize),
		),
	)
	defer span.End()

	if _, err := s.authorize(ctx, userID, conversationID); err != nil {
		return nil, 0, err
	}
	offset, limit := utils.Offset(page, pageSize)
	total, err := repo.CountMessages(ctx, s.DB, conversationID)
	if err != nil {
		return nil, 0, persistence("count messages", err)
	}
	if total == 0 {
		return []domain.Message{}, 0, nil
	}
	items, err := repo.ListMessagesPage(ctx, s.DB, conversationID, offset, limit)
	if err != nil {
		return nil, 0, persistence("list messages", err)
	}
	return items, total, nil
}

// DeleteConversation hard-deletes a conversation and its messages.
func (s *ConversationService) DeleteConversation(ctx context.Context, userID, conversationID string) error {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "DeleteConversation",
		trace.WithAttributes(
			attribute.String("conversation.id", conversationID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	if _, err := s.authorize(ctx, userID, conversationID); err != nil {
		return err
	}

	unlock := s.Locks.Lock(conversationID)
	defer unlock()

	if err := repo.DeleteConversation(ctx, s.DB, conversationID, userID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrConversationNotFound
		}
		return persistence("delete conversation", err)
	}
	return nil
}

// EditMessage rewrites a user message and deletes every message created after
// it, so the edited message becomes the tail of the chain. It returns the
// updated message and the number of messages removed.
func (s *ConversationService) EditMessage(ctx context.Context, userID, messageID, content string) (*domain.Message, int64, error) {
	tr := otel.Tracer("services/ConversationService")
	ctx, span := tr.Start(ctx, "EditMessage",
		trace.WithAttributes(
			attribute.String("message.id", messageID),
			attribute.String("user.id", userID),
		),
	)
	defer span.End()

	content, err := s.validateContent(content)
	if err != nil {
		return nil, 0, err
	}
	m, err := repo.GetMessage(ctx, s.DB, messageID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, 0, ErrMessageNotFound
		}
		return nil, 0, persistence("get message", err)
	}
	if _, err := s.authorize(ctx, userID, m.ConversationID); err != nil {
		return nil, 0, err
	}
	if m.Role != domain.RoleUser {
		return nil, 0, ErrNotEditable
	}

	unlock := s.Locks.Lock(m.ConversationID)
	defer unlock()

	var removed int64
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := repo.UpdateMessageContent(ctx, tx, m.ID, content); err != nil {
			return err
		}
		n, err := repo.DeleteMessagesAfter(ctx, tx, m)
		if err != nil {
			return err
		}
		removed = n
		return repo.TouchConversation(ctx, tx, m.ConversationID, s.now())
	})
	if err != nil {
		span.RecordError(err)
		return nil, 0, persistence("edit message", err)
	}

	m.Content = content
	s.Log.Info().
		Str("conversation_id", m.ConversationID).
		Str("message_id", m.ID).
		Int64("removed", removed).
		Msg("message edited")
	return m, removed, nil
}

// UsageStats reports today's generation quota.
func (s *ConversationService) UsageStats(ctx context.Context) (ratelimit.UsageStats, error) {
	return s.Quota.GetUsageStats(ctx)
}

// authorize loads a conversation and checks that userID owns it.
func (s *ConversationService) authorize(ctx context.Context, userID, conversationID string) (*domain.Conversation, error) {
	c, err := s.loadConversation(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	if c.UserID != userID {
		s.Log.Warn().
			Str("conversation_id", conversationID).
			Str("user_id", userID).
			Msg("ownership violation")
		return nil, ErrOwnershipViolation
	}
	return c, nil
}

func (s *ConversationService) loadConversation(ctx context.Context, conversationID string) (*domain.Conversation, error) {
	c, err := repo.GetConversation(ctx, s.DB, conversationID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrConversationNotFound
		}
		return nil, persistence("get conversation", err)
	}
	return c, nil
}

// appendTx inserts one message inside tx and moves the conversation's
// updated_at, together with its preview for assistant messages. The caller
// holds the conversation lock, or created the conversation inside tx.
func (s *ConversationService) appendTx(ctx context.Context, tx *gorm.DB, conversationID, role, content string, parentID *string, meta *domain.MessageMetadata) (*domain.Message, error) {
	m := &domain.Message{
		ConversationID:  conversationID,
		Role:            role,
		Content:         content,
		ParentMessageID: parentID,
		CreatedAt:       s.now(),
	}
	if meta != nil {
		m.Metadata = datatypes.NewJSONType(*meta)
	}
	if _, err := s.Linker.Append(ctx, tx, m); err != nil {
		return nil, err
	}
	if role == domain.RoleAssistant {
		return m, repo.UpdatePreview(ctx, tx, conversationID, s.preview(content), m.CreatedAt)
	}
	return m, repo.TouchConversation(ctx, tx, conversationID, m.CreatedAt)
}

// snapshot resolves the assessment for a conversation. An inline snapshot
// wins over the provider.
func (s *ConversationService) snapshot(ctx context.Context, conv *domain.Conversation, inline *domain.AssessmentSnapshot) (*domain.AssessmentSnapshot, error) {
	if inline != nil {
		return inline, nil
	}
	if conv.AssessmentID == nil || s.Assessments == nil {
		return nil, nil
	}
	a, err := s.Assessments.GetAssessment(ctx, conv.UserID, *conv.AssessmentID)
	if err != nil {
		s.Log.Warn().Err(err).Str("assessment_id", *conv.AssessmentID).Msg("assessment lookup failed")
		return nil, nil
	}
	return a, nil
}

func (s *ConversationService) validateContent(content string) (string, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return "", ErrEmptyContent
	}
	if s.MaxContentRunes > 0 && utf8.RuneCountInString(content) > s.MaxContentRunes {
		return "", ErrTooLong
	}
	return content, nil
}

func (s *ConversationService) maxHistory() int {
	if s.MaxHistory <= 0 {
		return prompt.DefaultMaxHistory
	}
	return s.MaxHistory
}

// preview collapses whitespace and clips content to PreviewRunes.
func (s *ConversationService) preview(content string) string {
	n := s.PreviewRunes
	if n <= 0 {
		n = defaultPreviewRunes
	}
	p := whitespaceRE.ReplaceAllString(strings.TrimSpace(content), " ")
	if utf8.RuneCountInString(p) <= n {
		return p
	}
	return strings.TrimSpace(string([]rune(p)[:n-1])) + "…"
}

// maybeAutoTitle names a conversation after its first user message. Failures
// are logged and otherwise ignored.
func (s *ConversationService) maybeAutoTitle(ctx context.Context, conv *domain.Conversation, content string) {
	if !shouldAutoTitle(conv.Title) {
		return
	}
	title := s.clipTitle(s.generateTitle(content))
	if title == "" {
		return
	}
	if err := repo.UpdateConversationTitle(ctx, s.DB, conv.ID, title); err != nil {
		s.Log.Warn().Err(err).Str("conversation_id", conv.ID).Msg("auto title failed")
		return
	}
	conv.Title = title
}

// BuildGenerationRequest picks the prompt shape. Without prior turns the
// assessment prompt and the user message are sent as one prompt; otherwise
// the chat history, ending with the new user message, is sent.
func BuildGenerationRequest(snap *domain.AssessmentSnapshot, prior []domain.ContextMessage, content string, maxHistory int, opts domain.GenerationOptions) generation.Request {
	req := generation.Request{LastUserMessage: content, Options: opts}
	if len(prior) == 0 {
		req.Prompt = prompt.WithUserMessage(prompt.BuildInitialPrompt(snap), content)
		return req
	}
	msgs := make([]domain.Message, 0, len(prior)+1)
	for _, p := range prior {
		msgs = append(msgs, domain.Message{Role: p.Role, Content: p.Content})
	}
	msgs = append(msgs, domain.Message{Role: domain.RoleUser, Content: content})
	req.History = prompt.BuildFollowUpPrompt(snap.PatternOrDefault(), msgs, maxHistory)
	return req
}

// toContext strips stored messages down to role and content.
func toContext(msgs []domain.Message) []domain.ContextMessage {
	out := make([]domain.ContextMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, domain.ContextMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// --- Title helpers ---

var whitespaceRE = regexp.MustCompile(`\s+`)

// Extract Unicode letters with optional trailing numbers (e.g., "day14").
var titleWordRE = regexp.MustCompile(`[\p{L}]+[\p{N}]*`)

// Minimal English stop-words set for compact titles.
var titleStopWords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "and": {}, "or": {}, "of": {}, "to": {}, "in": {},
	"is": {}, "are": {}, "for": {}, "on": {}, "with": {}, "by": {}, "from": {},
	"at": {}, "as": {}, "that": {}, "this": {}, "it": {}, "be": {}, "was": {}, "were": {},
	"i": {}, "my": {}, "me": {},
}

func shouldAutoTitle(current string) bool {
	t := strings.TrimSpace(strings.ToLower(current))
	return t == "" || t == strings.ToLower(DefaultTitle)
}

// generateTitle derives a concise title from a user message.
func (s *ConversationService) generateTitle(content string) string {
	toks := titleWordRE.FindAllString(strings.ToLower(content), -1)
	if len(toks) == 0 {
		return ""
	}
	titleCaser := cases.Title(s.titleLocale())
	out := make([]string, 0, 8)
	for _, w := range toks {
		if _, skip := titleStopWords[w]; skip {
			continue
		}
		out = append(out, titleCaser.String(w))
		if len(out) >= 8 {
			break
		}
	}
	return strings.Join(out, " ")
}

func (s *ConversationService) clipTitle(title string) string {
	max := s.TitleMaxLen
	if max <= 0 {
		max = defaultTitleMaxLen
	}
	if utf8.RuneCountInString(title) > max {
		return strings.TrimSpace(string([]rune(title)[:max]))
	}
	return title
}

func (s *ConversationService) titleLocale() language.Tag {
	if s.TitleLocale == language.Und {
		return language.English
	}
	return s.TitleLocale
}
