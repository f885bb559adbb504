// Package chat holds a conversation with the backend's codebase assistant.
//
// A conversation never fails outright. When the backend cannot start a
// session the conversation runs in demo mode and answers from canned
// replies; when a single message fails the reply explains the connection
// problem.
package chat

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/jmylchreest/insight/pkg/api"
	"github.com/jmylchreest/insight/pkg/monitor"
)

// DemoSessionID marks a conversation answered locally.
const DemoSessionID = "demo-session"

// Role of a message author.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation. Content is markdown.
type Message struct {
	ID           string    `json:"id"`
	Role         Role      `json:"role"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
	FollowUps    []string  `json:"follow_ups,omitempty"`
	RelatedFiles []string  `json:"related_files,omitempty"`
}

// Backend is the subset of the API client used for chat.
type Backend interface {
	StartChat(ctx context.Context, in api.ChatStartRequest) (*api.ChatSession, error)
	SendChatMessage(ctx context.Context, sessionID, message string) (*api.ChatResponse, error)
}

// Target is the codebase a conversation is about.
type Target struct {
	UploadDir  string
	GitHubRepo string
	Branch     string
}

func (t Target) describe() string {
	switch {
	case t.GitHubRepo != "":
		branch := t.Branch
		if branch == "" {
			branch = "main"
		}
		return "GitHub repository **" + t.GitHubRepo + "** (branch: " + branch + ")"
	case t.UploadDir != "":
		return "uploaded codebase from `" + t.UploadDir + "`"
	default:
		return "your codebase"
	}
}

// Conversation is a chat session plus its message log.
type Conversation struct {
	backend  Backend
	notifier monitor.Notifier
	logger   *slog.Logger
	now      func() time.Time

	mu        sync.Mutex
	target    Target
	sessionID string
	info      api.CodebaseInfo
	messages  []Message
}

// Option configures a Conversation.
type Option func(*Conversation)

// WithNotifier routes user-facing notices to n.
func WithNotifier(n monitor.Notifier) Option {
	return func(c *Conversation) { c.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Conversation) { c.logger = l }
}

// WithClock overrides time.Now for message timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Conversation) { c.now = now }
}

// Start opens a conversation about target. If the backend cannot start a
// session the conversation falls back to demo mode.
func Start(ctx context.Context, backend Backend, target Target, opts ...Option) *Conversation {
	c := &Conversation{
		backend:  backend,
		notifier: monitor.NotifierFunc(func(monitor.Level, string, string) {}),
		logger:   slog.Default(),
		now:      time.Now,
		target:   target,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With("component", "chat")

	sess, err := backend.StartChat(ctx, api.ChatStartRequest{
		UploadDir:  target.UploadDir,
		GitHubRepo: target.GitHubRepo,
		Branch:     target.Branch,
	})
	if err != nil || sess.SessionID == "" {
		c.logger.Warn("chat session unavailable, using demo mode", "error", err)
		c.sessionID = DemoSessionID
		c.append(RoleAssistant, demoWelcome, nil, nil)
		c.notifier.Notify(monitor.LevelError, "Connection Issue", "Using demo mode. Please try again later.")
		return c
	}

	c.sessionID = sess.SessionID
	c.info = sess.CodebaseInfo
	c.append(RoleAssistant, welcome(sess.CodebaseInfo), nil, nil)
	where := sess.CodebaseInfo.Context
	if where == "" {
		where = "your codebase"
	}
	c.notifier.Notify(monitor.LevelSuccess, "Chat Ready!", "Connected to "+where)
	return c
}

// SessionID returns the backend session id, or DemoSessionID.
func (c *Conversation) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Demo reports whether replies are generated locally.
func (c *Conversation) Demo() bool {
	return c.SessionID() == DemoSessionID
}

// Info returns what the backend reported about the codebase.
func (c *Conversation) Info() api.CodebaseInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info
}

// Messages returns a copy of the message log, oldest first.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// Send asks a question and returns the assistant's reply. Blank input is
// ignored and yields ok == false. Backend failures produce an explanatory
// reply rather than an error.
func (c *Conversation) Send(ctx context.Context, text string) (reply Message, ok bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return Message{}, false
	}

	c.mu.Lock()
	c.append(RoleUser, text, nil, nil)
	sessionID := c.sessionID
	target := c.target
	c.mu.Unlock()

	if sessionID == "" || sessionID == DemoSessionID {
		return c.reply(demoReply(text, target), nil, nil), true
	}

	resp, err := c.backend.SendChatMessage(ctx, sessionID, text)
	if err != nil {
		c.logger.Warn("chat message failed", "error", err)
		c.notifier.Notify(monitor.LevelError, "Using Demo Mode", "Connected to demo responses due to backend error.")
		return c.reply(connectionError, nil, nil), true
	}

	r := resp.Response
	if len(r.FollowUpSuggestions) > 0 {
		c.notifier.Notify(monitor.LevelInfo, "Follow-up suggestions available",
			"Check the reply for related questions you can ask.")
	}
	return c.reply(r.Content, r.FollowUpSuggestions, r.RelatedFiles), true
}

func (c *Conversation) reply(content string, followUps, related []string) Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.append(RoleAssistant, content, followUps, related)
}

// append must be called with mu held (or before the conversation is shared).
func (c *Conversation) append(role Role, content string, followUps, related []string) Message {
	m := Message{
		ID:           ulid.Make().String(),
		Role:         role,
		Content:      content,
		Timestamp:    c.now(),
		FollowUps:    followUps,
		RelatedFiles: related,
	}
	c.messages = append(c.messages, m)
	return m
}
