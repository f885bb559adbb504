package chat

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/jmylchreest/insight/pkg/api"
	"github.com/jmylchreest/insight/pkg/monitor"
)

type fakeBackend struct {
	startErr error
	sendErr  error
	reply    api.ChatReply
	sent     []string
	started  api.ChatStartRequest
}

func (f *fakeBackend) StartChat(_ context.Context, in api.ChatStartRequest) (*api.ChatSession, error) {
	f.started = in
	if f.startErr != nil {
		return nil, f.startErr
	}
	return &api.ChatSession{
		Success:   true,
		SessionID: "sess-1",
		CodebaseInfo: api.CodebaseInfo{
			Path:       in.UploadDir,
			Status:     "ready",
			Context:    "12 files",
			GitHubRepo: in.GitHubRepo,
			Branch:     in.Branch,
		},
	}, nil
}

func (f *fakeBackend) SendChatMessage(_ context.Context, sessionID, message string) (*api.ChatResponse, error) {
	f.sent = append(f.sent, sessionID+":"+message)
	if f.sendErr != nil {
		return nil, f.sendErr
	}
	return &api.ChatResponse{Success: true, Response: f.reply}, nil
}

type notices struct {
	mu     sync.Mutex
	titles []string
}

func (n *notices) Notify(_ monitor.Level, title, _ string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.titles = append(n.titles, title)
}

func (n *notices) has(title string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, t := range n.titles {
		if t == title {
			return true
		}
	}
	return false
}

func TestStartConnected(t *testing.T) {
	fb := &fakeBackend{}
	n := &notices{}
	c := Start(context.Background(), fb, Target{GitHubRepo: "https://github.com/acme/widgets", Branch: "dev"}, WithNotifier(n))

	if c.Demo() || c.SessionID() != "sess-1" {
		t.Fatalf("session = %q, demo = %v", c.SessionID(), c.Demo())
	}
	if fb.started.GitHubRepo != "https://github.com/acme/widgets" || fb.started.Branch != "dev" {
		t.Errorf("start request = %+v", fb.started)
	}
	msgs := c.Messages()
	if len(msgs) != 1 || !strings.Contains(msgs[0].Content, "GitHub Repository") {
		t.Errorf("welcome = %+v", msgs)
	}
	if !n.has("Chat Ready!") {
		t.Errorf("notices = %v", n.titles)
	}
}

func TestStartFallsBackToDemo(t *testing.T) {
	fb := &fakeBackend{startErr: &api.TransportError{Op: "start chat", Err: errors.New("refused")}}
	n := &notices{}
	c := Start(context.Background(), fb, Target{UploadDir: "/tmp/up"}, WithNotifier(n))

	if !c.Demo() || c.SessionID() != DemoSessionID {
		t.Fatalf("session = %q, want demo", c.SessionID())
	}
	if !strings.Contains(c.Messages()[0].Content, "Demo Mode") {
		t.Error("demo welcome expected")
	}
	if !n.has("Connection Issue") {
		t.Errorf("notices = %v", n.titles)
	}

	reply, ok := c.Send(context.Background(), "Any SECURITY problems?")
	if !ok {
		t.Fatal("send ignored")
	}
	if !strings.Contains(reply.Content, "Security Analysis Results") || !strings.Contains(reply.Content, "/tmp/up") {
		t.Errorf("demo reply = %q", reply.Content)
	}
	if len(fb.sent) != 0 {
		t.Error("demo mode must not call the backend")
	}
}

func TestDemoReplyKeywords(t *testing.T) {
	tests := []struct {
		q    string
		want string
	}{
		{"find vulnerabilities", "Security Analysis Results"},
		{"how do I optimize this", "Performance Analysis Complete"},
		{"please review my code", "Code Quality Assessment"},
		{"complexity?", "Code Quality Assessment"},
		{"hello", "AI Code Assistant Ready!"},
	}
	for _, tt := range tests {
		t.Run(tt.q, func(t *testing.T) {
			if got := demoReply(tt.q, Target{}); !strings.Contains(got, tt.want) {
				t.Errorf("reply for %q lacks %q", tt.q, tt.want)
			}
		})
	}
}

func TestSendConnected(t *testing.T) {
	fb := &fakeBackend{reply: api.ChatReply{
		Content:             "Use parameterized queries.",
		FollowUpSuggestions: []string{"Show an example"},
		RelatedFiles:        []string{"db.py"},
	}}
	n := &notices{}
	c := Start(context.Background(), fb, Target{UploadDir: "/tmp/up"}, WithNotifier(n))

	reply, ok := c.Send(context.Background(), "  how do I fix the SQL issue?  ")
	if !ok {
		t.Fatal("send ignored")
	}
	if reply.Content != "Use parameterized queries." || reply.Role != RoleAssistant {
		t.Errorf("reply = %+v", reply)
	}
	if len(reply.FollowUps) != 1 || reply.RelatedFiles[0] != "db.py" {
		t.Errorf("reply extras = %+v", reply)
	}
	if fb.sent[0] != "sess-1:how do I fix the SQL issue?" {
		t.Errorf("sent = %v", fb.sent)
	}
	if !n.has("Follow-up suggestions available") {
		t.Errorf("notices = %v", n.titles)
	}
	// welcome, question, reply
	if got := len(c.Messages()); got != 3 {
		t.Errorf("messages = %d, want 3", got)
	}
}

func TestSendFailureRepliesWithConnectionError(t *testing.T) {
	fb := &fakeBackend{sendErr: &api.Error{Op: "send chat message", StatusCode: 500}}
	n := &notices{}
	c := Start(context.Background(), fb, Target{}, WithNotifier(n))

	reply, ok := c.Send(context.Background(), "hi")
	if !ok {
		t.Fatal("send ignored")
	}
	if !strings.HasPrefix(reply.Content, "## Connection Error") {
		t.Errorf("reply = %q", reply.Content)
	}
	if !n.has("Using Demo Mode") {
		t.Errorf("notices = %v", n.titles)
	}
	if c.Demo() {
		t.Error("a single failed message should not switch the session to demo mode")
	}
}

func TestSendBlankIgnored(t *testing.T) {
	c := Start(context.Background(), &fakeBackend{}, Target{})
	if _, ok := c.Send(context.Background(), "   "); ok {
		t.Error("blank message should be ignored")
	}
	if got := len(c.Messages()); got != 1 {
		t.Errorf("messages = %d, want only the welcome", got)
	}
}
