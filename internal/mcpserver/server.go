// Package mcpserver exposes tracked conversations to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/guilhermegouw/convtrack/internal/debug"
	"github.com/guilhermegouw/convtrack/internal/message"
	"github.com/guilhermegouw/convtrack/internal/session"
)

const serverName = "convtrack"

// Tool names.
const (
	ToolListSessions      = "list_sessions"
	ToolGetCurrentSession = "get_current_session"
	ToolGetSession        = "get_session"
	ToolGetSummaries      = "get_summaries"
	ToolAddMessage        = "add_message"
	ToolGetContext        = "get_context"
)

// Conversations is the part of the engine the tools read and feed.
type Conversations interface {
	AllSessions() []*session.Session
	CurrentSession() *session.Session
	Session(id string) (*session.Session, error)
	AddMessage(content string, isQuestionHint bool) (*message.Message, bool)
}

// SessionInfo is the list_sessions row for one session.
type SessionInfo struct {
	ID           string     `json:"sessionId"`
	Title        string     `json:"title,omitempty"`
	StartTime    time.Time  `json:"startTime"`
	EndTime      *time.Time `json:"endTime,omitempty"`
	IsActive     bool       `json:"isActive"`
	Current      bool       `json:"current"`
	Messages     int        `json:"messageCount"`
	Speakers     int        `json:"speakerCount"`
	Summaries    int        `json:"summaryCount"`
	Compressions int        `json:"compressedGroupCount"`
}

// ContextInfo is the get_context result: the stored meeting context and
// its plain-text rendering.
type ContextInfo struct {
	SessionID string                  `json:"sessionId"`
	Summary   string                  `json:"summary"`
	Context   *session.MeetingContext `json:"context"`
}

// Handlers implements the tool callbacks.
type Handlers struct {
	conv Conversations
	log  *debug.Logger
}

// NewHandlers returns tool handlers backed by conv.
func NewHandlers(conv Conversations) *Handlers {
	return &Handlers{conv: conv, log: debug.New("mcp")}
}

// New builds an MCP server with every tool registered.
func New(conv Conversations, version string) *server.MCPServer {
	h := NewHandlers(conv)
	s := server.NewMCPServer(serverName, version, server.WithToolCapabilities(false))

	s.AddTool(mcp.NewTool(ToolListSessions,
		mcp.WithDescription("List tracked conversation sessions, most recent first."),
	), h.ListSessions)

	s.AddTool(mcp.NewTool(ToolGetCurrentSession,
		mcp.WithDescription("Return the current session with its messages, speakers, compressed history and summaries."),
	), h.GetCurrentSession)

	s.AddTool(mcp.NewTool(ToolGetSession,
		mcp.WithDescription("Return one session by id."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("Session id as listed by list_sessions")),
	), h.GetSession)

	s.AddTool(mcp.NewTool(ToolGetSummaries,
		mcp.WithDescription("Return the periodic summaries of a session. Defaults to the current session."),
		mcp.WithString("session_id", mcp.Description("Session id; omit for the current session")),
	), h.GetSummaries)

	s.AddTool(mcp.NewTool(ToolAddMessage,
		mcp.WithDescription("Add an utterance to the current conversation. A session is started if none is active."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Transcribed text")),
		mcp.WithBoolean("is_question", mcp.Description("Mark the utterance as a question")),
	), h.AddMessage)

	s.AddTool(mcp.NewTool(ToolGetContext,
		mcp.WithDescription("Return the meeting context of a session: participants, goals, and key points, plus a text summary. Defaults to the current session."),
		mcp.WithString("session_id", mcp.Description("Session id; omit for the current session")),
	), h.GetContext)

	return s
}

// Serve speaks MCP over in and out until ctx is done or the client
// disconnects.
func Serve(ctx context.Context, conv Conversations, version string, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(New(conv, version)).Listen(ctx, in, out)
}

// ListSessions handles list_sessions.
func (h *Handlers) ListSessions(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	currentID := ""
	if cur := h.conv.CurrentSession(); cur != nil {
		currentID = cur.ID
	}
	all := h.conv.AllSessions()
	infos := make([]SessionInfo, 0, len(all))
	for _, s := range all {
		infos = append(infos, SessionInfo{
			ID:           s.ID,
			Title:        s.Title,
			StartTime:    s.StartTime,
			EndTime:      s.EndTime,
			IsActive:     s.IsActive,
			Current:      s.ID == currentID,
			Messages:     len(s.Messages),
			Speakers:     len(s.Speakers),
			Summaries:    len(s.Summaries),
			Compressions: len(s.CompressedHistory),
		})
	}
	return jsonResult(infos)
}

// GetCurrentSession handles get_current_session.
func (h *Handlers) GetCurrentSession(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cur := h.conv.CurrentSession()
	if cur == nil {
		return mcp.NewToolResultError("no current session"), nil
	}
	return jsonResult(cur)
}

// GetSession handles get_session.
func (h *Handlers) GetSession(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := req.GetString("session_id", "")
	if id == "" {
		return mcp.NewToolResultError("session_id is required"), nil
	}
	s, err := h.lookup(id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(s)
}

// GetSummaries handles get_summaries.
func (h *Handlers) GetSummaries(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	summaries := s.Summaries
	if summaries == nil {
		summaries = []*session.Summary{}
	}
	return jsonResult(summaries)
}

// AddMessage handles add_message.
func (h *Handlers) AddMessage(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content := req.GetString("content", "")
	m, ok := h.conv.AddMessage(content, req.GetBool("is_question", false))
	if !ok {
		return mcp.NewToolResultError("message too short, ignored"), nil
	}
	h.log.Printf("added %s from %s", m.ID, m.SpeakerID)
	return jsonResult(m)
}

// GetContext handles get_context.
func (h *Handlers) GetContext(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	s, err := h.target(req)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if s.Context == nil {
		return mcp.NewToolResultError(fmt.Sprintf("session %q has no context", s.ID)), nil
	}
	return jsonResult(ContextInfo{
		SessionID: s.ID,
		Summary:   s.Context.Summary(s.Title),
		Context:   s.Context,
	})
}

// target resolves the optional session_id argument, falling back to the
// current session.
func (h *Handlers) target(req mcp.CallToolRequest) (*session.Session, error) {
	id := req.GetString("session_id", "")
	if id != "" {
		return h.lookup(id)
	}
	if s := h.conv.CurrentSession(); s != nil {
		return s, nil
	}
	return nil, errors.New("no current session")
}

func (h *Handlers) lookup(id string) (*session.Session, error) {
	s, err := h.conv.Session(id)
	if errors.Is(err, session.ErrNotFound) {
		return nil, fmt.Errorf("session %q not found", id)
	}
	return s, err
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshaling result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
