package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/coder/websocket"

	"github.com/jmylchreest/insight/pkg/analysis"
)

// MessageType tags a progress channel message.
type MessageType string

const (
	MsgProgress       MessageType = "progress"
	MsgPartialResults MessageType = "partial_results"
	MsgFinalResults   MessageType = "final_results"
)

// progressReadLimit bounds one frame; results frames carry whole record sets.
const progressReadLimit = 32 << 20

// ProgressMessage is one frame pushed on the progress channel.
type ProgressMessage struct {
	Type           MessageType                   `json:"type"`
	JobID          string                        `json:"job_id"`
	Progress       float64                       `json:"progress,omitempty"`
	Message        string                        `json:"message,omitempty"`
	CompletedFiles int                           `json:"completed_files,omitempty"`
	TotalFiles     int                           `json:"total_files,omitempty"`
	Results        []analysis.FileAnalysisRecord `json:"results,omitempty"`
	Timestamp      string                        `json:"timestamp"`
}

// ProgressURL derives the WebSocket URL for jobID from the base URL.
func (c *Client) ProgressURL(jobID string) string {
	base := c.base.String()
	switch {
	case strings.HasPrefix(base, "https://"):
		base = "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base + "/api/progress/" + jobID
}

// ProgressStream is an open progress channel for one job.
type ProgressStream struct {
	conn   *websocket.Conn
	jobID  string
	logger *slog.Logger
	once   sync.Once
}

// OpenProgress dials the progress channel for jobID.
func (c *Client) OpenProgress(ctx context.Context, jobID string) (*ProgressStream, error) {
	conn, _, err := websocket.Dial(ctx, c.ProgressURL(jobID), nil)
	if err != nil {
		return nil, &TransportError{Op: "open progress channel", Err: err}
	}
	conn.SetReadLimit(progressReadLimit)
	return &ProgressStream{conn: conn, jobID: jobID, logger: c.logger}, nil
}

// Next blocks until the next well-formed message. Frames that are not JSON
// or carry an unknown type are logged and skipped. A normal close by the
// server is reported as io.EOF.
func (s *ProgressStream) Next(ctx context.Context) (ProgressMessage, error) {
	for {
		typ, data, err := s.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure {
				return ProgressMessage{}, io.EOF
			}
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return ProgressMessage{}, err
			}
			return ProgressMessage{}, &TransportError{Op: "read progress", Err: err}
		}
		if typ != websocket.MessageText {
			s.logger.Warn("skipping non-text progress frame", "job_id", s.jobID)
			continue
		}

		var msg ProgressMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Warn("failed to parse progress message", "job_id", s.jobID, "error", err)
			continue
		}
		switch msg.Type {
		case MsgProgress, MsgPartialResults, MsgFinalResults:
			return msg, nil
		default:
			s.logger.Warn("skipping progress message", "job_id", s.jobID, "error", fmt.Errorf("unknown type %q", msg.Type))
		}
	}
}

// Close closes the channel. It is safe to call more than once.
func (s *ProgressStream) Close() error {
	var err error
	s.once.Do(func() {
		err = s.conn.Close(websocket.StatusNormalClosure, "")
	})
	return err
}
