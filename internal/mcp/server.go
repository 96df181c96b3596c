// Package mcp serves the recurring-task tools over newline-delimited JSON-RPC on stdio.
package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/rs/zerolog/log"
)

// DefaultMaxMessageSize bounds a single request line when Options leaves it unset.
const DefaultMaxMessageSize = 1 << 20

// Options configures a Server.
type Options struct {
	Name           string
	Version        string
	MaxMessageSize int
}

// Server implements the MCP server for the toolset.
type Server struct {
	tools *Toolset
	opts  Options

	mu sync.Mutex // serializes writes
}

func NewServer(tools *Toolset, opts Options) *Server {
	if opts.Name == "" {
		opts.Name = "cadence"
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = DefaultMaxMessageSize
	}
	return &Server{tools: tools, opts: opts}
}

// Serve reads requests from r and writes responses to w until r is exhausted or ctx is
// cancelled. Requests are handled in order.
func (s *Server) Serve(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := bufio.NewReaderSize(r, 64*1024)

	log.Info().
		Str("name", s.opts.Name).
		Int("tools", len(s.tools.List())).
		Msg("Tool server listening on stdio")

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		line, err := readLine(reader, s.opts.MaxMessageSize)
		if errors.Is(err, errLineTooLong) {
			log.Warn().Int("limit", s.opts.MaxMessageSize).Msg("Dropped oversized request")
			if err := s.send(w, errorResponse(nil, CodeInvalidRequest, "Request too large")); err != nil {
				return err
			}
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				log.Info().Msg("Client closed the connection")
				return nil
			}
			return fmt.Errorf("reading request: %w", err)
		}
		if len(line) == 0 {
			continue
		}

		resp := s.Handle(ctx, line)
		if resp == nil {
			continue
		}
		if err := s.send(w, resp); err != nil {
			return fmt.Errorf("writing response: %w", err)
		}
	}
}

// Handle processes a single encoded request and returns the response, or nil for
// notifications.
func (s *Server) Handle(ctx context.Context, data []byte) *Response {
	var req Request
	if err := json.Unmarshal(data, &req); err != nil {
		return errorResponse(nil, CodeParseError, "Parse error")
	}
	if req.JSONRPC != "2.0" || req.Method == "" {
		return errorResponse(req.ID, CodeInvalidRequest, "Invalid request")
	}

	log.Debug().Str("method", req.Method).RawJSON("id", idOrNull(req.ID)).Msg("Request received")

	var resp *Response
	switch req.Method {
	case "initialize":
		resp = s.handleInitialize(&req)
	case "ping":
		resp = &Response{JSONRPC: "2.0", ID: req.ID, Result: struct{}{}}
	case "tools/list":
		resp = &Response{JSONRPC: "2.0", ID: req.ID, Result: ListToolsResult{Tools: s.tools.List()}}
	case "tools/call":
		resp = s.handleCallTool(ctx, &req)
	case "notifications/initialized", "notifications/cancelled":
		return nil
	default:
		resp = errorResponse(req.ID, CodeMethodNotFound, "Method not found")
	}

	if req.IsNotification() {
		return nil
	}
	return resp
}

func (s *Server) handleInitialize(req *Request) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: InitializeResult{
			ProtocolVersion: ProtocolVersion,
			ServerInfo: ServerInfo{
				Name:    s.opts.Name,
				Version: s.opts.Version,
			},
			Capabilities: ServerCapabilities{
				Tools: &ToolsCapability{},
			},
		},
	}
}

func (s *Server) handleCallTool(ctx context.Context, req *Request) *Response {
	var params CallToolParams
	if err := json.Unmarshal(req.Params, &params); err != nil || params.Name == "" {
		return errorResponse(req.ID, CodeInvalidParams, "Invalid params")
	}

	result, err := s.tools.Call(ctx, params.Name, params.Arguments)
	if errors.Is(err, ErrUnknownTool) {
		return errorResponse(req.ID, CodeInvalidParams, err.Error())
	}
	if err != nil {
		log.Error().Err(err).Str("tool", params.Name).Msg("Tool call failed")
		return errorResponse(req.ID, CodeInternalError, "Internal error")
	}

	return &Response{JSONRPC: "2.0", ID: req.ID, Result: result}
}

func (s *Server) send(w io.Writer, resp *Response) error {
	data, err := json.Marshal(resp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func errorResponse(id json.RawMessage, code int, message string) *Response {
	return &Response{
		JSONRPC: "2.0",
		ID:      idOrNull(id),
		Error:   &Error{Code: code, Message: message},
	}
}

func idOrNull(id json.RawMessage) json.RawMessage {
	if len(id) == 0 {
		return json.RawMessage("null")
	}
	return id
}

var errLineTooLong = errors.New("line exceeds maximum message size")

// readLine returns the next newline-terminated line without its terminator. A line
// longer than limit is consumed and reported as errLineTooLong.
func readLine(r *bufio.Reader, limit int) ([]byte, error) {
	var line []byte
	tooLong := false
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+1 {
				tooLong = true
				line = nil
			} else {
				line = append(line, chunk...)
			}
		}

		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		if err != nil {
			if errors.Is(err, io.EOF) && len(line) > 0 && !tooLong {
				return trimEOL(line), nil
			}
			if tooLong && errors.Is(err, io.EOF) {
				return nil, errLineTooLong
			}
			return nil, err
		}
		if tooLong {
			return nil, errLineTooLong
		}
		return trimEOL(line), nil
	}
}

func trimEOL(b []byte) []byte {
	for len(b) > 0 && (b[len(b)-1] == '\n' || b[len(b)-1] == '\r') {
		b = b[:len(b)-1]
	}
	return b
}
