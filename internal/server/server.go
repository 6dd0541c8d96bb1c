// Package server exposes the hall directory and roundtable operations as MCP
// tools over a JSON-RPC stdio wire, accepting both line-delimited and
// Content-Length framed requests.
package server

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"log/slog"

	"github.com/farzinnasiri/the-council-sub001/internal/directory"
	"github.com/farzinnasiri/the-council-sub001/internal/roundtable"
)

type Config struct {
	Logger       *slog.Logger
	Directory    *directory.Store
	Orchestrator *roundtable.Orchestrator
}

type MCPServer struct {
	cfg    Config
	logger *slog.Logger
}

func NewMCPServer(cfg Config) *MCPServer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &MCPServer{cfg: cfg, logger: logger}
}

type jsonRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
}

type jsonRPCResponse struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      any       `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *rpcError `json:"error,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type toolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

func (s *MCPServer) Run(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)
	writer := bufio.NewWriter(os.Stdout)
	defer writer.Flush()
	mode := wireModeAuto

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			req, nextMode, err := readRequest(reader, mode)
			if err != nil {
				if err == io.EOF {
					return nil
				}
				s.send(writer, jsonRPCResponse{JSONRPC: "2.0", ID: nil, Error: &rpcError{Code: -32700, Message: "parse error"}}, mode)
				continue
			}
			mode = nextMode

			resp := s.handle(ctx, req)
			if req.ID == nil {
				// JSON-RPC notification: do not reply.
				continue
			}
			s.send(writer, resp, mode)
		}
	}
}

func (s *MCPServer) send(w *bufio.Writer, resp jsonRPCResponse, mode wireMode) {
	raw, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("response marshal failed", "error", err)
		return
	}
	if mode == wireModeContentLength {
		_, _ = fmt.Fprintf(w, "Content-Length: %d\r\n\r\n", len(raw))
		_, _ = w.Write(raw)
	} else {
		_, _ = w.Write(append(raw, '\n'))
	}
	_ = w.Flush()
}

type wireMode int

const (
	wireModeAuto wireMode = iota
	wireModeLine
	wireModeContentLength
)

func readRequest(reader *bufio.Reader, mode wireMode) (jsonRPCRequest, wireMode, error) {
	switch mode {
	case wireModeLine:
		req, err := readLineRequest(reader)
		return req, wireModeLine, err
	case wireModeContentLength:
		req, err := readContentLengthRequest(reader)
		return req, wireModeContentLength, err
	default:
		next, err := detectWireMode(reader)
		if err != nil {
			return jsonRPCRequest{}, wireModeAuto, err
		}
		if next == wireModeContentLength {
			req, err := readContentLengthRequest(reader)
			return req, next, err
		}
		req, err := readLineRequest(reader)
		return req, next, err
	}
}

func detectWireMode(reader *bufio.Reader) (wireMode, error) {
	for {
		b, err := reader.Peek(1)
		if err != nil {
			return wireModeAuto, err
		}
		if len(b) == 0 {
			return wireModeAuto, io.EOF
		}
		switch b[0] {
		case ' ', '\t', '\r', '\n':
			_, _ = reader.ReadByte()
			continue
		case 'C', 'c':
			return wireModeContentLength, nil
		default:
			return wireModeLine, nil
		}
	}
}

func readLineRequest(reader *bufio.Reader) (jsonRPCRequest, error) {
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			if err == io.EOF && strings.TrimSpace(line) != "" {
				var req jsonRPCRequest
				if uerr := json.Unmarshal([]byte(strings.TrimSpace(line)), &req); uerr != nil {
					return jsonRPCRequest{}, uerr
				}
				return req, nil
			}
			return jsonRPCRequest{}, err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		var req jsonRPCRequest
		if err := json.Unmarshal([]byte(line), &req); err != nil {
			return jsonRPCRequest{}, err
		}
		return req, nil
	}
}

func readContentLengthRequest(reader *bufio.Reader) (jsonRPCRequest, error) {
	contentLength := -1
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return jsonRPCRequest{}, err
		}
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.ToLower(strings.TrimSpace(parts[0]))
		val := strings.TrimSpace(parts[1])
		if key == "content-length" {
			n, err := strconv.Atoi(val)
			if err != nil {
				return jsonRPCRequest{}, err
			}
			contentLength = n
		}
	}
	if contentLength < 0 {
		return jsonRPCRequest{}, fmt.Errorf("missing content-length header")
	}
	body := make([]byte, contentLength)
	if _, err := io.ReadFull(reader, body); err != nil {
		return jsonRPCRequest{}, err
	}
	var req jsonRPCRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return jsonRPCRequest{}, err
	}
	return req, nil
}

func (s *MCPServer) handle(ctx context.Context, req jsonRPCRequest) jsonRPCResponse {
	if req.JSONRPC != "" && req.JSONRPC != "2.0" {
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32600, Message: "invalid jsonrpc version"}}
	}

	switch req.Method {
	case "initialize":
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]any{
				"tools": map[string]any{},
			},
			"serverInfo": map[string]any{
				"name":    "hall-roundtable",
				"version": "0.1.0",
			},
		}}
	case "tools/list":
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: toolListResponse()}
	case "tools/call":
		var callReq toolCallRequest
		if err := json.Unmarshal(req.Params, &callReq); err != nil {
			return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32602, Message: "invalid params"}}
		}
		result, err := s.handleTool(ctx, callReq)
		if err != nil {
			rpcErr := &rpcError{Code: -32000, Message: err.Error()}
			if kind := roundtable.KindOf(err); kind != "" {
				rpcErr.Data = map[string]any{"kind": string(kind)}
			}
			return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: rpcErr}
		}
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Result: map[string]any{
			"content": []any{
				map[string]any{
					"type": "text",
					"text": mustJSON(result),
				},
			},
			"structuredContent": result,
		}}
	default:
		return jsonRPCResponse{JSONRPC: "2.0", ID: req.ID, Error: &rpcError{Code: -32601, Message: fmt.Sprintf("method not found: %s", req.Method)}}
	}
}

func mustJSON(v any) string {
	raw, _ := json.Marshal(v)
	return string(raw)
}
