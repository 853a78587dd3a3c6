package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/codemode-mcp/datadog-mcp/internal/audit"
	"github.com/codemode-mcp/datadog-mcp/internal/httputil"
	"github.com/codemode-mcp/datadog-mcp/internal/policy"
)

// mcpHTTP serves MCP over plain JSON and over SSE. Both paths share one
// admission pipeline and one execution step.
type mcpHTTP struct {
	registry   *ToolRegistry
	authorizer ToolAuthorizer
	authn      SessionAuthenticator
	caller     ToolCaller
	version    string
	logger     zerolog.Logger
	audit      *audit.Logger
}

func registerMCPHTTPRoutes(
	r chi.Router,
	registry *ToolRegistry,
	authorizer ToolAuthorizer,
	authn SessionAuthenticator,
	caller ToolCaller,
	version string,
	logger zerolog.Logger,
) {
	h := &mcpHTTP{
		registry:   registry,
		authorizer: authorizer,
		authn:      authn,
		caller:     caller,
		version:    strings.TrimSpace(version),
		logger:     logger,
		audit:      audit.NewLogger(logger),
	}
	r.Route("/mcp/v1", func(r chi.Router) {
		r.Post("/initialize", h.initialize)
		r.Get("/tools", h.listTools)
		r.Post("/tools/call", h.callTool)
		r.Post("/tools/call/sse", h.callToolSSE)
	})
}

func (h *mcpHTTP) initialize(w http.ResponseWriter, _ *http.Request) {
	result := initializeResult{ProtocolVersion: defaultProtocolVersion}
	result.ServerInfo.Name = defaultServerName
	result.ServerInfo.Version = h.version
	httputil.RespondJSON(w, http.StatusOK, result)
}

func (h *mcpHTTP) listTools(w http.ResponseWriter, _ *http.Request) {
	httputil.RespondJSON(w, http.StatusOK, listToolsResult{Tools: h.registry.Descriptors()})
}

// admittedCall is a tool call that passed every pre-execution check.
type admittedCall struct {
	tool      ToolSpec
	args      map[string]any
	principal SessionPrincipal
	target    *apiTarget
}

// rejection is a failed pre-execution check.
type rejection struct {
	status int
	detail string
	policy map[string]any
}

func (h *mcpHTTP) callTool(w http.ResponseWriter, r *http.Request) {
	event, finish := h.startAudit(r, "http")
	defer finish()

	call, rej := h.admit(r, event)
	if rej != nil {
		h.respondRejection(w, r, event, call, rej)
		return
	}

	payload, err := h.run(r.Context(), call)
	if err != nil {
		status := toolErrorStatus(err)
		event.ErrorDetail = toolErrorMessage(err)
		event.ResponseCode = status
		httputil.RespondProblemWith(w, r, status, toolErrorMessage(err), problemExtensions(call, policyFields(call.target, err)))
		return
	}
	event.Result = "success"
	event.ResponseCode = http.StatusOK
	httputil.RespondJSON(w, http.StatusOK, toolCallResultFromExecution(call.tool.Name, resolvedMode(h.authorizer), payload))
}

func (h *mcpHTTP) callToolSSE(w http.ResponseWriter, r *http.Request) {
	event, finish := h.startAudit(r, "http-sse")
	defer finish()

	call, rej := h.admit(r, event)
	if rej != nil {
		h.respondRejection(w, r, event, call, rej)
		return
	}

	stream := newSSEStream(r.Context(), w)
	accepted := map[string]any{
		"tool":      call.tool.Name,
		"status":    "accepted",
		"timestamp": time.Now().UTC().Format(time.RFC3339Nano),
	}
	if call.target != nil {
		accepted["policy"] = call.target.fields()
	}
	if err := stream.send("accepted", accepted); err != nil {
		event.ErrorDetail = err.Error()
		event.ResponseCode = http.StatusInternalServerError
		return
	}

	mode := resolvedMode(h.authorizer)
	payload, err := h.run(r.Context(), call)
	result := toolCallResultFromExecution(call.tool.Name, mode, payload)
	if err != nil {
		result = toolCallResultFromError(call.tool.Name, mode, err)
		event.ErrorDetail = toolErrorMessage(err)
		event.ResponseCode = toolErrorStatus(err)
	}
	if writeErr := stream.send("result", result); writeErr != nil {
		event.ErrorDetail = writeErr.Error()
		event.ResponseCode = http.StatusInternalServerError
		return
	}
	_ = stream.send("done", map[string]any{"status": "done"})
	if err == nil {
		event.Result = "success"
		event.ResponseCode = http.StatusOK
	}
}

func (h *mcpHTTP) startAudit(r *http.Request, transport string) (*audit.ToolCallCompletion, func()) {
	started := time.Now()
	requestID := httputil.RequestIDFromContext(r.Context())
	event := &audit.ToolCallCompletion{
		RequestID: requestID,
		SessionID: sessionIDFromHTTPRequest(r, requestID),
		Transport: transport,
		Mode:      resolvedMode(h.authorizer),
		Result:    "error",
	}
	return event, func() {
		event.Duration = time.Since(started)
		h.audit.Complete(*event)
	}
}

// admit authenticates and checks a tool call. The audit event picks up
// whatever was learned before a rejection.
func (h *mcpHTTP) admit(r *http.Request, event *audit.ToolCallCompletion) (admittedCall, *rejection) {
	var call admittedCall
	principal, err := h.authenticate(r)
	if err != nil {
		status, detail := authFailureResponse(err)
		return call, &rejection{status: status, detail: detail}
	}
	call.principal = principal
	event.CallerSub = principal.Subject

	var params callToolParams
	if err := decodeJSONStrict(r, &params); err != nil {
		return call, &rejection{status: http.StatusBadRequest, detail: fmt.Sprintf("invalid request body: %v", err)}
	}
	call.args = params.Arguments
	event.ToolName = strings.TrimSpace(params.Name)
	event.Arguments = params.Arguments
	if event.ToolName == "" {
		return call, &rejection{status: http.StatusBadRequest, detail: "tool name is required"}
	}

	tool, ok := h.registry.Lookup(event.ToolName)
	if !ok {
		return call, &rejection{status: http.StatusNotFound, detail: fmt.Sprintf("unknown tool: %s", event.ToolName)}
	}
	call.tool = tool
	if target, ok := requestTarget(tool, params.Arguments); ok {
		call.target = &target
	}

	if err := authorizeToolCall(h.authorizer, tool); err != nil {
		return call, &rejection{status: http.StatusForbidden, detail: err.Error()}
	}
	if err := policy.RequireConfirmation(tool.Name, tool.ConfirmationRequired, params.Arguments); err != nil {
		return call, &rejection{status: http.StatusBadRequest, detail: err.Error(), policy: policyFields(call.target, nil)}
	}
	if err := validateToolArguments(tool, params.Arguments); err != nil {
		return call, &rejection{status: http.StatusBadRequest, detail: err.Error()}
	}
	if err := requireToolScopes(tool, principal, params.Arguments); err != nil {
		return call, &rejection{status: http.StatusForbidden, detail: err.Error(), policy: policyFields(call.target, nil)}
	}
	return call, nil
}

func (h *mcpHTTP) respondRejection(w http.ResponseWriter, r *http.Request, event *audit.ToolCallCompletion, call admittedCall, rej *rejection) {
	event.ErrorDetail = rej.detail
	event.ResponseCode = rej.status
	httputil.RespondProblemWith(w, r, rej.status, rej.detail, problemExtensions(call, rej.policy))
}

// run executes an admitted call. Code started by the call is held to the
// principal's grant.
func (h *mcpHTTP) run(ctx context.Context, call admittedCall) (map[string]any, error) {
	h.logger.Info().
		Str("tool", call.tool.Name).
		Str("subject", call.principal.Subject).
		Msg("running tool call")
	if h.caller == nil {
		return map[string]any{}, nil
	}
	ctx = policy.WithGrant(ctx, call.principal.Grant(call.args))
	return h.caller.Call(ctx, call.tool.Name, call.args)
}

func (h *mcpHTTP) authenticate(r *http.Request) (SessionPrincipal, error) {
	if h.authn == nil {
		return SessionPrincipal{}, ErrSessionTokenMissing
	}
	return h.authn.AuthenticateHTTP(r)
}

func problemExtensions(call admittedCall, policyDetail map[string]any) map[string]any {
	extensions := map[string]any{}
	if call.tool.Name != "" {
		extensions["tool"] = call.tool.Name
	}
	if policyDetail != nil {
		extensions["policy"] = policyDetail
	}
	return extensions
}

func authFailureResponse(err error) (int, string) {
	switch {
	case errors.Is(err, ErrSessionTokenMissing):
		return http.StatusUnauthorized, "MCP session token is not configured; set DATADOG_MCP_SESSION_TOKEN or list sessions in the credentials file"
	case errors.Is(err, ErrBearerTokenMissing):
		return http.StatusUnauthorized, "missing or malformed Authorization header; expected Bearer <token>"
	case errors.Is(err, ErrBearerTokenInvalid):
		return http.StatusUnauthorized, "invalid bearer token for MCP session"
	default:
		return http.StatusUnauthorized, "unauthorized"
	}
}

// sseStream writes named events and flushes after each one.
type sseStream struct {
	ctx        context.Context
	w          http.ResponseWriter
	controller *http.ResponseController
}

func newSSEStream(ctx context.Context, w http.ResponseWriter) *sseStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	return &sseStream{ctx: ctx, w: w, controller: http.NewResponseController(w)}
}

func (s *sseStream) send(event string, payload any) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, data); err != nil {
		return err
	}
	_ = s.controller.Flush()
	return nil
}

func decodeJSONStrict(r *http.Request, dst any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return err
	}
	if decoder.More() {
		return fmt.Errorf("request must contain exactly one JSON object")
	}
	return nil
}

func sessionIDFromHTTPRequest(r *http.Request, fallback string) string {
	for _, header := range []string{"MCP-Session-ID", "X-Session-ID"} {
		if sessionID := strings.TrimSpace(r.Header.Get(header)); sessionID != "" {
			return sessionID
		}
	}
	return strings.TrimSpace(fallback)
}
