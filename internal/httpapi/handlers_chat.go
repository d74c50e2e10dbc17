package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/routehub/routehub/internal/apikey"
	"github.com/routehub/routehub/internal/catalog"
	"github.com/routehub/routehub/internal/events"
	"github.com/routehub/routehub/internal/routing"
	"github.com/routehub/routehub/internal/scoring"
	"github.com/routehub/routehub/internal/streaming"
)

// defaultProfile is used when a request does not name a routing profile.
const defaultProfile = "balanced"

// defaultCompletionBudget is the token estimate used for cost accounting when
// the request does not cap max_tokens.
const defaultCompletionBudget = 256

// CompletionsRequest is the OpenAI-compatible request for
// /v1/chat/completions. Model "auto" (or empty) routes by profile; any other
// value selects that model explicitly.
type CompletionsRequest struct {
	Model          string        `json:"model"`
	Messages       []ChatMessage `json:"messages"`
	Temperature    *float64      `json:"temperature,omitempty"`
	MaxTokens      *int          `json:"max_tokens,omitempty"`
	Stream         bool          `json:"stream,omitempty"`
	RoutingProfile string        `json:"routing_profile,omitempty"`
}

type completionChoice struct {
	Index        int         `json:"index"`
	Message      ChatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type completionUsage struct {
	PromptTokens     int64 `json:"prompt_tokens"`
	CompletionTokens int64 `json:"completion_tokens"`
	TotalTokens      int64 `json:"total_tokens"`
}

type completionsResponse struct {
	ID          string             `json:"id"`
	Object      string             `json:"object"`
	Created     int64              `json:"created"`
	Model       string             `json:"model"`
	Choices     []completionChoice `json:"choices"`
	Usage       completionUsage    `json:"usage"`
	RoutingInfo routing.Decision   `json:"routing_info"`
}

// ChatCompletionsHandler routes a chat request and produces its completion,
// streaming over SSE when stream=true.
func ChatCompletionsHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompletionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		serveCompletion(d, w, r, req)
	}
}

// SSEChatHandler is the explicit SSE endpoint; it accepts the same request
// shape and always streams.
func SSEChatHandler(d Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CompletionsRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			jsonError(w, "invalid JSON: "+err.Error(), http.StatusBadRequest)
			return
		}
		req.Stream = true
		serveCompletion(d, w, r, req)
	}
}

func serveCompletion(d Dependencies, w http.ResponseWriter, r *http.Request, req CompletionsRequest) {
	if len(req.Messages) == 0 {
		jsonError(w, "messages is required", http.StatusBadRequest)
		return
	}

	identity := apikey.Identity(r.Context())
	if !admitQuota(d, w, r.Context(), identity) {
		return
	}

	profile := req.RoutingProfile
	if profile == "" {
		profile = defaultProfile
	}

	decision, err := selectModel(d, r.Context(), req.Model, profile)
	if err != nil {
		switch {
		case errors.Is(err, routing.ErrNoCandidates):
			jsonError(w, "no candidate models available", http.StatusServiceUnavailable)
		case errors.Is(err, errUnknownModel):
			jsonError(w, err.Error(), http.StatusNotFound)
		default:
			jsonError(w, err.Error(), http.StatusBadRequest)
		}
		return
	}

	maxTokens := 0
	if req.MaxTokens != nil {
		maxTokens = *req.MaxTokens
	}
	estCost := estimateCost(d, r.Context(), decision.Selected.ModelID, promptChars(req.Messages), maxTokens)
	if !admitBudget(d, w, r.Context(), estCost) {
		return
	}

	preq := ProduceRequest{
		Model:     decision.Selected.Name,
		Messages:  req.Messages,
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		preq.Temperature = *req.Temperature
	}

	requestID := uuid.NewString()
	start := time.Now()

	if req.Stream {
		streamCompletion(d, w, r, preq, decision, identity, requestID, estCost, start)
		return
	}

	var sb strings.Builder
	res, err := d.Producer.Produce(r.Context(), preq, func(delta string) error {
		sb.WriteString(delta)
		return nil
	})
	if err != nil {
		recordOutcome(d, decision, identity, requestID, time.Since(start), ProduceResult{}, estCost, err)
		if errors.Is(err, context.Canceled) {
			return
		}
		jsonError(w, "completion failed: "+err.Error(), http.StatusBadGateway)
		return
	}
	recordOutcome(d, decision, identity, requestID, time.Since(start), res, estCost, nil)

	short := requestID
	if len(short) > 8 {
		short = short[:8]
	}
	writeJSON(w, http.StatusOK, completionsResponse{
		ID:      "chatcmpl-" + short,
		Object:  "chat.completion",
		Created: start.Unix(),
		Model:   decision.Selected.Name,
		Choices: []completionChoice{{
			Message:      ChatMessage{Role: "assistant", Content: sb.String()},
			FinishReason: res.FinishReason,
		}},
		Usage: completionUsage{
			PromptTokens:     res.PromptTokens,
			CompletionTokens: res.CompletionTokens,
			TotalTokens:      res.PromptTokens + res.CompletionTokens,
		},
		RoutingInfo: decision,
	})
}

func streamCompletion(d Dependencies, w http.ResponseWriter, r *http.Request, preq ProduceRequest, decision routing.Decision, identity, requestID string, estCost float64, start time.Time) {
	sse, err := streaming.NewSSEWriter(w, requestID, decision.Selected.Name)
	if err != nil {
		jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	go sse.StartHeartbeat()
	defer sse.Close()

	if err := sse.WriteRouting(decision); err != nil {
		return
	}
	if err := sse.WriteRole(); err != nil {
		return
	}

	res, err := d.Producer.Produce(r.Context(), preq, func(delta string) error {
		return sse.WriteContent(delta)
	})
	if err != nil {
		recordOutcome(d, decision, identity, requestID, time.Since(start), ProduceResult{}, estCost, err)
		if !errors.Is(err, context.Canceled) && !errors.Is(err, streaming.ErrCancelled) {
			_ = sse.WriteError(err.Error())
		}
		return
	}

	_ = sse.WriteFinish(res.FinishReason)
	_ = sse.WriteUsage(res.PromptTokens, res.CompletionTokens)
	recordOutcome(d, decision, identity, requestID, time.Since(start), res, estCost, nil)
}

// WSChatFunc adapts the completion path to inbound WebSocket chat messages.
func WSChatFunc(d Dependencies) streaming.ChatFunc {
	return func(ctx context.Context, clientID string, msg streaming.Message) {
		s := d.Streaming.NewRequestStream(msg.RequestID, clientID)

		if d.Quota != nil {
			res, err := d.Quota.Admit(ctx, "ws:"+clientID)
			if err == nil && !res.Allowed() {
				if d.Metrics != nil {
					d.Metrics.AdmissionDenied.WithLabelValues("quota").Inc()
				}
				_ = s.Fail(fmt.Errorf("quota exceeded, retry after %ds", int64(res.RetryAfter/time.Second)))
				return
			}
		}

		profile := msg.Profile
		if profile == "" {
			profile = defaultProfile
		}
		decision, err := d.Router.Route(ctx, profile)
		if err != nil {
			_ = s.Fail(err)
			return
		}

		if err := s.Start(decision.Selected.Name); err != nil {
			return
		}

		start := time.Now()
		preq := ProduceRequest{
			Model:    decision.Selected.Name,
			Messages: []ChatMessage{{Role: "user", Content: msg.Content}},
		}
		res, err := d.Producer.Produce(ctx, preq, func(delta string) error {
			return s.Delta(delta)
		})
		if err != nil {
			recordOutcome(d, decision, "ws:"+clientID, msg.RequestID, time.Since(start), ProduceResult{}, 0, err)
			if !errors.Is(err, streaming.ErrCancelled) && !errors.Is(err, context.Canceled) {
				_ = s.Fail(err)
			}
			return
		}
		_ = s.Done(res.FinishReason)
		recordOutcome(d, decision, "ws:"+clientID, msg.RequestID, time.Since(start), res, 0, nil)
	}
}

// errUnknownModel marks an explicit model selection that found no match.
var errUnknownModel = errors.New("unknown model")

// selectModel routes by profile for "auto" requests and resolves the named
// model otherwise. Explicit selections still respect the circuit breaker.
func selectModel(d Dependencies, ctx context.Context, model, profile string) (routing.Decision, error) {
	if model == "" || model == "auto" {
		return d.Router.Route(ctx, profile)
	}

	m, err := d.Store.GetModelByName(ctx, model)
	if err != nil {
		return routing.Decision{}, fmt.Errorf("lookup model %q: %w", model, err)
	}
	if m == nil {
		return routing.Decision{}, fmt.Errorf("%w: %q", errUnknownModel, model)
	}
	if d.Breakers != nil && !d.Breakers.Get(m.Name).Available() {
		return routing.Decision{}, fmt.Errorf("model %q is temporarily unavailable", model)
	}
	return routing.Decision{
		Profile:  "explicit",
		Selected: scoring.Score{ModelID: m.ID, Name: m.Name, MeetsConstraints: true},
	}, nil
}

func promptChars(msgs []ChatMessage) int {
	n := 0
	for _, m := range msgs {
		n += len(m.Content)
	}
	return n
}

// estimateCost projects the request's spend from the model's blended price.
// Unknown pricing estimates to zero, which admits the request.
func estimateCost(d Dependencies, ctx context.Context, modelID int64, chars, maxTokens int) float64 {
	view, err := d.Store.MetricsView(ctx, modelID)
	if err != nil {
		return 0
	}
	blended, ok := view.Value(catalog.KindCostBlendedPerMillion)
	if !ok {
		return 0
	}
	completion := maxTokens
	if completion <= 0 {
		completion = defaultCompletionBudget
	}
	tokens := float64(chars)/4 + float64(completion)
	return tokens / 1e6 * blended
}

func admitQuota(d Dependencies, w http.ResponseWriter, ctx context.Context, identity string) bool {
	if d.Quota == nil {
		return true
	}
	res, err := d.Quota.Admit(ctx, identity)
	if err != nil {
		jsonError(w, "quota check failed", http.StatusInternalServerError)
		return false
	}
	if res.Allowed() {
		return true
	}
	if d.Metrics != nil {
		d.Metrics.AdmissionDenied.WithLabelValues("quota").Inc()
	}
	retry := int64(res.RetryAfter / time.Second)
	if retry > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(retry, 10))
	}
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"error":       "quota exceeded",
		"message":     res.Message,
		"retry_after": retry,
	})
	return false
}

func admitBudget(d Dependencies, w http.ResponseWriter, ctx context.Context, estCost float64) bool {
	if d.Budget == nil {
		return true
	}
	allowed, reason, err := d.Budget.CheckAllowed(ctx, estCost)
	if err != nil {
		if d.Logger != nil {
			d.Logger.Warn("budget check failed, admitting", "error", err)
		}
		return true
	}
	if allowed {
		return true
	}
	if d.Metrics != nil {
		d.Metrics.AdmissionDenied.WithLabelValues("budget").Inc()
	}
	writeJSON(w, http.StatusPaymentRequired, map[string]any{
		"error":   "budget exceeded",
		"message": reason,
	})
	return false
}

// recordOutcome settles one terminated upstream attempt: exactly one breaker
// record and one bus event. Client cancellations record neither success nor
// failure against the breaker.
func recordOutcome(d Dependencies, decision routing.Decision, identity, requestID string, elapsed time.Duration, res ProduceResult, estCost float64, produceErr error) {
	cancelled := errors.Is(produceErr, context.Canceled) || errors.Is(produceErr, streaming.ErrCancelled)

	if produceErr == nil {
		d.Router.RecordSuccess(decision.Selected.Name)
	} else if !cancelled {
		d.Router.RecordFailure(decision.Selected.Name)
	}

	if d.EventBus == nil {
		return
	}
	ev := events.Event{
		RequestID:     requestID,
		ClientID:      identity,
		Profile:       decision.Profile,
		ModelID:       decision.Selected.ModelID,
		ModelName:     decision.Selected.Name,
		Fallback:      decision.WasFallback,
		LatencyMS:     float64(elapsed.Milliseconds()),
		EstimatedCost: estCost,
	}
	switch {
	case produceErr == nil:
		ev.Type = events.EventRouteSuccess
		ev.PromptTokens = res.PromptTokens
		ev.CompletionTokens = res.CompletionTokens
		if decision.WasFallback {
			ev.Type = events.EventRouteFallback
		}
	case cancelled:
		ev.Type = events.EventRouteError
		ev.ErrorClass = "cancelled"
	default:
		ev.Type = events.EventRouteError
		ev.ErrorClass = "upstream"
		ev.ErrorMsg = produceErr.Error()
	}
	d.EventBus.Publish(ev)
}
