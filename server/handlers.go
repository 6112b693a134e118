// ABOUTME: HTTP handler factories for the agent facade: thread creation, message streaming, run status, and cancellation.
// ABOUTME: Grounded on the teacher's handler-factory convention (func(state) http.HandlerFunc) and chi.URLParam routing.
package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/2389-research/agentkit/agent"
	"github.com/go-chi/chi/v5"
)

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// CreateThread handles POST /threads.
func CreateThread(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Title  string `json:"title"`
			UserID string `json:"user_id"`
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&body)
		}

		thread, err := state.Threads.CreateThread(r.Context(), agent.Thread{
			Title:  body.Title,
			UserID: body.UserID,
		})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(thread)
	}
}

// authOverrideRequest is the wire shape of one entry in a postMessageRequest's
// auth_overrides map.
type authOverrideRequest struct {
	Kind           agent.AuthOverrideKind `json:"kind"`
	BearerToken    string                 `json:"bearer_token,omitempty"`
	APIKeyName     string                 `json:"api_key_name,omitempty"`
	APIKeyLocation agent.AuthLocation     `json:"api_key_location,omitempty"`
	APIKeyValue    string                 `json:"api_key_value,omitempty"`
}

// postMessageRequest is the body for POST /threads/{threadID}/messages: the
// external streaming entry point's (user_message, run_config_override?,
// existing_run_id?) shape from spec §6, plus per-request auth overrides
// (spec §4.9) keyed by provider id.
type postMessageRequest struct {
	Message         string                         `json:"message"`
	Model           string                         `json:"model,omitempty"`
	SystemPrompt    string                         `json:"system_prompt,omitempty"`
	ExistingRunID   string                         `json:"existing_run_id,omitempty"`
	AuthOverrides   map[string]authOverrideRequest `json:"auth_overrides,omitempty"`
}

func buildRunConfig(base agent.RunConfig, req postMessageRequest) agent.RunConfig {
	cfg := base
	if req.Model != "" {
		cfg.Model = req.Model
	}
	if req.SystemPrompt != "" {
		cfg.SystemPrompt = req.SystemPrompt
	}
	if len(req.AuthOverrides) > 0 {
		cfg.RequestAuthOverrides = make(map[string]agent.AuthOverride, len(req.AuthOverrides))
		for providerID, o := range req.AuthOverrides {
			cfg.RequestAuthOverrides[providerID] = agent.AuthOverride{
				Kind:           o.Kind,
				BearerToken:    o.BearerToken,
				APIKeyName:     o.APIKeyName,
				APIKeyLocation: o.APIKeyLocation,
				APIKeyValue:    o.APIKeyValue,
			}
		}
	}
	return cfg
}

// PostMessage handles POST /threads/{threadID}/messages: it appends the
// user's message to a new or existing run and streams the run's events back
// as SSE, terminating with run.completed, run.failed, or a run status-change
// event whose new status is cancelled (there is no separate cancelled event
// type), or pausing at run.requires_action (spec §6).
func PostMessage(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		threadID := chi.URLParam(r, "threadID")
		if _, found, err := state.Threads.GetThread(r.Context(), threadID); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		} else if !found {
			writeJSONError(w, http.StatusNotFound, "thread not found")
			return
		}

		var req postMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
			return
		}
		if req.Message == "" {
			writeJSONError(w, http.StatusBadRequest, "message is required")
			return
		}

		runConfig := buildRunConfig(state.DefaultRunConfig, req)
		if err := runConfig.Validate(); err != nil {
			writeJSONError(w, http.StatusBadRequest, err.Error())
			return
		}

		run, err := state.Runs.CreateRun(r.Context(), agent.Run{
			ThreadID:  threadID,
			Status:    agent.RunStatusQueued,
			Config:    runConfig,
			CreatedAt: time.Now(),
		})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}

		actx := &agent.AgentContext{
			RunID:        run.ID,
			ThreadID:     threadID,
			LLMClient:    state.LLMClient,
			ToolProvider: state.ToolProvider,
			MessageStore: state.Messages,
			ThreadStore:  state.Threads,
			RunStore:     state.Runs,
			Config:       runConfig,
			Emitter:      state.Loop.Emitter,
		}

		write, flush := sseWriter(w)
		// Run-scoped, not the process-wide Subscribe(): the emitter only ever
		// routes this run's events to sub, so a slow client here blocks only
		// this run's delivery (spec §5 Backpressure), never another run's.
		sub := state.Loop.Emitter.SubscribeRun(run.ID)
		defer state.Loop.Emitter.Unsubscribe(sub)

		done := make(chan struct{})
		go func() {
			defer close(done)
			for ev := range sub {
				_ = write(string(ev.Type), ev)
				flush()
				switch ev.Type {
				case agent.EventRunCompleted, agent.EventRunFailed, agent.EventRunRequiresAction:
					return
				case agent.EventRunStatusChanged:
					if d, ok := ev.Data.(agent.RunStatusChangedData); ok && d.CurrentStatus == agent.RunStatusCancelled {
						return
					}
				}
			}
		}()

		currentCycle := []agent.Message{{
			ThreadID: threadID,
			Role:     agent.RoleUser,
			Content:  req.Message,
		}}

		_, _ = state.Loop.Run(r.Context(), actx, run, currentCycle)
		<-done
	}
}

// GetRunStatus handles GET /runs/{runID}.
func GetRunStatus(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		run, found, err := state.Runs.GetRun(r.Context(), runID)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if !found {
			writeJSONError(w, http.StatusNotFound, "run not found")
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(run)
	}
}

// CancelRun handles POST /runs/{runID}/cancel.
func CancelRun(state *AppState) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runID := chi.URLParam(r, "runID")
		if _, found, err := state.Runs.GetRun(r.Context(), runID); err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		} else if !found {
			writeJSONError(w, http.StatusNotFound, "run not found")
			return
		}
		state.Loop.Cancel(runID)
		w.WriteHeader(http.StatusAccepted)
	}
}
