package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/referlane/referlane/internal/budget"
	"github.com/referlane/referlane/internal/engine"
	"github.com/referlane/referlane/internal/funnel"
	"github.com/referlane/referlane/internal/interaction"
	"github.com/referlane/referlane/internal/matching"
	"github.com/referlane/referlane/internal/nudge"
	"github.com/referlane/referlane/internal/profile"
	"github.com/referlane/referlane/internal/provider"
	"github.com/referlane/referlane/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB
const maxResumeBodySize = 10 << 20 // 10MB

// Deps holds everything the REST surface needs. Token guards all /v1 routes;
// /health and /metrics stay open.
type Deps struct {
	Jobs     provider.JobProvider
	Profiles provider.ProfileProvider
	Manager  *profile.Manager
	Nudges   *nudge.Generator
	Recorder *interaction.Recorder
	Funnel   *funnel.Aggregator
	Budget   *budget.Cache
	Summary  nudge.Completer // optional; job summaries fail cleanly when nil
	Store    *storage.Store
	Token    string
}

func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Get("/v1/members/{memberID}/jobs/{jobID}/nudges", handleGetNudges(deps))
		r.Post("/v1/interactions", handleLogInteraction(deps))
		r.Post("/v1/events", handleLogEvent(deps))
		r.Get("/v1/stats", handleStats(deps))
		r.Get("/v1/funnel", handleFunnel(deps))
		r.Get("/v1/budget", handleBudget(deps))
		r.Post("/v1/jobs", handleCreateJob(deps))
		r.Post("/v1/jobs/{jobID}/summary", handleJobSummary(deps))
		r.Get("/v1/profiles/{memberID}", handleGetProfile(deps))
		r.Patch("/v1/profiles/{memberID}", handlePatchProfile(deps))
		r.Post("/v1/profiles/{memberID}/resume", handleResumeUpload(deps))
	})

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

// NudgesResponse is the payload of the nudge listing endpoint.
type NudgesResponse struct {
	MemberID string            `json:"memberId"`
	JobID    string            `json:"jobId"`
	Score    float64           `json:"matchScore"`
	Tier     matching.Tier     `json:"matchTier"`
	Nudges   []nudge.Candidate `json:"nudges"`
}

func handleGetNudges(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID := chi.URLParam(r, "memberID")
		jobID := chi.URLParam(r, "jobID")

		job, err := deps.Jobs.GetJob(r.Context(), jobID)
		if errors.Is(err, engine.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job %q not found", jobID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load job: %v", err)
			return
		}

		p, err := deps.Profiles.GetProfile(r.Context(), memberID)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load profile: %v", err)
			return
		}
		if p == nil {
			// No profile means no signal: empty result, not an error.
			p = &profile.MemberProfile{MemberID: memberID}
		}

		match := matching.Score(job, *p)
		candidates := deps.Nudges.Generate(r.Context(), job, *p, match)
		if candidates == nil {
			candidates = []nudge.Candidate{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(NudgesResponse{
			MemberID: memberID,
			JobID:    jobID,
			Score:    match.Score,
			Tier:     match.Tier,
			Nudges:   candidates,
		})
	}
}

// InteractionRequest is the payload of the interaction log endpoint.
type InteractionRequest struct {
	MemberID string            `json:"memberId"`
	JobID    string            `json:"jobId"`
	NudgeID  string            `json:"nudgeId"`
	Action   string            `json:"action"`
	Metadata map[string]string `json:"metadata"`
}

func handleLogInteraction(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req InteractionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		id, err := deps.Recorder.Record(r.Context(), interaction.NewInteraction{
			MemberID: req.MemberID,
			JobID:    req.JobID,
			NudgeID:  req.NudgeID,
			Action:   interaction.Action(req.Action),
			Metadata: req.Metadata,
		})
		if engine.IsInvalidInput(err) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record interaction: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"interactionId": id,
			"status":        "recorded",
		})
	}
}

// EventRequest is the payload of the lifecycle event endpoint.
type EventRequest struct {
	Type     string            `json:"type"`
	MemberID string            `json:"memberId"`
	JobID    string            `json:"jobId"`
	Metadata map[string]string `json:"metadata"`
}

func handleLogEvent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req EventRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if _, err := funnel.ParseEventType(req.Type); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		}
		if req.MemberID == "" || req.JobID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "memberId and jobId are required")
			return
		}

		metadata := "{}"
		if len(req.Metadata) > 0 {
			b, err := json.Marshal(req.Metadata)
			if err != nil {
				httpError(w, http.StatusInternalServerError, "api_error", "failed to marshal metadata: %v", err)
				return
			}
			metadata = string(b)
		}

		row := storage.EventRow{
			ID:        uuid.New().String(),
			Type:      req.Type,
			MemberID:  req.MemberID,
			JobID:     req.JobID,
			Metadata:  metadata,
			CreatedAt: time.Now().UTC(),
		}
		if err := deps.Store.AppendEvent(r.Context(), row); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to record event: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"eventId": row.ID,
			"status":  "recorded",
		})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := interaction.StatsFilter{
			MemberID: r.URL.Query().Get("memberId"),
			JobID:    r.URL.Query().Get("jobId"),
		}
		if days := parseIntParam(r, "days", 0, 365); days > 0 {
			f.Since = time.Now().UTC().AddDate(0, 0, -days)
		}

		stats, err := deps.Recorder.AggregateStats(r.Context(), f)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to aggregate stats: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(stats)
	}
}

func handleFunnel(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := r.URL.Query().Get("jobId")
		days := parseIntParam(r, "days", 0, 365)

		snap, err := deps.Funnel.ComputeFunnel(r.Context(), jobID, days)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute funnel: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(snap)
	}
}

func handleBudget(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(deps.Budget.Status())
	}
}

// JobRequest is the payload for registering a job with the reference
// provider. Platforms with their own job store skip this endpoint entirely.
type JobRequest struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Company string `json:"company"`
	Tags    []struct {
		Name     string `json:"name"`
		Category string `json:"category"`
	} `json:"tags"`
}

func handleCreateJob(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req JobRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if req.Title == "" || req.Company == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "title and company are required")
			return
		}
		if req.ID == "" {
			req.ID = uuid.New().String()
		}

		row := storage.JobRow{
			ID:        req.ID,
			Title:     req.Title,
			Company:   req.Company,
			CreatedAt: time.Now().UTC(),
		}
		for _, tag := range req.Tags {
			if _, err := engine.ParseTagCategory(tag.Category); err != nil {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
				return
			}
			row.Tags = append(row.Tags, storage.JobTagRow{Name: tag.Name, Category: tag.Category})
		}

		if err := deps.Store.InsertJob(r.Context(), row); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to store job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"jobId":  row.ID,
			"status": "created",
		})
	}
}

const summaryNamespace = "job-summary"

const summarySystemPrompt = "You summarize job postings for referral outreach. " +
	"Write 2-3 sentences capturing the role, the company, and what makes it " +
	"attractive to refer a friend to. Plain text only."

func handleJobSummary(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		jobID := chi.URLParam(r, "jobID")

		job, err := deps.Jobs.GetJob(r.Context(), jobID)
		if errors.Is(err, engine.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job %q not found", jobID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load job: %v", err)
			return
		}
		if deps.Summary == nil {
			httpError(w, http.StatusServiceUnavailable, "api_error", "summaries not configured")
			return
		}

		prompt := summaryPrompt(job)
		text, err := deps.Budget.Do(r.Context(), summaryNamespace, summaryKey(job), func(ctx context.Context) (budget.Result, error) {
			completion, err := deps.Summary.Complete(ctx, summarySystemPrompt, prompt)
			if err != nil {
				return budget.Result{}, err
			}
			return budget.Result{
				Value:   completion.Text,
				CostUSD: completion.CostUSD,
				Tokens:  completion.Tokens,
			}, nil
		})
		if errors.Is(err, engine.ErrBudgetExceeded) {
			httpError(w, http.StatusTooManyRequests, "budget_exceeded", "enrichment budget exhausted, try later")
			return
		}
		if errors.Is(err, engine.ErrUpstream) {
			httpError(w, http.StatusBadGateway, "api_error", "upstream error: %v", err)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to summarize job: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"jobId":   jobID,
			"summary": text,
		})
	}
}

func summaryPrompt(job engine.Job) string {
	prompt := fmt.Sprintf("Job: %s at %s.", job.Title, job.Company)
	for _, tag := range job.Tags {
		prompt += fmt.Sprintf(" [%s: %s]", tag.Category, tag.Name)
	}
	return prompt
}

// summaryKey addresses the cache by job content, so editing a job's tags
// produces a fresh summary instead of serving the stale one.
func summaryKey(job engine.Job) string {
	key := job.ID + "|" + job.Title + "|" + job.Company
	for _, tag := range job.Tags {
		key += "|" + string(tag.Category) + ":" + tag.Name
	}
	return key
}

func handleGetProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID := chi.URLParam(r, "memberID")

		p, err := deps.Manager.Get(r.Context(), memberID)
		if errors.Is(err, engine.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "profile %q not found", memberID)
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(p)
	}
}

func handlePatchProfile(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID := chi.URLParam(r, "memberID")

		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var patch profile.Patch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if patch.IsEmpty() {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "patch changes nothing")
			return
		}

		updated, err := deps.Manager.Apply(r.Context(), memberID, patch)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update profile: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(updated)
	}
}

func handleResumeUpload(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		memberID := chi.URLParam(r, "memberID")

		r.Body = http.MaxBytesReader(w, r.Body, maxResumeBodySize)
		defer r.Body.Close()

		body, err := io.ReadAll(r.Body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to read resume: %v", err)
			return
		}
		if len(body) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "resume body is empty")
			return
		}

		updated, err := deps.Manager.RefreshFromResume(r.Context(), memberID, body)
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "failed to parse resume: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(updated)
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
