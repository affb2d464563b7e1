// generations.go — обработчики /generations endpoints:
// оценка, создание, списки, просмотр, правка, публикация и скачивание.
package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/anhhtv56/test-assistant/internal/api/errors"
	"github.com/anhhtv56/test-assistant/internal/domain/model"
	"github.com/anhhtv56/test-assistant/internal/service"
)

// --- Запросы ---

type prelightRequest struct {
	IssueKey string `json:"issueKey"`
}

type createRequest struct {
	IssueKey string `json:"issueKey"`
	Mode     string `json:"mode,omitempty"`
	// AutoMode — устаревший флаг режима (true — auto), используется при пустом mode
	AutoMode *bool `json:"autoMode,omitempty"`
}

type updateRequest struct {
	Content         *string `json:"content"`
	ExpectedVersion *int    `json:"expectedVersion,omitempty"`
	Notes           *string `json:"notes,omitempty"`
}

type publishRequest struct {
	Published *bool `json:"published"`
}

// --- Ответы ---

type prelightResponse struct {
	IssueKey         string  `json:"issueKey"`
	Title            string  `json:"title"`
	Description      string  `json:"description"`
	IssueType        string  `json:"issueType,omitempty"`
	Attachments      int     `json:"attachments"`
	ImageAttachments int     `json:"imageAttachments"`
	EstimatedTokens  float64 `json:"estimatedTokens"`
	EstimatedCost    float64 `json:"estimatedCost"`
}

type markdownResponse struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
}

type tokenUsageResponse struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

type createResponse struct {
	GenerationID          string              `json:"generationId"`
	IssueKey              string              `json:"issueKey"`
	Mode                  model.Mode          `json:"mode"`
	Status                model.Status        `json:"status"`
	Markdown              markdownResponse    `json:"markdown"`
	GenerationTimeSeconds float64             `json:"generationTimeSeconds"`
	Cost                  float64             `json:"cost"`
	TokenUsage            *tokenUsageResponse `json:"tokenUsage,omitempty"`
}

type generationSummary struct {
	ID                    string              `json:"id"`
	IssueKey              string              `json:"issueKey"`
	Email                 string              `json:"email"`
	ProjectKey            string              `json:"projectKey,omitempty"`
	Mode                  model.Mode          `json:"mode"`
	Status                model.Status        `json:"status"`
	CreatedAt             time.Time           `json:"createdAt"`
	CompletedAt           *time.Time          `json:"completedAt,omitempty"`
	GenerationTimeSeconds *float64            `json:"generationTimeSeconds,omitempty"`
	Cost                  *float64            `json:"cost,omitempty"`
	TokenUsage            *tokenUsageResponse `json:"tokenUsage,omitempty"`
	Filename              string              `json:"filename,omitempty"`
	Error                 string              `json:"error,omitempty"`
	Published             bool                `json:"published"`
	PublishedAt           *time.Time          `json:"publishedAt,omitempty"`
	PublishedBy           *string             `json:"publishedBy,omitempty"`
	CurrentVersion        int                 `json:"currentVersion"`
}

type generationListResponse struct {
	Items   []generationSummary `json:"items"`
	Total   int                 `json:"total"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
	HasMore bool                `json:"hasMore"`
}

type versionResponse struct {
	Version   int       `json:"version"`
	Content   string    `json:"content"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
	Notes     *string   `json:"notes,omitempty"`
}

type viewResponse struct {
	ID             string            `json:"id"`
	Email          string            `json:"email"`
	Content        string            `json:"content"`
	Filename       string            `json:"filename"`
	Format         string            `json:"format"`
	IssueKey       string            `json:"issueKey"`
	ProjectKey     string            `json:"projectKey,omitempty"`
	Mode           model.Mode        `json:"mode"`
	Status         model.Status      `json:"status"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
	Published      bool              `json:"published"`
	PublishedAt    *time.Time        `json:"publishedAt,omitempty"`
	PublishedBy    *string           `json:"publishedBy,omitempty"`
	CurrentVersion int               `json:"currentVersion"`
	Versions       []versionResponse `json:"versions"`
	LastUpdatedBy  string            `json:"lastUpdatedBy"`
	LastUpdatedAt  time.Time         `json:"lastUpdatedAt"`
}

type updateResponse struct {
	Content        string `json:"content"`
	CurrentVersion int    `json:"currentVersion"`
}

type publishResponse struct {
	Published   bool       `json:"published"`
	PublishedAt *time.Time `json:"publishedAt,omitempty"`
	PublishedBy *string    `json:"publishedBy,omitempty"`
}

func mapTokenUsage(u *model.TokenUsage) *tokenUsageResponse {
	if u == nil {
		return nil
	}
	return &tokenUsageResponse{
		PromptTokens:     u.PromptTokens,
		CompletionTokens: u.CompletionTokens,
		TotalTokens:      u.TotalTokens,
	}
}

func mapGenerationSummary(g *model.Generation) generationSummary {
	s := generationSummary{
		ID:                    g.ID,
		IssueKey:              g.IssueKey,
		Email:                 g.OwnerEmail,
		ProjectKey:            model.ExtractProjectKey(g.IssueKey),
		Mode:                  g.Mode,
		Status:                g.Status,
		CreatedAt:             g.CreatedAt,
		CompletedAt:           g.CompletedAt,
		GenerationTimeSeconds: g.GenerationTimeSeconds,
		Cost:                  g.Cost,
		TokenUsage:            mapTokenUsage(g.TokenUsage),
		Error:                 g.Error,
		Published:             g.Published,
		PublishedAt:           g.PublishedAt,
		PublishedBy:           g.PublishedBy,
		CurrentVersion:        g.CurrentVersion,
	}
	if g.Result != nil {
		s.Filename = g.Result.Filename
	}
	return s
}

func mapView(v *service.ViewProjection) viewResponse {
	versions := make([]versionResponse, len(v.Versions))
	for i, ver := range v.Versions {
		versions[i] = versionResponse{
			Version:   ver.Version,
			Content:   ver.Content,
			UpdatedAt: ver.UpdatedAt,
			UpdatedBy: ver.UpdatedBy,
			Notes:     ver.Notes,
		}
	}
	return viewResponse{
		ID:             v.ID,
		Email:          v.Email,
		Content:        v.Content,
		Filename:       v.Filename,
		Format:         v.Format,
		IssueKey:       v.IssueKey,
		ProjectKey:     v.ProjectKey,
		Mode:           v.Mode,
		Status:         v.Status,
		CreatedAt:      v.CreatedAt,
		UpdatedAt:      v.UpdatedAt,
		Published:      v.Published,
		PublishedAt:    v.PublishedAt,
		PublishedBy:    v.PublishedBy,
		CurrentVersion: v.CurrentVersion,
		Versions:       versions,
		LastUpdatedBy:  v.LastUpdatedBy,
		LastUpdatedAt:  v.LastUpdatedAt,
	}
}

// --- Обработчики ---

// Prelight — POST /generations/prelight.
// Оценивает объём и стоимость генерации без вызова модели.
func (h *APIHandler) Prelight(w http.ResponseWriter, r *http.Request) {
	if _, ok := requester(w, r); !ok {
		return
	}
	var req prelightRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	est, err := h.generations.Prelight(r.Context(), req.IssueKey)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apierrors.WriteData(w, http.StatusOK, prelightResponse{
		IssueKey:         est.IssueKey,
		Title:            est.Title,
		Description:      est.Description,
		IssueType:        est.IssueType,
		Attachments:      est.Attachments,
		ImageAttachments: est.ImageAttachments,
		EstimatedTokens:  est.EstimatedTokens,
		EstimatedCost:    est.EstimatedCost,
	})
}

// CreateTestCases — POST /generations/testcases.
// Запрос блокируется до завершения генерации.
func (h *APIHandler) CreateTestCases(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	var req createRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	mode := req.Mode
	if mode == "" && req.AutoMode != nil && *req.AutoMode {
		mode = string(model.ModeAuto)
	}

	g, err := h.generations.Create(r.Context(), service.CreateRequest{IssueKey: req.IssueKey, Mode: mode}, email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	resp := createResponse{
		GenerationID: g.ID,
		IssueKey:     g.IssueKey,
		Mode:         g.Mode,
		Status:       g.Status,
		TokenUsage:   mapTokenUsage(g.TokenUsage),
	}
	if g.Result != nil {
		resp.Markdown = markdownResponse{Filename: g.Result.Filename, Content: g.Result.Content}
	}
	if g.GenerationTimeSeconds != nil {
		resp.GenerationTimeSeconds = *g.GenerationTimeSeconds
	}
	if g.Cost != nil {
		resp.Cost = *g.Cost
	}
	apierrors.WriteData(w, http.StatusOK, resp)
}

// ListMyGenerations — GET /generations.
func (h *APIHandler) ListMyGenerations(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	list, err := h.generations.ListMine(r.Context(), email, limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeGenerationList(w, list)
}

// ListPublishedGenerations — GET /generations/published.
func (h *APIHandler) ListPublishedGenerations(w http.ResponseWriter, r *http.Request) {
	if _, ok := requester(w, r); !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}
	list, err := h.generations.ListPublished(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	h.writeGenerationList(w, list)
}

func (h *APIHandler) writeGenerationList(w http.ResponseWriter, list *service.GenerationList) {
	items := make([]generationSummary, len(list.Items))
	for i, g := range list.Items {
		items[i] = mapGenerationSummary(g)
	}
	apierrors.WriteData(w, http.StatusOK, generationListResponse{
		Items:   items,
		Total:   list.Total,
		Limit:   list.Limit,
		Offset:  list.Offset,
		HasMore: list.Offset+len(items) < list.Total,
	})
}

// ViewGeneration — GET /generations/{id}/view.
func (h *APIHandler) ViewGeneration(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	view, err := h.generations.View(r.Context(), chi.URLParam(r, "id"), email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apierrors.WriteData(w, http.StatusOK, mapView(view))
}

// UpdateGeneration — PUT /generations/{id}/update.
func (h *APIHandler) UpdateGeneration(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.generations.Update(r.Context(), chi.URLParam(r, "id"), email, service.UpdateRequest{
		Content:         req.Content,
		ExpectedVersion: req.ExpectedVersion,
		Notes:           req.Notes,
	})
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apierrors.WriteData(w, http.StatusOK, updateResponse{Content: res.Content, CurrentVersion: res.CurrentVersion})
}

// PublishGeneration — PUT /generations/{id}/publish.
func (h *APIHandler) PublishGeneration(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	var req publishRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	res, err := h.generations.Publish(r.Context(), chi.URLParam(r, "id"), email, req.Published)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	apierrors.WriteData(w, http.StatusOK, publishResponse{
		Published:   res.Published,
		PublishedAt: res.PublishedAt,
		PublishedBy: res.PublishedBy,
	})
}

// DownloadGeneration — GET /generations/{id}/download.
// Отдаёт markdown как вложение.
func (h *APIHandler) DownloadGeneration(w http.ResponseWriter, r *http.Request) {
	email, ok := requester(w, r)
	if !ok {
		return
	}
	file, err := h.generations.Download(r.Context(), chi.URLParam(r, "id"), email)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Filename))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(file.Content))
}
