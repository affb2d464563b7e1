// projects.go — обработчик GET /projects: агрегаты проектов.
package handlers

import (
	"net/http"
	"time"

	apierrors "github.com/anhhtv56/test-assistant/internal/api/errors"
	"github.com/anhhtv56/test-assistant/internal/domain/model"
)

type projectResponse struct {
	ID               string    `json:"id"`
	ProjectKey       string    `json:"projectKey"`
	CreatedBy        string    `json:"createdBy"`
	FirstGeneratedAt time.Time `json:"firstGeneratedAt"`
	LastGeneratedAt  time.Time `json:"lastGeneratedAt"`
	TotalGenerations int       `json:"totalGenerations"`
}

type projectListResponse struct {
	Items   []projectResponse `json:"items"`
	Total   int               `json:"total"`
	Limit   int               `json:"limit"`
	Offset  int               `json:"offset"`
	HasMore bool              `json:"hasMore"`
}

func mapProject(p *model.Project) projectResponse {
	return projectResponse{
		ID:               p.ID,
		ProjectKey:       p.ProjectKey,
		CreatedBy:        p.CreatedBy,
		FirstGeneratedAt: p.FirstGeneratedAt,
		LastGeneratedAt:  p.LastGeneratedAt,
		TotalGenerations: p.TotalGenerations,
	}
}

// ListProjects — GET /projects.
func (h *APIHandler) ListProjects(w http.ResponseWriter, r *http.Request) {
	if _, ok := requester(w, r); !ok {
		return
	}
	limit, offset, ok := pagination(w, r)
	if !ok {
		return
	}

	list, err := h.projects.List(r.Context(), limit, offset)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	items := make([]projectResponse, len(list.Items))
	for i, p := range list.Items {
		items[i] = mapProject(p)
	}
	apierrors.WriteData(w, http.StatusOK, projectListResponse{
		Items:   items,
		Total:   list.Total,
		Limit:   list.Limit,
		Offset:  list.Offset,
		HasMore: list.Offset+len(items) < list.Total,
	})
}
