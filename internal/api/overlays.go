package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/compositor/internal/api/models"
)

func (s *Server) registerOverlayRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-overlays",
		Method:      http.MethodGet,
		Path:        "/api/overlays",
		Summary:     "List Overlays",
		Tags:        []string{"overlays"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.OverlayListResponse, error) {
		overlays, err := s.engine.GetOverlays()
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.OverlayListResponse{Body: models.OverlayListData{Overlays: overlays, Count: len(overlays)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-overlay",
		Method:        http.MethodPost,
		Path:          "/api/overlays",
		Summary:       "Add Overlay",
		Description:   "Rasterize an overlay's items. It stays hidden unless up is set.",
		Tags:          []string{"overlays"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 409, 422, 503},
	}, func(ctx context.Context, input *models.OverlayRequest) (*struct{}, error) {
		if err := s.engine.AddOverlay(ctx, input.Body.Settings()); err != nil {
			return nil, mapEngineError(err)
		}
		if input.Body.Up {
			return nil, mapEngineError(s.engine.UpOverlay(input.Body.ID))
		}
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-overlay",
		Method:        http.MethodDelete,
		Path:          "/api/overlays/{overlay_id}",
		Summary:       "Remove Overlay",
		Tags:          []string{"overlays"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 503},
	}, func(_ context.Context, input *models.OverlayPath) (*struct{}, error) {
		return nil, mapEngineError(s.engine.RemoveOverlay(input.OverlayID))
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "up-overlay",
		Method:        http.MethodPost,
		Path:          "/api/overlays/{overlay_id}/up",
		Summary:       "Show Overlay",
		Tags:          []string{"overlays"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 503},
	}, func(_ context.Context, input *models.OverlayPath) (*struct{}, error) {
		return nil, mapEngineError(s.engine.UpOverlay(input.OverlayID))
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "down-overlay",
		Method:        http.MethodPost,
		Path:          "/api/overlays/{overlay_id}/down",
		Summary:       "Hide Overlay",
		Tags:          []string{"overlays"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 503},
	}, func(_ context.Context, input *models.OverlayPath) (*struct{}, error) {
		return nil, mapEngineError(s.engine.DownOverlay(input.OverlayID))
	})
}
