package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/compositor/internal/api/models"
	"github.com/smazurov/compositor/internal/engine"
	"github.com/smazurov/compositor/internal/render"
)

// Displays created over HTTP render into an offscreen surface whose latest
// picture is served by the frame endpoint.
func (s *Server) registerDisplayRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-displays",
		Method:      http.MethodGet,
		Path:        "/api/displays",
		Summary:     "List Displays",
		Tags:        []string{"displays"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.DisplayListResponse, error) {
		displays, err := s.engine.ListDisplays()
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.DisplayListResponse{Body: models.DisplayListData{Displays: displays, Count: len(displays)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-display",
		Method:        http.MethodPost,
		Path:          "/api/displays",
		Summary:       "Create Display",
		Description:   "Preview scenes or sources on an offscreen surface",
		Tags:          []string{"displays"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 404, 409, 422, 503},
	}, func(_ context.Context, input *models.DisplayRequest) (*models.DisplayResponse, error) {
		b := input.Body
		scale := b.ScaleFactor
		if scale == 0 {
			scale = 1
		}
		surface := engine.NewHeadless()
		info, err := s.engine.CreateDisplay(b.Name, surface, scale, b.SourceIDs)
		if err != nil {
			return nil, mapEngineError(err)
		}
		s.mu.Lock()
		s.surfaces[b.Name] = surface
		s.mu.Unlock()
		return &models.DisplayResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "move-display",
		Method:      http.MethodPut,
		Path:        "/api/displays/{name}/geometry",
		Summary:     "Move Display",
		Description: "Reposition and resize a display. Its handle does not change.",
		Tags:        []string{"displays"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 422, 503},
	}, func(_ context.Context, input *models.DisplayMoveRequest) (*models.DisplayResponse, error) {
		b := input.Body
		info, err := s.engine.MoveDisplay(input.Name, b.X, b.Y, b.Width, b.Height)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.DisplayResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-display",
		Method:      http.MethodPut,
		Path:        "/api/displays/{name}/sources",
		Summary:     "Update Display Sources",
		Tags:        []string{"displays"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 422, 503},
	}, func(_ context.Context, input *models.DisplayUpdateRequest) (*models.DisplayResponse, error) {
		info, err := s.engine.UpdateDisplay(input.Name, input.Body.SourceIDs)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.DisplayResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-display",
		Method:        http.MethodDelete,
		Path:          "/api/displays/{name}",
		Summary:       "Destroy Display",
		Tags:          []string{"displays"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 503},
	}, func(_ context.Context, input *models.DisplayPath) (*struct{}, error) {
		if err := s.engine.DestroyDisplay(input.Name); err != nil {
			return nil, mapEngineError(err)
		}
		s.mu.Lock()
		delete(s.surfaces, input.Name)
		s.mu.Unlock()
		return nil, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "display-frame",
		Method:      http.MethodGet,
		Path:        "/api/displays/{name}/frame",
		Summary:     "Display Frame",
		Description: "PNG of the last picture presented to a display's offscreen surface",
		Tags:        []string{"displays"},
		Security:    withAuth(),
		Errors:      []int{401, 404},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "PNG image",
				Content:     map[string]*huma.MediaType{"image/png": {}},
			},
		},
	}, func(_ context.Context, input *models.DisplayPath) (*models.ImageResponse, error) {
		s.mu.Lock()
		surface, ok := s.surfaces[input.Name]
		s.mu.Unlock()
		if !ok {
			return nil, huma.Error404NotFound("no offscreen display named " + input.Name)
		}
		img, _ := surface.Latest()
		if img == nil {
			return nil, huma.Error404NotFound("display " + input.Name + " has not presented a frame yet")
		}
		data, err := render.EncodePNG(img)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to encode frame", err)
		}
		return &models.ImageResponse{ContentType: "image/png", Body: data}, nil
	})
}

// dropSurfaces forgets offscreen surfaces after the engine destroyed their
// displays.
func (s *Server) dropSurfaces() {
	s.mu.Lock()
	clear(s.surfaces)
	s.mu.Unlock()
}
