package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/compositor/internal/api/models"
)

func (s *Server) registerOutputRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-outputs",
		Method:      http.MethodGet,
		Path:        "/api/outputs",
		Summary:     "List Outputs",
		Tags:        []string{"outputs"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.OutputListResponse, error) {
		outputs, err := s.engine.ListOutputs()
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.OutputListResponse{Body: models.OutputListData{Outputs: outputs, Count: len(outputs)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-output",
		Method:        http.MethodPost,
		Path:          "/api/outputs",
		Summary:       "Add Output",
		Description:   "Start publishing. Connection failures show up in the output status, not here.",
		Tags:          []string{"outputs"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 404, 409, 422, 503},
	}, func(_ context.Context, input *models.OutputRequest) (*models.OutputResponse, error) {
		id := input.Body.ID
		if err := s.engine.AddOutput(id, input.Body.Settings()); err != nil {
			return nil, mapEngineError(err)
		}
		info, err := s.engine.GetOutput(id)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.OutputResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-output",
		Method:      http.MethodGet,
		Path:        "/api/outputs/{output_id}",
		Summary:     "Get Output",
		Tags:        []string{"outputs"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 503},
	}, func(_ context.Context, input *models.OutputPath) (*models.OutputResponse, error) {
		info, err := s.engine.GetOutput(input.OutputID)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.OutputResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-output",
		Method:      http.MethodPut,
		Path:        "/api/outputs/{output_id}",
		Summary:     "Update Output",
		Description: "Replace the output settings. Encoder changes take effect at the next keyframe.",
		Tags:        []string{"outputs"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 422, 503},
	}, func(_ context.Context, input *models.OutputUpdateRequest) (*models.OutputResponse, error) {
		if err := s.engine.UpdateOutput(input.OutputID, input.Body.Settings()); err != nil {
			return nil, mapEngineError(err)
		}
		info, err := s.engine.GetOutput(input.OutputID)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.OutputResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-output",
		Method:        http.MethodDelete,
		Path:          "/api/outputs/{output_id}",
		Summary:       "Remove Output",
		Tags:          []string{"outputs"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 503},
	}, func(_ context.Context, input *models.OutputPath) (*struct{}, error) {
		return nil, mapEngineError(s.engine.RemoveOutput(input.OutputID))
	})
}
