package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/compositor/internal/api/models"
	"github.com/smazurov/compositor/internal/settings"
)

func (s *Server) registerEngineRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-engine",
		Method:      http.MethodGet,
		Path:        "/api/engine",
		Summary:     "Engine State",
		Description: "Report whether the engine runs and with which settings",
		Tags:        []string{"engine"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, func(_ context.Context, _ *struct{}) (*models.EngineResponse, error) {
		resp := &models.EngineResponse{Body: models.EngineData{Running: s.engine.Running()}}
		if st, err := s.engine.Settings(); err == nil {
			resp.Body.Settings = &st
		}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "startup-engine",
		Method:        http.MethodPost,
		Path:          "/api/engine/startup",
		Summary:       "Start Engine",
		Description:   "Start composing with the given canvas and audio settings",
		Tags:          []string{"engine"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{401, 409, 422},
	}, func(ctx context.Context, input *models.StartupRequest) (*models.EngineResponse, error) {
		if err := s.engine.Startup(ctx, input.Body.Settings()); err != nil {
			return nil, mapEngineError(err)
		}
		st, err := s.engine.Settings()
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.EngineResponse{Body: models.EngineData{Running: true, Settings: &st}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "shutdown-engine",
		Method:        http.MethodPost,
		Path:          "/api/engine/shutdown",
		Summary:       "Stop Engine",
		Description:   "Stop all outputs, sources and displays. Stopping a stopped engine succeeds.",
		Tags:          []string{"engine"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401},
	}, func(ctx context.Context, _ *struct{}) (*struct{}, error) {
		if err := s.engine.Shutdown(ctx); err != nil {
			s.logger.Warn("Engine shutdown reported errors", "error", err)
		}
		s.dropSurfaces()
		return nil, nil
	})
}

func (s *Server) registerSceneRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-scenes",
		Method:      http.MethodGet,
		Path:        "/api/scenes",
		Summary:     "List Scenes",
		Tags:        []string{"scenes"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.SceneListResponse, error) {
		scenes, err := s.engine.ListScenes()
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.SceneListResponse{Body: models.SceneListData{Scenes: scenes, Count: len(scenes)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-scene",
		Method:        http.MethodPost,
		Path:          "/api/scenes",
		Summary:       "Create Scene",
		Tags:          []string{"scenes"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 409, 503},
	}, func(_ context.Context, input *models.SceneRequest) (*models.SceneResponse, error) {
		id, err := s.engine.AddScene(input.Body.ID)
		if err != nil {
			return nil, mapEngineError(err)
		}
		resp := &models.SceneResponse{}
		resp.Body.ID = id
		resp.Body.Sources = []string{}
		return resp, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-scene",
		Method:        http.MethodDelete,
		Path:          "/api/scenes/{scene_id}",
		Summary:       "Delete Scene",
		Description:   "Remove a scene with its sources and every output bound to it",
		Tags:          []string{"scenes"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 503},
	}, func(_ context.Context, input *models.ScenePath) (*struct{}, error) {
		return nil, mapEngineError(s.engine.RemoveScene(input.SceneID))
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "list-sources",
		Method:      http.MethodGet,
		Path:        "/api/scenes/{scene_id}/sources",
		Summary:     "List Sources",
		Tags:        []string{"sources"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 503},
	}, func(_ context.Context, input *models.ScenePath) (*models.SourceListResponse, error) {
		sources, err := s.engine.ListSources(input.SceneID)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.SourceListResponse{Body: models.SourceListData{Sources: sources, Count: len(sources)}}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "create-source",
		Method:        http.MethodPost,
		Path:          "/api/scenes/{scene_id}/sources",
		Summary:       "Add Source",
		Description:   "Open an input and add it on top of the scene",
		Tags:          []string{"sources"},
		Security:      withAuth(),
		DefaultStatus: http.StatusCreated,
		Errors:        []int{400, 401, 404, 409, 422, 503},
	}, func(_ context.Context, input *models.SourceRequest) (*models.SourceResponse, error) {
		info, err := s.engine.AddSource(input.SceneID, input.Body.ID, input.Body.Settings())
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.SourceResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-source",
		Method:      http.MethodGet,
		Path:        "/api/scenes/{scene_id}/sources/{source_id}",
		Summary:     "Get Source",
		Tags:        []string{"sources"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 503},
	}, func(_ context.Context, input *models.SourcePath) (*models.SourceResponse, error) {
		info, err := s.engine.GetSource(input.SceneID, input.SourceID)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.SourceResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-source",
		Method:      http.MethodPatch,
		Path:        "/api/scenes/{scene_id}/sources/{source_id}",
		Summary:     "Update Source",
		Description: "Change only the fields present in the body. A new URL reopens the input.",
		Tags:        []string{"sources"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 422, 503},
	}, func(_ context.Context, input *models.SourcePatchRequest) (*models.SourceResponse, error) {
		info, err := s.engine.UpdateSource(input.SceneID, input.SourceID, input.Body)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.SourceResponse{Body: info}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "restart-source",
		Method:        http.MethodPost,
		Path:          "/api/scenes/{scene_id}/sources/{source_id}/restart",
		Summary:       "Restart Source",
		Tags:          []string{"sources"},
		Security:      withAuth(),
		DefaultStatus: http.StatusAccepted,
		Errors:        []int{401, 404, 503},
	}, func(_ context.Context, input *models.SourcePath) (*struct{}, error) {
		return nil, mapEngineError(s.engine.RestartSource(input.SceneID, input.SourceID))
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "delete-source",
		Method:        http.MethodDelete,
		Path:          "/api/scenes/{scene_id}/sources/{source_id}",
		Summary:       "Remove Source",
		Tags:          []string{"sources"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 503},
	}, func(_ context.Context, input *models.SourcePath) (*struct{}, error) {
		return nil, mapEngineError(s.engine.RemoveSource(input.SceneID, input.SourceID))
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "get-program",
		Method:      http.MethodGet,
		Path:        "/api/program",
		Summary:     "Program State",
		Description: "Active scene, transition in progress and pending scheduled switches",
		Tags:        []string{"program"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.ProgramResponse, error) {
		p, err := s.engine.Program()
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.ProgramResponse{Body: p}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "switch-scene",
		Method:      http.MethodPost,
		Path:        "/api/switch",
		Summary:     "Switch Scene",
		Description: "Put a scene on program now, or at a time up to two seconds ahead",
		Tags:        []string{"program"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 404, 422, 503},
	}, func(_ context.Context, input *models.SwitchRequest) (*models.ProgramResponse, error) {
		b := input.Body
		kind, err := settings.ParseTransition(b.Transition)
		if err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error(), err)
		}
		if b.At != nil {
			err = s.engine.ScheduleSwitch(b.SceneID, kind, b.DurationMs, *b.At)
		} else {
			err = s.engine.SwitchToScene(b.SceneID, kind, b.DurationMs)
		}
		if err != nil {
			return nil, mapEngineError(err)
		}
		p, err := s.engine.Program()
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.ProgramResponse{Body: p}, nil
	})
}
