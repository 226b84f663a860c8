package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/compositor/internal/layout"
)

type layoutResponse struct {
	Body layout.Layout
}

func (s *Server) registerLayoutRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-layout",
		Method:      http.MethodGet,
		Path:        "/api/layout",
		Summary:     "Current Layout",
		Description: "Scenes, sources, outputs, overlays and audio as they are in the engine now",
		Tags:        []string{"layout"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*layoutResponse, error) {
		l, err := layout.Snapshot(s.engine)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &layoutResponse{Body: l}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "apply-layout",
		Method:      http.MethodPut,
		Path:        "/api/layout",
		Summary:     "Apply Layout",
		Description: "Reconcile the engine with a TOML layout. Entries that fail are reported; the rest is applied.",
		Tags:        []string{"layout"},
		Security:    withAuth(),
		Errors:      []int{400, 401, 422, 503},
	}, func(ctx context.Context, input *struct {
		RawBody []byte `contentType:"application/toml"`
	}) (*layoutResponse, error) {
		l, err := layout.Parse(input.RawBody)
		if err != nil {
			return nil, huma.Error400BadRequest(err.Error(), err)
		}
		if err := l.Validate(); err != nil {
			return nil, huma.Error422UnprocessableEntity(err.Error(), err)
		}
		if !s.engine.Running() {
			return nil, huma.Error503ServiceUnavailable("engine not started")
		}
		if err := layout.Apply(ctx, s.engine, l, s.logger); err != nil {
			return nil, huma.Error422UnprocessableEntity("layout partially applied: "+err.Error(), err)
		}
		current, err := layout.Snapshot(s.engine)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &layoutResponse{Body: current}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID:   "save-layout",
		Method:        http.MethodPost,
		Path:          "/api/layout/save",
		Summary:       "Save Layout",
		Description:   "Write the current arrangement to the layout file",
		Tags:          []string{"layout"},
		Security:      withAuth(),
		DefaultStatus: http.StatusNoContent,
		Errors:        []int{401, 404, 500, 503},
	}, func(_ context.Context, _ *struct{}) (*struct{}, error) {
		if s.options.Layout == nil {
			return nil, huma.Error404NotFound("no layout file configured")
		}
		l, err := layout.Snapshot(s.engine)
		if err != nil {
			return nil, mapEngineError(err)
		}
		if err := s.options.Layout.Set(l); err != nil {
			return nil, huma.Error500InternalServerError("failed to save layout", err)
		}
		s.logger.Info("Layout saved", "path", s.options.Layout.Path())
		return nil, nil
	})
}
