package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/compositor/internal/api/models"
)

func (s *Server) registerCaptureRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "screenshot",
		Method:      http.MethodGet,
		Path:        "/api/screenshot/{scene_id}/{source_id}",
		Summary:     "Screenshot",
		Description: "PNG of the next composed picture of a source",
		Tags:        []string{"capture"},
		Security:    withAuth(),
		Errors:      []int{401, 404, 503},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "PNG image",
				Content:     map[string]*huma.MediaType{"image/png": {}},
			},
		},
	}, func(ctx context.Context, input *struct {
		SceneID   string `path:"scene_id" example:"main" doc:"Scene identifier"`
		SourceID  string `path:"source_id" example:"cam1" doc:"Source identifier"`
		TimeoutMs int    `query:"timeout_ms" default:"5000" minimum:"1" doc:"How long to wait for a picture"`
	}) (*models.ImageResponse, error) {
		ctx, cancel := context.WithTimeout(ctx, time.Duration(input.TimeoutMs)*time.Millisecond)
		defer cancel()

		data, err := s.engine.Screenshot(ctx, input.SceneID, input.SourceID)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.ImageResponse{ContentType: "image/png", Body: data}, nil
	})
}
