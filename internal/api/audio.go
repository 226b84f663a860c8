package api

import (
	"context"
	"net/http"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/sse"

	"github.com/smazurov/compositor/internal/api/models"
	"github.com/smazurov/compositor/internal/engine"
)

func (s *Server) registerAudioRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "get-audio",
		Method:      http.MethodGet,
		Path:        "/api/audio",
		Summary:     "Get Audio Bus",
		Tags:        []string{"audio"},
		Security:    withAuth(),
		Errors:      []int{401, 503},
	}, func(_ context.Context, _ *struct{}) (*models.AudioResponse, error) {
		mix, err := s.engine.GetAudio()
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.AudioResponse{Body: mix}, nil
	})

	huma.Register(s.api, huma.Operation{
		OperationID: "update-audio",
		Method:      http.MethodPatch,
		Path:        "/api/audio",
		Summary:     "Update Audio Bus",
		Description: "Change master volume or mixing mode. Absent fields are kept.",
		Tags:        []string{"audio"},
		Security:    withAuth(),
		Errors:      []int{401, 422, 503},
	}, func(_ context.Context, input *models.AudioRequest) (*models.AudioResponse, error) {
		mix, err := s.engine.UpdateAudio(input.Body)
		if err != nil {
			return nil, mapEngineError(err)
		}
		return &models.AudioResponse{Body: mix}, nil
	})

	sse.Register(s.api, huma.Operation{
		OperationID: "volmeter-stream",
		Method:      http.MethodGet,
		Path:        "/api/volmeter",
		Summary:     "Volume Meter Stream",
		Description: "Per-source levels in dBFS. Each source is sent at most once per interval.",
		Tags:        []string{"audio"},
		Security:    withAuth(),
		Errors:      []int{401},
	}, map[string]any{
		"volmeter": engine.VolmeterSample{},
	}, func(ctx context.Context, input *struct {
		SceneID    string `query:"scene_id" doc:"Only sources of this scene"`
		IntervalMs int    `query:"interval_ms" default:"100" minimum:"0" doc:"Minimum gap between samples of one source"`
	}, send sse.Sender) {
		samples, cancel := s.engine.SubscribeVolmeter(64)
		defer cancel()

		interval := time.Duration(input.IntervalMs) * time.Millisecond
		last := make(map[string]time.Time)
		for {
			select {
			case <-ctx.Done():
				return
			case v := <-samples:
				if input.SceneID != "" && v.SceneID != input.SceneID {
					continue
				}
				key := v.SceneID + "/" + v.SourceID
				now := time.Now()
				if now.Sub(last[key]) < interval {
					continue
				}
				last[key] = now
				if err := send.Data(v); err != nil {
					return
				}
			}
		}
	})
}
