package api

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/smazurov/compositor/internal/api/models"
	"github.com/smazurov/compositor/internal/encoders"
)

func (s *Server) registerEncoderRoutes() {
	huma.Register(s.api, huma.Operation{
		OperationID: "list-encoders",
		Method:      http.MethodGet,
		Path:        "/api/encoders",
		Summary:     "List Encoders",
		Description: "H.264 encoders ffmpeg offers and the one each output mode would use",
		Tags:        []string{"encoders"},
		Security:    withAuth(),
		Errors:      []int{401, 500},
	}, func(ctx context.Context, input *struct {
		Hardware bool   `query:"hwaccel" doc:"Only hardware-accelerated encoders"`
		Search   string `query:"search" doc:"Match name or description"`
	}) (*models.EncodersResponse, error) {
		list, err := s.options.Encoders.Encoders(ctx)
		if err != nil {
			return nil, huma.Error500InternalServerError("failed to list ffmpeg encoders", err)
		}
		if list == nil {
			list = &encoders.EncoderList{}
		}
		filtered := encoders.FilterEncoders(list, encoders.EncoderFilter{
			Type:    string(encoders.VideoEncoder),
			Search:  input.Search,
			Hwaccel: input.Hardware,
		})
		return &models.EncodersResponse{
			Body: models.EncoderData{
				VideoEncoders: filtered.VideoEncoders,
				Software:      encoders.Software,
				Hardware:      s.options.Encoders.Select(ctx, true),
			},
		}, nil
	})
}
