package dto

import (
	"time"

	"github.com/imagify/imagify/internal/model"
)

// GenerateImageRequest is the body of POST /api/v1/images.
type GenerateImageRequest struct {
	Prompt string `json:"prompt" validate:"required"`
}

// ImageResponse represents an asset in API responses.
type ImageResponse struct {
	ID         string    `json:"id"`
	Prompt     string    `json:"prompt"`
	ContentURL string    `json:"content_url"`
	CreatedAt  time.Time `json:"created_at"`
}

// GenerateImageResponse is the body of a successful generation.
type GenerateImageResponse struct {
	Image   ImageResponse `json:"image"`
	Balance *int64        `json:"balance,omitempty"`
}

// ImageListResponse is a page of images.
type ImageListResponse struct {
	Data       []ImageResponse `json:"data"`
	Pagination PagePagination  `json:"pagination"`
}

// PagePagination provides page-number pagination info.
type PagePagination struct {
	Page    int  `json:"page"`
	Limit   int  `json:"limit"`
	Total   int  `json:"total"`
	HasMore bool `json:"has_more"`
}

// ToImageResponse converts an Asset model.
func ToImageResponse(a *model.Asset) ImageResponse {
	return ImageResponse{
		ID:         a.ID,
		Prompt:     a.Prompt,
		ContentURL: "/api/v1/images/" + a.ID + "/content",
		CreatedAt:  a.CreatedAt,
	}
}

// ToImageListResponse converts one page of assets.
func ToImageListResponse(assets []*model.Asset, page, limit, total int) *ImageListResponse {
	data := make([]ImageResponse, len(assets))
	for i, a := range assets {
		data[i] = ToImageResponse(a)
	}
	return &ImageListResponse{
		Data: data,
		Pagination: PagePagination{
			Page:    page,
			Limit:   limit,
			Total:   total,
			HasMore: page*limit < total,
		},
	}
}
