// Package openaiimg is the secondary generator, backed by the OpenAI images API.
package openaiimg

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/LincolnGameplays/emprataai/internal/generator"
	"github.com/LincolnGameplays/emprataai/internal/models"
)

type Client struct {
	client *openai.Client
	model  string
}

var _ generator.Generator = (*Client)(nil)

// NewClient builds the generator. baseURL is only set in tests; empty uses the
// public API.
func NewClient(apiKey, model, baseURL string, timeout time.Duration) *Client {
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = strings.TrimRight(baseURL, "/")
	}
	config.HTTPClient = &http.Client{Timeout: timeout}

	return &Client{
		client: openai.NewClientWithConfig(config),
		model:  model,
	}
}

func (c *Client) Name() string {
	return "openai"
}

func (c *Client) Generate(ctx context.Context, req generator.Request) (*models.Image, error) {
	resp, err := c.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         req.Prompt,
		Model:          c.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatB64JSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai image error: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return nil, fmt.Errorf("no image in openai response: %w", generator.ErrMalformedOutput)
	}

	data, err := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
	if err != nil {
		return nil, fmt.Errorf("decode image payload: %v: %w", err, generator.ErrMalformedOutput)
	}
	return &models.Image{Bytes: data, Mime: http.DetectContentType(data)}, nil
}
