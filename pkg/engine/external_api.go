package engine

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"time"

	"github.com/formy-ai/formy/pkg/errors"
	"github.com/go-resty/resty/v2"
)

// ExternalAPIConfig configures a plain request/response HTTP engine.
type ExternalAPIConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// ExternalAPIEngine posts inputs as one JSON request and reads the result
// back synchronously. Used for self-hosted single-shot model servers.
type ExternalAPIEngine struct {
	name   string
	config ExternalAPIConfig
	client *resty.Client
}

type externalAPIResponse struct {
	OutputImage     string                 `json:"output_image"`
	ComparisonImage string                 `json:"comparison_image,omitempty"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
	Error           string                 `json:"error,omitempty"`
}

// NewExternalAPIEngine creates an engine instance from its config block.
func NewExternalAPIEngine(name string, config ExternalAPIConfig) (*ExternalAPIEngine, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("engine %s: base_url is required", name)
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 300
	}
	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(time.Duration(config.TimeoutSeconds) * time.Second)
	if config.APIKey != "" {
		client.SetAuthToken(config.APIKey)
	}
	return &ExternalAPIEngine{name: name, config: config, client: client}, nil
}

func (e *ExternalAPIEngine) Name() string { return e.name }

func (e *ExternalAPIEngine) Type() string { return "external_api" }

func (e *ExternalAPIEngine) Execute(ctx context.Context, in *Input) (*Output, error) {
	images := make(map[string]string, len(in.Images))
	for name, data := range in.Images {
		images[name] = base64.StdEncoding.EncodeToString(data)
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{
			"task_id": in.TaskID,
			"images":  images,
			"params":  in.Params,
		}).
		Post("/execute")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEngineUnavailable, "execute request failed")
	}
	if resp.StatusCode() >= 500 {
		return nil, errors.NewError().WithKind(errors.KindEngineUnavailable).
			WithMessagef("engine returned HTTP %d", resp.StatusCode())
	}

	var out externalAPIResponse
	if err := json.Unmarshal(resp.Body(), &out); err != nil {
		return nil, errors.Wrap(err, errors.KindEngineFailed, "execute response malformed")
	}
	if out.Error != "" {
		return nil, errors.NewError().WithKind(errors.KindEngineFailed).WithMessage(out.Error)
	}
	if out.OutputImage == "" {
		return nil, errors.NewError().WithKind(errors.KindResultNotFound).
			WithMessage("engine response missing output image")
	}

	result := map[string]string{RoleOutput: out.OutputImage}
	if out.ComparisonImage != "" {
		result[RoleComparison] = out.ComparisonImage
	}
	return &Output{Images: result, Metadata: out.Metadata}, nil
}

func (e *ExternalAPIEngine) HealthCheck(ctx context.Context) error {
	resp, err := e.client.R().SetContext(ctx).Get("/health")
	if err != nil {
		return errors.Wrap(err, errors.KindEngineUnavailable, "engine unreachable")
	}
	if resp.StatusCode() >= 500 {
		return errors.NewError().WithKind(errors.KindEngineUnavailable).
			WithMessagef("engine returned HTTP %d", resp.StatusCode())
	}
	return nil
}
