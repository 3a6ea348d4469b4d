package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/formy-ai/formy/pkg/errors"
	"github.com/go-resty/resty/v2"
)

// ComfyUIConfig configures a self-hosted ComfyUI instance.
type ComfyUIConfig struct {
	BaseURL string `yaml:"base_url"`
	// WorkflowJSON is the prompt graph; __IMAGE_<name>__ placeholders are
	// replaced with uploaded file names before submission.
	WorkflowJSON string `yaml:"workflow_json"`
	// OutputNodes maps result roles to graph node ids.
	OutputNodes map[string]string `yaml:"output_nodes"`

	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	TimeoutSeconds      int `yaml:"timeout_seconds"`

	pollInterval time.Duration
	timeout      time.Duration
}

// ComfyUIEngine drives a ComfyUI server: upload inputs, queue the prompt
// graph, poll history until the run shows up with outputs.
type ComfyUIEngine struct {
	name   string
	config ComfyUIConfig
	client *resty.Client
}

// NewComfyUIEngine creates an engine instance from its config block.
func NewComfyUIEngine(name string, config ComfyUIConfig) (*ComfyUIEngine, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("engine %s: base_url is required", name)
	}
	if config.WorkflowJSON == "" {
		return nil, fmt.Errorf("engine %s: workflow_json is required", name)
	}
	if config.PollIntervalSeconds <= 0 {
		config.PollIntervalSeconds = 3
	}
	if config.TimeoutSeconds <= 0 {
		config.TimeoutSeconds = 300
	}
	config.pollInterval = time.Duration(config.PollIntervalSeconds) * time.Second
	config.timeout = time.Duration(config.TimeoutSeconds) * time.Second
	return &ComfyUIEngine{
		name:   name,
		config: config,
		client: resty.New().SetBaseURL(config.BaseURL).SetTimeout(60 * time.Second),
	}, nil
}

func (e *ComfyUIEngine) Name() string { return e.name }

func (e *ComfyUIEngine) Type() string { return "comfyui" }

func (e *ComfyUIEngine) uploadImage(ctx context.Context, name string, data []byte) (string, error) {
	resp, err := e.client.R().
		SetContext(ctx).
		SetFileReader("image", name, bytes.NewReader(data)).
		Post("/upload/image")
	if err != nil {
		return "", errors.Wrap(err, errors.KindEngineUnavailable, "image upload failed")
	}
	var out struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(resp.Body(), &out); err != nil || out.Name == "" {
		return "", errors.NewError().WithKind(errors.KindEngineFailed).
			WithMessage("upload response missing file name")
	}
	return out.Name, nil
}

func (e *ComfyUIEngine) Execute(ctx context.Context, in *Input) (*Output, error) {
	workflow := e.config.WorkflowJSON
	for name, data := range in.Images {
		uploaded, err := e.uploadImage(ctx, in.TaskID+"_"+name+".png", data)
		if err != nil {
			return nil, err
		}
		workflow = strings.ReplaceAll(workflow, "__IMAGE_"+strings.ToUpper(name)+"__", uploaded)
	}

	var graph map[string]interface{}
	if err := json.Unmarshal([]byte(workflow), &graph); err != nil {
		return nil, errors.Wrap(err, errors.KindPipelineError, "workflow graph malformed")
	}

	resp, err := e.client.R().
		SetContext(ctx).
		SetBody(map[string]interface{}{"prompt": graph}).
		Post("/prompt")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEngineUnavailable, "prompt submit failed")
	}
	var queued struct {
		PromptID string `json:"prompt_id"`
	}
	if err := json.Unmarshal(resp.Body(), &queued); err != nil || queued.PromptID == "" {
		return nil, errors.NewError().WithKind(errors.KindEngineFailed).
			WithMessage("prompt response missing prompt_id")
	}

	images, err := e.pollHistory(ctx, queued.PromptID)
	if err != nil {
		return nil, err
	}
	if images[RoleOutput] == "" {
		return nil, errors.NewError().WithKind(errors.KindResultNotFound).
			WithMessage("workflow finished without an output image")
	}
	return &Output{
		Images:   images,
		Metadata: map[string]interface{}{"prompt_id": queued.PromptID},
	}, nil
}

func (e *ComfyUIEngine) pollHistory(ctx context.Context, promptID string) (map[string]string, error) {
	start := time.Now()
	deadline := start.Add(e.config.timeout)
	for {
		resp, err := e.client.R().SetContext(ctx).Get("/history/" + promptID)
		if err == nil {
			var history map[string]struct {
				Outputs map[string]struct {
					Images []struct {
						Filename  string `json:"filename"`
						Subfolder string `json:"subfolder"`
						Type      string `json:"type"`
					} `json:"images"`
				} `json:"outputs"`
			}
			if json.Unmarshal(resp.Body(), &history) == nil {
				if entry, ok := history[promptID]; ok && len(entry.Outputs) > 0 {
					images := map[string]string{}
					for nodeID, node := range entry.Outputs {
						if len(node.Images) == 0 {
							continue
						}
						img := node.Images[0]
						url := fmt.Sprintf("%s/view?filename=%s&subfolder=%s&type=%s",
							strings.TrimRight(e.config.BaseURL, "/"), img.Filename, img.Subfolder, img.Type)
						role := ""
						for r, id := range e.config.OutputNodes {
							if id == nodeID {
								role = r
								break
							}
						}
						if role == "" && images[RoleOutput] == "" {
							role = RoleOutput
						}
						if role != "" && images[role] == "" {
							images[role] = url
						}
					}
					return images, nil
				}
			}
		}
		if time.Now().After(deadline) {
			return nil, errors.NewError().WithKind(errors.KindEngineTimeout).
				WithMessagef("workflow did not finish within %.0fs", time.Since(start).Seconds())
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.config.pollInterval):
		}
	}
}

func (e *ComfyUIEngine) HealthCheck(ctx context.Context) error {
	resp, err := e.client.R().SetContext(ctx).Get("/system_stats")
	if err != nil {
		return errors.Wrap(err, errors.KindEngineUnavailable, "server unreachable")
	}
	if resp.StatusCode() >= 500 {
		return errors.NewError().WithKind(errors.KindEngineUnavailable).
			WithMessagef("server returned HTTP %d", resp.StatusCode())
	}
	return nil
}
