package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/go-resty/resty/v2"
)

// Provider status codes returned by the outputs endpoint.
const (
	rhCodeOK      = 0
	rhCodeRunning = 804
	rhCodeFailed  = 805
	rhCodeQueued  = 813
)

// rhEnvelope is the provider's response envelope. code=0 means success.
type rhEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

type rhUploadData struct {
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

type rhCreateData struct {
	TaskID json.Number `json:"taskId"`
}

type rhOutputFile struct {
	FileURL      string `json:"fileUrl"`
	FileType     string `json:"fileType"`
	NodeID       string `json:"nodeId"`
	FailedReason string `json:"failedReason,omitempty"`
}

// NodeInfo is one entry of the workflow override list sent on create.
type NodeInfo struct {
	NodeID     string `json:"nodeId"`
	FieldName  string `json:"fieldName"`
	FieldValue string `json:"fieldValue"`
}

// RunningHubConfig configures one engine instance.
type RunningHubConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	WorkflowID string `yaml:"workflow_id"`
	// NodeInputs maps logical input names (source, reference) to workflow
	// node ids receiving the uploaded file name.
	NodeInputs map[string]string `yaml:"node_inputs"`
	// OutputNodes maps result roles (output, comparison) to node ids,
	// used to classify returned files.
	OutputNodes map[string]string `yaml:"output_nodes"`

	PollIntervalSeconds int `yaml:"poll_interval_seconds"`
	TimeoutSeconds      int `yaml:"timeout_seconds"`

	pollInterval time.Duration
	timeout      time.Duration
}

func (c *RunningHubConfig) applyDefaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://www.runninghub.ai"
	}
	if c.PollIntervalSeconds <= 0 {
		c.PollIntervalSeconds = 3
	}
	if c.TimeoutSeconds <= 0 {
		c.TimeoutSeconds = 300
	}
	c.pollInterval = time.Duration(c.PollIntervalSeconds) * time.Second
	c.timeout = time.Duration(c.TimeoutSeconds) * time.Second
}

// RunningHubEngine drives the hosted workflow provider: upload inputs,
// create a run with node overrides, poll outputs until terminal.
type RunningHubEngine struct {
	name   string
	config RunningHubConfig
	client *resty.Client

	uploadRetrier *Retrier
	submitRetrier *Retrier
}

// NewRunningHubEngine creates an engine instance from its config block.
func NewRunningHubEngine(name string, config RunningHubConfig) (*RunningHubEngine, error) {
	config.applyDefaults()
	if config.APIKey == "" {
		return nil, fmt.Errorf("engine %s: api_key is required", name)
	}
	if config.WorkflowID == "" {
		return nil, fmt.Errorf("engine %s: workflow_id is required", name)
	}

	client := resty.New().
		SetBaseURL(config.BaseURL).
		SetTimeout(60 * time.Second).
		SetHeader("User-Agent", "formy/1.0")

	return &RunningHubEngine{
		name:   name,
		config: config,
		client: client,
		// The provider's upload endpoint drops connections under load. An
		// explicit rejection is terminal and not retried.
		uploadRetrier: NewRetrier(&RetryConfig{
			MaxAttempts:  3,
			InitialDelay: 5 * time.Second,
			MaxDelay:     5 * time.Second,
			Multiplier:   1.0,
			Retryable:    retryUnlessRejected,
		}),
		// Create is slower still, so it gets more attempts.
		submitRetrier: NewRetrier(&RetryConfig{
			MaxAttempts:  5,
			InitialDelay: 5 * time.Second,
			MaxDelay:     15 * time.Second,
			Multiplier:   1.5,
			Retryable:    retryUnlessRejected,
		}),
	}, nil
}

// retryUnlessRejected retries transport failures but treats a non-zero
// provider code as terminal.
func retryUnlessRejected(err error) bool {
	return !errors.IsKind(err, errors.KindEngineFailed)
}

func (e *RunningHubEngine) Name() string { return e.name }

func (e *RunningHubEngine) Type() string { return "runninghub" }

// Upload pushes image bytes and returns the provider's file handle.
func (e *RunningHubEngine) Upload(ctx context.Context, fileName string, data []byte) (string, error) {
	return DoWithResult(ctx, e.uploadRetrier, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 0 {
			log.Warnf("engine %s: retrying upload of %s, attempt %d", e.name, fileName, attempt+1)
		}
		resp, err := e.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{"apiKey": e.config.APIKey}).
			SetFileReader("file", fileName, bytes.NewReader(data)).
			Post("/task/openapi/upload")
		if err != nil {
			return "", errors.Wrap(err, errors.KindEngineUnavailable, "upload request failed")
		}

		var env rhEnvelope
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return "", errors.Wrap(err, errors.KindEngineUnavailable, "upload response malformed")
		}
		if env.Code != rhCodeOK {
			return "", errors.NewError().WithKind(errors.KindEngineFailed).
				WithMessagef("upload rejected: code=%d msg=%s", env.Code, env.Msg)
		}
		var data rhUploadData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.FileName == "" {
			return "", errors.NewError().WithKind(errors.KindEngineFailed).
				WithMessage("upload response missing fileName")
		}
		return data.FileName, nil
	})
}

// Submit creates a workflow run and returns the provider task handle.
func (e *RunningHubEngine) Submit(ctx context.Context, nodeInfoList []NodeInfo) (string, error) {
	return DoWithResult(ctx, e.submitRetrier, func(ctx context.Context, attempt int) (string, error) {
		if attempt > 0 {
			log.Warnf("engine %s: retrying workflow create, attempt %d", e.name, attempt+1)
		}
		resp, err := e.client.R().
			SetContext(ctx).
			SetHeader("Content-Type", "application/json").
			SetBody(map[string]interface{}{
				"apiKey":       e.config.APIKey,
				"workflowId":   e.config.WorkflowID,
				"nodeInfoList": nodeInfoList,
			}).
			Post("/task/openapi/create")
		if err != nil {
			return "", errors.Wrap(err, errors.KindEngineUnavailable, "create request failed")
		}

		var env rhEnvelope
		if err := json.Unmarshal(resp.Body(), &env); err != nil {
			return "", errors.Wrap(err, errors.KindEngineUnavailable, "create response malformed")
		}
		if env.Code != rhCodeOK {
			return "", errors.NewError().WithKind(errors.KindEngineFailed).
				WithMessagef("create rejected: code=%d msg=%s", env.Code, env.Msg)
		}
		var data rhCreateData
		if err := json.Unmarshal(env.Data, &data); err != nil || data.TaskID.String() == "" {
			return "", errors.NewError().WithKind(errors.KindEngineFailed).
				WithMessage("create response missing taskId")
		}
		return data.TaskID.String(), nil
	})
}

// pollOnce queries the outputs endpoint. done=false means still in flight.
func (e *RunningHubEngine) pollOnce(ctx context.Context, taskHandle string) (files []rhOutputFile, done bool, err error) {
	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{
			"apiKey": e.config.APIKey,
			"taskId": taskHandle,
		}).
		Post("/task/openapi/outputs")
	if err != nil {
		// Transient transport errors are treated as in flight and retried
		// on the next tick; the deadline bounds the total wait.
		log.WithError(err).Warnf("engine %s: poll failed for %s", e.name, taskHandle)
		return nil, false, nil
	}

	var env rhEnvelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return nil, false, nil
	}

	switch env.Code {
	case rhCodeOK:
		if err := json.Unmarshal(env.Data, &files); err != nil {
			return nil, false, errors.Wrap(err, errors.KindEngineFailed, "outputs payload malformed")
		}
		return files, true, nil
	case rhCodeRunning, rhCodeQueued:
		return nil, false, nil
	case rhCodeFailed:
		reason := env.Msg
		var failed []rhOutputFile
		if json.Unmarshal(env.Data, &failed) == nil {
			for _, f := range failed {
				if f.FailedReason != "" {
					reason = fmt.Sprintf("node %s: %s", f.NodeID, f.FailedReason)
					break
				}
			}
		}
		return nil, false, errors.NewError().WithKind(errors.KindEngineFailed).
			WithMessagef("workflow failed: %s", reason)
	default:
		// Unknown codes are retried until the deadline.
		log.Warnf("engine %s: unknown poll code %d for %s", e.name, env.Code, taskHandle)
		return nil, false, nil
	}
}

// Poll waits for the run to finish, bounded by the configured deadline.
func (e *RunningHubEngine) Poll(ctx context.Context, taskHandle string) ([]rhOutputFile, error) {
	start := time.Now()
	deadline := start.Add(e.config.timeout)
	for {
		files, done, err := e.pollOnce(ctx, taskHandle)
		if err != nil {
			return nil, err
		}
		if done {
			return files, nil
		}
		if time.Now().After(deadline) {
			return nil, errors.NewError().WithKind(errors.KindEngineTimeout).
				WithMessagef("workflow did not finish within %.0fs", time.Since(start).Seconds()).
				WithDetail("elapsed_seconds", int(time.Since(start).Seconds()))
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.config.pollInterval):
		}
	}
}

// classify assigns result roles to returned files by node id, falling back
// to positional order when no node id matches.
func (e *RunningHubEngine) classify(files []rhOutputFile) map[string]string {
	images := map[string]string{}
	for _, f := range files {
		for role, nodeID := range e.config.OutputNodes {
			if f.NodeID == nodeID && images[role] == "" {
				images[role] = f.FileURL
			}
		}
	}
	if len(images) == 0 {
		if len(files) > 0 {
			images[RoleOutput] = files[0].FileURL
		}
		if len(files) > 1 {
			images[RoleComparison] = files[1].FileURL
		}
	}
	return images
}

// Execute composes upload, submit and poll into one synchronous run.
func (e *RunningHubEngine) Execute(ctx context.Context, in *Input) (*Output, error) {
	nodeInfoList := make([]NodeInfo, 0, len(in.Images))
	for inputName, data := range in.Images {
		nodeID, ok := e.config.NodeInputs[inputName]
		if !ok {
			continue
		}
		handle, err := e.Upload(ctx, in.TaskID+"_"+inputName+".png", data)
		if err != nil {
			return nil, err
		}
		nodeInfoList = append(nodeInfoList, NodeInfo{
			NodeID:     nodeID,
			FieldName:  "image",
			FieldValue: handle,
		})
	}
	if len(nodeInfoList) == 0 {
		return nil, errors.NewError().WithKind(errors.KindPipelineError).
			WithMessagef("engine %s has no node mapping for inputs", e.name)
	}

	taskHandle, err := e.Submit(ctx, nodeInfoList)
	if err != nil {
		return nil, err
	}
	log.Infof("engine %s: submitted workflow %s as provider task %s", e.name, e.config.WorkflowID, taskHandle)

	files, err := e.Poll(ctx, taskHandle)
	if err != nil {
		return nil, err
	}

	images := e.classify(files)
	if images[RoleOutput] == "" {
		return nil, errors.NewError().WithKind(errors.KindResultNotFound).
			WithMessage("workflow finished without an output image")
	}

	raw := make([]map[string]string, 0, len(files))
	for _, f := range files {
		raw = append(raw, map[string]string{
			"fileUrl":  f.FileURL,
			"fileType": f.FileType,
			"nodeId":   f.NodeID,
		})
	}
	return &Output{
		Images: images,
		Metadata: map[string]interface{}{
			"provider_task_id": taskHandle,
			"workflow_id":      e.config.WorkflowID,
			"raw_outputs":      raw,
		},
	}, nil
}

// HealthCheck probes the provider with a throwaway outputs query.
func (e *RunningHubEngine) HealthCheck(ctx context.Context) error {
	resp, err := e.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"apiKey": e.config.APIKey, "taskId": "0"}).
		Post("/task/openapi/outputs")
	if err != nil {
		return errors.Wrap(err, errors.KindEngineUnavailable, "provider unreachable")
	}
	if resp.StatusCode() >= 500 {
		return errors.NewError().WithKind(errors.KindEngineUnavailable).
			WithMessagef("provider returned HTTP %d", resp.StatusCode())
	}
	return nil
}
