package pipeline

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/formy-ai/formy/pkg/engine"
	"github.com/formy-ai/formy/pkg/errors"
	"github.com/formy-ai/formy/pkg/logger/log"
	"github.com/formy-ai/formy/pkg/model"
	"github.com/formy-ai/formy/pkg/storage"
	"github.com/go-resty/resty/v2"
)

// ProgressFunc receives milestone updates while a pipeline runs.
type ProgressFunc func(progress int, step string)

// Pipeline executes one edit mode end to end.
type Pipeline interface {
	// Mode returns the edit mode this pipeline serves
	Mode() model.EditMode

	// Run validates, executes and persists one task, returning the result
	// record to store on the task row
	Run(ctx context.Context, task *model.Task, progress ProgressFunc) (*model.TaskResult, error)
}

// modeSpec captures everything that differs between the three pipelines:
// which config aliases name the reference image, whether the reference is
// optional, and the input keys the engine expects.
type modeSpec struct {
	mode         model.EditMode
	pipelineName string
	stepName     string

	// refAliases are checked in order; first present wins
	refAliases []string
	// refOptional reports whether the config makes the reference image
	// unnecessary, e.g. preset backgrounds
	refOptional func(config map[string]interface{}) bool

	sourceKey string
	refKey    string
}

var modeSpecs = map[model.EditMode]modeSpec{
	model.ModeHeadSwap: {
		mode:         model.ModeHeadSwap,
		pipelineName: "head_swap",
		stepName:     "generate",
		refAliases:   []string{"reference_image", "target_face_image", "cloth_image"},
		sourceKey:    "head_image",
		refKey:       "cloth_image",
	},
	model.ModeBackgroundChange: {
		mode:         model.ModeBackgroundChange,
		pipelineName: "background_change",
		stepName:     "generate",
		refAliases:   []string{"background_image", "bg_image"},
		refOptional: func(config map[string]interface{}) bool {
			t, _ := config["background_type"].(string)
			return t == "preset" || t == "remove"
		},
		sourceKey: "model_image",
		refKey:    "bg_image",
	},
	model.ModePoseChange: {
		mode:         model.ModePoseChange,
		pipelineName: "pose_change",
		stepName:     "generate",
		refAliases:   []string{"pose_reference", "pose_image", "reference_image"},
		sourceKey:    "raw_image",
		refKey:       "pose_image",
	},
}

// editPipeline is the shared skeleton behind all three modes.
type editPipeline struct {
	spec     modeSpec
	registry *engine.Registry
	store    storage.ObjectStore
	client   *resty.Client
}

// Factory builds pipelines bound to the registry and object store.
type Factory struct {
	registry *engine.Registry
	store    storage.ObjectStore
	client   *resty.Client
}

// NewFactory creates the pipeline factory.
func NewFactory(registry *engine.Registry, store storage.ObjectStore) *Factory {
	return &Factory{
		registry: registry,
		store:    store,
		client:   resty.New().SetTimeout(60 * time.Second),
	}
}

// For returns the pipeline serving a mode.
func (f *Factory) For(mode model.EditMode) (Pipeline, error) {
	spec, ok := modeSpecs[mode]
	if !ok {
		return nil, errors.NewError().WithKind(errors.KindInvalidMode).
			WithMessagef("no pipeline for mode %q", mode)
	}
	return &editPipeline{
		spec:     spec,
		registry: f.registry,
		store:    f.store,
		client:   f.client,
	}, nil
}

func (p *editPipeline) Mode() model.EditMode {
	return p.spec.mode
}

// ResolveReference collapses a mode's reference aliases into one config
// value, checked in alias order. Empty when none is present or the mode is
// unknown.
func ResolveReference(mode model.EditMode, config map[string]interface{}) string {
	spec, ok := modeSpecs[mode]
	if !ok {
		return ""
	}
	for _, alias := range spec.refAliases {
		if v, ok := config[alias].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func (p *editPipeline) resolveReference(config map[string]interface{}) string {
	return ResolveReference(p.spec.mode, config)
}

// loadImage fetches image bytes from our object store or an absolute URL.
func (p *editPipeline) loadImage(ctx context.Context, ref string) ([]byte, error) {
	ref = strings.TrimPrefix(ref, "/files/")
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		resp, err := p.client.R().SetContext(ctx).Get(ref)
		if err != nil {
			return nil, errors.Wrap(err, errors.KindImageLoadFailed, "image download failed")
		}
		if resp.StatusCode() != 200 {
			return nil, errors.NewError().WithKind(errors.KindImageLoadFailed).
				WithMessagef("image download returned HTTP %d", resp.StatusCode())
		}
		return resp.Body(), nil
	}
	data, err := p.store.Load(ctx, ref)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindImageLoadFailed, "image not readable")
	}
	return data, nil
}

// stringParams flattens non-image config entries for the engine.
func stringParams(config map[string]interface{}) map[string]string {
	params := map[string]string{}
	for k, v := range config {
		switch val := v.(type) {
		case string:
			params[k] = val
		case bool:
			params[k] = fmt.Sprintf("%t", val)
		case float64:
			params[k] = strings.TrimRight(strings.TrimRight(fmt.Sprintf("%f", val), "0"), ".")
		case int:
			params[k] = fmt.Sprintf("%d", val)
		}
	}
	return params
}

// Run drives one task through validate, load, execute and persist. Progress
// milestones: 10 after validation, 30 entering the engine, 80 when saving,
// 100 on the assembled result.
func (p *editPipeline) Run(ctx context.Context, task *model.Task, progress ProgressFunc) (*model.TaskResult, error) {
	if progress == nil {
		progress = func(int, string) {}
	}
	config := task.ConfigMap()

	if task.SourceImage == "" {
		return nil, errors.NewError().WithKind(errors.KindInvalidSourceImage).
			WithMessage("source image is required")
	}
	reference := p.resolveReference(config)
	if reference == "" && (p.spec.refOptional == nil || !p.spec.refOptional(config)) {
		return nil, errors.NewError().WithKind(errors.KindMissingReferenceImage).
			WithMessagef("mode %s requires a reference image (one of %s)",
				p.spec.mode, strings.Join(p.spec.refAliases, ", "))
	}
	progress(10, "validated inputs")

	sourceData, err := p.loadImage(ctx, task.SourceImage)
	if err != nil {
		return nil, err
	}
	images := map[string][]byte{p.spec.sourceKey: sourceData}
	if reference != "" {
		refData, err := p.loadImage(ctx, reference)
		if err != nil {
			return nil, err
		}
		images[p.spec.refKey] = refData
	}
	progress(30, "loaded images")

	eng, err := p.registry.EngineFor(p.spec.pipelineName, p.spec.stepName)
	if err != nil {
		return nil, errors.Wrap(err, errors.KindEngineUnavailable, "engine resolution failed")
	}
	log.Infof("task %s: running %s on engine %s", task.TaskID, p.spec.pipelineName, eng.Name())

	output, err := eng.Execute(ctx, &engine.Input{
		TaskID: task.TaskID,
		Images: images,
		Params: stringParams(config),
	})
	if err != nil {
		return nil, err
	}
	progress(70, "engine finished")

	result, err := p.persistResult(ctx, task, output, progress)
	if err != nil {
		return nil, err
	}
	progress(100, "completed")
	return result, nil
}

// persistResult downloads the engine outputs into our store and builds the
// result record with its thumbnail.
func (p *editPipeline) persistResult(ctx context.Context, task *model.Task, output *engine.Output, progress ProgressFunc) (*model.TaskResult, error) {
	outputData, err := p.loadImage(ctx, output.OutputImage())
	if err != nil {
		return nil, err
	}
	progress(80, "saving result")

	saved, err := p.store.Save(ctx, storage.CategoryResult, task.TaskID+".png",
		bytes.NewReader(outputData), int64(len(outputData)), "image/png")
	if err != nil {
		return nil, errors.Wrap(err, errors.KindResultSaveFailed, "result write failed")
	}

	result := &model.TaskResult{
		OutputImage: saved.URL,
		Metadata:    map[string]interface{}{"mode": string(p.spec.mode)},
	}
	for k, v := range output.Metadata {
		result.Metadata[k] = v
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(outputData)); err == nil {
		result.Metadata["width"] = cfg.Width
		result.Metadata["height"] = cfg.Height
	}

	if thumbData, err := MakeThumbnail(outputData); err == nil {
		thumb, err := p.store.Save(ctx, storage.CategoryResult, task.TaskID+"_thumb.png",
			bytes.NewReader(thumbData), int64(len(thumbData)), "image/png")
		if err == nil {
			result.Thumbnail = thumb.URL
		}
	} else {
		log.WithError(err).Warnf("task %s: thumbnail generation failed", task.TaskID)
	}

	// The provider's comparison URL is ephemeral, so the bytes are copied
	// into our store like the primary output. Best effort: the result stands
	// without it.
	if comparisonURL := output.Images[engine.RoleComparison]; comparisonURL != "" {
		compData, err := p.loadImage(ctx, comparisonURL)
		if err != nil {
			log.WithError(err).Warnf("task %s: comparison image not retrievable", task.TaskID)
		} else if comp, err := p.store.Save(ctx, storage.CategoryResult, task.TaskID+"_comparison.png",
			bytes.NewReader(compData), int64(len(compData)), "image/png"); err != nil {
			log.WithError(err).Warnf("task %s: comparison image write failed", task.TaskID)
		} else {
			result.ComparisonImage = comp.URL
		}
	}
	progress(95, "saved result")
	return result, nil
}
