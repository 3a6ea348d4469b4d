package engine

import (
	"fmt"
	"os"

	"github.com/formy-ai/formy/pkg/logger/log"
	"gopkg.in/yaml.v2"
)

// registryFile is the on-disk shape of the engine configuration.
type registryFile struct {
	DefaultEngine string                            `yaml:"default_engine"`
	Engines       map[string]map[string]interface{} `yaml:"engines"`
	Pipelines     map[string]pipelineBinding        `yaml:"pipelines"`
}

type pipelineBinding struct {
	Steps map[string]stepBinding `yaml:"steps"`
}

type stepBinding struct {
	Engine string `yaml:"engine"`
}

// Registry holds the named engine instances and the pipeline-step bindings.
// It is built once at startup and immutable afterwards.
type Registry struct {
	engines       map[string]Engine
	bindings      map[string]map[string]string
	defaultEngine string
}

// NewRegistry builds a registry from already-constructed engines. Callers
// normally go through LoadRegistry; this entry point serves embedders and
// tests that bring their own Engine implementations.
func NewRegistry(engines map[string]Engine, bindings map[string]map[string]string, defaultEngine string) *Registry {
	if engines == nil {
		engines = map[string]Engine{}
	}
	if bindings == nil {
		bindings = map[string]map[string]string{}
	}
	return &Registry{engines: engines, bindings: bindings, defaultEngine: defaultEngine}
}

// LoadRegistry reads the YAML file, expands ${VAR} and ${VAR:default}
// references through every string, and instantiates each declared engine.
// Unknown engine types fail startup rather than failing the first task.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read engine config %s: %w", path, err)
	}
	return ParseRegistry(raw)
}

// ParseRegistry builds a registry from YAML bytes.
func ParseRegistry(raw []byte) (*Registry, error) {
	var tree interface{}
	if err := yaml.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("engine config malformed: %w", err)
	}
	expanded, err := yaml.Marshal(expandValue(tree))
	if err != nil {
		return nil, err
	}

	var file registryFile
	if err := yaml.Unmarshal(expanded, &file); err != nil {
		return nil, fmt.Errorf("engine config malformed: %w", err)
	}

	reg := &Registry{
		engines:       map[string]Engine{},
		bindings:      map[string]map[string]string{},
		defaultEngine: file.DefaultEngine,
	}

	for name, block := range file.Engines {
		engineType, _ := block["type"].(string)
		blockYAML, err := yaml.Marshal(block)
		if err != nil {
			return nil, err
		}

		var eng Engine
		switch engineType {
		case "runninghub":
			var conf RunningHubConfig
			if err := yaml.Unmarshal(blockYAML, &conf); err != nil {
				return nil, fmt.Errorf("engine %s: %w", name, err)
			}
			eng, err = NewRunningHubEngine(name, conf)
		case "external_api":
			var conf ExternalAPIConfig
			if err := yaml.Unmarshal(blockYAML, &conf); err != nil {
				return nil, fmt.Errorf("engine %s: %w", name, err)
			}
			eng, err = NewExternalAPIEngine(name, conf)
		case "comfyui":
			var conf ComfyUIConfig
			if err := yaml.Unmarshal(blockYAML, &conf); err != nil {
				return nil, fmt.Errorf("engine %s: %w", name, err)
			}
			eng, err = NewComfyUIEngine(name, conf)
		default:
			return nil, fmt.Errorf("engine %s: unknown type %q", name, engineType)
		}
		if err != nil {
			return nil, err
		}
		reg.engines[name] = eng
		log.Infof("registered engine %s (type=%s)", name, engineType)
	}

	for pipelineName, binding := range file.Pipelines {
		steps := map[string]string{}
		for stepName, step := range binding.Steps {
			if step.Engine == "" {
				continue
			}
			if _, ok := reg.engines[step.Engine]; !ok {
				return nil, fmt.Errorf("pipeline %s step %s references unknown engine %q",
					pipelineName, stepName, step.Engine)
			}
			steps[stepName] = step.Engine
		}
		reg.bindings[pipelineName] = steps
	}

	if reg.defaultEngine != "" {
		if _, ok := reg.engines[reg.defaultEngine]; !ok {
			return nil, fmt.Errorf("default engine %q is not declared", reg.defaultEngine)
		}
	}
	return reg, nil
}

// GetEngine looks up an engine by name.
func (r *Registry) GetEngine(name string) (Engine, error) {
	eng, ok := r.engines[name]
	if !ok {
		return nil, fmt.Errorf("engine %q is not declared", name)
	}
	return eng, nil
}

// EngineFor resolves the engine bound to a pipeline step, falling back to
// the default engine when no binding exists.
func (r *Registry) EngineFor(pipeline, step string) (Engine, error) {
	if steps, ok := r.bindings[pipeline]; ok {
		if name, ok := steps[step]; ok {
			return r.GetEngine(name)
		}
	}
	if r.defaultEngine != "" {
		return r.GetEngine(r.defaultEngine)
	}
	return nil, fmt.Errorf("no engine bound for pipeline %s step %s and no default engine", pipeline, step)
}

// EngineNames lists the registered engine names.
func (r *Registry) EngineNames() []string {
	names := make([]string, 0, len(r.engines))
	for name := range r.engines {
		names = append(names, name)
	}
	return names
}
