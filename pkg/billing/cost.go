package billing

import (
	"math"

	"github.com/formy-ai/formy/pkg/model"
)

// Base credit cost per edit mode.
var baseCreditsCost = map[model.EditMode]int{
	model.ModeHeadSwap:         40,
	model.ModeBackgroundChange: 30,
	model.ModePoseChange:       50,
}

// Output quality multipliers.
var qualityMultiplier = map[string]float64{
	"standard": 1.0,
	"high":     1.5,
	"ultra":    2.0,
}

// Output size multipliers.
var sizeMultiplier = map[string]float64{
	"small":  1.0,
	"medium": 1.2,
	"large":  1.5,
	"xlarge": 2.0,
}

const (
	defaultQuality = "standard"
	defaultSize    = "medium"

	fallbackBaseCost = 40
)

// CalculateCost prices a task: ceil(base * quality * size). Unknown quality
// or size values fall back to the defaults rather than erroring, matching
// how requests with absent fields are priced.
func CalculateCost(mode model.EditMode, quality, size string) int {
	base, ok := baseCreditsCost[mode]
	if !ok {
		base = fallbackBaseCost
	}
	qm, ok := qualityMultiplier[quality]
	if !ok {
		qm = qualityMultiplier[defaultQuality]
	}
	sm, ok := sizeMultiplier[size]
	if !ok {
		sm = sizeMultiplier[defaultSize]
	}
	return int(math.Ceil(float64(base) * qm * sm))
}

// CostFromConfig prices a task from its request config map.
func CostFromConfig(mode model.EditMode, config map[string]interface{}) int {
	quality := defaultQuality
	size := defaultSize
	if v, ok := config["quality"].(string); ok && v != "" {
		quality = v
	}
	if v, ok := config["size"].(string); ok && v != "" {
		size = v
	}
	return CalculateCost(mode, quality, size)
}
