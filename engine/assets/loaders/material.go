package loaders

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/math"
	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// MaterialLoader parses "key = value" material files into a
// metadata.MaterialConfig.
type MaterialLoader struct{}

func (ml *MaterialLoader) Load(path string, params interface{}) (*metadata.Resource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	mCfg, err := parseMaterial(bufio.NewScanner(file))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &metadata.Resource{
		Type:     metadata.ResourceTypeMaterial,
		Name:     mCfg.Name,
		FullPath: path,
		Data:     mCfg,
	}, nil
}

func parseFloats(value string, n int) ([]float32, error) {
	fields := strings.Fields(value)
	if len(fields) != n {
		return nil, fmt.Errorf("expected %d values, got %d", n, len(fields))
	}
	out := make([]float32, n)
	for i, v := range fields {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q", v)
		}
		out[i] = float32(f)
	}
	return out, nil
}

func parseMaterial(scanner *bufio.Scanner) (*metadata.MaterialConfig, error) {
	materialConfig := &metadata.MaterialConfig{
		AlbedoColor: math.NewVec4(1, 1, 1, 1),
		Roughness:   0.5,
	}

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())

		// Skip comments and empty lines
		if strings.HasPrefix(line, "#") || line == "" {
			continue
		}

		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			core.LogWarn("material line %d: skipping %q", lineNo, line)
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		switch key {
		case "name":
			materialConfig.Name = value
		case "albedo_colour", "albedo_color":
			c, err := parseFloats(value, 4)
			if err != nil {
				return nil, fmt.Errorf("line %d: albedo colour: %w", lineNo, err)
			}
			materialConfig.AlbedoColor = math.NewVec4(c[0], c[1], c[2], c[3])
		case "emission", "roughness", "metalness":
			f, err := parseFloats(value, 1)
			if err != nil {
				return nil, fmt.Errorf("line %d: %s: %w", lineNo, key, err)
			}
			switch key {
			case "emission":
				materialConfig.Emission = f[0]
			case "roughness":
				materialConfig.Roughness = f[0]
			default:
				materialConfig.Metalness = f[0]
			}
		case "albedo_map":
			materialConfig.AlbedoMap = value
		case "normal_map":
			materialConfig.NormalMap = value
		case "roughness_map":
			materialConfig.RoughnessMap = value
		default:
			core.LogWarn("material line %d: unknown key %q", lineNo, key)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if err := validateMaterial(materialConfig); err != nil {
		return nil, err
	}
	return materialConfig, nil
}

func validateMaterial(material *metadata.MaterialConfig) error {
	if material.Name == "" {
		return fmt.Errorf("material name is required")
	}
	if !isValidVec4(material.AlbedoColor) {
		return fmt.Errorf("albedo colour values must be between 0.0 and 1.0")
	}
	if !inRange(material.Roughness) || !inRange(material.Metalness) {
		return fmt.Errorf("roughness and metalness must be between 0.0 and 1.0")
	}
	if material.Emission < 0 {
		return fmt.Errorf("emission must be a non-negative value")
	}
	return nil
}

func isValidVec4(v math.Vec4) bool {
	return inRange(v.X) && inRange(v.Y) && inRange(v.Z) && inRange(v.W)
}

func inRange(value float32) bool {
	return value >= 0.0 && value <= 1.0
}
