package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"
)

/**
 * @brief A single compiled shader stage.
 */
type VulkanShaderStage struct {
	/** @brief The internal shader module handle. */
	Handle vk.ShaderModule
	/** @brief The pipeline shader stage creation info. */
	ShaderStageCreateInfo vk.PipelineShaderStageCreateInfo
}

// NewShaderStage loads "<name>.<suffix>" through the shader loader and wraps
// it in a module for the given stage.
func NewShaderStage(context *VulkanContext, name, suffix string, stage vk.ShaderStageFlagBits) (*VulkanShaderStage, error) {
	if context.shaders == nil {
		return nil, fmt.Errorf("no shader loader configured for %s.%s", name, suffix)
	}
	code, err := context.shaders(name + "." + suffix)
	if err != nil {
		return nil, fmt.Errorf("shader %s.%s: %w", name, suffix, err)
	}
	if len(code) == 0 {
		return nil, fmt.Errorf("shader %s.%s is empty", name, suffix)
	}

	var module vk.ShaderModule
	res := vk.CreateShaderModule(context.Device.LogicalDevice, &vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code) * 4),
		PCode:    code,
	}, context.Allocator, &module)
	if err := resultError("vkCreateShaderModule "+name+"."+suffix, res); err != nil {
		return nil, err
	}

	return &VulkanShaderStage{
		Handle: module,
		ShaderStageCreateInfo: vk.PipelineShaderStageCreateInfo{
			SType:  vk.StructureTypePipelineShaderStageCreateInfo,
			Stage:  stage,
			Module: module,
			PName:  "main\x00",
		},
	}, nil
}

func (s *VulkanShaderStage) Destroy(context *VulkanContext) {
	if s == nil || s.Handle == nil {
		return
	}
	vk.DestroyShaderModule(context.Device.LogicalDevice, s.Handle, context.Allocator)
	s.Handle = nil
}
