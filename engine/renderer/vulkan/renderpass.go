package vulkan

import (
	"fmt"

	vk "github.com/goki/vulkan"

	"github.com/spaghettifunk/lumen/engine/core"
	"github.com/spaghettifunk/lumen/engine/renderer/gpu"
)

type attachmentSignature struct {
	format  vk.Format
	clear   bool
	resolve bool
}

// renderPassKey identifies a cached render pass. Attachments keep their
// layout across the pass; the command stream transitions them explicitly.
type renderPassKey struct {
	colors     [maxColorAttachments]attachmentSignature
	colorCount int
	depth      vk.Format
	depthClear bool
	samples    uint32
}

func (k renderPassKey) resolveCount() int {
	n := 0
	for i := 0; i < k.colorCount; i++ {
		if k.colors[i].resolve {
			n++
		}
	}
	return n
}

// compatible drops the load operations, which do not affect render pass
// compatibility, so pipelines and framebuffers can share one variant.
func (k renderPassKey) compatible() renderPassKey {
	for i := range k.colors {
		k.colors[i].clear = false
	}
	k.depthClear = false
	return k
}

func renderPassKeyFor(ctx *VulkanContext, desc gpu.RenderPassDesc) (renderPassKey, error) {
	var key renderPassKey
	if len(desc.Color) > maxColorAttachments {
		return key, fmt.Errorf("%w: render pass %q has %d colour attachments", core.ErrInvalidConfig, desc.Name, len(desc.Color))
	}
	key.colorCount = len(desc.Color)
	key.samples = 1
	for i, att := range desc.Color {
		spec := att.Image.Spec()
		key.colors[i] = attachmentSignature{
			format:  vkFormat(spec.Format),
			clear:   att.Clear,
			resolve: att.Resolve != nil,
		}
		key.samples = max(spec.Samples, 1)
	}
	if desc.Depth != nil {
		key.depth = ctx.Device.DepthFormat
		key.depthClear = desc.Depth.Clear
		key.samples = max(desc.Depth.Image.Spec().Samples, 1)
	}
	return key, nil
}

// pipelineRenderPassKey builds the load-preserving variant matching the
// attachment formats of a graphics pipeline.
func pipelineRenderPassKey(ctx *VulkanContext, spec gpu.GraphicsPipelineSpec) (renderPassKey, error) {
	var key renderPassKey
	if len(spec.ColorFormats) > maxColorAttachments {
		return key, fmt.Errorf("%w: pipeline %q has %d colour attachments", core.ErrInvalidConfig, spec.Name, len(spec.ColorFormats))
	}
	key.samples = max(spec.Samples, 1)
	key.colorCount = len(spec.ColorFormats)
	for i, f := range spec.ColorFormats {
		key.colors[i] = attachmentSignature{format: vkFormat(f), resolve: key.samples > 1}
	}
	if spec.DepthFormat != gpu.FormatUndefined {
		key.depth = ctx.Device.DepthFormat
	}
	return key, nil
}

func loadOp(clear bool) vk.AttachmentLoadOp {
	if clear {
		return vk.AttachmentLoadOpClear
	}
	return vk.AttachmentLoadOpLoad
}

// renderPass returns the cached render pass for key, creating it first if
// needed. Callers must hold CacheManagement.
func (vc *VulkanContext) renderPass(key renderPassKey) (vk.RenderPass, error) {
	if rp, ok := vc.renderpasses[key]; ok {
		return rp, nil
	}

	samples := vkSamples(key.samples)
	var attachments []vk.AttachmentDescription
	colorRefs := make([]vk.AttachmentReference, 0, key.colorCount)
	resolveRefs := make([]vk.AttachmentReference, 0, key.colorCount)

	for i := 0; i < key.colorCount; i++ {
		sig := key.colors[i]
		colorRefs = append(colorRefs, vk.AttachmentReference{
			Attachment: uint32(len(attachments)),
			Layout:     vk.ImageLayoutColorAttachmentOptimal,
		})
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         sig.format,
			Samples:        samples,
			LoadOp:         loadOp(sig.clear),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
		})
	}

	hasResolve := key.resolveCount() > 0
	if hasResolve {
		for i := 0; i < key.colorCount; i++ {
			if !key.colors[i].resolve {
				resolveRefs = append(resolveRefs, vk.AttachmentReference{Attachment: attachmentUnused})
				continue
			}
			resolveRefs = append(resolveRefs, vk.AttachmentReference{
				Attachment: uint32(len(attachments)),
				Layout:     vk.ImageLayoutColorAttachmentOptimal,
			})
			attachments = append(attachments, vk.AttachmentDescription{
				Format:         key.colors[i].format,
				Samples:        vk.SampleCount1Bit,
				LoadOp:         vk.AttachmentLoadOpDontCare,
				StoreOp:        vk.AttachmentStoreOpStore,
				StencilLoadOp:  vk.AttachmentLoadOpDontCare,
				StencilStoreOp: vk.AttachmentStoreOpDontCare,
				InitialLayout:  vk.ImageLayoutColorAttachmentOptimal,
				FinalLayout:    vk.ImageLayoutColorAttachmentOptimal,
			})
		}
	}

	subpass := vk.SubpassDescription{
		PipelineBindPoint:    vk.PipelineBindPointGraphics,
		ColorAttachmentCount: uint32(len(colorRefs)),
		PColorAttachments:    colorRefs,
	}
	if hasResolve {
		subpass.PResolveAttachments = resolveRefs
	}
	if key.depth != vk.FormatUndefined {
		subpass.PDepthStencilAttachment = &vk.AttachmentReference{
			Attachment: uint32(len(attachments)),
			Layout:     vk.ImageLayoutDepthStencilAttachmentOptimal,
		}
		attachments = append(attachments, vk.AttachmentDescription{
			Format:         key.depth,
			Samples:        samples,
			LoadOp:         loadOp(key.depthClear),
			StoreOp:        vk.AttachmentStoreOpStore,
			StencilLoadOp:  vk.AttachmentLoadOpDontCare,
			StencilStoreOp: vk.AttachmentStoreOpDontCare,
			InitialLayout:  vk.ImageLayoutDepthStencilAttachmentOptimal,
			FinalLayout:    vk.ImageLayoutDepthStencilAttachmentOptimal,
		})
	}

	var rp vk.RenderPass
	res := vk.CreateRenderPass(vc.Device.LogicalDevice, &vk.RenderPassCreateInfo{
		SType:           vk.StructureTypeRenderPassCreateInfo,
		AttachmentCount: uint32(len(attachments)),
		PAttachments:    attachments,
		SubpassCount:    1,
		PSubpasses:      []vk.SubpassDescription{subpass},
	}, vc.Allocator, &rp)
	if err := resultError("vkCreateRenderPass", res); err != nil {
		return nil, err
	}
	vc.renderpasses[key] = rp
	return rp, nil
}

func (vc *VulkanContext) destroyRenderPasses() {
	for key, rp := range vc.renderpasses {
		vk.DestroyRenderPass(vc.Device.LogicalDevice, rp, vc.Allocator)
		delete(vc.renderpasses, key)
	}
}

// clearValues returns one clear value per attachment in framebuffer order.
func clearValues(key renderPassKey, desc gpu.RenderPassDesc) []vk.ClearValue {
	values := make([]vk.ClearValue, 0, 2*key.colorCount+1)
	for _, att := range desc.Color {
		var v vk.ClearValue
		v.SetColor(att.ClearColor[:])
		values = append(values, v)
	}
	for i := 0; i < key.resolveCount(); i++ {
		values = append(values, vk.ClearValue{})
	}
	if desc.Depth != nil {
		var v vk.ClearValue
		v.SetDepthStencil(desc.Depth.ClearDepth, 0)
		values = append(values, v)
	}
	return values
}
