package vulkan

// Sizes of the shared descriptor pool. Every pipeline set instance of the
// renderer is allocated from it.
const (
	maxDescriptorSets     uint32 = 1024
	maxDescriptorsPerType uint32 = 4096
)

// maxColorAttachments bounds the colour attachments of one render pass.
const maxColorAttachments = 4

// Instance data is read as consecutive vec4 attributes starting at this
// location, after the four per-vertex attributes.
const firstInstanceLocation = 4

const validationLayerName = "VK_LAYER_KHRONOS_validation"

// attachmentUnused marks a colour attachment without a resolve target.
const attachmentUnused = ^uint32(0)
