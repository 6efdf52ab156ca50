package metadata

type ResourceType int

/** @brief Kinds of files found under the asset root. */
const (
	ResourceTypeNone ResourceType = iota
	/** @brief TOML engine configuration. */
	ResourceTypeConfig
	/** @brief SPIR-V shader module. */
	ResourceTypeShader
	/** @brief 2D image decoded to RGBA8. */
	ResourceTypeImage
	/** @brief Text material description. */
	ResourceTypeMaterial
	/** @brief YAML scene document. */
	ResourceTypeScene
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeConfig:
		return "config"
	case ResourceTypeShader:
		return "shader"
	case ResourceTypeImage:
		return "image"
	case ResourceTypeMaterial:
		return "material"
	case ResourceTypeScene:
		return "scene"
	}
	return "none"
}

/** @brief SPIR-V magic number, first word of every shader module. */
const SPIRVMagic uint32 = 0x07230203

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	Type ResourceType
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. Its type depends on Type. */
	Data interface{}
}
