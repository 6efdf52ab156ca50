package loaders

import (
	"encoding/binary"
	"fmt"
	"os"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// ShaderLoader reads a compiled SPIR-V module. The resource data is the
// module as []uint32.
type ShaderLoader struct{}

func (sl *ShaderLoader) Load(path string, params interface{}) (*metadata.Resource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	code, err := DecodeSPIRV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	name, _ := params.(string)
	return &metadata.Resource{
		Type:     metadata.ResourceTypeShader,
		Name:     name,
		FullPath: path,
		DataSize: uint64(len(data)),
		Data:     code,
	}, nil
}

// DecodeSPIRV checks the magic number and returns the module words.
func DecodeSPIRV(data []byte) ([]uint32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("bytecode size %d is not a multiple of 4", len(data))
	}
	code := make([]uint32, len(data)/4)
	for i := range code {
		code[i] = binary.LittleEndian.Uint32(data[i*4:])
	}
	if len(code) == 0 || code[0] != metadata.SPIRVMagic {
		return nil, fmt.Errorf("not a SPIR-V module")
	}
	return code, nil
}
