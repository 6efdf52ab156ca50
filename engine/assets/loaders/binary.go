package loaders

import (
	"os"

	"github.com/spaghettifunk/lumen/engine/renderer/metadata"
)

// BinaryLoader returns a file's bytes untouched. Type tags the resource,
// since the same loader serves several kinds of document.
type BinaryLoader struct {
	Type metadata.ResourceType
}

func (bl *BinaryLoader) Load(path string, params interface{}) (*metadata.Resource, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	name, _ := params.(string)
	return &metadata.Resource{
		Type:     bl.Type,
		Name:     name,
		FullPath: path,
		DataSize: uint64(len(buf)),
		Data:     buf,
	}, nil
}
