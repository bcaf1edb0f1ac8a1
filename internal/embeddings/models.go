package embeddings

import "strings"

const defaultLocalModel = "BAAI/bge-small-en-v1.5"

// localModel is an embedding model fastembed can run on-host. id is the
// fastembed identifier, accepted as an alias for name.
type localModel struct {
	name string
	id   string
	dim  int
}

var localModels = []localModel{
	{"BAAI/bge-small-en-v1.5", "fast-bge-small-en-v1.5", 384},
	{"BAAI/bge-small-en", "fast-bge-small-en", 384},
	{"BAAI/bge-base-en-v1.5", "fast-bge-base-en-v1.5", 768},
	{"BAAI/bge-base-en", "fast-bge-base-en", 768},
	{"BAAI/bge-small-zh-v1.5", "fast-bge-small-zh-v1.5", 512},
	{"sentence-transformers/all-MiniLM-L6-v2", "fast-all-MiniLM-L6-v2", 384},
}

func lookupLocalModel(name string) (localModel, bool) {
	if name == "" {
		name = defaultLocalModel
	}
	for _, m := range localModels {
		if m.name == name || m.id == name {
			return m, true
		}
	}
	return localModel{}, false
}

func localModelNames() string {
	names := make([]string, len(localModels))
	for i, m := range localModels {
		names[i] = m.name
	}
	return strings.Join(names, ", ")
}

func fastEmbedModelDimension(model string) (int, bool) {
	m, ok := lookupLocalModel(model)
	if !ok || model == "" {
		return 0, false
	}
	return m.dim, true
}
