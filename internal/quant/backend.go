package quant

// LlamaBuilt reports whether this binary carries the in-process llama.cpp
// backend or the file-checking stub.
func LlamaBuilt() bool { return llamaBuilt }

// Backend loads and unloads one model's weights at a given quantization
// level. Implementations are registered per model name; the controller never
// assumes anything about what a load does beyond its error result.
type Backend interface {
	Load(level string) error
	Unload() error
}

// FuncBackend adapts a pair of functions to the Backend interface.
type FuncBackend struct {
	LoadFunc   func(level string) error
	UnloadFunc func() error
}

func (f FuncBackend) Load(level string) error {
	if f.LoadFunc == nil {
		return nil
	}
	return f.LoadFunc(level)
}

func (f FuncBackend) Unload() error {
	if f.UnloadFunc == nil {
		return nil
	}
	return f.UnloadFunc()
}
