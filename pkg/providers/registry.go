package providers

import "context"

// Name is a closed set of provider identifiers the registry dispatches on.
type Name string

const (
	OpenAI   Name = "openai"
	Ollama   Name = "ollama"
	LMStudio Name = "lmstudio"
	Custom   Name = "custom"
)

// Registry resolves a provider name to its Binding. Dispatch is a switch
// over the closed Name set rather than a map lookup, matching the "sum type
// plus exhaustive pattern matching" redesign note in SPEC_FULL.md §9. Go does
// not check the switch for exhaustiveness: a name without a case here
// resolves to ErrUnknownProvider at run time.
type Registry struct {
	openai  Binding
	generic Binding
}

// NewRegistry builds the default registry with one binding per known
// provider family.
func NewRegistry() *Registry {
	return &Registry{
		openai:  OpenAIBinding{},
		generic: GenericBinding{},
	}
}

func (r *Registry) resolve(name Name) (Binding, error) {
	switch name {
	case OpenAI:
		return r.openai, nil
	case Ollama, LMStudio, Custom:
		return r.generic, nil
	default:
		return nil, ErrUnknownProvider
	}
}

// Generate dispatches to the Binding registered for provider.
func (r *Registry) Generate(ctx context.Context, provider, baseURL, credential, model, prompt string, params GenerationParams) (GenerationResult, error) {
	binding, err := r.resolve(Name(provider))
	if err != nil {
		return GenerationResult{}, &PermanentError{Err: err}
	}
	return binding.Generate(ctx, baseURL, credential, model, prompt, params)
}

// Probe dispatches a minimal health check to the Binding registered for
// provider.
func (r *Registry) Probe(ctx context.Context, provider, baseURL, credential, model string) error {
	binding, err := r.resolve(Name(provider))
	if err != nil {
		return &PermanentError{Err: err}
	}
	return binding.Probe(ctx, baseURL, credential, model)
}
