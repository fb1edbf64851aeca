package llm

// Options contains model inference parameters forwarded to the backend.
type Options struct {
	Temperature *float64 `json:"temperature,omitempty" toml:"temperature"`
	TopP        *float64 `json:"top_p,omitempty" toml:"top_p"`
	MaxTokens   *int     `json:"max_tokens,omitempty" toml:"max_tokens"`

	// Stop generation at these sequences
	Stop []string `json:"stop,omitempty" toml:"stop"`
}

// Merge returns a copy of o with unset fields filled from defaults.
func (o *Options) Merge(defaults *Options) *Options {
	if o == nil && defaults == nil {
		return nil
	}
	out := &Options{}
	if defaults != nil {
		*out = *defaults
	}
	if o == nil {
		return out
	}
	if o.Temperature != nil {
		out.Temperature = o.Temperature
	}
	if o.TopP != nil {
		out.TopP = o.TopP
	}
	if o.MaxTokens != nil {
		out.MaxTokens = o.MaxTokens
	}
	if len(o.Stop) > 0 {
		out.Stop = o.Stop
	}
	return out
}
