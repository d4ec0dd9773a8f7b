package provider

// Parameters are the generation knobs sent with every inference request.
type Parameters struct {
	MaxNewTokens int     `json:"max_new_tokens"`
	Temperature  float64 `json:"temperature"`
	TopP         float64 `json:"top_p"`
}

// InferenceRequest is the text-generation request body.
type InferenceRequest struct {
	Inputs     string     `json:"inputs"`
	Parameters Parameters `json:"parameters"`
}

// generation is one element of the inference response. GeneratedText is a
// pointer so a missing field can be told apart from an empty string.
type generation struct {
	GeneratedText *string `json:"generated_text"`
}
