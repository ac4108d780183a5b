package tts

import "context"

// Params carries one synthesis request. All fields are fixed once the
// request has been accepted.
type Params struct {
	Text                    string
	PromptAudio             string
	EmoAudioPrompt          string
	EmoWeight               float64
	EmoVector               []float64
	MaxTextTokensPerSegment int
	DoSample                bool
	Temperature             float64
	TopP                    float64
	TopK                    int
	RepetitionPenalty       float64
}

// Engine is the synthesis collaborator. Synthesize must write the audio to
// outputPath as a side effect; a nil return claims success, which the caller
// still verifies against the file on disk.
type Engine interface {
	Synthesize(ctx context.Context, p Params, outputPath string) error
}

// Versioner is an optional capability: an engine that can report its model
// version. Engines without it fall back to a configured string.
type Versioner interface {
	ModelVersion() string
}

// Version reports the engine's model version, or fallback if the engine does
// not implement Versioner or reports an empty string.
func Version(e Engine, fallback string) string {
	if v, ok := e.(Versioner); ok {
		if s := v.ModelVersion(); s != "" {
			return s
		}
	}
	return fallback
}
