package tts

import (
	"context"
	"io"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/audio"
)

// OpenAI synthesizes speech through the OpenAI TTS API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a provider. An empty model selects tts-1.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = string(openai.SpeechModelTTS1)
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// Synthesize implements Provider.
func (o *OpenAI) Synthesize(ctx context.Context, text string, opts SynthesizeOptions) ([]byte, error) {
	voice := opts.Voice
	if voice == "" {
		voice = "alloy"
	}

	params := openai.AudioSpeechNewParams{
		Model:          openai.SpeechModel(o.model),
		Voice:          openai.AudioSpeechNewParamsVoice(voice),
		Input:          text,
		ResponseFormat: openai.AudioSpeechNewParamsResponseFormatPCM,
	}
	if opts.Speed > 0 {
		params.Speed = openai.Float(opts.Speed)
	}

	res, err := o.client.Audio.Speech.New(ctx, params)
	if err != nil {
		return nil, core.NewRecognitionError("synthesis failed", err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return nil, core.NewRecognitionError("reading synthesis stream", err)
	}

	// The API emits 24 kHz PCM. 24k has no integer ratio to 16k, so go
	// through 48k: x2 up, then /3 down.
	return audio.Downsample(audio.Upsample(raw, 2), 3), nil
}
