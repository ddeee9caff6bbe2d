package stt

import (
	"bytes"
	"context"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/loftcall/loftcall/pkg/core"
	"github.com/loftcall/loftcall/pkg/core/audio"
)

// OpenAI transcribes audio through the Whisper API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI creates a Whisper-backed provider. An empty model selects
// whisper-1.
func NewOpenAI(apiKey, model string) *OpenAI {
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &OpenAI{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  model,
	}
}

// Name implements Provider.
func (o *OpenAI) Name() string { return "openai" }

// Transcribe implements Provider.
func (o *OpenAI) Transcribe(ctx context.Context, pcm []byte) (string, error) {
	if len(pcm) == 0 {
		return "", nil
	}
	wav := audio.EncodeWAV(pcm, audio.CanonicalConfig())

	tr, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(wav), "utterance.wav", "audio/wav"),
		Model: openai.AudioModel(o.model),
	})
	if err != nil {
		return "", core.NewRecognitionError("transcription failed", err)
	}
	return tr.Text, nil
}
