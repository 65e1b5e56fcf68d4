package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/sirupsen/logrus"

	"StoryboardVideo-server/models"
)

// Provider is the generative AI service behind the relay.
type Provider interface {
	Storyboard(ctx context.Context, prompt string) ([]string, error)
	SceneImage(ctx context.Context, scene string, aspect models.AspectRatio) (string, error)
}

const storyboardInstruction = `You are a film director's assistant. From the user's idea, write a storyboard of exactly 4 sequential, visually rich scenes for a short video. Each scene is one concise sentence suited to an AI image generator and describes only what is seen. Leave out camera directions such as 'close-up' or 'wide shot'. Reply only with JSON matching the schema.`

const imageStyleSuffix = ", cinematic lighting, hyper-detailed, epic, 16k resolution, cinematic"

type storyboardScene struct {
	SceneDescription string `json:"scene_description" jsonschema_description:"A single, concise, visual description of the scene."`
}

type storyboardReply struct {
	Scenes []storyboardScene `json:"scenes" jsonschema_description:"Exactly four sequential scenes."`
}

func generateSchema[T any]() interface{} {
	reflector := &jsonschema.Reflector{
		AllowAdditionalProperties: false,
		DoNotReference:            true,
	}
	var v T
	return reflector.Reflect(v)
}

var storyboardSchema = generateSchema[storyboardReply]()

// OpenAIProvider generates storyboards with a chat model and scene images with an image model.
type OpenAIProvider struct {
	client     openai.Client
	TextModel  string
	ImageModel string
	Log        *logrus.Entry
}

// NewOpenAIProvider builds a provider. baseURL may be empty for the public API.
// The SDK's own retries are disabled: a failed step fails the run.
func NewOpenAIProvider(apiKey, baseURL, textModel, imageModel string, log *logrus.Entry) *OpenAIProvider {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIProvider{
		client:     openai.NewClient(opts...),
		TextModel:  textModel,
		ImageModel: imageModel,
		Log:        log,
	}
}

func (p *OpenAIProvider) Storyboard(ctx context.Context, prompt string) ([]string, error) {
	schemaParam := openai.ResponseFormatJSONSchemaJSONSchemaParam{
		Name:        "storyboard",
		Description: openai.String("Four visual scene descriptions"),
		Schema:      storyboardSchema,
		Strict:      openai.Bool(true),
	}
	completion, err := p.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(storyboardInstruction),
			openai.UserMessage(prompt),
		},
		Model: openai.ChatModel(p.TextModel),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: schemaParam,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("storyboard request: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("the storyboard model returned no choices")
	}

	raw := strings.TrimSpace(completion.Choices[0].Message.Content)
	var reply storyboardReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return nil, fmt.Errorf("AI did not return a valid list of scenes: %w", err)
	}
	scenes := make([]string, 0, len(reply.Scenes))
	for _, s := range reply.Scenes {
		if d := strings.TrimSpace(s.SceneDescription); d != "" {
			scenes = append(scenes, d)
		}
	}
	p.logger().WithField("scenes", len(scenes)).Debug("storyboard generated")
	return scenes, nil
}

func (p *OpenAIProvider) SceneImage(ctx context.Context, scene string, aspect models.AspectRatio) (string, error) {
	resp, err := p.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt:         scene + imageStyleSuffix,
		Model:          openai.ImageModel(p.ImageModel),
		N:              openai.Int(1),
		Size:           imageSize(aspect),
		ResponseFormat: openai.ImageGenerateParamsResponseFormatB64JSON,
	})
	if err != nil {
		return "", fmt.Errorf("image request: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
		return "", errors.New("the image generation model returned no images")
	}
	return resp.Data[0].B64JSON, nil
}

func imageSize(aspect models.AspectRatio) openai.ImageGenerateParamsSize {
	switch aspect {
	case models.AspectRatio9x16:
		return openai.ImageGenerateParamsSize1024x1792
	case models.AspectRatio1x1:
		return openai.ImageGenerateParamsSize1024x1024
	default:
		return openai.ImageGenerateParamsSize1792x1024
	}
}

func (p *OpenAIProvider) logger() *logrus.Entry {
	return orStandard(p.Log)
}
