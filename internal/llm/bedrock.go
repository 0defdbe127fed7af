package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
)

// converseAPI is the subset of the Bedrock runtime client used here.
type converseAPI interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// BedrockGenerator calls models through the Bedrock Converse API.
type BedrockGenerator struct {
	client converseAPI
}

var _ Generator = (*BedrockGenerator)(nil)

// NewBedrockGenerator loads AWS credentials from the default chain.
func NewBedrockGenerator(ctx context.Context, region string) (*BedrockGenerator, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &BedrockGenerator{client: bedrockruntime.NewFromConfig(awsCfg)}, nil
}

// Provider returns ProviderBedrock.
func (g *BedrockGenerator) Provider() Provider {
	return ProviderBedrock
}

// Generate runs a single-turn Converse call.
func (g *BedrockGenerator) Generate(ctx context.Context, req Request) (*Completion, error) {
	inference := &types.InferenceConfiguration{
		Temperature: aws.Float32(float32(req.Temperature)),
	}
	if req.MaxTokens > 0 {
		inference.MaxTokens = aws.Int32(int32(req.MaxTokens))
	}

	input := &bedrockruntime.ConverseInput{
		ModelId: aws.String(req.Model),
		Messages: []types.Message{{
			Role:    types.ConversationRoleUser,
			Content: []types.ContentBlock{&types.ContentBlockMemberText{Value: req.Prompt}},
		}},
		InferenceConfig: inference,
	}
	if req.System != "" {
		input.System = []types.SystemContentBlock{&types.SystemContentBlockMemberText{Value: req.System}}
	}

	out, err := g.client.Converse(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("converse with %s: %w", req.Model, classifyError(req.Model, err))
	}

	msg, ok := out.Output.(*types.ConverseOutputMemberMessage)
	if !ok {
		return nil, fmt.Errorf("converse with %s: unexpected output type %T", req.Model, out.Output)
	}

	var sb strings.Builder
	for _, block := range msg.Value.Content {
		if text, ok := block.(*types.ContentBlockMemberText); ok {
			sb.WriteString(text.Value)
		}
	}

	c := &Completion{Text: sb.String(), Model: req.Model}
	if out.Usage != nil {
		c.InputTokens = int(aws.ToInt32(out.Usage.InputTokens))
		c.OutputTokens = int(aws.ToInt32(out.Usage.OutputTokens))
	}
	return c, nil
}
