package generation

import (
	"context"
	"fmt"
	"io"

	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/creatuluw/exploring.fyi-sub000/application/ports"
	pkgerrors "github.com/creatuluw/exploring.fyi-sub000/pkg/errors"
)

// MessageBuilder turns a generation request into the chat messages sent
// to the model. The source never constructs prompts on its own; the
// caller decides how a request becomes a conversation, including the
// instructions that make the model speak the frame protocol.
type MessageBuilder func(req ports.GenerationRequest) []openai.ChatCompletionMessage

// OpenAISource implements the FrameSource port on top of an OpenAI
// chat completion stream. Content deltas are forwarded verbatim, so
// the frames arrive split at arbitrary delta boundaries exactly like
// chunks from the HTTP backend.
type OpenAISource struct {
	client   *openai.Client
	model    string
	messages MessageBuilder
	logger   *zap.Logger
}

// NewOpenAIClient creates an OpenAI client, optionally pointed at a
// compatible alternative endpoint
func NewOpenAIClient(apiKey, baseURL string) *openai.Client {
	clientConfig := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		clientConfig.BaseURL = baseURL
	}
	return openai.NewClientWithConfig(clientConfig)
}

// NewOpenAISource creates a new OpenAISource
func NewOpenAISource(client *openai.Client, model string, messages MessageBuilder, logger *zap.Logger) *OpenAISource {
	if messages == nil {
		messages = TopicMessages
	}
	return &OpenAISource{
		client:   client,
		model:    model,
		messages: messages,
		logger:   logger,
	}
}

var _ ports.FrameSource = (*OpenAISource)(nil)

// TopicMessages is the default builder wired in when no custom one is
// supplied. It asks for the wire protocol and states the topic; any
// richer prompting belongs to the caller.
func TopicMessages(req ports.GenerationRequest) []openai.ChatCompletionMessage {
	subject := req.Topic
	if req.ParentLabel != "" {
		subject = fmt.Sprintf("%s (expanding %q)", req.Topic, req.ParentLabel)
	}
	return []openai.ChatCompletionMessage{
		{
			Role:    openai.ChatMessageRoleSystem,
			Content: "Emit each message as a single line `data: <json>` followed by a blank line. No other output.",
		},
		{
			Role:    openai.ChatMessageRoleUser,
			Content: fmt.Sprintf("Build a mind map for: %s. Language: %s.", subject, req.Language),
		},
	}
}

// Open starts a chat completion stream and returns its deltas as a raw
// byte stream. The caller owns the returned reader and must close it.
func (s *OpenAISource) Open(ctx context.Context, req ports.GenerationRequest) (io.ReadCloser, error) {
	stream, err := s.client.CreateChatCompletionStream(ctx, openai.ChatCompletionRequest{
		Model:    s.model,
		Messages: s.messages(req),
		Stream:   true,
	})
	if err != nil {
		return nil, pkgerrors.NewTransportError("failed to open chat completion stream", err)
	}

	s.logger.Debug("chat completion stream opened",
		zap.String("model", s.model),
		zap.String("topic", req.Topic),
	)

	pr, pw := io.Pipe()
	go func() {
		defer stream.Close()
		for {
			chunk, err := stream.Recv()
			if err == io.EOF {
				pw.Close()
				return
			}
			if err != nil {
				pw.CloseWithError(pkgerrors.NewTransportError("chat completion stream failed", err))
				return
			}
			if len(chunk.Choices) == 0 {
				continue
			}
			delta := chunk.Choices[0].Delta.Content
			if delta == "" {
				continue
			}
			if _, err := pw.Write([]byte(delta)); err != nil {
				// Reader side closed; stop pumping.
				return
			}
		}
	}()

	return pr, nil
}
