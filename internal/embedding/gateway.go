// Package embedding maps transaction free text to fixed-length vectors
// through an external gateway. Failures are not retried here; a failed
// call fails the whole ingestion batch.
package embedding

import (
	"context"
	"fmt"

	"github.com/sony/gobreaker"
	"google.golang.org/genai"
)

// DefaultModelName is the embedding model used against the gateway.
const DefaultModelName = "gemini-embedding-001"

// Gateway produces one embedding vector for a piece of free text.
type Gateway interface {
	Embed(ctx context.Context, text string) ([]float64, error)
}

// GenAIGateway calls the Gemini embedding API.
type GenAIGateway struct {
	client *genai.Client
	model  string
}

// NewGenAIGateway creates a gateway with a shared GenAI client.
// Credentials come from the environment, same as the rest of the Google
// stack.
func NewGenAIGateway(ctx context.Context) (*GenAIGateway, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: create genai client: %w", err)
	}
	return &GenAIGateway{client: client, model: DefaultModelName}, nil
}

// Embed implements Gateway.
func (g *GenAIGateway) Embed(ctx context.Context, text string) ([]float64, error) {
	contents := []*genai.Content{
		{Role: "user", Parts: []*genai.Part{{Text: text}}},
	}
	resp, err := g.client.Models.EmbedContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding: embed content: %w", err)
	}
	if len(resp.Embeddings) == 0 || len(resp.Embeddings[0].Values) == 0 {
		return nil, fmt.Errorf("embedding: gateway returned empty vector")
	}
	values := resp.Embeddings[0].Values
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out, nil
}

// BreakerGateway wraps a Gateway with a circuit breaker so a flapping
// gateway fails batches fast instead of timing each record out.
type BreakerGateway struct {
	inner   Gateway
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerGateway wraps inner with default breaker settings: the
// circuit opens after 5 consecutive failures.
func NewBreakerGateway(inner Gateway) *BreakerGateway {
	return &BreakerGateway{
		inner: inner,
		breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name: "embedding-gateway",
			ReadyToTrip: func(c gobreaker.Counts) bool {
				return c.ConsecutiveFailures >= 5
			},
		}),
	}
}

// Embed implements Gateway.
func (b *BreakerGateway) Embed(ctx context.Context, text string) ([]float64, error) {
	out, err := b.breaker.Execute(func() (interface{}, error) {
		return b.inner.Embed(ctx, text)
	})
	if err != nil {
		return nil, err
	}
	return out.([]float64), nil
}
