package llm

import (
	"context"
	"errors"
)

type fakePayload struct {
	text string
}

func (fakePayload) ProviderName() string { return "fake" }

// fakeProvider counts one token per byte of payload text.
type fakeProvider struct {
	name     string
	countErr error
	panicky  bool
	calls    int
	resp     Response
	callErr  error
}

func (p *fakeProvider) Name() string { return p.name }

func (p *fakeProvider) BuildPayload(_ context.Context, _ ModelConfig, req *PayloadRequest) (Payload, error) {
	return fakePayload{text: req.Prompt.System + req.Prompt.User}, nil
}

func (p *fakeProvider) CallServiceClient(_ context.Context, _ *ServiceCall) (Response, error) {
	p.calls++
	return p.resp, p.callErr
}

func (p *fakeProvider) GetTokens(_ context.Context, content string, _ ModelConfig) (int, error) {
	if p.countErr != nil {
		return 0, p.countErr
	}
	return len(content), nil
}

func (p *fakeProvider) PayloadContent(payload Payload) string {
	if p.panicky {
		panic(errors.New("unexpected payload shape"))
	}
	fp, ok := payload.(fakePayload)
	if !ok {
		return PlaceholderContent
	}
	return fp.text
}
