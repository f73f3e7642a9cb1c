package transport

import (
	"context"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/runtime"
)

const (
	moduleName    = "github.com/bacalhau-project/armpoller"
	moduleVersion = "v0.1.0"

	// DefaultARMScope is the token scope for the public ARM endpoint.
	DefaultARMScope = "https://management.azure.com/.default"
)

// ARMSenderOptions configures an ARMSender.
type ARMSenderOptions struct {
	// Scope overrides DefaultARMScope, e.g. for sovereign clouds.
	Scope string

	// ClientOptions is passed through to the underlying azcore
	// pipeline (transport, cloud configuration, per-call policies).
	ClientOptions policy.ClientOptions
}

// ARMSender issues polling requests through an azcore pipeline with a
// bearer-token policy, so the engine can poll real ARM endpoints. The
// pipeline's own retry policy handles transport-level retries; the
// engine never retries.
type ARMSender struct {
	pipeline runtime.Pipeline
}

// NewARMSender builds a sender authenticating with the given
// credential (e.g. azidentity.NewDefaultAzureCredential).
func NewARMSender(cred azcore.TokenCredential, options *ARMSenderOptions) *ARMSender {
	if options == nil {
		options = &ARMSenderOptions{}
	}
	scope := options.Scope
	if scope == "" {
		scope = DefaultARMScope
	}
	authPolicy := runtime.NewBearerTokenPolicy(cred, []string{scope}, nil)
	pl := runtime.NewPipeline(moduleName, moduleVersion, runtime.PipelineOptions{
		PerRetry: []policy.Policy{authPolicy},
	}, &options.ClientOptions)
	return &ARMSender{pipeline: pl}
}

func (s *ARMSender) Send(ctx context.Context, req *http.Request) (*http.Response, error) {
	azReq, err := runtime.NewRequest(ctx, req.Method, req.URL.String())
	if err != nil {
		return nil, err
	}
	for name, values := range req.Header {
		for _, v := range values {
			azReq.Raw().Header.Add(name, v)
		}
	}
	return s.pipeline.Do(azReq)
}
