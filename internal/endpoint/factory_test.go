package endpoint

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
)

func TestReconfigureRESTMissingURLIsConfigError(t *testing.T) {
	f := New(nil, zerolog.Nop())
	err := f.Reconfigure(context.Background(), SelectorREST, Credentials{})
	if err == nil {
		t.Fatal("expected EndpointConfigError for missing rest url")
	}
	if f.Active() != nil {
		t.Fatal("active endpoint should be nil after a failed reconfigure")
	}
}

func TestReconfigureStopsPriorEndpoint(t *testing.T) {
	f := New(nil, zerolog.Nop())

	err := f.Reconfigure(context.Background(), SelectorREST, Credentials{RESTURL: "http://example.invalid/hook"})
	if err != nil {
		t.Fatalf("first reconfigure: %v", err)
	}
	first := f.Active()
	if first == nil {
		t.Fatal("expected an active rest endpoint")
	}

	err = f.Reconfigure(context.Background(), SelectorREST, Credentials{RESTURL: "http://example.invalid/hook2"})
	if err != nil {
		t.Fatalf("second reconfigure: %v", err)
	}
	if f.Active() == first {
		t.Fatal("expected a new endpoint instance after reconfigure")
	}
}

func TestBuildHAFallsBackToRESTWithoutAssistPipeline(t *testing.T) {
	f := New(nil, zerolog.Nop())
	f.probeAssistPipeline = func(ctx context.Context, baseURL, token string) (bool, error) {
		return false, nil
	}

	err := f.Reconfigure(context.Background(), SelectorHA, Credentials{HAHost: "homeassistant.local", HAToken: "tok"})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if f.Active() == nil {
		t.Fatal("expected an active ha-rest endpoint")
	}
}

func TestBuildHAUsesWSWhenAssistPipelinePresent(t *testing.T) {
	f := New(nil, zerolog.Nop())
	f.probeAssistPipeline = func(ctx context.Context, baseURL, token string) (bool, error) {
		return true, nil
	}

	err := f.Reconfigure(context.Background(), SelectorHA, Credentials{HAHost: "homeassistant.local", HAToken: "tok"})
	if err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	active := f.Active()
	if active == nil {
		t.Fatal("expected an active ha-ws endpoint")
	}
	active.Stop()
}
