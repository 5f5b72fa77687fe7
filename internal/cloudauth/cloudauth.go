// Copyright (C) NHR@FAU, University Erlangen-Nuremberg.
// All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package cloudauth handles the agent's own authentication to its cloud
// control plane: a client-credentials OAuth2 token source for outbound
// calls (manifest/scheme fetch, telemetry upload), and an OIDC verifier
// for inbound directives (job start/stop) that arrive bearing a signed
// token. Re-homes the teacher's auth/auth-v2 concern for a
// machine-to-machine agent rather than a browser login flow.
package cloudauth

import (
	"context"
	"fmt"

	"github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/clustercockpit/cc-edge-agent/pkg/log"
)

var cloudAuthLog = log.WithComponent("cloud-auth")

// Config configures the agent's cloud identity.
type Config struct {
	IssuerURL    string   `json:"issuer-url"`
	ClientID     string   `json:"client-id"`
	ClientSecret string   `json:"client-secret"`
	TokenURL     string   `json:"token-url"`
	Scopes       []string `json:"scopes"`
}

// CloudAuth owns the outbound token source and the inbound token
// verifier for one cloud control plane.
type CloudAuth struct {
	tokenSource oauth2.TokenSource
	verifier    *oidc.IDTokenVerifier
}

// New discovers the OIDC provider at cfg.IssuerURL (for inbound-token
// verification) and builds a client-credentials token source (for
// outbound calls), mirroring the teacher's internal/auth/oidc.go provider
// discovery but for the client-credentials grant instead of auth-code.
func New(ctx context.Context, cfg Config) (*CloudAuth, error) {
	provider, err := oidc.NewProvider(ctx, cfg.IssuerURL)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: discover issuer %q: %w", cfg.IssuerURL, err)
	}

	ccCfg := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		Scopes:       cfg.Scopes,
	}

	return &CloudAuth{
		tokenSource: ccCfg.TokenSource(ctx),
		verifier:    provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

// Token returns a valid bearer token for an outbound call, refreshing it
// transparently if expired.
func (c *CloudAuth) Token(ctx context.Context) (*oauth2.Token, error) {
	tok, err := c.tokenSource.Token()
	if err != nil {
		return nil, fmt.Errorf("cloudauth: fetch token: %w", err)
	}
	return tok, nil
}

// VerifyDirective checks a raw ID token accompanying an inbound job
// directive and returns its claims. The Collection Scheme Manager does not
// call it; manifest/scheme bundles are checked by campaign.Manager.VerifyToken.
func (c *CloudAuth) VerifyDirective(ctx context.Context, rawIDToken string) (map[string]interface{}, error) {
	idToken, err := c.verifier.Verify(ctx, rawIDToken)
	if err != nil {
		return nil, fmt.Errorf("cloudauth: verify directive token: %w", err)
	}
	var claims map[string]interface{}
	if err := idToken.Claims(&claims); err != nil {
		return nil, fmt.Errorf("cloudauth: decode claims: %w", err)
	}
	cloudAuthLog.Debugf("verified directive token, subject=%v", claims["sub"])
	return claims, nil
}
