package scraper

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"net/http"
	"os"

	"github.com/cockroachdb/errors"

	"github.com/obsidianstack/hydrowatch/internal/config"
	"github.com/obsidianstack/hydrowatch/internal/pipeline"
)

const (
	userAgent = "hydrowatch"
	// maxBody caps how much of a response is read.
	maxBody = 16 << 20
)

// signer adds credentials to an outgoing request.
type signer func(req *http.Request)

type signingTransport struct {
	next http.RoundTripper
	sign signer
}

func (t *signingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", userAgent)
	if t.sign != nil {
		t.sign(req)
	}
	return t.next.RoundTrip(req)
}

// newClient builds the HTTP client of one source. Secrets are read from the
// environment here, once; a mode whose secret is unset is an error.
func newClient(src config.Source) (*http.Client, error) {
	tlsCfg, err := tlsConfig(src)
	if err != nil {
		return nil, err
	}
	sign, err := signerFor(src.Auth)
	if err != nil {
		return nil, err
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.TLSClientConfig = tlsCfg
	return &http.Client{
		Transport: &signingTransport{next: base, sign: sign},
		Timeout:   src.Timeout,
	}, nil
}

func signerFor(auth config.AuthConfig) (signer, error) {
	switch auth.Mode {
	case "apikey":
		key, header := auth.Key(), auth.Header
		if key == "" {
			return nil, errors.Newf("auth apikey: %s is empty", auth.KeyEnv)
		}
		if header == "" {
			header = "X-API-Key"
		}
		return func(req *http.Request) { req.Header.Set(header, key) }, nil
	case "bearer":
		token := auth.Token()
		if token == "" {
			return nil, errors.Newf("auth bearer: %s is empty", auth.TokenEnv)
		}
		return func(req *http.Request) { req.Header.Set("Authorization", "Bearer "+token) }, nil
	case "basic":
		user, pass := auth.Username, auth.Password()
		return func(req *http.Request) { req.SetBasicAuth(user, pass) }, nil
	}
	// none and mtls add nothing to the request.
	return nil, nil
}

func tlsConfig(src config.Source) (*tls.Config, error) {
	cfg := &tls.Config{
		InsecureSkipVerify: src.TLS.InsecureSkipVerify, //nolint:gosec // opt-in per source
	}
	if src.Auth.Mode != "mtls" {
		return cfg, nil
	}

	pair, err := tls.LoadX509KeyPair(src.Auth.CertFile, src.Auth.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "auth mtls: load client certificate")
	}
	cfg.Certificates = []tls.Certificate{pair}

	if src.Auth.CAFile == "" {
		return cfg, nil
	}
	pem, err := os.ReadFile(src.Auth.CAFile)
	if err != nil {
		return nil, errors.Wrap(err, "auth mtls: read ca file")
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(pem) {
		return nil, errors.Newf("auth mtls: %s holds no PEM certificate", src.Auth.CAFile)
	}
	cfg.RootCAs = roots
	return cfg, nil
}

// get fetches url and returns the body. Failures carry the item error code
// to report: TIMEOUT, HTTP_<status> or FETCH_FAILED.
func get(ctx context.Context, client *http.Client, url, accept string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, pipeline.WithCode(errors.Wrap(err, "build request"), pipeline.CodeFetchFailed)
	}
	if accept != "" {
		req.Header.Set("Accept", accept)
	}

	resp, err := client.Do(req)
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return nil, pipeline.WithCode(errors.Wrap(err, "http get"), pipeline.CodeTimeout)
		}
		return nil, pipeline.WithCode(errors.Wrap(err, "http get"), pipeline.CodeOf(err, pipeline.CodeFetchFailed))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, pipeline.WithCode(errors.Newf("unexpected status %d", resp.StatusCode), pipeline.HTTPCode(resp.StatusCode))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, pipeline.WithCode(errors.Wrap(err, "read body"), pipeline.CodeFetchFailed)
	}
	return body, nil
}
