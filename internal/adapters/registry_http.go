package adapters

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ZanzyTHEbar/errbuilder-go"

	"github.com/Ptrskay3/msde-cli/internal/ports"
	"github.com/Ptrskay3/msde-cli/internal/retry"
	"github.com/Ptrskay3/msde-cli/internal/shared"
	"github.com/Ptrskay3/msde-cli/internal/types"
)

const defaultRegistryTimeout = 60 * time.Second

// maxChecksumBytes bounds the published checksum body.
const maxChecksumBytes = 4 << 10

// RegistryHTTPAdapter talks to the package registry. Requests carry a
// bearer token from Tokens when set. Non-2xx responses surface as
// *shared.StatusError so callers can decide whether to retry.
type RegistryHTTPAdapter struct {
	Endpoint string
	Tokens   ports.TokenSource
	Timeout  time.Duration
	Client   *http.Client
}

type versionsResponse struct {
	Versions []string `json:"versions"`
}

func NewRegistryHTTPAdapter(endpoint string, tokens ports.TokenSource, timeoutSec int) RegistryHTTPAdapter {
	timeout := time.Duration(timeoutSec) * time.Second
	if timeout <= 0 {
		timeout = defaultRegistryTimeout
	}
	return RegistryHTTPAdapter{
		Endpoint: endpoint,
		Tokens:   tokens,
		Timeout:  timeout,
	}
}

func (a RegistryHTTPAdapter) ListVersions(ctx context.Context, pkg types.PackageID) ([]string, error) {
	var payload versionsResponse
	if err := a.getJSON(ctx, "/v1/packages/"+url.PathEscape(string(pkg))+"/versions", &payload); err != nil {
		return nil, err
	}
	return payload.Versions, nil
}

func (a RegistryHTTPAdapter) Matrix(ctx context.Context) (types.CompatibilityMatrix, error) {
	var matrix types.CompatibilityMatrix
	if err := a.getJSON(ctx, "/v1/compatibility", &matrix); err != nil {
		return types.CompatibilityMatrix{}, err
	}
	return normalizeMatrix(matrix), nil
}

func (a RegistryHTTPAdapter) DownloadArchive(ctx context.Context, version types.PackageVersion, dst io.Writer) error {
	resp, err := a.get(ctx, archivePath(version))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if _, err := io.Copy(dst, resp.Body); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg(fmt.Sprintf("archive download interrupted for %s", version)).
			WithCause(err)
	}
	return nil
}

func (a RegistryHTTPAdapter) PublishedChecksum(ctx context.Context, version types.PackageVersion) (string, error) {
	resp, err := a.get(ctx, archivePath(version)+".sha256")
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxChecksumBytes))
	if err != nil {
		return "", errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to read published checksum").
			WithCause(err)
	}
	return strings.TrimSpace(string(body)), nil
}

func archivePath(version types.PackageVersion) string {
	return fmt.Sprintf("/v1/packages/%s/%s/archive",
		url.PathEscape(string(version.Package)),
		url.PathEscape(version.Version))
}

func (a RegistryHTTPAdapter) getJSON(ctx context.Context, path string, out any) error {
	resp, err := a.get(ctx, path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg(fmt.Sprintf("invalid registry response from %s", path)).
			WithCause(err)
	}
	return nil
}

// get issues an authenticated GET. On success the caller owns resp.Body.
func (a RegistryHTTPAdapter) get(ctx context.Context, path string) (*http.Response, error) {
	endpoint := strings.TrimRight(strings.TrimSpace(a.Endpoint), "/")
	if endpoint == "" {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInvalidArgument).
			WithMsg("registry endpoint is empty")
	}
	target := endpoint + path
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("failed to create registry request").
			WithCause(err)
	}
	if a.Tokens != nil {
		token, err := a.Tokens.BearerToken(ctx)
		if err != nil {
			// The token source has already retried on its own.
			return nil, retry.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := a.client().Do(req)
	if err != nil {
		return nil, errbuilder.New().
			WithCode(errbuilder.CodeInternal).
			WithMsg("registry request failed").
			WithCause(err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp, nil
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxChecksumBytes))
	return nil, shared.HTTPStatusErrorWithBody(resp.StatusCode, target, string(body))
}

func (a RegistryHTTPAdapter) client() *http.Client {
	if a.Client != nil {
		return a.Client
	}
	return &http.Client{Timeout: a.Timeout}
}

var _ ports.RegistryPort = RegistryHTTPAdapter{}
