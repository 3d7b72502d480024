package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"comptoir/internal/domain"

	"github.com/hashicorp/go-retryablehttp"
)

// HTTP fetches item metadata from a JSON endpoint at baseURL/{mint}.
type HTTP struct {
	baseURL string
	client  *retryablehttp.Client
	logger  *slog.Logger
}

// NewHTTP creates an oracle client with bounded retries.
func NewHTTP(baseURL string, timeout time.Duration, retryMax int) *HTTP {
	client := retryablehttp.NewClient()
	client.Logger = nil
	client.RetryMax = retryMax
	client.HTTPClient.Timeout = timeout

	return &HTTP{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  slog.Default().With("module", "oracle"),
	}
}

func (h *HTTP) Lookup(ctx context.Context, mint string) (*domain.ItemMetadata, error) {
	req, err := retryablehttp.NewRequest(http.MethodGet, h.baseURL+"/"+url.PathEscape(mint), nil)
	if err != nil {
		return nil, err
	}
	req = req.WithContext(ctx)
	req.Header.Set("Accept", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("metadata request for %s: %w", mint, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrUnknownMint, mint)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("metadata request for %s: %s", mint, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, err
	}

	var md domain.ItemMetadata
	if err := json.Unmarshal(body, &md); err != nil {
		return nil, fmt.Errorf("failed to decode metadata for %s: %w", mint, err)
	}
	if md.Mint == "" {
		md.Mint = mint
	}

	h.logger.Debug("Metadata fetched", slog.String("mint", mint), slog.String("symbol", md.Symbol))
	return &md, nil
}
