package functions

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const fetchBodyLimit = 64 * 1024

// RegisterBuiltins installs the functions available to every workspace
// out of the box. Deployments register their own on top.
func RegisterBuiltins(reg *Registry) error {
	if err := reg.RegisterFunc("current_time", currentTime); err != nil {
		return err
	}
	if err := reg.RegisterFunc("fetch_url", fetchURL); err != nil {
		return err
	}
	return nil
}

func currentTime(_ context.Context, _ json.RawMessage) (string, error) {
	return time.Now().UTC().Format(time.RFC3339), nil
}

type fetchURLArgs struct {
	URL string `json:"url"`
}

func fetchURL(ctx context.Context, args json.RawMessage) (string, error) {
	var parsed fetchURLArgs
	if err := json.Unmarshal(args, &parsed); err != nil {
		return "", fmt.Errorf("parse arguments: %w", err)
	}
	if parsed.URL == "" {
		return "", fmt.Errorf("url is required")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.URL, nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchBodyLimit))
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("fetch %s: status %d", parsed.URL, resp.StatusCode)
	}
	return string(body), nil
}
