package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(addr, token string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(addr, "/"),
		token:   strings.TrimSpace(token),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) get(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s: unexpected status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	return data, nil
}

func remoteFlags(fs *flag.FlagSet) (*string, *string, *time.Duration) {
	addr := fs.String("addr", getenv("SIMSERVER_ADDR", "http://localhost:8080"), "simserver base URL (env SIMSERVER_ADDR)")
	token := fs.String("token", getenv("SIMSERVER_TOKEN", ""), "bearer token (env SIMSERVER_TOKEN)")
	timeout := fs.Duration("timeout", 10*time.Second, "HTTP request timeout")
	return addr, token, timeout
}

func handleStatus(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr, token, timeout := remoteFlags(fs)
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	client := newAPIClient(*addr, *token, *timeout)
	data, err := client.get(ctx, "/api/v1/run/status")
	if err != nil {
		return err
	}

	res := gjson.ParseBytes(data)
	fmt.Printf("run_id=%s state=%s clock=%s active=%s spawned=%s finished=%s\n",
		res.Get("run_id").String(),
		res.Get("state").String(),
		res.Get("clock").String(),
		res.Get("active_count").String(),
		res.Get("stats.total_spawned").String(),
		res.Get("stats.total_finished").String(),
	)
	return nil
}

func handleArtifact(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("artifact", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	addr, token, timeout := remoteFlags(fs)
	field := fs.String("field", "", "gjson path to extract from the artifact (e.g. statistics.total_anomalies); empty prints the whole document")
	if err := fs.Parse(args); err != nil {
		return usageError(err)
	}

	client := newAPIClient(*addr, *token, *timeout)
	data, err := client.get(ctx, "/api/v1/run/artifact")
	if err != nil {
		return err
	}

	if *field == "" {
		fmt.Println(gjson.ParseBytes(data).String())
		return nil
	}
	result := gjson.GetBytes(data, *field)
	if !result.Exists() {
		return errors.New("field not found in artifact: " + *field)
	}
	fmt.Println(result.String())
	return nil
}
