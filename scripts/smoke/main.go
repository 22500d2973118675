// Command smoke probes a running coursereg-api instance and reports status
// and latency per endpoint. Intended for post-deploy checks.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type target struct {
	Method   string `json:"method"`
	Path     string `json:"path"`
	Expect   int    `json:"expect"`
	Critical bool   `json:"critical"`
}

var defaultTargets = []target{
	{Method: http.MethodGet, Path: "/health", Expect: http.StatusOK, Critical: true},
	{Method: http.MethodGet, Path: "/ready", Expect: http.StatusOK, Critical: true},
	{Method: http.MethodGet, Path: "/metrics", Expect: http.StatusOK},
	{Method: http.MethodGet, Path: "/api/v1/sessions/current", Expect: http.StatusUnauthorized},
	{Method: http.MethodGet, Path: "/api/v1/courses", Expect: http.StatusUnauthorized},
	{Method: http.MethodGet, Path: "/api/v1/registrations", Expect: http.StatusUnauthorized},
}

func main() {
	var (
		base        string
		targetsPath string
		token       string
		timeout     time.Duration
	)

	flag.StringVar(&base, "base", "http://localhost:8080", "API base URL")
	flag.StringVar(&targetsPath, "targets", "", "Optional JSON targets file")
	flag.StringVar(&token, "token", "", "Optional bearer token; authenticated targets expect 200 when set")
	flag.DurationVar(&timeout, "timeout", 10*time.Second, "Per-request timeout")
	flag.Parse()

	targets := defaultTargets
	if targetsPath != "" {
		data, err := os.ReadFile(targetsPath)
		if err != nil {
			log.Fatalf("failed to read targets: %v", err)
		}
		if err := json.Unmarshal(data, &targets); err != nil {
			log.Fatalf("failed to parse targets: %v", err)
		}
	}

	client := &http.Client{Timeout: timeout}
	failedCritical := false

	for _, t := range targets {
		req, err := http.NewRequest(t.Method, base+t.Path, nil)
		if err != nil {
			log.Fatalf("bad target %s %s: %v", t.Method, t.Path, err)
		}
		if token != "" {
			req.Header.Set("Authorization", "Bearer "+token)
		}

		expect := t.Expect
		if token != "" && expect == http.StatusUnauthorized {
			expect = http.StatusOK
		}

		start := time.Now()
		resp, err := client.Do(req)
		elapsed := time.Since(start)
		if err != nil {
			fmt.Printf("FAIL %-6s %-40s error=%v\n", t.Method, t.Path, err)
			if t.Critical {
				failedCritical = true
			}
			continue
		}
		resp.Body.Close()

		mark := "ok  "
		if resp.StatusCode != expect {
			mark = "FAIL"
			if t.Critical {
				failedCritical = true
			}
		}
		fmt.Printf("%s %-6s %-40s status=%d expect=%d latency=%s\n", mark, t.Method, t.Path, resp.StatusCode, expect, elapsed.Round(time.Millisecond))
	}

	if failedCritical {
		os.Exit(1)
	}
}
