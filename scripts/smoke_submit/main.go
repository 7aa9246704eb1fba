// Command smoke_submit drives one submission through a running API and
// reports each step. It exits non-zero when any step fails.
package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"time"
)

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type stepResult struct {
	Name     string
	Status   int
	Duration time.Duration
	Err      error
}

type runner struct {
	client  *http.Client
	base    string
	results []stepResult
}

func main() {
	var (
		base    string
		target  string
		timeout time.Duration
	)
	flag.StringVar(&base, "base", "http://localhost:8080/api", "API base URL including the route prefix")
	flag.StringVar(&target, "target", "SMOKE "+time.Now().UTC().Format("20060102T150405"), "target name for the smoke submission")
	flag.DurationVar(&timeout, "timeout", 5*time.Second, "HTTP client timeout")
	flag.Parse()

	r := &runner{client: &http.Client{Timeout: timeout}, base: strings.TrimRight(base, "/")}
	if err := r.run(target); err != nil {
		log.Printf("smoke run aborted: %v", err)
	}
	printReport(r.results)

	for _, res := range r.results {
		if res.Err != nil {
			os.Exit(1)
		}
	}
}

func (r *runner) run(target string) error {
	var submitted struct {
		Submission struct {
			ID string `json:"id"`
		} `json:"submission"`
	}
	payload := map[string]string{
		"targetName":  target,
		"carbonRatio": "0.50 ± 0.05",
		"reference":   "smoke test",
		"notes":       "created by smoke_submit",
	}
	if err := r.step("submit", http.MethodPost, "/submit", payload, http.StatusCreated, &submitted); err != nil {
		return err
	}
	id := submitted.Submission.ID
	if id == "" {
		return errors.New("submit returned no id")
	}

	var pending []struct {
		ID string `json:"id"`
	}
	if err := r.step("list pending", http.MethodGet, "/submissions?status=pending", nil, http.StatusOK, &pending); err != nil {
		return err
	}
	r.check("pending contains submission", containsID(len(pending), func(i int) string { return pending[i].ID }, id))

	var approved struct {
		Measurement struct {
			ID                 string `json:"id"`
			SourceSubmissionID string `json:"sourceSubmissionId"`
		} `json:"measurement"`
	}
	review := map[string]string{"reviewerNotes": "smoke approval"}
	if err := r.step("approve", http.MethodPost, "/approve/"+id, review, http.StatusOK, &approved); err != nil {
		return err
	}
	r.check("measurement links source", expect(approved.Measurement.SourceSubmissionID == id, "source %q, want %q", approved.Measurement.SourceSubmissionID, id))

	_ = r.step("second review rejected", http.MethodPost, "/reject/"+id, review, http.StatusConflict, nil)

	var published []struct {
		ID string `json:"id"`
	}
	if err := r.step("list approved", http.MethodGet, "/approved", nil, http.StatusOK, &published); err != nil {
		return err
	}
	r.check("approved contains measurement", containsID(len(published), func(i int) string { return published[i].ID }, approved.Measurement.ID))

	body, err := r.raw("export csv", http.MethodGet, "/approved/export?format=csv", http.StatusOK)
	if err != nil {
		return err
	}
	r.check("export lists target", expect(bytes.Contains(body, []byte(target)), "target %q missing from export", target))
	return nil
}

func (r *runner) step(name, method, path string, body interface{}, want int, dest interface{}) error {
	start := time.Now()
	status, payload, err := r.do(method, path, body)
	res := stepResult{Name: name, Status: status, Duration: time.Since(start), Err: err}
	if err == nil && status != want {
		res.Err = fmt.Errorf("status %d, want %d: %s", status, want, strings.TrimSpace(string(payload)))
	}
	if res.Err == nil && dest != nil {
		var env envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			res.Err = fmt.Errorf("decode envelope: %w", err)
		} else if err := json.Unmarshal(env.Data, dest); err != nil {
			res.Err = fmt.Errorf("decode data: %w", err)
		}
	}
	r.results = append(r.results, res)
	return res.Err
}

func (r *runner) raw(name, method, path string, want int) ([]byte, error) {
	start := time.Now()
	status, payload, err := r.do(method, path, nil)
	res := stepResult{Name: name, Status: status, Duration: time.Since(start), Err: err}
	if err == nil && status != want {
		res.Err = fmt.Errorf("status %d, want %d", status, want)
	}
	r.results = append(r.results, res)
	return payload, res.Err
}

func (r *runner) check(name string, err error) {
	r.results = append(r.results, stepResult{Name: name, Err: err})
}

func (r *runner) do(method, path string, body interface{}) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, r.base+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("read body: %w", err)
	}
	return resp.StatusCode, payload, nil
}

func containsID(n int, at func(int) string, id string) error {
	for i := 0; i < n; i++ {
		if at(i) == id {
			return nil
		}
	}
	return fmt.Errorf("id %s not found among %d records", id, n)
}

func expect(ok bool, format string, args ...interface{}) error {
	if ok {
		return nil
	}
	return fmt.Errorf(format, args...)
}

func printReport(results []stepResult) {
	fmt.Println("Submission Smoke Report")
	fmt.Println("=======================")
	failed := 0
	for _, res := range results {
		status := "OK"
		if res.Err != nil {
			status = "FAIL"
			failed++
		}
		if res.Status != 0 {
			fmt.Printf("[%s] %s (HTTP %d, %s)\n", status, res.Name, res.Status, res.Duration)
		} else {
			fmt.Printf("[%s] %s\n", status, res.Name)
		}
		if res.Err != nil {
			fmt.Printf("  Error: %v\n", res.Err)
		}
	}
	fmt.Printf("Steps: %d, Failed: %d\n", len(results), failed)
}
