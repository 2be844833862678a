package support

import (
	"fmt"
	"strings"
	"time"

	"github.com/cucumber/godog"
)

// RegisterServerSteps registers the HTTP capture API steps.
func (tc *TestContext) RegisterServerSteps(sc *godog.ScenarioContext) {
	sc.Step(`^the capture server is running$`, tc.StartServer)
	sc.Step(`^I POST the capture to "([^"]*)"$`, tc.postCapture)
	sc.Step(`^I send a (GET|DELETE) request to "([^"]*)"$`, tc.sendRequest)
	sc.Step(`^the pipeline settles$`, tc.pipelineSettles)
	sc.Step(`^the response status is (\d+)$`, tc.responseStatus)
	sc.Step(`^the response field "([^"]*)" is "([^"]*)"$`, tc.responseField)
	sc.Step(`^the response field "([^"]*)" contains "([^"]*)"$`, tc.responseFieldContains)
	sc.Step(`^the response content type is "([^"]*)"$`, tc.responseContentType)
	sc.Step(`^the response header "([^"]*)" is "([^"]*)"$`, tc.responseHeader)
}

func (tc *TestContext) postCapture(path string) error {
	name := tc.Capture.Source
	if name == "" {
		name = "capture.png"
	}
	return tc.HTTP.PostCapture(path, name, tc.Capture.Data)
}

func (tc *TestContext) sendRequest(method, path string) error {
	return tc.HTTP.Do(method, path, nil, "")
}

// pipelineSettles waits for an asynchronously submitted run to end.
func (tc *TestContext) pipelineSettles() error {
	deadline := time.Now().Add(waitTimeout)
	for time.Now().Before(deadline) {
		if tc.Controller.State().Terminal() && !tc.Controller.Busy() {
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return fmt.Errorf("pipeline still %s", tc.Controller.State())
}

func (tc *TestContext) responseStatus(code int) error {
	if tc.HTTP.StatusCode != code {
		return fmt.Errorf("expected status %d, got %d: %s", code, tc.HTTP.StatusCode, tc.HTTP.Body)
	}
	return nil
}

func (tc *TestContext) responseField(path, want string) error {
	got, err := tc.HTTP.Field(path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %s = %q, got %q", path, want, got)
	}
	return nil
}

func (tc *TestContext) responseFieldContains(path, want string) error {
	got, err := tc.HTTP.Field(path)
	if err != nil {
		return err
	}
	if !strings.Contains(got, want) {
		return fmt.Errorf("expected %s to contain %q, got %q", path, want, got)
	}
	return nil
}

func (tc *TestContext) responseContentType(want string) error {
	if got := tc.HTTP.Header.Get("Content-Type"); !strings.HasPrefix(got, want) {
		return fmt.Errorf("expected content type %q, got %q", want, got)
	}
	return nil
}

func (tc *TestContext) responseHeader(name, want string) error {
	if got := tc.HTTP.Header.Get(name); got != want {
		return fmt.Errorf("expected header %s = %q, got %q", name, want, got)
	}
	return nil
}
