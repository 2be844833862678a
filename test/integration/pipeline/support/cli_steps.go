package support

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/MeKo-Tech/snaprec/cmd/snaprec/cmd"
	"github.com/cucumber/godog"
)

// RegisterCLISteps registers steps that drive the snaprec command tree.
func (tc *TestContext) RegisterCLISteps(sc *godog.ScenarioContext) {
	sc.Step(`^the capture is saved as "([^"]*)"$`, tc.saveCapture)
	sc.Step(`^I run snaprec "([^"]*)"$`, tc.runSnaprec)
	sc.Step(`^the command succeeds$`, tc.commandSucceeds)
	sc.Step(`^the command fails$`, tc.commandFails)
	sc.Step(`^the output contains "([^"]*)"$`, tc.outputContains)
	sc.Step(`^the JSON output field "([^"]*)" is "([^"]*)"$`, tc.jsonOutputField)
	sc.Step(`^the error mentions "([^"]*)"$`, tc.errorMentions)
}

func (tc *TestContext) saveCapture(name string) error {
	path, err := tc.WriteCaptureFile(name)
	if err != nil {
		return err
	}
	tc.capturePath = path
	return nil
}

// runSnaprec executes one command line in-process. "{capture}" expands to
// the saved capture file.
func (tc *TestContext) runSnaprec(line string) error {
	line = strings.ReplaceAll(line, "{capture}", tc.capturePath)
	args := strings.Fields(line)

	endpoint := tc.Recognizer.Endpoint()
	if tc.endpoint != "" {
		endpoint = tc.endpoint
	}
	tc.Setenv("SNAPREC_RECOGNITION_ENDPOINT", endpoint)
	tc.Setenv("SNAPREC_RECOGNITION_MODEL", "test-vision")
	tc.Setenv("NO_COLOR", "1")

	prev := slog.Default()
	defer slog.SetDefault(prev)

	root := cmd.NewRootCommand()
	var out, errOut bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)

	tc.CLIErr = root.ExecuteContext(context.Background())
	tc.CLIOutput = out.String()
	tc.CLIStderr = errOut.String()
	return nil
}

func (tc *TestContext) commandSucceeds() error {
	if tc.CLIErr != nil {
		return fmt.Errorf("command failed: %w\n%s", tc.CLIErr, tc.CLIStderr)
	}
	return nil
}

func (tc *TestContext) commandFails() error {
	if tc.CLIErr == nil {
		return fmt.Errorf("command succeeded unexpectedly:\n%s", tc.CLIOutput)
	}
	return nil
}

func (tc *TestContext) outputContains(s string) error {
	if !strings.Contains(tc.CLIOutput, s) {
		return fmt.Errorf("output does not contain %q:\n%s", s, tc.CLIOutput)
	}
	return nil
}

func (tc *TestContext) errorMentions(s string) error {
	if tc.CLIErr == nil || !strings.Contains(tc.CLIErr.Error(), s) {
		return fmt.Errorf("expected error mentioning %q, got %v", s, tc.CLIErr)
	}
	return nil
}

func (tc *TestContext) jsonOutputField(path, want string) error {
	got, err := jsonField([]byte(tc.CLIOutput), path)
	if err != nil {
		return err
	}
	if got != want {
		return fmt.Errorf("expected %s = %q, got %q", path, want, got)
	}
	return nil
}
