package support

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MeKo-Tech/snaprec/internal/failure"
	"github.com/MeKo-Tech/snaprec/internal/pipeline"
	"github.com/cucumber/godog"
	"github.com/disintegration/imaging"
)

// RegisterPipelineSteps registers the controller-level steps.
func (tc *TestContext) RegisterPipelineSteps(sc *godog.ScenarioContext) {
	sc.Step(`^a recognition service that answers "([^"]*)"$`, tc.serviceAnswers)
	sc.Step(`^a recognition service that answers with body '([^']*)'$`, tc.serviceAnswersBody)
	sc.Step(`^a recognition service that fails with status (\d+)$`, tc.serviceFails)
	sc.Step(`^a recognition service that never answers$`, tc.serviceHangs)
	sc.Step(`^a recognition service that holds requests$`, tc.serviceHolds)
	sc.Step(`^an unreachable recognition service$`, tc.serviceUnreachable)
	sc.Step(`^uploads time out after (\d+) seconds?$`, tc.uploadTimeout)
	sc.Step(`^a payload ceiling of (\d+) bytes$`, tc.payloadCeiling)
	sc.Step(`^the pipeline is started$`, tc.StartPipeline)

	sc.Step(`^a (\d+)x(\d+) (PNG|JPEG) capture named "([^"]*)"$`, tc.quadrantCapture)
	sc.Step(`^a capture containing the text "([^"]*)"$`, tc.garbageCapture)
	sc.Step(`^the capture uses the "([^"]*)" filter$`, tc.SetFilter)
	sc.Step(`^the capture is tagged "([^"]*)"$`, tc.SetOrientation)

	sc.Step(`^I submit the capture$`, tc.submit)
	sc.Step(`^I submit the capture and wait$`, tc.submitAndWait)
	sc.Step(`^I submit another capture$`, tc.submitAnother)
	sc.Step(`^I release the recognition service$`, tc.release)
	sc.Step(`^I wait for the run$`, tc.Wait)
	sc.Step(`^I clear the history$`, tc.clearHistory)
	sc.Step(`^I close the pipeline$`, tc.closePipeline)

	sc.Step(`^the run completes$`, tc.runCompletes)
	sc.Step(`^the run fails with "([^"]*)"$`, tc.runFailsWith)
	sc.Step(`^the failure reason is "([^"]*)"$`, tc.failureReasonIs)
	sc.Step(`^the failure reason mentions "([^"]*)"$`, tc.failureReasonMentions)
	sc.Step(`^the submission is rejected as busy$`, tc.rejectedBusy)
	sc.Step(`^the submission is rejected as closed$`, tc.rejectedClosed)
	sc.Step(`^the state sequence is "([^"]*)"$`, tc.stateSequence)
	sc.Step(`^the pipeline is (idle|processing|uploading|completed|failed)$`, tc.pipelineState)
	sc.Step(`^the result text is "([^"]*)"$`, tc.resultText)
	sc.Step(`^the result filter is "([^"]*)"$`, tc.resultFilter)
	sc.Step(`^the uploaded image is (\d+)x(\d+)$`, tc.uploadedSize)
	sc.Step(`^the history holds (\d+) results?$`, tc.historyHolds)
	sc.Step(`^the newest result text is "([^"]*)"$`, tc.newestResult)
	sc.Step(`^the recognition service received (\d+) requests?$`, tc.serviceReceived)
	sc.Step(`^the upload used model "([^"]*)" with a JPEG data URI$`, tc.uploadEnvelope)
}

func (tc *TestContext) serviceAnswers(text string) error {
	tc.Recognizer.AnswerText(text)
	return nil
}

func (tc *TestContext) serviceAnswersBody(body string) error {
	tc.Recognizer.Answer(http.StatusOK, body)
	return nil
}

func (tc *TestContext) serviceFails(status int) error {
	tc.Recognizer.Answer(status, `{"error":"scripted failure"}`)
	return nil
}

func (tc *TestContext) serviceHangs() error {
	tc.Recognizer.Hang()
	return nil
}

func (tc *TestContext) serviceHolds() error {
	tc.Recognizer.Hold()
	return nil
}

func (tc *TestContext) serviceUnreachable() error {
	// A closed listener refuses connections.
	url := tc.Recognizer.Endpoint()
	tc.Recognizer.Server.Close()
	tc.endpoint = url
	return nil
}

func (tc *TestContext) uploadTimeout(seconds int) error {
	tc.readTimeout = time.Duration(seconds) * time.Second
	return nil
}

func (tc *TestContext) payloadCeiling(n int) error {
	tc.payloadLimit = n
	return nil
}

func (tc *TestContext) quadrantCapture(w, h int, format, name string) error {
	f := imaging.PNG
	if format == "JPEG" {
		f = imaging.JPEG
	}
	return tc.SetQuadrantCapture(w, h, f, name)
}

func (tc *TestContext) garbageCapture(text string) error {
	tc.Capture.Data = []byte(text)
	tc.Capture.Source = "garbage.bin"
	return nil
}

func (tc *TestContext) submit() error {
	tc.Submit()
	if tc.LastErr != nil {
		return fmt.Errorf("submit failed: %w", tc.LastErr)
	}
	return nil
}

func (tc *TestContext) submitAndWait() error {
	if err := tc.submit(); err != nil {
		return err
	}
	return tc.Wait()
}

// submitAnother submits without failing the step, so rejections can be asserted.
func (tc *TestContext) submitAnother() error {
	first := tc.LastRun
	tc.LastRun, tc.LastErr = tc.Controller.Submit(context.Background(), tc.Capture)
	if tc.LastRun == nil {
		tc.LastRun = first
	}
	return nil
}

func (tc *TestContext) release() error {
	tc.Recognizer.Release()
	return nil
}

func (tc *TestContext) clearHistory() error {
	tc.Controller.ClearHistory()
	return nil
}

func (tc *TestContext) closePipeline() error {
	return tc.Controller.Close()
}

func (tc *TestContext) runCompletes() error {
	if tc.LastSnapshot.State != pipeline.StateCompleted {
		return fmt.Errorf("expected completed, got %s (%s)", tc.LastSnapshot.State, tc.LastSnapshot.Reason)
	}
	if tc.LastErr != nil {
		return fmt.Errorf("completed run returned error: %w", tc.LastErr)
	}
	return nil
}

func (tc *TestContext) runFailsWith(kind string) error {
	if tc.LastSnapshot.State != pipeline.StateFailed {
		return fmt.Errorf("expected failed, got %s", tc.LastSnapshot.State)
	}
	if string(tc.LastSnapshot.Kind) != kind {
		return fmt.Errorf("expected kind %s, got %s (%s)", kind, tc.LastSnapshot.Kind, tc.LastSnapshot.Reason)
	}
	if failure.KindOf(tc.LastErr) != failure.Kind(kind) {
		return fmt.Errorf("run error has kind %s, want %s", failure.KindOf(tc.LastErr), kind)
	}
	return nil
}

func (tc *TestContext) failureReasonIs(reason string) error {
	if tc.LastSnapshot.Reason != reason {
		return fmt.Errorf("expected reason %q, got %q", reason, tc.LastSnapshot.Reason)
	}
	return nil
}

func (tc *TestContext) failureReasonMentions(s string) error {
	if !strings.Contains(tc.LastSnapshot.Reason, s) {
		return fmt.Errorf("reason %q does not mention %q", tc.LastSnapshot.Reason, s)
	}
	return nil
}

func (tc *TestContext) rejectedBusy() error {
	if !errors.Is(tc.LastErr, pipeline.ErrBusy) {
		return fmt.Errorf("expected ErrBusy, got %v", tc.LastErr)
	}
	return nil
}

func (tc *TestContext) rejectedClosed() error {
	if !errors.Is(tc.LastErr, pipeline.ErrClosed) {
		return fmt.Errorf("expected ErrClosed, got %v", tc.LastErr)
	}
	return nil
}

func (tc *TestContext) stateSequence(want string) error {
	got, err := tc.ObservedStates()
	if err != nil {
		return err
	}
	parts := strings.Split(want, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	if strings.Join(got, ",") != strings.Join(parts, ",") {
		return fmt.Errorf("expected states %v, got %v", parts, got)
	}
	return nil
}

func (tc *TestContext) pipelineState(state string) error {
	if got := tc.Controller.State(); string(got) != state {
		return fmt.Errorf("expected state %s, got %s", state, got)
	}
	return nil
}

func (tc *TestContext) resultText(text string) error {
	if tc.LastSnapshot.Result == nil {
		return fmt.Errorf("no result (state %s, reason %q)", tc.LastSnapshot.State, tc.LastSnapshot.Reason)
	}
	if tc.LastSnapshot.Result.Text != text {
		return fmt.Errorf("expected text %q, got %q", text, tc.LastSnapshot.Result.Text)
	}
	return nil
}

func (tc *TestContext) resultFilter(filter string) error {
	if tc.LastSnapshot.Filter != filter {
		return fmt.Errorf("expected filter %q, got %q", filter, tc.LastSnapshot.Filter)
	}
	return nil
}

func (tc *TestContext) uploadedSize(w, h int) error {
	if tc.LastSnapshot.Width != w || tc.LastSnapshot.Height != h {
		return fmt.Errorf("expected %dx%d, got %dx%d", w, h, tc.LastSnapshot.Width, tc.LastSnapshot.Height)
	}
	return nil
}

func (tc *TestContext) historyHolds(n int) error {
	if got := tc.History.Len(); got != n {
		return fmt.Errorf("expected %d results, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) newestResult(text string) error {
	recent := tc.History.Recent(1)
	if len(recent) == 0 {
		return errors.New("history is empty")
	}
	if recent[0].Text != text {
		return fmt.Errorf("expected newest %q, got %q", text, recent[0].Text)
	}
	return nil
}

func (tc *TestContext) serviceReceived(n int) error {
	if got := tc.Recognizer.Calls(); got != n {
		return fmt.Errorf("expected %d requests, got %d", n, got)
	}
	return nil
}

func (tc *TestContext) uploadEnvelope(model string) error {
	req := tc.Recognizer.LastRequest()
	if req == nil {
		return errors.New("no upload received")
	}
	if req["model"] != model {
		return fmt.Errorf("expected model %q, got %v", model, req["model"])
	}
	raw := fmt.Sprint(req["messages"])
	if !strings.Contains(raw, "data:image/jpeg;base64,") {
		return errors.New("upload carries no JPEG data URI")
	}
	return nil
}
