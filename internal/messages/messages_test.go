package messages_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"gas/internal/messages"
	"gas/internal/services"
)

func TestEncodeWrapsPayloadInDefault(t *testing.T) {
	body, err := messages.Encode(messages.JobEvent{JobID: "J1", InputFileName: "a.vcf", UserID: "U1"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var outer map[string]string
	if err := json.Unmarshal(body, &outer); err != nil {
		t.Fatalf("outer is not an object of strings: %v", err)
	}
	inner, ok := outer["default"]
	if !ok || len(outer) != 1 {
		t.Fatalf("expected only a default field, got %v", outer)
	}
	if !strings.Contains(inner, `"job_id":"J1"`) {
		t.Fatalf("unexpected inner payload %s", inner)
	}
}

func TestDecodeAcceptsFanoutEnvelope(t *testing.T) {
	inner := `{"job_id":"J1","input_file_name":"a.vcf","user_id":"U1"}`
	defaultForm, _ := json.Marshal(map[string]string{"default": inner})
	fanout, _ := json.Marshal(map[string]string{"Type": "Notification", "Message": string(defaultForm)})
	direct, _ := json.Marshal(map[string]string{"Message": inner})

	for name, body := range map[string][]byte{"default": defaultForm, "fanout": fanout, "message": direct} {
		t.Run(name, func(t *testing.T) {
			var event messages.JobEvent
			if err := messages.Decode(body, &event); err != nil {
				t.Fatalf("Decode: %v", err)
			}
			if event.JobID != "J1" || event.UserID != "U1" || event.InputFileName != "a.vcf" {
				t.Fatalf("unexpected event %+v", event)
			}
		})
	}
}

func TestDecodeRejectsMalformedBodies(t *testing.T) {
	cases := map[string]string{
		"not json":      "hello",
		"no envelope":   `{"job_id":"J1"}`,
		"inner garbage": `{"default":"{not json"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			var event messages.JobEvent
			err := messages.Decode([]byte(body), &event)
			if !errors.Is(err, services.ErrValidation) {
				t.Fatalf("expected validation error, got %v", err)
			}
		})
	}
}

func TestProcessingRequestWireNames(t *testing.T) {
	body := `{"default":"{\"job_id\":\"J1\",\"user_id\":\"U1\",\"input_file_name\":\"a.vcf\",\"s3_inputs_bucket\":\"in\",\"s3_key_input_file\":\"uploads/U1/J1~a.vcf\",\"submit_time\":1700000000,\"job_status\":\"PENDING\"}"}`
	var req messages.ProcessingRequest
	if err := messages.Decode([]byte(body), &req); err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if err := req.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if req.InputsBucket != "in" || req.InputKey != "uploads/U1/J1~a.vcf" || req.SubmitTime != 1_700_000_000 {
		t.Fatalf("unexpected request %+v", req)
	}
}

func TestValidateReportsMissingFields(t *testing.T) {
	err := messages.ProcessingRequest{JobID: "J1"}.Validate()
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !strings.Contains(err.Error(), "input_file_name") || !strings.Contains(err.Error(), "s3_key_input_file") {
		t.Fatalf("expected missing field names in %q", err)
	}
	if err := (messages.ProcessingRequest{JobID: "J", InputFileName: "f", InputsBucket: "b", InputKey: "k", JobStatus: "RUNNING"}).Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected non-pending status to be rejected, got %v", err)
	}
	if err := (messages.TierUpgrade{}).Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected missing user to be rejected, got %v", err)
	}
	if err := (messages.RetrievalFinished{RetrievalID: "R"}).Validate(); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected missing description to be rejected, got %v", err)
	}
}
