package core

import (
	"encoding/json"
	"strings"
	"testing"

	"courier/internal/types"
)

func TestDecodeJob_Valid(t *testing.T) {
	job, err := DecodeJob([]byte(`{"notification_id":"n1","user_id":"u1","template_code":"welcome","variables":{"name":"Ada","count":3,"ratio":0.5,"vip":true,"tags":["a"]}}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if job.NotificationID != "n1" || job.UserID != "u1" || job.TemplateCode != "welcome" {
		t.Errorf("unexpected job: %+v", job)
	}
	if _, ok := job.Variables["count"].(json.Number); !ok {
		t.Errorf("numbers should decode as json.Number, got %T", job.Variables["count"])
	}

	vars := types.StringifyVariables(job.Variables)
	want := map[string]string{"name": "Ada", "count": "3", "ratio": "0.5", "vip": "true", "tags": `["a"]`}
	for k, v := range want {
		if vars[k] != v {
			t.Errorf("variable %s: expected %q, got %q", k, v, vars[k])
		}
	}
}

func TestDecodeJob_VariablesOptional(t *testing.T) {
	job, err := DecodeJob([]byte(`{"notification_id":"n1","user_id":"u1","template_code":"welcome"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(types.StringifyVariables(job.Variables)) != 0 {
		t.Errorf("expected no variables, got %v", job.Variables)
	}
}

func TestDecodeJob_TrailingNewline(t *testing.T) {
	if _, err := DecodeJob([]byte("{\"notification_id\":\"n1\",\"user_id\":\"u1\",\"template_code\":\"t\"}\n")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestDecodeJob_Malformed(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantMsg string
	}{
		{"not json", `{`, "invalid job payload"},
		{"empty", ``, "invalid job payload"},
		{"missing template", `{"notification_id":"n1","user_id":"u1"}`, "template_code"},
		{"missing all", `{}`, "notification_id, user_id, template_code"},
		{"wrong type", `{"notification_id":1,"user_id":"u1","template_code":"t"}`, "invalid job payload"},
		{"trailing garbage", `{"notification_id":"n1","user_id":"u1","template_code":"t"}garbage`, "trailing data"},
		{"second object", `{"notification_id":"n1","user_id":"u1","template_code":"t"} {}`, "trailing data"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeJob([]byte(tt.body))
			if err == nil {
				t.Fatal("expected error")
			}
			if types.CodeOf(err) != types.ErrCodeValidationMalformedJob {
				t.Errorf("expected malformed job code, got %q", types.CodeOf(err))
			}
			if !strings.Contains(err.Error(), tt.wantMsg) {
				t.Errorf("expected %q in %q", tt.wantMsg, err.Error())
			}
		})
	}
}
