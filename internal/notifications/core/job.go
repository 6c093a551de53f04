package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"courier/internal/types"
)

var jobValidator = validator.New()

// DecodeJob parses and validates a queue message body. Numbers are kept as
// json.Number so template variables render without float formatting. The body
// must hold exactly one JSON object. Any failure is an
// ErrCodeValidationMalformedJob AppError.
func DecodeJob(body []byte) (types.JobRequest, error) {
	var job types.JobRequest

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	if err := dec.Decode(&job); err != nil {
		return types.JobRequest{}, types.NewAppError(types.ErrCodeValidationMalformedJob,
			fmt.Sprintf("invalid job payload: %v", err), err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return types.JobRequest{}, types.NewAppError(types.ErrCodeValidationMalformedJob,
			"invalid job payload: trailing data after job object", err)
	}

	if err := jobValidator.Struct(job); err != nil {
		return types.JobRequest{}, types.NewAppErrorWithDetails(types.ErrCodeValidationMalformedJob,
			"invalid job payload: "+describeValidation(err), err,
			map[string]any{"notification_id": job.NotificationID})
	}
	return job, nil
}

// describeValidation lists the failing json field names.
func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	fields := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, jsonFieldName(fe.Field()))
	}
	return "missing required field(s): " + strings.Join(fields, ", ")
}

func jsonFieldName(goName string) string {
	switch goName {
	case "NotificationID":
		return "notification_id"
	case "UserID":
		return "user_id"
	case "TemplateCode":
		return "template_code"
	}
	return goName
}
