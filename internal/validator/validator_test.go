package validator

import (
	"testing"

	"github.com/SAP-F-2025/live-session-service/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type answerRequest struct {
	QuestionID string               `json:"question_id" validate:"required,question_id,max=255"`
	Status     models.AttemptStatus `json:"status" validate:"omitempty,attempt_status"`
}

func TestValidator_CustomRules(t *testing.T) {
	v := New()

	assert.NoError(t, v.Validate(answerRequest{QuestionID: "q1", Status: models.AttemptSubmitted}))
	assert.NoError(t, v.Validate(answerRequest{QuestionID: "q1"}))

	err := v.Validate(answerRequest{QuestionID: "   ", Status: "DONE"})
	require.Error(t, err)

	errs, ok := err.(ValidationErrors)
	require.True(t, ok)
	require.Len(t, errs, 2)

	// json tag names are reported
	assert.Equal(t, "question_id", errs[0].Field)
	assert.Equal(t, "question_id", errs[0].Rule)
	assert.Equal(t, "status", errs[1].Field)
	assert.Contains(t, errs[1].Message, "valid attempt status")
}
