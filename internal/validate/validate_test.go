package validate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/user/appforge/internal/apperr"
)

type sample struct {
	Name  string  `json:"name" validate:"required"`
	Kind  string  `json:"kind" validate:"oneof=a b"`
	Score float64 `json:"score" validate:"gte=0,lte=1"`
}

func TestStruct(t *testing.T) {
	require.NoError(t, Struct(sample{Name: "x", Kind: "a", Score: 0.5}))

	err := Struct(sample{Kind: "c", Score: 2})
	require.Error(t, err)
	assert.ErrorIs(t, err, apperr.ErrValidation)
	assert.Contains(t, err.Error(), "name is required")
	assert.Contains(t, err.Error(), "kind must be one of: a b")
	assert.Contains(t, err.Error(), "score must be at most 1")
}
