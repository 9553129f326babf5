package utils_test

import (
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/mautops/formflow-gin/internal/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateID(t *testing.T) {
	assert.NoError(t, utils.ValidateID(uuid.NewString()))
	assert.NoError(t, utils.ValidateID("it-daily_log"))
	assert.Equal(t, utils.ErrEmptyID, utils.ValidateID(""))
	assert.Equal(t, utils.ErrInvalidIDFormat, utils.ValidateID("a/b"))
	assert.Equal(t, utils.ErrInvalidIDFormat, utils.ValidateID("1; DROP TABLE forms"))
	assert.Equal(t, utils.ErrIDTooLong, utils.ValidateID(strings.Repeat("a", 65)))
}

func TestValidateBlobName(t *testing.T) {
	id := uuid.NewString()
	assert.NoError(t, utils.ValidateBlobName(id))
	assert.NoError(t, utils.ValidateBlobName(id+".pdf"))
	assert.Error(t, utils.ValidateBlobName("../"+id+".pdf"))
	assert.Error(t, utils.ValidateBlobName("report.pdf"))
	assert.Error(t, utils.ValidateBlobName(""))
}

func TestTrimAndValidate(t *testing.T) {
	got, err := utils.TrimAndValidate("  hello\x00 world\n ", 20)
	require.NoError(t, err)
	assert.Equal(t, "hello world", got)

	_, err = utils.TrimAndValidate("   ", 20)
	assert.Equal(t, utils.ErrEmptyString, err)

	_, err = utils.TrimAndValidate(strings.Repeat("é", 21), 20)
	assert.Equal(t, utils.ErrStringTooLong, err)
}

func TestCheckLength(t *testing.T) {
	got, err := utils.CheckLength("", 10)
	require.NoError(t, err)
	assert.Empty(t, got)

	got, err = utils.CheckLength("tab\tkept\x07", 10)
	require.NoError(t, err)
	assert.Equal(t, "tab\tkept", got)
}
