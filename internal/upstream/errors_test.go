package upstream

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatError(t *testing.T) {
	err := NewFormatError("gemini", "response is not an interval list", io.ErrUnexpectedEOF)

	assert.ErrorIs(t, err, ErrFormat)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
	assert.Equal(t, "gemini: response is not an interval list: unexpected EOF", err.Error())

	wrapped := errors.Join(errors.New("detect"), err)
	assert.ErrorIs(t, wrapped, ErrFormat)
}

func TestFormatError_NoCause(t *testing.T) {
	err := NewFormatError("runpod-whisper", "no transcription results", nil)
	assert.Equal(t, "runpod-whisper: no transcription results", err.Error())
	assert.Nil(t, errors.Unwrap(err))
}
