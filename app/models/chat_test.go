package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChatRequestValidate(t *testing.T) {
	assert.NoError(t, (&ChatRequest{Message: "hi"}).Validate())
	assert.NoError(t, (&ChatRequest{Message: "hi", Model: "gemma2:2b"}).Validate())
	assert.Error(t, (&ChatRequest{}).Validate())
	assert.Error(t, (&ChatRequest{Message: "hi", Model: strings.Repeat("m", 201)}).Validate())
}

func TestInstallRequestValidate(t *testing.T) {
	assert.NoError(t, (&InstallRequest{Model: "gemma2:2b"}).Validate())
	assert.Error(t, (&InstallRequest{}).Validate())
}
