package models

import (
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// ChatRequest is the body of POST /chat.
type ChatRequest struct {
	Message string `json:"message" validate:"required,max=32000"`
	Model   string `json:"model" validate:"omitempty,max=200"`
}

func (r *ChatRequest) Validate() error {
	return validate.Struct(r)
}

// ChatResponse is the answer of POST /chat.
type ChatResponse struct {
	Response string `json:"response"`
	Model    string `json:"model"`
}

// InstallRequest is the body of POST /api/models/install.
type InstallRequest struct {
	Model string `json:"model" validate:"required,max=200"`
}

func (r *InstallRequest) Validate() error {
	return validate.Struct(r)
}
