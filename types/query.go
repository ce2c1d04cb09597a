package types

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

type Validater interface {
	Validate() map[string]string
}

type ChatParams struct {
	Question     string `json:"question" validate:"required"`
	CollectionID string `json:"collection_id" validate:"required"`
	TopK         int    `json:"top_k"`
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

func (params *ChatParams) Validate() map[string]string {
	validate := validator.New()
	if err := validate.Struct(params); err != nil {
		errs := err.(validator.ValidationErrors)
		errors := make(map[string]string)
		for _, e := range errs {
			errors[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
		}
		return errors
	}
	return nil
}

type Citation struct {
	ChunkID    string  `json:"chunk_id"`
	DocumentID string  `json:"document_id"`
	Filename   string  `json:"filename"`
	Page       *int    `json:"page"`
	ChunkIndex int     `json:"chunk_index"`
	Distance   float64 `json:"distance"`
	Snippet    string  `json:"snippet"`
}

type ChatResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Timestamp time.Time  `json:"timestamp"`
}

type UploadResponse struct {
	DocumentID    string `json:"document_id"`
	Filename      string `json:"filename"`
	CollectionID  string `json:"collection_id"`
	ChunksIndexed int    `json:"chunks_indexed"`
}
