package service

import "errors"

var (
	errEmptyEmbedding      = errors.New("provider returned an empty embedding")
	errEmbeddingDimensions = errors.New("unexpected embedding dimensions")
)
