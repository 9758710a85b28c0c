package tool

import (
	"github.com/m-mizutani/burrow/pkg/adapter"
	"github.com/m-mizutani/burrow/pkg/repository"
)

// Client contains shared resources that tools can use. Any field may be nil.
type Client struct {
	Repo     repository.Repository
	Embedder adapter.Embedder
}
