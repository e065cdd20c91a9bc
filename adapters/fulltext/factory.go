package fulltext

import (
	"github.com/amber7117/server-api/pkg/apierr"
	"github.com/amber7117/server-api/ports"
	"github.com/rs/zerolog"
)

// New returns the search index adapter registered under name. "none" and ""
// disable indexing and return a nil index.
func New(name string, logger zerolog.Logger) (ports.SearchIndex, error) {
	switch name {
	case "memory":
		return NewEngine(logger), nil
	case "none", "":
		return nil, nil
	default:
		return nil, &apierr.UnknownAdapterError{Kind: "Search", Name: name}
	}
}
