package internal

import "context"

type EnrichmentProvider interface {
	// Descriptor names the provider in logs and metric labels.
	Descriptor() string
	// Enrich makes a best-effort attempt to improve the show's description and poster.
	// On error the returned show is the input unchanged.
	Enrich(ctx context.Context, show Show) (Show, error)
}
