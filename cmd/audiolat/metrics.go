package main

import (
	"context"
	"errors"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/gen2brain/audiolat"
)

// newMetrics bridges the run instruments to a Prometheus scrape handler.
// The returned function unregisters the instruments and shuts the provider down.
func newMetrics(src audiolat.StatsSource) (http.Handler, func(context.Context) error, error) {
	res, err := resource.Merge(
		resource.Default(),
		// Schemaless, so the merge never conflicts with the SDK default schema.
		resource.NewSchemaless(semconv.ServiceName("audiolat")),
	)
	if err != nil {
		return nil, nil, err
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, nil, err
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)

	reg, err := audiolat.RegisterMetrics(mp, src)
	if err != nil {
		return nil, nil, errors.Join(err, mp.Shutdown(context.Background()))
	}

	shutdown := func(ctx context.Context) error {
		return errors.Join(reg.Unregister(), mp.Shutdown(ctx))
	}

	return promhttp.Handler(), shutdown, nil
}
