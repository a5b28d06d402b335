package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pharmacy-delivery/internal/driverclient"
	"pharmacy-delivery/internal/mylogger"
	"pharmacy-delivery/internal/tracking-service/core/domain/dto"
	"pharmacy-delivery/internal/tracking-service/core/domain/model"
)

// Simulates a driver device: takes a delivery, drives to the pharmacy and the customer
// while reporting its position, and walks the status forward up to the handoff.
func main() {
	baseURL := flag.String("base", "http://localhost:3002", "tracking service URL")
	token := flag.String("token", "", "driver JWT")
	deliveryID := flag.String("delivery", "", "delivery to accept; the nearest available one when empty")
	lat := flag.Float64("lat", 43.236, "start latitude")
	lng := flag.Float64("lng", 76.886, "start longitude")
	speed := flag.Float64("speed", DefaultSpeedMps, "speed in m/s")
	flag.Parse()

	if *token == "" {
		log.Fatal("Driver token is required")
	}

	appLogger := mylogger.NewWithWriter("DEBUG", os.Stdout).Action("driver_simulator")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client := driverclient.NewClient(*baseURL, *token, RequestTimeout)
	start := model.GeoPoint{Latitude: *lat, Longitude: *lng}

	delivery, err := take(ctx, client, *deliveryID, start)
	if err != nil {
		appLogger.Error("cannot take a delivery", err)
		os.Exit(1)
	}
	appLogger.Info("delivery accepted", "delivery_id", delivery.ID, "order_id", delivery.OrderID)

	source := newRouteSource(start, *speed)
	reporter := driverclient.NewReporter(client, delivery.ID, source, LocationUpdateInterval, RequestTimeout, appLogger)

	reportDone := make(chan error, 1)
	go func() { reportDone <- reporter.Run(ctx) }()

	legs := []struct {
		before []string
		target dto.Place
		after  []string
	}{
		{before: []string{"en_route_to_pickup"}, target: delivery.Pickup, after: []string{"arrived_at_pickup", "picked_up"}},
		{before: []string{"en_route_to_dropoff"}, target: delivery.Dropoff, after: []string{"arrived_at_dropoff"}},
	}

	for _, leg := range legs {
		if err := advance(ctx, client, delivery.ID, leg.before, appLogger); err != nil {
			appLogger.Error("status update failed", err)
			os.Exit(1)
		}

		arrived := source.Head(model.GeoPoint{Latitude: leg.target.Latitude, Longitude: leg.target.Longitude})
		select {
		case <-arrived:
		case <-ctx.Done():
			return
		}

		if err := advance(ctx, client, delivery.ID, leg.after, appLogger); err != nil {
			appLogger.Error("status update failed", err)
			os.Exit(1)
		}
	}

	appLogger.Info("waiting for the customer to confirm the handoff code")
	if err := <-reportDone; errors.Is(err, driverclient.ErrDeliveryNotActive) {
		appLogger.Info("delivery closed by the server")
	}
}

func take(ctx context.Context, client *driverclient.Client, deliveryID string, at model.GeoPoint) (dto.DeliveryResponse, error) {
	if deliveryID == "" {
		available, err := client.Available(ctx, at.Latitude, at.Longitude, 0)
		if err != nil {
			return dto.DeliveryResponse{}, err
		}
		if len(available) == 0 {
			return dto.DeliveryResponse{}, errors.New("no deliveries available nearby")
		}
		deliveryID = available[0].ID
	}
	return client.Accept(ctx, deliveryID)
}

func advance(ctx context.Context, client *driverclient.Client, deliveryID string, statuses []string, l mylogger.Logger) error {
	for _, status := range statuses {
		select {
		case <-time.After(StatusDelay):
		case <-ctx.Done():
			return ctx.Err()
		}
		if _, err := client.UpdateStatus(ctx, deliveryID, status); err != nil {
			return err
		}
		l.Info("status updated", "delivery_id", deliveryID, "status", status)
	}
	return nil
}
