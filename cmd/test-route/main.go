package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"

	"github.com/dpup/drive.ersn.net/server/internal/clients/kakao"
	"github.com/dpup/drive.ersn.net/server/internal/clients/osrm"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/services"
)

func main() {
	var (
		apiKey    = flag.String("api-key", "", "Kakao REST API key (or set KAKAO_REST_API_KEY env var)")
		originStr = flag.String("origin", "127.0276,37.4979", "Origin coordinates (lng,lat)")
		destStr   = flag.String("dest", "127.0364,37.5006", "Destination coordinates (lng,lat)")
		osrmURL   = flag.String("osrm", osrm.DefaultBaseURL, "OSRM base URL")
		verbose   = flag.Bool("v", false, "Log provider failures")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Route Provider Test Tool\n\n")
		fmt.Printf("Resolves a route through Kakao Mobility, falling back to OSRM.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		fmt.Printf("Options:\n")
		flag.PrintDefaults()
		fmt.Printf("\nExamples:\n")
		fmt.Printf("  %s -api-key=YOUR_KEY\n", os.Args[0])
		fmt.Printf("  %s -origin=\"126.9780,37.5665\" -dest=\"127.0276,37.4979\"\n", os.Args[0])
		fmt.Printf("  %s   # no key: OSRM only\n", os.Args[0])
		return
	}

	key := *apiKey
	if key == "" {
		key = os.Getenv("KAKAO_REST_API_KEY")
	}

	origin, err := geo.ParseLngLat(*originStr)
	if err != nil {
		log.Fatalf("Invalid origin coordinates: %v", err)
	}
	destination, err := geo.ParseLngLat(*destStr)
	if err != nil {
		log.Fatalf("Invalid destination coordinates: %v", err)
	}

	logger := zap.NewNop()
	if *verbose {
		logger, _ = zap.NewDevelopment()
	}

	fmt.Printf("Route Provider Test\n")
	fmt.Printf("===================\n")
	fmt.Printf("Origin: %s\n", origin)
	fmt.Printf("Destination: %s\n", destination)
	if key != "" {
		fmt.Printf("API Key: %s...\n", key[:min(len(key), 6)])
	} else {
		fmt.Printf("API Key: (none, expecting OSRM fallback)\n")
	}
	fmt.Printf("\n")

	routes := services.NewRouteService(
		kakao.NewClient(key, logger),
		osrm.NewClient(*osrmURL, logger),
		nil, 0, logger,
	)

	route, err := routes.GetRoute(context.Background(), origin, destination)
	if err != nil {
		log.Fatalf("GetRoute failed: %v", err)
	}

	fmt.Printf("✅ Route resolved by %s (%s)\n", route.Provider, route.Summary)
	fmt.Printf("Distance: %.2f km\n", route.DistanceMeters/1000.0)
	fmt.Printf("Duration: %.1f minutes\n", route.DurationSeconds/60.0)
	fmt.Printf("Points: %d (path length %.0f m)\n", len(route.Path), geo.PathLength(route.Path))
	fmt.Printf("Polyline: %s...\n", route.EncodedPolyline[:min(len(route.EncodedPolyline), 50)])
}
