package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/dpup/drive.ersn.net/server/internal/clients/osrm"
	"github.com/dpup/drive.ersn.net/server/internal/lib/drive"
	"github.com/dpup/drive.ersn.net/server/internal/lib/geo"
	"github.com/dpup/drive.ersn.net/server/internal/lib/panorama"
)

// countingFinder reports a panorama everywhere and counts lookups
type countingFinder struct {
	lookups int
}

func (f *countingFinder) Nearest(ctx context.Context, p geo.Point, radiusMeters int) (panorama.Result, error) {
	f.lookups++
	return panorama.Result{Found: true, PanoramaID: fmt.Sprintf("pano-%d", f.lookups), Point: p}, nil
}

// printer logs every nth position
type printer struct {
	every     uint64
	positions uint64
	done      bool
	sync      *panorama.Sync
}

func (p *printer) OnPosition(pos drive.Position) {
	p.positions++
	p.sync.Observe(pos.Epoch, pos.Point, pos.State.TotalDistanceMeters)
	if pos.Tick%p.every == 0 || pos.Snapped {
		marker := ""
		if pos.Snapped {
			marker = " (vertex)"
		}
		fmt.Printf("  tick %5d  seg %3d  %8.1f m  %s%s\n",
			pos.Tick, pos.State.PathIndex, pos.State.TotalDistanceMeters, pos.Point, marker)
	}
}

func (p *printer) OnCompleted(epoch uint64) {
	p.done = true
	p.sync.End()
}

func main() {
	var (
		originStr = flag.String("origin", "126.9780,37.5665", "Origin coordinates (lng,lat)")
		destStr   = flag.String("dest", "126.9920,37.5700", "Destination coordinates (lng,lat)")
		osrmURL   = flag.String("osrm", "", "OSRM base URL; empty drives a straight line")
		speed     = flag.Float64("speed", drive.DefaultSpeedKmH, "Speed in km/h (10-100)")
		fps       = flag.Int("fps", 60, "Simulated frames per second")
		every     = flag.Uint64("every", 60, "Print every nth tick")
		help      = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		fmt.Printf("Drive Simulator Test Tool\n\n")
		fmt.Printf("Runs a drive on a virtual clock and reports ticks and panorama syncs.\n\n")
		fmt.Printf("Usage: %s [options]\n\n", os.Args[0])
		flag.PrintDefaults()
		return
	}

	origin, err := geo.ParseLngLat(*originStr)
	if err != nil {
		log.Fatalf("Invalid origin coordinates: %v", err)
	}
	destination, err := geo.ParseLngLat(*destStr)
	if err != nil {
		log.Fatalf("Invalid destination coordinates: %v", err)
	}
	if *fps <= 0 || *every == 0 {
		log.Fatal("fps and every must be positive")
	}

	path := geo.Path{origin, destination}
	if *osrmURL != "" {
		route, err := osrm.NewClient(*osrmURL, nil).Route(context.Background(), origin, destination)
		if err != nil || route == nil {
			log.Fatalf("OSRM route failed: %v", err)
		}
		path = route.Path
	}

	// Lookup results are applied between frames on this goroutine
	results := make(chan func(), 1)
	dispatch := func(fn func()) bool { results <- fn; return true }
	finder := &countingFinder{}
	syncs := 0
	sync := panorama.NewSync(finder, dispatch, func(panorama.Result) { syncs++ })

	sched := drive.NewManualScheduler(time.Now())
	sim := drive.NewSimulator(sched, drive.NewSpeed(*speed))
	out := &printer{every: *every, sync: sync}
	sim.SetListener(out)

	epoch, err := sim.Start(path, *speed)
	if err != nil {
		log.Fatalf("Start failed: %v", err)
	}
	sync.Begin(epoch)

	fmt.Printf("Drive Simulator Test\n")
	fmt.Printf("====================\n")
	fmt.Printf("Points: %d, length %.1f m, speed %.0f km/h, %d fps\n\n", len(path), geo.PathLength(path), sim.Speed(), *fps)

	frame := time.Second / time.Duration(*fps)
	frames := 0
	for sched.Pending() > 0 && frames < 10_000_000 {
		frames += sched.Advance(frame)
		if sync.InFlight() {
			(<-results)()
		}
	}

	if !out.done {
		log.Fatalf("Drive did not complete after %d frames", frames)
	}
	simulated := time.Duration(frames) * frame
	fmt.Printf("\n✅ Drive completed\n")
	fmt.Printf("Ticks: %d (%s simulated)\n", out.positions, simulated.Round(time.Millisecond))
	fmt.Printf("Panorama lookups: %d, synced: %d\n", finder.lookups, syncs)
	fmt.Printf("Final status: %s\n", sim.Status())
}
