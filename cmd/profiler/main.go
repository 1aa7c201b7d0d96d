package main

import (
	"bytes"
	"flag"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	"golang.org/x/text/encoding/unicode"

	"web/papercloud/cluster"
	"web/papercloud/config"
	"web/papercloud/paper"
	"web/papercloud/render"
	"web/papercloud/scene"
)

var (
	cpuprofile  = flag.String("cpuprofile", "", "write cpu profile to file")
	memprofile  = flag.String("memprofile", "", "write memory profile to file")
	heapprofile = flag.String("heapprofile", "", "write heap profile to file")
	numPapers   = flag.Int("papers", 100000, "number of synthetic papers to generate")
	depth       = flag.Int("depth", 2, "clustering depth to profile")
	frames      = flag.Int("frames", 600, "frames to run through the scene")
	testall     = flag.Bool("testall", false, "test all configurations")
)

// stage times fn and reports the allocations it made.
type stage struct {
	name     string
	duration time.Duration
	allocMB  float64
	gcRuns   uint32
}

func measure(name string, fn func()) stage {
	var memStatsBefore, memStatsAfter runtime.MemStats
	runtime.ReadMemStats(&memStatsBefore)
	start := time.Now()
	fn()
	duration := time.Since(start)
	runtime.ReadMemStats(&memStatsAfter)
	return stage{
		name:     name,
		duration: duration,
		allocMB:  float64(memStatsAfter.TotalAlloc-memStatsBefore.TotalAlloc) / 1024 / 1024,
		gcRuns:   memStatsAfter.NumGC - memStatsBefore.NumGC,
	}
}

func profile(numPapers, depth, frames int) ([]stage, error) {
	var (
		buf    bytes.Buffer
		store  = paper.NewStore(paper.WithEncoding(unicode.UTF8))
		ix     *cluster.Index
		sc     *scene.Scene
		err    error
		stages []stage
	)

	stages = append(stages, measure("generate", func() {
		err = paper.WriteSynthetic(&buf, numPapers, paper.DefaultSyntheticOptions())
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to generate papers: %w", err)
	}

	stages = append(stages, measure("load", func() {
		_, err = store.LoadReader(&buf)
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to load papers: %w", err)
	}

	stages = append(stages, measure("build", func() {
		ix = cluster.Build(store.Papers(), cluster.DefaultOptions())
	}))

	stages = append(stages, measure("hulls", func() {
		for _, c := range ix.Clusters(depth) {
			// Degenerate clusters are expected on small inputs.
			_, _ = cluster.BuildHull(c)
		}
	}))

	session := config.NewSession(config.Values{Speed: float64(numPapers) / float64(frames) * 60, Depth: depth})
	sc, err = scene.New(store, ix, scene.Options{Session: session})
	if err != nil {
		return nil, fmt.Errorf("failed to create scene: %w", err)
	}
	defer sc.Close()

	stages = append(stages, measure("frames", func() {
		for i := 0; i < frames && err == nil; i++ {
			_, err = sc.Frame(1.0 / 60)
		}
	}))
	if err != nil {
		return nil, fmt.Errorf("failed to run frames: %w", err)
	}
	return stages, nil
}

func runSingleProfile(numPapers, depth, frames int) {
	fmt.Printf("Profiling %d papers at depth %d over %d frames\n", numPapers, depth, frames)

	stages, err := profile(numPapers, depth, frames)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Profile failed: %v\n", err)
		return
	}
	for _, s := range stages {
		fmt.Printf("%-9s completed in %v (allocated %.2f MB)\n", s.name, s.duration, s.allocMB)
	}

	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	fmt.Printf("Memory usage: %s\n", render.FormatBytes(int64(m.Alloc)))
}

func runProfileBattery() {
	paperCounts := []int{1000, 10000, 50000, 100000}
	depths := []int{2, 4, 6}

	fmt.Println("Running comprehensive profile battery...")
	fmt.Println("=======================================")

	// Table header
	fmt.Printf("%-10s | %-6s | %-9s | %-15s | %-11s | %-10s\n",
		"Papers", "Depth", "Stage", "Duration", "Memory (MB)", "GC Runs")
	fmt.Printf("%s\n", "------------------------------------------------------------------------")

	for _, papers := range paperCounts {
		for _, d := range depths {
			stages, err := profile(papers, d, 120)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Profile of %d papers at depth %d failed: %v\n", papers, d, err)
				continue
			}
			for _, s := range stages {
				fmt.Printf("%-10d | %-6d | %-9s | %-15s | %-11.2f | %-10d\n",
					papers, d, s.name, s.duration, s.allocMB, s.gcRuns)
			}
		}

		// Add separator between paper counts
		fmt.Printf("%s\n", "------------------------------------------------------------------------")
	}
}

func main() {
	flag.Parse()

	// Set up CPU profiling if requested
	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create CPU profile: %v\n", err)
			return
		}
		defer f.Close()

		fmt.Println("Starting CPU profiling...")
		if err := pprof.StartCPUProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not start CPU profile: %v\n", err)
			return
		}
		defer pprof.StopCPUProfile()
	}

	// Run tests
	if *testall {
		runProfileBattery()
	} else {
		runSingleProfile(*numPapers, *depth, *frames)
	}

	// Write memory profile if requested
	if *memprofile != "" {
		f, err := os.Create(*memprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create memory profile: %v\n", err)
			return
		}
		defer f.Close()
		runtime.GC() // Get up-to-date statistics
		if err := pprof.WriteHeapProfile(f); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write memory profile: %v\n", err)
		}
	}

	// Write heap profile if requested
	if *heapprofile != "" {
		f, err := os.Create(*heapprofile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Could not create heap profile: %v\n", err)
			return
		}
		defer f.Close()

		memProfile := pprof.Lookup("heap")
		if memProfile == nil {
			fmt.Fprintf(os.Stderr, "Could not find heap profile\n")
			return
		}

		if err := memProfile.WriteTo(f, 0); err != nil {
			fmt.Fprintf(os.Stderr, "Could not write heap profile: %v\n", err)
		}
	}
}
