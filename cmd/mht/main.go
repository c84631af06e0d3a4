// Command mht runs the multiple-hypothesis tracker against a synthetic
// crossing-targets scenario or a JSONL scan log, optionally persisting
// cluster snapshots to sqlite.
package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"math"
	"math/rand"
	"os"

	_ "modernc.org/sqlite"

	"gonum.org/v1/gonum/mat"

	"github.com/banshee-data/mht.report/internal/config"
	"github.com/banshee-data/mht.report/internal/mht"
	"github.com/banshee-data/mht.report/internal/mht/storage/sqlite"
)

var (
	scansFlag      = flag.String("scans", "", "JSONL scan log to replay (default: synthetic scenario)")
	stepsFlag      = flag.Int("steps", 25, "Number of synthetic scans to simulate")
	seedFlag       = flag.Int64("seed", 1, "Random seed for the synthetic scenario")
	clutterFlag    = flag.Float64("clutter", 0, "Mean number of clutter reports per synthetic scan")
	dbPathFlag     = flag.String("db-path", "", "Optional sqlite DB file for cluster snapshots")
	configFlag     = flag.String("config", "", "Path to JSON tuning configuration file")
	extraneousFlag = flag.Float64("score-extraneous", 10, "NLL cost of an extraneous report")
	missFlag       = flag.Float64("score-miss", 3, "NLL cost of a missed detection")
	hypsFlag       = flag.Int("print-hypotheses", 3, "Global hypotheses to print after the run")
)

// scanRecord is one line of a JSONL scan log.
type scanRecord struct {
	DT      float64     `json:"dt"`
	Reports [][]float64 `json:"reports"`
	NoiseSD float64     `json:"noise_sd"`
	Source  string      `json:"source"`
}

func main() {
	flag.Parse()
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	ctx := context.Background()

	params := mht.DefaultParams()
	if *configFlag != "" {
		cfg, err := config.LoadTuningConfig(*configFlag)
		if err != nil {
			return err
		}
		params = cfg.Params()
	}

	var opts []mht.TrackerOption
	if *dbPathFlag != "" {
		db, err := sql.Open("sqlite", *dbPathFlag)
		if err != nil {
			return fmt.Errorf("open snapshot db: %w", err)
		}
		defer db.Close()
		store, err := sqlite.NewClusterStore(db)
		if err != nil {
			return err
		}
		opts = append(opts, mht.WithSnapshotStore(store))
	}

	tracker := mht.NewTracker(params, opts...)
	sensor := &mht.OmniSensor{Extraneous: *extraneousFlag, Miss: *missFlag}

	var err error
	if *scansFlag != "" {
		err = replay(ctx, tracker, sensor, *scansFlag)
	} else {
		err = simulate(ctx, tracker, sensor)
	}
	if err != nil {
		return err
	}

	return printHypotheses(tracker, *hypsFlag)
}

// simulate runs the crossing-targets scenario: two constant-velocity targets
// whose paths intersect, with gaussian measurement noise and optional
// clutter.
func simulate(ctx context.Context, tracker *mht.Tracker, sensor *mht.OmniSensor) error {
	rng := rand.New(rand.NewSource(*seedFlag))
	truth := [][]float64{
		{0, 0, 1, 1},
		{0, 10, 1, -1},
	}

	for step := 0; step < *stepsFlag; step++ {
		if step > 0 {
			if err := tracker.Predict(ctx, 1, nil); err != nil {
				return fmt.Errorf("predict step %d: %w", step, err)
			}
		}

		var reports []*mht.Report
		for _, tgt := range truth {
			tgt[0] += tgt[2]
			tgt[1] += tgt[3]
			reports = append(reports, gaussianReport(rng, tgt[0], tgt[1], 0.1, "sim"))
		}
		for n := poisson(rng, *clutterFlag); n > 0; n-- {
			reports = append(reports, gaussianReport(rng,
				rng.Float64()*30-5, rng.Float64()*30-10, 1.0, "clutter"))
		}

		if err := tracker.RegisterScan(ctx, mht.NewScan(sensor, reports...)); err != nil {
			return fmt.Errorf("scan %d: %w", step, err)
		}
	}
	return nil
}

// replay feeds a JSONL scan log through the tracker.
func replay(ctx context.Context, tracker *mht.Tracker, sensor *mht.OmniSensor, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open scan log: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec scanRecord
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("scan log line %d: %w", line, err)
		}
		if rec.DT > 0 {
			if err := tracker.Predict(ctx, rec.DT, nil); err != nil {
				return fmt.Errorf("predict line %d: %w", line, err)
			}
		}
		noise := rec.NoiseSD
		if noise <= 0 {
			noise = 0.1
		}
		var reports []*mht.Report
		for _, z := range rec.Reports {
			if len(z) != 2 {
				return fmt.Errorf("scan log line %d: report needs [x, y]", line)
			}
			reports = append(reports, mht.NewReport(z,
				mat.NewSymDense(2, []float64{noise * noise, 0, 0, noise * noise}),
				mht.PositionMeasurement, rec.Source))
		}
		if err := tracker.RegisterScan(ctx, mht.NewScan(sensor, reports...)); err != nil {
			return fmt.Errorf("scan line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil && err != io.EOF {
		return fmt.Errorf("read scan log: %w", err)
	}
	return nil
}

func printHypotheses(tracker *mht.Tracker, n int) error {
	stream := tracker.GlobalHypotheses(nil)
	for i := 0; i < n; i++ {
		gh, ok := stream.Next()
		if !ok {
			break
		}
		fmt.Printf("#%d score=%.4f tracks=%d\n", i+1, gh.Score, len(gh.Tracks))
		for _, tr := range gh.Tracks {
			x, y := tr.Filter().Position()
			fmt.Printf("  target=%d track=%d len=%d exist=%d pos=(%.2f, %.2f)\n",
				tr.Target().ID(), tr.ID(), tr.Length(), tr.ExistScore(), x, y)
		}
	}
	return nil
}

func gaussianReport(rng *rand.Rand, x, y, variance float64, source string) *mht.Report {
	sd := math.Sqrt(variance)
	return mht.NewReport(
		[]float64{x + rng.NormFloat64()*sd, y + rng.NormFloat64()*sd},
		mat.NewSymDense(2, []float64{variance, 0, 0, variance}),
		mht.PositionMeasurement,
		source,
	)
}

func poisson(rng *rand.Rand, mean float64) int {
	if mean <= 0 {
		return 0
	}
	l := math.Exp(-mean)
	k := 0
	p := 1.0
	for {
		p *= rng.Float64()
		if p <= l {
			return k
		}
		k++
	}
}
