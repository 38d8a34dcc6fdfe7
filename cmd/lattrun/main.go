package main

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/xiagt-summer/HILA/comm"
	"github.com/xiagt-summer/HILA/config"
	"github.com/xiagt-summer/HILA/field"
	"github.com/xiagt-summer/HILA/lattice"
)

var (
	extentsFlag string
	ranks       int
	configFile  string
	iters       int
	sizesFlag   string
	dims        int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "lattrun",
		Short: "distributed lattice runtime tools",
	}
	rootCmd.PersistentFlags().StringVar(&extentsFlag, "extents", "8,8,8,8", "global lattice extents")
	rootCmd.PersistentFlags().IntVar(&ranks, "ranks", 4, "number of ranks")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "YAML configuration file")

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "report the block decomposition",
		RunE:  runInfo,
	}

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "time halo exchange and reduction over an in-process world",
		RunE:  runBench,
	}
	benchCmd.Flags().IntVar(&iters, "iters", 50, "sweeps per lattice size")
	benchCmd.Flags().StringVar(&sizesFlag, "sizes", "8,12,16,24,32", "cube side lengths to sweep")
	benchCmd.Flags().IntVar(&dims, "dims", 3, "lattice dimensionality for the sweep")

	rootCmd.AddCommand(infoCmd, benchCmd)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupFromFlags() (*lattice.Lattice, error) {
	if configFile != "" {
		cfg, err := config.Load(configFile)
		if err != nil {
			return nil, err
		}
		return lattice.SetupWithPolicy(cfg.Extents, cfg.Ranks, cfg.Policy())
	}
	extents, err := parseInts(extentsFlag)
	if err != nil {
		return nil, fmt.Errorf("extents: %w", err)
	}
	return lattice.Setup(extents, ranks)
}

func runInfo(cmd *cobra.Command, args []string) error {
	lat, err := setupFromFlags()
	if err != nil {
		return err
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "axis\textent\tdivisions\tblock")
	for a := 0; a < lat.NDim; a++ {
		fmt.Fprintf(tw, "%d\t%d\t%d\t%d\n", a, lat.Extents[a], lat.Divisions[a], lat.Block[a])
	}
	tw.Flush()

	st := lat.Stats()
	fmt.Printf("\nranks %d, %d sites per rank, boundary surface %d sites (%.1f%% of block)\n",
		st.Ranks, st.BlockVolume, st.Surface, 100*st.SurfaceRatio)

	node := lat.Node(0)
	fmt.Printf("halo margin %d, allocation %d sites per field\n", node.HaloMargin(), node.AllocSize())
	return nil
}

func runBench(cmd *cobra.Command, args []string) error {
	sizes, err := parseInts(sizesFlag)
	if err != nil {
		return fmt.Errorf("sizes: %w", err)
	}
	series := make([]float64, 0, len(sizes))
	tw := tabwriter.NewWriter(os.Stdout, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "size\tsites/rank\tsweep\tcheck")

	for _, L := range sizes {
		extents := make([]int, dims)
		for a := range extents {
			extents[a] = L
		}
		lat, err := lattice.Setup(extents, ranks)
		if err != nil {
			return fmt.Errorf("size %d: %w", L, err)
		}
		perSweep, check, err := benchLattice(lat)
		if err != nil {
			return fmt.Errorf("size %d: %w", L, err)
		}
		series = append(series, float64(perSweep.Microseconds()))
		fmt.Fprintf(tw, "%d\t%d\t%s\t%.6g\n", L, lat.Stats().BlockVolume, perSweep, check)
	}
	tw.Flush()
	fmt.Println("\nsweep time (us) vs lattice size:")
	fmt.Println(asciigraph.Plot(series, asciigraph.Height(10), asciigraph.Width(60)))
	return nil
}

// benchLattice times iters sweeps of gather-all plus one sum reduction and
// returns the mean sweep time and the reduced value as a sanity check.
func benchLattice(lat *lattice.Lattice) (time.Duration, float64, error) {
	world := comm.NewWorld(lat.Ranks)
	var (
		elapsed time.Duration
		check   float64
	)
	world.Run(func(c *comm.Comm) {
		node := lat.Node(c.Rank())
		f, err := field.New(node, c, field.Real, field.ElementMajor)
		fatalIf(c, err)
		defer f.Free()
		for i := 0; i < node.LocalVolume(); i++ {
			f.SetReal(i, 1)
		}

		start := time.Now()
		for it := 0; it < iters; it++ {
			reqs, err := f.StartGatherAll(lattice.ALL)
			fatalIf(c, err)
			fatalIf(c, field.WaitAll(reqs))
			r := comm.NewReduction(c)
			for i := 0; i < node.LocalVolume(); i++ {
				r.Add(f.Real(i))
			}
			v, err := r.Value()
			fatalIf(c, err)
			if c.Rank() == comm.Root {
				check = v
			}
			f.MarkChanged(lattice.ALL)
		}
		if c.Rank() == comm.Root {
			elapsed = time.Since(start) / time.Duration(iters)
		}
	})
	return elapsed, check, nil
}

// fatalIf aborts the run; a broken exchange has no degraded continuation.
func fatalIf(c *comm.Comm, err error) {
	if err != nil {
		log.Fatalf("rank %d: %v", c.Rank(), err)
	}
}

func parseInts(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
