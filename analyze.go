package main

import (
	"bufio"
	"fmt"
	"os"

	"udpmeter/pkg/analyze"
)

// analyzeMain reports offline statistics over a TSV log file written by
// a previous client or server run.
func analyzeMain(path, report string, avgWidth float64, bins int) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	records, err := analyze.ReadRecords(bufio.NewReader(f))
	if err != nil {
		return err
	}

	switch report {
	case "rate":
		samples, err := analyze.Rate(analyze.Points(records), avgWidth)
		if err != nil {
			return err
		}
		if len(samples) == 0 {
			fmt.Println("not enough records for a rate estimate")
			return nil
		}
		start := samples[0].Time
		fmt.Println("time_s\tmbit_per_s")
		for _, s := range samples {
			fmt.Printf("%.6f\t%.3f\n", float64(s.Time-start)/1e9, s.BitsPerSec/1e6)
		}
	case "iat":
		iats := analyze.IAT(analyze.Times(records))
		if len(iats) == 0 {
			fmt.Println("not enough records for an inter-arrival distribution")
			return nil
		}
		fmt.Println("low\thigh\tcount")
		for _, b := range analyze.Histogram(iats, bins) {
			fmt.Printf("%v\t%v\t%d\n", b.Low, b.High, b.Count)
		}
	default:
		return fmt.Errorf("unknown report %q, expected rate or iat", report)
	}
	return nil
}
