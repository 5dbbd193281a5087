package heater

import (
	"bufio"
	"fmt"
	"io"
	"os"
)

// WriteCSV writes the result as the thermometer and supply identification
// lines, a blank line, a Temperature,Resistance header, then one row per
// sample with temperature to 2 and resistance to 4 decimal places.
//
// The identification lines are written verbatim; *IDN? replies contain
// commas and are not quoted.
func WriteCSV(w io.Writer, r Result) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, r.ThermometerID)
	fmt.Fprintln(bw, r.SupplyID)
	fmt.Fprintln(bw)
	fmt.Fprintln(bw, "Temperature,Resistance")
	for _, s := range r.Samples {
		fmt.Fprintf(bw, "%.2f,%.4f\n", float64(s.Temperature), s.Resistance)
	}
	return bw.Flush()
}

// Save writes the result as CSV to path, replacing any existing file
func (r Result) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err = WriteCSV(f, r); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
