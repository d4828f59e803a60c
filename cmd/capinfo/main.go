package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"github.com/gen2brain/audiolat"
)

func main() {
	var (
		rate       int
		reportPath string
		wavPath    string
	)

	flag.IntVar(&rate, "sr", 0, "Sample rate of the capture (default: from the report, else 16000)")
	flag.StringVar(&reportPath, "report", "", "Run report (default: the capture file with a .yaml extension, if present)")
	flag.StringVar(&wavPath, "wav", "", "Export the capture to this WAV file")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <capture.raw>\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Displays information about an audiolat capture and its round markers.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(1)
	}

	capturePath := flag.Arg(0)

	report, err := findReport(capturePath, reportPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading report: %v\n", err)
		os.Exit(1)
	}

	switch {
	case rate > 0:
	case report != nil && report.SampleRate > 0:
		rate = report.SampleRate
	default:
		rate = audiolat.DefaultConfig().SampleRate
	}

	f, err := os.Open(capturePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening capture: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	capture, err := audiolat.DecodeRaw(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error decoding capture: %v\n", err)
		os.Exit(1)
	}

	printInfo(os.Stdout, capturePath, capture, rate, report)

	if wavPath != "" {
		if err := exportWAV(wavPath, capture, rate); err != nil {
			fmt.Fprintf(os.Stderr, "Error writing WAV file: %v\n", err)
			os.Exit(1)
		}

		fmt.Printf("\nWrote %s\n", wavPath)
	}
}

// findReport loads the explicit report, or the one next to the capture when it exists.
func findReport(capturePath, reportPath string) (*audiolat.Result, error) {
	if reportPath != "" {
		return audiolat.LoadReport(reportPath)
	}

	guess := strings.TrimSuffix(capturePath, filepath.Ext(capturePath)) + ".yaml"
	if _, err := os.Stat(guess); err != nil {
		return nil, nil
	}

	return audiolat.LoadReport(guess)
}

func printInfo(w io.Writer, name string, capture audiolat.Signal, rate int, report *audiolat.Result) {
	samples := capture.Samples()

	var peak int
	for _, v := range samples {
		peak = max(peak, abs(int(v)))
	}

	fmt.Fprintf(w, "Capture: %s\n", name)
	fmt.Fprintf(w, "  Frames:      %d\n", capture.Len())
	fmt.Fprintf(w, "  Sample rate: %d Hz\n", rate)
	fmt.Fprintf(w, "  Duration:    %s\n", capture.Duration(rate))
	fmt.Fprintf(w, "  Peak:        %d\n", peak)

	if report == nil {
		return
	}

	fmt.Fprintf(w, "\nRun %s (%s", report.RunID, report.State)
	if report.StopReason != "" {
		fmt.Fprintf(w, ", %s", report.StopReason)
	}
	fmt.Fprintln(w, ")")

	if report.Error != "" {
		fmt.Fprintf(w, "  Error:       %s\n", report.Error)
	}

	if report.FramesCaptured != int64(capture.Len()) {
		fmt.Fprintf(w, "  Warning: report has %d frames, capture has %d\n", report.FramesCaptured, capture.Len())
	}

	fmt.Fprintf(w, "  Rounds:      %d armed, %d truncated\n", report.RoundsArmed, report.RoundsTruncated)
	fmt.Fprintf(w, "  XRuns:       record %d, playout %d\n", report.RecordXRuns, report.PlayoutXRuns)
	fmt.Fprintf(w, "  Record:      %s burst %d, buffer %d/%d\n",
		report.Record.Device, report.Record.FramesPerBurst, report.Record.BufferSize, report.Record.BufferCapacity)
	fmt.Fprintf(w, "  Playout:     %s burst %d, buffer %d/%d\n",
		report.Playout.Device, report.Playout.FramesPerBurst, report.Playout.BufferSize, report.Playout.BufferCapacity)

	if len(report.Rounds) == 0 {
		return
	}

	fmt.Fprintln(w, "\n  BEGIN markers:")
	for i, at := range report.RoundTimes() {
		fmt.Fprintf(w, "  %4d  frame %-10d %s\n", i, report.Rounds[i], at)
	}
}

func exportWAV(path string, capture audiolat.Signal, rate int) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}

	enc := wav.NewEncoder(out, rate, 16, 1, 1)

	samples := capture.Samples()
	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: rate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, v := range samples {
		buf.Data[i] = int(v)
	}

	if err := enc.Write(buf); err != nil {
		_ = out.Close()

		return err
	}

	if err := enc.Close(); err != nil {
		_ = out.Close()

		return err
	}

	return out.Close()
}

func abs(v int) int {
	if v < 0 {
		return -v
	}

	return v
}
