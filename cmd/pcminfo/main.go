//go:build linux && (amd64 || arm64)

package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/gen2brain/audiolat/alsa"
)

func main() {
	var (
		list   bool
		name   string
		stream string
		rate   int
	)

	flag.BoolVar(&list, "list", false, "List sound cards and their PCM devices.")
	flag.StringVar(&name, "device", "hw:0,0", "The PCM device ('hw:C,D').")
	flag.StringVar(&stream, "stream", "playback", "The stream direction ('playback' or 'capture').")
	flag.IntVar(&rate, "sr", 0, "Refine for mono S16 at this sample rate, 0 for the unconstrained capabilities.")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintln(os.Stderr, "Displays the capabilities of an ALSA PCM device. The period size range")
		fmt.Fprintln(os.Stderr, "gives the burst sizes audiolat can run with.")
		fmt.Fprintln(os.Stderr, "\nOptions:")
		flag.PrintDefaults()
	}

	flag.Parse()

	if list {
		cards, err := alsa.EnumerateCards()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error listing sound cards: %v\n", err)
			os.Exit(1)
		}

		for _, card := range cards {
			fmt.Print(card)
		}

		return
	}

	var pcmFlags alsa.PcmFlag
	switch strings.ToLower(stream) {
	case "playback":
		pcmFlags = alsa.PCM_OUT
	case "capture":
		pcmFlags = alsa.PCM_IN
	default:
		fmt.Fprintf(os.Stderr, "Error: invalid stream direction '%s'. Must be 'playback' or 'capture'.\n", stream)
		os.Exit(1)
	}

	card, device, err := alsa.ParseName(name)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	var config *alsa.Config
	if rate > 0 {
		config = &alsa.Config{Channels: 1, Rate: uint32(rate), Format: alsa.SNDRV_PCM_FORMAT_S16_LE}
	}

	fmt.Printf("PCM %s, stream %s:\n", name, stream)

	params, err := alsa.PcmParamsGetRefined(card, device, pcmFlags, config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting PCM parameters: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(params)
}
