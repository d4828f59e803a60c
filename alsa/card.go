package alsa

import (
	"fmt"
	"os"
	"regexp"
	"slices"
	"strconv"
	"strings"
)

// SoundCardDevice represents a single PCM stream of a device on a sound card.
type SoundCardDevice struct {
	ID          int
	Name        string
	Description string
	IsPlayback  bool // True for playback, false for capture
}

// HwName returns the "hw:C,D" name used to open the device.
func (d SoundCardDevice) HwName(card int) string {
	return fmt.Sprintf("hw:%d,%d", card, d.ID)
}

// String returns a human-readable representation of the SoundCardDevice.
func (d SoundCardDevice) String() string {
	direction := "Capture"
	if d.IsPlayback {
		direction = "Playback"
	}

	return fmt.Sprintf("  Device %d: %s (%s) [%s]", d.ID, d.Name, d.Description, direction)
}

// SoundCard represents an enumerated sound card with its devices.
type SoundCard struct {
	ID          int
	Name        string
	Description string
	Devices     []SoundCardDevice
}

// String returns a human-readable representation of the SoundCard.
func (c SoundCard) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Card %d: %s (%s)\n", c.ID, c.Name, c.Description)
	for _, dev := range c.Devices {
		sb.WriteString(dev.String() + "\n")
	}

	return sb.String()
}

var (
	// " 0 [Loopback       ]: Loopback - Loopback"
	cardRegex = regexp.MustCompile(`^\s*(\d+)\s+\[\s*([^]]*?)\s*\]:\s*(.*)`)
	// "02-00: Loopback PCM : Loopback PCM : playback 8 : capture 8"
	pcmRegex = regexp.MustCompile(`^(\d+)-(\d+): (.*?) :.*`)
)

// EnumerateCards scans /proc/asound to find all available sound cards and their PCM devices.
func EnumerateCards() ([]SoundCard, error) {
	cardsFile := "/proc/asound/cards"
	cards, err := os.ReadFile(cardsFile)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", cardsFile, err)
	}

	pcmFile := "/proc/asound/pcm"
	pcms, err := os.ReadFile(pcmFile)
	if err != nil {
		return nil, fmt.Errorf("could not read %s: %w", pcmFile, err)
	}

	return parseCards(string(cards), string(pcms)), nil
}

// FindCard returns the number of the first card whose id or description
// contains name, or -1.
func FindCard(name string) int {
	cards, err := EnumerateCards()
	if err != nil {
		return -1
	}

	for _, c := range cards {
		if strings.Contains(c.Name, name) || strings.Contains(c.Description, name) {
			return c.ID
		}
	}

	return -1
}

func parseCards(cardsContent, pcmContent string) []SoundCard {
	cardMap := make(map[int]*SoundCard)

	for _, line := range strings.Split(cardsContent, "\n") {
		matches := cardRegex.FindStringSubmatch(line)
		if len(matches) != 4 {
			continue
		}

		id, err := strconv.Atoi(matches[1])
		if err != nil {
			continue
		}

		cardMap[id] = &SoundCard{
			ID:          id,
			Name:        strings.TrimSpace(matches[2]),
			Description: strings.TrimSpace(matches[3]),
		}
	}

	for _, line := range strings.Split(pcmContent, "\n") {
		matches := pcmRegex.FindStringSubmatch(line)
		if len(matches) < 4 {
			continue
		}

		cardID, _ := strconv.Atoi(matches[1])
		devID, _ := strconv.Atoi(matches[2])

		card, ok := cardMap[cardID]
		if !ok {
			continue
		}

		description := strings.TrimSpace(matches[3])

		// A single PCM device can have both playback and capture streams.
		if strings.Contains(line, "playback") {
			card.Devices = append(card.Devices, SoundCardDevice{
				ID:          devID,
				Name:        fmt.Sprintf("pcm%dp", devID),
				Description: description,
				IsPlayback:  true,
			})
		}

		if strings.Contains(line, "capture") {
			card.Devices = append(card.Devices, SoundCardDevice{
				ID:          devID,
				Name:        fmt.Sprintf("pcm%dc", devID),
				Description: description,
			})
		}
	}

	ids := make([]int, 0, len(cardMap))
	for id := range cardMap {
		ids = append(ids, id)
	}
	slices.Sort(ids)

	result := make([]SoundCard, 0, len(ids))
	for _, id := range ids {
		result = append(result, *cardMap[id])
	}

	return result
}
