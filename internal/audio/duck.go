package audio

import (
	"context"
	"fmt"
	"math"
	"os/exec"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

var percentRe = regexp.MustCompile(`(\d+)\s*%`)

// maxVolume is the pactl upper bound we are willing to set.
const maxVolume = 150

type sinkInput struct {
	ID      int
	Volume  int
	AppName string
}

type fadeTarget struct {
	id   int
	from int
	to   int
}

// Ducker lowers the volume of other PulseAudio sink inputs while the
// assistant speaks and restores them afterwards. Streams whose
// application.name is in selfNames are left alone.
type Ducker struct {
	mu        sync.Mutex
	active    bool
	selfNames []string
	saved     map[int]int
	minVolume int

	Factor float64
	Fade   time.Duration

	// run executes pactl; replaced in tests.
	run func(ctx context.Context, args ...string) ([]byte, error)
}

func NewDucker(selfNames []string, minVolume int, factor float64, fade time.Duration) *Ducker {
	minVolume = max(0, min(minVolume, maxVolume))
	if factor <= 0 || factor > 1 {
		factor = 0.3
	}

	return &Ducker{
		selfNames: slices.Clone(selfNames),
		saved:     make(map[int]int),
		minVolume: minVolume,
		Factor:    factor,
		Fade:      fade,
		run:       pactl,
	}
}

// Duck fades every foreign stream to Factor of its current volume, never
// below minVolume. Calling Duck while already ducked is a no-op.
func (d *Ducker) Duck(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	d.saved = make(map[int]int)
	var targets []fadeTarget
	for _, s := range inputs {
		to := int(math.Round(float64(s.Volume) * d.Factor))
		to = max(d.minVolume, min(to, maxVolume))
		d.saved[s.ID] = s.Volume
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: to})
	}

	if err := d.fade(ctx, targets); err != nil {
		return err
	}
	d.active = true

	return nil
}

// Restore fades ducked streams back to the volume they had before Duck.
// Streams that appeared after Duck are not touched.
func (d *Ducker) Restore(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.active {
		return nil
	}

	inputs, err := d.list(ctx)
	if err != nil {
		return err
	}

	var targets []fadeTarget
	for _, s := range inputs {
		orig, ok := d.saved[s.ID]
		if !ok {
			continue
		}
		targets = append(targets, fadeTarget{id: s.ID, from: s.Volume, to: orig})
	}

	if err := d.fade(ctx, targets); err != nil {
		return err
	}
	d.saved = make(map[int]int)
	d.active = false

	return nil
}

func (d *Ducker) list(ctx context.Context) ([]sinkInput, error) {
	out, err := d.run(ctx, "list", "sink-inputs")
	if err != nil {
		return nil, fmt.Errorf("pactl list sink-inputs: %w", err)
	}

	var foreign []sinkInput
	for _, s := range parseSinkInputs(string(out)) {
		if !slices.Contains(d.selfNames, s.AppName) {
			foreign = append(foreign, s)
		}
	}
	return foreign, nil
}

// fade steps every target linearly from its current to its target volume
// over d.Fade. A zero Fade sets the targets directly.
func (d *Ducker) fade(ctx context.Context, targets []fadeTarget) error {
	if len(targets) == 0 {
		return nil
	}

	const minStep = 10 * time.Millisecond

	steps := max(1, int(d.Fade/minStep))
	if d.Fade <= 0 {
		steps = 1
	}
	stepDur := d.Fade / time.Duration(steps)

	for i := 1; i <= steps; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		frac := float64(i) / float64(steps)
		for _, t := range targets {
			v := int(math.Round(float64(t.from) + float64(t.to-t.from)*frac))
			if err := d.setVolume(ctx, t.id, v); err != nil {
				return err
			}
		}

		if i < steps && stepDur > 0 {
			time.Sleep(stepDur)
		}
	}

	return nil
}

func (d *Ducker) setVolume(ctx context.Context, id, percent int) error {
	percent = max(0, min(percent, maxVolume))
	if _, err := d.run(ctx, "set-sink-input-volume", strconv.Itoa(id), fmt.Sprintf("%d%%", percent)); err != nil {
		return fmt.Errorf("set volume id=%d: %w", id, err)
	}
	return nil
}

func pactl(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, "pactl", args...).Output()
}

// parseSinkInputs reads the output of `pactl list sink-inputs`.
func parseSinkInputs(text string) []sinkInput {
	parts := strings.Split(text, "Sink Input #")
	if len(parts) <= 1 {
		return nil
	}

	var res []sinkInput
	for _, block := range parts[1:] {
		nl := strings.IndexByte(block, '\n')
		if nl <= 0 {
			continue
		}

		id, err := strconv.Atoi(strings.TrimSpace(block[:nl]))
		if err != nil {
			continue
		}

		s := sinkInput{ID: id}
		for _, line := range strings.Split(block[nl+1:], "\n") {
			line = strings.TrimSpace(line)

			if strings.HasPrefix(line, "Volume:") && s.Volume == 0 {
				if m := percentRe.FindStringSubmatch(line); len(m) >= 2 {
					if v, err := strconv.Atoi(m[1]); err == nil {
						s.Volume = v
					}
				}
			}

			// application.name = "Firefox"
			if strings.HasPrefix(line, "application.name =") && s.AppName == "" {
				if _, rest, ok := strings.Cut(line, `"`); ok {
					if name, _, ok := strings.Cut(rest, `"`); ok {
						s.AppName = name
					}
				}
			}
		}

		if s.Volume == 0 && s.AppName == "" {
			continue
		}
		res = append(res, s)
	}

	return res
}
