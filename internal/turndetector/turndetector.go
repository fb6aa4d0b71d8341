// Package turndetector decides how long to wait after the last transcript
// change before treating an utterance as finished, combining a handful of
// cheap heuristics with an optional learned end-of-utterance classifier.
package turndetector

import (
	"container/list"
	"log"
	"strings"
	"time"
)

// Config holds every tunable named in the composition.
type Config struct {
	BaseWait   time.Duration // W_base
	ShortWords int           // SHORT_WORDS
	ShortBonus time.Duration // W_short

	StrongPunctFactor float64 // F_strong
	WeakPunctFactor   float64 // F_weak

	TailRingSize  int           // N_tail
	TailChars     int           // K_chars
	RepeatFactor  float64       // F_repeat

	EOUMinFactor float64 // F_eou_min
	EOUCacheSize int

	SmoothingFactor float64 // speed factor, (0, 1]

	MinWait time.Duration // W_min
	MaxWait time.Duration // W_max
}

// DefaultConfig matches the spec's defaults.
func DefaultConfig() Config {
	return Config{
		BaseWait:          600 * time.Millisecond,
		ShortWords:        4,
		ShortBonus:        500 * time.Millisecond,
		StrongPunctFactor: 0.6,
		WeakPunctFactor:   0.85,
		TailRingSize:      4,
		TailChars:         40,
		RepeatFactor:      0.7,
		EOUMinFactor:      0.2,
		EOUCacheSize:      256,
		SmoothingFactor:   0.5,
		MinWait:           100 * time.Millisecond,
		MaxWait:           2 * time.Second,
	}
}

// EOUClassifier maps normalized text to a probability the utterance has
// ended. Implementations may be slow; Detector caches results per text.
type EOUClassifier interface {
	EndOfUtteranceProbability(text string) (float64, error)
}

var (
	smartQuoteReplacer = strings.NewReplacer(
		"‘", "'", "’", "'",
		"“", "\"", "”", "\"",
		"…", "...",
	)
)

// Detector holds the running state across revisions of one turn: the tail
// ring, last emitted wait, and the EOU cache. Not safe for concurrent use by
// more than one goroutine at a time; each connection's Pipeline Manager owns
// one and resets it at every commit.
type Detector struct {
	cfg       Config
	classifier EOUClassifier

	tailRing    []string
	tailCursor  int
	tailFilled  int

	hasLastWait bool
	lastWait    time.Duration

	eouCache    map[string]float64
	eouOrder    *list.List
	eouElems    map[string]*list.Element
	loggedErrs  map[string]bool
}

// New constructs a Detector. classifier may be nil, in which case the EOU
// factor is always 1.0.
func New(cfg Config, classifier EOUClassifier) *Detector {
	d := &Detector{
		cfg:        cfg,
		classifier: classifier,
		tailRing:   make([]string, cfg.TailRingSize),
		eouCache:   make(map[string]float64),
		eouOrder:   list.New(),
		eouElems:   make(map[string]*list.Element),
		loggedErrs: make(map[string]bool),
	}
	return d
}

// Reset returns the detector to the new-turn baseline. Called by the
// Pipeline Manager when it commits a turn.
func (d *Detector) Reset() {
	d.tailRing = make([]string, d.cfg.TailRingSize)
	d.tailCursor = 0
	d.tailFilled = 0
	d.hasLastWait = false
	d.lastWait = 0
}

// Normalize applies the spec's whitespace/punctuation normalization,
// exposed so callers can compute a stripped-ending variant for similarity
// tests elsewhere in the pipeline.
func Normalize(raw string) string {
	s := smartQuoteReplacer.Replace(raw)
	s = strings.Join(strings.Fields(s), " ")
	return strings.TrimSpace(s)
}

// Update computes the suggested wait for the latest transcript revision and
// folds it into the smoothed, emitted value.
func (d *Detector) Update(rawText string) time.Duration {
	normalized := Normalize(rawText)
	raw := d.computeRawWait(normalized)

	if !d.hasLastWait {
		d.hasLastWait = true
		d.lastWait = raw
		return raw
	}

	speed := d.cfg.SmoothingFactor
	if speed <= 0 || speed > 1 {
		speed = 1
	}
	smoothed := d.lastWait + time.Duration(speed*float64(raw-d.lastWait))
	d.lastWait = smoothed
	return smoothed
}

func (d *Detector) computeRawWait(normalized string) time.Duration {
	wait := d.cfg.BaseWait

	words := strings.Fields(normalized)
	if len(words) < d.cfg.ShortWords {
		wait += d.cfg.ShortBonus
	}

	switch lastRune(normalized) {
	case '.', '!', '?':
		wait = scale(wait, d.cfg.StrongPunctFactor)
	case ',', ';', ':':
		wait = scale(wait, d.cfg.WeakPunctFactor)
	}

	tail := tailFor(normalized, d.cfg.TailChars)
	if d.tailRepeats(tail) {
		wait = scale(wait, d.cfg.RepeatFactor)
	}
	d.pushTail(tail)

	if d.classifier != nil {
		factor := d.eouFactor(normalized)
		wait = scale(wait, factor)
	}

	return clampDuration(wait, d.cfg.MinWait, d.cfg.MaxWait)
}

func (d *Detector) eouFactor(normalized string) float64 {
	if p, ok := d.cacheGet(normalized); ok {
		return clampFloat(1-p, d.cfg.EOUMinFactor, 1.0)
	}
	p, err := d.classifier.EndOfUtteranceProbability(normalized)
	if err != nil {
		kind := err.Error()
		if !d.loggedErrs[kind] {
			d.loggedErrs[kind] = true
			log.Printf("turndetector: EOU classifier error (%s), treating as factor=1.0", kind)
		}
		return 1.0
	}
	d.cachePut(normalized, p)
	return clampFloat(1-p, d.cfg.EOUMinFactor, 1.0)
}

func (d *Detector) cacheGet(text string) (float64, bool) {
	elem, ok := d.eouElems[text]
	if !ok {
		return 0, false
	}
	d.eouOrder.MoveToFront(elem)
	return d.eouCache[text], true
}

func (d *Detector) cachePut(text string, p float64) {
	if _, ok := d.eouElems[text]; ok {
		d.eouCache[text] = p
		d.eouOrder.MoveToFront(d.eouElems[text])
		return
	}
	d.eouCache[text] = p
	elem := d.eouOrder.PushFront(text)
	d.eouElems[text] = elem

	size := d.cfg.EOUCacheSize
	if size <= 0 {
		size = 256
	}
	for d.eouOrder.Len() > size {
		oldest := d.eouOrder.Back()
		if oldest == nil {
			break
		}
		d.eouOrder.Remove(oldest)
		key := oldest.Value.(string)
		delete(d.eouElems, key)
		delete(d.eouCache, key)
	}
}

func (d *Detector) tailRepeats(tail string) bool {
	if tail == "" {
		return false
	}
	for i := 0; i < d.tailFilled; i++ {
		if d.tailRing[i] == tail {
			return true
		}
	}
	return false
}

func (d *Detector) pushTail(tail string) {
	if tail == "" {
		return
	}
	n := len(d.tailRing)
	if n == 0 {
		return
	}
	d.tailRing[d.tailCursor] = tail
	d.tailCursor = (d.tailCursor + 1) % n
	if d.tailFilled < n {
		d.tailFilled++
	}
}

func tailFor(normalized string, maxChars int) string {
	s := strings.TrimRight(normalized, ".!?,;: \t\n")
	s = strings.ToLower(s)
	if len(s) > maxChars {
		s = s[len(s)-maxChars:]
	}
	return s
}

func lastRune(s string) rune {
	s = strings.TrimRight(s, " \t\n\"')]}")
	if s == "" {
		return 0
	}
	r := []rune(s)
	return r[len(r)-1]
}

func scale(d time.Duration, factor float64) time.Duration {
	return time.Duration(float64(d) * factor)
}

func clampDuration(v, min, max time.Duration) time.Duration {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

func clampFloat(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
