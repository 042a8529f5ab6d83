package training

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"sort"
	"strings"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
)

const (
	// MinSamples is the smallest dataset the model server accepts.
	MinSamples = 5
	// MinLabels is the smallest number of distinct classes.
	MinLabels = 2
	// MinPerLabel applies to labeled-folder datasets.
	MinPerLabel = 2
)

// Sample is one labeled audio file of a dataset.
type Sample struct {
	Path  string // relative to the media root
	Label string
}

// Dataset is a validated training set.
type Dataset struct {
	Samples []Sample
	Counts  map[string]int
	// Tokens maps a label to the class name written into staged file
	// names. Empty for folder datasets, whose file names are the labels.
	Tokens map[string]string
}

// Labels returns the distinct labels in sorted order.
func (d *Dataset) Labels() []string {
	out := make([]string, 0, len(d.Counts))
	for l := range d.Counts {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

func newDataset(samples []Sample) *Dataset {
	d := &Dataset{Samples: samples, Counts: make(map[string]int)}
	for _, s := range samples {
		d.Counts[s.Label]++
	}
	return d
}

func insufficient(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s", errors.ErrInsufficientTrainingData, fmt.Sprintf(format, args...))).
		Component("training").
		Category(errors.CategoryInsufficientData).
		Build()
}

// ValidateFolderName rejects names that could leave the datasets root.
func ValidateFolderName(name string) error {
	switch {
	case strings.TrimSpace(name) == "":
		return errors.ValidationError("data folder name is empty")
	case strings.ContainsAny(name, `/\`), strings.Contains(name, ".."):
		return errors.New(fmt.Errorf("%w: data folder %q must be a plain directory name", errors.ErrValidation, name)).
			Component("training").
			Category(errors.CategoryValidation).
			Context("security", "path_traversal").
			Build()
	}
	return nil
}

// LabelFromFilename returns the label encoded as the trailing _<label>
// before the .wav extension.
func LabelFromFilename(name string) (string, bool) {
	ext := path.Ext(name)
	if !strings.EqualFold(ext, ".wav") {
		return "", false
	}
	base := strings.TrimSuffix(name, ext)
	i := strings.LastIndex(base, "_")
	if i <= 0 || i == len(base)-1 {
		return "", false
	}
	return base[i+1:], true
}

// ScanFolder reads a labeled folder. Every .wav file must carry a label
// and decode to a non-empty signal. allowed restricts labels when not nil.
func ScanFolder(media Media, dir string, allowed []string) (*Dataset, error) {
	entries, err := media.ReadDir(dir)
	if err != nil {
		return nil, insufficient("cannot read data folder %s: %v", dir, err)
	}

	var samples []Sample
	var invalid []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(path.Ext(e.Name()), ".wav") {
			continue
		}
		label, ok := LabelFromFilename(e.Name())
		if !ok {
			invalid = append(invalid, e.Name()+": no _<label> suffix")
			continue
		}
		rel := path.Join(dir, e.Name())
		info, err := audio.Inspect(media, rel)
		if err != nil {
			invalid = append(invalid, e.Name()+": "+err.Error())
			continue
		}
		if info.Frames == 0 {
			invalid = append(invalid, e.Name()+": empty audio")
			continue
		}
		samples = append(samples, Sample{Path: rel, Label: label})
	}
	if len(invalid) > 0 {
		return nil, insufficient("invalid files in %s: %s", dir, strings.Join(invalid, "; "))
	}

	d := newDataset(samples)
	if allowed != nil {
		for _, l := range d.Labels() {
			if !slices.Contains(allowed, l) {
				return nil, insufficient("label %q is not a call of the selected species", l)
			}
		}
	}
	if err := d.validate(MinPerLabel); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Dataset) validate(minPerLabel int) error {
	if len(d.Samples) < MinSamples {
		return insufficient("need at least %d labeled samples, have %d", MinSamples, len(d.Samples))
	}
	if len(d.Counts) < MinLabels {
		return insufficient("need at least %d distinct labels, have %d", MinLabels, len(d.Counts))
	}
	for _, l := range d.Labels() {
		if d.Counts[l] < minPerLabel {
			return insufficient("label %q has %d samples, need at least %d", l, d.Counts[l], minPerLabel)
		}
	}
	return nil
}

// labeledTasks are the done tasks with a label.
func labeledTasks(tasks []entities.Task) []entities.Task {
	out := make([]entities.Task, 0, len(tasks))
	for _, t := range tasks {
		if t.IsDone && t.Label != nil && strings.TrimSpace(*t.Label) != "" {
			out = append(out, t)
		}
	}
	return out
}

var (
	unsafeLabel = regexp.MustCompile(`[^A-Za-z0-9.-]+`)
	// tokenLabel is a label the model server reads back unchanged from a
	// <index>_<label>.wav name.
	tokenLabel = regexp.MustCompile(`^[A-Za-z0-9.-]+$`)
)

// labelTokens assigns every label the class name used in staged file
// names. Labels that survive the file name round trip are used as they
// are; the others get a generated classN token that collides with no
// other label.
func labelTokens(labels []string) map[string]string {
	tokens := make(map[string]string, len(labels))
	used := make(map[string]bool, len(labels))
	for _, l := range labels {
		if tokenLabel.MatchString(l) {
			tokens[l] = l
			used[l] = true
		}
	}
	n := 0
	for _, l := range labels {
		if _, ok := tokens[l]; ok {
			continue
		}
		for {
			n++
			tok := fmt.Sprintf("class%d", n)
			if !used[tok] {
				tokens[l] = tok
				used[tok] = true
				break
			}
		}
	}
	return tokens
}

// Classes translates class names reported by the model server back to
// dataset labels. Names the dataset does not know pass through unchanged.
func (d *Dataset) Classes(reported []string) []string {
	if len(reported) == 0 {
		return d.Labels()
	}
	labels := make(map[string]string, len(d.Tokens))
	for label, tok := range d.Tokens {
		labels[tok] = label
	}
	out := make([]string, len(reported))
	for i, c := range reported {
		if label, ok := labels[c]; ok {
			out[i] = label
		} else {
			out[i] = c
		}
	}
	return out
}

// stagedName is the file name of the index-th (1-based) staged sample.
func stagedName(index int, token string) string {
	return fmt.Sprintf("%03d_%s.wav", index, token)
}
