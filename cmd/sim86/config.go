package main

import (
	"flag"
	"os"

	"github.com/juju/errors"
	"gopkg.in/yaml.v2"

	"github.com/akhildatla/sim86/pkg/trace"
)

// Profile is a saved set of run/trace options:
//
//	max_steps: 100000
//	trace: true
//	json: false
//	dump: out/memory.data.zst
//	output: out/trace.parquet
//	compare: golden/listing_0048.csv
//	plot: cx
//	log: "<root>=INFO;sim86.vm=DEBUG"
//
// Flags given on the command line override profile values.
type Profile struct {
	MaxSteps int64  `yaml:"max_steps"`
	Trace    bool   `yaml:"trace"`
	JSON     bool   `yaml:"json"`
	Stats    bool   `yaml:"stats"`
	Dump     string `yaml:"dump"`
	Output   string `yaml:"output"`
	Compare  string `yaml:"compare"`
	Plot     string `yaml:"plot"`
	Log      string `yaml:"log"`
}

// LoadProfile reads and validates a YAML profile. Unknown keys are
// rejected.
func LoadProfile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Annotatef(err, "reading profile %s", path)
	}
	var p Profile
	if err := yaml.UnmarshalStrict(data, &p); err != nil {
		return nil, errors.NewNotValid(err, "profile "+path)
	}
	if err := p.Validate(); err != nil {
		return nil, errors.Annotatef(err, "profile %s", path)
	}
	return &p, nil
}

// Validate checks value ranges and file formats.
func (p *Profile) Validate() error {
	if p.MaxSteps < 0 {
		return errors.NotValidf("max_steps %d", p.MaxSteps)
	}
	if p.Output != "" {
		if _, err := trace.FormatFromPath(p.Output); err != nil {
			return errors.NewNotValid(err, "output")
		}
	}
	if p.Compare != "" {
		if _, err := trace.FormatFromPath(p.Compare); err != nil {
			return errors.NewNotValid(err, "compare")
		}
	}
	return nil
}

// options are the settings shared by the run and trace commands after
// merging the profile with the flags.
type options struct {
	Profile
	Verbose bool
}

// bindFlags registers the shared flags on fs.
func (o *options) bindFlags(fs *flag.FlagSet) *string {
	fs.Int64Var(&o.MaxSteps, "max-steps", 0, "stop after n instructions (0: no limit)")
	fs.StringVar(&o.Log, "log", "", "loggo logging spec, e.g. '<root>=INFO;sim86.vm=DEBUG'")
	fs.BoolVar(&o.Verbose, "v", false, "verbose output (DEBUG logging)")
	return fs.String("config", "", "YAML profile with default options")
}

// applyProfile loads the profile at path and copies its values into o
// for every flag that was not set explicitly.
func (o *options) applyProfile(fs *flag.FlagSet, path string) error {
	if path == "" {
		return nil
	}
	p, err := LoadProfile(path)
	if err != nil {
		return err
	}

	set := map[string]bool{}
	fs.Visit(func(f *flag.Flag) { set[f.Name] = true })

	merge := []struct {
		flag  string
		apply func()
	}{
		{"max-steps", func() { o.MaxSteps = p.MaxSteps }},
		{"trace", func() { o.Trace = p.Trace }},
		{"json", func() { o.JSON = p.JSON }},
		{"stats", func() { o.Stats = p.Stats }},
		{"dump", func() { o.Dump = p.Dump }},
		{"o", func() { o.Output = p.Output }},
		{"compare", func() { o.Compare = p.Compare }},
		{"plot", func() { o.Plot = p.Plot }},
		{"log", func() { o.Log = p.Log }},
	}
	for _, m := range merge {
		if !set[m.flag] && fs.Lookup(m.flag) != nil {
			m.apply()
		}
	}
	logger.Debugf("applied profile %s", path)
	return nil
}
