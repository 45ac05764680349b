package workspace

// Selection is the set of build units and features the user asked for. It
// is forwarded both to the metadata query and to the build.
type Selection struct {
	ManifestPath      string
	Packages          []string
	Lib               bool
	Bins              bool
	Bin               []string
	Examples          bool
	Example           []string
	Tests             bool
	Test              []string
	Benches           bool
	Bench             []string
	Features          string
	AllFeatures       bool
	NoDefaultFeatures bool
	Target            string
}

// DevUnits reports whether the selection builds units that see
// dev-dependencies: tests, examples or benches.
func (s Selection) DevUnits() bool {
	return s.Tests || s.Examples || s.Benches ||
		len(s.Test)+len(s.Example)+len(s.Bench) > 0
}

func (s Selection) featureArgs() []string {
	var args []string
	if s.Features != "" {
		args = append(args, "--features", s.Features)
	}
	if s.AllFeatures {
		args = append(args, "--all-features")
	}
	if s.NoDefaultFeatures {
		args = append(args, "--no-default-features")
	}
	return args
}

// MetadataArgs returns the arguments of the metadata query for manifest.
func (s Selection) MetadataArgs(manifest string) []string {
	args := []string{"metadata", "--format-version", "1", "--manifest-path", manifest}
	args = append(args, s.featureArgs()...)
	if s.Target != "" {
		args = append(args, "--filter-platform", s.Target)
	}
	return args
}

// CheckArgs returns the arguments of the build step.
func (s Selection) CheckArgs() []string {
	args := []string{"check"}
	if s.ManifestPath != "" {
		args = append(args, "--manifest-path", s.ManifestPath)
	}
	for _, p := range s.Packages {
		args = append(args, "--package", p)
	}
	if s.Lib {
		args = append(args, "--lib")
	}
	if s.Bins {
		args = append(args, "--bins")
	}
	for _, b := range s.Bin {
		args = append(args, "--bin", b)
	}
	if s.Examples {
		args = append(args, "--examples")
	}
	for _, e := range s.Example {
		args = append(args, "--example", e)
	}
	if s.Tests {
		args = append(args, "--tests")
	}
	for _, t := range s.Test {
		args = append(args, "--test", t)
	}
	if s.Benches {
		args = append(args, "--benches")
	}
	for _, b := range s.Bench {
		args = append(args, "--bench", b)
	}
	args = append(args, s.featureArgs()...)
	if s.Target != "" {
		args = append(args, "--target", s.Target)
	}
	return args
}
