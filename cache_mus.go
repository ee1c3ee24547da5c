package recon

import (
	"fmt"

	"github.com/gophersatwork/granular"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"
	"github.com/spf13/afero"
)

// ProblemCache stores the problems of a file keyed by its content and the
// content of the files it depends on, such as the config file.
// Entries are encoded with MUS.
type ProblemCache struct {
	gCache       *granular.Cache
	fs           afero.Fs
	dependencies []string
}

// NewProblemCache creates a cache rooted at path. Every entry is invalidated
// when one of the dependency files changes.
func NewProblemCache(path string, fs afero.Fs, dependencies ...string) (*ProblemCache, error) {
	opts := []granular.Option{}
	if fs != nil {
		opts = append(opts, granular.WithFs(fs))
	}

	cache, err := granular.New(path, opts...)
	if err != nil {
		return nil, NewCacheError("failed to create granular cache", err)
	}

	deps := make([]string, 0, len(dependencies))
	for _, d := range dependencies {
		if d != "" {
			deps = append(deps, NormalizePath(d))
		}
	}

	return &ProblemCache{
		gCache:       cache,
		fs:           fs,
		dependencies: deps,
	}, nil
}

func (c *ProblemCache) key(path string) granular.Key {
	inputs := []granular.Input{granular.FileInput{
		Path: NormalizePath(path),
		Fs:   c.fs,
	}}
	for _, d := range c.dependencies {
		inputs = append(inputs, granular.FileInput{Path: d, Fs: c.fs})
	}
	return granular.Key{Inputs: inputs}
}

// Store saves the problems reported for path.
func (c *ProblemCache) Store(path string, problems []Problem) error {
	data := marshalProblems(problems)

	res := granular.Result{
		Metadata: map[string]string{
			"problems": string(data),
		},
	}

	if err := c.gCache.Store(c.key(path), res); err != nil {
		return NewCacheError("failed to store in cache", err).WithFile(path)
	}

	return nil
}

// Lookup returns the cached problems for path, or ErrEntryNotFound.
func (c *ProblemCache) Lookup(path string) ([]Problem, error) {
	result, found, _ := c.gCache.Get(c.key(path))
	if !found {
		return nil, ErrEntryNotFound
	}

	encoded, ok := result.Metadata["problems"]
	if !ok {
		return nil, nil
	}

	problems, err := unmarshalProblems([]byte(encoded))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReadingCachedProblems, err)
	}

	for i := range problems {
		problems[i].Cached = true
	}

	return problems, nil
}

// marshalProblems serializes problems using MUS format with varint encoding
func marshalProblems(problems []Problem) []byte {
	buf := make([]byte, problemsSize(problems))
	n := varint.Uint64.Marshal(uint64(len(problems)), buf)
	for _, p := range problems {
		n += marshalProblemTo(p, buf[n:])
	}
	return buf[:n]
}

func problemsSize(problems []Problem) int {
	size := varint.Uint64.Size(uint64(len(problems)))
	for _, p := range problems {
		size += problemSize(p)
	}
	return size
}

func problemSize(p Problem) int {
	size := ord.SizeString(p.Code, varint.PositiveInt)
	size += ord.SizeString(p.Message, varint.PositiveInt)
	size += varint.PositiveInt.Size(p.Offset)
	size += varint.PositiveInt.Size(p.Length)
	size += ord.SizeString(string(p.Severity), varint.PositiveInt)
	size += varint.Uint64.Size(uint64(len(p.Fixes)))
	for _, f := range p.Fixes {
		size += ord.SizeString(f.Kind, varint.PositiveInt)
		size += ord.SizeString(f.Title, varint.PositiveInt)
		size += ord.SizeString(string(f.Payload), varint.PositiveInt)
	}
	return size
}

func marshalProblemTo(p Problem, buf []byte) int {
	n := ord.MarshalString(p.Code, varint.PositiveInt, buf)
	n += ord.MarshalString(p.Message, varint.PositiveInt, buf[n:])
	n += varint.PositiveInt.Marshal(p.Offset, buf[n:])
	n += varint.PositiveInt.Marshal(p.Length, buf[n:])
	n += ord.MarshalString(string(p.Severity), varint.PositiveInt, buf[n:])
	n += varint.Uint64.Marshal(uint64(len(p.Fixes)), buf[n:])
	for _, f := range p.Fixes {
		n += ord.MarshalString(f.Kind, varint.PositiveInt, buf[n:])
		n += ord.MarshalString(f.Title, varint.PositiveInt, buf[n:])
		n += ord.MarshalString(string(f.Payload), varint.PositiveInt, buf[n:])
	}
	return n
}

// unmarshalProblems deserializes problems from MUS format
func unmarshalProblems(buf []byte) ([]Problem, error) {
	length, n, err := varint.Uint64.Unmarshal(buf)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal problems length: %w", err)
	}

	problems := make([]Problem, 0, length)
	for i := uint64(0); i < length; i++ {
		p, m, err := unmarshalProblemFrom(buf[n:])
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal problem at index %d: %w", i, err)
		}
		problems = append(problems, p)
		n += m
	}

	return problems, nil
}

func unmarshalProblemFrom(buf []byte) (Problem, int, error) {
	var (
		p   Problem
		n   int
		m   int
		err error
		s   string
	)

	if p.Code, m, err = unmarshalString(buf[n:]); err != nil {
		return p, n, fmt.Errorf("failed to unmarshal Code: %w", err)
	}
	n += m

	if p.Message, m, err = unmarshalString(buf[n:]); err != nil {
		return p, n, fmt.Errorf("failed to unmarshal Message: %w", err)
	}
	n += m

	if p.Offset, m, err = varint.PositiveInt.Unmarshal(buf[n:]); err != nil {
		return p, n, fmt.Errorf("failed to unmarshal Offset: %w", err)
	}
	n += m

	if p.Length, m, err = varint.PositiveInt.Unmarshal(buf[n:]); err != nil {
		return p, n, fmt.Errorf("failed to unmarshal Length: %w", err)
	}
	n += m

	if s, m, err = unmarshalString(buf[n:]); err != nil {
		return p, n, fmt.Errorf("failed to unmarshal Severity: %w", err)
	}
	p.Severity = Severity(s)
	n += m

	fixes, m, err := varint.Uint64.Unmarshal(buf[n:])
	if err != nil {
		return p, n, fmt.Errorf("failed to unmarshal fix count: %w", err)
	}
	n += m

	for i := uint64(0); i < fixes; i++ {
		var f FixDescriptor
		if f.Kind, m, err = unmarshalString(buf[n:]); err != nil {
			return p, n, fmt.Errorf("failed to unmarshal fix Kind: %w", err)
		}
		n += m
		if f.Title, m, err = unmarshalString(buf[n:]); err != nil {
			return p, n, fmt.Errorf("failed to unmarshal fix Title: %w", err)
		}
		n += m
		if s, m, err = unmarshalString(buf[n:]); err != nil {
			return p, n, fmt.Errorf("failed to unmarshal fix Payload: %w", err)
		}
		if s != "" {
			f.Payload = []byte(s)
		}
		n += m
		p.Fixes = append(p.Fixes, f)
	}

	return p, n, nil
}

// unmarshalString reads a string with a varint length prefix.
func unmarshalString(data []byte) (string, int, error) {
	length, bytesRead, err := varint.PositiveInt.Unmarshal(data)
	if err != nil {
		return "", 0, fmt.Errorf("failed to read string length: %w", err)
	}

	if length < 0 || len(data[bytesRead:]) < length {
		return "", bytesRead, fmt.Errorf("buffer too small for string of length %d", length)
	}

	return string(data[bytesRead : bytesRead+length]), bytesRead + length, nil
}
