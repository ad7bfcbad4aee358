// Package config holds Kinesis's engine configuration: a flat set of named
// parameters, each with a default, overridable from a config file and then
// from command-line flags. It uses a name -> *Param registry, each Param
// wrapping a small settable Value, bound to github.com/spf13/pflag flags
// since cmd/kinesis already depends on pflag through cobra.
package config

import (
	"bufio"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/scanner"
	"time"
	"unicode"

	"github.com/spf13/pflag"
)

// Value is one settable config parameter: parse a string, or print the
// current value back.
type Value interface {
	Set(string) error
	String() string
}

type Param struct {
	Name string
	Val  Value
}

type registry struct {
	params map[string]*Param
}

func newRegistry() *registry { return &registry{params: map[string]*Param{}} }

func (r *registry) define(val Value, name string) {
	r.params[name] = &Param{Name: name, Val: val}
}

func (r *registry) set(name, val string) error {
	p, ok := r.params[name]
	if !ok {
		return fmt.Errorf("config: %s is not a parameter", name)
	}
	if err := p.Val.Set(val); err != nil {
		return fmt.Errorf("config: param %s: %s", name, err)
	}
	return nil
}

type paramSlice []*Param

func (ps paramSlice) Len() int           { return len(ps) }
func (ps paramSlice) Swap(i, j int)      { ps[i], ps[j] = ps[j], ps[i] }
func (ps paramSlice) Less(i, j int) bool { return strings.Compare(ps[i].Name, ps[j].Name) < 0 }

func (r *registry) all() []*Param {
	list := make([]*Param, 0, len(r.params))
	for _, p := range r.params {
		list = append(list, p)
	}
	sort.Sort(paramSlice(list))
	return list
}

const (
	lineWhitespace   = (1 << ' ') | (1 << '\t') | (1 << '\n') | (1 << '\r')
	noLineWhitespace = (1 << ' ') | (1 << '\t')
)

// loadFile reads a flat `name = value` config file into r: one assignment
// per line, `#`-prefixed comments allowed, strings double-quoted. Unknown
// parameter names are an error.
func (r *registry) loadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	s := scanner.Scanner{
		Mode: scanner.ScanIdents | scanner.ScanFloats | scanner.ScanStrings |
			scanner.ScanRawStrings | scanner.ScanComments | scanner.SkipComments,
		Whitespace: lineWhitespace,
		IsIdentRune: func(r rune, i int) bool {
			if i == 0 {
				return unicode.IsLetter(r)
			}
			return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_'
		},
	}
	s.Init(bufio.NewReader(f))

	for {
		s.Whitespace = lineWhitespace
		tok := s.Scan()
		if tok == scanner.EOF {
			break
		}
		if tok == '#' {
			for ch := s.Next(); ch != '\n' && ch != scanner.EOF; ch = s.Next() {
			}
			continue
		}
		if tok != scanner.Ident && tok != scanner.String {
			return fmt.Errorf("%s: expected a parameter name", s.Pos())
		}
		name := s.TokenText()

		s.Whitespace = noLineWhitespace
		if s.Scan() != '=' {
			return fmt.Errorf("%s: expected '='", s.Pos())
		}

		tok = s.Scan()
		val := s.TokenText()
		switch tok {
		case scanner.Ident, scanner.Int, scanner.Float:
		case scanner.String:
			val = strings.Trim(val, `"`)
		case '-':
			tok = s.Scan()
			if tok != scanner.Int && tok != scanner.Float {
				return fmt.Errorf("%s: expected a value", s.Pos())
			}
			val = "-" + s.TokenText()
		default:
			return fmt.Errorf("%s: expected a value", s.Pos())
		}

		if err := r.set(name, val); err != nil {
			return err
		}
	}
	return nil
}

// Config is the engine's flat, fully-resolved configuration: defaults,
// optionally overridden by a config file, then by command-line flags.
type Config struct {
	StorageEngine         string
	DataDir               string
	PageSize              int
	BufferPoolPages       int
	WALSegmentMax         int64
	IsolationDefault      string
	LockTimeoutMS         int
	PendingRecoveryPolicy string
}

// Default returns the configuration Kinesis starts with before any file or
// flag override is applied.
func Default() Config {
	return Config{
		StorageEngine:         "InMemory",
		DataDir:               "./kinesis-data",
		PageSize:              4096,
		BufferPoolPages:       256,
		WALSegmentMax:         16 << 20,
		IsolationDefault:      "ReadCommitted",
		LockTimeoutMS:         5000,
		PendingRecoveryPolicy: "RecoverPending",
	}
}

// registry builds a fresh name -> field binding over c's own fields, so
// LoadFile can be called independently per Config instance.
func (c *Config) registry() *registry {
	r := newRegistry()
	r.define((*stringValue)(&c.StorageEngine), "storage-engine")
	r.define((*stringValue)(&c.DataDir), "data-dir")
	r.define((*intValue)(&c.PageSize), "page-size")
	r.define((*intValue)(&c.BufferPoolPages), "buffer-pool-pages")
	r.define((*int64Value)(&c.WALSegmentMax), "wal-segment-max")
	r.define((*stringValue)(&c.IsolationDefault), "isolation-default")
	r.define((*intValue)(&c.LockTimeoutMS), "lock-timeout-ms")
	r.define((*stringValue)(&c.PendingRecoveryPolicy), "pending-recovery-policy")
	return r
}

// LoadFile overrides c's fields with any assignment found in path.
func (c *Config) LoadFile(path string) error {
	return c.registry().loadFile(path)
}

// Params lists c's fields as name/value pairs, for `SHOW CONFIG`-style
// introspection.
func (c *Config) Params() []*Param {
	return c.registry().all()
}

// BindFlags registers c's fields onto fs, so cmd/kinesis can override any
// of them with a command-line flag -- the flag layer runs after LoadFile,
// so flags win over the config file, which wins over Default().
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.StorageEngine, "storage-engine", c.StorageEngine,
		"storage backing: InMemory, OnDisk, or Hybrid")
	fs.StringVar(&c.DataDir, "data-dir", c.DataDir, "directory for WAL segments and the data file")
	fs.IntVar(&c.PageSize, "page-size", c.PageSize, "page size in bytes")
	fs.IntVar(&c.BufferPoolPages, "buffer-pool-pages", c.BufferPoolPages, "buffer pool capacity in pages")
	fs.Int64Var(&c.WALSegmentMax, "wal-segment-max", c.WALSegmentMax, "WAL segment rotation size in bytes")
	fs.StringVar(&c.IsolationDefault, "isolation-default", c.IsolationDefault,
		"default transaction isolation level")
	fs.IntVar(&c.LockTimeoutMS, "lock-timeout-ms", c.LockTimeoutMS, "lock acquisition timeout in milliseconds")
	fs.StringVar(&c.PendingRecoveryPolicy, "pending-recovery-policy", c.PendingRecoveryPolicy,
		"what to do with transactions left in-flight by a crash")
}

// LockTimeout returns LockTimeoutMS as a time.Duration.
func (c *Config) LockTimeout() time.Duration {
	return time.Duration(c.LockTimeoutMS) * time.Millisecond
}
