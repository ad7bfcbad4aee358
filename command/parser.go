package command

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/EdgeKing810/kinesis-db/catalog"
	"github.com/EdgeKing810/kinesis-db/kerrors"
	"github.com/EdgeKing810/kinesis-db/value"
)

// Parser reads one Command at a time from an input stream, returning
// io.EOF once the input is exhausted.
type Parser interface {
	Parse() (*Command, error)
}

type parser struct {
	sc         *bufio.Scanner
	pushedBack bool
	lastLine   string
}

func NewParser(r io.Reader) Parser {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), 1<<20)
	return &parser{sc: sc}
}

func (p *parser) nextLine() (string, bool) {
	if p.pushedBack {
		p.pushedBack = false
		return p.lastLine, true
	}
	if !p.sc.Scan() {
		return "", false
	}
	return p.sc.Text(), true
}

func (p *parser) pushBack(line string) {
	p.lastLine = line
	p.pushedBack = true
}

func isIndented(line string) bool {
	return len(line) > 0 && (line[0] == ' ' || line[0] == '\t')
}

func syntaxf(format string, args ...interface{}) error {
	return &kerrors.SyntaxError{Reason: fmt.Sprintf(format, args...)}
}

// Parse returns the next Command, skipping blank lines between
// statements. It returns io.EOF once the input is exhausted.
func (p *parser) Parse() (*Command, error) {
	for {
		line, ok := p.nextLine()
		if !ok {
			return nil, io.EOF
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if isIndented(line) {
			return nil, syntaxf("unexpected indented line %q outside CREATE_TABLE/UPDATE_SCHEMA", line)
		}
		return p.parseStatement(line)
	}
}

func (p *parser) parseStatement(line string) (*Command, error) {
	tokens, err := tokenizeLine(line)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, syntaxf("empty statement")
	}

	verb := strings.ToUpper(tokens[0])
	switch verb {
	case "CREATE_TABLE":
		return p.parseCreateTable(tokens)
	case "DROP_TABLE":
		return parseDropTable(tokens)
	case "INSERT":
		return parseInsert(tokens)
	case "UPDATE":
		return parseUpdate(tokens)
	case "DELETE":
		return parseDelete(tokens)
	case "GET_RECORD":
		return parseGetRecord(tokens)
	case "GET_RECORDS":
		return parseGetRecords(tokens)
	case "SEARCH_RECORDS":
		return parseSearchRecords(tokens)
	case "UPDATE_SCHEMA":
		return p.parseUpdateSchema(tokens)
	case "HELP":
		return parseHelp(tokens), nil
	default:
		return nil, syntaxf("unknown command %q", tokens[0])
	}
}

// collectFields consumes every indented line immediately following the
// current statement as a field declaration, stopping at the first
// non-indented line (pushed back for the next Parse call) or EOF.
func (p *parser) collectFields() ([]catalog.Field, error) {
	var fields []catalog.Field
	for {
		line, ok := p.nextLine()
		if !ok {
			break
		}
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !isIndented(line) {
			p.pushBack(line)
			break
		}
		f, err := parseFieldLine(line)
		if err != nil {
			return nil, err
		}
		fields = append(fields, f)
	}
	return fields, nil
}

func (p *parser) parseCreateTable(tokens []string) (*Command, error) {
	if len(tokens) != 2 {
		return nil, syntaxf("CREATE_TABLE requires exactly one table name")
	}
	fields, err := p.collectFields()
	if err != nil {
		return nil, err
	}
	return &Command{Kind: CreateTable, Table: tokens[1], Fields: fields}, nil
}

func (p *parser) parseUpdateSchema(tokens []string) (*Command, error) {
	if len(tokens) != 3 {
		return nil, syntaxf("UPDATE_SCHEMA requires a table name and --version=N")
	}
	if !strings.HasPrefix(tokens[2], "--version=") {
		return nil, syntaxf("UPDATE_SCHEMA: expected --version=N, got %q", tokens[2])
	}
	v, err := strconv.ParseUint(strings.TrimPrefix(tokens[2], "--version="), 10, 32)
	if err != nil {
		return nil, syntaxf("UPDATE_SCHEMA: invalid --version value: %s", err)
	}
	fields, err := p.collectFields()
	if err != nil {
		return nil, err
	}
	return &Command{Kind: UpdateSchema, Table: tokens[1], Version: uint32(v), Fields: fields}, nil
}

func parseDropTable(tokens []string) (*Command, error) {
	if len(tokens) != 2 {
		return nil, syntaxf("DROP_TABLE requires exactly one table name")
	}
	return &Command{Kind: DropTable, Table: tokens[1]}, nil
}

func parseInsert(tokens []string) (*Command, error) {
	if len(tokens) < 7 || !strings.EqualFold(tokens[1], "INTO") ||
		!strings.EqualFold(tokens[3], "ID") || !strings.EqualFold(tokens[5], "SET") {
		return nil, syntaxf("expected INSERT INTO <table> ID <id> SET <field>=<value> ...")
	}
	values, err := parseAssignments(tokens[6:])
	if err != nil {
		return nil, err
	}
	return &Command{Kind: Insert, Table: tokens[2], ID: tokens[4], Values: values}, nil
}

func parseUpdate(tokens []string) (*Command, error) {
	if len(tokens) < 6 || !strings.EqualFold(tokens[2], "ID") || !strings.EqualFold(tokens[4], "SET") {
		return nil, syntaxf("expected UPDATE <table> ID <id> SET <field>=<value> ...")
	}
	values, err := parseAssignments(tokens[5:])
	if err != nil {
		return nil, err
	}
	return &Command{Kind: Update, Table: tokens[1], ID: tokens[3], Values: values}, nil
}

func parseDelete(tokens []string) (*Command, error) {
	if len(tokens) != 4 || !strings.EqualFold(tokens[1], "FROM") {
		return nil, syntaxf("expected DELETE FROM <table> <id>")
	}
	return &Command{Kind: Delete, Table: tokens[2], RecordID: tokens[3]}, nil
}

func parseGetRecord(tokens []string) (*Command, error) {
	if len(tokens) != 4 || !strings.EqualFold(tokens[1], "FROM") {
		return nil, syntaxf("expected GET_RECORD FROM <table> <id>")
	}
	return &Command{Kind: GetRecord, Table: tokens[2], RecordID: tokens[3]}, nil
}

func parseGetRecords(tokens []string) (*Command, error) {
	if len(tokens) != 3 || !strings.EqualFold(tokens[1], "FROM") {
		return nil, syntaxf("expected GET_RECORDS FROM <table>")
	}
	return &Command{Kind: GetRecords, Table: tokens[2]}, nil
}

func parseSearchRecords(tokens []string) (*Command, error) {
	if len(tokens) < 5 || !strings.EqualFold(tokens[1], "FROM") || !strings.EqualFold(tokens[3], "MATCH") {
		return nil, syntaxf("expected SEARCH_RECORDS FROM <table> MATCH <substring>")
	}
	return &Command{Kind: SearchRecords, Table: tokens[2], Match: strings.Join(tokens[4:], " ")}, nil
}

func parseHelp(tokens []string) *Command {
	c := &Command{Kind: Help}
	if len(tokens) > 1 {
		c.Topic = strings.ToUpper(tokens[1])
	}
	return c
}

// parseAssignments splits each "field=value" token on its first '=' and
// parses the right-hand side as a value literal.
func parseAssignments(tokens []string) (map[string]value.Value, error) {
	vals := make(map[string]value.Value, len(tokens))
	for _, tok := range tokens {
		idx := strings.IndexByte(tok, '=')
		if idx < 0 {
			return nil, syntaxf("expected <field>=<value>, got %q", tok)
		}
		v, err := parseLiteral(tok[idx+1:])
		if err != nil {
			return nil, err
		}
		vals[tok[:idx]] = v
	}
	return vals, nil
}

// parseLiteral decodes a value token: true/false, a bare number (integer
// unless it contains '.', then float), or anything else as a plain string.
// Quote stripping already happened in tokenizeLine, so a quoted numeric
// string like "25" is indistinguishable here from the bare number 25 --
// an accepted simplification of this thin grammar, not a general-purpose
// typed literal parser.
func parseLiteral(raw string) (value.Value, error) {
	switch raw {
	case "true":
		return value.BoolValue(true), nil
	case "false":
		return value.BoolValue(false), nil
	}
	if strings.ContainsRune(raw, '.') {
		if f, err := strconv.ParseFloat(raw, 64); err == nil {
			return value.FloatValue(f), nil
		}
	} else if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return value.IntValue(i), nil
	}
	return value.StringValue(raw), nil
}

func parseFieldLine(line string) (catalog.Field, error) {
	tokens, err := tokenizeLine(line)
	if err != nil {
		return catalog.Field{}, err
	}
	if len(tokens) < 2 {
		return catalog.Field{}, syntaxf("expected <name> <TYPE> [options...], got %q", line)
	}
	typ, ok := value.ParseType(tokens[1])
	if !ok {
		return catalog.Field{}, syntaxf("unknown field type %q", tokens[1])
	}
	f := catalog.Field{Name: tokens[0], Type: typ}

	for _, tok := range tokens[2:] {
		switch {
		case tok == "--required":
			f.Required = true
		case tok == "--unique":
			f.Unique = true
		case strings.HasPrefix(tok, "--default="):
			v, err := parseLiteral(strings.TrimPrefix(tok, "--default="))
			if err != nil {
				return catalog.Field{}, err
			}
			f.Default = v
		case strings.HasPrefix(tok, "--min="):
			m, err := strconv.ParseFloat(strings.TrimPrefix(tok, "--min="), 64)
			if err != nil {
				return catalog.Field{}, syntaxf("invalid --min value in %q: %s", tok, err)
			}
			f.Min = &m
		case strings.HasPrefix(tok, "--max="):
			m, err := strconv.ParseFloat(strings.TrimPrefix(tok, "--max="), 64)
			if err != nil {
				return catalog.Field{}, syntaxf("invalid --max value in %q: %s", tok, err)
			}
			f.Max = &m
		case strings.HasPrefix(tok, "--pattern="):
			src := strings.TrimPrefix(tok, "--pattern=")
			re, err := regexp.Compile(src)
			if err != nil {
				return catalog.Field{}, syntaxf("invalid --pattern regex %q: %s", src, err)
			}
			f.Pattern = re
			f.PatternSource = src
		default:
			return catalog.Field{}, syntaxf("unknown field option %q", tok)
		}
	}
	return f, nil
}

// tokenizeLine splits line on whitespace, treating a double-quoted run
// (with \" escapes) as part of the surrounding token rather than a
// delimiter, so `name="Alice Smith"` is one token and `--pattern="a b"`
// keeps its embedded space.
func tokenizeLine(line string) ([]string, error) {
	var toks []string
	var buf strings.Builder
	inQuotes := false
	runes := []rune(line)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case inQuotes && c == '\\' && i+1 < len(runes) && runes[i+1] == '"':
			buf.WriteRune('"')
			i++
		case inQuotes && c == '"':
			inQuotes = false
		case inQuotes:
			buf.WriteRune(c)
		case c == '"':
			inQuotes = true
		case c == ' ' || c == '\t':
			if buf.Len() > 0 {
				toks = append(toks, buf.String())
				buf.Reset()
			}
		default:
			buf.WriteRune(c)
		}
	}
	if inQuotes {
		return nil, syntaxf("unterminated string literal in %q", line)
	}
	if buf.Len() > 0 {
		toks = append(toks, buf.String())
	}
	return toks, nil
}
