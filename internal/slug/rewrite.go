package slug

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
)

type rewrite interface {
	apply(input string) (string, bool)
}

// Rewriter applies user-configured substitutions to share slugs before they are
// normalized. Rules are read one per line:
//
//	old name => new-name
//	s/^draft-//g
//
// Literal rules match case-insensitively. Regex rules take i, g, m and s flags
// and replace only the first match unless g is set.
type Rewriter struct {
	rules     []rewrite
	passLimit int
}

// LoadRewriter reads rules from path. A blank path or a missing file yields a
// rewriter that changes nothing.
func LoadRewriter(path string, passLimit int) (*Rewriter, error) {
	if strings.TrimSpace(path) == "" {
		return NewRewriter(nil, passLimit)
	}
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return NewRewriter(nil, passLimit)
		}
		return nil, fmt.Errorf("failed to read slug rules %q: %w", path, err)
	}
	defer file.Close()

	rw, err := NewRewriter(file, passLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to parse slug rules %q: %w", path, err)
	}
	return rw, nil
}

// NewRewriter compiles rules from r. A nil reader means no rules.
func NewRewriter(r io.Reader, passLimit int) (*Rewriter, error) {
	if passLimit <= 0 {
		passLimit = 16
	}
	rw := &Rewriter{passLimit: passLimit}
	if r == nil {
		return rw, nil
	}

	scanner := bufio.NewScanner(r)
	for lineNo := 1; scanner.Scan(); lineNo++ {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		rule, err := parseRule(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		rw.rules = append(rw.rules, rule)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return rw, nil
}

func (rw *Rewriter) Len() int { return len(rw.rules) }

// Apply runs every rule in order until a full pass changes nothing or the pass
// limit is reached.
func (rw *Rewriter) Apply(text string) string {
	for pass := 0; pass < rw.passLimit; pass++ {
		changed := false
		for _, rule := range rw.rules {
			if next, ok := rule.apply(text); ok {
				text = next
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return text
}

func parseRule(line string) (rewrite, error) {
	if isRegexRule(line) {
		return parseRegexRule(line)
	}
	if strings.Contains(line, "=>") {
		return parseLiteralRule(line)
	}
	return nil, errors.New("unsupported rule format")
}

type literalRewrite struct {
	re *regexp.Regexp
	to string
}

func parseLiteralRule(line string) (rewrite, error) {
	from, to, _ := strings.Cut(line, "=>")
	from, to = strings.TrimSpace(from), strings.TrimSpace(to)
	if from == "" {
		return nil, errors.New("literal rule source cannot be empty")
	}
	return literalRewrite{re: regexp.MustCompile("(?i)" + regexp.QuoteMeta(from)), to: to}, nil
}

func (r literalRewrite) apply(input string) (string, bool) {
	out := r.re.ReplaceAllLiteralString(input, r.to)
	return out, out != input
}

type regexRewrite struct {
	re     *regexp.Regexp
	to     string
	global bool
}

func parseRegexRule(line string) (rewrite, error) {
	delim := line[1]
	pattern, next, err := readDelimited(line, 2, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex pattern: %w", err)
	}
	to, next, err := readDelimited(line, next, delim)
	if err != nil {
		return nil, fmt.Errorf("invalid regex replacement: %w", err)
	}

	var inline string
	global := false
	for _, flag := range strings.TrimSpace(line[next:]) {
		switch flag {
		case 'g':
			global = true
		case 'i', 'm', 's':
			if !strings.ContainsRune(inline, flag) {
				inline += string(flag)
			}
		case ' ':
		default:
			return nil, fmt.Errorf("unsupported regex flag %q", flag)
		}
	}
	if inline != "" {
		pattern = "(?" + inline + ")" + pattern
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex: %w", err)
	}
	return regexRewrite{re: re, to: to, global: global}, nil
}

func (r regexRewrite) apply(input string) (string, bool) {
	if r.global {
		out := r.re.ReplaceAllString(input, r.to)
		return out, out != input
	}
	loc := r.re.FindStringSubmatchIndex(input)
	if loc == nil {
		return input, false
	}
	expanded := r.re.ExpandString(nil, r.to, input, loc)
	out := input[:loc[0]] + string(expanded) + input[loc[1]:]
	return out, out != input
}

// readDelimited returns the text up to the next unescaped delim and the index
// after it. Escapes are kept so the regexp package sees them.
func readDelimited(line string, start int, delim byte) (string, int, error) {
	var b strings.Builder
	escaped := false
	for i := start; i < len(line); i++ {
		c := line[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\':
			escaped = true
		case c == delim:
			return b.String(), i + 1, nil
		}
		b.WriteByte(c)
	}
	return "", 0, errors.New("unterminated expression")
}

func isRegexRule(line string) bool {
	if len(line) < 2 || line[0] != 's' {
		return false
	}
	c := line[1]
	alnum := (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
	return !alnum && c != ' ' && c != '\t'
}
