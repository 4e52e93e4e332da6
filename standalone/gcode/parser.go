package gcode

import (
	"errors"
	"fmt"
	"strings"

	"gomotion/standalone"
)

var (
	// ErrChecksum is returned when a line's *checksum does not match
	ErrChecksum = errors.New("checksum mismatch")
	// ErrLineNumber is returned when an N line number is out of sequence
	ErrLineNumber = errors.New("line number is not last line number+1")
)

// Parser handles G-code parsing. It tracks N line numbers so a host
// streaming with checksums can be asked to resend.
type Parser struct {
	lastLine int
}

// NewParser creates a new G-code parser
func NewParser() *Parser {
	return &Parser{}
}

// LastLine returns the last accepted line number
func (p *Parser) LastLine() int {
	return p.lastLine
}

// SetLastLine resets the line counter (M110 without an N prefix)
func (p *Parser) SetLastLine(n int) {
	p.lastLine = n
}

// ParseLine parses a single line of G-code. A blank line returns a nil
// command; a comment-only line returns a command with Type 0.
func (p *Parser) ParseLine(line string) (*standalone.GCodeCommand, error) {
	line, err := p.checkLine(line)
	if err != nil {
		return nil, err
	}
	if len(line) == 0 {
		return nil, nil
	}

	cmd := &standalone.GCodeCommand{
		Parameters: make(map[byte]float64),
	}

	i := skipSpace(line, 0)
	if i >= len(line) {
		return nil, nil
	}

	if line[i] == ';' || line[i] == '(' {
		cmd.Comment = line[i:]
		return cmd, nil
	}

	switch toUpper(line[i]) {
	case 'G', 'M', 'T':
		cmd.Type = toUpper(line[i])
		i++
		if num, next := parseInt(line, i); next > i {
			cmd.Number = num
			i = next
		}
		// Subcodes such as G29.1 are not supported; drop the fraction
		if i < len(line) && line[i] == '.' {
			i++
			for i < len(line) && line[i] >= '0' && line[i] <= '9' {
				i++
			}
		}
	}

	for i < len(line) {
		i = skipSpace(line, i)
		if i >= len(line) {
			break
		}

		if line[i] == ';' || line[i] == '(' {
			cmd.Comment = line[i:]
			break
		}

		if !isLetter(line[i]) {
			i++
			continue
		}
		letter := toUpper(line[i])
		i++

		value, next := parseFloat(line, i)
		if next > i {
			cmd.Parameters[letter] = value
			i = next
		} else {
			// Bare flag such as "G28 X"
			cmd.Parameters[letter] = 0
		}
	}

	return cmd, nil
}

// checkLine validates and strips an "N<line> ... *<checksum>" envelope
func (p *Parser) checkLine(line string) (string, error) {
	i := skipSpace(line, 0)
	if i >= len(line) || toUpper(line[i]) != 'N' {
		return line, nil
	}

	n, next := parseInt(line, i+1)
	if next <= i+1 {
		return line, nil
	}

	if star := strings.LastIndexByte(line, '*'); star >= 0 {
		want, end := parseInt(line, star+1)
		if end <= star+1 || want != int(checksum(line[:star])) {
			return "", fmt.Errorf("%w: line %d", ErrChecksum, n)
		}
		line = line[:star]
	}

	body := line[next:]
	// M110 resets the line counter to its own N
	if isLineReset(body) {
		p.lastLine = n
		return body, nil
	}
	if n != p.lastLine+1 {
		return "", fmt.Errorf("%w: got %d, last %d", ErrLineNumber, n, p.lastLine)
	}
	p.lastLine = n
	return body, nil
}

func isLineReset(body string) bool {
	body = strings.TrimSpace(body)
	if len(body) < 4 || toUpper(body[0]) != 'M' {
		return false
	}
	n, next := parseInt(body, 1)
	return n == 110 && (next == len(body) || body[next] == ' ' || body[next] == '*')
}

// checksum is the XOR of every byte before the '*'
func checksum(s string) uint8 {
	var c uint8
	for i := 0; i < len(s); i++ {
		c ^= s[i]
	}
	return c
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
		i++
	}
	return i
}

// parseInt parses an integer from the string starting at pos
func parseInt(s string, pos int) (int, int) {
	if pos >= len(s) {
		return 0, pos
	}

	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	start := pos
	value := 0

	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		value = value*10 + int(s[pos]-'0')
		pos++
	}

	if pos == start {
		return 0, start - 1 // No digits found
	}

	if negative {
		value = -value
	}

	return value, pos
}

// parseFloat parses a floating-point number from the string starting at pos
func parseFloat(s string, pos int) (float64, int) {
	if pos >= len(s) {
		return 0, pos
	}

	negative := false
	if s[pos] == '-' {
		negative = true
		pos++
	} else if s[pos] == '+' {
		pos++
	}

	start := pos
	intPart := 0
	fracPart := 0.0
	fracDigits := 0

	// Parse integer part
	for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
		intPart = intPart*10 + int(s[pos]-'0')
		pos++
	}

	// Parse fractional part
	if pos < len(s) && s[pos] == '.' {
		pos++
		fracStart := pos
		for pos < len(s) && s[pos] >= '0' && s[pos] <= '9' {
			fracPart = fracPart*10.0 + float64(s[pos]-'0')
			pos++
		}
		fracDigits = pos - fracStart
	}

	if pos == start || (pos == start+1 && s[start] == '.') {
		return 0, start - 1 // No valid number found
	}

	// Combine integer and fractional parts
	value := float64(intPart)
	if fracDigits > 0 {
		divisor := 1.0
		for i := 0; i < fracDigits; i++ {
			divisor *= 10.0
		}
		value += fracPart / divisor
	}

	if negative {
		value = -value
	}

	return value, pos
}

// isLetter checks if a byte is a letter
func isLetter(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}

// toUpper converts a byte to uppercase
func toUpper(c byte) byte {
	if c >= 'a' && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
